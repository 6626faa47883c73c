package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/fieldctf/engine/internal/proximity"
	"github.com/fieldctf/engine/internal/storage"
	"github.com/fieldctf/engine/pkg/core"
)

// handle runs one decision for a source event.
func (e *Engine) handle(ctx context.Context, ev sourceEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.kind {
	case srcGame:
		e.applyGameLocked(ctx, &ev.game)
	case srcPlayer:
		e.applyPlayerLocked(ctx, &ev.player)
	case srcOthers:
		// the slice is shared with other subscribers
		others := make([]core.GamePlayer, 0, len(ev.others))
		for _, p := range ev.others {
			if p.ID != e.playerID {
				others = append(others, p)
			}
		}
		e.otherPlayers = others
		e.scanLocked()
	case srcPosition:
		e.onPositionLocked(ctx, ev.position)
	case srcTransition:
		e.onTransitionLocked(ctx, ev.transition)
	}
	e.publishLocked()
}

// applyPlayerLocked takes a player snapshot. A snapshot that disagrees with
// the session about the current game is checked against a fresh read first,
// since player documents carry no version.
func (e *Engine) applyPlayerLocked(ctx context.Context, p *core.Player) {
	if p.GameID() != e.player.GameID() {
		fresh, err := e.deps.Repository.GetPlayer(ctx, e.playerID)
		if err != nil {
			e.log.Warn("failed to re-read player", "error", err)
			return
		}
		p = fresh
	}

	left := e.player.GameID() != "" && p.GameID() != e.player.GameID()
	e.player = p.Clone()
	if left {
		e.resetGameLocked(ctx)
	}
	if id := p.GameID(); id != "" {
		e.watchGameLocked(id)
	}
}

// applyGameLocked takes a game snapshot and runs the per-state handling.
// Snapshots of other games and stale versions are dropped.
func (e *Engine) applyGameLocked(ctx context.Context, g *core.Game) {
	if g.GameID == "" || g.GameID != e.player.GameID() {
		return
	}
	if e.game != nil && e.game.GameID == g.GameID && g.Version <= e.game.Version {
		return
	}
	e.game = g.Clone()

	captain := e.player.GameDetails.Rank == core.RankCaptain
	switch g.GameState.State {
	case core.StateCreated:
		e.draggable = captain
		e.removeZonesLocked(ctx)
	case core.StateSettingGame:
		e.draggable = captain
	case core.StateSettingFlags:
		e.draggable = false
		e.connectLocked(ctx)
	case core.StateStarted:
		e.draggable = false
		// a conflated stream may skip SettingFlags
		e.connectLocked(ctx)
		e.watchOthersLocked(g.GameID)
		e.registerZonesOnceLocked(ctx)
		e.checkEliminationLocked(ctx)
	case core.StateEnded:
		e.draggable = false
		e.gameOver = true
		e.publishing = false
		e.opponent = nil
		e.removeZonesLocked(ctx)
	default:
		e.removeZonesLocked(ctx)
	}
	e.scanLocked()
}

// connectLocked marks the player Playing and starts publishing positions.
func (e *Engine) connectLocked(ctx context.Context) {
	if HasLost(e.game, e.playerID) {
		return
	}
	if s := e.player.Status; s != core.StatusPlaying && s != core.StatusLost {
		p, err := e.deps.Repository.GetPlayer(ctx, e.playerID)
		if err != nil {
			e.log.Warn("failed to read player", "error", err)
			return
		}
		p.Status = core.StatusPlaying
		if err := e.deps.Repository.UpdatePlayer(ctx, p, false); err != nil {
			e.log.Warn("failed to connect player", "error", err)
			return
		}
		e.player = p
		e.log.Info("player connected")
	}
	if !e.publishing {
		e.publishing = true
		e.pushPositionLocked(ctx)
	}
}

func (e *Engine) onPositionLocked(ctx context.Context, pos core.Coordinate) {
	e.livePosition = pos
	e.hasPosition = true
	e.pushPositionLocked(ctx)
	e.scanLocked()
}

// pushPositionLocked publishes the live position to the game's players.
func (e *Engine) pushPositionLocked(ctx context.Context) {
	if !e.publishing || !e.hasPosition || e.game == nil || !e.teamLocked().Valid() {
		return
	}
	if HasLost(e.game, e.playerID) {
		return
	}
	if err := e.deps.Repository.UpdateGamePlayer(ctx, e.game.GameID, e.selfLocked()); err != nil {
		e.log.Warn("failed to publish position", "error", err)
	}
}

// scanLocked looks for an opponent to battle.
func (e *Engine) scanLocked() {
	e.opponent = nil
	if e.game == nil || e.game.GameState.State != core.StateStarted || !e.hasPosition {
		return
	}
	if p, ok := FindOpponent(e.game, e.selfLocked(), e.otherPlayers, e.deps.Config.BattleRange); ok {
		e.opponent = &p
	}
}

func (e *Engine) onTransitionLocked(ctx context.Context, t proximity.Transition) {
	z, ok := e.zones[t.ZoneID]
	if !ok {
		e.log.Debug("transition for unknown zone", "zone", t.ZoneID)
		return
	}
	e.log.Debug("zone transition", "zone", z.Kind.String(), "kind", t.Kind.String())

	switch z.Kind {
	case proximity.ZoneBoundary:
		e.outOfBounds = t.Kind == proximity.Exit
	case proximity.ZoneSafehouse:
		if t.Kind == proximity.Enter {
			e.checkGameOverLocked(ctx)
		}
	case proximity.ZoneGreenFlag, proximity.ZoneRedFlag:
		if t.Kind == proximity.Enter && z.Owner == e.teamLocked().Opponent() {
			e.discoverFlagLocked(ctx, z.Owner)
		}
	}
}

// discoverFlagLocked reveals the flag of owner to everyone.
func (e *Engine) discoverFlagLocked(ctx context.Context, owner core.Team) {
	_, err := e.mutateGameLocked(ctx, func(g *core.Game) error {
		if g.GameState.State != core.StateStarted || HasLost(g, e.playerID) {
			return errUnchanged
		}
		flag := g.Flag(owner)
		if flag == nil || flag.IsDiscovered {
			return errUnchanged
		}
		flag.IsDiscovered = true
		return nil
	})
	if e.handlerFailed("discover flag", err) {
		return
	}
	e.log.Info("flag discovered", "owner", string(owner))
	e.record(ctx, core.EventFlagDiscovered, e.teamLocked(), map[string]any{"owner": string(owner)})
}

// checkGameOverLocked ends the game when the player brings the opponent
// flag into the safehouse.
func (e *Engine) checkGameOverLocked(ctx context.Context) {
	team := e.teamLocked()
	if !team.Valid() {
		return
	}
	_, err := e.mutateGameLocked(ctx, func(g *core.Game) error {
		if g.GameState.State != core.StateStarted || g.Carrier(team.Opponent()) != e.playerID {
			return errUnchanged
		}
		g.GameState.Winners = team
		g.GameState.State = core.StateEnded
		return nil
	})
	if e.handlerFailed("check game over", err) {
		return
	}
	e.log.Info("flag delivered, game over", "winners", string(team))
	e.metrics.gameEnded(ctx, team)
	e.record(ctx, core.EventGameOver, team, map[string]any{"reason": "capture"})
}

// checkEliminationLocked ends the game once a whole team has lost.
func (e *Engine) checkEliminationLocked(ctx context.Context) {
	if _, ok := Eliminated(e.game); !ok {
		return
	}
	var winners core.Team
	_, err := e.mutateGameLocked(ctx, func(g *core.Game) error {
		if g.GameState.State != core.StateStarted {
			return errUnchanged
		}
		w, ok := Eliminated(g)
		if !ok {
			return errUnchanged
		}
		winners = w
		g.GameState.Winners = w
		g.GameState.State = core.StateEnded
		return nil
	})
	if e.handlerFailed("check elimination", err) {
		return
	}
	e.log.Info("team eliminated, game over", "winners", string(winners))
	e.metrics.gameEnded(ctx, winners)
	e.record(ctx, core.EventGameOver, winners, map[string]any{"reason": "elimination"})
}

// handlerFailed logs a failed background mutation. It returns true when
// nothing was written.
func (e *Engine) handlerFailed(op string, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, errUnchanged):
	default:
		e.log.Warn("failed to "+op, "error", err)
	}
	return true
}

// mutateGameLocked re-reads the session's game, lets fn validate and modify
// it and writes it back conditionally on its version. Conflicts are retried
// with a new read. The written game is applied to the session.
func (e *Engine) mutateGameLocked(ctx context.Context, fn func(g *core.Game) error) (*core.Game, error) {
	gameID := e.gameIDLocked()
	if gameID == "" {
		return nil, ErrNoGame
	}
	for attempt := 0; ; attempt++ {
		g, err := e.deps.Repository.GetGame(ctx, gameID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrGameNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("read game %s: %w", gameID, err)
		}
		if err := fn(g); err != nil {
			return g, err
		}

		err = e.deps.Repository.UpdateGame(ctx, g)
		if err == nil {
			e.applyGameLocked(ctx, g)
			return g, nil
		}
		if !errors.Is(err, storage.ErrConflict) || attempt >= e.deps.Config.WriteRetries {
			return nil, fmt.Errorf("write game %s: %w", gameID, err)
		}
		e.metrics.conflicts.Add(ctx, 1)
		e.log.Debug("game write conflict, retrying", "attempt", attempt+1)
	}
}

// registerZonesOnceLocked registers the four game zones the first time the
// session sees a started game.
func (e *Engine) registerZonesOnceLocked(ctx context.Context) {
	if e.zonesRegistered {
		return
	}
	g := e.game
	safehouse := g.GameState.Safehouse.Position
	zones := []proximity.Zone{
		{ID: e.deps.NewID(), Kind: proximity.ZoneBoundary, Owner: core.TeamUnknown, Center: safehouse, Radius: g.GameRadius},
		{ID: e.deps.NewID(), Kind: proximity.ZoneSafehouse, Owner: core.TeamUnknown, Center: safehouse, Radius: g.SafehouseRadius},
	}
	for _, team := range []core.Team{core.TeamGreen, core.TeamRed} {
		kind, _ := proximity.FlagZoneOf(team)
		zones = append(zones, proximity.Zone{
			ID:     e.deps.NewID(),
			Kind:   kind,
			Owner:  team,
			Center: g.Flag(team).Position,
			Radius: g.FlagRadius,
		})
	}

	// known before registering, so initial Enters resolve
	for _, z := range zones {
		e.zones[z.ID] = z
	}
	for _, z := range zones {
		if err := e.deps.Proximity.RegisterZone(ctx, z); err != nil {
			e.log.Error("failed to register zone", "zone", z.Kind.String(), "error", err)
			e.removeZonesLocked(ctx)
			return
		}
	}
	e.zonesRegistered = true
	e.outOfBounds = e.hasPosition && !zones[0].Contains(e.livePosition)
	e.log.Info("zones registered", "count", len(zones))
}

// removeZonesLocked stops zone monitoring.
func (e *Engine) removeZonesLocked(ctx context.Context) {
	if !e.zonesRegistered && len(e.zones) == 0 {
		return
	}
	if err := e.deps.Proximity.UnregisterAllZones(ctx); err != nil {
		e.log.Warn("failed to unregister zones", "error", err)
	}
	clear(e.zones)
	e.zonesRegistered = false
	e.outOfBounds = false
}

// resetGameLocked drops every per-game piece of session state.
func (e *Engine) resetGameLocked(ctx context.Context) {
	e.stopWatchingLocked()
	e.removeZonesLocked(ctx)
	e.game = nil
	e.otherPlayers = nil
	e.opponent = nil
	e.publishing = false
	e.draggable = false
	e.gameOver = false
}
