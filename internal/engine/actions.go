package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/fieldctf/engine/internal/geo"
	"github.com/fieldctf/engine/internal/storage"
	"github.com/fieldctf/engine/pkg/core"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	codeAttempts = 8
)

// GameOption customises CreateGame.
type GameOption func(*gameOptions)

type gameOptions struct {
	radius      float64
	miniGame    core.MiniGame
	position    core.Coordinate
	hasPosition bool
}

// WithGameRadius overrides the configured play area radius.
func WithGameRadius(metres float64) GameOption {
	return func(o *gameOptions) {
		if metres > 0 {
			o.radius = metres
		}
	}
}

// WithMiniGame selects how battles are resolved.
func WithMiniGame(m core.MiniGame) GameOption {
	return func(o *gameOptions) { o.miniGame = m }
}

// WithPosition puts the safehouse at pos instead of the live position.
func WithPosition(pos core.Coordinate) GameOption {
	return func(o *gameOptions) {
		o.position = pos
		o.hasPosition = true
	}
}

func newGameCode(n int) string {
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(codeAlphabet[rand.IntN(len(codeAlphabet))])
	}
	return b.String()
}

// freshPlayerLocked reads the player document and adopts it as the
// session's player. The returned copy is the caller's to modify.
func (e *Engine) freshPlayerLocked(ctx context.Context) (*core.Player, error) {
	p, err := e.deps.Repository.GetPlayer(ctx, e.playerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoPlayer
	}
	if err != nil {
		return nil, fmt.Errorf("read player %s: %w", e.playerID, err)
	}
	e.player = p.Clone()
	return p, nil
}

// CreateGame opens a new game with the caller as red captain and the
// safehouse at the caller's position. It returns the game code.
func (e *Engine) CreateGame(ctx context.Context, title string, opts ...GameOption) (string, error) {
	cfg := e.deps.Config
	o := gameOptions{radius: cfg.DefaultGameRadius, miniGame: core.MiniGameNone}
	for _, opt := range opts {
		opt(&o)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.freshPlayerLocked(ctx)
	if err != nil {
		return "", err
	}
	if p.GameID() != "" {
		return "", ErrAlreadyInGame
	}
	pos := o.position
	if !o.hasPosition {
		if !e.hasPosition {
			return "", fmt.Errorf("%w: no live position", ErrInvalidPosition)
		}
		pos = e.livePosition
	}
	if !geo.Valid(pos) {
		return "", ErrInvalidPosition
	}

	now := e.deps.Now().UTC()
	for range codeAttempts {
		g := &core.Game{
			GameID:          newGameCode(cfg.GameCodeLength),
			Title:           title,
			GameRadius:      o.radius,
			FlagRadius:      cfg.FlagRadius,
			SafehouseRadius: cfg.SafehouseRadius,
			BattleMiniGame:  o.miniGame,
			GameState: core.GameState{
				Safehouse: core.GeofenceObject{
					Position:     pos,
					IsPlaced:     true,
					IsDiscovered: true,
					ID:           e.deps.NewID(),
					Timestamp:    now,
				},
				Winners: core.TeamUnknown,
				State:   core.StateCreated,
			},
			RedPlayers:   []core.ActivePlayer{{ID: e.playerID}},
			GreenPlayers: []core.ActivePlayer{},
			Battles:      []core.Battle{},
		}
		err := e.deps.Repository.CreateGame(ctx, g)
		if errors.Is(err, storage.ErrExists) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create game: %w", err)
		}

		p.GameDetails = &core.GameDetails{GameID: g.GameID, Team: core.TeamRed, Rank: core.RankCaptain}
		p.Status = core.StatusConnecting
		if err := e.deps.Repository.UpdatePlayer(ctx, p, false); err != nil {
			if derr := e.deps.Repository.DeleteGame(ctx, g.GameID); derr != nil {
				e.log.Error("failed to remove orphan game", "game", g.GameID, "error", derr)
			}
			return "", fmt.Errorf("create game: %w", err)
		}

		e.resetGameLocked(ctx)
		e.player = p
		e.watchGameLocked(g.GameID)
		e.applyGameLocked(ctx, g)
		e.log.Info("game created", "title", title, "radius", o.radius)
		e.record(ctx, core.EventGameCreated, core.TeamRed, map[string]any{
			"title":    title,
			"radius":   o.radius,
			"minigame": string(o.miniGame),
		})
		e.publishLocked()
		return g.GameID, nil
	}
	return "", fmt.Errorf("create game: no free code after %d attempts: %w", codeAttempts, storage.ErrExists)
}

// JoinGame enters an existing game without a team.
func (e *Engine) JoinGame(ctx context.Context, gameID string) error {
	gameID = strings.TrimSpace(gameID)

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.freshPlayerLocked(ctx)
	if err != nil {
		return err
	}
	if p.GameID() != "" {
		return ErrAlreadyInGame
	}
	g, err := e.deps.Repository.GetGame(ctx, gameID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrGameNotFound
	}
	if err != nil {
		return fmt.Errorf("join %s: %w", gameID, err)
	}
	switch g.GameState.State {
	case core.StateCreated, core.StateSettingGame, core.StateSettingFlags:
	default:
		return ErrGameNotJoinable
	}

	p.GameDetails = &core.GameDetails{GameID: gameID, Team: core.TeamUnknown, Rank: core.RankSoldier}
	p.Status = core.StatusConnecting
	if err := e.deps.Repository.UpdatePlayer(ctx, p, false); err != nil {
		return fmt.Errorf("join %s: %w", gameID, err)
	}

	e.resetGameLocked(ctx)
	e.player = p
	e.watchGameLocked(gameID)
	e.applyGameLocked(ctx, g)
	e.log.Info("joined game")
	e.record(ctx, core.EventPlayerJoined, core.TeamUnknown, nil)
	e.publishLocked()
	return nil
}

// ChooseTeam puts the caller on team. The first green player leads the team.
func (e *Engine) ChooseTeam(ctx context.Context, team core.Team) error {
	if !team.Valid() {
		return ErrTeamNotChosen
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.freshPlayerLocked(ctx)
	if err != nil {
		return err
	}
	if p.GameID() == "" {
		return ErrNoGame
	}
	if p.Team().Valid() {
		return fmt.Errorf("%w: already on team %s", ErrWrongState, p.Team())
	}

	joined, rank := team, core.RankSoldier
	_, err = e.mutateGameLocked(ctx, func(g *core.Game) error {
		switch g.GameState.State {
		case core.StateCreated, core.StateSettingGame, core.StateSettingFlags:
		default:
			return ErrGameNotJoinable
		}
		// already on a roster from an earlier call whose player write failed:
		// the roster decides team and rank
		if _, onTeam, ok := g.FindActive(e.playerID); ok {
			joined, rank = onTeam, core.RankSoldier
			if onTeam == core.TeamGreen && g.GreenPlayers[0].ID == e.playerID {
				rank = core.RankLeader
			}
			return errUnchanged
		}
		joined, rank = team, core.RankSoldier
		if team == core.TeamGreen && len(g.GreenPlayers) == 0 {
			rank = core.RankLeader
		}
		roster := g.Roster(team)
		*roster = append(*roster, core.ActivePlayer{ID: e.playerID})
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return err
	}

	p.GameDetails.Team = joined
	p.GameDetails.Rank = rank
	if err := e.deps.Repository.UpdatePlayer(ctx, p, false); err != nil {
		return fmt.Errorf("choose team: %w", err)
	}
	e.player = p
	e.log.Info("team chosen", "team", string(joined), "rank", string(rank))
	e.record(ctx, core.EventTeamChosen, joined, map[string]any{"rank": string(rank)})
	e.publishLocked()
	return nil
}

// SetSafehouseAndAdvance fixes the safehouse and moves the game on to flag
// placement. A positive gameRadius replaces the play area radius.
func (e *Engine) SetSafehouseAndAdvance(ctx context.Context, pos core.Coordinate, gameRadius float64) error {
	if !geo.Valid(pos) {
		return ErrInvalidPosition
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.deps.Now().UTC()
	_, err := e.mutateGameLocked(ctx, func(g *core.Game) error {
		switch g.GameState.State {
		case core.StateCreated, core.StateSettingGame:
		default:
			return ErrWrongState
		}
		sh := &g.GameState.Safehouse
		sh.Position = pos
		sh.IsPlaced = true
		sh.IsDiscovered = true
		sh.Timestamp = now
		if sh.ID == "" {
			sh.ID = e.deps.NewID()
		}
		if gameRadius > 0 {
			g.GameRadius = gameRadius
		}
		g.GameState.State = core.StateSettingFlags
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Info("safehouse set", "lat", pos.Lat, "lng", pos.Lng)
	e.record(ctx, core.EventSafehouseSet, e.teamLocked(), map[string]any{
		"lat": pos.Lat,
		"lng": pos.Lng,
	})
	e.publishLocked()
	return nil
}

// PlaceFlag places the caller's team flag at pos. The game starts once
// both flags are down.
func (e *Engine) PlaceFlag(ctx context.Context, pos core.Coordinate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	team := e.teamLocked()
	if !team.Valid() {
		return ErrTeamNotChosen
	}
	now := e.deps.Now().UTC()
	g, err := e.mutateGameLocked(ctx, func(g *core.Game) error {
		if g.GameState.State != core.StateSettingFlags {
			return ErrWrongState
		}
		if !CanPlaceFlag(g, pos) {
			return ErrInvalidPosition
		}
		flag := g.Flag(team)
		flag.Position = pos
		flag.IsPlaced = true
		flag.ID = e.deps.NewID()
		flag.Timestamp = now
		if g.FlagsPlaced() {
			g.GameState.State = core.StateStarted
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Info("flag placed", "team", string(team))
	e.record(ctx, core.EventFlagPlaced, team, map[string]any{
		"lat":     pos.Lat,
		"lng":     pos.Lng,
		"started": g.GameState.State == core.StateStarted,
	})
	e.publishLocked()
	return nil
}

// CaptureFlag picks up the opponent flag while standing in its zone.
func (e *Engine) CaptureFlag(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	team := e.teamLocked()
	if !team.Valid() {
		return ErrTeamNotChosen
	}
	if !e.hasPosition {
		return ErrNotInFlagZone
	}
	p, err := e.freshPlayerLocked(ctx)
	if err != nil {
		return err
	}
	switch p.Status {
	case core.StatusPlaying:
	case core.StatusLost:
		return ErrPlayerLost
	default:
		return fmt.Errorf("%w: player is %s", ErrWrongState, p.Status)
	}

	opponent := team.Opponent()
	pos := e.livePosition
	_, err = e.mutateGameLocked(ctx, func(g *core.Game) error {
		if g.GameState.State != core.StateStarted {
			return ErrWrongState
		}
		if HasLost(g, e.playerID) {
			return ErrPlayerLost
		}
		switch g.Carrier(opponent) {
		case "":
		case e.playerID:
			return ErrAlreadyCarrying
		default:
			return ErrFlagAlreadyCaptured
		}
		if !InsideFlag(g, opponent, pos) {
			return ErrNotInFlagZone
		}
		g.SetCarrier(opponent, e.playerID)
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Info("flag captured", "owner", string(opponent))
	e.metrics.flagCaptured(ctx, team)
	e.record(ctx, core.EventFlagCaptured, team, map[string]any{"owner": string(opponent)})
	e.publishLocked()
	return nil
}

// CreateBattle starts a battle with the opponent in range.
func (e *Engine) CreateBattle(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	self := e.selfLocked()
	if !self.Team.Valid() {
		return ErrTeamNotChosen
	}
	if !e.hasPosition {
		return ErrNoOpponent
	}
	var opponent core.GamePlayer
	_, err := e.mutateGameLocked(ctx, func(g *core.Game) error {
		if g.GameState.State != core.StateStarted {
			return ErrWrongState
		}
		if HasLost(g, e.playerID) {
			return ErrPlayerLost
		}
		if g.BattleOf(e.playerID) >= 0 {
			return ErrAlreadyInBattle
		}
		p, ok := FindOpponent(g, self, e.otherPlayers, e.deps.Config.BattleRange)
		if !ok {
			return ErrNoOpponent
		}
		opponent = p
		g.Battles = append(g.Battles, core.Battle{
			BattleID: e.deps.NewID(),
			Players:  []core.BattlingPlayer{{ID: e.playerID}, {ID: p.ID}},
			State:    core.BattleStandBy,
		})
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Info("battle created", "opponent", opponent.ID)
	e.metrics.battlesCreated.Add(ctx, 1, teamAttr(self.Team))
	e.record(ctx, core.EventBattleCreated, self.Team, map[string]any{"opponent": opponent.ID})
	e.publishLocked()
	return nil
}

// ReadyToBattle marks the caller ready. The battle starts when both are.
func (e *Engine) ReadyToBattle(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.mutateGameLocked(ctx, func(g *core.Game) error {
		i := g.BattleOf(e.playerID)
		if i < 0 {
			return ErrNotInBattle
		}
		b := &g.Battles[i]
		allReady := true
		for j := range b.Players {
			if b.Players[j].ID == e.playerID {
				if b.Players[j].Ready {
					return errUnchanged
				}
				b.Players[j].Ready = true
			}
			allReady = allReady && b.Players[j].Ready
		}
		if allReady {
			b.State = core.BattleStarted
		}
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return err
	}
	e.publishLocked()
	return nil
}

// ResolveBattle records winnerID as the winner of the caller's battle.
// Only the first reported winner counts.
func (e *Engine) ResolveBattle(ctx context.Context, winnerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.mutateGameLocked(ctx, func(g *core.Game) error {
		i := g.BattleOf(e.playerID)
		if i < 0 {
			return ErrNotInBattle
		}
		b := &g.Battles[i]
		if !b.Has(winnerID) {
			return fmt.Errorf("%w: %s", ErrNotInBattle, winnerID)
		}
		if b.Winner != "" {
			return errUnchanged
		}
		b.Winner = winnerID
		b.State = core.BattleOver
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	e.log.Info("battle resolved", "winner", winnerID)
	e.record(ctx, core.EventBattleResolved, e.teamLocked(), map[string]any{"winner": winnerID})
	e.publishLocked()
	return nil
}

// LoseBattle settles the caller's battle. With a mini game the recorded
// winner only leaves the battle; everyone else is out of the game, drops any
// carried flag and stops sharing a position.
func (e *Engine) LoseBattle(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lost := false
	_, err := e.mutateGameLocked(ctx, func(g *core.Game) error {
		i := g.BattleOf(e.playerID)
		if i < 0 {
			return ErrNotInBattle
		}
		lost = g.BattleMiniGame == core.MiniGameNone || g.Battles[i].Winner != e.playerID
		if !lost {
			b := &g.Battles[i]
			b.Players = slices.DeleteFunc(b.Players, func(p core.BattlingPlayer) bool { return p.ID == e.playerID })
			if len(b.Players) == 0 {
				g.Battles = slices.Delete(g.Battles, i, i+1)
			}
			return nil
		}

		g.Battles = slices.DeleteFunc(g.Battles, func(b core.Battle) bool { return b.Has(e.playerID) })
		for _, owner := range []core.Team{core.TeamRed, core.TeamGreen} {
			if g.Carrier(owner) == e.playerID {
				g.SetCarrier(owner, "")
			}
		}
		_, team, ok := g.FindActive(e.playerID)
		if !ok {
			return nil
		}
		roster := *g.Roster(team)
		for j := range roster {
			if roster[j].ID == e.playerID {
				roster[j].HasLost = true
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !lost {
		e.log.Info("left battle as winner")
		e.publishLocked()
		return nil
	}

	e.publishing = false
	e.opponent = nil
	if p, err := e.freshPlayerLocked(ctx); err == nil {
		p.Status = core.StatusLost
		if err := e.deps.Repository.UpdatePlayer(ctx, p, false); err != nil {
			e.log.Warn("failed to mark player lost", "error", err)
		} else {
			e.player = p
		}
	}
	if err := e.deps.Repository.DeleteGamePlayer(ctx, e.gameIDLocked(), e.playerID); err != nil {
		e.log.Warn("failed to remove live position", "error", err)
	}
	e.log.Info("battle lost")
	e.record(ctx, core.EventBattleLost, e.teamLocked(), nil)
	e.publishLocked()
	return nil
}

// QuitGame leaves a finished game. The last player out deletes it.
func (e *Engine) QuitGame(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.freshPlayerLocked(ctx)
	if err != nil {
		return err
	}
	gameID := p.GameID()
	if gameID == "" {
		return ErrNoGame
	}
	team := p.Team()

	g, err := e.deps.Repository.GetGame(ctx, gameID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		g = nil
	case err != nil:
		return fmt.Errorf("quit %s: %w", gameID, err)
	case g.GameState.State != core.StateEnded:
		return ErrGameNotOver
	}

	if g != nil {
		g, err = e.mutateGameLocked(ctx, func(g *core.Game) error {
			isSelf := func(a core.ActivePlayer) bool { return a.ID == e.playerID }
			before := len(g.RedPlayers) + len(g.GreenPlayers)
			g.RedPlayers = slices.DeleteFunc(g.RedPlayers, isSelf)
			g.GreenPlayers = slices.DeleteFunc(g.GreenPlayers, isSelf)
			if len(g.RedPlayers)+len(g.GreenPlayers) == before {
				return errUnchanged
			}
			return nil
		})
		switch {
		case errors.Is(err, ErrGameNotFound):
			g = nil
		case err != nil && !errors.Is(err, errUnchanged):
			return err
		}
	}

	p.GameDetails = nil
	p.Status = core.StatusOnline
	if err := e.deps.Repository.UpdatePlayer(ctx, p, true); err != nil {
		return fmt.Errorf("quit %s: %w", gameID, err)
	}
	if err := e.deps.Repository.DeleteGamePlayer(ctx, gameID, e.playerID); err != nil {
		e.log.Warn("failed to remove live position", "error", err)
	}
	if g != nil && len(g.RedPlayers) == 0 && len(g.GreenPlayers) == 0 {
		if err := e.deps.Repository.DeleteGame(ctx, gameID); err != nil {
			e.log.Warn("failed to delete empty game", "error", err)
		} else {
			e.log.Info("deleted empty game", "game", gameID)
		}
	}

	e.record(ctx, core.EventPlayerQuit, team, map[string]any{"game": gameID})
	e.resetGameLocked(ctx)
	e.player = p
	e.log.Info("quit game", "game", gameID)
	e.publishLocked()
	return nil
}
