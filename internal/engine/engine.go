// Package engine runs the capture-the-flag rules for one player session.
//
// An Engine mirrors the session's game and player from the repository,
// consumes the device's positions and zone transitions, and derives the
// outward View. Snapshots, positions and transitions are forwarded by one
// goroutine per source into a single decision loop; player actions and the
// loop share one mutex, so session state is never mutated concurrently.
//
// Every write re-reads the game and re-validates its preconditions before a
// conditional UpdateGame, retrying on storage.ErrConflict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldctf/engine/internal/config"
	"github.com/fieldctf/engine/internal/logging"
	"github.com/fieldctf/engine/internal/proximity"
	"github.com/fieldctf/engine/internal/storage"
	"github.com/fieldctf/engine/internal/watch"
	"github.com/fieldctf/engine/pkg/core"
	"github.com/google/uuid"
)

// Dependencies holds everything an Engine talks to.
type Dependencies struct {
	Repository storage.Repository
	Proximity  proximity.Source
	Config     config.EngineConfig
	Logger     *slog.Logger
	Recorders  []EventRecorder

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

type sourceKind int

const (
	srcGame sourceKind = iota
	srcPlayer
	srcOthers
	srcPosition
	srcTransition
)

// sourceEvent is one update forwarded to the decision loop.
type sourceEvent struct {
	kind       sourceKind
	game       core.Game
	player     core.Player
	others     []core.GamePlayer
	position   core.Coordinate
	transition proximity.Transition
}

// subscription is a running forwarder for a keyed source.
type subscription struct {
	key    string
	cancel context.CancelFunc
}

func (s *subscription) stop() {
	if s != nil {
		s.cancel()
	}
}

// Engine is the state machine of one player session.
type Engine struct {
	deps     Dependencies
	playerID string
	log      *slog.Logger
	metrics  *metrics

	events chan sourceEvent

	mu           sync.Mutex
	runCtx       context.Context
	game         *core.Game
	player       *core.Player
	livePosition core.Coordinate
	hasPosition  bool
	otherPlayers []core.GamePlayer

	// zones registered with the proximity source, by zone ID
	zones           map[string]proximity.Zone
	zonesRegistered bool
	outOfBounds     bool
	opponent        *core.GamePlayer
	publishing      bool
	draggable       bool
	gameOver        bool

	gameSub   *subscription
	othersSub *subscription

	view    View
	viewHub *watch.Hub[struct{}, View]

	// logGame mirrors the current game ID for log records emitted under mu
	logGame atomic.Value
}

// New creates an engine for playerID.
func New(playerID string, deps Dependencies) (*Engine, error) {
	if playerID == "" {
		return nil, errors.New("engine: empty player ID")
	}
	if deps.Repository == nil || deps.Proximity == nil {
		return nil, errors.New("engine: repository and proximity source are required")
	}
	if deps.Config == (config.EngineConfig{}) {
		deps.Config = config.DefaultEngineConfig()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		deps:     deps,
		playerID: playerID,
		metrics:  m,
		events:   make(chan sourceEvent, 64),
		zones:    make(map[string]proximity.Zone),
		viewHub:  watch.NewHub[struct{}, View](),
	}
	e.log = logging.WithContext(deps.Logger, e.logAttrs).With("player", playerID)
	return e, nil
}

// logAttrs adds the current game to every log record of the session.
func (e *Engine) logAttrs() []slog.Attr {
	id, _ := e.logGame.Load().(string)
	return []slog.Attr{slog.String("game", id)}
}

// PlayerID returns the session's player.
func (e *Engine) PlayerID() string {
	return e.playerID
}

// Register upserts the session's player account and returns it.
func (e *Engine) Register(ctx context.Context, details core.PlayerDetails) (*core.Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.deps.Repository.GetPlayer(ctx, e.playerID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p = &core.Player{UserID: e.playerID, Status: core.StatusOnline}
	case err != nil:
		return nil, fmt.Errorf("register %s: %w", e.playerID, err)
	}
	p.Details = details
	if err := e.deps.Repository.UpdatePlayer(ctx, p, false); err != nil {
		return nil, fmt.Errorf("register %s: %w", e.playerID, err)
	}
	e.player = p.Clone()
	e.publishLocked()
	return p, nil
}

// Run consumes every source until ctx is cancelled. It returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	playerCh, err := e.deps.Repository.ObservePlayer(ctx, e.playerID)
	if err != nil {
		return fmt.Errorf("observe player: %w", err)
	}
	go forward(ctx, e.events, playerCh, func(p core.Player) sourceEvent {
		return sourceEvent{kind: srcPlayer, player: p}
	})
	go forward(ctx, e.events, e.deps.Proximity.Positions(), func(c core.Coordinate) sourceEvent {
		return sourceEvent{kind: srcPosition, position: c}
	})
	go forward(ctx, e.events, e.deps.Proximity.Transitions(), func(t proximity.Transition) sourceEvent {
		return sourceEvent{kind: srcTransition, transition: t}
	})

	e.mu.Lock()
	e.runCtx = ctx
	if id := e.gameIDLocked(); id != "" {
		e.watchGameLocked(id)
	}
	e.mu.Unlock()

	e.log.Info("session started")
	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.gameSub.stop()
			e.othersSub.stop()
			e.gameSub, e.othersSub = nil, nil
			e.runCtx = nil
			e.mu.Unlock()
			e.viewHub.CloseAll()
			e.log.Info("session stopped")
			return ctx.Err()
		case ev := <-e.events:
			e.handle(ctx, ev)
		}
	}
}

// forward copies values from in to out until either side is done.
func forward[T any](ctx context.Context, out chan<- sourceEvent, in <-chan T, wrap func(T) sourceEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- wrap(v):
			case <-ctx.Done():
				return
			}
		}
	}
}

// watchGameLocked (re)starts observing gameID. Without a running loop the
// ID is remembered and Run picks it up.
func (e *Engine) watchGameLocked(gameID string) {
	if e.gameSub != nil && e.gameSub.key == gameID {
		return
	}
	e.gameSub.stop()
	e.gameSub = nil
	if e.runCtx == nil || gameID == "" {
		return
	}

	ctx, cancel := context.WithCancel(e.runCtx)
	ch, err := e.deps.Repository.ObserveGame(ctx, gameID)
	if err != nil {
		cancel()
		e.log.Error("failed to observe game", "error", err)
		return
	}
	e.gameSub = &subscription{key: gameID, cancel: cancel}
	go forward(ctx, e.events, ch, func(g core.Game) sourceEvent {
		return sourceEvent{kind: srcGame, game: g}
	})
}

// watchOthersLocked starts observing the live positions of gameID once.
func (e *Engine) watchOthersLocked(gameID string) {
	if e.othersSub != nil && e.othersSub.key == gameID {
		return
	}
	e.othersSub.stop()
	e.othersSub = nil
	if e.runCtx == nil || gameID == "" {
		return
	}

	ctx, cancel := context.WithCancel(e.runCtx)
	ch, err := e.deps.Repository.ObservePlayersPosition(ctx, gameID)
	if err != nil {
		cancel()
		e.log.Error("failed to observe players", "error", err)
		return
	}
	e.othersSub = &subscription{key: gameID, cancel: cancel}
	go forward(ctx, e.events, ch, func(ps []core.GamePlayer) sourceEvent {
		return sourceEvent{kind: srcOthers, others: ps}
	})
}

func (e *Engine) stopWatchingLocked() {
	e.gameSub.stop()
	e.othersSub.stop()
	e.gameSub, e.othersSub = nil, nil
}

// View returns a copy of the current outward state.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view.clone()
}

// Subscribe streams the outward state, starting with the current one.
// Slow readers only see the latest View.
func (e *Engine) Subscribe(ctx context.Context) <-chan View {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub := e.viewHub.Subscribe(ctx, struct{}{})
	sub.Offer(e.view.clone())
	return sub.C()
}

func (e *Engine) gameIDLocked() string {
	if id := e.player.GameID(); id != "" {
		return id
	}
	if e.game != nil {
		return e.game.GameID
	}
	return ""
}

func (e *Engine) teamLocked() core.Team {
	return e.player.Team()
}

func (e *Engine) selfLocked() core.GamePlayer {
	var username string
	if e.player != nil {
		username = e.player.Details.Username
	}
	return core.GamePlayer{
		ID:       e.playerID,
		Username: username,
		Team:     e.teamLocked(),
		Position: e.livePosition,
	}
}

// publishLocked derives the View from session state and fans it out.
func (e *Engine) publishLocked() {
	v := View{
		Game:                 e.game.Clone(),
		Player:               e.player.Clone(),
		LivePosition:         e.livePosition,
		HasPosition:          e.hasPosition,
		OtherPlayers:         slices.Clone(e.otherPlayers),
		IsSafehouseDraggable: e.draggable,
		EnterGameOverScreen:  e.gameOver,
		OutOfBounds:          e.outOfBounds,
	}
	if v.OtherPlayers == nil {
		v.OtherPlayers = []core.GamePlayer{}
	}
	for _, id := range sortedKeys(e.zones) {
		v.Zones = append(v.Zones, e.zones[id])
	}

	if g := e.game; g != nil {
		team := e.teamLocked()
		if e.hasPosition {
			v.CanPlaceFlag = CanPlaceFlag(g, e.livePosition)
			v.ShowCaptureButton = ShowCapture(g, team, e.playerID, e.livePosition)
		}
		if i := g.BattleOf(e.playerID); i >= 0 {
			b := g.Battles[i]
			b.Players = slices.Clone(b.Players)
			v.Battle = &b
			v.EnterBattleScreen = true
		}
		if e.opponent != nil {
			v.BattleOpponent = e.opponent.Username
			v.ShowBattleButton = true
		}
	}

	e.logGame.Store(e.gameIDLocked())
	e.view = v
	e.viewHub.Publish(struct{}{}, v.clone())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
