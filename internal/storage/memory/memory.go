// internal/storage/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fieldctf/engine/internal/config"
	"github.com/fieldctf/engine/internal/storage"
	"github.com/fieldctf/engine/internal/watch"
	"github.com/fieldctf/engine/pkg/core"
)

// Backend keeps games, players and live positions in process memory.
// All writes publish to observers while the lock is held so observers see
// changes in commit order.
type Backend struct {
	cfg config.MemoryConfig

	games     map[string]*core.Game
	players   map[string]*core.Player
	positions map[string]map[string]core.GamePlayer // gameID -> playerID

	gameHub     *watch.Hub[string, core.Game]
	playerHub   *watch.Hub[string, core.Player]
	positionHub *watch.Hub[string, []core.GamePlayer]

	now func() time.Time
	mu  sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:         cfg,
		games:       make(map[string]*core.Game),
		players:     make(map[string]*core.Player),
		positions:   make(map[string]map[string]core.GamePlayer),
		gameHub:     watch.NewHub[string, core.Game](),
		playerHub:   watch.NewHub[string, core.Player](),
		positionHub: watch.NewHub[string, []core.GamePlayer](),
		now:         time.Now,
	}
}

// Init loads a previous snapshot when an output directory is configured.
func (b *Backend) Init() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	return b.loadSnapshot()
}

// Close writes the snapshot (if configured) and ends all observer streams.
func (b *Backend) Close() error {
	var err error
	if b.cfg.OutputDir != "" {
		err = b.writeSnapshot()
	}
	b.gameHub.CloseAll()
	b.playerHub.CloseAll()
	b.positionHub.CloseAll()
	return err
}

// CreateGame stores a new game at version 1.
func (b *Backend) CreateGame(ctx context.Context, game *core.Game) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.games[game.GameID]; ok {
		return fmt.Errorf("create game %s: %w", game.GameID, storage.ErrExists)
	}
	game.Version = 1
	game.UpdatedAt = b.now()
	stored := game.Clone()
	b.games[game.GameID] = stored
	b.gameHub.Publish(game.GameID, *stored.Clone())
	return nil
}

// GetGame returns a copy of the stored game.
func (b *Backend) GetGame(ctx context.Context, gameID string) (*core.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	g, ok := b.games[gameID]
	if !ok {
		return nil, fmt.Errorf("get game %s: %w", gameID, storage.ErrNotFound)
	}
	return g.Clone(), nil
}

// UpdateGame replaces the game if its version matches the stored one.
func (b *Backend) UpdateGame(ctx context.Context, game *core.Game) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.games[game.GameID]
	if !ok {
		return fmt.Errorf("update game %s: %w", game.GameID, storage.ErrNotFound)
	}
	if current.Version != game.Version {
		return fmt.Errorf("update game %s at version %d (stored %d): %w",
			game.GameID, game.Version, current.Version, storage.ErrConflict)
	}
	game.Version++
	game.UpdatedAt = b.now()
	stored := game.Clone()
	b.games[game.GameID] = stored
	b.gameHub.Publish(game.GameID, *stored.Clone())
	return nil
}

// DeleteGame removes the game and its live positions. Missing games are ignored.
func (b *Backend) DeleteGame(ctx context.Context, gameID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.games, gameID)
	if _, ok := b.positions[gameID]; ok {
		delete(b.positions, gameID)
		b.positionHub.Publish(gameID, []core.GamePlayer{})
	}
	return nil
}

// ObserveGame streams the game, starting with its current value.
func (b *Backend) ObserveGame(ctx context.Context, gameID string) (<-chan core.Game, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub := b.gameHub.Subscribe(ctx, gameID)
	if g, ok := b.games[gameID]; ok {
		sub.Offer(*g.Clone())
	}
	return sub.C(), nil
}

// GetPlayer returns a copy of the stored player.
func (b *Backend) GetPlayer(ctx context.Context, playerID string) (*core.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.players[playerID]
	if !ok {
		return nil, fmt.Errorf("get player %s: %w", playerID, storage.ErrNotFound)
	}
	return p.Clone(), nil
}

// UpdatePlayer upserts the player. There is no cache to clear in memory.
func (b *Backend) UpdatePlayer(ctx context.Context, player *core.Player, _ bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := player.Clone()
	b.players[player.UserID] = stored
	b.playerHub.Publish(player.UserID, *stored.Clone())
	return nil
}

// ObservePlayer streams the player, starting with its current value.
func (b *Backend) ObservePlayer(ctx context.Context, playerID string) (<-chan core.Player, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub := b.playerHub.Subscribe(ctx, playerID)
	if p, ok := b.players[playerID]; ok {
		sub.Offer(*p.Clone())
	}
	return sub.C(), nil
}

// ObservePlayersPosition streams the full live roster of gameID.
func (b *Backend) ObservePlayersPosition(ctx context.Context, gameID string) (<-chan []core.GamePlayer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub := b.positionHub.Subscribe(ctx, gameID)
	sub.Offer(b.positionsLocked(gameID))
	return sub.C(), nil
}

// UpdateGamePlayer replaces the live record of one player.
func (b *Backend) UpdateGamePlayer(ctx context.Context, gameID string, player core.GamePlayer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.positions[gameID]
	if !ok {
		set = make(map[string]core.GamePlayer)
		b.positions[gameID] = set
	}
	set[player.ID] = player
	b.positionHub.Publish(gameID, b.positionsLocked(gameID))
	return nil
}

// DeleteGamePlayer removes the live record of one player.
func (b *Backend) DeleteGamePlayer(ctx context.Context, gameID, playerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.positions[gameID]
	if !ok {
		return nil
	}
	if _, ok := set[playerID]; !ok {
		return nil
	}
	delete(set, playerID)
	b.positionHub.Publish(gameID, b.positionsLocked(gameID))
	return nil
}

// positionsLocked returns the live roster sorted by player ID.
func (b *Backend) positionsLocked(gameID string) []core.GamePlayer {
	set := b.positions[gameID]
	out := make([]core.GamePlayer, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
