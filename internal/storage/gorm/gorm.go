// Package gormstorage implements storage.Repository on top of GORM.
// The same code serves SQLite and Postgres; the wrapping packages only
// decide how the *gorm.DB is opened and what runs alongside it.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fieldctf/engine/internal/cache"
	"github.com/fieldctf/engine/internal/database"
	"github.com/fieldctf/engine/internal/logging"
	"github.com/fieldctf/engine/internal/model"
	"github.com/fieldctf/engine/internal/model/convert"
	"github.com/fieldctf/engine/internal/queue"
	"github.com/fieldctf/engine/internal/storage"
	"github.com/fieldctf/engine/internal/watch"
	"github.com/fieldctf/engine/pkg/core"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxQueuedEvents bounds the event log buffer while the DB is unreachable.
const maxQueuedEvents = 10000

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB          *gorm.DB
	PlayerCache *cache.PlayerCache
	LogManager  *logging.SlogManager
	// PollInterval re-reads observed rows so writes from other processes
	// reach local observers. Zero disables polling.
	PollInterval time.Duration
	// FlushInterval is how often queued game events are written. Defaults to 2s.
	FlushInterval time.Duration
}

// Backend implements storage.Repository and engine event recording.
type Backend struct {
	deps Dependencies

	gameHub     *watch.Hub[string, core.Game]
	playerHub   *watch.Hub[string, core.Player]
	positionHub *watch.Hub[string, []core.GamePlayer]

	events *queue.Queue[model.GameEvent]

	// last values published per key, so the poller only sends changes
	polledGames     map[string]int64
	polledPlayers   map[string]time.Time
	polledPositions map[string][]core.GamePlayer

	now      func() time.Time
	mu       sync.Mutex // serializes writes with their publication
	stopChan chan struct{}
	wg       sync.WaitGroup
	closed   sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.PlayerCache == nil {
		deps.PlayerCache = cache.NewPlayerCache()
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = 2 * time.Second
	}
	return &Backend{
		deps:            deps,
		gameHub:         watch.NewHub[string, core.Game](),
		playerHub:       watch.NewHub[string, core.Player](),
		positionHub:     watch.NewHub[string, []core.GamePlayer](),
		events:          queue.NewBounded[model.GameEvent](maxQueuedEvents),
		polledGames:     make(map[string]int64),
		polledPlayers:   make(map[string]time.Time),
		polledPositions: make(map[string][]core.GamePlayer),
		now:             time.Now,
		stopChan:        make(chan struct{}),
	}
}

// DB exposes the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the schema and starts the background writers.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend: no database")
	}
	b.deps.LogManager.WriteLog("gorm:init", "Migrating schema", "INFO")
	if err := database.Migrate(b.deps.DB); err != nil {
		return err
	}

	b.wg.Add(1)
	go b.eventWriter()

	if b.deps.PollInterval > 0 {
		b.wg.Add(1)
		go b.pollLoop()
	}
	return nil
}

// Close stops background work, writes pending events and closes the DB.
func (b *Backend) Close() error {
	var err error
	b.closed.Do(func() {
		close(b.stopChan)
		b.wg.Wait()

		b.flushEvents()
		b.gameHub.CloseAll()
		b.playerHub.CloseAll()
		b.positionHub.CloseAll()

		if b.deps.DB == nil {
			return
		}
		sqlDB, dbErr := b.deps.DB.DB()
		if dbErr != nil {
			err = fmt.Errorf("failed to access sql interface: %w", dbErr)
			return
		}
		err = sqlDB.Close()
	})
	return err
}

////////////////
// GAMES
////////////////

// CreateGame inserts game at version 1.
func (b *Backend) CreateGame(ctx context.Context, game *core.Game) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := game.Clone()
	next.Version = 1
	next.UpdatedAt = b.now().UTC()
	row, err := convert.GameToModel(next)
	if err != nil {
		return err
	}

	res := b.deps.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return fmt.Errorf("create game %s: %w", game.GameID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("create game %s: %w", game.GameID, storage.ErrExists)
	}

	game.Version = next.Version
	game.UpdatedAt = next.UpdatedAt
	b.publishGame(next)
	return nil
}

// GetGame reads one game.
func (b *Backend) GetGame(ctx context.Context, gameID string) (*core.Game, error) {
	var row model.Game
	err := b.deps.DB.WithContext(ctx).Where("game_id = ?", gameID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get game %s: %w", gameID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", gameID, err)
	}
	return convert.GameToCore(row)
}

// UpdateGame writes game only where the stored version still matches.
func (b *Backend) UpdateGame(ctx context.Context, game *core.Game) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := game.Clone()
	next.Version = game.Version + 1
	next.UpdatedAt = b.now().UTC()
	row, err := convert.GameToModel(next)
	if err != nil {
		return err
	}

	db := b.deps.DB.WithContext(ctx)
	res := db.Model(&model.Game{}).
		Where("game_id = ? AND version = ?", game.GameID, game.Version).
		Updates(map[string]any{
			"title":              row.Title,
			"state":              row.State,
			"version":            row.Version,
			"winners":            row.Winners,
			"safehouse_location": row.SafehouseLocation,
			"document":           row.Document,
			"updated_at":         row.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update game %s: %w", game.GameID, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := db.Model(&model.Game{}).Where("game_id = ?", game.GameID).Count(&count).Error; err != nil {
			return fmt.Errorf("update game %s: %w", game.GameID, err)
		}
		if count == 0 {
			return fmt.Errorf("update game %s: %w", game.GameID, storage.ErrNotFound)
		}
		return fmt.Errorf("update game %s at version %d: %w", game.GameID, game.Version, storage.ErrConflict)
	}

	game.Version = next.Version
	game.UpdatedAt = next.UpdatedAt
	b.publishGame(next)
	return nil
}

// DeleteGame removes the game and its live positions. Missing games are ignored.
func (b *Backend) DeleteGame(ctx context.Context, gameID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("game_id = ?", gameID).Delete(&model.GamePlayer{}).Error; err != nil {
			return err
		}
		return tx.Where("game_id = ?", gameID).Delete(&model.Game{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete game %s: %w", gameID, err)
	}
	delete(b.polledGames, gameID)
	b.polledPositions[gameID] = []core.GamePlayer{}
	b.positionHub.Publish(gameID, []core.GamePlayer{})
	return nil
}

// ObserveGame streams the game, starting with its current value.
func (b *Backend) ObserveGame(ctx context.Context, gameID string) (<-chan core.Game, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.gameHub.Subscribe(ctx, gameID)
	g, err := b.GetGame(ctx, gameID)
	switch {
	case err == nil:
		b.polledGames[gameID] = max(b.polledGames[gameID], g.Version)
		sub.Offer(*g)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}
	return sub.C(), nil
}

////////////////
// PLAYERS
////////////////

// GetPlayer reads a player, serving repeated reads from the cache.
func (b *Backend) GetPlayer(ctx context.Context, playerID string) (*core.Player, error) {
	if p, ok := b.deps.PlayerCache.Get(playerID); ok {
		return p, nil
	}
	p, err := b.loadPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	b.deps.PlayerCache.Put(p)
	return p, nil
}

func (b *Backend) loadPlayer(ctx context.Context, playerID string) (*core.Player, error) {
	var row model.Player
	err := b.deps.DB.WithContext(ctx).Where("user_id = ?", playerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get player %s: %w", playerID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", playerID, err)
	}
	return convert.PlayerToCore(row)
}

// UpdatePlayer upserts the player. With clearCache the cached copy is
// dropped so the next read goes to the database.
func (b *Backend) UpdatePlayer(ctx context.Context, player *core.Player, clearCache bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	row, err := convert.PlayerToModel(player)
	if err != nil {
		return err
	}
	row.UpdatedAt = b.now().UTC()

	err = b.deps.DB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("update player %s: %w", player.UserID, err)
	}

	if clearCache {
		b.deps.PlayerCache.Evict(player.UserID)
	} else {
		b.deps.PlayerCache.Put(player)
	}
	b.polledPlayers[player.UserID] = row.UpdatedAt
	b.playerHub.Publish(player.UserID, *player.Clone())
	return nil
}

// ObservePlayer streams the player, starting with its current value.
func (b *Backend) ObservePlayer(ctx context.Context, playerID string) (<-chan core.Player, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.playerHub.Subscribe(ctx, playerID)
	p, err := b.GetPlayer(ctx, playerID)
	switch {
	case err == nil:
		sub.Offer(*p)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}
	return sub.C(), nil
}

////////////////
// POSITIONS
////////////////

// ObservePlayersPosition streams the full live roster of gameID.
func (b *Backend) ObservePlayersPosition(ctx context.Context, gameID string) (<-chan []core.GamePlayer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.positions(ctx, gameID)
	if err != nil {
		return nil, err
	}
	b.polledPositions[gameID] = current
	sub := b.positionHub.Subscribe(ctx, gameID)
	sub.Offer(current)
	return sub.C(), nil
}

// UpdateGamePlayer upserts the live record of one player.
func (b *Backend) UpdateGamePlayer(ctx context.Context, gameID string, player core.GamePlayer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	row := convert.GamePlayerToModel(gameID, player)
	row.UpdatedAt = b.now().UTC()
	err := b.deps.DB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("update game player %s/%s: %w", gameID, player.ID, err)
	}
	return b.publishPositions(ctx, gameID)
}

// DeleteGamePlayer removes the live record of one player.
func (b *Backend) DeleteGamePlayer(ctx context.Context, gameID, playerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := b.deps.DB.WithContext(ctx).
		Where("game_id = ? AND player_id = ?", gameID, playerID).
		Delete(&model.GamePlayer{})
	if res.Error != nil {
		return fmt.Errorf("delete game player %s/%s: %w", gameID, playerID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	return b.publishPositions(ctx, gameID)
}

func (b *Backend) publishPositions(ctx context.Context, gameID string) error {
	current, err := b.positions(ctx, gameID)
	if err != nil {
		return err
	}
	b.polledPositions[gameID] = current
	b.positionHub.Publish(gameID, current)
	return nil
}

func (b *Backend) publishGame(g *core.Game) {
	b.polledGames[g.GameID] = g.Version
	b.gameHub.Publish(g.GameID, *g)
}

// positions returns the live roster sorted by player ID.
func (b *Backend) positions(ctx context.Context, gameID string) ([]core.GamePlayer, error) {
	var rows []model.GamePlayer
	err := b.deps.DB.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("player_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list game players %s: %w", gameID, err)
	}
	out := make([]core.GamePlayer, 0, len(rows))
	for _, r := range rows {
		out = append(out, convert.GamePlayerToCore(r))
	}
	return out, nil
}

////////////////
// EVENTS
////////////////

// Record queues an engine event for the background writer.
func (b *Backend) Record(_ context.Context, e core.GameEvent) error {
	row, err := convert.GameEventToModel(e)
	if err != nil {
		return err
	}
	if dropped := b.events.Push(row); dropped > 0 {
		b.deps.LogManager.WriteLog("gorm:record", fmt.Sprintf("Event queue full, dropped %d events", dropped), "WARN")
	}
	return nil
}

// Events returns the recorded events of gameID in time order.
func (b *Backend) Events(ctx context.Context, gameID string) ([]core.GameEvent, error) {
	var rows []model.GameEvent
	err := b.deps.DB.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("time, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", gameID, err)
	}
	out := make([]core.GameEvent, 0, len(rows))
	for _, r := range rows {
		e, err := convert.GameEventToCore(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// eventWriter periodically drains the event queue into the DB.
func (b *Backend) eventWriter() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.flushEvents()
		}
	}
}

func (b *Backend) flushEvents() {
	if b.events.Empty() {
		return
	}
	items := b.events.GetAndEmpty()
	err := b.deps.DB.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&items, 500).Error
	})
	if err != nil {
		b.deps.LogManager.WriteLog(":DB:WRITER:", fmt.Sprintf("Error creating game events: %v", err), "ERROR")
		// keep order: failed batch goes back in front of newer events
		b.events.Requeue(items)
	}
}

////////////////
// POLLING
////////////////

// pollLoop republishes rows changed by other writers.
func (b *Backend) pollLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.deps.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.poll(context.Background())
		}
	}
}

func (b *Backend) poll(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.gameHub.Keys() {
		g, err := b.GetGame(ctx, id)
		if err != nil {
			continue
		}
		if b.polledGames[id] >= g.Version {
			continue
		}
		b.publishGame(g)
	}

	for _, id := range b.playerHub.Keys() {
		var row model.Player
		if err := b.deps.DB.WithContext(ctx).Where("user_id = ?", id).First(&row).Error; err != nil {
			continue
		}
		if !row.UpdatedAt.After(b.polledPlayers[id]) {
			continue
		}
		b.polledPlayers[id] = row.UpdatedAt
		p, err := convert.PlayerToCore(row)
		if err != nil {
			continue
		}
		b.deps.PlayerCache.Put(p)
		b.playerHub.Publish(id, *p)
	}

	for _, id := range b.positionHub.Keys() {
		current, err := b.positions(ctx, id)
		if err != nil {
			continue
		}
		if slices.Equal(b.polledPositions[id], current) {
			continue
		}
		b.polledPositions[id] = current
		b.positionHub.Publish(id, current)
	}
}
