// Package postgres runs the GORM repository against PostgreSQL so several
// daemons can share one game store.
package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/fieldctf/engine/internal/cache"
	"github.com/fieldctf/engine/internal/config"
	"github.com/fieldctf/engine/internal/database"
	"github.com/fieldctf/engine/internal/logging"
	gormstorage "github.com/fieldctf/engine/internal/storage/gorm"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the Postgres backend. DB may be
// nil, in which case Init connects using the config.
type Dependencies struct {
	DB          *gorm.DB
	PlayerCache *cache.PlayerCache
	LogManager  *logging.SlogManager
}

// Backend is the GORM backend bound to a Postgres connection.
// Repository methods are available after Init.
type Backend struct {
	*gormstorage.Backend
	cfg  config.PostgresConfig
	poll time.Duration
	deps Dependencies
}

// New creates a new Postgres storage backend. pollInterval controls how often
// observed games are re-read to pick up writes from other daemons.
func New(cfg config.PostgresConfig, pollInterval time.Duration, deps Dependencies) *Backend {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{cfg: cfg, poll: pollInterval, deps: deps}
}

// Init connects (unless a DB was injected), migrates and starts the
// background writers.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.OpenPostgres(b.cfg)
		if err != nil {
			return err
		}
		b.deps.DB = db
		b.deps.LogManager.WriteLog("postgres:init",
			fmt.Sprintf("Connected to %s:%s/%s", b.cfg.Host, b.cfg.Port, b.cfg.Database), "INFO")
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:           b.deps.DB,
		PlayerCache:  b.deps.PlayerCache,
		LogManager:   b.deps.LogManager,
		PollInterval: b.poll,
	})
	if err := b.Backend.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	return nil
}

// Close closes the embedded backend. It is a no-op before Init.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return errors.New("postgres backend not initialized")
	}
	return b.Backend.Close()
}
