package main

import (
	"fmt"

	"github.com/fieldctf/engine/internal/cache"
	"github.com/fieldctf/engine/internal/config"
	"github.com/fieldctf/engine/internal/storage"
	"github.com/fieldctf/engine/internal/storage/memory"
	pgstorage "github.com/fieldctf/engine/internal/storage/postgres"
	sqlitestorage "github.com/fieldctf/engine/internal/storage/sqlite"
)

func createStorageBackend(storageCfg config.StorageConfig, playerCache *cache.PlayerCache) (storage.Repository, error) {
	switch storageCfg.Type {
	case "postgres":
		Logger.Info("Postgres storage backend selected",
			"host", storageCfg.Postgres.Host, "database", storageCfg.Postgres.Database)
		return pgstorage.New(storageCfg.Postgres, storageCfg.PollInterval, pgstorage.Dependencies{
			PlayerCache: playerCache,
			LogManager:  SlogManager,
		}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(storageCfg.SQLite, playerCache, SlogManager)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		Logger.Info("SQLite storage backend selected", "dumpPath", storageCfg.SQLite.DumpPath)
		return backend, nil

	case "memory", "":
		Logger.Info("Memory storage backend selected", "outputDir", storageCfg.Memory.OutputDir)
		return memory.New(storageCfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}
