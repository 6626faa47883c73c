package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fieldctf/engine/internal/config"
	"github.com/fieldctf/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.PostgresConfig{
		Host: "db", Port: "5433", Username: "ctf", Password: "pw", Database: "games",
	})
	assert.Equal(t, "host=db port=5433 user=ctf password=pw dbname=games sslmode=disable", dsn)

	dsn = PostgresDSN(config.PostgresConfig{SSLMode: "require"})
	assert.Contains(t, dsn, "sslmode=require")
}

func TestOpenSqlite_InMemoryIsolated(t *testing.T) {
	a, err := OpenSqlite("")
	require.NoError(t, err)
	b, err := OpenSqlite("")
	require.NoError(t, err)

	require.NoError(t, Migrate(a))
	require.NoError(t, Migrate(b))

	require.NoError(t, a.Create(&model.Player{UserID: "u1", Username: "alice"}).Error)

	var count int64
	require.NoError(t, b.Model(&model.Player{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
	require.NoError(t, a.Model(&model.Player{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDumpMemoryDBToDisk(t *testing.T) {
	db, err := OpenSqlite("")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	require.NoError(t, db.Create(&model.Player{UserID: "u1"}).Error)

	path := filepath.Join(t.TempDir(), "dump.db")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))
	require.NoError(t, DumpMemoryDBToDisk(db, path))

	onDisk, err := OpenSqlite(path)
	require.NoError(t, err)
	var count int64
	require.NoError(t, onDisk.Model(&model.Player{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDumpMemoryDBToDisk_NoPath(t *testing.T) {
	db, err := OpenSqlite("")
	require.NoError(t, err)
	assert.Error(t, DumpMemoryDBToDisk(db, ""))
}
