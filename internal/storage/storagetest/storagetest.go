// Package storagetest holds behaviour checks shared by every storage.Repository.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fieldctf/engine/internal/storage"
	"github.com/fieldctf/engine/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, initialised repository. The test closes it.
type Factory func(t *testing.T) storage.Repository

// SampleGame returns a game in the Created state with one Red captain.
func SampleGame(id string) *core.Game {
	return &core.Game{
		GameID:          id,
		Title:           "Alpha",
		GameRadius:      500,
		FlagRadius:      40,
		SafehouseRadius: 100,
		BattleMiniGame:  core.MiniGameNone,
		GameState: core.GameState{
			Safehouse: core.GeofenceObject{
				Position:     core.Coordinate{Lat: 1, Lng: 2},
				IsPlaced:     true,
				IsDiscovered: true,
				ID:           "safehouse",
			},
			Winners: core.TeamUnknown,
			State:   core.StateCreated,
		},
		RedPlayers:   []core.ActivePlayer{{ID: "captain"}},
		GreenPlayers: []core.ActivePlayer{},
		Battles:      []core.Battle{},
	}
}

// Next reads one value or fails the test after a second.
func Next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed unexpectedly")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream value")
	}
	var zero T
	return zero
}

// Run executes the shared checks against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateAndGetGame", func(t *testing.T) { testCreateAndGetGame(t, newRepo(t)) })
	t.Run("CreateDuplicateGame", func(t *testing.T) { testCreateDuplicate(t, newRepo(t)) })
	t.Run("GetMissingGame", func(t *testing.T) { testGetMissing(t, newRepo(t)) })
	t.Run("UpdateGameConditional", func(t *testing.T) { testUpdateConditional(t, newRepo(t)) })
	t.Run("ObserveGame", func(t *testing.T) { testObserveGame(t, newRepo(t)) })
	t.Run("DeleteGame", func(t *testing.T) { testDeleteGame(t, newRepo(t)) })
	t.Run("Players", func(t *testing.T) { testPlayers(t, newRepo(t)) })
	t.Run("GamePlayers", func(t *testing.T) { testGamePlayers(t, newRepo(t)) })
}

func testCreateAndGetGame(t *testing.T, repo storage.Repository) {
	defer repo.Close()
	ctx := context.Background()

	g := SampleGame("ABCDE")
	require.NoError(t, repo.CreateGame(ctx, g))
	assert.Equal(t, int64(1), g.Version)

	got, err := repo.GetGame(ctx, "ABCDE")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Title)
	assert.Equal(t, core.StateCreated, got.GameState.State)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, []core.ActivePlayer{{ID: "captain"}}, got.RedPlayers)
	assert.True(t, got.GameState.Safehouse.IsPlaced)
	assert.InDelta(t, 1.0, got.GameState.Safehouse.Position.Lat, 1e-9)

	// returned copies are independent of the store
	got.RedPlayers[0].HasLost = true
	again, err := repo.GetGame(ctx, "ABCDE")
	require.NoError(t, err)
	assert.False(t, again.RedPlayers[0].HasLost)
}

func testCreateDuplicate(t *testing.T, repo storage.Repository) {
	defer repo.Close()
	ctx := context.Background()

	require.NoError(t, repo.CreateGame(ctx, SampleGame("DUPES")))
	err := repo.CreateGame(ctx, SampleGame("DUPES"))
	assert.True(t, errors.Is(err, storage.ErrExists), "got %v", err)
}

func testGetMissing(t *testing.T, repo storage.Repository) {
	defer repo.Close()
	ctx := context.Background()

	_, err := repo.GetGame(ctx, "NOPE1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = repo.GetPlayer(ctx, "nobody")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	err = repo.UpdateGame(ctx, SampleGame("NOPE1"))
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testUpdateConditional(t *testing.T, repo storage.Repository) {
	defer repo.Close()
	ctx := context.Background()

	require.NoError(t, repo.CreateGame(ctx, SampleGame("COND1")))

	a, err := repo.GetGame(ctx, "COND1")
	require.NoError(t, err)
	b, err := repo.GetGame(ctx, "COND1")
	require.NoError(t, err)

	a.GameState.State = core.StateSettingFlags
	require.NoError(t, repo.UpdateGame(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.GameState.RedFlagCaptured = "intruder"
	err = repo.UpdateGame(ctx, b)
	assert.True(t, errors.Is(err, storage.ErrConflict), "got %v", err)

	got, err := repo.GetGame(ctx, "COND1")
	require.NoError(t, err)
	assert.Equal(t, core.StateSettingFlags, got.GameState.State)
	assert.Empty(t, got.GameState.RedFlagCaptured)
}

func testObserveGame(t *testing.T, repo storage.Repository) {
	defer repo.Close()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, repo.CreateGame(ctx, SampleGame("OBS01")))

	stream, err := repo.ObserveGame(ctx, "OBS01")
	require.NoError(t, err)

	first := Next(t, stream)
	assert.Equal(t, int64(1), first.Version)

	g, err := repo.GetGame(ctx, "OBS01")
	require.NoError(t, err)
	g.GameState.State = core.StateSettingFlags
	require.NoError(t, repo.UpdateGame(ctx, g))

	second := Next(t, stream)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, core.StateSettingFlags, second.GameState.State)

	cancel()
	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-stream:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func testDeleteGame(t *testing.T, repo storage.Repository) {
	defer repo.Close()
	ctx := context.Background()

	require.NoError(t, repo.CreateGame(ctx, SampleGame("DEL01")))
	require.NoError(t, repo.DeleteGame(ctx, "DEL01"))
	require.NoError(t, repo.DeleteGame(ctx, "DEL01"))

	_, err := repo.GetGame(ctx, "DEL01")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testPlayers(t *testing.T, repo storage.Repository) {
	defer repo.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &core.Player{
		UserID:  "u1",
		Details: core.PlayerDetails{Username: "alice"},
		Status:  core.StatusOnline,
	}
	require.NoError(t, repo.UpdatePlayer(ctx, p, false))

	stream, err := repo.ObservePlayer(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusOnline, Next(t, stream).Status)

	p.Status = core.StatusConnecting
	p.GameDetails = &core.GameDetails{GameID: "G", Team: core.TeamRed, Rank: core.RankCaptain}
	require.NoError(t, repo.UpdatePlayer(ctx, p, true))

	observed := Next(t, stream)
	assert.Equal(t, core.StatusConnecting, observed.Status)
	require.NotNil(t, observed.GameDetails)
	assert.Equal(t, core.RankCaptain, observed.GameDetails.Rank)

	got, err := repo.GetPlayer(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Details.Username)
	assert.Equal(t, core.TeamRed, got.Team())

	got.GameDetails = nil
	require.NoError(t, repo.UpdatePlayer(ctx, got, false))
	again, err := repo.GetPlayer(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, again.GameDetails)
}

func testGamePlayers(t *testing.T, repo storage.Repository) {
	defer repo.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := repo.ObservePlayersPosition(ctx, "POS01")
	require.NoError(t, err)
	assert.Empty(t, Next(t, stream))

	require.NoError(t, repo.UpdateGamePlayer(ctx, "POS01", core.GamePlayer{
		ID: "b", Username: "bob", Team: core.TeamGreen, Position: core.Coordinate{Lat: 1},
	}))
	require.NoError(t, repo.UpdateGamePlayer(ctx, "POS01", core.GamePlayer{
		ID: "a", Username: "alice", Team: core.TeamRed, Position: core.Coordinate{Lat: 2},
	}))

	assert.Eventually(t, func() bool {
		select {
		case roster := <-stream:
			return len(roster) == 2 && roster[0].ID == "a" && roster[1].ID == "b"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, repo.DeleteGamePlayer(ctx, "POS01", "a"))
	require.NoError(t, repo.DeleteGamePlayer(ctx, "POS01", "missing"))

	roster := Next(t, stream)
	require.Len(t, roster, 1)
	assert.Equal(t, "b", roster[0].ID)
}
