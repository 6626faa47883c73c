package convert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fieldctf/engine/internal/geo"
	"github.com/fieldctf/engine/internal/model"
	"github.com/fieldctf/engine/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameToModel_Projections(t *testing.T) {
	g := &core.Game{
		GameID:  "ABCDE",
		Title:   "Alpha",
		Version: 3,
		GameState: core.GameState{
			Safehouse: core.GeofenceObject{Position: core.Coordinate{Lat: 10, Lng: 20}},
			Winners:   core.TeamGreen,
			State:     core.StateEnded,
		},
	}

	m, err := GameToModel(g)
	require.NoError(t, err)
	assert.Equal(t, "ABCDE", m.GameID)
	assert.Equal(t, "Ended", m.State)
	assert.Equal(t, "Green", m.Winners)
	assert.Equal(t, int64(3), m.Version)

	c, ok := geo.Coordinate4326(m.SafehouseLocation)
	require.True(t, ok)
	assert.InDelta(t, 10, c.Lat, 1e-6)
	assert.InDelta(t, 20, c.Lng, 1e-6)
}

func TestGameToCore_RowOverridesDocument(t *testing.T) {
	doc, err := json.Marshal(core.Game{GameID: "ignored", Title: "Alpha", Version: 1})
	require.NoError(t, err)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g, err := GameToCore(model.Game{GameID: "ABCDE", Version: 7, UpdatedAt: ts, Document: doc})
	require.NoError(t, err)
	assert.Equal(t, "ABCDE", g.GameID)
	assert.Equal(t, "Alpha", g.Title)
	assert.Equal(t, int64(7), g.Version)
	assert.Equal(t, ts, g.UpdatedAt)
}

func TestGameToCore_BadDocument(t *testing.T) {
	_, err := GameToCore(model.Game{GameID: "X", Document: []byte("{")})
	assert.Error(t, err)
}

func TestPlayerRoundTrip(t *testing.T) {
	p := &core.Player{
		UserID:      "u1",
		Details:     core.PlayerDetails{Username: "alice", Email: "a@example.com"},
		Status:      core.StatusPlaying,
		GameDetails: &core.GameDetails{GameID: "ABCDE", Team: core.TeamRed, Rank: core.RankCaptain},
	}

	m, err := PlayerToModel(p)
	require.NoError(t, err)
	assert.Equal(t, "alice", m.Username)
	assert.Equal(t, "ABCDE", m.GameID)
	assert.Equal(t, "Playing", m.Status)

	back, err := PlayerToCore(m)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestGamePlayerRoundTrip(t *testing.T) {
	gp := core.GamePlayer{ID: "u1", Username: "alice", Team: core.TeamGreen, Position: core.Coordinate{Lat: 1.5, Lng: -2.5}}
	m := GamePlayerToModel("ABCDE", gp)
	assert.Equal(t, "ABCDE", m.GameID)
	assert.Equal(t, gp, GamePlayerToCore(m))
}

func TestGameEventToModel(t *testing.T) {
	m, err := GameEventToModel(core.GameEvent{
		Kind:   core.EventFlagCaptured,
		GameID: "ABCDE",
		Team:   core.TeamGreen,
		Fields: map[string]any{"flag": "Red"},
	})
	require.NoError(t, err)
	assert.Equal(t, "flag_captured", m.Kind)
	assert.JSONEq(t, `{"flag":"Red"}`, string(m.Fields))

	empty, err := GameEventToModel(core.GameEvent{Kind: core.EventGameOver})
	require.NoError(t, err)
	assert.Nil(t, empty.Fields)
}
