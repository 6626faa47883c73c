package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldctf/engine/internal/cache"
	"github.com/fieldctf/engine/internal/engine"
	"github.com/fieldctf/engine/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticView struct {
	id string
	v  engine.View
}

func (s staticView) PlayerID() string  { return s.id }
func (s staticView) View() engine.View { return s.v }

func sampleView() engine.View {
	return engine.View{
		Game: &core.Game{
			GameID:       "ABCDE",
			GameState:    core.GameState{State: core.StateStarted},
			RedPlayers:   []core.ActivePlayer{{ID: "red-1"}},
			GreenPlayers: []core.ActivePlayer{{ID: "green-1"}, {ID: "green-2"}},
		},
		OtherPlayers: []core.GamePlayer{{ID: "green-1"}},
		OutOfBounds:  true,
	}
}

func TestGetStatus(t *testing.T) {
	pc := cache.NewPlayerCache()
	pc.Get("nobody")

	s := NewService(Dependencies{
		Session:     staticView{id: "red-1", v: sampleView()},
		PlayerCache: pc,
		StatusDir:   t.TempDir(),
	})

	st := s.GetStatus()
	assert.Equal(t, "red-1", st.PlayerID)
	assert.Equal(t, "ABCDE", st.GameID)
	assert.Equal(t, core.StateStarted.String(), st.State)
	assert.Equal(t, 1, st.RedPlayers)
	assert.Equal(t, 2, st.GreenPlayers)
	assert.Equal(t, 1, st.Visible)
	assert.True(t, st.OutOfBounds)
	assert.Equal(t, 1, st.CacheMisses)
}

func TestGetStatus_Idle(t *testing.T) {
	s := NewService(Dependencies{Session: staticView{id: "p"}})
	st := s.GetStatus()
	assert.Equal(t, core.StateIdle.String(), st.State)
	assert.Empty(t, st.GameID)
}

func TestStartWritesStatusFile(t *testing.T) {
	dir := t.TempDir()
	s := NewService(Dependencies{
		Session:   staticView{id: "red-1", v: sampleView()},
		StatusDir: dir,
		Interval:  10 * time.Millisecond,
	})

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start(), "second start is a no-op")

	path := filepath.Join(dir, StatusFileName)
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, "ABCDE", st.GameID)
}

func TestStartWithoutSession(t *testing.T) {
	s := NewService(Dependencies{})
	assert.Error(t, s.Start())
	s.Stop()
}
