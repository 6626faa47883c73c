package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fieldctf/engine/internal/config"
	"github.com/fieldctf/engine/internal/proximity"
	"github.com/fieldctf/engine/internal/storage"
	"github.com/fieldctf/engine/internal/storage/memory"
	"github.com/fieldctf/engine/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	redFlagPos   = north(0.003)
	greenFlagPos = north(-0.003)
	// battleable spots ~5.5 m apart
	redField   = north(0.0015)
	greenField = north(0.00155)
)

// fakeSource records zone registrations. Transitions and positions are
// injected through handle.
type fakeSource struct {
	mu          sync.Mutex
	registered  []proximity.Zone
	unregisters int
}

func (f *fakeSource) Positions() <-chan core.Coordinate       { return nil }
func (f *fakeSource) Transitions() <-chan proximity.Transition { return nil }

func (f *fakeSource) RegisterZone(_ context.Context, z proximity.Zone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, z)
	return nil
}

func (f *fakeSource) UnregisterAllZones(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisters++
	return nil
}

func (f *fakeSource) count() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registered), f.unregisters
}

type session struct {
	*Engine
	src *fakeSource
}

type recorderFunc func(core.GameEvent)

func (f recorderFunc) Record(_ context.Context, e core.GameEvent) error {
	f(e)
	return nil
}

func newRepo(t *testing.T) *memory.Backend {
	t.Helper()
	repo := memory.New(config.MemoryConfig{})
	require.NoError(t, repo.Init())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newSession(t *testing.T, repo storage.Repository, id, username string, recorders ...EventRecorder) *session {
	t.Helper()
	src := &fakeSource{}
	e, err := New(id, Dependencies{Repository: repo, Proximity: src, Recorders: recorders})
	require.NoError(t, err)
	_, err = e.Register(context.Background(), core.PlayerDetails{Username: username})
	require.NoError(t, err)
	return &session{Engine: e, src: src}
}

func (s *session) moveTo(pos core.Coordinate) {
	s.handle(context.Background(), sourceEvent{kind: srcPosition, position: pos})
}

func (s *session) see(others ...core.GamePlayer) {
	s.handle(context.Background(), sourceEvent{kind: srcOthers, others: others})
}

// refresh delivers the stored game as a snapshot.
func (s *session) refresh(t *testing.T, repo storage.Repository) {
	t.Helper()
	g, err := repo.GetGame(context.Background(), s.View().Game.GameID)
	require.NoError(t, err)
	s.handle(context.Background(), sourceEvent{kind: srcGame, game: *g})
}

func (s *session) cross(t *testing.T, kind proximity.ZoneKind, dir proximity.TransitionKind) {
	t.Helper()
	for _, z := range s.View().Zones {
		if z.Kind == kind {
			s.handle(context.Background(), sourceEvent{kind: srcTransition, transition: proximity.Transition{ZoneID: z.ID, Kind: dir}})
			return
		}
	}
	t.Fatalf("zone %s not registered", kind)
}

// startedGame runs a red captain and a green leader up to Started.
func startedGame(t *testing.T, opts ...GameOption) (*memory.Backend, *session, *session) {
	t.Helper()
	ctx := context.Background()
	repo := newRepo(t)
	red := newSession(t, repo, "red-1", "rita")
	green := newSession(t, repo, "green-1", "gina")

	code, err := red.CreateGame(ctx, "field day", append([]GameOption{WithPosition(base)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, green.JoinGame(ctx, code))
	require.NoError(t, green.ChooseTeam(ctx, core.TeamGreen))
	require.NoError(t, red.SetSafehouseAndAdvance(ctx, base, 0))
	require.NoError(t, red.PlaceFlag(ctx, redFlagPos))
	require.NoError(t, green.PlaceFlag(ctx, greenFlagPos))
	red.refresh(t, repo)

	require.Equal(t, core.StateStarted, red.View().State())
	require.Equal(t, core.StateStarted, green.View().State())
	return repo, red, green
}

func storedGame(t *testing.T, repo storage.Repository, id string) *core.Game {
	t.Helper()
	g, err := repo.GetGame(context.Background(), id)
	require.NoError(t, err)
	return g
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", Dependencies{Repository: newRepo(t), Proximity: &fakeSource{}})
	assert.Error(t, err)
	_, err = New("p", Dependencies{Proximity: &fakeSource{}})
	assert.Error(t, err)
}

func TestCreateGame(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	var events []core.GameEvent
	red := newSession(t, repo, "red-1", "rita", recorderFunc(func(e core.GameEvent) { events = append(events, e) }))

	_, err := red.CreateGame(ctx, "no fix")
	assert.ErrorIs(t, err, ErrInvalidPosition)

	red.moveTo(base)
	code, err := red.CreateGame(ctx, "field day", WithGameRadius(500), WithMiniGame(core.MiniGameTapTheFlag))
	require.NoError(t, err)
	assert.Len(t, code, 5)

	g := storedGame(t, repo, code)
	assert.Equal(t, core.StateCreated, g.GameState.State)
	assert.Equal(t, 500.0, g.GameRadius)
	assert.Equal(t, 40.0, g.FlagRadius)
	assert.Equal(t, 100.0, g.SafehouseRadius)
	assert.Equal(t, core.MiniGameTapTheFlag, g.BattleMiniGame)
	assert.Equal(t, base, g.GameState.Safehouse.Position)
	assert.True(t, g.GameState.Safehouse.IsPlaced)
	assert.True(t, g.GameState.Safehouse.IsDiscovered)
	assert.False(t, g.GameState.RedFlag.IsPlaced)
	assert.False(t, g.GameState.GreenFlag.IsPlaced)
	assert.Equal(t, []core.ActivePlayer{{ID: "red-1"}}, g.RedPlayers)

	p, err := repo.GetPlayer(ctx, "red-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusConnecting, p.Status)
	assert.Equal(t, &core.GameDetails{GameID: code, Team: core.TeamRed, Rank: core.RankCaptain}, p.GameDetails)

	v := red.View()
	assert.Equal(t, core.StateCreated, v.State())
	assert.True(t, v.IsSafehouseDraggable)

	require.Len(t, events, 1)
	assert.Equal(t, core.EventGameCreated, events[0].Kind)
	assert.Equal(t, code, events[0].GameID)

	_, err = red.CreateGame(ctx, "again")
	assert.ErrorIs(t, err, ErrAlreadyInGame)
}

func TestCreateGame_UnregisteredPlayer(t *testing.T) {
	e, err := New("ghost", Dependencies{Repository: newRepo(t), Proximity: &fakeSource{}})
	require.NoError(t, err)
	_, err = e.CreateGame(context.Background(), "x", WithPosition(base))
	assert.ErrorIs(t, err, ErrNoPlayer)
}

func TestJoinGame_Errors(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := startedGame(t)
	late := newSession(t, repo, "late-1", "lou")

	assert.ErrorIs(t, late.JoinGame(ctx, "nope!"), ErrGameNotFound)

	p, err := repo.GetPlayer(ctx, "red-1")
	require.NoError(t, err)
	assert.ErrorIs(t, late.JoinGame(ctx, p.GameID()), ErrGameNotJoinable)
}

func TestChooseTeam_Ranks(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	red := newSession(t, repo, "red-1", "rita")
	code, err := red.CreateGame(ctx, "ranks", WithPosition(base))
	require.NoError(t, err)

	first := newSession(t, repo, "green-1", "gina")
	second := newSession(t, repo, "green-2", "gus")
	require.NoError(t, first.JoinGame(ctx, code))
	require.NoError(t, second.JoinGame(ctx, code))

	assert.ErrorIs(t, first.ChooseTeam(ctx, core.TeamUnknown), ErrTeamNotChosen)
	require.NoError(t, first.ChooseTeam(ctx, core.TeamGreen))
	require.NoError(t, second.ChooseTeam(ctx, core.TeamGreen))
	assert.ErrorIs(t, second.ChooseTeam(ctx, core.TeamRed), ErrWrongState)

	p1, _ := repo.GetPlayer(ctx, "green-1")
	p2, _ := repo.GetPlayer(ctx, "green-2")
	assert.Equal(t, core.RankLeader, p1.GameDetails.Rank)
	assert.Equal(t, core.RankSoldier, p2.GameDetails.Rank)

	g := storedGame(t, repo, code)
	assert.Equal(t, []core.ActivePlayer{{ID: "green-1"}, {ID: "green-2"}}, g.GreenPlayers)
	assert.False(t, first.View().IsSafehouseDraggable, "only the captain drags the safehouse")
}

// failingPlayerWrites fails the next n UpdatePlayer calls.
type failingPlayerWrites struct {
	storage.Repository
	mu sync.Mutex
	n  int
}

func (f *failingPlayerWrites) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n = n
}

func (f *failingPlayerWrites) UpdatePlayer(ctx context.Context, p *core.Player, clearCache bool) error {
	f.mu.Lock()
	if f.n > 0 {
		f.n--
		f.mu.Unlock()
		return errors.New("player write failed")
	}
	f.mu.Unlock()
	return f.Repository.UpdatePlayer(ctx, p, clearCache)
}

func TestChooseTeam_RetryFollowsRoster(t *testing.T) {
	ctx := context.Background()
	repo := &failingPlayerWrites{Repository: newRepo(t)}
	red := newSession(t, repo, "red-1", "rita")
	code, err := red.CreateGame(ctx, "retry", WithPosition(base))
	require.NoError(t, err)

	green := newSession(t, repo, "green-1", "gina")
	require.NoError(t, green.JoinGame(ctx, code))

	repo.failNext(1)
	require.Error(t, green.ChooseTeam(ctx, core.TeamGreen))
	assert.Equal(t, []core.ActivePlayer{{ID: "green-1"}}, storedGame(t, repo, code).GreenPlayers)

	// the roster already holds green-1 on Green, so asking for Red repairs the
	// player record instead of moving teams
	require.NoError(t, green.ChooseTeam(ctx, core.TeamRed))

	p, err := repo.GetPlayer(ctx, "green-1")
	require.NoError(t, err)
	assert.Equal(t, core.TeamGreen, p.Team())
	assert.Equal(t, core.RankLeader, p.GameDetails.Rank)

	g := storedGame(t, repo, code)
	assert.Equal(t, []core.ActivePlayer{{ID: "green-1"}}, g.GreenPlayers)
	assert.Equal(t, []core.ActivePlayer{{ID: "red-1"}}, g.RedPlayers)
}

func TestPlaceFlag_Rules(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	red := newSession(t, repo, "red-1", "rita")
	code, err := red.CreateGame(ctx, "flags", WithPosition(base))
	require.NoError(t, err)

	assert.ErrorIs(t, red.PlaceFlag(ctx, redFlagPos), ErrWrongState)
	require.NoError(t, red.SetSafehouseAndAdvance(ctx, base, 600))
	assert.ErrorIs(t, red.SetSafehouseAndAdvance(ctx, base, 0), ErrWrongState)

	assert.ErrorIs(t, red.PlaceFlag(ctx, base), ErrInvalidPosition)
	assert.ErrorIs(t, red.PlaceFlag(ctx, north(0.006)), ErrInvalidPosition)
	require.NoError(t, red.PlaceFlag(ctx, redFlagPos))

	g := storedGame(t, repo, code)
	assert.Equal(t, 600.0, g.GameRadius)
	assert.True(t, g.GameState.RedFlag.IsPlaced)
	assert.NotEmpty(t, g.GameState.RedFlag.ID)
	assert.Equal(t, core.StateSettingFlags, g.GameState.State, "green flag still missing")

	p, _ := repo.GetPlayer(ctx, "red-1")
	assert.Equal(t, core.StatusPlaying, p.Status)

	joiner := newSession(t, repo, "green-1", "gina")
	require.NoError(t, joiner.JoinGame(ctx, code))
	assert.ErrorIs(t, joiner.PlaceFlag(ctx, greenFlagPos), ErrTeamNotChosen)
}

func TestZonesRegisteredOnce(t *testing.T) {
	repo, red, green := startedGame(t)

	n, _ := red.src.count()
	assert.Equal(t, 4, n)
	n, _ = green.src.count()
	assert.Equal(t, 4, n)

	kinds := map[proximity.ZoneKind]proximity.Zone{}
	for _, z := range red.View().Zones {
		kinds[z.Kind] = z
	}
	require.Len(t, kinds, 4)
	assert.Equal(t, 750.0, kinds[proximity.ZoneBoundary].Radius)
	assert.Equal(t, 100.0, kinds[proximity.ZoneSafehouse].Radius)
	assert.Equal(t, greenFlagPos, kinds[proximity.ZoneGreenFlag].Center)
	assert.Equal(t, core.TeamRed, kinds[proximity.ZoneRedFlag].Owner)
	assert.Len(t, red.View().Outlines(16), 4)

	// later snapshots of a started game leave the zones alone
	green.moveTo(redFlagPos)
	green.cross(t, proximity.ZoneRedFlag, proximity.Enter)
	red.refresh(t, repo)
	red.refresh(t, repo)
	n, _ = red.src.count()
	assert.Equal(t, 4, n)
}

func TestDiscovery_OnlyByOpponents(t *testing.T) {
	repo, red, green := startedGame(t)
	gameID := red.View().Game.GameID

	green.moveTo(greenFlagPos)
	green.cross(t, proximity.ZoneGreenFlag, proximity.Enter)
	assert.False(t, storedGame(t, repo, gameID).GameState.GreenFlag.IsDiscovered)

	red.moveTo(greenFlagPos)
	red.cross(t, proximity.ZoneGreenFlag, proximity.Enter)
	g := storedGame(t, repo, gameID)
	assert.True(t, g.GameState.GreenFlag.IsDiscovered)
	assert.False(t, g.GameState.RedFlag.IsDiscovered)
}

func TestDiscovery_IgnoresLostPlayers(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	red := newSession(t, repo, "red-1", "rita")
	green := newSession(t, repo, "green-1", "gina")
	green2 := newSession(t, repo, "green-2", "gus")

	code, err := red.CreateGame(ctx, "lost", WithPosition(base))
	require.NoError(t, err)
	for _, s := range []*session{green, green2} {
		require.NoError(t, s.JoinGame(ctx, code))
		require.NoError(t, s.ChooseTeam(ctx, core.TeamGreen))
	}
	require.NoError(t, red.SetSafehouseAndAdvance(ctx, base, 0))
	require.NoError(t, red.PlaceFlag(ctx, redFlagPos))
	require.NoError(t, green.PlaceFlag(ctx, greenFlagPos))
	green2.refresh(t, repo)

	green2.moveTo(greenField)
	green2.see(core.GamePlayer{ID: "red-1", Username: "rita", Team: core.TeamRed, Position: redField})
	require.NoError(t, green2.CreateBattle(ctx))
	require.NoError(t, green2.LoseBattle(ctx))
	require.Equal(t, core.StateStarted, storedGame(t, repo, code).GameState.State)

	green2.moveTo(redFlagPos)
	green2.cross(t, proximity.ZoneRedFlag, proximity.Enter)
	assert.False(t, storedGame(t, repo, code).GameState.RedFlag.IsDiscovered)

	green.refresh(t, repo)
	green.moveTo(redFlagPos)
	green.cross(t, proximity.ZoneRedFlag, proximity.Enter)
	assert.True(t, storedGame(t, repo, code).GameState.RedFlag.IsDiscovered)
}

func TestCaptureAndDeliver(t *testing.T) {
	ctx := context.Background()
	repo, red, green := startedGame(t)
	gameID := red.View().Game.GameID

	red.moveTo(north(0.0015))
	assert.ErrorIs(t, red.CaptureFlag(ctx), ErrNotInFlagZone)
	assert.False(t, red.View().ShowCaptureButton)

	red.moveTo(greenFlagPos)
	assert.True(t, red.View().ShowCaptureButton)
	require.NoError(t, red.CaptureFlag(ctx))
	assert.ErrorIs(t, red.CaptureFlag(ctx), ErrAlreadyCarrying)
	assert.False(t, red.View().ShowCaptureButton)

	g := storedGame(t, repo, gameID)
	assert.Equal(t, "red-1", g.GameState.GreenFlagCaptured)
	assert.False(t, g.GameState.GreenFlag.IsDiscovered, "capturing does not reveal the flag")
	assert.Empty(t, g.GameState.RedFlagCaptured)

	red.moveTo(base)
	red.cross(t, proximity.ZoneSafehouse, proximity.Enter)

	g = storedGame(t, repo, gameID)
	assert.Equal(t, core.StateEnded, g.GameState.State)
	assert.Equal(t, core.TeamRed, g.GameState.Winners)

	v := red.View()
	assert.True(t, v.EnterGameOverScreen)
	assert.Empty(t, v.Zones)
	_, unregisters := red.src.count()
	assert.Equal(t, 1, unregisters)

	green.refresh(t, repo)
	assert.True(t, green.View().EnterGameOverScreen)
}

func TestSafehouseWithoutFlag_NoGameOver(t *testing.T) {
	repo, red, green := startedGame(t)

	green.moveTo(base)
	green.cross(t, proximity.ZoneSafehouse, proximity.Enter)
	assert.Equal(t, core.StateStarted, storedGame(t, repo, red.View().Game.GameID).GameState.State)
}

func TestCapture_SecondCarrierRejected(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	red := newSession(t, repo, "red-1", "rita")
	red2 := newSession(t, repo, "red-2", "rob")
	green := newSession(t, repo, "green-1", "gina")

	code, err := red.CreateGame(ctx, "crowded", WithPosition(base))
	require.NoError(t, err)
	require.NoError(t, red2.JoinGame(ctx, code))
	require.NoError(t, red2.ChooseTeam(ctx, core.TeamRed))
	require.NoError(t, green.JoinGame(ctx, code))
	require.NoError(t, green.ChooseTeam(ctx, core.TeamGreen))
	require.NoError(t, red.SetSafehouseAndAdvance(ctx, base, 0))
	require.NoError(t, red.PlaceFlag(ctx, redFlagPos))
	require.NoError(t, green.PlaceFlag(ctx, greenFlagPos))
	red2.refresh(t, repo)

	red.moveTo(greenFlagPos)
	red2.moveTo(greenFlagPos)
	require.NoError(t, red.CaptureFlag(ctx))
	assert.ErrorIs(t, red2.CaptureFlag(ctx), ErrFlagAlreadyCaptured)
	assert.Equal(t, "red-1", storedGame(t, repo, code).GameState.GreenFlagCaptured)
}

func TestStaleSnapshotIgnored(t *testing.T) {
	repo, red, _ := startedGame(t)
	g := storedGame(t, repo, red.View().Game.GameID)

	stale := *g.Clone()
	stale.Version--
	stale.GameState.State = core.StateCreated
	red.handle(context.Background(), sourceEvent{kind: srcGame, game: stale})

	v := red.View()
	assert.Equal(t, core.StateStarted, v.State())
	assert.Equal(t, g.Version, v.Game.Version)
}

func TestSnapshotOfOtherGameIgnored(t *testing.T) {
	_, red, _ := startedGame(t)
	other := core.Game{GameID: "other", Version: 99, GameState: core.GameState{State: core.StateEnded}}
	red.handle(context.Background(), sourceEvent{kind: srcGame, game: other})
	assert.Equal(t, core.StateStarted, red.View().State())
}

func TestBoundary(t *testing.T) {
	_, red, _ := startedGame(t)

	red.cross(t, proximity.ZoneBoundary, proximity.Exit)
	assert.True(t, red.View().OutOfBounds)
	red.cross(t, proximity.ZoneBoundary, proximity.Enter)
	assert.False(t, red.View().OutOfBounds)

	// unknown zones are ignored
	red.handle(context.Background(), sourceEvent{kind: srcTransition, transition: proximity.Transition{ZoneID: "nope"}})
	assert.False(t, red.View().OutOfBounds)
}

func TestBattle_LoseEliminatesTeam(t *testing.T) {
	ctx := context.Background()
	repo, red, green := startedGame(t)
	gameID := red.View().Game.GameID

	assert.ErrorIs(t, red.CreateBattle(ctx), ErrNoOpponent)

	red.moveTo(redField)
	red.see(core.GamePlayer{ID: "green-1", Username: "gina", Team: core.TeamGreen, Position: greenField})
	v := red.View()
	assert.True(t, v.ShowBattleButton)
	assert.Equal(t, "gina", v.BattleOpponent)

	require.NoError(t, red.CreateBattle(ctx))
	assert.ErrorIs(t, red.CreateBattle(ctx), ErrAlreadyInBattle)
	assert.True(t, red.View().EnterBattleScreen)
	assert.False(t, red.View().ShowBattleButton)

	g := storedGame(t, repo, gameID)
	require.Len(t, g.Battles, 1)
	assert.ElementsMatch(t, []string{"red-1", "green-1"}, g.Battles[0].PlayerIDs())
	assert.Equal(t, core.BattleStandBy, g.Battles[0].State)

	green.refresh(t, repo)
	assert.True(t, green.View().EnterBattleScreen)

	require.NoError(t, green.LoseBattle(ctx))
	g = storedGame(t, repo, gameID)
	assert.Empty(t, g.Battles)
	assert.True(t, HasLost(g, "green-1"))
	assert.Equal(t, core.StateEnded, g.GameState.State)
	assert.Equal(t, core.TeamRed, g.GameState.Winners)

	p, _ := repo.GetPlayer(ctx, "green-1")
	assert.Equal(t, core.StatusLost, p.Status)
	assert.ErrorIs(t, green.LoseBattle(ctx), ErrNotInBattle)
}

func TestBattle_LoserDropsFlag(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	red := newSession(t, repo, "red-1", "rita")
	green := newSession(t, repo, "green-1", "gina")
	green2 := newSession(t, repo, "green-2", "gus")

	code, err := red.CreateGame(ctx, "drop", WithPosition(base))
	require.NoError(t, err)
	for _, s := range []*session{green, green2} {
		require.NoError(t, s.JoinGame(ctx, code))
		require.NoError(t, s.ChooseTeam(ctx, core.TeamGreen))
	}
	require.NoError(t, red.SetSafehouseAndAdvance(ctx, base, 0))
	require.NoError(t, red.PlaceFlag(ctx, redFlagPos))
	require.NoError(t, green.PlaceFlag(ctx, greenFlagPos))
	red.refresh(t, repo)

	red.moveTo(greenFlagPos)
	require.NoError(t, red.CaptureFlag(ctx))

	green2.refresh(t, repo)
	green2.moveTo(greenField)
	green2.see(core.GamePlayer{ID: "red-1", Username: "rita", Team: core.TeamRed, Position: redField})
	require.NoError(t, green2.CreateBattle(ctx))

	require.NoError(t, red.LoseBattle(ctx))
	g := storedGame(t, repo, code)
	assert.Empty(t, g.GameState.GreenFlagCaptured)
	assert.True(t, HasLost(g, "red-1"))
	// the only red player lost
	assert.Equal(t, core.StateEnded, g.GameState.State)
	assert.Equal(t, core.TeamGreen, g.GameState.Winners)
}

func TestBattle_MiniGame(t *testing.T) {
	ctx := context.Background()
	repo, red, green := startedGame(t, WithMiniGame(core.MiniGameTapTheFlag))
	gameID := red.View().Game.GameID

	red.moveTo(redField)
	red.see(core.GamePlayer{ID: "green-1", Username: "gina", Team: core.TeamGreen, Position: greenField})
	require.NoError(t, red.CreateBattle(ctx))

	require.NoError(t, red.ReadyToBattle(ctx))
	assert.Equal(t, core.BattleStandBy, storedGame(t, repo, gameID).Battles[0].State)
	require.NoError(t, green.ReadyToBattle(ctx))
	assert.Equal(t, core.BattleStarted, storedGame(t, repo, gameID).Battles[0].State)

	assert.ErrorIs(t, red.ResolveBattle(ctx, "someone-else"), ErrNotInBattle)
	require.NoError(t, red.ResolveBattle(ctx, "red-1"))
	require.NoError(t, green.ResolveBattle(ctx, "green-1"))
	b := storedGame(t, repo, gameID).Battles[0]
	assert.Equal(t, "red-1", b.Winner, "first reported winner stands")
	assert.Equal(t, core.BattleOver, b.State)

	require.NoError(t, red.LoseBattle(ctx))
	g := storedGame(t, repo, gameID)
	require.Len(t, g.Battles, 1)
	assert.Equal(t, []string{"green-1"}, g.Battles[0].PlayerIDs())
	assert.False(t, HasLost(g, "red-1"))

	require.NoError(t, green.LoseBattle(ctx))
	g = storedGame(t, repo, gameID)
	assert.Empty(t, g.Battles)
	assert.True(t, HasLost(g, "green-1"))
	assert.Equal(t, core.StateEnded, g.GameState.State)
}

func TestQuitGame(t *testing.T) {
	ctx := context.Background()
	repo, red, green := startedGame(t)
	gameID := red.View().Game.GameID

	assert.ErrorIs(t, red.QuitGame(ctx), ErrGameNotOver)

	red.moveTo(greenFlagPos)
	require.NoError(t, red.CaptureFlag(ctx))
	red.moveTo(base)
	red.cross(t, proximity.ZoneSafehouse, proximity.Enter)

	require.NoError(t, red.QuitGame(ctx))
	g := storedGame(t, repo, gameID)
	assert.Empty(t, g.RedPlayers)
	assert.Len(t, g.GreenPlayers, 1)

	p, _ := repo.GetPlayer(ctx, "red-1")
	assert.Nil(t, p.GameDetails)
	assert.Equal(t, core.StatusOnline, p.Status)
	v := red.View()
	assert.Nil(t, v.Game)
	assert.Equal(t, core.StateIdle, v.State())
	assert.ErrorIs(t, red.QuitGame(ctx), ErrNoGame)

	require.NoError(t, green.QuitGame(ctx))
	_, err := repo.GetGame(ctx, gameID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// racingRepo lets another writer bump the game before each of the first
// races updates.
type racingRepo struct {
	*memory.Backend
	races int
	calls int
}

func (r *racingRepo) UpdateGame(ctx context.Context, g *core.Game) error {
	r.calls++
	if r.races > 0 {
		r.races--
		other, err := r.Backend.GetGame(ctx, g.GameID)
		if err != nil {
			return err
		}
		other.Title = "renamed"
		if err := r.Backend.UpdateGame(ctx, other); err != nil {
			return err
		}
	}
	return r.Backend.UpdateGame(ctx, g)
}

func TestMutation_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{Backend: newRepo(t)}
	red := newSession(t, repo, "red-1", "rita")
	code, err := red.CreateGame(ctx, "race", WithPosition(base))
	require.NoError(t, err)

	repo.races = 1
	require.NoError(t, red.SetSafehouseAndAdvance(ctx, base, 0))
	assert.Equal(t, 2, repo.calls)

	g := storedGame(t, repo, code)
	assert.Equal(t, "renamed", g.Title)
	assert.Equal(t, core.StateSettingFlags, g.GameState.State)
}

func TestMutation_GivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{Backend: newRepo(t)}
	red := newSession(t, repo, "red-1", "rita")
	code, err := red.CreateGame(ctx, "race", WithPosition(base))
	require.NoError(t, err)

	repo.races = 100
	err = red.SetSafehouseAndAdvance(ctx, base, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrConflict))
	assert.Equal(t, config.DefaultEngineConfig().WriteRetries+1, repo.calls)
	assert.Equal(t, core.StateCreated, storedGame(t, repo, code).GameState.State)
}

func TestRun_WithTracker(t *testing.T) {
	repo := newRepo(t)
	tracker := proximity.NewTracker()
	t.Cleanup(tracker.Close)

	e, err := New("red-1", Dependencies{Repository: repo, Proximity: tracker})
	require.NoError(t, err)
	_, err = e.Register(context.Background(), core.PlayerDetails{Username: "rita"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	views := e.Subscribe(ctx)

	require.NoError(t, tracker.Feed(base))
	require.Eventually(t, func() bool { return e.View().HasPosition }, 2*time.Second, 10*time.Millisecond)

	code, err := e.CreateGame(ctx, "live")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v := e.View()
		return v.State() == core.StateCreated && v.IsSafehouseDraggable && v.Game.GameID == code
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-views:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
