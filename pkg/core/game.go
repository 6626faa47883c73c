// pkg/core/game.go
package core

import (
	"slices"
	"time"
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GeofenceObject is a circular zone on the map: the safehouse or a flag.
type GeofenceObject struct {
	Position     Coordinate `json:"position"`
	IsPlaced     bool       `json:"isPlaced"`
	IsDiscovered bool       `json:"isDiscovered"`
	ID           string     `json:"id"`
	Timestamp    time.Time  `json:"timestamp"`
}

// GameState holds the zones, flag carriers and lifecycle state of a game.
// An empty captured field means the flag is not carried.
type GameState struct {
	Safehouse         GeofenceObject `json:"safehouse"`
	GreenFlag         GeofenceObject `json:"greenFlag"`
	RedFlag           GeofenceObject `json:"redFlag"`
	GreenFlagCaptured string         `json:"greenFlagCaptured,omitempty"`
	RedFlagCaptured   string         `json:"redFlagCaptured,omitempty"`
	Winners           Team           `json:"winners"`
	State             ProgressState  `json:"state"`
}

// ActivePlayer is a roster entry.
type ActivePlayer struct {
	ID      string `json:"id"`
	HasLost bool   `json:"hasLost"`
}

// GamePlayer is the live position record of a player inside a game.
type GamePlayer struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Team     Team       `json:"team"`
	Position Coordinate `json:"position"`
}

// MiniGame selects how battles are resolved.
type MiniGame string

const (
	MiniGameNone       MiniGame = "None"
	MiniGameTapTheFlag MiniGame = "TapTheFlag"
)

// BattleState is the progress of a single battle.
type BattleState string

const (
	BattleStandBy BattleState = "StandBy"
	BattleStarted BattleState = "Started"
	BattleOver    BattleState = "Over"
)

// BattlingPlayer is one side of a battle.
type BattlingPlayer struct {
	ID    string `json:"id"`
	Ready bool   `json:"ready"`
}

// Battle is a 1v1 encounter between two opposing players.
type Battle struct {
	BattleID string           `json:"battleID"`
	Players  []BattlingPlayer `json:"players"`
	State    BattleState      `json:"state"`
	Winner   string           `json:"winner,omitempty"`
}

// PlayerIDs returns the IDs of the participants.
func (b Battle) PlayerIDs() []string {
	ids := make([]string, 0, len(b.Players))
	for _, p := range b.Players {
		ids = append(ids, p.ID)
	}
	return ids
}

// Has reports whether playerID takes part in the battle.
func (b Battle) Has(playerID string) bool {
	return slices.ContainsFunc(b.Players, func(p BattlingPlayer) bool { return p.ID == playerID })
}

// Game is one match.
type Game struct {
	GameID          string         `json:"gameID"`
	Title           string         `json:"title"`
	GameRadius      float64        `json:"gameRadius"`
	FlagRadius      float64        `json:"flagRadius"`
	SafehouseRadius float64        `json:"safehouseRadius"`
	BattleMiniGame  MiniGame       `json:"battleMiniGame"`
	GameState       GameState      `json:"gameState"`
	RedPlayers      []ActivePlayer `json:"redPlayers"`
	GreenPlayers    []ActivePlayer `json:"greenPlayers"`
	Battles         []Battle       `json:"battles"`
	Version         int64          `json:"version"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share slices with a stored game.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.RedPlayers = slices.Clone(g.RedPlayers)
	c.GreenPlayers = slices.Clone(g.GreenPlayers)
	c.Battles = make([]Battle, len(g.Battles))
	for i, b := range g.Battles {
		b.Players = slices.Clone(b.Players)
		c.Battles[i] = b
	}
	if g.Battles == nil {
		c.Battles = nil
	}
	return &c
}

// Roster returns a pointer to the roster of team, or nil for TeamUnknown.
func (g *Game) Roster(team Team) *[]ActivePlayer {
	switch team {
	case TeamRed:
		return &g.RedPlayers
	case TeamGreen:
		return &g.GreenPlayers
	default:
		return nil
	}
}

// FindActive looks the player up in both rosters.
func (g *Game) FindActive(playerID string) (ActivePlayer, Team, bool) {
	for _, team := range []Team{TeamRed, TeamGreen} {
		for _, p := range *g.Roster(team) {
			if p.ID == playerID {
				return p, team, true
			}
		}
	}
	return ActivePlayer{}, TeamUnknown, false
}

// Flag returns the flag owned by team, or nil for TeamUnknown.
func (g *Game) Flag(team Team) *GeofenceObject {
	switch team {
	case TeamRed:
		return &g.GameState.RedFlag
	case TeamGreen:
		return &g.GameState.GreenFlag
	default:
		return nil
	}
}

// Carrier returns the ID of the player holding the flag owned by team.
func (g *Game) Carrier(flagOwner Team) string {
	switch flagOwner {
	case TeamRed:
		return g.GameState.RedFlagCaptured
	case TeamGreen:
		return g.GameState.GreenFlagCaptured
	default:
		return ""
	}
}

// SetCarrier records playerID as the holder of the flag owned by team.
func (g *Game) SetCarrier(flagOwner Team, playerID string) {
	switch flagOwner {
	case TeamRed:
		g.GameState.RedFlagCaptured = playerID
	case TeamGreen:
		g.GameState.GreenFlagCaptured = playerID
	}
}

// BattleOf returns the index of the battle playerID takes part in, or -1.
func (g *Game) BattleOf(playerID string) int {
	return slices.IndexFunc(g.Battles, func(b Battle) bool { return b.Has(playerID) })
}

// FlagsPlaced reports whether both teams placed their flag.
func (g *Game) FlagsPlaced() bool {
	return g.GameState.RedFlag.IsPlaced && g.GameState.GreenFlag.IsPlaced
}
