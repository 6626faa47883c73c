// pkg/core/state.go
package core

import "strings"

// ProgressState is the lifecycle stage of a game. Values are ordered.
type ProgressState int

const (
	StateIdle ProgressState = iota
	StateCreated
	StateSettingGame
	StateSettingFlags
	StateStarted
	StateEnded
)

var progressStateNames = [...]string{
	StateIdle:         "Idle",
	StateCreated:      "Created",
	StateSettingGame:  "SettingGame",
	StateSettingFlags: "SettingFlags",
	StateStarted:      "Started",
	StateEnded:        "Ended",
}

func (s ProgressState) String() string {
	if s < StateIdle || s > StateEnded {
		return progressStateNames[StateIdle]
	}
	return progressStateNames[s]
}

// ParseProgressState maps a stored state name to a ProgressState.
// Waiting and Initializing are legacy names for Idle and SettingGame.
// Unknown names parse as Idle.
func ParseProgressState(name string) ProgressState {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "created":
		return StateCreated
	case "settinggame", "initializing":
		return StateSettingGame
	case "settingflags":
		return StateSettingFlags
	case "started":
		return StateStarted
	case "ended":
		return StateEnded
	default:
		return StateIdle
	}
}

// MarshalText encodes the state by name.
func (s ProgressState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name, accepting legacy aliases.
func (s *ProgressState) UnmarshalText(text []byte) error {
	*s = ParseProgressState(string(text))
	return nil
}

// Team is a side in the game.
type Team string

const (
	TeamUnknown Team = "Unknown"
	TeamRed     Team = "Red"
	TeamGreen   Team = "Green"
)

// Opponent returns the other team. Unknown has no opponent.
func (t Team) Opponent() Team {
	switch t {
	case TeamRed:
		return TeamGreen
	case TeamGreen:
		return TeamRed
	default:
		return TeamUnknown
	}
}

// Valid reports whether t is Red or Green.
func (t Team) Valid() bool {
	return t == TeamRed || t == TeamGreen
}

// ParseTeam is case-insensitive and returns TeamUnknown for anything else.
func ParseTeam(name string) Team {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "red":
		return TeamRed
	case "green":
		return TeamGreen
	default:
		return TeamUnknown
	}
}

// Rank of a player within a game.
type Rank string

const (
	RankCaptain Rank = "Captain"
	RankLeader  Rank = "Leader"
	RankSoldier Rank = "Soldier"
)

// Status of a player across games.
type Status string

const (
	StatusOnline     Status = "Online"
	StatusConnecting Status = "Connecting"
	StatusPlaying    Status = "Playing"
	StatusLost       Status = "Lost"
)
