// pkg/core/event.go
package core

import "time"

// Game event kinds emitted for telemetry.
const (
	EventGameCreated    = "game_created"
	EventPlayerJoined   = "player_joined"
	EventTeamChosen     = "team_chosen"
	EventSafehouseSet   = "safehouse_set"
	EventFlagPlaced     = "flag_placed"
	EventFlagDiscovered = "flag_discovered"
	EventFlagCaptured   = "flag_captured"
	EventBattleCreated  = "battle_created"
	EventBattleResolved = "battle_resolved"
	EventBattleLost     = "battle_lost"
	EventGameOver       = "game_over"
	EventPlayerQuit     = "player_quit"
)

// GameEvent is a notable engine decision.
type GameEvent struct {
	Kind     string         `json:"kind"`
	GameID   string         `json:"gameID,omitempty"`
	PlayerID string         `json:"playerID"`
	Team     Team           `json:"team,omitempty"`
	Time     time.Time      `json:"time"`
	Fields   map[string]any `json:"fields,omitempty"`
}
