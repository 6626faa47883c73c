// Package streaming defines the wire messages of the session stream.
package streaming

import (
	"encoding/json"
)

// Message type constants of the streaming protocol.
const (
	TypeStartSession = "start_session"
	TypeEndSession   = "end_session"
	TypeView         = "view"
	TypeGameEvent    = "game_event"
	TypeAck          = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartSessionPayload announces the player a stream belongs to.
type StartSessionPayload struct {
	PlayerID string `json:"playerID"`
	Username string `json:"username"`
}

// EndSessionPayload closes a stream.
type EndSessionPayload struct {
	PlayerID string `json:"playerID"`
}

// GameEventPayload is a notable engine decision.
type GameEventPayload struct {
	Kind     string         `json:"kind"`
	GameID   string         `json:"gameID,omitempty"`
	PlayerID string         `json:"playerID"`
	Team     string         `json:"team,omitempty"`
	Time     int64          `json:"time"` // unix milliseconds
	Fields   map[string]any `json:"fields,omitempty"`
}
