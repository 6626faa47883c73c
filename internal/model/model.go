package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Game{},
	&Player{},
	&GamePlayer{},
	&GameEvent{},
}

// Game is one match. The full document lives in Document; the other
// columns are projections kept for querying and optimistic locking.
type Game struct {
	GameID    string `json:"gameID" gorm:"primaryKey;size:16"`
	Title     string `json:"title" gorm:"size:127"`
	State     string `json:"state" gorm:"size:16;index"`
	Version   int64  `json:"version" gorm:"not null;default:1"`
	Winners   string `json:"winners" gorm:"size:8"`
	// Safehouse centre in EPSG:3857
	SafehouseLocation geom.Point     `json:"safehouseLocation"`
	Document          datatypes.JSON `json:"document"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

func (*Game) TableName() string {
	return "games"
}

// Player is a user account.
type Player struct {
	UserID    string         `json:"userID" gorm:"primaryKey;size:64"`
	Username  string         `json:"username" gorm:"size:64"`
	Status    string         `json:"status" gorm:"size:16"`
	GameID    string         `json:"gameID" gorm:"size:16;index"`
	Document  datatypes.JSON `json:"document"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (*Player) TableName() string {
	return "players"
}

// GamePlayer is the latest known position of a player in a game.
type GamePlayer struct {
	GameID    string     `json:"gameID" gorm:"primaryKey;size:16"`
	PlayerID  string     `json:"playerID" gorm:"primaryKey;size:64"`
	Username  string     `json:"username" gorm:"size:64"`
	Team      string     `json:"team" gorm:"size:8"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Location  geom.Point `json:"location"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (*GamePlayer) TableName() string {
	return "game_players"
}

// GameEvent is an append-only log of engine decisions.
type GameEvent struct {
	ID       uint           `json:"id" gorm:"primarykey;autoIncrement"`
	GameID   string         `json:"gameID" gorm:"size:16;index"`
	Kind     string         `json:"kind" gorm:"size:32;index"`
	PlayerID string         `json:"playerID" gorm:"size:64"`
	Team     string         `json:"team" gorm:"size:8"`
	Time     time.Time      `json:"time" gorm:"index"`
	Fields   datatypes.JSON `json:"fields"`
}

func (*GameEvent) TableName() string {
	return "game_events"
}
