package engine

import (
	"slices"

	"github.com/fieldctf/engine/internal/geo"
	"github.com/fieldctf/engine/internal/proximity"
	"github.com/fieldctf/engine/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	qrcode "github.com/skip2/go-qrcode"
)

// View is everything a presentation layer renders for one session. It holds
// copies; mutating a View never affects the engine.
type View struct {
	Game         *core.Game        `json:"game,omitempty"`
	Player       *core.Player      `json:"player,omitempty"`
	LivePosition core.Coordinate   `json:"livePosition"`
	HasPosition  bool              `json:"hasPosition"`
	OtherPlayers []core.GamePlayer `json:"otherPlayers"`
	Zones        []proximity.Zone  `json:"zones,omitempty"`

	CanPlaceFlag bool `json:"canPlaceFlag"`
	// BattleOpponent is the username of the player a battle can be started with.
	BattleOpponent       string `json:"battleOpponent,omitempty"`
	ShowBattleButton     bool   `json:"showBattleButton"`
	ShowCaptureButton    bool   `json:"showCaptureButton"`
	IsSafehouseDraggable bool   `json:"isSafehouseDraggable"`
	EnterGameOverScreen  bool   `json:"enterGameOverScreen"`
	EnterBattleScreen    bool   `json:"enterBattleScreen"`
	OutOfBounds          bool   `json:"outOfBounds"`
	// Battle is the caller's current battle, if any.
	Battle *core.Battle `json:"battle,omitempty"`
}

// State returns the game state, or Idle outside a game.
func (v View) State() core.ProgressState {
	if v.Game == nil {
		return core.StateIdle
	}
	return v.Game.GameState.State
}

// Outlines returns a map polygon per registered zone, keyed by zone kind.
func (v View) Outlines(segments int) map[proximity.ZoneKind]geom.Polygon {
	out := make(map[proximity.ZoneKind]geom.Polygon, len(v.Zones))
	for _, z := range v.Zones {
		out[z.Kind] = geo.Outline(z.Center, z.Radius, segments)
	}
	return out
}

// GameCodeQR renders the game code as a size x size PNG for joining players
// to scan.
func (v View) GameCodeQR(size int) ([]byte, error) {
	if v.Game == nil {
		return nil, ErrNoGame
	}
	return qrcode.Encode(v.Game.GameID, qrcode.Medium, size)
}

func (v View) clone() View {
	c := v
	c.Game = v.Game.Clone()
	c.Player = v.Player.Clone()
	c.OtherPlayers = slices.Clone(v.OtherPlayers)
	c.Zones = slices.Clone(v.Zones)
	if v.Battle != nil {
		b := *v.Battle
		b.Players = slices.Clone(v.Battle.Players)
		c.Battle = &b
	}
	return c
}
