// Package proximity describes geofence zones and the source of location
// updates the engine consumes.
package proximity

import (
	"context"
	"fmt"

	"github.com/fieldctf/engine/internal/geo"
	"github.com/fieldctf/engine/pkg/core"
)

// ZoneKind identifies what a zone stands for in the game.
type ZoneKind int

const (
	ZoneBoundary ZoneKind = iota
	ZoneSafehouse
	ZoneGreenFlag
	ZoneRedFlag
)

func (k ZoneKind) String() string {
	switch k {
	case ZoneBoundary:
		return "boundary"
	case ZoneSafehouse:
		return "safehouse"
	case ZoneGreenFlag:
		return "green_flag"
	case ZoneRedFlag:
		return "red_flag"
	default:
		return fmt.Sprintf("zone(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k ZoneKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// FlagZoneOf returns the flag zone kind of team.
func FlagZoneOf(team core.Team) (ZoneKind, bool) {
	switch team {
	case core.TeamGreen:
		return ZoneGreenFlag, true
	case core.TeamRed:
		return ZoneRedFlag, true
	}
	return 0, false
}

// Zone is a circular geofence.
type Zone struct {
	ID     string          `json:"id"`
	Kind   ZoneKind        `json:"kind"`
	Owner  core.Team       `json:"owner"` // flag owner; TeamUnknown for shared zones
	Center core.Coordinate `json:"center"`
	Radius float64         `json:"radius"`
}

// Contains reports whether c lies inside the zone.
func (z Zone) Contains(c core.Coordinate) bool {
	return geo.IsInRange(c, z.Center, z.Radius)
}

// TransitionKind is the direction of a boundary crossing.
type TransitionKind int

const (
	Enter TransitionKind = iota
	Exit
)

func (k TransitionKind) String() string {
	if k == Enter {
		return "enter"
	}
	return "exit"
}

// Transition reports that the device crossed the boundary of a zone.
type Transition struct {
	ZoneID string
	Kind   TransitionKind
}

// Source is the device location and geofencing subsystem.
type Source interface {
	// Positions streams live positions, conflated so a slow reader
	// only sees the latest fix.
	Positions() <-chan core.Coordinate
	// Transitions streams every zone crossing in order.
	Transitions() <-chan Transition
	// RegisterZone starts monitoring z. Registering while already inside
	// emits an initial Enter.
	RegisterZone(ctx context.Context, z Zone) error
	// UnregisterAllZones stops monitoring every zone. It is idempotent.
	UnregisterAllZones(ctx context.Context) error
}
