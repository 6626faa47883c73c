package engine

import (
	"github.com/fieldctf/engine/internal/geo"
	"github.com/fieldctf/engine/pkg/core"
)

// Pure game rules. Each takes the game it should judge so callers can
// evaluate against a fresh snapshot right before writing.

// InsideGame reports whether pos is within the play area.
func InsideGame(g *core.Game, pos core.Coordinate) bool {
	return geo.IsInRange(pos, g.GameState.Safehouse.Position, g.GameRadius)
}

// InsideSafehouse reports whether pos is within the safehouse zone.
func InsideSafehouse(g *core.Game, pos core.Coordinate) bool {
	return geo.IsInRange(pos, g.GameState.Safehouse.Position, g.SafehouseRadius)
}

// InsideFlag reports whether pos is within the placed flag zone of owner.
func InsideFlag(g *core.Game, owner core.Team, pos core.Coordinate) bool {
	flag := g.Flag(owner)
	if flag == nil || !flag.IsPlaced {
		return false
	}
	return geo.IsInRange(pos, flag.Position, g.FlagRadius)
}

// CanPlaceFlag reports whether a flag may be placed at pos: inside the play
// area and outside the safehouse.
func CanPlaceFlag(g *core.Game, pos core.Coordinate) bool {
	if g == nil || !geo.Valid(pos) {
		return false
	}
	return InsideGame(g, pos) && !InsideSafehouse(g, pos)
}

// Battleable reports whether pos is in the part of the play area where
// battles may start: inside the game, outside the safehouse and both flags.
func Battleable(g *core.Game, pos core.Coordinate) bool {
	return InsideGame(g, pos) &&
		!InsideSafehouse(g, pos) &&
		!InsideFlag(g, core.TeamRed, pos) &&
		!InsideFlag(g, core.TeamGreen, pos)
}

// HasLost reports whether playerID is marked lost on any roster.
func HasLost(g *core.Game, playerID string) bool {
	p, _, ok := g.FindActive(playerID)
	return ok && p.HasLost
}

// FindOpponent returns the first player in others that self may battle.
func FindOpponent(g *core.Game, self core.GamePlayer, others []core.GamePlayer, battleRange float64) (core.GamePlayer, bool) {
	if g == nil || !self.Team.Valid() {
		return core.GamePlayer{}, false
	}
	if HasLost(g, self.ID) || g.BattleOf(self.ID) >= 0 || !Battleable(g, self.Position) {
		return core.GamePlayer{}, false
	}
	for _, p := range others {
		if p.ID == self.ID || p.Team != self.Team.Opponent() {
			continue
		}
		if HasLost(g, p.ID) || g.BattleOf(p.ID) >= 0 {
			continue
		}
		if !Battleable(g, p.Position) {
			continue
		}
		if geo.Distance(self.Position, p.Position) <= battleRange {
			return p, true
		}
	}
	return core.GamePlayer{}, false
}

// ShowCapture reports whether a player of team standing at pos can capture
// the opponent flag.
func ShowCapture(g *core.Game, team core.Team, playerID string, pos core.Coordinate) bool {
	if g == nil || g.GameState.State != core.StateStarted || !team.Valid() {
		return false
	}
	opponent := team.Opponent()
	return g.Carrier(opponent) == "" &&
		!HasLost(g, playerID) &&
		InsideFlag(g, opponent, pos)
}

// Eliminated returns the winning team when every member of a non-empty
// roster has lost.
func Eliminated(g *core.Game) (core.Team, bool) {
	for _, team := range []core.Team{core.TeamGreen, core.TeamRed} {
		roster := *g.Roster(team)
		if len(roster) == 0 {
			continue
		}
		allLost := true
		for _, p := range roster {
			if !p.HasLost {
				allLost = false
				break
			}
		}
		if allLost {
			return team.Opponent(), true
		}
	}
	return core.TeamUnknown, false
}
