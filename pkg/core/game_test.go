package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGame() *Game {
	return &Game{
		GameID:       "ABCDE",
		RedPlayers:   []ActivePlayer{{ID: "r1"}, {ID: "r2", HasLost: true}},
		GreenPlayers: []ActivePlayer{{ID: "g1"}},
		Battles: []Battle{{
			BattleID: "b1",
			Players:  []BattlingPlayer{{ID: "r1"}, {ID: "g1"}},
			State:    BattleStandBy,
		}},
	}
}

func TestGame_CloneIsDeep(t *testing.T) {
	g := sampleGame()
	c := g.Clone()

	c.RedPlayers[0].HasLost = true
	c.Battles[0].Players[0].Ready = true
	c.GreenPlayers = append(c.GreenPlayers, ActivePlayer{ID: "g2"})

	assert.False(t, g.RedPlayers[0].HasLost)
	assert.False(t, g.Battles[0].Players[0].Ready)
	assert.Len(t, g.GreenPlayers, 1)
}

func TestGame_CloneNil(t *testing.T) {
	var g *Game
	assert.Nil(t, g.Clone())
}

func TestGame_FindActive(t *testing.T) {
	g := sampleGame()

	p, team, ok := g.FindActive("r2")
	require.True(t, ok)
	assert.Equal(t, TeamRed, team)
	assert.True(t, p.HasLost)

	_, team, ok = g.FindActive("g1")
	require.True(t, ok)
	assert.Equal(t, TeamGreen, team)

	_, _, ok = g.FindActive("nobody")
	assert.False(t, ok)
}

func TestGame_CarrierFields(t *testing.T) {
	g := sampleGame()
	g.SetCarrier(TeamRed, "g1")
	assert.Equal(t, "g1", g.GameState.RedFlagCaptured)
	assert.Equal(t, "g1", g.Carrier(TeamRed))
	assert.Empty(t, g.Carrier(TeamGreen))
	assert.Empty(t, g.Carrier(TeamUnknown))
}

func TestGame_BattleOf(t *testing.T) {
	g := sampleGame()
	assert.Equal(t, 0, g.BattleOf("g1"))
	assert.Equal(t, -1, g.BattleOf("r2"))
	assert.Equal(t, []string{"r1", "g1"}, g.Battles[0].PlayerIDs())
}

func TestGame_FlagsPlaced(t *testing.T) {
	g := sampleGame()
	assert.False(t, g.FlagsPlaced())
	g.Flag(TeamRed).IsPlaced = true
	assert.False(t, g.FlagsPlaced())
	g.Flag(TeamGreen).IsPlaced = true
	assert.True(t, g.FlagsPlaced())
	assert.Nil(t, g.Flag(TeamUnknown))
}

func TestPlayer_Helpers(t *testing.T) {
	var nilPlayer *Player
	assert.Equal(t, TeamUnknown, nilPlayer.Team())
	assert.Empty(t, nilPlayer.GameID())

	p := &Player{UserID: "u1", GameDetails: &GameDetails{GameID: "G", Team: TeamGreen, Rank: RankLeader}}
	c := p.Clone()
	c.GameDetails.Team = TeamRed
	assert.Equal(t, TeamGreen, p.Team())
	assert.Equal(t, "G", p.GameID())
}
