// pkg/core/player.go
package core

// PlayerDetails is account information shown to other players.
type PlayerDetails struct {
	FullName string `json:"fullName"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// GameDetails links a player to the game they are in.
type GameDetails struct {
	GameID string `json:"gameID"`
	Team   Team   `json:"team"`
	Rank   Rank   `json:"rank"`
}

// Player is a user account. GameDetails is nil when not in a game.
type Player struct {
	UserID      string        `json:"userID"`
	Details     PlayerDetails `json:"details"`
	Status      Status        `json:"status"`
	GameDetails *GameDetails  `json:"gameDetails,omitempty"`
}

// Clone returns a copy that does not share GameDetails.
func (p *Player) Clone() *Player {
	if p == nil {
		return nil
	}
	c := *p
	if p.GameDetails != nil {
		gd := *p.GameDetails
		c.GameDetails = &gd
	}
	return &c
}

// Team returns the player's team or TeamUnknown outside a game.
func (p *Player) Team() Team {
	if p == nil || p.GameDetails == nil {
		return TeamUnknown
	}
	return p.GameDetails.Team
}

// GameID returns the current game ID or "".
func (p *Player) GameID() string {
	if p == nil || p.GameDetails == nil {
		return ""
	}
	return p.GameDetails.GameID
}
