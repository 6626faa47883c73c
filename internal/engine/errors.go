package engine

import "errors"

// Action failures. Callers compare with errors.Is; the game is left unchanged.
var (
	ErrNoPlayer            = errors.New("player not registered")
	ErrNoGame              = errors.New("player is not in a game")
	ErrAlreadyInGame       = errors.New("player is already in a game")
	ErrGameNotFound        = errors.New("game not found")
	ErrGameNotJoinable     = errors.New("game can no longer be joined")
	ErrWrongState          = errors.New("action not allowed in current game state")
	ErrTeamNotChosen       = errors.New("team not chosen")
	ErrInvalidPosition     = errors.New("position not allowed")
	ErrNotInFlagZone       = errors.New("not inside the opponent flag zone")
	ErrFlagAlreadyCaptured = errors.New("flag already captured")
	ErrAlreadyCarrying     = errors.New("already carrying a flag")
	ErrPlayerLost          = errors.New("player has lost")
	ErrNoOpponent          = errors.New("no opponent in range")
	ErrAlreadyInBattle     = errors.New("already in a battle")
	ErrNotInBattle         = errors.New("not in a battle")
	ErrGameNotOver         = errors.New("game is not over")
)

// errUnchanged tells mutateGame the fresh game needs no write.
var errUnchanged = errors.New("unchanged")
