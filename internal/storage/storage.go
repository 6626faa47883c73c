// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/fieldctf/engine/pkg/core"
)

var (
	// ErrNotFound is returned when a game or player record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by UpdateGame when the stored version moved on.
	ErrConflict = errors.New("game was modified concurrently")
	// ErrExists is returned by CreateGame when the game ID is taken.
	ErrExists = errors.New("record already exists")
)

// Repository is the document store contract used by the game engine.
//
// Observe* streams deliver the current value first (when one exists), then
// every later change. Slow readers only see the newest value. Streams are
// closed once ctx is cancelled.
type Repository interface {
	// Lifecycle
	Init() error
	Close() error

	// Games. UpdateGame is conditional on game.Version matching the stored
	// version; on success game.Version and game.UpdatedAt are advanced.
	CreateGame(ctx context.Context, game *core.Game) error
	GetGame(ctx context.Context, gameID string) (*core.Game, error)
	UpdateGame(ctx context.Context, game *core.Game) error
	DeleteGame(ctx context.Context, gameID string) error
	ObserveGame(ctx context.Context, gameID string) (<-chan core.Game, error)

	// Players. clearCache evicts the cached copy instead of refreshing it.
	GetPlayer(ctx context.Context, playerID string) (*core.Player, error)
	UpdatePlayer(ctx context.Context, player *core.Player, clearCache bool) error
	ObservePlayer(ctx context.Context, playerID string) (<-chan core.Player, error)

	// Live positions of the players inside a game.
	ObservePlayersPosition(ctx context.Context, gameID string) (<-chan []core.GamePlayer, error)
	UpdateGamePlayer(ctx context.Context, gameID string, player core.GamePlayer) error
	DeleteGamePlayer(ctx context.Context, gameID, playerID string) error
}
