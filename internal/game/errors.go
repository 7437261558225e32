package game

import (
	"errors"
	"fmt"
)

// Player-facing failures. Engines wrap these with detail, callers match with errors.Is.
var (
	ErrInvalidPlayers     = errors.New("invalid players")
	ErrInvalidAction      = errors.New("invalid action")
	ErrNotCurrentPlayer   = errors.New("not current player")
	ErrGameEnded          = errors.New("game ended")
	ErrInvalidOptions     = errors.New("invalid options")
	ErrMalformedState     = errors.New("malformed state")
	ErrGameNotFound       = errors.New("game not found")
	ErrAutomaNotSupported = errors.New("automa not supported")
)

// EngineError reports a broken engine invariant. It is never the player's fault
// and must not be shown as a rejected action.
type EngineError struct {
	GameID string
	Op     string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine fault in %s during %s: %v", e.GameID, e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// IsEngineError reports whether err carries an *EngineError.
func IsEngineError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}
