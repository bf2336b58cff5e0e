package session

import (
	"errors"
	"fmt"
)

// ErrAnswerChannelClosed is returned when a typed answer arrives while no
// dictation problem is waiting for one. The session is not modified.
var ErrAnswerChannelClosed = errors.New("session: answer channel closed")

// ValidationError rejects a malformed input value or import payload. The
// session is not modified.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session: invalid %s: %s", e.Field, e.Reason)
}
