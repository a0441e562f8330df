package editor

import (
	"errors"
	"fmt"
)

// ErrSuperseded signals that a response arrived after the session moved
// on to a different project or reloaded its replica; the result was
// discarded rather than applied to the wrong context.
var ErrSuperseded = errors.New("editor: response superseded by a session reload")

// NetworkError is a transport-level failure reaching the authority.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("editor: %s: network failure: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is an authority rejection of the request payload.
type ValidationError struct {
	Op      string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("editor: %s: rejected: %s", e.Op, e.Message)
}

// StaleReferenceError marks an operation on an identifier the authority
// no longer knows, typically after a concurrent rollback or delete.
type StaleReferenceError struct {
	Op string
	ID string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("editor: %s: stale reference %s", e.Op, e.ID)
}
