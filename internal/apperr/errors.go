package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrProtected guards the current-state marker: the newest history
	// entry cannot be deleted.
	ErrProtected = errors.New("entry is protected")

	// ErrStaleReference marks operations on an ID that a concurrent
	// rollback or delete has invalidated.
	ErrStaleReference = errors.New("stale reference")
)
