package storage

import "errors"

// Common storage errors
var (
	// ErrCursorExpired indicates that the requested cursor points into
	// history that has already been purged
	ErrCursorExpired = errors.New("cursor expired")

	// ErrEmptyScope indicates that a scope name was not provided
	ErrEmptyScope = errors.New("scope is required")

	// ErrInvalidChange indicates that a change cannot be stored
	ErrInvalidChange = errors.New("invalid change")
)
