package state

import "errors"

// Common errors for state store operations.
var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a guarded status transition matched no
	// row: another worker claimed the record first, or it already moved on.
	ErrConflict = errors.New("record status conflict")
)
