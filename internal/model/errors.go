package model

import "errors"

var (
	// ErrNotFound is returned when no object is stored for a key.
	ErrNotFound = errors.New("not found")
	// ErrStaleVersion is returned when a write is not strictly newer than the stored object.
	ErrStaleVersion = errors.New("stale version")
)
