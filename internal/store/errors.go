package store

import "errors"

var (
	// ErrVersionConflict is returned when a conditional update observes a
	// version other than the one the caller read. The caller should re-read
	// and decide whether its transition still applies.
	ErrVersionConflict = errors.New("workflow record version conflict")

	// ErrNotFound is returned when a record or dead-letter entry does not exist.
	ErrNotFound = errors.New("record not found")
)
