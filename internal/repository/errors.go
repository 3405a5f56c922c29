package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrVersionConflict is returned when an optimistic write loses the race
	// against a concurrent writer.
	ErrVersionConflict = errors.New("version conflict")
)
