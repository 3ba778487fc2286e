package repository

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist or a guarded
	// update matched nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique value is already taken.
	ErrConflict = errors.New("conflict")
)
