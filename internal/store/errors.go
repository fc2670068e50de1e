package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when a write would break a uniqueness
	// constraint.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrConflict is returned when a conditional write finds the record
	// changed since it was read.
	ErrConflict = errors.New("record changed concurrently")
)
