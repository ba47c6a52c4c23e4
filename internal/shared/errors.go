package shared

import "errors"

// Sentinel errors shared across domain packages.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates bad input values.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized indicates the actor lacks a required role.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConcurrentModification indicates an optimistic version conflict.
	// The caller may refetch and retry.
	ErrConcurrentModification = errors.New("concurrent modification")
)
