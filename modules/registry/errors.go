package registry

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrInvalidInput is returned when a room id or connection id is empty.
	ErrInvalidInput = errors.New("room id and connection id must not be empty")
)
