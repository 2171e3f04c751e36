package device

import "errors"

// Domain errors for the registry.
var (
	// ErrNotFound is returned when a device id is not in the registry.
	ErrNotFound = errors.New("device: not found")
)
