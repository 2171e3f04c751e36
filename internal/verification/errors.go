package verification

import "errors"

// Sentinel errors for verification runs.
var (
	// ErrRunInProgress is returned when a second sweep is started while
	// one is active.
	ErrRunInProgress = errors.New("verification: run already in progress")

	// ErrNoDevices is returned when a sweep is started with no ready
	// devices.
	ErrNoDevices = errors.New("verification: no ready devices")

	// ErrStopped is returned when the operator cancels the sweep; no
	// certification is computed.
	ErrStopped = errors.New("verification: run stopped")
)
