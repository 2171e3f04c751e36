package setup

import "errors"

// Sentinel errors for setup orchestration.
var (
	// ErrRunInProgress is returned when a second setup run is started while
	// one is active. At most one run may be in flight.
	ErrRunInProgress = errors.New("setup: run already in progress")

	// ErrRetriesExhausted marks a device whose whole-device setup failed on
	// every configured attempt.
	ErrRetriesExhausted = errors.New("setup: retries exhausted")

	// ErrEmptyBatch is returned when a run is started with no devices.
	ErrEmptyBatch = errors.New("setup: no devices in batch")
)
