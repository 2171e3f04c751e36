package calibration

import "errors"

// Sentinel errors for calibration runs.
var (
	// ErrRunInProgress is returned when a second run is started while one
	// is active.
	ErrRunInProgress = errors.New("calibration: run already in progress")

	// ErrNoDevices is returned when a run is started with no ready devices.
	ErrNoDevices = errors.New("calibration: no ready devices")

	// ErrNoDevicesRemaining is returned when every device was dropped
	// before the run could finish.
	ErrNoDevicesRemaining = errors.New("calibration: no devices remaining")

	// ErrStopped is returned when the operator stops the run mid-flight.
	ErrStopped = errors.New("calibration: run stopped")
)
