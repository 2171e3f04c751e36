package reference

import "errors"

// Sentinel errors for reference controller operations.
var (
	// ErrControllerFailure indicates the controller could not be driven or
	// queried. Fatal to a whole calibration or verification run.
	ErrControllerFailure = errors.New("reference: controller failure")

	// ErrNotReady indicates the controller's output is off or it is in a
	// mode unsuitable for driving pressure.
	ErrNotReady = errors.New("reference: controller not ready")

	// ErrTargetTimeout indicates the controller did not settle at the
	// commanded setpoint within the configured window.
	ErrTargetTimeout = errors.New("reference: timed out waiting for target pressure")
)
