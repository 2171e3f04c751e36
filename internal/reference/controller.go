package reference

import "context"

// Controller is the surface the sequencing engines need from the precision
// pressure controller.
//
// Implementations must be safe for sequential use from one engine at a
// time; the engines themselves guarantee at most one in-flight run.
type Controller interface {
	// EnsurePrerequisites verifies the controller is in a drivable state
	// (output enabled, correct mode), enabling the output if needed.
	// Returns ErrNotReady or ErrControllerFailure.
	EnsurePrerequisites(ctx context.Context) error

	// SetPressure commands the controller to a setpoint in pressure units.
	SetPressure(ctx context.Context, value float64) error

	// WaitUntilAtTarget blocks until the controller reports it has settled
	// at the last commanded setpoint, polling the operation status.
	// Returns ErrTargetTimeout if the configured window elapses.
	WaitUntilAtTarget(ctx context.Context) error

	// Vent returns the controller to zero pressure. Called as a terminal
	// safety action regardless of run outcome, so implementations should
	// make it as unconditional as possible.
	Vent(ctx context.Context) error
}
