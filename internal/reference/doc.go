// Package reference drives the wired precision pressure controller.
//
// The calibration sequencer and verification sweep treat the controller
// through the narrow Controller interface: check prerequisites, command a
// setpoint, wait for arrival, vent. The shipped implementation speaks the
// instrument's line-oriented text protocol over a serial port.
//
// Controller failures are the one batch-fatal error class: callers abort
// the whole run on ErrControllerFailure instead of isolating a device.
package reference
