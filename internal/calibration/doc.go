// Package calibration drives the three-point calibration protocol.
//
// A run walks Zero → Low → High over every ready device. Per-device
// failures queue the device for removal at the end of the phase and the
// run continues; only a reference-controller failure during High is fatal
// to the whole batch. The run-active flag is checked between phases and
// before each device so an operator stop or fatal abort takes effect at
// the next suspension point.
package calibration
