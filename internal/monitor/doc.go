// Package monitor watches link health for every registered device.
//
// A periodic poll reclassifies silently dropped links to disconnected,
// tears down their stream subscription and emits a connectivity-lost
// event. The monitor never reconnects anything itself; reconnection is an
// explicit operation the operator or setup orchestrator invokes. It is the
// only component allowed to mutate device status from the side while a
// calibration or verification sequence runs, so those engines re-check
// status before touching each device.
//
// The monitor also recomputes the aggregate batch-ready flag consumed by
// operators deciding whether calibration may start.
package monitor
