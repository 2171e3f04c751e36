package events

import (
	"time"

	"github.com/pressbench/pressbench-core/internal/device"
)

// Notifier is the outbound event contract. Implementations must tolerate
// being called from multiple goroutines and must not block the caller for
// extended periods.
type Notifier interface {
	// DeviceStatusChanged fires on every registry status transition.
	DeviceStatusChanged(id string, status device.Status, stage string)

	// SetupNotice carries setup progress, retry and failure notices for one
	// device, already phrased for the operator.
	SetupNotice(id string, message string)

	// ConnectivityLost fires when the monitor reclassifies a silently
	// dropped device.
	ConnectivityLost(id string)

	// BatchReady fires when the aggregate readiness flag changes.
	BatchReady(ready bool)

	// CalibrationStarted/Stopped/Completed frame one calibration run.
	CalibrationStarted(runID string, devices int)
	CalibrationStopped(runID string, reason string)
	CalibrationCompleted(runID string, calibrated int)

	// DevicesDropped reports, once per phase, the devices excised from the
	// batch and why.
	DevicesDropped(runID string, phase string, ids []string, reason string)

	// VerificationStarted/Stopped frame one verification sweep.
	VerificationStarted(runID string, targets []float64)
	VerificationStopped(runID string, reason string)

	// VerificationReading carries one captured sweep point.
	VerificationReading(runID string, deviceID string, reference, reading float64, at time.Time)

	// Certification carries the final pass/fail outcome for one device.
	Certification(runID string, deviceID string, certified bool, avgDiscrepancy float64, reason string, totalReadings int)
}

// Nop is a Notifier that discards everything. Useful as a default and in
// tests.
type Nop struct{}

func (Nop) DeviceStatusChanged(string, device.Status, string)           {}
func (Nop) SetupNotice(string, string)                                  {}
func (Nop) ConnectivityLost(string)                                     {}
func (Nop) BatchReady(bool)                                             {}
func (Nop) CalibrationStarted(string, int)                              {}
func (Nop) CalibrationStopped(string, string)                           {}
func (Nop) CalibrationCompleted(string, int)                            {}
func (Nop) DevicesDropped(string, string, []string, string)             {}
func (Nop) VerificationStarted(string, []float64)                       {}
func (Nop) VerificationStopped(string, string)                          {}
func (Nop) VerificationReading(string, string, float64, float64, time.Time) {
}
func (Nop) Certification(string, string, bool, float64, string, int) {}

// Multi fans every event out to each wrapped notifier in order.
type Multi []Notifier

func (m Multi) DeviceStatusChanged(id string, status device.Status, stage string) {
	for _, n := range m {
		n.DeviceStatusChanged(id, status, stage)
	}
}

func (m Multi) SetupNotice(id, message string) {
	for _, n := range m {
		n.SetupNotice(id, message)
	}
}

func (m Multi) ConnectivityLost(id string) {
	for _, n := range m {
		n.ConnectivityLost(id)
	}
}

func (m Multi) BatchReady(ready bool) {
	for _, n := range m {
		n.BatchReady(ready)
	}
}

func (m Multi) CalibrationStarted(runID string, devices int) {
	for _, n := range m {
		n.CalibrationStarted(runID, devices)
	}
}

func (m Multi) CalibrationStopped(runID, reason string) {
	for _, n := range m {
		n.CalibrationStopped(runID, reason)
	}
}

func (m Multi) CalibrationCompleted(runID string, calibrated int) {
	for _, n := range m {
		n.CalibrationCompleted(runID, calibrated)
	}
}

func (m Multi) DevicesDropped(runID, phase string, ids []string, reason string) {
	for _, n := range m {
		n.DevicesDropped(runID, phase, ids, reason)
	}
}

func (m Multi) VerificationStarted(runID string, targets []float64) {
	for _, n := range m {
		n.VerificationStarted(runID, targets)
	}
}

func (m Multi) VerificationStopped(runID, reason string) {
	for _, n := range m {
		n.VerificationStopped(runID, reason)
	}
}

func (m Multi) VerificationReading(runID, deviceID string, reference, reading float64, at time.Time) {
	for _, n := range m {
		n.VerificationReading(runID, deviceID, reference, reading, at)
	}
}

func (m Multi) Certification(runID, deviceID string, certified bool, avgDiscrepancy float64, reason string, totalReadings int) {
	for _, n := range m {
		n.Certification(runID, deviceID, certified, avgDiscrepancy, reason, totalReadings)
	}
}
