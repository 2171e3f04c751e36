// Package mqttnotify publishes bench events as JSON over MQTT.
//
// Topics follow the pattern pressbench/event/<category>[/<device>], QoS 1,
// not retained except the batch-ready flag, which new subscribers need
// immediately.
package mqttnotify

import (
	"encoding/json"
	"time"

	"github.com/pressbench/pressbench-core/internal/device"
)

// Topic layout.
const (
	topicPrefix = "pressbench/event"

	topicDeviceStatus = topicPrefix + "/device/status"
	topicSetupNotice  = topicPrefix + "/device/setup"
	topicConnectivity = topicPrefix + "/device/connectivity"
	topicBatchReady   = topicPrefix + "/batch/ready"
	topicCalibration  = topicPrefix + "/calibration"
	topicVerification = topicPrefix + "/verification"
)

const eventQoS byte = 1

// Publisher is the outbound MQTT surface the notifier needs.
// *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger receives publish failures; events are best-effort.
type Logger interface {
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

// Notifier publishes the full event catalogue over MQTT.
type Notifier struct {
	pub    Publisher
	logger Logger
}

// New creates a notifier on top of a connected publisher.
func New(pub Publisher, logger Logger) *Notifier {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Notifier{pub: pub, logger: logger}
}

func (n *Notifier) publish(topic string, retained bool, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("event marshal failed", "topic", topic, "error", err)
		return
	}
	if err := n.pub.Publish(topic, data, eventQoS, retained); err != nil {
		n.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// DeviceStatusChanged publishes a status transition.
func (n *Notifier) DeviceStatusChanged(id string, status device.Status, stage string) {
	n.publish(topicDeviceStatus, false, map[string]any{
		"device":    id,
		"status":    status,
		"stage":     stage,
		"timestamp": stamp(),
	})
}

// SetupNotice publishes a setup progress or failure notice.
func (n *Notifier) SetupNotice(id, message string) {
	n.publish(topicSetupNotice, false, map[string]any{
		"device":    id,
		"message":   message,
		"timestamp": stamp(),
	})
}

// ConnectivityLost publishes a monitor reclassification.
func (n *Notifier) ConnectivityLost(id string) {
	n.publish(topicConnectivity, false, map[string]any{
		"device":    id,
		"event":     "lost",
		"timestamp": stamp(),
	})
}

// BatchReady publishes the aggregate readiness flag, retained.
func (n *Notifier) BatchReady(ready bool) {
	n.publish(topicBatchReady, true, map[string]any{
		"ready":     ready,
		"timestamp": stamp(),
	})
}

// CalibrationStarted publishes the start of a calibration run.
func (n *Notifier) CalibrationStarted(runID string, devices int) {
	n.publish(topicCalibration, false, map[string]any{
		"run":       runID,
		"event":     "started",
		"devices":   devices,
		"timestamp": stamp(),
	})
}

// CalibrationStopped publishes an aborted or operator-stopped run.
func (n *Notifier) CalibrationStopped(runID, reason string) {
	n.publish(topicCalibration, false, map[string]any{
		"run":       runID,
		"event":     "stopped",
		"reason":    reason,
		"timestamp": stamp(),
	})
}

// CalibrationCompleted publishes a successful run.
func (n *Notifier) CalibrationCompleted(runID string, calibrated int) {
	n.publish(topicCalibration, false, map[string]any{
		"run":        runID,
		"event":      "completed",
		"calibrated": calibrated,
		"timestamp":  stamp(),
	})
}

// DevicesDropped publishes the consolidated per-phase removal notice.
func (n *Notifier) DevicesDropped(runID, phase string, ids []string, reason string) {
	n.publish(topicCalibration, false, map[string]any{
		"run":       runID,
		"event":     "devices_dropped",
		"phase":     phase,
		"devices":   ids,
		"count":     len(ids),
		"reason":    reason,
		"timestamp": stamp(),
	})
}

// VerificationStarted publishes the start of a sweep.
func (n *Notifier) VerificationStarted(runID string, targets []float64) {
	n.publish(topicVerification, false, map[string]any{
		"run":       runID,
		"event":     "started",
		"targets":   targets,
		"timestamp": stamp(),
	})
}

// VerificationStopped publishes a cancelled or failed sweep.
func (n *Notifier) VerificationStopped(runID, reason string) {
	n.publish(topicVerification, false, map[string]any{
		"run":       runID,
		"event":     "stopped",
		"reason":    reason,
		"timestamp": stamp(),
	})
}

// VerificationReading publishes one captured sweep point.
func (n *Notifier) VerificationReading(runID, deviceID string, reference, reading float64, at time.Time) {
	n.publish(topicVerification, false, map[string]any{
		"run":       runID,
		"event":     "reading",
		"device":    deviceID,
		"reference": reference,
		"reading":   reading,
		"timestamp": at.UTC().Format(time.RFC3339Nano),
	})
}

// Certification publishes the final outcome for one device.
func (n *Notifier) Certification(runID, deviceID string, certified bool, avgDiscrepancy float64, reason string, totalReadings int) {
	n.publish(topicVerification, false, map[string]any{
		"run":             runID,
		"event":           "certification",
		"device":          deviceID,
		"certified":       certified,
		"avg_discrepancy": avgDiscrepancy,
		"reason":          reason,
		"total_readings":  totalReadings,
		"timestamp":       stamp(),
	})
}
