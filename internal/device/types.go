package device

import (
	"time"

	"github.com/pressbench/pressbench-core/internal/transport"
)

// Status is the lifecycle phase of a managed device.
type Status string

// Status values.
const (
	StatusPending      Status = "pending"
	StatusConnecting   Status = "connecting"
	StatusDiscovering  Status = "discovering"
	StatusSubscribing  Status = "subscribing"
	StatusReady        Status = "ready"
	StatusCalibrating  Status = "calibrating"
	StatusVerifying    Status = "verifying"
	StatusFailed       Status = "failed"
	StatusDisconnected Status = "disconnected"
)

// LinkQuality classifies the radio condition of a device independently of
// its lifecycle status. It replaces the former pair of loosely combined
// "connected"/"discoverable" booleans with one explicit lattice.
type LinkQuality string

// LinkQuality values.
const (
	// LinkUnknown means no assessment has been made yet.
	LinkUnknown LinkQuality = "unknown"

	// LinkConnected means the handle reports an open link.
	LinkConnected LinkQuality = "connected"

	// LinkUnreachable means the link is down but the device was still seen
	// advertising, so a reconnect is worth attempting.
	LinkUnreachable LinkQuality = "unreachable"

	// LinkLost means the link is down and the device is no longer seen at
	// all; reconnects are pointless until it reappears.
	LinkLost LinkQuality = "lost"
)

// Reading is one decoded sample from the device's pressure stream.
type Reading struct {
	Pressure float64
	At       time.Time
}

// Metadata holds the descriptive fields read best-effort during setup.
type Metadata struct {
	DisplayName     string
	FirmwareVersion string
	SerialNumber    string
	ModelNumber     string
}

// Device is one managed instrument. Values handed out by the Registry are
// snapshots; mutate through Registry methods only.
type Device struct {
	// ID is the stable external identifier.
	ID string

	// Link is the transport-owned connection handle. The registry stores and
	// refreshes it but never constructs one.
	Link transport.Link

	// Endpoints are the cached command/data channels, set once per
	// successful discovery and invalidated on reconnect.
	Endpoints *transport.Endpoints

	Status      Status
	LinkQuality LinkQuality

	// Stage is a free-form sub-phase label for operator progress display.
	// It is never a control input.
	Stage string

	RetryCount int
	LastError  string

	Latest     *Reading
	Meta       Metadata
	Calibrated bool
}

// Connected reports whether the stored handle currently claims an open link.
func (d Device) Connected() bool {
	return d.Link != nil && d.Link.IsConnected()
}

// Sessionable reports whether the calibration and verification engines may
// touch the device's endpoints. Outside these statuses the cached endpoints
// must not be read.
func (d Device) Sessionable() bool {
	switch d.Status {
	case StatusReady, StatusCalibrating, StatusVerifying:
		return true
	default:
		return false
	}
}

// Label returns the operator-facing name: display name when known, id
// otherwise.
func (d Device) Label() string {
	if d.Meta.DisplayName != "" {
		return d.Meta.DisplayName
	}
	return d.ID
}
