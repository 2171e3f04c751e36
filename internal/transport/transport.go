package transport

import "context"

// Endpoint is an opaque handle to one addressable command or data channel on
// a device. The transport implementation owns the concrete type; the bench
// only stores and passes handles back.
type Endpoint interface {
	// ID returns a stable identifier for error messages and logs.
	ID() string
}

// Endpoints holds the channels the bench needs on every instrument.
// They are cached per device after a successful discovery and invalidated
// on reconnect.
type Endpoints struct {
	// Control carries command packets and their responses.
	Control Endpoint

	// Stream delivers live pressure sample notifications.
	Stream Endpoint

	// Metadata channels. Best-effort reads only; any of these may be nil on
	// devices with older firmware.
	DeviceName      Endpoint
	FirmwareVersion Endpoint
	SerialNumber    Endpoint
	ModelNumber     Endpoint
}

// Link is one open wireless connection to a device. Implementations must be
// safe for use from the orchestration goroutine and the connectivity
// monitor concurrently.
type Link interface {
	// DeviceID returns the stable external identifier of the peer.
	DeviceID() string

	// Connect brings the link up. Connecting an already-connected link
	// returns ErrAlreadyConnected, which callers treat as success.
	Connect(ctx context.Context) error

	// IsConnected reports the last known link condition without touching
	// the radio.
	IsConnected() bool

	// Discover enumerates the device's endpoints.
	Discover(ctx context.Context) (*Endpoints, error)

	// Read fetches the current value of an endpoint.
	Read(ctx context.Context, ep Endpoint) ([]byte, error)

	// Write sends a payload to an endpoint and waits for the ack.
	Write(ctx context.Context, ep Endpoint, data []byte) error

	// Subscribe starts notification delivery from a streaming endpoint.
	// Each payload is handed to fn as received. The returned teardown stops
	// delivery and must be called before the device is removed or the link
	// reconnected.
	Subscribe(ctx context.Context, ep Endpoint, fn func(payload []byte)) (teardown func() error, err error)

	// Close tears the link down.
	Close() error
}

// Central acquires links to devices. It wraps whatever discovery/advertising
// machinery the radio stack provides, which is outside the bench's scope.
type Central interface {
	// Link returns a fresh handle for the given device id, replacing any
	// stale handle the caller may still hold.
	Link(ctx context.Context, deviceID string) (Link, error)
}
