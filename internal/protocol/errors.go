package protocol

import "errors"

// Domain errors for the packet codec.
var (
	// ErrUnsupportedCommand is returned when encoding a command the codec
	// does not know.
	ErrUnsupportedCommand = errors.New("protocol: unsupported command")

	// ErrProtocolMismatch is returned when a response carries an unexpected
	// command id or server id.
	ErrProtocolMismatch = errors.New("protocol: response mismatch")

	// ErrMalformedPacket is returned when a packet has the wrong size or an
	// inconsistent length byte.
	ErrMalformedPacket = errors.New("protocol: malformed packet")

	// ErrMalformedSample is returned when a streamed sensor payload has an
	// unexpected length.
	ErrMalformedSample = errors.New("protocol: malformed sample")

	// ErrPayloadTooLarge is returned when an encoded payload does not fit in
	// the fixed packet.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)
