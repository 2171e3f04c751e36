package transport

import "errors"

// Domain errors for link operations.
var (
	// ErrAlreadyConnected reports that a connect attempt found the link
	// already up. Callers treat this as success, not failure.
	ErrAlreadyConnected = errors.New("transport: link already connected")

	// ErrDisconnected reports that the device dropped off the air mid
	// operation. It short-circuits retries: there is no point repeating a
	// command on a dead link.
	ErrDisconnected = errors.New("transport: device disconnected")

	// ErrEndpointNotFound reports that discovery did not yield a required
	// command or data endpoint.
	ErrEndpointNotFound = errors.New("transport: endpoint not found")

	// ErrConnectionTimeout reports that a connect attempt exceeded its
	// deadline.
	ErrConnectionTimeout = errors.New("transport: connection timed out")

	// ErrDiscoveryTimeout reports that endpoint discovery exceeded its
	// deadline.
	ErrDiscoveryTimeout = errors.New("transport: discovery timed out")

	// ErrSubscriptionTimeout reports that a stream subscription exceeded its
	// deadline.
	ErrSubscriptionTimeout = errors.New("transport: subscription timed out")
)
