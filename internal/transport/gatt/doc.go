// Package gatt adapts the callback-based BLE GATT stack to the bench's
// structured Link and Central contracts.
//
// The underlying library delivers connections through handler callbacks:
// a peripheral is owned by its connected-callback invocation and released
// the moment that callback returns. The adapter therefore parks each
// connection inside its callback until the Link is closed or the device
// drops, and translates the callback flow into synchronous, context-aware
// Connect/Discover/Read/Write/Subscribe calls.
package gatt
