// Package transport defines the narrow interface through which the bench
// talks to the wireless link layer.
//
// The bench never opens radio connections itself: a Central hands out Link
// handles, and every blocking Link operation is context-bound, so callers
// get a structured result-or-timeout outcome instead of racing timers
// against callbacks.
//
// The concrete BLE implementation lives in transport/bluetooth; tests use
// in-memory fakes.
package transport
