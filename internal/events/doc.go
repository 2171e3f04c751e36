// Package events carries out-of-band notifications to operator-facing
// consumers (UI, reporting).
//
// Components publish through the Notifier interface; nothing in the core
// control flow depends on a delivery result, so implementations are free to
// fan out, queue, or drop. The MQTT-backed implementation lives in
// events/mqttnotify.
package events
