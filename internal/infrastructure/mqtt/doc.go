// Package mqtt provides the MQTT client infrastructure for PressBench Core.
//
// It wraps paho.mqtt.golang with connection management, automatic
// reconnection with exponential backoff, subscription restoration after
// reconnect, and a Last Will and Testament so dashboards can tell a crashed
// bench service from a gracefully stopped one.
//
// Bench events are published on the pressbench/event/... hierarchy by the
// events/mqttnotify package; this package owns the transport and the
// pressbench/system/status presence topic.
package mqtt
