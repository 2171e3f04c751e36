package mqtt

import "fmt"

// Topic prefixes for the PressBench MQTT hierarchy.
//
// Scheme: pressbench/{category}/... with events published under
// pressbench/event and service presence under pressbench/system.
const (
	// TopicPrefix is the base for all PressBench topics.
	TopicPrefix = "pressbench"

	// TopicPrefixEvent is the base for bench event topics.
	TopicPrefixEvent = "pressbench/event"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "pressbench/system"
)

// Topics provides builders for PressBench MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// SystemStatus returns the service presence topic.
//
// Example: pressbench/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// Event returns the topic for a bench event category.
//
// Example: pressbench/event/calibration
func (Topics) Event(category string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvent, category)
}

// DeviceEvent returns the topic for a per-device event category.
//
// Example: pressbench/event/device/status
func (Topics) DeviceEvent(category string) string {
	return fmt.Sprintf("%s/device/%s", TopicPrefixEvent, category)
}

// Command returns the topic operators use to drive the bench.
//
// Example: pressbench/command/calibration
func (Topics) Command(target string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, target)
}
