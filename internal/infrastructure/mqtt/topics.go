package mqtt

import "fmt"

// Topic prefixes for the NAD bridge MQTT surface.
//
// All bridge topics use the flat scheme: nadbridge/{category}/{device_id}
// State and availability topics are retained so late subscribers see the
// last known values immediately.
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "nadbridge"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "nadbridge/system"
)

// Topics provides builders for NAD bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("nad-avr-living")
//	// Returns: "nadbridge/state/nad-avr-living"
type Topics struct{}

// State returns the topic for receiver state updates.
//
// Example: nadbridge/state/nad-avr-living
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// Command returns the topic for commands to the bridge.
//
// Example: nadbridge/command/nad-avr-living
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// CommandSubscribe returns the wildcard pattern for all command topics.
//
// Example: nadbridge/command/+
func (Topics) CommandSubscribe() string {
	return TopicPrefix + "/command/+"
}

// Ack returns the topic for command acknowledgements from the bridge.
//
// Example: nadbridge/ack/nad-avr-living
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// Availability returns the topic for receiver availability (retained).
//
// Example: nadbridge/availability/nad-avr-living
func (Topics) Availability(deviceID string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefix, deviceID)
}

// Health returns the topic for bridge health status.
//
// Example: nadbridge/health/nad-avr-living
func (Topics) Health(deviceID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, deviceID)
}

// SystemStatus returns the topic for bridge process online/offline status.
// Used for the LWT message and graceful shutdown notification.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
