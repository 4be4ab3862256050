package nad

import (
	"fmt"
	"math"
	"time"
)

// MQTT message types for communication between the host automation system
// and the NAD bridge.

// Command names accepted on the command topic.
const (
	MsgCmdPowerOn      = "power_on"
	MsgCmdPowerOff     = "power_off"
	MsgCmdVolumeUp     = "volume_up"
	MsgCmdVolumeDown   = "volume_down"
	MsgCmdSetVolume    = "set_volume"
	MsgCmdMute         = "mute"
	MsgCmdUnmute       = "unmute"
	MsgCmdSelectSource = "select_source"
	MsgCmdRefresh      = "refresh"
)

// CommandMessage is sent from the host to the bridge to control the receiver.
// Topic: nadbridge/command/{device-id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	// Assigned by the bridge when the sender omits it.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the receiver identifier.
	DeviceID string `json:"device_id"`

	// Command is the command name (e.g., "power_on", "set_volume").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"volume_db": -28} for set_volume
	//   {"source": "3"} for select_source
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source,omitempty"`
}

// ToCommand translates the message into a receiver command.
//
// Returns:
//   - Command: The receiver command to send
//   - error: ErrUnsupportedCommand for unknown names or bad parameters
func (m CommandMessage) ToCommand() (Command, error) {
	switch m.Command {
	case MsgCmdPowerOn:
		return PowerOn(), nil
	case MsgCmdPowerOff:
		return PowerOff(), nil
	case MsgCmdVolumeUp:
		return VolumeUp(), nil
	case MsgCmdVolumeDown:
		return VolumeDown(), nil
	case MsgCmdMute:
		return Mute(), nil
	case MsgCmdUnmute:
		return Unmute(), nil
	case MsgCmdRefresh:
		return QueryStatus(), nil

	case MsgCmdSetVolume:
		db, err := intParameter(m.Parameters, "volume_db")
		if err != nil {
			return Command{}, err
		}
		return SetVolume(db), nil

	case MsgCmdSelectSource:
		raw, ok := m.Parameters["source"]
		if !ok {
			return Command{}, fmt.Errorf("%w: missing parameter \"source\"", ErrUnsupportedCommand)
		}
		id, ok := raw.(string)
		if !ok || id == "" {
			return Command{}, fmt.Errorf("%w: parameter \"source\" must be a non-empty string", ErrUnsupportedCommand)
		}
		return SelectSource(id), nil
	}

	return Command{}, fmt.Errorf("%w: %q", ErrUnsupportedCommand, m.Command)
}

// intParameter extracts an integer parameter. JSON numbers decode to
// float64, so whole floats are accepted and anything fractional rejected.
func intParameter(params map[string]any, key string) (int, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing parameter %q", ErrUnsupportedCommand, key)
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: parameter %q must be an integer", ErrUnsupportedCommand, key)
		}
		return int(v), nil
	case int:
		return v, nil
	}
	return 0, fmt.Errorf("%w: parameter %q must be a number", ErrUnsupportedCommand, key)
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was received and sent to the receiver.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from the bridge to the host to acknowledge a command.
// Topic: nadbridge/ack/{device-id}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the receiver identifier.
	DeviceID string `json:"device_id"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Error contains details if status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "NOT_CONNECTED", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeNotConnected      = "NOT_CONNECTED"
	ErrCodeInvalidPayload    = "INVALID_PAYLOAD"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeSendFailed        = "SEND_FAILED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from the bridge to the host when receiver state
// changes, and retained so subscribers get the last known state on connect.
// Topic: nadbridge/state/{device-id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the receiver identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State contains the current receiver state.
	State map[string]any `json:"state"`
}

// NewStateMessage builds a state message from a receiver snapshot.
//
// Unknown fields are published as null rather than omitted so subscribers
// can tell "not yet reported" from "absent from the schema".
func NewStateMessage(deviceID string, st ReceiverState) StateMessage {
	state := map[string]any{
		"connected":   st.Connected,
		"power":       nullableString(st.Power != PowerStateUnknown, st.Power.String()),
		"muted":       nullableBool(st.Mute != MuteUnknown, st.Mute == MuteOn),
		"volume_db":   nullableInt(st.VolumeKnown, st.VolumeDB),
		"source_id":   nullableString(st.SourceID != "", st.SourceID),
		"source_name": nullableString(st.SourceID != "", st.SourceName()),
	}
	if st.Model != "" {
		state["model"] = st.Model
	}
	if st.Version != "" {
		state["version"] = st.Version
	}

	ts := st.UpdatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: ts,
		State:     state,
	}
}

func nullableString(known bool, v string) any {
	if !known {
		return nil
	}
	return v
}

func nullableBool(known, v bool) any {
	if !known {
		return nil
	}
	return v
}

func nullableInt(known bool, v int) any {
	if !known {
		return nil
	}
	return v
}

// AvailabilityMessage is published retained on the availability topic.
// Topic: nadbridge/availability/{device-id}
type AvailabilityMessage struct {
	// DeviceID is the receiver identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when availability changed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status is "online" or "offline".
	Status string `json:"status"`
}

// Availability status values.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is running with a live session.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running without a session.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from the bridge to report operational status.
// Topic: nadbridge/health/{device-id}
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	// DeviceID is the receiver identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection contains receiver connection details.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains operational metrics.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the receiver connection state.
type ConnectionStatus struct {
	// Status is the connection state ("connected", "connecting",
	// "reconnecting", "disconnected").
	Status string `json:"status"`

	// Address is the receiver endpoint.
	Address string `json:"address"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	// LinesReceived is the total number of response lines received.
	LinesReceived uint64 `json:"lines_received"`

	// CommandsSent is the total number of commands sent.
	CommandsSent uint64 `json:"commands_sent"`

	// Reconnects is the total number of session reconnections.
	Reconnects uint64 `json:"reconnects"`

	// ParseFailures is the total number of undecodable lines.
	ParseFailures uint64 `json:"parse_failures"`
}

// MQTT topic construction.
const (
	// TopicPrefix is the root of all bridge topics.
	TopicPrefix = "nadbridge"
)

// CommandTopic returns the MQTT topic for commands to a receiver.
// Example: nadbridge/command/nad-avr
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// CommandSubscribeTopic returns the MQTT subscription pattern for all commands.
// Example: nadbridge/command/+
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: nadbridge/ack/nad-avr
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// StateTopic returns the MQTT topic for state updates.
// Example: nadbridge/state/nad-avr
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// AvailabilityTopic returns the MQTT topic for receiver availability.
// Example: nadbridge/availability/nad-avr
func AvailabilityTopic(deviceID string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefix, deviceID)
}

// HealthTopic returns the MQTT topic for bridge health status.
// Example: nadbridge/health/nad-avr
func HealthTopic(deviceID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, deviceID)
}
