package nad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid command topic.
	minTopicParts = 3

	// historyTimeout bounds each state history write.
	historyTimeout = 5 * time.Second

	// historySourceEvent tags recorded snapshots. Every change originates
	// from a receiver response line, so there is only one source value.
	historySourceEvent = "event"

	// DefaultRefreshInterval is how often the receiver is polled for its
	// full status. Front-panel and IR changes are pushed by the receiver,
	// so polling only guards against missed lines.
	DefaultRefreshInterval = 30 * time.Second
)

// Bridge orchestrates bidirectional translation between the receiver and MQTT.
// It handles:
//   - Receiving commands from the host via MQTT and sending them to the receiver
//   - Publishing receiver state changes and availability to MQTT
//   - Recording state history and telemetry
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	deviceID string
	mqtt     MQTTClient
	ctrl     ReceiverController
	health   *HealthReporter

	history   StateRecorder   // Optional state history persistence
	telemetry TelemetryWriter // Optional time-series telemetry

	refreshInterval time.Duration

	// Last published availability, for change detection
	availability   string
	availabilityMu sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// ReceiverController is the interface the bridge drives the receiver through.
// Satisfied by *Controller; narrowed for mocking in tests.
type ReceiverController interface {
	// Send encodes and transmits a command.
	Send(cmd Command) error

	// Refresh queries the receiver for its full status.
	Refresh() error

	// State returns a snapshot of the current receiver state.
	State() ReceiverState

	// Subscribe registers a state change callback.
	Subscribe(fn func(ReceiverState))

	// Stats returns connection and decoding statistics.
	Stats() ControllerStats
}

// StateRecorder persists state change history.
// This interface is satisfied by the SQLite repository (via adapter in
// main.go). It is optional - if nil, the bridge operates without history.
type StateRecorder interface {
	// RecordStateChange records a receiver state snapshot.
	RecordStateChange(ctx context.Context, deviceID string, state map[string]any, source string) error
}

// TelemetryWriter records numeric receiver metrics to a time-series store.
// This is optional - if nil, the bridge operates without telemetry.
type TelemetryWriter interface {
	// WriteReceiverMetric records one field value for the receiver.
	// Implementations must not block.
	WriteReceiverMetric(deviceID, field string, value float64)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// DeviceID is the receiver identifier used in topics and messages.
	DeviceID string

	// Address is the receiver endpoint, included in health messages.
	Address string

	// Version is the bridge software version.
	Version string

	// HealthInterval is how often health status is published.
	HealthInterval time.Duration

	// RefreshInterval is how often the full status is polled.
	RefreshInterval time.Duration

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Controller drives the receiver connection.
	Controller ReceiverController

	// Logger is optional structured logger.
	Logger Logger

	// History is optional state history persistence.
	History StateRecorder

	// Telemetry is optional time-series metric recording.
	Telemetry TelemetryWriter
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}

	// Bridge-level context aborts in-flight history writes on shutdown
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		deviceID:        opts.DeviceID,
		mqtt:            opts.MQTTClient,
		ctrl:            opts.Controller,
		history:         opts.History,   // May be nil (optional)
		telemetry:       opts.Telemetry, // May be nil (optional)
		refreshInterval: refresh,
		done:            make(chan struct{}),
		ctx:             ctx,
		ctxCancel:       ctxCancel,
		logger:          opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		DeviceID:  opts.DeviceID,
		Address:   opts.Address,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Stats:     opts.Controller,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
// This subscribes to the command topic, registers the state change handler,
// and starts health reporting and the periodic status refresh.
func (b *Bridge) Start(ctx context.Context) error {
	// Publish starting status
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	// Receiver state changes drive every outbound publication
	b.ctrl.Subscribe(b.handleStateChange)

	// Subscribe to command topics
	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	// Publish initial availability from the current snapshot
	b.publishAvailability(b.ctrl.State().Connected)

	// Start health reporting
	b.health.Start(ctx)

	// Start periodic status refresh
	b.wg.Add(1)
	go b.refreshLoop(ctx)

	b.logInfo("bridge started", "device_id", b.deviceID)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight history writes
		b.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		// Wait for pending operations
		b.wg.Wait()

		// Best-effort: mark the receiver unavailable on the way out
		b.publishAvailability(false)

		b.logInfo("bridge stopped")
	})
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// refreshLoop periodically polls the receiver for its full status.
// The post-connect resync already covers each new session; this loop keeps
// the model honest over long-lived sessions.
func (b *Bridge) refreshLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			if err := b.ctrl.Refresh(); err != nil {
				if errors.Is(err, ErrNotConnected) {
					continue // Supervisor is reconnecting; nothing to do
				}
				b.logError("status refresh failed", err)
			}
		}
	}
}

// handleMQTTMessage routes incoming MQTT messages to the command handler.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts || parts[1] != "command" {
		b.logDebug("ignoring message on unexpected topic", "topic", topic)
		return
	}
	if parts[2] != b.deviceID {
		b.logDebug("ignoring command for other device", "device_id", parts[2])
		return
	}
	b.handleCommand(payload)
}

// handleCommand parses and executes a command message, always acknowledging.
func (b *Bridge) handleCommand(payload []byte) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logError("failed to parse command message", err)
		// No correlatable ID; synthesise one so the failure is observable
		msg = CommandMessage{ID: uuid.NewString(), DeviceID: b.deviceID}
		b.publishAckError(msg, ErrCodeInvalidPayload, err.Error())
		return
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.DeviceID == "" {
		msg.DeviceID = b.deviceID
	}

	cmd, err := msg.ToCommand()
	if err != nil {
		code := ErrCodeInvalidCommand
		if knownCommandName(msg.Command) {
			code = ErrCodeInvalidParameters
		}
		b.logDebug("rejected command", "id", msg.ID, "command", msg.Command, "error", err)
		b.publishAckError(msg, code, err.Error())
		return
	}

	if err := b.ctrl.Send(cmd); err != nil {
		code := ErrCodeSendFailed
		switch {
		case errors.Is(err, ErrNotConnected):
			code = ErrCodeNotConnected
		case errors.Is(err, ErrUnsupportedCommand):
			code = ErrCodeInvalidParameters
		}
		b.logError("command execution failed", err)
		b.publishAckError(msg, code, err.Error())
		return
	}

	b.logDebug("command executed", "id", msg.ID, "command", msg.Command)
	b.publishAck(msg, AckAccepted)
}

// knownCommandName reports whether the name maps to a receiver command.
func knownCommandName(name string) bool {
	switch name {
	case MsgCmdPowerOn, MsgCmdPowerOff, MsgCmdVolumeUp, MsgCmdVolumeDown,
		MsgCmdSetVolume, MsgCmdMute, MsgCmdUnmute, MsgCmdSelectSource,
		MsgCmdRefresh:
		return true
	}
	return false
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, status AckStatus) {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
	}
	b.publishJSON(AckTopic(cmd.DeviceID), ack, false)
}

// publishAckError publishes a failed acknowledgment with error details.
func (b *Bridge) publishAckError(cmd CommandMessage, code, message string) {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    AckFailed,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
	b.publishJSON(AckTopic(cmd.DeviceID), ack, false)
}

// handleStateChange publishes a state snapshot and records it.
// Invoked by the state model on its caller's goroutine, so everything that
// can block is handed off.
func (b *Bridge) handleStateChange(st ReceiverState) {
	msg := NewStateMessage(b.deviceID, st)
	b.publishJSON(StateTopic(b.deviceID), msg, true)

	b.publishAvailability(st.Connected)

	if b.history != nil {
		b.wg.Add(1)
		go b.recordHistory(msg.State)
	}

	if b.telemetry != nil {
		connected := 0.0
		if st.Connected {
			connected = 1.0
		}
		b.telemetry.WriteReceiverMetric(b.deviceID, "connected", connected)
		if st.VolumeKnown {
			b.telemetry.WriteReceiverMetric(b.deviceID, "volume_db", float64(st.VolumeDB))
		}
	}
}

// recordHistory persists one state snapshot, bounded by historyTimeout.
func (b *Bridge) recordHistory(state map[string]any) {
	defer b.wg.Done()

	ctx, cancel := context.WithTimeout(b.ctx, historyTimeout)
	defer cancel()

	if err := b.history.RecordStateChange(ctx, b.deviceID, state, historySourceEvent); err != nil {
		b.logError("failed to record state history", err)
	}
}

// publishAvailability publishes the retained availability message when the
// receiver's reachability changes.
func (b *Bridge) publishAvailability(connected bool) {
	status := AvailabilityOffline
	if connected {
		status = AvailabilityOnline
	}

	b.availabilityMu.Lock()
	if b.availability == status {
		b.availabilityMu.Unlock()
		return
	}
	b.availability = status
	b.availabilityMu.Unlock()

	msg := AvailabilityMessage{
		DeviceID:  b.deviceID,
		Timestamp: time.Now().UTC(),
		Status:    status,
	}
	b.publishJSON(AvailabilityTopic(b.deviceID), msg, true)
}

// publishJSON marshals and publishes a message at QoS 1.
func (b *Bridge) publishJSON(topic string, msg any, retained bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal message", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.logError("failed to publish message", err)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
