package nad

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// mockMQTTClient records publishes and lets tests inject inbound messages.
type mockMQTTClient struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]func(topic string, payload []byte)
	connected bool
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newMockMQTTClient() *mockMQTTClient {
	return &mockMQTTClient{
		handlers:  make(map[string]func(string, []byte)),
		connected: true,
	}
}

func (m *mockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{topic, payload, qos, retained})
	return nil
}

func (m *mockMQTTClient) Subscribe(topic string, qos byte, handler func(string, []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// inject delivers a message as if it arrived from the broker.
func (m *mockMQTTClient) inject(t *testing.T, topic string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	handler := m.handlers[CommandSubscribeTopic()]
	m.mu.Unlock()
	if handler == nil {
		t.Fatal("No command subscription registered")
	}
	handler(topic, payload)
}

// publishedTo returns all publishes to the given topic.
func (m *mockMQTTClient) publishedTo(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// lastAck decodes the most recent acknowledgment published for the device.
func (m *mockMQTTClient) lastAck(t *testing.T, deviceID string) AckMessage {
	t.Helper()
	acks := m.publishedTo(AckTopic(deviceID))
	if len(acks) == 0 {
		t.Fatal("No acknowledgment published")
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[len(acks)-1].payload, &ack); err != nil {
		t.Fatalf("Failed to decode ack: %v", err)
	}
	return ack
}

// mockController is a scriptable ReceiverController.
type mockController struct {
	mu       sync.Mutex
	sent     []Command
	sendErr  error
	state    ReceiverState
	handlers []func(ReceiverState)
}

func (c *mockController) Send(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, cmd)
	return nil
}

func (c *mockController) Refresh() error { return c.Send(QueryStatus()) }

func (c *mockController) State() ReceiverState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *mockController) Subscribe(fn func(ReceiverState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

func (c *mockController) Stats() ControllerStats {
	return ControllerStats{SupervisorStats: SupervisorStats{State: "connected", Connected: true}}
}

func (c *mockController) sentCommands() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Command, len(c.sent))
	copy(out, c.sent)
	return out
}

// fireStateChange pushes a snapshot to every subscriber.
func (c *mockController) fireStateChange(st ReceiverState) {
	c.mu.Lock()
	c.state = st
	handlers := make([]func(ReceiverState), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(st)
	}
}

// mockStateRecorder captures history writes.
type mockStateRecorder struct {
	mu      sync.Mutex
	records []map[string]any
	sources []string
	done    chan struct{}
}

func newMockStateRecorder() *mockStateRecorder {
	return &mockStateRecorder{done: make(chan struct{}, 10)}
}

func (r *mockStateRecorder) RecordStateChange(ctx context.Context, deviceID string, state map[string]any, source string) error {
	r.mu.Lock()
	r.records = append(r.records, state)
	r.sources = append(r.sources, source)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

// mockTelemetry captures metric writes.
type mockTelemetry struct {
	mu      sync.Mutex
	metrics map[string]float64
}

func newMockTelemetry() *mockTelemetry {
	return &mockTelemetry{metrics: make(map[string]float64)}
}

func (m *mockTelemetry) WriteReceiverMetric(deviceID, field string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[field] = value
}

func (m *mockTelemetry) get(field string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.metrics[field]
	return v, ok
}

func startTestBridge(t *testing.T, opts BridgeOptions) (*Bridge, *mockMQTTClient, *mockController) {
	t.Helper()

	mqtt := newMockMQTTClient()
	ctrl := &mockController{}
	if opts.MQTTClient == nil {
		opts.MQTTClient = mqtt
	}
	if opts.Controller == nil {
		opts.Controller = ctrl
	}
	if opts.DeviceID == "" {
		opts.DeviceID = "nad-avr"
	}

	bridge, err := NewBridge(opts)
	if err != nil {
		t.Fatalf("NewBridge failed: %v", err)
	}
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(bridge.Stop)

	return bridge, mqtt, ctrl
}

func commandPayload(t *testing.T, msg CommandMessage) []byte {
	t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return payload
}

func TestNewBridgeValidation(t *testing.T) {
	mqtt := newMockMQTTClient()
	ctrl := &mockController{}

	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{"missing device id", BridgeOptions{MQTTClient: mqtt, Controller: ctrl}},
		{"missing mqtt client", BridgeOptions{DeviceID: "nad-avr", Controller: ctrl}},
		{"missing controller", BridgeOptions{DeviceID: "nad-avr", MQTTClient: mqtt}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestBridgeCommandAccepted(t *testing.T) {
	_, mqtt, ctrl := startTestBridge(t, BridgeOptions{})

	payload := commandPayload(t, CommandMessage{
		ID:       "cmd-1",
		DeviceID: "nad-avr",
		Command:  MsgCmdPowerOn,
	})
	mqtt.inject(t, CommandTopic("nad-avr"), payload)

	sent := ctrl.sentCommands()
	if len(sent) != 1 || sent[0].Kind != CmdPowerOn {
		t.Fatalf("Expected power on command, got %v", sent)
	}

	ack := mqtt.lastAck(t, "nad-avr")
	if ack.Status != AckAccepted {
		t.Errorf("Expected accepted ack, got %v", ack.Status)
	}
	if ack.CommandID != "cmd-1" {
		t.Errorf("Expected correlated command id, got %q", ack.CommandID)
	}
}

func TestBridgeCommandGeneratesID(t *testing.T) {
	_, mqtt, _ := startTestBridge(t, BridgeOptions{})

	payload := commandPayload(t, CommandMessage{Command: MsgCmdMute})
	mqtt.inject(t, CommandTopic("nad-avr"), payload)

	ack := mqtt.lastAck(t, "nad-avr")
	if ack.CommandID == "" {
		t.Error("Expected a generated command id")
	}
	if ack.DeviceID != "nad-avr" {
		t.Errorf("Expected device id filled in, got %q", ack.DeviceID)
	}
}

func TestBridgeCommandInvalidJSON(t *testing.T) {
	_, mqtt, ctrl := startTestBridge(t, BridgeOptions{})

	mqtt.inject(t, CommandTopic("nad-avr"), []byte("{not json"))

	if len(ctrl.sentCommands()) != 0 {
		t.Error("Malformed payload must not reach the receiver")
	}
	ack := mqtt.lastAck(t, "nad-avr")
	if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeInvalidPayload {
		t.Errorf("Expected INVALID_PAYLOAD failure, got %+v", ack)
	}
	if ack.CommandID == "" {
		t.Error("Expected a synthesised command id")
	}
}

func TestBridgeCommandUnknownName(t *testing.T) {
	_, mqtt, _ := startTestBridge(t, BridgeOptions{})

	payload := commandPayload(t, CommandMessage{ID: "cmd-2", Command: "warp_drive"})
	mqtt.inject(t, CommandTopic("nad-avr"), payload)

	ack := mqtt.lastAck(t, "nad-avr")
	if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeInvalidCommand {
		t.Errorf("Expected INVALID_COMMAND failure, got %+v", ack)
	}
}

func TestBridgeCommandBadParameters(t *testing.T) {
	_, mqtt, _ := startTestBridge(t, BridgeOptions{})

	payload := commandPayload(t, CommandMessage{ID: "cmd-3", Command: MsgCmdSetVolume})
	mqtt.inject(t, CommandTopic("nad-avr"), payload)

	ack := mqtt.lastAck(t, "nad-avr")
	if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeInvalidParameters {
		t.Errorf("Expected INVALID_PARAMETERS failure, got %+v", ack)
	}
}

func TestBridgeCommandNotConnected(t *testing.T) {
	_, mqtt, ctrl := startTestBridge(t, BridgeOptions{})
	ctrl.mu.Lock()
	ctrl.sendErr = ErrNotConnected
	ctrl.mu.Unlock()

	payload := commandPayload(t, CommandMessage{ID: "cmd-4", Command: MsgCmdPowerOn})
	mqtt.inject(t, CommandTopic("nad-avr"), payload)

	ack := mqtt.lastAck(t, "nad-avr")
	if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeNotConnected {
		t.Errorf("Expected NOT_CONNECTED failure, got %+v", ack)
	}
}

func TestBridgeCommandSendFailed(t *testing.T) {
	_, mqtt, ctrl := startTestBridge(t, BridgeOptions{})
	ctrl.mu.Lock()
	ctrl.sendErr = ErrSendFailed
	ctrl.mu.Unlock()

	payload := commandPayload(t, CommandMessage{ID: "cmd-5", Command: MsgCmdPowerOn})
	mqtt.inject(t, CommandTopic("nad-avr"), payload)

	ack := mqtt.lastAck(t, "nad-avr")
	if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeSendFailed {
		t.Errorf("Expected SEND_FAILED failure, got %+v", ack)
	}
}

func TestBridgeIgnoresOtherDevices(t *testing.T) {
	_, mqtt, ctrl := startTestBridge(t, BridgeOptions{})

	payload := commandPayload(t, CommandMessage{ID: "cmd-6", Command: MsgCmdPowerOn})
	mqtt.inject(t, CommandTopic("other-avr"), payload)

	if len(ctrl.sentCommands()) != 0 {
		t.Error("Command for another device must be ignored")
	}
	if len(mqtt.publishedTo(AckTopic("nad-avr"))) != 0 {
		t.Error("No ack expected for another device's command")
	}
}

func TestBridgePublishesStateChanges(t *testing.T) {
	_, mqtt, ctrl := startTestBridge(t, BridgeOptions{})

	ctrl.fireStateChange(ReceiverState{
		Connected:   true,
		Power:       PowerStateOn,
		VolumeDB:    -28,
		VolumeKnown: true,
	})

	states := mqtt.publishedTo(StateTopic("nad-avr"))
	if len(states) != 1 {
		t.Fatalf("Expected 1 state publish, got %d", len(states))
	}
	if !states[0].retained {
		t.Error("State messages must be retained")
	}

	var msg StateMessage
	if err := json.Unmarshal(states[0].payload, &msg); err != nil {
		t.Fatalf("Failed to decode state message: %v", err)
	}
	if msg.State["power"] != "on" {
		t.Errorf("Expected power on, got %v", msg.State["power"])
	}
	if msg.State["volume_db"] != float64(-28) {
		t.Errorf("Expected volume -28, got %v", msg.State["volume_db"])
	}
}

func TestBridgeAvailabilityTracking(t *testing.T) {
	_, mqtt, ctrl := startTestBridge(t, BridgeOptions{})

	// Start publishes the initial offline status from the empty snapshot.
	initial := len(mqtt.publishedTo(AvailabilityTopic("nad-avr")))
	if initial != 1 {
		t.Fatalf("Expected initial availability publish, got %d", initial)
	}

	ctrl.fireStateChange(ReceiverState{Connected: true})
	ctrl.fireStateChange(ReceiverState{Connected: true, Power: PowerStateOn})
	ctrl.fireStateChange(ReceiverState{Connected: false})

	avail := mqtt.publishedTo(AvailabilityTopic("nad-avr"))
	// Initial offline, then online, then offline; the repeat is suppressed.
	if len(avail) != 3 {
		t.Fatalf("Expected 3 availability publishes, got %d", len(avail))
	}

	var msg AvailabilityMessage
	if err := json.Unmarshal(avail[1].payload, &msg); err != nil {
		t.Fatalf("Failed to decode availability: %v", err)
	}
	if msg.Status != AvailabilityOnline {
		t.Errorf("Expected online, got %q", msg.Status)
	}
}

func TestBridgeRecordsHistory(t *testing.T) {
	recorder := newMockStateRecorder()
	_, _, ctrl := startTestBridge(t, BridgeOptions{History: recorder})

	ctrl.fireStateChange(ReceiverState{Connected: true, Power: PowerStateOn})

	select {
	case <-recorder.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for history record")
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.records) != 1 {
		t.Fatalf("Expected 1 history record, got %d", len(recorder.records))
	}
	if recorder.records[0]["power"] != "on" {
		t.Errorf("Unexpected recorded state: %v", recorder.records[0])
	}
	if recorder.sources[0] != "event" {
		t.Errorf("Expected source \"event\", got %q", recorder.sources[0])
	}
}

func TestBridgeWritesTelemetry(t *testing.T) {
	telemetry := newMockTelemetry()
	_, _, ctrl := startTestBridge(t, BridgeOptions{Telemetry: telemetry})

	ctrl.fireStateChange(ReceiverState{Connected: true, VolumeDB: -30, VolumeKnown: true})

	if v, ok := telemetry.get("connected"); !ok || v != 1.0 {
		t.Errorf("Expected connected metric 1.0, got %v (present=%v)", v, ok)
	}
	if v, ok := telemetry.get("volume_db"); !ok || v != -30.0 {
		t.Errorf("Expected volume metric -30, got %v (present=%v)", v, ok)
	}
}

func TestBridgeHealthStarting(t *testing.T) {
	_, mqtt, _ := startTestBridge(t, BridgeOptions{})

	health := mqtt.publishedTo(HealthTopic("nad-avr"))
	if len(health) == 0 {
		t.Fatal("Expected a starting health publish")
	}

	var msg HealthMessage
	if err := json.Unmarshal(health[0].payload, &msg); err != nil {
		t.Fatalf("Failed to decode health message: %v", err)
	}
	if msg.Status != HealthStarting {
		t.Errorf("Expected starting status, got %q", msg.Status)
	}
}
