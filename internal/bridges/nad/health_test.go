package nad

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// stubStats provides fixed statistics for health tests.
type stubStats struct {
	stats ControllerStats
}

func (s *stubStats) Stats() ControllerStats { return s.stats }

func connectedStats() *stubStats {
	return &stubStats{stats: ControllerStats{
		SupervisorStats: SupervisorStats{
			State:      "connected",
			Connected:  true,
			LinesRx:    42,
			CommandsTx: 7,
		},
		ParseFailures: 1,
	}}
}

func TestHealthReporterPublishStarting(t *testing.T) {
	mqtt := newMockMQTTClient()
	reporter := NewHealthReporter(HealthReporterConfig{
		DeviceID:  "nad-avr",
		Address:   "192.168.1.50:50001",
		Version:   "1.0.0",
		Publisher: mqtt,
		Stats:     connectedStats(),
	})

	if err := reporter.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting failed: %v", err)
	}

	published := mqtt.publishedTo(HealthTopic("nad-avr"))
	if len(published) != 1 {
		t.Fatalf("Expected 1 health publish, got %d", len(published))
	}
	if !published[0].retained {
		t.Error("Health messages must be retained")
	}

	var msg HealthMessage
	if err := json.Unmarshal(published[0].payload, &msg); err != nil {
		t.Fatalf("Failed to decode health message: %v", err)
	}
	if msg.Status != HealthStarting {
		t.Errorf("Expected starting, got %q", msg.Status)
	}
	if msg.Version != "1.0.0" {
		t.Errorf("Expected version 1.0.0, got %q", msg.Version)
	}
	if msg.Connection == nil || msg.Connection.Address != "192.168.1.50:50001" {
		t.Errorf("Expected connection details, got %+v", msg.Connection)
	}
	if msg.Statistics == nil || msg.Statistics.LinesReceived != 42 || msg.Statistics.ParseFailures != 1 {
		t.Errorf("Expected statistics, got %+v", msg.Statistics)
	}
}

func TestHealthReporterHealthyStatus(t *testing.T) {
	mqtt := newMockMQTTClient()
	reporter := NewHealthReporter(HealthReporterConfig{
		DeviceID:  "nad-avr",
		Publisher: mqtt,
		Stats:     connectedStats(),
	})

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow failed: %v", err)
	}

	var msg HealthMessage
	published := mqtt.publishedTo(HealthTopic("nad-avr"))
	if err := json.Unmarshal(published[0].payload, &msg); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if msg.Status != HealthHealthy {
		t.Errorf("Expected healthy, got %q (%q)", msg.Status, msg.Reason)
	}
}

func TestHealthReporterDegradedWithoutReceiver(t *testing.T) {
	mqtt := newMockMQTTClient()
	reporter := NewHealthReporter(HealthReporterConfig{
		DeviceID:  "nad-avr",
		Publisher: mqtt,
		Stats:     &stubStats{stats: ControllerStats{SupervisorStats: SupervisorStats{State: "reconnecting"}}},
	})

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow failed: %v", err)
	}

	var msg HealthMessage
	published := mqtt.publishedTo(HealthTopic("nad-avr"))
	if err := json.Unmarshal(published[0].payload, &msg); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if msg.Status != HealthDegraded {
		t.Errorf("Expected degraded, got %q", msg.Status)
	}
	if msg.Reason != "receiver disconnected" {
		t.Errorf("Unexpected reason %q", msg.Reason)
	}
}

func TestHealthReporterDegradedWithoutMQTT(t *testing.T) {
	mqtt := newMockMQTTClient()
	mqtt.connected = false

	reporter := NewHealthReporter(HealthReporterConfig{
		DeviceID:  "nad-avr",
		Publisher: mqtt,
		Stats:     connectedStats(),
	})

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow failed: %v", err)
	}

	var msg HealthMessage
	published := mqtt.publishedTo(HealthTopic("nad-avr"))
	if err := json.Unmarshal(published[0].payload, &msg); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if msg.Status != HealthDegraded || msg.Reason != "MQTT disconnected" {
		t.Errorf("Expected degraded (MQTT disconnected), got %q (%q)", msg.Status, msg.Reason)
	}
}

func TestHealthReporterStopPublishesStopping(t *testing.T) {
	mqtt := newMockMQTTClient()
	reporter := NewHealthReporter(HealthReporterConfig{
		DeviceID:  "nad-avr",
		Publisher: mqtt,
		Stats:     connectedStats(),
	})

	reporter.Start(context.Background())
	reporter.Stop()
	reporter.Stop() // Idempotent

	published := mqtt.publishedTo(HealthTopic("nad-avr"))
	if len(published) == 0 {
		t.Fatal("Expected health publishes")
	}

	var msg HealthMessage
	if err := json.Unmarshal(published[len(published)-1].payload, &msg); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if msg.Status != HealthStopping {
		t.Errorf("Expected stopping as final status, got %q", msg.Status)
	}
}

func TestHealthReporterPeriodicPublishing(t *testing.T) {
	mqtt := newMockMQTTClient()
	reporter := NewHealthReporter(HealthReporterConfig{
		DeviceID:  "nad-avr",
		Interval:  20 * time.Millisecond,
		Publisher: mqtt,
		Stats:     connectedStats(),
	})

	reporter.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	reporter.Stop()

	// Initial publish plus at least one tick plus the stopping message.
	if got := len(mqtt.publishedTo(HealthTopic("nad-avr"))); got < 3 {
		t.Errorf("Expected at least 3 health publishes, got %d", got)
	}
}
