package nad

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testSupervisorConfig(address string) SupervisorConfig {
	return SupervisorConfig{
		Address:        address,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    100 * time.Millisecond,
		WriteTimeout:   time.Second,
		ReconnectDelay: 50 * time.Millisecond,
	}
}

func waitForConnState(t *testing.T, sup *Supervisor, want ConnState, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sup.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for state %v, have %v", want, sup.State())
}

func TestSupervisorRequiresAddress(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{})
	if err := sup.Start(context.Background()); !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Expected ErrConnectionFailed for empty address, got %v", err)
	}
}

func TestSupervisorStartTwice(t *testing.T) {
	receiver := newMockReceiver(t)
	defer receiver.Close()

	sup := NewSupervisor(testSupervisorConfig(receiver.Address()))
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("First Start failed: %v", err)
	}
	defer sup.Stop()

	if err := sup.Start(context.Background()); err == nil {
		t.Fatal("Expected error on repeated Start")
	}
}

func TestSupervisorConnects(t *testing.T) {
	receiver := newMockReceiver(t)
	defer receiver.Close()

	var mu sync.Mutex
	var transitions []ConnState

	sup := NewSupervisor(testSupervisorConfig(receiver.Address()))
	sup.SetOnStateChange(func(st ConnState) {
		mu.Lock()
		transitions = append(transitions, st)
		mu.Unlock()
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	waitForConnState(t, sup, StateConnected, 2*time.Second)

	if !sup.IsConnected() {
		t.Error("Expected IsConnected")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) < 2 || transitions[0] != StateConnecting || transitions[1] != StateConnected {
		t.Errorf("Unexpected transitions: %v", transitions)
	}
}

func TestSupervisorSendNotConnected(t *testing.T) {
	receiver := newMockReceiver(t)
	defer receiver.Close()

	sup := NewSupervisor(testSupervisorConfig(receiver.Address()))

	// Never started: no session exists, nothing may touch a socket.
	if err := sup.Send([]byte("Main.Power=On\r")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}
	if got := receiver.ReceivedLines(); len(got) != 0 {
		t.Errorf("Expected no bytes on the wire, got %v", got)
	}
}

func TestSupervisorSend(t *testing.T) {
	receiver := newMockReceiver(t)
	defer receiver.Close()

	sup := NewSupervisor(testSupervisorConfig(receiver.Address()))
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	waitForConnState(t, sup, StateConnected, 2*time.Second)

	if err := sup.Send([]byte("Main.Volume=-25\r")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	receiver.WaitForLine(t, "Main.Volume=-25", 2*time.Second)

	stats := sup.Stats()
	if stats.CommandsTx != 1 {
		t.Errorf("Expected 1 command sent, got %d", stats.CommandsTx)
	}
	if stats.SessionsTotal != 1 {
		t.Errorf("Expected 1 session, got %d", stats.SessionsTotal)
	}
}

func TestSupervisorForwardsLines(t *testing.T) {
	receiver := newMockReceiver(t)
	defer receiver.Close()

	lines := make(chan string, 10)
	sup := NewSupervisor(testSupervisorConfig(receiver.Address()))
	sup.SetOnLine(func(line string) { lines <- line })

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	waitForConnState(t, sup, StateConnected, 2*time.Second)
	receiver.SendLine(t, "Main.Power=On")

	select {
	case got := <-lines:
		if got != "Main.Power=On" {
			t.Errorf("Expected forwarded line, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for forwarded line")
	}

	if sup.Stats().LinesRx != 1 {
		t.Errorf("Expected 1 line received, got %d", sup.Stats().LinesRx)
	}
}

func TestSupervisorReconnectsAfterLoss(t *testing.T) {
	receiver := newMockReceiver(t)
	defer receiver.Close()

	var connects atomic.Uint64
	sup := NewSupervisor(testSupervisorConfig(receiver.Address()))
	sup.SetOnConnect(func() { connects.Add(1) })

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	waitForConnState(t, sup, StateConnected, 2*time.Second)
	receiver.DropConn(t)

	receiver.WaitForConns(t, 2, 5*time.Second)
	waitForConnState(t, sup, StateConnected, 2*time.Second)

	if got := connects.Load(); got != 2 {
		t.Errorf("Expected connect hook once per session, got %d", got)
	}

	stats := sup.Stats()
	if stats.SessionsTotal != 2 {
		t.Errorf("Expected 2 sessions, got %d", stats.SessionsTotal)
	}
	if stats.ReconnectsTotal != 1 {
		t.Errorf("Expected 1 reconnect, got %d", stats.ReconnectsTotal)
	}
}

func TestSupervisorRetriesDialFailures(t *testing.T) {
	// Address nothing listens on: every dial fails.
	receiver := newMockReceiver(t)
	address := receiver.Address()
	receiver.Close()

	sup := NewSupervisor(testSupervisorConfig(address))
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sup.Stats().DialFailures >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := sup.Stats().DialFailures; got < 2 {
		t.Fatalf("Expected repeated dial attempts, got %d failures", got)
	}
	if sup.IsConnected() {
		t.Error("Expected supervisor to stay disconnected")
	}
}

func TestSupervisorStopDuringReconnectDelay(t *testing.T) {
	receiver := newMockReceiver(t)
	address := receiver.Address()
	receiver.Close()

	cfg := testSupervisorConfig(address)
	cfg.ReconnectDelay = time.Hour

	sup := NewSupervisor(cfg)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait until the first dial has failed and the delay is in progress.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && sup.Stats().DialFailures == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked through the reconnect delay")
	}

	if sup.State() != StateDisconnected {
		t.Errorf("Expected disconnected after Stop, got %v", sup.State())
	}
}

func TestSupervisorStoppedRefusesSendAndStart(t *testing.T) {
	receiver := newMockReceiver(t)
	defer receiver.Close()

	sup := NewSupervisor(testSupervisorConfig(receiver.Address()))
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForConnState(t, sup, StateConnected, 2*time.Second)

	sup.Stop()

	if err := sup.Send([]byte("Main.Power=On\r")); !errors.Is(err, ErrSupervisorStopped) {
		t.Errorf("Expected ErrSupervisorStopped from Send, got %v", err)
	}
	if err := sup.Start(context.Background()); !errors.Is(err, ErrSupervisorStopped) {
		t.Errorf("Expected ErrSupervisorStopped from Start, got %v", err)
	}
}

func TestConnStateString(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}
