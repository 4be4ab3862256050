package nad

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Supervisor defaults.
const (
	// DefaultConnectTimeout bounds each TCP dial attempt.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultReadTimeout is the per-read deadline on the session.
	DefaultReadTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds each command write.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultReconnectDelay is the fixed pause between connection attempts.
	// The delay is deliberately constant: the receiver is a single local
	// device, so backoff buys nothing and slows recovery after power-up.
	DefaultReconnectDelay = 5 * time.Second
)

// ConnState is the supervisor's connection lifecycle state.
type ConnState int32

// Connection states.
const (
	// StateDisconnected means the supervisor is not running.
	StateDisconnected ConnState = iota

	// StateConnecting means a dial attempt is in progress.
	StateConnecting

	// StateConnected means a live session exists.
	StateConnected

	// StateReconnecting means the fixed retry delay is elapsing after a
	// failed dial or a lost session.
	StateReconnecting
)

// String returns a human-readable connection state name.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

// SupervisorConfig carries the connection management settings.
type SupervisorConfig struct {
	// Address is the receiver endpoint as host:port.
	Address string

	// ConnectTimeout bounds each dial attempt (default 10s).
	ConnectTimeout time.Duration

	// ReadTimeout is the session's per-read deadline (default 10s).
	ReadTimeout time.Duration

	// WriteTimeout bounds each command write (default 5s).
	WriteTimeout time.Duration

	// ReconnectDelay is the fixed pause between attempts (default 5s).
	ReconnectDelay time.Duration
}

// SupervisorStats is a point-in-time snapshot of connection statistics.
type SupervisorStats struct {
	State           string    `json:"state"`
	Connected       bool      `json:"connected"`
	SessionsTotal   uint64    `json:"sessions_total"`
	ReconnectsTotal uint64    `json:"reconnects_total"`
	DialFailures    uint64    `json:"dial_failures"`
	CommandsTx      uint64    `json:"commands_tx"`
	LinesRx         uint64    `json:"lines_rx"`
	LastActivity    time.Time `json:"last_activity"`
}

// Supervisor owns the connection lifecycle to the receiver.
//
// It dials, hands the live session its line callback, and on any loss tears
// the session down, waits the fixed reconnect delay, and dials again. The
// loop runs until Stop or context cancellation; individual failures never
// terminate it.
//
// State transitions always happen before the action they describe: the
// state is Reconnecting before the delay starts and Connected before the
// post-connect hook runs, so observers never see a stale state.
type Supervisor struct {
	cfg SupervisorConfig

	// mu guards state and session together so Send sees a consistent pair
	mu      sync.RWMutex
	state   ConnState
	session *Session

	// Callbacks (set before Start)
	onLine        func(string)
	onConnect     func()
	onStateChange func(ConnState)

	// Logger
	logger   Logger
	loggerMu sync.RWMutex

	// Shutdown coordination
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool

	// Statistics (atomic for lock-free reads)
	sessionsTotal   atomic.Uint64
	reconnectsTotal atomic.Uint64
	dialFailures    atomic.Uint64
	commandsTx      atomic.Uint64
	linesRx         atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// NewSupervisor creates a supervisor for the given endpoint.
// Zero timeouts and delays are replaced with package defaults.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Supervisor{cfg: cfg}
}

// SetOnLine sets the callback invoked for every received line.
// Must be called before Start.
func (s *Supervisor) SetOnLine(fn func(string)) {
	s.onLine = fn
}

// SetOnConnect sets the hook invoked once per established session, after
// the state transitions to Connected. Must be called before Start.
func (s *Supervisor) SetOnConnect(fn func()) {
	s.onConnect = fn
}

// SetOnStateChange sets the callback invoked on every state transition.
// Must be called before Start.
func (s *Supervisor) SetOnStateChange(fn func(ConnState)) {
	s.onStateChange = fn
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Start launches the connection loop. Non-blocking: the first dial happens
// on the loop goroutine so callers are never stalled by an unreachable
// receiver.
//
// Returns an error only for invalid configuration or repeated Start.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cfg.Address == "" {
		return fmt.Errorf("%w: empty address", ErrConnectionFailed)
	}
	if s.stopped.Load() {
		return ErrSupervisorStopped
	}

	started := false
	s.startOnce.Do(func() {
		started = true
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Add(1)
		go s.run(runCtx)
	})
	if !started {
		return fmt.Errorf("%w: already started", ErrConnectionFailed)
	}
	return nil
}

// Stop terminates the connection loop and closes any live session. After
// Stop, Send returns ErrSupervisorStopped and the supervisor cannot be
// restarted. Blocks until the loop goroutine has exited. Safe to call
// multiple times.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// State returns the current connection state.
func (s *Supervisor) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether a live session exists.
func (s *Supervisor) IsConnected() bool {
	return s.State() == StateConnected
}

// Send writes encoded command bytes through the current session.
//
// Returns ErrNotConnected without touching any socket when no live session
// exists, or ErrSupervisorStopped after Stop. A write failure marks the
// session lost; the loop reconnects.
func (s *Supervisor) Send(data []byte) error {
	if s.stopped.Load() {
		return ErrSupervisorStopped
	}

	s.mu.RLock()
	sess := s.session
	state := s.state
	s.mu.RUnlock()

	if state != StateConnected || sess == nil {
		return ErrNotConnected
	}
	if err := sess.Send(data); err != nil {
		return err
	}

	s.commandsTx.Add(1)
	s.lastActivity.Store(time.Now().Unix())
	return nil
}

// Stats returns a snapshot of connection statistics.
func (s *Supervisor) Stats() SupervisorStats {
	state := s.State()
	var last time.Time
	if ts := s.lastActivity.Load(); ts > 0 {
		last = time.Unix(ts, 0).UTC()
	}
	return SupervisorStats{
		State:           state.String(),
		Connected:       state == StateConnected,
		SessionsTotal:   s.sessionsTotal.Load(),
		ReconnectsTotal: s.reconnectsTotal.Load(),
		DialFailures:    s.dialFailures.Load(),
		CommandsTx:      s.commandsTx.Load(),
		LinesRx:         s.linesRx.Load(),
		LastActivity:    last,
	}
}

// run is the connection loop: dial, serve, tear down, delay, repeat.
func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.setState(StateDisconnected)

	sessionCfg := SessionConfig{
		Address:        s.cfg.Address,
		ConnectTimeout: s.cfg.ConnectTimeout,
		ReadTimeout:    s.cfg.ReadTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
	}

	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		sess, err := dialSession(ctx, sessionCfg, s.handleLine)
		if err != nil {
			s.dialFailures.Add(1)
			s.logWarn("connection attempt failed",
				"address", s.cfg.Address,
				"error", err,
				"retry_in", s.cfg.ReconnectDelay)
			s.setState(StateReconnecting)
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.session = sess
		s.mu.Unlock()
		s.sessionsTotal.Add(1)
		s.setState(StateConnected)
		s.logInfo("connected to receiver", "address", s.cfg.Address)

		if s.onConnect != nil {
			s.onConnect()
		}

		select {
		case <-sess.Lost():
			s.detach(sess)
			s.reconnectsTotal.Add(1)
			s.logWarn("session lost, reconnecting",
				"address", s.cfg.Address,
				"retry_in", s.cfg.ReconnectDelay)
			s.setState(StateReconnecting)
			if !s.sleep(ctx) {
				return
			}

		case <-ctx.Done():
			s.detach(sess)
			return
		}
	}
}

// detach removes the session from the supervisor and closes it.
func (s *Supervisor) detach(sess *Session) {
	s.mu.Lock()
	if s.session == sess {
		s.session = nil
	}
	s.mu.Unlock()
	sess.Close()
}

// sleep waits the reconnect delay; returns false if ctx was cancelled.
func (s *Supervisor) sleep(ctx context.Context) bool {
	timer := time.NewTimer(s.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// setState records a transition and notifies the observer if it changed.
func (s *Supervisor) setState(next ConnState) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	if s.onStateChange != nil {
		s.onStateChange(next)
	}
}

// handleLine forwards a received line to the consumer callback.
func (s *Supervisor) handleLine(line string) {
	s.linesRx.Add(1)
	s.lastActivity.Store(time.Now().Unix())
	if s.onLine != nil {
		s.onLine(line)
	}
}

func (s *Supervisor) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *Supervisor) logWarn(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
