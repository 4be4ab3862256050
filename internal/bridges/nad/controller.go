package nad

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ControllerConfig carries the receiver connection settings.
type ControllerConfig struct {
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

// ControllerStats combines connection and decoding statistics.
type ControllerStats struct {
	SupervisorStats

	// ParseFailures counts received lines that could not be decoded.
	ParseFailures uint64 `json:"parse_failures"`
}

// Controller is the façade over the supervisor and state model.
//
// Callers send commands and observe state; the controller owns the wiring
// between the connection loop, the codec, and the state model. After each
// successful connect it resynchronises by querying device info, source
// names, and the full status, so the model converges on the receiver's
// actual state without any optimistic writes.
type Controller struct {
	sup   *Supervisor
	model *StateModel

	logger   Logger
	loggerMu sync.RWMutex

	parseFailures atomic.Uint64
}

// NewController creates a controller for the given receiver endpoint.
func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		model: NewStateModel(),
	}

	sup := NewSupervisor(SupervisorConfig{
		Address:        cfg.Address,
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		ReconnectDelay: cfg.ReconnectDelay,
	})
	sup.SetOnLine(c.handleLine)
	sup.SetOnConnect(c.resync)
	sup.SetOnStateChange(c.handleConnState)
	c.sup = sup

	return c
}

// SetLogger sets the logger for the controller and its supervisor.
func (c *Controller) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.sup.SetLogger(logger)
}

// Start launches the connection loop. Non-blocking; the supervisor keeps
// retrying until the receiver is reachable or Stop is called.
func (c *Controller) Start(ctx context.Context) error {
	return c.sup.Start(ctx)
}

// Stop terminates the connection loop and closes any live session.
// Safe to call multiple times.
func (c *Controller) Stop() {
	c.sup.Stop()
}

// Send encodes and transmits a command.
//
// Returns ErrUnsupportedCommand for commands the protocol cannot express,
// ErrNotConnected when no live session exists, ErrSendFailed when the
// write itself fails, or ErrSupervisorStopped after Stop. State is never
// updated here; the receiver's response line is the only thing that
// mutates the model.
func (c *Controller) Send(cmd Command) error {
	data, err := cmd.Encode()
	if err != nil {
		return err
	}
	if err := c.sup.Send(data); err != nil {
		return err
	}
	c.logDebug("command sent", "command", cmd.Kind.String())
	return nil
}

// Refresh queries the receiver for its full main zone status.
func (c *Controller) Refresh() error {
	return c.Send(QueryStatus())
}

// State returns a deep copy of the current receiver state.
func (c *Controller) State() ReceiverState {
	return c.model.Snapshot()
}

// Subscribe registers a callback invoked with a snapshot after every state
// change. Callbacks must not block.
func (c *Controller) Subscribe(fn func(ReceiverState)) {
	c.model.Subscribe(fn)
}

// ConnState returns the current connection lifecycle state.
func (c *Controller) ConnState() ConnState {
	return c.sup.State()
}

// Stats returns connection and decoding statistics.
func (c *Controller) Stats() ControllerStats {
	return ControllerStats{
		SupervisorStats: c.sup.Stats(),
		ParseFailures:   c.parseFailures.Load(),
	}
}

// resync runs once per established session and rebuilds the model from the
// receiver: identity first, then source configuration, then live status.
func (c *Controller) resync() {
	for _, cmd := range []Command{QueryDeviceInfo(), QuerySourceNames(), QueryStatus()} {
		if err := c.Send(cmd); err != nil {
			// The session died under us; the supervisor reconnects and
			// resync runs again on the next session.
			c.logWarn("resync query failed", "command", cmd.Kind.String(), "error", err)
			return
		}
	}
}

// handleConnState mirrors supervisor transitions into the state model.
func (c *Controller) handleConnState(state ConnState) {
	c.model.SetConnected(state == StateConnected)
}

// handleLine decodes one received line and applies it to the model.
// Malformed lines are counted and dropped; the read loop never stops.
func (c *Controller) handleLine(line string) {
	ev, err := ParseResponse(line)
	if err != nil {
		c.parseFailures.Add(1)
		c.logDebug("dropped malformed line", "line", line, "error", err)
		return
	}
	if unknown, ok := ev.(UnknownEvent); ok {
		c.logDebug("ignoring unrecognised response",
			"key", unknown.Key, "value", unknown.Value)
		return
	}
	c.model.Apply(ev)
}

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Controller) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
