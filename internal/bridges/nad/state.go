package nad

import (
	"sync"
	"time"
)

// PowerState is the tri-state main zone power.
type PowerState int

// Power states. Prefixed with the type name so the command constructors
// (PowerOn, PowerOff) keep the plain names.
const (
	PowerStateUnknown PowerState = iota
	PowerStateOn
	PowerStateStandby
)

// String returns the wire-friendly power state name.
func (p PowerState) String() string {
	switch p {
	case PowerStateOn:
		return "on"
	case PowerStateStandby:
		return "standby"
	}
	return "unknown"
}

// MuteState is the tri-state main zone mute.
type MuteState int

// Mute states.
const (
	MuteUnknown MuteState = iota
	MuteOn
	MuteOff
)

// String returns the wire-friendly mute state name.
func (m MuteState) String() string {
	switch m {
	case MuteOn:
		return "on"
	case MuteOff:
		return "off"
	}
	return "unknown"
}

// ReceiverState is a snapshot of everything known about the receiver.
//
// Every field starts unknown (zero) and is populated only from decoded
// response lines. VolumeKnown distinguishes an unreported volume from a
// genuine 0 dB reading.
type ReceiverState struct {
	// Connected reports whether a live session to the receiver exists.
	Connected bool

	// Power is the main zone power state.
	Power PowerState

	// VolumeDB is the main zone volume in decibels, valid when VolumeKnown.
	VolumeDB int

	// VolumeKnown reports whether the receiver has reported a volume yet.
	VolumeKnown bool

	// Mute is the main zone mute state.
	Mute MuteState

	// SourceID is the active source identifier, empty until reported.
	SourceID string

	// Model is the receiver model string, empty until reported.
	Model string

	// Version is the receiver firmware version, empty until reported.
	Version string

	// SourceNames holds receiver-configured source display names by id.
	SourceNames map[string]string

	// SourceEnabled holds per-source enabled flags by id.
	SourceEnabled map[string]bool

	// UpdatedAt is when the snapshot last changed (UTC).
	UpdatedAt time.Time
}

// SourceName returns the display name of the active source, preferring the
// receiver-configured name over the factory default. Empty when the source
// is unknown.
func (s ReceiverState) SourceName() string {
	if s.SourceID == "" {
		return ""
	}
	if name, ok := s.SourceNames[s.SourceID]; ok && name != "" {
		return name
	}
	return DefaultSourceName(s.SourceID)
}

// clone deep-copies the snapshot so callers can never mutate model state.
func (s ReceiverState) clone() ReceiverState {
	out := s
	if s.SourceNames != nil {
		out.SourceNames = make(map[string]string, len(s.SourceNames))
		for k, v := range s.SourceNames {
			out.SourceNames[k] = v
		}
	}
	if s.SourceEnabled != nil {
		out.SourceEnabled = make(map[string]bool, len(s.SourceEnabled))
		for k, v := range s.SourceEnabled {
			out.SourceEnabled[k] = v
		}
	}
	return out
}

// StateModel holds the receiver state and fans out change notifications.
//
// All mutation flows through Apply and SetConnected; both hold the write
// lock for the update only and invoke subscribers outside it. Subscriber
// callbacks run on the caller's goroutine and must not block.
type StateModel struct {
	mu    sync.RWMutex
	state ReceiverState

	subMu       sync.RWMutex
	subscribers []func(ReceiverState)
}

// NewStateModel creates a state model with all fields unknown.
func NewStateModel() *StateModel {
	return &StateModel{}
}

// Snapshot returns a deep copy of the current state.
func (m *StateModel) Snapshot() ReceiverState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// Subscribe registers a callback invoked after every state change with a
// snapshot of the new state. Subscriptions cannot be removed; they live for
// the lifetime of the model.
func (m *StateModel) Subscribe(fn func(ReceiverState)) {
	if fn == nil {
		return
	}
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.subMu.Unlock()
}

// Apply folds a decoded event into the state.
//
// Returns true when the event changed anything; unchanged events (the
// receiver echoing a value the model already holds) produce no
// notification.
func (m *StateModel) Apply(ev Event) bool {
	m.mu.Lock()
	changed := m.apply(ev)
	if changed {
		m.state.UpdatedAt = time.Now().UTC()
	}
	snapshot := m.state.clone()
	m.mu.Unlock()

	if changed {
		m.notify(snapshot)
	}
	return changed
}

// SetConnected records session availability. Disconnection keeps the last
// known receiver values; only the Connected flag changes.
func (m *StateModel) SetConnected(connected bool) {
	m.mu.Lock()
	if m.state.Connected == connected {
		m.mu.Unlock()
		return
	}
	m.state.Connected = connected
	m.state.UpdatedAt = time.Now().UTC()
	snapshot := m.state.clone()
	m.mu.Unlock()

	m.notify(snapshot)
}

// apply mutates state under the write lock and reports whether it changed.
func (m *StateModel) apply(ev Event) bool {
	switch e := ev.(type) {
	case PowerEvent:
		next := PowerStateStandby
		if e.On {
			next = PowerStateOn
		}
		if m.state.Power == next {
			return false
		}
		m.state.Power = next

	case VolumeEvent:
		if m.state.VolumeKnown && m.state.VolumeDB == e.VolumeDB {
			return false
		}
		m.state.VolumeDB = e.VolumeDB
		m.state.VolumeKnown = true

	case MuteEvent:
		next := MuteOff
		if e.Muted {
			next = MuteOn
		}
		if m.state.Mute == next {
			return false
		}
		m.state.Mute = next

	case SourceEvent:
		if m.state.SourceID == e.ID {
			return false
		}
		m.state.SourceID = e.ID

	case ModelEvent:
		if m.state.Model == e.Model {
			return false
		}
		m.state.Model = e.Model

	case VersionEvent:
		if m.state.Version == e.Version {
			return false
		}
		m.state.Version = e.Version

	case SourceNameEvent:
		if m.state.SourceNames[e.ID] == e.Name {
			return false
		}
		if m.state.SourceNames == nil {
			m.state.SourceNames = make(map[string]string)
		}
		m.state.SourceNames[e.ID] = e.Name

	case SourceEnabledEvent:
		current, ok := m.state.SourceEnabled[e.ID]
		if ok && current == e.Enabled {
			return false
		}
		if m.state.SourceEnabled == nil {
			m.state.SourceEnabled = make(map[string]bool)
		}
		m.state.SourceEnabled[e.ID] = e.Enabled

	default:
		// UnknownEvent and future event types carry nothing the model tracks.
		return false
	}
	return true
}

func (m *StateModel) notify(snapshot ReceiverState) {
	m.subMu.RLock()
	subs := make([]func(ReceiverState), len(m.subscribers))
	copy(subs, m.subscribers)
	m.subMu.RUnlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}
