package nad

import (
	"fmt"
	"strconv"
	"strings"
)

// Protocol constants.
const (
	// DefaultPort is the TCP control port on NAD receivers.
	DefaultPort = 50001

	// commandTerminator ends every command line sent to the receiver.
	commandTerminator = "\r"

	// VolumeMinDB and VolumeMaxDB bound the main zone volume in decibels.
	VolumeMinDB = -99
	VolumeMaxDB = 19
)

// Protocol keys for the main zone.
const (
	keyPower   = "Main.Power"
	keyVolume  = "Main.Volume"
	keyMute    = "Main.Mute"
	keySource  = "Main.Source"
	keyModel   = "Main.Model"
	keyVersion = "Main.Version"
)

// sourceNames maps the receiver's numeric source identifiers to the
// factory-default display names. Receivers report renamed sources via
// SourceN.Name responses, which override these defaults at runtime.
var sourceNames = map[string]string{
	"1": "CD",
	"2": "Tuner",
	"3": "Video 1",
	"4": "Video 2",
	"5": "Disc",
	"6": "Tape 1",
	"7": "Aux",
	"8": "TV",
}

// SourceIDs returns the known source identifiers in ascending order.
func SourceIDs() []string {
	return []string{"1", "2", "3", "4", "5", "6", "7", "8"}
}

// DefaultSourceName returns the factory-default display name for a source
// identifier, or the identifier itself if unknown.
func DefaultSourceName(id string) string {
	if name, ok := sourceNames[id]; ok {
		return name
	}
	return id
}

// Event is a decoded receiver response line.
//
// Each response line decodes to exactly one event. Lines with a recognised
// key but an unparseable value are errors; lines with an unrecognised key
// decode to UnknownEvent so firmware additions never break the read loop.
type Event interface {
	event()
}

// PowerEvent reports the main zone power state.
type PowerEvent struct {
	On bool
}

// VolumeEvent reports the main zone volume in decibels.
type VolumeEvent struct {
	VolumeDB int
}

// MuteEvent reports the main zone mute state.
type MuteEvent struct {
	Muted bool
}

// SourceEvent reports the active source identifier.
type SourceEvent struct {
	ID string
}

// ModelEvent reports the receiver model string.
type ModelEvent struct {
	Model string
}

// VersionEvent reports the receiver firmware version.
type VersionEvent struct {
	Version string
}

// SourceNameEvent reports the configured display name of a source.
type SourceNameEvent struct {
	ID   string
	Name string
}

// SourceEnabledEvent reports whether a source is enabled on the receiver.
type SourceEnabledEvent struct {
	ID      string
	Enabled bool
}

// UnknownEvent carries a well-formed key=value line with an unrecognised key.
type UnknownEvent struct {
	Key   string
	Value string
}

func (PowerEvent) event()         {}
func (VolumeEvent) event()        {}
func (MuteEvent) event()          {}
func (SourceEvent) event()        {}
func (ModelEvent) event()         {}
func (VersionEvent) event()       {}
func (SourceNameEvent) event()    {}
func (SourceEnabledEvent) event() {}
func (UnknownEvent) event()       {}

// ParseResponse decodes a single response line from the receiver.
//
// The line may carry trailing CR/LF and surrounding whitespace; both are
// stripped before decoding. A line must contain a non-empty key, an equals
// sign, and a non-empty value.
//
// Parameters:
//   - line: Raw response line as received from the session
//
// Returns:
//   - Event: Decoded event (UnknownEvent for unrecognised keys)
//   - error: ErrParseFailure if the line or a recognised value is malformed
func ParseResponse(line string) (Event, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty line", ErrParseFailure)
	}

	key, value, found := strings.Cut(trimmed, "=")
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if !found || key == "" || value == "" {
		return nil, fmt.Errorf("%w: %q", ErrParseFailure, trimmed)
	}

	switch key {
	case keyPower:
		on, err := parseOnStandby(value)
		if err != nil {
			return nil, err
		}
		return PowerEvent{On: on}, nil

	case keyVolume:
		db, err := parseVolume(value)
		if err != nil {
			return nil, err
		}
		return VolumeEvent{VolumeDB: db}, nil

	case keyMute:
		muted, err := parseOnOff(value)
		if err != nil {
			return nil, err
		}
		return MuteEvent{Muted: muted}, nil

	case keySource:
		return SourceEvent{ID: value}, nil

	case keyModel:
		return ModelEvent{Model: value}, nil

	case keyVersion:
		return VersionEvent{Version: value}, nil
	}

	if id, ok := cutSourceKey(key, ".Name"); ok {
		return SourceNameEvent{ID: id, Name: value}, nil
	}
	if id, ok := cutSourceKey(key, ".Enabled"); ok {
		enabled, err := parseEnabled(value)
		if err != nil {
			return nil, err
		}
		return SourceEnabledEvent{ID: id, Enabled: enabled}, nil
	}

	return UnknownEvent{Key: key, Value: value}, nil
}

// cutSourceKey extracts the source number from keys like "Source3.Name".
func cutSourceKey(key, suffix string) (string, bool) {
	if !strings.HasPrefix(key, "Source") || !strings.HasSuffix(key, suffix) {
		return "", false
	}
	id := key[len("Source") : len(key)-len(suffix)]
	if id == "" {
		return "", false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id, true
}

func parseOnStandby(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on":
		return true, nil
	case "standby", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: power value %q", ErrParseFailure, value)
}

func parseOnOff(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: mute value %q", ErrParseFailure, value)
}

func parseEnabled(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "on", "true", "1":
		return true, nil
	case "no", "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: enabled value %q", ErrParseFailure, value)
}

func parseVolume(value string) (int, error) {
	db, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: volume value %q", ErrParseFailure, value)
	}
	if db < VolumeMinDB || db > VolumeMaxDB {
		return 0, fmt.Errorf("%w: volume %d outside %d..%d dB",
			ErrParseFailure, db, VolumeMinDB, VolumeMaxDB)
	}
	return db, nil
}
