package nad

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandKind identifies a receiver command.
type CommandKind int

// Receiver command kinds.
const (
	CmdPowerOn CommandKind = iota
	CmdPowerOff
	CmdVolumeUp
	CmdVolumeDown
	CmdSetVolume
	CmdMute
	CmdUnmute
	CmdSelectSource
	CmdQueryStatus
	CmdQueryDeviceInfo
	CmdQuerySourceNames
)

// String returns a human-readable name for the command kind.
func (k CommandKind) String() string {
	switch k {
	case CmdPowerOn:
		return "power_on"
	case CmdPowerOff:
		return "power_off"
	case CmdVolumeUp:
		return "volume_up"
	case CmdVolumeDown:
		return "volume_down"
	case CmdSetVolume:
		return "set_volume"
	case CmdMute:
		return "mute"
	case CmdUnmute:
		return "unmute"
	case CmdSelectSource:
		return "select_source"
	case CmdQueryStatus:
		return "query_status"
	case CmdQueryDeviceInfo:
		return "query_device_info"
	case CmdQuerySourceNames:
		return "query_source_names"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Command is an immutable receiver command value.
//
// Construct commands with the package-level constructors rather than
// struct literals; the constructors keep the arguments with the kinds
// that use them.
type Command struct {
	// Kind identifies the operation.
	Kind CommandKind

	// VolumeDB is the target volume for CmdSetVolume.
	VolumeDB int

	// SourceID is the target source for CmdSelectSource.
	SourceID string
}

// PowerOn turns the main zone on.
func PowerOn() Command { return Command{Kind: CmdPowerOn} }

// PowerOff puts the main zone into standby.
func PowerOff() Command { return Command{Kind: CmdPowerOff} }

// VolumeUp steps the volume up by the receiver's increment.
func VolumeUp() Command { return Command{Kind: CmdVolumeUp} }

// VolumeDown steps the volume down by the receiver's increment.
func VolumeDown() Command { return Command{Kind: CmdVolumeDown} }

// SetVolume sets the volume to an absolute decibel value.
func SetVolume(db int) Command { return Command{Kind: CmdSetVolume, VolumeDB: db} }

// Mute mutes the main zone.
func Mute() Command { return Command{Kind: CmdMute} }

// Unmute unmutes the main zone.
func Unmute() Command { return Command{Kind: CmdUnmute} }

// SelectSource switches the active source to the given identifier.
func SelectSource(id string) Command { return Command{Kind: CmdSelectSource, SourceID: id} }

// QueryStatus requests the power, volume, mute, and source states.
func QueryStatus() Command { return Command{Kind: CmdQueryStatus} }

// QueryDeviceInfo requests the receiver model and firmware version.
func QueryDeviceInfo() Command { return Command{Kind: CmdQueryDeviceInfo} }

// QuerySourceNames requests the names and enabled flags of all sources.
func QuerySourceNames() Command { return Command{Kind: CmdQuerySourceNames} }

// Encode renders the command as the byte sequence to write to the session.
//
// Most commands encode to a single CR-terminated line. The query commands
// expand to one line per value they request; the whole sequence is written
// in a single send so interleaving with other commands cannot split it.
//
// Returns:
//   - []byte: Protocol bytes ready to write
//   - error: ErrUnsupportedCommand if the command cannot be expressed
func (c Command) Encode() ([]byte, error) {
	switch c.Kind {
	case CmdPowerOn:
		return line(keyPower + "=On"), nil
	case CmdPowerOff:
		return line(keyPower + "=Standby"), nil
	case CmdVolumeUp:
		return line(keyVolume + "+"), nil
	case CmdVolumeDown:
		return line(keyVolume + "-"), nil
	case CmdSetVolume:
		if c.VolumeDB < VolumeMinDB || c.VolumeDB > VolumeMaxDB {
			return nil, fmt.Errorf("%w: volume %d outside %d..%d dB",
				ErrUnsupportedCommand, c.VolumeDB, VolumeMinDB, VolumeMaxDB)
		}
		return line(keyVolume + "=" + strconv.Itoa(c.VolumeDB)), nil
	case CmdMute:
		return line(keyMute + "=On"), nil
	case CmdUnmute:
		return line(keyMute + "=Off"), nil
	case CmdSelectSource:
		if c.SourceID == "" {
			return nil, fmt.Errorf("%w: empty source identifier", ErrUnsupportedCommand)
		}
		return line(keySource + "=" + c.SourceID), nil
	case CmdQueryStatus:
		return lines(keyPower+"?", keyVolume+"?", keyMute+"?", keySource+"?"), nil
	case CmdQueryDeviceInfo:
		return lines(keyModel+"?", keyVersion+"?"), nil
	case CmdQuerySourceNames:
		queries := make([]string, 0, len(sourceNames)*2)
		for _, id := range SourceIDs() {
			queries = append(queries, "Source"+id+".Name?", "Source"+id+".Enabled?")
		}
		return lines(queries...), nil
	}
	return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedCommand, int(c.Kind))
}

func line(cmd string) []byte {
	return []byte(cmd + commandTerminator)
}

func lines(cmds ...string) []byte {
	return []byte(strings.Join(cmds, commandTerminator) + commandTerminator)
}
