package nad

import "errors"

// Domain errors for the NAD bridge package.
var (
	// ErrNotConnected is returned when an operation requires a live session
	// but the supervisor is not in the connected state.
	ErrNotConnected = errors.New("nad: not connected to receiver")

	// ErrConnectionFailed is returned when establishing the TCP session fails.
	ErrConnectionFailed = errors.New("nad: connection to receiver failed")

	// ErrUnsupportedCommand is returned when a command cannot be expressed
	// in the receiver protocol.
	ErrUnsupportedCommand = errors.New("nad: unsupported command")

	// ErrParseFailure is returned when a received line cannot be decoded.
	ErrParseFailure = errors.New("nad: malformed response line")

	// ErrSendFailed is returned when writing a command to the session fails.
	ErrSendFailed = errors.New("nad: command send failed")

	// ErrSessionClosed is returned when using a session that has been closed.
	ErrSessionClosed = errors.New("nad: session closed")

	// ErrSupervisorStopped is returned when the supervisor has been stopped.
	ErrSupervisorStopped = errors.New("nad: supervisor stopped")
)
