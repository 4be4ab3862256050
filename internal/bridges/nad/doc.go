// Package nad implements the NAD receiver bridge.
//
// This package provides connectivity to NAD audio/video receivers over the
// line-based ASCII control protocol exposed on TCP port 50001. It translates
// between MQTT command/state messages and receiver protocol lines.
//
// # Architecture
//
// The bridge operates as a translator between two transports:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│ Home Automation │   MQTT   │   NAD Bridge    │   TCP
//	│      Host       │◄────────►│   (this pkg)    │◄────────► Receiver
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Maintain a persistent TCP session to the receiver
//   - Reconnect automatically with a fixed retry delay
//   - Encode commands to protocol lines and decode response lines to events
//   - Track receiver state (power, volume, mute, source) from responses only
//   - Translate MQTT commands to receiver commands and publish state changes
//   - Publish health status and metrics
//
// # Protocol
//
// Commands are single ASCII lines terminated by carriage return:
//
//	Main.Power=On
//	Main.Volume=-28
//	Main.Source?
//
// The receiver answers with newline-terminated key=value lines:
//
//	Main.Power=On
//	Main.Volume=-28
//
// Responses are unsolicited from the session's point of view: front-panel
// and IR changes arrive on the same stream as replies to queries, so every
// line is decoded and applied to the state model regardless of what
// prompted it.
//
// # State
//
// The state model is updated exclusively from decoded response lines. Sending
// a command never mutates state optimistically; the receiver's echo of the
// change is the only source of truth. Fields start unknown and remain so
// until the receiver reports them.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package nad
