package wire

import (
	"fmt"
)

// PacketType identifies the role of a packet on the channel.
type PacketType uint8

const (
	// TypeRequest is a command sent to the firmware.
	TypeRequest PacketType = 0

	// TypeResponse answers a previously sent request.
	TypeResponse PacketType = 1

	// TypeNotification is unsolicited firmware telemetry.
	TypeNotification PacketType = 2

	// TypeNotificationAck acknowledges a notification (unused by the bridge).
	TypeNotificationAck PacketType = 3
)

// String returns the packet type name.
func (t PacketType) String() string {
	switch t {
	case TypeRequest:
		return "REQUEST"
	case TypeResponse:
		return "RESPONSE"
	case TypeNotification:
		return "NOTIFICATION"
	case TypeNotificationAck:
		return "NOTIFICATION_ACK"
	default:
		return "UNKNOWN"
	}
}

// Protocol version spoken by the bridge.
const (
	MajorVersion = 1
	MinorVersion = 2
)

// Packet is the envelope carried on the command channel.
type Packet struct {
	MajorVersion uint8      `cbor:"1,keyasint"`
	MinorVersion uint8      `cbor:"2,keyasint"`
	DeviceID     uint8      `cbor:"3,keyasint"`
	ModuleID     ModuleID   `cbor:"4,keyasint"`
	Cmd          CommandID  `cbor:"5,keyasint"`
	Type         PacketType `cbor:"6,keyasint"`
	Payload      []byte     `cbor:"7,keyasint,omitempty"`
	ClientID     string     `cbor:"8,keyasint,omitempty"`
}

// Validate checks envelope invariants before sending.
func (p *Packet) Validate() error {
	if p.Type > TypeNotificationAck {
		return fmt.Errorf("invalid packet type: %d", p.Type)
	}
	if p.ModuleID == 0 {
		return fmt.Errorf("module id must be non-zero")
	}
	return nil
}

// Key returns the correlation key for request/response matching.
func (p *Packet) Key() CommandKey {
	return CommandKey{Module: p.ModuleID, Cmd: p.Cmd}
}

// CommandKey identifies a (module, command) pair on the wire.
type CommandKey struct {
	Module ModuleID
	Cmd    CommandID
}

// String formats the key as "module:cmd".
func (k CommandKey) String() string {
	return fmt.Sprintf("%d:%d", k.Module, k.Cmd)
}

// Response is the generic command result body.
//
// CBOR encoding:
//
//	{
//	  1: code  // int32: 0 = OK, negative = firmware error
//	}
type Response struct {
	Code int32 `cbor:"1,keyasint"`
}

// IsOK returns true if the firmware accepted the command.
func (r *Response) IsOK() bool {
	return r.Code == CodeOK
}
