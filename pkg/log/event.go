package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string

	// Direction indicates message flow.
	Direction Direction

	// Layer where the event was captured.
	Layer Layer

	// Category classifies the event type.
	Category Category

	// RemoteAddr is the device address (host:port), if known.
	RemoteAddr string

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent
	Packet      *PacketEvent
	StateChange *StateChangeEvent
	Error       *ErrorEventData
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the channel layer (raw frames).
	LayerTransport Layer = 0
	// LayerWire is the packet encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerSession is the orchestration layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame is a raw frame send or receive.
	CategoryFrame Category = 0
	// CategoryPacket is a decoded packet send or receive.
	CategoryPacket Category = 1
	// CategoryState is a connection or session state change.
	CategoryState Category = 2
	// CategoryError is an error at any layer.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryPacket:
		return "PACKET"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a raw frame at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int
}

// PacketEvent captures a decoded packet at the wire layer.
type PacketEvent struct {
	ModuleID   uint8
	CommandID  uint16
	PacketType string
	Seq        uint64
	Code       *int32
}

// StateChangeEvent captures a state transition.
type StateChangeEvent struct {
	From string
	To   string
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Message string
}
