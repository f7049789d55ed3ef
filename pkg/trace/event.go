package trace

import "time"

// Event is one captured diagnostic event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow, where applicable.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Type-specific payload (exactly one is set).
	Frame       *FrameEvent       `cbor:"5,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"6,keyasint,omitempty"`
	Error       *ErrorEvent       `cbor:"7,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an inbound message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outbound message.
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

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the WebSocket message layer (raw bytes).
	LayerTransport Layer = 0
	// LayerProtocol is the frame/message codec layer.
	LayerProtocol Layer = 1
	// LayerSession is the connection lifecycle layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerProtocol:
		return "PROTOCOL"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// MaxFrameDataSize is the maximum message size captured verbatim.
// Larger messages are truncated in the event.
const MaxFrameDataSize = 4096

// FrameEvent captures one transport message.
type FrameEvent struct {
	// Size is the full message size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data holds the message bytes, possibly truncated.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates whether Data was cut at MaxFrameDataSize.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures a connection lifecycle transition.
type StateChangeEvent struct {
	// OldState is the previous state name.
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state name.
	NewState string `cbor:"2,keyasint"`

	// Reason for the transition, if known.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEvent captures an error at any layer.
type ErrorEvent struct {
	// Message is the error text.
	Message string `cbor:"1,keyasint"`

	// Context describes what was being done.
	Context string `cbor:"2,keyasint,omitempty"`
}

// NewFrameEvent builds a transport frame event, truncating oversized data.
func NewFrameEvent(connID string, dir Direction, data []byte) Event {
	fe := &FrameEvent{Size: len(data), Data: data}
	if len(data) > MaxFrameDataSize {
		fe.Data = data[:MaxFrameDataSize]
		fe.Truncated = true
	}
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        LayerTransport,
		Frame:        fe,
	}
}

// NewStateChangeEvent builds a session state change event.
func NewStateChangeEvent(connID, oldState, newState, reason string) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        LayerSession,
		StateChange:  &StateChangeEvent{OldState: oldState, NewState: newState, Reason: reason},
	}
}

// NewErrorEvent builds an error event for the given layer.
func NewErrorEvent(connID string, layer Layer, context string, err error) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        layer,
		Error:        &ErrorEvent{Message: err.Error(), Context: context},
	}
}
