package wire

// FrameType identifies the kind of a protocol frame. The values occupy the
// top nibble of the fixed header byte.
type FrameType uint8

// The closed set of frame types understood by the codec.
const (
	FrameConnect    FrameType = 1
	FrameConnAck    FrameType = 2
	FramePublish    FrameType = 3
	FramePubAck     FrameType = 4
	FrameSubscribe  FrameType = 8
	FrameSubAck     FrameType = 9
	FramePingReq    FrameType = 12
	FramePingResp   FrameType = 13
	FrameDisconnect FrameType = 14
)

// String returns a human-readable frame type name.
func (t FrameType) String() string {
	switch t {
	case FrameConnect:
		return "CONNECT"
	case FrameConnAck:
		return "CONNACK"
	case FramePublish:
		return "PUBLISH"
	case FramePubAck:
		return "PUBACK"
	case FrameSubscribe:
		return "SUBSCRIBE"
	case FrameSubAck:
		return "SUBACK"
	case FramePingReq:
		return "PINGREQ"
	case FramePingResp:
		return "PINGRESP"
	case FrameDisconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// known reports whether t is one of the nine supported frame types.
func (t FrameType) known() bool {
	switch t {
	case FrameConnect, FrameConnAck, FramePublish, FramePubAck,
		FrameSubscribe, FrameSubAck, FramePingReq, FramePingResp,
		FrameDisconnect:
		return true
	}
	return false
}

// Frame is one discrete unit of the binary wire protocol.
type Frame struct {
	// Type is the frame type from the top nibble of the fixed header.
	Type FrameType

	// Flags is the bottom nibble of the fixed header. For Publish frames
	// bits 1-2 carry the QoS level.
	Flags uint8

	// VariableHeader holds the type-specific header bytes.
	VariableHeader []byte

	// Payload holds the frame payload bytes.
	Payload []byte
}

// QoS returns the quality-of-service level encoded in the flags of a
// Publish frame.
func (f *Frame) QoS() uint8 {
	return (f.Flags >> 1) & 0x03
}

// ConnAck return codes.
const (
	// ConnAckAccepted indicates the handshake was accepted.
	ConnAckAccepted uint8 = 0

	// ConnAckNotAuthorized indicates the credentials were rejected.
	ConnAckNotAuthorized uint8 = 5
)
