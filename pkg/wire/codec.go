package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrMalformedLength indicates a remaining-length varint that exceeds
	// 4 bytes or a value that cannot be encoded in 28 bits.
	ErrMalformedLength = errors.New("malformed remaining length")

	// ErrTruncatedFrame indicates a buffer too short to hold the frame it
	// announces. The caller must wait for more bytes.
	ErrTruncatedFrame = errors.New("truncated frame")

	// ErrUnknownFrameType indicates a fixed header with an unsupported
	// type nibble. The frame should be discarded, not treated as fatal.
	ErrUnknownFrameType = errors.New("unknown frame type")

	// ErrMalformedFrame indicates a variable header or payload that does
	// not match the frame type's layout.
	ErrMalformedFrame = errors.New("malformed frame")
)

// MaxRemainingLength is the largest representable remaining length
// (28 bits across a 4-byte varint).
const MaxRemainingLength = 1<<28 - 1

// EncodeVarint encodes v as a base-128 varint of 1-4 bytes.
// Values above MaxRemainingLength are rejected.
func EncodeVarint(v uint32) ([]byte, error) {
	if v > MaxRemainingLength {
		return nil, fmt.Errorf("%w: %d exceeds 28 bits", ErrMalformedLength, v)
	}
	buf := make([]byte, 0, 4)
	for {
		digit := byte(v % 128)
		v /= 128
		if v > 0 {
			digit |= 0x80
		}
		buf = append(buf, digit)
		if v == 0 {
			return buf, nil
		}
	}
}

// DecodeVarint decodes a base-128 varint from the start of buf and returns
// the value and the number of bytes consumed.
func DecodeVarint(buf []byte) (uint32, int, error) {
	var value uint32
	var multiplier uint32 = 1
	for i := 0; i < 4; i++ {
		if i >= len(buf) {
			return 0, 0, ErrTruncatedFrame
		}
		digit := buf[i]
		value += uint32(digit&0x7f) * multiplier
		if digit&0x80 == 0 {
			return value, i + 1, nil
		}
		multiplier *= 128
	}
	return 0, 0, fmt.Errorf("%w: continuation past 4 bytes", ErrMalformedLength)
}

// Encode serializes a frame: fixed header byte, remaining-length varint,
// variable header, payload.
func Encode(f *Frame) ([]byte, error) {
	if !f.Type.known() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrameType, f.Type)
	}
	remaining := len(f.VariableHeader) + len(f.Payload)
	if remaining > MaxRemainingLength {
		return nil, fmt.Errorf("%w: frame body of %d bytes", ErrMalformedLength, remaining)
	}

	lengthBytes, err := EncodeVarint(uint32(remaining))
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 1+len(lengthBytes)+remaining)
	buf = append(buf, byte(f.Type)<<4|f.Flags&0x0f)
	buf = append(buf, lengthBytes...)
	buf = append(buf, f.VariableHeader...)
	buf = append(buf, f.Payload...)
	return buf, nil
}

// Decode parses one frame from the start of buf and returns the frame and
// the number of bytes consumed. A buffer shorter than the announced frame
// yields ErrTruncatedFrame; an unsupported type nibble yields
// ErrUnknownFrameType with the frame length still consumed-able by the
// caller via the returned count.
func Decode(buf []byte) (*Frame, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrTruncatedFrame
	}

	frameType := FrameType(buf[0] >> 4)
	flags := buf[0] & 0x0f

	remaining, lengthSize, err := DecodeVarint(buf[1:])
	if err != nil {
		return nil, 0, err
	}

	total := 1 + lengthSize + int(remaining)
	if len(buf) < total {
		return nil, 0, ErrTruncatedFrame
	}

	if !frameType.known() {
		return nil, total, fmt.Errorf("%w: %d", ErrUnknownFrameType, frameType)
	}

	body := buf[1+lengthSize : total]
	frame := &Frame{Type: frameType, Flags: flags}

	vhLen, err := variableHeaderLength(frameType, flags, body)
	if err != nil {
		return nil, total, err
	}
	if vhLen > 0 {
		frame.VariableHeader = append([]byte(nil), body[:vhLen]...)
	}
	if len(body) > vhLen {
		frame.Payload = append([]byte(nil), body[vhLen:]...)
	}

	return frame, total, nil
}

// variableHeaderLength determines where the variable header ends for each
// frame type.
func variableHeaderLength(t FrameType, flags uint8, body []byte) (int, error) {
	switch t {
	case FramePublish:
		if len(body) < 2 {
			return 0, fmt.Errorf("%w: publish without topic length", ErrMalformedFrame)
		}
		topicLen := int(binary.BigEndian.Uint16(body))
		n := 2 + topicLen
		if qos := (flags >> 1) & 0x03; qos > 0 {
			n += 2
		}
		if len(body) < n {
			return 0, fmt.Errorf("%w: publish header exceeds body", ErrMalformedFrame)
		}
		return n, nil
	case FrameConnect:
		// Protocol name, level, flags, keep-alive.
		if len(body) < 2 {
			return 0, fmt.Errorf("%w: connect without protocol name", ErrMalformedFrame)
		}
		nameLen := int(binary.BigEndian.Uint16(body))
		n := 2 + nameLen + 4
		if len(body) < n {
			return 0, fmt.Errorf("%w: connect header exceeds body", ErrMalformedFrame)
		}
		return n, nil
	case FrameConnAck, FramePubAck, FrameSubscribe:
		if len(body) < 2 {
			return 0, fmt.Errorf("%w: %s header too short", ErrMalformedFrame, t)
		}
		return 2, nil
	case FrameSubAck:
		if len(body) < 2 {
			return 0, fmt.Errorf("%w: suback header too short", ErrMalformedFrame)
		}
		return 2, nil
	default:
		// PingReq, PingResp, Disconnect carry no variable header.
		return 0, nil
	}
}

// NewConnect builds a handshake frame announcing clientID with the given
// keep-alive interval in seconds. The session is always started clean.
func NewConnect(clientID string, keepAlive uint16) *Frame {
	vh := make([]byte, 0, 10)
	vh = appendString(vh, "MQTT")
	vh = append(vh, 4)    // protocol level
	vh = append(vh, 0x02) // clean session
	vh = binary.BigEndian.AppendUint16(vh, keepAlive)

	return &Frame{
		Type:           FrameConnect,
		VariableHeader: vh,
		Payload:        appendString(nil, clientID),
	}
}

// ParseConnAck extracts the handshake return code. Zero means accepted.
func ParseConnAck(f *Frame) (uint8, error) {
	if f.Type != FrameConnAck || len(f.VariableHeader) < 2 {
		return 0, fmt.Errorf("%w: not a connack", ErrMalformedFrame)
	}
	return f.VariableHeader[1], nil
}

// NewPublish builds a Publish frame. packetID is only encoded when qos is
// above 0.
func NewPublish(topic string, packetID uint16, qos uint8, payload []byte) *Frame {
	vh := appendString(nil, topic)
	if qos > 0 {
		vh = binary.BigEndian.AppendUint16(vh, packetID)
	}
	return &Frame{
		Type:           FramePublish,
		Flags:          qos << 1,
		VariableHeader: vh,
		Payload:        payload,
	}
}

// ParsePublish extracts topic, packet id and payload from a Publish frame.
// The packet id is 0 for QoS 0 frames.
func ParsePublish(f *Frame) (topic string, packetID uint16, payload []byte, err error) {
	if f.Type != FramePublish || len(f.VariableHeader) < 2 {
		return "", 0, nil, fmt.Errorf("%w: not a publish", ErrMalformedFrame)
	}
	topicLen := int(binary.BigEndian.Uint16(f.VariableHeader))
	if len(f.VariableHeader) < 2+topicLen {
		return "", 0, nil, fmt.Errorf("%w: topic exceeds header", ErrMalformedFrame)
	}
	topic = string(f.VariableHeader[2 : 2+topicLen])
	if f.QoS() > 0 {
		if len(f.VariableHeader) < 2+topicLen+2 {
			return "", 0, nil, fmt.Errorf("%w: publish missing packet id", ErrMalformedFrame)
		}
		packetID = binary.BigEndian.Uint16(f.VariableHeader[2+topicLen:])
	}
	return topic, packetID, f.Payload, nil
}

// NewSubscribe builds a Subscribe frame for a single topic filter at the
// requested QoS. One streaming subscription per connection is the norm.
func NewSubscribe(packetID uint16, topic string, qos uint8) *Frame {
	payload := appendString(nil, topic)
	payload = append(payload, qos)
	return &Frame{
		Type:           FrameSubscribe,
		Flags:          0x02, // reserved bits per protocol
		VariableHeader: binary.BigEndian.AppendUint16(nil, packetID),
		Payload:        payload,
	}
}

// ParseSubAck extracts the packet id and the granted QoS (or failure code
// 0x80) from a SubAck frame.
func ParseSubAck(f *Frame) (packetID uint16, code uint8, err error) {
	if f.Type != FrameSubAck || len(f.VariableHeader) < 2 {
		return 0, 0, fmt.Errorf("%w: not a suback", ErrMalformedFrame)
	}
	packetID = binary.BigEndian.Uint16(f.VariableHeader)
	if len(f.Payload) < 1 {
		return 0, 0, fmt.Errorf("%w: suback without return code", ErrMalformedFrame)
	}
	return packetID, f.Payload[0], nil
}

// NewPubAck builds an acknowledgment for a QoS 1 Publish.
func NewPubAck(packetID uint16) *Frame {
	return &Frame{
		Type:           FramePubAck,
		VariableHeader: binary.BigEndian.AppendUint16(nil, packetID),
	}
}

// ParsePubAck extracts the packet id from a PubAck frame.
func ParsePubAck(f *Frame) (uint16, error) {
	if f.Type != FramePubAck || len(f.VariableHeader) < 2 {
		return 0, fmt.Errorf("%w: not a puback", ErrMalformedFrame)
	}
	return binary.BigEndian.Uint16(f.VariableHeader), nil
}

// NewPingReq builds a transport keep-alive request.
func NewPingReq() *Frame { return &Frame{Type: FramePingReq} }

// NewPingResp builds a keep-alive response.
func NewPingResp() *Frame { return &Frame{Type: FramePingResp} }

// NewDisconnect builds the graceful termination frame.
func NewDisconnect() *Frame { return &Frame{Type: FrameDisconnect} }

// appendString appends a 2-byte big-endian length prefix followed by the
// string bytes.
func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}
