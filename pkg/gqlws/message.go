package gqlws

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Subprotocol is the WebSocket sub-protocol negotiated for this codec.
const Subprotocol = "graphql-transport-ws"

// MessageType is the discriminator of a protocol message.
type MessageType string

// The closed set of message types.
const (
	TypeConnectionInit MessageType = "connection_init"
	TypeConnectionAck  MessageType = "connection_ack"
	TypeSubscribe      MessageType = "subscribe"
	TypeNext           MessageType = "next"
	TypeError          MessageType = "error"
	TypeComplete       MessageType = "complete"
	TypePing           MessageType = "ping"
	TypePong           MessageType = "pong"
	TypeKeepAlive      MessageType = "ka"
)

// Codec errors.
var (
	// ErrMalformedMessage indicates bytes that do not parse as a protocol
	// message. The message is dropped; the connection survives.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrMissingType indicates a message without a type discriminator.
	ErrMissingType = errors.New("message without type")
)

// Message is one protocol message. ID correlates subscription traffic;
// Payload carries the type-specific document.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes a message to JSON bytes.
func Encode(m *Message) ([]byte, error) {
	if m.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(m)
}

// Decode parses one protocol message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Type == "" {
		return nil, ErrMissingType
	}
	return &m, nil
}

// SubscribePayload is the payload of a subscribe message.
type SubscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// NextPayload is the payload of a next message.
type NextPayload struct {
	Data map[string]json.RawMessage `json:"data"`
}

// NewConnectionInit builds the handshake message. The payload typically
// carries the bearer and session tokens.
func NewConnectionInit(payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: TypeConnectionInit, Payload: raw}, nil
}

// NewSubscribe builds a subscription request with the given id.
func NewSubscribe(id, query string, variables map[string]any) (*Message, error) {
	raw, err := json.Marshal(SubscribePayload{Query: query, Variables: variables})
	if err != nil {
		return nil, err
	}
	return &Message{Type: TypeSubscribe, ID: id, Payload: raw}, nil
}

// NewComplete builds the message that terminates the subscription with the
// given id.
func NewComplete(id string) *Message {
	return &Message{Type: TypeComplete, ID: id}
}

// NewPing builds a client keep-alive probe.
func NewPing() *Message {
	return &Message{Type: TypePing}
}

// NewPong builds the mandatory reply to a server ping.
func NewPong() *Message {
	return &Message{Type: TypePong}
}
