package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/connection"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/gqlws"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/shadow"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/trace"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/transport"
)

// ErrNotConnected indicates protocol use without an established
// connection.
var ErrNotConnected = errors.New("not connected")

// DriverConfig configures the telemetry protocol driver.
type DriverConfig struct {
	// URL is the wss:// subscription endpoint. Required.
	URL string

	// Tokens yields authentication material, retrieved fresh before every
	// connection attempt. Required.
	Tokens TokenProvider

	// Query is the subscription document streaming the telemetry fields.
	// Required.
	Query string

	// Variables accompany the query, typically the vehicle identifier.
	Variables map[string]any

	// Merger receives inbound telemetry documents. Required.
	Merger *shadow.Merger

	// Log is the structured logger; nil uses the standard logger.
	Log *logrus.Entry

	// Trace receives wire-level diagnostic events; nil disables capture.
	Trace trace.Logger
}

// Driver implements the text subscription protocol on top of a transport
// connection. It satisfies connection.Driver; the supervisor owns the
// lifecycle.
type Driver struct {
	cfg DriverConfig
	log *logrus.Entry

	mu     sync.Mutex
	conn   transport.Conn
	tokens Tokens
	subID  string
}

// NewDriver creates a telemetry protocol driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.URL == "" || cfg.Query == "" {
		return nil, errors.New("telemetry: url and query are required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("telemetry: token provider is required")
	}
	if cfg.Merger == nil {
		return nil, errors.New("telemetry: merger is required")
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{cfg: cfg, log: log}, nil
}

// Dial retrieves a token snapshot and opens the WebSocket connection with
// the bearer token on the upgrade request.
func (d *Driver) Dial(ctx context.Context) (transport.Conn, error) {
	tokens, err := d.cfg.Tokens.Tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}
	if !tokens.valid() {
		return nil, ErrAuthUnavailable
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tokens.Bearer)
	if tokens.CSRF != "" {
		header.Set("X-Csrf-Token", tokens.CSRF)
	}

	dialer := &transport.Dialer{
		Subprotocols: []string{gqlws.Subprotocol},
		Trace:        d.cfg.Trace,
	}
	conn, err := dialer.Dial(ctx, d.cfg.URL, header)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.conn = conn
	d.tokens = tokens
	d.subID = ""
	d.mu.Unlock()
	return conn, nil
}

// Handshake sends connection_init with the session token.
func (d *Driver) Handshake() error {
	d.mu.Lock()
	session := d.tokens.Session
	d.mu.Unlock()

	msg, err := gqlws.NewConnectionInit(map[string]any{"sessionToken": session})
	if err != nil {
		return err
	}
	return d.send(msg)
}

// Subscribe opens the data stream under a fresh handle, explicitly
// completing the previous one first. The protocol has no subscription
// ack; the stream is active as soon as the request is sent.
func (d *Driver) Subscribe() (bool, error) {
	d.mu.Lock()
	old := d.subID
	id := uuid.NewString()
	d.subID = id
	d.mu.Unlock()

	if old != "" {
		if err := d.send(gqlws.NewComplete(old)); err != nil {
			return false, fmt.Errorf("complete old subscription: %w", err)
		}
	}

	msg, err := gqlws.NewSubscribe(id, d.cfg.Query, d.cfg.Variables)
	if err != nil {
		return false, err
	}
	if err := d.send(msg); err != nil {
		return false, err
	}
	return true, nil
}

// RequestSync is a no-op: the subscription's first next message carries
// the full current document.
func (d *Driver) RequestSync() error { return nil }

// HandleMessage parses one inbound message and routes it by type.
func (d *Driver) HandleMessage(data []byte) (connection.Signal, bool, error) {
	msg, err := gqlws.Decode(data)
	if err != nil {
		return connection.SignalNone, false, err
	}

	switch msg.Type {
	case gqlws.TypeConnectionAck:
		return connection.SignalHandshakeOK, false, nil

	case gqlws.TypeNext:
		return d.handleNext(msg)

	case gqlws.TypeError:
		// Connection-level errors are logged, not fatal on their own.
		d.log.WithFields(logrus.Fields{
			"id":      msg.ID,
			"payload": string(msg.Payload),
		}).Warn("telemetry: server error message")
		return connection.SignalNone, false, nil

	case gqlws.TypeComplete:
		d.mu.Lock()
		current := d.subID
		d.mu.Unlock()
		if msg.ID != "" && msg.ID == current {
			return connection.SignalSubscriptionLost, false, nil
		}
		// Completion of a handle we already replaced.
		return connection.SignalNone, false, nil

	case gqlws.TypePing:
		// The reply must go out immediately.
		if err := d.send(gqlws.NewPong()); err != nil {
			return connection.SignalNone, false, fmt.Errorf("pong reply: %w", err)
		}
		return connection.SignalNone, true, nil

	case gqlws.TypePong:
		return connection.SignalPong, true, nil

	case gqlws.TypeKeepAlive:
		return connection.SignalNone, true, nil

	default:
		d.log.WithField("type", string(msg.Type)).Debug("telemetry: message ignored")
		return connection.SignalNone, false, nil
	}
}

// handleNext merges a telemetry document from the active handle.
func (d *Driver) handleNext(msg *gqlws.Message) (connection.Signal, bool, error) {
	d.mu.Lock()
	current := d.subID
	d.mu.Unlock()
	if msg.ID != current {
		d.log.WithField("id", msg.ID).Debug("telemetry: data for stale subscription")
		return connection.SignalNone, false, nil
	}

	var payload struct {
		Data map[string]map[string]any `json:"data"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return connection.SignalNone, false, fmt.Errorf("next payload: %w", err)
	}

	routed := false
	for _, doc := range payload.Data {
		if len(doc) == 0 {
			continue
		}
		d.cfg.Merger.Merge(doc)
		routed = true
	}
	return connection.SignalNone, routed, nil
}

// Ping sends the application-level keep-alive probe.
func (d *Driver) Ping() error {
	msg, err := gqlws.Encode(gqlws.NewPing())
	if err != nil {
		return err
	}
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(msg)
}

// Close drops per-connection state. The supervisor closes the transport.
func (d *Driver) Close() {
	d.mu.Lock()
	d.conn = nil
	d.subID = ""
	d.mu.Unlock()
}

// send encodes and transmits one message on the current connection.
func (d *Driver) send(msg *gqlws.Message) error {
	data, err := gqlws.Encode(msg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(data)
}
