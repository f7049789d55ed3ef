package deviceshadow

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/connection"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/shadow"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/sigv4"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/trace"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/transport"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/wire"
)

// Protocol constants.
const (
	// Service is the signing service name of the device gateway.
	Service = "iotdevicegateway"

	// Path is the WebSocket endpoint path on the device gateway.
	Path = "/mqtt"

	// Subprotocol negotiated on the WebSocket upgrade.
	Subprotocol = "mqtt"

	// DefaultKeepAlive is the handshake keep-alive interval in seconds.
	// The supervisor pings at half of this.
	DefaultKeepAlive uint16 = 120
)

// Package errors.
var (
	// ErrAuthUnavailable indicates missing or unretrievable credentials.
	// The supervisor does not retry; the authenticator must refresh first.
	ErrAuthUnavailable = connection.ErrAuthUnavailable

	// ErrNotConnected indicates a publish without an established
	// connection.
	ErrNotConnected = errors.New("not connected")
)

// DriverConfig configures the shadow protocol driver.
type DriverConfig struct {
	// Endpoint is the device gateway host, e.g.
	// "example.iot.eu-west-1.amazonaws.com". Required.
	Endpoint string

	// ThingID identifies the device. Required.
	ThingID string

	// Namespace is the topic namespace; empty selects DefaultNamespace.
	Namespace string

	// Region for request signing. Required.
	Region string

	// Credentials yields short-lived signing credentials. Retrieved fresh
	// before every connection attempt. Required.
	Credentials aws.CredentialsProvider

	// ClientID for the protocol handshake; empty generates a random one
	// per driver.
	ClientID string

	// KeepAlive announced in the handshake, in seconds.
	KeepAlive uint16

	// Merger receives inbound reported-state documents. Required.
	Merger *shadow.Merger

	// TLSConfig overrides TLS settings on the dial; nil uses defaults.
	TLSConfig *tls.Config

	// Log is the structured logger; nil uses the standard logger.
	Log *logrus.Entry

	// Trace receives wire-level diagnostic events; nil disables capture.
	Trace trace.Logger
}

// Driver implements the binary shadow protocol on top of a transport
// connection. It satisfies connection.Driver; the supervisor owns the
// lifecycle.
type Driver struct {
	cfg      DriverConfig
	topics   Topics
	clientID string
	log      *logrus.Entry

	seq *wire.Sequence

	mu      sync.Mutex
	conn    transport.Conn
	subID   uint16
	pending map[string]any
}

// NewDriver creates a shadow protocol driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Endpoint == "" || cfg.ThingID == "" || cfg.Region == "" {
		return nil, errors.New("deviceshadow: endpoint, thing id and region are required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("deviceshadow: credentials provider is required")
	}
	if cfg.Merger == nil {
		return nil, errors.New("deviceshadow: merger is required")
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "shadowsync-" + uuid.NewString()
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Driver{
		cfg:      cfg,
		topics:   NewTopics(cfg.Namespace, cfg.ThingID),
		clientID: clientID,
		log:      log.WithField("thing", cfg.ThingID),
		seq:      wire.NewSequence(),
	}, nil
}

// Dial retrieves a credential snapshot, presigns the endpoint URL and
// opens the WebSocket connection.
func (d *Driver) Dial(ctx context.Context) (transport.Conn, error) {
	creds, err := d.cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, ErrAuthUnavailable
	}

	signed, err := sigv4.PresignWebSocketURL(d.cfg.Endpoint, Path, creds,
		Service, d.cfg.Region, time.Now().UTC(), sigv4.MaxPresignExpiry)
	if err != nil {
		// Signing only fails on bad or expired credentials; retrying
		// with the same snapshot cannot succeed.
		return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}

	dialer := &transport.Dialer{
		Subprotocols: []string{Subprotocol},
		Binary:       true,
		TLSConfig:    d.cfg.TLSConfig,
		Trace:        d.cfg.Trace,
	}
	conn, err := dialer.Dial(ctx, signed.URL, nil)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.conn = conn
	d.subID = 0
	d.mu.Unlock()
	d.seq.Reset()
	return conn, nil
}

// Handshake sends the protocol Connect frame.
func (d *Driver) Handshake() error {
	return d.send(wire.NewConnect(d.clientID, d.cfg.KeepAlive))
}

// Subscribe requests the shadow response stream at QoS 1. The stream is
// active only once the matching SubAck arrives.
func (d *Driver) Subscribe() (bool, error) {
	id := d.seq.Next()
	d.mu.Lock()
	d.subID = id
	d.mu.Unlock()

	if err := d.send(wire.NewSubscribe(id, d.topics.Wildcard(), 1)); err != nil {
		return false, err
	}
	return false, nil
}

// RequestSync asks for the full shadow document and replays the pending
// desired-state update, if one was stored while disconnected.
func (d *Driver) RequestSync() error {
	if err := d.send(wire.NewPublish(d.topics.Get(), 0, 0, nil)); err != nil {
		return err
	}

	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	if pending != nil {
		d.log.WithField("attributes", len(pending)).Info("deviceshadow: replaying pending update")
		if err := d.PublishDesired(pending); err != nil {
			return fmt.Errorf("replay pending update: %w", err)
		}
	}
	return nil
}

// HandleMessage decodes one inbound frame and routes it.
func (d *Driver) HandleMessage(data []byte) (connection.Signal, bool, error) {
	frame, _, err := wire.Decode(data)
	if err != nil {
		// Unknown or malformed frames are dropped, never fatal.
		return connection.SignalNone, false, err
	}

	switch frame.Type {
	case wire.FrameConnAck:
		code, err := wire.ParseConnAck(frame)
		if err != nil {
			return connection.SignalNone, false, err
		}
		if code != wire.ConnAckAccepted {
			d.log.WithField("code", code).Error("deviceshadow: handshake rejected")
			return connection.SignalHandshakeRejected, false, nil
		}
		return connection.SignalHandshakeOK, false, nil

	case wire.FrameSubAck:
		packetID, code, err := wire.ParseSubAck(frame)
		if err != nil {
			return connection.SignalNone, false, err
		}
		d.mu.Lock()
		expected := d.subID
		d.mu.Unlock()
		if packetID != expected {
			d.log.WithField("packetId", packetID).Debug("deviceshadow: suback for stale subscribe")
			return connection.SignalNone, false, nil
		}
		if code == 0x80 {
			return connection.SignalNone, false, errors.New("subscription refused by server")
		}
		return connection.SignalSubscribed, false, nil

	case wire.FramePublish:
		return d.handlePublish(frame)

	case wire.FramePubAck:
		packetID, err := wire.ParsePubAck(frame)
		if err != nil {
			return connection.SignalNone, false, err
		}
		d.log.WithField("packetId", packetID).Debug("deviceshadow: publish acknowledged")
		return connection.SignalNone, false, nil

	case wire.FramePingResp:
		return connection.SignalPong, true, nil

	default:
		d.log.WithField("type", frame.Type.String()).Debug("deviceshadow: frame ignored")
		return connection.SignalNone, false, nil
	}
}

// handlePublish acknowledges QoS 1 deliveries and merges shadow documents
// by topic.
func (d *Driver) handlePublish(frame *wire.Frame) (connection.Signal, bool, error) {
	topic, packetID, payload, err := wire.ParsePublish(frame)
	if err != nil {
		return connection.SignalNone, false, err
	}

	if frame.QoS() > 0 {
		if err := d.send(wire.NewPubAck(packetID)); err != nil {
			d.log.WithError(err).Warn("deviceshadow: puback send failed")
		}
	}

	switch d.topics.Classify(topic) {
	case KindAccepted:
		var doc shadowDocument
		if err := json.Unmarshal(payload, &doc); err != nil {
			return connection.SignalNone, false, fmt.Errorf("shadow document: %w", err)
		}
		if doc.State.Reported == nil {
			return connection.SignalNone, false, nil
		}
		d.cfg.Merger.Merge(doc.State.Reported)
		return connection.SignalNone, true, nil

	case KindDelta:
		var doc deltaDocument
		if err := json.Unmarshal(payload, &doc); err != nil {
			return connection.SignalNone, false, fmt.Errorf("delta document: %w", err)
		}
		if doc.State == nil {
			return connection.SignalNone, false, nil
		}
		d.cfg.Merger.Merge(doc.State)
		return connection.SignalNone, true, nil

	case KindRejected:
		var doc errorDocument
		if err := json.Unmarshal(payload, &doc); err != nil {
			return connection.SignalNone, false, fmt.Errorf("error document: %w", err)
		}
		d.log.WithFields(logrus.Fields{
			"code":    doc.Code,
			"message": doc.Message,
		}).Warn("deviceshadow: request rejected by shadow service")
		return connection.SignalNone, false, nil

	default:
		d.log.WithField("topic", topic).Debug("deviceshadow: publish on unexpected topic")
		return connection.SignalNone, false, nil
	}
}

// Ping sends the protocol keep-alive request.
func (d *Driver) Ping() error {
	return d.send(wire.NewPingReq())
}

// Close drops per-connection state. The supervisor closes the transport.
func (d *Driver) Close() {
	d.mu.Lock()
	d.conn = nil
	d.subID = 0
	d.mu.Unlock()
}

// PublishDesired publishes a sparse desired-state change at QoS 1. When no
// connection is established the change is kept as the single pending
// update, replacing any previous one, and ErrNotConnected is returned.
func (d *Driver) PublishDesired(changes map[string]any) error {
	envelope := shadowDocument{}
	envelope.State.Desired = changes
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode desired state: %w", err)
	}

	d.mu.Lock()
	conn := d.conn
	if conn == nil {
		d.pending = changes
	}
	d.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame := wire.NewPublish(d.topics.Update(), d.seq.Next(), 1, payload)
	return d.sendOn(conn, frame)
}

// send encodes and transmits a frame on the current connection.
func (d *Driver) send(frame *wire.Frame) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return d.sendOn(conn, frame)
}

func (d *Driver) sendOn(conn transport.Conn, frame *wire.Frame) error {
	data, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

// shadowDocument is the {state:{reported,desired}} envelope.
type shadowDocument struct {
	State struct {
		Reported map[string]any `json:"reported,omitempty"`
		Desired  map[string]any `json:"desired,omitempty"`
	} `json:"state"`
}

// deltaDocument carries the difference between desired and reported state.
type deltaDocument struct {
	State map[string]any `json:"state"`
}

// errorDocument is the shadow service rejection payload.
type errorDocument struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
