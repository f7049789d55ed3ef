package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/trace"
)

// Transport constants.
const (
	// DefaultHandshakeTimeout bounds the dial plus WebSocket upgrade.
	DefaultHandshakeTimeout = 30 * time.Second

	// DefaultMaxMessageSize is the largest accepted inbound message (256 KB).
	DefaultMaxMessageSize = 262144

	// DefaultWriteTimeout bounds one outbound message write, so a peer
	// that stops reading cannot wedge the sender.
	DefaultWriteTimeout = 10 * time.Second
)

// Transport errors.
var (
	// ErrConnectionClosed indicates use of a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// CloseError reports a connection that was closed by the peer or the
// network, with the structured WebSocket close code when one was received.
type CloseError struct {
	// Code is the WebSocket close code, or 0 when the connection failed
	// without a close frame.
	Code int

	// Reason is the close reason supplied by the peer, if any.
	Reason string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CloseError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport closed: code %d %q", e.Code, e.Reason)
	}
	return "transport closed: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CloseError) Unwrap() error { return e.Err }

// Conn is a duplex, message-oriented connection. Implementations deliver
// exactly one protocol frame or message per Receive call.
type Conn interface {
	// Send transmits one message. Safe for concurrent use.
	Send(data []byte) error

	// Receive blocks until the next message arrives. Not safe for
	// concurrent use; one reader per connection.
	Receive() ([]byte, error)

	// Close closes the connection. Safe to call multiple times.
	Close() error
}

// Dialer opens WebSocket connections.
type Dialer struct {
	// HandshakeTimeout bounds the dial and upgrade (default 30s).
	HandshakeTimeout time.Duration

	// Subprotocols to negotiate (e.g. "mqtt", "graphql-transport-ws").
	Subprotocols []string

	// Binary selects binary WebSocket messages; text otherwise.
	Binary bool

	// MaxMessageSize limits inbound messages (default 256 KB).
	MaxMessageSize int64

	// WriteTimeout bounds each Send (default 10s); negative disables.
	WriteTimeout time.Duration

	// TLSConfig overrides TLS settings; nil uses defaults.
	TLSConfig *tls.Config

	// Trace receives wire-level diagnostic events; nil disables capture.
	Trace trace.Logger
}

// Dial opens a connection to url, which must be a ws:// or wss:// URL
// (typically a presigned endpoint). Additional headers carry bearer or
// session tokens for the text protocol family.
func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = DefaultHandshakeTimeout
	}

	wsDialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		Subprotocols:     d.Subprotocols,
		TLSClientConfig:  d.TLSConfig,
	}

	ws, resp, err := wsDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			// Carry the HTTP status as structured data; handshake
			// rejections (403 on a bad signature) matter upstream.
			return nil, &CloseError{Code: resp.StatusCode, Reason: resp.Status, Err: err}
		}
		return nil, fmt.Errorf("dial %s: %w", redactQuery(url), err)
	}

	maxSize := d.MaxMessageSize
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	ws.SetReadLimit(maxSize)

	messageType := websocket.TextMessage
	if d.Binary {
		messageType = websocket.BinaryMessage
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = DefaultWriteTimeout
	}

	c := &wsConn{
		ws:           ws,
		messageType:  messageType,
		writeTimeout: writeTimeout,
		connID:       uuid.NewString(),
		trace:        d.Trace,
		closeCh:      make(chan struct{}),
	}
	if c.trace == nil {
		c.trace = trace.NoopLogger{}
	}
	return c, nil
}

// wsConn wraps a gorilla WebSocket connection.
type wsConn struct {
	ws           *websocket.Conn
	messageType  int
	writeTimeout time.Duration
	connID       string
	trace        trace.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeCh   chan struct{}
}

// Send transmits one message as a single WebSocket frame.
func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.ws.SetWriteDeadline(time.Time{})
	}

	if err := c.ws.WriteMessage(c.messageType, data); err != nil {
		return wrapClose(err)
	}
	c.trace.Log(trace.NewFrameEvent(c.connID, trace.DirectionOut, data))
	return nil
}

// Receive blocks until the next whole message arrives.
func (c *wsConn) Receive() ([]byte, error) {
	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, wrapClose(err)
	}
	c.trace.Log(trace.NewFrameEvent(c.connID, trace.DirectionIn, data))
	return data, nil
}

// Close closes the connection, sending a best-effort close frame first.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		deadline := time.Now().Add(time.Second)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// ConnID returns the connection's trace identifier.
func (c *wsConn) ConnID() string { return c.connID }

// wrapClose converts gorilla errors into structured CloseErrors.
func wrapClose(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Reason: ce.Text, Err: err}
	}
	return &CloseError{Err: err}
}

// redactQuery strips the query string from a URL for error messages, so
// presigned signatures and tokens never reach logs.
func redactQuery(url string) string {
	for i := 0; i < len(url); i++ {
		if url[i] == '?' {
			return url[:i] + "?..."
		}
	}
	return url
}
