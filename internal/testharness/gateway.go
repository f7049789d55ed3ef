// Package testharness provides an in-process fake shadow gateway for
// end-to-end tests. It speaks just enough of the binary protocol to
// exercise a full client session: handshake, subscription, shadow get,
// desired-state updates and keep-alives, all over a real WebSocket.
package testharness

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/wire"
)

// Gateway is a fake device gateway serving one shadow document.
type Gateway struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	reported map[string]any
	desired  []map[string]any
	connAck  uint8
	conns    []*websocket.Conn
}

// NewGateway starts a gateway whose shadow reports the given document.
func NewGateway(reported map[string]any) *Gateway {
	g := newGateway(reported)
	g.server = httptest.NewServer(http.HandlerFunc(g.serve))
	return g
}

// NewTLSGateway starts a gateway behind TLS with a self-signed
// certificate, for clients that always dial wss.
func NewTLSGateway(reported map[string]any) *Gateway {
	g := newGateway(reported)
	g.server = httptest.NewTLSServer(http.HandlerFunc(g.serve))
	return g
}

func newGateway(reported map[string]any) *Gateway {
	return &Gateway{
		reported: reported,
		upgrader: websocket.Upgrader{Subprotocols: []string{"mqtt"}},
	}
}

// URL returns the ws:// or wss:// endpoint of the gateway.
func (g *Gateway) URL() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

// Host returns the host:port the gateway listens on.
func (g *Gateway) Host() string {
	u := g.server.URL
	if i := strings.Index(u, "://"); i >= 0 {
		return u[i+3:]
	}
	return u
}

// Close shuts the gateway down.
func (g *Gateway) Close() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	g.server.Close()
}

// RejectHandshakes makes the gateway answer every Connect with the given
// nonzero return code.
func (g *Gateway) RejectHandshakes(code uint8) {
	g.mu.Lock()
	g.connAck = code
	g.mu.Unlock()
}

// DesiredUpdates returns the desired-state documents received so far.
func (g *Gateway) DesiredUpdates() []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]map[string]any, len(g.desired))
	copy(out, g.desired)
	return out
}

// DropConnections closes every open connection without close frames, as a
// flaky network would.
func (g *Gateway) DropConnections() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conns = append(g.conns, ws)
	g.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frame, _, err := wire.Decode(data)
		if err != nil {
			continue
		}
		if !g.handle(ws, frame) {
			return
		}
	}
}

// handle answers one inbound frame. Returns false when the session ends.
func (g *Gateway) handle(ws *websocket.Conn, frame *wire.Frame) bool {
	switch frame.Type {
	case wire.FrameConnect:
		g.mu.Lock()
		code := g.connAck
		g.mu.Unlock()
		g.send(ws, &wire.Frame{Type: wire.FrameConnAck, VariableHeader: []byte{0, code}})
		return code == wire.ConnAckAccepted

	case wire.FrameSubscribe:
		g.send(ws, &wire.Frame{
			Type:           wire.FrameSubAck,
			VariableHeader: frame.VariableHeader[:2],
			Payload:        []byte{1},
		})
		return true

	case wire.FramePublish:
		return g.handlePublish(ws, frame)

	case wire.FramePingReq:
		g.send(ws, wire.NewPingResp())
		return true

	case wire.FrameDisconnect:
		return false

	default:
		return true
	}
}

func (g *Gateway) handlePublish(ws *websocket.Conn, frame *wire.Frame) bool {
	topic, packetID, payload, err := wire.ParsePublish(frame)
	if err != nil {
		return true
	}
	if frame.QoS() > 0 {
		g.send(ws, wire.NewPubAck(packetID))
	}

	switch {
	case strings.HasSuffix(topic, "/shadow/get"):
		g.mu.Lock()
		doc := map[string]any{"state": map[string]any{"reported": g.reported}}
		g.mu.Unlock()
		body, err := json.Marshal(doc)
		if err != nil {
			return true
		}
		g.send(ws, wire.NewPublish(topic+"/accepted", 0, 0, body))

	case strings.HasSuffix(topic, "/shadow/update"):
		var doc struct {
			State struct {
				Desired map[string]any `json:"desired"`
			} `json:"state"`
		}
		if err := json.Unmarshal(payload, &doc); err != nil || doc.State.Desired == nil {
			return true
		}
		g.mu.Lock()
		g.desired = append(g.desired, doc.State.Desired)
		for k, v := range doc.State.Desired {
			g.reported[k] = v
		}
		g.mu.Unlock()
		// The device "applies" the change; confirmation flows back as a
		// reported-state update.
		body, err := json.Marshal(map[string]any{
			"state": map[string]any{"reported": doc.State.Desired},
		})
		if err != nil {
			return true
		}
		g.send(ws, wire.NewPublish(topic+"/accepted", 0, 0, body))
	}
	return true
}

func (g *Gateway) send(ws *websocket.Conn, frame *wire.Frame) {
	data, err := wire.Encode(frame)
	if err != nil {
		return
	}
	_ = ws.WriteMessage(websocket.BinaryMessage, data)
}
