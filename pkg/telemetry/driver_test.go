package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/connection"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/gqlws"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/shadow"
)

const testQuery = `subscription($vin: String!) { vehicleState(id: $vin) { batteryLevel } }`

// recordConn captures outbound messages.
type recordConn struct {
	mu   sync.Mutex
	sent [][]byte
}

func (c *recordConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *recordConn) Receive() ([]byte, error) { select {} }
func (c *recordConn) Close() error             { return nil }

func (c *recordConn) messages(t *testing.T) []*gqlws.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*gqlws.Message, 0, len(c.sent))
	for _, data := range c.sent {
		m, err := gqlws.Decode(data)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func staticTokens() TokenProvider {
	return TokenProviderFunc(func(ctx context.Context) (Tokens, error) {
		return Tokens{Bearer: "bearer", Session: "session", CSRF: "csrf"}, nil
	})
}

func newTestDriver(t *testing.T) (*Driver, *shadow.Set, *recordConn) {
	t.Helper()
	set := shadow.NewSet()
	d, err := NewDriver(DriverConfig{
		URL:       "wss://telemetry.example.com/graphql",
		Tokens:    staticTokens(),
		Query:     testQuery,
		Variables: map[string]any{"vin": "WVW123"},
		Merger:    shadow.NewMerger(set, shadow.MergerConfig{}),
	})
	require.NoError(t, err)

	conn := &recordConn{}
	d.mu.Lock()
	d.conn = conn
	d.tokens = Tokens{Bearer: "bearer", Session: "session"}
	d.mu.Unlock()
	return d, set, conn
}

func TestHandshakeCarriesSessionToken(t *testing.T) {
	d, _, conn := newTestDriver(t)

	require.NoError(t, d.Handshake())
	msgs := conn.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, gqlws.TypeConnectionInit, msgs[0].Type)
	assert.JSONEq(t, `{"sessionToken":"session"}`, string(msgs[0].Payload))
}

func TestSubscribeImmediatelyActive(t *testing.T) {
	d, _, conn := newTestDriver(t)

	acked, err := d.Subscribe()
	require.NoError(t, err)
	assert.True(t, acked, "text protocol has no subscription ack")

	msgs := conn.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, gqlws.TypeSubscribe, msgs[0].Type)
	assert.NotEmpty(t, msgs[0].ID)

	var payload gqlws.SubscribePayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, testQuery, payload.Query)
	assert.Equal(t, "WVW123", payload.Variables["vin"])
}

func TestResubscribeCompletesOldHandleFirst(t *testing.T) {
	d, _, conn := newTestDriver(t)

	_, err := d.Subscribe()
	require.NoError(t, err)
	first := conn.messages(t)[0].ID

	_, err = d.Subscribe()
	require.NoError(t, err)

	msgs := conn.messages(t)
	require.Len(t, msgs, 3)
	assert.Equal(t, gqlws.TypeComplete, msgs[1].Type)
	assert.Equal(t, first, msgs[1].ID, "old handle completed before the new subscribe")
	assert.Equal(t, gqlws.TypeSubscribe, msgs[2].Type)
	assert.NotEqual(t, first, msgs[2].ID, "every subscription gets a fresh id")
}

func TestConnectionAck(t *testing.T) {
	d, _, _ := newTestDriver(t)

	sig, _, err := d.HandleMessage([]byte(`{"type":"connection_ack"}`))
	require.NoError(t, err)
	assert.Equal(t, connection.SignalHandshakeOK, sig)
}

func TestNextMergesTelemetry(t *testing.T) {
	d, set, conn := newTestDriver(t)
	_, err := d.Subscribe()
	require.NoError(t, err)
	id := conn.messages(t)[0].ID

	doc := `{"type":"next","id":"` + id + `","payload":{"data":{"vehicleState":{"batteryLevel":42,"isPowered":true}}}}`
	sig, routed, err := d.HandleMessage([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, connection.SignalNone, sig)
	assert.True(t, routed)

	battery, ok := set.Get("batteryLevel")
	require.True(t, ok)
	assert.Equal(t, float64(42), battery.Data)
	sw, ok := set.Get("switch")
	require.True(t, ok)
	assert.Equal(t, "on", sw.Data)
}

func TestNextForStaleHandleIgnored(t *testing.T) {
	d, set, _ := newTestDriver(t)
	_, err := d.Subscribe()
	require.NoError(t, err)

	doc := `{"type":"next","id":"stale","payload":{"data":{"vehicleState":{"batteryLevel":42}}}}`
	_, routed, err := d.HandleMessage([]byte(doc))
	require.NoError(t, err)
	assert.False(t, routed)
	assert.Empty(t, set.Snapshot())
}

func TestCompleteOnActiveHandleLosesSubscription(t *testing.T) {
	d, _, conn := newTestDriver(t)
	_, err := d.Subscribe()
	require.NoError(t, err)
	id := conn.messages(t)[0].ID

	sig, _, err := d.HandleMessage([]byte(`{"type":"complete","id":"` + id + `"}`))
	require.NoError(t, err)
	assert.Equal(t, connection.SignalSubscriptionLost, sig)

	sig, _, err = d.HandleMessage([]byte(`{"type":"complete","id":"old"}`))
	require.NoError(t, err)
	assert.Equal(t, connection.SignalNone, sig, "completion of a replaced handle is expected")
}

func TestServerPingAnsweredImmediately(t *testing.T) {
	d, _, conn := newTestDriver(t)

	sig, routed, err := d.HandleMessage([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, connection.SignalNone, sig)
	assert.True(t, routed)

	msgs := conn.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, gqlws.TypePong, msgs[0].Type)
}

func TestKeepAliveAndErrorMessages(t *testing.T) {
	d, _, _ := newTestDriver(t)

	sig, routed, err := d.HandleMessage([]byte(`{"type":"ka"}`))
	require.NoError(t, err)
	assert.Equal(t, connection.SignalNone, sig)
	assert.True(t, routed, "ka feeds the activity clock")

	sig, routed, err = d.HandleMessage([]byte(`{"type":"error","id":"x","payload":[{"message":"field deprecated"}]}`))
	require.NoError(t, err)
	assert.Equal(t, connection.SignalNone, sig)
	assert.False(t, routed, "errors are logged, not fatal")
}

func TestMalformedMessageDropped(t *testing.T) {
	d, _, _ := newTestDriver(t)

	_, _, err := d.HandleMessage([]byte(`{]`))
	assert.ErrorIs(t, err, gqlws.ErrMalformedMessage)

	_, _, err = d.HandleMessage([]byte(`{"id":"x"}`))
	assert.ErrorIs(t, err, gqlws.ErrMissingType)
}

func TestDialRequiresTokens(t *testing.T) {
	set := shadow.NewSet()
	d, err := NewDriver(DriverConfig{
		URL:   "wss://telemetry.example.com/graphql",
		Query: testQuery,
		Tokens: TokenProviderFunc(func(ctx context.Context) (Tokens, error) {
			return Tokens{}, errors.New("not logged in")
		}),
		Merger: shadow.NewMerger(set, shadow.MergerConfig{}),
	})
	require.NoError(t, err)

	_, err = d.Dial(context.Background())
	assert.ErrorIs(t, err, ErrAuthUnavailable)

	d.cfg.Tokens = TokenProviderFunc(func(ctx context.Context) (Tokens, error) {
		return Tokens{Bearer: "bearer"}, nil
	})
	_, err = d.Dial(context.Background())
	assert.ErrorIs(t, err, ErrAuthUnavailable, "session token is required")
}
