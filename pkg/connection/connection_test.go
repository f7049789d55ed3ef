package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/transport"
)

func TestBackoffSequence(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		b := NewBackoff()
		if got := b.Next(); got != 1*time.Second {
			t.Errorf("first delay = %v, want 1s", got)
		}
		if got := b.Next(); got != 2*time.Second {
			t.Errorf("second delay = %v, want 2s", got)
		}
		if got := b.Next(); got != 4*time.Second {
			t.Errorf("third delay = %v, want 4s", got)
		}
		if b.Attempts() != 3 {
			t.Errorf("attempts = %d, want 3", b.Attempts())
		}

		b.Reset()
		if got := b.Next(); got != 1*time.Second {
			t.Errorf("delay after reset = %v, want 1s", got)
		}
	})

	t.Run("Ceiling", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Max: 4 * time.Second})
		want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}
		for i, w := range want {
			if got := b.Next(); got != w {
				t.Errorf("delay %d = %v, want %v", i, got, w)
			}
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Jitter: 0.5})
		d := b.Next()
		if d < time.Second || d > 1500*time.Millisecond {
			t.Errorf("jittered delay %v outside [1s, 1.5s]", d)
		}
	})
}

func TestTimerSet(t *testing.T) {
	t.Run("ScheduleReplaces", func(t *testing.T) {
		ts := NewTimerSet()
		fired := make(chan string, 2)
		ts.Schedule("x", 5*time.Millisecond, func() { fired <- "first" })
		ts.Schedule("x", 5*time.Millisecond, func() { fired <- "second" })

		select {
		case got := <-fired:
			if got != "second" {
				t.Errorf("fired %q, want second", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timer never fired")
		}
		select {
		case got := <-fired:
			t.Errorf("replaced timer fired: %q", got)
		case <-time.After(30 * time.Millisecond):
		}
	})

	t.Run("CancelAndStopAll", func(t *testing.T) {
		ts := NewTimerSet()
		fired := make(chan struct{}, 4)
		ts.Schedule("a", 20*time.Millisecond, func() { fired <- struct{}{} })
		ts.Schedule("b", 20*time.Millisecond, func() { fired <- struct{}{} })

		if !ts.Cancel("a") {
			t.Error("Cancel(a) = false, want true")
		}
		if ts.Cancel("a") {
			t.Error("second Cancel(a) = true, want false")
		}
		ts.StopAll()
		if ts.Len() != 0 {
			t.Errorf("Len after StopAll = %d, want 0", ts.Len())
		}
		select {
		case <-fired:
			t.Error("cancelled timer fired")
		case <-time.After(50 * time.Millisecond):
		}
	})
}

// fakeConn is an in-memory transport connection fed by the test.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrConnectionClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, &transport.CloseError{Err: transport.ErrConnectionClosed}
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDriver scripts protocol behavior from literal message strings.
type fakeDriver struct {
	mu         sync.Mutex
	conn       *fakeConn
	conns      []*fakeConn
	dialErr    error
	dialGate   chan struct{}
	acked      bool
	dials      int
	subscribes int
	syncs      int
	pings      int
	closes     int
}

func (d *fakeDriver) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.dialGate
	err := d.dialErr
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c := newFakeConn()
	d.mu.Lock()
	d.conn = c
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDriver) Handshake() error {
	return d.current().Send([]byte("hello"))
}

func (d *fakeDriver) Subscribe() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribes++
	return d.acked, nil
}

func (d *fakeDriver) RequestSync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncs++
	return nil
}

func (d *fakeDriver) HandleMessage(data []byte) (Signal, bool, error) {
	switch string(data) {
	case "connack":
		return SignalHandshakeOK, false, nil
	case "reject":
		return SignalHandshakeRejected, false, nil
	case "suback":
		return SignalSubscribed, false, nil
	case "complete":
		return SignalSubscriptionLost, false, nil
	case "data":
		return SignalNone, true, nil
	case "garbage":
		return SignalNone, false, errors.New("malformed message")
	}
	return SignalNone, false, nil
}

func (d *fakeDriver) Ping() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pings++
	return nil
}

func (d *fakeDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	d.conn = nil
}

func (d *fakeDriver) current() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

func (d *fakeDriver) dialed() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}

func (d *fakeDriver) counts() (dials, subscribes, syncs, pings int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials, d.subscribes, d.syncs, d.pings
}

func (d *fakeDriver) deliver(t *testing.T, msg string) {
	t.Helper()
	conn := d.current()
	require.NotNil(t, conn, "no connection to deliver on")
	select {
	case conn.in <- []byte(msg):
	case <-time.After(time.Second):
		t.Fatalf("delivering %q timed out", msg)
	}
}

func newTestSupervisor(t *testing.T, d *fakeDriver, mutate ...func(*Config)) *Supervisor {
	t.Helper()
	cfg := Config{
		Driver:  d,
		Backoff: BackoffConfig{Initial: 5 * time.Millisecond, Max: 40 * time.Millisecond},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewSupervisor(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Disconnect)
	return s
}

func waitForState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		2*time.Second, 2*time.Millisecond, "state never reached %s (now %s)", want, s.State())
}

func TestConnectReachesStreaming(t *testing.T) {
	d := &fakeDriver{}
	s := newTestSupervisor(t, d)

	s.Connect()
	waitForState(t, s, StateHandshaking)

	d.deliver(t, "connack")
	waitForState(t, s, StateSubscribing)

	d.deliver(t, "suback")
	waitForState(t, s, StateStreaming)

	dials, subscribes, syncs, _ := d.counts()
	assert.Equal(t, 1, dials)
	assert.Equal(t, 1, subscribes, "subscribe sent exactly once")
	assert.Equal(t, 1, syncs, "sync requested on entering streaming")
	assert.Equal(t, StatusConnected, s.Status().Status)
	assert.Equal(t, 0, s.Status().ReconnectAttempts)
}

func TestImmediateAckEntersStreaming(t *testing.T) {
	// Protocols without a subscription ack go straight to streaming.
	d := &fakeDriver{acked: true}
	s := newTestSupervisor(t, d)

	s.Connect()
	waitForState(t, s, StateHandshaking)
	d.deliver(t, "connack")
	waitForState(t, s, StateStreaming)

	_, subscribes, _, _ := d.counts()
	assert.Equal(t, 1, subscribes)
}

func TestConnectIdempotent(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDriver{dialGate: gate}
	s := newTestSupervisor(t, d)

	s.Connect()
	s.Connect()
	s.Connect()
	time.Sleep(20 * time.Millisecond)
	close(gate)

	waitForState(t, s, StateHandshaking)
	dials, _, _, _ := d.counts()
	assert.Equal(t, 1, dials, "repeated Connect must not stack attempts")
}

func TestSubscriptionLostReconnects(t *testing.T) {
	d := &fakeDriver{acked: true}
	s := newTestSupervisor(t, d)

	s.Connect()
	waitForState(t, s, StateHandshaking)
	d.deliver(t, "connack")
	waitForState(t, s, StateStreaming)

	first := d.current()
	d.deliver(t, "complete")

	// The supervisor retries on its own and reaches streaming again.
	require.Eventually(t, func() bool {
		return d.current() != first && s.State() == StateHandshaking
	}, 2*time.Second, 2*time.Millisecond)
	d.deliver(t, "connack")
	waitForState(t, s, StateStreaming)

	dials, _, _, _ := d.counts()
	assert.Equal(t, 2, dials)
	assert.Equal(t, 0, s.Status().ReconnectAttempts, "backoff resets on success")
}

func TestDataStampsLiveness(t *testing.T) {
	d := &fakeDriver{acked: true}
	s := newTestSupervisor(t, d)

	s.Connect()
	waitForState(t, s, StateHandshaking)
	d.deliver(t, "connack")
	waitForState(t, s, StateStreaming)

	require.True(t, s.Status().LastData.IsZero())
	assert.Equal(t, -1, s.Status().MinutesSinceLastData())

	// Malformed inbound is skipped without touching the liveness clock.
	d.deliver(t, "garbage")
	time.Sleep(10 * time.Millisecond)
	require.True(t, s.Status().LastData.IsZero())
	assert.Equal(t, StateStreaming, s.State())

	d.deliver(t, "data")
	require.Eventually(t, func() bool { return !s.Status().LastData.IsZero() },
		time.Second, 2*time.Millisecond)
	assert.Equal(t, 0, s.Status().MinutesSinceLastData())
}

func TestDisconnectCancelsEverything(t *testing.T) {
	d := &fakeDriver{acked: true}
	s := newTestSupervisor(t, d)

	s.Connect()
	waitForState(t, s, StateHandshaking)
	d.deliver(t, "connack")
	waitForState(t, s, StateStreaming)

	s.Disconnect()
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, StatusDisconnected, s.Status().Status)
	assert.Equal(t, 0, s.timers.Len(), "all timers cancelled")
	assert.Nil(t, d.current(), "driver holds no connection after disconnect")
}

func TestDisconnectWinsOverPendingReconnect(t *testing.T) {
	d := &fakeDriver{dialErr: errors.New("connection refused")}
	s := newTestSupervisor(t, d, func(c *Config) {
		// A long first delay keeps the reconnect pending while we act.
		c.Backoff = BackoffConfig{Initial: time.Hour}
	})

	s.Connect()
	waitForState(t, s, StateBackoff)

	s.Disconnect()
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, s.timers.Len())

	time.Sleep(20 * time.Millisecond)
	dials, _, _, _ := d.counts()
	assert.Equal(t, 1, dials, "no retry after disconnect")
}

func TestDisconnectDuringDialDiscardsConnection(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDriver{dialGate: gate}
	s := newTestSupervisor(t, d)

	s.Connect()
	waitForState(t, s, StateConnecting)
	s.Disconnect()
	assert.Equal(t, StateIdle, s.State())
	close(gate)

	// The late dial result is discarded entirely: the transport is closed
	// and the driver drops its retained connection, so later publishes
	// queue as pending instead of going out on a dead socket.
	require.Eventually(t, func() bool {
		conns := d.dialed()
		if len(conns) == 0 {
			return false
		}
		select {
		case <-conns[0].closed:
		default:
			return false
		}
		return d.current() == nil
	}, 2*time.Second, 2*time.Millisecond, "superseded connection never discarded")

	assert.Equal(t, StateIdle, s.State())
	dials, _, _, _ := d.counts()
	assert.Equal(t, 1, dials)
}

func TestReconnectDuringStaleDial(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDriver{dialGate: gate}
	s := newTestSupervisor(t, d)

	s.Connect()
	waitForState(t, s, StateConnecting)
	s.Disconnect()
	s.Connect()
	assert.Equal(t, StateConnecting, s.State())
	close(gate)

	// The stale dial unwinds first; only the fresh one proceeds.
	waitForState(t, s, StateHandshaking)
	dials, _, _, _ := d.counts()
	assert.Equal(t, 2, dials)

	conns := d.dialed()
	require.Len(t, conns, 2)
	select {
	case <-conns[0].closed:
	default:
		t.Error("stale connection left open")
	}
	assert.Same(t, conns[1], d.current())

	d.deliver(t, "connack")
	waitForState(t, s, StateSubscribing)
}

func TestRepeatedDialFailureBacksOff(t *testing.T) {
	d := &fakeDriver{dialErr: errors.New("connection refused")}
	s := newTestSupervisor(t, d)

	s.Connect()
	require.Eventually(t, func() bool {
		dials, _, _, _ := d.counts()
		return dials >= 3
	}, 2*time.Second, 2*time.Millisecond)

	assert.GreaterOrEqual(t, s.Status().ReconnectAttempts, 2)
	assert.Equal(t, StatusConnecting, s.Status().Status)
}

func TestHandshakeRejectionStopsRetrying(t *testing.T) {
	authErrs := make(chan error, 1)
	d := &fakeDriver{}
	s := newTestSupervisor(t, d, func(c *Config) {
		c.OnAuthError = func(err error) { authErrs <- err }
	})

	s.Connect()
	waitForState(t, s, StateHandshaking)
	d.deliver(t, "reject")

	select {
	case err := <-authErrs:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("OnAuthError never invoked")
	}
	waitForState(t, s, StateIdle)
	assert.Equal(t, 0, s.timers.Len())

	time.Sleep(20 * time.Millisecond)
	dials, _, _, _ := d.counts()
	assert.Equal(t, 1, dials, "no retry with rejected credentials")
}

func TestDialAuthRejectionStopsRetrying(t *testing.T) {
	authErrs := make(chan error, 1)
	d := &fakeDriver{dialErr: &transport.CloseError{Code: 403, Reason: "403 Forbidden"}}
	s := newTestSupervisor(t, d, func(c *Config) {
		c.OnAuthError = func(err error) { authErrs <- err }
	})

	s.Connect()
	select {
	case <-authErrs:
	case <-time.After(time.Second):
		t.Fatal("OnAuthError never invoked")
	}
	waitForState(t, s, StateIdle)
}

func TestCredentialsUnavailableStopsRetrying(t *testing.T) {
	authErrs := make(chan error, 1)
	d := &fakeDriver{dialErr: fmt.Errorf("%w: session expired", ErrAuthUnavailable)}
	s := newTestSupervisor(t, d, func(c *Config) {
		c.OnAuthError = func(err error) { authErrs <- err }
	})

	s.Connect()
	select {
	case err := <-authErrs:
		assert.ErrorIs(t, err, ErrAuthUnavailable)
	case <-time.After(time.Second):
		t.Fatal("OnAuthError never invoked")
	}
	waitForState(t, s, StateIdle)

	time.Sleep(20 * time.Millisecond)
	dials, _, _, _ := d.counts()
	assert.Equal(t, 1, dials, "no retry without fresh credentials")
}

func TestPingWhileStreaming(t *testing.T) {
	d := &fakeDriver{acked: true}
	s := newTestSupervisor(t, d, func(c *Config) {
		c.PingInterval = 10 * time.Millisecond
	})

	s.Connect()
	waitForState(t, s, StateHandshaking)
	d.deliver(t, "connack")
	waitForState(t, s, StateStreaming)

	require.Eventually(t, func() bool {
		_, _, _, pings := d.counts()
		return pings >= 2
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, StateStreaming, s.State())
}

func TestSubscriptionRefresh(t *testing.T) {
	d := &fakeDriver{acked: true}
	s := newTestSupervisor(t, d, func(c *Config) {
		c.ResubscribeInterval = 10 * time.Millisecond
	})

	s.Connect()
	waitForState(t, s, StateHandshaking)
	d.deliver(t, "connack")
	waitForState(t, s, StateStreaming)

	require.Eventually(t, func() bool {
		_, subscribes, _, _ := d.counts()
		return subscribes >= 3
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, StateStreaming, s.State())
}

func TestWatchdogRecoversLostReconnect(t *testing.T) {
	d := &fakeDriver{dialErr: errors.New("connection refused")}
	s := newTestSupervisor(t, d, func(c *Config) {
		c.Backoff = BackoffConfig{Initial: 5 * time.Millisecond}
		c.WatchdogInterval = 20 * time.Millisecond
	})

	s.Connect()
	waitForState(t, s, StateBackoff)

	// Simulate a lost schedule: the retry timer vanishes without firing.
	s.mu.Lock()
	s.timers.Cancel(timerReconnect)
	s.reconnectPending = false
	s.mu.Unlock()

	require.Eventually(t, func() bool {
		dials, _, _, _ := d.counts()
		return dials >= 2
	}, 2*time.Second, 2*time.Millisecond, "watchdog never recovered the retry")
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		state State
		want  Status
	}{
		{StateIdle, StatusDisconnected},
		{StateConnecting, StatusConnecting},
		{StateHandshaking, StatusConnecting},
		{StateSubscribing, StatusConnecting},
		{StateBackoff, StatusConnecting},
		{StateStreaming, StatusConnected},
		{StateClosing, StatusDisconnected},
	}
	for _, c := range cases {
		if got := c.state.status(); got != c.want {
			t.Errorf("%s.status() = %s, want %s", c.state, got, c.want)
		}
	}
}

func TestNewSupervisorRequiresDriver(t *testing.T) {
	_, err := NewSupervisor(Config{})
	assert.ErrorIs(t, err, ErrNoDriver)
}
