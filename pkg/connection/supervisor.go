package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/trace"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/transport"
)

// Supervisor defaults.
const (
	// DefaultPingInterval is the keep-alive interval, well under the
	// server's idle-close window.
	DefaultPingInterval = 60 * time.Second

	// DefaultResubscribeInterval is the subscription refresh interval for
	// protocols whose servers unilaterally close idle subscriptions.
	DefaultResubscribeInterval = 10 * time.Minute

	// DefaultWatchdogInterval is how often the self-heal check runs.
	DefaultWatchdogInterval = 5 * time.Minute

	// DefaultConnectTimeout bounds one dial attempt.
	DefaultConnectTimeout = 30 * time.Second
)

// Supervisor errors.
var (
	// ErrNoDriver indicates a supervisor configured without a driver.
	ErrNoDriver = errors.New("no protocol driver configured")

	// ErrAuthUnavailable indicates that a driver could not obtain or sign
	// valid credentials. Drivers wrap their dial errors with it; the
	// supervisor stops retrying, since the same credentials cannot
	// succeed.
	ErrAuthUnavailable = errors.New("credentials unavailable")
)

// State is the detailed connection lifecycle state.
type State int

const (
	// StateIdle means no connection is wanted.
	StateIdle State = iota

	// StateConnecting means a dial attempt is in flight.
	StateConnecting

	// StateHandshaking means the transport is up and the protocol hello
	// was sent.
	StateHandshaking

	// StateSubscribing means the handshake was accepted and the
	// subscription request was sent.
	StateSubscribing

	// StateStreaming means the subscription is active and data flows.
	StateStreaming

	// StateBackoff means the connection was lost and a retry is pending.
	StateBackoff

	// StateClosing means an explicit disconnect is in progress.
	StateClosing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateStreaming:
		return "STREAMING"
	case StateBackoff:
		return "BACKOFF"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Signal is a lifecycle event a driver derives from an inbound message.
type Signal int

const (
	// SignalNone means the message carried no lifecycle meaning.
	SignalNone Signal = iota

	// SignalHandshakeOK means the server accepted the protocol hello.
	SignalHandshakeOK

	// SignalHandshakeRejected means the server refused the hello, most
	// commonly for bad credentials. The supervisor stops retrying.
	SignalHandshakeRejected

	// SignalSubscribed means the subscription was acknowledged.
	SignalSubscribed

	// SignalSubscriptionLost means the server ended the active
	// subscription without the client asking.
	SignalSubscriptionLost

	// SignalPong means a keep-alive reply arrived.
	SignalPong
)

// Driver implements one wire protocol on top of a transport connection.
// The supervisor owns the lifecycle; the driver owns encoding, decoding
// and routing. A driver keeps the Conn returned from Dial so it can reply
// to inbound protocol messages directly.
//
// Dial runs off the supervisor lock, and HandleMessage is invoked from
// the read loop without it, so either can race the lock-held calls
// (Handshake, Subscribe, RequestSync, Ping, Close). Drivers must
// synchronize their own state, and no method may block on network reads.
type Driver interface {
	// Dial opens the transport connection and retains it for sending.
	Dial(ctx context.Context) (transport.Conn, error)

	// Handshake sends the protocol-level hello on the dialed connection.
	Handshake() error

	// Subscribe requests the data stream. When acked is true the
	// subscription is active immediately; otherwise the driver signals
	// SignalSubscribed once the server confirms.
	Subscribe() (acked bool, err error)

	// RequestSync asks for a full state snapshot and flushes any writes
	// queued while disconnected. Called on every entry into streaming.
	RequestSync() error

	// HandleMessage processes one inbound message. routed reports whether
	// the message carried liveness-relevant content (device data or a
	// keep-alive reply); the supervisor stamps its activity clock only on
	// routed messages.
	HandleMessage(data []byte) (sig Signal, routed bool, err error)

	// Ping sends a protocol keep-alive.
	Ping() error

	// Close drops per-connection driver state.
	Close()
}

// Config configures a Supervisor.
type Config struct {
	// Driver implements the wire protocol. Required.
	Driver Driver

	// Backoff customizes reconnection delays.
	Backoff BackoffConfig

	// PingInterval between keep-alives while streaming (default 60s).
	PingInterval time.Duration

	// ResubscribeInterval between subscription refreshes while streaming.
	// Zero disables refreshing.
	ResubscribeInterval time.Duration

	// WatchdogInterval between self-heal checks (default 5m).
	WatchdogInterval time.Duration

	// ConnectTimeout bounds one dial attempt (default 30s).
	ConnectTimeout time.Duration

	// Log is the structured logger; nil uses the standard logger.
	Log *logrus.Entry

	// Trace receives lifecycle diagnostic events; nil disables capture.
	Trace trace.Logger

	// OnStateChange is invoked asynchronously on every transition.
	// It must not assume ordering against Status calls.
	OnStateChange func(old, new State)

	// OnAuthError is invoked asynchronously when the server rejects the
	// connection's credentials. The supervisor has already stopped
	// retrying; the application must obtain fresh credentials and call
	// Connect again.
	OnAuthError func(err error)
}

// Supervisor drives one connection through its lifecycle: dialing,
// handshaking, subscribing, keep-alives, reconnection with exponential
// backoff, and self-healing. One supervisor per device; supervisors are
// fully independent of each other.
type Supervisor struct {
	mu  sync.Mutex
	cfg Config
	log *logrus.Entry
	tr  trace.Logger
	id  string

	state      State
	conn       transport.Conn
	generation uint64
	dialing    bool

	wantConnected    bool
	reconnectPending bool
	lastAttempt      time.Time
	lastData         time.Time

	backoff *Backoff
	timers  *TimerSet
}

// NewSupervisor creates a supervisor. Connect must be called to start.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if cfg.Driver == nil {
		return nil, ErrNoDriver
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = DefaultWatchdogInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	tr := cfg.Trace
	if tr == nil {
		tr = trace.NoopLogger{}
	}
	return &Supervisor{
		cfg:     cfg,
		log:     log,
		tr:      tr,
		id:      uuid.NewString(),
		state:   StateIdle,
		backoff: NewBackoffWithConfig(cfg.Backoff),
		timers:  NewTimerSet(),
	}, nil
}

// Connect starts connecting. Idempotent: calling it while a connection is
// up or an attempt is in flight does nothing.
func (s *Supervisor) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wantConnected && s.state != StateIdle {
		return
	}
	s.wantConnected = true
	s.armWatchdogLocked()
	s.startAttemptLocked("connect requested")
}

// Disconnect tears the connection down and cancels all pending work,
// including any scheduled reconnect. An explicit disconnect always wins
// over a pending retry.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.wantConnected && s.state == StateIdle {
		return
	}
	s.setStateLocked(StateClosing, "disconnect requested")
	s.wantConnected = false
	s.reconnectPending = false
	s.timers.StopAll()
	s.generation++
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.cfg.Driver.Close()
	s.setStateLocked(StateIdle, "disconnected")
}

// State returns the detailed lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a point-in-time snapshot.
func (s *Supervisor) Status() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusSnapshot{
		Status:            s.state.status(),
		State:             s.state,
		LastData:          s.lastData,
		ReconnectAttempts: s.backoff.Attempts(),
	}
}

// startAttemptLocked launches one connection attempt. The dial happens off
// the lock; a generation counter discards its result if the supervisor
// moved on in the meantime. At most one dial is in flight at a time: when
// a superseded dial is still unwinding, the fresh attempt waits for its
// completion handler to restart the dial.
func (s *Supervisor) startAttemptLocked(reason string) {
	switch s.state {
	case StateIdle, StateBackoff:
	default:
		return
	}
	s.setStateLocked(StateConnecting, reason)
	s.lastAttempt = time.Now()
	if s.dialing {
		return
	}
	s.dialing = true
	go s.attempt(s.generation)
}

// attempt dials and, on success, hands the connection to the protocol
// driver and starts the read loop.
func (s *Supervisor) attempt(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.cfg.Driver.Dial(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialing = false

	if gen != s.generation || !s.wantConnected {
		// A disconnect superseded this attempt. The driver retained the
		// connection inside Dial, so it must drop it too; otherwise later
		// publishes would go out on the dead transport instead of being
		// stored as the pending update.
		if err == nil {
			_ = conn.Close()
			s.cfg.Driver.Close()
		}
		if s.wantConnected && s.state == StateConnecting {
			// Connect was called again while the stale dial was in
			// flight; start the deferred fresh attempt now.
			s.dialing = true
			go s.attempt(s.generation)
		}
		return
	}

	if err != nil {
		if isAuthRejection(err) {
			s.authFailLocked(err)
			return
		}
		s.log.WithError(err).Warn("connection: dial failed")
		s.failLocked("dial failed")
		return
	}

	s.conn = conn
	s.setStateLocked(StateHandshaking, "transport established")

	if err := s.cfg.Driver.Handshake(); err != nil {
		s.log.WithError(err).Warn("connection: handshake send failed")
		s.failLocked("handshake send failed")
		return
	}

	go s.readLoop(gen, conn)
}

// readLoop receives messages until the connection dies. It runs one per
// connection generation; stale loops are discarded by the generation
// check inside the handlers.
func (s *Supervisor) readLoop(gen uint64, conn transport.Conn) {
	for {
		data, err := conn.Receive()
		if err != nil {
			s.handleConnLost(gen, err)
			return
		}

		sig, dataRouted, herr := s.cfg.Driver.HandleMessage(data)
		if !s.handleInbound(gen, sig, dataRouted, herr) {
			return
		}
	}
}

// handleConnLost reacts to a dead transport connection.
func (s *Supervisor) handleConnLost(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return
	}
	s.log.WithError(err).Info("connection: transport lost")
	s.tr.Log(trace.NewErrorEvent(s.id, trace.LayerSession, "receive", err))
	s.failLocked("transport lost")
}

// handleInbound applies a driver signal to the state machine. Returns
// false when the read loop should stop.
func (s *Supervisor) handleInbound(gen uint64, sig Signal, dataRouted bool, herr error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return false
	}

	if herr != nil {
		// Malformed or unknown messages are skipped, not fatal.
		s.log.WithError(herr).Debug("connection: inbound message dropped")
		s.tr.Log(trace.NewErrorEvent(s.id, trace.LayerProtocol, "handle message", herr))
	}
	if dataRouted {
		s.lastData = time.Now()
	}

	switch sig {
	case SignalHandshakeOK:
		if s.state != StateHandshaking {
			return true
		}
		s.setStateLocked(StateSubscribing, "handshake accepted")
		acked, err := s.cfg.Driver.Subscribe()
		if err != nil {
			s.log.WithError(err).Warn("connection: subscribe send failed")
			s.failLocked("subscribe send failed")
			return false
		}
		if acked {
			s.enterStreamingLocked()
		}

	case SignalHandshakeRejected:
		s.authFailLocked(errors.New("handshake rejected by server"))
		return false

	case SignalSubscribed:
		if s.state == StateSubscribing {
			s.enterStreamingLocked()
		}

	case SignalSubscriptionLost:
		if s.state == StateStreaming {
			s.log.Info("connection: server ended subscription")
			s.failLocked("subscription lost")
			return false
		}
	}

	return true
}

// enterStreamingLocked marks the stream established: backoff resets,
// periodic work starts, and the driver requests a full state sync.
func (s *Supervisor) enterStreamingLocked() {
	s.setStateLocked(StateStreaming, "subscription active")
	s.backoff.Reset()
	s.armPingLocked()
	s.armResubscribeLocked()

	if err := s.cfg.Driver.RequestSync(); err != nil {
		s.log.WithError(err).Warn("connection: state sync request failed")
	}
}

// failLocked tears down the current connection and schedules a retry.
func (s *Supervisor) failLocked(reason string) {
	s.generation++
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.cfg.Driver.Close()
	s.timers.Cancel(timerPing)
	s.timers.Cancel(timerResubscribe)

	if !s.wantConnected {
		s.setStateLocked(StateIdle, reason)
		return
	}
	s.setStateLocked(StateBackoff, reason)
	s.scheduleReconnectLocked()
}

// authFailLocked handles a credential rejection: retrying with the same
// credentials cannot succeed, so the supervisor goes idle and reports the
// failure instead.
func (s *Supervisor) authFailLocked(err error) {
	s.log.WithError(err).Error("connection: authentication rejected")
	s.tr.Log(trace.NewErrorEvent(s.id, trace.LayerSession, "authentication", err))

	s.wantConnected = false
	s.reconnectPending = false
	s.timers.StopAll()
	s.generation++
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.cfg.Driver.Close()
	s.setStateLocked(StateIdle, "authentication rejected")

	if s.cfg.OnAuthError != nil {
		go s.cfg.OnAuthError(err)
	}
}

// scheduleReconnectLocked arms the reconnect timer with the next backoff
// delay. Idempotent: a pending schedule is never replaced, so overlapping
// failure signals cannot stack retries.
func (s *Supervisor) scheduleReconnectLocked() {
	if !s.wantConnected || s.reconnectPending {
		return
	}
	s.reconnectPending = true
	delay := s.backoff.Next()
	s.log.WithField("delay", delay).Info("connection: reconnect scheduled")

	s.timers.Schedule(timerReconnect, delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.reconnectPending = false
		if s.wantConnected && s.state == StateBackoff {
			s.startAttemptLocked("backoff elapsed")
		}
	})
}

// armPingLocked schedules the next keep-alive.
func (s *Supervisor) armPingLocked() {
	s.timers.Schedule(timerPing, s.cfg.PingInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != StateStreaming {
			return
		}
		if err := s.cfg.Driver.Ping(); err != nil {
			s.log.WithError(err).Warn("connection: keep-alive failed")
			s.failLocked("keep-alive failed")
			return
		}
		s.armPingLocked()
	})
}

// armResubscribeLocked schedules the next subscription refresh, when the
// protocol needs one.
func (s *Supervisor) armResubscribeLocked() {
	if s.cfg.ResubscribeInterval <= 0 {
		return
	}
	s.timers.Schedule(timerResubscribe, s.cfg.ResubscribeInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != StateStreaming {
			return
		}
		if _, err := s.cfg.Driver.Subscribe(); err != nil {
			s.log.WithError(err).Warn("connection: subscription refresh failed")
			s.failLocked("subscription refresh failed")
			return
		}
		s.armResubscribeLocked()
	})
}

// armWatchdogLocked schedules the periodic self-heal check. If the device
// should be connected but no attempt or retry is pending and the current
// backoff delay has elapsed since the last attempt, the watchdog starts
// one. This recovers from lost schedules without ever tightening the
// retry cadence.
func (s *Supervisor) armWatchdogLocked() {
	s.timers.Schedule(timerWatchdog, s.cfg.WatchdogInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.wantConnected {
			return
		}
		stuck := s.state == StateBackoff && !s.reconnectPending &&
			time.Since(s.lastAttempt) >= s.backoff.Current()
		if stuck {
			s.log.Warn("connection: watchdog recovering lost reconnect")
			s.startAttemptLocked("watchdog")
		}
		s.armWatchdogLocked()
	})
}

// setStateLocked records a transition and notifies observers.
func (s *Supervisor) setStateLocked(newState State, reason string) {
	if s.state == newState {
		return
	}
	old := s.state
	s.state = newState

	s.log.WithFields(logrus.Fields{
		"from":   old.String(),
		"to":     newState.String(),
		"reason": reason,
	}).Debug("connection: state change")
	s.tr.Log(trace.NewStateChangeEvent(s.id, old.String(), newState.String(), reason))

	if s.cfg.OnStateChange != nil {
		go s.cfg.OnStateChange(old, newState)
	}
}

// isAuthRejection reports whether a dial error was a credential problem
// rather than a transient failure. Covers both explicit upgrade
// rejections and drivers that could not produce credentials at all.
func isAuthRejection(err error) bool {
	if errors.Is(err, ErrAuthUnavailable) {
		return true
	}
	var ce *transport.CloseError
	if errors.As(err, &ce) {
		return ce.Code == 401 || ce.Code == 403
	}
	return false
}
