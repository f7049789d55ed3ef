package connection

import "time"

// Status is the coarse externally visible connection status. The detailed
// State is collapsed into three values suitable for health endpoints and
// user-facing displays.
type Status int

const (
	// StatusDisconnected means no connection exists or is wanted.
	StatusDisconnected Status = iota

	// StatusConnecting means a connection attempt or retry is in flight.
	StatusConnecting

	// StatusConnected means the data stream is established.
	StatusConnected
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// StatusSnapshot is a point-in-time view of a supervisor.
type StatusSnapshot struct {
	// Status is the coarse connection status.
	Status Status

	// State is the detailed lifecycle state.
	State State

	// LastData is when inbound device data last arrived; zero when none
	// has arrived yet.
	LastData time.Time

	// ReconnectAttempts counts consecutive failed attempts since the
	// stream was last established.
	ReconnectAttempts int
}

// MinutesSinceLastData returns whole minutes since data last arrived, or
// -1 when no data has arrived yet. Absence of data is diagnostic only; a
// sleeping device legitimately goes quiet.
func (s StatusSnapshot) MinutesSinceLastData() int {
	if s.LastData.IsZero() {
		return -1
	}
	return int(time.Since(s.LastData).Minutes())
}

// status maps a detailed state onto the coarse status.
func (st State) status() Status {
	switch st {
	case StateStreaming:
		return StatusConnected
	case StateConnecting, StateHandshaking, StateSubscribing, StateBackoff:
		return StatusConnecting
	default:
		return StatusDisconnected
	}
}
