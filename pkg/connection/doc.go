// Package connection drives the lifecycle of one shadow connection.
//
// A Supervisor owns one transport connection and a protocol Driver and
// moves through the states
//
//	Idle → Connecting → Handshaking → Subscribing → Streaming
//	                                      ↑             │
//	                                   Backoff ←────────┘
//
// with Closing on explicit disconnect. All transitions happen under a
// single per-device lock: transport events and timer callbacks never run
// concurrently for the same device, while different devices are fully
// independent.
//
// # Reconnection
//
// A lost connection enters Backoff: the delay starts at 1 second, doubles
// on every consecutive failure up to the configured ceiling, and resets to
// 1 second as soon as Streaming is reached again. Scheduling is
// idempotent; a second schedule request while one is pending is ignored,
// and an explicit disconnect always wins over a pending reconnect.
//
// A watchdog on a longer period self-heals lost schedules: when the device
// should be connected, nothing is pending, and the current backoff delay
// has elapsed since the last attempt, it triggers one.
//
// # Periodic work while Streaming
//
// The supervisor sends a protocol keep-alive at a fixed interval well
// under the server's idle-close window, and, for the subscription
// protocol, periodically replaces the streaming subscription because the
// observed server unilaterally closes idle subscriptions. Absence of data
// alone never triggers a reconnect: a sleeping device legitimately goes
// quiet.
package connection
