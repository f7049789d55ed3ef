// Package trace captures wire-level diagnostic events from a shadow
// connection.
//
// Events are direction-tagged and layered (transport frame, decoded
// protocol message, connection state change, error) and can be written to a
// compact CBOR event file for offline analysis, kept in an in-memory ring
// for tests, or fanned out to several sinks at once.
//
// Tracing is purely diagnostic: no component makes reconnect or liveness
// decisions based on trace data. Pass nil or NoopLogger to disable it.
package trace
