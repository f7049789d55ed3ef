// Package deviceshadow mirrors a cloud device shadow over the binary
// protocol.
//
// The cloud holds a JSON shadow document with desired and last-reported
// device state. A Client keeps a local normalized attribute set in sync
// with it: inbound reported-state and delta documents are merged field by
// field, and desired-state changes are published back as sparse
// {state:{desired:{...}}} envelopes.
//
// Connections are authenticated with short-lived credentials: every
// attempt retrieves a fresh credential snapshot, presigns the WebSocket
// URL, and dials with the binary sub-protocol. The connection lifecycle
// (handshake, subscribe, keep-alive, reconnection) is run by a
// connection.Supervisor; this package contributes the protocol driver.
//
// Publishes are best effort. A failed desired-state update is not queued
// for retry, with one exception: the most recent update is kept as a
// single pending update and replayed once after the next successful
// connect.
package deviceshadow
