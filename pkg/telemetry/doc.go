// Package telemetry mirrors a vehicle's streamed telemetry fields over
// the text subscription protocol.
//
// A Client holds one WebSocket connection speaking the
// graphql-transport-ws message family: connection_init carries the bearer
// and session tokens, a subscribe message with a fresh UUID opens the
// single data stream, and next messages deliver sparse telemetry
// documents that are merged into the normalized attribute set.
//
// The observed server unilaterally closes idle subscriptions, so the
// supervisor periodically replaces the streaming subscription: the old
// handle is explicitly completed before a new one is created. Server
// pings are answered immediately; ka messages only feed the activity
// clock. An unexpected complete on the active handle counts as a lost
// subscription and triggers reconnection.
//
// The stream is read only. There is no outbound mutation surface here;
// vehicle commands travel over a separate channel outside this package.
package telemetry
