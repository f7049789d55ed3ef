// Package gqlws implements the text message codec for the telemetry
// subscription protocol.
//
// Messages are JSON documents of the shape {type, id?, payload?} exchanged
// over a secure WebSocket with the negotiated sub-protocol
// "graphql-transport-ws". The codec is pure: it only translates between
// Message values and bytes.
//
// The message types form a closed set. Servers send connection_ack, next,
// error, complete, ping and ka; clients send connection_init, subscribe,
// complete, ping and pong. Unknown types decode successfully and are left
// to the router's explicit unknown arm.
package gqlws
