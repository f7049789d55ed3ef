// Package transport provides the duplex, message-oriented connection used
// by the shadow sync engine.
//
// The transport is a secure WebSocket: each WebSocket message carries
// exactly one protocol frame or one text message, so readers always see
// whole frames and never need to buffer partial ones.
//
// # Protocol stack
//
//	┌────────────────────────────────┐
//	│  binary frames / JSON messages │
//	├────────────────────────────────┤
//	│   WebSocket (one frame/msg)    │
//	├────────────────────────────────┤
//	│            TLS                 │
//	├────────────────────────────────┤
//	│            TCP                 │
//	└────────────────────────────────┘
//
// A Dialer opens connections against a presigned or token-authenticated
// URL and negotiates the protocol-specific sub-protocol ("mqtt" or
// "graphql-transport-ws"). Connection loss surfaces as a *CloseError
// carrying the structured close code; callers must never match on error
// text.
package transport
