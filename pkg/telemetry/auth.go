package telemetry

import (
	"context"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/connection"
)

// ErrAuthUnavailable indicates missing or unretrievable tokens.
// The supervisor does not retry; the authenticator must refresh first.
var ErrAuthUnavailable = connection.ErrAuthUnavailable

// Tokens is one snapshot of the session's authentication material.
type Tokens struct {
	// Bearer is the OAuth bearer token sent on the upgrade request.
	Bearer string

	// Session is the session token carried in the handshake payload.
	Session string

	// CSRF is the anti-forgery token, where the backend requires one.
	CSRF string
}

// valid reports whether the required fields are present.
func (t Tokens) valid() bool {
	return t.Bearer != "" && t.Session != ""
}

// TokenProvider yields token snapshots. Called before every connection
// attempt; the provider refreshes externally and swaps snapshots
// atomically.
type TokenProvider interface {
	Tokens(ctx context.Context) (Tokens, error)
}

// TokenProviderFunc adapts a function to the TokenProvider interface.
type TokenProviderFunc func(ctx context.Context) (Tokens, error)

// Tokens implements TokenProvider.
func (f TokenProviderFunc) Tokens(ctx context.Context) (Tokens, error) {
	return f(ctx)
}
