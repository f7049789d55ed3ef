// Package sigv4 computes time-boxed request signatures for authenticated
// cloud connections.
//
// The package implements the fixed four-step signature scheme used by the
// device gateway:
//
//  1. Build a canonical request from method, path, sorted query parameters,
//     canonical headers and the SHA-256 of the payload.
//  2. Build a string to sign from the algorithm name, the request timestamp,
//     the credential scope and the SHA-256 of the canonical request.
//  3. Derive a signing key with four chained HMAC-SHA256 operations over
//     date, region, service and a fixed terminator.
//  4. Sign the string to sign with the derived key; hex-encode the result.
//
// # Presigned connection URLs
//
// PresignWebSocketURL produces a complete wss:// URL carrying the signature
// in its query string. When the credentials include a session token, the
// token is appended to the final URL after the signature is computed and is
// never part of the canonical query string. Including it in the canonical
// query produces a signature the gateway rejects.
//
// Credentials are borrowed read-only per signing operation and are never
// cached: the caller must refresh expired credentials before signing again.
package sigv4
