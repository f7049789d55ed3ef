// Package wire implements the binary frame codec for the device-shadow
// protocol.
//
// The codec is pure and stateless: it translates between Frame values and
// bytes and performs no I/O. The transport layer delivers exactly one frame
// per message, so the decoder expects whole frames.
//
// # Frame layout
//
//	┌──────────────────────────────────┐
//	│ fixed header: (type<<4)|flags 1B │
//	├──────────────────────────────────┤
//	│ remaining length: varint 1-4B    │
//	├──────────────────────────────────┤
//	│ variable header                  │
//	├──────────────────────────────────┤
//	│ payload                          │
//	└──────────────────────────────────┘
//
// The remaining length covers everything after the fixed header and is
// encoded as a base-128 varint of at most 4 bytes (28 bits of value).
//
// # Packet identifiers
//
// Subscribe and Publish frames with QoS above 0 carry a 16-bit packet id
// used to correlate acknowledgments. Sequence allocates ids per connection:
// monotonically increasing, wrapping 65535 back to 1, never 0.
package wire
