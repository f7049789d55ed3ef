package wire

import "sync"

// Sequence allocates 16-bit packet identifiers for one connection.
// Ids increase monotonically and wrap from 65535 back to 1; 0 is never
// allocated.
type Sequence struct {
	mu   sync.Mutex
	last uint16
}

// NewSequence creates a packet id allocator starting at 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next packet id.
func (s *Sequence) Next() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last++
	if s.last == 0 {
		s.last = 1
	}
	return s.last
}

// Reset restarts the sequence, as required when a new connection is
// established.
func (s *Sequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = 0
}
