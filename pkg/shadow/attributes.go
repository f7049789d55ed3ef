package shadow

import (
	"sync"
	"time"
)

// Value is one attribute's last known value and when it was received.
type Value struct {
	// Data is the attribute value.
	Data any

	// UpdatedAt is the engine receive time of the value.
	UpdatedAt time.Time
}

// Set is the normalized attribute set for one device or vehicle.
// It is mutated exclusively by the Merger (inbound) and is safe for
// concurrent readers; readers are never blocked on inbound traffic beyond
// the brief lock.
type Set struct {
	mu           sync.RWMutex
	values       map[string]Value
	inapplicable map[string]struct{}
	lastUpdate   time.Time
}

// NewSet creates an empty attribute set. inapplicable names attributes the
// device variant does not have; aggregates treat them as vacuously true.
func NewSet(inapplicable ...string) *Set {
	s := &Set{
		values:       make(map[string]Value),
		inapplicable: make(map[string]struct{}, len(inapplicable)),
	}
	for _, name := range inapplicable {
		s.inapplicable[name] = struct{}{}
	}
	return s
}

// Get returns an attribute's last known value.
func (s *Set) Get(name string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Snapshot returns a copy of all attributes.
func (s *Set) Snapshot() map[string]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Value, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// LastUpdate returns the receive time of the most recent merge, or the
// zero time when nothing has been merged yet.
func (s *Set) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Applicable reports whether the device variant has the named attribute.
func (s *Set) Applicable(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, missing := s.inapplicable[name]
	return !missing
}

// set writes one attribute. Timestamps stay monotonic per attribute even
// if the caller's clock steps backwards.
func (s *Set) set(name string, data any, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.values[name]; ok && now.Before(existing.UpdatedAt) {
		now = existing.UpdatedAt
	}
	s.values[name] = Value{Data: data, UpdatedAt: now}
	if now.After(s.lastUpdate) {
		s.lastUpdate = now
	}
}
