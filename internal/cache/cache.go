// Package cache provides a single-value TTL slot used to keep hub API reads
// out of the hot poll path. Expiry is absolute and checked lazily on Get;
// there is no background sweep.
package cache

import (
	"sync"
	"time"
)

// Slot holds at most one value together with its expiry instant. Each slot
// guards itself; independent slots never contend.
type Slot[T any] struct {
	mu        sync.Mutex
	ttl       time.Duration
	value     T
	expiresAt time.Time
	has       bool
	now       func() time.Time
}

// NewSlot creates an empty slot. A zero ttl is accepted: every Get after any
// positive elapsed time misses, while a Get at the same instant still hits.
func NewSlot[T any](ttl time.Duration) *Slot[T] {
	if ttl < 0 {
		ttl = 0
	}
	return &Slot[T]{ttl: ttl, now: time.Now}
}

// Set stores value and stamps expiry at now + ttl, replacing any previous
// entry wholesale.
func (s *Slot[T]) Set(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	s.expiresAt = s.now().Add(s.ttl)
	s.has = true
}

// Get returns the stored value while now <= expiry. Past expiry it clears the
// slot and reports a miss, so a stale value can never be observed. The
// clearing is idempotent.
func (s *Slot[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if !s.has {
		return zero, false
	}
	if s.now().After(s.expiresAt) {
		s.value = zero
		s.expiresAt = time.Time{}
		s.has = false
		return zero, false
	}
	return s.value, true
}

// Expired reports whether a Get right now would miss.
func (s *Slot[T]) Expired() bool {
	_, ok := s.Get()
	return !ok
}

// Clear drops the current entry so the next consumer fetches fresh data.
func (s *Slot[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.value = zero
	s.expiresAt = time.Time{}
	s.has = false
}

// TTL returns the slot's configured time-to-live.
func (s *Slot[T]) TTL() time.Duration {
	return s.ttl
}
