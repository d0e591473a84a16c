// Package cache provides the short-lived, single-slot caches that sit in front
// of quota computations.
//
// A Slot holds at most one entry per process. A lookup for a different user
// misses and the next Set replaces the entry. Slots can declare dependencies
// on other slots: invalidating a parent also invalidates every slot that
// depends on it, so callers only need to invalidate the lowest layer that
// changed.
package cache

import (
	"sync"
	"time"

	"github.com/DukeRupert/soundloft/internal/metrics"
	"github.com/google/uuid"
)

// DefaultTTL is how long an entry stays fresh after it is written.
const DefaultTTL = 2 * time.Minute

// Invalidator is anything that can drop its cached state.
type Invalidator interface {
	Invalidate()
}

// Entry is a cached value with the time it was written and the user it
// belongs to.
type Entry[T any] struct {
	Value     T
	Timestamp time.Time
	UserID    uuid.UUID
}

// Slot is a single-entry TTL cache keyed by user.
type Slot[T any] struct {
	name string
	ttl  time.Duration
	now  func() time.Time

	mu         sync.Mutex
	entry      *Entry[T]
	dependents []Invalidator
}

// Option configures a Slot.
type Option func(*slotOptions)

type slotOptions struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *slotOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *slotOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewSlot creates an empty slot. The name labels cache metrics.
func NewSlot[T any](name string, opts ...Option) *Slot[T] {
	o := slotOptions{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Slot[T]{
		name: name,
		ttl:  o.ttl,
		now:  o.now,
	}
}

// Get returns the cached value if it is fresh, belongs to userID and
// satisfies match (when match is non-nil).
func (s *Slot[T]) Get(userID uuid.UUID, match func(T) bool) (T, bool) {
	s.mu.Lock()
	entry := s.entry
	s.mu.Unlock()

	var zero T
	if entry == nil || entry.UserID != userID {
		metrics.CacheMiss(s.name)
		return zero, false
	}
	if s.now().Sub(entry.Timestamp) >= s.ttl {
		metrics.CacheMiss(s.name)
		return zero, false
	}
	if match != nil && !match(entry.Value) {
		metrics.CacheMiss(s.name)
		return zero, false
	}

	metrics.CacheHit(s.name)
	return entry.Value, true
}

// Set overwrites the slot.
func (s *Slot[T]) Set(userID uuid.UUID, value T) {
	s.mu.Lock()
	s.entry = &Entry[T]{
		Value:     value,
		Timestamp: s.now(),
		UserID:    userID,
	}
	s.mu.Unlock()
}

// Invalidate clears the slot and every slot that depends on it.
func (s *Slot[T]) Invalidate() {
	s.mu.Lock()
	s.entry = nil
	dependents := make([]Invalidator, len(s.dependents))
	copy(dependents, s.dependents)
	s.mu.Unlock()

	for _, d := range dependents {
		d.Invalidate()
	}
}

// AddDependent registers d to be invalidated whenever s is.
func (s *Slot[T]) AddDependent(d Invalidator) {
	s.mu.Lock()
	s.dependents = append(s.dependents, d)
	s.mu.Unlock()
}

// DependsOn declares that s is derived from parent.
func (s *Slot[T]) DependsOn(parent interface{ AddDependent(Invalidator) }) {
	parent.AddDependent(s)
}
