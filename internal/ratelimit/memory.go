package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired entries are dropped.
const DefaultSweepInterval = 5 * time.Minute

type entry struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is a process-local Store. Expired entries are removed
// opportunistically by the request that first notices the sweep interval
// has passed, never by a background goroutine.
type MemoryStore struct {
	mu            sync.Mutex
	entries       map[string]*entry
	sweepInterval time.Duration
	lastSweep     time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &MemoryStore{
		entries:       make(map[string]*entry),
		sweepInterval: sweepInterval,
	}
}

// Incr implements Store. It never fails.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(now)

	e, ok := s.entries[key]
	if !ok || now.After(e.resetAt) {
		e = &entry{resetAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++

	return e.count, e.resetAt, nil
}

// sweep drops expired entries at most once per interval. Must be called
// with mu held.
func (s *MemoryStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.sweepInterval {
		return
	}
	s.lastSweep = now
	for k, e := range s.entries {
		if now.After(e.resetAt) {
			delete(s.entries, k)
		}
	}
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Name implements Store.
func (s *MemoryStore) Name() string { return "memory" }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
