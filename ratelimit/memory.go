package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process counter store, sufficient for per-instance
// throttling of low-stakes, latency-sensitive traffic such as typing
// signals. Counters are not shared across instances, so multi-instance
// deployments under-throttle through it.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]time.Time)}
}

// Slide purges expired entries, appends the new one, and returns the
// resulting count. The whole sequence runs under one lock.
func (s *MemoryStore) Slide(_ context.Context, key string, cutoff, now time.Time,
	_ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[key][:0]
	for _, ts := range s.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	s.entries[key] = kept
	return len(kept), nil
}

// Sweep drops subjects whose newest entry is older than the cutoff and
// returns how many were removed. Called periodically by the janitor worker
// to keep idle subjects from accumulating.
func (s *MemoryStore) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entries := range s.entries {
		if len(entries) == 0 || !entries[len(entries)-1].After(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked subjects.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
