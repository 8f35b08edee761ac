package aggregation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a WindowStore for development and tests. Entries are kept
// per user and pruned lazily against the window duration.
type MemoryStore struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string][]WindowEntry
}

func NewMemoryStore(window time.Duration) *MemoryStore {
	if window <= 0 {
		window = 6 * time.Hour
	}
	return &MemoryStore{
		window:  window,
		entries: make(map[string][]WindowEntry),
	}
}

func (s *MemoryStore) Append(_ context.Context, userRef string, entry WindowEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userRef] = append(s.prune(userRef, entry.ObservedAt), entry)
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, userRef string, entry WindowEntry, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[userRef]
	for i := range list {
		if list[i].EventID == entry.EventID {
			list[i].ObservedAt = seenAt
			return nil
		}
	}
	entry.ObservedAt = seenAt
	s.entries[userRef] = append(list, entry)
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, userRef string, since time.Time) ([]WindowEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []WindowEntry
	for _, entry := range s.entries[userRef] {
		if !entry.ObservedAt.Before(since) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

// prune drops entries that fell out of the window. Caller holds the lock.
func (s *MemoryStore) prune(userRef string, now time.Time) []WindowEntry {
	cutoff := now.Add(-s.window)
	kept := s.entries[userRef][:0]
	for _, entry := range s.entries[userRef] {
		if !entry.ObservedAt.Before(cutoff) {
			kept = append(kept, entry)
		}
	}
	s.entries[userRef] = kept
	return kept
}
