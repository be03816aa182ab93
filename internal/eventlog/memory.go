package eventlog

import (
	"sync"
	"time"
)

// memoryStore is the degraded-mode fallback used when SQLite storage cannot
// be opened. It keeps at most maxEntries entries and evicts oldest first.
type memoryStore struct {
	mu         sync.Mutex
	entries    []Entry
	maxEntries int
}

func newMemoryStore(maxEntries int) *memoryStore {
	return &memoryStore{maxEntries: maxEntries}
}

func (s *memoryStore) append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)
	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}

	return nil
}

func (s *memoryStore) query(kind Kind, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Entry
	for _, e := range s.entries {
		if kind == "" || e.Kind == kind {
			matched = append(matched, e)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	out := make([]Entry, len(matched))
	copy(out, matched)

	return out, nil
}

func (s *memoryStore) recent(cutoff time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.entries {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}

	return out, nil
}

func (s *memoryStore) clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil

	return nil
}

func (s *memoryStore) close() error {
	return nil
}
