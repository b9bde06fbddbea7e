package audit

import (
	"context"
	"sync"
	"time"
)

// memoryStore keeps the most recent entries in a ring buffer.
type memoryStore struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func newMemory(capacity int) *memoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &memoryStore{entries: make([]Entry, capacity)}
}

func (s *memoryStore) Append(ctx context.Context, e Entry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		return ErrDisabled
	}
	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *memoryStore) Recent(ctx context.Context, target string, limit int) ([]Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		return nil, ErrDisabled
	}

	n := s.next
	if s.full {
		n = len(s.entries)
	}
	var out []Entry
	for i := 1; i <= n && (limit <= 0 || len(out) < limit); i++ {
		idx := (s.next - i + len(s.entries)) % len(s.entries)
		e := s.entries[idx]
		if target == "" || e.Target == target {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}
