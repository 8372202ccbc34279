package memory

import (
	"context"
	"sync"
	"time"
)

// RateWindowStore keeps per-key occurrence timestamps in ascending order.
type RateWindowStore struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

func NewRateWindowStore() *RateWindowStore {
	return &RateWindowStore{events: make(map[string][]time.Time)}
}

func (s *RateWindowStore) Count(_ context.Context, key string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, ts := range s.events[key] {
		if !ts.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *RateWindowStore) Oldest(_ context.Context, key string, since time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ts := range s.events[key] {
		if !ts.Before(since) {
			return ts, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (s *RateWindowStore) Add(_ context.Context, key string, at time.Time, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := at.Add(-window)
	kept := s.events[key][:0]
	for _, ts := range s.events[key] {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}

	// Insert in order; callers normally append at the tail.
	i := len(kept)
	for i > 0 && kept[i-1].After(at) {
		i--
	}
	kept = append(kept, time.Time{})
	copy(kept[i+1:], kept[i:])
	kept[i] = at

	s.events[key] = kept
	return nil
}
