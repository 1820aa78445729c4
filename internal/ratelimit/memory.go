package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory keeps timestamps per key in process memory. State is not shared
// between instances.
type Memory struct {
	now    func() time.Time
	hits   map[string][]time.Time
	window time.Duration
	limit  int
	mu     sync.Mutex
}

func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		now:    time.Now,
		hits:   make(map[string][]time.Time),
		window: window,
		limit:  limit,
	}
}

// WithClock overrides the time source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Allow drops timestamps older than the window, rejects when the remaining
// count has reached the limit, and otherwise records the request.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := prune(m.hits[key], now.Add(-m.window))

	d := Decision{Limit: m.limit}
	if len(kept) >= m.limit {
		m.hits[key] = kept
		d.RetryAfter = kept[0].Add(m.window).Sub(now)
		return rejected(d, key)
	}

	kept = append(kept, now)
	m.hits[key] = kept
	d.Allowed = true
	d.Remaining = m.limit - len(kept)
	return d, nil
}

// Prune forgets keys with no requests inside the window and returns how many
// were dropped.
func (m *Memory) Prune() int {
	cutoff := m.now().Add(-m.window)

	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for key, ts := range m.hits {
		if kept := prune(ts, cutoff); len(kept) == 0 {
			delete(m.hits, key)
			dropped++
		} else {
			m.hits[key] = kept
		}
	}
	return dropped
}

// Reset clears all state.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.hits = make(map[string][]time.Time)
	m.mu.Unlock()
}

// Keys returns the number of tracked keys.
func (m *Memory) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

// prune returns the suffix of ts newer than cutoff. ts is ordered.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
