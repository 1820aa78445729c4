package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/stemdeck/internal/domain"
)

type clock struct {
	t  time.Time
	mu sync.Mutex
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClockedMemory(limit int) (*Memory, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	return NewMemory(limit, time.Minute).WithClock(c.now), c
}

func TestMemory_RejectsAfterLimit(t *testing.T) {
	const limit = 10
	m, c := newClockedMemory(limit)
	ctx := context.Background()

	for i := 0; i < limit; i++ {
		d, err := m.Allow(ctx, "203.0.113.7")
		require.NoError(t, err, "request %d should pass", i+1)
		assert.Equal(t, limit-i-1, d.Remaining)
		c.advance(time.Second)
	}

	d, err := m.Allow(ctx, "203.0.113.7")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)
	assert.False(t, d.Allowed)
	assert.Equal(t, 50*time.Second, d.RetryAfter, "oldest request expires 60s after it was made")
}

func TestMemory_RecoversAfterWindow(t *testing.T) {
	m, c := newClockedMemory(2)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "k")
	_, _ = m.Allow(ctx, "k")
	_, err := m.Allow(ctx, "k")
	require.ErrorIs(t, err, domain.ErrLimitExceeded)

	c.advance(59 * time.Second)
	_, err = m.Allow(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrLimitExceeded, "still inside the window")

	c.advance(time.Second)
	d, err := m.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemory_RejectedRequestsAreNotRecorded(t *testing.T) {
	m, c := newClockedMemory(1)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "k")
	for i := 0; i < 5; i++ {
		c.advance(10 * time.Second)
		_, _ = m.Allow(ctx, "k")
	}

	// only the first request counts, and it is now older than the window
	c.advance(10 * time.Second)
	_, err := m.Allow(ctx, "k")
	assert.NoError(t, err)
}

func TestMemory_KeysAreIndependent(t *testing.T) {
	m, _ := newClockedMemory(1)
	ctx := context.Background()

	_, err := m.Allow(ctx, "a")
	require.NoError(t, err)
	_, err = m.Allow(ctx, "b")
	require.NoError(t, err)
	_, err = m.Allow(ctx, "a")
	assert.Error(t, err)
}

func TestMemory_Prune(t *testing.T) {
	m, c := newClockedMemory(5)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "old")
	c.advance(30 * time.Second)
	_, _ = m.Allow(ctx, "recent")
	c.advance(31 * time.Second)

	assert.Equal(t, 1, m.Prune())
	assert.Equal(t, 1, m.Keys())

	m.Reset()
	assert.Equal(t, 0, m.Keys())
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory(100, time.Minute)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := m.Allow(ctx, fmt.Sprintf("k%d", i%2)); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 200, allowed)
}
