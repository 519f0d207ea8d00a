package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func policy(perSecond, perMinute int) domain.RateLimitPolicy {
	return domain.RateLimitPolicy{
		RequestsPerSecond: perSecond,
		RequestsPerMinute: perMinute,
		RequestsPerHour:   1000,
		BurstLimit:        10,
	}
}

func TestLimiter_PerSecond(t *testing.T) {
	clock := newFakeClock()
	l := New("conn-1", policy(2, 100), WithClock(clock.Now))

	require.NoError(t, l.CheckLimit())
	clock.Advance(200 * time.Millisecond)
	require.NoError(t, l.CheckLimit())
	clock.Advance(200 * time.Millisecond)

	err := l.CheckLimit()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimitExceeded))

	var rlErr *domain.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, time.Second, rlErr.Window)
	assert.Equal(t, 2, rlErr.Limit)
	assert.Equal(t, "conn-1", rlErr.ConnectionID)

	clock.Advance(1100 * time.Millisecond)
	assert.NoError(t, l.CheckLimit(), "request after the second window should be admitted")
}

func TestLimiter_PerMinute(t *testing.T) {
	clock := newFakeClock()
	l := New("conn-1", policy(100, 5), WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		require.NoError(t, l.CheckLimit(), "request %d", i)
		clock.Advance(2 * time.Second)
	}

	err := l.CheckLimit()
	var rlErr *domain.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, time.Minute, rlErr.Window)

	// First request was at t0; after t0+60s it falls out of the window.
	clock.Advance(51 * time.Second)
	assert.NoError(t, l.CheckLimit())
}

func TestLimiter_RejectedRequestsAreNotRecorded(t *testing.T) {
	clock := newFakeClock()
	l := New("conn-1", policy(1, 100), WithClock(clock.Now))

	require.NoError(t, l.CheckLimit())
	for i := 0; i < 5; i++ {
		require.Error(t, l.CheckLimit())
	}

	stats := l.Stats()
	assert.Equal(t, 1, stats.LastMinute)
	assert.Equal(t, 0, stats.RemainingSecond)
}

func TestLimiter_Stats(t *testing.T) {
	clock := newFakeClock()
	l := New("conn-1", policy(5, 10), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		require.NoError(t, l.CheckLimit())
	}
	clock.Advance(2 * time.Second)
	require.NoError(t, l.CheckLimit())

	stats := l.Stats()
	assert.Equal(t, 1, stats.LastSecond)
	assert.Equal(t, 4, stats.LastMinute)
	assert.Equal(t, 4, stats.RemainingSecond)
	assert.Equal(t, 6, stats.RemainingMinute)
	assert.Equal(t, 9, stats.BurstHeadroom)
}

func TestLimiter_Concurrent(t *testing.T) {
	clock := newFakeClock()
	l := New("conn-1", policy(50, 1000), WithClock(clock.Now))

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.CheckLimit() == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, admitted)
}
