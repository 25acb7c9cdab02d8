package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, rps float64, burst int) *MemoryLimiter {
	t.Helper()
	m := NewMemoryLimiter(rps, burst)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m
}

func TestMemoryLimiter_AllowUnderBurst(t *testing.T) {
	m := newLimiter(t, 10, 5)
	ctx := context.Background()

	for i := range 5 {
		ok, err := m.Allow(ctx, "meta:act_1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
}

func TestMemoryLimiter_DenyAfterBurst(t *testing.T) {
	m := newLimiter(t, 1, 3)
	ctx := context.Background()

	for range 3 {
		ok, _ := m.Allow(ctx, "meta:act_1")
		require.True(t, ok)
	}
	ok, err := m.Allow(ctx, "meta:act_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLimiter_KeysIndependent(t *testing.T) {
	m := newLimiter(t, 1, 1)
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "meta:act_1")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "meta:act_1")
	assert.False(t, ok)

	ok, _ = m.Allow(ctx, "google:123")
	assert.True(t, ok, "a different account has its own bucket")
}

func TestMemoryLimiter_WaitRespectsContext(t *testing.T) {
	m := newLimiter(t, 0.001, 1)

	require.NoError(t, m.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Wait(ctx, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ratelimit: wait k")
}

func TestMemoryLimiter_WaitRefills(t *testing.T) {
	m := newLimiter(t, 1000, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for range 5 {
		require.NoError(t, m.Wait(ctx, "k"))
	}
}

func TestMemoryLimiter_EvictStale(t *testing.T) {
	m := newLimiter(t, 10, 1)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "a")
	_, _ = m.Allow(ctx, "b")
	require.Equal(t, 2, m.size())

	m.evictStale(time.Now().Add(time.Minute))
	assert.Equal(t, 0, m.size())
}

func TestMemoryLimiter_ConcurrentBurst(t *testing.T) {
	m := newLimiter(t, 0.001, 10)
	ctx := context.Background()

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Allow(ctx, "shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestNoopLimiter(t *testing.T) {
	var l Limiter = NoopLimiter{}
	ok, err := l.Allow(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.Wait(context.Background(), "x"))
	assert.NoError(t, l.Close())
}
