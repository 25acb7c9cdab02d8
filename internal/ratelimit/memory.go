package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiter implements Limiter with one token bucket per key.
//
// Each key gets an independent rate.Limiter with the configured refill rate
// and burst. A background goroutine evicts keys idle for ten minutes.
type MemoryLimiter struct {
	rate  rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a token bucket limiter.
//   - rps: sustained calls per second per key
//   - burst: maximum burst size
//
// Call Close to stop the cleanup goroutine.
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	if burst < 1 {
		burst = 1
	}
	m := &MemoryLimiter{
		rate:    rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// get returns the bucket for key, creating it on first use.
func (m *MemoryLimiter) get(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(m.rate, m.burst)}
		m.buckets[key] = b
	}
	b.lastAccess = time.Now()
	return b.limiter
}

// Allow consumes one token for key if available.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	return m.get(key).Allow(), nil
}

// Wait blocks until a token for key is available.
func (m *MemoryLimiter) Wait(ctx context.Context, key string) error {
	if err := m.get(key).Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: wait %s: %w", key, err)
	}
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale(time.Now().Add(-staleThreshold))
		}
	}
}

func (m *MemoryLimiter) evictStale(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, b := range m.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}

func (m *MemoryLimiter) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
