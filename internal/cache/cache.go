// Package cache provides the shared short-lived key/value store used for
// working memory, cooldown stamps and per-run call counters.
//
// Two implementations ship: MemoryCache for a single process and
// RedisCache for coordination across instances. Both make SetNX and IncrBy
// atomic, which is what the guardrail ledger relies on to avoid
// check-then-set races.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned (wrapped) when the backing store cannot be
// reached. Callers that have a durable fallback switch to it on this error.
var ErrUnavailable = errors.New("cache: unavailable")

// Cache is a TTL key/value store. A zero ttl means no expiry.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value and true on hit, "" and false on miss or expiry.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent, reporting whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// IncrBy adds delta to the integer at key and returns the new value.
	// ttl is applied when the key is created by this call.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Unavailable is a Cache whose every operation fails with ErrUnavailable.
// It stands in for a cache that is configured but down.
type Unavailable struct{}

func (Unavailable) Get(context.Context, string) (string, bool, error) {
	return "", false, ErrUnavailable
}

func (Unavailable) Set(context.Context, string, string, time.Duration) error { return ErrUnavailable }

func (Unavailable) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, ErrUnavailable
}

func (Unavailable) IncrBy(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, ErrUnavailable
}

func (Unavailable) Expire(context.Context, string, time.Duration) error { return ErrUnavailable }
func (Unavailable) Delete(context.Context, string) error                { return ErrUnavailable }
func (Unavailable) Close() error                                        { return nil }
