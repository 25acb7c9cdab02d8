// Package ratelimit throttles outbound calls to advertising platforms.
//
// Platforms enforce per-account request quotas; the platform adapters key
// the limiter by "<channel>:<account_id>" so one busy account cannot starve
// another.
package ratelimit

import "context"

// Limiter decides whether a call identified by key may proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the call may proceed now without waiting.
	Allow(ctx context.Context, key string) (bool, error)

	// Wait blocks until the call may proceed or ctx is done.
	Wait(ctx context.Context, key string) error

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every call. Used when throttling is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Wait never blocks.
func (NoopLimiter) Wait(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
