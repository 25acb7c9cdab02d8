package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	defaultRetries   = 3
	defaultBaseDelay = 10 * time.Millisecond
)

// transientCodes are SQLSTATE codes worth retrying: serialization_failure,
// deadlock_detected and lock_not_available.
var transientCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && transientCodes[pgErr.Code]
}

// WithRetry runs fn and retries it up to attempts more times while it fails
// with a transient conflict. The wait doubles each round starting at base,
// plus up to base of jitter.
func WithRetry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if base <= 0 {
		base = defaultBaseDelay
	}
	err := fn()
	for i := 0; i < attempts && err != nil && isTransient(err); i++ {
		wait := base<<i + time.Duration(rand.Int64N(int64(base))) //nolint:gosec // jitter only
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		err = fn()
	}
	return err
}

func retry(ctx context.Context, fn func() error) error {
	return WithRetry(ctx, defaultRetries, defaultBaseDelay, fn)
}
