package guardrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/adpilot/internal/cache"
	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/storage"
)

// Reservation is the answer to a ledger reservation. When Granted, Release
// undoes it; a denied reservation holds nothing.
type Reservation struct {
	Granted bool
	// ExpiresAt is when the blocking cooldown stamp lapses (cooldown only).
	ExpiresAt time.Time
	// Count is the per-session call count including this reservation (quota only).
	Count int
	// Release returns the reservation. Nil when there is nothing to return.
	Release func(ctx context.Context) error
}

func (r Reservation) release(ctx context.Context) error {
	if !r.Granted || r.Release == nil {
		return nil
	}
	return r.Release(ctx)
}

// Ledger holds the shared cooldown and per-run quota state. Reservations
// are atomic: two concurrent callers can never both be granted where only
// one should be.
type Ledger interface {
	// ReserveCooldown stamps (entityID, tool) for window unless a live
	// stamp already exists.
	ReserveCooldown(ctx context.Context, entityID, tool string, window time.Duration) (Reservation, error)
	// ReserveCall takes one of limit call slots for (sessionID, tool).
	// limit <= 0 counts the call without a cap.
	ReserveCall(ctx context.Context, sessionID uuid.UUID, tool string, limit int) (Reservation, error)
}

// quotaTTL bounds how long a session's counters outlive the run.
const quotaTTL = 24 * time.Hour

// CacheLedger keeps ledger state in the shared TTL cache. SetNX and IncrBy
// make each reservation a single atomic cache operation.
//
// A cache that was flushed or freshly started knows nothing about earlier
// writes, so when decisions is set a won SetNX is confirmed against the
// durable log before it is granted.
type CacheLedger struct {
	cache     cache.Cache
	decisions DecisionFinder
	now       func() time.Time
}

// NewCacheLedger creates a CacheLedger over c.
func NewCacheLedger(c cache.Cache) *CacheLedger {
	return &CacheLedger{cache: c, now: time.Now}
}

// WithDecisionLog makes l confirm new cooldown stamps against d.
func (l *CacheLedger) WithDecisionLog(d DecisionFinder) *CacheLedger {
	l.decisions = d
	return l
}

func cooldownKey(entityID, tool string) string {
	return "adpilot:cooldown:" + tool + ":" + entityID
}

func quotaKey(sessionID uuid.UUID, tool string) string {
	return "adpilot:quota:" + sessionID.String() + ":" + tool
}

// ReserveCooldown implements Ledger.
func (l *CacheLedger) ReserveCooldown(ctx context.Context, entityID, tool string, window time.Duration) (Reservation, error) {
	key := cooldownKey(entityID, tool)
	// A stamp can expire between SetNX and Get; one retry settles it.
	for attempt := 0; attempt < 2; attempt++ {
		expires := l.now().Add(window).UTC()
		ok, err := l.cache.SetNX(ctx, key, expires.Format(time.RFC3339Nano), window)
		if err != nil {
			return Reservation{}, fmt.Errorf("guardrail: reserve cooldown: %w", err)
		}
		if ok {
			return l.confirmStamp(ctx, key, entityID, tool, window, expires)
		}
		raw, found, err := l.cache.Get(ctx, key)
		if err != nil {
			return Reservation{}, fmt.Errorf("guardrail: read cooldown: %w", err)
		}
		if !found {
			continue
		}
		held, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			held = expires
		}
		return Reservation{ExpiresAt: held}, nil
	}
	return Reservation{ExpiresAt: l.now().Add(window).UTC()}, nil
}

// confirmStamp checks a freshly won stamp against the decision log. A
// recent executed decision re-seeds the stamp with its own expiry and
// denies; a failed lookup removes the stamp and fails closed.
func (l *CacheLedger) confirmStamp(ctx context.Context, key, entityID, tool string, window time.Duration, expires time.Time) (Reservation, error) {
	granted := Reservation{
		Granted:   true,
		ExpiresAt: expires,
		Release: func(ctx context.Context) error {
			return l.cache.Delete(ctx, key)
		},
	}
	if l.decisions == nil {
		return granted, nil
	}

	now := l.now()
	d, err := l.decisions.FindRecentDecision(ctx, entityID, tool, now.Add(-window))
	if errors.Is(err, storage.ErrNotFound) {
		return granted, nil
	}
	if err != nil {
		_ = l.cache.Delete(ctx, key)
		return Reservation{}, fmt.Errorf("guardrail: scan decision log: %w", err)
	}

	held := d.CreatedAt.Add(window).UTC()
	if remaining := held.Sub(now); remaining > 0 {
		if err := l.cache.Set(ctx, key, held.Format(time.RFC3339Nano), remaining); err != nil {
			return Reservation{}, fmt.Errorf("guardrail: seed cooldown: %w", err)
		}
	} else {
		_ = l.cache.Delete(ctx, key)
	}
	return Reservation{ExpiresAt: held}, nil
}

// ReserveCall implements Ledger.
func (l *CacheLedger) ReserveCall(ctx context.Context, sessionID uuid.UUID, tool string, limit int) (Reservation, error) {
	key := quotaKey(sessionID, tool)
	n, err := l.cache.IncrBy(ctx, key, 1, quotaTTL)
	if err != nil {
		return Reservation{}, fmt.Errorf("guardrail: reserve call: %w", err)
	}
	if limit > 0 && n > int64(limit) {
		if _, err := l.cache.IncrBy(ctx, key, -1, quotaTTL); err != nil {
			return Reservation{}, fmt.Errorf("guardrail: return call slot: %w", err)
		}
		return Reservation{Count: int(n - 1)}, nil
	}
	return Reservation{
		Granted: true,
		Count:   int(n),
		Release: func(ctx context.Context) error {
			_, err := l.cache.IncrBy(ctx, key, -1, quotaTTL)
			return err
		},
	}, nil
}

// CallCount reports how many calls to tool the session has been granted.
func (l *CacheLedger) CallCount(ctx context.Context, sessionID uuid.UUID, tool string) (int, error) {
	raw, ok, err := l.cache.Get(ctx, quotaKey(sessionID, tool))
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("guardrail: corrupt call counter: %w", err)
	}
	return n, nil
}

// DecisionFinder is the durable lookup DecisionLogLedger scans.
type DecisionFinder interface {
	FindRecentDecision(ctx context.Context, entityID, action string, since time.Time) (model.Decision, error)
}

// DecisionLogLedger derives cooldowns from the durable decision log. It
// cannot hold reservations: a cooldown is live when an executed decision on
// the same (entity, tool) falls inside the window, and quota is always
// reported as unconsumed.
type DecisionLogLedger struct {
	decisions DecisionFinder
	now       func() time.Time
}

// NewDecisionLogLedger creates a DecisionLogLedger over d.
func NewDecisionLogLedger(d DecisionFinder) *DecisionLogLedger {
	return &DecisionLogLedger{decisions: d, now: time.Now}
}

// ReserveCooldown implements Ledger.
func (l *DecisionLogLedger) ReserveCooldown(ctx context.Context, entityID, tool string, window time.Duration) (Reservation, error) {
	now := l.now()
	d, err := l.decisions.FindRecentDecision(ctx, entityID, tool, now.Add(-window))
	if errors.Is(err, storage.ErrNotFound) {
		return Reservation{Granted: true, ExpiresAt: now.Add(window).UTC()}, nil
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("guardrail: scan decision log: %w", err)
	}
	return Reservation{ExpiresAt: d.CreatedAt.Add(window).UTC()}, nil
}

// ReserveCall implements Ledger.
func (l *DecisionLogLedger) ReserveCall(context.Context, uuid.UUID, string, int) (Reservation, error) {
	return Reservation{Granted: true}, nil
}

// FailoverLedger routes to Primary and falls back to Fallback only when
// Primary reports cache.ErrUnavailable.
type FailoverLedger struct {
	Primary  Ledger
	Fallback Ledger
	Logger   *slog.Logger
}

// ReserveCooldown implements Ledger.
func (l *FailoverLedger) ReserveCooldown(ctx context.Context, entityID, tool string, window time.Duration) (Reservation, error) {
	r, err := l.Primary.ReserveCooldown(ctx, entityID, tool, window)
	if errors.Is(err, cache.ErrUnavailable) {
		l.degraded("cooldown", tool, err)
		return l.Fallback.ReserveCooldown(ctx, entityID, tool, window)
	}
	return r, err
}

// ReserveCall implements Ledger.
func (l *FailoverLedger) ReserveCall(ctx context.Context, sessionID uuid.UUID, tool string, limit int) (Reservation, error) {
	r, err := l.Primary.ReserveCall(ctx, sessionID, tool, limit)
	if errors.Is(err, cache.ErrUnavailable) {
		l.degraded("quota", tool, err)
		return l.Fallback.ReserveCall(ctx, sessionID, tool, limit)
	}
	return r, err
}

func (l *FailoverLedger) degraded(check, tool string, err error) {
	if l.Logger != nil {
		l.Logger.Warn("guardrail: cache unavailable, using decision log", "check", check, "tool", tool, "error", err)
	}
}

// NewLedger wires the standard ledger: the cache first, the decision log
// when the cache is down.
func NewLedger(c cache.Cache, d DecisionFinder, logger *slog.Logger) Ledger {
	return &FailoverLedger{
		Primary:  NewCacheLedger(c).WithDecisionLog(d),
		Fallback: NewDecisionLogLedger(d),
		Logger:   logger,
	}
}
