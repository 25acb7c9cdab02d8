package guardrail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/adpilot/internal/cache"
	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/storage"
	"github.com/ashita-ai/adpilot/internal/testutil"
	"github.com/ashita-ai/adpilot/internal/tools"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeFinder struct {
	mu        sync.Mutex
	decisions []model.Decision
	err       error
	calls     int
}

func (f *fakeFinder) FindRecentDecision(_ context.Context, entityID, action string, since time.Time) (model.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.Decision{}, f.err
	}
	for i := len(f.decisions) - 1; i >= 0; i-- {
		d := f.decisions[i]
		if d.EntityID == entityID && d.Action == action && d.Status == model.DecisionExecuted && !d.CreatedAt.Before(since) {
			return d, nil
		}
	}
	return model.Decision{}, storage.ErrNotFound
}

var (
	budgetTool = &tools.Tool{
		Spec:        mcplib.NewTool("update_budget"),
		Category:    model.CategoryCampaign,
		IsWrite:     true,
		EntityType:  model.EntityCampaign,
		EntityField: "campaign_id",
		Guardrails: tools.Guardrails{
			RequiredPermission: model.PermManageBudget,
			CooldownMinutes:    60,
			MaxCallsPerRun:     5,
			MaxChangePercent:   50,
			BudgetField:        "daily_budget",
			CurrentField:       "current_budget",
		},
	}
	statusTool = &tools.Tool{
		Spec:        mcplib.NewTool("update_campaign_status"),
		Category:    model.CategoryCampaign,
		IsWrite:     true,
		EntityType:  model.EntityCampaign,
		EntityField: "campaign_id",
		Guardrails:  tools.Guardrails{RequiredPermission: model.PermManageStatus, CooldownMinutes: 30, MaxCallsPerRun: 2},
	}
	readTool = &tools.Tool{
		Spec:     mcplib.NewTool("list_campaigns"),
		Category: model.CategoryData,
	}
)

type harness struct {
	engine *Engine
	cache  *cache.MemoryCache
	clock  *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	mc := cache.NewMemoryCache()
	mc.SetClock(clock.Now)
	t.Cleanup(func() { _ = mc.Close() })
	ledger := NewCacheLedger(mc)
	ledger.now = clock.Now
	return &harness{engine: New(ledger, testutil.TestLogger()), cache: mc, clock: clock}
}

func autoContext() *model.AgentContext {
	return &model.AgentContext{
		SessionID: uuid.New(),
		AgentID:   "exec-1",
		OrgID:     uuid.New(),
		Role:      model.RoleExecutor,
		Mode:      model.ModeAuto,
		Permissions: map[string]bool{
			model.PermManageBudget: true,
			model.PermManageStatus: true,
		},
		Objectives: model.Objectives{MaxDailyBudget: 100},
	}
}

func TestCheck_Permission(t *testing.T) {
	h := newHarness(t)
	ac := autoContext()
	delete(ac.Permissions, model.PermManageBudget)

	res := h.engine.Check(context.Background(), budgetTool, map[string]any{"campaign_id": "c1", "daily_budget": 50.0}, ac)
	assert.False(t, res.Approved)
	assert.Contains(t, res.Reason, "manage_budget")
	assert.False(t, res.RequiresHumanApproval)
}

func TestCheck_ObserveModeBlocksExactlyTheWriteSet(t *testing.T) {
	h := newHarness(t)
	ac := autoContext()
	ac.Mode = model.ModeObserve

	for _, tool := range []*tools.Tool{budgetTool, statusTool, readTool} {
		res := h.engine.Check(context.Background(), tool, map[string]any{"campaign_id": "c1", "daily_budget": 50.0}, ac)
		assert.Equal(t, !tool.IsWrite, res.Approved, tool.Name())
		if tool.IsWrite {
			assert.Contains(t, res.Reason, "observe mode")
			assert.False(t, res.RequiresHumanApproval)
		}
	}
}

func TestCheck_SuggestModeFlagsHumanApproval(t *testing.T) {
	h := newHarness(t)
	ac := autoContext()
	ac.Mode = model.ModeSuggest

	res := h.engine.Check(context.Background(), statusTool, map[string]any{"campaign_id": "c1"}, ac)
	assert.False(t, res.Approved)
	assert.True(t, res.RequiresHumanApproval)

	res = h.engine.Check(context.Background(), readTool, nil, ac)
	assert.True(t, res.Approved)
}

func TestCheck_SuggestModeStillEnforcesBounds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ac := autoContext()
	ac.Mode = model.ModeSuggest

	res := h.engine.Check(ctx, budgetTool, map[string]any{"campaign_id": "c1", "daily_budget": 10000.0}, ac)
	assert.False(t, res.Approved)
	assert.False(t, res.RequiresHumanApproval)
	assert.Contains(t, res.Reason, "ceiling")

	res = h.engine.Check(ctx, budgetTool, map[string]any{"campaign_id": "c1", "daily_budget": 90.0, "current_budget": 40.0}, ac)
	assert.False(t, res.Approved)
	assert.False(t, res.RequiresHumanApproval)
	assert.Contains(t, res.Reason, "exceeds the 50% limit")

	res = h.engine.Check(ctx, budgetTool, map[string]any{"campaign_id": "c1", "daily_budget": 90.0, "current_budget": 80.0}, ac)
	assert.False(t, res.Approved)
	assert.True(t, res.RequiresHumanApproval)
	assert.Len(t, res.Warnings, 1)

	// Parked suggestions hold no cooldown or quota.
	_, found, err := h.cache.Get(ctx, cooldownKey("c1", "update_budget"))
	require.NoError(t, err)
	assert.False(t, found)
	n, err := NewCacheLedger(h.cache).CallCount(ctx, ac.SessionID, "update_budget")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCheck_BudgetBounds(t *testing.T) {
	cases := []struct {
		budget   float64
		approved bool
		warn     bool
	}{
		{0.5, false, false},
		{0.99, false, false},
		{1.0, true, false},
		{50, true, false},
		{80, true, false},
		{80.01, true, true},
		{100, true, true},
		{100.01, false, false},
		{150, false, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%.2f", tc.budget), func(t *testing.T) {
			h := newHarness(t)
			res := h.engine.Check(context.Background(), budgetTool,
				map[string]any{"campaign_id": "c1", "daily_budget": tc.budget}, autoContext())
			assert.Equal(t, tc.approved, res.Approved, res.Reason)
			assert.Equal(t, tc.warn, len(res.Warnings) > 0)
		})
	}
}

func TestCheck_NoCeilingOnlyEnforcesFloor(t *testing.T) {
	h := newHarness(t)
	ac := autoContext()
	ac.Objectives.MaxDailyBudget = 0

	res := h.engine.Check(context.Background(), budgetTool, map[string]any{"campaign_id": "c1", "daily_budget": 10000.0}, ac)
	assert.True(t, res.Approved)
	assert.Empty(t, res.Warnings)
}

func TestCheck_BudgetCeilingThenRetry(t *testing.T) {
	h := newHarness(t)
	ac := autoContext()
	ctx := context.Background()

	res := h.engine.Check(ctx, budgetTool, map[string]any{"campaign_id": "c1", "daily_budget": 150.0}, ac)
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "ceiling")

	res = h.engine.Check(ctx, budgetTool, map[string]any{"campaign_id": "c1", "daily_budget": 90.0}, ac)
	assert.True(t, res.Approved, res.Reason)
	assert.Len(t, res.Warnings, 1)
}

func TestCheck_CooldownWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	args := map[string]any{"campaign_id": "c1", "status": "PAUSED"}

	res := h.engine.Check(ctx, statusTool, args, autoContext())
	require.True(t, res.Approved)

	h.clock.Advance(29 * time.Minute)
	res = h.engine.Check(ctx, statusTool, args, autoContext())
	require.False(t, res.Approved)
	require.NotNil(t, res.CooldownExpiresAt)
	assert.Equal(t, time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC), res.CooldownExpiresAt.UTC())

	res = h.engine.Check(ctx, statusTool, map[string]any{"campaign_id": "c2"}, autoContext())
	assert.True(t, res.Approved, "cooldown is per entity")

	h.clock.Advance(time.Minute)
	res = h.engine.Check(ctx, statusTool, args, autoContext())
	assert.True(t, res.Approved, "window elapsed")
}

func TestCheck_QuotaPerSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ac := autoContext()

	for i := 0; i < 2; i++ {
		res := h.engine.Check(ctx, statusTool, map[string]any{"campaign_id": fmt.Sprintf("c%d", i)}, ac)
		require.True(t, res.Approved, res.Reason)
	}
	res := h.engine.Check(ctx, statusTool, map[string]any{"campaign_id": "c9"}, ac)
	assert.False(t, res.Approved)
	assert.Contains(t, res.Reason, "limit of 2")

	res = h.engine.Check(ctx, statusTool, map[string]any{"campaign_id": "c9"}, autoContext())
	assert.True(t, res.Approved, "quota rejection released the cooldown; a new session has fresh quota")
}

func TestCheck_ChangeMagnitudeReleasesReservations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ac := autoContext()

	res := h.engine.Check(ctx, budgetTool, map[string]any{"campaign_id": "c1", "daily_budget": 80.0, "current_budget": 40.0}, ac)
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "100.0%")

	n, err := NewCacheLedger(h.cache).CallCount(ctx, ac.SessionID, "update_budget")
	require.NoError(t, err)
	assert.Zero(t, n, "rejected call consumed no quota")

	res = h.engine.Check(ctx, budgetTool, map[string]any{"campaign_id": "c1", "daily_budget": 55.0, "current_budget": 40.0}, ac)
	assert.True(t, res.Approved, "rejected call left no cooldown stamp: %s", res.Reason)

	n, err = NewCacheLedger(h.cache).CallCount(ctx, ac.SessionID, "update_budget")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCheck_ApprovalCountsUnlimitedTools(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ac := autoContext()

	for i := 0; i < 3; i++ {
		require.True(t, h.engine.Check(ctx, readTool, nil, ac).Approved)
	}
	n, err := NewCacheLedger(h.cache).CallCount(ctx, ac.SessionID, "list_campaigns")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCheck_ConcurrentCooldownSingleWinner(t *testing.T) {
	h := newHarness(t)
	var approved atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.engine.Check(context.Background(), statusTool, map[string]any{"campaign_id": "hot"}, autoContext())
			if res.Approved {
				approved.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), approved.Load())
}

func TestCheck_ConcurrentQuotaExact(t *testing.T) {
	h := newHarness(t)
	ac := autoContext()
	var approved atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := h.engine.Check(context.Background(), budgetTool,
				map[string]any{"campaign_id": fmt.Sprintf("c%d", i), "daily_budget": 10.0}, ac)
			if res.Approved {
				approved.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(5), approved.Load())
}

func TestCheck_CacheOutageFallsBackToDecisionLog(t *testing.T) {
	ctx := context.Background()
	args := map[string]any{"campaign_id": "c1", "daily_budget": 60.0}

	// Cache-backed verdict after an approved call.
	h := newHarness(t)
	require.True(t, h.engine.Check(ctx, budgetTool, args, autoContext()).Approved)
	h.clock.Advance(10 * time.Minute)
	cached := h.engine.Check(ctx, budgetTool, args, autoContext())

	// Same history, cache down: only the durable log knows about it.
	now := time.Date(2026, 10, 1, 9, 10, 0, 0, time.UTC)
	finder := &fakeFinder{decisions: []model.Decision{{
		ID: uuid.New(), Action: "update_budget", EntityID: "c1", Status: model.DecisionExecuted,
		CreatedAt: now.Add(-10 * time.Minute),
	}}}
	fallback := NewDecisionLogLedger(finder)
	fallback.now = func() time.Time { return now }
	engine := New(&FailoverLedger{Primary: NewCacheLedger(cache.Unavailable{}), Fallback: fallback, Logger: testutil.TestLogger()},
		testutil.TestLogger())
	degraded := engine.Check(ctx, budgetTool, args, autoContext())

	assert.False(t, cached.Approved)
	assert.False(t, degraded.Approved)
	require.NotNil(t, cached.CooldownExpiresAt)
	require.NotNil(t, degraded.CooldownExpiresAt)
	assert.True(t, cached.CooldownExpiresAt.Equal(*degraded.CooldownExpiresAt))
	assert.Equal(t, cached.Reason, degraded.Reason)
	assert.Equal(t, 1, finder.calls)
}

func TestCheck_ColdCacheConsultsDecisionLog(t *testing.T) {
	ctx := context.Background()
	args := map[string]any{"campaign_id": "c1", "daily_budget": 60.0}

	// A restarted process: empty cache, but the log holds a write from 10m ago.
	h := newHarness(t)
	now := h.clock.Now()
	finder := &fakeFinder{decisions: []model.Decision{{
		ID: uuid.New(), Action: "update_budget", EntityID: "c1", Status: model.DecisionExecuted,
		CreatedAt: now.Add(-10 * time.Minute),
	}}}
	ledger := NewCacheLedger(h.cache).WithDecisionLog(finder)
	ledger.now = h.clock.Now
	engine := New(ledger, testutil.TestLogger())

	res := engine.Check(ctx, budgetTool, args, autoContext())
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "cooldown")
	require.NotNil(t, res.CooldownExpiresAt)
	assert.True(t, now.Add(50*time.Minute).Equal(*res.CooldownExpiresAt))
	assert.Equal(t, 1, finder.calls)

	// The stamp is re-seeded, so the next check is answered by the cache.
	res = engine.Check(ctx, budgetTool, args, autoContext())
	assert.False(t, res.Approved)
	assert.Equal(t, 1, finder.calls)

	h.clock.Advance(51 * time.Minute)
	res = engine.Check(ctx, budgetTool, args, autoContext())
	assert.True(t, res.Approved, res.Reason)

	res = engine.Check(ctx, budgetTool, map[string]any{"campaign_id": "c2", "daily_budget": 60.0}, autoContext())
	assert.True(t, res.Approved, "no history for c2: %s", res.Reason)
}

func TestCacheLedger_DecisionLogErrorFailsClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ledger := NewCacheLedger(h.cache).WithDecisionLog(&fakeFinder{err: errors.New("db down")})

	_, err := ledger.ReserveCooldown(ctx, "c1", "update_budget", time.Hour)
	require.Error(t, err)

	_, found, err := h.cache.Get(ctx, cooldownKey("c1", "update_budget"))
	require.NoError(t, err)
	assert.False(t, found, "failed lookup leaves no stamp behind")
}

func TestCheck_CacheOutageQuotaUnconsumed(t *testing.T) {
	finder := &fakeFinder{}
	engine := New(NewLedger(cache.Unavailable{}, finder, testutil.TestLogger()), testutil.TestLogger())
	ac := autoContext()
	for i := 0; i < 4; i++ {
		res := engine.Check(context.Background(), statusTool, map[string]any{"campaign_id": fmt.Sprintf("c%d", i)}, ac)
		assert.True(t, res.Approved, res.Reason)
	}
}

func TestCheck_LedgerFailureRejects(t *testing.T) {
	finder := &fakeFinder{err: errors.New("db down")}
	engine := New(NewLedger(cache.Unavailable{}, finder, testutil.TestLogger()), testutil.TestLogger())

	res := engine.Check(context.Background(), statusTool, map[string]any{"campaign_id": "c1"}, autoContext())
	assert.False(t, res.Approved)
	assert.Contains(t, res.Reason, "unavailable")
}

type brokenLedger struct{ err error }

func (b brokenLedger) ReserveCooldown(context.Context, string, string, time.Duration) (Reservation, error) {
	return Reservation{}, b.err
}

func (b brokenLedger) ReserveCall(context.Context, uuid.UUID, string, int) (Reservation, error) {
	return Reservation{}, b.err
}

func TestFailoverLedger_OnlyOnUnavailable(t *testing.T) {
	finder := &fakeFinder{}
	l := &FailoverLedger{Primary: brokenLedger{err: errors.New("corrupt value")}, Fallback: NewDecisionLogLedger(finder)}

	_, err := l.ReserveCooldown(context.Background(), "c1", "update_budget", time.Hour)
	assert.EqualError(t, err, "corrupt value")
	assert.Zero(t, finder.calls)

	l.Primary = brokenLedger{err: fmt.Errorf("%w: timeout", cache.ErrUnavailable)}
	r, err := l.ReserveCooldown(context.Background(), "c1", "update_budget", time.Hour)
	require.NoError(t, err)
	assert.True(t, r.Granted)
	assert.Equal(t, 1, finder.calls)
}

func TestCacheLedger_ReserveCall(t *testing.T) {
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	l := NewCacheLedger(mc)
	ctx := context.Background()
	sid := uuid.New()

	r1, err := l.ReserveCall(ctx, sid, "t", 1)
	require.NoError(t, err)
	assert.True(t, r1.Granted)
	assert.Equal(t, 1, r1.Count)

	r2, err := l.ReserveCall(ctx, sid, "t", 1)
	require.NoError(t, err)
	assert.False(t, r2.Granted)
	assert.Equal(t, 1, r2.Count)

	require.NoError(t, r1.release(ctx))
	n, err := l.CallCount(ctx, sid, "t")
	require.NoError(t, err)
	assert.Zero(t, n)
}
