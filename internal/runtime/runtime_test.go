package runtime_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/adpilot/internal/cache"
	"github.com/ashita-ai/adpilot/internal/catalog"
	"github.com/ashita-ai/adpilot/internal/guardrail"
	"github.com/ashita-ai/adpilot/internal/llm"
	"github.com/ashita-ai/adpilot/internal/llm/llmtest"
	"github.com/ashita-ai/adpilot/internal/memory"
	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/platform"
	"github.com/ashita-ai/adpilot/internal/platform/platformtest"
	"github.com/ashita-ai/adpilot/internal/runtime"
	"github.com/ashita-ai/adpilot/internal/storage"
	"github.com/ashita-ai/adpilot/internal/storage/sqlite"
	"github.com/ashita-ai/adpilot/internal/testutil"
	"github.com/ashita-ai/adpilot/internal/tools"
)

type harness struct {
	rt     *runtime.Runtime
	script *llmtest.Script
	fake   *platformtest.Fake
	mem    *memory.Service
	orgID  uuid.UUID
}

func newHarness(t *testing.T, script *llmtest.Script) *harness {
	t.Helper()
	logger := testutil.TestLogger()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "runtime.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	mem := memory.New(store, mc, memory.Config{}, logger)
	fake := platformtest.New().
		AddCampaign("act_1", platform.Campaign{ID: "cmp-1", Name: "Prospecting", Status: "ACTIVE", DailyBudget: 100}).
		AddInsight("act_1", platform.Insight{EntityID: "cmp-1", Spend: 700, Revenue: 2800, ROAS: 4})

	reg := tools.NewRegistry(logger)
	catalog.Register(reg, fake, mem)
	guard := guardrail.New(guardrail.NewLedger(mc, mem, logger), logger)

	return &harness{
		rt:     runtime.New(script, reg, guard, mem, runtime.Config{}, logger),
		script: script,
		fake:   fake,
		mem:    mem,
		orgID:  uuid.New(),
	}
}

func (h *harness) request(mode model.Mode, msg string) runtime.RunRequest {
	return runtime.RunRequest{
		Profile: runtime.Profile{
			Role:         model.RoleExecutor,
			SystemPrompt: "You manage ad campaigns.",
			DefaultTask:  func(*model.AgentContext) string { return "Review the account." },
		},
		Config: model.AgentConfig{
			AgentID: "exec-1",
			Mode:    mode,
			Permissions: map[string]bool{
				model.PermManageBudget: true,
				model.PermManageStatus: true,
			},
			Accounts:   []model.AccountRef{{Channel: platform.ChannelMeta, AccountID: "act_1"}},
			Objectives: model.Objectives{MaxDailyBudget: 100},
		},
		OrgID:       h.orgID,
		Message:     msg,
		Credentials: map[string]model.Credentials{platform.ChannelMeta: {AccessToken: "tok"}},
	}
}

func budgetCall(id string, amount float64) llmtest.Turn {
	return llmtest.Calls(llmtest.Call(id, "update_budget", map[string]any{
		"channel": "meta", "account_id": "act_1", "campaign_id": "cmp-1",
		"daily_budget": amount, "current_budget": 100.0, "reason": "scale winner",
	}))
}

func listCall(id string) llm.FunctionCall {
	return llmtest.Call(id, "list_campaigns", map[string]any{"channel": "meta", "account_id": "act_1"})
}

func TestRun_ModelNotConfigured(t *testing.T) {
	h := newHarness(t, llmtest.New().Unconfigured())

	res := h.rt.Run(context.Background(), h.request(model.ModeAuto, "hello"))

	assert.Equal(t, model.RunStatusFailed, res.Status)
	assert.Contains(t, res.Error, "not configured")
	assert.Zero(t, h.script.Sends())
	_, err := h.mem.GetSession(context.Background(), h.orgID, res.SessionID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "no session is created for a setup fault")
}

func TestRun_InvalidConfig(t *testing.T) {
	h := newHarness(t, llmtest.New(llmtest.Text("done")))
	req := h.request(model.ModeAuto, "hello")
	req.Config.AgentID = ""

	res := h.rt.Run(context.Background(), req)

	assert.Equal(t, model.RunStatusFailed, res.Status)
	assert.Contains(t, res.Error, "agent_id is required")
	assert.Zero(t, h.script.Sends())
}

func TestRun_TextOnlyCompletes(t *testing.T) {
	h := newHarness(t, llmtest.New(llmtest.Text("All campaigns look healthy.")))

	res := h.rt.Run(context.Background(), h.request(model.ModeObserve, ""))

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	assert.Equal(t, "All campaigns look healthy.", res.Summary)
	assert.Equal(t, 1, res.TotalIterations)
	assert.Empty(t, res.ToolCalls)

	msgs := h.script.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Review the account.", msgs[0].Text, "default task opens the conversation")

	cfgs := h.script.Configs()
	require.Len(t, cfgs, 1)
	assert.Contains(t, cfgs[0].SystemInstruction, "You manage ad campaigns.")
	assert.Contains(t, cfgs[0].SystemInstruction, "Mode: observe")
	assert.Contains(t, cfgs[0].SystemInstruction, "meta/act_1")
	assert.NotEmpty(t, cfgs[0].Tools)

	sess, err := h.mem.GetSession(context.Background(), h.orgID, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, sess.Status)
	assert.Equal(t, model.TriggerScheduled, sess.Trigger)
	assert.Equal(t, "All campaigns look healthy.", sess.Summary)
}

// Observe mode: the pause is blocked, the run still completes, and nothing
// is recorded as a decision.
func TestRun_ObserveModeBlocksWrite(t *testing.T) {
	h := newHarness(t, llmtest.New(
		llmtest.Calls(llmtest.Call("c1", "update_campaign_status", map[string]any{
			"channel": "meta", "account_id": "act_1", "campaign_id": "cmp-1", "status": "PAUSED",
		})),
		llmtest.Text("I cannot pause cmp-1 in observe mode."),
	))

	res := h.rt.Run(context.Background(), h.request(model.ModeObserve, "pause campaign cmp-1"))

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	assert.Equal(t, "I cannot pause cmp-1 in observe mode.", res.Summary)
	require.Len(t, res.ToolCalls, 1)
	rec := res.ToolCalls[0]
	assert.False(t, rec.Success)
	assert.False(t, rec.Guardrail.Approved)
	assert.Contains(t, rec.Guardrail.Reason, "observe mode")
	assert.Empty(t, res.Decisions)
	assert.Empty(t, h.fake.OpsNamed("UpdateStatus"))

	msgs := h.script.Messages()
	require.Len(t, msgs, 2)
	require.Len(t, msgs[1].FunctionResponses, 1)
	payload := msgs[1].FunctionResponses[0].Response
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, true, payload["blocked"])

	ds, err := h.mem.RecentDecisions(context.Background(), model.DecisionFilter{OrgID: h.orgID})
	require.NoError(t, err)
	assert.Empty(t, ds)
}

// Ceiling rejection then a retry under the ceiling: one decision.
func TestRun_BudgetCeilingThenRetry(t *testing.T) {
	h := newHarness(t, llmtest.New(
		budgetCall("c1", 150),
		budgetCall("c2", 90),
		llmtest.Text("Budget set to 90."),
	))

	res := h.rt.Run(context.Background(), h.request(model.ModeAuto, "set cmp-1 budget to 150"))

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	assert.Equal(t, 3, res.TotalIterations)
	require.Len(t, res.ToolCalls, 2)
	assert.False(t, res.ToolCalls[0].Success)
	assert.Contains(t, res.ToolCalls[0].Guardrail.Reason, "ceiling")
	assert.True(t, res.ToolCalls[1].Success, res.ToolCalls[1].Error)

	require.Len(t, res.Decisions, 1)
	d := res.Decisions[0]
	assert.Equal(t, "update_budget", d.Action)
	assert.Equal(t, "cmp-1", d.EntityID)
	assert.Equal(t, model.EntityCampaign, d.EntityType)
	assert.Equal(t, model.DecisionExecuted, d.Status)
	assert.Equal(t, "scale winner", d.Reason)

	camp, ok := h.fake.Campaign("act_1", "cmp-1")
	require.True(t, ok)
	assert.Equal(t, 90.0, camp.DailyBudget)

	ds, err := h.mem.RecentDecisions(context.Background(), model.DecisionFilter{OrgID: h.orgID, Action: "update_budget"})
	require.NoError(t, err)
	assert.Len(t, ds, 1)
}

func TestRun_MaxIterations(t *testing.T) {
	h := newHarness(t, llmtest.New().WithDefault(llmtest.Calls(listCall("again"))))
	req := h.request(model.ModeObserve, "keep looking")
	req.Config.Limits.MaxIterations = 3

	res := h.rt.Run(context.Background(), req)

	assert.Equal(t, model.RunStatusMaxIterations, res.Status)
	assert.Equal(t, 3, res.TotalIterations)
	assert.Len(t, res.ToolCalls, 3)
	assert.Equal(t, 3, h.script.Sends())

	sess, err := h.mem.GetSession(context.Background(), h.orgID, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusMaxIterations, sess.Status)
	assert.Len(t, sess.ToolCalls, 3)
}

func TestRun_ModelFailureKeepsPartialHistory(t *testing.T) {
	h := newHarness(t, llmtest.New(
		llmtest.Calls(listCall("c1")),
		llmtest.Fail(errors.New("upstream 503")),
	))

	res := h.rt.Run(context.Background(), h.request(model.ModeObserve, "look"))

	assert.Equal(t, model.RunStatusFailed, res.Status)
	assert.Contains(t, res.Error, "upstream 503")
	assert.Equal(t, 1, res.TotalIterations)
	require.Len(t, res.ToolCalls, 1)
	assert.True(t, res.ToolCalls[0].Success)

	sess, err := h.mem.GetSession(context.Background(), h.orgID, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, sess.Status)
	assert.Contains(t, sess.Error, "upstream 503")
	assert.Len(t, sess.ToolCalls, 1)
}

func TestRun_BatchSiblingsIsolated(t *testing.T) {
	h := newHarness(t, llmtest.New(
		llmtest.Calls(
			listCall("c1"),
			llmtest.Call("c2", "delete_everything", nil),
			llmtest.Call("c3", "get_creative_performance", map[string]any{
				"channel": "meta", "account_id": "act_1", "campaign_id": "cmp-1",
			}),
			llmtest.Call("c4", "get_account_summary", map[string]any{"channel": "meta", "account_id": "act_1"}),
		),
		llmtest.Text("done"),
	))
	h.fake.Fail("GetInsights", errors.New("rate limited"))

	res := h.rt.Run(context.Background(), h.request(model.ModeObserve, "look"))

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	require.Len(t, res.ToolCalls, 4)
	ids := []string{res.ToolCalls[0].ID, res.ToolCalls[1].ID, res.ToolCalls[2].ID, res.ToolCalls[3].ID}
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, ids, "results keep the model's order")

	assert.True(t, res.ToolCalls[0].Success)
	assert.False(t, res.ToolCalls[1].Success)
	assert.Contains(t, res.ToolCalls[1].Error, "unknown tool")
	assert.Empty(t, res.ToolCalls[1].Guardrail.Reason)
	assert.False(t, res.ToolCalls[2].Success)
	assert.Equal(t, "rate limited", res.ToolCalls[2].Error)
	assert.True(t, res.ToolCalls[3].Success)

	msgs := h.script.Messages()
	require.Len(t, msgs, 2)
	require.Len(t, msgs[1].FunctionResponses, 4)
	for i, fr := range msgs[1].FunctionResponses {
		assert.Equal(t, ids[i], fr.ID)
	}
	unknown := msgs[1].FunctionResponses[1].Response
	assert.NotContains(t, unknown, "blocked", "an unknown tool is an error, not a guardrail block")
	assert.Contains(t, unknown["error"], "unknown tool")
}

func TestRun_SuggestModeRecordsPendingDecision(t *testing.T) {
	h := newHarness(t, llmtest.New(
		budgetCall("c1", 90),
		llmtest.Text("Proposed a budget of 90."),
	))

	res := h.rt.Run(context.Background(), h.request(model.ModeSuggest, "trim cmp-1"))

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	require.Len(t, res.ToolCalls, 1)
	assert.False(t, res.ToolCalls[0].Success)
	assert.True(t, res.ToolCalls[0].Guardrail.RequiresHumanApproval)
	assert.Empty(t, h.fake.OpsNamed("UpdateBudget"))

	require.Len(t, res.Decisions, 1)
	assert.Equal(t, model.DecisionPendingApproval, res.Decisions[0].Status)
	assert.Equal(t, "cmp-1", res.Decisions[0].EntityID)

	payload := h.script.Messages()[1].FunctionResponses[0].Response
	assert.Equal(t, true, payload["requires_human_approval"])
}

func TestRun_SuggestModeOverCeilingIsNotParked(t *testing.T) {
	h := newHarness(t, llmtest.New(
		budgetCall("c1", 10000),
		llmtest.Text("Proposed a budget of 10000."),
	))

	res := h.rt.Run(context.Background(), h.request(model.ModeSuggest, "scale cmp-1"))

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	require.Len(t, res.ToolCalls, 1)
	assert.False(t, res.ToolCalls[0].Guardrail.RequiresHumanApproval)
	assert.Contains(t, res.ToolCalls[0].Guardrail.Reason, "ceiling")
	assert.Empty(t, res.Decisions)

	payload := h.script.Messages()[1].FunctionResponses[0].Response
	assert.Equal(t, true, payload["blocked"])
	assert.NotContains(t, payload, "requires_human_approval")
}

func TestRun_InvalidArgsTakeNoCooldown(t *testing.T) {
	bad := map[string]any{
		"channel": "meta", "account_id": "act_1", "campaign_id": "cmp-1",
		"daily_budget": "90", "current_budget": 100.0, "reason": "scale winner",
	}
	h := newHarness(t, llmtest.New(
		llmtest.Calls(llmtest.Call("c1", "update_budget", bad)),
		budgetCall("c2", 90),
		llmtest.Text("done"),
	))

	res := h.rt.Run(context.Background(), h.request(model.ModeAuto, "trim cmp-1"))

	require.Equal(t, model.RunStatusCompleted, res.Status, res.Error)
	require.Len(t, res.ToolCalls, 2)
	assert.False(t, res.ToolCalls[0].Success)
	assert.Contains(t, res.ToolCalls[0].Error, "must be a number")
	assert.Empty(t, res.ToolCalls[0].Guardrail.Reason)
	assert.True(t, res.ToolCalls[1].Success, res.ToolCalls[1].Error)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, model.DecisionExecuted, res.Decisions[0].Status)
	assert.Len(t, h.fake.OpsNamed("UpdateBudget"), 1)
}

func TestRun_NextRunSeesDecisions(t *testing.T) {
	h := newHarness(t, llmtest.New(
		budgetCall("c1", 90),
		llmtest.Text("Budget lowered."),
		llmtest.Text("Nothing else to do."),
	))

	first := h.rt.Run(context.Background(), h.request(model.ModeAuto, "lower cmp-1"))
	require.Equal(t, model.RunStatusCompleted, first.Status)

	second := h.rt.Run(context.Background(), h.request(model.ModeAuto, "anything else?"))
	require.Equal(t, model.RunStatusCompleted, second.Status)

	cfgs := h.script.Configs()
	require.Len(t, cfgs, 2)
	assert.NotContains(t, cfgs[0].SystemInstruction, "## Memory")
	prompt := cfgs[1].SystemInstruction
	assert.Contains(t, prompt, "## Memory")
	assert.Contains(t, prompt, "update_budget")
	assert.Contains(t, prompt, "cmp-1")
	assert.Contains(t, prompt, "Budget lowered.")
}

func TestRun_CooldownBlocksSecondChangeInSameRun(t *testing.T) {
	h := newHarness(t, llmtest.New(
		budgetCall("c1", 90),
		budgetCall("c2", 80),
		llmtest.Text("done"),
	))

	res := h.rt.Run(context.Background(), h.request(model.ModeAuto, "tune cmp-1"))

	require.Len(t, res.ToolCalls, 2)
	assert.True(t, res.ToolCalls[0].Success)
	assert.False(t, res.ToolCalls[1].Success)
	assert.Contains(t, res.ToolCalls[1].Guardrail.Reason, "cooldown")
	require.NotNil(t, res.ToolCalls[1].Guardrail.CooldownExpiresAt)
	assert.Len(t, res.Decisions, 1)

	payload := h.script.Messages()[2].FunctionResponses[0].Response
	assert.NotEmpty(t, payload["cooldown_expires_at"])
}

func TestRun_CancelledContextStillFinalizes(t *testing.T) {
	h := newHarness(t, llmtest.New(llmtest.Text("unreachable")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.rt.Run(ctx, h.request(model.ModeObserve, "look"))

	assert.Equal(t, model.RunStatusFailed, res.Status)
	sess, err := h.mem.GetSession(context.Background(), h.orgID, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, sess.Status)
}
