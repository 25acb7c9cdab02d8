package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "adpilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "adpilot.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)

	org := uuid.New()
	_, err = s.UpsertKnowledge(ctx, model.KnowledgeEntry{OrgID: org, Key: "k", Fact: "f", Confidence: 0.5})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	list, err := s.ListKnowledge(ctx, model.KnowledgeFilter{OrgID: org})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	org := uuid.New()
	sess := model.Session{ID: uuid.New(), OrgID: org, AgentID: "analyst-1", Role: model.RoleAnalyst, Trigger: model.TriggerUser}
	require.NoError(t, s.CreateSession(ctx, sess))

	require.NoError(t, s.AppendSessionToolCalls(ctx, sess.ID, []model.ToolCallRecord{
		{ID: "call_1", Name: "list_campaigns", Success: true},
		{ID: "call_2", Name: "get_campaign_insights", Success: false, Error: "boom"},
	}))
	require.NoError(t, s.AppendSessionToolCalls(ctx, sess.ID, []model.ToolCallRecord{{ID: "call_3", Name: "recall_knowledge"}}))
	require.NoError(t, s.FinalizeSession(ctx, sess.ID, model.SessionOutcome{
		Status: model.RunStatusCompleted, Summary: "all good", Iterations: 3, ToolCallCount: 3, DurationMs: 42,
	}))

	got, err := s.GetSession(ctx, org, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, model.RoleAnalyst, got.Role)
	assert.Equal(t, model.TriggerUser, got.Trigger)
	assert.Equal(t, "all good", got.Summary)
	assert.Equal(t, 3, got.Iterations)
	assert.Equal(t, int64(42), got.DurationMs)
	require.NotNil(t, got.CompletedAt)
	require.Len(t, got.ToolCalls, 3)
	assert.Equal(t, []string{"call_1", "call_2", "call_3"},
		[]string{got.ToolCalls[0].ID, got.ToolCalls[1].ID, got.ToolCalls[2].ID})
	assert.Equal(t, "boom", got.ToolCalls[1].Error)
}

func TestSession_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetSession(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.FinalizeSession(ctx, uuid.New(), model.SessionOutcome{Status: model.RunStatusFailed}), storage.ErrNotFound)
	assert.ErrorIs(t, s.AppendSessionToolCalls(ctx, uuid.New(), []model.ToolCallRecord{{ID: "x"}}), storage.ErrNotFound)
	assert.NoError(t, s.AppendSessionToolCalls(ctx, uuid.New(), nil))

	org := uuid.New()
	sess := model.Session{ID: uuid.New(), OrgID: org, AgentID: "a", Role: model.RoleExecutor, Trigger: model.TriggerAPI}
	require.NoError(t, s.CreateSession(ctx, sess))
	_, err = s.GetSession(ctx, uuid.New(), sess.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "sessions are org scoped")
}

func TestDecisions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	org := uuid.New()
	since := time.Now().Add(-time.Hour)

	_, err := s.FindRecentDecision(ctx, "cmp-1", "update_budget", since)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.CreateDecision(ctx, model.Decision{
		OrgID: org, AgentID: "exec", SessionID: uuid.New(), Action: "update_budget",
		EntityType: model.EntityCampaign, EntityID: "cmp-1", Status: model.DecisionPendingApproval,
	})
	require.NoError(t, err)
	_, err = s.FindRecentDecision(ctx, "cmp-1", "update_budget", since)
	assert.ErrorIs(t, err, storage.ErrNotFound, "pending decisions do not start a cooldown")

	old, err := s.CreateDecision(ctx, model.Decision{
		OrgID: org, AgentID: "exec", SessionID: uuid.New(), Action: "update_budget", EntityID: "cmp-1",
		Status: model.DecisionExecuted, CreatedAt: time.Now().Add(-2 * time.Hour),
	})
	require.NoError(t, err)
	_, err = s.FindRecentDecision(ctx, "cmp-1", "update_budget", since)
	assert.ErrorIs(t, err, storage.ErrNotFound, "decisions before since are ignored")

	d, err := s.CreateDecision(ctx, model.Decision{
		OrgID: org, AgentID: "exec", SessionID: uuid.New(), Action: "update_budget",
		EntityType: model.EntityCampaign, EntityID: "cmp-1", Channel: "meta", AccountID: "act_1",
		Reason: "scale winner", Input: map[string]any{"daily_budget": 120.0},
		Output: map[string]any{"previous": 100.0}, Status: model.DecisionExecuted,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, d.ID)

	got, err := s.FindRecentDecision(ctx, "cmp-1", "update_budget", since)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, model.EntityCampaign, got.EntityType)
	assert.Equal(t, 120.0, got.Input["daily_budget"])
	assert.Equal(t, map[string]any{"previous": 100.0}, got.Output)

	require.NoError(t, s.UpdateDecisionOutcome(ctx, org, d.ID, model.OutcomeNegative, "cpa spiked"))
	assert.ErrorIs(t, s.UpdateDecisionOutcome(ctx, uuid.New(), d.ID, model.OutcomePositive, ""), storage.ErrNotFound)

	all, err := s.ListDecisions(ctx, model.DecisionFilter{OrgID: org})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, d.ID, all[0].ID, "newest first")
	assert.Equal(t, old.ID, all[2].ID)
	require.NotNil(t, all[0].Outcome)
	assert.Equal(t, model.OutcomeNegative, *all[0].Outcome)
	assert.NotNil(t, all[0].EvaluatedAt)

	pending, err := s.ListDecisions(ctx, model.DecisionFilter{OrgID: org, Status: model.DecisionPendingApproval})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	limited, err := s.ListDecisions(ctx, model.DecisionFilter{OrgID: org, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	recent, err := s.ListDecisions(ctx, model.DecisionFilter{OrgID: org, Since: since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestUpsertKnowledge_BlendsConfidence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	org := uuid.New()

	first, err := s.UpsertKnowledge(ctx, model.KnowledgeEntry{
		OrgID: org, Key: "meta.weekend_cpa", Category: "performance", Fact: "CPA rises on weekends",
		Confidence: 0.6, Tags: []string{"meta"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.ValidationCount)
	assert.InDelta(t, 0.6, first.Confidence, 1e-9)

	second, err := s.UpsertKnowledge(ctx, model.KnowledgeEntry{
		OrgID: org, Key: "meta.weekend_cpa", Fact: "CPA rises 20% on weekends", Confidence: 1.0, Tags: []string{"cpa", "meta"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.ValidationCount)
	assert.InDelta(t, 0.8, second.Confidence, 1e-9)
	assert.Equal(t, "performance", second.Category, "empty category keeps the stored one")
	assert.Equal(t, []string{"meta", "cpa"}, second.Tags)

	third, err := s.UpsertKnowledge(ctx, model.KnowledgeEntry{OrgID: org, Key: "meta.weekend_cpa", Fact: "x", Confidence: 0.2})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, third.Confidence, 1e-9)
	assert.Equal(t, 3, third.ValidationCount)

	_, err = s.UpsertKnowledge(ctx, model.KnowledgeEntry{OrgID: uuid.New(), Key: "meta.weekend_cpa", Fact: "other org", Confidence: 0.9})
	require.NoError(t, err)
	list, err := s.ListKnowledge(ctx, model.KnowledgeFilter{OrgID: org})
	require.NoError(t, err)
	require.Len(t, list, 1, "knowledge is org scoped")
}

func TestListKnowledge_Filters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	org := uuid.New()
	for _, k := range []model.KnowledgeEntry{
		{Key: "tiktok.hook", Category: "creative", Fact: "Hooks under 3s win", Confidence: 0.9, Tags: []string{"tiktok", "video"}},
		{Key: "meta.cpm", Category: "performance", Fact: "CPM peaks in Q4", Confidence: 0.4, Tags: []string{"meta"}},
		{Key: "google.brand", Category: "performance", Fact: "Brand terms convert", Confidence: 0.7},
	} {
		k.OrgID = org
		_, err := s.UpsertKnowledge(ctx, k)
		require.NoError(t, err)
	}

	all, err := s.ListKnowledge(ctx, model.KnowledgeFilter{OrgID: org})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "tiktok.hook", all[0].Key, "highest confidence first")
	assert.Equal(t, "meta.cpm", all[2].Key)

	perf, err := s.ListKnowledge(ctx, model.KnowledgeFilter{OrgID: org, Category: "performance"})
	require.NoError(t, err)
	assert.Len(t, perf, 2)

	tagged, err := s.ListKnowledge(ctx, model.KnowledgeFilter{OrgID: org, Tag: "video"})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "tiktok.hook", tagged[0].Key)

	q, err := s.ListKnowledge(ctx, model.KnowledgeFilter{OrgID: org, Query: "q4"})
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.Equal(t, "meta.cpm", q[0].Key)

	confident, err := s.ListKnowledge(ctx, model.KnowledgeFilter{OrgID: org, MinConfidence: 0.5, Limit: 1})
	require.NoError(t, err)
	require.Len(t, confident, 1)
	assert.Equal(t, "tiktok.hook", confident[0].Key)
}
