package catalog_test

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
	"github.com/ashita-ai/adpilot/internal/memory"
	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/platform"
	"github.com/ashita-ai/adpilot/internal/platform/platformtest"
	"github.com/ashita-ai/adpilot/internal/storage/sqlite"
	"github.com/ashita-ai/adpilot/internal/testutil"
	"github.com/ashita-ai/adpilot/internal/tools"
)

type fixture struct {
	reg  *tools.Registry
	fake *platformtest.Fake
	mem  *memory.Service
	ac   *model.AgentContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	mem := memory.New(store, mc, memory.Config{}, testutil.TestLogger())
	fake := platformtest.New().
		AddCampaign("act_1", platform.Campaign{ID: "cmp-1", Name: "Prospecting", Status: "ACTIVE", DailyBudget: 100}).
		AddCampaign("act_1", platform.Campaign{ID: "cmp-2", Name: "Retargeting", Status: "PAUSED", DailyBudget: 40}).
		AddInsight("act_1", platform.Insight{EntityID: "cmp-1", Spend: 700, Revenue: 2800, ROAS: 4})

	reg := tools.NewRegistry(testutil.TestLogger())
	catalog.Register(reg, fake, mem)

	ac := &model.AgentContext{
		SessionID:   uuid.New(),
		AgentID:     "exec-1",
		OrgID:       uuid.New(),
		Role:        model.RoleExecutor,
		Mode:        model.ModeAuto,
		Accounts:    []model.AccountRef{{Channel: platform.ChannelMeta, AccountID: "act_1"}},
		Credentials: map[string]model.Credentials{platform.ChannelMeta: {AccessToken: "tok"}},
	}
	return &fixture{reg: reg, fake: fake, mem: mem, ac: ac}
}

func TestCatalog_Metadata(t *testing.T) {
	f := newFixture(t)

	writes := map[string]bool{
		"update_budget": true, "update_campaign_status": true, "update_bid": true,
		"create_campaign": true, "create_creative": true, "upload_media": true,
	}
	assert.Equal(t, []string{
		"create_campaign", "create_creative", "get_account_summary", "get_campaign_insights",
		"get_creative_performance", "list_campaigns", "list_creatives", "query_decisions",
		"recall_knowledge", "save_knowledge", "update_bid", "update_budget", "update_campaign_status", "upload_media",
	}, f.reg.Names())

	for _, name := range f.reg.Names() {
		tool, ok := f.reg.Get(name)
		require.True(t, ok)
		assert.Equal(t, writes[name], tool.IsWrite, name)
		if tool.IsWrite {
			assert.NotEmpty(t, tool.Guardrails.RequiredPermission, name)
			assert.NotEqual(t, model.EntityNone, tool.EntityType, name)
			assert.Positive(t, tool.Guardrails.MaxCallsPerRun, name)
		}
		if tool.Guardrails.CooldownMinutes > 0 {
			assert.NotEmpty(t, tool.EntityField, "%s: cooldowns need an entity", name)
		}
	}
}

func TestCatalog_ArrayParametersDeclareItems(t *testing.T) {
	f := newFixture(t)
	tool, ok := f.reg.Get("save_knowledge")
	require.True(t, ok)
	props := tool.Parameters()["properties"].(map[string]any)
	tags := props["tags"].(map[string]any)
	assert.Equal(t, "array", tags["type"])
	assert.Equal(t, map[string]any{"type": "string"}, tags["items"])
}

func TestListCampaigns(t *testing.T) {
	f := newFixture(t)
	rec := f.reg.Execute(context.Background(), "c1", "list_campaigns",
		map[string]any{"channel": "meta", "account_id": "act_1", "status": "ACTIVE"}, f.ac)
	require.True(t, rec.Success, rec.Error)
	camps := rec.Result.([]platform.Campaign)
	require.Len(t, camps, 1)
	assert.Equal(t, "cmp-1", camps[0].ID)

	rec = f.reg.Execute(context.Background(), "c2", "list_campaigns",
		map[string]any{"channel": "meta", "account_id": "act_1", "status": "ALL"}, f.ac)
	require.True(t, rec.Success, rec.Error)
	assert.Len(t, rec.Result.([]platform.Campaign), 2)
}

func TestAccountScopeEnforced(t *testing.T) {
	f := newFixture(t)
	rec := f.reg.Execute(context.Background(), "c1", "get_account_summary",
		map[string]any{"channel": "meta", "account_id": "act_other"}, f.ac)
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "not in this agent's scope")
	assert.Empty(t, f.fake.Ops())
}

func TestMissingCredentials(t *testing.T) {
	f := newFixture(t)
	f.ac.Accounts = append(f.ac.Accounts, model.AccountRef{Channel: "google", AccountID: "g-1"})
	rec := f.reg.Execute(context.Background(), "c1", "list_campaigns",
		map[string]any{"channel": "google", "account_id": "g-1"}, f.ac)
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "no credentials")
}

func TestUpdateBudget(t *testing.T) {
	f := newFixture(t)
	rec := f.reg.Execute(context.Background(), "c1", "update_budget", map[string]any{
		"channel": "meta", "account_id": "act_1", "campaign_id": "cmp-1", "daily_budget": 120.0, "current_budget": 100.0,
	}, f.ac)
	require.True(t, rec.Success, rec.Error)
	mut := rec.Result.(platform.Mutation)
	assert.Equal(t, 100.0, mut.Previous)
	assert.Equal(t, 120.0, mut.Current)

	camp, ok := f.fake.Campaign("act_1", "cmp-1")
	require.True(t, ok)
	assert.Equal(t, 120.0, camp.DailyBudget)
}

func TestUpdateStatus_InvalidEnumNeverReachesPlatform(t *testing.T) {
	f := newFixture(t)
	rec := f.reg.Execute(context.Background(), "c1", "update_campaign_status", map[string]any{
		"channel": "meta", "account_id": "act_1", "campaign_id": "cmp-1", "status": "DELETED",
	}, f.ac)
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "must be one of")
	assert.Empty(t, f.fake.OpsNamed("UpdateStatus"))
}

func TestPlatformFailureBecomesRecord(t *testing.T) {
	f := newFixture(t)
	f.fake.Fail("GetInsights", errors.New("rate limited"))
	rec := f.reg.Execute(context.Background(), "c1", "get_creative_performance",
		map[string]any{"channel": "meta", "account_id": "act_1", "campaign_id": "cmp-1"}, f.ac)
	assert.False(t, rec.Success)
	assert.Equal(t, "rate limited", rec.Error)
}

func TestKnowledgeTools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.reg.Execute(ctx, "c1", "save_knowledge", map[string]any{
		"key": "meta.weekend_cpa", "fact": "CPA is higher on weekends", "category": "performance",
		"confidence": 0.7, "tags": []any{"meta", "cpa"},
	}, f.ac)
	require.True(t, rec.Success, rec.Error)
	saved := rec.Result.(model.KnowledgeEntry)
	assert.Equal(t, "agent:exec-1", saved.Source)
	assert.Equal(t, f.ac.OrgID, saved.OrgID)

	rec = f.reg.Execute(ctx, "c2", "recall_knowledge", map[string]any{"tag": "cpa"}, f.ac)
	require.True(t, rec.Success, rec.Error)
	entries := rec.Result.([]model.KnowledgeEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, "CPA is higher on weekends", entries[0].Fact)

	other := *f.ac
	other.OrgID = uuid.New()
	rec = f.reg.Execute(ctx, "c3", "recall_knowledge", map[string]any{}, &other)
	require.True(t, rec.Success, rec.Error)
	assert.Empty(t, rec.Result.([]model.KnowledgeEntry), "knowledge is org scoped")
}

func TestQueryDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mem.RecordDecision(ctx, model.Decision{
		OrgID: f.ac.OrgID, AgentID: "exec-1", SessionID: uuid.New(), Action: "update_budget", EntityID: "cmp-1",
	})
	require.NoError(t, err)

	rec := f.reg.Execute(ctx, "c1", "query_decisions", map[string]any{"entity_id": "cmp-1", "days": 1.0}, f.ac)
	require.True(t, rec.Success, rec.Error)
	ds := rec.Result.([]model.Decision)
	require.Len(t, ds, 1)
	assert.Equal(t, "update_budget", ds[0].Action)
}
