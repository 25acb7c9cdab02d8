// Package agents configures the shared runtime for each role. A role is
// data: a prompt, a default task and a tool filter. There is one engine.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/runtime"
	"github.com/ashita-ai/adpilot/internal/tools"
)

// RecommendationsHint tells a role how to end its answer so the
// orchestrator can parse it.
const RecommendationsHint = "End your answer with a fenced ```json block holding an array of recommendations. " +
	`Each item has "action" (a tool name such as update_budget or update_campaign_status), ` +
	`"entity_type", "entity_id", "channel", "account_id", "reason", "priority" (high, medium or low) ` +
	`and "params" (the tool arguments you propose). Use an empty array when nothing should change.`

var profiles = map[model.Role]runtime.Profile{
	model.RoleAnalyst: {
		Role: model.RoleAnalyst,
		SystemPrompt: "You are the performance analyst for a set of advertising accounts. " +
			"Read campaign, insight and creative data, compare it with the objectives, and identify " +
			"what is working and what is wasting spend. Check recent decisions before recommending a change " +
			"so you do not repeat or reverse one made in the last few days. Save durable observations as knowledge. " +
			"You cannot change anything.\n\n" + RecommendationsHint,
		DefaultTask: func(ac *model.AgentContext) string {
			return fmt.Sprintf("Analyze the last 7 days of performance for %s against the objectives and recommend changes.",
				accountList(ac))
		},
		Filter: tools.Filter{
			Categories: []model.Category{model.CategoryData, model.CategoryCampaign, model.CategoryMaterial, model.CategoryMemory},
			ReadOnly:   true,
		},
	},
	model.RolePlanner: {
		Role: model.RolePlanner,
		SystemPrompt: "You are the media planner. Turn objectives and recent performance into a budget and " +
			"campaign plan: allocation across channels and campaigns, pacing, and tests worth running. " +
			"Ground every number in data you have read. You cannot change anything.\n\n" + RecommendationsHint,
		DefaultTask: func(ac *model.AgentContext) string {
			return fmt.Sprintf("Draft next week's budget allocation plan for %s.", accountList(ac))
		},
		Filter: tools.Filter{
			Categories: []model.Category{model.CategoryData, model.CategoryCampaign, model.CategoryMemory},
			ReadOnly:   true,
		},
	},
	model.RoleExecutor: {
		Role: model.RoleExecutor,
		SystemPrompt: "You are the campaign operator. Apply changes to campaigns, ad sets and creatives using the " +
			"write tools. Always pass current values (current_budget, current_bid) so change limits can be checked, " +
			"and give a reason for every change. If a change is blocked, do not retry it unchanged: adjust it to " +
			"fit the stated limit or explain why it was skipped. Finish with a summary of what changed.",
		DefaultTask: func(ac *model.AgentContext) string {
			return fmt.Sprintf("Check %s for campaigns that breach the objectives and correct them.", accountList(ac))
		},
	},
	model.RoleCreative: {
		Role: model.RoleCreative,
		SystemPrompt: "You are the creative strategist. Assess creative performance and fatigue (falling CTR, " +
			"rising frequency, rising CPA on the same asset), identify winning themes, and propose new concepts " +
			"and refreshes. You cannot change anything.",
		DefaultTask: func(ac *model.AgentContext) string {
			return fmt.Sprintf("Review creative performance and fatigue across %s and propose refreshes.", accountList(ac))
		},
		Filter: tools.Filter{
			Categories: []model.Category{model.CategoryMaterial, model.CategoryData},
			ReadOnly:   true,
		},
	},
}

func accountList(ac *model.AgentContext) string {
	if len(ac.Accounts) == 0 {
		return "the configured accounts"
	}
	refs := make([]string, 0, len(ac.Accounts))
	for _, a := range ac.Accounts {
		refs = append(refs, a.Channel+" account "+a.AccountID)
	}
	return strings.Join(refs, ", ")
}

// Profile returns the runtime profile for role.
func Profile(role model.Role) (runtime.Profile, bool) {
	p, ok := profiles[role]
	return p, ok
}

// Agents runs role agents over one Runtime.
type Agents struct {
	rt *runtime.Runtime
}

// New creates Agents.
func New(rt *runtime.Runtime) *Agents {
	return &Agents{rt: rt}
}

// Request is one role invocation. An empty Message runs the role's
// default task.
type Request struct {
	Config      model.AgentConfig
	OrgID       uuid.UUID
	UserID      string
	Message     string
	Trigger     model.Trigger
	Credentials map[string]model.Credentials
}

// Run executes role. Unknown roles fail without starting a session.
func (a *Agents) Run(ctx context.Context, role model.Role, req Request) model.AgentRunResult {
	p, ok := Profile(role)
	if !ok {
		return model.AgentRunResult{
			AgentID:   req.Config.AgentID,
			Role:      role,
			Status:    model.RunStatusFailed,
			Error:     fmt.Sprintf("agents: unknown role %q", role),
			ToolCalls: []model.ToolCallRecord{},
			Decisions: []model.Decision{},
		}
	}
	return a.rt.Run(ctx, runtime.RunRequest{
		Profile:     p,
		Config:      req.Config,
		OrgID:       req.OrgID,
		UserID:      req.UserID,
		Message:     req.Message,
		Trigger:     req.Trigger,
		Credentials: req.Credentials,
	})
}

// RunAnalyst runs the read-only analyst.
func (a *Agents) RunAnalyst(ctx context.Context, cfg model.AgentConfig, orgID uuid.UUID, userID, message string, creds map[string]model.Credentials) model.AgentRunResult {
	return a.Run(ctx, model.RoleAnalyst, Request{Config: cfg, OrgID: orgID, UserID: userID, Message: message, Credentials: creds})
}

// RunPlanner runs the read-only planner.
func (a *Agents) RunPlanner(ctx context.Context, cfg model.AgentConfig, orgID uuid.UUID, userID, message string, creds map[string]model.Credentials) model.AgentRunResult {
	return a.Run(ctx, model.RolePlanner, Request{Config: cfg, OrgID: orgID, UserID: userID, Message: message, Credentials: creds})
}

// RunExecutor runs the executor, the only role with write tools.
func (a *Agents) RunExecutor(ctx context.Context, cfg model.AgentConfig, orgID uuid.UUID, userID, message string, creds map[string]model.Credentials) model.AgentRunResult {
	return a.Run(ctx, model.RoleExecutor, Request{Config: cfg, OrgID: orgID, UserID: userID, Message: message, Credentials: creds})
}

// RunCreative runs the read-only creative strategist.
func (a *Agents) RunCreative(ctx context.Context, cfg model.AgentConfig, orgID uuid.UUID, userID, message string, creds map[string]model.Credentials) model.AgentRunResult {
	return a.Run(ctx, model.RoleCreative, Request{Config: cfg, OrgID: orgID, UserID: userID, Message: message, Credentials: creds})
}
