package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/adpilot/internal/model"
)

func (s *Server) registerTools() {
	// adpilot_ask: route a free-text request to a role agent.
	s.mcpServer.AddTool(
		mcplib.NewTool("adpilot_ask",
			mcplib.WithDescription(`Send a request to the ad operations agents and return the run result.

The request is routed to a role by intent unless role is given:
- planner: budget plans, allocation, forecasts
- executor: pause, activate, budget and bid changes (subject to guardrails and the agent's mode)
- creative: creative performance, fatigue, new concepts
- analyst: everything else

Writes only happen when the agent's mode is auto. In suggest mode they are
recorded as pending approvals; in observe mode they are refused.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("message",
				mcplib.Description("The request, e.g. \"what's our creative fatigue look like\""),
				mcplib.Required(),
			),
			mcplib.WithString("agent_id",
				mcplib.Description("Agent policy to run under. Defaults to the server's default agent."),
			),
			mcplib.WithString("role",
				mcplib.Description("Force a role instead of intent routing"),
				mcplib.Enum(string(model.RoleAnalyst), string(model.RolePlanner), string(model.RoleExecutor), string(model.RoleCreative)),
			),
			mcplib.WithString("user_id",
				mcplib.Description("Who is asking; recorded on the session"),
			),
		),
		s.handleAsk,
	)

	// adpilot_run_pipeline: analyst then executor.
	s.mcpServer.AddTool(
		mcplib.NewTool("adpilot_run_pipeline",
			mcplib.WithDescription(`Run the optimization pipeline: the analyst reviews performance and
produces recommendations; in auto mode the executor then applies up to 20 of them.
Returns the status (completed, failed, no_action or suggested) and both runs.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("agent_id",
				mcplib.Description("Agent policy to run under. Defaults to the server's default agent."),
			),
		),
		s.handleRunPipeline,
	)

	// adpilot_decisions: decision history.
	s.mcpServer.AddTool(
		mcplib.NewTool("adpilot_decisions",
			mcplib.WithDescription("List recorded write decisions (executed and pending approval), newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent_id", mcplib.Description("Filter by agent")),
			mcplib.WithString("entity_id", mcplib.Description("Filter by campaign, ad set or creative id")),
			mcplib.WithString("action", mcplib.Description("Filter by tool name, e.g. update_budget")),
			mcplib.WithString("status",
				mcplib.Enum(string(model.DecisionExecuted), string(model.DecisionPendingApproval)),
			),
			mcplib.WithNumber("days", mcplib.Description("Lookback in days"), mcplib.Min(1), mcplib.Max(365), mcplib.DefaultNumber(7)),
			mcplib.WithNumber("limit", mcplib.Min(1), mcplib.Max(200), mcplib.DefaultNumber(20)),
		),
		s.handleDecisions,
	)

	// adpilot_knowledge: organizational knowledge.
	s.mcpServer.AddTool(
		mcplib.NewTool("adpilot_knowledge",
			mcplib.WithDescription("Search facts the agents have learned about the accounts, highest confidence first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query", mcplib.Description("Substring to match against key and fact")),
			mcplib.WithString("category"),
			mcplib.WithString("tag"),
			mcplib.WithNumber("min_confidence", mcplib.Min(0), mcplib.Max(1)),
			mcplib.WithNumber("limit", mcplib.Min(1), mcplib.Max(100), mcplib.DefaultNumber(20)),
		),
		s.handleKnowledge,
	)
}

func (s *Server) handleAsk(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	message := request.GetString("message", "")
	if message == "" {
		return errorResult("message is required"), nil
	}
	role := model.Role(request.GetString("role", ""))
	if role != "" && !role.Valid() {
		return errorResult(fmt.Sprintf("unknown role %q", role)), nil
	}

	cfg, creds, err := s.agents(ctx, request.GetString("agent_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("agent lookup failed: %v", err)), nil
	}

	res := s.orch.RunUserDirected(ctx, cfg, s.org(ctx), request.GetString("user_id", ""), message, role, creds)
	s.logger.Info("mcp: ask finished", "agent_id", cfg.AgentID, "role", res.Role, "status", res.Status)
	return jsonResult(compactRun(res))
}

func (s *Server) handleRunPipeline(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	cfg, creds, err := s.agents(ctx, request.GetString("agent_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("agent lookup failed: %v", err)), nil
	}

	res := s.orch.RunOptimizationPipeline(ctx, cfg, s.org(ctx), creds)
	s.logger.Info("mcp: pipeline finished", "agent_id", cfg.AgentID, "status", res.Status)

	out := map[string]any{
		"status":          res.Status,
		"message":         res.Message,
		"recommendations": res.Recommendations,
	}
	if res.Analyst != nil {
		out["analyst"] = compactRun(*res.Analyst)
	}
	if res.Executor != nil {
		out["executor"] = compactRun(*res.Executor)
	}
	return jsonResult(out)
}

func (s *Server) handleDecisions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	days := request.GetInt("days", 7)
	if days < 1 {
		days = 7
	}
	decs, err := s.mem.RecentDecisions(ctx, model.DecisionFilter{
		OrgID:    s.org(ctx),
		AgentID:  request.GetString("agent_id", ""),
		EntityID: request.GetString("entity_id", ""),
		Action:   request.GetString("action", ""),
		Status:   model.DecisionStatus(request.GetString("status", "")),
		Since:    time.Now().Add(-time.Duration(days) * 24 * time.Hour),
		Limit:    request.GetInt("limit", 20),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}

	compact := make([]map[string]any, 0, len(decs))
	for _, d := range decs {
		compact = append(compact, compactDecision(d))
	}
	return jsonResult(map[string]any{
		"decisions": compact,
		"total":     len(compact),
	})
}

func (s *Server) handleKnowledge(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	entries, err := s.mem.Knowledge(ctx, model.KnowledgeFilter{
		OrgID:         s.org(ctx),
		Category:      request.GetString("category", ""),
		Tag:           request.GetString("tag", ""),
		Query:         request.GetString("query", ""),
		MinConfidence: request.GetFloat("min_confidence", 0),
		Limit:         request.GetInt("limit", 20),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"knowledge": entries,
		"total":     len(entries),
	})
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
