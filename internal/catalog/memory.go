package catalog

import (
	"context"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/tools"
)

// Memory is the slice of the memory service the memory tools need.
type Memory interface {
	Knowledge(ctx context.Context, f model.KnowledgeFilter) ([]model.KnowledgeEntry, error)
	UpsertKnowledge(ctx context.Context, k model.KnowledgeEntry) (model.KnowledgeEntry, error)
	RecentDecisions(ctx context.Context, f model.DecisionFilter) ([]model.Decision, error)
}

const defaultKnowledgeConfidence = 0.5

// MemoryTools returns the knowledge and decision-history tools backed by m.
// Saving knowledge is not a platform write and is not gated as one.
func MemoryTools(m Memory) []tools.Tool {
	return []tools.Tool{
		{
			Spec: mcplib.NewTool("recall_knowledge",
				mcplib.WithDescription("Search organizational knowledge learned in earlier runs, highest confidence first."),
				mcplib.WithString("query", mcplib.Description("Substring to match against key and fact")),
				mcplib.WithString("category"),
				mcplib.WithString("tag"),
				mcplib.WithNumber("min_confidence", mcplib.Min(0), mcplib.Max(1)),
				mcplib.WithNumber("limit", mcplib.Min(1), mcplib.Max(50)),
			),
			Category: model.CategoryMemory,
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				minConf, _ := tools.AsFloat(args["min_confidence"])
				return m.Knowledge(ctx, model.KnowledgeFilter{
					OrgID:         ac.OrgID,
					Category:      tools.AsString(args["category"]),
					Tag:           tools.AsString(args["tag"]),
					Query:         tools.AsString(args["query"]),
					MinConfidence: minConf,
					Limit:         intArg(args["limit"], 10),
				})
			},
		},
		{
			Spec: mcplib.NewTool("save_knowledge",
				mcplib.WithDescription("Record or re-affirm a durable fact about the account. Re-saving an existing key raises its validation count."),
				mcplib.WithString("key", mcplib.Required(), mcplib.Description("Stable dedup key, e.g. meta.weekend_cpa")),
				mcplib.WithString("fact", mcplib.Required()),
				mcplib.WithString("category"),
				mcplib.WithNumber("confidence", mcplib.Min(0), mcplib.Max(1)),
				mcplib.WithArray("tags", mcplib.Items(map[string]any{"type": "string"})),
			),
			Category: model.CategoryMemory,
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				conf, ok := tools.AsFloat(args["confidence"])
				if !ok {
					conf = defaultKnowledgeConfidence
				}
				return m.UpsertKnowledge(ctx, model.KnowledgeEntry{
					OrgID:      ac.OrgID,
					Key:        tools.AsString(args["key"]),
					Fact:       tools.AsString(args["fact"]),
					Category:   tools.AsString(args["category"]),
					Confidence: conf,
					Source:     "agent:" + ac.AgentID,
					Tags:       stringSlice(args["tags"]),
				})
			},
		},
		{
			Spec: mcplib.NewTool("query_decisions",
				mcplib.WithDescription("List past write decisions, newest first, to avoid repeating or contradicting recent changes."),
				mcplib.WithString("entity_id"),
				mcplib.WithString("action", mcplib.Description("Tool name of the write, e.g. update_budget")),
				mcplib.WithString("status", mcplib.Enum(string(model.DecisionExecuted), string(model.DecisionPendingApproval))),
				mcplib.WithNumber("days", mcplib.Description("Lookback in days (default 7)"), mcplib.Min(1), mcplib.Max(90)),
				mcplib.WithNumber("limit", mcplib.Min(1), mcplib.Max(100)),
			),
			Category: model.CategoryMemory,
			Handler: func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error) {
				days := intArg(args["days"], 7)
				return m.RecentDecisions(ctx, model.DecisionFilter{
					OrgID:    ac.OrgID,
					EntityID: tools.AsString(args["entity_id"]),
					Action:   tools.AsString(args["action"]),
					Status:   model.DecisionStatus(tools.AsString(args["status"])),
					Since:    time.Now().Add(-time.Duration(days) * 24 * time.Hour),
					Limit:    intArg(args["limit"], 20),
				})
			},
		},
	}
}

func intArg(v any, def int) int {
	if n, ok := tools.AsFloat(v); ok && n > 0 {
		return int(n)
	}
	return def
}

func stringSlice(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, x := range l {
			if s, ok := x.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
