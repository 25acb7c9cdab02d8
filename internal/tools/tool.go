// Package tools holds the tool catalog the model may call: schema
// conversion for the model, argument validation, and timed, fault-isolated
// execution.
package tools

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/adpilot/internal/model"
)

// Handler performs a tool's work. Returned errors become failure records.
type Handler func(ctx context.Context, args map[string]any, ac *model.AgentContext) (any, error)

// Guardrails is the per-tool policy metadata read by the guardrail engine.
type Guardrails struct {
	// RequiredPermission must be granted in the agent config. Empty means none.
	RequiredPermission string
	// CooldownMinutes is the minimum gap between calls on the same entity.
	CooldownMinutes int
	// MaxCallsPerRun caps approved calls within one session. Zero means no cap.
	MaxCallsPerRun int
	// MaxChangePercent caps |new-current|/current. Zero means no cap.
	MaxChangePercent float64
	// BudgetField names the arg carrying a proposed budget amount.
	BudgetField string
	// ValueField names the arg carrying the proposed value for the change
	// magnitude check. Defaults to BudgetField.
	ValueField string
	// CurrentField names the arg carrying the value being replaced.
	CurrentField string
}

// ProposedField returns the arg compared against CurrentField.
func (g Guardrails) ProposedField() string {
	if g.ValueField != "" {
		return g.ValueField
	}
	return g.BudgetField
}

// Tool is one registered capability. The mcp-go Tool carries name,
// description and input schema; the rest is metadata the runtime and
// guardrail engine share.
type Tool struct {
	Spec       mcplib.Tool
	Category   model.Category
	IsWrite    bool
	EntityType model.EntityType
	// EntityField names the arg holding the target entity id.
	EntityField string
	Guardrails  Guardrails
	Handler     Handler
}

// Name returns the tool's registered name.
func (t *Tool) Name() string { return t.Spec.Name }

// EntityID extracts the target entity id from args, or "".
func (t *Tool) EntityID(args map[string]any) string {
	if t.EntityField == "" {
		return ""
	}
	s, _ := args[t.EntityField].(string)
	return s
}

// Parameters renders the input schema as a JSON-schema object.
func (t *Tool) Parameters() map[string]any {
	props := t.Spec.InputSchema.Properties
	if props == nil {
		props = map[string]any{}
	}
	params := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(t.Spec.InputSchema.Required) > 0 {
		params["required"] = t.Spec.InputSchema.Required
	}
	return params
}

// Filter selects tools for a role. A tool is visible when both lists are
// empty, its category is listed, or its name is allow-listed. ReadOnly
// then drops every write tool.
type Filter struct {
	Categories []model.Category
	Names      []string
	ReadOnly   bool
}

// Match reports whether t passes the filter.
func (f Filter) Match(t *Tool) bool {
	if f.ReadOnly && t.IsWrite {
		return false
	}
	if len(f.Categories) == 0 && len(f.Names) == 0 {
		return true
	}
	for _, c := range f.Categories {
		if t.Category == c {
			return true
		}
	}
	for _, n := range f.Names {
		if t.Name() == n {
			return true
		}
	}
	return false
}
