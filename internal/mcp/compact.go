package mcp

import (
	"github.com/ashita-ai/adpilot/internal/model"
)

const maxCompactText = 200

// compactRun returns a minimal representation of a run for MCP responses.
// Tool results are dropped; the caller gets what ran, what was blocked and why.
func compactRun(r model.AgentRunResult) map[string]any {
	m := map[string]any{
		"session_id":  r.SessionID,
		"agent_id":    r.AgentID,
		"role":        r.Role,
		"status":      r.Status,
		"summary":     r.Summary,
		"iterations":  r.TotalIterations,
		"duration_ms": r.DurationMs,
	}
	if r.Error != "" {
		m["error"] = r.Error
	}

	calls := make([]map[string]any, 0, len(r.ToolCalls))
	for _, c := range r.ToolCalls {
		call := map[string]any{"name": c.Name, "success": c.Success}
		switch {
		case !c.Success && !c.Guardrail.Approved && c.Guardrail.Reason != "":
			call["blocked"] = truncate(c.Guardrail.Reason, maxCompactText)
		case !c.Success:
			call["error"] = truncate(c.Error, maxCompactText)
		}
		if len(c.Guardrail.Warnings) > 0 {
			call["warnings"] = c.Guardrail.Warnings
		}
		calls = append(calls, call)
	}
	m["tool_calls"] = calls

	decisions := make([]map[string]any, 0, len(r.Decisions))
	for _, d := range r.Decisions {
		decisions = append(decisions, compactDecision(d))
	}
	m["decisions"] = decisions
	return m
}

// compactDecision drops the raw input/output payloads and org/session ids.
func compactDecision(d model.Decision) map[string]any {
	m := map[string]any{
		"id":         d.ID,
		"agent_id":   d.AgentID,
		"action":     d.Action,
		"status":     d.Status,
		"created_at": d.CreatedAt,
	}
	if d.EntityID != "" {
		m["entity_type"] = d.EntityType
		m["entity_id"] = d.EntityID
	}
	if d.Channel != "" {
		m["channel"] = d.Channel
		m["account_id"] = d.AccountID
	}
	if d.Reason != "" {
		m["reason"] = truncate(d.Reason, maxCompactText)
	}
	if d.Outcome != nil {
		m["outcome"] = *d.Outcome
		if d.OutcomeNote != "" {
			m["outcome_note"] = truncate(d.OutcomeNote, maxCompactText)
		}
	}
	return m
}

// truncate shortens s to at most n runes, appending "..." when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
