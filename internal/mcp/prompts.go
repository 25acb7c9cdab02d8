package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// account-review: walk a client through a guarded review of one account.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("account-review",
			mcplib.WithPromptDescription("Review an ad account with adpilot before changing anything"),
			mcplib.WithArgument("agent_id",
				mcplib.ArgumentDescription("Agent policy to review under"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleAccountReviewPrompt,
	)
}

func (s *Server) handleAccountReviewPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	agentID := request.Params.Arguments["agent_id"]
	if agentID == "" {
		return nil, fmt.Errorf("agent_id argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Guarded account review for %s", agentID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Review the accounts managed by agent %[1]s:

1. CALL adpilot_decisions with agent_id="%[1]s" to see what changed in the last 7 days.
   Do not propose reversing a change made in the last day unless performance collapsed.

2. CALL adpilot_ask with agent_id="%[1]s" and role="analyst" asking for a performance review
   against the objectives.

3. If the analyst recommends changes, CALL adpilot_run_pipeline with agent_id="%[1]s".
   In suggest mode the changes come back for approval; nothing is applied.

4. Summarize what was applied, what was blocked by guardrails, and why.`, agentID),
				},
			},
		},
	}, nil
}
