package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/adpilot/internal/model"
)

func (s *Server) registerResources() {
	// adpilot://decisions/recent: latest decisions across agents.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"adpilot://decisions/recent",
			"Recent Decisions",
			mcplib.WithResourceDescription("The 20 most recent write decisions across all agents"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDecisionsRecent,
	)

	// adpilot://agent/{id}/last-run: snapshot of an agent's previous run.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"adpilot://agent/{id}/last-run",
			"Agent Last Run",
			mcplib.WithTemplateDescription("Status and summary of an agent's most recent run"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleAgentLastRun,
	)
}

func (s *Server) handleDecisionsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	decs, err := s.mem.RecentDecisions(ctx, model.DecisionFilter{OrgID: s.org(ctx), Limit: 20})
	if err != nil {
		return nil, fmt.Errorf("mcp: recent decisions: %w", err)
	}
	compact := make([]map[string]any, 0, len(decs))
	for _, d := range decs {
		compact = append(compact, compactDecision(d))
	}

	data, err := json.MarshalIndent(compact, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal decisions: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "adpilot://decisions/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleAgentLastRun(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	agentID, ok := strings.CutPrefix(uri, "adpilot://agent/")
	if ok {
		agentID, ok = strings.CutSuffix(agentID, "/last-run")
	}
	if !ok || agentID == "" || strings.Contains(agentID, "/") {
		return nil, fmt.Errorf("mcp: invalid agent last-run URI: %s", uri)
	}

	snap, found, err := s.mem.Snapshot(ctx, s.org(ctx), agentID)
	if err != nil {
		return nil, fmt.Errorf("mcp: agent last run: %w", err)
	}
	body := map[string]any{"agent_id": agentID, "found": found}
	if found {
		body["last_run"] = snap
	}

	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal last run: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
