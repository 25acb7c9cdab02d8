// Package mcp implements the Model Context Protocol server for adpilot.
//
// It exposes the orchestrator (free-text requests and the optimization
// pipeline) and read access to decision and knowledge memory as MCP tools
// and resources, so an MCP client can drive and inspect agents.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/adpilot/internal/ctxutil"
	"github.com/ashita-ai/adpilot/internal/memory"
	"github.com/ashita-ai/adpilot/internal/model"
)

// Orchestrator is the subset of the orchestrator the server drives.
type Orchestrator interface {
	RunOptimizationPipeline(ctx context.Context, cfg model.AgentConfig, orgID uuid.UUID, creds map[string]model.Credentials) model.OrchestrationResult
	RunUserDirected(ctx context.Context, cfg model.AgentConfig, orgID uuid.UUID, userID, message string, roleOverride model.Role, creds map[string]model.Credentials) model.AgentRunResult
}

// Memory is the read side of the memory service.
type Memory interface {
	RecentDecisions(ctx context.Context, f model.DecisionFilter) ([]model.Decision, error)
	Knowledge(ctx context.Context, f model.KnowledgeFilter) ([]model.KnowledgeEntry, error)
	Snapshot(ctx context.Context, orgID uuid.UUID, agentID string) (memory.Snapshot, bool, error)
}

// AgentResolver returns the policy and credentials for an agent id. An
// empty id selects the default agent.
type AgentResolver func(ctx context.Context, agentID string) (model.AgentConfig, map[string]model.Credentials, error)

// Server wraps the MCP server with adpilot's orchestrator and memory.
type Server struct {
	mcpServer *mcpserver.MCPServer
	orch      Orchestrator
	mem       Memory
	agents    AgentResolver
	orgID     uuid.UUID
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools, resources
// and prompts. orgID scopes every call that does not carry one in context.
func New(orch Orchestrator, mem Memory, agents AgentResolver, orgID uuid.UUID, logger *slog.Logger, version string) *Server {
	s := &Server{
		orch:   orch,
		mem:    mem,
		agents: agents,
		orgID:  orgID,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"adpilot",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithRecovery(),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the protocol over stdin/stdout until the client closes.
func (s *Server) ServeStdio() error {
	if err := mcpserver.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("mcp: serve stdio: %w", err)
	}
	return nil
}

func (s *Server) org(ctx context.Context) uuid.UUID {
	if id := ctxutil.OrgIDFromContext(ctx); id != uuid.Nil {
		return id
	}
	return s.orgID
}
