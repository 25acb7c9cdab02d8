// Package ctxutil carries run identity through a context so packages that
// only see a context.Context (tool handlers, loggers, the MCP surface) can
// attribute their work.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	keyRun   contextKey = "run"
	keyOrgID contextKey = "org_id"
)

// Run identifies the agent run a context belongs to.
type Run struct {
	SessionID uuid.UUID
	AgentID   string
	OrgID     uuid.UUID
	Role      string
}

// WithRun returns a context carrying run, and its org id.
func WithRun(ctx context.Context, run Run) context.Context {
	ctx = context.WithValue(ctx, keyRun, run)
	return WithOrgID(ctx, run.OrgID)
}

// RunFromContext returns the run carried by ctx.
func RunFromContext(ctx context.Context) (Run, bool) {
	r, ok := ctx.Value(keyRun).(Run)
	return r, ok
}

// WithOrgID returns a context carrying an organization id.
func WithOrgID(ctx context.Context, orgID uuid.UUID) context.Context {
	return context.WithValue(ctx, keyOrgID, orgID)
}

// OrgIDFromContext extracts the org id from the context.
func OrgIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(keyOrgID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// LogAttrs returns slog key/value pairs identifying the run in ctx, or nil.
func LogAttrs(ctx context.Context) []any {
	r, ok := RunFromContext(ctx)
	if !ok {
		return nil
	}
	return []any{"session_id", r.SessionID, "agent_id", r.AgentID, "role", r.Role}
}
