package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/adpilot/internal/model"
)

// CreateSession inserts a running session.
func (db *DB) CreateSession(ctx context.Context, s model.Session) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = model.RunStatusRunning
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO sessions (id, org_id, agent_id, user_id, role, trigger, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.OrgID, s.AgentID, s.UserID, string(s.Role), string(s.Trigger), string(s.Status), s.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create session: %w", err)
	}
	return nil
}

// AppendSessionToolCalls appends records to a session's tool-call history.
func (db *DB) AppendSessionToolCalls(ctx context.Context, id uuid.UUID, calls []model.ToolCallRecord) error {
	if len(calls) == 0 {
		return nil
	}
	payload, err := json.Marshal(calls)
	if err != nil {
		return fmt.Errorf("storage: marshal tool calls: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE sessions SET tool_calls = tool_calls || $1::jsonb WHERE id = $2`,
		string(payload), id,
	)
	if err != nil {
		return fmt.Errorf("storage: append tool calls: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: session %s: %w", id, ErrNotFound)
	}
	return nil
}

// FinalizeSession records the terminal outcome of a session.
func (db *DB) FinalizeSession(ctx context.Context, id uuid.UUID, out model.SessionOutcome) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE sessions
		 SET status = $1, summary = $2, error = $3, iterations = $4, tool_call_count = $5,
		     decision_count = $6, duration_ms = $7, completed_at = $8
		 WHERE id = $9`,
		string(out.Status), out.Summary, out.Error, out.Iterations, out.ToolCallCount,
		out.DecisionCount, out.DurationMs, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: finalize session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: session %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetSession loads a session, scoped to an org.
func (db *DB) GetSession(ctx context.Context, orgID, id uuid.UUID) (model.Session, error) {
	var (
		s         model.Session
		toolCalls []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, org_id, agent_id, user_id, role, trigger, status, summary, error, tool_calls,
		        iterations, tool_call_count, decision_count, duration_ms, started_at, completed_at
		 FROM sessions WHERE id = $1 AND org_id = $2`, id, orgID,
	).Scan(
		&s.ID, &s.OrgID, &s.AgentID, &s.UserID, &s.Role, &s.Trigger, &s.Status, &s.Summary, &s.Error, &toolCalls,
		&s.Iterations, &s.ToolCallCount, &s.DecisionCount, &s.DurationMs, &s.StartedAt, &s.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, fmt.Errorf("storage: session %s: %w", id, ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("storage: get session: %w", err)
	}
	if err := json.Unmarshal(toolCalls, &s.ToolCalls); err != nil {
		return model.Session{}, fmt.Errorf("storage: decode tool calls: %w", err)
	}
	return s, nil
}
