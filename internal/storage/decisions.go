package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/adpilot/internal/model"
)

const decisionColumns = `id, org_id, agent_id, session_id, action, entity_type, entity_id, channel, account_id,
	reason, input, output, status, outcome, outcome_note, created_at, evaluated_at`

// CreateDecision inserts a decision, assigning ID and CreatedAt when unset.
func (db *DB) CreateDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Input == nil {
		d.Input = map[string]any{}
	}
	input, err := json.Marshal(d.Input)
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: marshal decision input: %w", err)
	}
	var output *string
	if d.Output != nil {
		b, err := json.Marshal(d.Output)
		if err != nil {
			return model.Decision{}, fmt.Errorf("storage: marshal decision output: %w", err)
		}
		s := string(b)
		output = &s
	}

	err = retry(ctx, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO decisions (id, org_id, agent_id, session_id, action, entity_type, entity_id, channel,
			                        account_id, reason, input, output, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12::jsonb, $13, $14)`,
			d.ID, d.OrgID, d.AgentID, d.SessionID, d.Action, string(d.EntityType), d.EntityID, d.Channel,
			d.AccountID, d.Reason, string(input), output, string(d.Status), d.CreatedAt,
		)
		return err
	})
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: create decision: %w", err)
	}
	return d, nil
}

// ListDecisions returns decisions matching f, newest first.
func (db *DB) ListDecisions(ctx context.Context, f model.DecisionFilter) ([]model.Decision, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.OrgID != uuid.Nil {
		add("org_id = $%d", f.OrgID)
	}
	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + decisionColumns + " FROM decisions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FindRecentDecision returns the newest executed decision for (entityID,
// action) created at or after since, or ErrNotFound.
func (db *DB) FindRecentDecision(ctx context.Context, entityID, action string, since time.Time) (model.Decision, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE entity_id = $1 AND action = $2 AND status = $3 AND created_at >= $4
		 ORDER BY created_at DESC LIMIT 1`,
		entityID, action, string(model.DecisionExecuted), since,
	)
	d, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Decision{}, ErrNotFound
		}
		return model.Decision{}, fmt.Errorf("storage: find recent decision: %w", err)
	}
	return d, nil
}

// UpdateDecisionOutcome records the evaluated outcome of a decision.
func (db *DB) UpdateDecisionOutcome(ctx context.Context, orgID, id uuid.UUID, outcome model.Outcome, note string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE decisions SET outcome = $1, outcome_note = $2, evaluated_at = $3 WHERE id = $4 AND org_id = $5`,
		string(outcome), note, time.Now().UTC(), id, orgID,
	)
	if err != nil {
		return fmt.Errorf("storage: update decision outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: decision %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanDecision(row pgx.Row) (model.Decision, error) {
	var (
		d       model.Decision
		input   []byte
		output  []byte
		outcome *string
	)
	if err := row.Scan(
		&d.ID, &d.OrgID, &d.AgentID, &d.SessionID, &d.Action, &d.EntityType, &d.EntityID, &d.Channel, &d.AccountID,
		&d.Reason, &input, &output, &d.Status, &outcome, &d.OutcomeNote, &d.CreatedAt, &d.EvaluatedAt,
	); err != nil {
		return model.Decision{}, err
	}
	if err := json.Unmarshal(input, &d.Input); err != nil {
		return model.Decision{}, fmt.Errorf("decode input: %w", err)
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &d.Output); err != nil {
			return model.Decision{}, fmt.Errorf("decode output: %w", err)
		}
	}
	if outcome != nil {
		o := model.Outcome(*outcome)
		d.Outcome = &o
	}
	return d, nil
}
