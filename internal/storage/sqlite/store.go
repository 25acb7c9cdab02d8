// Package sqlite is an embedded durable store with the same contract as the
// PostgreSQL store. It backs local runs and the test suites.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	org_id          TEXT NOT NULL,
	agent_id        TEXT NOT NULL,
	user_id         TEXT NOT NULL DEFAULT '',
	role            TEXT NOT NULL,
	run_trigger     TEXT NOT NULL,
	status          TEXT NOT NULL,
	summary         TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	iterations      INTEGER NOT NULL DEFAULT 0,
	tool_call_count INTEGER NOT NULL DEFAULT 0,
	decision_count  INTEGER NOT NULL DEFAULT 0,
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	started_at      INTEGER NOT NULL,
	completed_at    INTEGER
);

CREATE TABLE IF NOT EXISTS session_tool_calls (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	record     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_tool_calls_session ON session_tool_calls(session_id, id);

CREATE TABLE IF NOT EXISTS decisions (
	id           TEXT PRIMARY KEY,
	org_id       TEXT NOT NULL,
	agent_id     TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	action       TEXT NOT NULL,
	entity_type  TEXT NOT NULL DEFAULT '',
	entity_id    TEXT NOT NULL DEFAULT '',
	channel      TEXT NOT NULL DEFAULT '',
	account_id   TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	input        TEXT NOT NULL DEFAULT '{}',
	output       TEXT,
	status       TEXT NOT NULL,
	outcome      TEXT,
	outcome_note TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	evaluated_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_decisions_agent_created ON decisions(agent_id, created_at);
CREATE INDEX IF NOT EXISTS idx_decisions_entity_action ON decisions(entity_id, action, created_at);

CREATE TABLE IF NOT EXISTS knowledge (
	id               TEXT PRIMARY KEY,
	org_id           TEXT NOT NULL,
	key              TEXT NOT NULL,
	category         TEXT NOT NULL DEFAULT '',
	fact             TEXT NOT NULL,
	confidence       REAL NOT NULL,
	source           TEXT NOT NULL DEFAULT '',
	tags             TEXT NOT NULL DEFAULT '[]',
	validation_count INTEGER NOT NULL DEFAULT 1,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	UNIQUE (org_id, key)
);
`

// Store is a SQLite-backed durable store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Writes are serialized through a single connection.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableTime(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

// CreateSession inserts a running session.
func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	if sess.Status == "" {
		sess.Status = model.RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, org_id, agent_id, user_id, role, run_trigger, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID.String(), sess.OrgID.String(), sess.AgentID, sess.UserID, string(sess.Role),
		string(sess.Trigger), string(sess.Status), millis(sess.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create session: %w", err)
	}
	return nil
}

// AppendSessionToolCalls appends records to a session's tool-call history.
func (s *Store) AppendSessionToolCalls(ctx context.Context, id uuid.UUID, calls []model.ToolCallRecord) error {
	if len(calls) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id.String()).Scan(&exists); err != nil {
		return fmt.Errorf("sqlite: append tool calls: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("sqlite: session %s: %w", id, storage.ErrNotFound)
	}
	for _, c := range calls {
		rec, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("sqlite: marshal tool call: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_tool_calls (session_id, record) VALUES (?, ?)`, id.String(), string(rec),
		); err != nil {
			return fmt.Errorf("sqlite: append tool calls: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// FinalizeSession records the terminal outcome of a session.
func (s *Store) FinalizeSession(ctx context.Context, id uuid.UUID, out model.SessionOutcome) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET status = ?, summary = ?, error = ?, iterations = ?, tool_call_count = ?,
		     decision_count = ?, duration_ms = ?, completed_at = ?
		 WHERE id = ?`,
		string(out.Status), out.Summary, out.Error, out.Iterations, out.ToolCallCount,
		out.DecisionCount, out.DurationMs, millis(time.Now()), id.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: finalize session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: session %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// GetSession loads a session with its tool-call history, scoped to an org.
func (s *Store) GetSession(ctx context.Context, orgID, id uuid.UUID) (model.Session, error) {
	var (
		sess             model.Session
		rawID, rawOrg    string
		started          int64
		completed        sql.NullInt64
		role, trig, stat string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, agent_id, user_id, role, run_trigger, status, summary, error,
		        iterations, tool_call_count, decision_count, duration_ms, started_at, completed_at
		 FROM sessions WHERE id = ? AND org_id = ?`, id.String(), orgID.String(),
	).Scan(
		&rawID, &rawOrg, &sess.AgentID, &sess.UserID, &role, &trig, &stat, &sess.Summary, &sess.Error,
		&sess.Iterations, &sess.ToolCallCount, &sess.DecisionCount, &sess.DurationMs, &started, &completed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, fmt.Errorf("sqlite: session %s: %w", id, storage.ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("sqlite: get session: %w", err)
	}
	sess.ID, sess.OrgID = id, orgID
	sess.Role, sess.Trigger, sess.Status = model.Role(role), model.Trigger(trig), model.RunStatus(stat)
	sess.StartedAt = fromMillis(started)
	sess.CompletedAt = nullableTime(completed)

	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM session_tool_calls WHERE session_id = ? ORDER BY id`, id.String())
	if err != nil {
		return model.Session{}, fmt.Errorf("sqlite: load tool calls: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return model.Session{}, fmt.Errorf("sqlite: scan tool call: %w", err)
		}
		var rec model.ToolCallRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return model.Session{}, fmt.Errorf("sqlite: decode tool call: %w", err)
		}
		sess.ToolCalls = append(sess.ToolCalls, rec)
	}
	return sess, rows.Err()
}

const decisionColumns = `id, org_id, agent_id, session_id, action, entity_type, entity_id, channel, account_id,
	reason, input, output, status, outcome, outcome_note, created_at, evaluated_at`

// CreateDecision inserts a decision, assigning ID and CreatedAt when unset.
func (s *Store) CreateDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
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
		return model.Decision{}, fmt.Errorf("sqlite: marshal decision input: %w", err)
	}
	var output sql.NullString
	if d.Output != nil {
		b, err := json.Marshal(d.Output)
		if err != nil {
			return model.Decision{}, fmt.Errorf("sqlite: marshal decision output: %w", err)
		}
		output = sql.NullString{String: string(b), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, org_id, agent_id, session_id, action, entity_type, entity_id, channel,
		                        account_id, reason, input, output, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.OrgID.String(), d.AgentID, d.SessionID.String(), d.Action, string(d.EntityType),
		d.EntityID, d.Channel, d.AccountID, d.Reason, string(input), output, string(d.Status), millis(d.CreatedAt),
	)
	if err != nil {
		return model.Decision{}, fmt.Errorf("sqlite: create decision: %w", err)
	}
	return d, nil
}

// ListDecisions returns decisions matching f, newest first.
func (s *Store) ListDecisions(ctx context.Context, f model.DecisionFilter) ([]model.Decision, error) {
	var (
		where []string
		args  []any
	)
	if f.OrgID != uuid.Nil {
		where, args = append(where, "org_id = ?"), append(args, f.OrgID.String())
	}
	if f.AgentID != "" {
		where, args = append(where, "agent_id = ?"), append(args, f.AgentID)
	}
	if f.EntityID != "" {
		where, args = append(where, "entity_id = ?"), append(args, f.EntityID)
	}
	if f.Action != "" {
		where, args = append(where, "action = ?"), append(args, f.Action)
	}
	if f.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		where, args = append(where, "created_at >= ?"), append(args, millis(f.Since))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + decisionColumns + " FROM decisions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FindRecentDecision returns the newest executed decision for (entityID,
// action) created at or after since, or storage.ErrNotFound.
func (s *Store) FindRecentDecision(ctx context.Context, entityID, action string, since time.Time) (model.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE entity_id = ? AND action = ? AND status = ? AND created_at >= ?
		 ORDER BY created_at DESC LIMIT 1`,
		entityID, action, string(model.DecisionExecuted), millis(since),
	)
	d, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Decision{}, storage.ErrNotFound
		}
		return model.Decision{}, fmt.Errorf("sqlite: find recent decision: %w", err)
	}
	return d, nil
}

// UpdateDecisionOutcome records the evaluated outcome of a decision.
func (s *Store) UpdateDecisionOutcome(ctx context.Context, orgID, id uuid.UUID, outcome model.Outcome, note string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET outcome = ?, outcome_note = ?, evaluated_at = ? WHERE id = ? AND org_id = ?`,
		string(outcome), note, millis(time.Now()), id.String(), orgID.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update decision outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: decision %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(row scanner) (model.Decision, error) {
	var (
		d                         model.Decision
		id, org, session          string
		entityType, status, input string
		output, outcome           sql.NullString
		created                   int64
		evaluated                 sql.NullInt64
		err                       error
	)
	if err := row.Scan(
		&id, &org, &d.AgentID, &session, &d.Action, &entityType, &d.EntityID, &d.Channel, &d.AccountID,
		&d.Reason, &input, &output, &status, &outcome, &d.OutcomeNote, &created, &evaluated,
	); err != nil {
		return model.Decision{}, err
	}
	if d.ID, err = uuid.Parse(id); err != nil {
		return model.Decision{}, fmt.Errorf("parse id: %w", err)
	}
	if d.OrgID, err = uuid.Parse(org); err != nil {
		return model.Decision{}, fmt.Errorf("parse org_id: %w", err)
	}
	if d.SessionID, err = uuid.Parse(session); err != nil {
		return model.Decision{}, fmt.Errorf("parse session_id: %w", err)
	}
	d.EntityType = model.EntityType(entityType)
	d.Status = model.DecisionStatus(status)
	d.CreatedAt = fromMillis(created)
	d.EvaluatedAt = nullableTime(evaluated)
	if err := json.Unmarshal([]byte(input), &d.Input); err != nil {
		return model.Decision{}, fmt.Errorf("decode input: %w", err)
	}
	if output.Valid {
		if err := json.Unmarshal([]byte(output.String), &d.Output); err != nil {
			return model.Decision{}, fmt.Errorf("decode output: %w", err)
		}
	}
	if outcome.Valid {
		o := model.Outcome(outcome.String)
		d.Outcome = &o
	}
	return d, nil
}

const knowledgeColumns = `id, org_id, key, category, fact, confidence, source, tags, validation_count, created_at, updated_at`

// UpsertKnowledge inserts an entry or re-affirms the existing (org, key) entry.
// Semantics match the PostgreSQL store.
func (s *Store) UpsertKnowledge(ctx context.Context, k model.KnowledgeEntry) (model.KnowledgeEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.KnowledgeEntry{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	k.Confidence = model.ClampConfidence(k.Confidence)

	existing, err := scanKnowledge(tx.QueryRowContext(ctx,
		`SELECT `+knowledgeColumns+` FROM knowledge WHERE org_id = ? AND key = ?`, k.OrgID.String(), k.Key))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if k.ID == uuid.Nil {
			k.ID = uuid.New()
		}
		if k.Tags == nil {
			k.Tags = []string{}
		}
		k.ValidationCount = 1
		k.CreatedAt, k.UpdatedAt = now, now
	case err != nil:
		return model.KnowledgeEntry{}, fmt.Errorf("sqlite: load knowledge: %w", err)
	default:
		merged := existing
		merged.Fact = k.Fact
		if k.Category != "" {
			merged.Category = k.Category
		}
		if k.Source != "" {
			merged.Source = k.Source
		}
		merged.Confidence = model.BlendConfidence(existing.Confidence, existing.ValidationCount, k.Confidence)
		merged.Tags = mergeTags(existing.Tags, k.Tags)
		merged.ValidationCount = existing.ValidationCount + 1
		merged.UpdatedAt = now
		k = merged
	}

	tags, err := json.Marshal(k.Tags)
	if err != nil {
		return model.KnowledgeEntry{}, fmt.Errorf("sqlite: marshal tags: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO knowledge (`+knowledgeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, key) DO UPDATE SET
		     category = excluded.category, fact = excluded.fact, confidence = excluded.confidence,
		     source = excluded.source, tags = excluded.tags, validation_count = excluded.validation_count,
		     updated_at = excluded.updated_at`,
		k.ID.String(), k.OrgID.String(), k.Key, k.Category, k.Fact, k.Confidence, k.Source, string(tags),
		k.ValidationCount, millis(k.CreatedAt), millis(k.UpdatedAt),
	)
	if err != nil {
		return model.KnowledgeEntry{}, fmt.Errorf("sqlite: upsert knowledge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.KnowledgeEntry{}, fmt.Errorf("sqlite: commit: %w", err)
	}
	return k, nil
}

// ListKnowledge returns entries matching f ordered by confidence, highest first.
func (s *Store) ListKnowledge(ctx context.Context, f model.KnowledgeFilter) ([]model.KnowledgeEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.OrgID != uuid.Nil {
		where, args = append(where, "org_id = ?"), append(args, f.OrgID.String())
	}
	if f.Category != "" {
		where, args = append(where, "category = ?"), append(args, f.Category)
	}
	if f.Tag != "" {
		where, args = append(where, "EXISTS (SELECT 1 FROM json_each(knowledge.tags) WHERE value = ?)"), append(args, f.Tag)
	}
	if f.Query != "" {
		q := "%" + strings.ToLower(f.Query) + "%"
		where, args = append(where, "(lower(key) LIKE ? OR lower(fact) LIKE ?)"), append(args, q, q)
	}
	if f.MinConfidence > 0 {
		where, args = append(where, "confidence >= ?"), append(args, f.MinConfidence)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	query := "SELECT " + knowledgeColumns + " FROM knowledge"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY confidence DESC, updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list knowledge: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.KnowledgeEntry
	for rows.Next() {
		k, err := scanKnowledge(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan knowledge: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func scanKnowledge(row scanner) (model.KnowledgeEntry, error) {
	var (
		k                model.KnowledgeEntry
		id, org, tags    string
		created, updated int64
		err              error
	)
	if err := row.Scan(&id, &org, &k.Key, &k.Category, &k.Fact, &k.Confidence, &k.Source, &tags,
		&k.ValidationCount, &created, &updated); err != nil {
		return model.KnowledgeEntry{}, err
	}
	if k.ID, err = uuid.Parse(id); err != nil {
		return model.KnowledgeEntry{}, fmt.Errorf("parse id: %w", err)
	}
	if k.OrgID, err = uuid.Parse(org); err != nil {
		return model.KnowledgeEntry{}, fmt.Errorf("parse org_id: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &k.Tags); err != nil {
		return model.KnowledgeEntry{}, fmt.Errorf("decode tags: %w", err)
	}
	k.CreatedAt, k.UpdatedAt = fromMillis(created), fromMillis(updated)
	return k, nil
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string(nil), a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
