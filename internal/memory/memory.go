// Package memory implements the three memory tiers an agent run reads and
// writes: the per-run session record, the shared working cache and the
// durable decision/knowledge log. It also assembles the bounded context
// digest injected into every system prompt.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/adpilot/internal/cache"
	"github.com/ashita-ai/adpilot/internal/model"
)

// Store is the durable backing store. storage.DB and sqlite.Store implement it.
type Store interface {
	CreateSession(ctx context.Context, s model.Session) error
	AppendSessionToolCalls(ctx context.Context, id uuid.UUID, calls []model.ToolCallRecord) error
	FinalizeSession(ctx context.Context, id uuid.UUID, out model.SessionOutcome) error
	GetSession(ctx context.Context, orgID, id uuid.UUID) (model.Session, error)

	CreateDecision(ctx context.Context, d model.Decision) (model.Decision, error)
	ListDecisions(ctx context.Context, f model.DecisionFilter) ([]model.Decision, error)
	FindRecentDecision(ctx context.Context, entityID, action string, since time.Time) (model.Decision, error)
	UpdateDecisionOutcome(ctx context.Context, orgID, id uuid.UUID, outcome model.Outcome, note string) error

	UpsertKnowledge(ctx context.Context, k model.KnowledgeEntry) (model.KnowledgeEntry, error)
	ListKnowledge(ctx context.Context, f model.KnowledgeFilter) ([]model.KnowledgeEntry, error)

	Close() error
}

// Config bounds the working tier and the context digest.
type Config struct {
	WorkingTTL       time.Duration
	DecisionLookback time.Duration
	MaxDecisions     int
	MaxKnowledge     int
	MaxDigestChars   int
}

// DefaultConfig returns the stock bounds: 6h working TTL, a 7 day decision
// lookback, 15 decisions, 10 knowledge entries and 6000 characters.
func DefaultConfig() Config {
	return Config{
		WorkingTTL:       6 * time.Hour,
		DecisionLookback: 7 * 24 * time.Hour,
		MaxDecisions:     15,
		MaxKnowledge:     10,
		MaxDigestChars:   6000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WorkingTTL <= 0 {
		c.WorkingTTL = d.WorkingTTL
	}
	if c.DecisionLookback <= 0 {
		c.DecisionLookback = d.DecisionLookback
	}
	if c.MaxDecisions <= 0 {
		c.MaxDecisions = d.MaxDecisions
	}
	if c.MaxKnowledge <= 0 {
		c.MaxKnowledge = d.MaxKnowledge
	}
	if c.MaxDigestChars <= 0 {
		c.MaxDigestChars = d.MaxDigestChars
	}
	return c
}

// Service fronts the durable store and the working cache.
type Service struct {
	store  Store
	cache  cache.Cache
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	digests   singleflight.Group
	ownsCache bool
}

// New creates a Service. A nil cache gets a private in-memory cache that
// Close releases; a caller-supplied cache stays the caller's to close.
func New(store Store, c cache.Cache, cfg Config, logger *slog.Logger) *Service {
	owns := false
	if c == nil {
		c = cache.NewMemoryCache()
		owns = true
	}
	return &Service{
		store:     store,
		cache:     c,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
		ownsCache: owns,
	}
}

// Close releases the private cache New created, if any. It never closes
// the store.
func (s *Service) Close() error {
	if !s.ownsCache {
		return nil
	}
	return s.cache.Close()
}

// Config returns the effective bounds.
func (s *Service) Config() Config { return s.cfg }

// Store exposes the durable store for callers that need raw queries.
func (s *Service) Store() Store { return s.store }

// Session tier.

// StartSession records a run as started.
func (s *Service) StartSession(ctx context.Context, sess model.Session) error {
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return fmt.Errorf("memory: start session: %w", err)
	}
	return nil
}

// AppendToolCalls appends a batch of tool-call records to a session.
func (s *Service) AppendToolCalls(ctx context.Context, sessionID uuid.UUID, calls []model.ToolCallRecord) error {
	if err := s.store.AppendSessionToolCalls(ctx, sessionID, calls); err != nil {
		return fmt.Errorf("memory: append tool calls: %w", err)
	}
	return nil
}

// FinalizeSession stores the terminal state of a run.
func (s *Service) FinalizeSession(ctx context.Context, sessionID uuid.UUID, out model.SessionOutcome) error {
	if !out.Status.Terminal() {
		return fmt.Errorf("memory: finalize session: status %q is not terminal", out.Status)
	}
	if err := s.store.FinalizeSession(ctx, sessionID, out); err != nil {
		return fmt.Errorf("memory: finalize session: %w", err)
	}
	return nil
}

// GetSession loads a session record.
func (s *Service) GetSession(ctx context.Context, orgID, sessionID uuid.UUID) (model.Session, error) {
	return s.store.GetSession(ctx, orgID, sessionID)
}

// Working tier.

// WorkingKey derives the cache key for an agent's working value.
func WorkingKey(orgID uuid.UUID, agentID, name string) string {
	return "adpilot:wm:" + orgID.String() + ":" + agentID + ":" + name
}

// SetWorking stores v as JSON under the agent's working key. ttl <= 0 uses
// the configured default.
func (s *Service) SetWorking(ctx context.Context, orgID uuid.UUID, agentID, name string, v any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.cfg.WorkingTTL
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("memory: encode working value %s: %w", name, err)
	}
	if err := s.cache.Set(ctx, WorkingKey(orgID, agentID, name), string(b), ttl); err != nil {
		return fmt.Errorf("memory: set working value %s: %w", name, err)
	}
	return nil
}

// GetWorking decodes the agent's working value into dst. found is false when
// the key is absent or expired.
func (s *Service) GetWorking(ctx context.Context, orgID uuid.UUID, agentID, name string, dst any) (found bool, err error) {
	raw, ok, err := s.cache.Get(ctx, WorkingKey(orgID, agentID, name))
	if err != nil {
		return false, fmt.Errorf("memory: get working value %s: %w", name, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("memory: decode working value %s: %w", name, err)
	}
	return true, nil
}

const snapshotName = "last_run"

// Snapshot summarizes an agent's previous run for the next one.
type Snapshot struct {
	SessionID     uuid.UUID       `json:"session_id"`
	Status        model.RunStatus `json:"status"`
	Summary       string          `json:"summary"`
	ToolCallCount int             `json:"tool_call_count"`
	DecisionCount int             `json:"decision_count"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// SaveSnapshot writes the run snapshot to the working tier.
func (s *Service) SaveSnapshot(ctx context.Context, orgID uuid.UUID, agentID string, snap Snapshot) error {
	if snap.FinishedAt.IsZero() {
		snap.FinishedAt = s.now().UTC()
	}
	return s.SetWorking(ctx, orgID, agentID, snapshotName, snap, 0)
}

// Snapshot returns the agent's last run snapshot, if any.
func (s *Service) Snapshot(ctx context.Context, orgID uuid.UUID, agentID string) (Snapshot, bool, error) {
	var snap Snapshot
	ok, err := s.GetWorking(ctx, orgID, agentID, snapshotName, &snap)
	return snap, ok, err
}

// Long-term tier.

// RecordDecision persists a decision.
func (s *Service) RecordDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	if d.Action == "" {
		return model.Decision{}, errors.New("memory: record decision: action is required")
	}
	if d.Status == "" {
		d.Status = model.DecisionExecuted
	}
	out, err := s.store.CreateDecision(ctx, d)
	if err != nil {
		return model.Decision{}, fmt.Errorf("memory: record decision: %w", err)
	}
	return out, nil
}

// RecentDecisions lists decisions matching f, newest first.
func (s *Service) RecentDecisions(ctx context.Context, f model.DecisionFilter) ([]model.Decision, error) {
	return s.store.ListDecisions(ctx, f)
}

// FindRecentDecision returns the newest executed decision on (entityID,
// action) since the given time.
func (s *Service) FindRecentDecision(ctx context.Context, entityID, action string, since time.Time) (model.Decision, error) {
	return s.store.FindRecentDecision(ctx, entityID, action, since)
}

// UpdateDecisionOutcome records an evaluator's verdict on a decision.
func (s *Service) UpdateDecisionOutcome(ctx context.Context, orgID, id uuid.UUID, outcome model.Outcome, note string) error {
	switch outcome {
	case model.OutcomePositive, model.OutcomeNegative, model.OutcomeNeutral:
	default:
		return fmt.Errorf("memory: invalid outcome %q", outcome)
	}
	return s.store.UpdateDecisionOutcome(ctx, orgID, id, outcome, note)
}

// UpsertKnowledge creates or re-affirms a knowledge entry.
func (s *Service) UpsertKnowledge(ctx context.Context, k model.KnowledgeEntry) (model.KnowledgeEntry, error) {
	if k.Key == "" || k.Fact == "" {
		return model.KnowledgeEntry{}, errors.New("memory: knowledge requires key and fact")
	}
	out, err := s.store.UpsertKnowledge(ctx, k)
	if err != nil {
		return model.KnowledgeEntry{}, fmt.Errorf("memory: upsert knowledge: %w", err)
	}
	return out, nil
}

// Knowledge lists entries matching f, highest confidence first.
func (s *Service) Knowledge(ctx context.Context, f model.KnowledgeFilter) ([]model.KnowledgeEntry, error) {
	return s.store.ListKnowledge(ctx, f)
}
