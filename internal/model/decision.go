package model

import (
	"time"

	"github.com/google/uuid"
)

// DecisionStatus distinguishes executed writes from writes awaiting a human.
type DecisionStatus string

const (
	DecisionExecuted        DecisionStatus = "executed"
	DecisionPendingApproval DecisionStatus = "pending_approval"
)

// Outcome is the evaluated effect of a decision, set after the fact.
type Outcome string

const (
	OutcomePositive Outcome = "positive"
	OutcomeNegative Outcome = "negative"
	OutcomeNeutral  Outcome = "neutral"
)

// Decision is the durable record of a write action taken (or proposed) by
// an agent. Append-only apart from the outcome fields.
type Decision struct {
	ID          uuid.UUID      `json:"id"`
	OrgID       uuid.UUID      `json:"org_id"`
	AgentID     string         `json:"agent_id"`
	SessionID   uuid.UUID      `json:"session_id"`
	Action      string         `json:"action"` // tool name of the write
	EntityType  EntityType     `json:"entity_type"`
	EntityID    string         `json:"entity_id,omitempty"`
	Channel     string         `json:"channel,omitempty"`
	AccountID   string         `json:"account_id,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Input       map[string]any `json:"input"`
	Output      any            `json:"output,omitempty"`
	Status      DecisionStatus `json:"status"`
	Outcome     *Outcome       `json:"outcome,omitempty"`
	OutcomeNote string         `json:"outcome_note,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	EvaluatedAt *time.Time     `json:"evaluated_at,omitempty"`
}

// DecisionFilter narrows decision queries. Zero values are ignored.
type DecisionFilter struct {
	OrgID    uuid.UUID
	AgentID  string
	EntityID string
	Action   string
	Status   DecisionStatus
	Since    time.Time
	Limit    int
}
