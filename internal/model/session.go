package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a session / agent run.
type RunStatus string

const (
	RunStatusRunning       RunStatus = "running"
	RunStatusCompleted     RunStatus = "completed"
	RunStatusMaxIterations RunStatus = "max_iterations"
	RunStatusFailed        RunStatus = "failed"
)

// Terminal reports whether s ends a run.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusMaxIterations || s == RunStatusFailed
}

// Trigger records what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerUser      Trigger = "user"
	TriggerAPI       Trigger = "api"
)

// Session is the durable record of one agent run.
type Session struct {
	ID            uuid.UUID        `json:"id"`
	OrgID         uuid.UUID        `json:"org_id"`
	AgentID       string           `json:"agent_id"`
	UserID        string           `json:"user_id,omitempty"`
	Role          Role             `json:"role"`
	Trigger       Trigger          `json:"trigger"`
	Status        RunStatus        `json:"status"`
	Summary       string           `json:"summary,omitempty"`
	Error         string           `json:"error,omitempty"`
	ToolCalls     []ToolCallRecord `json:"tool_calls"`
	Iterations    int              `json:"iterations"`
	ToolCallCount int              `json:"tool_call_count"`
	DecisionCount int              `json:"decision_count"`
	DurationMs    int64            `json:"duration_ms"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// SessionOutcome is the terminal update applied when a run finishes.
type SessionOutcome struct {
	Status        RunStatus
	Summary       string
	Error         string
	Iterations    int
	ToolCallCount int
	DecisionCount int
	DurationMs    int64
}
