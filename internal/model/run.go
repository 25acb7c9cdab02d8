package model

import "github.com/google/uuid"

// AgentRunResult is what a run returns to its caller. Runs never return
// errors; failures are reported through Status and Error.
type AgentRunResult struct {
	SessionID       uuid.UUID        `json:"session_id"`
	AgentID         string           `json:"agent_id"`
	Role            Role             `json:"role"`
	Status          RunStatus        `json:"status"`
	Summary         string           `json:"summary"`
	ToolCalls       []ToolCallRecord `json:"tool_calls"`
	Decisions       []Decision       `json:"decisions"`
	TotalIterations int              `json:"total_iterations"`
	DurationMs      int64            `json:"duration_ms"`
	Error           string           `json:"error,omitempty"`
}

// Recommendation is one proposed action extracted from analyst output.
type Recommendation struct {
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	AccountID  string         `json:"account_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// PipelineStatus is the outcome of an optimization pipeline.
type PipelineStatus string

const (
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
	PipelineNoAction  PipelineStatus = "no_action"
	PipelineSuggested PipelineStatus = "suggested"
)

// OrchestrationResult combines the stages of a pipeline run.
type OrchestrationResult struct {
	Status          PipelineStatus   `json:"status"`
	Message         string           `json:"message"`
	Recommendations []Recommendation `json:"recommendations"`
	Analyst         *AgentRunResult  `json:"analyst,omitempty"`
	Executor        *AgentRunResult  `json:"executor,omitempty"`
}
