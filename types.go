package adpilot

import (
	"github.com/ashita-ai/adpilot/internal/model"
)

// The public API re-exports the domain types through aliases so callers
// outside the module can name them without importing internal packages.
type (
	// AgentConfig is an agent's policy: identity, mode, accounts,
	// objectives, permissions and guardrail limits.
	AgentConfig = model.AgentConfig
	AccountRef  = model.AccountRef
	Objectives  = model.Objectives
	Limits      = model.Limits
	Credentials = model.Credentials

	Role = model.Role
	Mode = model.Mode

	// RunResult is the outcome of one agent run.
	RunResult      = model.AgentRunResult
	RunStatus      = model.RunStatus
	ToolCallRecord = model.ToolCallRecord
	Decision       = model.Decision
	Outcome        = model.Outcome

	// PipelineResult is the outcome of one optimization pipeline.
	PipelineResult = model.OrchestrationResult
	Recommendation = model.Recommendation
	PipelineStatus = model.PipelineStatus
)

const (
	RoleAnalyst  = model.RoleAnalyst
	RolePlanner  = model.RolePlanner
	RoleExecutor = model.RoleExecutor
	RoleCreative = model.RoleCreative

	RunStatusCompleted     = model.RunStatusCompleted
	RunStatusMaxIterations = model.RunStatusMaxIterations
	RunStatusFailed        = model.RunStatusFailed

	ModeObserve = model.ModeObserve
	ModeSuggest = model.ModeSuggest
	ModeAuto    = model.ModeAuto

	OutcomePositive = model.OutcomePositive
	OutcomeNegative = model.OutcomeNegative
	OutcomeNeutral  = model.OutcomeNeutral

	PipelineCompleted = model.PipelineCompleted
	PipelineFailed    = model.PipelineFailed
	PipelineNoAction  = model.PipelineNoAction
	PipelineSuggested = model.PipelineSuggested
)
