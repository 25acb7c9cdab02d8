// Package orchestrator coordinates role agents: the scheduled
// analyst-then-executor optimization pipeline and routing of free-text
// requests to a role.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/adpilot/internal/agents"
	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/telemetry"
)

// MaxExecutorRecommendations caps how many recommendations one pipeline
// hands to the executor.
const MaxExecutorRecommendations = 20

// Runner runs a role. *agents.Agents satisfies it.
type Runner interface {
	Run(ctx context.Context, role model.Role, req agents.Request) model.AgentRunResult
}

// Orchestrator dispatches work to role agents.
type Orchestrator struct {
	agents Runner
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates an Orchestrator.
func New(r Runner, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{agents: r, logger: logger, tracer: telemetry.Tracer("adpilot/orchestrator")}
}

// RunOptimizationPipeline runs the analyst, parses its recommendations and,
// in auto mode only, hands them to the executor.
func (o *Orchestrator) RunOptimizationPipeline(ctx context.Context, cfg model.AgentConfig, orgID uuid.UUID, creds map[string]model.Credentials) model.OrchestrationResult {
	ctx, span := o.tracer.Start(ctx, "orchestrator.pipeline", trace.WithAttributes(
		attribute.String("adpilot.agent_id", cfg.AgentID),
		attribute.String("adpilot.mode", string(cfg.WithDefaults().Mode)),
	))
	defer span.End()
	logger := o.logger.With("agent_id", cfg.AgentID, "org_id", orgID)

	res := o.pipeline(ctx, logger, cfg, orgID, creds)

	span.SetAttributes(
		attribute.String("adpilot.pipeline_status", string(res.Status)),
		attribute.Int("adpilot.recommendations", len(res.Recommendations)),
	)
	if res.Status == model.PipelineFailed {
		span.SetStatus(codes.Error, res.Message)
	}
	logger.Info("orchestrator: pipeline finished", "status", res.Status, "recommendations", len(res.Recommendations))
	return res
}

func (o *Orchestrator) pipeline(ctx context.Context, logger *slog.Logger, cfg model.AgentConfig, orgID uuid.UUID, creds map[string]model.Credentials) model.OrchestrationResult {
	analyst := o.agents.Run(ctx, model.RoleAnalyst, agents.Request{
		Config:      cfg,
		OrgID:       orgID,
		Trigger:     model.TriggerScheduled,
		Credentials: creds,
	})
	res := model.OrchestrationResult{Analyst: &analyst, Recommendations: []model.Recommendation{}}

	if analyst.Status == model.RunStatusFailed {
		res.Status = model.PipelineFailed
		res.Message = "analyst failed: " + analyst.Error
		return res
	}

	recs := ParseRecommendations(analyst.Summary)
	if len(recs) == 0 {
		res.Status = model.PipelineNoAction
		res.Message = "analyst found no action to take"
		return res
	}
	res.Recommendations = recs

	if mode := cfg.WithDefaults().Mode; mode != model.ModeAuto {
		res.Status = model.PipelineSuggested
		res.Message = fmt.Sprintf("%d recommendations returned for review (mode %s)", len(recs), mode)
		return res
	}

	if len(recs) > MaxExecutorRecommendations {
		logger.Warn("orchestrator: recommendations truncated for executor",
			"total", len(recs), "limit", MaxExecutorRecommendations)
	}
	executor := o.agents.Run(ctx, model.RoleExecutor, agents.Request{
		Config:      cfg,
		OrgID:       orgID,
		Message:     ExecutorInstruction(recs),
		Trigger:     model.TriggerScheduled,
		Credentials: creds,
	})
	res.Executor = &executor

	if executor.Status == model.RunStatusFailed {
		res.Status = model.PipelineFailed
		res.Message = "executor failed: " + executor.Error
		return res
	}
	res.Status = model.PipelineCompleted
	res.Message = fmt.Sprintf("executor finished (%s) with %d decisions from %d recommendations",
		executor.Status, len(executor.Decisions), len(recs))
	return res
}

// ExecutorInstruction renders the first MaxExecutorRecommendations
// recommendations as a numbered task for the executor.
func ExecutorInstruction(recs []model.Recommendation) string {
	if len(recs) > MaxExecutorRecommendations {
		recs = recs[:MaxExecutorRecommendations]
	}
	var b strings.Builder
	b.WriteString("Apply the following recommendations from the analyst. Verify current values before each change, ")
	b.WriteString("skip any that no longer make sense, and report what was applied and what was blocked.\n\n")
	for i, r := range recs {
		fmt.Fprintf(&b, "%d. %s", i+1, r.Action)
		if r.EntityID != "" {
			if r.EntityType != "" {
				fmt.Fprintf(&b, " %s", r.EntityType)
			}
			fmt.Fprintf(&b, " %s", r.EntityID)
		}
		if r.Channel != "" || r.AccountID != "" {
			fmt.Fprintf(&b, " on %s/%s", r.Channel, r.AccountID)
		}
		if r.Priority != "" {
			fmt.Fprintf(&b, " [%s]", r.Priority)
		}
		if len(r.Params) > 0 {
			if p, err := json.Marshal(r.Params); err == nil {
				fmt.Fprintf(&b, " params=%s", p)
			}
		}
		if r.Reason != "" {
			fmt.Fprintf(&b, ": %s", r.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RunUserDirected runs a human request. A valid roleOverride wins;
// otherwise the role comes from ClassifyIntent.
func (o *Orchestrator) RunUserDirected(ctx context.Context, cfg model.AgentConfig, orgID uuid.UUID, userID, message string, roleOverride model.Role, creds map[string]model.Credentials) model.AgentRunResult {
	role := roleOverride
	routed := "override"
	if !role.Valid() {
		role = ClassifyIntent(message)
		routed = "intent"
	}
	o.logger.Info("orchestrator: routing request", "agent_id", cfg.AgentID, "role", role, "routed_by", routed)

	return o.agents.Run(ctx, role, agents.Request{
		Config:      cfg,
		OrgID:       orgID,
		UserID:      userID,
		Message:     message,
		Trigger:     model.TriggerUser,
		Credentials: creds,
	})
}
