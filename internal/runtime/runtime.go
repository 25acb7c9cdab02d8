// Package runtime is the agent control loop: it opens a model conversation
// with a role's prompt, memory digest and policy banner, then alternates
// model turns with guarded tool execution until the model answers in plain
// text, the iteration ceiling is hit, or the model fails.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/adpilot/internal/ctxutil"
	"github.com/ashita-ai/adpilot/internal/guardrail"
	"github.com/ashita-ai/adpilot/internal/llm"
	"github.com/ashita-ai/adpilot/internal/memory"
	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/telemetry"
	"github.com/ashita-ai/adpilot/internal/tools"
)

// ErrModelNotConfigured is reported when no model credential is available.
var ErrModelNotConfigured = errors.New("runtime: model not configured")

// Config bounds every external call the loop makes.
type Config struct {
	ModelTimeout    time.Duration
	ToolTimeout     time.Duration
	StoreTimeout    time.Duration
	ToolConcurrency int
}

// DefaultConfig returns the stock timeouts and a batch concurrency of 4.
func DefaultConfig() Config {
	return Config{
		ModelTimeout:    90 * time.Second,
		ToolTimeout:     30 * time.Second,
		StoreTimeout:    5 * time.Second,
		ToolConcurrency: 4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = d.ModelTimeout
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = d.ToolTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.ToolConcurrency <= 0 {
		c.ToolConcurrency = d.ToolConcurrency
	}
	return c
}

// Profile is the fixed configuration a role applies to the runtime.
type Profile struct {
	Role         model.Role
	SystemPrompt string
	// DefaultTask builds the opening message when the caller supplies none.
	DefaultTask func(ac *model.AgentContext) string
	Filter      tools.Filter
}

// RunRequest is one invocation of the loop.
type RunRequest struct {
	Profile     Profile
	Config      model.AgentConfig
	OrgID       uuid.UUID
	UserID      string
	Message     string
	Trigger     model.Trigger
	Credentials map[string]model.Credentials
}

// Runtime runs agents. It is safe for concurrent use; each Run owns its
// conversation and AgentContext.
type Runtime struct {
	model    llm.Client
	registry *tools.Registry
	guard    *guardrail.Engine
	memory   *memory.Service
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates a Runtime.
func New(client llm.Client, registry *tools.Registry, guard *guardrail.Engine, mem *memory.Service, cfg Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		model:    client,
		registry: registry,
		guard:    guard,
		memory:   mem,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		tracer:   telemetry.Tracer("adpilot/runtime"),
		now:      time.Now,
	}
}

// run is the mutable state of one Run.
type run struct {
	req     RunRequest
	ac      *model.AgentContext
	cfg     model.AgentConfig
	logger  *slog.Logger
	started time.Time
	result  model.AgentRunResult
}

// Run executes one agent run to a terminal state. It never returns an
// error: failures are reported through the result's Status and Error.
func (r *Runtime) Run(ctx context.Context, req RunRequest) model.AgentRunResult {
	started := r.now()
	cfg := req.Config.WithDefaults()
	role := req.Profile.Role
	if role == "" {
		role = cfg.Role
	}

	res := model.AgentRunResult{
		SessionID: uuid.New(),
		AgentID:   cfg.AgentID,
		Role:      role,
		Status:    model.RunStatusFailed,
		ToolCalls: []model.ToolCallRecord{},
		Decisions: []model.Decision{},
	}

	// Setup faults end the run before a session exists.
	if r.model == nil || !r.model.Configured() {
		res.Error = ErrModelNotConfigured.Error()
		res.DurationMs = r.now().Sub(started).Milliseconds()
		r.logger.Error("runtime: run not started", "agent_id", cfg.AgentID, "error", res.Error)
		return res
	}
	if err := cfg.Validate(); err != nil {
		res.Error = fmt.Sprintf("runtime: invalid agent config: %v", err)
		res.DurationMs = r.now().Sub(started).Milliseconds()
		r.logger.Error("runtime: run not started", "agent_id", cfg.AgentID, "error", err)
		return res
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = model.TriggerScheduled
		if req.Message != "" {
			trigger = model.TriggerUser
		}
	}

	ac := model.NewAgentContext(cfg, res.SessionID, req.OrgID, req.UserID, role, req.Credentials)
	ctx = ctxutil.WithRun(ctx, ctxutil.Run{SessionID: ac.SessionID, AgentID: ac.AgentID, OrgID: ac.OrgID, Role: string(role)})
	ctx, span := r.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("adpilot.session_id", ac.SessionID.String()),
		attribute.String("adpilot.agent_id", ac.AgentID),
		attribute.String("adpilot.role", string(role)),
		attribute.String("adpilot.mode", string(ac.Mode)),
		attribute.String("adpilot.trigger", string(trigger)),
	))
	defer span.End()

	st := &run{
		req:     req,
		ac:      ac,
		cfg:     cfg,
		logger:  r.logger.With(ctxutil.LogAttrs(ctx)...),
		started: started,
		result:  res,
	}

	r.store(ctx, st, "start session", func(ctx context.Context) error {
		return r.memory.StartSession(ctx, model.Session{
			ID:        ac.SessionID,
			OrgID:     ac.OrgID,
			AgentID:   ac.AgentID,
			UserID:    ac.UserID,
			Role:      role,
			Trigger:   trigger,
			Status:    model.RunStatusRunning,
			StartedAt: started.UTC(),
		})
	})

	r.loop(ctx, st)
	r.finish(ctx, st)

	span.SetAttributes(
		attribute.String("adpilot.status", string(st.result.Status)),
		attribute.Int("adpilot.iterations", st.result.TotalIterations),
		attribute.Int("adpilot.tool_calls", len(st.result.ToolCalls)),
	)
	if st.result.Status == model.RunStatusFailed {
		span.SetStatus(codes.Error, st.result.Error)
	}
	return st.result
}

func (r *Runtime) loop(ctx context.Context, st *run) {
	digest := ""
	if r.memory != nil {
		dctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
		d, err := r.memory.BuildContext(dctx, memory.DigestRequest{OrgID: st.ac.OrgID, AgentID: st.ac.AgentID})
		cancel()
		if err != nil {
			st.logger.Warn("runtime: memory digest unavailable", "error", err)
		} else {
			digest = d
		}
	}

	chat := r.model.StartChat(llm.ChatConfig{
		SystemInstruction: systemPrompt(st.req.Profile, st.ac, st.cfg, digest),
		Tools:             r.registry.FunctionDeclarations(st.req.Profile.Filter),
		Temperature:       st.cfg.Limits.Temperature,
	})

	opening := st.req.Message
	if opening == "" && st.req.Profile.DefaultTask != nil {
		opening = st.req.Profile.DefaultTask(st.ac)
	}
	msg := llm.Message{Text: opening}

	maxIter := st.cfg.Limits.MaxIterations
	lastText := ""
	for iteration := 1; ; iteration++ {
		if iteration > maxIter {
			st.result.Status = model.RunStatusMaxIterations
			st.result.TotalIterations = maxIter
			st.result.Summary = lastText
			if st.result.Summary == "" {
				st.result.Summary = fmt.Sprintf("Stopped after %d iterations without a final answer.", maxIter)
			}
			st.logger.Warn("runtime: iteration ceiling reached", "max_iterations", maxIter)
			return
		}

		resp, err := r.send(ctx, chat, msg, iteration)
		if err != nil {
			st.result.Status = model.RunStatusFailed
			st.result.TotalIterations = iteration - 1
			st.result.Summary = lastText
			st.result.Error = fmt.Sprintf("model: %v", err)
			st.logger.Error("runtime: model turn failed", "iteration", iteration, "error", err)
			return
		}
		if resp.Text != "" {
			lastText = resp.Text
		}
		if len(resp.FunctionCalls) == 0 {
			st.result.Status = model.RunStatusCompleted
			st.result.TotalIterations = iteration
			st.result.Summary = resp.Text
			return
		}

		outcomes := r.executeBatch(ctx, st, iteration, resp.FunctionCalls)
		records := make([]model.ToolCallRecord, 0, len(outcomes))
		responses := make([]llm.FunctionResponse, 0, len(outcomes))
		for _, o := range outcomes {
			records = append(records, o.record)
			responses = append(responses, llm.FunctionResponse{
				ID:       o.record.ID,
				Name:     o.record.Name,
				Response: responsePayload(o.record),
			})
			if o.decision != nil {
				st.result.Decisions = append(st.result.Decisions, *o.decision)
			}
		}
		st.result.ToolCalls = append(st.result.ToolCalls, records...)
		st.result.TotalIterations = iteration
		r.store(ctx, st, "append tool calls", func(ctx context.Context) error {
			return r.memory.AppendToolCalls(ctx, st.ac.SessionID, records)
		})

		msg = llm.Message{FunctionResponses: responses}
	}
}

func (r *Runtime) send(ctx context.Context, chat llm.Chat, msg llm.Message, iteration int) (*llm.Response, error) {
	ctx, span := r.tracer.Start(ctx, "agent.model_turn", trace.WithAttributes(
		attribute.Int("adpilot.iteration", iteration),
		attribute.Int("adpilot.function_responses", len(msg.FunctionResponses)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ModelTimeout)
	defer cancel()
	resp, err := chat.Send(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp == nil {
		return nil, llm.ErrNoCandidates
	}
	span.SetAttributes(attribute.Int("adpilot.function_calls", len(resp.FunctionCalls)))
	return resp, nil
}

// finish finalizes the session and leaves a snapshot for the agent's next run.
func (r *Runtime) finish(ctx context.Context, st *run) {
	st.result.DurationMs = r.now().Sub(st.started).Milliseconds()
	out := model.SessionOutcome{
		Status:        st.result.Status,
		Summary:       st.result.Summary,
		Error:         st.result.Error,
		Iterations:    st.result.TotalIterations,
		ToolCallCount: len(st.result.ToolCalls),
		DecisionCount: len(st.result.Decisions),
		DurationMs:    st.result.DurationMs,
	}
	r.store(ctx, st, "finalize session", func(ctx context.Context) error {
		return r.memory.FinalizeSession(ctx, st.ac.SessionID, out)
	})
	r.store(ctx, st, "save snapshot", func(ctx context.Context) error {
		return r.memory.SaveSnapshot(ctx, st.ac.OrgID, st.ac.AgentID, memory.Snapshot{
			SessionID:     st.ac.SessionID,
			Status:        out.Status,
			Summary:       out.Summary,
			ToolCallCount: out.ToolCallCount,
			DecisionCount: out.DecisionCount,
		})
	})
	st.logger.Info("runtime: run finished",
		"status", out.Status,
		"iterations", out.Iterations,
		"tool_calls", out.ToolCallCount,
		"decisions", out.DecisionCount,
		"duration_ms", out.DurationMs,
	)
}

// store runs a memory write bounded by StoreTimeout. Failures are logged
// and swallowed. The write survives cancellation of the run context so a
// cancelled run is still finalized.
func (r *Runtime) store(ctx context.Context, st *run, what string, fn func(context.Context) error) {
	if r.memory == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StoreTimeout)
	defer cancel()
	if err := fn(sctx); err != nil {
		st.logger.Warn("runtime: memory write failed", "op", what, "error", err)
	}
}
