package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/adpilot/internal/llm"
	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/tools"
)

type outcome struct {
	record   model.ToolCallRecord
	decision *model.Decision
}

// executeBatch handles every call of one model turn. Calls run concurrently
// up to ToolConcurrency; outcomes come back in the model's order. A failing
// call never affects its siblings.
func (r *Runtime) executeBatch(ctx context.Context, st *run, iteration int, calls []llm.FunctionCall) []outcome {
	out := make([]outcome, len(calls))
	var g errgroup.Group
	g.SetLimit(r.cfg.ToolConcurrency)
	for i, call := range calls {
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		g.Go(func() error {
			out[i] = r.handleCall(ctx, st, iteration, call)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Runtime) handleCall(ctx context.Context, st *run, iteration int, call llm.FunctionCall) outcome {
	ctx, span := r.tracer.Start(ctx, "agent.tool_call", trace.WithAttributes(
		attribute.String("adpilot.tool", call.Name),
		attribute.String("adpilot.call_id", call.ID),
		attribute.Int("adpilot.iteration", iteration),
	))
	defer span.End()

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}

	t, ok := r.registry.Get(call.Name)
	if !ok {
		rec := r.registry.Execute(ctx, call.ID, call.Name, args, st.ac)
		st.logger.Warn("runtime: model called unknown tool", "tool", call.Name)
		return outcome{record: rec}
	}

	// Malformed calls never reach the guardrail, so they cannot take a
	// cooldown or a quota slot.
	if err := tools.ValidateArgs(t, args); err != nil {
		st.logger.Warn("runtime: invalid tool arguments", "tool", call.Name, "error", err)
		return outcome{record: model.ToolCallRecord{
			ID:        call.ID,
			Name:      call.Name,
			Args:      args,
			Error:     err.Error(),
			Timestamp: r.now().UTC(),
		}}
	}

	verdict := r.guard.Check(ctx, t, args, st.ac)
	span.SetAttributes(attribute.Bool("adpilot.approved", verdict.Approved))
	if !verdict.Approved {
		rec := model.ToolCallRecord{
			ID:        call.ID,
			Name:      call.Name,
			Args:      args,
			Error:     verdict.Reason,
			Guardrail: verdict,
			Timestamp: r.now().UTC(),
		}
		st.logger.Info("runtime: tool call blocked", "tool", call.Name, "reason", verdict.Reason)
		if verdict.RequiresHumanApproval {
			d := r.recordDecision(ctx, st, t, args, nil, model.DecisionPendingApproval)
			return outcome{record: rec, decision: &d}
		}
		return outcome{record: rec}
	}

	tctx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
	rec := r.registry.Execute(tctx, call.ID, call.Name, args, st.ac)
	cancel()
	rec.Guardrail = verdict

	if !rec.Success {
		st.logger.Warn("runtime: tool call failed", "tool", call.Name, "error", rec.Error)
		return outcome{record: rec}
	}
	if t.IsWrite {
		d := r.recordDecision(ctx, st, t, args, rec.Result, model.DecisionExecuted)
		return outcome{record: rec, decision: &d}
	}
	return outcome{record: rec}
}

// recordDecision persists a write. The decision is returned even when the
// store rejects it so the run result stays complete.
func (r *Runtime) recordDecision(ctx context.Context, st *run, t *tools.Tool, args map[string]any, result any, status model.DecisionStatus) model.Decision {
	entityID := t.EntityID(args)
	if entityID == "" {
		entityID = resultID(result)
	}
	d := model.Decision{
		ID:         uuid.New(),
		OrgID:      st.ac.OrgID,
		AgentID:    st.ac.AgentID,
		SessionID:  st.ac.SessionID,
		Action:     t.Name(),
		EntityType: t.EntityType,
		EntityID:   entityID,
		Channel:    tools.AsString(args["channel"]),
		AccountID:  tools.AsString(args["account_id"]),
		Reason:     tools.AsString(args["reason"]),
		Input:      args,
		Output:     result,
		Status:     status,
		CreatedAt:  r.now().UTC(),
	}
	r.store(ctx, st, "record decision", func(ctx context.Context) error {
		saved, err := r.memory.RecordDecision(ctx, d)
		if err == nil {
			d = saved
		}
		return err
	})
	return d
}

// resultID pulls the "id" field out of a created entity.
func resultID(result any) string {
	if result == nil {
		return ""
	}
	b, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	var v struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(b, &v) != nil {
		return ""
	}
	return v.ID
}

// responsePayload is what the model sees for one call.
func responsePayload(rec model.ToolCallRecord) map[string]any {
	p := map[string]any{"success": rec.Success}
	if rec.Success {
		p["result"] = rec.Result
	} else {
		p["error"] = rec.Error
	}
	g := rec.Guardrail
	if !rec.Success && !g.Approved && g.Reason != "" {
		p["blocked"] = true
		p["reason"] = g.Reason
	}
	if g.RequiresHumanApproval {
		p["requires_human_approval"] = true
	}
	if g.CooldownExpiresAt != nil {
		p["cooldown_expires_at"] = g.CooldownExpiresAt.UTC().Format(time.RFC3339)
	}
	if len(g.Warnings) > 0 {
		p["warnings"] = g.Warnings
	}
	return p
}
