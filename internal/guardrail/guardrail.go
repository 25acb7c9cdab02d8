// Package guardrail evaluates the policy that gates every tool call:
// permission, operating mode, budget bounds, cooldown, per-run quota and
// change magnitude, in that order. In suggest mode a write is checked
// against the budget and change bounds and then held for human approval.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/telemetry"
	"github.com/ashita-ai/adpilot/internal/tools"
)

const (
	// MinBudget is the absolute floor for any proposed budget.
	MinBudget = 1.00
	// BudgetWarnRatio is the share of the ceiling above which approved
	// budgets carry a warning.
	BudgetWarnRatio = 0.8
)

// Engine evaluates guardrails. It keeps no state of its own; cooldown and
// quota state live in the Ledger.
type Engine struct {
	ledger Ledger
	logger *slog.Logger
	now    func() time.Time

	rejections metric.Int64Counter
}

// New creates an Engine backed by ledger.
func New(ledger Ledger, logger *slog.Logger) *Engine {
	rejections, _ := telemetry.Meter("adpilot/guardrail").Int64Counter("adpilot.guardrail.rejections",
		metric.WithDescription("Tool calls rejected by guardrails, by check"),
	)
	return &Engine{ledger: ledger, logger: logger, now: time.Now, rejections: rejections}
}

// Check evaluates t with args for the run described by ac. Checks
// short-circuit on the first rejection, and a rejection returns any cooldown
// or quota reservation taken by an earlier check.
func (e *Engine) Check(ctx context.Context, t *tools.Tool, args map[string]any, ac *model.AgentContext) model.GuardrailCheckResult {
	g := t.Guardrails
	name := t.Name()

	if g.RequiredPermission != "" && !ac.Permissions[g.RequiredPermission] {
		return e.reject(ctx, "permission", name, model.GuardrailCheckResult{
			Reason: fmt.Sprintf("missing permission %q for %s", g.RequiredPermission, name),
		})
	}

	// Suggested writes get the stateless bounds before they are parked for
	// approval. Cooldown and quota are left for whoever executes them.
	pending := false
	if t.IsWrite {
		switch ac.Mode {
		case model.ModeAuto:
		case model.ModeSuggest:
			pending = true
		default:
			return e.reject(ctx, "mode", name, model.GuardrailCheckResult{
				Reason: fmt.Sprintf("observe mode: %s is a write and is not allowed", name),
			})
		}
	}

	var warnings []string
	if g.BudgetField != "" {
		if budget, ok := tools.AsFloat(args[g.BudgetField]); ok {
			ceiling := ac.Objectives.MaxDailyBudget
			switch {
			case budget < MinBudget:
				return e.reject(ctx, "budget", name, model.GuardrailCheckResult{
					Reason: fmt.Sprintf("budget %.2f is below the minimum of %.2f", budget, MinBudget),
				})
			case ceiling > 0 && budget > ceiling:
				return e.reject(ctx, "budget", name, model.GuardrailCheckResult{
					Reason: fmt.Sprintf("budget %.2f exceeds the daily budget ceiling of %.2f", budget, ceiling),
				})
			case ceiling > 0 && budget > BudgetWarnRatio*ceiling:
				warnings = append(warnings, fmt.Sprintf("budget %.2f is above %.0f%% of the daily ceiling %.2f",
					budget, BudgetWarnRatio*100, ceiling))
			}
		}
	}

	if pending {
		if reason, bad := changeViolation(t, args); bad {
			return e.reject(ctx, "change", name, model.GuardrailCheckResult{Reason: reason})
		}
		return e.reject(ctx, "mode", name, model.GuardrailCheckResult{
			Reason:                fmt.Sprintf("suggest mode: %s requires human approval", name),
			RequiresHumanApproval: true,
			Warnings:              warnings,
		})
	}

	var held []Reservation
	release := func() {
		for _, r := range held {
			if err := r.release(ctx); err != nil {
				e.logger.Warn("guardrail: release reservation failed", "tool", name, "error", err)
			}
		}
	}

	if g.CooldownMinutes > 0 {
		if entityID := t.EntityID(args); entityID != "" {
			window := time.Duration(g.CooldownMinutes) * time.Minute
			r, err := e.ledger.ReserveCooldown(ctx, entityID, name, window)
			if err != nil {
				e.logger.Error("guardrail: cooldown state unavailable", "tool", name, "entity_id", entityID, "error", err)
				return e.reject(ctx, "cooldown", name, model.GuardrailCheckResult{
					Reason: fmt.Sprintf("cooldown state for %s on %s is unavailable", name, entityID),
				})
			}
			if !r.Granted {
				expires := r.ExpiresAt
				return e.reject(ctx, "cooldown", name, model.GuardrailCheckResult{
					Reason: fmt.Sprintf("cooldown: %s on %s was changed recently; next change allowed after %s",
						name, entityID, expires.UTC().Format(time.RFC3339)),
					CooldownExpiresAt: &expires,
				})
			}
			held = append(held, r)
		}
	}

	counted := false
	if g.MaxCallsPerRun > 0 {
		r, err := e.ledger.ReserveCall(ctx, ac.SessionID, name, g.MaxCallsPerRun)
		if err != nil {
			release()
			e.logger.Error("guardrail: quota state unavailable", "tool", name, "session_id", ac.SessionID, "error", err)
			return e.reject(ctx, "quota", name, model.GuardrailCheckResult{
				Reason: fmt.Sprintf("call quota state for %s is unavailable", name),
			})
		}
		if !r.Granted {
			release()
			return e.reject(ctx, "quota", name, model.GuardrailCheckResult{
				Reason: fmt.Sprintf("quota: %s reached its limit of %d calls per run", name, g.MaxCallsPerRun),
			})
		}
		held = append(held, r)
		counted = true
	}

	if reason, bad := changeViolation(t, args); bad {
		release()
		return e.reject(ctx, "change", name, model.GuardrailCheckResult{Reason: reason})
	}

	if !counted {
		if _, err := e.ledger.ReserveCall(ctx, ac.SessionID, name, 0); err != nil {
			e.logger.Warn("guardrail: count call failed", "tool", name, "error", err)
		}
	}
	return model.GuardrailCheckResult{Approved: true, Warnings: warnings}
}

// changeViolation reports whether args move t's guarded value by more than
// its MaxChangePercent.
func changeViolation(t *tools.Tool, args map[string]any) (string, bool) {
	g := t.Guardrails
	if g.MaxChangePercent <= 0 || g.CurrentField == "" {
		return "", false
	}
	proposed, okNew := tools.AsFloat(args[g.ProposedField()])
	current, okCur := tools.AsFloat(args[g.CurrentField])
	if !okNew || !okCur || current <= 0 {
		return "", false
	}
	change := math.Abs(proposed-current) / current * 100
	if change <= g.MaxChangePercent {
		return "", false
	}
	return fmt.Sprintf("change of %.1f%% exceeds the %.0f%% limit for %s (%.2f -> %.2f)",
		change, g.MaxChangePercent, t.Name(), current, proposed), true
}

func (e *Engine) reject(ctx context.Context, check, tool string, res model.GuardrailCheckResult) model.GuardrailCheckResult {
	res.Approved = false
	if e.rejections != nil {
		e.rejections.Add(ctx, 1, metric.WithAttributes(
			attribute.String("check", check),
			attribute.String("tool", tool),
		))
	}
	e.logger.Info("guardrail: rejected", "check", check, "tool", tool, "reason", res.Reason)
	return res
}
