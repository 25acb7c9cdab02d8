package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/adpilot/internal/model"
)

// DigestRequest selects what goes into a context digest.
type DigestRequest struct {
	OrgID   uuid.UUID
	AgentID string

	// Optional knowledge narrowing.
	Category string
	Tag      string
}

const truncationMarker = "\n[memory digest truncated]"

// BuildContext assembles the memory digest for an agent: its recent
// decisions, the organization's most confident knowledge and the last run
// snapshot, truncated to MaxDigestChars. An agent with no history yields "".
// Concurrent builds for the same request share one set of queries.
func (s *Service) BuildContext(ctx context.Context, req DigestRequest) (string, error) {
	key := req.OrgID.String() + "|" + req.AgentID + "|" + req.Category + "|" + req.Tag
	v, err, _ := s.digests.Do(key, func() (any, error) {
		return s.buildContext(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Service) buildContext(ctx context.Context, req DigestRequest) (string, error) {
	var (
		decisions []model.Decision
		knowledge []model.KnowledgeEntry
		snap      Snapshot
		hasSnap   bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		decisions, err = s.store.ListDecisions(gctx, model.DecisionFilter{
			OrgID:   req.OrgID,
			AgentID: req.AgentID,
			Since:   s.now().Add(-s.cfg.DecisionLookback),
			Limit:   s.cfg.MaxDecisions,
		})
		if err != nil {
			return fmt.Errorf("memory: digest decisions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		knowledge, err = s.store.ListKnowledge(gctx, model.KnowledgeFilter{
			OrgID:    req.OrgID,
			Category: req.Category,
			Tag:      req.Tag,
			Limit:    s.cfg.MaxKnowledge,
		})
		if err != nil {
			return fmt.Errorf("memory: digest knowledge: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		snap, hasSnap, err = s.Snapshot(gctx, req.OrgID, req.AgentID)
		if err != nil {
			// Snapshot is best effort.
			s.logger.Warn("memory: digest snapshot unavailable", "agent_id", req.AgentID, "error", err)
			hasSnap = false
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	var b strings.Builder
	if len(decisions) > 0 {
		fmt.Fprintf(&b, "## Recent decisions (last %s)\n", lookbackLabel(s.cfg))
		for _, d := range decisions {
			writeDecision(&b, d)
		}
	}
	if len(knowledge) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## Organizational knowledge\n")
		for _, k := range knowledge {
			fmt.Fprintf(&b, "- %s", k.Fact)
			if k.Category != "" {
				fmt.Fprintf(&b, " [%s]", k.Category)
			}
			fmt.Fprintf(&b, " (confidence %.2f, affirmed %dx)\n", k.Confidence, k.ValidationCount)
		}
	}
	if hasSnap {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## Previous run\n")
		fmt.Fprintf(&b, "%s at %s: %d tool calls, %d decisions.\n",
			snap.Status, snap.FinishedAt.UTC().Format("2006-01-02 15:04 MST"), snap.ToolCallCount, snap.DecisionCount)
		if snap.Summary != "" {
			b.WriteString(snap.Summary)
			b.WriteString("\n")
		}
	}

	return truncate(b.String(), s.cfg.MaxDigestChars), nil
}

func writeDecision(b *strings.Builder, d model.Decision) {
	fmt.Fprintf(b, "- %s %s", d.CreatedAt.UTC().Format("2006-01-02 15:04"), d.Action)
	if d.EntityID != "" {
		if d.EntityType != model.EntityNone {
			fmt.Fprintf(b, " %s", d.EntityType)
		}
		fmt.Fprintf(b, " %s", d.EntityID)
	}
	if d.Channel != "" {
		fmt.Fprintf(b, " on %s", d.Channel)
	}
	fmt.Fprintf(b, " [%s]", d.Status)
	if d.Outcome != nil {
		fmt.Fprintf(b, " outcome=%s", *d.Outcome)
	}
	if d.Reason != "" {
		fmt.Fprintf(b, ": %s", d.Reason)
	}
	b.WriteString("\n")
}

func lookbackLabel(c Config) string {
	days := int(c.DecisionLookback.Hours() / 24)
	if days >= 1 && c.DecisionLookback%(24*time.Hour) == 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	return c.DecisionLookback.String()
}

// truncate cuts s to at most limit bytes on a rune boundary, marking the cut.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
