package runtime

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashita-ai/adpilot/internal/model"
)

// systemPrompt joins the role prompt, the run's operating policy and the
// memory digest.
func systemPrompt(p Profile, ac *model.AgentContext, cfg model.AgentConfig, digest string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.SystemPrompt))
	b.WriteString("\n\n")
	b.WriteString(policyBanner(ac, cfg))
	if digest != "" {
		b.WriteString("\n## Memory\n\n")
		b.WriteString(digest)
		b.WriteString("\n")
	}
	return b.String()
}

func policyBanner(ac *model.AgentContext, cfg model.AgentConfig) string {
	var b strings.Builder
	b.WriteString("## Operating policy\n\n")
	fmt.Fprintf(&b, "Agent: %s\n", ac.AgentID)
	fmt.Fprintf(&b, "Mode: %s. %s\n", ac.Mode, modeText(ac.Mode))

	if len(ac.Accounts) > 0 {
		refs := make([]string, 0, len(ac.Accounts))
		for _, a := range ac.Accounts {
			refs = append(refs, a.Channel+"/"+a.AccountID)
		}
		fmt.Fprintf(&b, "Accounts in scope: %s\n", strings.Join(refs, ", "))
	} else {
		b.WriteString("Accounts in scope: none\n")
	}

	o := ac.Objectives
	var goals []string
	if o.TargetROAS > 0 {
		goals = append(goals, fmt.Sprintf("target ROAS %.2f", o.TargetROAS))
	}
	if o.MaxCPA > 0 {
		goals = append(goals, fmt.Sprintf("max CPA %.2f", o.MaxCPA))
	}
	if o.MaxDailyBudget > 0 {
		goals = append(goals, fmt.Sprintf("max daily budget %.2f", o.MaxDailyBudget))
	}
	if o.MaxTotalBudget > 0 {
		goals = append(goals, fmt.Sprintf("max total budget %.2f", o.MaxTotalBudget))
	}
	if len(goals) > 0 {
		fmt.Fprintf(&b, "Objectives: %s\n", strings.Join(goals, "; "))
	}

	var perms []string
	for k, v := range ac.Permissions {
		if v {
			perms = append(perms, k)
		}
	}
	sort.Strings(perms)
	if len(perms) > 0 {
		fmt.Fprintf(&b, "Permissions: %s\n", strings.Join(perms, ", "))
	} else {
		b.WriteString("Permissions: none\n")
	}
	fmt.Fprintf(&b, "You have at most %d model turns. Finish with a plain-text summary.\n", cfg.Limits.MaxIterations)
	return b.String()
}

func modeText(m model.Mode) string {
	switch m {
	case model.ModeAuto:
		return "Approved changes are applied immediately, subject to guardrails."
	case model.ModeSuggest:
		return "Changes are recorded as proposals for a human to approve; they are not applied."
	default:
		return "Read-only. Write tools will be refused; report what you would change instead."
	}
}
