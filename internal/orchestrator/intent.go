package orchestrator

import (
	"regexp"
	"strings"

	"github.com/ashita-ai/adpilot/internal/model"
)

// Intent vocabularies. Single words match whole words; multi-word entries
// match whole phrases.
var (
	planningTerms = []string{
		"plan", "plans", "planning", "forecast", "forecasting", "allocate", "allocation", "strategy",
		"roadmap", "projection", "next week", "next month", "next quarter", "media plan", "budget split",
	}
	executionTerms = []string{
		"pause", "unpause", "activate", "resume", "increase", "decrease", "raise", "lower", "reduce",
		"scale", "launch", "update", "change", "adjust", "apply", "execute", "turn off", "turn on",
		"set budget", "set the budget", "set bid",
	}
	creativeTerms = []string{
		"creative", "creatives", "ad copy", "copy", "headline", "headlines", "image", "images",
		"video", "videos", "asset", "assets", "fatigue", "refresh", "concept", "concepts", "visual", "banner",
	}
)

var wordRe = regexp.MustCompile(`[a-z0-9]+(?:'[a-z]+)?`)

// ClassifyIntent routes a free-text request to a role. Matching is
// case-insensitive over whole words and phrases with fixed precedence:
// planning, then execution, then creative; anything else goes to the
// analyst. A message matching several vocabularies resolves to the first.
func ClassifyIntent(message string) model.Role {
	text := wordText(message)
	switch {
	case matchesAny(text, planningTerms):
		return model.RolePlanner
	case matchesAny(text, executionTerms):
		return model.RoleExecutor
	case matchesAny(text, creativeTerms):
		return model.RoleCreative
	default:
		return model.RoleAnalyst
	}
}

func matchesAny(normalized string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(normalized, " "+t+" ") {
			return true
		}
	}
	return false
}
