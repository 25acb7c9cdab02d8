package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ashita-ai/adpilot/internal/model"
)

var (
	fenceRe    = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")
	campaignRe = regexp.MustCompile(`(?i)\bcampaign\s+["'#]?([A-Za-z0-9_\-]+)`)
	adSetRe    = regexp.MustCompile(`(?i)\bad[ _-]?set\s+["'#]?([A-Za-z0-9_\-]+)`)
	bulletRe   = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)
)

// lineRule maps a keyword found in free text to a recommended action.
type lineRule struct {
	keywords []string
	action   string
	params   map[string]any
}

// Rules are tried in order; the first keyword hit wins for a line. Keywords
// match whole words, so "forbid" is not a bid.
var lineRules = []lineRule{
	{keywords: []string{"unpause", "reactivate", "resume", "re-enable"}, action: "update_campaign_status", params: map[string]any{"status": "ACTIVE"}},
	{keywords: []string{"pause", "turn off", "stop spending"}, action: "update_campaign_status", params: map[string]any{"status": "PAUSED"}},
	{keywords: []string{"increase budget", "raise budget", "increase the budget", "raise the budget", "scale budget", "scale up"}, action: "update_budget"},
	{keywords: []string{"decrease budget", "reduce budget", "lower budget", "cut budget", "decrease the budget", "reduce the budget", "lower the budget", "cut the budget"}, action: "update_budget"},
	{keywords: []string{"bid", "bids", "bid cap"}, action: "update_bid"},
	{keywords: []string{"new creative", "refresh creative", "replace creative", "refresh the creative"}, action: "create_creative"},
}

// ParseRecommendations extracts recommendations from an agent's final text.
// A trailing fenced JSON block (an array, or an object with a
// "recommendations" array) is authoritative, including when it is empty.
// Without one, list lines are scanned for known action keywords.
func ParseRecommendations(text string) []model.Recommendation {
	if recs, ok := parseFenced(text); ok {
		return recs
	}
	return scanLines(text)
}

func parseFenced(text string) ([]model.Recommendation, bool) {
	blocks := fenceRe.FindAllStringSubmatch(text, -1)
	for i := len(blocks) - 1; i >= 0; i-- {
		body := strings.TrimSpace(blocks[i][1])
		if body == "" {
			continue
		}
		var list []model.Recommendation
		if err := json.Unmarshal([]byte(body), &list); err == nil {
			return clean(list), true
		}
		var wrapped struct {
			Recommendations []model.Recommendation `json:"recommendations"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err == nil && wrapped.Recommendations != nil {
			return clean(wrapped.Recommendations), true
		}
	}
	return nil, false
}

func clean(in []model.Recommendation) []model.Recommendation {
	out := make([]model.Recommendation, 0, len(in))
	for _, r := range in {
		r.Action = strings.TrimSpace(r.Action)
		if r.Action == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

func scanLines(text string) []model.Recommendation {
	var out []model.Recommendation
	for _, line := range strings.Split(text, "\n") {
		if !bulletRe.MatchString(line) {
			continue
		}
		item := strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
		words := wordText(item)
		for _, rule := range lineRules {
			if !containsAnyWord(words, rule.keywords) {
				continue
			}
			rec := model.Recommendation{Action: rule.action, Reason: item, Priority: "medium"}
			if m := adSetRe.FindStringSubmatch(item); m != nil && rule.action == "update_bid" {
				rec.EntityType, rec.EntityID = string(model.EntityAdSet), m[1]
			} else if m := campaignRe.FindStringSubmatch(item); m != nil {
				rec.EntityType, rec.EntityID = string(model.EntityCampaign), m[1]
			}
			if rule.params != nil {
				rec.Params = make(map[string]any, len(rule.params))
				for k, v := range rule.params {
					rec.Params[k] = v
				}
			}
			out = append(out, rec)
			break
		}
	}
	return out
}

// wordText lowercases s into space-separated words with a space at each
// end, so " term " containment is a whole-word match.
func wordText(s string) string {
	return " " + strings.Join(wordRe.FindAllString(strings.ToLower(s), -1), " ") + " "
}

func containsAnyWord(words string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(words, wordText(p)) {
			return true
		}
	}
	return false
}
