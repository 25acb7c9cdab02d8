package model

import "time"

// Category groups tools for role filtering.
type Category string

const (
	CategoryData     Category = "data"
	CategoryCampaign Category = "campaign"
	CategoryMaterial Category = "material"
	CategoryMemory   Category = "memory"
)

// EntityType is the kind of platform object a tool acts on.
type EntityType string

const (
	EntityNone     EntityType = ""
	EntityAccount  EntityType = "account"
	EntityCampaign EntityType = "campaign"
	EntityAdSet    EntityType = "ad_set"
	EntityCreative EntityType = "creative"
	EntityMedia    EntityType = "media"
)

// GuardrailCheckResult is the verdict for one tool invocation.
type GuardrailCheckResult struct {
	Approved              bool       `json:"approved"`
	Reason                string     `json:"reason,omitempty"`
	RequiresHumanApproval bool       `json:"requires_human_approval,omitempty"`
	Warnings              []string   `json:"warnings,omitempty"`
	CooldownExpiresAt     *time.Time `json:"cooldown_expires_at,omitempty"`
}

// ToolCallRecord is the outcome of one tool invocation, executed or not.
type ToolCallRecord struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Args       map[string]any       `json:"args"`
	Result     any                  `json:"result,omitempty"`
	Success    bool                 `json:"success"`
	Error      string               `json:"error,omitempty"`
	Guardrail  GuardrailCheckResult `json:"guardrail"`
	DurationMs int64                `json:"duration_ms"`
	Timestamp  time.Time            `json:"timestamp"`
}
