// Package model defines the core domain types for adpilot.
//
// Types are shared by the runtime, guardrail, memory and storage layers.
// They use strong typing (UUIDs, time.Time, string enums) and avoid
// interface{} except where a payload is genuinely open-ended (tool args
// and results).
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Mode is the operating mode that gates write operations.
type Mode string

const (
	ModeObserve Mode = "observe"
	ModeSuggest Mode = "suggest"
	ModeAuto    Mode = "auto"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeObserve, ModeSuggest, ModeAuto:
		return true
	}
	return false
}

// Role names a specialized agent configuration.
type Role string

const (
	RoleAnalyst  Role = "analyst"
	RolePlanner  Role = "planner"
	RoleExecutor Role = "executor"
	RoleCreative Role = "creative"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAnalyst, RolePlanner, RoleExecutor, RoleCreative:
		return true
	}
	return false
}

// Permission names used by the tool catalog.
const (
	PermReadInsights    = "read_insights"
	PermManageBudget    = "manage_budget"
	PermManageStatus    = "manage_status"
	PermManageBids      = "manage_bids"
	PermCreateEntities  = "create_entities"
	PermManageCreatives = "manage_creatives"
)

// AccountRef identifies one ad account on one channel.
type AccountRef struct {
	Channel   string `json:"channel" yaml:"channel"`
	AccountID string `json:"account_id" yaml:"account_id"`
}

// Objectives are the performance targets and spend ceilings for an agent.
type Objectives struct {
	TargetROAS     float64 `json:"target_roas,omitempty" yaml:"target_roas"`
	MaxCPA         float64 `json:"max_cpa,omitempty" yaml:"max_cpa"`
	MaxDailyBudget float64 `json:"max_daily_budget,omitempty" yaml:"max_daily_budget"`
	MaxTotalBudget float64 `json:"max_total_budget,omitempty" yaml:"max_total_budget"`
}

// Limits bound a single run.
type Limits struct {
	MaxIterations int     `json:"max_iterations" yaml:"max_iterations"`
	Temperature   float64 `json:"temperature" yaml:"temperature"`
}

// Defaults applied when a config leaves limits unset.
const (
	DefaultMaxIterations = 10
	DefaultTemperature   = 0.2
)

// AgentConfig is the per-agent policy. It is passed by value into a run and
// never mutated during it.
type AgentConfig struct {
	AgentID     string          `json:"agent_id" yaml:"agent_id"`
	Name        string          `json:"name,omitempty" yaml:"name"`
	Role        Role            `json:"role,omitempty" yaml:"role"`
	Mode        Mode            `json:"mode" yaml:"mode"`
	Permissions map[string]bool `json:"permissions" yaml:"permissions"`
	Accounts    []AccountRef    `json:"accounts" yaml:"accounts"`
	Objectives  Objectives      `json:"objectives" yaml:"objectives"`
	Limits      Limits          `json:"limits" yaml:"limits"`
}

// WithDefaults returns a copy with zero-valued limits filled in.
func (c AgentConfig) WithDefaults() AgentConfig {
	if c.Limits.MaxIterations <= 0 {
		c.Limits.MaxIterations = DefaultMaxIterations
	}
	if c.Limits.Temperature <= 0 {
		c.Limits.Temperature = DefaultTemperature
	}
	if c.Mode == "" {
		c.Mode = ModeObserve
	}
	return c
}

// Validate checks the fields a run cannot proceed without.
func (c AgentConfig) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("invalid mode %q (must be observe, suggest, or auto)", c.Mode)
	}
	if c.Role != "" && !c.Role.Valid() {
		return fmt.Errorf("invalid role %q", c.Role)
	}
	for i, a := range c.Accounts {
		if a.Channel == "" || a.AccountID == "" {
			return fmt.Errorf("accounts[%d]: channel and account_id are required", i)
		}
	}
	if c.Objectives.MaxDailyBudget < 0 || c.Objectives.MaxTotalBudget < 0 {
		return fmt.Errorf("budget ceilings must not be negative")
	}
	return nil
}

// Credentials authenticate against one platform channel. Never logged.
type Credentials struct {
	AccessToken string            `json:"-"`
	Extra       map[string]string `json:"-"`
}

// AgentContext is the per-run identity and policy snapshot handed to the
// guardrail engine and tool handlers. Created fresh for every run.
type AgentContext struct {
	SessionID   uuid.UUID
	AgentID     string
	OrgID       uuid.UUID
	UserID      string
	Role        Role
	Mode        Mode
	Permissions map[string]bool
	Accounts    []AccountRef
	Objectives  Objectives
	Credentials map[string]Credentials
}

// NewAgentContext builds the run context for cfg.
func NewAgentContext(cfg AgentConfig, sessionID, orgID uuid.UUID, userID string, role Role, creds map[string]Credentials) *AgentContext {
	perms := make(map[string]bool, len(cfg.Permissions))
	for k, v := range cfg.Permissions {
		perms[k] = v
	}
	return &AgentContext{
		SessionID:   sessionID,
		AgentID:     cfg.AgentID,
		OrgID:       orgID,
		UserID:      userID,
		Role:        role,
		Mode:        cfg.Mode,
		Permissions: perms,
		Accounts:    append([]AccountRef(nil), cfg.Accounts...),
		Objectives:  cfg.Objectives,
		Credentials: creds,
	}
}

// HasAccount reports whether the channel/account pair is in scope.
func (ac *AgentContext) HasAccount(channel, accountID string) bool {
	for _, a := range ac.Accounts {
		if a.Channel == channel && a.AccountID == accountID {
			return true
		}
	}
	return false
}
