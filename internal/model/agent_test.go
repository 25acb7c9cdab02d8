package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentConfigValidate(t *testing.T) {
	base := AgentConfig{AgentID: "acme", Mode: ModeAuto, Accounts: []AccountRef{{Channel: "meta", AccountID: "act_1"}}}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*AgentConfig)
		want   string
	}{
		{"missing agent id", func(c *AgentConfig) { c.AgentID = "" }, "agent_id"},
		{"bad mode", func(c *AgentConfig) { c.Mode = "yolo" }, "invalid mode"},
		{"bad role", func(c *AgentConfig) { c.Role = "janitor" }, "invalid role"},
		{"incomplete account", func(c *AgentConfig) { c.Accounts = []AccountRef{{Channel: "meta"}} }, "accounts[0]"},
		{"negative ceiling", func(c *AgentConfig) { c.Objectives.MaxDailyBudget = -1 }, "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAgentConfigWithDefaults(t *testing.T) {
	cfg := AgentConfig{AgentID: "acme"}.WithDefaults()
	assert.Equal(t, DefaultMaxIterations, cfg.Limits.MaxIterations)
	assert.Equal(t, DefaultTemperature, cfg.Limits.Temperature)
	assert.Equal(t, ModeObserve, cfg.Mode)

	cfg = AgentConfig{AgentID: "acme", Mode: ModeAuto, Limits: Limits{MaxIterations: 3, Temperature: 0.7}}.WithDefaults()
	assert.Equal(t, 3, cfg.Limits.MaxIterations)
	assert.Equal(t, 0.7, cfg.Limits.Temperature)
	assert.Equal(t, ModeAuto, cfg.Mode)
}

func TestNewAgentContextCopiesPermissions(t *testing.T) {
	cfg := AgentConfig{AgentID: "acme", Mode: ModeAuto, Permissions: map[string]bool{PermManageBudget: true}}
	ac := NewAgentContext(cfg, uuid.New(), uuid.New(), "u1", RoleExecutor, nil)
	ac.Permissions[PermManageBudget] = false
	assert.True(t, cfg.Permissions[PermManageBudget], "run context must not alias the config")
}

func TestBlendConfidence(t *testing.T) {
	assert.InDelta(t, 0.75, BlendConfidence(0.5, 1, 1.0), 1e-9)
	assert.InDelta(t, 0.6, BlendConfidence(0.6, 4, 0.6), 1e-9)
	assert.Equal(t, 1.0, BlendConfidence(1.0, 1, 5.0))
	assert.Equal(t, 0.0, ClampConfidence(-0.2))
}
