package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAgent(t *testing.T, dir, id string) string {
	t.Helper()
	path := filepath.Join(dir, id+".yaml")
	body := "agent_id: " + id + "\nmode: suggest\naccounts:\n  - channel: meta\n    account_id: act_1\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAgents(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ADPILOT_META_ACCESS_TOKEN", "tok")

	set, err := loadAgents([]string{writeAgent(t, dir, "ops-1"), writeAgent(t, dir, "ops-2")})
	require.NoError(t, err)

	cfg, creds, err := set.resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "ops-1", cfg.AgentID, "first file is the default")
	assert.Equal(t, "tok", creds["meta"].AccessToken)

	cfg, _, err = set.resolve(context.Background(), "ops-2")
	require.NoError(t, err)
	assert.Equal(t, "ops-2", cfg.AgentID)

	_, _, err = set.resolve(context.Background(), "ghost")
	assert.ErrorContains(t, err, "unknown agent")
}

func TestLoadAgents_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := loadAgents(nil)
	assert.ErrorContains(t, err, "ADPILOT_AGENT_CONFIG")

	p := writeAgent(t, dir, "ops-1")
	_, err = loadAgents([]string{p, p})
	assert.ErrorContains(t, err, "duplicate agent_id")

	_, err = loadAgents([]string{filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.True(t, newLogger(&buf, "").Enabled(context.Background(), slog.LevelInfo))
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "adpilot dev\n", buf.String())
}
