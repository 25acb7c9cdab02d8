package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/adpilot"
)

// newLogger writes JSON logs to stderr. Stdout carries command output and,
// for the mcp command, the protocol stream.
func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

// setup loads .env, builds the logger and the App, and resolves the agent
// policies named on the command line.
func setup() (*adpilot.App, *agentSet, error) {
	_ = godotenv.Load()

	logger := newLogger(os.Stderr, os.Getenv("ADPILOT_LOG_LEVEL"))
	slog.SetDefault(logger)

	paths := agentFiles
	if len(paths) == 0 {
		if p := os.Getenv("ADPILOT_AGENT_CONFIG"); p != "" {
			paths = []string{p}
		}
	}
	agents, err := loadAgents(paths)
	if err != nil {
		return nil, nil, err
	}

	app, err := adpilot.New(adpilot.WithLogger(logger), adpilot.WithVersion(version))
	if err != nil {
		return nil, nil, err
	}
	return app, agents, nil
}

// agentSet holds the agent policies available to a command.
type agentSet struct {
	byID     map[string]adpilot.AgentConfig
	fallback string
}

func loadAgents(paths []string) (*agentSet, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no agent policy: pass --agent or set ADPILOT_AGENT_CONFIG")
	}
	s := &agentSet{byID: make(map[string]adpilot.AgentConfig, len(paths))}
	for _, p := range paths {
		cfg, err := adpilot.LoadAgentConfig(p)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", p, err)
		}
		if _, dup := s.byID[cfg.AgentID]; dup {
			return nil, fmt.Errorf("agent %s: duplicate agent_id %q", p, cfg.AgentID)
		}
		s.byID[cfg.AgentID] = cfg
		if s.fallback == "" {
			s.fallback = cfg.AgentID
		}
	}
	return s, nil
}

// resolve returns the policy and environment credentials for id. An empty
// id selects the first agent loaded.
func (s *agentSet) resolve(_ context.Context, id string) (adpilot.AgentConfig, map[string]adpilot.Credentials, error) {
	if id == "" {
		id = s.fallback
	}
	cfg, ok := s.byID[id]
	if !ok {
		return adpilot.AgentConfig{}, nil, fmt.Errorf("unknown agent %q", id)
	}
	return cfg, adpilot.CredentialsFromEnv(cfg.Accounts), nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
