package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/adpilot/internal/model"
)

// LoadAgentConfig reads an agent policy file. ${VAR} references are
// expanded from the environment before parsing; unknown keys are rejected.
func LoadAgentConfig(path string) (model.AgentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.AgentConfig{}, fmt.Errorf("config: read agent config: %w", err)
	}
	cfg, err := ParseAgentConfig(raw)
	if err != nil {
		return model.AgentConfig{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// ParseAgentConfig parses, defaults and validates YAML agent policy.
func ParseAgentConfig(raw []byte) (model.AgentConfig, error) {
	expanded := os.ExpandEnv(string(raw))
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	var cfg model.AgentConfig
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return model.AgentConfig{}, errors.New("agent config is empty")
		}
		return model.AgentConfig{}, fmt.Errorf("parse agent config: %w", err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return model.AgentConfig{}, fmt.Errorf("invalid agent config: %w", err)
	}
	return cfg, nil
}

// CredentialsFromEnv reads ADPILOT_<CHANNEL>_ACCESS_TOKEN for every channel
// in accounts. Channels without a token are omitted; tools on them fail
// with a missing-credentials error.
func CredentialsFromEnv(accounts []model.AccountRef) map[string]model.Credentials {
	creds := make(map[string]model.Credentials)
	for _, a := range accounts {
		if _, seen := creds[a.Channel]; seen {
			continue
		}
		tok := os.Getenv(channelKey(a.Channel, "ACCESS_TOKEN"))
		if tok == "" {
			continue
		}
		creds[a.Channel] = model.Credentials{AccessToken: tok}
	}
	return creds
}
