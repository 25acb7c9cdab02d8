// Package config loads and validates application configuration from
// environment variables, and agent policy from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channels with a configurable gateway URL and access token.
var Channels = []string{"meta", "google", "tiktok"}

// Config holds all service configuration.
type Config struct {
	// Storage settings. DatabaseURL is a postgres:// URL or sqlite:<path>.
	DatabaseURL string
	RedisURL    string // Empty selects the in-process cache.

	// Model settings.
	GeminiAPIKey string
	Model        string
	ModelURL     string

	// Runtime bounds.
	ModelTimeout     time.Duration
	ToolTimeout      time.Duration
	StoreTimeout     time.Duration
	ToolConcurrency  int
	WorkingMemoryTTL time.Duration

	// Platform gateway settings.
	PlatformURLs    map[string]string // channel -> base URL
	PlatformRPS     float64
	PlatformBurst   int
	PlatformTimeout time.Duration

	// Defaults for CLI and MCP callers.
	OrgID           uuid.UUID
	AgentConfigPath string

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults. Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	str := func(key, def string) string { return envStr(key, def) }
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = append(errs, err)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = append(errs, err)
		return v
	}
	flt := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		errs = append(errs, err)
		return v
	}
	boolean := func(key string, def bool) bool {
		v, err := envBool(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := Config{
		DatabaseURL:      str("ADPILOT_DATABASE_URL", "sqlite:adpilot.db"),
		RedisURL:         str("ADPILOT_REDIS_URL", ""),
		GeminiAPIKey:     str("GEMINI_API_KEY", ""),
		Model:            str("ADPILOT_MODEL", "gemini-2.0-flash"),
		ModelURL:         str("ADPILOT_MODEL_URL", ""),
		ModelTimeout:     dur("ADPILOT_MODEL_TIMEOUT", 90*time.Second),
		ToolTimeout:      dur("ADPILOT_TOOL_TIMEOUT", 30*time.Second),
		StoreTimeout:     dur("ADPILOT_STORE_TIMEOUT", 5*time.Second),
		ToolConcurrency:  num("ADPILOT_TOOL_CONCURRENCY", 4),
		WorkingMemoryTTL: dur("ADPILOT_WORKING_MEMORY_TTL", 6*time.Hour),
		PlatformURLs:     map[string]string{},
		PlatformRPS:      flt("ADPILOT_PLATFORM_RPS", 5),
		PlatformBurst:    num("ADPILOT_PLATFORM_BURST", 10),
		PlatformTimeout:  dur("ADPILOT_PLATFORM_TIMEOUT", 30*time.Second),
		AgentConfigPath:  str("ADPILOT_AGENT_CONFIG", ""),
		OTELEndpoint:     str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:      str("OTEL_SERVICE_NAME", "adpilot"),
		OTELInsecure:     boolean("ADPILOT_OTEL_INSECURE", false),
		LogLevel:         str("ADPILOT_LOG_LEVEL", "info"),
	}
	for _, ch := range Channels {
		if u := os.Getenv(channelKey(ch, "API_URL")); u != "" {
			cfg.PlatformURLs[ch] = u
		}
	}
	if v := os.Getenv("ADPILOT_ORG_ID"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ADPILOT_ORG_ID=%q is not a valid UUID", v))
		}
		cfg.OrgID = id
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and in range.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("ADPILOT_DATABASE_URL is required"))
	} else if !strings.HasPrefix(c.DatabaseURL, "sqlite:") &&
		!strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		errs = append(errs, fmt.Errorf("ADPILOT_DATABASE_URL must be a postgres:// URL or sqlite:<path>"))
	}
	if c.ToolConcurrency <= 0 {
		errs = append(errs, errors.New("ADPILOT_TOOL_CONCURRENCY must be positive"))
	}
	if c.ModelTimeout <= 0 || c.ToolTimeout <= 0 || c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.PlatformRPS <= 0 {
		errs = append(errs, errors.New("ADPILOT_PLATFORM_RPS must be positive"))
	}
	if c.PlatformBurst <= 0 {
		errs = append(errs, errors.New("ADPILOT_PLATFORM_BURST must be positive"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("ADPILOT_LOG_LEVEL=%q must be debug, info, warn or error", c.LogLevel))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SQLitePath returns the file path when DatabaseURL selects SQLite.
func (c Config) SQLitePath() (string, bool) {
	return strings.CutPrefix(c.DatabaseURL, "sqlite:")
}

func channelKey(channel, suffix string) string {
	return "ADPILOT_" + strings.ToUpper(channel) + "_" + suffix
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
