// Package adpilot provides the public API for embedding the adpilot agent
// runtime in your own program.
//
// Basic usage:
//
//	app, err := adpilot.New(adpilot.WithVersion("1.0.0"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Close(context.Background())
//
//	cfg, err := adpilot.LoadAgentConfig("agents/ops.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res := app.RunOptimizationPipeline(ctx, cfg, adpilot.CredentialsFromEnv(cfg.Accounts))
//	fmt.Println(res.Status, res.Message)
//
// Extension points are configured via Option functions passed to New.
package adpilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/adpilot/internal/agents"
	"github.com/ashita-ai/adpilot/internal/cache"
	"github.com/ashita-ai/adpilot/internal/catalog"
	"github.com/ashita-ai/adpilot/internal/config"
	"github.com/ashita-ai/adpilot/internal/guardrail"
	"github.com/ashita-ai/adpilot/internal/llm"
	"github.com/ashita-ai/adpilot/internal/mcp"
	"github.com/ashita-ai/adpilot/internal/memory"
	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/orchestrator"
	"github.com/ashita-ai/adpilot/internal/platform"
	"github.com/ashita-ai/adpilot/internal/ratelimit"
	"github.com/ashita-ai/adpilot/internal/runtime"
	"github.com/ashita-ai/adpilot/internal/storage"
	"github.com/ashita-ai/adpilot/internal/storage/sqlite"
	"github.com/ashita-ai/adpilot/internal/telemetry"
	"github.com/ashita-ai/adpilot/internal/tools"
	"github.com/ashita-ai/adpilot/migrations"
)

// App is a fully wired adpilot instance. Create one with New and release
// it with Close.
type App struct {
	cfg          config.Config
	logger       *slog.Logger
	version      string
	store        memory.Store
	cache        cache.Cache
	limiter      ratelimit.Limiter
	mem          *memory.Service
	registry     *tools.Registry
	agents       *agents.Agents
	orch         *orchestrator.Orchestrator
	otelShutdown telemetry.Shutdown
}

// New creates a fully initialized App: config is loaded from the
// environment (and .env), storage is opened and migrated, and the tool
// catalog, guardrails, runtime and orchestrator are wired together.
func New(opts ...Option) (*App, error) {
	o := &resolvedOptions{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Missing .env is fine; the environment may be set some other way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.redisURL != "" {
		cfg.RedisURL = o.redisURL
	}
	if o.orgID != uuid.Nil {
		cfg.OrgID = o.orgID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	version := o.version
	if version == "" {
		version = "dev"
	}

	ctx := context.Background()

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{
		cfg:          cfg,
		logger:       logger,
		version:      version,
		otelShutdown: otelShutdown,
	}

	if err := a.openStore(ctx, o); err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}

	if o.cache != nil {
		a.cache = o.cache
	} else if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			// The durable ledger covers cooldowns while Redis is down, so a
			// bad connection at startup degrades instead of failing.
			logger.Warn("redis: unavailable, guardrail cache degraded", "error", err)
			a.cache = cache.Unavailable{}
		} else {
			a.cache = rc
			logger.Info("cache: redis")
		}
	} else {
		a.cache = cache.NewMemoryCache()
		logger.Info("cache: in-process")
	}

	a.mem = memory.New(a.store, a.cache, memory.Config{WorkingTTL: cfg.WorkingMemoryTTL}, logger)

	provider := o.platformProvider
	if provider == nil {
		a.limiter = ratelimit.NewMemoryLimiter(cfg.PlatformRPS, cfg.PlatformBurst)
		provider = platform.NewHTTPProvider(cfg.PlatformURLs, a.limiter, cfg.PlatformTimeout)
		logger.Info("platform: http gateway",
			"channels", len(cfg.PlatformURLs), "rps", cfg.PlatformRPS, "burst", cfg.PlatformBurst)
	}

	a.registry = tools.NewRegistry(logger)
	catalog.Register(a.registry, provider, a.mem)
	for _, t := range o.extraTools {
		a.registry.Register(t)
	}

	guard := guardrail.New(guardrail.NewLedger(a.cache, a.mem, logger), logger)

	client := o.modelClient
	if client == nil {
		client = llm.NewGeminiClient(cfg.ModelURL, cfg.Model, cfg.GeminiAPIKey, cfg.ModelTimeout)
		if cfg.GeminiAPIKey == "" {
			logger.Warn("model: GEMINI_API_KEY not set, runs will fail until it is")
		}
	}

	rt := runtime.New(client, a.registry, guard, a.mem, runtime.Config{
		ModelTimeout:    cfg.ModelTimeout,
		ToolTimeout:     cfg.ToolTimeout,
		StoreTimeout:    cfg.StoreTimeout,
		ToolConcurrency: cfg.ToolConcurrency,
	}, logger)
	a.agents = agents.New(rt)
	a.orch = orchestrator.New(a.agents, logger)

	logger.Info("adpilot ready", "version", version, "tools", len(a.registry.Names()))
	return a, nil
}

func (a *App) openStore(ctx context.Context, o *resolvedOptions) error {
	if path, ok := a.cfg.SQLitePath(); ok {
		st, err := sqlite.Open(ctx, path)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		a.store = st
		a.logger.Info("storage: sqlite", "path", path)
		return nil
	}

	db, err := storage.New(ctx, a.cfg.DatabaseURL, a.logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrations: %w", err)
	}
	for _, extra := range o.extraMigrations {
		if err := db.RunMigrations(ctx, extra); err != nil {
			_ = db.Close()
			return fmt.Errorf("extra migrations: %w", err)
		}
	}
	a.store = db
	a.logger.Info("storage: postgres")
	return nil
}

// Version returns the version string the App was built with.
func (a *App) Version() string { return a.version }

// OrgID returns the default organization from ADPILOT_ORG_ID. It is the
// zero UUID when unset.
func (a *App) OrgID() uuid.UUID { return a.cfg.OrgID }

// RunAnalyst runs the analyst role. An empty message runs its default task.
func (a *App) RunAnalyst(ctx context.Context, cfg AgentConfig, userID, message string, creds map[string]Credentials) RunResult {
	return a.agents.RunAnalyst(ctx, cfg, a.cfg.OrgID, userID, message, creds)
}

// RunPlanner runs the planner role.
func (a *App) RunPlanner(ctx context.Context, cfg AgentConfig, userID, message string, creds map[string]Credentials) RunResult {
	return a.agents.RunPlanner(ctx, cfg, a.cfg.OrgID, userID, message, creds)
}

// RunExecutor runs the executor role. Writes are subject to the agent's
// mode and guardrails.
func (a *App) RunExecutor(ctx context.Context, cfg AgentConfig, userID, message string, creds map[string]Credentials) RunResult {
	return a.agents.RunExecutor(ctx, cfg, a.cfg.OrgID, userID, message, creds)
}

// RunCreativeAgent runs the creative role.
func (a *App) RunCreativeAgent(ctx context.Context, cfg AgentConfig, userID, message string, creds map[string]Credentials) RunResult {
	return a.agents.RunCreative(ctx, cfg, a.cfg.OrgID, userID, message, creds)
}

// RunOptimizationPipeline runs the analyst and, in auto mode, hands its
// recommendations to the executor.
func (a *App) RunOptimizationPipeline(ctx context.Context, cfg AgentConfig, creds map[string]Credentials) PipelineResult {
	return a.orch.RunOptimizationPipeline(ctx, cfg, a.cfg.OrgID, creds)
}

// RunUserDirected routes message to a role by intent. A valid roleOverride
// skips classification.
func (a *App) RunUserDirected(ctx context.Context, cfg AgentConfig, userID, message string, roleOverride Role, creds map[string]Credentials) RunResult {
	return a.orch.RunUserDirected(ctx, cfg, a.cfg.OrgID, userID, message, roleOverride, creds)
}

// Decisions lists recorded write decisions for the App's organization.
func (a *App) Decisions(ctx context.Context, agentID string, limit int) ([]Decision, error) {
	return a.mem.RecentDecisions(ctx, model.DecisionFilter{OrgID: a.cfg.OrgID, AgentID: agentID, Limit: limit})
}

// RecordOutcome attaches an evaluator's verdict to a decision.
func (a *App) RecordOutcome(ctx context.Context, decisionID uuid.UUID, outcome Outcome, note string) error {
	return a.mem.UpdateDecisionOutcome(ctx, a.cfg.OrgID, decisionID, outcome, note)
}

// MCPServer builds the MCP surface over this App. resolve returns the
// policy and credentials for each call's agent_id.
func (a *App) MCPServer(resolve mcp.AgentResolver) *mcp.Server {
	return mcp.New(a.orch, a.mem, resolve, a.cfg.OrgID, a.logger, a.version)
}

// Close releases storage, cache and limiter resources and flushes
// telemetry. It is safe to call once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.limiter != nil {
		errs = append(errs, a.limiter.Close())
	}
	if a.mem != nil {
		errs = append(errs, a.mem.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.otelShutdown != nil {
		errs = append(errs, a.otelShutdown(ctx))
	}
	return errors.Join(errs...)
}

// LoadAgentConfig reads and validates an agent policy YAML file.
func LoadAgentConfig(path string) (AgentConfig, error) {
	return config.LoadAgentConfig(path)
}

// CredentialsFromEnv builds per-channel credentials for accounts from
// ADPILOT_<CHANNEL>_ACCESS_TOKEN.
func CredentialsFromEnv(accounts []AccountRef) map[string]Credentials {
	return config.CredentialsFromEnv(accounts)
}
