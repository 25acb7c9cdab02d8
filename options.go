package adpilot

import (
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	databaseURL      string
	redisURL         string
	orgID            uuid.UUID
	logger           *slog.Logger
	version          string
	modelClient      ModelClient
	platformProvider PlatformProvider
	cache            Cache
	extraTools       []Tool
	extraMigrations  []fs.FS
}

// WithDatabaseURL overrides the store location from config (ADPILOT_DATABASE_URL).
// Accepts a postgres:// URL or sqlite:<path>.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithRedisURL overrides the cache location from config (ADPILOT_REDIS_URL).
func WithRedisURL(url string) Option {
	return func(o *resolvedOptions) { o.redisURL = url }
}

// WithOrgID sets the organization every run and decision is scoped to (ADPILOT_ORG_ID).
func WithOrgID(id uuid.UUID) Option {
	return func(o *resolvedOptions) { o.orgID = id }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported over MCP and in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithModelClient replaces the Gemini client.
func WithModelClient(c ModelClient) Option {
	return func(o *resolvedOptions) { o.modelClient = c }
}

// WithPlatformProvider replaces the HTTP platform gateway.
func WithPlatformProvider(p PlatformProvider) Option {
	return func(o *resolvedOptions) { o.platformProvider = p }
}

// WithCache replaces the Redis or in-process cache. The App closes it on Close.
func WithCache(c Cache) Option {
	return func(o *resolvedOptions) { o.cache = c }
}

// WithTool registers an extra tool after the built-in catalog.
// A tool with a built-in name replaces it.
func WithTool(t Tool) Option {
	return func(o *resolvedOptions) { o.extraTools = append(o.extraTools, t) }
}

// WithExtraMigrations adds an SQL migration filesystem to run after the built-in
// Postgres migrations. Ignored for SQLite stores.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
