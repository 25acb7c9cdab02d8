package adpilot

import (
	"github.com/ashita-ai/adpilot/internal/cache"
	"github.com/ashita-ai/adpilot/internal/llm"
	"github.com/ashita-ai/adpilot/internal/platform"
	"github.com/ashita-ai/adpilot/internal/tools"
)

// ModelClient opens function-calling conversations with a generative model.
// When provided via WithModelClient, replaces the Gemini client built from
// GEMINI_API_KEY. A client whose Configured reports false fails every run
// before a session is opened.
type ModelClient = llm.Client

// PlatformProvider resolves an advertising platform client per channel and
// credentials. When provided via WithPlatformProvider, replaces the HTTP
// gateway built from ADPILOT_<CHANNEL>_API_URL; the built-in rate limiter
// is not applied to it.
type PlatformProvider = platform.Provider

// Cache backs working memory, guardrail cooldowns and call quotas.
// When provided via WithCache, replaces Redis/in-process selection.
// Implementations report outages by wrapping cache.ErrUnavailable so
// cooldown checks can fall back to the decision log.
type Cache = cache.Cache

// Tool is a callable the agents can use. Register extra ones with WithTool.
type Tool = tools.Tool
