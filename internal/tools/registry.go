package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/adpilot/internal/llm"
	"github.com/ashita-ai/adpilot/internal/model"
	"github.com/ashita-ai/adpilot/internal/telemetry"
)

// Registry is the catalog of callable tools. It is constructed once at
// startup and injected; registration after startup is allowed but rare.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
	now    func() time.Time

	duration metric.Float64Histogram
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	meter := telemetry.Meter("adpilot/tools")
	duration, _ := meter.Float64Histogram("adpilot.tool.duration",
		metric.WithDescription("Tool handler latency"),
		metric.WithUnit("ms"),
	)
	return &Registry{
		tools:    make(map[string]*Tool),
		logger:   logger,
		now:      time.Now,
		duration: duration,
	}
}

// Register adds t. A tool with the same name is replaced and a warning logged.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tools: overwriting registered tool", "tool", name)
	}
	r.tools[name] = &t
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Tools returns the tools passing f, sorted by name.
func (r *Registry) Tools(f Filter) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// FunctionDeclarations converts the tools passing f into the model's
// function-declaration form.
func (r *Registry) FunctionDeclarations(f Filter) []llm.FunctionDeclaration {
	ts := r.Tools(f)
	decls := make([]llm.FunctionDeclaration, len(ts))
	for i, t := range ts {
		decls[i] = llm.FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Spec.Description,
			Parameters:  t.Parameters(),
		}
	}
	return decls
}

// UnknownToolError is the failure text for a name that is not registered.
func (r *Registry) UnknownToolError(name string) string {
	return fmt.Sprintf("unknown tool %q; available tools: %s", name, strings.Join(r.Names(), ", "))
}

// Execute runs the named tool and always returns a record; it never panics
// and never returns an error. Unknown names, invalid arguments, handler
// errors and handler panics all produce failure records.
func (r *Registry) Execute(ctx context.Context, id, name string, args map[string]any, ac *model.AgentContext) model.ToolCallRecord {
	if args == nil {
		args = map[string]any{}
	}
	start := r.now()
	rec := model.ToolCallRecord{ID: id, Name: name, Args: args, Timestamp: start.UTC()}

	t, ok := r.Get(name)
	if !ok {
		rec.Error = r.UnknownToolError(name)
		rec.DurationMs = r.now().Sub(start).Milliseconds()
		return rec
	}

	if err := ValidateArgs(t, args); err != nil {
		rec.Error = err.Error()
		rec.DurationMs = r.now().Sub(start).Milliseconds()
		return rec
	}

	result, err := r.invoke(ctx, t, args, ac)
	elapsed := r.now().Sub(start)
	rec.DurationMs = elapsed.Milliseconds()
	if r.duration != nil {
		r.duration.Record(ctx, float64(elapsed.Microseconds())/1000,
			metric.WithAttributes(attribute.String("tool", name), attribute.Bool("success", err == nil)))
	}
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	rec.Success = true
	rec.Result = result
	return rec
}

func (r *Registry) invoke(ctx context.Context, t *Tool, args map[string]any, ac *model.AgentContext) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tools: handler panicked", "tool", t.Name(), "panic", p)
			err = fmt.Errorf("tool %s panicked: %v", t.Name(), p)
		}
	}()
	if t.Handler == nil {
		return nil, fmt.Errorf("tool %s has no handler", t.Name())
	}
	return t.Handler(ctx, args, ac)
}
