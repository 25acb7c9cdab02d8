package catalog

import (
	"github.com/ashita-ai/adpilot/internal/platform"
	"github.com/ashita-ai/adpilot/internal/tools"
)

// Register adds every platform and memory tool to r.
func Register(r *tools.Registry, p platform.Provider, m Memory) {
	for _, t := range PlatformTools(p) {
		r.Register(t)
	}
	for _, t := range MemoryTools(m) {
		r.Register(t)
	}
}
