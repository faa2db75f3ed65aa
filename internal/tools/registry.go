// Package tools holds the tool catalogue: built-in in-process tools and tools
// imported from external MCP servers, all behind one registry the dispatcher
// resolves calls against.
package tools

import (
	"fmt"
	"slices"
	"sync"

	"github.com/parley-ai/parley/internal/dispatch"
	"github.com/parley-ai/parley/pkg/types"
)

// Registry maps tool names to their definition and executor.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	def  types.ToolDefinition
	exec dispatch.Executor
}

var _ dispatch.Catalog = (*Registry)(nil)

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. A tool with the same name is replaced.
func (r *Registry) Register(def types.ToolDefinition, exec dispatch.Executor) error {
	if def.Name == "" {
		return fmt.Errorf("tools: definition must have a non-empty name")
	}
	if exec == nil {
		return fmt.Errorf("tools: tool %q must have a non-nil executor", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = entry{def: def, exec: exec}
	return nil
}

// Lookup resolves a tool name for the dispatcher.
func (r *Registry) Lookup(name string) (types.ToolDefinition, dispatch.Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.def, e.exec, ok
}

// Definitions returns all registered tool definitions sorted by name, for
// inclusion in reasoning-backend requests.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	slices.SortFunc(defs, func(a, b types.ToolDefinition) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return defs
}

// MarkSensitive flags the named tools as requiring confirmation. Unknown
// names are ignored so config lists can cover MCP tools that connect later.
func (r *Registry) MarkSensitive(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if e, ok := r.entries[name]; ok {
			e.def.Sensitive = true
			r.entries[name] = e
		}
	}
}
