package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/agw/gateway/internal/models"
)

// ToolHandler invokes a tool with opaque argument maps; parameter validation
// belongs inside the handler, not the registry.
type ToolHandler func(ctx context.Context, args map[string]any) (map[string]any, error)

type toolEntry struct {
	spec    models.ToolSpec
	handler ToolHandler
}

// ErrDuplicateTool is returned by Register when spec.Name is already present.
type ErrDuplicateTool struct{ Name string }

func (e *ErrDuplicateTool) Error() string {
	return fmt.Sprintf("duplicate_tool: %q is already registered", e.Name)
}

// ToolRegistry maps a tool name to its spec and handler. Unlike a registry
// that silently replaces on re-registration, this one fails loudly on a
// duplicate name: tool names must be unique within a registry.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]toolEntry
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]toolEntry)}
}

// Register adds a tool. Returns *ErrDuplicateTool if spec.Name is already
// registered; the existing registration is left untouched.
func (r *ToolRegistry) Register(spec models.ToolSpec, handler ToolHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return &ErrDuplicateTool{Name: spec.Name}
	}
	r.tools[spec.Name] = toolEntry{spec: spec, handler: handler}
	return nil
}

// Get returns the entry for name, or ok=false if it isn't registered.
func (r *ToolRegistry) Get(name string) (models.ToolSpec, ToolHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return models.ToolSpec{}, nil, false
	}
	return e.spec, e.handler, true
}

// ListSpecs enumerates every registered ToolSpec, for handing to the planner.
func (r *ToolRegistry) ListSpecs() []models.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]models.ToolSpec, 0, len(r.tools))
	for _, e := range r.tools {
		specs = append(specs, e.spec)
	}
	return specs
}
