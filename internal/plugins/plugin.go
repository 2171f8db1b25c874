package plugins

import (
	"fmt"
	"sync"

	"github.com/agw/gateway/internal/agent"
	"github.com/agw/gateway/internal/models"
)

// Registrar is the surface a Plugin's Init method uses to contribute tools.
// Tool registration forwards to the engine's ToolRegistry; channel, command
// and hook registration is only recorded in the plugin's PluginRecord and
// wires nothing at runtime.
type Registrar struct {
	tools    *agent.ToolRegistry
	record   *pluginContribution
}

type pluginContribution struct {
	tools    []string
	channels []string
	commands []string
	hooks    []string
}

// RegisterTool adds a tool under the plugin's authority.
func (r *Registrar) RegisterTool(spec models.ToolSpec, handler agent.ToolHandler) error {
	if err := r.tools.Register(spec, handler); err != nil {
		return err
	}
	r.record.tools = append(r.record.tools, spec.Name)
	return nil
}

// RegisterChannel records that the plugin contributes a channel adapter.
func (r *Registrar) RegisterChannel(name string) { r.record.channels = append(r.record.channels, name) }

// RegisterCommand records that the plugin contributes a CLI/control-plane command.
func (r *Registrar) RegisterCommand(name string) { r.record.commands = append(r.record.commands, name) }

// RegisterHook records that the plugin contributes a lifecycle hook.
func (r *Registrar) RegisterHook(name string) { r.record.hooks = append(r.record.hooks, name) }

// Plugin is implemented by every statically linked plugin. Init is called at
// most once per instance, during Registry.LoadAll, and should be side-effect-light:
// it registers capabilities, it doesn't start goroutines.
type Plugin interface {
	Init(reg *Registrar) error
}

// Factory constructs a fresh Plugin instance for a given manifest ID.
type Factory func() Plugin

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a statically linked plugin available under id, to be
// picked up if a manifest with matching ID is discovered on disk. Intended to
// be called from a plugin package's init(), mirroring database/sql driver
// registration.
func RegisterFactory(id string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, exists := factories[id]; exists {
		panic(fmt.Sprintf("plugins: factory %q already registered", id))
	}
	factories[id] = f
}

func lookupFactory(id string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[id]
	return f, ok
}
