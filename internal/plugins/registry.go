package plugins

import (
	"fmt"
	"sync"

	"github.com/agw/gateway/internal/agent"
	"github.com/agw/gateway/internal/models"
)

// Registry tracks every plugin LoadAll attempted to bring up, whether it
// succeeded or failed, so doctor.audit and the control plane can report on
// plugin health without re-scanning disk.
type Registry struct {
	mu      sync.RWMutex
	records map[string]models.PluginRecord
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]models.PluginRecord)}
}

// LoadAll discovers manifests under dirs, then for each manifest with a
// matching statically linked factory, constructs and initializes the plugin.
// One plugin's failure (missing factory, Init error, or panic) never stops
// the rest from loading.
func (r *Registry) LoadAll(dirs []string, tools *agent.ToolRegistry) []error {
	manifests, discoveryErrs := DiscoverManifests(dirs)
	errs := append([]error(nil), discoveryErrs...)

	for id, info := range manifests {
		record := r.loadOne(id, info, tools)
		r.mu.Lock()
		r.records[id] = record
		r.mu.Unlock()
		if record.Status == "failed" {
			errs = append(errs, fmt.Errorf("plugin %s: %s", id, record.Error))
		}
	}
	return errs
}

func (r *Registry) loadOne(id string, info ManifestInfo, tools *agent.ToolRegistry) (record models.PluginRecord) {
	record = models.PluginRecord{Name: info.Manifest.Name, Path: info.Path}

	defer func() {
		if rec := recover(); rec != nil {
			record.Status = "failed"
			record.Error = fmt.Sprintf("panic: %v", rec)
		}
	}()

	factory, ok := lookupFactory(id)
	if !ok {
		record.Status = "failed"
		record.Error = "no statically linked implementation for this manifest id"
		return record
	}

	plugin := factory()
	contribution := &pluginContribution{}
	reg := &Registrar{tools: tools, record: contribution}

	if err := plugin.Init(reg); err != nil {
		record.Status = "failed"
		record.Error = err.Error()
		return record
	}

	record.Status = "loaded"
	record.Tools = contribution.tools
	record.Channels = contribution.channels
	record.Commands = contribution.commands
	record.Hooks = contribution.hooks
	return record
}

// Records returns a snapshot of every plugin load attempt.
func (r *Registry) Records() []models.PluginRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.PluginRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}
