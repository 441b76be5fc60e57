package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps a PipelineConfig.Type name to the Factory that builds
// adapters of that type, mirroring the teacher's ai.MustRegister
// pattern but keyed explicitly rather than through package-level init
// side effects, since a scheduler process may need more than one
// registry in tests (spec §5: "no global singletons").
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under its own Name(). Re-registering the
// same name overwrites the previous factory.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Name()] = f
}

// Create builds an adapter for the named provider type.
func (r *Registry) Create(providerType string, customConfig map[string]interface{}) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[providerType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider: no factory registered for type %q", providerType)
	}
	return f.Create(customConfig)
}

// Detected returns the names of registered factories that report
// themselves available in the current environment, ordered by
// priority (highest first) — the same ranking a caller would use to
// pick a default provider type when PipelineConfig.Type is omitted.
func (r *Registry) Detected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		name     string
		priority int
	}
	var candidates []candidate
	for name, f := range r.factories {
		if priority, available := f.DetectEnvironment(); available {
			candidates = append(candidates, candidate{name, priority})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].priority > candidates[j].priority })

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names
}
