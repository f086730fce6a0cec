// Package capability manages user-authorized scopes for a guest app. It
// includes requirement extraction, risk analysis, grant management and
// interactive prompting, all expressed as GrantSet values.
package capability

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Extractor analyzes one section of a guest app config to determine the
// grants it needs.
type Extractor interface {
	// Extract returns the required grants, or nil when the section asks for nothing.
	Extract(section any) *GrantSet
}

// Registry maps app config sections to their extractors.
type Registry struct {
	extractors map[string]Extractor
	mu         sync.RWMutex
}

// NewRegistry creates a new, empty extractor registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[string]Extractor),
	}
}

// Register adds an extractor for a config section.
func (r *Registry) Register(section string, extractor Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[section] = extractor
}

// Get retrieves the extractor for a section.
// Returns nil and false if no extractor is registered.
func (r *Registry) Get(section string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	extractor, ok := r.extractors[section]
	return extractor, ok
}

// ExtractAll runs every registered extractor over its section of config
// and merges the results.
func (r *Registry) ExtractAll(config map[string]any) *GrantSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := &GrantSet{}
	sections := lo.Keys(r.extractors)
	slices.Sort(sections)
	for _, section := range sections {
		raw, ok := config[section]
		if !ok {
			continue
		}
		out.Merge(r.extractors[section].Extract(raw))
	}
	return out
}
