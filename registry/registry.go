// Package registry implements the capability registry of the host surface.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/invopop/jsonschema"
	"github.com/samber/lo"

	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/schema"
)

// Registry implements CapabilityRegistry using in-memory storage.
type Registry struct {
	caps        map[string]Capability
	logger      *slog.Logger
	reflector   *jsonschema.Reflector
	hostVersion *semver.Version
	versionErr  error
	mu          sync.RWMutex
	strictMode  bool
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithStrictMode rejects capabilities whose MinVersion is not a valid
// semantic version at registration time. Enabled by default.
func WithStrictMode(strict bool) RegistryOption {
	return func(r *Registry) {
		r.strictMode = strict
	}
}

// WithHostVersion sets the running host version used for gating.
// Without it every registered capability is considered supported.
func WithHostVersion(version string) RegistryOption {
	return func(r *Registry) {
		v, err := semver.NewVersion(version)
		if err != nil {
			r.versionErr = fmt.Errorf("invalid host version %q: %w", version, err)
			return
		}
		r.hostVersion = v
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a new capability registry.
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		caps:       make(map[string]Capability),
		reflector:  new(jsonschema.Reflector),
		logger:     slog.Default(),
		strictMode: true,
	}
	r.reflector.ExpandedStruct = true

	for _, opt := range opts {
		opt(r)
	}
	if r.versionErr != nil {
		return nil, r.versionErr
	}
	return r, nil
}

// HostVersion returns the configured host version, or "" when ungated.
func (r *Registry) HostVersion() string {
	if r.hostVersion == nil {
		return ""
	}
	return r.hostVersion.String()
}

// Register adds a capability definition.
func (r *Registry) Register(c Capability) error {
	if c.Name == "" {
		return hosterr.Contract("name", "capability name must not be empty")
	}
	if c.Kind == "" {
		c.Kind = KindAsync
	}
	if c.Kind == KindEvent && c.Event == "" {
		return hosterr.Contract("event", "event capability %s must name its event", c.Name)
	}
	if c.MinVersion != "" {
		if _, err := semver.NewVersion(c.MinVersion); err != nil {
			if r.strictMode {
				return hosterr.Contract("minVersion", "capability %s has invalid minimum version %q: %v", c.Name, c.MinVersion, err)
			}
			r.logger.Warn("capability has unparseable minimum version, treating as always available",
				"capability", c.Name, "minVersion", c.MinVersion)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.caps[c.Name]; exists {
		return hosterr.New(hosterr.ClassHost, hosterr.CodeDuplicateCapability,
			"capability already registered: %s", c.Name)
	}
	r.caps[c.Name] = c.clone()
	return nil
}

// MustRegister registers all capabilities and panics on the first failure.
// Intended for static builtin catalogs.
func (r *Registry) MustRegister(caps ...Capability) {
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// Resolve returns the named capability.
func (r *Registry) Resolve(name string) (Capability, error) {
	r.mu.RLock()
	c, ok := r.caps[name]
	r.mu.RUnlock()

	if !ok {
		return Capability{}, hosterr.New(hosterr.ClassContract, hosterr.CodeUnknownCapability,
			"unknown capability: %s", name)
	}
	if !r.versionSatisfies(c.MinVersion) {
		return Capability{}, hosterr.New(hosterr.ClassContract, hosterr.CodeUnsupportedOnHostVersion,
			"%s requires host version >= %s, running %s", name, c.MinVersion, r.hostVersion)
	}
	return c.clone(), nil
}

// IsSupported reports whether the capability exists and is available on
// the running host version.
func (r *Registry) IsSupported(name string) bool {
	_, err := r.Resolve(name)
	return err == nil
}

func (r *Registry) versionSatisfies(minVersion string) bool {
	if r.hostVersion == nil || minVersion == "" {
		return true
	}
	minV, err := semver.NewVersion(minVersion)
	if err != nil {
		return true
	}
	return !r.hostVersion.LessThan(minV)
}

// Schema returns the JSON Schema of the capability's parameters.
func (r *Registry) Schema(name string) (string, bool) {
	r.mu.RLock()
	c, ok := r.caps[name]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	b, err := schema.MarshalJSONSchema(c.Params)
	if err != nil {
		r.logger.Error("failed to marshal parameter schema", "capability", name, "error", err)
		return "", false
	}
	return string(b), true
}

// ResponseSchema returns the JSON Schema of the capability's response.
// Declared response fields take precedence over a reflected ResponseModel.
func (r *Registry) ResponseSchema(name string) (string, bool) {
	r.mu.RLock()
	c, ok := r.caps[name]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}

	var doc any
	switch {
	case len(c.Response.Fields) > 0:
		doc = schema.ToJSONSchema(c.Response)
	case c.ResponseModel != nil:
		doc = r.reflector.Reflect(c.ResponseModel)
	default:
		doc = schema.ToJSONSchema(schema.Schema{})
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		r.logger.Error("failed to marshal response schema", "capability", name, "error", err)
		return "", false
	}
	return string(b), true
}

// List returns all registered capability names in lexical order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := lo.Keys(r.caps)
	slices.Sort(keys)
	return keys
}

// Capabilities returns every registered capability sorted by name,
// including those unsupported on the running host version.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := lo.Map(lo.Values(r.caps), func(c Capability, _ int) Capability { return c.clone() })
	slices.SortFunc(out, func(a, b Capability) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// EventCapabilities returns the names of capabilities bound to event.
func (r *Registry) EventCapabilities(event string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.FilterMap(lo.Values(r.caps), func(c Capability, _ int) (string, bool) {
		return c.Name, c.Kind == KindEvent && c.Event == event
	})
	slices.Sort(names)
	return names
}

var _ CapabilityRegistry = (*Registry)(nil)
