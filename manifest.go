package minihost

import (
	"context"
	"strings"

	"github.com/reglet-dev/minihost/parser"
	"github.com/reglet-dev/minihost/registry"
)

// RegisterManifest registers the capabilities a manifest declares. Each
// returns its declared result; declared events are raised with Emit.
func (h *Host) RegisterManifest(m *parser.Manifest) error {
	decls, err := m.Resolve()
	if err != nil {
		return err
	}
	declared := make(map[string]bool, len(decls))
	for _, d := range decls {
		declared[d.Capability.Name] = true
	}

	for _, d := range decls {
		c := d.Capability
		if c.Kind == registry.KindEvent {
			if c.Event == "" {
				c.Event = eventOf(c.Name)
			}
			if err := h.registry.Register(c); err != nil {
				return err
			}
			h.mu.Lock()
			h.sources[c.Event] = h.custom
			h.mu.Unlock()
			continue
		}

		result := d.Result
		handler := func(context.Context, *Call) (Result, error) {
			return Value(result.Clone()), nil
		}
		if c.Kind == registry.KindAsync && c.SyncVariant != "" && !declared[c.SyncVariant] {
			twin := c
			twin.Name = c.SyncVariant
			twin.Kind = registry.KindSync
			twin.SyncVariant = ""
			if err := h.Register(twin, handler); err != nil {
				return err
			}
		}
		if err := h.Register(c, handler); err != nil {
			return err
		}
	}
	h.logger.Debug("manifest registered", "name", m.Name, "capabilities", len(decls))
	return nil
}

// eventOf derives the event of onFoo or offFoo: foo.
func eventOf(name string) string {
	for _, prefix := range []string{"on", "off"} {
		if rest, ok := strings.CutPrefix(name, prefix); ok && rest != "" {
			return strings.ToLower(rest[:1]) + rest[1:]
		}
	}
	return name
}
