// Package extractor derives required grants and declared resources from a
// guest app config (app.json).
package extractor

import (
	"fmt"
	"slices"
	"strings"

	"github.com/reglet-dev/minihost/capability"
)

// PermissionExtractor reads the permission block, whose keys are scopes
// with a usage description:
//
//	"permission": {"scope.userLocation": {"desc": "nearby stores"}}
type PermissionExtractor struct{}

func (e *PermissionExtractor) Extract(section any) *capability.GrantSet {
	block, ok := section.(map[string]any)
	if !ok || len(block) == 0 {
		return nil
	}
	var scopes []capability.Scope
	for name := range block {
		s, err := capability.ParseScope(name)
		if err != nil {
			continue
		}
		scopes = append(scopes, s)
	}
	if len(scopes) == 0 {
		return nil
	}
	slices.Sort(scopes)
	return &capability.GrantSet{Scopes: scopes}
}

// ScopeListExtractor reads a plain list of scope names such as
// "requiredPrivateInfos".
type ScopeListExtractor struct{}

func (e *ScopeListExtractor) Extract(section any) *capability.GrantSet {
	var scopes []capability.Scope
	for _, name := range stringList(section) {
		if s, err := capability.ParseScope(name); err == nil {
			scopes = append(scopes, s)
		}
	}
	if len(scopes) == 0 {
		return nil
	}
	return &capability.GrantSet{Scopes: scopes}
}

// DomainExtractor reads the request domain allow-list. The section is a
// list of URLs or hosts, or an object of such lists keyed by request kind:
//
//	"domains": {"request": ["https://api.example.com"], "socket": ["wss://ws.example.com"]}
type DomainExtractor struct{}

func (e *DomainExtractor) Extract(section any) *capability.GrantSet {
	var raw []string
	switch v := section.(type) {
	case map[string]any:
		kinds := make([]string, 0, len(v))
		for k := range v {
			kinds = append(kinds, k)
		}
		slices.Sort(kinds)
		for _, k := range kinds {
			raw = append(raw, stringList(v[k])...)
		}
	default:
		raw = stringList(section)
	}

	var hosts []string
	for _, entry := range raw {
		host := extractHostFromURL(entry)
		if host == "" {
			host = strings.ToLower(strings.TrimSpace(entry))
		}
		if host != "" && !slices.Contains(hosts, host) {
			hosts = append(hosts, host)
		}
	}
	if len(hosts) == 0 {
		return nil
	}
	return &capability.GrantSet{Domains: hosts}
}

func stringList(section any) []string {
	switch v := section.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case fmt.Stringer:
				out = append(out, s.String())
			}
		}
		return out
	}
	return nil
}

func extractHostFromURL(url string) string {
	parts := strings.Split(url, "://")
	if len(parts) < 2 {
		return ""
	}
	remaining := parts[1]
	// Cut at first slash
	if idx := strings.Index(remaining, "/"); idx != -1 {
		remaining = remaining[:idx]
	}
	// Cut at port
	if idx := strings.Index(remaining, ":"); idx != -1 {
		remaining = remaining[:idx]
	}
	return strings.ToLower(remaining)
}

// Ensure extractors implement the interface.
var (
	_ capability.Extractor = (*PermissionExtractor)(nil)
	_ capability.Extractor = (*ScopeListExtractor)(nil)
	_ capability.Extractor = (*DomainExtractor)(nil)
)

// RegisterDefaultExtractors registers the built-in app config extractors.
func RegisterDefaultExtractors(registry *capability.Registry) {
	registry.Register("permission", &PermissionExtractor{})
	registry.Register("requiredScopes", &ScopeListExtractor{})
	registry.Register("domains", &DomainExtractor{})
}
