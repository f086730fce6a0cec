package capability

import (
	"slices"

	"github.com/reglet-dev/minihost/policy"
)

// GrantSet records the user's scope decisions and the request domains the
// guest may reach. A scope is in at most one of Scopes and Denied.
type GrantSet struct {
	Scopes  []Scope  `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	Denied  []Scope  `yaml:"denied,omitempty" json:"denied,omitempty"`
	Domains []string `yaml:"domains,omitempty" json:"domains,omitempty"`
}

// IsEmpty reports whether g holds no decisions and no domains.
func (g *GrantSet) IsEmpty() bool {
	return g == nil || (len(g.Scopes) == 0 && len(g.Denied) == 0 && len(g.Domains) == 0)
}

func (g *GrantSet) Clone() *GrantSet {
	if g == nil {
		return &GrantSet{}
	}
	return &GrantSet{
		Scopes:  slices.Clone(g.Scopes),
		Denied:  slices.Clone(g.Denied),
		Domains: slices.Clone(g.Domains),
	}
}

// Granted reports whether s has been granted.
func (g *GrantSet) Granted(s Scope) bool {
	return g != nil && slices.Contains(g.Scopes, s)
}

// IsDenied reports whether the user refused s.
func (g *GrantSet) IsDenied(s Scope) bool {
	return g != nil && slices.Contains(g.Denied, s)
}

// Grant records s as granted, clearing an earlier denial.
func (g *GrantSet) Grant(s Scope) {
	g.Denied = slices.DeleteFunc(g.Denied, func(d Scope) bool { return d == s })
	if !slices.Contains(g.Scopes, s) {
		g.Scopes = append(g.Scopes, s)
	}
}

// Deny records s as refused, clearing an earlier grant.
func (g *GrantSet) Deny(s Scope) {
	g.Scopes = slices.DeleteFunc(g.Scopes, func(d Scope) bool { return d == s })
	if !slices.Contains(g.Denied, s) {
		g.Denied = append(g.Denied, s)
	}
}

// Merge folds other into g. Decisions in other win.
func (g *GrantSet) Merge(other *GrantSet) {
	if other == nil {
		return
	}
	for _, s := range other.Scopes {
		g.Grant(s)
	}
	for _, s := range other.Denied {
		g.Deny(s)
	}
	g.Domains = append(g.Domains, other.Domains...)
	g.Deduplicate()
}

// Difference returns the scopes and domains of g that other does not grant.
// Denials are not carried over.
func (g *GrantSet) Difference(other *GrantSet) *GrantSet {
	out := &GrantSet{}
	if g == nil {
		return out
	}
	for _, s := range g.Scopes {
		if !other.Granted(s) {
			out.Scopes = append(out.Scopes, s)
		}
	}
	for _, d := range g.Domains {
		if other == nil || !slices.Contains(other.Domains, d) {
			out.Domains = append(out.Domains, d)
		}
	}
	return out
}

// Deduplicate removes repeated entries, keeping first occurrences.
func (g *GrantSet) Deduplicate() {
	g.Scopes = dedupe(g.Scopes)
	g.Denied = dedupe(g.Denied)
	g.Domains = dedupe(g.Domains)
}

// Policy converts the domain grants into network policy grants.
func (g *GrantSet) Policy() *policy.Grants {
	if g == nil {
		return &policy.Grants{}
	}
	return policy.AllowDomains(g.Domains...)
}

func dedupe[T comparable](in []T) []T {
	if len(in) == 0 {
		return in
	}
	seen := make(map[T]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
