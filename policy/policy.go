// Package policy decides whether guest network and file system requests
// fall inside the host's grants.
package policy

import (
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Network request kinds, one per network capability family.
const (
	KindRequest  = "request"
	KindSocket   = "socket"
	KindUpload   = "uploadFile"
	KindDownload = "downloadFile"
)

// Path operations.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// NetworkRequest describes an outbound connection.
type NetworkRequest struct {
	Kind string
	Host string
	Port int
}

func (r NetworkRequest) String() string {
	return fmt.Sprintf("%s %s:%d", r.Kind, r.Host, r.Port)
}

// PathRequest describes a file system access on a root-relative,
// slash-separated path such as "usr/notes/a.txt".
type PathRequest struct {
	Path      string
	Operation string
}

// DomainRule allows hosts and ports for the listed request kinds. An empty
// Kinds list matches every kind; an empty Ports list matches every port.
type DomainRule struct {
	Kinds []string `yaml:"kinds,omitempty" json:"kinds,omitempty"`
	Hosts []string `yaml:"hosts" json:"hosts"`
	Ports []string `yaml:"ports,omitempty" json:"ports,omitempty"`
}

// PathRule lists doublestar patterns readable and writable by the guest.
type PathRule struct {
	Read  []string `yaml:"read,omitempty" json:"read,omitempty"`
	Write []string `yaml:"write,omitempty" json:"write,omitempty"`
}

// Grants is the set of rules a guest runs under.
type Grants struct {
	Domains []DomainRule `yaml:"domains,omitempty" json:"domains,omitempty"`
	Paths   []PathRule   `yaml:"paths,omitempty" json:"paths,omitempty"`
}

// Merge returns a copy of g with other's rules appended.
func (g *Grants) Merge(other *Grants) *Grants {
	out := &Grants{}
	for _, src := range []*Grants{g, other} {
		if src == nil {
			continue
		}
		out.Domains = append(out.Domains, src.Domains...)
		out.Paths = append(out.Paths, src.Paths...)
	}
	return out
}

// AllowDomains builds grants admitting every port of hosts for all kinds.
func AllowDomains(hosts ...string) *Grants {
	if len(hosts) == 0 {
		return &Grants{}
	}
	return &Grants{Domains: []DomainRule{{Hosts: hosts}}}
}

// RulesPolicy is the default Policy.
type RulesPolicy struct {
	denials DenialHandler
}

var _ Policy = (*RulesPolicy)(nil)

// Option configures a RulesPolicy.
type Option func(*RulesPolicy)

// WithDenialHandler sets the handler notified by Check methods.
func WithDenialHandler(h DenialHandler) Option {
	return func(p *RulesPolicy) {
		if h != nil {
			p.denials = h
		}
	}
}

// NewPolicy creates a policy that logs denials through slog by default.
func NewPolicy(opts ...Option) *RulesPolicy {
	p := &RulesPolicy{denials: &SlogDenialHandler{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RulesPolicy) CheckNetwork(req NetworkRequest, grants *Grants) bool {
	if p.EvaluateNetwork(req, grants) {
		return true
	}
	p.denials.OnDenial("network", req, "domain not in allow-list")
	return false
}

func (p *RulesPolicy) EvaluateNetwork(req NetworkRequest, grants *Grants) bool {
	if grants == nil {
		return false
	}
	host := strings.ToLower(strings.TrimSuffix(req.Host, "."))
	if host == "" {
		return false
	}
	for _, rule := range grants.Domains {
		if len(rule.Kinds) > 0 && !contains(rule.Kinds, req.Kind) {
			continue
		}
		if !matchAnyHost(rule.Hosts, host) {
			continue
		}
		if len(rule.Ports) == 0 || matchAnyPort(rule.Ports, req.Port) {
			return true
		}
	}
	return false
}

func (p *RulesPolicy) CheckPath(req PathRequest, grants *Grants) bool {
	if p.EvaluatePath(req, grants) {
		return true
	}
	p.denials.OnDenial("fs", req, req.Operation+" outside granted paths")
	return false
}

func (p *RulesPolicy) EvaluatePath(req PathRequest, grants *Grants) bool {
	if grants == nil {
		return false
	}
	clean, ok := CleanPath(req.Path)
	if !ok {
		return false
	}
	for _, rule := range grants.Paths {
		patterns := rule.Write
		if req.Operation != OpWrite {
			// Write access implies read access.
			patterns = append(slices.Clone(rule.Read), rule.Write...)
		}
		for _, pattern := range patterns {
			if matched, _ := doublestar.Match(pattern, clean); matched {
				return true
			}
		}
	}
	return false
}

// CleanPath normalizes a root-relative path. It fails for paths that
// escape the root.
func CleanPath(p string) (string, bool) {
	p = strings.TrimPrefix(p, "/")
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v || item == "*" {
			return true
		}
	}
	return false
}

func matchAnyHost(patterns []string, host string) bool {
	for _, pattern := range patterns {
		if matchHost(strings.ToLower(pattern), host) {
			return true
		}
	}
	return false
}

// matchHost supports "*" and leading "*." wildcards. "*.example.com" does
// not match "example.com" itself.
func matchHost(pattern, host string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		suffix := pattern[1:]
		return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
	default:
		return pattern == host
	}
}

func matchAnyPort(patterns []string, port int) bool {
	for _, pattern := range patterns {
		if matchPort(pattern, port) {
			return true
		}
	}
	return false
}

func matchPort(pattern string, port int) bool {
	if pattern == "*" {
		return true
	}
	if lo, hi, found := strings.Cut(pattern, "-"); found {
		start, err1 := strconv.Atoi(lo)
		end, err2 := strconv.Atoi(hi)
		return err1 == nil && err2 == nil && port >= start && port <= end
	}
	n, err := strconv.Atoi(pattern)
	return err == nil && n == port
}
