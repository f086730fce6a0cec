// Package gatekeeper handles scope authorization: loads stored grants,
// diffs against required, prompts for missing, persists decisions.
package gatekeeper

import (
	"context"
	"log/slog"
	"sync"

	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/capability/grantstore"
	"github.com/reglet-dev/minihost/hosterr"
)

// SecurityLevel controls the gatekeeper's prompting behavior.
type SecurityLevel string

const (
	SecurityStrict     SecurityLevel = "strict"
	SecurityStandard   SecurityLevel = "standard"
	SecurityPermissive SecurityLevel = "permissive"
)

// ParseSecurityLevel maps a config value to a level, defaulting to standard.
func ParseSecurityLevel(s string) SecurityLevel {
	switch SecurityLevel(s) {
	case SecurityStrict, SecurityPermissive:
		return SecurityLevel(s)
	default:
		return SecurityStandard
	}
}

// Gatekeeper handles scope authorization: loads stored grants,
// diffs against required, prompts for missing, persists decisions.
type Gatekeeper struct {
	store         capability.GrantStore
	prompter      capability.Prompter
	logger        *slog.Logger
	securityLevel SecurityLevel
	trustAll      bool

	mu     sync.Mutex
	grants *capability.GrantSet
}

var _ capability.GatekeeperPort = (*Gatekeeper)(nil)

// Option configures a Gatekeeper.
type Option func(*Gatekeeper)

// WithStore sets the grant store.
func WithStore(s capability.GrantStore) Option {
	return func(g *Gatekeeper) { g.store = s }
}

// WithPrompter sets the prompter.
func WithPrompter(p capability.Prompter) Option {
	return func(g *Gatekeeper) { g.prompter = p }
}

// WithSecurityLevel sets the security policy level.
func WithSecurityLevel(level SecurityLevel) Option {
	return func(g *Gatekeeper) { g.securityLevel = level }
}

// WithTrustAll grants every request without prompting.
func WithTrustAll(trust bool) Option {
	return func(g *Gatekeeper) { g.trustAll = trust }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gatekeeper) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGatekeeper creates a gatekeeper with pluggable store and prompter.
func NewGatekeeper(opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		securityLevel: SecurityStandard,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.store == nil {
		g.store = grantstore.NewFileStore()
	}
	if g.prompter == nil {
		g.prompter = NewTerminalPrompter()
	}
	return g
}

// loaded returns the session grants, reading the store on first use.
// Callers hold g.mu.
func (g *Gatekeeper) loaded() *capability.GrantSet {
	if g.grants != nil {
		return g.grants
	}
	existing, err := g.store.Load()
	if err != nil {
		g.logger.Warn("failed to load grants, starting empty", "path", g.store.ConfigPath(), "error", err)
		existing = &capability.GrantSet{}
	}
	g.grants = existing
	return g.grants
}

// Setting returns a snapshot of every scope decision made so far.
func (g *Gatekeeper) Setting() *capability.GrantSet {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loaded().Clone()
}

// Authorize asks for scope, prompting at most once per scope. A scope the
// user refused fails without prompting until it is reset through
// OpenSetting.
func (g *Gatekeeper) Authorize(ctx context.Context, scope capability.Scope) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	grants := g.loaded()
	if grants.Granted(scope) {
		return nil
	}
	if grants.IsDenied(scope) {
		return hosterr.Host(hosterr.CodePermissionDenied, "auth deny")
	}
	if g.trustAll {
		grants.Grant(scope)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return hosterr.Wrap(hosterr.CodeAborted, err, "authorize %s: %v", scope, err)
	}

	granted, always, err := g.evaluateWithSecurityLevel(scopeRequest(scope))
	if err != nil {
		return err
	}
	if !granted {
		grants.Deny(scope)
		return hosterr.Host(hosterr.CodePermissionDenied, "auth deny")
	}
	grants.Grant(scope)
	if always {
		g.save(grants)
	}
	return nil
}

// GrantRequired determines which of the required grants to hold based on
// security policy, user input and saved grants. The first refusal aborts.
func (g *Gatekeeper) GrantRequired(ctx context.Context, required *capability.GrantSet) (*capability.GrantSet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	grants := g.loaded()
	if required.IsEmpty() {
		return grants.Clone(), nil
	}

	if g.trustAll {
		g.logger.Warn("auto-granting all requested capabilities (trust-all enabled)")
		grants.Merge(&capability.GrantSet{Scopes: required.Scopes, Domains: required.Domains})
		return grants.Clone(), nil
	}

	missing := required.Difference(grants)
	if missing.IsEmpty() {
		return grants.Clone(), nil
	}
	missing.Deduplicate()

	for _, s := range missing.Scopes {
		if grants.IsDenied(s) {
			return nil, hosterr.Host(hosterr.CodePermissionDenied, "capability denied by user: %s", s)
		}
	}

	if g.securityLevel != SecurityPermissive && !g.prompter.IsInteractive() {
		return nil, hosterr.Wrap(hosterr.CodePermissionDenied, g.prompter.FormatNonInteractiveError(missing),
			"%d capabilities need approval in non-interactive mode", len(missing.Scopes)+len(missing.Domains))
	}
	if err := ctx.Err(); err != nil {
		return nil, hosterr.Wrap(hosterr.CodeAborted, err, "grant capabilities: %v", err)
	}

	newGrants := grants.Clone()
	shouldSave := false

	reqs := make([]capability.Request, 0, len(missing.Scopes)+len(missing.Domains))
	for _, s := range missing.Scopes {
		reqs = append(reqs, scopeRequest(s))
	}
	for _, d := range missing.Domains {
		reqs = append(reqs, capability.Request{
			Kind:        capability.KindDomain,
			Domain:      d,
			Description: "network access to " + d,
			IsBroad:     capability.IsBroadDomain(d),
		})
	}

	for _, req := range reqs {
		granted, always, err := g.evaluateWithSecurityLevel(req)
		if err != nil {
			return nil, err
		}
		if !granted {
			return nil, hosterr.Host(hosterr.CodePermissionDenied, "capability denied by user: %s", req.Description)
		}
		if req.Kind == capability.KindScope {
			newGrants.Grant(req.Scope)
		} else {
			newGrants.Domains = append(newGrants.Domains, req.Domain)
		}
		if always {
			shouldSave = true
		}
	}

	newGrants.Deduplicate()
	g.grants = newGrants
	if shouldSave {
		g.save(newGrants)
	}
	return newGrants.Clone(), nil
}

// OpenSetting lets the user revisit every scope decided so far and returns
// the resulting decisions.
func (g *Gatekeeper) OpenSetting(ctx context.Context) (*capability.GrantSet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	grants := g.loaded()
	decided := append(append([]capability.Scope(nil), grants.Scopes...), grants.Denied...)
	if len(decided) == 0 || !g.prompter.IsInteractive() {
		return grants.Clone(), nil
	}

	changed := false
	for _, s := range decided {
		if err := ctx.Err(); err != nil {
			return nil, hosterr.Wrap(hosterr.CodeAborted, err, "open setting: %v", err)
		}
		granted, _, err := g.prompter.PromptForCapability(scopeRequest(s))
		if err != nil {
			return nil, hosterr.Wrap(hosterr.CodeInternal, err, "open setting: %v", err)
		}
		if granted == grants.Granted(s) {
			continue
		}
		changed = true
		if granted {
			grants.Grant(s)
		} else {
			grants.Deny(s)
		}
	}
	if changed {
		g.save(grants)
	}
	return grants.Clone(), nil
}

func (g *Gatekeeper) save(grants *capability.GrantSet) {
	persist := &capability.GrantSet{Scopes: grants.Scopes, Domains: grants.Domains}
	if err := g.store.Save(persist); err != nil {
		g.logger.Warn("failed to save grants", "error", err)
		return
	}
	g.logger.Info("permissions saved", "path", g.store.ConfigPath())
}

func scopeRequest(s capability.Scope) capability.Request {
	report := capability.AnalyzeRisk(&capability.GrantSet{Scopes: []capability.Scope{s}})
	return capability.Request{
		Kind:        capability.KindScope,
		Scope:       s,
		Description: s.String() + ": " + s.Description(),
		IsBroad:     report.Level >= capability.RiskHigh,
	}
}

// evaluateWithSecurityLevel applies security level policy and prompts if needed.
func (g *Gatekeeper) evaluateWithSecurityLevel(req capability.Request) (bool, bool, error) {
	if req.IsBroad {
		switch g.securityLevel {
		case SecurityStrict:
			g.logger.Error("broad capability denied by security policy",
				"level", "strict",
				"capability", req.Description)
			return false, false, hosterr.Host(hosterr.CodePermissionDenied,
				"broad capability denied by strict security policy: %s", req.Description)

		case SecurityPermissive:
			g.logger.Warn("auto-granting broad capability (permissive mode)",
				"capability", req.Description)
			return true, false, nil
		}
	}

	if g.securityLevel == SecurityPermissive {
		return true, false, nil
	}

	if !g.prompter.IsInteractive() {
		return false, false, hosterr.Wrap(hosterr.CodePermissionDenied,
			g.prompter.FormatNonInteractiveError(requestGrants(req)), "auth deny: %s needs approval", req.Description)
	}
	granted, always, err := g.prompter.PromptForCapability(req)
	if err != nil {
		return false, false, hosterr.Wrap(hosterr.CodeInternal, err, "prompt failed: %v", err)
	}
	return granted, always, nil
}

func requestGrants(req capability.Request) *capability.GrantSet {
	if req.Kind == capability.KindDomain {
		return &capability.GrantSet{Domains: []string{req.Domain}}
	}
	return &capability.GrantSet{Scopes: []capability.Scope{req.Scope}}
}
