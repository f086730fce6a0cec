package capability

import "context"

// Request is a single decision put to the user.
type Request struct {
	Scope       Scope
	Domain      string
	Kind        string
	Description string
	IsBroad     bool
}

// Request kinds.
const (
	KindScope  = "scope"
	KindDomain = "domain"
)

// Requirement is what a guest app declares it needs.
type Requirement struct {
	Requested *GrantSet
	AppID     string
}

// GatekeeperPort decides scope authorization.
type GatekeeperPort interface {
	Authorize(ctx context.Context, scope Scope) error
	GrantRequired(ctx context.Context, required *GrantSet) (*GrantSet, error)
	Setting() *GrantSet
}

// GrantStore persists and retrieves user decisions.
type GrantStore interface {
	Load() (*GrantSet, error)
	Save(grants *GrantSet) error
	ConfigPath() string
}

// Prompter handles interactive authorization.
type Prompter interface {
	IsInteractive() bool
	PromptForCapability(req Request) (granted bool, always bool, err error)
	FormatNonInteractiveError(missing *GrantSet) error
}
