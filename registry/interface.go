package registry

// CapabilityRegistry enumerates the capabilities a host exposes.
// Components receive it by injection so tests can substitute a fake.
type CapabilityRegistry interface {
	// Register adds a capability definition. Names are unique.
	Register(c Capability) error

	// Resolve returns the capability if it exists and the running host
	// version satisfies its minimum version.
	Resolve(name string) (Capability, error)

	// IsSupported reports whether Resolve would succeed.
	IsSupported(name string) bool

	// Schema returns the JSON Schema of the capability's parameters.
	Schema(name string) (string, bool)

	// List returns all registered capability names, sorted.
	List() []string
}
