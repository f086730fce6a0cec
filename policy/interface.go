package policy

// Policy enforces grants against guest network and file system requests.
type Policy interface {
	CheckNetwork(req NetworkRequest, grants *Grants) bool
	CheckPath(req PathRequest, grants *Grants) bool

	// Evaluate methods return the decision without side effects (like logging denials).
	EvaluateNetwork(req NetworkRequest, grants *Grants) bool
	EvaluatePath(req PathRequest, grants *Grants) bool
}

// DenialHandler is called when a policy check denies a request.
type DenialHandler interface {
	// OnDenial is called when a request is denied.
	OnDenial(kind string, request any, reason string)
}
