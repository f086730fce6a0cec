// Package validation checks raw JSON call payloads against the JSON Schema
// each capability exports.
package validation

// SchemaSource supplies the parameter JSON Schema of a capability.
// *registry.Registry implements it.
type SchemaSource interface {
	Schema(name string) (string, bool)
}

// Validator validates a capability payload.
type Validator interface {
	// Validate checks payload against the named capability's parameter schema.
	Validate(name string, payload []byte) (*ValidationResult, error)
}

// ValidationResult holds the outcome of a validation.
type ValidationResult struct {
	Errors []ValidationError
	Valid  bool
}

// ValidationError describes one schema violation.
type ValidationError struct {
	// Field is the JSON pointer of the offending value, "" for the root.
	Field   string
	Message string
}
