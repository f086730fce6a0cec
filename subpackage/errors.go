package subpackage

import (
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Sentinel errors for common error patterns.
// These allow both errors.Is() checks and errors.As() for detailed information.
var (
	// ErrSubpackageNotFound is returned when a subpackage is neither declared nor cached.
	ErrSubpackageNotFound = errors.New("subpackage not found")

	// ErrIntegrityCheckFailed is returned when digest verification fails.
	ErrIntegrityCheckFailed = errors.New("integrity check failed")
)

// IntegrityError indicates digest mismatch.
type IntegrityError struct {
	Expected digest.Digest
	Actual   digest.Digest
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf(
		"integrity check failed: expected %s, got %s",
		e.Expected.String(),
		e.Actual.String(),
	)
}

// Is implements error matching for errors.Is() checks.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrityCheckFailed
}

// NotFoundError indicates a subpackage missing from its source or cache.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("subpackage not found: %s", e.Name)
}

// Is implements error matching for errors.Is() checks.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrSubpackageNotFound
}

// Verify checks data against expected. An empty expected digest passes.
func Verify(expected digest.Digest, data []byte) error {
	if expected == "" {
		return nil
	}
	if err := expected.Validate(); err != nil {
		return fmt.Errorf("invalid digest %q: %w", expected, err)
	}
	actual := expected.Algorithm().FromBytes(data)
	if actual != expected {
		return &IntegrityError{Expected: expected, Actual: actual}
	}
	return nil
}
