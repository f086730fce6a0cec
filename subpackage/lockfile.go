package subpackage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/opencontainers/go-digest"
)

// Lockfile pins every loaded subpackage to the digest first fetched.
//
// Invariants:
// - Each entry must have a digest
// - Generated timestamp must be set once entries exist
type Lockfile struct {
	Generated   time.Time       `yaml:"generated"`
	Subpackages map[string]Lock `yaml:"subpackages"`
	Version     int             `yaml:"lockfile_version"`
}

// Lock is a pinned subpackage.
type Lock struct {
	Fetched time.Time     `yaml:"fetched,omitempty"`
	Ref     string        `yaml:"ref"`
	Digest  digest.Digest `yaml:"digest"`
}

// NewLockfile creates a new lockfile with the current version.
func NewLockfile() *Lockfile {
	return &Lockfile{
		Version:     1,
		Generated:   time.Now().UTC(),
		Subpackages: make(map[string]Lock),
	}
}

// Add records a lock entry.
// Returns error if digest is empty (invariant enforcement).
func (l *Lockfile) Add(name string, lock Lock) error {
	if lock.Digest == "" {
		return fmt.Errorf("subpackage %q: digest is required", name)
	}
	if l.Subpackages == nil {
		l.Subpackages = make(map[string]Lock)
	}
	l.Subpackages[name] = lock
	l.Generated = time.Now().UTC()
	return nil
}

// Get returns the entry for name, or nil.
func (l *Lockfile) Get(name string) *Lock {
	if l == nil || l.Subpackages == nil {
		return nil
	}
	if lock, ok := l.Subpackages[name]; ok {
		return &lock
	}
	return nil
}

// Validate checks lockfile invariants.
func (l *Lockfile) Validate() error {
	if len(l.Subpackages) > 0 && l.Generated.IsZero() {
		return fmt.Errorf("generated timestamp is required")
	}
	for name, lock := range l.Subpackages {
		if lock.Digest == "" {
			return fmt.Errorf("subpackage %q: digest is required", name)
		}
		if err := lock.Digest.Validate(); err != nil {
			return fmt.Errorf("subpackage %q: %w", name, err)
		}
	}
	return nil
}

// LockRepository manages lockfile persistence.
type LockRepository interface {
	Load(ctx context.Context, path string) (*Lockfile, error)
	Save(ctx context.Context, lockfile *Lockfile, path string) error
}

// FileLockRepository keeps the lockfile on the local filesystem.
type FileLockRepository struct{}

// NewFileLockRepository creates a new FileLockRepository.
func NewFileLockRepository() *FileLockRepository {
	return &FileLockRepository{}
}

// Load reads a lockfile. A missing file yields (nil, nil).
func (r *FileLockRepository) Load(ctx context.Context, path string) (*Lockfile, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	root, err := os.OpenRoot(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open directory %q: %w", dir, err)
	}
	defer func() { _ = root.Close() }()

	file, err := root.Open(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open lockfile %q: %w", base, err)
	}
	defer func() { _ = file.Close() }()

	var lock Lockfile
	if err := yaml.NewDecoder(file).Decode(&lock); err != nil {
		return nil, fmt.Errorf("decoding lockfile YAML: %w", err)
	}
	if err := lock.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lockfile: %w", err)
	}
	return &lock, nil
}

// Save writes a lockfile, creating its directory.
func (r *FileLockRepository) Save(ctx context.Context, lockfile *Lockfile, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return fmt.Errorf("opening directory for write %q: %w", dir, err)
	}
	defer func() { _ = root.Close() }()

	file, err := root.OpenFile(filepath.Base(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating lockfile %q: %w", filepath.Base(path), err)
	}
	defer func() { _ = file.Close() }()

	encoder := yaml.NewEncoder(file)
	defer func() { _ = encoder.Close() }()

	if err := encoder.Encode(lockfile); err != nil {
		return fmt.Errorf("encoding lockfile: %w", err)
	}
	return nil
}
