// Package grantstore provides persistence for scope and domain grants.
package grantstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/reglet-dev/minihost/capability"
)

// fileStoreConfig holds configuration for the FileStore.
type fileStoreConfig struct {
	path     string
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// DefaultPath is ~/.minihost/grants.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".minihost", "grants.yaml")
}

func defaultFileStoreConfig() fileStoreConfig {
	return fileStoreConfig{
		path:     DefaultPath(),
		dirPerm:  0o755,
		filePerm: 0o600,
	}
}

// FileStoreOption configures a FileStore instance.
type FileStoreOption func(*fileStoreConfig)

// WithPath sets the path to the grants file.
func WithPath(path string) FileStoreOption {
	return func(c *fileStoreConfig) {
		if path != "" {
			c.path = path
		}
	}
}

// WithFilePermissions sets the file permissions for the grants file.
func WithFilePermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.filePerm = perm
	}
}

// WithDirPermissions sets the directory permissions for the grants directory.
func WithDirPermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.dirPerm = perm
	}
}

// FileStore keeps grants in a YAML file.
type FileStore struct {
	config fileStoreConfig
}

var _ capability.GrantStore = (*FileStore)(nil)

// NewFileStore creates a new FileStore with the given options.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	cfg := defaultFileStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileStore{config: cfg}
}

// Load retrieves all stored grants. A missing file is an empty set.
func (s *FileStore) Load() (*capability.GrantSet, error) {
	data, err := os.ReadFile(s.config.path)
	if os.IsNotExist(err) {
		return &capability.GrantSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read grant store: %w", err)
	}

	var grants capability.GrantSet
	if err := yaml.Unmarshal(data, &grants); err != nil {
		return nil, fmt.Errorf("failed to parse grant store: %w", err)
	}
	for _, sc := range grants.Scopes {
		if _, err := capability.ParseScope(string(sc)); err != nil {
			return nil, fmt.Errorf("failed to parse grant store: %w", err)
		}
	}
	return &grants, nil
}

// Save persists the grants.
func (s *FileStore) Save(grants *capability.GrantSet) error {
	clean := grants.Clone()
	clean.Deduplicate()

	data, err := yaml.Marshal(clean)
	if err != nil {
		return fmt.Errorf("failed to marshal grants: %w", err)
	}

	dir := filepath.Dir(s.config.path)
	if err := os.MkdirAll(dir, s.config.dirPerm); err != nil {
		return fmt.Errorf("failed to create grant store directory: %w", err)
	}

	if err := os.WriteFile(s.config.path, data, s.config.filePerm); err != nil {
		return fmt.Errorf("failed to write grant store: %w", err)
	}
	return nil
}

// ConfigPath returns the path to the backing store.
func (s *FileStore) ConfigPath() string {
	return s.config.path
}

// MemoryStore keeps grants for the lifetime of the process.
type MemoryStore struct {
	mu     sync.Mutex
	grants *capability.GrantSet
	saves  int
}

var _ capability.GrantStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store seeded with initial, which may be nil.
func NewMemoryStore(initial *capability.GrantSet) *MemoryStore {
	return &MemoryStore{grants: initial.Clone()}
}

func (s *MemoryStore) Load() (*capability.GrantSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants.Clone(), nil
}

func (s *MemoryStore) Save(grants *capability.GrantSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = grants.Clone()
	s.saves++
	return nil
}

func (s *MemoryStore) ConfigPath() string { return "memory" }

// Saves reports how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
