// Package storage implements the quota-limited key/value local store.
package storage

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
)

const (
	// DefaultLimitKB is the total quota reported as limitSize.
	DefaultLimitKB = 10240
	// DefaultMaxEntryBytes is the largest single key+value.
	DefaultMaxEntryBytes = 1024 * 1024
)

// Info is the result of getStorageInfo. Sizes are in KB.
type Info struct {
	Keys        []string `json:"keys"`
	CurrentSize int      `json:"currentSize"`
	LimitSize   int      `json:"limitSize"`
}

// Store is a key/value store of dynamic values. An entry's size is the
// length of its key plus the length of the value's JSON encoding.
type Store struct {
	backend  Backend
	logger   *slog.Logger
	sizes    map[string]int
	limitKB  int
	maxEntry int
	current  int
	mu       sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLimitKB sets the total quota in KB.
func WithLimitKB(kb int) Option {
	return func(s *Store) {
		if kb > 0 {
			s.limitKB = kb
		}
	}
}

// WithMaxEntryBytes sets the per-entry limit.
func WithMaxEntryBytes(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntry = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New opens a store over backend, accounting for entries it already holds.
func New(backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend:  backend,
		logger:   slog.Default(),
		sizes:    make(map[string]int),
		limitKB:  DefaultLimitKB,
		maxEntry: DefaultMaxEntryBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	existing, err := backend.Load()
	if err != nil {
		return nil, hosterr.Wrap(hosterr.CodeInternal, err, "failed to load storage")
	}
	for k, raw := range existing {
		size := len(k) + len(raw)
		s.sizes[k] = size
		s.current += size
	}
	if s.current > s.limitBytes() {
		s.logger.Warn("storage already exceeds quota", "current", s.current, "limit", s.limitBytes())
	}
	return s, nil
}

func (s *Store) limitBytes() int { return s.limitKB * 1024 }

// Set stores v under key, replacing any previous value.
func (s *Store) Set(key string, v dynamic.Value) error {
	if key == "" {
		return hosterr.Contract("key", "must not be empty")
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return hosterr.Contract("data", "value cannot be stored: %v", err)
	}
	size := len(key) + len(raw)
	if size > s.maxEntry {
		return hosterr.Host(hosterr.CodeLimitExceeded,
			"entry for %q is %d bytes, limit is %d", key, size, s.maxEntry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current - s.sizes[key] + size
	if next > s.limitBytes() {
		return hosterr.Host(hosterr.CodeQuotaExceeded,
			"storage quota exceeded: %d KB limit", s.limitKB)
	}
	if err := s.backend.Put(key, raw); err != nil {
		return hosterr.Wrap(hosterr.CodeInternal, err, "failed to write storage")
	}
	s.current = next
	s.sizes[key] = size
	return nil
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (dynamic.Value, error) {
	if key == "" {
		return dynamic.Value{}, hosterr.Contract("key", "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sizes[key]; !ok {
		return dynamic.Value{}, hosterr.Host(hosterr.CodeNotFound, "data not found")
	}
	raw, ok, err := s.backend.Get(key)
	if err != nil {
		return dynamic.Value{}, hosterr.Wrap(hosterr.CodeInternal, err, "failed to read storage")
	}
	if !ok {
		return dynamic.Value{}, hosterr.Host(hosterr.CodeNotFound, "data not found")
	}
	v, err := dynamic.Parse(raw)
	if err != nil {
		return dynamic.Value{}, hosterr.Wrap(hosterr.CodeInternal, err, "stored value for %q is corrupt", key)
	}
	return v, nil
}

// Remove deletes key. Removing a missing key succeeds.
func (s *Store) Remove(key string) error {
	if key == "" {
		return hosterr.Contract("key", "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	size, ok := s.sizes[key]
	if !ok {
		return nil
	}
	if err := s.backend.Delete(key); err != nil {
		return hosterr.Wrap(hosterr.CodeInternal, err, "failed to remove %q", key)
	}
	s.current -= size
	delete(s.sizes, key)
	return nil
}

// Clear removes every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Clear(); err != nil {
		return hosterr.Wrap(hosterr.CodeInternal, err, "failed to clear storage")
	}
	s.sizes = make(map[string]int)
	s.current = 0
	return nil
}

// Info reports keys and usage.
func (s *Store) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := lo.Keys(s.sizes)
	slices.Sort(keys)
	return Info{
		Keys:        keys,
		CurrentSize: (s.current + 1023) / 1024,
		LimitSize:   s.limitKB,
	}
}

// InfoValue is Info as a dynamic value.
func (s *Store) InfoValue() dynamic.Value {
	info := s.Info()
	keys := make([]dynamic.Value, len(info.Keys))
	for i, k := range info.Keys {
		keys[i] = dynamic.String(k)
	}
	return dynamic.Object(
		"keys", dynamic.List(keys...),
		"currentSize", info.CurrentSize,
		"limitSize", info.LimitSize,
	)
}
