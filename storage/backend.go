package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// Backend persists encoded entries. Implementations need not be
// goroutine-safe; Store serializes access.
type Backend interface {
	Load() (map[string]json.RawMessage, error)
	Get(key string) (json.RawMessage, bool, error)
	Put(key string, raw json.RawMessage) error
	Delete(key string) error
	Clear() error
}

// MemoryBackend keeps entries in process memory.
type MemoryBackend struct {
	entries map[string]json.RawMessage
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]json.RawMessage)}
}

func (b *MemoryBackend) Load() (map[string]json.RawMessage, error) {
	return maps.Clone(b.entries), nil
}

func (b *MemoryBackend) Get(key string) (json.RawMessage, bool, error) {
	raw, ok := b.entries[key]
	return slices.Clone(raw), ok, nil
}

func (b *MemoryBackend) Put(key string, raw json.RawMessage) error {
	b.entries[key] = slices.Clone(raw)
	return nil
}

func (b *MemoryBackend) Delete(key string) error {
	delete(b.entries, key)
	return nil
}

func (b *MemoryBackend) Clear() error {
	clear(b.entries)
	return nil
}

// FileBackend keeps all entries in one JSON document rewritten atomically
// on every change.
type FileBackend struct {
	entries map[string]json.RawMessage
	path    string
	mu      sync.Mutex
}

// NewFileBackend opens or creates the storage document at path.
func NewFileBackend(path string) (*FileBackend, error) {
	b := &FileBackend{path: path, entries: make(map[string]json.RawMessage)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return b, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}
	if len(data) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(data, &b.entries); err != nil {
		return nil, fmt.Errorf("failed to parse storage file %s: %w", path, err)
	}
	return b, nil
}

func (b *FileBackend) Load() (map[string]json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.entries), nil
}

func (b *FileBackend) Get(key string) (json.RawMessage, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.entries[key]
	return slices.Clone(raw), ok, nil
}

func (b *FileBackend) Put(key string, raw json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, had := b.entries[key]
	b.entries[key] = slices.Clone(raw)
	if err := b.flush(); err != nil {
		if had {
			b.entries[key] = prev
		} else {
			delete(b.entries, key)
		}
		return err
	}
	return nil
}

func (b *FileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, had := b.entries[key]
	if !had {
		return nil
	}
	delete(b.entries, key)
	if err := b.flush(); err != nil {
		b.entries[key] = prev
		return err
	}
	return nil
}

func (b *FileBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.entries
	b.entries = make(map[string]json.RawMessage)
	if err := b.flush(); err != nil {
		b.entries = prev
		return err
	}
	return nil
}

// flush writes the document via a temp file and rename. Callers hold b.mu.
func (b *FileBackend) flush() error {
	data, err := json.Marshal(b.entries)
	if err != nil {
		return fmt.Errorf("failed to encode storage: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".storage-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}
