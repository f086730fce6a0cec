package subpackage

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/reglet-dev/minihost/policy"
)

// Cached is a subpackage stored in the repository.
type Cached struct {
	Meta   Metadata
	Name   string
	Dir    string
	Digest digest.Digest
}

// Files returns the directory holding the extracted archive.
func (c *Cached) Files() string {
	return filepath.Join(c.Dir, "files")
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// FSRepository caches subpackages on the local filesystem:
//
//	<root>/<name>/archive.zip
//	<root>/<name>/metadata.json
//	<root>/<name>/digest.txt
//	<root>/<name>/files/...
type FSRepository struct {
	root string
}

// DefaultCacheDir returns ~/.minihost/subpackages.
func DefaultCacheDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".minihost", "subpackages")
}

// NewFSRepository creates a filesystem-based repository. An empty root
// selects DefaultCacheDir.
func NewFSRepository(root string) (*FSRepository, error) {
	if root == "" {
		root = DefaultCacheDir()
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FSRepository{root: root}, nil
}

// Root returns the cache directory.
func (r *FSRepository) Root() string { return r.root }

// Find returns the cached subpackage called name.
func (r *FSRepository) Find(ctx context.Context, name string) (*Cached, error) {
	dir, err := r.path(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, "archive.zip")); err != nil {
		return nil, &NotFoundError{Name: name}
	}

	meta, err := loadMetadata(dir)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, "digest.txt")) //nolint:gosec // path validated above
	if err != nil {
		return nil, err
	}
	d, err := digest.Parse(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("cached digest for %s: %w", name, err)
	}
	return &Cached{Meta: meta, Name: name, Dir: dir, Digest: d}, nil
}

// Store writes the archive, extracts it and records metadata and digest.
// A previous copy of the subpackage is replaced.
func (r *FSRepository) Store(ctx context.Context, name string, a *Artifact) (*Cached, error) {
	dir, err := r.path(name)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(a.Archive), int64(len(a.Archive)))
	if err != nil {
		return nil, fmt.Errorf("invalid subpackage archive: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "archive.zip"), a.Archive, 0o600); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}
	if err := extractAll(zr, filepath.Join(dir, "files")); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	if err := saveMetadata(dir, a.Meta); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "digest.txt"), []byte(a.Digest.String()), 0o600); err != nil {
		return nil, err
	}
	return &Cached{Meta: a.Meta, Name: name, Dir: dir, Digest: a.Digest}, nil
}

// List returns all cached subpackages sorted by name.
func (r *FSRepository) List(ctx context.Context) ([]*Cached, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, err
	}
	var out []*Cached
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		c, err := r.Find(ctx, e.Name())
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes a cached subpackage.
func (r *FSRepository) Delete(ctx context.Context, name string) error {
	dir, err := r.path(name)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (r *FSRepository) path(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("security violation: invalid subpackage name %q", name)
	}
	return filepath.Join(r.root, name), nil
}

func extractAll(zr *zip.Reader, target string) error {
	dests := make([]string, len(zr.File))
	for i, entry := range zr.File {
		clean, ok := policy.CleanPath(entry.Name)
		if !ok || clean == "." {
			return fmt.Errorf("security violation: path traversal detected for archive entry %q", entry.Name)
		}
		dests[i] = filepath.Join(target, filepath.FromSlash(clean))
	}
	if err := os.MkdirAll(target, 0o750); err != nil {
		return err
	}
	for i, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dests[i], 0o750); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dests[i]), 0o750); err != nil {
			return err
		}
		if err := extractFile(entry, dests[i]); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(entry *zip.File, dest string) error {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("read %s: %w", entry.Name, err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(filepath.Clean(dest), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(rc, int64(entry.UncompressedSize64)+1)) //nolint:gosec
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", entry.Name, err)
	}
	if uint64(n) > entry.UncompressedSize64 {
		_ = out.Close()
		return fmt.Errorf("archive entry %s is larger than declared", entry.Name)
	}
	return out.Close()
}

func loadMetadata(dir string) (Metadata, error) {
	var meta Metadata
	file, err := os.Open(filepath.Clean(filepath.Join(dir, "metadata.json")))
	if err != nil {
		return meta, err
	}
	defer func() { _ = file.Close() }()
	err = json.NewDecoder(file).Decode(&meta)
	return meta, err
}

func saveMetadata(dir string, meta Metadata) error {
	file, err := os.Create(filepath.Clean(filepath.Join(dir, "metadata.json")))
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()
	return json.NewEncoder(file).Encode(meta)
}
