// Package fsys implements the guest file system manager: a scoped root
// with user-data, temp and saved-file areas plus read-only package files.
package fsys

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/policy"
)

// Guest path scheme and the areas under it.
const (
	Scheme = "wxfile://"

	UserDir    = "usr"
	TempDir    = "tmp"
	StoreDir   = "store"
	PackageDir = "pkg"

	// DefaultQuota caps user data plus saved files.
	DefaultQuota int64 = 200 << 20
)

// DefaultGrants reads every area and writes only user data and temp files.
// Saved files are written by SaveFile alone.
var DefaultGrants = &policy.Grants{
	Paths: []policy.PathRule{{
		Read:  []string{PackageDir + "/**", StoreDir + "/**"},
		Write: []string{UserDir + "/**", TempDir + "/**"},
	}},
}

// UserDataPath is the guest path of the user-data area.
const UserDataPath = Scheme + UserDir

// Manager serves the file system capabilities over a directory.
type Manager struct {
	root   *os.Root
	policy policy.Policy
	grants *policy.Grants
	logger *slog.Logger
	dir    string
	quota  int64
	mu     sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithQuota sets the combined byte quota of user data and saved files.
func WithQuota(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.quota = n
		}
	}
}

// WithPolicy sets the policy and grants that gate every path.
func WithPolicy(p policy.Policy, grants *policy.Grants) Option {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
		if grants != nil {
			m.grants = grants
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New opens dir as the file system root, creating the area directories.
func New(dir string, opts ...Option) (*Manager, error) {
	for _, sub := range []string{UserDir, TempDir, StoreDir, PackageDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s area: %w", sub, err)
		}
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open file system root: %w", err)
	}
	m := &Manager{
		root:   root,
		dir:    dir,
		quota:  DefaultQuota,
		grants: DefaultGrants,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.policy == nil {
		m.policy = policy.NewPolicy(policy.WithDenialHandler(&policy.SlogDenialHandler{Logger: m.logger}))
	}
	return m, nil
}

// Close releases the root.
func (m *Manager) Close() error {
	return m.root.Close()
}

// Dir returns the host directory backing the root.
func (m *Manager) Dir() string { return m.dir }

// resolve maps a guest path to a root-relative path. Paths without the
// scheme name package files.
func (m *Manager) resolve(field, guest string) (string, error) {
	if guest == "" {
		return "", hosterr.Contract(field, "must not be empty")
	}
	if rest, ok := strings.CutPrefix(guest, Scheme); ok {
		rel, ok := policy.CleanPath(rest)
		if !ok {
			return "", denied("open", guest)
		}
		area, _, _ := strings.Cut(rel, "/")
		if area != UserDir && area != TempDir && area != StoreDir {
			return "", denied("open", guest)
		}
		return rel, nil
	}
	if strings.Contains(guest, "://") {
		return "", hosterr.Contract(field, "unsupported path %q", guest)
	}
	rel, ok := policy.CleanPath(guest)
	if !ok {
		return "", denied("open", guest)
	}
	return path.Join(PackageDir, rel), nil
}

// GuestPath maps a root-relative path back to its guest form.
func GuestPath(rel string) string {
	if rest, ok := strings.CutPrefix(rel, PackageDir+"/"); ok {
		return rest
	}
	return Scheme + rel
}

func (m *Manager) check(op, guest, rel, operation string) error {
	if !m.policy.CheckPath(policy.PathRequest{Path: rel, Operation: operation}, m.grants) {
		return denied(op, guest)
	}
	return nil
}

func (m *Manager) readable(op, field, guest string) (string, error) {
	rel, err := m.resolve(field, guest)
	if err != nil {
		return "", err
	}
	return rel, m.check(op, guest, rel, policy.OpRead)
}

func (m *Manager) writable(op, field, guest string) (string, error) {
	rel, err := m.resolve(field, guest)
	if err != nil {
		return "", err
	}
	return rel, m.check(op, guest, rel, policy.OpWrite)
}

func isArea(rel string) bool {
	return !strings.Contains(rel, "/")
}

func (m *Manager) requireParent(op, guest, rel string) error {
	parent := path.Dir(rel)
	info, err := m.root.Stat(parent)
	if errors.Is(err, fs.ErrNotExist) {
		return parentNotFound(op, guest)
	}
	if err != nil {
		return mapErr(op, guest, err)
	}
	if !info.IsDir() {
		return notDirectory(op, guest)
	}
	return nil
}

func counted(rel string) bool {
	area, _, _ := strings.Cut(rel, "/")
	return area == UserDir || area == StoreDir
}

// usage sums the sizes of user data and saved files.
func (m *Manager) usage() (int64, error) {
	var total int64
	for _, area := range []string{UserDir, StoreDir} {
		err := fs.WalkDir(m.root.FS(), area, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				info, err := d.Info()
				if err != nil {
					return err
				}
				total += info.Size()
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// reserve fails when replacing rel's current content with n bytes would
// exceed the quota. Callers hold m.mu.
func (m *Manager) reserve(rel string, n int64) error {
	if !counted(rel) {
		return nil
	}
	used, err := m.usage()
	if err != nil {
		return hosterr.Wrap(hosterr.CodeInternal, err, "failed to measure storage")
	}
	if info, err := m.root.Stat(rel); err == nil && info.Mode().IsRegular() {
		used -= info.Size()
	}
	if used+n > m.quota {
		return hosterr.Host(hosterr.CodeQuotaExceeded,
			"the maximum size of the file storage limit is exceeded")
	}
	return nil
}

// Usage reports bytes used by user data and saved files.
func (m *Manager) Usage() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage()
}

// Access succeeds when path exists.
func (m *Manager) Access(p string) error {
	rel, err := m.readable("access", "path", p)
	if err != nil {
		return err
	}
	if _, err := m.root.Stat(rel); err != nil {
		return mapErr("access", p, err)
	}
	return nil
}

// Readdir lists the entry names of a directory, sorted.
func (m *Manager) Readdir(dirPath string) ([]string, error) {
	rel, err := m.readable("readdir", "dirPath", dirPath)
	if err != nil {
		return nil, err
	}
	info, err := m.root.Stat(rel)
	if err != nil {
		return nil, mapErr("readdir", dirPath, err)
	}
	if !info.IsDir() {
		return nil, notDirectory("readdir", dirPath)
	}
	entries, err := fs.ReadDir(m.root.FS(), rel)
	if err != nil {
		return nil, mapErr("readdir", dirPath, err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	slices.Sort(names)
	return names, nil
}

// Mkdir creates a directory. Without recursive the parent must exist.
func (m *Manager) Mkdir(dirPath string, recursive bool) error {
	rel, err := m.writable("mkdir", "dirPath", dirPath)
	if err != nil {
		return err
	}
	if _, err := m.root.Stat(rel); err == nil {
		return hosterr.Host(hosterr.CodeAlreadyExists, "file already exists, mkdir %s", dirPath)
	}
	if recursive {
		return mapErr("mkdir", dirPath, m.root.MkdirAll(rel, 0o750))
	}
	if err := m.requireParent("mkdir", dirPath, rel); err != nil {
		return err
	}
	return mapErr("mkdir", dirPath, m.root.Mkdir(rel, 0o750))
}

// Rmdir removes a directory. Without recursive it must be empty.
func (m *Manager) Rmdir(dirPath string, recursive bool) error {
	rel, err := m.writable("rmdir", "dirPath", dirPath)
	if err != nil {
		return err
	}
	if isArea(rel) {
		return denied("rmdir", dirPath)
	}
	info, err := m.root.Stat(rel)
	if err != nil {
		return mapErr("rmdir", dirPath, err)
	}
	if !info.IsDir() {
		return notDirectory("rmdir", dirPath)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if recursive {
		return mapErr("rmdir", dirPath, m.root.RemoveAll(rel))
	}
	return mapErr("rmdir", dirPath, m.root.Remove(rel))
}

// ReadFile returns the file content decoded with encoding, or as binary
// when encoding is empty.
func (m *Manager) ReadFile(filePath, encoding string) (dynamic.Value, error) {
	rel, err := m.readable("open", "filePath", filePath)
	if err != nil {
		return dynamic.Value{}, err
	}
	if encoding != "" {
		if _, err := normalizeEncoding(encoding); err != nil {
			return dynamic.Value{}, err
		}
	}
	info, err := m.root.Stat(rel)
	if err != nil {
		return dynamic.Value{}, mapErr("open", filePath, err)
	}
	if info.IsDir() {
		return dynamic.Value{}, isDirectory("open", filePath)
	}
	data, err := m.root.ReadFile(rel)
	if err != nil {
		return dynamic.Value{}, mapErr("open", filePath, err)
	}
	return Decode(data, encoding)
}

// WriteFile replaces the file content. The parent directory must exist.
func (m *Manager) WriteFile(filePath string, data dynamic.Value, encoding string) error {
	rel, err := m.writable("open", "filePath", filePath)
	if err != nil {
		return err
	}
	b, err := Encode(data, encoding)
	if err != nil {
		return err
	}
	if err := m.requireParent("open", filePath, rel); err != nil {
		return err
	}
	if info, err := m.root.Stat(rel); err == nil && info.IsDir() {
		return isDirectory("open", filePath)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reserve(rel, int64(len(b))); err != nil {
		return err
	}
	return mapErr("open", filePath, m.root.WriteFile(rel, b, 0o640))
}

// AppendFile appends to an existing file.
func (m *Manager) AppendFile(filePath string, data dynamic.Value, encoding string) error {
	rel, err := m.writable("open", "filePath", filePath)
	if err != nil {
		return err
	}
	b, err := Encode(data, encoding)
	if err != nil {
		return err
	}
	info, err := m.root.Stat(rel)
	if err != nil {
		return mapErr("open", filePath, err)
	}
	if info.IsDir() {
		return isDirectory("open", filePath)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reserve(rel, info.Size()+int64(len(b))); err != nil {
		return err
	}
	f, err := m.root.OpenFile(rel, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return mapErr("open", filePath, err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return mapErr("write", filePath, err)
	}
	return mapErr("close", filePath, f.Close())
}

// Unlink removes a file. Directories are rejected.
func (m *Manager) Unlink(filePath string) error {
	rel, err := m.writable("unlink", "filePath", filePath)
	if err != nil {
		return err
	}
	info, err := m.root.Lstat(rel)
	if err != nil {
		return mapErr("unlink", filePath, err)
	}
	if info.IsDir() {
		return isDirectory("unlink", filePath)
	}
	return mapErr("unlink", filePath, m.root.Remove(rel))
}

// Rename moves oldPath to newPath.
func (m *Manager) Rename(oldPath, newPath string) error {
	from, err := m.writable("rename", "oldPath", oldPath)
	if err != nil {
		return err
	}
	to, err := m.writable("rename", "newPath", newPath)
	if err != nil {
		return err
	}
	if isArea(from) {
		return denied("rename", oldPath)
	}
	info, err := m.root.Stat(from)
	if err != nil {
		return mapErr("rename", oldPath, err)
	}
	if err := m.requireParent("rename", newPath, to); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if info.Mode().IsRegular() && counted(to) && !counted(from) {
		if err := m.reserve(to, info.Size()); err != nil {
			return err
		}
	}
	return mapErr("rename", oldPath, m.root.Rename(from, to))
}

// CopyFile copies srcPath to destPath, replacing destPath.
func (m *Manager) CopyFile(srcPath, destPath string) error {
	from, err := m.readable("copyFile", "srcPath", srcPath)
	if err != nil {
		return err
	}
	to, err := m.writable("copyFile", "destPath", destPath)
	if err != nil {
		return err
	}
	info, err := m.root.Stat(from)
	if err != nil {
		return mapErr("copyFile", srcPath, err)
	}
	if info.IsDir() {
		return isDirectory("copyFile", srcPath)
	}
	if err := m.requireParent("copyFile", destPath, to); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reserve(to, info.Size()); err != nil {
		return err
	}
	return m.copy(from, to, srcPath, destPath)
}

func (m *Manager) copy(from, to, srcPath, destPath string) error {
	src, err := m.root.Open(from)
	if err != nil {
		return mapErr("copyFile", srcPath, err)
	}
	defer src.Close()

	dst, err := m.root.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return mapErr("copyFile", destPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return mapErr("copyFile", destPath, err)
	}
	return mapErr("copyFile", destPath, dst.Close())
}

// CreateTemp creates an empty temp file with the given extension and
// returns its guest path and the open file.
func (m *Manager) CreateTemp(ext string) (string, *os.File, error) {
	if strings.ContainsAny(ext, `/\`) {
		return "", nil, hosterr.Contract("ext", "invalid extension %q", ext)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	rel := path.Join(TempDir, uuid.NewString()+ext)
	f, err := m.root.OpenFile(rel, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", nil, mapErr("open", GuestPath(rel), err)
	}
	return GuestPath(rel), f, nil
}

// Open opens a readable file for streaming, returning its size.
func (m *Manager) Open(filePath string) (*os.File, int64, error) {
	rel, err := m.readable("open", "filePath", filePath)
	if err != nil {
		return nil, 0, err
	}
	info, err := m.root.Stat(rel)
	if err != nil {
		return nil, 0, mapErr("open", filePath, err)
	}
	if info.IsDir() {
		return nil, 0, isDirectory("open", filePath)
	}
	f, err := m.root.Open(rel)
	if err != nil {
		return nil, 0, mapErr("open", filePath, err)
	}
	return f, info.Size(), nil
}

// ClearTemp removes every temp file.
func (m *Manager) ClearTemp() error {
	entries, err := fs.ReadDir(m.root.FS(), TempDir)
	if err != nil {
		return mapErr("readdir", Scheme+TempDir, err)
	}
	for _, e := range entries {
		if err := m.root.RemoveAll(path.Join(TempDir, e.Name())); err != nil {
			return mapErr("unlink", GuestPath(path.Join(TempDir, e.Name())), err)
		}
	}
	return nil
}
