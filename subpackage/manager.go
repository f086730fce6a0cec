// Package subpackage loads mini-program subpackages published as OCI
// artifacts, pins them in a lockfile and caches them on disk.
package subpackage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja_nodejs/require"
	"github.com/opencontainers/go-digest"

	"github.com/reglet-dev/minihost/callback"
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/task"
)

// EventProgressUpdate is emitted on load tasks while the archive downloads.
const EventProgressUpdate = "progressUpdate"

// Spec declares a subpackage the app may load.
type Spec struct {
	Name   string
	Root   string
	Ref    string
	Digest digest.Digest
}

func (s Spec) key() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Root
}

// Loaded is a subpackage available to the guest.
type Loaded struct {
	*Cached
	Root     string
	FromPull bool
}

// Manager resolves, fetches and caches declared subpackages.
type Manager struct {
	source   Source
	repo     *FSRepository
	locks    LockRepository
	sched    loop.Scheduler
	logger   *slog.Logger
	specs    map[string]Spec
	loaded   map[string]*Loaded
	lockPath string
	mu       sync.Mutex
	lockMu   sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLockfile sets the lockfile path and repository.
func WithLockfile(path string, repo LockRepository) Option {
	return func(m *Manager) {
		m.lockPath = path
		if repo != nil {
			m.locks = repo
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

// NewManager creates a manager delivering task events on sched.
func NewManager(sched loop.Scheduler, source Source, repo *FSRepository, opts ...Option) *Manager {
	m := &Manager{
		source: source,
		repo:   repo,
		locks:  NewFileLockRepository(),
		sched:  sched,
		logger: slog.Default(),
		specs:  make(map[string]Spec),
		loaded: make(map[string]*Loaded),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Declare registers specs. Declaring a name twice replaces the spec.
func (m *Manager) Declare(specs ...Spec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range specs {
		m.specs[s.key()] = s
	}
}

// Declared returns the spec for a name or root.
func (m *Manager) Declared(name string) (Spec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.specs[name]; ok {
		return s, true
	}
	for _, s := range m.specs {
		if s.Root == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Loaded returns the subpackage loaded under name in this session.
func (m *Manager) Loaded(name string) (*Loaded, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loaded[name]
	return l, ok
}

// LoadTask is the handle returned by Load.
type LoadTask struct {
	*task.Handle
	future *callback.Future
	cancel context.CancelFunc
	last   int64
}

// Future settles with {name, root, digest} once the subpackage is ready.
func (t *LoadTask) Future() *callback.Future { return t.future }

func (t *LoadTask) report(done, total int64) {
	var pct int64
	if total > 0 {
		pct = min(done*100/total, 100)
	}
	if pct == t.last && total > 0 {
		return
	}
	t.last = pct
	t.Emit(EventProgressUpdate, dynamic.Object(
		"progress", pct,
		"totalBytesWritten", done,
		"totalBytesExpectedToWrite", total,
	))
}

func (t *LoadTask) finish(v dynamic.Value, err error) {
	defer t.cancel()
	if err == nil {
		if t.Complete() != nil {
			err = t.settledErr()
		}
	} else {
		err = hosterr.As(err)
		if t.Fail(err) != nil {
			err = t.settledErr()
		}
	}
	t.future.Settle(callback.From(v, err))
}

func (t *LoadTask) settledErr() error {
	if err := t.Err(); err != nil {
		return err
	}
	return hosterr.Host(hosterr.CodeAborted, "loadSubpackage aborted")
}

// Load starts loading the subpackage declared as name. Loading a
// subpackage twice in a session resolves from the session cache.
func (m *Manager) Load(ctx context.Context, name string) (*LoadTask, error) {
	if name == "" {
		return nil, hosterr.Contract("name", "must not be empty")
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &LoadTask{future: callback.NewFuture(m.sched), cancel: cancel, last: -1}
	t.Handle = task.New("LoadSubpackageTask", m.sched,
		task.WithTable(task.OneShotTable),
		task.WithAbortHook(cancel),
		task.WithLogger(m.logger),
	)

	spec, ok := m.Declared(name)
	if !ok {
		cancel()
		return nil, hosterr.Wrap(hosterr.CodeNotFound, &NotFoundError{Name: name},
			"subpackage %q is not declared", name)
	}
	if err := t.Start(); err != nil {
		cancel()
		return nil, err
	}

	go func() {
		l, err := m.load(ctx, spec, t.report)
		if err != nil {
			t.finish(dynamic.Null(), err)
			return
		}
		t.finish(result(l), nil)
	}()
	return t, nil
}

func result(l *Loaded) dynamic.Value {
	return dynamic.Object(
		"name", l.Name,
		"root", l.Root,
		"digest", l.Digest.String(),
		"fromCache", !l.FromPull,
	)
}

func (m *Manager) load(ctx context.Context, spec Spec, progress ProgressFunc) (*Loaded, error) {
	key := spec.key()
	if l, ok := m.Loaded(key); ok {
		progress(1, 1)
		return l, nil
	}

	lock, err := m.lockfile(ctx)
	if err != nil {
		return nil, hosterr.Wrap(hosterr.CodeInternal, err, "load lockfile: %v", err)
	}
	expected := spec.Digest
	pinned := lock.Get(key)
	if pinned != nil && pinned.Ref == spec.Ref {
		if expected != "" && expected != pinned.Digest {
			return nil, hosterr.Wrap(hosterr.CodePermissionDenied,
				&IntegrityError{Expected: expected, Actual: pinned.Digest},
				"subpackage %s: declared digest does not match the lockfile", key)
		}
		expected = pinned.Digest
	}

	if cached, err := m.repo.Find(ctx, key); err == nil && expected != "" && cached.Digest == expected {
		m.logger.Debug("subpackage served from cache", "name", key, "digest", cached.Digest)
		progress(1, 1)
		return m.remember(key, spec, cached, false), nil
	}

	if spec.Ref == "" {
		return nil, hosterr.Wrap(hosterr.CodeNotFound, &NotFoundError{Name: key},
			"subpackage %s has no source reference", key)
	}
	m.logger.Info("pulling subpackage", "name", key, "ref", spec.Ref)
	artifact, err := m.source.Pull(ctx, spec.Ref, progress)
	if err != nil {
		if ctx.Err() != nil {
			return nil, hosterr.Wrap(hosterr.CodeAborted, err, "loadSubpackage aborted")
		}
		if errors.Is(err, ErrSignatureInvalid) {
			return nil, hosterr.Wrap(hosterr.CodePermissionDenied, err, "subpackage %s: %v", key, err)
		}
		return nil, hosterr.Wrap(hosterr.CodeNetwork, err, "pull subpackage %s: %v", key, err)
	}
	if artifact.Signer != "" {
		m.logger.Info("subpackage signature verified", "name", key, "signer", artifact.Signer)
	}
	if expected != "" && artifact.Digest != expected {
		return nil, hosterr.Wrap(hosterr.CodePermissionDenied,
			&IntegrityError{Expected: expected, Actual: artifact.Digest},
			"subpackage %s failed its integrity check", key)
	}
	if err := Verify(artifact.Digest, artifact.Archive); err != nil {
		return nil, hosterr.Wrap(hosterr.CodePermissionDenied, err, "subpackage %s failed its integrity check", key)
	}

	cached, err := m.repo.Store(ctx, key, artifact)
	if err != nil {
		return nil, hosterr.Wrap(hosterr.CodeInternal, err, "cache subpackage %s: %v", key, err)
	}
	if err := m.pin(ctx, key, spec.Ref, artifact.Digest); err != nil {
		m.logger.Warn("failed to update subpackage lockfile", "name", key, "error", err)
	}
	return m.remember(key, spec, cached, true), nil
}

func (m *Manager) remember(key string, spec Spec, c *Cached, pulled bool) *Loaded {
	root := spec.Root
	if root == "" {
		root = key
	}
	l := &Loaded{Cached: c, Root: root, FromPull: pulled}
	m.mu.Lock()
	m.loaded[key] = l
	m.mu.Unlock()
	return l
}

func (m *Manager) lockfile(ctx context.Context) (*Lockfile, error) {
	if m.lockPath == "" {
		return NewLockfile(), nil
	}
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, err := m.locks.Load(ctx, m.lockPath)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return NewLockfile(), nil
	}
	return lock, nil
}

func (m *Manager) pin(ctx context.Context, name, ref string, d digest.Digest) error {
	if m.lockPath == "" {
		return nil
	}
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, err := m.locks.Load(ctx, m.lockPath)
	if err != nil {
		return err
	}
	if lock == nil {
		lock = NewLockfile()
	}
	if err := lock.Add(name, Lock{Ref: ref, Digest: d, Fetched: time.Now().UTC()}); err != nil {
		return err
	}
	return m.locks.Save(ctx, lock, m.lockPath)
}

// SourceLoader resolves require() paths under a loaded subpackage root to
// its extracted files and defers everything else to fallback.
func (m *Manager) SourceLoader(fallback require.SourceLoader) require.SourceLoader {
	if fallback == nil {
		fallback = require.DefaultSourceLoader
	}
	return func(p string) ([]byte, error) {
		clean := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
		m.mu.Lock()
		var hit *Loaded
		var rest string
		for _, l := range m.loaded {
			root := strings.Trim(l.Root, "/")
			if clean == root || strings.HasPrefix(clean, root+"/") {
				hit, rest = l, strings.TrimPrefix(strings.TrimPrefix(clean, root), "/")
				break
			}
		}
		m.mu.Unlock()
		if hit == nil {
			return fallback(p)
		}
		data, err := os.ReadFile(filepath.Join(hit.Files(), filepath.FromSlash(rest))) //nolint:gosec // cleaned above
		if errors.Is(err, os.ErrNotExist) {
			return nil, require.ModuleFileDoesNotExistError
		}
		if err != nil {
			return nil, fmt.Errorf("subpackage %s: %w", hit.Name, err)
		}
		return data, nil
	}
}
