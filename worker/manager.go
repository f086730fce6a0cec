package worker

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/task"
)

// Worker events.
const (
	EventMessage = "message"
	EventError   = "error"
)

// Manager enforces the single active worker.
type Manager struct {
	sched  loop.Scheduler
	active *Worker
	opts   Options
	mu     sync.Mutex
}

// NewManager creates a manager delivering worker events on sched.
func NewManager(sched loop.Scheduler, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{sched: sched, opts: o}
}

// Active returns the running worker, or nil.
func (m *Manager) Active() *Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Create starts a worker from the script at path. While another worker
// is active it fails with a worker-active error.
func (m *Manager) Create(ctx context.Context, path string) (*Worker, error) {
	if path == "" {
		return nil, hosterr.Contract("scriptPath", "must not be empty")
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, hosterr.Host(hosterr.CodeWorkerActive, "a worker is already running, terminate it first")
	}
	runner := m.opts.runner(path, m.opts)
	w := &Worker{runner: runner, logger: m.opts.logger}
	w.Handle = task.New("Worker", m.sched,
		task.WithTable(task.OneShotTable),
		task.WithLogger(m.opts.logger),
		task.WithAbortHook(func() {
			if err := runner.Close(context.Background()); err != nil {
				m.opts.logger.Warn("worker: close failed", "error", err)
			}
		}),
	)
	w.OnSettle(func(task.State, error) { m.release(w) })
	m.active = w
	m.mu.Unlock()

	src, err := m.opts.load(path)
	if err != nil {
		m.release(w)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, hosterr.Wrap(hosterr.CodeNotFound, err, "worker script %s not found", path)
		}
		return nil, hosterr.As(err)
	}

	sink := Sink{Message: w.receive, Error: w.fail}
	if err := runner.Start(ctx, path, src, sink); err != nil {
		m.release(w)
		_ = runner.Close(context.Background())
		if he := hosterr.As(err); he.Class == hosterr.ClassHost && he.Code != hosterr.CodeUnknown {
			return nil, he
		}
		return nil, hosterr.Wrap(hosterr.CodeInternal, err, "start worker: %v", err)
	}
	if err := w.Start(); err != nil {
		return nil, err
	}
	m.opts.logger.Debug("worker started", "path", path, "id", w.ID())
	return w, nil
}

// Close terminates the active worker, if any.
func (m *Manager) Close() {
	if w := m.Active(); w != nil {
		_ = w.Terminate()
	}
}

func (m *Manager) release(w *Worker) {
	m.mu.Lock()
	if m.active == w {
		m.active = nil
	}
	m.mu.Unlock()
}

// Worker is the main side of a running worker.
type Worker struct {
	*task.Handle
	runner Runner
	logger *slog.Logger
}

// PostMessage sends a structured copy of v to the worker.
func (w *Worker) PostMessage(v dynamic.Value) error {
	if err := w.Require("postMessage", task.Running); err != nil {
		return err
	}
	w.runner.Deliver(v.Clone())
	return nil
}

// Terminate stops the worker and frees the worker slot. Terminating a
// stopped worker is a no-op.
func (w *Worker) Terminate() error {
	if err := w.Abort(); err != nil && !errors.Is(err, hosterr.ErrAlreadyTerminal) {
		return err
	}
	return nil
}

func (w *Worker) receive(v dynamic.Value) {
	w.Emit(EventMessage, v.Clone())
}

func (w *Worker) fail(err error) {
	w.logger.Warn("worker error", "id", w.ID(), "error", err)
	w.Emit(EventError, dynamic.Object("errMsg", err.Error()))
}
