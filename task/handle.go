// Package task implements handles for long-running capability operations.
package task

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/events"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
)

// State is the lifecycle state of a handle.
type State string

const (
	Pending   State = "pending"
	Running   State = "running"
	Paused    State = "paused"
	Completed State = "completed"
	Aborted   State = "aborted"
	Errored   State = "errored"
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == Completed || s == Aborted || s == Errored
}

// Table lists the legal target states of each non-terminal state.
type Table map[State][]State

// DefaultTable suits tasks that can be paused, such as media or transfers.
var DefaultTable = Table{
	Pending: {Running, Completed, Aborted, Errored},
	Running: {Paused, Completed, Aborted, Errored},
	Paused:  {Running, Completed, Aborted, Errored},
}

// OneShotTable suits tasks without pause support, such as requests.
var OneShotTable = Table{
	Pending: {Running, Completed, Aborted, Errored},
	Running: {Completed, Aborted, Errored},
}

// Handle is an in-flight operation. It reaches exactly one terminal state,
// after which every control operation fails with an invalid-state error.
type Handle struct {
	err      error
	sched    loop.Scheduler
	ledger   *events.Ledger
	logger   *slog.Logger
	table    Table
	done     chan struct{}
	id       string
	kind     string
	state    State
	onAbort  []func()
	onSettle []func(State, error)
	mu       sync.Mutex
}

// Option configures a Handle.
type Option func(*Handle)

// WithTable overrides the transition table.
func WithTable(t Table) Option {
	return func(h *Handle) {
		h.table = t
	}
}

// WithAbortHook registers fn to run when the handle is aborted, outside
// the handle lock. Hooks cancel the underlying host work.
func WithAbortHook(fn func()) Option {
	return func(h *Handle) {
		h.onAbort = append(h.onAbort, fn)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handle) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New creates a pending handle of the given kind, such as "RequestTask".
func New(kind string, sched loop.Scheduler, opts ...Option) *Handle {
	h := &Handle{
		id:     uuid.NewString(),
		kind:   kind,
		sched:  sched,
		state:  Pending,
		table:  DefaultTable,
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.ledger = events.NewLedger(sched, events.WithLogger(h.logger))
	return h
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string { return h.id }

// Kind returns the handle type name.
func (h *Handle) Kind() string { return h.kind }

// Done is closed when the handle reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the failure recorded by Fail.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Transition moves the handle to state to.
func (h *Handle) Transition(to State) error {
	return h.transition(to, nil)
}

func (h *Handle) transition(to State, cause error) error {
	h.mu.Lock()
	from := h.state
	if from.Terminal() {
		h.mu.Unlock()
		return hosterr.Terminal(h.kind, string(from))
	}
	if !slices.Contains(h.table[from], to) {
		h.mu.Unlock()
		return hosterr.State("%s cannot move from %s to %s", h.kind, from, to)
	}
	h.state = to
	var (
		settle []func(State, error)
		abort  []func()
	)
	if to.Terminal() {
		h.err = cause
		settle = h.onSettle
		h.onSettle = nil
		if to == Aborted {
			abort = h.onAbort
		}
		h.onAbort = nil
		close(h.done)
		// Deliveries queued before settlement still run; the ledger is
		// cleared in the turn after them.
		h.sched.Post(h.ledger.Clear)
	}
	h.mu.Unlock()

	h.logger.Debug("task transition", "task", h.kind, "id", h.id, "from", from, "to", to)
	for _, fn := range abort {
		fn()
	}
	for _, fn := range settle {
		fn(to, cause)
	}
	return nil
}

// Start moves a pending handle to running.
func (h *Handle) Start() error { return h.Transition(Running) }

// Pause moves a running handle to paused.
func (h *Handle) Pause() error {
	if err := h.Require("pause", Running); err != nil {
		return err
	}
	return h.Transition(Paused)
}

// Resume moves a paused handle back to running.
func (h *Handle) Resume() error {
	if err := h.Require("resume", Paused); err != nil {
		return err
	}
	return h.Transition(Running)
}

// Complete settles the handle successfully.
func (h *Handle) Complete() error { return h.Transition(Completed) }

// Fail settles the handle as errored with cause.
func (h *Handle) Fail(cause error) error {
	if cause == nil {
		cause = hosterr.Host(hosterr.CodeUnknown, "%s failed", h.kind)
	}
	return h.transition(Errored, cause)
}

// Abort settles the handle as aborted and runs abort hooks. On a terminal
// handle it changes nothing and returns an already-terminal error, which
// guest-facing bindings treat as a no-op.
func (h *Handle) Abort() error {
	return h.transition(Aborted, hosterr.Host(hosterr.CodeAborted, "%s aborted", h.kind))
}

// Require checks that an operation named op is legal in the current state.
func (h *Handle) Require(op string, allowed ...State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return hosterr.Terminal(h.kind, string(h.state))
	}
	if !slices.Contains(allowed, h.state) {
		return hosterr.State("%s.%s is not allowed while %s", h.kind, op, h.state)
	}
	return nil
}

// OnSettle registers fn to run once when the handle reaches a terminal
// state. If it already has, fn is posted to the scheduler.
func (h *Handle) OnSettle(fn func(State, error)) {
	h.mu.Lock()
	if !h.state.Terminal() {
		h.onSettle = append(h.onSettle, fn)
		h.mu.Unlock()
		return
	}
	state, err := h.state, h.err
	h.mu.Unlock()
	h.sched.Post(func() { fn(state, err) })
}

// On registers a handle-scoped listener.
func (h *Handle) On(event string, id events.ListenerID, fn events.Listener) bool {
	return h.ledger.On(event, id, fn)
}

// Off removes a handle-scoped listener.
func (h *Handle) Off(event string, id events.ListenerID) bool {
	return h.ledger.Off(event, id)
}

// OffAll removes every listener of event.
func (h *Handle) OffAll(event string) int {
	return h.ledger.OffAll(event)
}

// Listeners returns the number of listeners registered for event.
func (h *Handle) Listeners(event string) int {
	return h.ledger.Count(event)
}

// Emit delivers a handle event. Events emitted after settlement are dropped.
func (h *Handle) Emit(event string, payload dynamic.Value) int {
	if h.State().Terminal() {
		return 0
	}
	return h.ledger.Emit(event, payload)
}

func (h *Handle) String() string {
	return fmt.Sprintf("%s(%s, %s)", h.kind, h.id, h.State())
}
