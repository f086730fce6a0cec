// Package events implements the subscription ledger: per-event listener
// sets with idempotent registration and ordered, scheduled delivery.
package events

import (
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/loop"
)

// WatchState is the per-event state of the ledger.
type WatchState int

const (
	Unwatched WatchState = iota
	Watched
)

func (s WatchState) String() string {
	if s == Watched {
		return "watched"
	}
	return "unwatched"
}

// Listener receives event payloads.
type Listener func(payload dynamic.Value)

// ListenerID identifies a listener. Guest callbacks use their runtime
// object identity. Go funcs are identified by their code pointer; any
// other id must be comparable.
type ListenerID any

type funcID uintptr

// NormalizeID returns the key id is stored under, or false when id can
// never match itself.
func NormalizeID(id ListenerID) (ListenerID, bool) {
	if id == nil {
		return nil, true
	}
	v := reflect.ValueOf(id)
	if v.Kind() == reflect.Func {
		return funcID(v.Pointer()), true
	}
	if !v.Comparable() {
		return nil, false
	}
	return id, true
}

type entry struct {
	id     ListenerID
	fn     Listener
	active atomic.Bool
}

// Ledger tracks listener registrations per event name.
type Ledger struct {
	sched  loop.Scheduler
	logger *slog.Logger
	subs   map[string][]*entry
	nextID uint64
	mu     sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger creates an empty ledger delivering on sched.
func NewLedger(sched loop.Scheduler, opts ...Option) *Ledger {
	l := &Ledger{
		sched:  sched,
		logger: slog.Default(),
		subs:   make(map[string][]*entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// On registers fn for event under id. Registering an id that is already
// present for event, or an id that is not comparable, is a no-op and
// returns false.
func (l *Ledger) On(event string, id ListenerID, fn Listener) bool {
	id, ok := NormalizeID(id)
	if !ok {
		l.logger.Warn("listener id is not comparable", "event", event)
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if slices.ContainsFunc(l.subs[event], func(e *entry) bool { return e.id == id }) {
		return false
	}
	e := &entry{id: id, fn: fn}
	e.active.Store(true)
	l.subs[event] = append(l.subs[event], e)
	l.logger.Debug("listener registered", "event", event, "listeners", len(l.subs[event]))
	return true
}

type subscription struct {
	n uint64
}

// Subscribe registers fn under a fresh identity and returns the function
// that removes it.
func (l *Ledger) Subscribe(event string, fn Listener) (unsubscribe func()) {
	l.mu.Lock()
	l.nextID++
	id := subscription{n: l.nextID}
	l.mu.Unlock()

	l.On(event, id, fn)
	return func() { l.Off(event, id) }
}

// Off removes the listener registered under id. Removing an unknown id is a
// no-op and returns false. A removed listener receives no deliveries that
// were still queued.
func (l *Ledger) Off(event string, id ListenerID) bool {
	id, ok := NormalizeID(id)
	if !ok {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.subs[event]
	idx := slices.IndexFunc(list, func(e *entry) bool { return e.id == id })
	if idx < 0 {
		return false
	}
	list[idx].active.Store(false)
	list = slices.Delete(list, idx, idx+1)
	if len(list) == 0 {
		delete(l.subs, event)
	} else {
		l.subs[event] = list
	}
	return true
}

// OffAll removes every listener of event and returns how many were removed.
func (l *Ledger) OffAll(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.subs[event]
	for _, e := range list {
		e.active.Store(false)
	}
	delete(l.subs, event)
	return len(list)
}

// State returns the watch state of event.
func (l *Ledger) State(event string) WatchState {
	if l.Count(event) > 0 {
		return Watched
	}
	return Unwatched
}

// Watched reports whether event has at least one listener.
func (l *Ledger) Watched(event string) bool {
	return l.State(event) == Watched
}

// Count returns the number of listeners registered for event.
func (l *Ledger) Count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs[event])
}

// Events returns the names of watched events.
func (l *Ledger) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := lo.Keys(l.subs)
	slices.Sort(names)
	return names
}

// Emit schedules one delivery turn per listener, in registration order.
// It returns the number of listeners targeted.
func (l *Ledger) Emit(event string, payload dynamic.Value) int {
	return l.EmitIf(event, payload, nil)
}

// EmitIf is Emit with a guard evaluated at delivery time. Deliveries whose
// guard reports false are dropped.
func (l *Ledger) EmitIf(event string, payload dynamic.Value, guard func() bool) int {
	l.mu.Lock()
	targets := slices.Clone(l.subs[event])
	l.mu.Unlock()

	for _, e := range targets {
		l.sched.Post(func() {
			if !e.active.Load() {
				return
			}
			if guard != nil && !guard() {
				return
			}
			e.fn(payload)
		})
	}
	return len(targets)
}

// Clear removes every registration. It is called when the owning context
// is torn down.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, list := range l.subs {
		for _, e := range list {
			e.active.Store(false)
		}
	}
	l.subs = make(map[string][]*entry)
}
