package callback

import (
	"context"
	"sync"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
)

// Callbacks holds the optional success, failure and complete slots of an
// asynchronous call.
type Callbacks struct {
	OnSuccess  func(dynamic.Value)
	OnFailure  func(*hosterr.Error)
	OnComplete func(Outcome)
}

// Empty reports whether no slot is set.
func (c Callbacks) Empty() bool {
	return c.OnSuccess == nil && c.OnFailure == nil && c.OnComplete == nil
}

// Dispatch invokes the slots for o in the current turn: success or failure,
// then complete. Complete still runs when the first slot panics, and the
// panic is re-raised afterwards.
func Dispatch(cb Callbacks, o Outcome) {
	defer func() {
		if cb.OnComplete != nil {
			cb.OnComplete(o)
		}
	}()
	if o.OK() {
		if cb.OnSuccess != nil {
			cb.OnSuccess(o.Value())
		}
		return
	}
	if cb.OnFailure != nil {
		cb.OnFailure(o.Error())
	}
}

// Deliver schedules Dispatch as a single loop turn.
func Deliver(sched loop.Scheduler, cb Callbacks, o Outcome) {
	sched.Post(func() { Dispatch(cb, o) })
}

// Future is a result that settles at most once. Continuations attached
// with Then run as separate loop turns, whether attached before or after
// settlement.
type Future struct {
	sched   loop.Scheduler
	done    chan struct{}
	conts   []func(Outcome)
	outcome Outcome
	mu      sync.Mutex
	settled bool
}

// NewFuture creates an unsettled future delivering on sched.
func NewFuture(sched loop.Scheduler) *Future {
	return &Future{
		sched: sched,
		done:  make(chan struct{}),
	}
}

// Resolved returns a future already settled with o.
func Resolved(sched loop.Scheduler, o Outcome) *Future {
	f := NewFuture(sched)
	f.Settle(o)
	return f
}

// Settle records o and schedules pending continuations. It returns false
// if the future was already settled, in which case o is discarded.
func (f *Future) Settle(o Outcome) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.outcome = o
	conts := f.conts
	f.conts = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range conts {
		f.post(fn, o)
	}
	return true
}

// Resolve settles the future with a success value.
func (f *Future) Resolve(v dynamic.Value) bool { return f.Settle(Success(v)) }

// Reject settles the future with a failure.
func (f *Future) Reject(err error) bool { return f.Settle(Failure(err)) }

// Then attaches a continuation.
func (f *Future) Then(fn func(Outcome)) *Future {
	f.mu.Lock()
	if !f.settled {
		f.conts = append(f.conts, fn)
		f.mu.Unlock()
		return f
	}
	o := f.outcome
	f.mu.Unlock()
	f.post(fn, o)
	return f
}

// Attach wires the three callback slots as one continuation.
func (f *Future) Attach(cb Callbacks) *Future {
	if cb.Empty() {
		return f
	}
	return f.Then(func(o Outcome) { Dispatch(cb, o) })
}

func (f *Future) post(fn func(Outcome), o Outcome) {
	f.sched.Post(func() { fn(o) })
}

// Done is closed once the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Settled reports whether the future has an outcome.
func (f *Future) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Outcome returns the outcome and whether the future has settled.
func (f *Future) Outcome() (Outcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome, f.settled
}

// Wait blocks until the future settles or ctx is done. It is meant for Go
// callers outside the loop; guest code never blocks on a future.
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		o, _ := f.Outcome()
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
