package loop

import (
	"sync"
	"time"
)

// FrameInterval is the animation frame period.
const FrameInterval = 16 * time.Millisecond

const minInterval = time.Millisecond

// Timers implements the guest timer globals on top of a Scheduler.
// Timeouts, intervals and animation frames share one id space, so
// clearTimeout also clears an interval with the same id.
type Timers struct {
	sched  Scheduler
	start  time.Time
	active map[int]Cancel
	nextID int
	mu     sync.Mutex
}

// NewTimers creates an empty timer table.
func NewTimers(sched Scheduler) *Timers {
	return &Timers{
		sched:  sched,
		start:  sched.Now(),
		active: make(map[int]Cancel),
	}
}

func (t *Timers) allocate() int {
	t.nextID++
	return t.nextID
}

// SetTimeout calls fn once after d. Negative delays are treated as zero.
func (t *Timers) SetTimeout(fn func(), d time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.allocate()
	t.active[id] = t.sched.AfterFunc(d, func() {
		if !t.release(id) {
			return
		}
		fn()
	})
	return id
}

// SetInterval calls fn every d until cleared.
func (t *Timers) SetInterval(fn func(), d time.Duration) int {
	if d < minInterval {
		d = minInterval
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.allocate()
	t.scheduleInterval(id, fn, d)
	return id
}

// scheduleInterval arms the next tick. Callers hold t.mu.
func (t *Timers) scheduleInterval(id int, fn func(), d time.Duration) {
	t.active[id] = t.sched.AfterFunc(d, func() {
		t.mu.Lock()
		if _, ok := t.active[id]; !ok {
			t.mu.Unlock()
			return
		}
		t.scheduleInterval(id, fn, d)
		t.mu.Unlock()
		fn()
	})
}

// RequestAnimationFrame calls fn once at the next frame with the number of
// milliseconds elapsed since the timer table was created.
func (t *Timers) RequestAnimationFrame(fn func(ms float64)) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.allocate()
	t.active[id] = t.sched.AfterFunc(FrameInterval, func() {
		if !t.release(id) {
			return
		}
		fn(float64(t.sched.Now().Sub(t.start)) / float64(time.Millisecond))
	})
	return id
}

// Clear cancels the timer with the given id. Unknown, fired and already
// cleared ids are ignored.
func (t *Timers) Clear(id int) {
	t.mu.Lock()
	cancel, ok := t.active[id]
	delete(t.active, id)
	t.mu.Unlock()
	if ok {
		cancel()
	}
}

// ClearTimeout is Clear.
func (t *Timers) ClearTimeout(id int) { t.Clear(id) }

// ClearInterval is Clear.
func (t *Timers) ClearInterval(id int) { t.Clear(id) }

// CancelAnimationFrame is Clear.
func (t *Timers) CancelAnimationFrame(id int) { t.Clear(id) }

// ClearAll cancels every pending timer.
func (t *Timers) ClearAll() {
	t.mu.Lock()
	pending := t.active
	t.active = make(map[int]Cancel)
	t.mu.Unlock()
	for _, cancel := range pending {
		cancel()
	}
}

// Active returns the number of pending timers.
func (t *Timers) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// release removes id and reports whether it was still pending.
func (t *Timers) release(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		return false
	}
	delete(t.active, id)
	return true
}
