package loop

import (
	"sync"
	"time"
)

// Manual is a deterministic Scheduler driven explicitly by tests and tools.
// Time only moves when Advance is called.
type Manual struct {
	now    time.Time
	queue  []func()
	timers []*manualTimer
	seq    uint64
	mu     sync.Mutex
}

type manualTimer struct {
	due       time.Time
	fn        func()
	seq       uint64
	cancelled bool
}

// NewManual creates a manual scheduler whose clock starts at the Unix epoch.
func NewManual() *Manual {
	return &Manual{now: time.Unix(0, 0)}
}

// Post implements Scheduler.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Cancel {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	m.seq++
	t := &manualTimer{due: m.now.Add(d), fn: fn, seq: m.seq}
	m.timers = append(m.timers, t)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		t.cancelled = true
		m.mu.Unlock()
	}
}

// Now implements Scheduler.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Drain runs queued turns, including turns queued while draining, until
// the queue is empty. It returns the number of turns run.
func (m *Manual) Drain() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
		n++
	}
}

// Advance moves the clock forward by d, firing due timers in deadline
// order and draining the queue after each firing.
func (m *Manual) Advance(d time.Duration) int {
	n := m.Drain()

	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		idx := -1
		for i, t := range m.timers {
			if t.cancelled || t.due.After(target) {
				continue
			}
			if idx < 0 || t.due.Before(m.timers[idx].due) ||
				(t.due.Equal(m.timers[idx].due) && t.seq < m.timers[idx].seq) {
				idx = i
			}
		}
		if idx < 0 {
			m.now = target
			m.compact()
			m.mu.Unlock()
			return n
		}
		t := m.timers[idx]
		m.timers = append(m.timers[:idx], m.timers[idx+1:]...)
		m.now = t.due
		m.mu.Unlock()

		t.fn()
		n++
		n += m.Drain()
	}
}

// compact drops cancelled timers. Callers hold m.mu.
func (m *Manual) compact() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	m.timers = live
}

// Pending returns the number of queued turns and live timers.
func (m *Manual) Pending() (turns, timers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		if !t.cancelled {
			timers++
		}
	}
	return len(m.queue), timers
}

var _ Scheduler = (*Manual)(nil)
