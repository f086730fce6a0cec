// Package loop provides the cooperative single-threaded scheduling model the
// guest runs on. Every callback, event delivery and timer firing is a
// separate turn posted to a Scheduler.
package loop

import (
	"sync"
	"time"
)

// Cancel stops a pending timer. Calling it after the timer fired or after a
// previous cancel has no effect.
type Cancel func()

// Scheduler runs posted functions one at a time, in posting order.
type Scheduler interface {
	// Post queues fn as a future turn. It never runs fn inline.
	Post(fn func())
	// AfterFunc queues fn as a turn once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Cancel
	// Now is the scheduler's clock.
	Now() time.Time
}

func once(fn func()) Cancel {
	var o sync.Once
	return func() { o.Do(fn) }
}
