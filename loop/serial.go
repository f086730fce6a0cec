package loop

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Serial is a real-time Scheduler backed by a single goroutine. It is used
// when no guest JS runtime owns the loop, such as for Go embedders.
type Serial struct {
	logger  *slog.Logger
	onPanic func(any)
	jobs    chan func()
	quit    chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	started bool
	stopped bool
}

// SerialOption configures a Serial scheduler.
type SerialOption func(*Serial)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SerialOption {
	return func(s *Serial) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPanicHandler sets the function receiving panics raised by turns.
// Without it panics are logged and the loop keeps running.
func WithPanicHandler(fn func(any)) SerialOption {
	return func(s *Serial) {
		s.onPanic = fn
	}
}

// NewSerial creates a stopped serial scheduler.
func NewSerial(opts ...SerialOption) *Serial {
	s := &Serial{
		logger: slog.Default(),
		jobs:   make(chan func(), 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the loop goroutine. Calling Start twice is a no-op.
func (s *Serial) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

// Stop terminates the loop after the current turn and waits for it.
// Turns still queued are discarded.
func (s *Serial) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	close(s.quit)
	s.mu.Unlock()

	if started {
		<-s.done
	}
}

func (s *Serial) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case fn := <-s.jobs:
			s.runTurn(fn)
		}
	}
}

func (s *Serial) runTurn(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if s.onPanic != nil {
				s.onPanic(r)
				return
			}
			s.logger.Error("loop turn panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Post implements Scheduler. Posting to a stopped loop drops fn.
func (s *Serial) Post(fn func()) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	select {
	case s.jobs <- fn:
	case <-s.quit:
	}
}

// AfterFunc implements Scheduler.
func (s *Serial) AfterFunc(d time.Duration, fn func()) Cancel {
	var mu sync.Mutex
	cancelled := false
	t := time.AfterFunc(d, func() {
		s.Post(func() {
			mu.Lock()
			c := cancelled
			mu.Unlock()
			if !c {
				fn()
			}
		})
	})
	return once(func() {
		mu.Lock()
		cancelled = true
		mu.Unlock()
		t.Stop()
	})
}

// Now implements Scheduler.
func (s *Serial) Now() time.Time {
	return time.Now()
}

// Call runs fn on the loop and waits for it to return.
func (s *Serial) Call(fn func()) {
	done := make(chan struct{})
	s.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-s.quit:
	}
}

var _ Scheduler = (*Serial)(nil)
