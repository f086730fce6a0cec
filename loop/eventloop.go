package loop

import (
	"log/slog"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

// EventLoop adapts a goja_nodejs event loop to Scheduler, so host
// deliveries run as turns on the guest's JS thread.
type EventLoop struct {
	loop     *eventloop.EventLoop
	registry *require.Registry
	logger   *slog.Logger
}

// EventLoopOption configures an EventLoop.
type EventLoopOption func(*eventLoopConfig)

type eventLoopConfig struct {
	registry *require.Registry
	logger   *slog.Logger
}

// WithRequireRegistry sets the module registry used by require().
func WithRequireRegistry(reg *require.Registry) EventLoopOption {
	return func(c *eventLoopConfig) {
		c.registry = reg
	}
}

// WithEventLoopLogger sets the logger.
func WithEventLoopLogger(logger *slog.Logger) EventLoopOption {
	return func(c *eventLoopConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewEventLoop creates a stopped event loop with its own goja runtime.
// The built-in console is disabled; callers route console output themselves.
func NewEventLoop(opts ...EventLoopOption) *EventLoop {
	cfg := eventLoopConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.registry == nil {
		cfg.registry = new(require.Registry)
	}

	return &EventLoop{
		loop: eventloop.NewEventLoop(
			eventloop.EnableConsole(false),
			eventloop.WithRegistry(cfg.registry),
		),
		registry: cfg.registry,
		logger:   cfg.logger,
	}
}

// Registry returns the require() module registry.
func (l *EventLoop) Registry() *require.Registry {
	return l.registry
}

// Start runs the loop in a background goroutine.
func (l *EventLoop) Start() {
	l.loop.Start()
}

// Stop halts the loop and waits for the current job to finish.
func (l *EventLoop) Stop() {
	l.loop.Stop()
}

// Terminate stops the loop and discards pending jobs and timers.
func (l *EventLoop) Terminate() {
	l.loop.Terminate()
}

// Run executes fn on the loop, then runs until no jobs or timers remain.
// It must not be called while the loop is started.
func (l *EventLoop) Run(fn func(*goja.Runtime)) {
	l.loop.Run(fn)
}

// Do queues fn with access to the runtime.
func (l *EventLoop) Do(fn func(*goja.Runtime)) {
	l.loop.RunOnLoop(fn)
}

// Post implements Scheduler.
func (l *EventLoop) Post(fn func()) {
	l.loop.RunOnLoop(func(*goja.Runtime) { fn() })
}

// AfterFunc implements Scheduler.
func (l *EventLoop) AfterFunc(d time.Duration, fn func()) Cancel {
	t := l.loop.SetTimeout(func(*goja.Runtime) { fn() }, d)
	return once(func() { l.loop.ClearTimeout(t) })
}

// Now implements Scheduler.
func (l *EventLoop) Now() time.Time {
	return time.Now()
}

var _ Scheduler = (*EventLoop)(nil)
