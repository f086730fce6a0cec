package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dop251/goja"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/jsbridge"
	"github.com/reglet-dev/minihost/loop"
)

// JSRunner runs a JavaScript or TypeScript worker on its own event loop.
// The script sees a worker global with postMessage and onMessage.
type JSRunner struct {
	logger    *slog.Logger
	loop      *loop.EventLoop
	sink      Sink
	onMessage goja.Callable
	mu        sync.Mutex
	closed    bool
}

// NewJSRunner creates a JS runner.
func NewJSRunner(opts Options) *JSRunner {
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JSRunner{logger: logger}
}

func (r *JSRunner) Start(ctx context.Context, name string, src []byte, sink Sink) error {
	code, err := jsbridge.Transpile(name, string(src))
	if err != nil {
		return err
	}
	r.sink = sink
	r.loop = loop.NewEventLoop(loop.WithEventLoopLogger(r.logger))
	r.loop.Start()

	done := make(chan error, 1)
	r.loop.Do(func(rt *goja.Runtime) {
		jsbridge.EnableConsole(rt, r.loop.Registry(), jsbridge.NewPrinter(r.logger, "worker"))
		w := rt.NewObject()
		_ = w.Set("postMessage", func(call goja.FunctionCall) goja.Value {
			v, err := jsbridge.FromJS(call.Argument(0))
			if err != nil {
				panic(rt.NewTypeError(err.Error()))
			}
			r.sink.Message(v)
			return goja.Undefined()
		})
		_ = w.Set("onMessage", func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(rt.NewTypeError("onMessage expects a function"))
			}
			r.onMessage = fn
			return goja.Undefined()
		})
		_ = rt.Set("worker", w)
		_, err := rt.RunScript(name, code)
		done <- err
	})

	select {
	case err := <-done:
		if err != nil {
			_ = r.Close(ctx)
			return hosterr.Wrap(hosterr.CodeInternal, err, "worker %s: %v", name, err)
		}
		return nil
	case <-ctx.Done():
		_ = r.Close(ctx)
		return ctx.Err()
	}
}

func (r *JSRunner) Deliver(msg dynamic.Value) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	r.loop.Do(func(rt *goja.Runtime) {
		if r.onMessage == nil {
			r.logger.Debug("worker has no onMessage handler, message dropped")
			return
		}
		if _, err := r.onMessage(goja.Undefined(), jsbridge.ToJS(rt, msg)); err != nil {
			r.fail(err)
		}
	})
}

func (r *JSRunner) fail(err error) {
	if r.sink.Error != nil {
		r.sink.Error(fmt.Errorf("worker: %w", err))
		return
	}
	r.logger.Error("worker: uncaught exception", "error", err)
}

func (r *JSRunner) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.loop == nil {
		return nil
	}
	r.closed = true
	r.loop.Terminate()
	return nil
}
