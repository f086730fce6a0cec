package minihost

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/reglet-dev/minihost/callback"
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
	"github.com/reglet-dev/minihost/task"
)

// Call is one capability invocation travelling through the middleware chain.
type Call struct {
	Capability registry.Capability
	Params     dynamic.Value
	// Sync is set for direct calls that must not return a future.
	Sync bool
}

// Result is what a handler produced: a value available now, or a future
// that settles later, optionally with the task object controlling it.
type Result struct {
	Value  dynamic.Value
	Object *task.Object
	Future *callback.Future
}

// Value wraps an immediate result.
func Value(v dynamic.Value) Result { return Result{Value: v} }

// Handler performs a capability.
type Handler func(ctx context.Context, call *Call) (Result, error)

// Middleware is a function that wraps a Handler to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
//
// Example usage:
//
//	timing := func(next Handler) Handler {
//	    return func(ctx context.Context, call *Call) (Result, error) {
//	        start := time.Now()
//	        defer func() { slog.Debug("took", "d", time.Since(start)) }()
//	        return next(ctx, call)
//	    }
//	}
type Middleware func(next Handler) Handler

// chain wraps h so that mws[0] is the outermost layer.
func chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// PanicRecoveryMiddleware converts handler panics into Host-class internal
// errors instead of crashing the host.
func PanicRecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (res Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "capability panicked",
						"capability", call.Capability.Name, "panic", r)
					res = Result{}
					err = hosterr.Host(hosterr.CodeInternal, "internal error: %v", r)
				}
			}()
			return next(ctx, call)
		}
	}
}

// LoggingMiddleware logs capability invocations and their failures.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (Result, error) {
			name := call.Capability.Name
			start := time.Now()
			logger.DebugContext(ctx, "invoking capability", "capability", name, "sync", call.Sync)
			res, err := next(ctx, call)
			if err != nil {
				he := hosterr.As(err)
				logger.DebugContext(ctx, "capability failed",
					"capability", name, "class", he.Class, "code", he.Code, "error", he.Error())
				return res, err
			}
			logger.DebugContext(ctx, "capability completed", "capability", name, "duration", time.Since(start))
			return res, nil
		}
	}
}

// ValidationMiddleware validates params against the capability schema,
// filling defaults and applying remap rules. Violations are contract
// errors and stop the call before any host work.
func ValidationMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (Result, error) {
			params, err := schema.Validate(call.Capability.Params, call.Params)
			if err != nil {
				return Result{}, err
			}
			call.Params = params
			return next(ctx, call)
		}
	}
}

// userAgentCapabilities carry a header map.
var userAgentCapabilities = map[string]bool{
	"request":       true,
	"downloadFile":  true,
	"uploadFile":    true,
	"connectSocket": true,
}

// UserAgentMiddleware adds a User-Agent header to network calls that do
// not set one.
func UserAgentMiddleware(userAgent string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (Result, error) {
			if !userAgentCapabilities[call.Capability.Name] {
				return next(ctx, call)
			}
			header, ok := call.Params.Get("header")
			if !ok || header.IsNull() {
				header = dynamic.EmptyObject()
			}
			for _, k := range header.Keys() {
				if strings.EqualFold(k, "User-Agent") {
					return next(ctx, call)
				}
			}
			call.Params = call.Params.With("header", header.With("User-Agent", dynamic.String(userAgent)))
			return next(ctx, call)
		}
	}
}
