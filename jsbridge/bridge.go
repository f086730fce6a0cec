// Package jsbridge binds the capability surface into a goja runtime as a
// global object, so guest scripts call capabilities the way mini-programs
// do: async calls take success/fail/complete in their params object, sync
// calls return or throw, and on/off calls manage ledger listeners.
package jsbridge

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/reglet-dev/minihost/callback"
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/events"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
	"github.com/reglet-dev/minihost/task"
)

// DefaultGlobal is the name of the global capability object.
const DefaultGlobal = "wx"

// keepaliveFor bounds how long pending host work holds Run open.
const keepaliveFor = 24 * time.Hour

// Surface is the capability surface a Bridge exposes.
type Surface interface {
	Capabilities() []registry.Capability
	Invoke(ctx context.Context, name string, params dynamic.Value, cb callback.Callbacks) (*task.Object, error)
	InvokeSync(ctx context.Context, name string, params dynamic.Value) (dynamic.Value, error)
	On(name string, id events.ListenerID, fn events.Listener) error
	Off(name string, id events.ListenerID) error
	ReportError(err error)
}

// Bridge installs a Surface into the runtime of an event loop.
type Bridge struct {
	ctx       context.Context
	loop      *loop.EventLoop
	surface   Surface
	logger    *slog.Logger
	printer   *Printer
	timers    *loop.Timers
	rt        *goja.Runtime
	keepalive loop.Cancel
	global    string
	pending   int
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. Guest console output goes to it as well.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithGlobal renames the global capability object.
func WithGlobal(name string) Option {
	return func(b *Bridge) {
		if name != "" {
			b.global = name
		}
	}
}

// WithContext sets the context passed to every capability call.
func WithContext(ctx context.Context) Option {
	return func(b *Bridge) {
		if ctx != nil {
			b.ctx = ctx
		}
	}
}

// New creates a bridge. Nothing is installed until the first Run or Eval.
func New(el *loop.EventLoop, s Surface, opts ...Option) *Bridge {
	b := &Bridge{
		ctx:     context.Background(),
		loop:    el,
		surface: s,
		logger:  slog.Default(),
		global:  DefaultGlobal,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.printer = NewPrinter(b.logger, "console")
	b.timers = loop.NewTimers(el)
	return b
}

// Timers returns the guest timer table.
func (b *Bridge) Timers() *loop.Timers { return b.timers }

// Run evaluates a guest script, transpiling TypeScript first, and keeps
// the loop running until no callbacks, timers or tasks remain. The loop
// must not be started. An uncaught exception is reported to the surface
// and returned.
func (b *Bridge) Run(name, src string) error {
	code, err := Transpile(name, src)
	if err != nil {
		return hosterr.Contract("script", "%v", err)
	}
	var runErr error
	b.loop.Run(func(rt *goja.Runtime) {
		b.install(rt)
		if _, err := rt.RunScript(name, code); err != nil {
			runErr = b.report(err)
		}
	})
	return runErr
}

// Eval evaluates src on a started loop and returns the result rendered
// for display.
func (b *Bridge) Eval(ctx context.Context, src string) (string, error) {
	type result struct {
		err error
		out string
	}
	ch := make(chan result, 1)
	b.loop.Do(func(rt *goja.Runtime) {
		b.install(rt)
		v, err := rt.RunString(src)
		if err != nil {
			ch <- result{err: guestError(err)}
			return
		}
		ch <- result{out: display(v)}
	})
	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *Bridge) install(rt *goja.Runtime) {
	if b.rt != nil {
		return
	}
	b.rt = rt
	EnableConsole(rt, b.loop.Registry(), b.printer)
	b.installTimers(rt, b.timers)

	g := rt.NewObject()
	supported := make(map[string]bool)
	for _, c := range b.surface.Capabilities() {
		supported[c.Name] = true
		switch c.Kind {
		case registry.KindAsync, registry.KindFactory:
			_ = g.Set(c.Name, b.asyncFunc(rt, c))
		case registry.KindSync:
			_ = g.Set(c.Name, b.syncFunc(rt, c))
		case registry.KindEvent:
			_ = g.Set(c.Name, b.eventFunc(rt, c))
		case registry.KindConstant:
			v, err := b.surface.InvokeSync(b.ctx, c.Name, dynamic.Null())
			if err != nil {
				b.logger.Warn("jsbridge: constant unavailable", "capability", c.Name, "error", err)
				continue
			}
			_ = g.Set(c.Name, ToJS(rt, v))
		}
	}
	_ = g.Set("canIUse", func(name string) bool {
		return supported[strings.SplitN(name, ".", 2)[0]]
	})
	_ = rt.Set(b.global, g)
}

func (b *Bridge) asyncFunc(rt *goja.Runtime, c registry.Capability) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		params, cb, err := b.splitParams(rt, c.Name, call.Argument(0))
		if err != nil {
			panic(b.throw(rt, c.Name, err))
		}
		b.hold()
		complete := cb.OnComplete
		cb.OnComplete = func(o callback.Outcome) {
			defer b.release()
			if complete != nil {
				complete(o)
			}
		}
		obj, err := b.surface.Invoke(b.ctx, c.Name, params, cb)
		if err != nil {
			b.release()
			panic(b.throw(rt, c.Name, err))
		}
		if obj == nil {
			return goja.Undefined()
		}
		return b.taskObject(rt, obj)
	}
}

func (b *Bridge) syncFunc(rt *goja.Runtime, c registry.Capability) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		params, err := positional(c, call.Arguments)
		if err != nil {
			panic(b.throw(rt, c.Name, err))
		}
		v, err := b.surface.InvokeSync(b.ctx, c.Name, params)
		if err != nil {
			panic(b.throw(rt, c.Name, err))
		}
		return ToJS(rt, v)
	}
}

func (b *Bridge) eventFunc(rt *goja.Runtime, c registry.Capability) func(goja.FunctionCall) goja.Value {
	off := strings.HasPrefix(c.Name, "off")
	return func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if off && (goja.IsUndefined(arg) || goja.IsNull(arg)) {
			if err := b.surface.Off(c.Name, nil); err != nil {
				panic(b.throw(rt, c.Name, err))
			}
			return goja.Undefined()
		}
		fn, ok := goja.AssertFunction(arg)
		if !ok {
			panic(b.throw(rt, c.Name, hosterr.Contract("callback", "must be a function")))
		}
		id := arg.ToObject(rt)
		var err error
		if off {
			err = b.surface.Off(c.Name, id)
		} else {
			err = b.surface.On(c.Name, id, func(v dynamic.Value) { b.callGuest(fn, ToJS(rt, v)) })
		}
		if err != nil {
			panic(b.throw(rt, c.Name, err))
		}
		return goja.Undefined()
	}
}

// positional maps sync call arguments onto the capability's parameter
// fields in declaration order, as in setStorageSync(key, data). A single
// plain object argument is the params object itself unless the first
// field is object-typed.
func positional(c registry.Capability, args []goja.Value) (dynamic.Value, error) {
	fields := c.Params.Fields
	if len(args) == 1 {
		if obj, ok := args[0].(*goja.Object); ok && obj.ClassName() == "Object" {
			if len(fields) == 0 || (fields[0].Type != schema.TypeObject && fields[0].Type != schema.TypeAny) {
				return FromJS(obj)
			}
		}
	}
	params := dynamic.EmptyObject()
	for i, arg := range args {
		if goja.IsUndefined(arg) {
			continue
		}
		name := "value"
		if i < len(fields) {
			name = fields[i].Name
		} else if i > 0 {
			name = "arg" + strconv.Itoa(i)
		}
		v, err := FromJS(arg)
		if err != nil {
			return dynamic.Null(), err
		}
		params = params.With(name, v)
	}
	return params, nil
}

func plainObject(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	return ok && obj.ClassName() == "Object"
}

func positionalArgs(names []string, args []goja.Value) (dynamic.Value, error) {
	params := dynamic.EmptyObject()
	for i, arg := range args {
		if i >= len(names) || goja.IsUndefined(arg) {
			continue
		}
		v, err := FromJS(arg)
		if err != nil {
			return dynamic.Null(), err
		}
		params = params.With(names[i], v)
	}
	return params, nil
}

// taskObject exposes a task object's methods and on/off listener pairs.
// A live task holds Run open until it settles.
func (b *Bridge) taskObject(rt *goja.Runtime, o *task.Object) goja.Value {
	obj := rt.NewObject()
	_ = obj.Set("id", o.ID())
	for _, name := range o.Methods() {
		method := o.Kind() + "." + name
		argNames := o.ArgNames(name)
		_ = obj.Set(name, func(call goja.FunctionCall) goja.Value {
			var (
				params dynamic.Value
				cb     callback.Callbacks
				err    error
			)
			if len(argNames) > 0 && !plainObject(call.Argument(0)) {
				params, err = positionalArgs(argNames, call.Arguments)
			} else {
				params, cb, err = b.splitParams(rt, method, call.Argument(0))
			}
			if err != nil {
				panic(b.throw(rt, method, err))
			}
			v, err := o.Invoke(name, params)
			if cb.Empty() {
				if err != nil {
					panic(b.throw(rt, method, err))
				}
				return ToJS(rt, v)
			}
			callback.Deliver(b.loop, cb, callback.From(v, err))
			return goja.Undefined()
		})
	}
	for _, event := range o.Events() {
		on, off := task.ListenerMethods(event)
		_ = obj.Set(on, func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(b.throw(rt, on, hosterr.Contract("callback", "must be a function")))
			}
			o.On(event, call.Argument(0).ToObject(rt), func(v dynamic.Value) { b.callGuest(fn, ToJS(rt, v)) })
			return goja.Undefined()
		})
		_ = obj.Set(off, func(call goja.FunctionCall) goja.Value {
			arg := call.Argument(0)
			if goja.IsUndefined(arg) || goja.IsNull(arg) {
				o.OffAll(event)
			} else {
				o.Off(event, arg.ToObject(rt))
			}
			return goja.Undefined()
		})
	}
	if !o.State().Terminal() {
		b.hold()
		o.OnSettle(func(task.State, error) { b.loop.Post(b.release) })
	}
	return obj
}

// splitParams separates the success, fail and complete functions from a
// params object and copies the rest.
func (b *Bridge) splitParams(rt *goja.Runtime, name string, arg goja.Value) (dynamic.Value, callback.Callbacks, error) {
	var cb callback.Callbacks
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return dynamic.EmptyObject(), cb, nil
	}
	obj, ok := arg.(*goja.Object)
	if !ok || obj.ClassName() != "Object" {
		v, err := FromJS(arg)
		if err != nil {
			return dynamic.Null(), cb, err
		}
		return dynamic.Object("value", v), cb, nil
	}

	slots := map[string]goja.Callable{}
	rest := rt.NewObject()
	for _, k := range obj.Keys() {
		v := obj.Get(k)
		if k == "success" || k == "fail" || k == "complete" {
			if fn, ok := goja.AssertFunction(v); ok {
				slots[k] = fn
				continue
			}
		}
		_ = rest.Set(k, v)
	}
	params, err := FromJS(rest)
	if err != nil {
		return dynamic.Null(), cb, err
	}

	if fn := slots["success"]; fn != nil {
		cb.OnSuccess = func(v dynamic.Value) {
			b.callGuest(fn, ToJS(rt, callback.Success(v).Response(name)))
		}
	}
	if fn := slots["fail"]; fn != nil {
		cb.OnFailure = func(e *hosterr.Error) {
			b.callGuest(fn, ToJS(rt, callback.Failure(e).Response(name)))
		}
	}
	if fn := slots["complete"]; fn != nil {
		cb.OnComplete = func(o callback.Outcome) {
			b.callGuest(fn, ToJS(rt, o.Response(name)))
		}
	}
	return params, cb, nil
}

// callGuest invokes a guest function. Exceptions it throws are fatal and
// go to the surface's error observers.
func (b *Bridge) callGuest(fn goja.Callable, args ...goja.Value) {
	if _, err := fn(goja.Undefined(), args...); err != nil {
		b.report(err)
	}
}

func (b *Bridge) report(err error) error {
	fatal := guestError(err)
	b.surface.ReportError(fatal)
	return fatal
}

func guestError(err error) error {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		e := hosterr.Fatal("%s", exc.Value().String())
		e.Cause = err
		return e
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		e := hosterr.Fatal("interrupted: %v", interrupted.Value())
		e.Cause = err
		return e
	}
	e := hosterr.Fatal("%v", err)
	e.Cause = err
	return e
}

// throw builds the guest exception for err. Contract errors become
// TypeErrors; every exception carries errMsg and errCode.
func (b *Bridge) throw(rt *goja.Runtime, name string, err error) goja.Value {
	he := hosterr.As(err)
	resp := hosterr.Fail(name, he)
	var obj *goja.Object
	if he.Class == hosterr.ClassContract {
		obj = rt.NewTypeError(resp.ErrMsg)
	} else if o, cerr := rt.New(rt.Get("Error"), rt.ToValue(resp.ErrMsg)); cerr == nil {
		obj = o
	} else {
		obj = rt.NewGoError(err)
	}
	_ = obj.Set("errMsg", resp.ErrMsg)
	_ = obj.Set("errCode", resp.ErrCode)
	if he.Field != "" {
		_ = obj.Set("field", he.Field)
	}
	return obj
}

func (b *Bridge) hold() {
	b.pending++
	if b.pending == 1 {
		b.keepalive = b.loop.AfterFunc(keepaliveFor, func() {})
	}
}

func (b *Bridge) release() {
	if b.pending == 0 {
		return
	}
	b.pending--
	if b.pending == 0 && b.keepalive != nil {
		b.keepalive()
		b.keepalive = nil
	}
}

func display(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn {
			if d, err := FromJS(obj); err == nil {
				return d.String()
			}
		}
	}
	return v.String()
}
