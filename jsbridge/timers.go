package jsbridge

import (
	"time"

	"github.com/dop251/goja"

	"github.com/reglet-dev/minihost/loop"
)

// installTimers replaces the loop's timer globals with ones backed by t,
// so every timer has an integer id and cancellation is idempotent.
func (b *Bridge) installTimers(rt *goja.Runtime, t *loop.Timers) {
	schedule := func(set func(func(), time.Duration) int) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(rt.NewTypeError("callback must be a function"))
			}
			delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
			var extra []goja.Value
			if len(call.Arguments) > 2 {
				extra = append(extra, call.Arguments[2:]...)
			}
			id := set(func() { b.callGuest(fn, extra...) }, delay)
			return rt.ToValue(id)
		}
	}
	cancel := func(call goja.FunctionCall) goja.Value {
		if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			t.Clear(int(arg.ToInteger()))
		}
		return goja.Undefined()
	}

	_ = rt.Set("setTimeout", schedule(t.SetTimeout))
	_ = rt.Set("setInterval", schedule(t.SetInterval))
	_ = rt.Set("clearTimeout", cancel)
	_ = rt.Set("clearInterval", cancel)
	_ = rt.Set("cancelAnimationFrame", cancel)
	_ = rt.Set("requestAnimationFrame", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(rt.NewTypeError("callback must be a function"))
		}
		id := t.RequestAnimationFrame(func(ms float64) { b.callGuest(fn, rt.ToValue(ms)) })
		return rt.ToValue(id)
	})
}
