package task

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
)

// Method is a control operation exposed on an Object.
type Method func(args dynamic.Value) (dynamic.Value, error)

// Object is the guest-facing view of a handle: its named control methods
// and the handle events guests may subscribe to with on<Event>/off<Event>.
// Every Object has an abort method that is a no-op once the handle settled.
type Object struct {
	*Handle
	methods map[string]Method
	args    map[string][]string
	events  []string
	mu      sync.RWMutex
}

// NewObject exposes h with the given subscribable events.
func NewObject(h *Handle, events ...string) *Object {
	o := &Object{
		Handle:  h,
		methods: make(map[string]Method),
		args:    make(map[string][]string),
		events:  slices.Clone(events),
	}
	o.methods["abort"] = func(dynamic.Value) (dynamic.Value, error) {
		if err := h.Abort(); err != nil && !errors.Is(err, hosterr.ErrAlreadyTerminal) {
			return dynamic.Null(), err
		}
		return dynamic.Null(), nil
	}
	return o
}

// Method adds or replaces a control method and returns o.
func (o *Object) Method(name string, fn Method) *Object {
	o.mu.Lock()
	o.methods[name] = fn
	o.mu.Unlock()
	return o
}

// Without removes a method, including the built-in abort of objects whose
// handle lives as long as the host.
func (o *Object) Without(name string) *Object {
	o.mu.Lock()
	delete(o.methods, name)
	delete(o.args, name)
	o.mu.Unlock()
	return o
}

// Positional names the parameters of a method that guests may pass as
// positional arguments, as in readFileSync(filePath, encoding).
func (o *Object) Positional(name string, params ...string) *Object {
	o.mu.Lock()
	o.args[name] = params
	o.mu.Unlock()
	return o
}

// ArgNames returns the positional parameter names of a method.
func (o *Object) ArgNames(name string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.args[name]
}

// Methods returns the method names, sorted.
func (o *Object) Methods() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := lo.Keys(o.methods)
	slices.Sort(names)
	return names
}

// Events returns the subscribable events.
func (o *Object) Events() []string {
	return slices.Clone(o.events)
}

// Invoke calls the method called name.
func (o *Object) Invoke(name string, args dynamic.Value) (dynamic.Value, error) {
	o.mu.RLock()
	fn, ok := o.methods[name]
	o.mu.RUnlock()
	if !ok {
		return dynamic.Null(), hosterr.Contract("method", "%s has no method %q", o.Kind(), name)
	}
	return fn(args)
}

// ListenerMethods returns the subscribe and unsubscribe method names of
// event, for example onHeadersReceived and offHeadersReceived.
func ListenerMethods(event string) (on, off string) {
	if event == "" {
		return "on", "off"
	}
	suffix := strings.ToUpper(event[:1]) + event[1:]
	return "on" + suffix, "off" + suffix
}
