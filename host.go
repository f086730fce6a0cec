// Package minihost implements a mini-program host: a registry of guest
// capabilities, the middleware chain every call passes through and the
// built-in bindings for storage, files, network, sensors, device, lifecycle,
// workers, subpackages, permission scopes, media, dialogs and user data.
package minihost

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/reglet-dev/minihost/callback"
	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/capability/gatekeeper"
	"github.com/reglet-dev/minihost/capability/grantstore"
	"github.com/reglet-dev/minihost/config"
	"github.com/reglet-dev/minihost/device"
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/events"
	"github.com/reglet-dev/minihost/fsys"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/jsbridge"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/media"
	"github.com/reglet-dev/minihost/network"
	"github.com/reglet-dev/minihost/profile"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
	"github.com/reglet-dev/minihost/sensor"
	"github.com/reglet-dev/minihost/storage"
	"github.com/reglet-dev/minihost/subpackage"
	"github.com/reglet-dev/minihost/task"
	"github.com/reglet-dev/minihost/ui"
	"github.com/reglet-dev/minihost/validation"
	"github.com/reglet-dev/minihost/worker"
)

// DefaultHostVersion is the host version used when none is configured.
const DefaultHostVersion = config.DefaultHostVersion

var _ jsbridge.Surface = (*Host)(nil)

// Host is the capability surface a guest runs against.
type Host struct {
	registry    *registry.Registry
	sched       loop.Scheduler
	logger      *slog.Logger
	handlers    map[string]Handler
	sources     map[string]*events.Ledger
	lifecycle   *events.Ledger
	custom      *events.Ledger
	middleware  []Middleware
	validator   *validation.PayloadValidator
	checker     *CapabilityChecker
	auth        Authorizer
	store       *storage.Store
	fs          *fsys.Manager
	net         *network.Client
	sensors     *sensor.Manager
	device      *device.Device
	workers     *worker.Manager
	subpackages *subpackage.Manager
	media       *media.Manager
	album       media.Album
	ui          *ui.Controller
	profile     profile.Provider
	session     *profile.Session
	socket      *network.SocketTask
	sockEvents  *events.Ledger
	updates     *updater
	launch      dynamic.Value
	exit        func()
	restart     func()
	denial      DenialHandler
	userAgent   string
	hostVersion string
	appID       string
	openID      string
	mu          sync.RWMutex
	closed      bool
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHostVersion sets the version capabilities are gated against.
func WithHostVersion(version string) Option {
	return func(h *Host) { h.hostVersion = version }
}

// WithStorage sets the key/value store.
func WithStorage(s *storage.Store) Option {
	return func(h *Host) { h.store = s }
}

// WithFileSystem enables the file system capabilities.
func WithFileSystem(m *fsys.Manager) Option {
	return func(h *Host) { h.fs = m }
}

// WithNetwork sets the network client.
func WithNetwork(c *network.Client) Option {
	return func(h *Host) { h.net = c }
}

// WithSensors sets the sensor manager.
func WithSensors(m *sensor.Manager) Option {
	return func(h *Host) { h.sensors = m }
}

// WithDevice sets the device.
func WithDevice(d *device.Device) Option {
	return func(h *Host) { h.device = d }
}

// WithWorkers sets the worker manager.
func WithWorkers(m *worker.Manager) Option {
	return func(h *Host) { h.workers = m }
}

// WithSubpackages enables loadSubpackage.
func WithSubpackages(m *subpackage.Manager) Option {
	return func(h *Host) { h.subpackages = m }
}

// WithAuthorizer sets who decides permission scopes.
func WithAuthorizer(a Authorizer) Option {
	return func(h *Host) { h.auth = a }
}

// WithDenialHandler observes permission denials.
func WithDenialHandler(fn DenialHandler) Option {
	return func(h *Host) { h.denial = fn }
}

// WithMiddleware appends middleware inside the built-in chain.
func WithMiddleware(mws ...Middleware) Option {
	return func(h *Host) { h.middleware = append(h.middleware, mws...) }
}

// WithUserAgent sets the User-Agent added to network calls.
func WithUserAgent(ua string) Option {
	return func(h *Host) { h.userAgent = ua }
}

// WithLaunchOptions sets the value returned by getLaunchOptionsSync.
func WithLaunchOptions(v dynamic.Value) Option {
	return func(h *Host) { h.launch = v }
}

// WithExitHandler sets the function exitMiniProgram calls.
func WithExitHandler(fn func()) Option {
	return func(h *Host) { h.exit = fn }
}

// WithRestartHandler sets the function applyUpdate calls. Without it the
// exit handler is used.
func WithRestartHandler(fn func()) Option {
	return func(h *Host) { h.restart = fn }
}

// WithMedia sets the audio and album manager.
func WithMedia(m *media.Manager) Option {
	return func(h *Host) { h.media = m }
}

// WithAlbum sets the photo album of the default media manager.
func WithAlbum(a media.Album) Option {
	return func(h *Host) { h.album = a }
}

// WithUI sets the dialog and keyboard controller.
func WithUI(c *ui.Controller) Option {
	return func(h *Host) { h.ui = c }
}

// WithProfile sets where location, user info and step data come from.
func WithProfile(p profile.Provider) Option {
	return func(h *Host) { h.profile = p }
}

// WithAppID sets the app id sealed user data is watermarked with.
func WithAppID(id string) Option {
	return func(h *Host) { h.appID = id }
}

// New creates a host delivering every callback and event on sched.
func New(sched loop.Scheduler, opts ...Option) (*Host, error) {
	h := &Host{
		sched:       sched,
		logger:      slog.Default(),
		handlers:    make(map[string]Handler),
		sources:     make(map[string]*events.Ledger),
		hostVersion: DefaultHostVersion,
		userAgent:   "minihost/" + DefaultHostVersion,
		appID:       "minihost",
		launch:      dynamic.Object("path", "", "scene", 1001, "query", dynamic.EmptyObject()),
	}
	for _, opt := range opts {
		opt(h)
	}

	reg, err := registry.NewRegistry(
		registry.WithHostVersion(h.hostVersion),
		registry.WithLogger(h.logger),
	)
	if err != nil {
		return nil, err
	}
	h.registry = reg
	if h.validator, err = validation.NewPayloadValidator(reg, validation.WithLogger(h.logger)); err != nil {
		return nil, err
	}
	if err := h.defaults(); err != nil {
		return nil, err
	}

	checkerOpts := []CapabilityCheckerOption{}
	if h.denial != nil {
		checkerOpts = append(checkerOpts, WithCapabilityDenialHandler(h.denial))
	}
	h.checker = NewCapabilityChecker(h.auth, checkerOpts...)
	h.middleware = append([]Middleware{
		PanicRecoveryMiddleware(h.logger),
		LoggingMiddleware(h.logger),
		ValidationMiddleware(),
		CapabilityMiddleware(h.checker, h.sched),
		UserAgentMiddleware(h.userAgent),
	}, h.middleware...)

	h.lifecycle = events.NewLedger(sched, events.WithLogger(h.logger))
	h.custom = events.NewLedger(sched, events.WithLogger(h.logger))
	h.sockEvents = events.NewLedger(sched, events.WithLogger(h.logger))

	for _, bind := range []func() error{
		h.bindLifecycle,
		h.bindStorage,
		h.bindFileSystem,
		h.bindNetwork,
		h.bindSensors,
		h.bindDevice,
		h.bindWorker,
		h.bindSubpackage,
		h.bindAuth,
		h.bindUpdate,
		h.bindMedia,
		h.bindUI,
		h.bindProfile,
	} {
		if err := bind(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Host) defaults() error {
	if h.store == nil {
		s, err := storage.New(storage.NewMemoryBackend(), storage.WithLogger(h.logger))
		if err != nil {
			return err
		}
		h.store = s
	}
	if h.net == nil {
		opts := []network.Option{network.WithLogger(h.logger)}
		if h.fs != nil {
			opts = append(opts, network.WithFileSystem(h.fs))
		}
		h.net = network.New(h.sched, opts...)
	}
	if h.sensors == nil {
		h.sensors = sensor.New(h.sched, sensor.WithLogger(h.logger))
	}
	if h.device == nil {
		h.device = device.New(h.sched,
			device.WithSystemInfo(device.DefaultSystemInfo(h.hostVersion)),
			device.WithLogger(h.logger),
		)
	}
	if h.workers == nil {
		h.workers = worker.NewManager(h.sched, worker.WithLogger(h.logger))
	}
	if h.auth == nil {
		h.auth = gatekeeper.NewGatekeeper(
			gatekeeper.WithStore(grantstore.NewMemoryStore(nil)),
			gatekeeper.WithLogger(h.logger),
		)
	}
	if h.media == nil {
		h.media = media.NewManager(h.sched,
			media.WithSink(h.recordingSink),
			media.WithAlbum(h.album),
			media.WithLogger(h.logger),
		)
	}
	if h.ui == nil {
		h.ui = ui.New(h.sched, ui.WithLogger(h.logger))
	}
	if h.profile == nil {
		h.profile = profile.Default()
	}
	session, err := profile.NewSession(h.appID)
	if err != nil {
		return err
	}
	h.session = session
	h.openID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("minihost:"+h.appID)).String()
	return nil
}

// Registry returns the capability registry.
func (h *Host) Registry() *registry.Registry { return h.registry }

// Scheduler returns the scheduler deliveries run on.
func (h *Host) Scheduler() loop.Scheduler { return h.sched }

// Storage returns the key/value store.
func (h *Host) Storage() *storage.Store { return h.store }

// Device returns the device.
func (h *Host) Device() *device.Device { return h.device }

// Sensors returns the sensor manager.
func (h *Host) Sensors() *sensor.Manager { return h.sensors }

// Workers returns the worker manager.
func (h *Host) Workers() *worker.Manager { return h.workers }

// Media returns the audio and album manager.
func (h *Host) Media() *media.Manager { return h.media }

// UI returns the dialog and keyboard controller.
func (h *Host) UI() *ui.Controller { return h.ui }

// Register adds a capability served by handler.
func (h *Host) Register(c registry.Capability, handler Handler) error {
	c = gate(c)
	if err := h.registry.Register(c); err != nil {
		return err
	}
	h.mu.Lock()
	h.handlers[c.Name] = handler
	h.mu.Unlock()
	h.validator.Forget(c.Name)
	return nil
}

// pair registers c together with a synchronous twin sharing its handler.
// When project is set, the twin returns project(value) instead of the
// async success payload.
func (h *Host) pair(c registry.Capability, handler Handler, project func(dynamic.Value) dynamic.Value) error {
	syncName := c.Name + "Sync"
	c.SyncVariant = syncName
	if err := h.Register(c, handler); err != nil {
		return err
	}
	twin := c
	twin.Name = syncName
	twin.Kind = registry.KindSync
	twin.SyncVariant = ""
	if project == nil {
		return h.Register(twin, handler)
	}
	twin.Response = schema.Schema{}
	twin.ResponseModel = nil
	return h.Register(twin, func(ctx context.Context, call *Call) (Result, error) {
		res, err := handler(ctx, call)
		if err != nil {
			return res, err
		}
		res.Value = project(res.Value)
		return res, nil
	})
}

// syncMember makes a sync twin return one member of the async payload.
func syncMember(key string) func(dynamic.Value) dynamic.Value {
	return func(v dynamic.Value) dynamic.Value {
		m, ok := v.Get(key)
		if !ok {
			return dynamic.Null()
		}
		return m
	}
}

// syncVoid makes a sync twin return nothing.
func syncVoid(dynamic.Value) dynamic.Value { return dynamic.Null() }

// event registers the on/off pair of a ledger event.
func (h *Host) event(on, off, event string, ledger *events.Ledger, desc string) error {
	h.mu.Lock()
	h.sources[event] = ledger
	h.mu.Unlock()
	for _, name := range []string{on, off} {
		if err := h.registry.Register(gate(registry.Capability{
			Name:        name,
			Kind:        registry.KindEvent,
			Event:       event,
			Description: desc,
		})); err != nil {
			return err
		}
	}
	return nil
}

// Capabilities returns the capabilities supported on this host version.
func (h *Host) Capabilities() []registry.Capability {
	return lo.Filter(h.registry.Capabilities(), func(c registry.Capability, _ int) bool {
		return h.registry.IsSupported(c.Name)
	})
}

func (h *Host) dispatch(ctx context.Context, c registry.Capability, params dynamic.Value, sync bool) (Result, error) {
	h.mu.RLock()
	handler, ok := h.handlers[c.Name]
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return Result{}, hosterr.State("host is closed")
	}
	if !ok {
		return Result{}, hosterr.Host(hosterr.CodeInternal, "%s has no handler", c.Name)
	}
	return chain(handler, h.middleware...)(ctx, &Call{Capability: c, Params: params, Sync: sync})
}

// Invoke calls an asynchronous or factory capability. Contract and state
// errors are returned; every other outcome reaches cb in later loop turns.
// The returned object is non-nil for capabilities that create a task.
func (h *Host) Invoke(ctx context.Context, name string, params dynamic.Value, cb callback.Callbacks) (*task.Object, error) {
	c, err := h.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	if c.Kind == registry.KindEvent {
		return nil, hosterr.Contract("", "%s is an event registration, use On", name)
	}

	res, err := h.dispatch(ctx, c, params, false)
	if err != nil {
		he := hosterr.As(err)
		if he.Class == hosterr.ClassContract || he.Class == hosterr.ClassState {
			return nil, he
		}
		callback.Deliver(h.sched, cb, callback.Failure(he))
		return nil, nil
	}
	if res.Future != nil {
		res.Future.Attach(cb)
	} else {
		callback.Deliver(h.sched, cb, callback.Success(res.Value))
	}
	return res.Object, nil
}

// InvokeSync calls a synchronous capability or reads a constant.
func (h *Host) InvokeSync(ctx context.Context, name string, params dynamic.Value) (dynamic.Value, error) {
	c, err := h.registry.Resolve(name)
	if err != nil {
		return dynamic.Null(), err
	}
	if c.Kind != registry.KindSync && c.Kind != registry.KindConstant {
		if c.SyncVariant != "" {
			return dynamic.Null(), hosterr.Contract("", "%s is asynchronous, use %s", name, c.SyncVariant)
		}
		return dynamic.Null(), hosterr.Contract("", "%s cannot be called synchronously", name)
	}
	res, err := h.dispatch(ctx, c, params, true)
	if err != nil {
		return dynamic.Null(), err
	}
	if res.Future != nil {
		return dynamic.Null(), hosterr.Host(hosterr.CodeInternal, "%s returned a pending result", name)
	}
	return res.Value, nil
}

// Call validates a raw JSON payload against the capability's exported
// schema, then runs the capability and waits for its outcome. It serves
// callers outside the guest loop, such as the command line.
func (h *Host) Call(ctx context.Context, name string, payload []byte) (dynamic.Value, error) {
	result, err := h.validator.Validate(name, payload)
	if err != nil {
		return dynamic.Null(), err
	}
	if !result.Valid {
		first := result.Errors[0]
		return dynamic.Null(), hosterr.Contract(pointerField(first.Field), "%s", first.Message)
	}
	params := dynamic.EmptyObject()
	if len(strings.TrimSpace(string(payload))) > 0 {
		if params, err = dynamic.Parse(payload); err != nil {
			return dynamic.Null(), hosterr.Contract("payload", "invalid JSON: %v", err)
		}
	}

	c, err := h.registry.Resolve(name)
	if err != nil {
		return dynamic.Null(), err
	}
	if c.Kind == registry.KindSync || c.Kind == registry.KindConstant {
		return h.InvokeSync(ctx, name, params)
	}
	done := callback.NewFuture(h.sched)
	obj, err := h.Invoke(ctx, name, params, callback.Callbacks{
		OnComplete: func(o callback.Outcome) { done.Settle(o) },
	})
	if err != nil {
		return dynamic.Null(), err
	}
	o, err := done.Wait(ctx)
	if err != nil {
		if obj != nil {
			_ = obj.Abort()
		}
		return dynamic.Null(), hosterr.Wrap(hosterr.CodeAborted, err, "%s aborted", name)
	}
	return o.Result()
}

// pointerField turns a JSON pointer such as /header/0 into header.0.
func pointerField(ptr string) string {
	return strings.ReplaceAll(strings.TrimPrefix(ptr, "/"), "/", ".")
}

// On registers a listener through an on* event capability.
func (h *Host) On(name string, id events.ListenerID, fn events.Listener) error {
	c, ledger, err := h.eventSource(name)
	if err != nil {
		return err
	}
	if _, ok := events.NormalizeID(id); !ok {
		return hosterr.Contract("listener", "%s listener id of type %T is not comparable", name, id)
	}
	if c.Scope != "" {
		if err := h.checker.CheckScope(context.Background(), name, capability.Scope(c.Scope)); err != nil {
			return err
		}
	}
	ledger.On(c.Event, id, fn)
	return nil
}

// Off removes a listener. A nil id removes every listener of the event.
func (h *Host) Off(name string, id events.ListenerID) error {
	c, ledger, err := h.eventSource(name)
	if err != nil {
		return err
	}
	if id == nil {
		ledger.OffAll(c.Event)
		return nil
	}
	if _, ok := events.NormalizeID(id); !ok {
		return hosterr.Contract("listener", "%s listener id of type %T is not comparable", name, id)
	}
	ledger.Off(c.Event, id)
	return nil
}

func (h *Host) eventSource(name string) (registry.Capability, *events.Ledger, error) {
	c, err := h.registry.Resolve(name)
	if err != nil {
		return c, nil, err
	}
	if c.Kind != registry.KindEvent {
		return c, nil, hosterr.Contract("", "%s is not an event registration", name)
	}
	h.mu.RLock()
	ledger, ok := h.sources[c.Event]
	h.mu.RUnlock()
	if !ok {
		return c, nil, hosterr.Host(hosterr.CodeInternal, "no source for event %s", c.Event)
	}
	return c, ledger, nil
}

// Emit delivers payload to listeners of a manifest-declared event.
func (h *Host) Emit(event string, payload dynamic.Value) int {
	return h.custom.Emit(event, payload)
}

// ReportError dispatches a fatal error to the onError observers. Without
// observers it is logged.
func (h *Host) ReportError(err error) {
	if err == nil {
		return
	}
	he := hosterr.As(err)
	if h.lifecycle.Emit(EventError, dynamic.Object("message", he.Message, "errCode", int(he.Code))) == 0 {
		h.logger.Error("unhandled guest error", "error", err)
	}
}

// Close stops sensors, terminates the worker, releases audio, hides every
// dialog, clears every listener and rejects later calls.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	ledgers := lo.Uniq(lo.Values(h.sources))
	h.mu.Unlock()

	h.sensors.StopAll()
	h.workers.Close()
	h.net.Close()
	h.media.Close()
	h.ui.Close()
	for _, l := range ledgers {
		l.Clear()
	}
	h.lifecycle.Clear()
	h.custom.Clear()
	return nil
}

func (h *Host) String() string {
	return fmt.Sprintf("minihost(%s, %d capabilities)", h.hostVersion, len(h.registry.List()))
}
