package minihost_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost"
	"github.com/reglet-dev/minihost/callback"
	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/fsys"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/network"
	"github.com/reglet-dev/minihost/parser"
	"github.com/reglet-dev/minihost/registry"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newHost(t *testing.T, opts ...minihost.Option) (*minihost.Host, *loop.Manual) {
	t.Helper()
	sched := loop.NewManual()
	h, err := minihost.New(sched, append([]minihost.Option{minihost.WithLogger(quiet)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h, sched
}

// capture records what a capability delivered to its callbacks.
type capture struct {
	value    dynamic.Value
	err      *hosterr.Error
	complete int
}

func (c *capture) callbacks() callback.Callbacks {
	return callback.Callbacks{
		OnSuccess:  func(v dynamic.Value) { c.value = v },
		OnFailure:  func(e *hosterr.Error) { c.err = e },
		OnComplete: func(callback.Outcome) { c.complete++ },
	}
}

func invoke(t *testing.T, h *minihost.Host, sched *loop.Manual, name string, params dynamic.Value) *capture {
	t.Helper()
	c := &capture{}
	_, err := h.Invoke(context.Background(), name, params, c.callbacks())
	require.NoError(t, err)
	sched.Drain()
	require.Equal(t, 1, c.complete, "complete must run exactly once")
	return c
}

// invokeEventually is invoke for calls that settle off the loop, such as
// scoped calls waiting on an authorizer.
func invokeEventually(t *testing.T, h *minihost.Host, sched *loop.Manual, name string, params dynamic.Value) *capture {
	t.Helper()
	c := &capture{}
	_, err := h.Invoke(context.Background(), name, params, c.callbacks())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		sched.Drain()
		return c.complete > 0
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, c.complete, "complete must run exactly once")
	return c
}

type denyAll struct{ calls atomic.Int32 }

func (d *denyAll) Authorize(context.Context, capability.Scope) error {
	d.calls.Add(1)
	return hosterr.Host(hosterr.CodePermissionDenied, "user refused")
}

func (d *denyAll) Setting() *capability.GrantSet { return &capability.GrantSet{} }

func (d *denyAll) OpenSetting(context.Context) (*capability.GrantSet, error) {
	return &capability.GrantSet{}, nil
}

func TestStorage_RoundTrip(t *testing.T) {
	h, sched := newHost(t)

	set := invoke(t, h, sched, "setStorage", dynamic.Object("key", "score", "data", 100))
	require.Nil(t, set.err)

	got := invoke(t, h, sched, "getStorage", dynamic.Object("key", "score"))
	require.Nil(t, got.err)
	assert.True(t, dynamic.Object("data", 100).Equal(got.value))

	removed := invoke(t, h, sched, "removeStorage", dynamic.Object("key", "score"))
	require.Nil(t, removed.err)

	missing := invoke(t, h, sched, "getStorage", dynamic.Object("key", "score"))
	require.NotNil(t, missing.err)
	assert.ErrorIs(t, missing.err, hosterr.ErrNotFound)
}

func TestSyncVariants_MatchAsync(t *testing.T) {
	h, sched := newHost(t)
	ctx := context.Background()

	_, err := h.InvokeSync(ctx, "setStorageSync", dynamic.Object("key", "k", "data", dynamic.List(dynamic.Int(1), dynamic.String("two"))))
	require.NoError(t, err)

	for _, name := range []string{"getStorage", "getStorageInfo", "getSystemInfo", "getBatteryInfo"} {
		t.Run(name, func(t *testing.T) {
			params := dynamic.EmptyObject()
			if name == "getStorage" {
				params = dynamic.Object("key", "k")
			}
			async := invoke(t, h, sched, name, params)
			require.Nil(t, async.err)

			c, err := h.Registry().Resolve(name)
			require.NoError(t, err)
			require.Equal(t, name+"Sync", c.SyncVariant)

			sync, err := h.InvokeSync(ctx, c.SyncVariant, params)
			require.NoError(t, err)
			want := async.value
			if name == "getStorage" {
				want, _ = async.value.Get("data")
			}
			assert.True(t, want.Equal(sync), "%s: %s != %s", name, want, sync)
		})
	}
}

func TestSyncVariants_ReturnBareValues(t *testing.T) {
	h, _ := newHost(t)
	ctx := context.Background()

	v, err := h.InvokeSync(ctx, "setStorageSync", dynamic.Object("key", "theme", "data", "dark"))
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	v, err = h.InvokeSync(ctx, "getStorageSync", dynamic.Object("key", "theme"))
	require.NoError(t, err)
	theme, ok := v.AsString()
	require.True(t, ok)
	assert.Equal(t, "dark", theme)

	_, err = h.InvokeSync(ctx, "getStorageSync", dynamic.Object("key", "missing"))
	assert.ErrorIs(t, err, hosterr.ErrNotFound)

	v, err = h.InvokeSync(ctx, "removeStorageSync", dynamic.Object("key", "theme"))
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	info, err := h.InvokeSync(ctx, "getStorageInfoSync", dynamic.EmptyObject())
	require.NoError(t, err)
	_, ok = info.Get("limitSize")
	assert.True(t, ok)
}

func TestInvokeSync_RejectsAsync(t *testing.T) {
	h, _ := newHost(t)
	_, err := h.InvokeSync(context.Background(), "getStorage", dynamic.Object("key", "k"))
	require.ErrorIs(t, err, hosterr.ErrContract)
	assert.Contains(t, err.Error(), "getStorageSync")
}

func TestInvoke_UnknownCapability(t *testing.T) {
	h, _ := newHost(t)
	_, err := h.Invoke(context.Background(), "openBluetoothAdapter", dynamic.EmptyObject(), callback.Callbacks{})
	assert.ErrorIs(t, err, hosterr.ErrUnknownCapability)
}

func TestRequest_EmptyURL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	defer srv.Close()

	h, sched := newHost(t)
	c := &capture{}
	obj, err := h.Invoke(context.Background(), "request", dynamic.Object("url", ""), c.callbacks())
	require.Error(t, err)
	assert.Nil(t, obj)
	assert.ErrorIs(t, err, hosterr.ErrContract)
	assert.Equal(t, "url", hosterr.As(err).Field)

	sched.Drain()
	assert.Zero(t, c.complete, "contract errors never reach callbacks")
	assert.Zero(t, hits.Load())
}

func TestRequest_Completes(t *testing.T) {
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sched := loop.NewSerial()
	sched.Start()
	defer sched.Stop()
	client := network.New(sched, network.WithPrivateNetwork(true), network.WithLogger(quiet))
	h, err := minihost.New(sched,
		minihost.WithLogger(quiet),
		minihost.WithNetwork(client),
		minihost.WithUserAgent("minihost-test"),
	)
	require.NoError(t, err)
	defer h.Close()

	done := make(chan callback.Outcome, 1)
	obj, err := h.Invoke(context.Background(), "request", dynamic.Object("url", srv.URL), callback.Callbacks{
		OnComplete: func(o callback.Outcome) { done <- o },
	})
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Contains(t, obj.Methods(), "abort")

	select {
	case o := <-done:
		require.True(t, o.OK(), "request failed: %v", o.Err())
		status, _ := o.Value().GetNumber("statusCode")
		assert.Equal(t, float64(http.StatusOK), status)
		data, _ := o.Value().Get("data")
		ok, _ := data.GetBool("ok")
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete")
	}
	assert.Equal(t, "minihost-test", agent.Load())
}

func TestScopedCapability_DeniedThroughOnFailure(t *testing.T) {
	auth := &denyAll{}
	var denied []string
	h, sched := newHost(t,
		minihost.WithAuthorizer(auth),
		minihost.WithDenialHandler(func(_ context.Context, name string, _ capability.Scope, _ string) {
			denied = append(denied, name)
		}),
	)

	var ran bool
	require.NoError(t, h.Register(registry.Capability{
		Name:  "startRecord",
		Kind:  registry.KindAsync,
		Scope: string(capability.ScopeRecord),
	}, func(context.Context, *minihost.Call) (minihost.Result, error) {
		ran = true
		return minihost.Value(dynamic.EmptyObject()), nil
	}))

	c := invokeEventually(t, h, sched, "startRecord", dynamic.EmptyObject())
	require.NotNil(t, c.err)
	assert.ErrorIs(t, c.err, hosterr.ErrPermissionDenied)
	assert.False(t, ran)
	assert.Equal(t, []string{"startRecord"}, denied)
	assert.EqualValues(t, 1, auth.calls.Load())
}

// promptingAuthorizer blocks every undecided scope until release is closed.
type promptingAuthorizer struct {
	release chan struct{}
	grants  capability.GrantSet
	mu      sync.Mutex
}

func (p *promptingAuthorizer) Authorize(_ context.Context, s capability.Scope) error {
	p.mu.Lock()
	granted := p.grants.Granted(s)
	p.mu.Unlock()
	if !granted {
		<-p.release
	}
	p.mu.Lock()
	p.grants.Grant(s)
	p.mu.Unlock()
	return nil
}

func (p *promptingAuthorizer) Setting() *capability.GrantSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grants.Clone()
}

func (p *promptingAuthorizer) OpenSetting(context.Context) (*capability.GrantSet, error) {
	return p.Setting(), nil
}

func TestScopedCapability_PromptDoesNotBlockLoop(t *testing.T) {
	auth := &promptingAuthorizer{release: make(chan struct{})}
	h, sched := newHost(t, minihost.WithAuthorizer(auth))

	var ran atomic.Int32
	require.NoError(t, h.Register(registry.Capability{
		Name:  "startRecord",
		Kind:  registry.KindAsync,
		Scope: string(capability.ScopeRecord),
	}, func(context.Context, *minihost.Call) (minihost.Result, error) {
		ran.Add(1)
		return minihost.Value(dynamic.Object("recording", true)), nil
	}))

	c := &capture{}
	_, err := h.Invoke(context.Background(), "startRecord", dynamic.EmptyObject(), c.callbacks())
	require.NoError(t, err, "Invoke must return while the prompt is open")
	sched.Drain()
	assert.Zero(t, c.complete)
	assert.Zero(t, ran.Load())

	close(auth.release)
	require.Eventually(t, func() bool {
		sched.Drain()
		return c.complete > 0
	}, time.Second, time.Millisecond)
	assert.Nil(t, c.err)
	assert.EqualValues(t, 1, ran.Load())

	// Granted scopes are checked inline.
	again := invoke(t, h, sched, "startRecord", dynamic.EmptyObject())
	assert.Nil(t, again.err)
	assert.EqualValues(t, 2, ran.Load())
}

func TestAuthorize_UnknownScope(t *testing.T) {
	h, _ := newHost(t, minihost.WithAuthorizer(&denyAll{}))
	_, err := h.Invoke(context.Background(), "authorize", dynamic.Object("scope", "scope.camera"), callback.Callbacks{})
	require.ErrorIs(t, err, hosterr.ErrContract)
	assert.Equal(t, "scope", hosterr.As(err).Field)
}

func TestPanickingHandler_IsInternalError(t *testing.T) {
	h, sched := newHost(t)
	require.NoError(t, h.Register(registry.Capability{Name: "explode", Kind: registry.KindAsync},
		func(context.Context, *minihost.Call) (minihost.Result, error) {
			panic("boom")
		}))

	c := invoke(t, h, sched, "explode", dynamic.EmptyObject())
	require.NotNil(t, c.err)
	assert.Equal(t, hosterr.CodeInternal, c.err.Code)
	assert.Contains(t, c.err.Message, "boom")
}

func TestVersionGating(t *testing.T) {
	h, _ := newHost(t, minihost.WithHostVersion("2.0.0"))
	require.NoError(t, h.Register(registry.Capability{Name: "future", Kind: registry.KindAsync, MinVersion: "9.0.0"},
		func(context.Context, *minihost.Call) (minihost.Result, error) {
			return minihost.Value(dynamic.EmptyObject()), nil
		}))

	for _, c := range h.Capabilities() {
		assert.NotEqual(t, "future", c.Name)
	}
	_, err := h.Invoke(context.Background(), "future", dynamic.EmptyObject(), callback.Callbacks{})
	assert.ErrorIs(t, err, hosterr.ErrUnsupportedOnHostVersion)
}

func TestVersionGating_OldHost(t *testing.T) {
	fs, err := fsys.New(t.TempDir(), fsys.WithLogger(quiet))
	require.NoError(t, err)
	defer fs.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	client := network.New(loop.NewManual(), network.WithPrivateNetwork(true), network.WithLogger(quiet))
	h, sched := newHost(t,
		minihost.WithHostVersion("1.0.0"),
		minihost.WithFileSystem(fs),
		minihost.WithNetwork(client),
	)

	for _, name := range []string{
		"startGyroscope", "onGyroscopeChange", "authorize", "getSetting",
		"setKeepScreenOn", "vibrateShort", "loadSubpackage", "getUpdateManager",
		"createInnerAudioContext", "getRecorderManager", "onMemoryWarning",
	} {
		assert.False(t, h.Registry().IsSupported(name), name)
	}
	for _, name := range []string{"request", "getStorage", "getFileSystemManager", "onAccelerometerChange", "showToast"} {
		assert.True(t, h.Registry().IsSupported(name), name)
	}

	_, err = h.Invoke(context.Background(), "startGyroscope", dynamic.EmptyObject(), callback.Callbacks{})
	assert.ErrorIs(t, err, hosterr.ErrUnsupportedOnHostVersion)
	_, err = h.Invoke(context.Background(), "authorize", dynamic.Object("scope", "scope.record"), callback.Callbacks{})
	assert.ErrorIs(t, err, hosterr.ErrUnsupportedOnHostVersion)
	err = h.On("onGyroscopeChange", new(int), func(dynamic.Value) {})
	assert.ErrorIs(t, err, hosterr.ErrUnsupportedOnHostVersion)

	obj, err := h.Invoke(context.Background(), "request", dynamic.Object("url", srv.URL), callback.Callbacks{})
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.NotContains(t, obj.Events(), network.EventHeadersReceived)
	require.NoError(t, obj.Abort())

	fsm, err := h.Invoke(context.Background(), "getFileSystemManager", dynamic.Null(), callback.Callbacks{})
	require.NoError(t, err)
	sched.Drain()
	_, err = fsm.Invoke("mkdirSync", dynamic.Object("dirPath", fsys.UserDataPath+"/a/b", "recursive", true))
	assert.ErrorIs(t, err, hosterr.ErrUnsupportedOnHostVersion)
	_, err = fsm.Invoke("mkdirSync", dynamic.Object("dirPath", fsys.UserDataPath+"/a"))
	assert.NoError(t, err)

	names := make([]string, 0)
	for _, c := range h.Capabilities() {
		names = append(names, c.Name)
	}
	assert.NotContains(t, names, "startGyroscope")
	assert.Contains(t, names, "request")
}

func TestOnOff_Idempotent(t *testing.T) {
	h, sched := newHost(t)
	id := new(int)
	var shows int
	listener := func(dynamic.Value) { shows++ }

	require.NoError(t, h.On("onShow", id, listener))
	require.NoError(t, h.On("onShow", id, listener))
	h.Show()
	sched.Drain()
	assert.Equal(t, 1, shows)

	require.NoError(t, h.Off("offShow", id))
	require.NoError(t, h.Off("offShow", id))
	h.Show()
	sched.Drain()
	assert.Equal(t, 1, shows)
}

func TestOn_RejectsNonEvent(t *testing.T) {
	h, _ := newHost(t)
	err := h.On("getStorage", new(int), func(dynamic.Value) {})
	assert.ErrorIs(t, err, hosterr.ErrContract)
}

func TestOn_FuncListenerIDs(t *testing.T) {
	h, sched := newHost(t)
	var shows int
	fn := func(dynamic.Value) { shows++ }

	require.NotPanics(t, func() {
		require.NoError(t, h.On("onShow", fn, fn))
		require.NoError(t, h.On("onShow", fn, fn))
	})
	h.Show()
	sched.Drain()
	assert.Equal(t, 1, shows)

	require.NoError(t, h.Off("offShow", fn))
	h.Show()
	sched.Drain()
	assert.Equal(t, 1, shows)

	err := h.On("onShow", map[string]int{}, fn)
	require.ErrorIs(t, err, hosterr.ErrContract)
	assert.Equal(t, "listener", hosterr.As(err).Field)
}

func TestReportError_ReachesOnError(t *testing.T) {
	h, sched := newHost(t)
	var got dynamic.Value
	require.NoError(t, h.On("onError", new(int), func(v dynamic.Value) { got = v }))

	h.ReportError(errors.New("ReferenceError: x is not defined"))
	sched.Drain()
	msg, _ := got.GetString("message")
	assert.Contains(t, msg, "ReferenceError")
}

func TestSensorEvents(t *testing.T) {
	h, sched := newHost(t)
	var readings int
	require.NoError(t, h.On("onAccelerometerChange", new(int), func(dynamic.Value) { readings++ }))

	start := invoke(t, h, sched, "startAccelerometer", dynamic.Object("interval", "game"))
	require.Nil(t, start.err)
	sched.Advance(100 * time.Millisecond)
	assert.Positive(t, readings)

	stop := invoke(t, h, sched, "stopAccelerometer", dynamic.EmptyObject())
	require.Nil(t, stop.err)
	before := readings
	sched.Advance(time.Second)
	assert.Equal(t, before, readings)

	_, err := h.Invoke(context.Background(), "startAccelerometer", dynamic.Object("interval", "fast"), callback.Callbacks{})
	assert.ErrorIs(t, err, hosterr.ErrContract)
}

func TestScreenBrightness_Range(t *testing.T) {
	h, sched := newHost(t)
	_, err := h.Invoke(context.Background(), "setScreenBrightness", dynamic.Object("value", 1.5), callback.Callbacks{})
	require.ErrorIs(t, err, hosterr.ErrContract)

	set := invoke(t, h, sched, "setScreenBrightness", dynamic.Object("value", 0.8))
	require.Nil(t, set.err)
	got := invoke(t, h, sched, "getScreenBrightness", dynamic.EmptyObject())
	v, _ := got.value.GetNumber("value")
	assert.InDelta(t, 0.8, v, 1e-9)
}

func TestFileSystemManager(t *testing.T) {
	fs, err := fsys.New(t.TempDir(), fsys.WithLogger(quiet))
	require.NoError(t, err)
	defer fs.Close()
	h, sched := newHost(t, minihost.WithFileSystem(fs))

	c := &capture{}
	obj, err := h.Invoke(context.Background(), "getFileSystemManager", dynamic.Null(), c.callbacks())
	require.NoError(t, err)
	require.NotNil(t, obj)
	sched.Drain()
	require.Nil(t, c.err)
	assert.True(t, obj.State().Terminal())

	file := fsys.UserDataPath + "/note.txt"
	_, err = obj.Invoke("writeFileSync", dynamic.Object("filePath", file, "data", "hello", "encoding", "utf8"))
	require.NoError(t, err)

	data, err := obj.Invoke("readFileSync", dynamic.Object("filePath", file, "encoding", "utf8"))
	require.NoError(t, err)
	s, _ := data.AsString()
	assert.Equal(t, "hello", s)

	wrapped, err := obj.Invoke("readFile", dynamic.Object("filePath", file, "encoding", "utf8"))
	require.NoError(t, err)
	assert.True(t, dynamic.Object("data", "hello").Equal(wrapped))

	_, err = obj.Invoke("readFileSync", dynamic.Object("filePath", fsys.UserDataPath+"/missing.txt"))
	assert.ErrorIs(t, err, hosterr.ErrNotFound)

	_, err = obj.Invoke("writeFileSync", dynamic.Object("filePath", file))
	assert.ErrorIs(t, err, hosterr.ErrContract)

	assert.Equal(t, []string{"filePath", "data", "encoding"}, obj.ArgNames("writeFileSync"))

	env, err := h.InvokeSync(context.Background(), "env", dynamic.Null())
	require.NoError(t, err)
	path, _ := env.GetString("USER_DATA_PATH")
	assert.Equal(t, fsys.UserDataPath, path)
}

func TestWorker_SecondCreateFails(t *testing.T) {
	h, sched := newHost(t)
	c := invoke(t, h, sched, "createWorker", dynamic.Object("scriptPath", "missing/worker.js"))
	require.NotNil(t, c.err)
	assert.ErrorIs(t, c.err, hosterr.ErrNotFound)
	assert.Nil(t, h.Workers().Active())
}

func TestRegisterManifest(t *testing.T) {
	h, sched := newHost(t)
	m, err := parser.NewJSONManifestParser().Parse([]byte(`{
		"name": "vendor",
		"version": "1.0.0",
		"capabilities": [
			{"name": "getVendorInfo", "kind": "async", "syncVariant": "getVendorInfoSync",
			 "result": {"vendor": "acme"}},
			{"name": "onVendorPing", "kind": "event"},
			{"name": "offVendorPing", "kind": "event"}
		]
	}`))
	require.NoError(t, err)
	require.NoError(t, h.RegisterManifest(m))

	async := invoke(t, h, sched, "getVendorInfo", dynamic.EmptyObject())
	require.Nil(t, async.err)
	sync, err := h.InvokeSync(context.Background(), "getVendorInfoSync", dynamic.EmptyObject())
	require.NoError(t, err)
	assert.True(t, async.value.Equal(sync))

	var pings int
	id := new(int)
	require.NoError(t, h.On("onVendorPing", id, func(dynamic.Value) { pings++ }))
	h.Emit("vendorPing", dynamic.EmptyObject())
	sched.Drain()
	assert.Equal(t, 1, pings)

	require.NoError(t, h.Off("offVendorPing", nil))
	h.Emit("vendorPing", dynamic.EmptyObject())
	sched.Drain()
	assert.Equal(t, 1, pings)
}

func TestCall_ValidatesPayload(t *testing.T) {
	sched := loop.NewSerial()
	sched.Start()
	defer sched.Stop()
	h, err := minihost.New(sched, minihost.WithLogger(quiet))
	require.NoError(t, err)
	defer h.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = h.Call(ctx, "setStorage", []byte(`{"data": 1}`))
	assert.ErrorIs(t, err, hosterr.ErrContract)

	_, err = h.Call(ctx, "setStorage", []byte(`{"key": "a", "data": 1}`))
	require.NoError(t, err)

	v, err := h.Call(ctx, "getStorageSync", []byte(`{"key": "a"}`))
	require.NoError(t, err)
	f, _ := v.AsNumber()
	assert.Equal(t, float64(1), f)
}

func TestClose_RejectsCalls(t *testing.T) {
	h, _ := newHost(t)
	require.NoError(t, h.Close())
	_, err := h.InvokeSync(context.Background(), "getSystemInfoSync", dynamic.Null())
	assert.ErrorIs(t, err, hosterr.ErrState)
}
