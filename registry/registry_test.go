package registry_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
)

func newRegistry(t *testing.T, opts ...registry.RegistryOption) *registry.Registry {
	t.Helper()
	r, err := registry.NewRegistry(opts...)
	require.NoError(t, err)
	return r
}

func TestRegister_Duplicate(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(registry.Capability{Name: "getStorage", Kind: registry.KindAsync}))

	err := r.Register(registry.Capability{Name: "getStorage", Kind: registry.KindSync})
	assert.ErrorIs(t, err, hosterr.ErrDuplicateCapability)

	c, err := r.Resolve("getStorage")
	require.NoError(t, err)
	assert.Equal(t, registry.KindAsync, c.Kind, "first registration must be kept")
}

func TestResolve_Unknown(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Resolve("openBluetoothAdapter")
	assert.ErrorIs(t, err, hosterr.ErrUnknownCapability)
	assert.False(t, r.IsSupported("openBluetoothAdapter"))
}

func TestResolve_VersionGating(t *testing.T) {
	tests := []struct {
		name        string
		hostVersion string
		minVersion  string
		supported   bool
	}{
		{name: "no minimum", hostVersion: "1.0.0", minVersion: "", supported: true},
		{name: "equal", hostVersion: "2.10.0", minVersion: "2.10.0", supported: true},
		{name: "newer host", hostVersion: "2.10.1", minVersion: "2.9.0", supported: true},
		{name: "semver not lexical", hostVersion: "2.10.0", minVersion: "2.9.0", supported: true},
		{name: "older host", hostVersion: "1.9.9", minVersion: "2.0.0", supported: false},
		{name: "short versions", hostVersion: "1.4", minVersion: "1.4.0", supported: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry(t, registry.WithHostVersion(tt.hostVersion))
			require.NoError(t, r.Register(registry.Capability{Name: "cap", MinVersion: tt.minVersion}))

			assert.Equal(t, tt.supported, r.IsSupported("cap"))
			_, err := r.Resolve("cap")
			if tt.supported {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, hosterr.ErrUnsupportedOnHostVersion)
			}
		})
	}
}

func TestNewRegistry_InvalidHostVersion(t *testing.T) {
	_, err := registry.NewRegistry(registry.WithHostVersion("not-a-version"))
	assert.Error(t, err)
}

func TestRegister_StrictMode(t *testing.T) {
	strict := newRegistry(t)
	err := strict.Register(registry.Capability{Name: "cap", MinVersion: "latest"})
	assert.ErrorIs(t, err, hosterr.ErrContract)

	lenient := newRegistry(t, registry.WithStrictMode(false), registry.WithHostVersion("1.0.0"))
	require.NoError(t, lenient.Register(registry.Capability{Name: "cap", MinVersion: "latest"}))
	assert.True(t, lenient.IsSupported("cap"))
}

func TestRegister_EventNeedsEventName(t *testing.T) {
	r := newRegistry(t)
	err := r.Register(registry.Capability{Name: "onAccelerometerChange", Kind: registry.KindEvent})
	assert.ErrorIs(t, err, hosterr.ErrContract)
}

func TestList_Sorted(t *testing.T) {
	r := newRegistry(t)
	r.MustRegister(
		registry.Capability{Name: "setStorage"},
		registry.Capability{Name: "getStorage"},
		registry.Capability{Name: "request"},
	)
	assert.Equal(t, []string{"getStorage", "request", "setStorage"}, r.List())

	caps := r.Capabilities()
	require.Len(t, caps, 3)
	assert.Equal(t, "getStorage", caps[0].Name)
}

func TestSchema(t *testing.T) {
	r := newRegistry(t)
	r.MustRegister(registry.Capability{
		Name:   "request",
		Params: schema.Object(schema.String("url").Req().As(schema.FormatURL)),
	})

	raw, ok := r.Schema("request")
	require.True(t, ok)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, []any{"url"}, doc["required"])

	_, ok = r.Schema("missing")
	assert.False(t, ok)
}

func TestResponseSchema_ReflectsModel(t *testing.T) {
	type batteryInfo struct {
		Level      float64 `json:"level"`
		IsCharging bool    `json:"isCharging"`
	}
	r := newRegistry(t)
	r.MustRegister(registry.Capability{Name: "getBatteryInfo", ResponseModel: batteryInfo{}})

	raw, ok := r.ResponseSchema("getBatteryInfo")
	require.True(t, ok)
	assert.Contains(t, raw, `"isCharging"`)
}

func TestEventCapabilities(t *testing.T) {
	r := newRegistry(t)
	r.MustRegister(
		registry.Capability{Name: "onShow", Kind: registry.KindEvent, Event: "show"},
		registry.Capability{Name: "offShow", Kind: registry.KindEvent, Event: "show"},
		registry.Capability{Name: "onHide", Kind: registry.KindEvent, Event: "hide"},
	)
	assert.Equal(t, []string{"offShow", "onShow"}, r.EventCapabilities("show"))
}

func TestRegister_CopiesSchemas(t *testing.T) {
	r := newRegistry(t)
	c := registry.Capability{
		Name: "request",
		Params: schema.Object(
			schema.Enum("method", "GET", "POST"),
			schema.Nested("header", schema.String("content-type")),
		),
	}
	require.NoError(t, r.Register(c))

	c.Params.Fields[0].Enum[0] = "DELETE"
	c.Params.Fields[1].Fields[0].Name = "accept"

	got, err := r.Resolve("request")
	require.NoError(t, err)
	assert.Equal(t, []string{"GET", "POST"}, got.Params.Fields[0].Enum)
	assert.Equal(t, "content-type", got.Params.Fields[1].Fields[0].Name)

	got.Params.Fields[0].Enum[1] = "PUT"
	again, err := r.Resolve("request")
	require.NoError(t, err)
	assert.Equal(t, []string{"GET", "POST"}, again.Params.Fields[0].Enum, "resolved copies must not alias the registry")
}
