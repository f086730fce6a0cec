package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/parser"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
)

const yamlManifest = `
name: extras
version: 1.0.0
capabilities:
  - name: getWeRunData
    kind: async
    minVersion: 2.1.0
    scope: scope.werun
    description: Step counts for the last 30 days.
    params:
      - name: days
        type: number
        min: 1
        max: 30
        default: 7
      - name: unit
        type: enum
        enum: [steps, km]
    response:
      - name: stepInfoList
        type: array
        items:
          type: object
          fields:
            - name: step
              type: number
    result:
      stepInfoList:
        - step: 1200
  - name: getHostTheme
    kind: sync
    result: dark
`

const jsonManifest = `{
  "name": "extras",
  "version": "1.0.0",
  "capabilities": [
    {"name": "ping", "params": [{"name": "host", "type": "string", "required": true, "minLength": 1}], "result": {"ok": true}}
  ]
}`

func TestYamlManifestParser(t *testing.T) {
	m, err := parser.NewYamlManifestParser().Parse([]byte(yamlManifest))
	require.NoError(t, err)
	assert.Equal(t, "extras", m.Name)

	decls, err := m.Resolve()
	require.NoError(t, err)
	require.Len(t, decls, 2)

	c := decls[0].Capability
	assert.Equal(t, "getWeRunData", c.Name)
	assert.Equal(t, registry.KindAsync, c.Kind)
	assert.Equal(t, "scope.werun", c.Scope)
	assert.Equal(t, "2.1.0", c.MinVersion)

	days, ok := c.Params.Lookup("days")
	require.True(t, ok)
	assert.Equal(t, schema.TypeNumber, days.Type)
	require.NotNil(t, days.Default)
	assert.True(t, dynamic.Int(7).Equal(*days.Default))

	list, ok := c.Response.Lookup("stepInfoList")
	require.True(t, ok)
	require.NotNil(t, list.Items)
	assert.Equal(t, schema.TypeObject, list.Items.Type)

	step, ok := decls[0].Result.Get("stepInfoList")
	require.True(t, ok)
	items, ok := step.Items()
	require.True(t, ok)
	assert.Len(t, items, 1)

	assert.Equal(t, registry.KindSync, decls[1].Capability.Kind)
	theme, ok := decls[1].Result.AsString()
	require.True(t, ok)
	assert.Equal(t, "dark", theme)
}

func TestJSONManifestParser(t *testing.T) {
	m, err := parser.NewJSONManifestParser().Parse([]byte(jsonManifest))
	require.NoError(t, err)
	decls, err := m.Resolve()
	require.NoError(t, err)
	require.Len(t, decls, 1)

	c := decls[0].Capability
	assert.Equal(t, registry.KindAsync, c.Kind, "kind defaults to async")

	_, err = schema.Validate(c.Params, dynamic.Object("host", ""))
	assert.ErrorIs(t, err, hosterr.ErrContract)
	_, err = schema.Validate(c.Params, dynamic.Object("host", "example.com"))
	assert.NoError(t, err)
}

func TestManifest_ResolveRejectsBadDeclarations(t *testing.T) {
	tests := []struct {
		name string
		decl parser.CapabilityDecl
	}{
		{"missing name", parser.CapabilityDecl{}},
		{"bad kind", parser.CapabilityDecl{Name: "x", Kind: "factory"}},
		{"bad type", parser.CapabilityDecl{Name: "x", Params: []parser.FieldDecl{{Name: "a", Type: "date"}}}},
		{"empty enum", parser.CapabilityDecl{Name: "x", Params: []parser.FieldDecl{{Name: "a", Type: "enum"}}}},
		{"bad union", parser.CapabilityDecl{Name: "x", Params: []parser.FieldDecl{{Name: "a", Type: "union", OneOf: []string{"string", "date"}}}}},
		{"unnamed field", parser.CapabilityDecl{Name: "x", Params: []parser.FieldDecl{{Type: "string"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &parser.Manifest{Capabilities: []parser.CapabilityDecl{tt.decl}}
			_, err := m.Resolve()
			assert.ErrorIs(t, err, hosterr.ErrContract)
		})
	}
}

func TestForFile(t *testing.T) {
	p, err := parser.ForFile("caps.YML")
	require.NoError(t, err)
	assert.IsType(t, &parser.YamlManifestParser{}, p)

	p, err = parser.ForFile("dir/caps.json")
	require.NoError(t, err)
	assert.IsType(t, &parser.JSONManifestParser{}, p)

	_, err = parser.ForFile("caps.toml")
	assert.ErrorIs(t, err, hosterr.ErrContract)
}
