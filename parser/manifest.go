package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
)

// Manifest declares a batch of capabilities.
type Manifest struct {
	Name         string           `json:"name" yaml:"name"`
	Version      string           `json:"version" yaml:"version"`
	Capabilities []CapabilityDecl `json:"capabilities" yaml:"capabilities"`
}

// CapabilityDecl is one declared capability. Result is returned to every
// successful call.
type CapabilityDecl struct {
	Result      any         `json:"result,omitempty" yaml:"result,omitempty"`
	Name        string      `json:"name" yaml:"name"`
	Kind        string      `json:"kind,omitempty" yaml:"kind,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	MinVersion  string      `json:"minVersion,omitempty" yaml:"minVersion,omitempty"`
	Scope       string      `json:"scope,omitempty" yaml:"scope,omitempty"`
	SyncVariant string      `json:"syncVariant,omitempty" yaml:"syncVariant,omitempty"`
	Event       string      `json:"event,omitempty" yaml:"event,omitempty"`
	Params      []FieldDecl `json:"params,omitempty" yaml:"params,omitempty"`
	Response    []FieldDecl `json:"response,omitempty" yaml:"response,omitempty"`
}

// FieldDecl mirrors schema.Field in a serializable form.
type FieldDecl struct {
	Default     any         `json:"default,omitempty" yaml:"default,omitempty"`
	Min         *float64    `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64    `json:"max,omitempty" yaml:"max,omitempty"`
	MinLength   *int        `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	Items       *FieldDecl  `json:"items,omitempty" yaml:"items,omitempty"`
	Name        string      `json:"name" yaml:"name"`
	Type        string      `json:"type" yaml:"type"`
	Format      string      `json:"format,omitempty" yaml:"format,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Enum        []string    `json:"enum,omitempty" yaml:"enum,omitempty"`
	Fields      []FieldDecl `json:"fields,omitempty" yaml:"fields,omitempty"`
	OneOf       []string    `json:"oneOf,omitempty" yaml:"oneOf,omitempty"`
	Required    bool        `json:"required,omitempty" yaml:"required,omitempty"`
}

var kinds = map[string]registry.Kind{
	"":         registry.KindAsync,
	"async":    registry.KindAsync,
	"sync":     registry.KindSync,
	"constant": registry.KindConstant,
	"event":    registry.KindEvent,
}

var types = map[string]schema.Type{
	"string":  schema.TypeString,
	"number":  schema.TypeNumber,
	"boolean": schema.TypeBoolean,
	"binary":  schema.TypeBinary,
	"enum":    schema.TypeEnum,
	"object":  schema.TypeObject,
	"array":   schema.TypeArray,
	"handle":  schema.TypeHandle,
	"any":     schema.TypeAny,
	"union":   schema.TypeUnion,
}

// Declared is a manifest capability ready for registration.
type Declared struct {
	Capability registry.Capability
	Result     dynamic.Value
}

// Resolve converts every declaration, failing on the first invalid one.
func (m *Manifest) Resolve() ([]Declared, error) {
	out := make([]Declared, 0, len(m.Capabilities))
	for i, d := range m.Capabilities {
		c, err := d.capability()
		if err != nil {
			return nil, fmt.Errorf("capabilities[%d]: %w", i, err)
		}
		result, err := dynamic.FromGo(d.Result)
		if err != nil {
			return nil, fmt.Errorf("capabilities[%d].result: %w", i, err)
		}
		out = append(out, Declared{Capability: c, Result: result})
	}
	return out, nil
}

func (d CapabilityDecl) capability() (registry.Capability, error) {
	if d.Name == "" {
		return registry.Capability{}, hosterr.Contract("name", "must not be empty")
	}
	kind, ok := kinds[d.Kind]
	if !ok {
		return registry.Capability{}, hosterr.Contract("kind", "unsupported kind %q", d.Kind)
	}
	params, err := fields(d.Params, "params")
	if err != nil {
		return registry.Capability{}, err
	}
	response, err := fields(d.Response, "response")
	if err != nil {
		return registry.Capability{}, err
	}
	return registry.Capability{
		Name:        d.Name,
		Kind:        kind,
		Description: d.Description,
		MinVersion:  d.MinVersion,
		Scope:       d.Scope,
		SyncVariant: d.SyncVariant,
		Event:       d.Event,
		Params:      schema.Object(params...),
		Response:    schema.Object(response...),
	}, nil
}

func fields(decls []FieldDecl, path string) ([]schema.Field, error) {
	out := make([]schema.Field, 0, len(decls))
	for _, fd := range decls {
		f, err := fd.field(path)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (fd FieldDecl) field(parent string) (schema.Field, error) {
	path := parent + "." + fd.Name
	if fd.Name == "" && !strings.HasSuffix(parent, "[]") {
		return schema.Field{}, hosterr.Contract(parent, "field name must not be empty")
	}
	t, ok := types[fd.Type]
	if !ok {
		return schema.Field{}, hosterr.Contract(path, "unsupported type %q", fd.Type)
	}

	f := schema.Field{
		Name:        fd.Name,
		Type:        t,
		Format:      schema.Format(fd.Format),
		Description: fd.Description,
		Enum:        fd.Enum,
		Min:         fd.Min,
		Max:         fd.Max,
		MinLen:      fd.MinLength,
		Required:    fd.Required,
	}
	if t == schema.TypeEnum && len(fd.Enum) == 0 {
		return schema.Field{}, hosterr.Contract(path, "enum needs at least one value")
	}
	for _, u := range fd.OneOf {
		ut, ok := types[u]
		if !ok {
			return schema.Field{}, hosterr.Contract(path, "unsupported union member %q", u)
		}
		f.Union = append(f.Union, ut)
	}
	if len(fd.Fields) > 0 {
		children, err := fields(fd.Fields, path)
		if err != nil {
			return schema.Field{}, err
		}
		f.Fields = children
	}
	if fd.Items != nil {
		item, err := fd.Items.field(path + "[]")
		if err != nil {
			return schema.Field{}, err
		}
		f.Items = &item
	}
	if fd.Default != nil {
		dv, err := dynamic.FromGo(fd.Default)
		if err != nil {
			return schema.Field{}, hosterr.Contract(path, "invalid default: %v", err)
		}
		f.Default = &dv
	}
	return f, nil
}

// ForFile picks the parser by file extension.
func ForFile(path string) (ManifestParser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return NewJSONManifestParser(), nil
	case ".yaml", ".yml":
		return NewYamlManifestParser(), nil
	default:
		return nil, hosterr.Contract("manifest", "unsupported manifest format %q", filepath.Ext(path))
	}
}
