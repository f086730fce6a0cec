// Package schema describes capability parameter and response shapes and
// validates dynamic values against them.
package schema

import (
	"slices"

	"github.com/reglet-dev/minihost/dynamic"
)

// Type is the semantic type tag of a field.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeBinary  Type = "binary"
	TypeEnum    Type = "enum"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	// TypeHandle is an opaque host handle such as a canvas id or a temp file path.
	TypeHandle Type = "handle"
	TypeAny    Type = "any"
	TypeUnion  Type = "union"
)

// Format is an additional string constraint.
type Format string

const (
	FormatNone Format = ""
	FormatURL  Format = "url"
	FormatPath Format = "path"
)

// Field is one node of a schema tree.
type Field struct {
	Default     *dynamic.Value
	Min         *float64
	Max         *float64
	MinLen      *int
	Items       *Field
	Name        string
	Type        Type
	Format      Format
	Description string
	Enum        []string
	Fields      []Field
	Union       []Type
	Required    bool
}

// Schema is the root of a parameter or response shape.
type Schema struct {
	Fields []Field
	Remap  []RemapRule
}

// Empty reports whether s declares no fields and no remap rules.
func (s Schema) Empty() bool {
	return len(s.Fields) == 0 && len(s.Remap) == 0
}

// Lookup returns the top-level field with the given name.
func (s Schema) Lookup(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Object builds a schema from its top-level fields.
func Object(fields ...Field) Schema {
	return Schema{Fields: fields}
}

// WithRemap returns a copy of s carrying extra remap rules.
func (s Schema) WithRemap(rules ...RemapRule) Schema {
	out := Schema{Fields: s.Fields}
	out.Remap = append(append([]RemapRule{}, s.Remap...), rules...)
	return out
}

// Clone returns a deep copy of s. Remap rule functions are shared.
func (s Schema) Clone() Schema {
	out := Schema{Remap: slices.Clone(s.Remap)}
	if s.Fields != nil {
		out.Fields = make([]Field, len(s.Fields))
		for i, f := range s.Fields {
			out.Fields[i] = f.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of f.
func (f Field) Clone() Field {
	out := f
	if f.Default != nil {
		d := f.Default.Clone()
		out.Default = &d
	}
	if f.Min != nil {
		v := *f.Min
		out.Min = &v
	}
	if f.Max != nil {
		v := *f.Max
		out.Max = &v
	}
	if f.MinLen != nil {
		v := *f.MinLen
		out.MinLen = &v
	}
	if f.Items != nil {
		items := f.Items.Clone()
		out.Items = &items
	}
	out.Enum = slices.Clone(f.Enum)
	out.Union = slices.Clone(f.Union)
	if f.Fields != nil {
		out.Fields = make([]Field, len(f.Fields))
		for i, child := range f.Fields {
			out.Fields[i] = child.Clone()
		}
	}
	return out
}

func String(name string) Field  { return Field{Name: name, Type: TypeString} }
func Number(name string) Field  { return Field{Name: name, Type: TypeNumber} }
func Boolean(name string) Field { return Field{Name: name, Type: TypeBoolean} }
func Binary(name string) Field  { return Field{Name: name, Type: TypeBinary} }
func Handle(name string) Field  { return Field{Name: name, Type: TypeHandle} }
func Any(name string) Field     { return Field{Name: name, Type: TypeAny} }

// Enum declares a string field restricted to a literal set.
func Enum(name string, values ...string) Field {
	return Field{Name: name, Type: TypeEnum, Enum: values}
}

// Nested declares an object field with child fields.
func Nested(name string, fields ...Field) Field {
	return Field{Name: name, Type: TypeObject, Fields: fields}
}

// Map declares an object field with no declared children, such as a header map.
func Map(name string) Field {
	return Field{Name: name, Type: TypeObject}
}

// Array declares a list field whose elements match items.
func Array(name string, items Field) Field {
	return Field{Name: name, Type: TypeArray, Items: &items}
}

// OneOf declares a field accepting any of the given types.
func OneOf(name string, types ...Type) Field {
	return Field{Name: name, Type: TypeUnion, Union: types}
}

// Req marks the field as required.
func (f Field) Req() Field {
	f.Required = true
	return f
}

// WithDefault sets the value substituted when the field is absent.
// It panics when v cannot be converted, which only happens for static catalogs.
func (f Field) WithDefault(v any) Field {
	dv := dynamic.MustFromGo(v)
	f.Default = &dv
	return f
}

// Range sets inclusive numeric bounds.
func (f Field) Range(lo, hi float64) Field {
	f.Min, f.Max = &lo, &hi
	return f
}

// AtLeast sets an inclusive lower bound.
func (f Field) AtLeast(lo float64) Field {
	f.Min = &lo
	return f
}

// AtMost sets an inclusive upper bound.
func (f Field) AtMost(hi float64) Field {
	f.Max = &hi
	return f
}

// NonEmpty rejects the empty string.
func (f Field) NonEmpty() Field {
	n := 1
	f.MinLen = &n
	return f
}

// As sets the string format.
func (f Field) As(format Format) Field {
	f.Format = format
	return f
}

// Doc sets the description exported to JSON Schema.
func (f Field) Doc(desc string) Field {
	f.Description = desc
	return f
}
