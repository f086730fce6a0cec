package schema

import (
	"encoding/json"
	"strconv"

	"github.com/invopop/jsonschema"
)

const draft = "https://json-schema.org/draft/2020-12/schema"

// ToJSONSchema exports s as a JSON Schema document. Unknown properties stay
// allowed, matching the validator's pass-through behaviour.
func ToJSONSchema(s Schema) *jsonschema.Schema {
	root := objectSchema(s.Fields)
	root.Version = draft
	return root
}

// MarshalJSONSchema renders s as an indented JSON Schema document.
func MarshalJSONSchema(s Schema) ([]byte, error) {
	return json.MarshalIndent(ToJSONSchema(s), "", "  ")
}

func objectSchema(fields []Field) *jsonschema.Schema {
	out := &jsonschema.Schema{
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}
	for _, f := range fields {
		out.Properties.Set(f.Name, fieldSchema(f))
		if f.Required {
			out.Required = append(out.Required, f.Name)
		}
	}
	return out
}

func fieldSchema(f Field) *jsonschema.Schema {
	var out *jsonschema.Schema
	switch f.Type {
	case TypeString:
		out = &jsonschema.Schema{Type: "string"}
		if f.MinLen != nil {
			n := uint64(*f.MinLen)
			out.MinLength = &n
		}
		switch f.Format {
		case FormatURL:
			out.Format = "uri"
		case FormatPath:
			out.Format = "path"
		}
	case TypeNumber:
		out = &jsonschema.Schema{Type: "number"}
		if f.Min != nil {
			out.Minimum = number(*f.Min)
		}
		if f.Max != nil {
			out.Maximum = number(*f.Max)
		}
	case TypeBoolean:
		out = &jsonschema.Schema{Type: "boolean"}
	case TypeBinary:
		out = binarySchema()
	case TypeEnum:
		out = &jsonschema.Schema{Type: "string"}
		for _, e := range f.Enum {
			out.Enum = append(out.Enum, e)
		}
	case TypeHandle:
		out = &jsonschema.Schema{AnyOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "number"},
		}}
	case TypeObject:
		if len(f.Fields) == 0 {
			out = &jsonschema.Schema{Type: "object"}
		} else {
			out = objectSchema(f.Fields)
		}
	case TypeArray:
		out = &jsonschema.Schema{Type: "array"}
		if f.Items != nil {
			out.Items = fieldSchema(*f.Items)
		}
	case TypeUnion:
		out = &jsonschema.Schema{}
		for _, t := range f.Union {
			out.AnyOf = append(out.AnyOf, fieldSchema(Field{Type: t}))
		}
	default:
		out = &jsonschema.Schema{}
	}

	out.Description = f.Description
	if f.Default != nil {
		out.Default = f.Default.Export()
	}
	return out
}

func binarySchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("$binary", &jsonschema.Schema{Type: "string", ContentEncoding: "base64"})
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   []string{"$binary"},
	}
}

func number(f float64) json.Number {
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
}
