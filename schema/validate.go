package schema

import (
	"fmt"
	"math"
	"net/url"
	"slices"
	"strings"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
)

var urlSchemes = []string{"http", "https", "ws", "wss"}

// Validate walks s depth-first against v and returns the validated value with
// defaults substituted and remap rules applied. Fields not declared by s are
// passed through unchanged. A null v is treated as an empty parameter object.
//
// The first violation found is returned as a *hosterr.Error of class
// Contract whose Field is the dotted path of the offending field.
func Validate(s Schema, v dynamic.Value) (dynamic.Value, error) {
	if v.IsNull() {
		v = dynamic.EmptyObject()
	}
	if v.Kind() != dynamic.KindMap {
		return dynamic.Value{}, hosterr.Contract("", "parameters must be an object, got %s", v.Kind())
	}

	out, err := validateFields(s.Fields, v, "")
	if err != nil {
		return dynamic.Value{}, err
	}
	for _, rule := range s.Remap {
		out = rule.apply(out)
	}
	return out, nil
}

func validateFields(fields []Field, obj dynamic.Value, prefix string) (dynamic.Value, error) {
	out := obj
	for _, f := range fields {
		path := joinPath(prefix, f.Name)
		val, present := obj.Get(f.Name)
		if !present || val.IsNull() {
			if f.Required {
				return dynamic.Value{}, hosterr.Contract(path, "required field is missing")
			}
			if f.Default != nil {
				out = out.With(f.Name, f.Default.Clone())
			}
			continue
		}

		checked, err := validateValue(f, val, path)
		if err != nil {
			return dynamic.Value{}, err
		}
		out = out.With(f.Name, checked)
	}
	return out, nil
}

func validateValue(f Field, v dynamic.Value, path string) (dynamic.Value, error) {
	switch f.Type {
	case TypeAny, "":
		return v, nil

	case TypeString:
		s, ok := v.AsString()
		if !ok {
			return dynamic.Value{}, typeMismatch(path, f.Type, v)
		}
		if f.MinLen != nil && len(s) < *f.MinLen {
			if s == "" {
				return dynamic.Value{}, hosterr.Contract(path, "must not be empty")
			}
			return dynamic.Value{}, hosterr.Contract(path, "must be at least %d bytes", *f.MinLen)
		}
		if err := checkFormat(f.Format, s, path); err != nil {
			return dynamic.Value{}, err
		}
		return v, nil

	case TypeNumber:
		n, ok := v.AsNumber()
		if !ok {
			return dynamic.Value{}, typeMismatch(path, f.Type, v)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return dynamic.Value{}, hosterr.Contract(path, "must be a finite number")
		}
		if f.Min != nil && n < *f.Min {
			return dynamic.Value{}, outOfRange(path, n, f)
		}
		if f.Max != nil && n > *f.Max {
			return dynamic.Value{}, outOfRange(path, n, f)
		}
		return v, nil

	case TypeBoolean:
		if _, ok := v.AsBool(); !ok {
			return dynamic.Value{}, typeMismatch(path, f.Type, v)
		}
		return v, nil

	case TypeBinary:
		if v.Kind() != dynamic.KindBinary {
			return dynamic.Value{}, typeMismatch(path, f.Type, v)
		}
		return v, nil

	case TypeEnum:
		s, ok := v.AsString()
		if !ok {
			return dynamic.Value{}, typeMismatch(path, TypeString, v)
		}
		if !slices.Contains(f.Enum, s) {
			return dynamic.Value{}, hosterr.Contract(path, "%q is not one of [%s]", s, strings.Join(f.Enum, ", "))
		}
		return v, nil

	case TypeHandle:
		if v.Kind() != dynamic.KindString && v.Kind() != dynamic.KindNumber {
			return dynamic.Value{}, typeMismatch(path, f.Type, v)
		}
		return v, nil

	case TypeObject:
		if v.Kind() != dynamic.KindMap {
			return dynamic.Value{}, typeMismatch(path, f.Type, v)
		}
		if len(f.Fields) == 0 {
			return v, nil
		}
		return validateFields(f.Fields, v, path)

	case TypeArray:
		items, ok := v.Items()
		if !ok {
			return dynamic.Value{}, typeMismatch(path, f.Type, v)
		}
		if f.Items == nil {
			return v, nil
		}
		for i, item := range items {
			checked, err := validateValue(*f.Items, item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return dynamic.Value{}, err
			}
			items[i] = checked
		}
		return dynamic.List(items...), nil

	case TypeUnion:
		for _, t := range f.Union {
			if checked, err := validateValue(Field{Type: t, Format: f.Format}, v, path); err == nil {
				return checked, nil
			}
		}
		names := make([]string, len(f.Union))
		for i, t := range f.Union {
			names[i] = string(t)
		}
		return dynamic.Value{}, hosterr.Contract(path, "expected one of [%s], got %s", strings.Join(names, ", "), v.Kind())
	}

	return dynamic.Value{}, hosterr.Contract(path, "unsupported schema type %q", f.Type)
}

func checkFormat(format Format, s, path string) error {
	switch format {
	case FormatURL:
		if s == "" {
			return hosterr.Contract(path, "must not be empty")
		}
		u, err := url.Parse(s)
		if err != nil {
			return hosterr.Contract(path, "malformed url: %v", err)
		}
		if !slices.Contains(urlSchemes, strings.ToLower(u.Scheme)) || u.Host == "" {
			return hosterr.Contract(path, "must be an absolute http(s) or ws(s) url")
		}
	case FormatPath:
		if s == "" {
			return hosterr.Contract(path, "must not be empty")
		}
		if strings.ContainsRune(s, 0) {
			return hosterr.Contract(path, "must not contain NUL bytes")
		}
	}
	return nil
}

func typeMismatch(path string, want Type, got dynamic.Value) error {
	return hosterr.Contract(path, "expected %s, got %s", want, got.Kind())
}

func outOfRange(path string, n float64, f Field) error {
	lo, hi := "-inf", "+inf"
	if f.Min != nil {
		lo = fmt.Sprint(*f.Min)
	}
	if f.Max != nil {
		hi = fmt.Sprint(*f.Max)
	}
	return hosterr.Contract(path, "%v is outside [%s, %s]", n, lo, hi)
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
