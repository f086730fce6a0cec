package schema

import (
	"strings"

	"github.com/reglet-dev/minihost/dynamic"
)

// RemapRule rewrites one field after validation succeeded. Rules belong to
// an individual capability and are never inferred from constraints.
type RemapRule struct {
	// Apply returns the replacement and true, or false to leave the value.
	Apply func(dynamic.Value) (dynamic.Value, bool)
	// Field is a dotted path into the parameter object.
	Field       string
	Description string
}

// ReplaceNumber replaces a numeric field with `with` whenever outside
// reports true for its current value. Absent fields are left alone.
func ReplaceNumber(field, desc string, outside func(float64) bool, with float64) RemapRule {
	return RemapRule{
		Field:       field,
		Description: desc,
		Apply: func(v dynamic.Value) (dynamic.Value, bool) {
			n, ok := v.AsNumber()
			if !ok || !outside(n) {
				return v, false
			}
			return dynamic.Number(with), true
		},
	}
}

// ReplaceString replaces a string field holding from with to.
func ReplaceString(field, desc, from, to string) RemapRule {
	return RemapRule{
		Field:       field,
		Description: desc,
		Apply: func(v dynamic.Value) (dynamic.Value, bool) {
			if s, ok := v.AsString(); ok && s == from {
				return dynamic.String(to), true
			}
			return v, false
		},
	}
}

func (r RemapRule) apply(v dynamic.Value) dynamic.Value {
	if r.Apply == nil || r.Field == "" {
		return v
	}
	return remapAt(v, strings.Split(r.Field, "."), r.Apply)
}

func remapAt(v dynamic.Value, parts []string, fn func(dynamic.Value) (dynamic.Value, bool)) dynamic.Value {
	child, ok := v.Get(parts[0])
	if !ok {
		return v
	}
	if len(parts) == 1 {
		replaced, changed := fn(child)
		if !changed {
			return v
		}
		return v.With(parts[0], replaced)
	}
	return v.With(parts[0], remapAt(child, parts[1:], fn))
}
