package minihost

import "github.com/reglet-dev/minihost/dynamic"

// Accessors for validated params. Missing fields have already been
// rejected or defaulted, so the zero value is only seen for optional ones.

func str(p dynamic.Value, key string) string {
	s, _ := p.GetString(key)
	return s
}

func boolean(p dynamic.Value, key string) bool {
	b, _ := p.GetBool(key)
	return b
}

func number(p dynamic.Value, key string) float64 {
	n, _ := p.GetNumber(key)
	return n
}

func field(p dynamic.Value, key string) dynamic.Value {
	v, _ := p.Get(key)
	return v
}

// stringMap reads a map of strings, skipping entries of other types.
func stringMap(p dynamic.Value, key string) map[string]string {
	m := field(p, key)
	out := make(map[string]string, m.Len())
	for _, k := range m.Keys() {
		if s, ok := m.GetString(k); ok {
			out[k] = s
		} else if v, ok := m.Get(k); ok && !v.IsNull() {
			out[k] = v.String()
		}
	}
	return out
}
