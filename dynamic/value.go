// Package dynamic provides the tagged-union value carried by loosely typed
// request and response fields.
package dynamic

import (
	"bytes"
	"fmt"
	"math"
	"sort"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindBinary
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindList:
		return "array"
	case KindMap:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is an immutable dynamic value. The zero Value is Null.
type Value struct {
	data any
	kind Kind
}

// Map is an insertion-ordered string-keyed map of values.
type Map struct {
	values map[string]Value
	keys   []string
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, data: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, data: n} }

// Int wraps an integer as a number.
func Int(n int64) Value { return Number(float64(n)) }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, data: s} }

// Binary wraps a byte slice. The slice is copied.
func Binary(b []byte) Value {
	return Value{kind: KindBinary, data: bytes.Clone(b)}
}

// List wraps an ordered list. The slice is copied.
func List(items ...Value) Value {
	out := make([]Value, len(items))
	copy(out, items)
	return Value{kind: KindList, data: out}
}

// Object builds a map value from alternating key/value pairs, preserving order.
func Object(pairs ...any) Value {
	if len(pairs)%2 != 0 {
		panic("dynamic: Object expects key/value pairs")
	}
	m := newMap(len(pairs) / 2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("dynamic: Object key %v is not a string", pairs[i]))
		}
		v, ok := pairs[i+1].(Value)
		if !ok {
			var err error
			v, err = FromGo(pairs[i+1])
			if err != nil {
				panic(err)
			}
		}
		m.set(key, v)
	}
	return Value{kind: KindMap, data: m}
}

// EmptyObject returns an empty map value.
func EmptyObject() Value {
	return Value{kind: KindMap, data: newMap(0)}
}

func newMap(capacity int) *Map {
	return &Map{
		values: make(map[string]Value, capacity),
		keys:   make([]string, 0, capacity),
	}
}

func (m *Map) set(key string, v Value) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

func (m *Map) clone() *Map {
	out := newMap(len(m.keys))
	for _, k := range m.keys {
		out.set(k, m.values[k].Clone())
	}
	return out
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	b, ok := v.data.(bool)
	return b, ok && v.kind == KindBool
}

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float64, bool) {
	n, ok := v.data.(float64)
	return n, ok && v.kind == KindNumber
}

// AsInt returns the numeric payload truncated to int64 when it is integral.
func (v Value) AsInt() (int64, bool) {
	n, ok := v.AsNumber()
	if !ok || n != math.Trunc(n) {
		return 0, false
	}
	return int64(n), true
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	s, ok := v.data.(string)
	return s, ok && v.kind == KindString
}

// AsBinary returns a copy of the binary payload.
func (v Value) AsBinary() ([]byte, bool) {
	b, ok := v.data.([]byte)
	if !ok || v.kind != KindBinary {
		return nil, false
	}
	return bytes.Clone(b), true
}

// Items returns a copy of the list elements.
func (v Value) Items() ([]Value, bool) {
	items, ok := v.data.([]Value)
	if !ok || v.kind != KindList {
		return nil, false
	}
	out := make([]Value, len(items))
	copy(out, items)
	return out, true
}

// Len returns the number of list elements or map entries.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.data.([]Value))
	case KindMap:
		return len(v.data.(*Map).keys)
	case KindString:
		return len(v.data.(string))
	case KindBinary:
		return len(v.data.([]byte))
	default:
		return 0
	}
}

// Keys returns map keys in insertion order.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	m := v.data.(*Map)
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Get returns the value stored under key in a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	val, ok := v.data.(*Map).values[key]
	return val, ok
}

// GetString is a convenience accessor for string fields.
func (v Value) GetString(key string) (string, bool) {
	val, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return val.AsString()
}

// GetNumber is a convenience accessor for numeric fields.
func (v Value) GetNumber(key string) (float64, bool) {
	val, ok := v.Get(key)
	if !ok {
		return 0, false
	}
	return val.AsNumber()
}

// GetBool is a convenience accessor for boolean fields.
func (v Value) GetBool(key string) (bool, bool) {
	val, ok := v.Get(key)
	if !ok {
		return false, false
	}
	return val.AsBool()
}

// With returns a copy of the map value with key set to val.
// Calling With on a non-map value starts from an empty map.
func (v Value) With(key string, val Value) Value {
	var m *Map
	if v.kind == KindMap {
		src := v.data.(*Map)
		m = newMap(len(src.keys) + 1)
		for _, k := range src.keys {
			m.set(k, src.values[k])
		}
	} else {
		m = newMap(1)
	}
	m.set(key, val)
	return Value{kind: KindMap, data: m}
}

// Without returns a copy of the map value with the given keys removed.
func (v Value) Without(keys ...string) Value {
	if v.kind != KindMap {
		return v
	}
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	src := v.data.(*Map)
	m := newMap(len(src.keys))
	for _, k := range src.keys {
		if _, skip := drop[k]; skip {
			continue
		}
		m.set(k, src.values[k])
	}
	return Value{kind: KindMap, data: m}
}

// Clone returns a deep, structured copy of v. Values never share mutable
// state after Clone, which is what cross-context message passing relies on.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBinary:
		return Binary(v.data.([]byte))
	case KindList:
		src := v.data.([]Value)
		out := make([]Value, len(src))
		for i, item := range src {
			out[i] = item.Clone()
		}
		return Value{kind: KindList, data: out}
	case KindMap:
		return Value{kind: KindMap, data: v.data.(*Map).clone()}
	default:
		return v
	}
}

// Equal reports structural equality. Map key order is not significant.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.data.(bool) == other.data.(bool)
	case KindNumber:
		return v.data.(float64) == other.data.(float64)
	case KindString:
		return v.data.(string) == other.data.(string)
	case KindBinary:
		return bytes.Equal(v.data.([]byte), other.data.([]byte))
	case KindList:
		a, b := v.data.([]Value), other.data.([]Value)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case KindMap:
		a, b := v.data.(*Map), other.data.(*Map)
		if len(a.keys) != len(b.keys) {
			return false
		}
		for k, av := range a.values {
			bv, ok := b.values[k]
			if !ok || !av.Equal(bv) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders a compact human-readable form, used in logs.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(b)
}

// SortedKeys returns map keys in lexical order.
func (v Value) SortedKeys() []string {
	keys := v.Keys()
	sort.Strings(keys)
	return keys
}
