package dynamic

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

const binaryKey = "$binary"

// FromGo converts plain Go data into a Value. Supported inputs are nil,
// bool, all integer and float kinds, string, []byte, slices, arrays,
// string-keyed maps, json.Number and Value itself. Structs are converted
// through their JSON encoding.
func FromGo(in any) (Value, error) {
	switch x := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case []byte:
		return Binary(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint32:
		return Int(int64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("dynamic: invalid number %q: %w", x, err)
		}
		return Number(f), nil
	case []Value:
		return List(x...), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := FromGo(item)
			if err != nil {
				return Value{}, fmt.Errorf("dynamic: index %d: %w", i, err)
			}
			items[i] = v
		}
		return Value{kind: KindList, data: items}, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := newMap(len(keys))
		for _, k := range keys {
			v, err := FromGo(x[k])
			if err != nil {
				return Value{}, fmt.Errorf("dynamic: key %q: %w", k, err)
			}
			m.set(k, v)
		}
		return Value{kind: KindMap, data: m}, nil
	}

	rv := reflect.ValueOf(in)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := range items {
			v, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("dynamic: index %d: %w", i, err)
			}
			items[i] = v
		}
		return Value{kind: KindList, data: items}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("dynamic: unsupported map key type %s", rv.Type().Key())
		}
		generic := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			generic[iter.Key().String()] = iter.Value().Interface()
		}
		return FromGo(generic)
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		return FromGo(rv.Elem().Interface())
	case reflect.Struct:
		b, err := json.Marshal(in)
		if err != nil {
			return Value{}, fmt.Errorf("dynamic: encode struct: %w", err)
		}
		return Parse(b)
	}
	return Value{}, fmt.Errorf("dynamic: unsupported type %T", in)
}

// MustFromGo is FromGo that panics on error. Intended for literals in tests
// and static catalogs.
func MustFromGo(in any) Value {
	v, err := FromGo(in)
	if err != nil {
		panic(err)
	}
	return v
}

// Export converts v into plain Go data: nil, bool, float64, string, []byte,
// []any, map[string]any.
func (v Value) Export() any {
	switch v.kind {
	case KindBool:
		return v.data.(bool)
	case KindNumber:
		return v.data.(float64)
	case KindString:
		return v.data.(string)
	case KindBinary:
		return bytes.Clone(v.data.([]byte))
	case KindList:
		src := v.data.([]Value)
		out := make([]any, len(src))
		for i, item := range src {
			out[i] = item.Export()
		}
		return out
	case KindMap:
		m := v.data.(*Map)
		out := make(map[string]any, len(m.keys))
		for _, k := range m.keys {
			out[k] = m.values[k].Export()
		}
		return out
	default:
		return nil
	}
}

// Decode converts v into the Go value pointed to by out via its JSON form.
func (v Value) Decode(out any) error {
	b, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Parse decodes JSON bytes into a Value.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

// MarshalJSON implements json.Marshaler. Map keys keep insertion order and
// binary payloads are encoded as {"$binary": "<base64>"}.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.data.(bool)))
	case KindNumber:
		n := v.data.(float64)
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return fmt.Errorf("dynamic: cannot encode %v as JSON", n)
		}
		buf.WriteString(strconv.FormatFloat(n, 'g', -1, 64))
	case KindString:
		b, err := json.Marshal(v.data.(string))
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindBinary:
		buf.WriteString(`{"` + binaryKey + `":"`)
		buf.WriteString(base64.StdEncoding.EncodeToString(v.data.([]byte)))
		buf.WriteString(`"}`)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.data.([]Value) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		m := v.data.(*Map)
		buf.WriteByte('{')
		for i, k := range m.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := m.values[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Object key order from the
// input is preserved.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out, err := decodeToken(dec)
	if err != nil {
		return fmt.Errorf("dynamic: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("dynamic: trailing data after JSON value")
	}
	*v = out
	return nil
}

func decodeToken(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeToken(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindList, data: items}, nil
		case '{':
			m := newMap(4)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key %v is not a string", keyTok)
				}
				val, err := decodeToken(dec)
				if err != nil {
					return Value{}, err
				}
				m.set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			if len(m.keys) == 1 && m.keys[0] == binaryKey {
				if s, ok := m.values[binaryKey].AsString(); ok {
					if b, err := base64.StdEncoding.DecodeString(s); err == nil {
						return Value{kind: KindBinary, data: b}, nil
					}
				}
			}
			return Value{kind: KindMap, data: m}, nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}
