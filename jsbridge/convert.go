package jsbridge

import (
	"strconv"
	"time"

	"github.com/dop251/goja"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
)

// ToJS converts v into a value of rt. Binary values become ArrayBuffers.
func ToJS(rt *goja.Runtime, v dynamic.Value) goja.Value {
	switch v.Kind() {
	case dynamic.KindNull:
		return goja.Null()
	case dynamic.KindBool:
		b, _ := v.AsBool()
		return rt.ToValue(b)
	case dynamic.KindNumber:
		n, _ := v.AsNumber()
		return rt.ToValue(n)
	case dynamic.KindString:
		s, _ := v.AsString()
		return rt.ToValue(s)
	case dynamic.KindBinary:
		b, _ := v.AsBinary()
		return rt.ToValue(rt.NewArrayBuffer(append([]byte(nil), b...)))
	case dynamic.KindList:
		items, _ := v.Items()
		vals := make([]any, len(items))
		for i, item := range items {
			vals[i] = ToJS(rt, item)
		}
		return rt.NewArray(vals...)
	case dynamic.KindMap:
		obj := rt.NewObject()
		for _, k := range v.Keys() {
			child, _ := v.Get(k)
			_ = obj.Set(k, ToJS(rt, child))
		}
		return obj
	}
	return goja.Undefined()
}

// FromJS converts a guest value into a dynamic value using structured
// copy rules: functions and cyclic objects cannot be copied, Dates become
// RFC 3339 strings and ArrayBuffers or Uint8Arrays become binary.
func FromJS(v goja.Value) (dynamic.Value, error) {
	return fromJS(v, "", map[*goja.Object]bool{})
}

func fromJS(v goja.Value, path string, seen map[*goja.Object]bool) (dynamic.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return dynamic.Null(), nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return dynamic.FromGo(v.Export())
	}
	if _, isFn := goja.AssertFunction(obj); isFn {
		return dynamic.Null(), hosterr.Contract(path, "functions cannot be copied")
	}
	if seen[obj] {
		return dynamic.Null(), hosterr.Contract(path, "cyclic value cannot be copied")
	}
	seen[obj] = true
	defer delete(seen, obj)

	switch exp := obj.Export().(type) {
	case goja.ArrayBuffer:
		return dynamic.Binary(append([]byte(nil), exp.Bytes()...)), nil
	case []uint8:
		if obj.ClassName() != "Array" {
			return dynamic.Binary(append([]byte(nil), exp...)), nil
		}
	case time.Time:
		return dynamic.String(exp.UTC().Format(time.RFC3339Nano)), nil
	}

	if obj.ClassName() == "Array" {
		n := int(obj.Get("length").ToInteger())
		items := make([]dynamic.Value, n)
		for i := range n {
			item, err := fromJS(obj.Get(strconv.Itoa(i)), path+"["+strconv.Itoa(i)+"]", seen)
			if err != nil {
				return dynamic.Null(), err
			}
			items[i] = item
		}
		return dynamic.List(items...), nil
	}

	out := dynamic.EmptyObject()
	for _, k := range obj.Keys() {
		child, err := fromJS(obj.Get(k), joinPath(path, k), seen)
		if err != nil {
			return dynamic.Null(), err
		}
		out = out.With(k, child)
	}
	return out, nil
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
