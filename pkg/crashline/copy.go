// copy.go duplicates user-supplied values so that recorded state is never
// shared with the caller.

package crashline

import (
	"reflect"
)

var markerType = reflect.TypeOf(recursiveMarker)

// copyMetadata returns a deep copy of m. A container that holds itself is
// replaced by the recursion marker where an interface slot allows it, and by
// the zero value otherwise.
func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := copyValue(m).(map[string]any)
	return out
}

// copyValue deep copies maps, slices, arrays, pointers and the exported
// fields of structs. Unexported fields are copied shallowly.
func copyValue(v any) any {
	if v == nil {
		return nil
	}
	c := copier{seen: make(map[uintptr]struct{})}
	return c.copy(reflect.ValueOf(v)).Interface()
}

type copier struct {
	seen map[uintptr]struct{}
}

// enter marks ptr as being copied. It reports false if ptr is already on the
// current path.
func (c *copier) enter(ptr uintptr) bool {
	if _, ok := c.seen[ptr]; ok {
		return false
	}
	c.seen[ptr] = struct{}{}
	return true
}

func (c *copier) leave(ptr uintptr) {
	delete(c.seen, ptr)
}

// into copies v for a slot of type typ.
func (c *copier) into(v reflect.Value, typ reflect.Type) reflect.Value {
	if out := c.copy(v); out.IsValid() {
		return out
	}
	if typ.Kind() == reflect.Interface && markerType.Implements(typ) {
		return reflect.ValueOf(recursiveMarker)
	}
	return reflect.Zero(typ)
}

// copy returns an invalid Value when v closes a cycle.
func (c *copier) copy(v reflect.Value) reflect.Value {
	t := v.Type()
	switch v.Kind() {
	case reflect.Interface:
		out := reflect.New(t).Elem()
		if !v.IsNil() {
			out.Set(c.into(v.Elem(), t))
		}
		return out

	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(t)
		}
		ptr := v.Pointer()
		if !c.enter(ptr) {
			return reflect.Value{}
		}
		defer c.leave(ptr)
		out := reflect.New(t.Elem())
		out.Elem().Set(c.into(v.Elem(), t.Elem()))
		return out

	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(t)
		}
		ptr := v.Pointer()
		if !c.enter(ptr) {
			return reflect.Value{}
		}
		defer c.leave(ptr)
		out := reflect.MakeMapWithSize(t, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(c.into(iter.Key(), t.Key()), c.into(iter.Value(), t.Elem()))
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(t)
		}
		if v.Len() > 0 {
			ptr := v.Pointer()
			if !c.enter(ptr) {
				return reflect.Value{}
			}
			defer c.leave(ptr)
		}
		out := reflect.MakeSlice(t, v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(c.into(v.Index(i), t.Elem()))
		}
		return out

	case reflect.Array:
		out := reflect.New(t).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(c.into(v.Index(i), t.Elem()))
		}
		return out

	case reflect.Struct:
		out := reflect.New(t).Elem()
		out.Set(v)
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			out.Field(i).Set(c.into(v.Field(i), t.Field(i).Type))
		}
		return out

	default:
		return v
	}
}
