// Package hostbridge implements the host-object reflection bridge that
// spec.md §6 requires and treats as an external collaborator: get_attr,
// index, invoke, is_a, plus host equality/hashing. All are pure and
// side-effect free, as the spec demands.
//
// This is the one package in the module built directly on the standard
// library's reflect package rather than on a third-party dependency; see
// DESIGN.md for why no example-pack library fits arbitrary Go values.
package hostbridge

import (
	"fmt"
	"reflect"
)

// GetAttr reads a named field or zero-argument method from obj, mirroring
// the host language's get_attr(obj, name).
func GetAttr(obj any, name string) (any, error) {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, fmt.Errorf("hostbridge: nil value has no attribute %q", name)
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		if f := v.FieldByName(name); f.IsValid() {
			if !f.CanInterface() {
				return nil, fmt.Errorf("hostbridge: field %q of %s is unexported", name, v.Type())
			}
			return f.Interface(), nil
		}
	case reflect.Map:
		key := reflect.ValueOf(name)
		if key.Type().ConvertibleTo(v.Type().Key()) {
			mv := v.MapIndex(key.Convert(v.Type().Key()))
			if mv.IsValid() {
				return mv.Interface(), nil
			}
		}
	}

	// fall back to a zero-argument, zero-or-one-return method
	if m := reflect.ValueOf(obj).MethodByName(name); m.IsValid() {
		return Invoke(obj, name, nil, nil)
	}

	return nil, fmt.Errorf("hostbridge: %s has no attribute %q", v.Type(), name)
}

// GetIndex reads obj[key], mirroring the host language's index(obj, key).
// key may be an integer (slice/array index) or any hashable value (map
// key).
func GetIndex(obj any, key any) (any, error) {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, fmt.Errorf("hostbridge: nil value is not indexable")
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.String:
		idx, err := asInt(key)
		if err != nil {
			return nil, fmt.Errorf("hostbridge: index into %s requires an int key: %w", v.Type(), err)
		}
		n := v.Len()
		if idx < 0 {
			idx += n
		}
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("hostbridge: index %d out of range [0,%d)", idx, n)
		}
		return v.Index(idx).Interface(), nil

	case reflect.Map:
		kv := reflect.ValueOf(key)
		if !kv.Type().ConvertibleTo(v.Type().Key()) {
			return nil, fmt.Errorf("hostbridge: key %v not convertible to %s", key, v.Type().Key())
		}
		mv := v.MapIndex(kv.Convert(v.Type().Key()))
		if !mv.IsValid() {
			return nil, fmt.Errorf("hostbridge: key %v not found", key)
		}
		return mv.Interface(), nil
	}

	return nil, fmt.Errorf("hostbridge: %s is not indexable", v.Type())
}

// Invoke calls a named method on obj with the given positional and keyword
// arguments, mirroring host_invoke(obj, args, kwargs). Go has no native
// keyword arguments, so only args are passed to the method; a non-empty
// kwargs is rejected with an error.
func Invoke(obj any, method string, args []any, kwargs map[string]any) (any, error) {
	v := reflect.ValueOf(obj)
	m := v.MethodByName(method)
	if !m.IsValid() {
		return nil, fmt.Errorf("hostbridge: %T has no method %q", obj, method)
	}

	in := make([]reflect.Value, 0, len(args))
	for i, a := range args {
		av := reflect.ValueOf(a)
		if mt := m.Type(); i < mt.NumIn() && a != nil && av.Type() != mt.In(i) && av.Type().ConvertibleTo(mt.In(i)) {
			av = av.Convert(mt.In(i))
		}
		in = append(in, av)
	}

	if len(kwargs) > 0 {
		return nil, fmt.Errorf("hostbridge: method %q does not accept keyword arguments", method)
	}

	out := m.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	default:
		vals := make([]any, len(out))
		for i, o := range out {
			vals[i] = o.Interface()
		}
		return vals, nil
	}
}

// IsA reports whether obj is an instance of typ (by Go assignability,
// mirroring Python's isinstance). typ is a reflect.Type, e.g.
// IsA(x, reflect.TypeOf((*Robot)(nil))) or IsA(x, reflect.TypeOf(Robot{})).
func IsA(obj any, typ reflect.Type) bool {
	if obj == nil {
		return false
	}
	return reflect.TypeOf(obj).AssignableTo(typ)
}

// IsSubClassOf reports whether child is assignable to (or implements, for
// interfaces) parent.
func IsSubClassOf(child, parent reflect.Type) bool {
	if child == nil || parent == nil {
		return false
	}
	if child.AssignableTo(parent) {
		return true
	}
	if parent.Kind() == reflect.Interface {
		return child.Implements(parent)
	}
	return false
}

// HasAttribute reports whether obj has a field or method named name. It
// never invokes the method (unlike GetAttr's zero-arg-method fallback),
// so it is safe to call on methods that take arguments.
func HasAttribute(obj any, name string) bool {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct && v.FieldByName(name).IsValid() {
		return true
	}
	if v.Kind() == reflect.Map {
		key := reflect.ValueOf(name)
		if key.Type().ConvertibleTo(v.Type().Key()) && v.MapIndex(key.Convert(v.Type().Key())).IsValid() {
			return true
		}
	}
	return reflect.ValueOf(obj).MethodByName(name).IsValid()
}

// Flatten iterates the elements of an iterable host value (slice, array,
// or map values), yielding each element. It errors for any other kind,
// strings included.
func Flatten(v any) ([]any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	case reflect.Map:
		out := make([]any, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out = append(out, iter.Value().Interface())
		}
		return out, nil
	default:
		return nil, fmt.Errorf("hostbridge: %T is not iterable", v)
	}
}

// Length returns the size of a collection, mirroring the host language's
// len().
func Length(v any) (int, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String, reflect.Chan:
		return rv.Len(), nil
	default:
		return 0, fmt.Errorf("hostbridge: %T has no length", v)
	}
}

func asInt(v any) (int, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint()), nil
	default:
		return 0, fmt.Errorf("hostbridge: %v is not an integer", v)
	}
}
