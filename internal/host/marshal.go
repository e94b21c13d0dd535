package host

import (
	"fmt"
	"math"
	"reflect"

	"github.com/funvibe/dynrt/internal/object"
	"github.com/funvibe/dynrt/internal/typesystem"
)

// CallFunc invokes a runtime callable from Go. It backs Go func parameters
// that receive runtime closures.
type CallFunc func(fn any, args object.Args) (any, error)

// Marshaller handles conversion between Go and runtime values.
type Marshaller struct {
	// Call is used when a runtime callable is passed where a Go func is
	// expected. Nil disables callback conversion.
	Call CallFunc
}

// NewMarshaller creates a Marshaller that converts runtime callables to Go
// funcs through call.
func NewMarshaller(call CallFunc) *Marshaller {
	return &Marshaller{Call: call}
}

// uintValue folds an unsigned integer into int, or float64 when it does not
// fit.
func uintValue(u uint64) any {
	if u > math.MaxInt {
		return float64(u)
	}
	return int(u)
}

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	anyType   = reflect.TypeOf((*any)(nil)).Elem()
)

// ToValue converts a Go value returned by host code into a runtime value.
// Numbers fold into int and float64 (unsigned values above the int range
// become float64), slices into []any and string-keyed
// maps into map[string]any. Structs, pointers and funcs stay foreign.
func (m *Marshaller) ToValue(val any) any {
	if val == nil {
		return nil
	}
	switch val.(type) {
	case *object.Instance, object.Callable, typesystem.Typed, []any, map[string]any, map[any]any, []byte:
		return val
	}

	v := reflect.ValueOf(val)
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uintValue(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		return v.String()
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = m.ToValue(v.Index(i).Interface())
		}
		return out
	case reflect.Map:
		return m.mapToValue(v)
	case reflect.Ptr, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return nil
		}
	}
	return val
}

func (m *Marshaller) mapToValue(v reflect.Value) any {
	if v.Type().Key().Kind() == reflect.String {
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = m.ToValue(iter.Value().Interface())
		}
		return out
	}
	out := make(map[any]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		out[m.ToValue(iter.Key().Interface())] = m.ToValue(iter.Value().Interface())
	}
	return out
}

// FromValue converts a runtime value to the Go type target. A nil target
// accepts the value unchanged.
func (m *Marshaller) FromValue(val any, target reflect.Type) (reflect.Value, error) {
	if target == nil || target == anyType {
		if val == nil {
			return reflect.Zero(anyType), nil
		}
		return reflect.ValueOf(val), nil
	}
	if val == nil {
		switch target.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
			return reflect.Zero(target), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot pass null as %s", target)
	}

	rv := reflect.ValueOf(val)
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}

	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return rv.Convert(target), nil
		}
	case reflect.Float32, reflect.Float64:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return rv.Convert(target), nil
		}
	case reflect.Slice:
		if list, ok := val.([]any); ok {
			return m.listToSlice(list, target)
		}
	case reflect.Map:
		return m.mapFromValue(val, target)
	case reflect.Func:
		if _, ok := val.(object.Callable); ok && m.Call != nil {
			return m.makeFunc(val, target), nil
		}
	}
	if rv.Kind() == target.Kind() && rv.Type().ConvertibleTo(target) {
		return rv.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", val, target)
}

func (m *Marshaller) listToSlice(list []any, target reflect.Type) (reflect.Value, error) {
	elemType := target.Elem()
	slice := reflect.MakeSlice(target, 0, len(list))
	for i, el := range list {
		ev, err := m.FromValue(el, elemType)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
		}
		slice = reflect.Append(slice, ev)
	}
	return slice, nil
}

func (m *Marshaller) mapFromValue(val any, target reflect.Type) (reflect.Value, error) {
	result := reflect.MakeMap(target)
	set := func(k, v any) error {
		kv, err := m.FromValue(k, target.Key())
		if err != nil {
			return fmt.Errorf("map key: %w", err)
		}
		vv, err := m.FromValue(v, target.Elem())
		if err != nil {
			return fmt.Errorf("map value: %w", err)
		}
		result.SetMapIndex(kv, vv)
		return nil
	}
	switch mv := val.(type) {
	case map[string]any:
		for k, v := range mv {
			if err := set(k, v); err != nil {
				return reflect.Value{}, err
			}
		}
	case map[any]any:
		for k, v := range mv {
			if err := set(k, v); err != nil {
				return reflect.Value{}, err
			}
		}
	default:
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", val, target)
	}
	return result, nil
}

// makeFunc wraps a runtime callable as a Go func of type target. An error
// from the callable is returned through a trailing error result when the
// func type has one, and panics otherwise.
func (m *Marshaller) makeFunc(fn any, target reflect.Type) reflect.Value {
	return reflect.MakeFunc(target, func(in []reflect.Value) []reflect.Value {
		args := make([]any, len(in))
		for i, a := range in {
			args[i] = m.ToValue(a.Interface())
		}
		res, err := m.Call(fn, object.Pos(args...))

		out := make([]reflect.Value, target.NumOut())
		hasErr := target.NumOut() > 0 && target.Out(target.NumOut()-1) == errorType
		if err != nil && !hasErr {
			panic(err)
		}
		for i := range out {
			t := target.Out(i)
			switch {
			case hasErr && i == len(out)-1:
				if err != nil {
					out[i] = reflect.ValueOf(&err).Elem()
				} else {
					out[i] = reflect.Zero(t)
				}
			case i == 0 && err == nil:
				v, cerr := m.FromValue(res, t)
				if cerr != nil {
					panic(cerr)
				}
				out[i] = v
			default:
				out[i] = reflect.Zero(t)
			}
		}
		return out
	})
}

// CallFunc invokes a Go func with runtime arguments. A trailing error
// result becomes the returned error; one remaining result is returned as
// is and several are returned as a list.
func (m *Marshaller) CallFunc(fn reflect.Value, args []any) (any, error) {
	fnType := fn.Type()
	numIn := fnType.NumIn()
	isVariadic := fnType.IsVariadic()

	if isVariadic {
		if len(args) < numIn-1 {
			return nil, fmt.Errorf("expected at least %d arguments, got %d", numIn-1, len(args))
		}
	} else if len(args) != numIn {
		return nil, fmt.Errorf("expected %d arguments, got %d", numIn, len(args))
	}

	goArgs := make([]reflect.Value, len(args))
	for i, arg := range args {
		var targetType reflect.Type
		if isVariadic && i >= numIn-1 {
			targetType = fnType.In(numIn - 1).Elem()
		} else {
			targetType = fnType.In(i)
		}
		v, err := m.FromValue(arg, targetType)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		goArgs[i] = v
	}

	results := fn.Call(goArgs)
	if n := len(results); n > 0 && fnType.Out(n-1) == errorType {
		if errV := results[n-1]; !errV.IsNil() {
			return nil, errV.Interface().(error)
		}
		results = results[:n-1]
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return m.ToValue(results[0].Interface()), nil
	}
	out := make([]any, len(results))
	for i, r := range results {
		out[i] = m.ToValue(r.Interface())
	}
	return out, nil
}
