package extension

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/funvibe/dynrt/internal/config"
	"github.com/funvibe/dynrt/internal/diagnostics"
	"github.com/funvibe/dynrt/internal/object"
)

var errDivisionByZero = errors.New("integer division by zero")

// RegisterCore installs the core library members for numbers, strings,
// booleans, lists, maps, functions and the Object defaults every foreign
// value answers to.
func RegisterCore(t *Table) error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	one := object.Params("other")

	// Object defaults, reached by every kind.
	add(t.Method(KindObject, config.ToStringName, object.Signature{}, func(c *Call) (any, error) {
		return Stringify(c.Recv), nil
	}))
	add(t.Method(KindObject, config.EqualsName, one, func(c *Call) (any, error) {
		return equals(c.Recv, c.Arg(0)), nil
	}))
	add(t.Getter(KindObject, config.HashCodeName, func(c *Call) (any, error) {
		return hashOf(c.Recv), nil
	}))

	// num
	add(t.Method(KindNum, "+", one, numOp("+")))
	add(t.Method(KindNum, "-", one, numOp("-")))
	add(t.Method(KindNum, "*", one, numOp("*")))
	add(t.Method(KindNum, "/", one, numOp("/")))
	add(t.Method(KindNum, "~/", one, numOp("~/")))
	add(t.Method(KindNum, "%", one, numOp("%")))
	add(t.Method(KindNum, "<", one, numCmp(func(c int) bool { return c < 0 })))
	add(t.Method(KindNum, "<=", one, numCmp(func(c int) bool { return c <= 0 })))
	add(t.Method(KindNum, ">", one, numCmp(func(c int) bool { return c > 0 })))
	add(t.Method(KindNum, ">=", one, numCmp(func(c int) bool { return c >= 0 })))
	add(t.Method(KindNum, "compareTo", one, func(c *Call) (any, error) {
		return compareNum(c.Recv, c.Arg(0))
	}))
	add(t.Method(KindNum, "abs", object.Signature{}, func(c *Call) (any, error) {
		if i, ok := AsInt(c.Recv); ok {
			if i < 0 {
				return -i, nil
			}
			return i, nil
		}
		f, _ := AsFloat(c.Recv)
		return math.Abs(f), nil
	}))
	add(t.Method(KindNum, "round", object.Signature{}, func(c *Call) (any, error) {
		f, _ := AsFloat(c.Recv)
		return int(math.Round(f)), nil
	}))
	add(t.Method(KindNum, "toInt", object.Signature{}, func(c *Call) (any, error) {
		f, _ := AsFloat(c.Recv)
		return int(f), nil
	}))
	add(t.Method(KindNum, "toDouble", object.Signature{}, func(c *Call) (any, error) {
		f, _ := AsFloat(c.Recv)
		return f, nil
	}))
	add(t.Method(KindNum, "clamp", object.Params("lower", "upper"), func(c *Call) (any, error) {
		if lo, err := compareNum(c.Recv, c.Arg(0)); err != nil {
			return nil, err
		} else if lo.(int) < 0 {
			return c.Arg(0), nil
		}
		if hi, err := compareNum(c.Recv, c.Arg(1)); err != nil {
			return nil, err
		} else if hi.(int) > 0 {
			return c.Arg(1), nil
		}
		return c.Recv, nil
	}))
	add(t.Getter(KindNum, "isNegative", func(c *Call) (any, error) {
		f, _ := AsFloat(c.Recv)
		return f < 0, nil
	}))
	add(t.Method(KindInt, "toRadixString", object.Params("radix"), func(c *Call) (any, error) {
		i, _ := AsInt(c.Recv)
		r, ok := AsInt(c.Arg(0))
		if !ok || r < 2 || r > 36 {
			return nil, fmt.Errorf("invalid radix %v", c.Arg(0))
		}
		return strings.ToLower(formatRadix(int64(i), r)), nil
	}))
	add(t.Getter(KindInt, "isEven", func(c *Call) (any, error) {
		i, _ := AsInt(c.Recv)
		return i%2 == 0, nil
	}))
	add(t.Getter(KindDouble, "isNaN", func(c *Call) (any, error) {
		f, _ := AsFloat(c.Recv)
		return math.IsNaN(f), nil
	}))

	// bool
	add(t.Method(KindBool, "&", one, func(c *Call) (any, error) {
		b, ok := c.Arg(0).(bool)
		if !ok {
			return nil, argError(c, "bool")
		}
		return c.Recv.(bool) && b, nil
	}))
	add(t.Method(KindBool, "|", one, func(c *Call) (any, error) {
		b, ok := c.Arg(0).(bool)
		if !ok {
			return nil, argError(c, "bool")
		}
		return c.Recv.(bool) || b, nil
	}))

	// String
	add(t.Getter(KindString, "length", func(c *Call) (any, error) {
		return len([]rune(c.Recv.(string))), nil
	}))
	add(t.Getter(KindString, "isEmpty", func(c *Call) (any, error) {
		return c.Recv.(string) == "", nil
	}))
	add(t.Getter(KindString, "isNotEmpty", func(c *Call) (any, error) {
		return c.Recv.(string) != "", nil
	}))
	add(t.Method(KindString, "toUpperCase", object.Signature{}, func(c *Call) (any, error) {
		return strings.ToUpper(c.Recv.(string)), nil
	}))
	add(t.Method(KindString, "toLowerCase", object.Signature{}, func(c *Call) (any, error) {
		return strings.ToLower(c.Recv.(string)), nil
	}))
	add(t.Method(KindString, "trim", object.Signature{}, func(c *Call) (any, error) {
		return strings.TrimSpace(c.Recv.(string)), nil
	}))
	add(t.Method(KindString, "contains", object.Params("other"), func(c *Call) (any, error) {
		s, ok := c.Arg(0).(string)
		if !ok {
			return nil, argError(c, "String")
		}
		return strings.Contains(c.Recv.(string), s), nil
	}))
	add(t.Method(KindString, "split", object.Params("pattern"), func(c *Call) (any, error) {
		s, ok := c.Arg(0).(string)
		if !ok {
			return nil, argError(c, "String")
		}
		parts := strings.Split(c.Recv.(string), s)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	}))
	add(t.Method(KindString, "substring", object.Signature{
		Positional: []object.Param{{Name: "start"}, {Name: "end"}},
		Required:   1,
	}, func(c *Call) (any, error) {
		runes := []rune(c.Recv.(string))
		start, ok := AsInt(c.Arg(0))
		if !ok {
			return nil, argError(c, "int")
		}
		end := len(runes)
		if c.Arg(1) != nil {
			if end, ok = AsInt(c.Arg(1)); !ok {
				return nil, argError(c, "int")
			}
		}
		if start < 0 || end > len(runes) || start > end {
			return nil, rangeError(start, end, len(runes))
		}
		return string(runes[start:end]), nil
	}))
	add(t.Method(KindString, "+", one, func(c *Call) (any, error) {
		s, ok := c.Arg(0).(string)
		if !ok {
			return nil, argError(c, "String")
		}
		return c.Recv.(string) + s, nil
	}))
	add(t.Method(KindString, "[]", object.Params("index"), func(c *Call) (any, error) {
		runes := []rune(c.Recv.(string))
		i, ok := AsInt(c.Arg(0))
		if !ok {
			return nil, argError(c, "int")
		}
		if i < 0 || i >= len(runes) {
			return nil, rangeError(i, i, len(runes))
		}
		return string(runes[i]), nil
	}))

	// List
	add(t.Getter(KindList, "length", func(c *Call) (any, error) {
		return len(c.Recv.([]any)), nil
	}))
	add(t.Getter(KindList, "isEmpty", func(c *Call) (any, error) {
		return len(c.Recv.([]any)) == 0, nil
	}))
	add(t.Getter(KindList, "first", func(c *Call) (any, error) {
		l := c.Recv.([]any)
		if len(l) == 0 {
			return nil, diagnostics.NewStateError("no element")
		}
		return l[0], nil
	}))
	add(t.Getter(KindList, "last", func(c *Call) (any, error) {
		l := c.Recv.([]any)
		if len(l) == 0 {
			return nil, diagnostics.NewStateError("no element")
		}
		return l[len(l)-1], nil
	}))
	add(t.Method(KindList, "[]", object.Params("index"), func(c *Call) (any, error) {
		l := c.Recv.([]any)
		i, ok := AsInt(c.Arg(0))
		if !ok {
			return nil, argError(c, "int")
		}
		if i < 0 || i >= len(l) {
			return nil, rangeError(i, i, len(l))
		}
		return l[i], nil
	}))
	add(t.Method(KindList, "[]=", object.Params("index", "value"), func(c *Call) (any, error) {
		l := c.Recv.([]any)
		i, ok := AsInt(c.Arg(0))
		if !ok {
			return nil, argError(c, "int")
		}
		if i < 0 || i >= len(l) {
			return nil, rangeError(i, i, len(l))
		}
		l[i] = c.Arg(1)
		return nil, nil
	}))
	add(t.Method(KindList, "contains", object.Params("element"), func(c *Call) (any, error) {
		for _, e := range c.Recv.([]any) {
			if equals(e, c.Arg(0)) {
				return true, nil
			}
		}
		return false, nil
	}))
	add(t.Method(KindList, "join", object.Signature{
		Positional: []object.Param{{Name: "separator", Default: ""}},
	}, func(c *Call) (any, error) {
		sep, _ := c.Arg(0).(string)
		l := c.Recv.([]any)
		parts := make([]string, len(l))
		for i, e := range l {
			parts[i] = Stringify(e)
		}
		return strings.Join(parts, sep), nil
	}))
	add(t.Method(KindList, "map", object.Params("f"), func(c *Call) (any, error) {
		l := c.Recv.([]any)
		out := make([]any, len(l))
		for i, e := range l {
			v, err := c.Invoker.Call(c.Arg(0), object.Pos(e))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}))
	add(t.Method(KindList, "where", object.Params("test"), func(c *Call) (any, error) {
		var out []any
		for _, e := range c.Recv.([]any) {
			v, err := c.Invoker.Call(c.Arg(0), object.Pos(e))
			if err != nil {
				return nil, err
			}
			keep, ok := v.(bool)
			if !ok {
				return nil, &diagnostics.CastError{Value: v, Actual: fmt.Sprintf("%T", v), Expected: config.BoolTypeName}
			}
			if keep {
				out = append(out, e)
			}
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	}))

	// Map
	add(t.Getter(KindMap, "length", func(c *Call) (any, error) {
		return len(mapKeys(c.Recv)), nil
	}))
	add(t.Getter(KindMap, "isEmpty", func(c *Call) (any, error) {
		return len(mapKeys(c.Recv)) == 0, nil
	}))
	add(t.Getter(KindMap, "keys", func(c *Call) (any, error) {
		return mapKeys(c.Recv), nil
	}))
	add(t.Getter(KindMap, "values", func(c *Call) (any, error) {
		keys := mapKeys(c.Recv)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i], _ = mapGet(c.Recv, k)
		}
		return out, nil
	}))
	add(t.Method(KindMap, "containsKey", object.Params("key"), func(c *Call) (any, error) {
		_, ok := mapGet(c.Recv, c.Arg(0))
		return ok, nil
	}))
	add(t.Method(KindMap, "[]", object.Params("key"), func(c *Call) (any, error) {
		v, _ := mapGet(c.Recv, c.Arg(0))
		return v, nil
	}))
	add(t.Method(KindMap, "[]=", object.Params("key", "value"), func(c *Call) (any, error) {
		return nil, mapSet(c.Recv, c.Arg(0), c.Arg(1))
	}))

	return errors.Join(errs...)
}

func argError(c *Call, want string) error {
	return &diagnostics.CastError{
		Value:    c.Arg(0),
		Actual:   fmt.Sprintf("%T", c.Arg(0)),
		Expected: want,
	}
}

func rangeError(start, end, length int) error {
	return fmt.Errorf("range error: [%d, %d) not within 0..%d", start, end, length)
}

func mapKeys(m any) []any {
	var keys []any
	switch mv := m.(type) {
	case map[string]any:
		names := make([]string, 0, len(mv))
		for k := range mv {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			keys = append(keys, k)
		}
	case map[any]any:
		for k := range mv {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return Stringify(keys[i]) < Stringify(keys[j]) })
	}
	if keys == nil {
		keys = []any{}
	}
	return keys
}

func mapGet(m, k any) (any, bool) {
	switch mv := m.(type) {
	case map[string]any:
		s, ok := k.(string)
		if !ok {
			return nil, false
		}
		v, ok := mv[s]
		return v, ok
	case map[any]any:
		if !hashable(k) {
			return nil, false
		}
		v, ok := mv[k]
		return v, ok
	}
	return nil, false
}

func mapSet(m, k, v any) error {
	switch mv := m.(type) {
	case map[string]any:
		s, ok := k.(string)
		if !ok {
			return &diagnostics.CastError{Value: k, Actual: fmt.Sprintf("%T", k), Expected: config.StringTypeName}
		}
		mv[s] = v
	case map[any]any:
		if !hashable(k) {
			return &diagnostics.CastError{Value: k, Actual: fmt.Sprintf("%T", k), Expected: "hashable key"}
		}
		mv[k] = v
	}
	return nil
}

// hashable reports whether k can index a Go map. Lists, maps and structs
// holding them cannot.
func hashable(k any) bool {
	return k == nil || reflect.ValueOf(k).Comparable()
}
