package extension

import (
	"fmt"
	"hash/fnv"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/funvibe/dynrt/internal/config"
	"github.com/funvibe/dynrt/internal/diagnostics"
)

// AsInt converts any Go integer to int.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	}
	return 0, false
}

// AsFloat converts any Go number to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := AsInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

// numOp implements int/double arithmetic with int results when both
// operands are integers, except for "/" which always yields a double.
func numOp(op string) func(c *Call) (any, error) {
	return func(c *Call) (any, error) {
		a, b := c.Recv, c.Arg(0)
		if _, ok := AsFloat(b); !ok {
			return nil, argError(c, config.NumTypeName)
		}
		ai, aInt := AsInt(a)
		bi, bInt := AsInt(b)
		if aInt && bInt && op != "/" {
			switch op {
			case "+":
				return ai + bi, nil
			case "-":
				return ai - bi, nil
			case "*":
				return ai * bi, nil
			case "~/":
				if bi == 0 {
					return nil, errDivisionByZero
				}
				return ai / bi, nil
			case "%":
				if bi == 0 {
					return nil, errDivisionByZero
				}
				m := ai % bi
				if m < 0 {
					if bi < 0 {
						m -= bi
					} else {
						m += bi
					}
				}
				return m, nil
			}
		}
		af, _ := AsFloat(a)
		bf, _ := AsFloat(b)
		switch op {
		case "+":
			return af + bf, nil
		case "-":
			return af - bf, nil
		case "*":
			return af * bf, nil
		case "/":
			return af / bf, nil
		case "~/":
			if bf == 0 {
				return nil, errDivisionByZero
			}
			return int(math.Trunc(af / bf)), nil
		case "%":
			m := math.Mod(af, bf)
			if m < 0 {
				m += math.Abs(bf)
			}
			return m, nil
		}
		return nil, fmt.Errorf("unknown operator %s", op)
	}
}

func numCmp(pred func(int) bool) func(c *Call) (any, error) {
	return func(c *Call) (any, error) {
		r, err := compareNum(c.Recv, c.Arg(0))
		if err != nil {
			return nil, err
		}
		return pred(r.(int)), nil
	}
}

func compareNum(a, b any) (any, error) {
	if ai, ok := AsInt(a); ok {
		if bi, ok := AsInt(b); ok {
			switch {
			case ai < bi:
				return -1, nil
			case ai > bi:
				return 1, nil
			}
			return 0, nil
		}
	}
	af, ok1 := AsFloat(a)
	bf, ok2 := AsFloat(b)
	if !ok1 || !ok2 {
		return nil, &diagnostics.CastError{Value: b, Actual: fmt.Sprintf("%T", b), Expected: config.NumTypeName}
	}
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	}
	return 0, nil
}

func formatRadix(i int64, radix int) string {
	return strconv.FormatInt(i, radix)
}

// Stringify renders a foreign value the way toString does.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return strconv.FormatFloat(val, 'f', 1, 64)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []any:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = Stringify(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := mapKeys(val)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k.(string) + ": " + Stringify(val[k.(string)])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case fmt.Stringer:
		return val.String()
	}
	return fmt.Sprintf("%v", v)
}

func equals(a, b any) bool {
	if af, ok := AsFloat(a); ok {
		if bf, ok := AsFloat(b); ok {
			return af == bf
		}
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil {
		return true
	}
	if reflect.ValueOf(a).Comparable() && reflect.ValueOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func hashOf(v any) int {
	h := fnv.New32a()
	h.Write([]byte(fmt.Sprintf("%T:%s", v, Stringify(v))))
	return int(h.Sum32())
}
