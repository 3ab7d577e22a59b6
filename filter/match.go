package filter

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Match reports whether doc satisfies every predicate.
// It is used for client-side filtering where the store cannot evaluate predicates.
func Match(doc map[string]any, preds []Predicate) bool {
	for _, p := range preds {
		actual, ok := doc[p.Field]
		if !ok {
			return false
		}
		switch p.Op {
		case OpEq:
			if !Equal(actual, p.Value) {
				return false
			}
		case OpGt:
			if !ordered(actual, p.Value) || Compare(actual, p.Value) <= 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Equal compares two document values, treating all numeric types as equal by value.
func Equal(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// Compare returns -1, 0 or 1 ordering a against b.
// Values of different kinds order as nil < bool < number < string < other.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}

	switch ra {
	case 0:
		return 0
	case 1:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case 2:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 3:
		return strings.Compare(a.(string), b.(string))
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

// ordered reports whether an ordering between a and b is meaningful.
func ordered(a, b any) bool {
	r := rank(a)
	return r == rank(b) && (r == 2 || r == 3)
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := v.(bool); ok {
		return 1
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	if _, ok := v.(string); ok {
		return 3
	}
	return 4
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
