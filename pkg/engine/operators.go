package engine

import "reflect"

// Built-in operator names registered on every new engine.
const (
	OperatorEqual                = "equal"
	OperatorNotEqual             = "notEqual"
	OperatorLessThan             = "lessThan"
	OperatorLessThanInclusive    = "lessThanInclusive"
	OperatorGreaterThan          = "greaterThan"
	OperatorGreaterThanInclusive = "greaterThanInclusive"
	OperatorIn                   = "in"
	OperatorNotIn                = "notIn"
	OperatorContains             = "contains"
	OperatorDoesNotContain       = "doesNotContain"
)

// defaultOperators returns the built-in operator set. Numeric comparisons
// carry a numeric validator; list membership operators on the fact side carry
// a list validator.
func defaultOperators() []Operator {
	return []Operator{
		NewOperator(OperatorEqual, looseEqual, nil),
		NewOperator(OperatorNotEqual, func(a, b any) bool { return !looseEqual(a, b) }, nil),

		NewOperator(OperatorLessThan, func(a, b any) bool {
			return numericCompare(a, b, func(x, y float64) bool { return x < y })
		}, isNumeric),
		NewOperator(OperatorLessThanInclusive, func(a, b any) bool {
			return numericCompare(a, b, func(x, y float64) bool { return x <= y })
		}, isNumeric),
		NewOperator(OperatorGreaterThan, func(a, b any) bool {
			return numericCompare(a, b, func(x, y float64) bool { return x > y })
		}, isNumeric),
		NewOperator(OperatorGreaterThanInclusive, func(a, b any) bool {
			return numericCompare(a, b, func(x, y float64) bool { return x >= y })
		}, isNumeric),

		// fact value must be a member of the test list
		NewOperator(OperatorIn, func(a, b any) bool { return listContains(b, a) }, nil),
		NewOperator(OperatorNotIn, func(a, b any) bool { return !listContains(b, a) }, nil),

		// test value must be a member of the fact list
		NewOperator(OperatorContains, func(a, b any) bool { return listContains(a, b) }, isList),
		NewOperator(OperatorDoesNotContain, func(a, b any) bool { return !listContains(a, b) }, isList),
	}
}

// looseEqual compares values with numeric normalization so 2 and 2.0 are
// equal regardless of how the definition was decoded.
func looseEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	if aok != bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func numericCompare(a, b any, cmp func(x, y float64) bool) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	return cmp(af, bf)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
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
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func isNumeric(v any) bool {
	_, ok := toFloat(v)
	return ok
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	kind := reflect.TypeOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}

func listContains(list, member any) bool {
	if !isList(list) {
		return false
	}
	rv := reflect.ValueOf(list)
	for i := 0; i < rv.Len(); i++ {
		if looseEqual(rv.Index(i).Interface(), member) {
			return true
		}
	}
	return false
}
