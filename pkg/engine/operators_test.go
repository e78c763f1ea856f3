package engine

import "testing"

func TestDefaultOperators(t *testing.T) {
	operators := defaultOperatorMap()

	tests := []struct {
		operator  string
		factValue any
		testValue any
		want      bool
	}{
		{OperatorEqual, "a", "a", true},
		{OperatorEqual, "a", "b", false},
		{OperatorEqual, 2, 2.0, true},
		{OperatorEqual, nil, nil, true},
		{OperatorNotEqual, "a", "b", true},
		{OperatorNotEqual, 2, 2.0, false},

		{OperatorLessThan, 1, 2, true},
		{OperatorLessThan, 2, 2, false},
		{OperatorLessThanInclusive, 2, 2, true},
		{OperatorGreaterThan, 3, 2, true},
		{OperatorGreaterThan, 2, 3, false},
		{OperatorGreaterThanInclusive, 2, 2, true},
		{OperatorGreaterThan, 2.5, 2, true},

		{OperatorIn, "b", []any{"a", "b"}, true},
		{OperatorIn, "c", []any{"a", "b"}, false},
		{OperatorNotIn, "c", []any{"a", "b"}, true},
		{OperatorIn, 2, []any{1, 2.0}, true},

		{OperatorContains, []any{"a", "b"}, "b", true},
		{OperatorContains, []any{"a", "b"}, "c", false},
		{OperatorDoesNotContain, []any{"a", "b"}, "c", true},
		{OperatorContains, []string{"a", "b"}, "a", true},
	}

	for _, tc := range tests {
		op, ok := operators[tc.operator]
		if !ok {
			t.Fatalf("Operator %s not registered", tc.operator)
		}
		got, validated := op.Evaluate(tc.factValue, tc.testValue)
		if !validated {
			t.Errorf("%s(%v, %v): unexpectedly rejected by validator", tc.operator, tc.factValue, tc.testValue)
			continue
		}
		if got != tc.want {
			t.Errorf("%s(%v, %v) = %v, want %v", tc.operator, tc.factValue, tc.testValue, got, tc.want)
		}
	}
}

func TestOperatorValidators(t *testing.T) {
	operators := defaultOperatorMap()

	// Numeric operators reject non-numeric fact values without evaluating.
	for _, name := range []string{
		OperatorLessThan, OperatorLessThanInclusive,
		OperatorGreaterThan, OperatorGreaterThanInclusive,
	} {
		result, validated := operators[name].Evaluate("nope", 1)
		if validated {
			t.Errorf("%s: expected validator to reject a string fact value", name)
		}
		if result {
			t.Errorf("%s: rejected value must evaluate false", name)
		}
	}

	// Fact-side list operators reject scalar fact values.
	for _, name := range []string{OperatorContains, OperatorDoesNotContain} {
		_, validated := operators[name].Evaluate("scalar", "x")
		if validated {
			t.Errorf("%s: expected validator to reject a scalar fact value", name)
		}
	}
}
