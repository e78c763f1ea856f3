package engine

// EvaluateFunc is a binary predicate comparing a resolved fact value against
// a condition's test value.
type EvaluateFunc func(factValue, testValue any) bool

// ValidatorFunc guards an operator against fact values it cannot compare.
// When a validator rejects the fact value, the condition evaluates to false
// without invoking the operator.
type ValidatorFunc func(factValue any) bool

// Operator is a named, stateless binary predicate used by leaf conditions.
type Operator struct {
	name      string
	evaluate  EvaluateFunc
	validator ValidatorFunc
}

// NewOperator creates an operator. A nil validator accepts every fact value.
func NewOperator(name string, evaluate EvaluateFunc, validator ValidatorFunc) Operator {
	return Operator{
		name:      name,
		evaluate:  evaluate,
		validator: validator,
	}
}

// Name returns the operator's registry name.
func (o Operator) Name() string {
	return o.name
}

// Evaluate applies the operator, honoring its validator. The validated flag
// is false when the fact value was rejected before comparison.
func (o Operator) Evaluate(factValue, testValue any) (result, validated bool) {
	if o.validator != nil && !o.validator(factValue) {
		return false, false
	}
	return o.evaluate(factValue, testValue), true
}
