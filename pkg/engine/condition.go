package engine

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Condition is a node in a rule's boolean tree: either a leaf test comparing
// a fact value against a test value via a named operator, or a combinator
// (All/Any) over child conditions. Exactly one of the two forms is valid.
//
// Condition templates are never mutated by evaluation; each run produces an
// annotated ConditionResult tree instead, so one definition is safe to share
// across concurrent runs.
type Condition struct {
	// Leaf fields.
	Fact     string         `json:"fact,omitempty"`
	Operator string         `json:"operator,omitempty"`
	Value    any            `json:"value,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Path     string         `json:"path,omitempty"`

	// Priority orders evaluation among siblings: higher priorities run in
	// earlier tiers. Zero means unset; leaves then inherit the priority of
	// the referenced fact.
	Priority int `json:"priority,omitempty"`

	// Combinator fields. All requires every child to hold; Any requires at
	// least one.
	All []*Condition `json:"all,omitempty"`
	Any []*Condition `json:"any,omitempty"`
}

// FactRef makes a condition's test value reference another fact, enabling
// fact-to-fact comparisons. It resolves through the same almanac (and cache)
// as the leaf's primary fact.
type FactRef struct {
	Fact   string         `json:"fact"`
	Params map[string]any `json:"params,omitempty"`
	Path   string         `json:"path,omitempty"`
}

// ConditionResult is the annotated outcome of evaluating one condition node.
// Only nodes that were actually evaluated appear; tiers pruned by
// short-circuiting are absent.
type ConditionResult struct {
	Fact     string         `json:"fact,omitempty"`
	Operator string         `json:"operator,omitempty"`
	Value    any            `json:"value,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Path     string         `json:"path,omitempty"`
	Priority int            `json:"priority"`

	// Result is the boolean outcome of this node.
	Result bool `json:"result"`

	// FactResult is the resolved fact value a leaf was compared against.
	FactResult any `json:"factResult,omitempty"`

	All []*ConditionResult `json:"all,omitempty"`
	Any []*ConditionResult `json:"any,omitempty"`
}

// NewAllCondition builds an "all" combinator over the given children.
func NewAllCondition(children ...*Condition) *Condition {
	return &Condition{All: children}
}

// NewAnyCondition builds an "any" combinator over the given children.
func NewAnyCondition(children ...*Condition) *Condition {
	return &Condition{Any: children}
}

// NewLeafCondition builds a leaf test.
func NewLeafCondition(fact, operator string, value any) *Condition {
	return &Condition{Fact: fact, Operator: operator, Value: value}
}

// combinator reports whether the node is an All/Any combinator.
func (c *Condition) combinator() bool {
	return c.All != nil || c.Any != nil
}

// Validate checks the structural invariants of the condition tree: a
// combinator carries exactly one non-empty child list and no leaf fields, a
// leaf carries a fact and an operator and no children.
func (c *Condition) Validate() error {
	if c.All != nil && c.Any != nil {
		return NewDefinitionError("condition cannot combine both all and any")
	}
	if c.combinator() {
		if c.Fact != "" || c.Operator != "" {
			return NewDefinitionError("combinator condition cannot carry leaf fields")
		}
		children := c.All
		if children == nil {
			children = c.Any
		}
		if len(children) == 0 {
			return NewDefinitionError("combinator condition requires at least one child")
		}
		for _, child := range children {
			if child == nil {
				return NewDefinitionError("combinator condition has a nil child")
			}
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil
	}
	if c.Fact == "" {
		return NewDefinitionError("leaf condition requires a fact")
	}
	if c.Operator == "" {
		return NewDefinitionError("leaf condition requires an operator")
	}
	return nil
}

// UnmarshalJSON decodes a condition and rejects structurally invalid trees.
func (c *Condition) UnmarshalJSON(data []byte) error {
	type conditionAlias Condition
	var decoded conditionAlias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*c = Condition(decoded)
	return c.Validate()
}

// evalContext carries the per-run collaborators a condition needs: the
// almanac for fact resolution and the operator registry snapshot.
type evalContext struct {
	almanac   *Almanac
	operators map[string]Operator
}

// evaluate recursively evaluates the condition tree against the almanac.
func (c *Condition) evaluate(ctx context.Context, ec *evalContext) (*ConditionResult, error) {
	if c.combinator() {
		return c.evaluateCombinator(ctx, ec)
	}
	return c.evaluateLeaf(ctx, ec)
}

// evaluateCombinator partitions children into descending-priority tiers and
// evaluates tiers strictly in order, members of a tier concurrently. For All
// the first tier containing a false child decides the outcome; for Any the
// first tier containing a true child does. Members already in flight within
// the deciding tier run to completion but cannot change the outcome; lower
// tiers are never scheduled.
func (c *Condition) evaluateCombinator(ctx context.Context, ec *evalContext) (*ConditionResult, error) {
	children := c.All
	conjunction := true
	if children == nil {
		children = c.Any
		conjunction = false
	}

	tiers := prioritizeConditions(children, ec.almanac)

	// All starts true and falsifies; Any starts false and verifies.
	outcome := conjunction
	evaluated := make([]*ConditionResult, 0, len(children))

	for _, tier := range tiers {
		results := make([]*ConditionResult, len(tier))
		errs := make([]error, len(tier))

		var wg sync.WaitGroup
		for i, child := range tier {
			wg.Add(1)
			go func(i int, child *Condition) {
				defer wg.Done()
				results[i], errs[i] = child.evaluate(ctx, ec)
			}(i, child)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}

		decided := false
		for _, r := range results {
			evaluated = append(evaluated, r)
			if conjunction && !r.Result {
				outcome = false
				decided = true
			}
			if !conjunction && r.Result {
				outcome = true
				decided = true
			}
		}
		if decided {
			break
		}
	}

	node := &ConditionResult{
		Priority: c.effectivePriority(ec.almanac),
		Result:   outcome,
	}
	if conjunction {
		node.All = evaluated
	} else {
		node.Any = evaluated
	}
	return node, nil
}

// evaluateLeaf resolves the fact value (and, for fact references, the test
// value) through the almanac and applies the named operator. A fact value
// rejected by the operator's validator yields false without invoking the
// operator.
func (c *Condition) evaluateLeaf(ctx context.Context, ec *evalContext) (*ConditionResult, error) {
	op, ok := ec.operators[c.Operator]
	if !ok {
		return nil, NewUnknownOperatorError(c.Operator).WithFact(c.Fact)
	}

	factValue, err := ec.almanac.FactValue(ctx, c.Fact, c.Params, c.Path)
	if err != nil {
		return nil, err
	}

	testValue := c.Value
	if ref, ok := asFactRef(c.Value); ok {
		testValue, err = ec.almanac.FactValue(ctx, ref.Fact, ref.Params, ref.Path)
		if err != nil {
			return nil, err
		}
	}

	result, _ := op.Evaluate(factValue, testValue)

	return &ConditionResult{
		Fact:       c.Fact,
		Operator:   c.Operator,
		Value:      c.Value,
		Params:     c.Params,
		Path:       c.Path,
		Priority:   c.effectivePriority(ec.almanac),
		Result:     result,
		FactResult: factValue,
	}, nil
}

// asFactRef detects a test value that references another fact, either as a
// typed FactRef or as a decoded JSON object carrying a "fact" key.
func asFactRef(value any) (FactRef, bool) {
	switch v := value.(type) {
	case FactRef:
		return v, v.Fact != ""
	case *FactRef:
		if v == nil {
			return FactRef{}, false
		}
		return *v, v.Fact != ""
	case map[string]any:
		id, ok := v["fact"].(string)
		if !ok || id == "" {
			return FactRef{}, false
		}
		ref := FactRef{Fact: id}
		if params, ok := v["params"].(map[string]any); ok {
			ref.Params = params
		}
		if path, ok := v["path"].(string); ok {
			ref.Path = path
		}
		return ref, true
	default:
		return FactRef{}, false
	}
}

// effectivePriority resolves a node's scheduling priority: an explicit
// priority wins, a leaf inherits the referenced fact's priority, and
// combinators default to 1.
func (c *Condition) effectivePriority(a *Almanac) int {
	if c.Priority > 0 {
		return c.Priority
	}
	if !c.combinator() && a != nil {
		return a.factPriority(c.Fact)
	}
	return DefaultFactPriority
}

// prioritizeConditions groups sibling conditions into descending-priority
// tiers. Order within a tier follows definition order; this is a pure
// utility with no side effects.
func prioritizeConditions(children []*Condition, a *Almanac) [][]*Condition {
	byPriority := make(map[int][]*Condition)
	for _, child := range children {
		p := child.effectivePriority(a)
		byPriority[p] = append(byPriority[p], child)
	}

	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	tiers := make([][]*Condition, 0, len(priorities))
	for _, p := range priorities {
		tiers = append(tiers, byPriority[p])
	}
	return tiers
}
