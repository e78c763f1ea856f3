package engine

import (
	"context"
	"encoding/json"
)

// DefaultRulePriority is the scheduling priority assigned to rules that do
// not declare one.
const DefaultRulePriority = 1

// Event is the payload a rule emits on success or failure.
type Event struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// RuleResult is the outcome of evaluating one rule: the annotated condition
// tree alongside the boolean result, for explainability by callers.
type RuleResult struct {
	Name       string           `json:"name,omitempty"`
	Conditions *ConditionResult `json:"conditions"`
	Event      Event            `json:"event"`
	Priority   int              `json:"priority"`
	Result     bool             `json:"result"`
}

// EventHandler receives a rule's success or failure notification. Handlers
// are invoked in registration order; the engine does not await or depend on
// anything a handler does, and a handler panic is contained and logged
// rather than failing the evaluation.
type EventHandler func(event Event, almanac *Almanac, result *RuleResult)

// Rule couples a condition tree with an event payload and a scheduling
// priority. Rules are immutable once added to an engine except through the
// fluent setters, which must not be called while a run is in flight.
type Rule struct {
	name       string
	priority   int
	conditions *Condition
	event      Event
	onSuccess  []EventHandler
	onFailure  []EventHandler
}

// NewRule creates a rule with the default priority. The conditions root must
// be a combinator.
func NewRule(name string, conditions *Condition, event Event) *Rule {
	return &Rule{
		name:       name,
		priority:   DefaultRulePriority,
		conditions: conditions,
		event:      event,
	}
}

// Name returns the rule's name.
func (r *Rule) Name() string {
	return r.name
}

// Priority returns the rule's scheduling priority.
func (r *Rule) Priority() int {
	return r.priority
}

// Conditions returns the rule's condition tree template.
func (r *Rule) Conditions() *Condition {
	return r.conditions
}

// Event returns the rule's event payload.
func (r *Rule) Event() Event {
	return r.event
}

// SetPriority sets the scheduling priority (must be >= 1) and returns the
// rule for chaining.
func (r *Rule) SetPriority(priority int) *Rule {
	if priority < 1 {
		priority = DefaultRulePriority
	}
	r.priority = priority
	return r
}

// SetConditions replaces the condition tree and returns the rule for
// chaining.
func (r *Rule) SetConditions(conditions *Condition) *Rule {
	r.conditions = conditions
	return r
}

// SetEvent replaces the event payload and returns the rule for chaining.
func (r *Rule) SetEvent(event Event) *Rule {
	r.event = event
	return r
}

// OnSuccess subscribes a handler to this rule's success notifications and
// returns the rule for chaining.
func (r *Rule) OnSuccess(handler EventHandler) *Rule {
	r.onSuccess = append(r.onSuccess, handler)
	return r
}

// OnFailure subscribes a handler to this rule's failure notifications and
// returns the rule for chaining.
func (r *Rule) OnFailure(handler EventHandler) *Rule {
	r.onFailure = append(r.onFailure, handler)
	return r
}

// Validate checks the rule's structural invariants.
func (r *Rule) Validate() error {
	if r.conditions == nil {
		return NewDefinitionError("rule requires conditions").WithRule(r.name)
	}
	if !r.conditions.combinator() {
		return NewDefinitionError("rule conditions root must be an all/any combinator").WithRule(r.name)
	}
	if r.event.Type == "" {
		return NewDefinitionError("rule event requires a type").WithRule(r.name)
	}
	if err := r.conditions.Validate(); err != nil {
		if evalErr, ok := err.(*EvalError); ok {
			return evalErr.WithRule(r.name)
		}
		return err
	}
	return nil
}

// Evaluate evaluates the rule's condition tree against the almanac and
// notifies the rule's subscribers of the outcome. Errors during condition
// evaluation fail this rule only; they carry the rule name for attribution.
func (r *Rule) Evaluate(ctx context.Context, almanac *Almanac, operators map[string]Operator) (*RuleResult, error) {
	ec := &evalContext{almanac: almanac, operators: operators}

	conditions, err := r.conditions.evaluate(ctx, ec)
	if err != nil {
		if evalErr, ok := err.(*EvalError); ok && evalErr.Rule == "" {
			return nil, evalErr.WithRule(r.name)
		}
		return nil, err
	}

	result := &RuleResult{
		Name:       r.name,
		Conditions: conditions,
		Event:      r.event,
		Priority:   r.priority,
		Result:     conditions.Result,
	}

	handlers := r.onSuccess
	if !result.Result {
		handlers = r.onFailure
	}
	for _, handler := range handlers {
		notify(handler, r.event, almanac, result)
	}

	return result, nil
}

// notify invokes a subscriber, containing panics so notification failures
// cannot abort evaluation.
func notify(handler EventHandler, event Event, almanac *Almanac, result *RuleResult) {
	defer func() {
		if r := recover(); r != nil {
			almanac.logger.Error().
				Str("rule", result.Name).
				Str("event", event.Type).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	handler(event, almanac, result)
}

// ruleJSON is the serialized form of a rule's defining fields. Evaluation
// annotations and subscribers are not part of it.
type ruleJSON struct {
	Name       string     `json:"name,omitempty"`
	Priority   int        `json:"priority"`
	Conditions *Condition `json:"conditions"`
	Event      Event      `json:"event"`
}

// MarshalJSON serializes the rule's defining fields: name, priority,
// conditions, and event.
func (r *Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(ruleJSON{
		Name:       r.name,
		Priority:   r.priority,
		Conditions: r.conditions,
		Event:      r.event,
	})
}

// UnmarshalJSON reconstructs a rule from its serialized defining fields. The
// round-tripped rule evaluates identically to the original.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var decoded ruleJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	r.name = decoded.Name
	r.priority = decoded.Priority
	if r.priority < 1 {
		r.priority = DefaultRulePriority
	}
	r.conditions = decoded.Conditions
	r.event = decoded.Event
	return r.Validate()
}
