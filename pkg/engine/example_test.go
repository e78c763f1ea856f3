package engine_test

import (
	"context"
	"fmt"
	"sort"

	"github.com/rulekit/rulekit/pkg/engine"
)

// ExampleEngine_Run shows a run with a dynamic fact, a fact-to-fact
// comparison, and a runtime fact supplied at call time.
func ExampleEngine_Run() {
	e := engine.NewEngine(engine.Config{})

	e.AddFact(engine.NewConstantFact("minimumAge", 18))

	adult := engine.NewRule("adult",
		engine.NewAllCondition(
			engine.NewLeafCondition("age", engine.OperatorGreaterThanInclusive, engine.FactRef{Fact: "minimumAge"}),
		),
		engine.Event{Type: "adult"},
	)
	teen := engine.NewRule("teen",
		engine.NewAllCondition(
			engine.NewLeafCondition("age", engine.OperatorLessThan, engine.FactRef{Fact: "minimumAge"}),
		),
		engine.Event{Type: "teen"},
	)
	if err := e.AddRule(adult); err != nil {
		fmt.Println(err)
		return
	}
	if err := e.AddRule(teen); err != nil {
		fmt.Println(err)
		return
	}

	result, err := e.Run(context.Background(), map[string]any{"age": 21})
	if err != nil {
		fmt.Println(err)
		return
	}

	types := make([]string, 0, len(result.Events))
	for _, event := range result.Events {
		types = append(types, event.Type)
	}
	sort.Strings(types)
	fmt.Println(types)
	// Output: [adult]
}

// ExampleRule_OnSuccess demonstrates per-rule subscriber notifications.
func ExampleRule_OnSuccess() {
	e := engine.NewEngine(engine.Config{})

	rule := engine.NewRule("big-cart",
		engine.NewAllCondition(
			engine.NewLeafCondition("cart", engine.OperatorGreaterThan, 100),
		),
		engine.Event{Type: "free-shipping"},
	)
	rule.OnSuccess(func(event engine.Event, _ *engine.Almanac, _ *engine.RuleResult) {
		fmt.Println("fired:", event.Type)
	})
	if err := e.AddRule(rule); err != nil {
		fmt.Println(err)
		return
	}

	if _, err := e.Run(context.Background(), map[string]any{"cart": 140}); err != nil {
		fmt.Println(err)
		return
	}
	// Output: fired: free-shipping
}
