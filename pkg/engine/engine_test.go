package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

func boolRule(name string, factID string, priority int) *Rule {
	return NewRule(name,
		NewAllCondition(NewLeafCondition(factID, OperatorEqual, true)),
		Event{Type: name},
	).SetPriority(priority)
}

func TestEngine_RunCollectsSuccessfulEvents(t *testing.T) {
	e := NewEngine(Config{})
	if err := e.AddRule(boolRule("hit", "a", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := e.AddRule(boolRule("miss", "b", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result, err := e.Run(context.Background(), map[string]any{"a": true, "b": false})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Status != RunStatusCompleted {
		t.Errorf("Expected completed status, got %s", result.Status)
	}
	if len(result.Events) != 1 || result.Events[0].Type != "hit" {
		t.Errorf("Expected exactly the hit event, got %+v", result.Events)
	}
	if len(result.FailureEvents) != 1 || result.FailureEvents[0].Type != "miss" {
		t.Errorf("Expected exactly the miss failure event, got %+v", result.FailureEvents)
	}
	if len(result.Results) != 1 || len(result.FailureResults) != 1 {
		t.Errorf("Expected 1 success and 1 failure result, got %d / %d",
			len(result.Results), len(result.FailureResults))
	}
}

func TestEngine_PriorityTierOrdering(t *testing.T) {
	// Rules with priorities [10, 10, 5]: both priority-10 rules must finish
	// before the priority-5 rule starts.
	var mu sync.Mutex
	completed := make(map[string]bool)

	e := NewEngine(Config{})

	mark := func(name string) ComputeFunc {
		return func(_ context.Context, _ map[string]any, _ *Almanac) (any, error) {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			completed[name] = true
			mu.Unlock()
			return true, nil
		}
	}
	e.AddFact(NewFact("first", mark("first")))
	e.AddFact(NewFact("second", mark("second")))

	tierObserved := make(chan bool, 1)
	e.AddFact(NewFact("third", func(_ context.Context, _ map[string]any, _ *Almanac) (any, error) {
		mu.Lock()
		tierObserved <- completed["first"] && completed["second"]
		mu.Unlock()
		return true, nil
	}))

	if err := e.AddRule(boolRule("r1", "first", 10)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := e.AddRule(boolRule("r2", "second", 10)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := e.AddRule(boolRule("r3", "third", 5)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.Events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(result.Events))
	}

	if done := <-tierObserved; !done {
		t.Error("Priority-5 rule started before both priority-10 rules completed")
	}
}

func TestEngine_StopBetweenTiers(t *testing.T) {
	e := NewEngine(Config{})

	tier2Invoked := false
	e.AddFact(NewConstantFact("t1", true))
	e.AddFact(NewFact("t2", func(_ context.Context, _ map[string]any, _ *Almanac) (any, error) {
		tier2Invoked = true
		return true, nil
	}))

	tier1 := boolRule("tier1", "t1", 10)
	tier1.OnSuccess(func(Event, *Almanac, *RuleResult) {
		// Stop is requested while tier 1 is in flight; the tier-1 rule still
		// emits, tier 2 never starts.
		e.Stop()
	})
	if err := e.AddRule(tier1); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := e.AddRule(boolRule("tier2", "t2", 5)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Status != RunStatusStopped {
		t.Errorf("Expected stopped status, got %s", result.Status)
	}
	if len(result.Events) != 1 || result.Events[0].Type != "tier1" {
		t.Errorf("Expected only the tier-1 event, got %+v", result.Events)
	}
	if tier2Invoked {
		t.Error("Tier-2 fact must not be computed after stop")
	}
}

func TestEngine_StopFlagResetsOnNextRun(t *testing.T) {
	e := NewEngine(Config{})
	e.AddFact(NewConstantFact("ok", true))
	if err := e.AddRule(boolRule("r", "ok", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	e.Stop()
	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Status != RunStatusCompleted {
		t.Errorf("Expected a fresh run to ignore a stale stop request, got %s", result.Status)
	}
}

func TestEngine_UndefinedFactStrictFailsOnlyOwningRule(t *testing.T) {
	e := NewEngine(Config{})
	e.AddFact(NewConstantFact("present", true))
	if err := e.AddRule(boolRule("healthy", "present", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := e.AddRule(boolRule("broken", "absent", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run itself must not fail: %v", err)
	}

	if len(result.Errors) != 1 {
		t.Fatalf("Expected 1 rule error, got %d", len(result.Errors))
	}
	if !IsUndefinedFact(result.Errors[0]) {
		t.Errorf("Expected undefined fact error, got: %v", result.Errors[0])
	}
	if len(result.Events) != 1 || result.Events[0].Type != "healthy" {
		t.Errorf("Sibling rule must be unaffected, got events %+v", result.Events)
	}
}

func TestEngine_SharedCachedErrorAttributedPerRule(t *testing.T) {
	// Two same-tier rules reference one cacheable fact whose computation
	// fails. The deduplicated error instance is shared through the almanac
	// cache; each rule must annotate its own copy so neither carries the
	// other's name.
	e := NewEngine(Config{})
	e.AddFact(NewFact("flaky", func(ctx context.Context, _ map[string]any, a *Almanac) (any, error) {
		return a.FactValue(ctx, "missing", nil, "")
	}))

	if err := e.AddRule(boolRule("rule-a", "flaky", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := e.AddRule(boolRule("rule-b", "flaky", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run itself must not fail: %v", err)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("Expected 2 rule errors, got %d", len(result.Errors))
	}

	attributed := make(map[string]bool)
	for _, runErr := range result.Errors {
		evalErr, ok := runErr.(*EvalError)
		if !ok {
			t.Fatalf("Expected *EvalError, got %T", runErr)
		}
		if !IsUndefinedFact(evalErr) {
			t.Errorf("Expected undefined fact error, got: %v", evalErr)
		}
		attributed[evalErr.Rule] = true
	}
	if !attributed["rule-a"] || !attributed["rule-b"] {
		t.Errorf("Expected each rule to carry its own attribution, got %v", attributed)
	}
	if result.Errors[0] == result.Errors[1] {
		t.Error("Expected distinct error instances per rule")
	}
}

func TestEngine_AllowUndefinedFacts(t *testing.T) {
	e := NewEngine(Config{AllowUndefinedFacts: true})
	if err := e.AddRule(boolRule("lenient", "absent", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Errors) != 0 {
		t.Fatalf("Expected no errors in lenient mode, got %v", result.Errors)
	}
	// nil fact value compared equal to true is false: the rule completes
	// with a failure outcome.
	if len(result.FailureEvents) != 1 {
		t.Errorf("Expected the lenient rule to complete as a failure, got %+v", result.FailureEvents)
	}
}

func TestEngine_RegistryMutation(t *testing.T) {
	e := NewEngine(Config{})

	e.AddFact(NewConstantFact("f", 1))
	if !e.RemoveFact("f") {
		t.Error("Expected RemoveFact to report existing fact")
	}
	if e.RemoveFact("f") {
		t.Error("Expected RemoveFact to report missing fact")
	}

	if err := e.AddRule(boolRule("r", "f", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !e.RemoveRule("r") {
		t.Error("Expected RemoveRule to report existing rule")
	}
	if e.RemoveRule("r") {
		t.Error("Expected RemoveRule to report missing rule")
	}

	if e.RemoveOperator("equal") != true {
		t.Error("Expected built-in operator to be removable")
	}
	if e.RemoveOperator("equal") {
		t.Error("Expected RemoveOperator to report missing operator")
	}
}

func TestEngine_AddRuleOverwritesByName(t *testing.T) {
	e := NewEngine(Config{})
	e.AddFact(NewConstantFact("f", true))

	if err := e.AddRule(boolRule("r", "f", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	replacement := NewRule("r",
		NewAllCondition(NewLeafCondition("f", OperatorEqual, false)),
		Event{Type: "replaced"},
	)
	if err := e.AddRule(replacement); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	total := len(result.Results) + len(result.FailureResults)
	if total != 1 {
		t.Errorf("Expected the replacement to overwrite, got %d evaluations", total)
	}
}

func TestEngine_AddRuleRejectsInvalidDefinition(t *testing.T) {
	e := NewEngine(Config{})
	err := e.AddRule(NewRule("bad", NewLeafCondition("f", OperatorEqual, 1), Event{Type: "t"}))
	if err == nil {
		t.Fatal("Expected invalid rule to be rejected")
	}
	if !IsDefinition(err) {
		t.Errorf("Expected definition error, got: %v", err)
	}
}

func TestEngine_CustomOperator(t *testing.T) {
	e := NewEngine(Config{})
	e.AddOperator(NewOperator("startsWith", func(factValue, testValue any) bool {
		fv, ok1 := factValue.(string)
		tv, ok2 := testValue.(string)
		return ok1 && ok2 && len(fv) >= len(tv) && fv[:len(tv)] == tv
	}, func(factValue any) bool {
		_, ok := factValue.(string)
		return ok
	}))

	rule := NewRule("prefixed",
		NewAllCondition(NewLeafCondition("name", "startsWith", "rule")),
		Event{Type: "matched"},
	)
	if err := e.AddRule(rule); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result, err := e.Run(context.Background(), map[string]any{"name": "rulekit"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.Events) != 1 {
		t.Errorf("Expected custom operator match, got %+v", result.Events)
	}
}

func TestEngine_EngineWideSubscribers(t *testing.T) {
	e := NewEngine(Config{})
	e.AddFact(NewConstantFact("yes", true))
	e.AddFact(NewConstantFact("no", false))
	if err := e.AddRule(boolRule("pass", "yes", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := e.AddRule(boolRule("fail", "no", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var mu sync.Mutex
	var successes, failures []string
	e.OnSuccess(func(event Event, _ *Almanac, _ *RuleResult) {
		mu.Lock()
		successes = append(successes, event.Type)
		mu.Unlock()
	})
	e.OnFailure(func(event Event, _ *Almanac, _ *RuleResult) {
		mu.Lock()
		failures = append(failures, event.Type)
		mu.Unlock()
	})

	var completions []*RunResult
	e.OnRunCompleted(func(result *RunResult) {
		completions = append(completions, result)
	})

	if _, err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(successes) != 1 || successes[0] != "pass" {
		t.Errorf("Expected engine-wide success for pass, got %v", successes)
	}
	if len(failures) != 1 || failures[0] != "fail" {
		t.Errorf("Expected engine-wide failure for fail, got %v", failures)
	}
	if len(completions) != 1 {
		t.Errorf("Expected 1 run completion notification, got %d", len(completions))
	}
}

func TestEngine_ConcurrentRunsAreIsolated(t *testing.T) {
	e := NewEngine(Config{})
	e.AddFact(NewFact("echo", func(_ context.Context, _ map[string]any, a *Almanac) (any, error) {
		return a.FactValue(context.Background(), "input", nil, "")
	}))
	rule := NewRule("match",
		NewAllCondition(NewLeafCondition("echo", OperatorEqual, "a")),
		Event{Type: "matched-a"},
	)
	if err := e.AddRule(rule); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	const runs = 8
	results := make([]*RunResult, runs)
	errs := make([]error, runs)

	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := "a"
			if i%2 == 1 {
				input = "b"
			}
			results[i], errs[i] = e.Run(context.Background(), map[string]any{"input": input})
		}(i)
	}
	wg.Wait()

	for i := 0; i < runs; i++ {
		if errs[i] != nil {
			t.Fatalf("Run %d failed: %v", i, errs[i])
		}
		wantEvents := 1 - i%2
		if len(results[i].Events) != wantEvents {
			t.Errorf("Run %d: expected %d events, got %d (cache leaked across runs?)",
				i, wantEvents, len(results[i].Events))
		}
	}
}

func TestEngine_ContextCancellationBetweenTiers(t *testing.T) {
	e := NewEngine(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	e.AddFact(NewFact("t1", func(_ context.Context, _ map[string]any, _ *Almanac) (any, error) {
		cancel()
		return true, nil
	}))
	tier2Invoked := false
	e.AddFact(NewFact("t2", func(_ context.Context, _ map[string]any, _ *Almanac) (any, error) {
		tier2Invoked = true
		return true, nil
	}))

	if err := e.AddRule(boolRule("tier1", "t1", 10)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := e.AddRule(boolRule("tier2", "t2", 5)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result, err := e.Run(ctx, nil)
	if err == nil {
		t.Fatal("Expected context cancellation to surface")
	}
	if result.Status != RunStatusStopped {
		t.Errorf("Expected stopped status, got %s", result.Status)
	}
	if tier2Invoked {
		t.Error("Tier-2 fact must not be computed after cancellation")
	}
}

type recordingObserver struct {
	mu        sync.Mutex
	started   int
	evaluated int
	completed int
	status    RunStatus
}

func (o *recordingObserver) RunStarted(string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) RuleEvaluated(string, *RuleResult, error, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evaluated++
}

func (o *recordingObserver) RunCompleted(_ string, status RunStatus, _ time.Duration, _ CacheStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed++
	o.status = status
}

func TestEngine_ObserverCallbacks(t *testing.T) {
	observer := &recordingObserver{}
	e := NewEngine(Config{Observer: observer})
	e.AddFact(NewConstantFact("f", true))
	if err := e.AddRule(boolRule("a", "f", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := e.AddRule(boolRule("b", "f", 2)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if observer.started != 1 || observer.completed != 1 {
		t.Errorf("Expected 1 start / 1 completion, got %d / %d", observer.started, observer.completed)
	}
	if observer.evaluated != 2 {
		t.Errorf("Expected 2 rule evaluations observed, got %d", observer.evaluated)
	}
	if observer.status != RunStatusCompleted {
		t.Errorf("Expected completed status observed, got %s", observer.status)
	}
}

func TestEngine_ReplaceRules(t *testing.T) {
	e := NewEngine(Config{})
	e.AddFact(NewConstantFact("f", true))
	if err := e.AddRule(boolRule("old", "f", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := e.ReplaceRules([]*Rule{boolRule("new-a", "f", 1), boolRule("new-b", "f", 1)}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.Events) != 2 {
		t.Errorf("Expected 2 events from the replacement set, got %d", len(result.Events))
	}
	for _, event := range result.Events {
		if event.Type == "old" {
			t.Error("Expected the old rule to be gone after ReplaceRules")
		}
	}
}

func TestEngine_ReplaceRulesKeepsCurrentSetOnInvalid(t *testing.T) {
	e := NewEngine(Config{})
	e.AddFact(NewConstantFact("f", true))
	if err := e.AddRule(boolRule("keep", "f", 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	bad := NewRule("bad", NewLeafCondition("f", OperatorEqual, 1), Event{Type: "t"})
	if err := e.ReplaceRules([]*Rule{bad}); err == nil {
		t.Fatal("Expected invalid replacement to be rejected")
	}

	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.Events) != 1 {
		t.Errorf("Expected the original rule set to survive, got %d events", len(result.Events))
	}
}
