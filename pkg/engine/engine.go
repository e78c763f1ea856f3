package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds engine construction options.
type Config struct {
	// AllowUndefinedFacts makes references to unregistered facts resolve to
	// nil instead of failing the owning rule.
	AllowUndefinedFacts bool

	// Logger receives engine debug logging. Nil means no logging.
	Logger *zerolog.Logger

	// Observer receives lifecycle callbacks, e.g. the telemetry metrics
	// collector. Nil means no observation.
	Observer Observer

	// Tracer wraps runs and rule evaluations in spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Engine orchestrates facts, rules, and operators. Rules are grouped into
// descending-priority tiers; tiers run strictly in sequence and the rules
// within a tier run concurrently, each against the run's shared almanac.
//
// The registries are read-mostly during a run: multiple runs may execute
// concurrently against one engine, but mutating the registries while a run
// is in flight is caller-disallowed and has undefined behavior.
type Engine struct {
	mu        sync.RWMutex
	facts     map[string]*Fact
	rules     []*Rule
	operators map[string]Operator

	onSuccess  []EventHandler
	onFailure  []EventHandler
	onComplete []RunHandler

	allowUndefinedFacts bool
	logger              zerolog.Logger
	observer            Observer
	tracer              trace.Tracer

	stopRequested atomic.Bool
}

// NewEngine creates an engine with the default operator set registered.
func NewEngine(cfg Config) *Engine {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("rulekit")
	}

	e := &Engine{
		facts:               make(map[string]*Fact),
		operators:           make(map[string]Operator),
		allowUndefinedFacts: cfg.AllowUndefinedFacts,
		logger:              logger,
		observer:            observer,
		tracer:              tracer,
	}
	for _, op := range defaultOperators() {
		e.operators[op.Name()] = op
	}
	return e
}

// AddFact registers a fact, overwriting any fact with the same ID.
func (e *Engine) AddFact(fact *Fact) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.facts[fact.ID()] = fact
}

// RemoveFact removes a fact by ID, reporting whether it existed.
func (e *Engine) RemoveFact(factID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.facts[factID]
	delete(e.facts, factID)
	return ok
}

// AddRule validates and registers a rule, overwriting any rule with the same
// name.
func (e *Engine) AddRule(rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.rules {
		if existing.Name() == rule.Name() && rule.Name() != "" {
			e.rules[i] = rule
			return nil
		}
	}
	e.rules = append(e.rules, rule)
	return nil
}

// RemoveRule removes a rule by name, reporting whether it existed.
func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, rule := range e.rules {
		if rule.Name() == name {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// ReplaceRules validates the given rules and atomically swaps them in for
// the current set. On validation failure the current set is kept. Intended
// for hot reload; must not be called while a run is in flight.
func (e *Engine) ReplaceRules(rules []*Rule) error {
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append([]*Rule(nil), rules...)
	return nil
}

// AddOperator registers an operator, overwriting any operator with the same
// name.
func (e *Engine) AddOperator(op Operator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.operators[op.Name()] = op
}

// RemoveOperator removes an operator by name, reporting whether it existed.
func (e *Engine) RemoveOperator(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.operators[name]
	delete(e.operators, name)
	return ok
}

// OnSuccess subscribes a handler to every rule success in every run.
func (e *Engine) OnSuccess(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSuccess = append(e.onSuccess, handler)
}

// OnFailure subscribes a handler to every rule failure in every run.
func (e *Engine) OnFailure(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFailure = append(e.onFailure, handler)
}

// OnRunCompleted subscribes a handler to run completion.
func (e *Engine) OnRunCompleted(handler RunHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onComplete = append(e.onComplete, handler)
}

// Stop requests that in-flight runs stop starting new tiers. The flag is
// checked between tiers only: rules already scheduled within the current
// tier run to completion and may still emit events after Stop returns. Stop
// means "stop starting new tiers", not "cancel in-flight work". The flag
// resets on the next Run call.
func (e *Engine) Stop() {
	e.stopRequested.Store(true)
}

// Run evaluates all registered rules against a fresh almanac seeded with the
// given runtime facts. Runtime facts shadow registered facts of the same ID
// for this run only.
//
// Per-rule evaluation errors are collected on the result and fail only the
// owning rule. The returned error is non-nil only when the run itself could
// not proceed (context cancellation between tiers).
func (e *Engine) Run(ctx context.Context, runtimeFacts map[string]any) (*RunResult, error) {
	e.mu.RLock()
	facts := make(map[string]*Fact, len(e.facts))
	for id, f := range e.facts {
		facts[id] = f
	}
	operators := make(map[string]Operator, len(e.operators))
	for name, op := range e.operators {
		operators[name] = op
	}
	rules := make([]*Rule, len(e.rules))
	copy(rules, e.rules)
	onSuccess := append([]EventHandler(nil), e.onSuccess...)
	onFailure := append([]EventHandler(nil), e.onFailure...)
	onComplete := append([]RunHandler(nil), e.onComplete...)
	e.mu.RUnlock()

	e.stopRequested.Store(false)

	runID := uuid.New().String()
	almanac := newAlmanac(facts, runtimeFacts, e.allowUndefinedFacts, e.logger)

	ctx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.rules", len(rules)),
		))
	defer span.End()

	e.logger.Debug().
		Str("run_id", runID).
		Int("rules", len(rules)).
		Int("runtime_facts", len(runtimeFacts)).
		Msg("run started")
	e.observer.RunStarted(runID, len(rules))

	started := time.Now()
	result := &RunResult{
		RunID:   runID,
		Status:  RunStatusCompleted,
		Events:  make([]Event, 0),
		Almanac: almanac,
	}

	var resultMu sync.Mutex

	tiers := prioritizeRules(rules)
	for _, tier := range tiers {
		var wg sync.WaitGroup
		for _, rule := range tier {
			wg.Add(1)
			go func(rule *Rule) {
				defer wg.Done()
				e.evaluateRule(ctx, runID, rule, almanac, operators, onSuccess, onFailure, result, &resultMu)
			}(rule)
		}
		wg.Wait()

		if err := ctx.Err(); err != nil {
			result.Status = RunStatusStopped
			result.Duration = time.Since(started)
			e.observer.RunCompleted(runID, result.Status, result.Duration, almanac.Stats())
			return result, err
		}
		if e.stopRequested.Load() {
			result.Status = RunStatusStopped
			break
		}
	}

	result.Duration = time.Since(started)
	span.SetAttributes(attribute.String("run.status", string(result.Status)))

	e.logger.Debug().
		Str("run_id", runID).
		Str("status", string(result.Status)).
		Int("events", len(result.Events)).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("run finished")
	e.observer.RunCompleted(runID, result.Status, result.Duration, almanac.Stats())

	for _, handler := range onComplete {
		notifyRun(handler, result)
	}

	return result, nil
}

// evaluateRule evaluates one rule and folds its outcome into the shared run
// result. A rule's evaluation error is recorded and does not affect sibling
// rules.
func (e *Engine) evaluateRule(
	ctx context.Context,
	runID string,
	rule *Rule,
	almanac *Almanac,
	operators map[string]Operator,
	onSuccess, onFailure []EventHandler,
	result *RunResult,
	resultMu *sync.Mutex,
) {
	ctx, span := e.tracer.Start(ctx, "engine.rule",
		trace.WithAttributes(attribute.String("rule.name", rule.Name())))
	defer span.End()

	started := time.Now()
	res, err := rule.Evaluate(ctx, almanac, operators)
	e.observer.RuleEvaluated(runID, res, err, time.Since(started))

	if err != nil {
		span.RecordError(err)
		e.logger.Warn().
			Str("run_id", runID).
			Str("rule", rule.Name()).
			Err(err).
			Msg("rule evaluation failed")
		resultMu.Lock()
		result.Errors = append(result.Errors, err)
		resultMu.Unlock()
		return
	}

	handlers := onSuccess
	if !res.Result {
		handlers = onFailure
	}
	for _, handler := range handlers {
		notify(handler, res.Event, almanac, res)
	}

	resultMu.Lock()
	defer resultMu.Unlock()
	if res.Result {
		result.Events = append(result.Events, res.Event)
		result.Results = append(result.Results, res)
	} else {
		result.FailureEvents = append(result.FailureEvents, res.Event)
		result.FailureResults = append(result.FailureResults, res)
	}
}

// notifyRun invokes a run completion handler, containing panics.
func notifyRun(handler RunHandler, result *RunResult) {
	defer func() {
		_ = recover()
	}()
	handler(result)
}

// prioritizeRules groups rules into descending-priority tiers. No ordering
// is guaranteed between rules of equal priority.
func prioritizeRules(rules []*Rule) [][]*Rule {
	byPriority := make(map[int][]*Rule)
	for _, rule := range rules {
		byPriority[rule.Priority()] = append(byPriority[rule.Priority()], rule)
	}

	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	tiers := make([][]*Rule, 0, len(priorities))
	for _, p := range priorities {
		tiers = append(tiers, byPriority[p])
	}
	return tiers
}
