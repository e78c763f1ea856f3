package engine

import "time"

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	// RunStatusCompleted means every tier was evaluated.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusStopped means Stop was observed between tiers and the
	// remaining tiers were never scheduled. Rules in tiers that did run may
	// still have emitted events.
	RunStatusStopped RunStatus = "stopped"
)

// RunResult aggregates the outcome of one engine run.
type RunResult struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// Status is the terminal run status.
	Status RunStatus `json:"status"`

	// Events are the event payloads of rules whose conditions held.
	Events []Event `json:"events"`

	// FailureEvents are the event payloads of rules whose conditions did
	// not hold.
	FailureEvents []Event `json:"failure_events,omitempty"`

	// Results holds the annotated results of successful rules.
	Results []*RuleResult `json:"results,omitempty"`

	// FailureResults holds the annotated results of failed rules.
	FailureResults []*RuleResult `json:"failure_results,omitempty"`

	// Errors collects per-rule evaluation errors. An erroring rule emits no
	// events and appears in neither result list; sibling rules are
	// unaffected.
	Errors []error `json:"-"`

	// Almanac is the run's fact mediator, exposed for post-run inspection.
	Almanac *Almanac `json:"-"`

	// Duration is the wall-clock time the run took.
	Duration time.Duration `json:"duration"`
}

// RunHandler receives the aggregated result when a run reaches a terminal
// status.
type RunHandler func(result *RunResult)

// Observer receives engine lifecycle callbacks, e.g. for metrics. All
// methods are called synchronously from the run path and must be cheap.
type Observer interface {
	// RunStarted is called when a run begins, with the number of rules
	// scheduled.
	RunStarted(runID string, rules int)

	// RuleEvaluated is called after each rule evaluation. The result is nil
	// when the evaluation erred.
	RuleEvaluated(runID string, result *RuleResult, err error, d time.Duration)

	// RunCompleted is called when a run reaches a terminal status.
	RunCompleted(runID string, status RunStatus, d time.Duration, cache CacheStats)
}

// nopObserver is used when no observer is configured.
type nopObserver struct{}

func (nopObserver) RunStarted(string, int)                                 {}
func (nopObserver) RuleEvaluated(string, *RuleResult, error, time.Duration) {}
func (nopObserver) RunCompleted(string, RunStatus, time.Duration, CacheStats) {}
