// Package engine implements a concurrent, data-driven rule evaluation
// engine: declarative rules (boolean trees of conditions over named facts)
// are evaluated against a run-time fact context, emitting success and
// failure events.
//
// # Overview
//
// A run flows through four layers:
//
//  1. Engine - holds the fact, rule, and operator registries and schedules
//     rule evaluation in priority tiers
//  2. Rule - a condition tree plus an event payload and a priority
//  3. Condition - a leaf test {fact, operator, value} or an all/any
//     combinator over children, each with a priority
//  4. Almanac - the per-run fact mediator with a memoization cache
//
// Engine.Run builds a fresh Almanac from the registered facts and the
// caller-supplied runtime facts, groups rules by descending priority, and
// evaluates the tiers strictly in sequence with all rules of a tier running
// concurrently. Each rule recursively evaluates its condition tree the same
// way: sibling conditions are tiered by priority, tiers run in order,
// members of a tier run concurrently, and all/any combinators stop
// scheduling lower tiers once a tier decides the outcome.
//
// # Facts and the almanac
//
// A Fact is either constant or dynamic. Dynamic facts compute their value on
// demand and may declare a cache policy: cached values are memoized for the
// lifetime of one run, keyed by a canonical hash of (fact ID, params) so
// structurally equal params hit the same entry regardless of key order.
// Concurrent requests for the same key observe at most one underlying
// computation; later requesters await the in-flight result.
//
// Runtime facts supplied to Run shadow registered facts of the same ID and
// bypass the cache entirely. The almanac is scoped to exactly one run, so
// concurrent runs on one engine never share cached state.
//
// # Cancellation
//
// Engine.Stop is advisory and tier-granular: it stops new tiers from being
// scheduled but never preempts in-flight work, so rules in the current tier
// may still emit events after Stop returns. Context cancellation is likewise
// observed between tiers. No timeout mechanism is built in; wrap the context
// passed to Run to impose a deadline.
//
// # Errors
//
// Evaluation errors are classified EvalError values. An undefined fact or a
// failed path navigation fails only the owning rule; sibling rules in the
// same or other tiers are unaffected and the errors are collected on the
// RunResult. An unknown operator is a definition bug and always fails the
// owning rule. A fact value rejected by an operator's validator is not an
// error: the leaf evaluates to false.
package engine
