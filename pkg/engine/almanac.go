package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Almanac mediates every fact lookup during a single run. It holds the
// registered facts, caller-supplied runtime overrides, and a memoization
// cache keyed by (fact ID, canonicalized params).
//
// An almanac is scoped to exactly one run and must not be shared across
// runs. The cache is the only shared mutable state between concurrently
// evaluating conditions; concurrent requests for the same (fact ID, params)
// pair observe at most one underlying computation.
type Almanac struct {
	facts               map[string]*Fact
	allowUndefinedFacts bool
	logger              zerolog.Logger

	mu           sync.Mutex
	runtimeFacts map[string]any
	cache        map[string]*cacheEntry

	hits   atomic.Int64
	misses atomic.Int64
}

// cacheEntry is claimed atomically on miss so later requesters await the
// first in-flight computation instead of recomputing.
type cacheEntry struct {
	done  chan struct{}
	value any
	err   error
}

// CacheStats reports almanac cache effectiveness for one run.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// NewAlmanac creates an almanac over the given facts, seeded with runtime
// fact overrides. Runtime facts shadow registered facts of the same ID.
func NewAlmanac(facts map[string]*Fact, runtimeFacts map[string]any) *Almanac {
	return newAlmanac(facts, runtimeFacts, false, zerolog.Nop())
}

func newAlmanac(facts map[string]*Fact, runtimeFacts map[string]any, allowUndefined bool, logger zerolog.Logger) *Almanac {
	rf := make(map[string]any, len(runtimeFacts))
	for id, v := range runtimeFacts {
		rf[id] = v
	}
	if facts == nil {
		facts = make(map[string]*Fact)
	}
	return &Almanac{
		facts:               facts,
		runtimeFacts:        rf,
		allowUndefinedFacts: allowUndefined,
		logger:              logger,
		cache:               make(map[string]*cacheEntry),
	}
}

// AddRuntimeFact inserts or overwrites a runtime fact. This is the only
// mutation permitted after construction.
func (a *Almanac) AddRuntimeFact(factID string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeFacts[factID] = value
}

// RuntimeFacts returns a snapshot of the runtime fact overrides.
func (a *Almanac) RuntimeFacts() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.runtimeFacts))
	for id, v := range a.runtimeFacts {
		out[id] = v
	}
	return out
}

// Stats returns the cache hit/miss counters for this run.
func (a *Almanac) Stats() CacheStats {
	return CacheStats{
		Hits:   a.hits.Load(),
		Misses: a.misses.Load(),
	}
}

// FactValue resolves a fact value by ID. Runtime facts are caller
// authoritative: they bypass both registered facts and the cache. A non-empty
// path navigates into the resolved value via dot/bracket traversal.
//
// Referencing a fact that is neither registered nor supplied at run time
// fails with an undefined fact error unless the engine was configured with
// AllowUndefinedFacts, in which case the value resolves to nil.
func (a *Almanac) FactValue(ctx context.Context, factID string, params map[string]any, path string) (any, error) {
	value, defined, err := a.resolve(ctx, factID, params)
	if err != nil {
		return nil, err
	}
	if !defined || path == "" {
		return value, nil
	}
	resolved, err := resolvePath(value, path)
	if err != nil {
		return nil, NewPathResolutionError(factID, path, err)
	}
	return resolved, nil
}

// resolve produces the raw fact value before path navigation. The defined
// flag is false only in the lenient undefined-fact case, where path
// navigation is skipped rather than failed.
func (a *Almanac) resolve(ctx context.Context, factID string, params map[string]any) (any, bool, error) {
	a.mu.Lock()
	if value, ok := a.runtimeFacts[factID]; ok {
		a.mu.Unlock()
		return value, true, nil
	}
	a.mu.Unlock()

	fact, ok := a.facts[factID]
	if !ok {
		if a.allowUndefinedFacts {
			a.logger.Debug().Str("fact", factID).Msg("undefined fact resolved as nil")
			return nil, false, nil
		}
		return nil, false, NewUndefinedFactError(factID)
	}

	if !fact.Dynamic() {
		return fact.value, true, nil
	}

	if !fact.Cacheable() {
		a.misses.Add(1)
		value, err := fact.compute(ctx, params, a)
		return value, true, err
	}

	key, err := cacheKey(factID, params)
	if err != nil {
		return nil, false, NewInternalError("failed to derive cache key", err).WithFact(factID)
	}

	a.mu.Lock()
	entry, inFlight := a.cache[key]
	if !inFlight {
		entry = &cacheEntry{done: make(chan struct{})}
		a.cache[key] = entry
	}
	a.mu.Unlock()

	if inFlight {
		a.hits.Add(1)
		select {
		case <-entry.done:
			return entry.value, true, entry.err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	a.misses.Add(1)
	entry.value, entry.err = fact.compute(ctx, params, a)
	close(entry.done)
	return entry.value, true, entry.err
}

// factPriority returns the scheduling priority of a registered fact, or the
// default when the fact is unknown (runtime facts carry no priority).
func (a *Almanac) factPriority(factID string) int {
	if fact, ok := a.facts[factID]; ok {
		return fact.Priority()
	}
	return DefaultFactPriority
}

var pathSegmentRe = regexp.MustCompile(`^([^[\]]+)|\[(\d+)\]`)

// resolvePath navigates into a value by a dot/bracket path such as
// "address.zip" or "items[0].sku". A leading "$." prefix is tolerated.
func resolvePath(value any, path string) (any, error) {
	trimmed := strings.TrimPrefix(path, "$")
	trimmed = strings.TrimPrefix(trimmed, ".")

	current := value
	for _, part := range strings.Split(trimmed, ".") {
		if part == "" {
			return nil, fmt.Errorf("empty path segment in %q", path)
		}
		rest := part
		for rest != "" {
			m := pathSegmentRe.FindStringSubmatch(rest)
			if m == nil {
				return nil, fmt.Errorf("malformed path segment %q", part)
			}
			if m[1] != "" {
				next, err := navigateKey(current, m[1])
				if err != nil {
					return nil, err
				}
				current = next
			} else {
				idx, _ := strconv.Atoi(m[2])
				next, err := navigateIndex(current, idx)
				if err != nil {
					return nil, err
				}
				current = next
			}
			rest = rest[len(m[0]):]
		}
	}
	return current, nil
}

func navigateKey(value any, key string) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cannot select key %q from %T", key, value)
	}
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("key %q not present", key)
	}
	return v, nil
}

func navigateIndex(value any, idx int) (any, error) {
	s, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("cannot index into %T", value)
	}
	if idx < 0 || idx >= len(s) {
		return nil, fmt.Errorf("index %d out of range (len %d)", idx, len(s))
	}
	return s[idx], nil
}
