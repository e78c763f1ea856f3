package engine

import "context"

// DefaultFactPriority is the priority assigned to facts that do not declare
// one explicitly.
const DefaultFactPriority = 1

// ComputeFunc computes a dynamic fact value. Implementations may resolve
// further facts through the almanac; such nested resolutions participate in
// the same per-run cache.
type ComputeFunc func(ctx context.Context, params map[string]any, almanac *Almanac) (any, error)

// FactConfig holds per-fact options.
type FactConfig struct {
	// Cache controls whether computed values are memoized per run, keyed by
	// (fact ID, params). Constant facts ignore this setting.
	Cache bool

	// Priority orders condition evaluation: leaves referencing
	// higher-priority facts are evaluated in earlier tiers.
	Priority int
}

// DefaultFactConfig returns the default fact configuration: caching enabled,
// priority 1.
func DefaultFactConfig() FactConfig {
	return FactConfig{
		Cache:    true,
		Priority: DefaultFactPriority,
	}
}

// Fact is a named value source queried by conditions. A fact is either
// constant (holds a fixed value) or dynamic (holds a computation); the kind
// is fixed at construction.
type Fact struct {
	id      string
	value   any
	compute ComputeFunc
	config  FactConfig
}

// NewConstantFact creates a fact that always resolves to the given value.
func NewConstantFact(id string, value any) *Fact {
	return &Fact{
		id:     id,
		value:  value,
		config: DefaultFactConfig(),
	}
}

// NewFact creates a dynamic fact with the default configuration.
func NewFact(id string, compute ComputeFunc) *Fact {
	return NewFactWithConfig(id, compute, DefaultFactConfig())
}

// NewFactWithConfig creates a dynamic fact with an explicit configuration.
// A zero Priority is patched to DefaultFactPriority.
func NewFactWithConfig(id string, compute ComputeFunc, cfg FactConfig) *Fact {
	if cfg.Priority == 0 {
		cfg.Priority = DefaultFactPriority
	}
	return &Fact{
		id:      id,
		compute: compute,
		config:  cfg,
	}
}

// ID returns the fact's unique identifier.
func (f *Fact) ID() string {
	return f.id
}

// Dynamic reports whether the fact is backed by a computation rather than a
// constant value.
func (f *Fact) Dynamic() bool {
	return f.compute != nil
}

// Priority returns the fact's scheduling priority.
func (f *Fact) Priority() int {
	return f.config.Priority
}

// Cacheable reports whether computed values are memoized per run.
func (f *Fact) Cacheable() bool {
	return f.compute != nil && f.config.Cache
}
