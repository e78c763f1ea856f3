package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rulekit/rulekit/pkg/engine"
)

// Outcome classifies a recorded rule event.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// RuleSet is a persisted, named collection of serialized rules.
type RuleSet struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Rules     string    `json:"rules"` // JSON array of serialized rules
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRuleSet serializes engine rules into a persistable rule set.
func NewRuleSet(name, version string, rules []*engine.Rule) (*RuleSet, error) {
	data, err := json.Marshal(rules)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &RuleSet{
		ID:        uuid.New().String(),
		Name:      name,
		Version:   version,
		Rules:     string(data),
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Decode deserializes the stored rules back into engine rules.
func (rs *RuleSet) Decode() ([]*engine.Rule, error) {
	var rules []*engine.Rule
	if err := json.Unmarshal([]byte(rs.Rules), &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// RunRecord is the persisted summary of one engine run.
type RunRecord struct {
	ID          string    `json:"id"`
	RuleSet     string    `json:"rule_set"`
	Status      string    `json:"status"`
	RuleCount   int       `json:"rule_count"`
	EventCount  int       `json:"event_count"`
	ErrorCount  int       `json:"error_count"`
	CacheHits   int64     `json:"cache_hits"`
	CacheMisses int64     `json:"cache_misses"`
	DurationMs  int64     `json:"duration_ms"`
	StartedAt   time.Time `json:"started_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunEvent is one rule event emitted during a recorded run.
type RunEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	RuleName  string    `json:"rule_name"`
	EventType string    `json:"event_type"`
	Params    *string   `json:"params,omitempty"` // JSON blob
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// RuleSet operations
	SaveRuleSet(ctx context.Context, set *RuleSet) error
	GetRuleSet(ctx context.Context, name string) (*RuleSet, error)
	ListRuleSets(ctx context.Context, limit, offset int) ([]*RuleSet, error)
	SetRuleSetEnabled(ctx context.Context, name string, enabled bool) error
	DeleteRuleSet(ctx context.Context, name string) error

	// Run operations
	CreateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, before time.Time) (int64, error)

	// RunEvent operations
	AppendRunEvent(ctx context.Context, event *RunEvent) error
	ListRunEvents(ctx context.Context, runID string, outcome *Outcome, limit, offset int) ([]*RunEvent, error)

	// RecordRunResult persists a run summary and its events atomically.
	RecordRunResult(ctx context.Context, ruleSet string, result *engine.RunResult) error

	// Utility
	HealthCheck(ctx context.Context) error
}
