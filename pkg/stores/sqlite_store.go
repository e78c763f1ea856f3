package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/rulekit/rulekit/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// SaveRuleSet inserts or updates a rule set by name
func (s *SQLiteStore) SaveRuleSet(ctx context.Context, set *RuleSet) error {
	query := `
		INSERT INTO rule_sets (id, name, version, rules, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			rules = excluded.rules,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		set.ID,
		set.Name,
		set.Version,
		set.Rules,
		set.Enabled,
		set.CreatedAt,
		set.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save rule set: %w", err)
	}

	return nil
}

// GetRuleSet retrieves a rule set by name
func (s *SQLiteStore) GetRuleSet(ctx context.Context, name string) (*RuleSet, error) {
	query := `
		SELECT id, name, version, rules, enabled, created_at, updated_at
		FROM rule_sets
		WHERE name = ?
	`

	set := &RuleSet{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&set.ID,
		&set.Name,
		&set.Version,
		&set.Rules,
		&set.Enabled,
		&set.CreatedAt,
		&set.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule set not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule set: %w", err)
	}

	return set, nil
}

// ListRuleSets lists rule sets with pagination
func (s *SQLiteStore) ListRuleSets(ctx context.Context, limit, offset int) ([]*RuleSet, error) {
	query := `
		SELECT id, name, version, rules, enabled, created_at, updated_at
		FROM rule_sets
		ORDER BY name ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}
	defer rows.Close()

	sets := []*RuleSet{}
	for rows.Next() {
		set := &RuleSet{}
		err := rows.Scan(
			&set.ID,
			&set.Name,
			&set.Version,
			&set.Rules,
			&set.Enabled,
			&set.CreatedAt,
			&set.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule set: %w", err)
		}
		sets = append(sets, set)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule sets: %w", err)
	}

	return sets, nil
}

// SetRuleSetEnabled toggles whether a rule set is active
func (s *SQLiteStore) SetRuleSetEnabled(ctx context.Context, name string, enabled bool) error {
	query := `UPDATE rule_sets SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?`

	result, err := s.db.ExecContext(ctx, query, enabled, name)
	if err != nil {
		return fmt.Errorf("failed to update rule set: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("rule set not found: %s", name)
	}

	return nil
}

// DeleteRuleSet deletes a rule set by name
func (s *SQLiteStore) DeleteRuleSet(ctx context.Context, name string) error {
	query := `DELETE FROM rule_sets WHERE name = ?`

	result, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to delete rule set: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("rule set not found: %s", name)
	}

	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *RunRecord) error {
	query := `
		INSERT INTO runs (id, rule_set, status, rule_count, event_count, error_count,
			cache_hits, cache_misses, duration_ms, started_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.RuleSet,
		run.Status,
		run.RuleCount,
		run.EventCount,
		run.ErrorCount,
		run.CacheHits,
		run.CacheMisses,
		run.DurationMs,
		run.StartedAt,
		run.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run record by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, rule_set, status, rule_count, event_count, error_count,
			   cache_hits, cache_misses, duration_ms, started_at, created_at
		FROM runs
		WHERE id = ?
	`

	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.RuleSet,
		&run.Status,
		&run.RuleCount,
		&run.EventCount,
		&run.ErrorCount,
		&run.CacheHits,
		&run.CacheMisses,
		&run.DurationMs,
		&run.StartedAt,
		&run.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists run records with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	query := `
		SELECT id, rule_set, status, rule_count, event_count, error_count,
			   cache_hits, cache_misses, duration_ms, started_at, created_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run := &RunRecord{}
		err := rows.Scan(
			&run.ID,
			&run.RuleSet,
			&run.Status,
			&run.RuleCount,
			&run.EventCount,
			&run.ErrorCount,
			&run.CacheHits,
			&run.CacheMisses,
			&run.DurationMs,
			&run.StartedAt,
			&run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run record by ID
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	query := `DELETE FROM runs WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// PruneRuns deletes run records started before the given time and returns the
// number deleted. Their events cascade.
func (s *SQLiteStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM runs WHERE started_at < ?`

	result, err := s.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// AppendRunEvent appends a rule event to a run's event log
func (s *SQLiteStore) AppendRunEvent(ctx context.Context, event *RunEvent) error {
	query := `
		INSERT INTO run_events (run_id, rule_name, event_type, params, outcome, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.RuleName,
		event.EventType,
		event.Params,
		event.Outcome,
		event.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to append run event: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get run event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListRunEvents retrieves a run's events with optional outcome filter and
// pagination
func (s *SQLiteStore) ListRunEvents(ctx context.Context, runID string, outcome *Outcome, limit, offset int) ([]*RunEvent, error) {
	query := `
		SELECT id, run_id, rule_name, event_type, params, outcome, timestamp
		FROM run_events
		WHERE run_id = ?
		  AND (? IS NULL OR outcome = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, outcome, outcome, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run events: %w", err)
	}
	defer rows.Close()

	events := []*RunEvent{}
	for rows.Next() {
		event := &RunEvent{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.RuleName,
			&event.EventType,
			&event.Params,
			&event.Outcome,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run events: %w", err)
	}

	return events, nil
}

// RecordRunResult persists a run summary and its events in one transaction.
func (s *SQLiteStore) RecordRunResult(ctx context.Context, ruleSet string, result *engine.RunResult) error {
	stats := result.Almanac.Stats()
	now := time.Now()

	record := &RunRecord{
		ID:          result.RunID,
		RuleSet:     ruleSet,
		Status:      string(result.Status),
		RuleCount:   len(result.Results) + len(result.FailureResults) + len(result.Errors),
		EventCount:  len(result.Events),
		ErrorCount:  len(result.Errors),
		CacheHits:   stats.Hits,
		CacheMisses: stats.Misses,
		DurationMs:  result.Duration.Milliseconds(),
		StartedAt:   now.Add(-result.Duration),
		CreatedAt:   now,
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	insertRun := `
		INSERT INTO runs (id, rule_set, status, rule_count, event_count, error_count,
			cache_hits, cache_misses, duration_ms, started_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insertRun,
		record.ID, record.RuleSet, record.Status, record.RuleCount,
		record.EventCount, record.ErrorCount, record.CacheHits,
		record.CacheMisses, record.DurationMs, record.StartedAt, record.CreatedAt,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record run: %w", err)
	}

	insertEvent := `
		INSERT INTO run_events (run_id, rule_name, event_type, params, outcome, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	appendResults := func(results []*engine.RuleResult, outcome Outcome) error {
		for _, res := range results {
			params, err := encodeParams(res.Event.Params)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, insertEvent,
				record.ID, res.Name, res.Event.Type, params, outcome, now,
			); err != nil {
				return fmt.Errorf("failed to record run event: %w", err)
			}
		}
		return nil
	}

	if err := appendResults(result.Results, OutcomeSuccess); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := appendResults(result.FailureResults, OutcomeFailure); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// encodeParams serializes event params to a nullable JSON blob.
func encodeParams(params map[string]any) (*string, error) {
	if len(params) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event params: %w", err)
	}
	encoded := string(data)
	return &encoded, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
