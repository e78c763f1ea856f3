// Package stores provides persistence layer implementations for rulekit.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and CRUD operations for rule sets, run history, and run events.
package stores
