package storage

import (
	"context"
	"errors"
	"time"

	"github.com/docuflow/statsengine/pkg/stats"
)

// Store errors. A failed conditional write is reported as ErrVersionConflict
// and must be indistinguishable from losing the race: both feed the same
// retry path in the recorder.
var (
	ErrNotFound        = errors.New("storage: not found")
	ErrAlreadyExists   = errors.New("storage: already exists")
	ErrVersionConflict = errors.New("storage: version conflict")
)

// DailyStore holds one DailyAggregate per (scope, UTC day) under an
// optimistic-concurrency discipline. Rows carry derived statistics, so
// updates are read-then-conditional-write, never blind increments.
// Implementations: memory (testing), badger (production).
type DailyStore interface {
	// Get returns the row for (scope, day) or ErrNotFound.
	Get(ctx context.Context, scope stats.ScopeKey, date time.Time) (*stats.DailyAggregate, error)

	// Create inserts the first row for its bucket with Version 1.
	// Returns ErrAlreadyExists if a concurrent writer got there first.
	Create(ctx context.Context, agg *stats.DailyAggregate) error

	// Update persists agg only if the stored version still equals
	// expectedVersion; on success the stored version is expectedVersion+1.
	// Returns ErrVersionConflict when the token moved underneath us.
	Update(ctx context.Context, agg *stats.DailyAggregate, expectedVersion int64) error

	// Overwrite replaces the row unconditionally, bumping the version past
	// whatever is stored. Reserved for reconciliation corrections.
	Overwrite(ctx context.Context, agg *stats.DailyAggregate) error

	// Range returns rows for the given scopes (nil = all scopes) whose day
	// falls in [start, end], ordered by day then scope.
	Range(ctx context.Context, scopes []stats.ScopeKey, start, end time.Time) ([]stats.DailyAggregate, error)

	// Scopes lists every scope that has at least one daily row.
	Scopes(ctx context.Context) ([]stats.ScopeKey, error)

	// Stats returns store health info.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// HourlyStore holds one HourlyAggregate per (scope, UTC hour). Every field
// is a pure additive counter, so Increment is a blind atomic add with lazy
// row creation: no version token, no retries.
type HourlyStore interface {
	// Increment adds one event in the given category to (scope, hour),
	// creating the row if absent.
	Increment(ctx context.Context, scope stats.ScopeKey, hour time.Time, category stats.ResultCategory) error

	// Range returns rows for the given scopes (nil = all scopes) whose hour
	// falls in [start, end], ordered by hour then scope.
	Range(ctx context.Context, scopes []stats.ScopeKey, start, end time.Time) ([]stats.HourlyAggregate, error)

	Close() error
}

// AuditLog is the append-only sink for reconciliation audit entries.
type AuditLog interface {
	// Append stores one immutable entry.
	Append(ctx context.Context, entry stats.AuditEntry) error

	// List returns entries for a scope (empty scope = all), newest first,
	// at most limit (0 = no limit).
	List(ctx context.Context, scope stats.ScopeKey, limit int) ([]stats.AuditEntry, error)

	Close() error
}

// Stats provides store health and usage info.
type Stats struct {
	// Daily rows stored
	DailyRows uint64

	// Distinct scopes seen
	TotalScopes uint64

	// Oldest day with data
	OldestDay time.Time

	// Newest day with data
	NewestDay time.Time
}
