// Package reconcile is the engine's correctness backstop. The recorder's
// optimistic write path assumes well-behaved, non-duplicated event
// delivery; anything that breaks that assumption (redelivered events,
// crashed writers, manual edits) is detected here by recomputing the truth
// from the authoritative document records and overwriting the drifted
// aggregate. Discrepancies are data, not errors: drift is an expected,
// correctable condition.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docuflow/statsengine/pkg/docstore"
	"github.com/docuflow/statsengine/pkg/stats"
	"github.com/docuflow/statsengine/pkg/storage"
)

// Invalidator evicts cached query results for a corrected scope.
type Invalidator interface {
	InvalidateScope(scope string)
}

// Result is what one reconciliation run found and did.
type Result struct {
	Verified      bool                    `json:"verified"`
	Corrected     bool                    `json:"corrected"`
	Discrepancies []stats.StatDiscrepancy `json:"discrepancies,omitempty"`
	AuditLogID    string                  `json:"auditLogId"`
}

// Auditor verifies daily aggregates against the document store and corrects
// drift.
type Auditor struct {
	daily storage.DailyStore
	docs  docstore.Store
	audit storage.AuditLog

	cache Invalidator
	log   *slog.Logger
}

// New creates an auditor.
func New(daily storage.DailyStore, docs docstore.Store, audit storage.AuditLog) *Auditor {
	return &Auditor{daily: daily, docs: docs, audit: audit, log: slog.Default()}
}

// SetCache wires the query cache for invalidation after corrections.
func (a *Auditor) SetCache(c Invalidator) { a.cache = c }

// SetLogger replaces the logger.
func (a *Auditor) SetLogger(l *slog.Logger) { a.log = l }

// VerifyAndReconcile recomputes the truth for (scope, day) from document
// records, diffs it against the stored aggregate, overwrites the aggregate
// when they disagree, and appends one immutable audit entry. Running it
// again with no new events yields verified=true, corrected=false.
func (a *Auditor) VerifyAndReconcile(ctx context.Context, scope stats.ScopeKey, date time.Time, auditType stats.AuditType, executedBy string) (*Result, error) {
	day := stats.DayOf(date)

	stored, err := a.daily.Get(ctx, scope, day)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("reconcile: read aggregate: %w", err)
	}

	docs, err := a.docs.ListForDay(ctx, scope, day)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list documents: %w", err)
	}
	truth := Recompute(scope, day, docs)

	discrepancies := diff(truth, stored)
	verified := len(discrepancies) == 0 && (stored != nil || truth == nil)

	// A stored row with counts but no underlying documents corrects down to
	// an all-zero row; rows are never deleted by this engine.
	correction := truth
	if correction == nil && stored != nil && len(discrepancies) > 0 {
		correction = &stats.DailyAggregate{Scope: scope, Date: day, LastUpdatedAt: time.Now().UTC()}
	}

	corrected := false
	if !verified && correction != nil {
		if err := a.daily.Overwrite(ctx, correction); err != nil {
			return nil, fmt.Errorf("reconcile: apply correction: %w", err)
		}
		corrected = true
		if a.cache != nil {
			a.cache.InvalidateScope(string(scope))
		}
		a.log.Info("aggregate corrected",
			"scope", scope, "day", day.Format("2006-01-02"),
			"discrepancies", len(discrepancies))
	}

	entry := stats.AuditEntry{
		ID:            uuid.NewString(),
		Scope:         scope,
		Date:          day,
		AuditType:     auditType,
		Verified:      verified,
		Discrepancies: discrepancies,
		ExecutedBy:    executedBy,
		CreatedAt:     time.Now().UTC(),
	}
	if corrected {
		entry.Corrections = correction
	}
	if err := a.audit.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("reconcile: append audit entry: %w", err)
	}

	return &Result{
		Verified:      verified,
		Corrected:     corrected,
		Discrepancies: discrepancies,
		AuditLogID:    entry.ID,
	}, nil
}

// SweepDay audits every scope that has daily data, for one calendar day.
// Used by the scheduled background sweep; per-scope failures are logged and
// the sweep moves on.
func (a *Auditor) SweepDay(ctx context.Context, date time.Time) error {
	scopes, err := a.daily.Scopes(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: list scopes: %w", err)
	}
	for _, scope := range scopes {
		result, err := a.VerifyAndReconcile(ctx, scope, date, stats.AuditScheduled, "scheduler")
		if err != nil {
			a.log.Error("sweep audit failed", "scope", scope, "error", err)
			continue
		}
		if !result.Verified {
			a.log.Warn("sweep found drift",
				"scope", scope, "day", stats.DayOf(date).Format("2006-01-02"),
				"discrepancies", len(result.Discrepancies))
		}
	}
	return nil
}

// diff compares each additive field of the recomputed truth against the
// stored row. Derived fields are excluded: they follow from the additive
// ones, so diffing them would double-report every drift.
func diff(truth, stored *stats.DailyAggregate) []stats.StatDiscrepancy {
	if truth == nil && stored == nil {
		return nil
	}

	expected := fieldValues(truth)
	actual := fieldValues(stored)

	var discrepancies []stats.StatDiscrepancy
	for _, field := range additiveFields {
		e, a := expected[field], actual[field]
		if e != a {
			discrepancies = append(discrepancies, stats.StatDiscrepancy{
				Field:      field,
				Expected:   e,
				Actual:     a,
				Difference: a - e,
			})
		}
	}
	return discrepancies
}

var additiveFields = []string{
	"totalProcessed",
	"autoApproved",
	"manualReviewed",
	"escalated",
	"failed",
	"successCount",
}

func fieldValues(agg *stats.DailyAggregate) map[string]int64 {
	if agg == nil {
		return map[string]int64{}
	}
	return map[string]int64{
		"totalProcessed": agg.TotalProcessed,
		"autoApproved":   agg.AutoApproved,
		"manualReviewed": agg.ManualReviewed,
		"escalated":      agg.Escalated,
		"failed":         agg.Failed,
		"successCount":   agg.SuccessCount,
	}
}
