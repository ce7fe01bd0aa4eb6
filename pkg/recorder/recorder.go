// Package recorder turns "one document finished processing" events into
// daily and hourly aggregate updates.
//
// The daily path carries derived statistics (avg/min/max/rates), which
// cannot be expressed as independent atomic increments: computing the new
// average needs the previous total and count at once. That forces
// read-then-conditional-write with a bounded retry loop. The hourly path is
// additive-only and therefore a blind increment with no retries; losing one
// is acceptable for a trend sparkline.
//
// Callers must invoke RecordResult exactly once per finished document.
// There is no deduplication here: at-least-once delivery double-counts, and
// the reconciliation auditor is the mechanism that corrects such drift.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docuflow/statsengine/pkg/config"
	"github.com/docuflow/statsengine/pkg/stats"
	"github.com/docuflow/statsengine/pkg/storage"
)

// ErrRecordingFailed means the daily write lost the optimistic race on
// every attempt in its budget. The event's contribution is missing until
// the next reconciliation pass; callers may retry understanding the
// double-count caveat.
var ErrRecordingFailed = errors.New("recorder: retry budget exhausted")

// Invalidator evicts cached query results for a written scope.
// *cache.Cache satisfies this.
type Invalidator interface {
	InvalidateScope(scope string)
}

// Recorder records processing results into the daily and hourly stores.
type Recorder struct {
	daily  storage.DailyStore
	hourly storage.HourlyStore

	cache       Invalidator
	backoff     Backoff
	maxAttempts int
	log         *slog.Logger
	now         func() time.Time
	onRecorded  func(scope stats.ScopeKey)
}

// New creates a recorder with the default retry budget and backoff.
func New(daily storage.DailyStore, hourly storage.HourlyStore) *Recorder {
	return &Recorder{
		daily:       daily,
		hourly:      hourly,
		backoff:     Linear{Base: config.RecordBackoffBase},
		maxAttempts: config.RecordMaxAttempts,
		log:         slog.Default(),
		now:         time.Now,
	}
}

// SetCache wires the query cache for invalidation on successful writes.
func (r *Recorder) SetCache(c Invalidator) { r.cache = c }

// SetBackoff replaces the retry backoff strategy.
func (r *Recorder) SetBackoff(b Backoff) { r.backoff = b }

// SetLogger replaces the logger.
func (r *Recorder) SetLogger(l *slog.Logger) { r.log = l }

// SetClock replaces the time source. Used in tests.
func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

// SetOnRecorded registers a hook called after every successful daily write
// (the realtime hub uses this to push fresh snapshots).
func (r *Recorder) SetOnRecorded(fn func(scope stats.ScopeKey)) { r.onRecorded = fn }

// RecordResult records one finished document. The daily and hourly updates
// run concurrently; the hourly one is best-effort and only logged on
// failure, while the daily one is retried up to the budget and decides the
// returned error.
func (r *Recorder) RecordResult(ctx context.Context, scope stats.ScopeKey, category stats.ResultCategory, processingTimeSeconds float64) error {
	if !category.Valid() {
		return fmt.Errorf("recorder: unknown result category %q", category)
	}
	if processingTimeSeconds < 0 {
		return fmt.Errorf("recorder: negative processing time %v", processingTimeSeconds)
	}

	now := r.now().UTC()
	day := stats.DayOf(now)
	hour := stats.HourOf(now)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.hourly.Increment(ctx, scope, hour, category); err != nil {
			// Best-effort series: not retried, not rolled back. The daily
			// row stays authoritative and the sweep reconverges the rest.
			r.log.Warn("hourly increment failed",
				"scope", scope, "hour", hour, "error", err)
		}
	}()

	err := r.recordDaily(ctx, scope, day, category, processingTimeSeconds)
	wg.Wait()

	if err != nil {
		return err
	}
	if r.cache != nil {
		r.cache.InvalidateScope(string(scope))
	}
	if r.onRecorded != nil {
		r.onRecorded(scope)
	}
	return nil
}

// recordDaily runs the optimistic create-or-conditional-update loop.
func (r *Recorder) recordDaily(ctx context.Context, scope stats.ScopeKey, day time.Time, category stats.ResultCategory, seconds float64) error {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err := r.tryDaily(ctx, scope, day, category, seconds)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return fmt.Errorf("recorder: daily write: %w", err)
		}
		if attempt < r.maxAttempts {
			if err := r.backoff.Wait(ctx, attempt); err != nil {
				return fmt.Errorf("recorder: daily write: %w", err)
			}
		}
	}
	r.log.Warn("daily write lost every retry, bucket left for reconciliation",
		"scope", scope, "day", day)
	return fmt.Errorf("%w: scope %s day %s", ErrRecordingFailed, scope, day.Format("2006-01-02"))
}

// tryDaily is one pass of read, merge, conditional write.
func (r *Recorder) tryDaily(ctx context.Context, scope stats.ScopeKey, day time.Time, category stats.ResultCategory, seconds float64) error {
	row, err := r.daily.Get(ctx, scope, day)
	if errors.Is(err, storage.ErrNotFound) {
		created := stats.NewDailyAggregate(scope, day, category, seconds)
		err = r.daily.Create(ctx, created)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return err
		}
		// Lost the creation race; merge against the now-existing row.
		row, err = r.daily.Get(ctx, scope, day)
	}
	if err != nil {
		return err
	}

	next := row.Clone()
	next.Apply(category, seconds)
	return r.daily.Update(ctx, next, row.Version)
}

// retryable reports whether err is contention (lost race / moved version),
// which the loop absorbs, as opposed to an infrastructure failure.
func retryable(err error) bool {
	return errors.Is(err, storage.ErrVersionConflict) ||
		errors.Is(err, storage.ErrAlreadyExists) ||
		errors.Is(err, storage.ErrNotFound)
}
