package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/docuflow/statsengine/pkg/stats"
	"github.com/docuflow/statsengine/pkg/storage"
)

// DailyStore keeps daily aggregates in memory. Data is lost on restart.
// Useful for testing and development.
type DailyStore struct {
	rows map[string]*stats.DailyAggregate
	mu   sync.RWMutex
}

// NewDaily creates an in-memory daily store.
func NewDaily() *DailyStore {
	return &DailyStore{rows: make(map[string]*stats.DailyAggregate)}
}

func dailyKey(scope stats.ScopeKey, date time.Time) string {
	return string(scope) + "@" + stats.DayOf(date).Format("2006-01-02")
}

// Get returns a copy of the row for (scope, day) or storage.ErrNotFound.
func (s *DailyStore) Get(ctx context.Context, scope stats.ScopeKey, date time.Time) (*stats.DailyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[dailyKey(scope, date)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return row.Clone(), nil
}

// Create inserts the first row for its bucket.
func (s *DailyStore) Create(ctx context.Context, agg *stats.DailyAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dailyKey(agg.Scope, agg.Date)
	if _, ok := s.rows[key]; ok {
		return storage.ErrAlreadyExists
	}
	cp := agg.Clone()
	cp.Version = 1
	s.rows[key] = cp
	return nil
}

// Update persists agg only if the stored version equals expectedVersion.
func (s *DailyStore) Update(ctx context.Context, agg *stats.DailyAggregate, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dailyKey(agg.Scope, agg.Date)
	row, ok := s.rows[key]
	if !ok {
		return storage.ErrNotFound
	}
	if row.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	cp := agg.Clone()
	cp.Version = expectedVersion + 1
	s.rows[key] = cp
	return nil
}

// Overwrite replaces the row unconditionally, bumping the version.
func (s *DailyStore) Overwrite(ctx context.Context, agg *stats.DailyAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dailyKey(agg.Scope, agg.Date)
	cp := agg.Clone()
	if row, ok := s.rows[key]; ok {
		cp.Version = row.Version + 1
	} else {
		cp.Version = 1
	}
	s.rows[key] = cp
	return nil
}

// Range returns rows in [start, end] for the given scopes (nil = all).
func (s *DailyStore) Range(ctx context.Context, scopes []stats.ScopeKey, start, end time.Time) ([]stats.DailyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	startDay, endDay := stats.DayOf(start), stats.DayOf(end)

	var results []stats.DailyAggregate
	for _, row := range s.rows {
		if row.Date.Before(startDay) || row.Date.After(endDay) {
			continue
		}
		if !scopeInSet(row.Scope, scopes) {
			continue
		}
		results = append(results, *row.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].Date.Equal(results[j].Date) {
			return results[i].Date.Before(results[j].Date)
		}
		return results[i].Scope < results[j].Scope
	})
	return results, nil
}

// Scopes lists every scope with at least one daily row.
func (s *DailyStore) Scopes(ctx context.Context) ([]stats.ScopeKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[stats.ScopeKey]bool)
	for _, row := range s.rows {
		seen[row.Scope] = true
	}
	scopes := make([]stats.ScopeKey, 0, len(seen))
	for scope := range seen {
		scopes = append(scopes, scope)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })
	return scopes, nil
}

// Stats returns store statistics.
func (s *DailyStore) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &storage.Stats{DailyRows: uint64(len(s.rows))}
	seen := make(map[stats.ScopeKey]bool)
	for _, row := range s.rows {
		seen[row.Scope] = true
		if st.OldestDay.IsZero() || row.Date.Before(st.OldestDay) {
			st.OldestDay = row.Date
		}
		if st.NewestDay.IsZero() || row.Date.After(st.NewestDay) {
			st.NewestDay = row.Date
		}
	}
	st.TotalScopes = uint64(len(seen))
	return st, nil
}

// Close is a no-op for memory storage.
func (s *DailyStore) Close() error { return nil }

// HourlyStore keeps hourly aggregates in memory.
type HourlyStore struct {
	rows map[string]*stats.HourlyAggregate
	mu   sync.Mutex
}

// NewHourly creates an in-memory hourly store.
func NewHourly() *HourlyStore {
	return &HourlyStore{rows: make(map[string]*stats.HourlyAggregate)}
}

func hourlyKey(scope stats.ScopeKey, hour time.Time) string {
	return string(scope) + "@" + stats.HourOf(hour).Format("2006-01-02T15")
}

// Increment adds one event to (scope, hour), creating the row if absent.
func (s *HourlyStore) Increment(ctx context.Context, scope stats.ScopeKey, hour time.Time, category stats.ResultCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hourlyKey(scope, hour)
	row, ok := s.rows[key]
	if !ok {
		row = &stats.HourlyAggregate{Scope: scope, Hour: stats.HourOf(hour)}
		s.rows[key] = row
	}
	row.TotalProcessed++
	switch category {
	case stats.AutoApproved:
		row.AutoApproved++
	case stats.ManualReviewed:
		row.ManualReviewed++
	case stats.Escalated:
		row.Escalated++
	case stats.Failed:
		row.Failed++
	}
	return nil
}

// Range returns rows in [start, end] for the given scopes (nil = all).
func (s *HourlyStore) Range(ctx context.Context, scopes []stats.ScopeKey, start, end time.Time) ([]stats.HourlyAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	startHour, endHour := stats.HourOf(start), stats.HourOf(end)

	var results []stats.HourlyAggregate
	for _, row := range s.rows {
		if row.Hour.Before(startHour) || row.Hour.After(endHour) {
			continue
		}
		if !scopeInSet(row.Scope, scopes) {
			continue
		}
		results = append(results, *row)
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].Hour.Equal(results[j].Hour) {
			return results[i].Hour.Before(results[j].Hour)
		}
		return results[i].Scope < results[j].Scope
	})
	return results, nil
}

// Close is a no-op for memory storage.
func (s *HourlyStore) Close() error { return nil }

// AuditLog keeps reconciliation audit entries in memory, append-only.
type AuditLog struct {
	entries []stats.AuditEntry
	mu      sync.RWMutex
}

// NewAuditLog creates an in-memory audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Append stores one immutable entry.
func (l *AuditLog) Append(ctx context.Context, entry stats.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// List returns entries for a scope (empty = all), newest first.
func (l *AuditLog) List(ctx context.Context, scope stats.ScopeKey, limit int) ([]stats.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []stats.AuditEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if scope != "" && l.entries[i].Scope != scope {
			continue
		}
		results = append(results, l.entries[i])
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Close is a no-op for memory storage.
func (l *AuditLog) Close() error { return nil }

func scopeInSet(scope stats.ScopeKey, scopes []stats.ScopeKey) bool {
	if scopes == nil {
		return true
	}
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
