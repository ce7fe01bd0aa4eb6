// Package query answers time-series questions about processing statistics
// at hour through year granularity, with a read-through cache in front of
// the stores.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docuflow/statsengine/pkg/cache"
	"github.com/docuflow/statsengine/pkg/config"
	"github.com/docuflow/statsengine/pkg/stats"
	"github.com/docuflow/statsengine/pkg/storage"
)

// ErrAccessDenied means a requested scope lies outside the caller's
// visibility filter. Not retryable.
var ErrAccessDenied = errors.New("query: scope outside visibility filter")

// Service executes aggregation queries against the daily and hourly stores.
type Service struct {
	daily  storage.DailyStore
	hourly storage.HourlyStore
	cache  *cache.Cache
	now    func() time.Time
}

// New creates a query service. The cache is optional; without it every
// query recomputes.
func New(daily storage.DailyStore, hourly storage.HourlyStore) *Service {
	return &Service{daily: daily, hourly: hourly, now: time.Now}
}

// SetCache wires the short-lived result cache.
func (s *Service) SetCache(c *cache.Cache) { s.cache = c }

// SetClock replaces the time source. Used in tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// AggregatedStats returns counters and rates bucketed at the requested
// granularity over [q.Start, q.End], restricted to the caller's filter and
// summed across the visible scopes.
func (s *Service) AggregatedStats(ctx context.Context, filter stats.ScopeFilter, q StatsQuery) ([]AggregatedStats, error) {
	scopes, err := resolveScopes(filter, q.Scopes)
	if err != nil {
		return nil, err
	}

	// Bounds are serialized at full precision: hour-granularity windows can
	// differ inside one day and must not share an entry.
	key := cache.Key{
		Kind:   "aggregated",
		Filter: filter.Key(),
		Params: fmt.Sprintf("%s|%s|%s|%s", scopesKey(q.Scopes), q.Start.UTC().Format(time.RFC3339), q.End.UTC().Format(time.RFC3339), q.Granularity),
	}
	if cached, ok := s.cacheGet(key); ok {
		if results, ok := cached.([]AggregatedStats); ok {
			return results, nil
		}
	}

	var results []AggregatedStats
	switch q.Granularity {
	case GranularityHour:
		end := q.End.UTC()
		// A date-valued end (midnight) covers its whole day, matching the
		// daily path's inclusive end date.
		if end.Equal(stats.DayOf(end)) {
			end = end.Add(23 * time.Hour)
		}
		rows, err := s.hourly.Range(ctx, scopes, q.Start, end)
		if err != nil {
			return nil, fmt.Errorf("query: hourly range: %w", err)
		}
		results = foldHourly(rows)
	default:
		rows, err := s.daily.Range(ctx, scopes, q.Start, q.End)
		if err != nil {
			return nil, fmt.Errorf("query: daily range: %w", err)
		}
		results = foldDaily(rows, q.Granularity)
	}

	s.cacheSet(key, results, config.HistoricalCacheTTL)
	return results, nil
}

// ScopeSummaries returns current-period totals per visible scope plus the
// trend versus the immediately preceding period of equal length.
func (s *Service) ScopeSummaries(ctx context.Context, filter stats.ScopeFilter, start, end time.Time) ([]ScopeSummary, error) {
	key := cache.Key{
		Kind:   "summary",
		Filter: filter.Key(),
		Params: start.UTC().Format("2006-01-02") + "|" + end.UTC().Format("2006-01-02"),
	}
	if cached, ok := s.cacheGet(key); ok {
		if results, ok := cached.([]ScopeSummary); ok {
			return results, nil
		}
	}

	scopes, err := resolveScopes(filter, nil)
	if err != nil {
		return nil, err
	}
	if scopes == nil {
		// Unrestricted view: summarize every scope with data.
		scopes, err = s.daily.Scopes(ctx)
		if err != nil {
			return nil, fmt.Errorf("query: list scopes: %w", err)
		}
	}

	startDay, endDay := stats.DayOf(start), stats.DayOf(end)
	length := endDay.Sub(startDay) + 24*time.Hour
	prevStart := startDay.Add(-length)
	prevEnd := startDay.Add(-24 * time.Hour)

	summaries := make([]ScopeSummary, 0, len(scopes))
	for _, scope := range scopes {
		current, err := s.scopeTotals(ctx, scope, startDay, endDay)
		if err != nil {
			return nil, err
		}
		previous, err := s.scopeTotals(ctx, scope, prevStart, prevEnd)
		if err != nil {
			return nil, err
		}

		summary := ScopeSummary{
			Scope:          scope,
			TotalProcessed: current.TotalProcessed,
			TrendPercent:   trendPercent(current.TotalProcessed, previous.TotalProcessed),
		}
		if current.TotalProcessed > 0 {
			summary.SuccessRate = current.SuccessRate
			summary.AutomationRate = current.AutomationRate
			summary.AvgProcessingTimeSeconds = current.AvgProcessingTimeSeconds
		}
		summaries = append(summaries, summary)
	}

	s.cacheSet(key, summaries, config.HistoricalCacheTTL)
	return summaries, nil
}

// RealtimeStats returns today's totals across the visible scopes (nil
// before the first event of the day) and today's hourly buckets in
// chronological order.
func (s *Service) RealtimeStats(ctx context.Context, filter stats.ScopeFilter) (*RealtimeStats, error) {
	key := cache.Key{Kind: "realtime", Filter: filter.Key(), Params: stats.DayOf(s.now()).Format("2006-01-02")}
	if cached, ok := s.cacheGet(key); ok {
		if result, ok := cached.(*RealtimeStats); ok {
			return result, nil
		}
	}

	scopes, err := resolveScopes(filter, nil)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	today := stats.DayOf(now)

	dailyRows, err := s.daily.Range(ctx, scopes, today, today)
	if err != nil {
		return nil, fmt.Errorf("query: daily range: %w", err)
	}
	hourlyRows, err := s.hourly.Range(ctx, scopes, today, now)
	if err != nil {
		return nil, fmt.Errorf("query: hourly range: %w", err)
	}

	result := &RealtimeStats{Hourly: foldHourly(hourlyRows)}
	if folded := foldDaily(dailyRows, GranularityDay); len(folded) > 0 {
		result.Today = &folded[0]
	}

	s.cacheSet(key, result, config.RealtimeCacheTTL)
	return result, nil
}

// scopeTotals folds one scope's daily rows in [start, end] into a single
// bucket.
func (s *Service) scopeTotals(ctx context.Context, scope stats.ScopeKey, start, end time.Time) (AggregatedStats, error) {
	rows, err := s.daily.Range(ctx, []stats.ScopeKey{scope}, start, end)
	if err != nil {
		return AggregatedStats{}, fmt.Errorf("query: daily range: %w", err)
	}
	folded := foldDaily(rows, GranularityYear)
	total := AggregatedStats{}
	for _, f := range folded {
		total.TotalProcessed += f.TotalProcessed
		total.SuccessCount += f.SuccessCount
		total.AutoApproved += f.AutoApproved
		total.TotalProcessingTimeSeconds += f.TotalProcessingTimeSeconds
	}
	recomputeDerived(&total)
	return total, nil
}

func (s *Service) cacheGet(key cache.Key) (any, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Service) cacheSet(key cache.Key, value any, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	s.cache.Set(key, value, ttl)
}

// resolveScopes turns (filter, requested) into the scope set passed to the
// stores: nil means all scopes. Every requested scope must be visible.
func resolveScopes(filter stats.ScopeFilter, requested []stats.ScopeKey) ([]stats.ScopeKey, error) {
	if len(requested) == 0 {
		if filter.Unrestricted {
			return nil, nil
		}
		scopes := make([]stats.ScopeKey, len(filter.Scopes))
		copy(scopes, filter.Scopes)
		return scopes, nil
	}
	for _, scope := range requested {
		if !filter.Allows(scope) {
			return nil, fmt.Errorf("%w: %s", ErrAccessDenied, scope)
		}
	}
	scopes := make([]stats.ScopeKey, len(requested))
	copy(scopes, requested)
	return scopes, nil
}

func scopesKey(scopes []stats.ScopeKey) string {
	if len(scopes) == 0 {
		return "-"
	}
	key := ""
	for i, s := range scopes {
		if i > 0 {
			key += ","
		}
		key += string(s)
	}
	return key
}
