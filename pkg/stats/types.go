package stats

import (
	"sort"
	"strings"
	"time"
)

// ScopeKey identifies the partition (city/tenant code) a counter series
// belongs to. All aggregates are keyed by (scope, time bucket).
type ScopeKey string

// ResultCategory classifies how a document left the pipeline.
// Exactly one category applies per processed document.
type ResultCategory string

const (
	AutoApproved   ResultCategory = "auto_approved"
	ManualReviewed ResultCategory = "manual_reviewed"
	Escalated      ResultCategory = "escalated"
	Failed         ResultCategory = "failed"
)

// Categories lists all result categories in a stable order.
var Categories = []ResultCategory{AutoApproved, ManualReviewed, Escalated, Failed}

// Valid reports whether c is one of the four known categories.
func (c ResultCategory) Valid() bool {
	switch c {
	case AutoApproved, ManualReviewed, Escalated, Failed:
		return true
	}
	return false
}

// DailyAggregate is one row per (scope, UTC day). Additive counters plus
// derived statistics; Version is the optimistic-concurrency token and
// strictly increases on every successful write.
type DailyAggregate struct {
	Scope ScopeKey  `json:"scope"`
	Date  time.Time `json:"date"` // midnight UTC

	TotalProcessed int64 `json:"totalProcessed"`
	AutoApproved   int64 `json:"autoApproved"`
	ManualReviewed int64 `json:"manualReviewed"`
	Escalated      int64 `json:"escalated"`
	Failed         int64 `json:"failed"`
	SuccessCount   int64 `json:"successCount"` // documents not Failed

	TotalProcessingTimeSeconds float64 `json:"totalProcessingTimeSeconds"`
	MinProcessingTimeSeconds   float64 `json:"minProcessingTimeSeconds"`
	MaxProcessingTimeSeconds   float64 `json:"maxProcessingTimeSeconds"`
	AvgProcessingTimeSeconds   float64 `json:"avgProcessingTimeSeconds"`
	SuccessRate                float64 `json:"successRate"`
	AutomationRate             float64 `json:"automationRate"`

	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
	Version       int64     `json:"version"`
}

// HourlyAggregate is one row per (scope, UTC hour). Additive counters only:
// no min/max, no derived rates, no version. Every field is a pure sum, which
// is what lets the hourly store use blind atomic increments.
type HourlyAggregate struct {
	Scope ScopeKey  `json:"scope"`
	Hour  time.Time `json:"hour"` // top of hour, UTC

	TotalProcessed int64 `json:"totalProcessed"`
	AutoApproved   int64 `json:"autoApproved"`
	ManualReviewed int64 `json:"manualReviewed"`
	Escalated      int64 `json:"escalated"`
	Failed         int64 `json:"failed"`
}

// NewDailyAggregate builds the row for the first event in a (scope, day)
// bucket: totals at 1, min=max=avg=sample, rates derived, version 1.
func NewDailyAggregate(scope ScopeKey, date time.Time, category ResultCategory, seconds float64) *DailyAggregate {
	d := &DailyAggregate{
		Scope:                      scope,
		Date:                       DayOf(date),
		TotalProcessed:             1,
		TotalProcessingTimeSeconds: seconds,
		MinProcessingTimeSeconds:   seconds,
		MaxProcessingTimeSeconds:   seconds,
		LastUpdatedAt:              time.Now().UTC(),
		Version:                    1,
	}
	d.addCategory(category)
	d.Recompute()
	return d
}

// Apply folds one more sample into the row and refreshes the derived fields.
// The caller is responsible for the conditional write that makes this safe.
func (d *DailyAggregate) Apply(category ResultCategory, seconds float64) {
	d.TotalProcessed++
	d.addCategory(category)
	d.TotalProcessingTimeSeconds += seconds
	if seconds < d.MinProcessingTimeSeconds {
		d.MinProcessingTimeSeconds = seconds
	}
	if seconds > d.MaxProcessingTimeSeconds {
		d.MaxProcessingTimeSeconds = seconds
	}
	d.LastUpdatedAt = time.Now().UTC()
	d.Recompute()
}

// Recompute refreshes avg, successRate and automationRate from the additive
// fields. Never store an average directly: it has to be derivable from
// summed time and count or folding at coarser granularities breaks.
func (d *DailyAggregate) Recompute() {
	if d.TotalProcessed == 0 {
		d.AvgProcessingTimeSeconds = 0
		d.SuccessRate = 0
		d.AutomationRate = 0
		return
	}
	d.AvgProcessingTimeSeconds = d.TotalProcessingTimeSeconds / float64(d.TotalProcessed)
	d.SuccessRate = float64(d.SuccessCount) / float64(d.TotalProcessed) * 100
	d.AutomationRate = float64(d.AutoApproved) / float64(d.TotalProcessed) * 100
}

func (d *DailyAggregate) addCategory(category ResultCategory) {
	switch category {
	case AutoApproved:
		d.AutoApproved++
		d.SuccessCount++
	case ManualReviewed:
		d.ManualReviewed++
		d.SuccessCount++
	case Escalated:
		d.Escalated++
		d.SuccessCount++
	case Failed:
		d.Failed++
	}
}

// CategoryCount returns the counter for one category.
func (d *DailyAggregate) CategoryCount(category ResultCategory) int64 {
	switch category {
	case AutoApproved:
		return d.AutoApproved
	case ManualReviewed:
		return d.ManualReviewed
	case Escalated:
		return d.Escalated
	case Failed:
		return d.Failed
	}
	return 0
}

// Clone returns a deep copy, so read-modify-write cycles never alias the
// row a store handed out.
func (d *DailyAggregate) Clone() *DailyAggregate {
	cp := *d
	return &cp
}

// DayOf truncates t to midnight UTC.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// HourOf truncates t to the top of its UTC hour.
func HourOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}

// ScopeFilter is the caller's visibility over scopes, supplied by the
// access-control layer: either unrestricted or an explicit allow-list.
type ScopeFilter struct {
	Unrestricted bool
	Scopes       []ScopeKey
}

// AllScopes returns the unrestricted filter.
func AllScopes() ScopeFilter {
	return ScopeFilter{Unrestricted: true}
}

// OnlyScopes returns a filter permitting exactly the given scopes.
func OnlyScopes(scopes ...ScopeKey) ScopeFilter {
	return ScopeFilter{Scopes: scopes}
}

// Allows reports whether the filter permits reading scope s.
func (f ScopeFilter) Allows(s ScopeKey) bool {
	if f.Unrestricted {
		return true
	}
	for _, allowed := range f.Scopes {
		if allowed == s {
			return true
		}
	}
	return false
}

// Key is the canonical serialization of the filter, used in cache keys.
// Unrestricted is "*" so global entries are recognizable for invalidation.
func (f ScopeFilter) Key() string {
	if f.Unrestricted {
		return "*"
	}
	keys := make([]string, 0, len(f.Scopes))
	for _, s := range f.Scopes {
		keys = append(keys, string(s))
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
