package query

import (
	"fmt"
	"time"

	"github.com/docuflow/statsengine/pkg/stats"
)

// Granularity is the time-bucket size of a query result.
type Granularity string

const (
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

// ParseGranularity validates a granularity string.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(s)
	switch g {
	case GranularityHour, GranularityDay, GranularityWeek, GranularityMonth, GranularityYear:
		return g, nil
	}
	return "", fmt.Errorf("query: unknown granularity %q", s)
}

// StatsQuery selects a date range and bucket size. Scopes optionally
// narrows the result below the caller's visibility filter; every entry must
// be inside the filter or the query fails with ErrAccessDenied.
type StatsQuery struct {
	Scopes      []stats.ScopeKey
	Start       time.Time
	End         time.Time
	Granularity Granularity
}

// AggregatedStats is one result bucket: the DailyAggregate counters and
// rates keyed by a period label instead of scope+date. At hour granularity
// the timing fields are zero; the hourly series carries counts only.
type AggregatedStats struct {
	Period string `json:"period"`

	TotalProcessed int64 `json:"totalProcessed"`
	AutoApproved   int64 `json:"autoApproved"`
	ManualReviewed int64 `json:"manualReviewed"`
	Escalated      int64 `json:"escalated"`
	Failed         int64 `json:"failed"`
	SuccessCount   int64 `json:"successCount"`

	TotalProcessingTimeSeconds float64 `json:"totalProcessingTimeSeconds"`
	MinProcessingTimeSeconds   float64 `json:"minProcessingTimeSeconds"`
	MaxProcessingTimeSeconds   float64 `json:"maxProcessingTimeSeconds"`
	AvgProcessingTimeSeconds   float64 `json:"avgProcessingTimeSeconds"`
	SuccessRate                float64 `json:"successRate"`
	AutomationRate             float64 `json:"automationRate"`
}

// ScopeSummary is one scope's totals for the current period plus the trend
// versus the immediately preceding period of equal length.
type ScopeSummary struct {
	Scope stats.ScopeKey `json:"scope"`

	TotalProcessed           int64   `json:"totalProcessed"`
	SuccessRate              float64 `json:"successRate"`
	AutomationRate           float64 `json:"automationRate"`
	AvgProcessingTimeSeconds float64 `json:"avgProcessingTimeSeconds"`

	// TrendPercent is the signed percentage change in processed volume
	// against the prior period. A zero prior period reports +100 when the
	// current period has activity and 0 otherwise.
	TrendPercent float64 `json:"trendPercent"`
}

// RealtimeStats backs live dashboards: today's totals (nil before the first
// event of the day) and today's hourly buckets in chronological order.
type RealtimeStats struct {
	Today  *AggregatedStats  `json:"today"`
	Hourly []AggregatedStats `json:"hourly"`
}
