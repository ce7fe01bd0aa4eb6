package query

import (
	"fmt"
	"sort"
	"time"

	"github.com/docuflow/statsengine/pkg/stats"
)

// periodLabel assigns a calendar day (or hour) to its bucket label. Labels
// are zero-padded so lexicographic order is chronological order.
//
// Weeks follow ISO-8601: the Thursday-anchored week-of-year, numbered in
// the Thursday's calendar year. Dec 29–31 can land in week 1 of the next
// year and Jan 1–3 in week 52/53 of the previous one; a naive
// days-since-Jan-1/7 scheme gets those boundaries wrong.
func periodLabel(g Granularity, t time.Time) string {
	switch g {
	case GranularityHour:
		return t.UTC().Format("2006-01-02T15:00")
	case GranularityDay:
		return t.UTC().Format("2006-01-02")
	case GranularityWeek:
		year, week := t.UTC().ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case GranularityMonth:
		return t.UTC().Format("2006-01")
	case GranularityYear:
		return t.UTC().Format("2006")
	}
	return t.UTC().Format("2006-01-02")
}

// foldDaily groups daily rows into buckets at the requested granularity.
// Additive fields sum; min/max fold pointwise; derived fields are
// recomputed from the summed totals at the end. Averaging per-day averages
// would weight low-volume days the same as busy ones, so it never happens.
func foldDaily(rows []stats.DailyAggregate, g Granularity) []AggregatedStats {
	buckets := make(map[string]*AggregatedStats)

	for _, row := range rows {
		label := periodLabel(g, row.Date)
		agg, ok := buckets[label]
		if !ok {
			agg = &AggregatedStats{
				Period:                   label,
				MinProcessingTimeSeconds: row.MinProcessingTimeSeconds,
				MaxProcessingTimeSeconds: row.MaxProcessingTimeSeconds,
			}
			buckets[label] = agg
		}

		agg.TotalProcessed += row.TotalProcessed
		agg.AutoApproved += row.AutoApproved
		agg.ManualReviewed += row.ManualReviewed
		agg.Escalated += row.Escalated
		agg.Failed += row.Failed
		agg.SuccessCount += row.SuccessCount
		agg.TotalProcessingTimeSeconds += row.TotalProcessingTimeSeconds
		if row.MinProcessingTimeSeconds < agg.MinProcessingTimeSeconds {
			agg.MinProcessingTimeSeconds = row.MinProcessingTimeSeconds
		}
		if row.MaxProcessingTimeSeconds > agg.MaxProcessingTimeSeconds {
			agg.MaxProcessingTimeSeconds = row.MaxProcessingTimeSeconds
		}
	}

	results := make([]AggregatedStats, 0, len(buckets))
	for _, agg := range buckets {
		recomputeDerived(agg)
		results = append(results, *agg)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Period < results[j].Period })
	return results
}

// foldHourly groups hourly rows into hour buckets, summing across scopes.
// The hourly series has no timing data, so only counts and rates are set.
func foldHourly(rows []stats.HourlyAggregate) []AggregatedStats {
	buckets := make(map[string]*AggregatedStats)

	for _, row := range rows {
		label := periodLabel(GranularityHour, row.Hour)
		agg, ok := buckets[label]
		if !ok {
			agg = &AggregatedStats{Period: label}
			buckets[label] = agg
		}
		agg.TotalProcessed += row.TotalProcessed
		agg.AutoApproved += row.AutoApproved
		agg.ManualReviewed += row.ManualReviewed
		agg.Escalated += row.Escalated
		agg.Failed += row.Failed
		agg.SuccessCount += row.TotalProcessed - row.Failed
	}

	results := make([]AggregatedStats, 0, len(buckets))
	for _, agg := range buckets {
		recomputeDerived(agg)
		results = append(results, *agg)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Period < results[j].Period })
	return results
}

// recomputeDerived fills avg and rates from summed totals.
func recomputeDerived(agg *AggregatedStats) {
	if agg.TotalProcessed == 0 {
		return
	}
	agg.AvgProcessingTimeSeconds = agg.TotalProcessingTimeSeconds / float64(agg.TotalProcessed)
	agg.SuccessRate = float64(agg.SuccessCount) / float64(agg.TotalProcessed) * 100
	agg.AutomationRate = float64(agg.AutoApproved) / float64(agg.TotalProcessed) * 100
}

// trendPercent is the signed period-over-period change. A zero prior period
// reports +100 for new activity and 0 for none, sidestepping the division.
func trendPercent(current, previous int64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return (float64(current) - float64(previous)) / float64(previous) * 100
}
