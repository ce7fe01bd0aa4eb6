package reconcile

import (
	"time"

	"github.com/docuflow/statsengine/pkg/docstore"
	"github.com/docuflow/statsengine/pkg/stats"
)

// Classify maps a document's terminal status and processing path onto the
// result-category taxonomy. Failure statuses win over everything; escalation
// wins over path; otherwise the path decides auto versus manual.
func Classify(doc docstore.Document) stats.ResultCategory {
	switch doc.Status {
	case docstore.StatusFailed, docstore.StatusRejected:
		return stats.Failed
	case docstore.StatusEscalated:
		return stats.Escalated
	}
	if doc.Path == docstore.PathManual {
		return stats.ManualReviewed
	}
	return stats.AutoApproved
}

// Recompute derives the true daily aggregate for (scope, day) from the
// individual document records. Authoritative: reads no cached counter.
// Returns nil when the day has no documents.
func Recompute(scope stats.ScopeKey, day time.Time, docs []docstore.Document) *stats.DailyAggregate {
	var truth *stats.DailyAggregate
	for _, doc := range docs {
		category := Classify(doc)
		if truth == nil {
			truth = stats.NewDailyAggregate(scope, day, category, doc.ProcessingTimeSeconds)
			continue
		}
		truth.Apply(category, doc.ProcessingTimeSeconds)
	}
	return truth
}
