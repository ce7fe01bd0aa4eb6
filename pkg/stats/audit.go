package stats

import "time"

// AuditType records what triggered a reconciliation run.
type AuditType string

const (
	AuditScheduled AuditType = "scheduled"
	AuditManual    AuditType = "manual"
)

// StatDiscrepancy is one drifted field found by a reconciliation run.
// Expected is the recomputed truth, Actual what the aggregate held.
type StatDiscrepancy struct {
	Field      string `json:"field"`
	Expected   int64  `json:"expected"`
	Actual     int64  `json:"actual"`
	Difference int64  `json:"difference"` // actual - expected
}

// AuditEntry is the immutable record of one reconciliation run.
// Entries are append-only: never mutated, never deleted.
type AuditEntry struct {
	ID            string            `json:"id"`
	Scope         ScopeKey          `json:"scope"`
	Date          time.Time         `json:"date"`
	AuditType     AuditType         `json:"auditType"`
	Verified      bool              `json:"verified"`
	Discrepancies []StatDiscrepancy `json:"discrepancies,omitempty"`
	Corrections   *DailyAggregate   `json:"corrections,omitempty"` // recomputed truth, if applied
	ExecutedBy    string            `json:"executedBy"`
	CreatedAt     time.Time         `json:"createdAt"`
}
