// Package docstore exposes the authoritative per-document records the
// reconciliation auditor reads. The engine never writes documents; the
// upstream pipeline owns them. Only the read contract and a SQLite-backed
// implementation live here.
package docstore

import (
	"context"
	"time"

	"github.com/docuflow/statsengine/pkg/stats"
)

// Status is a document's terminal processing status.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusEscalated Status = "escalated"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
)

// Path records whether a document went through the automatic pipeline or
// was routed to a human reviewer.
type Path string

const (
	PathAutomatic Path = "automatic"
	PathManual    Path = "manual"
)

// Document is one processed document's terminal record.
type Document struct {
	ID                    string
	Scope                 stats.ScopeKey
	Status                Status
	Path                  Path
	ProcessingTimeSeconds float64
	CreatedAt             time.Time
}

// Store is the read-only query contract the auditor consumes.
type Store interface {
	// ListForDay returns every document for scope created within the UTC
	// calendar day containing date.
	ListForDay(ctx context.Context, scope stats.ScopeKey, date time.Time) ([]Document, error)
}
