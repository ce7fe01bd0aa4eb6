package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/statsengine/pkg/docstore"
	"github.com/docuflow/statsengine/pkg/stats"
	"github.com/docuflow/statsengine/pkg/storage/memory"
)

// fakeDocs serves canned documents keyed by scope.
type fakeDocs struct {
	byScope map[stats.ScopeKey][]docstore.Document
}

func (f *fakeDocs) ListForDay(ctx context.Context, scope stats.ScopeKey, date time.Time) ([]docstore.Document, error) {
	return f.byScope[scope], nil
}

func TestClassify(t *testing.T) {
	cases := []struct {
		status docstore.Status
		path   docstore.Path
		want   stats.ResultCategory
	}{
		{docstore.StatusApproved, docstore.PathAutomatic, stats.AutoApproved},
		{docstore.StatusCompleted, docstore.PathAutomatic, stats.AutoApproved},
		{docstore.StatusApproved, docstore.PathManual, stats.ManualReviewed},
		{docstore.StatusEscalated, docstore.PathManual, stats.Escalated},
		{docstore.StatusEscalated, docstore.PathAutomatic, stats.Escalated},
		{docstore.StatusFailed, docstore.PathAutomatic, stats.Failed},
		{docstore.StatusRejected, docstore.PathManual, stats.Failed},
	}
	for _, tc := range cases {
		got := Classify(docstore.Document{Status: tc.status, Path: tc.path})
		assert.Equal(t, tc.want, got, "status=%s path=%s", tc.status, tc.path)
	}
}

func TestVerifyAndReconcile_CorrectsDrift(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

	docs := &fakeDocs{byScope: map[stats.ScopeKey][]docstore.Document{
		"HKG": {
			{ID: "1", Scope: "HKG", Status: docstore.StatusApproved, Path: docstore.PathAutomatic, ProcessingTimeSeconds: 10},
			{ID: "2", Scope: "HKG", Status: docstore.StatusApproved, Path: docstore.PathAutomatic, ProcessingTimeSeconds: 20},
			{ID: "3", Scope: "HKG", Status: docstore.StatusFailed, Path: docstore.PathAutomatic, ProcessingTimeSeconds: 5},
		},
	}}

	daily := memory.NewDaily()
	audit := memory.NewAuditLog()

	// Seed an aggregate drifted up by 5 on the auto-approved side, the shape
	// redelivered events leave behind.
	drifted := stats.NewDailyAggregate("HKG", day, stats.AutoApproved, 10)
	for i := 0; i < 6; i++ {
		drifted.Apply(stats.AutoApproved, 20)
	}
	drifted.Apply(stats.Failed, 5)
	require.NoError(t, daily.Create(ctx, drifted))

	auditor := New(daily, docs, audit)
	result, err := auditor.VerifyAndReconcile(ctx, "HKG", day, stats.AuditManual, "ops@example.com")
	require.NoError(t, err)

	assert.False(t, result.Verified)
	assert.True(t, result.Corrected)
	assert.NotEmpty(t, result.AuditLogID)

	byField := map[string]stats.StatDiscrepancy{}
	for _, d := range result.Discrepancies {
		byField[d.Field] = d
	}
	require.Contains(t, byField, "totalProcessed")
	assert.Equal(t, int64(3), byField["totalProcessed"].Expected)
	assert.Equal(t, int64(8), byField["totalProcessed"].Actual)
	assert.Equal(t, int64(5), byField["totalProcessed"].Difference)
	require.Contains(t, byField, "autoApproved")
	assert.Equal(t, int64(5), byField["autoApproved"].Difference)
	assert.NotContains(t, byField, "failed")

	// The stored row now matches the documents exactly.
	row, err := daily.Get(ctx, "HKG", day)
	require.NoError(t, err)
	assert.Equal(t, int64(3), row.TotalProcessed)
	assert.Equal(t, int64(2), row.AutoApproved)
	assert.Equal(t, int64(1), row.Failed)
	assert.Equal(t, int64(2), row.SuccessCount)
	assert.InDelta(t, 35.0/3.0, row.AvgProcessingTimeSeconds, 1e-9)

	entries, err := audit.List(ctx, "HKG", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, result.AuditLogID, entries[0].ID)
	assert.Equal(t, stats.AuditManual, entries[0].AuditType)
	assert.Equal(t, "ops@example.com", entries[0].ExecutedBy)
	require.NotNil(t, entries[0].Corrections)
	assert.Equal(t, int64(3), entries[0].Corrections.TotalProcessed)

	// Idempotency: a second run over unchanged data verifies cleanly.
	again, err := auditor.VerifyAndReconcile(ctx, "HKG", day, stats.AuditManual, "ops@example.com")
	require.NoError(t, err)
	assert.True(t, again.Verified)
	assert.False(t, again.Corrected)
	assert.Empty(t, again.Discrepancies)
}

func TestVerifyAndReconcile_MissingAggregate(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

	docs := &fakeDocs{byScope: map[stats.ScopeKey][]docstore.Document{
		"SIN": {{ID: "1", Scope: "SIN", Status: docstore.StatusCompleted, Path: docstore.PathManual, ProcessingTimeSeconds: 45}},
	}}
	daily := memory.NewDaily()
	auditor := New(daily, docs, memory.NewAuditLog())

	// Documents exist but no aggregate was ever written (crashed writer).
	result, err := auditor.VerifyAndReconcile(ctx, "SIN", day, stats.AuditScheduled, "scheduler")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.True(t, result.Corrected)

	row, err := daily.Get(ctx, "SIN", day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.ManualReviewed)
}

func TestVerifyAndReconcile_PhantomAggregate(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

	daily := memory.NewDaily()
	require.NoError(t, daily.Create(ctx, stats.NewDailyAggregate("HKG", day, stats.AutoApproved, 10)))
	auditor := New(daily, &fakeDocs{}, memory.NewAuditLog())

	// An aggregate with no documents behind it corrects down to zero.
	result, err := auditor.VerifyAndReconcile(ctx, "HKG", day, stats.AuditManual, "ops")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.True(t, result.Corrected)

	row, err := daily.Get(ctx, "HKG", day)
	require.NoError(t, err)
	assert.Zero(t, row.TotalProcessed)
}

func TestVerifyAndReconcile_NothingAnywhere(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

	audit := memory.NewAuditLog()
	auditor := New(memory.NewDaily(), &fakeDocs{}, audit)

	result, err := auditor.VerifyAndReconcile(ctx, "HKG", day, stats.AuditManual, "ops")
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.False(t, result.Corrected)

	// Even a clean run leaves an audit trail.
	entries, err := audit.List(ctx, "HKG", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSweepDay(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

	docs := &fakeDocs{byScope: map[stats.ScopeKey][]docstore.Document{
		"HKG": {{ID: "1", Scope: "HKG", Status: docstore.StatusApproved, Path: docstore.PathAutomatic, ProcessingTimeSeconds: 10}},
	}}
	daily := memory.NewDaily()
	audit := memory.NewAuditLog()

	// HKG is accurate, SIN drifted (no documents behind its row).
	require.NoError(t, daily.Create(ctx, stats.NewDailyAggregate("HKG", day, stats.AutoApproved, 10)))
	require.NoError(t, daily.Create(ctx, stats.NewDailyAggregate("SIN", day, stats.Failed, 5)))

	auditor := New(daily, docs, audit)
	require.NoError(t, auditor.SweepDay(ctx, day))

	entries, err := audit.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, stats.AuditScheduled, e.AuditType)
		assert.Equal(t, "scheduler", e.ExecutedBy)
	}

	row, err := daily.Get(ctx, "SIN", day)
	require.NoError(t, err)
	assert.Zero(t, row.TotalProcessed)
}
