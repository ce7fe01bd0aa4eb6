package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docuflow/statsengine/pkg/stats"
	"github.com/docuflow/statsengine/pkg/storage"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var day = time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

func TestDailyStore_CreateConflict(t *testing.T) {
	daily := openTestDB(t).Daily()
	ctx := context.Background()

	agg := stats.NewDailyAggregate("HKG", day, stats.AutoApproved, 12)
	if err := daily.Create(ctx, agg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := daily.Create(ctx, agg); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("second Create = %v, want ErrAlreadyExists", err)
	}
}

func TestDailyStore_VersionDiscipline(t *testing.T) {
	daily := openTestDB(t).Daily()
	ctx := context.Background()

	if err := daily.Create(ctx, stats.NewDailyAggregate("HKG", day, stats.AutoApproved, 12)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	row, err := daily.Get(ctx, "HKG", day)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	next := row.Clone()
	next.Apply(stats.Escalated, 90)
	if err := daily.Update(ctx, next, row.Version); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := daily.Update(ctx, next, row.Version); !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("stale Update = %v, want ErrVersionConflict", err)
	}

	got, _ := daily.Get(ctx, "HKG", day)
	if got.Version != 2 || got.TotalProcessed != 2 || got.Escalated != 1 {
		t.Errorf("row after update = %+v, want version 2, total 2, escalated 1", got)
	}
}

func TestDailyStore_RangeScopesStats(t *testing.T) {
	daily := openTestDB(t).Daily()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := day.AddDate(0, 0, i)
		if err := daily.Create(ctx, stats.NewDailyAggregate("HKG", d, stats.AutoApproved, 10)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if err := daily.Create(ctx, stats.NewDailyAggregate("SIN", day, stats.Failed, 4)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rows, err := daily.Range(ctx, []stats.ScopeKey{"HKG"}, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("Range = %d rows, want 2", len(rows))
	}

	scopes, err := daily.Scopes(ctx)
	if err != nil {
		t.Fatalf("Scopes failed: %v", err)
	}
	if len(scopes) != 2 {
		t.Errorf("Scopes = %v, want 2 scopes", scopes)
	}

	st, err := daily.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.DailyRows != 4 || st.TotalScopes != 2 {
		t.Errorf("Stats = %+v, want 4 rows, 2 scopes", st)
	}
	if !st.OldestDay.Equal(day) || !st.NewestDay.Equal(day.AddDate(0, 0, 2)) {
		t.Errorf("Stats day bounds = %v..%v", st.OldestDay, st.NewestDay)
	}
}

func TestHourlyStore_IncrementAndRange(t *testing.T) {
	hourly := openTestDB(t).Hourly()
	ctx := context.Background()

	hour := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := hourly.Increment(ctx, "HKG", hour, stats.AutoApproved); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}
	if err := hourly.Increment(ctx, "HKG", hour.Add(time.Hour), stats.Failed); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	rows, err := hourly.Range(ctx, nil, hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Range = %d rows, want 2", len(rows))
	}
	if rows[0].TotalProcessed != 5 || rows[0].AutoApproved != 5 {
		t.Errorf("first hour = %+v, want 5 auto-approved", rows[0])
	}
}

func TestAuditLog_RoundTrip(t *testing.T) {
	audit := openTestDB(t).Audit()
	ctx := context.Background()

	entries := []stats.AuditEntry{
		{ID: "a", Scope: "HKG", Date: day, Verified: true, CreatedAt: time.Now().UTC()},
		{ID: "b", Scope: "HKG", Date: day, Verified: false, CreatedAt: time.Now().UTC().Add(time.Second),
			Discrepancies: []stats.StatDiscrepancy{{Field: "totalProcessed", Expected: 4, Actual: 9, Difference: 5}}},
	}
	for _, e := range entries {
		if err := audit.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := audit.List(ctx, "HKG", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List = %d entries, want 2", len(got))
	}
	if got[0].ID != "b" {
		t.Errorf("List order: first = %q, want newest (b)", got[0].ID)
	}
	if len(got[0].Discrepancies) != 1 || got[0].Discrepancies[0].Difference != 5 {
		t.Errorf("discrepancies did not round-trip: %+v", got[0].Discrepancies)
	}
}
