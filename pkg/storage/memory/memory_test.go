package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docuflow/statsengine/pkg/stats"
	"github.com/docuflow/statsengine/pkg/storage"
)

var day = time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

func TestDailyStore_CreateAndGet(t *testing.T) {
	store := NewDaily()
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Get(ctx, "HKG", day); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get before create = %v, want ErrNotFound", err)
	}

	agg := stats.NewDailyAggregate("HKG", day, stats.AutoApproved, 12)
	if err := store.Create(ctx, agg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, agg); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("second Create = %v, want ErrAlreadyExists", err)
	}

	got, err := store.Get(ctx, "HKG", day)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 1 || got.TotalProcessed != 1 {
		t.Errorf("got version=%d total=%d, want 1/1", got.Version, got.TotalProcessed)
	}
}

func TestDailyStore_ConditionalUpdate(t *testing.T) {
	store := NewDaily()
	defer store.Close()
	ctx := context.Background()

	agg := stats.NewDailyAggregate("HKG", day, stats.AutoApproved, 12)
	if err := store.Create(ctx, agg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	row, _ := store.Get(ctx, "HKG", day)
	next := row.Clone()
	next.Apply(stats.Failed, 3)

	if err := store.Update(ctx, next, row.Version); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	// Stale token: the version moved on the successful write above.
	if err := store.Update(ctx, next, row.Version); !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("stale Update = %v, want ErrVersionConflict", err)
	}

	got, _ := store.Get(ctx, "HKG", day)
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
	if got.TotalProcessed != 2 || got.Failed != 1 {
		t.Errorf("counts = total %d failed %d, want 2/1", got.TotalProcessed, got.Failed)
	}
}

func TestDailyStore_OverwriteBumpsVersion(t *testing.T) {
	store := NewDaily()
	defer store.Close()
	ctx := context.Background()

	agg := stats.NewDailyAggregate("HKG", day, stats.AutoApproved, 12)
	if err := store.Create(ctx, agg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	truth := stats.NewDailyAggregate("HKG", day, stats.ManualReviewed, 40)
	if err := store.Overwrite(ctx, truth); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}

	got, _ := store.Get(ctx, "HKG", day)
	if got.Version != 2 {
		t.Errorf("version after overwrite = %d, want 2", got.Version)
	}
	if got.ManualReviewed != 1 || got.AutoApproved != 0 {
		t.Errorf("overwrite did not replace the row: %+v", got)
	}
}

func TestDailyStore_RangeAndScopes(t *testing.T) {
	store := NewDaily()
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := day.AddDate(0, 0, i)
		store.Create(ctx, stats.NewDailyAggregate("HKG", d, stats.AutoApproved, 10))
	}
	store.Create(ctx, stats.NewDailyAggregate("SIN", day, stats.Failed, 5))

	rows, err := store.Range(ctx, nil, day, day.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(rows) != 4 {
		t.Errorf("Range all scopes = %d rows, want 4", len(rows))
	}

	rows, _ = store.Range(ctx, []stats.ScopeKey{"SIN"}, day, day.AddDate(0, 0, 10))
	if len(rows) != 1 || rows[0].Scope != "SIN" {
		t.Errorf("scoped Range = %+v, want one SIN row", rows)
	}

	// Empty (non-nil) scope set means no visibility at all.
	rows, _ = store.Range(ctx, []stats.ScopeKey{}, day, day.AddDate(0, 0, 10))
	if len(rows) != 0 {
		t.Errorf("empty scope set returned %d rows, want 0", len(rows))
	}

	scopes, _ := store.Scopes(ctx)
	if len(scopes) != 2 || scopes[0] != "HKG" || scopes[1] != "SIN" {
		t.Errorf("Scopes = %v, want [HKG SIN]", scopes)
	}
}

func TestHourlyStore_Increment(t *testing.T) {
	store := NewHourly()
	defer store.Close()
	ctx := context.Background()

	hour := time.Date(2025, 5, 20, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := store.Increment(ctx, "HKG", hour, stats.AutoApproved); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}
	store.Increment(ctx, "HKG", hour, stats.Failed)
	store.Increment(ctx, "HKG", hour.Add(time.Hour), stats.Escalated)

	rows, err := store.Range(ctx, nil, hour, hour.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Range = %d rows, want 2", len(rows))
	}
	if rows[0].TotalProcessed != 4 || rows[0].AutoApproved != 3 || rows[0].Failed != 1 {
		t.Errorf("first hour = %+v, want total 4, auto 3, failed 1", rows[0])
	}
	if !rows[0].Hour.Before(rows[1].Hour) {
		t.Error("rows not in chronological order")
	}
}

func TestAuditLog_AppendAndList(t *testing.T) {
	log := NewAuditLog()
	defer log.Close()
	ctx := context.Background()

	for i, scope := range []stats.ScopeKey{"HKG", "SIN", "HKG"} {
		entry := stats.AuditEntry{
			ID:        string(rune('a' + i)),
			Scope:     scope,
			Date:      day,
			Verified:  true,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := log.Append(ctx, entry); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, err := log.List(ctx, "HKG", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List HKG = %d entries, want 2", len(entries))
	}
	if entries[0].ID != "c" {
		t.Errorf("List order: first = %q, want newest (c)", entries[0].ID)
	}

	entries, _ = log.List(ctx, "", 2)
	if len(entries) != 2 {
		t.Errorf("limited List = %d entries, want 2", len(entries))
	}
}
