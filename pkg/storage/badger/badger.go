package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/docuflow/statsengine/pkg/stats"
	"github.com/docuflow/statsengine/pkg/storage"
)

// Key prefixes per record kind. Full key layout:
// [prefix (1 byte)][scope hash (8 bytes)][bucket time (8 bytes)]
const (
	prefixDaily  = 'd'
	prefixHourly = 'h'
	prefixAudit  = 'a'
)

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB default).
	// Recommended: 64-128 MB for local dev, 256-512 MB for production.
	MaxMemoryMB int64
}

// DB wraps one BadgerDB instance shared by the daily, hourly and audit
// stores. DB owns the lifecycle; the per-kind views' Close is a no-op.
type DB struct {
	db *badger.DB
}

// Open creates a BadgerDB-backed store.
func Open(cfg Config) (*DB, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Aggregate rows are tiny (one per scope-day / scope-hour), so the
	// working set is small; bound memory tightly rather than taking
	// badger's server-class defaults.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumCompactors(1).
		WithValueThreshold(1024).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &DB{db: db}, nil
}

// Daily returns the daily aggregate view.
func (d *DB) Daily() *DailyStore { return &DailyStore{db: d.db} }

// Hourly returns the hourly aggregate view.
func (d *DB) Hourly() *HourlyStore { return &HourlyStore{db: d.db} }

// Audit returns the audit log view.
func (d *DB) Audit() *AuditLog { return &AuditLog{db: d.db} }

// RunGC runs badger's value log garbage collection.
// Returns badger.ErrNoRewrite when there was nothing to reclaim.
func (d *DB) RunGC(discardRatio float64) error {
	return d.db.RunValueLogGC(discardRatio)
}

// Close shuts the database down cleanly.
func (d *DB) Close() error { return d.db.Close() }

// DailyStore implements storage.DailyStore on BadgerDB.
type DailyStore struct {
	db *badger.DB
}

func dailyKey(scope stats.ScopeKey, date time.Time) []byte {
	return makeKey(prefixDaily, scope, stats.DayOf(date))
}

// Get returns the row for (scope, day) or storage.ErrNotFound.
func (s *DailyStore) Get(ctx context.Context, scope stats.ScopeKey, date time.Time) (*stats.DailyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var agg stats.DailyAggregate
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dailyKey(scope, date))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &agg)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read daily row: %w", err)
	}
	return &agg, nil
}

// Create inserts the first row for its bucket with Version 1.
func (s *DailyStore) Create(ctx context.Context, agg *stats.DailyAggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := dailyKey(agg.Scope, agg.Date)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return storage.ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		cp := agg.Clone()
		cp.Version = 1
		val, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
	// A serialization conflict means a concurrent writer touched the key
	// first; surface it as the existing-row case so the caller re-reads.
	if errors.Is(err, badger.ErrConflict) {
		return storage.ErrAlreadyExists
	}
	return err
}

// Update persists agg only if the stored version equals expectedVersion.
func (s *DailyStore) Update(ctx context.Context, agg *stats.DailyAggregate, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := dailyKey(agg.Scope, agg.Date)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		var current stats.DailyAggregate
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return storage.ErrVersionConflict
		}
		cp := agg.Clone()
		cp.Version = expectedVersion + 1
		val, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
	if errors.Is(err, badger.ErrConflict) {
		return storage.ErrVersionConflict
	}
	return err
}

// Overwrite replaces the row unconditionally, bumping the version.
func (s *DailyStore) Overwrite(ctx context.Context, agg *stats.DailyAggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := dailyKey(agg.Scope, agg.Date)
	return s.db.Update(func(txn *badger.Txn) error {
		cp := agg.Clone()
		cp.Version = 1
		item, err := txn.Get(key)
		if err == nil {
			var current stats.DailyAggregate
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return err
			}
			cp.Version = current.Version + 1
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		val, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
}

// Range returns rows in [start, end] for the given scopes (nil = all).
func (s *DailyStore) Range(ctx context.Context, scopes []stats.ScopeKey, start, end time.Time) ([]stats.DailyAggregate, error) {
	var results []stats.DailyAggregate
	err := s.scanDaily(ctx, func(agg stats.DailyAggregate) {
		if agg.Date.Before(stats.DayOf(start)) || agg.Date.After(stats.DayOf(end)) {
			return
		}
		if !scopeInSet(agg.Scope, scopes) {
			return
		}
		results = append(results, agg)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].Date.Equal(results[j].Date) {
			return results[i].Date.Before(results[j].Date)
		}
		return results[i].Scope < results[j].Scope
	})
	return results, nil
}

// Scopes lists every scope with at least one daily row.
func (s *DailyStore) Scopes(ctx context.Context) ([]stats.ScopeKey, error) {
	seen := make(map[stats.ScopeKey]bool)
	err := s.scanDaily(ctx, func(agg stats.DailyAggregate) {
		seen[agg.Scope] = true
	})
	if err != nil {
		return nil, err
	}
	scopes := make([]stats.ScopeKey, 0, len(seen))
	for scope := range seen {
		scopes = append(scopes, scope)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })
	return scopes, nil
}

// Stats returns store statistics.
func (s *DailyStore) Stats(ctx context.Context) (*storage.Stats, error) {
	st := &storage.Stats{}
	seen := make(map[stats.ScopeKey]bool)
	err := s.scanDaily(ctx, func(agg stats.DailyAggregate) {
		st.DailyRows++
		seen[agg.Scope] = true
		if st.OldestDay.IsZero() || agg.Date.Before(st.OldestDay) {
			st.OldestDay = agg.Date
		}
		if st.NewestDay.IsZero() || agg.Date.After(st.NewestDay) {
			st.NewestDay = agg.Date
		}
	})
	if err != nil {
		return nil, err
	}
	st.TotalScopes = uint64(len(seen))
	return st, nil
}

// scanDaily iterates every daily row, checking ctx periodically so long
// scans cannot block shutdown.
func (s *DailyStore) scanDaily(ctx context.Context, fn func(stats.DailyAggregate)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixDaily}

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			var agg stats.DailyAggregate
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &agg)
			}); err != nil {
				return fmt.Errorf("failed to decode daily row: %w", err)
			}
			fn(agg)
		}
		return nil
	})
}

// Close is a no-op; the owning DB closes the database.
func (s *DailyStore) Close() error { return nil }

// HourlyStore implements storage.HourlyStore on BadgerDB. The row has no
// derived fields, so the read-add-write inside a single Update txn is the
// whole story: conflicts just mean badger retries nothing and we re-apply.
type HourlyStore struct {
	db *badger.DB
}

func hourlyKey(scope stats.ScopeKey, hour time.Time) []byte {
	return makeKey(prefixHourly, scope, stats.HourOf(hour))
}

// Increment adds one event to (scope, hour), creating the row if absent.
func (s *HourlyStore) Increment(ctx context.Context, scope stats.ScopeKey, hour time.Time, category stats.ResultCategory) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := hourlyKey(scope, hour)
	apply := func(txn *badger.Txn) error {
		row := stats.HourlyAggregate{Scope: scope, Hour: stats.HourOf(hour)}
		item, err := txn.Get(key)
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		row.TotalProcessed++
		switch category {
		case stats.AutoApproved:
			row.AutoApproved++
		case stats.ManualReviewed:
			row.ManualReviewed++
		case stats.Escalated:
			row.Escalated++
		case stats.Failed:
			row.Failed++
		}

		val, err := json.Marshal(&row)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	}

	// Badger detects write-write conflicts at commit; since the increment
	// is a pure additive merge, re-running it is always correct.
	for {
		err := s.db.Update(apply)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Range returns rows in [start, end] for the given scopes (nil = all).
func (s *HourlyStore) Range(ctx context.Context, scopes []stats.ScopeKey, start, end time.Time) ([]stats.HourlyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	startHour, endHour := stats.HourOf(start), stats.HourOf(end)

	var results []stats.HourlyAggregate
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixHourly}

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			var row stats.HourlyAggregate
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return fmt.Errorf("failed to decode hourly row: %w", err)
			}
			if row.Hour.Before(startHour) || row.Hour.After(endHour) {
				continue
			}
			if !scopeInSet(row.Scope, scopes) {
				continue
			}
			results = append(results, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].Hour.Equal(results[j].Hour) {
			return results[i].Hour.Before(results[j].Hour)
		}
		return results[i].Scope < results[j].Scope
	})
	return results, nil
}

// Close is a no-op; the owning DB closes the database.
func (s *HourlyStore) Close() error { return nil }

// AuditLog implements storage.AuditLog on BadgerDB. Keys embed the entry's
// creation time so iteration order is chronological per scope.
type AuditLog struct {
	db *badger.DB
}

func auditKey(scope stats.ScopeKey, createdAt time.Time, id string) []byte {
	hash := xxhash.Sum64String(string(scope))
	key := make([]byte, 1+8+8, 1+8+8+len(id))
	key[0] = prefixAudit
	binary.BigEndian.PutUint64(key[1:9], hash)
	binary.BigEndian.PutUint64(key[9:17], uint64(createdAt.UnixNano()))
	return append(key, id...)
}

// Append stores one immutable entry.
func (l *AuditLog) Append(ctx context.Context, entry stats.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	val, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(auditKey(entry.Scope, entry.CreatedAt, entry.ID), val)
	})
}

// List returns entries for a scope (empty = all), newest first.
func (l *AuditLog) List(ctx context.Context, scope stats.ScopeKey, limit int) ([]stats.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var results []stats.AuditEntry
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixAudit}

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry stats.AuditEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("failed to decode audit entry: %w", err)
			}
			if scope != "" && entry.Scope != scope {
				continue
			}
			results = append(results, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close is a no-op; the owning DB closes the database.
func (l *AuditLog) Close() error { return nil }

// makeKey builds [prefix][scope hash][bucket time] so one scope's buckets
// are contiguous and time-ordered.
func makeKey(prefix byte, scope stats.ScopeKey, bucket time.Time) []byte {
	hash := xxhash.Sum64String(string(scope))
	key := make([]byte, 17)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:9], hash)
	binary.BigEndian.PutUint64(key[9:17], uint64(bucket.UnixNano()))
	return key
}

func scopeInSet(scope stats.ScopeKey, scopes []stats.ScopeKey) bool {
	if scopes == nil {
		return true
	}
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
