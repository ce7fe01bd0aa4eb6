package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docuflow/statsengine/pkg/stats"
)

// SQLiteStore reads document records from the pipeline's SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed initializes) the documents database.
// Use ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open documents db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure documents schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	scope TEXT NOT NULL,
	status TEXT NOT NULL,
	path TEXT NOT NULL,
	processing_time_seconds REAL NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_scope_created
	ON documents (scope, created_at);
`

// ListForDay returns every document for scope created within the UTC
// calendar day containing date.
func (s *SQLiteStore) ListForDay(ctx context.Context, scope stats.ScopeKey, date time.Time) ([]Document, error) {
	dayStart := stats.DayOf(date)
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, status, path, processing_time_seconds, created_at
		FROM documents
		WHERE scope = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at
	`, string(scope), dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var scopeStr, status, path string
		if err := rows.Scan(&d.ID, &scopeStr, &status, &path, &d.ProcessingTimeSeconds, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.Scope = stats.ScopeKey(scopeStr)
		d.Status = Status(status)
		d.Path = Path(path)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Insert writes one document record. The pipeline is the normal writer;
// this exists for seeding and tests.
func (s *SQLiteStore) Insert(ctx context.Context, d Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, scope, status, path, processing_time_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ID, string(d.Scope), string(d.Status), string(d.Path), d.ProcessingTimeSeconds, d.CreatedAt.UTC())
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
