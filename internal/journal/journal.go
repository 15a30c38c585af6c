// Package journal records successful batch commits in a local SQLite
// database. The journal is advisory: the completed directory on disk remains
// the sole source of truth for batch existence, and journal failures never
// fail a commit. It exists for operators: recent commit history is served
// from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
const timeFormat = "2006-01-02T15:04:05.000Z"

// Journal is a SQLite-backed commit log.
type Journal struct {
	db *sql.DB
}

// Open creates a Journal at the given DSN and initializes the schema.
func Open(dsn string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return j, nil
}

// initDB applies PRAGMAs and creates the required tables and indexes.
// This is safe to call multiple times (idempotent via IF NOT EXISTS).
func (j *Journal) initDB() error {
	// Apply PRAGMAs for performance and correctness.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := j.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS commits (
			id           TEXT PRIMARY KEY,
			tenant       TEXT NOT NULL,
			batch        TEXT NOT NULL,
			documents    INTEGER NOT NULL,
			sub_batches  INTEGER NOT NULL,
			attachments  INTEGER NOT NULL,
			bytes        INTEGER NOT NULL,
			service_id   TEXT NOT NULL,
			completed_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_commits_tenant_batch ON commits(tenant, batch);
		CREATE INDEX IF NOT EXISTS idx_commits_completed_at ON commits(completed_at);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// CommitRecord is one journaled batch commit.
type CommitRecord struct {
	ID          string    `json:"id"`
	Tenant      string    `json:"tenant"`
	Batch       string    `json:"batch"`
	Documents   int       `json:"documents"`
	SubBatches  int       `json:"sub_batches"`
	Attachments int       `json:"attachments"`
	Bytes       int64     `json:"bytes"`
	ServiceID   string    `json:"service_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// RecordCommit inserts one commit record. An empty ID is assigned a fresh
// UUID.
func (j *Journal) RecordCommit(ctx context.Context, rec *CommitRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO commits (id, tenant, batch, documents, sub_batches, attachments, bytes, service_id, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Tenant, rec.Batch, rec.Documents, rec.SubBatches,
		rec.Attachments, rec.Bytes, rec.ServiceID,
		rec.CompletedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting commit record: %w", err)
	}
	return nil
}

// Recent returns the most recent commits, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]CommitRecord, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, tenant, batch, documents, sub_batches, attachments, bytes, service_id, completed_at
		 FROM commits ORDER BY completed_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying commits: %w", err)
	}
	defer rows.Close()

	var out []CommitRecord
	for rows.Next() {
		var rec CommitRecord
		var completedAt string
		if err := rows.Scan(&rec.ID, &rec.Tenant, &rec.Batch, &rec.Documents,
			&rec.SubBatches, &rec.Attachments, &rec.Bytes, &rec.ServiceID, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning commit record: %w", err)
		}
		ts, err := time.Parse(timeFormat, completedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing commit timestamp %q: %w", completedAt, err)
		}
		rec.CompletedAt = ts
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commit records: %w", err)
	}
	return out, nil
}
