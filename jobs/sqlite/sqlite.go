// Package sqlite implements jobs.Sink using pure-Go SQLite. Every
// bookkeeping record of a job becomes one row.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/jobs"
)

// Sink stores bookkeeping records in a SQLite database.
type Sink struct {
	db *sql.DB
}

var _ jobs.Sink = (*Sink)(nil)

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Sink{db: db}
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Init creates the records table.
func (s *Sink) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS bookkeeping_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		actor_key TEXT NOT NULL,
		message_id TEXT,
		record_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create bookkeeping table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_bookkeeping_run ON bookkeeping_records (run_id)`)
	if err != nil {
		return fmt.Errorf("create bookkeeping index: %w", err)
	}

	return nil
}

// Write inserts every record of job in one transaction.
func (s *Sink) Write(ctx context.Context, job core.BookKeepingJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bookkeeping_records (session_id, run_id, actor_key, message_id, record_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()

	keys := make([]string, 0, len(job.Records))
	for k := range job.Records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for _, rec := range job.Records[key] {
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal record of %s: %w", key, err)
			}

			var msgID sql.NullString
			if rec.MessageID != "" {
				msgID = sql.NullString{String: rec.MessageID, Valid: true}
			}

			if _, err := stmt.ExecContext(ctx, job.SessionID, job.RunID, key, msgID, string(raw), now); err != nil {
				return fmt.Errorf("insert record of %s: %w", key, err)
			}
		}
	}

	return tx.Commit()
}

// Row is a stored bookkeeping record.
type Row struct {
	SessionID  string
	RunID      string
	ActorKey   string
	MessageID  string
	RecordJSON string
	CreatedAt  time.Time
}

// Rows returns the stored records of a run in insertion order.
func (s *Sink) Rows(ctx context.Context, runID string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, run_id, actor_key, message_id, record_json, created_at FROM bookkeeping_records WHERE run_id = ? ORDER BY id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r       Row
			msgID   sql.NullString
			created int64
		)
		if err := rows.Scan(&r.SessionID, &r.RunID, &r.ActorKey, &msgID, &r.RecordJSON, &created); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.MessageID = msgID.String
		r.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, r)
	}

	return out, rows.Err()
}

// Close closes the database.
func (s *Sink) Close() error {
	return s.db.Close()
}
