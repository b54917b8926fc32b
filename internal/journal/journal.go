// Package journal persists counted usage records inside the active tracking
// window so a restart can warm the aggregator without re-parsing every log
// file. Rows are pruned to the same retention horizon as in-memory blocks;
// nothing outlives the window.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tokenmeter/tokenmeter/internal/usage"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: creating DB dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: opening DB: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// occurred_at holds unix nanoseconds so ordering and pruning compare
// numerically rather than as text.
func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS usage_records (
			record_id TEXT PRIMARY KEY,
			dedup_key TEXT NOT NULL UNIQUE,
			occurred_at INTEGER NOT NULL,
			session_id TEXT,
			project_id TEXT,
			model TEXT,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cache_read_tokens INTEGER NOT NULL,
			cache_write_tokens INTEGER NOT NULL,
			message_id TEXT,
			request_id TEXT,
			source_file TEXT,
			ingested_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_occurred_at ON usage_records(occurred_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("journal: init schema: %w", err)
		}
	}
	return nil
}

// Append stores one counted record. A dedup-key collision is a silent no-op,
// so replaying a file after rotation keeps the journal consistent with the
// in-memory dedup index.
func (s *Store) Append(ctx context.Context, rec usage.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO usage_records (
			record_id, dedup_key, occurred_at, session_id, project_id, model,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
			message_id, request_id, source_file, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.NewString(),
		rec.DedupKey(),
		rec.Timestamp.UTC().UnixNano(),
		rec.SessionID,
		rec.ProjectID,
		rec.Model,
		rec.Tokens.Input,
		rec.Tokens.Output,
		rec.Tokens.CacheRead,
		rec.Tokens.CacheWrite,
		rec.MessageID,
		rec.RequestID,
		rec.SourceFile,
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: insert record: %w", err)
	}
	return nil
}

// Replay streams stored records in timestamp order into fn.
func (s *Store) Replay(ctx context.Context, fn func(usage.Record) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, session_id, project_id, model,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
			message_id, request_id, source_file
		FROM usage_records
		ORDER BY occurred_at ASC
	`)
	if err != nil {
		return fmt.Errorf("journal: query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			occurredAt int64
			rec        usage.Record
		)
		if err := rows.Scan(
			&occurredAt, &rec.SessionID, &rec.ProjectID, &rec.Model,
			&rec.Tokens.Input, &rec.Tokens.Output, &rec.Tokens.CacheRead, &rec.Tokens.CacheWrite,
			&rec.MessageID, &rec.RequestID, &rec.SourceFile,
		); err != nil {
			return fmt.Errorf("journal: scan record: %w", err)
		}
		rec.Timestamp = time.Unix(0, occurredAt).UTC()
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Prune deletes rows whose timestamp is strictly before the cutoff and
// returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_records WHERE occurred_at < ?`,
		before.UTC().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
