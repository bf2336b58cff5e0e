package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
PRAGMA busy_timeout = 5000;
CREATE TABLE IF NOT EXISTS archive_records (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	mode        TEXT NOT NULL,
	level       TEXT NOT NULL,
	messages    INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	snapshot    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archive_records_created ON archive_records(created_at);
`

// SQLiteStore is a [Store] backed by a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path in WAL mode and
// ensures the schema exists.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("archive: sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("archive: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal=WAL&_sync=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("archive: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save implements [Store].
func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	if err := validate(r); err != nil {
		return err
	}
	const q = `
		INSERT INTO archive_records (id, session_id, mode, level, messages, created_at, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		r.ID, r.SessionID, r.Mode, r.Level, r.Messages, r.CreatedAt.UnixMilli(), r.Snapshot)
	if err != nil {
		return fmt.Errorf("archive: save: %w", err)
	}
	return nil
}

// List implements [Store].
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	const q = `
		SELECT id, session_id, mode, level, messages, created_at
		FROM archive_records
		ORDER BY created_at DESC, id
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r       Record
			created int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Mode, &r.Level, &r.Messages, &created); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return records, nil
}

// Get implements [Store].
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	const q = `
		SELECT id, session_id, mode, level, messages, created_at, snapshot
		FROM archive_records WHERE id = ?`
	var (
		r       Record
		created int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&r.ID, &r.SessionID, &r.Mode, &r.Level, &r.Messages, &created, &r.Snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("archive: get: %w", err)
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	return r, nil
}

// Ping implements [Store].
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [Store].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
