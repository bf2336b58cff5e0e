package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS archive_records (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    mode        TEXT         NOT NULL,
    level       TEXT         NOT NULL,
    messages    INTEGER      NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    snapshot    JSONB        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_archive_records_created
    ON archive_records (created_at DESC);
`

// PostgresStore is a [Store] backed by a [pgxpool.Pool].
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn, pings the server and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, r Record) error {
	if err := validate(r); err != nil {
		return err
	}
	const q = `
		INSERT INTO archive_records (id, session_id, mode, level, messages, created_at, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q,
		r.ID, r.SessionID, r.Mode, r.Level, r.Messages, r.CreatedAt, string(r.Snapshot))
	if err != nil {
		return fmt.Errorf("archive: save: %w", err)
	}
	return nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	const q = `
		SELECT id, session_id, mode, level, messages, created_at
		FROM   archive_records
		ORDER  BY created_at DESC, id
		LIMIT  $1`
	rows, err := s.pool.Query(ctx, q, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(&r.ID, &r.SessionID, &r.Mode, &r.Level, &r.Messages, &r.CreatedAt)
		r.CreatedAt = r.CreatedAt.UTC()
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	const q = `
		SELECT id, session_id, mode, level, messages, created_at, snapshot::text
		FROM   archive_records
		WHERE  id = $1`
	var (
		r    Record
		snap string
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&r.ID, &r.SessionID, &r.Mode, &r.Level, &r.Messages, &r.CreatedAt, &snap)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("archive: get: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.Snapshot = []byte(snap)
	return r, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
