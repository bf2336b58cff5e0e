// Package archive stores explicitly exported session snapshots.
//
// Archiving is opt-in: sessions themselves live only in memory and vanish
// when they expire. A learner who wants to keep a conversation exports it
// into the archive, which is backed by SQLite (pure Go, no cgo) or
// PostgreSQL.
//
// Usage:
//
//	store, err := archive.Open(ctx, "sqlite", "data/archive.db")
//	if err != nil { … }
//	defer store.Close()
//
//	rec, _ := archive.NewRecord(sess.Snapshot(time.Now()))
//	_ = store.Save(ctx, rec)
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/session"
)

var (
	// ErrNotFound is returned by [Store.Get] for an unknown record ID.
	ErrNotFound = errors.New("archive: record not found")

	// ErrDisabled is returned by [Open] when no driver is configured.
	ErrDisabled = errors.New("archive: disabled")
)

// DefaultListLimit caps [Store.List] when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Record is one archived snapshot.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Mode      string    `json:"mode"`
	Level     string    `json:"level"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`

	// Snapshot is the JSON export. List leaves it empty.
	Snapshot []byte `json:"-"`
}

// Store persists archive records. Implementations are safe for concurrent use.
type Store interface {
	Save(ctx context.Context, r Record) error

	// List returns the newest records first, without their snapshots.
	List(ctx context.Context, limit int) ([]Record, error)

	// Get returns a record with its snapshot, or [ErrNotFound].
	Get(ctx context.Context, id string) (Record, error)

	Ping(ctx context.Context) error
	Close() error
}

// NewRecord builds a record for snap with a fresh ID.
func NewRecord(snap session.Snapshot) (Record, error) {
	var buf bytes.Buffer
	if err := session.Export(&buf, snap, session.FormatJSON); err != nil {
		return Record{}, fmt.Errorf("archive: encode snapshot: %w", err)
	}
	created := snap.ExportedAt
	if created.IsZero() {
		created = time.Now()
	}
	return Record{
		ID:        uuid.NewString(),
		SessionID: snap.SessionID,
		Mode:      string(snap.Mode),
		Level:     string(snap.Level),
		Messages:  len(snap.Messages),
		CreatedAt: created.UTC(),
		Snapshot:  buf.Bytes(),
	}, nil
}

// Open connects to the archive for driver ("sqlite" or "postgres"). An
// empty driver yields [ErrDisabled].
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "":
		return nil, ErrDisabled
	case "sqlite":
		return NewSQLite(ctx, dsn)
	case "postgres":
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("archive: unknown driver %q", driver)
	}
}

func listLimit(n int) int {
	if n <= 0 || n > DefaultListLimit {
		return DefaultListLimit
	}
	return n
}

func validate(r Record) error {
	if r.ID == "" {
		return errors.New("archive: record id is empty")
	}
	if len(r.Snapshot) == 0 {
		return errors.New("archive: record has no snapshot")
	}
	return nil
}
