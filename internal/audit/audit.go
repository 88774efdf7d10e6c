package audit

import (
	"context"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
)

// Connection lifecycle events recorded in the audit trail.
const (
	EventAccepted     = "accepted"
	EventRejected     = "rejected"
	EventDisconnected = "disconnected"
)

// Entry is one recorded admission decision or disconnect. This is operational
// telemetry only; no player state is ever written here.
type Entry struct {
	Ts     string `db:"ts" json:"ts"`
	Addr   string `db:"addr" json:"addr"`
	ConnID string `db:"conn_id" json:"connId"`
	Event  string `db:"event" json:"event"`
}

// Store keeps the connection audit trail in a local sqlite database and feeds
// the /status/history endpoint. A nil *Store records nothing.
type Store struct {
	db *sqlx.DB
}

// Open connects to the sqlite database at path and verifies the schema.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS connection_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		addr TEXT NOT NULL,
		conn_id TEXT NOT NULL,
		event TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create connection_log table: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends one entry. Errors are returned so the caller can decide to
// log them; the relay treats audit failures as non-fatal.
func (s *Store) Record(ctx context.Context, addr, connID, event string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connection_log (ts, addr, conn_id, event) VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), addr, connID, event)
	return err
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	var out []Entry
	err := s.db.SelectContext(ctx, &out,
		`SELECT ts, addr, conn_id, event FROM connection_log ORDER BY id DESC LIMIT ?`, limit)
	return out, err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
