// Package journal appends orchestration events to durable storage. The core
// only ever writes: after a restart the orchestrator starts empty and the
// journal remains as an operator-facing record, not recovery state.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/flockmind/flockmind/internal/events"
)

// Recorder accepts orchestration events for durable append
type Recorder interface {
	Record(ctx context.Context, e events.Event) error
	Close() error
}

// Reader serves journal history to inspection surfaces.
type Reader interface {
	Count(ctx context.Context) (int64, error)
	Tail(ctx context.Context, n int) ([]Entry, error)
}

// Nop discards all events. Used when the journal is disabled.
type Nop struct{}

func (Nop) Record(context.Context, events.Event) error { return nil }
func (Nop) Close() error                               { return nil }

// Entry is one journal row as read back for inspection surfaces
type Entry struct {
	Seq     int64          `json:"seq"`
	EventID string         `json:"event_id"`
	Type    string         `json:"type"`
	Time    string         `json:"time"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SQLite is an append-only event journal backed by a single SQLite table
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the journal database at path
func Open(path string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}

	// WAL mode keeps appends cheap alongside inspection reads
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: wal mode: %w", err)
	}

	j := &SQLite{
		db:     db,
		logger: logger.With("component", "journal"),
	}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}

	return j, nil
}

func (j *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			seq      INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			type     TEXT NOT NULL,
			time     TEXT NOT NULL,
			payload  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:30], err)
		}
	}
	return nil
}

// Record appends one event
func (j *SQLite) Record(ctx context.Context, e events.Event) error {
	var payload []byte
	if e.Payload != nil {
		var err error
		payload, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("journal: marshal payload: %w", err)
		}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (event_id, type, time, payload) VALUES (?, ?, ?, ?)`,
		e.ID, e.Type, e.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00"), string(payload))
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}

	j.logger.Debug("event journaled", "type", e.Type, "id", e.ID)
	return nil
}

// Count returns the number of journaled events
func (j *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}

// Tail returns the most recent n entries, newest first
func (j *SQLite) Tail(ctx context.Context, n int) ([]Entry, error) {
	if n < 1 {
		n = 1
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, event_id, type, time, payload FROM events ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: tail: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var payload sql.NullString
		if err := rows.Scan(&e.Seq, &e.EventID, &e.Type, &e.Time, &payload); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				j.logger.Warn("unreadable journal payload", "seq", e.Seq, "error", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database
func (j *SQLite) Close() error {
	return j.db.Close()
}
