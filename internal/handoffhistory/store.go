// Package handoffhistory persists handoffs to SQLite (a row when a
// handoff is enqueued, updated when its acknowledgement is observed) so
// cmd/ops-console can answer "what happened on project X" without
// replaying the filesystem queue's processed/ directory by hand.
//
// Grounded on ODSapper-CLIAIMONITOR's internal/events/store.go
// (SQLiteStore/initSchema/Save shape kept, query surface narrowed to
// this domain's one table), with the driver swapped from
// github.com/mattn/go-sqlite3 (cgo) to modernc.org/sqlite (pure Go, so
// cmd/stop-gate keeps CGO_ENABLED=0 friendly cross-compilation).
package handoffhistory

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nolanhq/stopgate/internal/types"
)

// Store is an append-mostly log of handoffs, keyed by handoff ID.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("handoffhistory: opening %s: %w", path, err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS handoffs (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		from_agent    TEXT NOT NULL,
		to_agent      TEXT NOT NULL,
		project       TEXT NOT NULL,
		team          TEXT NOT NULL,
		status        TEXT NOT NULL,
		acknowledged  INTEGER NOT NULL DEFAULT 0,
		recorded_at   TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_handoffs_project ON handoffs(project, recorded_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("handoffhistory: initializing schema: %w", err)
	}
	return nil
}

// Record inserts a handoff, or updates its acknowledged/status columns
// if the ID already exists (acknowledgement always arrives as a second
// write after the initial enqueue).
func (s *Store) Record(h types.Handoff, now time.Time) error {
	const upsert = `
		INSERT INTO handoffs (id, timestamp, from_agent, to_agent, project, team, status, acknowledged, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			acknowledged = excluded.acknowledged,
			recorded_at = excluded.recorded_at
	`
	_, err := s.db.Exec(upsert,
		h.ID, h.Timestamp, h.FromAgent, h.ToAgent, h.Project, h.Team,
		string(h.Status), boolToInt(h.Acknowledged), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("handoffhistory: recording %s: %w", h.ID, err)
	}
	return nil
}

// Record is a row in project handoff history, ordered newest first.
type Record struct {
	types.Handoff
	RecordedAt time.Time
}

// RecentForProject returns up to limit handoffs recorded for project,
// most recent first.
func (s *Store) RecentForProject(project string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, timestamp, from_agent, to_agent, project, team, status, acknowledged, recorded_at
		FROM handoffs
		WHERE project = ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("handoffhistory: querying %s: %w", project, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var status string
		var acknowledged int
		var recordedAt string
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.FromAgent, &rec.ToAgent,
			&rec.Project, &rec.Team, &status, &acknowledged, &recordedAt); err != nil {
			return nil, fmt.Errorf("handoffhistory: scanning row: %w", err)
		}
		rec.Status = types.HandoffStatus(status)
		rec.Acknowledged = acknowledged != 0
		if t, err := time.Parse(time.RFC3339, recordedAt); err == nil {
			rec.RecordedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
