// Package sqlite persists consultation transcripts in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gene-999/emycin/pkg/emycin/store"
)

type sqliteStore struct {
	db *sql.DB
}

// Open opens a SQLite transcript store with WAL mode enabled, creating the
// schema if needed.
func Open(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	kb TEXT NOT NULL,
	started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_events (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	kind TEXT NOT NULL,
	instance TEXT,
	param TEXT,
	rule_id INTEGER,
	cf REAL,
	detail TEXT,
	UNIQUE(session_id, seq),
	FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS session_findings (
	session_id TEXT NOT NULL,
	instance TEXT NOT NULL,
	param TEXT NOT NULL,
	value TEXT NOT NULL,
	cf REAL NOT NULL,
	UNIQUE(session_id, instance, param, value),
	FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_session ON session_events(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_findings_session ON session_findings(session_id);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// SaveSession stores a transcript atomically.
func (s *sqliteStore) SaveSession(ctx context.Context, rec store.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, kb, started_at) VALUES (?, ?, ?)`,
		rec.ID, rec.KB, rec.StartedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_events WHERE session_id = ?`, rec.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_findings WHERE session_id = ?`, rec.ID); err != nil {
		return err
	}

	for _, e := range rec.Events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_events (session_id, seq, kind, instance, param, rule_id, cf, detail)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, e.Seq, e.Kind, e.Instance, e.Param, e.RuleID, e.CF, e.Detail); err != nil {
			return fmt.Errorf("insert event %d: %w", e.Seq, err)
		}
	}

	for _, f := range rec.Findings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_findings (session_id, instance, param, value, cf)
			 VALUES (?, ?, ?, ?, ?)`,
			rec.ID, f.Instance, f.Param, f.Value, f.CF); err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}

	return tx.Commit()
}

// GetSession returns a transcript by session ID.
func (s *sqliteStore) GetSession(ctx context.Context, id string) (store.Session, bool, error) {
	var rec store.Session
	var startedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kb, started_at FROM sessions WHERE id = ?`, id).
		Scan(&rec.ID, &rec.KB, &startedAt)
	if err == sql.ErrNoRows {
		return store.Session{}, false, nil
	}
	if err != nil {
		return store.Session{}, false, err
	}
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return store.Session{}, false, fmt.Errorf("parse started_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, kind, instance, param, rule_id, cf, detail
		 FROM session_events WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return store.Session{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var e store.Event
		if err := rows.Scan(&e.Seq, &e.Kind, &e.Instance, &e.Param, &e.RuleID, &e.CF, &e.Detail); err != nil {
			return store.Session{}, false, err
		}
		rec.Events = append(rec.Events, e)
	}
	if err := rows.Err(); err != nil {
		return store.Session{}, false, err
	}

	frows, err := s.db.QueryContext(ctx,
		`SELECT instance, param, value, cf
		 FROM session_findings WHERE session_id = ? ORDER BY instance, param, cf DESC`, id)
	if err != nil {
		return store.Session{}, false, err
	}
	defer frows.Close()
	for frows.Next() {
		var f store.Finding
		if err := frows.Scan(&f.Instance, &f.Param, &f.Value, &f.CF); err != nil {
			return store.Session{}, false, err
		}
		rec.Findings = append(rec.Findings, f)
	}
	if err := frows.Err(); err != nil {
		return store.Session{}, false, err
	}

	return rec, true, nil
}

// ListSessions returns summaries, most recent first.
func (s *sqliteStore) ListSessions(ctx context.Context, limit int) ([]store.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.kb, s.started_at,
		        (SELECT COUNT(*) FROM session_findings f WHERE f.session_id = s.id)
		 FROM sessions s ORDER BY s.started_at DESC, s.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Summary
	for rows.Next() {
		var sum store.Summary
		var startedAt string
		if err := rows.Scan(&sum.ID, &sum.KB, &startedAt, &sum.Findings); err != nil {
			return nil, err
		}
		if sum.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
