// Package journal keeps a sqlite record of upload batches.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS upload_writes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id   TEXT NOT NULL,
	step       TEXT NOT NULL,
	parameter  TEXT NOT NULL,
	value      REAL NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	written_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_upload_writes_batch ON upload_writes(batch_id);
CREATE TABLE IF NOT EXISTS upload_outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id    TEXT NOT NULL,
	step        TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	recorded_at TEXT NOT NULL
);
`

// Write is one recorded parameter write.
type Write struct {
	BatchID   string
	Step      string
	Parameter string
	Value     float64
	Error     string
	WrittenAt time.Time
}

// Outcome is the recorded result of an upload batch.
type Outcome struct {
	BatchID    string
	Step       string
	Attempt    int
	Outcome    string
	Detail     string
	RecordedAt time.Time
}

// Journal wraps the sqlite connection.
type Journal struct {
	mu   sync.Mutex
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the journal database.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{conn: conn, path: path, now: time.Now}, nil
}

// Path returns the database file.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.conn.Close()
}

// RecordWrite stores a single parameter write.
func (j *Journal) RecordWrite(batchID, step, name string, value float64, writeErr error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	msg := ""
	if writeErr != nil {
		msg = writeErr.Error()
	}
	_, err := j.conn.Exec(
		`INSERT INTO upload_writes (batch_id, step, parameter, value, error, written_at) VALUES (?, ?, ?, ?, ?, ?)`,
		batchID, step, name, value, msg, j.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record write %s: %w", name, err)
	}
	return nil
}

// RecordOutcome stores the result of an upload batch.
func (j *Journal) RecordOutcome(batchID, step string, attempt int, outcome, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.conn.Exec(
		`INSERT INTO upload_outcomes (batch_id, step, attempt, outcome, detail, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		batchID, step, attempt, outcome, detail, j.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", batchID, err)
	}
	return nil
}

// Writes returns the writes of a batch in insertion order.
func (j *Journal) Writes(batchID string) ([]Write, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.conn.Query(
		`SELECT batch_id, step, parameter, value, error, written_at FROM upload_writes WHERE batch_id = ? ORDER BY id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query writes: %w", err)
	}
	defer rows.Close()

	var out []Write
	for rows.Next() {
		var w Write
		var at string
		if err := rows.Scan(&w.BatchID, &w.Step, &w.Parameter, &w.Value, &w.Error, &at); err != nil {
			return nil, fmt.Errorf("scan write: %w", err)
		}
		w.WrittenAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, w)
	}
	return out, rows.Err()
}

// Outcomes returns the recorded outcomes of a step, newest first.
func (j *Journal) Outcomes(step string) ([]Outcome, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.conn.Query(
		`SELECT batch_id, step, attempt, outcome, detail, recorded_at FROM upload_outcomes WHERE step = ? ORDER BY id DESC`,
		step,
	)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var at string
		if err := rows.Scan(&o.BatchID, &o.Step, &o.Attempt, &o.Outcome, &o.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, o)
	}
	return out, rows.Err()
}
