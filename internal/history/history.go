// Package history keeps a sqlite-backed record of per-office probe
// summaries so the dashboard can show more than the latest iteration.
// Raw probe output is never stored, only the capped summary.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dmvwatch/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         TEXT    NOT NULL,
	office     TEXT    NOT NULL,
	available  INTEGER NOT NULL,
	slot_count INTEGER NOT NULL,
	samples    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_at ON results(at);
CREATE INDEX IF NOT EXISTS idx_results_office ON results(office);
`

// Entry is one recorded per-office summary.
type Entry struct {
	At        time.Time `json:"at"`
	Office    string    `json:"office"`
	Available bool      `json:"available"`
	SlotCount int       `json:"count"`
	Samples   []string  `json:"samples"`
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open creates or migrates the database at path.
func Open(path string, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts one per-office summary row.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	samples, err := json.Marshal(e.Samples)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results(at, office, available, slot_count, samples) VALUES(?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Office, boolToInt(e.Available), e.SlotCount, string(samples),
	)
	return err
}

// Recent returns the newest entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, office, available, slot_count, samples FROM results ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			at        string
			e         Entry
			available int
			samples   string
		)
		if err := rows.Scan(&at, &e.Office, &available, &e.SlotCount, &samples); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = ts
		}
		e.Available = available != 0
		if err := json.Unmarshal([]byte(samples), &e.Samples); err != nil {
			e.Samples = nil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune removes rows older than the retention window.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Debug("pruned history rows", logx.Int64("rows", n))
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
