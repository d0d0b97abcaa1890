// Package store provides SQLite-backed persistence for verified snippets,
// pair records, and run summaries so individual stages can resume from
// prior output.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/julianshen/snipvet/internal/corpus"
)

// RunSummary is a persisted batch summary for one pipeline invocation.
type RunSummary struct {
	RunID     string
	Kind      string
	Stats     string
	CreatedAt time.Time
}

// Store wraps a SQLite database for pipeline persistence.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a SQLite database at dbPath and ensures
// all required tables exist. Use ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snippets (
			id         TEXT PRIMARY KEY,
			path       TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line   INTEGER NOT NULL,
			motif_cwe  TEXT NOT NULL DEFAULT '',
			verified   INTEGER NOT NULL,
			record     TEXT NOT NULL,
			saved_at   DATETIME NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS pairs (
			owner       TEXT NOT NULL,
			repo        TEXT NOT NULL,
			file        TEXT NOT NULL,
			before_sha1 TEXT NOT NULL,
			after_sha1  TEXT NOT NULL,
			combo       TEXT NOT NULL DEFAULT '',
			trust_score REAL NOT NULL DEFAULT 0,
			record      TEXT NOT NULL,
			saved_at    DATETIME NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (owner, repo, file, before_sha1, after_sha1)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id     TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			stats      TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// SaveSnippet persists one snippet. An existing record with the same id is
// replaced.
func (s *Store) SaveSnippet(snippet corpus.VerifiedSnippet) error {
	record, err := json.Marshal(snippet)
	if err != nil {
		return fmt.Errorf("marshal snippet: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO snippets (id, path, start_line, end_line, motif_cwe, verified, record, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		snippet.ID, snippet.Source.Path, snippet.Window.StartLine,
		snippet.Window.EndLine, snippet.MotifCWE, snippet.Verified, string(record),
	)
	if err != nil {
		return fmt.Errorf("save snippet: %w", err)
	}
	return nil
}

// SaveSnippets persists a batch of snippets in one transaction.
func (s *Store) SaveSnippets(snippets []corpus.VerifiedSnippet) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, snippet := range snippets {
		record, err := json.Marshal(snippet)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal snippet %s: %w", snippet.ID, err)
		}
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO snippets (id, path, start_line, end_line, motif_cwe, verified, record, saved_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
			snippet.ID, snippet.Source.Path, snippet.Window.StartLine,
			snippet.Window.EndLine, snippet.MotifCWE, snippet.Verified, string(record),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("save snippet %s: %w", snippet.ID, err)
		}
	}
	return tx.Commit()
}

// GetSnippet retrieves a snippet by id. Returns nil if not found.
func (s *Store) GetSnippet(id string) (*corpus.VerifiedSnippet, error) {
	var record string
	err := s.db.QueryRow(
		`SELECT record FROM snippets WHERE id = ?`, id,
	).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snippet: %w", err)
	}
	var snippet corpus.VerifiedSnippet
	if err := json.Unmarshal([]byte(record), &snippet); err != nil {
		return nil, fmt.Errorf("unmarshal snippet %s: %w", id, err)
	}
	return &snippet, nil
}

// ListSnippets returns stored snippets in deterministic order. With
// verifiedOnly set, rejected snippets are skipped.
func (s *Store) ListSnippets(verifiedOnly bool) ([]corpus.VerifiedSnippet, error) {
	query := `SELECT record FROM snippets ORDER BY path, start_line, end_line, id`
	if verifiedOnly {
		query = `SELECT record FROM snippets WHERE verified = 1 ORDER BY path, start_line, end_line, id`
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list snippets: %w", err)
	}
	defer rows.Close()

	var snippets []corpus.VerifiedSnippet
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan snippet: %w", err)
		}
		var snippet corpus.VerifiedSnippet
		if err := json.Unmarshal([]byte(record), &snippet); err != nil {
			return nil, fmt.Errorf("unmarshal snippet: %w", err)
		}
		snippets = append(snippets, snippet)
	}
	return snippets, rows.Err()
}

// SavePair persists one pair record keyed by its 5-tuple identity. An
// existing record is replaced.
func (s *Store) SavePair(rec corpus.PairRecord) error {
	if !rec.Key.Complete() {
		return fmt.Errorf("save pair: incomplete key %+v", rec.Key)
	}
	record, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal pair: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO pairs (owner, repo, file, before_sha1, after_sha1, combo, trust_score, record, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		rec.Key.Owner, rec.Key.Repo, rec.Key.File, rec.Key.BeforeSHA1,
		rec.Key.AfterSHA1, rec.Combo, rec.TrustScore, string(record),
	)
	if err != nil {
		return fmt.Errorf("save pair: %w", err)
	}
	return nil
}

// GetPair retrieves a pair record by key. Returns nil if not found.
func (s *Store) GetPair(key corpus.PairKey) (*corpus.PairRecord, error) {
	var record string
	err := s.db.QueryRow(
		`SELECT record FROM pairs
		 WHERE owner = ? AND repo = ? AND file = ? AND before_sha1 = ? AND after_sha1 = ?`,
		key.Owner, key.Repo, key.File, key.BeforeSHA1, key.AfterSHA1,
	).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pair: %w", err)
	}
	var rec corpus.PairRecord
	if err := json.Unmarshal([]byte(record), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal pair: %w", err)
	}
	return &rec, nil
}

// HasPair reports whether a pair with this key is already stored, letting
// the miner and verifier skip work on resume.
func (s *Store) HasPair(key corpus.PairKey) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pairs
		 WHERE owner = ? AND repo = ? AND file = ? AND before_sha1 = ? AND after_sha1 = ?`,
		key.Owner, key.Repo, key.File, key.BeforeSHA1, key.AfterSHA1,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query pair: %w", err)
	}
	return count > 0, nil
}

// ListPairs returns all stored pair records sorted by identity key.
func (s *Store) ListPairs() ([]corpus.PairRecord, error) {
	rows, err := s.db.Query(
		`SELECT record FROM pairs ORDER BY owner, repo, file, before_sha1`,
	)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	defer rows.Close()

	var records []corpus.PairRecord
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		var rec corpus.PairRecord
		if err := json.Unmarshal([]byte(record), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal pair: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveRun persists a batch summary. Stats is an opaque JSON blob rendered
// by the output formatters.
func (s *Store) SaveRun(runID, kind string, stats any) error {
	blob, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO runs (run_id, kind, stats, created_at)
		 VALUES (?, ?, ?, datetime('now'))`,
		runID, kind, string(blob),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run summary by id. Returns nil if not found.
func (s *Store) GetRun(runID string) (*RunSummary, error) {
	var r RunSummary
	err := s.db.QueryRow(
		`SELECT run_id, kind, stats, created_at FROM runs WHERE run_id = ?`, runID,
	).Scan(&r.RunID, &r.Kind, &r.Stats, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}
