package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"orderintake/internal"
)

// DB is the run ledger: one row per ingestion attempt.
type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// batch workers share the ledger; serialize writers at the pool
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode = WAL;`, `PRAGMA busy_timeout = 5000;`} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
  runId TEXT PRIMARY KEY,
  sourceFile TEXT NOT NULL,
  sourceHash TEXT,
  status TEXT NOT NULL,
  failedStage TEXT,
  error TEXT,
  formatType TEXT,
  itemCount INTEGER NOT NULL DEFAULT 0,
  warningCount INTEGER NOT NULL DEFAULT 0,
  outputPath TEXT,
  createdAt TEXT NOT NULL,
  createdNs INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_createdNs ON runs(createdNs);
CREATE INDEX IF NOT EXISTS idx_runs_sourceHash ON runs(sourceHash);
`

	_, err := d.conn.Exec(schema)
	return err
}

// InsertRun stores run. CreatedAt must be an RFC 3339 timestamp; runs are
// ordered by its instant, not its text.
func (d *DB) InsertRun(run internal.RunRecord) error {
	created, err := time.Parse(time.RFC3339Nano, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("run %s: createdAt: %w", run.RunID, err)
	}
	_, err = d.conn.Exec(`
INSERT INTO runs (runId, sourceFile, sourceHash, status, failedStage, error, formatType, itemCount, warningCount, outputPath, createdAt, createdNs)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.RunID, run.SourceFile, run.SourceHash, run.Status, run.FailedStage, run.Error,
		run.FormatType, run.ItemCount, run.WarningCount, run.OutputPath, run.CreatedAt, created.UnixNano())
	return err
}

const runColumns = `runId, sourceFile, sourceHash, status, failedStage, error, formatType, itemCount, warningCount, outputPath, createdAt`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (internal.RunRecord, error) {
	var run internal.RunRecord
	err := s.Scan(
		&run.RunID, &run.SourceFile, &run.SourceHash, &run.Status, &run.FailedStage, &run.Error,
		&run.FormatType, &run.ItemCount, &run.WarningCount, &run.OutputPath, &run.CreatedAt,
	)
	return run, err
}

// ListRuns returns the most recent runs first.
func (d *DB) ListRuns(limit int) ([]internal.RunRecord, error) {
	rows, err := d.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY createdNs DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (d *DB) GetRun(runID string) (*internal.RunRecord, error) {
	run, err := scanRun(d.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE runId = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FindBySourceHash returns the latest successful run of identical content.
func (d *DB) FindBySourceHash(hash string) (*internal.RunRecord, error) {
	run, err := scanRun(d.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE sourceHash = ? AND status = 'success' ORDER BY createdNs DESC, rowid DESC LIMIT 1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
