// Package catalog records pipeline runs and the artifacts they wrote in a
// SQLite ledger, so operators can see which stage artifacts exist and which
// run produced them.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded phase execution.
type Run struct {
	ID          string
	Pipeline    string
	Phase       string
	Status      string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Artifact is one artifact written by a run.
type Artifact struct {
	RunID     string
	Dataset   string
	StageCode string
	Stage     string
	Path      string
	Rows      int
	Columns   int
	WrittenAt time.Time
}

// Catalog wraps the SQLite connection.
type Catalog struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens (or creates) the catalog database at path.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite supports a single writer.
	conn.SetMaxOpenConns(1)

	c := &Catalog{conn: conn, now: time.Now}
	if err := c.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.conn.Close()
}

func (c *Catalog) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			phase TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			run_id TEXT NOT NULL REFERENCES runs(id),
			dataset TEXT NOT NULL,
			stage_code TEXT NOT NULL,
			stage TEXT NOT NULL,
			path TEXT NOT NULL,
			row_count INTEGER NOT NULL DEFAULT 0,
			column_count INTEGER NOT NULL DEFAULT 0,
			written_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_path ON artifacts(path)`,
	}
	for _, m := range migrations {
		if _, err := c.conn.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// StartRun inserts a running run with a fresh id.
func (c *Catalog) StartRun(ctx context.Context, pipeline, phase string) (Run, error) {
	run := Run{
		ID:        uuid.New().String(),
		Pipeline:  pipeline,
		Phase:     phase,
		Status:    StatusRunning,
		StartedAt: c.now().UTC(),
	}
	_, err := c.conn.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, phase, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Pipeline, run.Phase, run.Status, formatTime(run.StartedAt),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun sets the final status of a run.
func (c *Catalog) FinishRun(ctx context.Context, runID, status, errMsg string) error {
	res, err := c.conn.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, errMsg, formatTime(c.now().UTC()), runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// RecordArtifact stores an artifact written by a run.
func (c *Catalog) RecordArtifact(ctx context.Context, a Artifact) error {
	if a.WrittenAt.IsZero() {
		a.WrittenAt = c.now().UTC()
	}
	_, err := c.conn.ExecContext(ctx,
		`INSERT INTO artifacts (run_id, dataset, stage_code, stage, path, row_count, column_count, written_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Dataset, a.StageCode, a.Stage, a.Path, a.Rows, a.Columns, formatTime(a.WrittenAt),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// GetRun returns a run by id.
func (c *Catalog) GetRun(ctx context.Context, runID string) (Run, error) {
	row := c.conn.QueryRowContext(ctx,
		`SELECT id, pipeline, phase, status, error, started_at, completed_at FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (c *Catalog) Runs(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, pipeline, phase, status, error, started_at, completed_at FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Artifacts returns the artifacts written by a run, in write order.
func (c *Catalog) Artifacts(ctx context.Context, runID string) ([]Artifact, error) {
	rows, err := c.conn.QueryContext(ctx,
		`SELECT run_id, dataset, stage_code, stage, path, row_count, column_count, written_at
		 FROM artifacts WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// LatestArtifacts returns, for every artifact path, the most recent write
// by a successful run, ordered by path.
func (c *Catalog) LatestArtifacts(ctx context.Context) ([]Artifact, error) {
	rows, err := c.conn.QueryContext(ctx,
		`SELECT a.run_id, a.dataset, a.stage_code, a.stage, a.path, a.row_count, a.column_count, a.written_at
		 FROM artifacts a JOIN runs r ON r.id = a.run_id
		 WHERE r.status = ? AND a.rowid = (
			SELECT MAX(b.rowid) FROM artifacts b JOIN runs rb ON rb.id = b.run_id
			WHERE b.path = a.path AND rb.status = ?
		 )
		 ORDER BY a.path`, StatusSuccess, StatusSuccess)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var run Run
	var started, completed string
	if err := s.Scan(&run.ID, &run.Pipeline, &run.Phase, &run.Status, &run.Error, &started, &completed); err != nil {
		return Run{}, err
	}
	run.StartedAt = parseTime(started)
	run.CompletedAt = parseTime(completed)
	return run, nil
}

func scanArtifacts(rows *sql.Rows) ([]Artifact, error) {
	var out []Artifact
	for rows.Next() {
		var a Artifact
		var written string
		if err := rows.Scan(&a.RunID, &a.Dataset, &a.StageCode, &a.Stage, &a.Path, &a.Rows, &a.Columns, &written); err != nil {
			return nil, err
		}
		a.WrittenAt = parseTime(written)
		out = append(out, a)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
