// Package history keeps the results of past runs in a sqlite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jakopako/goverify/internal/types"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	scenario TEXT NOT NULL,
	base_url TEXT NOT NULL,
	driver TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario, started_at);
CREATE TABLE IF NOT EXISTS step_outcomes (
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	idx INTEGER NOT NULL,
	kind TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	error_kind TEXT,
	message TEXT,
	duration_ns INTEGER NOT NULL,
	artifact TEXT,
	PRIMARY KEY (run_id, idx)
);
`

// DefaultPath is the location of the history database if none is configured.
const DefaultPath = ".goverify/history.db"

// Run is the summary of a recorded run.
type Run struct {
	RunID      string
	Scenario   string
	BaseURL    string
	Driver     string
	Status     types.Status
	StartedAt  time.Time
	FinishedAt time.Time
	// FailedSteps is the number of failed steps of the run.
	FailedSteps int
}

// Store is the run history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection serializes the writers of parallel runs
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a result with all its step outcomes.
func (s *Store) Record(ctx context.Context, r types.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, scenario, base_url, driver, status, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Scenario, r.BaseURL, r.Driver, string(r.Status),
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.FinishedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", r.RunID, err)
	}
	for _, o := range r.Steps {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO step_outcomes (run_id, idx, kind, description, status, error_kind, message, duration_ns, artifact) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, o.Index, o.Kind, o.Description, string(o.Status), string(o.ErrorKind), o.Message, int64(o.Duration), o.Artifact,
		); err != nil {
			return fmt.Errorf("failed to insert step %d of run %s: %w", o.Index, r.RunID, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit runs, newest first. An empty scenario returns the
// runs of all scenarios.
func (s *Store) Recent(ctx context.Context, scenario string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.scenario, r.base_url, r.driver, r.status, r.started_at, r.finished_at,
			(SELECT COUNT(*) FROM step_outcomes o WHERE o.run_id = r.run_id AND o.status = ?)
		FROM runs r
		WHERE ? = '' OR r.scenario = ?
		ORDER BY r.started_at DESC
		LIMIT ?`, string(types.StatusFailed), scenario, scenario, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var status, started, finished string
		if err := rows.Scan(&r.RunID, &r.Scenario, &r.BaseURL, &r.Driver, &status, &started, &finished, &r.FailedSteps); err != nil {
			return nil, err
		}
		r.Status = types.Status(status)
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Steps returns the step outcomes of a recorded run in order.
func (s *Store) Steps(ctx context.Context, runID string) ([]types.StepOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, kind, description, status, error_kind, message, duration_ns, artifact
		FROM step_outcomes WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []types.StepOutcome{}
	for rows.Next() {
		var o types.StepOutcome
		var status, errorKind string
		var duration int64
		if err := rows.Scan(&o.Index, &o.Kind, &o.Description, &status, &errorKind, &o.Message, &duration, &o.Artifact); err != nil {
			return nil, err
		}
		o.Status = types.Status(status)
		o.ErrorKind = types.ErrorKind(errorKind)
		o.Duration = time.Duration(duration)
		steps = append(steps, o)
	}
	return steps, rows.Err()
}

// ErrUnknownRun is returned by Lookup if no run matches.
var ErrUnknownRun = errors.New("unknown run")

// Lookup returns the full id of the run whose id starts with prefix, e.g. the
// short id printed in summaries.
func (s *Store) Lookup(ctx context.Context, prefix string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM runs WHERE substr(run_id, 1, ?) = ? LIMIT 2`, len(prefix), prefix)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w %s", ErrUnknownRun, prefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("run id %s is ambiguous", prefix)
	}
}
