// Package ledger keeps a SQLite history of batch runs and their outcomes.
package ledger

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

	"github.com/JacobLinCool/cpta/internal/batch"
)

// ErrNoRuns is returned when the ledger holds no matching run.
var ErrNoRuns = errors.New("no runs recorded")

// Run is one batch invocation.
type Run struct {
	ID         string
	Op         batch.Op
	Root       string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running or if the run was interrupted
}

// Ledger stores runs and outcomes.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger dir: %w", err)
	}

	// WAL lets `history` read while a batch is writing
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		op          TEXT NOT NULL,
		root        TEXT NOT NULL,
		started_at  INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		outcome_id  INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL,
		workspace   TEXT NOT NULL,
		case_id     TEXT NOT NULL DEFAULT '',
		ok          INTEGER NOT NULL,
		detail      TEXT NOT NULL DEFAULT '',
		recorded_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
	`
	_, err := l.db.ExecContext(ctx, schema)
	return err
}

// StartRun opens a new run. The returned recorder is handed to a batch
// driver and finished when the batch returns.
func (l *Ledger) StartRun(ctx context.Context, op batch.Op, root string) (*Recorder, error) {
	run := Run{
		ID:        uuid.NewString(),
		Op:        op,
		Root:      root,
		StartedAt: time.Now(),
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, op, root, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Op), run.Root, run.StartedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	return &Recorder{ledger: l, run: run}, nil
}

// LastRun returns the most recent run, restricted to op when it is set.
func (l *Ledger) LastRun(ctx context.Context, op batch.Op) (Run, error) {
	query := `SELECT run_id, op, root, started_at, finished_at FROM runs`
	var args []any
	if op != "" {
		query += ` WHERE op = ?`
		args = append(args, string(op))
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT 1`

	var (
		run      Run
		opName   string
		started  int64
		finished sql.NullInt64
	)
	err := l.db.QueryRowContext(ctx, query, args...).Scan(&run.ID, &opName, &run.Root, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNoRuns
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to query runs: %w", err)
	}
	run.Op = batch.Op(opName)
	run.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		run.FinishedAt = time.UnixMilli(finished.Int64)
	}
	return run, nil
}

// Outcomes returns a run's outcomes in recording order. With failedOnly
// set, passing outcomes are left out.
func (l *Ledger) Outcomes(ctx context.Context, runID string, failedOnly bool) ([]batch.Outcome, error) {
	query := `SELECT o.workspace, o.case_id, o.ok, o.detail, r.op
		FROM outcomes o JOIN runs r ON r.run_id = o.run_id
		WHERE o.run_id = ?`
	if failedOnly {
		query += ` AND o.ok = 0`
	}
	query += ` ORDER BY o.outcome_id`

	rows, err := l.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []batch.Outcome
	for rows.Next() {
		var (
			o  batch.Outcome
			ok int
			op string
		)
		if err := rows.Scan(&o.Workspace, &o.Case, &ok, &o.Detail, &op); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.OK = ok != 0
		o.Op = batch.Op(op)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Recorder appends outcomes to one run. It satisfies batch.Recorder.
type Recorder struct {
	ledger *Ledger
	run    Run
}

var _ batch.Recorder = (*Recorder)(nil)

// Run returns the run being recorded.
func (r *Recorder) Run() Run {
	return r.run
}

func (r *Recorder) Record(ctx context.Context, o batch.Outcome) error {
	_, err := r.ledger.db.ExecContext(ctx,
		`INSERT INTO outcomes (run_id, workspace, case_id, ok, detail, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.run.ID, o.Workspace, o.Case, boolInt(o.OK), o.Detail, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// Finish marks the run complete.
func (r *Recorder) Finish(ctx context.Context) error {
	r.run.FinishedAt = time.Now()
	_, err := r.ledger.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ? WHERE run_id = ?`, r.run.FinishedAt.UnixMilli(), r.run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
