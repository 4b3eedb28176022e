// Package catalog keeps a local sqlite history of evaluation runs. It is
// advisory: failures are logged by callers, never fatal.
package catalog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jjkim0807/livesqlbench/benchmark"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id           TEXT PRIMARY KEY,
	input_file       TEXT NOT NULL,
	total_instances  INTEGER NOT NULL,
	execution_errors INTEGER NOT NULL,
	timeouts         INTEGER NOT NULL,
	assertion_errors INTEGER NOT NULL,
	passed           INTEGER NOT NULL,
	accuracy         REAL NOT NULL,
	created_at       TEXT NOT NULL
);`

// Run is one recorded evaluation run.
type Run struct {
	RunID          string
	InputFile      string
	TotalInstances int
	Totals         benchmark.Totals
	Accuracy       float64
	CreatedAt      string
}

type Catalog struct {
	db *sql.DB
}

func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening run catalog: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing run catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) RecordRun(run Run) error {
	_, err := c.db.Exec(`
		INSERT INTO runs (run_id, input_file, total_instances, execution_errors,
			timeouts, assertion_errors, passed, accuracy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.InputFile, run.TotalInstances,
		run.Totals.ExecutionErrors, run.Totals.Timeouts, run.Totals.AssertionErrors,
		run.Totals.Passed, run.Accuracy, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// Runs returns the recorded runs, most recent first.
func (c *Catalog) Runs() ([]Run, error) {
	rows, err := c.db.Query(`
		SELECT run_id, input_file, total_instances, execution_errors,
			timeouts, assertion_errors, passed, accuracy, created_at
		FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.InputFile, &r.TotalInstances,
			&r.Totals.ExecutionErrors, &r.Totals.Timeouts, &r.Totals.AssertionErrors,
			&r.Totals.Passed, &r.Accuracy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
