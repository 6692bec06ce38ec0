package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// runLedger records pipeline runs and per-entry row counts in a SQLite file
// next to the working data, so a failed load can be diagnosed after the logs
// are gone. All methods tolerate a nil receiver: a nil ledger records
// nothing.
type runLedger struct {
	db *sql.DB
}

var ledgerSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS run_events (
		run_id TEXT NOT NULL REFERENCES runs(id),
		stage TEXT NOT NULL,
		entry TEXT NOT NULL,
		rows_added INTEGER NOT NULL,
		logged_at TEXT NOT NULL
	)`,
}

// openLedger opens the ledger database at path, creating it and its schema
// on first use.
func openLedger(path string) (*runLedger, error) {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range ledgerSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init ledger schema: %w", err)
		}
	}
	return &runLedger{db: db}, nil
}

func (l *runLedger) close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

// begin records a new run and returns its id.
func (l *runLedger) begin() (string, error) {
	if l == nil {
		return "", nil
	}
	id := ulid.Make().String()
	_, err := l.db.Exec(
		"INSERT INTO runs (id, started_at, status) VALUES (?, ?, 'running')",
		id, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("ledger: record run start: %w", err)
	}
	return id, nil
}

// event records the rows one archive entry added during a stage. Bookkeeping
// failures mid-run are logged, not fatal: the load itself is fine.
func (l *runLedger) event(runID, stage, entry string, rows int64) {
	if l == nil || runID == "" {
		return
	}
	_, err := l.db.Exec(
		"INSERT INTO run_events (run_id, stage, entry, rows_added, logged_at) VALUES (?, ?, ?, ?, ?)",
		runID, stage, entry, rows, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		log.Warn().Msgf("ledger: record %s event: %v", stage, err)
	}
}

// finish marks a run completed or failed.
func (l *runLedger) finish(runID string, runErr error) {
	if l == nil || runID == "" {
		return
	}
	status, msg := "completed", ""
	if runErr != nil {
		status, msg = "failed", runErr.Error()
	}
	_, err := l.db.Exec(
		"UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), status, msg, runID,
	)
	if err != nil {
		log.Warn().Msgf("ledger: record run finish: %v", err)
	}
}
