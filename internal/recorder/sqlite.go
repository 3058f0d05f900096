package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/guttosm/equitypanel/internal/domain/models"
	"github.com/guttosm/equitypanel/internal/logger"
)

// SQLiteRecorder persists run history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

var _ Recorder = (*SQLiteRecorder)(nil)

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets the API read the ledger while a run writes it.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Component("recorder").Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT PRIMARY KEY,
			mode        TEXT    NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER,
			requested   INTEGER NOT NULL DEFAULT 0,
			succeeded   INTEGER NOT NULL DEFAULT 0,
			failed      INTEGER NOT NULL DEFAULT 0,
			status      TEXT    NOT NULL DEFAULT 'running',
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS run_failures (
			run_id     TEXT    NOT NULL REFERENCES runs(run_id),
			symbol     TEXT    NOT NULL,
			attempts   INTEGER NOT NULL,
			last_error TEXT,
			PRIMARY KEY (run_id, symbol)
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) StartRun(mode string) (models.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := newRun(mode)
	_, err := r.db.Exec(`INSERT INTO runs (run_id, mode, started_at) VALUES (?, ?, ?)`,
		run.RunID, run.Mode, run.StartedAt.UnixMilli())
	if err != nil {
		return run, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (r *SQLiteRecorder) FinishRun(report models.RunReport, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	finished := report.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	status, errText := "ok", sql.NullString{}
	if runErr != nil {
		status = "failed"
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE runs
		SET finished_at = ?, requested = ?, succeeded = ?, failed = ?, status = ?, error = ?
		WHERE run_id = ?`,
		finished.UnixMilli(), report.Requested, report.Succeeded, len(report.Failed), status, errText, report.RunID,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run: %w", err)
	}
	for _, f := range report.Failed {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO run_failures (run_id, symbol, attempts, last_error) VALUES (?, ?, ?, ?)`,
			report.RunID, f.Symbol, f.Attempts, f.LastError,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert failure %s: %w", f.Symbol, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) RecentRuns(limit int) ([]models.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(`
		SELECT run_id, mode, started_at, finished_at, requested, succeeded
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	var out []models.RunReport
	for rows.Next() {
		var rep models.RunReport
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&rep.RunID, &rep.Mode, &started, &finished, &rep.Requested, &rep.Succeeded); err != nil {
			_ = rows.Close()
			return nil, err
		}
		rep.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			rep.FinishedAt = time.UnixMilli(finished.Int64).UTC()
		}
		out = append(out, rep)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		failed, err := r.failures(out[i].RunID)
		if err != nil {
			return nil, err
		}
		out[i].Failed = failed
	}
	return out, nil
}

func (r *SQLiteRecorder) failures(runID string) ([]models.SymbolOutcome, error) {
	rows, err := r.db.Query(`SELECT symbol, attempts, COALESCE(last_error, '') FROM run_failures WHERE run_id = ? ORDER BY symbol`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.SymbolOutcome
	for rows.Next() {
		var f models.SymbolOutcome
		if err := rows.Scan(&f.Symbol, &f.Attempts, &f.LastError); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
