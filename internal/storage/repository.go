package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	pq "github.com/lib/pq"

	"github.com/guttosm/equitypanel/internal/domain/models"
)

// PanelRepository publishes the consolidated panel to Postgres and serves
// per-symbol queries over it.
type PanelRepository interface {
	ReplacePanel(ctx context.Context, snapshotDate time.Time, records []models.CleanRecord) error
	GetSymbolPanel(ctx context.Context, symbol, from, to string) ([]models.CleanRecord, error)
	HasSnapshotForDate(ctx context.Context, date time.Time) (bool, error)
}

type panelRepository struct {
	db *sql.DB
}

func NewPanelRepository(db *sql.DB) PanelRepository {
	return &panelRepository{db: db}
}

// ReplacePanel swaps the published panel for records in a single transaction.
//
// Behavior:
//   - Deletes every previously published row; the panel is never merged.
//   - Bulk loads records with COPY.
//   - Upserts panel_snapshot_log for snapshotDate.
//
// Readers see either the old or the new panel, never a mix.
func (r *panelRepository) ReplacePanel(ctx context.Context, snapshotDate time.Time, records []models.CleanRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Small optimization for bulk load
	if _, err := tx.ExecContext(ctx, `SET LOCAL synchronous_commit = OFF`); err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM panel_records`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear panel: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(
		"panel_records",
		"snapshot_date",
		"symbol",
		"period",
		"period_end",
		"price",
		"volume",
		"monthly_log_return",
	))
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	symbols := make(map[string]struct{})
	for _, rec := range records {
		symbols[rec.Symbol] = struct{}{}
		if _, err := stmt.ExecContext(ctx,
			snapshotDate,
			rec.Symbol,
			rec.Period,
			rec.Date,
			rec.Price,
			rec.Volume,
			rec.MonthlyLogReturn,
		); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		_ = tx.Rollback()
		return err
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO panel_snapshot_log (snapshot_date, row_count, symbol_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (snapshot_date)
		DO UPDATE SET row_count = EXCLUDED.row_count,
					  symbol_count = EXCLUDED.symbol_count,
					  published_at = NOW()
	`, snapshotDate, len(records), len(symbols)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert snapshot log: %w", err)
	}

	return tx.Commit()
}

// HasSnapshotForDate checks if a panel was already published for date.
func (r *panelRepository) HasSnapshotForDate(ctx context.Context, date time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM panel_snapshot_log WHERE snapshot_date = $1)`, date).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// GetSymbolPanel returns the published months of symbol in period order.
// from and to are inclusive "YYYY-MM" bounds; empty means unbounded.
func (r *panelRepository) GetSymbolPanel(ctx context.Context, symbol, from, to string) ([]models.CleanRecord, error) {
	// $1 is always symbol. Subsequent placeholders depend on provided bounds.
	conditions := "symbol = $1"
	args := []interface{}{symbol}
	if from != "" {
		conditions += fmt.Sprintf(" AND period >= $%d", len(args)+1)
		args = append(args, from)
	}
	if to != "" {
		conditions += fmt.Sprintf(" AND period <= $%d", len(args)+1)
		args = append(args, to)
	}

	query := fmt.Sprintf(`
		SELECT symbol, period, period_end, price, volume, monthly_log_return
		FROM panel_records
		WHERE %s
		ORDER BY period
	`, conditions)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.CleanRecord
	for rows.Next() {
		var rec models.CleanRecord
		if err := rows.Scan(&rec.Symbol, &rec.Period, &rec.Date, &rec.Price, &rec.Volume, &rec.MonthlyLogReturn); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
