package database

import (
	"context"
	"time"
)

// TableStats summarizes stored data for the ops CLI.
type TableStats struct {
	Symbols          int64
	Candles          int64
	Signals          int64
	OldestCandleTime int64 // Unix ms, 0 when empty
	NewestCandleTime int64 // Unix ms, 0 when empty
}

// Stats counts rows and the candle time range.
func (r *Repository) Stats(ctx context.Context) (*TableStats, error) {
	stats := &TableStats{}
	query := `
		SELECT
			(SELECT COUNT(*) FROM symbols),
			(SELECT COUNT(*) FROM candles),
			(SELECT COUNT(*) FROM signals),
			COALESCE((SELECT MIN(open_time) FROM candles), 0),
			COALESCE((SELECT MAX(open_time) FROM candles), 0)
	`
	err := r.withRetry(ctx, "stats", func(ctx context.Context) error {
		return r.db.Pool.QueryRow(ctx, query).Scan(
			&stats.Symbols, &stats.Candles, &stats.Signals,
			&stats.OldestCandleTime, &stats.NewestCandleTime,
		)
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CountCandlesBefore reports how many candle rows a cleanup would delete.
func (r *Repository) CountCandlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.withRetry(ctx, "count_candles_before", func(ctx context.Context) error {
		query := `SELECT COUNT(*) FROM candles WHERE open_time < $1`
		return r.db.Pool.QueryRow(ctx, query, cutoff.UnixMilli()).Scan(&count)
	})
	return count, err
}

// DeleteCandlesBefore removes candle rows older than the cutoff.
func (r *Repository) DeleteCandlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.withRetry(ctx, "delete_candles_before", func(ctx context.Context) error {
		tag, err := r.db.Pool.Exec(ctx, `DELETE FROM candles WHERE open_time < $1`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, err
}

// CountSignalsBefore reports how many signal rows a cleanup would delete.
func (r *Repository) CountSignalsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.withRetry(ctx, "count_signals_before", func(ctx context.Context) error {
		query := `SELECT COUNT(*) FROM signals WHERE created_at < $1`
		return r.db.Pool.QueryRow(ctx, query, cutoff).Scan(&count)
	})
	return count, err
}

// DeleteSignalsBefore removes signal rows older than the cutoff.
func (r *Repository) DeleteSignalsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.withRetry(ctx, "delete_signals_before", func(ctx context.Context) error {
		tag, err := r.db.Pool.Exec(ctx, `DELETE FROM signals WHERE created_at < $1`, cutoff)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, err
}

// ResetAll wipes all stored data and restarts the id sequences. Used only
// by the ops CLI behind an explicit confirmation flag.
func (r *Repository) ResetAll(ctx context.Context) error {
	return r.withRetry(ctx, "reset_all", func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, `TRUNCATE signals, candles, symbols RESTART IDENTITY CASCADE`)
		return err
	})
}
