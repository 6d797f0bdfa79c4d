package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"binance-signal-engine/internal/candle"
)

// candleInsertChunk bounds one batch so a deep backfill cannot build a
// single giant round trip.
const candleInsertChunk = 100

const insertCandleSQL = `
	INSERT INTO candles (
		symbol_id, interval, open_time, close_time,
		open, high, low, close, volume,
		quote_volume, trades, taker_buy_base, taker_buy_quote, raw_json
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (symbol_id, interval, open_time) DO NOTHING
`

// InsertCandle stores one closed bar. Re-inserting the same bar (reconnect
// overlap, backfill re-run) is a no-op.
func (r *Repository) InsertCandle(ctx context.Context, c candle.Candle) error {
	symbolID, err := r.SymbolID(ctx, c.Symbol)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling candle: %w", err)
	}

	return r.withRetry(ctx, "insert_candle", func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, insertCandleSQL,
			symbolID, c.Interval, c.OpenTime, c.CloseTime,
			c.Open, c.High, c.Low, c.Close, c.Volume,
			c.QuoteVolume, c.TradeCount, c.TakerBuyBase, c.TakerBuyQuote, raw,
		)
		return err
	})
}

// InsertCandles bulk-inserts closed bars in chunks, returning how many rows
// were actually written (duplicates are skipped by the unique key).
func (r *Repository) InsertCandles(ctx context.Context, candles []candle.Candle) (int64, error) {
	var inserted int64
	for _, chunk := range chunkCandles(candles, candleInsertChunk) {
		n, err := r.insertCandleChunk(ctx, chunk)
		inserted += n
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (r *Repository) insertCandleChunk(ctx context.Context, chunk []candle.Candle) (int64, error) {
	batch := &pgx.Batch{}
	for _, c := range chunk {
		symbolID, err := r.SymbolID(ctx, c.Symbol)
		if err != nil {
			return 0, err
		}
		raw, err := json.Marshal(c)
		if err != nil {
			return 0, fmt.Errorf("marshaling candle: %w", err)
		}
		batch.Queue(insertCandleSQL,
			symbolID, c.Interval, c.OpenTime, c.CloseTime,
			c.Open, c.High, c.Low, c.Close, c.Volume,
			c.QuoteVolume, c.TradeCount, c.TakerBuyBase, c.TakerBuyQuote, raw,
		)
	}

	var inserted int64
	err := r.withRetry(ctx, "insert_candles", func(ctx context.Context) error {
		inserted = 0
		results := r.db.Pool.SendBatch(ctx, batch)
		defer results.Close()
		for range chunk {
			tag, err := results.Exec()
			if err != nil {
				return err
			}
			inserted += tag.RowsAffected()
		}
		return nil
	})
	return inserted, err
}

// GetCandles returns up to limit most recent closed bars for the pair,
// ordered oldest first as the analyzers expect.
func (r *Repository) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]candle.Candle, error) {
	symbolID, err := r.SymbolID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT open_time, close_time, open, high, low, close, volume,
		       quote_volume, trades, taker_buy_base, taker_buy_quote
		FROM candles
		WHERE symbol_id = $1 AND interval = $2
		ORDER BY open_time DESC
		LIMIT $3
	`

	var out []candle.Candle
	err = r.withRetry(ctx, "get_candles", func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, symbolID, interval, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			c := candle.Candle{Symbol: symbol, Interval: interval, IsClosed: true}
			if err := rows.Scan(
				&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close,
				&c.Volume, &c.QuoteVolume, &c.TradeCount, &c.TakerBuyBase, &c.TakerBuyQuote,
			); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	reverseCandles(out)
	return out, nil
}

// LatestCandleOpenTime returns the newest stored open time for the pair.
// ok is false when no bars are stored yet.
func (r *Repository) LatestCandleOpenTime(ctx context.Context, symbol, interval string) (openTime int64, ok bool, err error) {
	symbolID, err := r.SymbolID(ctx, symbol)
	if err != nil {
		return 0, false, err
	}

	query := `
		SELECT open_time FROM candles
		WHERE symbol_id = $1 AND interval = $2
		ORDER BY open_time DESC
		LIMIT 1
	`
	err = r.withRetry(ctx, "latest_candle", func(ctx context.Context) error {
		scanErr := r.db.Pool.QueryRow(ctx, query, symbolID, interval).Scan(&openTime)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			ok = false
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		ok = true
		return nil
	})
	return openTime, ok, err
}

// CandleCount reports how many bars are stored for the pair.
func (r *Repository) CandleCount(ctx context.Context, symbol, interval string) (int64, error) {
	symbolID, err := r.SymbolID(ctx, symbol)
	if err != nil {
		return 0, err
	}

	var count int64
	err = r.withRetry(ctx, "candle_count", func(ctx context.Context) error {
		query := `SELECT COUNT(*) FROM candles WHERE symbol_id = $1 AND interval = $2`
		return r.db.Pool.QueryRow(ctx, query, symbolID, interval).Scan(&count)
	})
	return count, err
}

func chunkCandles(candles []candle.Candle, size int) [][]candle.Candle {
	if size <= 0 || len(candles) == 0 {
		return nil
	}
	chunks := make([][]candle.Candle, 0, (len(candles)+size-1)/size)
	for start := 0; start < len(candles); start += size {
		end := start + size
		if end > len(candles) {
			end = len(candles)
		}
		chunks = append(chunks, candles[start:end])
	}
	return chunks
}

func reverseCandles(candles []candle.Candle) {
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
}
