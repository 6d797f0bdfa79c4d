package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/internal/candle"
	"binance-signal-engine/internal/database"
)

// KlineSource fetches historical klines from the exchange.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int, endTime time.Time) ([]candle.Candle, error)
}

// Seeder accepts historical bars into the rolling windows.
type Seeder interface {
	ProcessHistoricalCandles(ctx context.Context, symbol, interval string, candles []candle.Candle) error
}

// Backfill warms every (symbol, interval) window with recent history so the
// analyzers have a full lookback from the first live bar. Failures are
// logged per pair and do not abort startup; the window fills from the live
// stream instead.
func Backfill(ctx context.Context, source KlineSource, seeder Seeder, symbols, intervals []string, window int, logger zerolog.Logger) {
	start := time.Now()
	seeded := 0
	failed := 0

	for _, symbol := range symbols {
		for _, interval := range intervals {
			if ctx.Err() != nil {
				return
			}

			candles, err := source.GetKlines(ctx, symbol, interval, window, time.Time{})
			if err != nil {
				failed++
				logger.Warn().
					Err(err).
					Str("symbol", symbol).
					Str("interval", interval).
					Msg("Backfill fetch failed, window will fill from live stream")
				continue
			}

			candles = dropUnclosed(candles, time.Now())
			if len(candles) == 0 {
				continue
			}

			if err := seeder.ProcessHistoricalCandles(ctx, symbol, interval, candles); err != nil {
				failed++
				logger.Warn().
					Err(err).
					Str("symbol", symbol).
					Str("interval", interval).
					Msg("Backfill seed failed")
				continue
			}

			seeded++
			logger.Info().
				Str("symbol", symbol).
				Str("interval", interval).
				Int("candles", len(candles)).
				Msg("Window backfilled")
		}
	}

	logger.Info().
		Int("seeded", seeded).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("Historical backfill complete")
}

// dropUnclosed strips the trailing in-progress bar the klines endpoint
// returns for the current interval.
func dropUnclosed(candles []candle.Candle, now time.Time) []candle.Candle {
	cutoff := now.UnixMilli()
	for len(candles) > 0 && candles[len(candles)-1].CloseTime > cutoff {
		candles = candles[:len(candles)-1]
	}
	return candles
}

// StorePersister adapts the repository's candle writes to the aggregator's
// persistence hook.
type StorePersister struct {
	repo *database.Repository
}

func NewStorePersister(repo *database.Repository) *StorePersister {
	return &StorePersister{repo: repo}
}

func (p *StorePersister) InsertCandle(ctx context.Context, c candle.Candle) error {
	return p.repo.InsertCandle(ctx, c)
}

func (p *StorePersister) InsertCandles(ctx context.Context, candles []candle.Candle) error {
	_, err := p.repo.InsertCandles(ctx, candles)
	return err
}
