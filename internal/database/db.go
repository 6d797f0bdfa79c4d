package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"binance-signal-engine/config"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New connects to PostgreSQL using the configured URL and tunes the pool.
func New(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = 25
	}
	poolConfig.MinConns = cfg.MinConns
	if poolConfig.MinConns <= 0 {
		poolConfig.MinConns = 5
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info().
		Int32("max_conns", poolConfig.MaxConns).
		Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// HealthCheck pings the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations creates the schema. Every statement is idempotent so the
// engine can run them on each start.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		// Symbols registry. Candles and signals reference it by id.
		`CREATE TABLE IF NOT EXISTS symbols (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL UNIQUE,
			exchange VARCHAR(30) NOT NULL DEFAULT 'binance_futures',
			quote_asset VARCHAR(10) NOT NULL DEFAULT 'USDT',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_active ON symbols(active)`,

		// Closed bars. Times are Unix milliseconds as delivered upstream.
		// The primary key makes duplicate inserts from reconnect overlap
		// or backfill re-runs benign.
		`CREATE TABLE IF NOT EXISTS candles (
			symbol_id INTEGER NOT NULL REFERENCES symbols(id) ON DELETE CASCADE,
			interval VARCHAR(10) NOT NULL,
			open_time BIGINT NOT NULL,
			close_time BIGINT NOT NULL,
			open DECIMAL(20, 8) NOT NULL,
			high DECIMAL(20, 8) NOT NULL,
			low DECIMAL(20, 8) NOT NULL,
			close DECIMAL(20, 8) NOT NULL,
			volume DECIMAL(30, 8) NOT NULL,
			quote_volume DECIMAL(30, 8) NOT NULL DEFAULT 0,
			trades BIGINT NOT NULL DEFAULT 0,
			taker_buy_base DECIMAL(30, 8) NOT NULL DEFAULT 0,
			taker_buy_quote DECIMAL(30, 8) NOT NULL DEFAULT 0,
			raw_json JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (symbol_id, interval, open_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_open_time ON candles(open_time)`,

		// Emitted signals.
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			trace_id VARCHAR(36),
			symbol_id INTEGER NOT NULL REFERENCES symbols(id) ON DELETE CASCADE,
			interval VARCHAR(10) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			stop_loss DECIMAL(20, 8) NOT NULL,
			take_profit DECIMAL(20, 8) NOT NULL,
			take_profit_2 DECIMAL(20, 8) NOT NULL,
			take_profit_3 DECIMAL(20, 8) NOT NULL,
			confidence DECIMAL(6, 4) NOT NULL,
			fusion_reason TEXT,
			wyckoff_phase VARCHAR(20),
			elliott_wave_count VARCHAR(40),
			indicators_json JSONB,
			rationale TEXT,
			payload_json JSONB,
			atr DECIMAL(20, 8),
			risk_reward DECIMAL(10, 4),
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			notifier_message_id VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol_id ON signals(symbol_id)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status)`,

		// Recent signals joined with their symbol names, for the API and
		// quick inspection.
		`CREATE OR REPLACE VIEW v_recent_signals AS
			SELECT s.id, s.trace_id, sym.symbol, s.interval, s.direction,
			       s.entry_price, s.stop_loss, s.take_profit, s.take_profit_2,
			       s.take_profit_3, s.confidence, s.fusion_reason,
			       s.wyckoff_phase, s.elliott_wave_count, s.rationale,
			       s.atr, s.risk_reward, s.status, s.created_at
			FROM signals s
			JOIN symbols sym ON sym.id = s.symbol_id
			WHERE s.created_at > NOW() - INTERVAL '7 days'
			ORDER BY s.created_at DESC`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("database migrations completed")
	return nil
}
