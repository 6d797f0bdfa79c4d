package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"binance-signal-engine/config"
)

// Repository provides data access for symbols, candles, and signals. Every
// store call runs under a per-call timeout and a bounded retry budget with
// exponential backoff.
type Repository struct {
	db           *DB
	logger       zerolog.Logger
	queryTimeout time.Duration
	maxRetries   int

	mu           sync.Mutex
	symbolIDs    map[string]int64
	symbolGuards map[string]*sync.Mutex
}

// NewRepository wraps a DB with retry policy and the symbol-id cache.
func NewRepository(db *DB, cfg config.DatabaseConfig, logger zerolog.Logger) *Repository {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Repository{
		db:           db,
		logger:       logger,
		queryTimeout: timeout,
		maxRetries:   retries,
		symbolIDs:    make(map[string]int64),
		symbolGuards: make(map[string]*sync.Mutex),
	}
}

// HealthCheck pings the database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// withRetry runs fn up to maxRetries times with exponential backoff, each
// attempt under the query timeout. Parent-context cancellation stops the
// retries immediately.
func (r *Repository) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.maxRetries-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		opCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
		err := fn(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		r.logger.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", r.maxRetries).
			Msg("store call failed, will retry")
		return err
	}, policy)
}

// ============================================================================
// SYMBOLS
// ============================================================================

// SymbolID resolves a symbol name to its id, creating the row on first
// sight. The id is cached; a cache miss resolves under a per-symbol guard
// so concurrent bar closes cannot race two creations for the same name.
func (r *Repository) SymbolID(ctx context.Context, symbol string) (int64, error) {
	r.mu.Lock()
	if id, ok := r.symbolIDs[symbol]; ok {
		r.mu.Unlock()
		return id, nil
	}
	guard, ok := r.symbolGuards[symbol]
	if !ok {
		guard = &sync.Mutex{}
		r.symbolGuards[symbol] = guard
	}
	r.mu.Unlock()

	guard.Lock()
	defer guard.Unlock()

	// Another goroutine may have resolved it while we waited on the guard.
	r.mu.Lock()
	if id, ok := r.symbolIDs[symbol]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	var id int64
	err := r.withRetry(ctx, "symbol_id", func(ctx context.Context) error {
		query := `
			INSERT INTO symbols (symbol) VALUES ($1)
			ON CONFLICT (symbol) DO UPDATE SET active = TRUE
			RETURNING id
		`
		return r.db.Pool.QueryRow(ctx, query, symbol).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("resolving symbol %s: %w", symbol, err)
	}

	r.mu.Lock()
	r.symbolIDs[symbol] = id
	r.mu.Unlock()
	return id, nil
}

// EnsureSymbols registers all configured symbols up front so the hot path
// never creates rows mid-stream.
func (r *Repository) EnsureSymbols(ctx context.Context, symbols []string) error {
	for _, symbol := range symbols {
		if _, err := r.SymbolID(ctx, symbol); err != nil {
			return err
		}
	}
	return nil
}
