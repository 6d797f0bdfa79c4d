package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"binance-signal-engine/internal/analyzer"
	"binance-signal-engine/internal/fusion"
)

// InsertSignal persists a fused signal and fills in its assigned id. The
// caller must treat a returned error as "not emitted": cooldown state is
// only committed after this succeeds.
func (r *Repository) InsertSignal(ctx context.Context, sig *fusion.Signal) error {
	symbolID, err := r.SymbolID(ctx, sig.Symbol)
	if err != nil {
		return err
	}

	var indicatorsJSON []byte
	if sig.Indicators != nil {
		indicatorsJSON, err = json.Marshal(sig.Indicators)
		if err != nil {
			return fmt.Errorf("marshaling indicators: %w", err)
		}
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshaling signal payload: %w", err)
	}

	query := `
		INSERT INTO signals (
			trace_id, symbol_id, interval, direction, entry_price,
			stop_loss, take_profit, take_profit_2, take_profit_3,
			confidence, fusion_reason, wyckoff_phase, elliott_wave_count,
			indicators_json, rationale, payload_json, atr, risk_reward,
			status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id
	`
	return r.withRetry(ctx, "insert_signal", func(ctx context.Context) error {
		return r.db.Pool.QueryRow(ctx, query,
			sig.TraceID, symbolID, sig.Interval, string(sig.Direction), sig.EntryPrice,
			sig.StopLoss, sig.TakeProfit, sig.TakeProfit2, sig.TakeProfit3,
			sig.Confidence, sig.FusionReason, string(sig.WyckoffPhase), sig.ElliottWaveCount,
			indicatorsJSON, sig.Rationale, payload, sig.ATR, sig.RiskReward,
			sig.Status, sig.CreatedAt,
		).Scan(&sig.ID)
	})
}

const selectSignalColumns = `
	SELECT s.id, COALESCE(s.trace_id, ''), sym.symbol, s.interval, s.direction,
	       s.entry_price, s.stop_loss, s.take_profit, s.take_profit_2, s.take_profit_3,
	       s.confidence, COALESCE(s.fusion_reason, ''), COALESCE(s.wyckoff_phase, ''),
	       COALESCE(s.elliott_wave_count, ''), s.indicators_json,
	       COALESCE(s.rationale, ''), COALESCE(s.atr, 0), COALESCE(s.risk_reward, 0),
	       s.status, s.created_at
	FROM signals s
	JOIN symbols sym ON sym.id = s.symbol_id
`

// GetRecentSignals returns the newest signals for a symbol, most recent
// first. The anti-spam check uses limit 1.
func (r *Repository) GetRecentSignals(ctx context.Context, symbol string, limit int) ([]*fusion.Signal, error) {
	query := selectSignalColumns + `
		WHERE sym.symbol = $1
		ORDER BY s.created_at DESC
		LIMIT $2
	`
	return r.querySignals(ctx, "recent_signals", query, symbol, limit)
}

// GetSignals returns a page of signals across all symbols, newest first.
func (r *Repository) GetSignals(ctx context.Context, limit, offset int) ([]*fusion.Signal, error) {
	query := selectSignalColumns + `
		ORDER BY s.created_at DESC
		LIMIT $1 OFFSET $2
	`
	return r.querySignals(ctx, "list_signals", query, limit, offset)
}

func (r *Repository) querySignals(ctx context.Context, op, query string, args ...interface{}) ([]*fusion.Signal, error) {
	var out []*fusion.Signal
	err := r.withRetry(ctx, op, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			sig, err := scanSignal(rows)
			if err != nil {
				return err
			}
			out = append(out, sig)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanSignal(rows pgx.Rows) (*fusion.Signal, error) {
	var (
		sig            fusion.Signal
		direction      string
		phase          string
		indicatorsJSON []byte
	)
	if err := rows.Scan(
		&sig.ID, &sig.TraceID, &sig.Symbol, &sig.Interval, &direction,
		&sig.EntryPrice, &sig.StopLoss, &sig.TakeProfit, &sig.TakeProfit2, &sig.TakeProfit3,
		&sig.Confidence, &sig.FusionReason, &phase,
		&sig.ElliottWaveCount, &indicatorsJSON,
		&sig.Rationale, &sig.ATR, &sig.RiskReward,
		&sig.Status, &sig.CreatedAt,
	); err != nil {
		return nil, err
	}

	sig.Direction = analyzer.Direction(direction)
	sig.WyckoffPhase = analyzer.WyckoffPhase(phase)
	if len(indicatorsJSON) > 0 {
		snapshot := &analyzer.IndicatorSnapshot{}
		if err := json.Unmarshal(indicatorsJSON, snapshot); err == nil {
			sig.Indicators = snapshot
		}
	}
	return &sig, nil
}

// LatestSignalEntry returns the entry price of the symbol's most recent
// signal, or 0 when the symbol has never emitted.
func (r *Repository) LatestSignalEntry(ctx context.Context, symbol string) (float64, error) {
	query := `
		SELECT s.entry_price
		FROM signals s
		JOIN symbols sym ON sym.id = s.symbol_id
		WHERE sym.symbol = $1
		ORDER BY s.created_at DESC
		LIMIT 1
	`
	var entry float64
	err := r.withRetry(ctx, "latest_signal_entry", func(ctx context.Context) error {
		scanErr := r.db.Pool.QueryRow(ctx, query, symbol).Scan(&entry)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			entry = 0
			return nil
		}
		return scanErr
	})
	return entry, err
}

// UpdateSignalStatus moves a signal through its lifecycle
// (active, hit_tp, hit_sl, expired, cancelled).
func (r *Repository) UpdateSignalStatus(ctx context.Context, id int64, status string) error {
	return r.withRetry(ctx, "update_signal_status", func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, `UPDATE signals SET status = $2 WHERE id = $1`, id, status)
		return err
	})
}

// SetSignalNotifierMessageID records the downstream message id returned by
// a notifier, so a later status edit can reference it.
func (r *Repository) SetSignalNotifierMessageID(ctx context.Context, id int64, messageID string) error {
	return r.withRetry(ctx, "set_notifier_message_id", func(ctx context.Context) error {
		_, err := r.db.Pool.Exec(ctx, `UPDATE signals SET notifier_message_id = $2 WHERE id = $1`, id, messageID)
		return err
	})
}
