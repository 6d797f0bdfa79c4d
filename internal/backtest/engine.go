// Package backtest replays historical bars through the live fusion logic
// with suppression disabled and simulates a single-position account.
package backtest

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/internal/analyzer"
	"binance-signal-engine/internal/candle"
	"binance-signal-engine/internal/fusion"
)

const (
	// minCandles is the history an analyzer needs before the replay
	// starts generating signals.
	minCandles = 50

	defaultInitialBalance      = 10000.0
	defaultPositionSizePercent = 0.02
	defaultCommission          = 0.001
	defaultMinConfidence       = 0.65

	ExitTakeProfit = "TP"
	ExitStopLoss   = "SL"
	ExitEndOfData  = "EOD"
)

// Config tunes the replay. Zero values fall back to the defaults the
// live engine uses.
type Config struct {
	InitialBalance      float64
	PositionSizePercent float64 // fraction of current equity per trade
	Commission          float64 // fraction of notional, charged on entry and exit

	MinConfidence            float64
	AllowSingleAnalyzer      bool
	SingleAnalyzerConfidence float64

	EnableWyckoff bool
	EnableElliott bool
	EnableRSI     bool
	EnableMACD    bool

	Targets fusion.TargetConfig
}

func (c *Config) applyDefaults() {
	if c.InitialBalance <= 0 {
		c.InitialBalance = defaultInitialBalance
	}
	if c.PositionSizePercent <= 0 {
		c.PositionSizePercent = defaultPositionSizePercent
	}
	if c.Commission < 0 {
		c.Commission = defaultCommission
	}
	if c.Commission == 0 {
		c.Commission = defaultCommission
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = defaultMinConfidence
	}
}

// Trade is one completed round trip of the simulated account.
type Trade struct {
	Direction    analyzer.Direction `json:"direction"`
	EntryTime    time.Time          `json:"entry_time"`
	ExitTime     time.Time          `json:"exit_time"`
	EntryPrice   float64            `json:"entry_price"`
	ExitPrice    float64            `json:"exit_price"`
	Size         float64            `json:"size"`
	StopLoss     float64            `json:"stop_loss"`
	TakeProfit   float64            `json:"take_profit"`
	Confidence   float64            `json:"confidence"`
	ExitReason   string             `json:"exit_reason"`
	PnL          float64            `json:"pnl"`
	BalanceAfter float64            `json:"balance_after"`
}

// Engine replays one (symbol, interval) series. It is deterministic: the
// same series and config always produce the same result.
type Engine struct {
	cfg    Config
	fuser  *fusion.Fuser
	logger zerolog.Logger

	wyckoff analyzer.Analyzer
	elliott analyzer.Analyzer
	rsi     analyzer.Analyzer
	macd    analyzer.Analyzer
}

func New(cfg Config, logger zerolog.Logger) *Engine {
	cfg.applyDefaults()

	e := &Engine{
		cfg: cfg,
		fuser: fusion.NewFuser(fusion.Config{
			MinConfidence:            cfg.MinConfidence,
			AllowSingleAnalyzer:      cfg.AllowSingleAnalyzer,
			SingleAnalyzerConfidence: cfg.SingleAnalyzerConfidence,
			Targets:                  cfg.Targets,
		}, logger),
		logger: logger.With().Str("component", "backtest").Logger(),
	}

	if cfg.EnableWyckoff {
		e.wyckoff = analyzer.NewWyckoffAnalyzer()
	}
	if cfg.EnableElliott {
		e.elliott = analyzer.NewElliottAnalyzer()
	}
	if cfg.EnableRSI {
		e.rsi = analyzer.NewRSIAnalyzer()
	}
	if cfg.EnableMACD {
		e.macd = analyzer.NewMACDAnalyzer()
	}

	return e
}

// Run replays the series oldest-first. Bar i is analyzed against the
// prefix bars[:i]; exits are checked against bar i's high and low before
// any new entry, and the take profit wins when a bar spans both levels.
func (e *Engine) Run(symbol, interval string, candles []candle.Candle) (*Result, error) {
	if len(candles) <= minCandles {
		return nil, fmt.Errorf("backtest needs more than %d candles, got %d", minCandles, len(candles))
	}

	e.logger.Info().
		Str("symbol", symbol).
		Str("interval", interval).
		Int("candles", len(candles)).
		Msg("Starting backtest")

	balance := e.cfg.InitialBalance
	trades := make([]Trade, 0)
	var open *Trade

	for i := minCandles; i < len(candles); i++ {
		bar := candles[i]

		if open != nil {
			if reason, price := exitLevel(open, bar); reason != "" {
				balance = e.closeTrade(open, reason, price, bar, balance)
				trades = append(trades, *open)
				open = nil
			}
		}

		if open == nil {
			sig := e.fuser.Fuse(fusion.Inputs{
				Symbol:       symbol,
				Interval:     interval,
				Candles:      candles[:i],
				CurrentPrice: bar.Close,
				Wyckoff:      e.analyze(e.wyckoff, candles[:i]),
				Elliott:      e.analyze(e.elliott, candles[:i]),
				RSI:          e.analyze(e.rsi, candles[:i]),
				MACD:         e.analyze(e.macd, candles[:i]),
			})
			if sig != nil {
				size := balance * e.cfg.PositionSizePercent / bar.Close
				open = &Trade{
					Direction:  sig.Direction,
					EntryTime:  bar.OpenTimestamp(),
					EntryPrice: bar.Close,
					Size:       size,
					StopLoss:   sig.StopLoss,
					TakeProfit: sig.TakeProfit,
					Confidence: sig.Confidence,
				}
				e.logger.Debug().
					Str("direction", string(sig.Direction)).
					Float64("entry", bar.Close).
					Float64("stop_loss", sig.StopLoss).
					Float64("take_profit", sig.TakeProfit).
					Msg("Opened position")
			}
		}
	}

	// End of data closes the open position at the final close, without
	// commission.
	if open != nil {
		last := candles[len(candles)-1]
		open.ExitTime = last.OpenTimestamp()
		open.ExitPrice = last.Close
		open.ExitReason = ExitEndOfData
		open.PnL = grossPnL(open, last.Close)
		balance += open.PnL
		open.BalanceAfter = balance
		trades = append(trades, *open)
	}

	result := summarize(symbol, interval, len(candles), trades, e.cfg.InitialBalance, balance)

	e.logger.Info().
		Int("trades", result.TotalTrades).
		Float64("final_balance", result.FinalBalance).
		Msg("Backtest complete")

	return result, nil
}

func (e *Engine) analyze(a analyzer.Analyzer, window []candle.Candle) *analyzer.Result {
	if a == nil {
		return nil
	}
	result, err := a.Analyze(window)
	if err != nil {
		e.logger.Debug().Err(err).Str("analyzer", a.Name()).Msg("Analyzer failed")
		return nil
	}
	return result
}

// exitLevel reports which level, if any, the bar crossed.
func exitLevel(t *Trade, bar candle.Candle) (string, float64) {
	switch t.Direction {
	case analyzer.DirectionLong:
		if bar.High >= t.TakeProfit {
			return ExitTakeProfit, t.TakeProfit
		}
		if bar.Low <= t.StopLoss {
			return ExitStopLoss, t.StopLoss
		}
	case analyzer.DirectionShort:
		if bar.Low <= t.TakeProfit {
			return ExitTakeProfit, t.TakeProfit
		}
		if bar.High >= t.StopLoss {
			return ExitStopLoss, t.StopLoss
		}
	}
	return "", 0
}

func (e *Engine) closeTrade(t *Trade, reason string, price float64, bar candle.Candle, balance float64) float64 {
	pnl := grossPnL(t, price)
	pnl -= t.EntryPrice * t.Size * e.cfg.Commission
	pnl -= price * t.Size * e.cfg.Commission

	balance += pnl

	t.ExitTime = bar.OpenTimestamp()
	t.ExitPrice = price
	t.ExitReason = reason
	t.PnL = pnl
	t.BalanceAfter = balance

	e.logger.Debug().
		Str("direction", string(t.Direction)).
		Str("reason", reason).
		Float64("exit", price).
		Float64("pnl", pnl).
		Msg("Closed position")

	return balance
}

func grossPnL(t *Trade, exitPrice float64) float64 {
	if t.Direction == analyzer.DirectionLong {
		return (exitPrice - t.EntryPrice) * t.Size
	}
	return (t.EntryPrice - exitPrice) * t.Size
}
