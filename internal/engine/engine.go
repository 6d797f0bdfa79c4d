package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/analyzer"
	"binance-signal-engine/internal/candle"
	"binance-signal-engine/internal/events"
	"binance-signal-engine/internal/fusion"
	"binance-signal-engine/internal/metrics"
	"binance-signal-engine/internal/notification"
)

const (
	// outcomeSweepLimit bounds how many recent signals per symbol are
	// checked for TP/SL resolution on each bar close.
	outcomeSweepLimit = 20

	cooldownSaveTimeout   = 5 * time.Second
	defaultSummaryPeriod  = time.Hour
	preferredNotifierName = "discord"
)

// CandleWindow provides the rolling window of closed bars for a stream key.
type CandleWindow interface {
	GetCandles(symbol, interval string, limit int) []candle.Candle
}

// Store is the persistence surface the pipeline writes to and consults.
type Store interface {
	InsertSignal(ctx context.Context, sig *fusion.Signal) error
	LatestSignalEntry(ctx context.Context, symbol string) (float64, error)
	GetRecentSignals(ctx context.Context, symbol string, limit int) ([]*fusion.Signal, error)
	UpdateSignalStatus(ctx context.Context, id int64, status string) error
	SetSignalNotifierMessageID(ctx context.Context, id int64, messageID string) error
}

// CooldownSaver mirrors suppressor state to an external store so cooldowns
// survive restarts. Save failures are logged, never fatal.
type CooldownSaver interface {
	Save(ctx context.Context, state fusion.State) error
}

// SignalSender fans a signal out to the configured notification sinks.
type SignalSender interface {
	SendSignal(ctx context.Context, sig *fusion.Signal) []notification.SendResult
	Enabled() bool
}

// Analyzers are the pattern and momentum detectors the pipeline consults.
// A nil entry is skipped.
type Analyzers struct {
	Wyckoff analyzer.Analyzer
	Elliott analyzer.Analyzer
	RSI     analyzer.Analyzer
	MACD    analyzer.Analyzer
}

// Dependencies wires the engine to its collaborators. Window, Fuser,
// Suppressor, and Store are required. Analyzers defaults to the detectors
// enabled in the config. Tracker, Metrics, and Events default to fresh
// instances; Notifier and Cooldowns may stay nil.
type Dependencies struct {
	Window     CandleWindow
	Fuser      *fusion.Fuser
	Suppressor *fusion.Suppressor
	Store      Store
	Analyzers  *Analyzers
	Notifier   SignalSender
	Cooldowns  CooldownSaver
	Tracker    *metrics.Tracker
	Metrics    *metrics.Collector
	Events     *events.EventBus
}

// Engine reacts to closed bars: it runs the enabled analyzers over the
// rolling window, fuses their verdicts, applies suppression, persists
// accepted signals, and fans them out to notifiers and the event bus.
type Engine struct {
	window     CandleWindow
	fuser      *fusion.Fuser
	suppressor *fusion.Suppressor
	store      Store
	analyzers  Analyzers
	notifier   SignalSender
	cooldowns  CooldownSaver
	tracker    *metrics.Tracker
	metrics    *metrics.Collector
	bus        *events.EventBus
	logger     zerolog.Logger
}

func New(cfg config.EngineConfig, deps Dependencies, logger zerolog.Logger) (*Engine, error) {
	if deps.Window == nil {
		return nil, fmt.Errorf("engine requires a candle window")
	}
	if deps.Fuser == nil {
		return nil, fmt.Errorf("engine requires a fuser")
	}
	if deps.Suppressor == nil {
		return nil, fmt.Errorf("engine requires a suppressor")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("engine requires a store")
	}

	analyzers := defaultAnalyzers(cfg)
	if deps.Analyzers != nil {
		analyzers = *deps.Analyzers
	}

	tracker := deps.Tracker
	if tracker == nil {
		tracker = metrics.NewTracker()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
	}
	bus := deps.Events
	if bus == nil {
		bus = events.NewEventBus()
	}

	return &Engine{
		window:     deps.Window,
		fuser:      deps.Fuser,
		suppressor: deps.Suppressor,
		store:      deps.Store,
		analyzers:  analyzers,
		notifier:   deps.Notifier,
		cooldowns:  deps.Cooldowns,
		tracker:    tracker,
		metrics:    collector,
		bus:        bus,
		logger:     logger.With().Str("component", "engine").Logger(),
	}, nil
}

func defaultAnalyzers(cfg config.EngineConfig) Analyzers {
	var a Analyzers
	if cfg.EnableWyckoff {
		a.Wyckoff = analyzer.NewWyckoffAnalyzer()
	}
	if cfg.EnableElliott {
		a.Elliott = analyzer.NewElliottAnalyzer()
	}
	if cfg.EnableRSI {
		a.RSI = analyzer.NewRSIAnalyzer()
	}
	if cfg.EnableMACD {
		a.MACD = analyzer.NewMACDAnalyzer()
	}
	return a
}

// HandleCandleClose is the bar-close pipeline. It satisfies
// candle.CloseListener and is invoked once per (symbol, interval) bar
// transition with the bar that just closed.
func (e *Engine) HandleCandleClose(ctx context.Context, c candle.Candle) error {
	start := time.Now()
	now := start.UTC()

	e.metrics.BarCloses.WithLabelValues(c.Symbol, c.Interval).Inc()
	e.bus.PublishCandleClosed(c.Symbol, c.Interval, c.Close, time.UnixMilli(c.CloseTime))

	e.resolveActiveSignals(ctx, c)

	if reason, blocked := e.suppressor.PrecheckCooldowns(c.Symbol, c.Interval, now); blocked {
		e.metrics.SignalsSuppressed.WithLabelValues(reason).Inc()
		e.bus.PublishSignalSuppressed(c.Symbol, c.Interval, reason)
		e.logger.Debug().
			Str("symbol", c.Symbol).
			Str("interval", c.Interval).
			Str("reason", reason).
			Msg("Bar skipped by cooldown")
		return nil
	}

	window := e.window.GetCandles(c.Symbol, c.Interval, 0)
	if len(window) == 0 {
		return nil
	}

	verdicts := e.runAnalyzers(window)

	sig := e.fuser.Fuse(fusion.Inputs{
		Symbol:       c.Symbol,
		Interval:     c.Interval,
		Candles:      window,
		CurrentPrice: c.Close,
		Wyckoff:      verdicts.wyckoff,
		Elliott:      verdicts.elliott,
		RSI:          verdicts.rsi,
		MACD:         verdicts.macd,
	})
	if sig == nil {
		if verdicts.any() {
			e.metrics.SignalsRejected.WithLabelValues(c.Symbol).Inc()
			e.bus.PublishSignalRejected(c.Symbol, c.Interval, verdicts.topConfidence())
		}
		e.observePipeline(c, start)
		return nil
	}

	if reason, vetoed := e.suppressor.Veto(c.Symbol, sig.Direction, sig.EntryPrice, now, func() (float64, error) {
		return e.store.LatestSignalEntry(ctx, c.Symbol)
	}); vetoed {
		e.metrics.SignalsSuppressed.WithLabelValues(reason).Inc()
		e.bus.PublishSignalSuppressed(c.Symbol, c.Interval, reason)
		e.logger.Info().
			Str("symbol", c.Symbol).
			Str("interval", c.Interval).
			Str("direction", string(sig.Direction)).
			Str("reason", reason).
			Msg("Signal suppressed")
		e.observePipeline(c, start)
		return nil
	}

	// Cooldowns update only after the signal is durably stored, so a
	// failed insert leaves the next bar free to retry.
	if err := e.store.InsertSignal(ctx, sig); err != nil {
		e.bus.PublishError("engine", "signal persist failed", err)
		return fmt.Errorf("persisting %s %s signal: %w", c.Symbol, c.Interval, err)
	}

	e.suppressor.Commit(c.Symbol, c.Interval, sig.Direction, now)
	e.saveCooldowns(ctx)

	e.tracker.RecordSignal(c.Symbol, c.Interval, string(sig.Direction))
	e.metrics.SignalsGenerated.WithLabelValues(c.Symbol, string(sig.Direction)).Inc()
	e.bus.PublishSignal(c.Symbol, c.Interval, string(sig.Direction), sig.FusionReason, sig.Confidence, sig.EntryPrice)

	e.logger.Info().
		Str("symbol", sig.Symbol).
		Str("interval", sig.Interval).
		Str("direction", string(sig.Direction)).
		Str("trace_id", sig.TraceID).
		Float64("confidence", sig.Confidence).
		Float64("entry", sig.EntryPrice).
		Float64("stop_loss", sig.StopLoss).
		Float64("take_profit", sig.TakeProfit).
		Str("reason", sig.FusionReason).
		Msg("Signal generated")

	e.dispatch(ctx, sig)
	e.observePipeline(c, start)
	return nil
}

type verdictSet struct {
	wyckoff *analyzer.Result
	elliott *analyzer.Result
	rsi     *analyzer.Result
	macd    *analyzer.Result
}

func (v verdictSet) any() bool {
	return v.wyckoff.HasSignal() || v.elliott.HasSignal() || v.rsi.HasSignal() || v.macd.HasSignal()
}

func (v verdictSet) topConfidence() float64 {
	top := 0.0
	for _, r := range []*analyzer.Result{v.wyckoff, v.elliott, v.rsi, v.macd} {
		if r.HasSignal() && r.Confidence > top {
			top = r.Confidence
		}
	}
	return top
}

// runAnalyzers executes every configured analyzer concurrently over the
// same window. A failing or panicking analyzer contributes no verdict.
func (e *Engine) runAnalyzers(window []candle.Candle) verdictSet {
	var (
		out verdictSet
		wg  sync.WaitGroup
	)

	run := func(a analyzer.Analyzer, slot **analyzer.Result) {
		if a == nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.metrics.AnalyzerErrors.WithLabelValues(a.Name()).Inc()
					e.logger.Error().
						Str("analyzer", a.Name()).
						Interface("panic", r).
						Msg("Analyzer panicked")
				}
			}()

			result, err := a.Analyze(window)
			if err != nil {
				e.metrics.AnalyzerErrors.WithLabelValues(a.Name()).Inc()
				e.logger.Error().
					Err(err).
					Str("analyzer", a.Name()).
					Msg("Analyzer failed")
				return
			}
			*slot = result
		}()
	}

	run(e.analyzers.Wyckoff, &out.wyckoff)
	run(e.analyzers.Elliott, &out.elliott)
	run(e.analyzers.RSI, &out.rsi)
	run(e.analyzers.MACD, &out.macd)
	wg.Wait()

	return out
}

// resolveActiveSignals closes out earlier signals whose TP or SL level was
// crossed by the bar that just closed. When the bar spans both levels the
// take profit wins.
func (e *Engine) resolveActiveSignals(ctx context.Context, c candle.Candle) {
	signals, err := e.store.GetRecentSignals(ctx, c.Symbol, outcomeSweepLimit)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("symbol", c.Symbol).
			Msg("Could not load signals for outcome check")
		return
	}

	for _, sig := range signals {
		if sig.Status != fusion.StatusActive || sig.Interval != c.Interval {
			continue
		}
		// Signals born during this bar are judged from the next one.
		if sig.CreatedAt.UnixMilli() >= c.OpenTime {
			continue
		}

		status := signalOutcome(sig, c)
		if status == "" {
			continue
		}

		if err := e.store.UpdateSignalStatus(ctx, sig.ID, status); err != nil {
			e.logger.Warn().
				Err(err).
				Int64("signal_id", sig.ID).
				Str("status", status).
				Msg("Could not update signal status")
			continue
		}

		if status == fusion.StatusHitTP {
			e.tracker.RecordHit()
		} else {
			e.tracker.RecordStop()
		}

		e.logger.Info().
			Int64("signal_id", sig.ID).
			Str("symbol", sig.Symbol).
			Str("interval", sig.Interval).
			Str("direction", string(sig.Direction)).
			Str("status", status).
			Float64("entry", sig.EntryPrice).
			Float64("bar_high", c.High).
			Float64("bar_low", c.Low).
			Msg("Signal resolved")
	}
}

// signalOutcome returns the terminal status the bar implies for the signal,
// or "" when neither level was touched.
func signalOutcome(sig *fusion.Signal, c candle.Candle) string {
	switch sig.Direction {
	case analyzer.DirectionLong:
		if c.High >= sig.TakeProfit {
			return fusion.StatusHitTP
		}
		if c.Low <= sig.StopLoss {
			return fusion.StatusHitSL
		}
	case analyzer.DirectionShort:
		if c.Low <= sig.TakeProfit {
			return fusion.StatusHitTP
		}
		if c.High >= sig.StopLoss {
			return fusion.StatusHitSL
		}
	}
	return ""
}

// dispatch fans the signal out to the notification sinks and records the
// provider message id of the preferred sink back onto the stored row.
func (e *Engine) dispatch(ctx context.Context, sig *fusion.Signal) {
	if e.notifier == nil || !e.notifier.Enabled() {
		return
	}

	var messageID string
	for _, r := range e.notifier.SendSignal(ctx, sig) {
		if r.Err != nil {
			e.metrics.NotifierFailures.WithLabelValues(r.Notifier).Inc()
			continue
		}
		e.metrics.NotifierSends.WithLabelValues(r.Notifier).Inc()
		if r.MessageID != "" && (messageID == "" || r.Notifier == preferredNotifierName) {
			messageID = r.MessageID
		}
	}

	if messageID == "" || sig.ID == 0 {
		return
	}
	if err := e.store.SetSignalNotifierMessageID(ctx, sig.ID, messageID); err != nil {
		e.logger.Warn().
			Err(err).
			Int64("signal_id", sig.ID).
			Msg("Could not record notifier message id")
	}
}

func (e *Engine) saveCooldowns(ctx context.Context) {
	if e.cooldowns == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, cooldownSaveTimeout)
	defer cancel()
	if err := e.cooldowns.Save(saveCtx, e.suppressor.Snapshot()); err != nil {
		e.logger.Warn().Err(err).Msg("Could not mirror cooldown state")
	}
}

func (e *Engine) observePipeline(c candle.Candle, start time.Time) {
	e.metrics.PipelineDuration.
		WithLabelValues(c.Symbol, c.Interval).
		Observe(time.Since(start).Seconds())
}

// Tracker exposes the signal statistics backing the status API.
func (e *Engine) Tracker() *metrics.Tracker { return e.tracker }

// Collector exposes the Prometheus instruments for the exposition endpoint.
func (e *Engine) Collector() *metrics.Collector { return e.metrics }

// Events exposes the engine's event bus for additional subscribers.
func (e *Engine) Events() *events.EventBus { return e.bus }

// StartSummaryLogger emits a periodic one-line activity summary until the
// context is cancelled.
func (e *Engine) StartSummaryLogger(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = defaultSummaryPeriod
	}

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := e.tracker.Summary()
				e.logger.Info().
					Str("uptime", s.UptimeFormatted).
					Int("total_signals", s.TotalSignals).
					Int("signals_last_hour", s.SignalsLastHour).
					Int("signals_today", s.SignalsToday).
					Int("hits", s.Hits).
					Int("stops", s.Stops).
					Int("pending", s.Pending).
					Float64("win_rate", s.WinRate).
					Msg("Activity summary")
			}
		}
	}()
}
