package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/api"
	"binance-signal-engine/internal/binance"
	"binance-signal-engine/internal/candle"
	"binance-signal-engine/internal/database"
	"binance-signal-engine/internal/engine"
	"binance-signal-engine/internal/events"
	"binance-signal-engine/internal/fusion"
	"binance-signal-engine/internal/logging"
	"binance-signal-engine/internal/metrics"
	"binance-signal-engine/internal/notification"
)

const shutdownGrace = 10 * time.Second

func main() {
	// Load configuration. Validation failure is fatal and prints every
	// problem, not just the first.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging.
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetDefault(logger)

	logger.Info().
		Strs("symbols", cfg.Engine.Symbols).
		Strs("intervals", cfg.Engine.Timeframes).
		Float64("min_confidence", cfg.Engine.MinConfidence).
		Bool("wyckoff", cfg.Engine.EnableWyckoff).
		Bool("elliott", cfg.Engine.EnableElliott).
		Bool("rsi", cfg.Engine.EnableRSI).
		Bool("macd", cfg.Engine.EnableMACD).
		Msg("Starting signal engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL and bring the schema up to date.
	db, err := database.New(ctx, cfg.Database, logging.WithComponent(logger, "database"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	repo := database.NewRepository(db, cfg.Database, logging.WithComponent(logger, "repository"))
	if err := repo.EnsureSymbols(ctx, cfg.Engine.Symbols); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register symbols")
	}

	// Event bus and metrics.
	bus := events.NewEventBus()
	tracker := metrics.NewTracker()
	collector := metrics.NewCollector()

	// Notification sinks. The engine runs fine with none configured; the
	// store and logs remain the operator surface.
	notifier := notification.NewManager(logger)
	if cfg.Notification.Discord.Enabled() {
		notifier.Add(notification.NewDiscordNotifier(cfg.Notification.Discord, logger))
		logger.Info().Msg("Discord notifications enabled")
	}
	if cfg.Notification.Telegram.Enabled() {
		notifier.Add(notification.NewTelegramNotifier(cfg.Notification.Telegram, logger))
		logger.Info().Msg("Telegram notifications enabled")
	}

	// Fusion core: tier ladder plus suppression state.
	fuser := fusion.NewFuser(fusion.Config{
		MinConfidence:       cfg.Engine.MinConfidence,
		AllowSingleAnalyzer: true,
		Targets: fusion.TargetConfig{
			UseElliottWaveTargets:   cfg.Targets.UseElliottWaveTargets,
			ElliottWave5Ratio:       cfg.Targets.ElliottWave5Ratio,
			ATRStopLossMultiplier:   cfg.Targets.ATRStopLossMultiplier,
			ATRTakeProfitMultiplier: cfg.Targets.ATRTakeProfitMultiplier,
			MinRiskReward:           cfg.Targets.MinRiskReward,
		},
	}, logging.WithComponent(logger, "fusion"))

	suppressor := fusion.NewSuppressor(fusion.SuppressorConfig{
		SignalCooldown:     cfg.Engine.SignalCooldown,
		SymbolCooldown:     cfg.Engine.SymbolCooldown,
		PreventConflicting: true,
	}, logging.WithComponent(logger, "suppressor"))

	// Optional Redis mirror: warm-start cooldowns so a restart does not
	// instantly re-emit for symbols that signalled right before it.
	var cooldowns engine.CooldownSaver
	if cfg.Redis.Enabled() {
		mirror, err := database.NewCooldownMirror(ctx, cfg.Redis.URL, logging.WithComponent(logger, "redis"))
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, cooldowns start empty")
		} else {
			defer mirror.Close()
			if state, err := mirror.Load(ctx); err != nil {
				logger.Warn().Err(err).Msg("Could not load cooldown state")
			} else {
				suppressor.Restore(state)
			}
			cooldowns = mirror
		}
	}

	// Candle aggregator with asynchronous persistence.
	aggregator := candle.NewAggregator(cfg.Engine.WindowSize, engine.NewStorePersister(repo), logger)

	// The pipeline engine subscribes to bar closes.
	eng, err := engine.New(cfg.Engine, engine.Dependencies{
		Window:     aggregator,
		Fuser:      fuser,
		Suppressor: suppressor,
		Store:      repo,
		Notifier:   notifier,
		Cooldowns:  cooldowns,
		Tracker:    tracker,
		Metrics:    collector,
		Events:     bus,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build engine")
	}
	aggregator.OnCandleClose(eng.HandleCandleClose)

	// Warm the rolling windows from REST history before going live.
	rest := binance.NewRESTClient(binance.RESTConfig{
		BaseURL:              cfg.Binance.RESTBaseURL,
		RateLimitPerMinute:   cfg.Binance.RateLimitPerMinute,
		MaxCandlesPerRequest: cfg.Binance.MaxCandlesPerRequest,
	}, logger)
	engine.Backfill(ctx, rest, aggregator, cfg.Engine.Symbols, cfg.Engine.Timeframes, cfg.Engine.WindowSize, logging.WithComponent(logger, "backfill"))

	// Live kline stream feeding the aggregator.
	ws := binance.NewWSClient(binance.WSConfig{
		BaseURL:        cfg.Binance.WSBaseURL,
		Symbols:        cfg.Engine.Symbols,
		Intervals:      cfg.Engine.Timeframes,
		ReconnectDelay: cfg.Binance.ReconnectDelay,
		MaxRetries:     cfg.Binance.MaxRetries,
		OnConnect: func() {
			bus.PublishStreamConnected(len(cfg.Engine.Symbols) * len(cfg.Engine.Timeframes))
		},
		OnReconnect: func() {
			collector.StreamReconnects.Inc()
		},
	}, func(ctx context.Context, c candle.Candle) error {
		collector.StreamMessages.Inc()
		collector.CandlesProcessed.WithLabelValues(c.Symbol, c.Interval).Inc()
		return aggregator.ProcessCandle(ctx, c)
	}, logger)

	if err := ws.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start kline stream")
	}

	// HTTP status API.
	var apiServer *api.Server
	if cfg.API.Enabled() {
		apiServer = api.NewServer(api.Config{
			ListenAddr: cfg.API.ListenAddr,
			JWTSecret:  cfg.API.JWTSecret,
			Symbols:    cfg.Engine.Symbols,
			Intervals:  cfg.Engine.Timeframes,
		}, repo, ws, tracker, collector.Handler(), logger)

		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("HTTP server failed")
			}
		}()
	}

	eng.StartSummaryLogger(ctx, time.Hour)
	bus.Publish(events.Event{
		Type: events.EventEngineStarted,
		Data: map[string]interface{}{
			"symbols":   cfg.Engine.Symbols,
			"intervals": cfg.Engine.Timeframes,
		},
	})
	logger.Info().Msg("Signal engine running")

	// Block until SIGINT/SIGTERM.
	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	shutdown(aggregator, ws, apiServer, bus, logger)
}

// shutdown stops the ingress first so no new bar closes arrive, then drains
// in-flight analyses within the grace window, then stops the API server.
func shutdown(aggregator *candle.Aggregator, ws *binance.WSClient, apiServer *api.Server, bus *events.EventBus, logger zerolog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	ws.Stop()

	if err := aggregator.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Aggregator drain incomplete")
	}

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
	}

	bus.Publish(events.Event{Type: events.EventEngineStopped, Data: map[string]interface{}{}})
	logger.Info().Msg("Shutdown complete")
}
