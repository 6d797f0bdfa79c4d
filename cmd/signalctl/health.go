package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/analyzer"
	"binance-signal-engine/internal/binance"
	"binance-signal-engine/internal/candle"
	"binance-signal-engine/internal/database"
	"binance-signal-engine/internal/vault"
)

const healthCheckTimeout = 15 * time.Second

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Validate configuration and connectivity before deployment",
	Long: `Checks everything the engine needs at startup: environment variables,
configuration validity, database and Redis connectivity, exchange REST
reachability, notifier credentials, and the analyzers themselves. Exits
non-zero when any critical check fails.`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

type healthChecker struct {
	passed   []string
	failed   []string
	warnings []string
}

func (h *healthChecker) header(title string) {
	line := strings.Repeat("=", 60)
	fmt.Printf("\n%s\n  %s\n%s\n", line, title, line)
}

func (h *healthChecker) pass(name, details string) {
	fmt.Printf("✅ %s\n", name)
	if details != "" {
		fmt.Printf("   %s\n", details)
	}
	h.passed = append(h.passed, name)
}

func (h *healthChecker) fail(name, details string) {
	fmt.Printf("❌ %s\n", name)
	if details != "" {
		fmt.Printf("   %s\n", details)
	}
	h.failed = append(h.failed, name+": "+details)
}

func (h *healthChecker) warn(name, details string) {
	fmt.Printf("⚠️  %s\n", name)
	if details != "" {
		fmt.Printf("   %s\n", details)
	}
	h.warnings = append(h.warnings, name+": "+details)
}

func runHealth(cmd *cobra.Command, args []string) error {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("  SIGNAL ENGINE HEALTH CHECK")
	fmt.Printf("  %s\n", time.Now().UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Println(strings.Repeat("=", 60))

	h := &healthChecker{}
	logger := cliLogger()

	h.checkEnv()
	cfg := h.checkConfig()
	if cfg != nil {
		h.checkDatabase(cfg, logger)
		h.checkRedis(cfg, logger)
		h.checkExchange(cfg, logger)
		h.checkNotifiers(cfg)
	}
	h.checkAnalyzers()

	h.printSummary()
	if len(h.failed) > 0 {
		return fmt.Errorf("%d check(s) failed", len(h.failed))
	}
	return nil
}

func (h *healthChecker) checkEnv() {
	h.header("1. ENVIRONMENT VARIABLES")

	required := []struct{ key, desc string }{
		{"DATABASE_URL", "PostgreSQL connection string"},
	}
	optional := []struct{ key, desc string }{
		{"SYMBOLS", "trading pairs (default BTCUSDT,ETHUSDT)"},
		{"TIMEFRAMES", "analysis intervals (default 15m,1h,4h)"},
		{"MIN_CONFIDENCE", "signal threshold (default 0.65)"},
		{"REDIS_URL", "cooldown mirror, cooldowns reset on restart without it"},
		{"DISCORD_BOT_TOKEN", "Discord notifier"},
		{"DISCORD_CHANNEL_ID", "Discord signals channel"},
		{"TELEGRAM_BOT_TOKEN", "Telegram notifier"},
		{"TELEGRAM_CHAT_ID", "Telegram chat"},
		{"API_JWT_SECRET", "bearer auth on the status API"},
		{"VAULT_ADDR", "secrets overlay"},
		{"LOG_LEVEL", "logging verbosity (default info)"},
	}

	for _, v := range required {
		if val := os.Getenv(v.key); val != "" {
			h.pass(v.key, v.desc+" ("+maskSecret(val)+")")
		} else {
			h.fail(v.key, v.desc+" MISSING")
		}
	}
	for _, v := range optional {
		if val := os.Getenv(v.key); val != "" {
			h.pass(v.key, v.desc+" ("+maskSecret(val)+")")
		} else {
			h.warn(v.key, v.desc+", using default")
		}
	}
}

func (h *healthChecker) checkConfig() *config.Config {
	h.header("2. CONFIGURATION")

	cfg, err := config.Load()
	if err != nil {
		h.fail("Configuration Load", err.Error())
		return nil
	}
	h.pass("Configuration Load", fmt.Sprintf("%d symbols, %d intervals",
		len(cfg.Engine.Symbols), len(cfg.Engine.Timeframes)))

	if err := cfg.Validate(); err != nil {
		h.fail("Configuration Validation", err.Error())
	} else {
		h.pass("Configuration Validation", "all values in range")
	}

	if cfg.Vault.Enabled() {
		client, err := vault.NewClient(cfg.Vault.Addr, cfg.Vault.Token)
		if err != nil {
			h.fail("Vault Client", err.Error())
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer cancel()
			if err := client.Health(ctx); err != nil {
				h.fail("Vault Health", err.Error())
			} else {
				h.pass("Vault Health", cfg.Vault.Addr)
			}
		}
	}

	return cfg
}

func (h *healthChecker) checkDatabase(cfg *config.Config, logger zerolog.Logger) {
	h.header("3. DATABASE")

	if cfg.Database.URL == "" {
		h.fail("Database Connection", "DATABASE_URL is not set")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		h.fail("Database Connection", err.Error())
		return
	}
	defer db.Close()
	h.pass("Database Connection", "connected")

	repo := database.NewRepository(db, cfg.Database, logger)
	stats, err := repo.Stats(ctx)
	if err != nil {
		h.fail("Database Tables", err.Error())
		return
	}
	h.pass("Database Tables", fmt.Sprintf("%d symbols, %d candles, %d signals",
		stats.Symbols, stats.Candles, stats.Signals))
}

func (h *healthChecker) checkRedis(cfg *config.Config, logger zerolog.Logger) {
	h.header("4. REDIS")

	if !cfg.Redis.Enabled() {
		h.warn("Redis", "not configured, cooldown state resets on restart")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	mirror, err := database.NewCooldownMirror(ctx, cfg.Redis.URL, logger)
	if err != nil {
		h.fail("Redis Connection", err.Error())
		return
	}
	defer mirror.Close()

	if err := mirror.HealthCheck(ctx); err != nil {
		h.fail("Redis Health", err.Error())
		return
	}
	h.pass("Redis Connection", "connected")
}

func (h *healthChecker) checkExchange(cfg *config.Config, logger zerolog.Logger) {
	h.header("5. EXCHANGE")

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	rest := binance.NewRESTClient(binance.RESTConfig{
		BaseURL:              cfg.Binance.RESTBaseURL,
		RateLimitPerMinute:   cfg.Binance.RateLimitPerMinute,
		MaxCandlesPerRequest: cfg.Binance.MaxCandlesPerRequest,
	}, logger)

	candles, err := rest.GetKlines(ctx, "BTCUSDT", "1h", 5, time.Time{})
	if err != nil {
		h.fail("REST API", err.Error())
	} else {
		h.pass("REST API", fmt.Sprintf("retrieved %d candles from %s", len(candles), cfg.Binance.RESTBaseURL))
	}

	streams := binance.BuildStreamNames(cfg.Engine.Symbols, cfg.Engine.Timeframes)
	h.pass("Stream Subscriptions", fmt.Sprintf("%d kline streams configured", len(streams)))
}

func (h *healthChecker) checkNotifiers(cfg *config.Config) {
	h.header("6. NOTIFIERS")

	any := false
	if cfg.Notification.Discord.Enabled() {
		h.pass("Discord", "token and channel configured")
		any = true
	}
	if cfg.Notification.Telegram.Enabled() {
		h.pass("Telegram", "token and chat configured")
		any = true
	}
	if !any {
		h.warn("Notifiers", "none configured, signals only reach the database and logs")
	}
}

func (h *healthChecker) checkAnalyzers() {
	h.header("7. ANALYZERS")

	window := syntheticWindow(120)
	checks := []struct {
		name string
		a    analyzer.Analyzer
	}{
		{"Wyckoff", analyzer.NewWyckoffAnalyzer()},
		{"Elliott Wave", analyzer.NewElliottAnalyzer()},
		{"RSI", analyzer.NewRSIAnalyzer()},
		{"MACD", analyzer.NewMACDAnalyzer()},
	}

	for _, c := range checks {
		if _, err := c.a.Analyze(window); err != nil {
			h.fail(c.name+" Analyzer", err.Error())
		} else {
			h.pass(c.name+" Analyzer", "analyzed test window")
		}
	}
}

func (h *healthChecker) printSummary() {
	h.header("HEALTH CHECK SUMMARY")

	total := len(h.passed) + len(h.failed) + len(h.warnings)
	fmt.Printf("\n✅ Passed:   %d/%d\n", len(h.passed), total)
	fmt.Printf("❌ Failed:   %d/%d\n", len(h.failed), total)
	fmt.Printf("⚠️  Warnings: %d/%d\n", len(h.warnings), total)

	if len(h.failed) > 0 {
		fmt.Println("\nFailed checks:")
		for _, f := range h.failed {
			fmt.Printf("  - %s\n", f)
		}
	}
	if len(h.warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range h.warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Println()
	if len(h.failed) == 0 {
		fmt.Println("All critical checks passed, ready to deploy.")
	} else {
		fmt.Println("Fix the failed checks before deploying.")
	}
}

// maskSecret shows just enough of a value to confirm which one is set.
func maskSecret(v string) string {
	if len(v) <= 12 {
		return "set"
	}
	return v[:8] + "..."
}

// syntheticWindow builds a deterministic trending series long enough for
// every analyzer's warmup.
func syntheticWindow(n int) []candle.Candle {
	out := make([]candle.Candle, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	price := 100.0
	for i := 0; i < n; i++ {
		move := 0.5
		if i%7 >= 5 {
			move = -0.3
		}
		open := price
		price += move
		high := open + 0.8
		low := open - 0.8
		if price > high {
			high = price
		}
		if price < low {
			low = price
		}
		out[i] = candle.Candle{
			Symbol:    "BTCUSDT",
			Interval:  "1h",
			OpenTime:  base + int64(i)*3600_000,
			CloseTime: base + int64(i+1)*3600_000 - 1,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    1000 + float64(i%10)*50,
			IsClosed:  true,
		}
	}
	return out
}
