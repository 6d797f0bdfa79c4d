// Package config loads engine configuration from the environment.
// A .env file is honored when present, and secret values can be
// overlaid from HashiCorp Vault. Validation collects every problem so
// the operator sees the full list on a failed startup rather than the
// first one.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"binance-signal-engine/internal/vault"

	"github.com/joho/godotenv"
)

// Config is the root configuration for the engine and CLI tools.
type Config struct {
	Engine       EngineConfig
	Binance      BinanceConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Notification NotificationConfig
	API          APIConfig
	Logging      LoggingConfig
	Vault        VaultConfig
	Targets      TargetsConfig
}

// EngineConfig controls the signal pipeline.
type EngineConfig struct {
	Symbols        []string
	Timeframes     []string
	MinConfidence  float64
	SignalCooldown time.Duration // per (symbol, interval)
	SymbolCooldown time.Duration // per symbol, across intervals
	EnableWyckoff  bool
	EnableElliott  bool
	EnableRSI      bool
	EnableMACD     bool
	WindowSize     int
}

// BinanceConfig controls the exchange ingress.
type BinanceConfig struct {
	RESTBaseURL          string
	WSBaseURL            string
	RateLimitPerMinute   int
	MaxCandlesPerRequest int
	ReconnectDelay       time.Duration
	MaxRetries           int // -1 = retry forever
}

// DatabaseConfig controls the PostgreSQL store.
type DatabaseConfig struct {
	URL          string
	MaxConns     int32
	MinConns     int32
	QueryTimeout time.Duration
	MaxRetries   int
}

// RedisConfig controls the optional cooldown mirror.
type RedisConfig struct {
	URL string
}

// Enabled reports whether a Redis URL was configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }

// NotificationConfig groups the notifier sinks.
type NotificationConfig struct {
	Discord  DiscordConfig
	Telegram TelegramConfig
}

// DiscordConfig holds the Discord bot credentials.
type DiscordConfig struct {
	BotToken  string
	ChannelID string
}

// Enabled reports whether both Discord credentials are present.
func (c DiscordConfig) Enabled() bool { return c.BotToken != "" && c.ChannelID != "" }

// TelegramConfig holds the Telegram bot credentials.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// Enabled reports whether both Telegram credentials are present.
func (c TelegramConfig) Enabled() bool { return c.BotToken != "" && c.ChatID != "" }

// APIConfig controls the HTTP status API.
type APIConfig struct {
	ListenAddr string // empty disables the server
	JWTSecret  string // empty disables bearer auth
}

// Enabled reports whether the API server should start.
func (c APIConfig) Enabled() bool { return c.ListenAddr != "" }

// LoggingConfig controls zerolog construction.
type LoggingConfig struct {
	Level  string
	Format string // json | text
}

// VaultConfig controls the optional secrets overlay.
type VaultConfig struct {
	Addr       string
	Token      string
	SecretPath string
}

// Enabled reports whether Vault is configured.
func (c VaultConfig) Enabled() bool { return c.Addr != "" && c.Token != "" }

// TargetsConfig controls stop-loss / take-profit computation.
type TargetsConfig struct {
	UseElliottWaveTargets   bool
	ElliottWave5Ratio       float64
	ATRStopLossMultiplier   float64
	ATRTakeProfitMultiplier float64
	MinRiskReward           float64
}

// timeframes Binance accepts for kline streams and REST klines.
var validTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present, then Vault secrets
// are overlaid if VAULT_ADDR and VAULT_TOKEN are set. Load does not
// validate; call Validate separately so tools can report problems
// instead of dying on them.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		Engine: EngineConfig{
			Symbols:        splitList(getEnvOrDefault("SYMBOLS", "BTCUSDT,ETHUSDT")),
			Timeframes:     splitList(getEnvOrDefault("TIMEFRAMES", "15m,1h,4h")),
			MinConfidence:  getEnvFloatOrDefault("MIN_CONFIDENCE", 0.65),
			SignalCooldown: time.Duration(getEnvIntOrDefault("SIGNAL_COOLDOWN", 300)) * time.Second,
			SymbolCooldown: time.Duration(getEnvIntOrDefault("SYMBOL_COOLDOWN", 3600)) * time.Second,
			EnableWyckoff:  getEnvBoolOrDefault("ENABLE_WYCKOFF", true),
			EnableElliott:  getEnvBoolOrDefault("ENABLE_ELLIOTT", true),
			EnableRSI:      getEnvBoolOrDefault("ENABLE_RSI", true),
			EnableMACD:     getEnvBoolOrDefault("ENABLE_MACD", true),
			WindowSize:     getEnvIntOrDefault("CANDLE_WINDOW_SIZE", 500),
		},
		Binance: BinanceConfig{
			RESTBaseURL:          getEnvOrDefault("BINANCE_REST_URL", "https://fapi.binance.com"),
			WSBaseURL:            getEnvOrDefault("BINANCE_WS_URL", "wss://fstream.binance.com"),
			RateLimitPerMinute:   getEnvIntOrDefault("BINANCE_RATE_LIMIT_PER_MINUTE", 1200),
			MaxCandlesPerRequest: getEnvIntOrDefault("MAX_CANDLES_PER_REQUEST", 1500),
			ReconnectDelay:       getEnvDurationOrDefault("WS_RECONNECT_DELAY", 5*time.Second),
			MaxRetries:           getEnvIntOrDefault("WS_MAX_RETRIES", -1),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxConns:     int32(getEnvIntOrDefault("DB_MAX_CONNS", 10)),
			MinConns:     int32(getEnvIntOrDefault("DB_MIN_CONNS", 2)),
			QueryTimeout: getEnvDurationOrDefault("DB_QUERY_TIMEOUT", 30*time.Second),
			MaxRetries:   getEnvIntOrDefault("DB_MAX_RETRIES", 3),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Notification: NotificationConfig{
			Discord: DiscordConfig{
				BotToken:  os.Getenv("DISCORD_BOT_TOKEN"),
				ChannelID: os.Getenv("DISCORD_CHANNEL_ID"),
			},
			Telegram: TelegramConfig{
				BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
				ChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
			},
		},
		API: APIConfig{
			ListenAddr: getEnvOrDefault("API_LISTEN_ADDR", ":8080"),
			JWTSecret:  os.Getenv("API_JWT_SECRET"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		Vault: VaultConfig{
			Addr:       os.Getenv("VAULT_ADDR"),
			Token:      os.Getenv("VAULT_TOKEN"),
			SecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/signal-engine"),
		},
		Targets: TargetsConfig{
			UseElliottWaveTargets:   getEnvBoolOrDefault("USE_ELLIOTT_WAVE_TARGETS", false),
			ElliottWave5Ratio:       getEnvFloatOrDefault("ELLIOTT_WAVE_5_RATIO", 1.0),
			ATRStopLossMultiplier:   getEnvFloatOrDefault("ATR_STOP_LOSS_MULTIPLIER", 2.0),
			ATRTakeProfitMultiplier: getEnvFloatOrDefault("ATR_TAKE_PROFIT_MULTIPLIER", 3.0),
			MinRiskReward:           getEnvFloatOrDefault("MIN_RISK_REWARD", 1.2),
		},
	}

	for i, s := range cfg.Engine.Symbols {
		cfg.Engine.Symbols[i] = strings.ToUpper(s)
	}

	if cfg.Vault.Enabled() {
		if err := cfg.applyVaultSecrets(); err != nil {
			return nil, fmt.Errorf("vault secrets overlay: %w", err)
		}
	}

	return cfg, nil
}

// applyVaultSecrets fetches the configured KV path and overrides the
// secret-bearing fields that are present in it.
func (c *Config) applyVaultSecrets() error {
	client, err := vault.NewClient(c.Vault.Addr, c.Vault.Token)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secrets, err := client.ReadSecrets(ctx, c.Vault.SecretPath)
	if err != nil {
		return err
	}

	if v, ok := secrets["DATABASE_URL"]; ok {
		c.Database.URL = v
	}
	if v, ok := secrets["REDIS_URL"]; ok {
		c.Redis.URL = v
	}
	if v, ok := secrets["DISCORD_BOT_TOKEN"]; ok {
		c.Notification.Discord.BotToken = v
	}
	if v, ok := secrets["TELEGRAM_BOT_TOKEN"]; ok {
		c.Notification.Telegram.BotToken = v
	}
	if v, ok := secrets["API_JWT_SECRET"]; ok {
		c.API.JWTSecret = v
	}
	return nil
}

// Validate checks every field and returns a single error listing all
// problems, or nil. Callers treat a non-nil result as fatal.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Engine.Symbols) == 0 {
		problems = append(problems, "SYMBOLS must list at least one trading pair")
	}
	for _, s := range c.Engine.Symbols {
		if s == "" {
			problems = append(problems, "SYMBOLS contains an empty entry")
			break
		}
	}

	if len(c.Engine.Timeframes) == 0 {
		problems = append(problems, "TIMEFRAMES must list at least one interval")
	}
	for _, tf := range c.Engine.Timeframes {
		if !validTimeframes[tf] {
			problems = append(problems, fmt.Sprintf("TIMEFRAMES contains unsupported interval %q", tf))
		}
	}

	if c.Engine.MinConfidence <= 0 || c.Engine.MinConfidence > 1 {
		problems = append(problems, fmt.Sprintf("MIN_CONFIDENCE must be in (0, 1], got %v", c.Engine.MinConfidence))
	}
	if c.Engine.SignalCooldown < 0 {
		problems = append(problems, "SIGNAL_COOLDOWN must be >= 0 seconds")
	}
	if c.Engine.SymbolCooldown < 0 {
		problems = append(problems, "SYMBOL_COOLDOWN must be >= 0 seconds")
	}
	if c.Engine.WindowSize < 100 || c.Engine.WindowSize > 2000 {
		problems = append(problems, fmt.Sprintf("CANDLE_WINDOW_SIZE must be in [100, 2000], got %d", c.Engine.WindowSize))
	}

	if c.Binance.RateLimitPerMinute <= 0 {
		problems = append(problems, "BINANCE_RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if c.Binance.MaxCandlesPerRequest <= 0 || c.Binance.MaxCandlesPerRequest > 1500 {
		problems = append(problems, fmt.Sprintf("MAX_CANDLES_PER_REQUEST must be in [1, 1500], got %d", c.Binance.MaxCandlesPerRequest))
	}
	if c.Binance.ReconnectDelay <= 0 {
		problems = append(problems, "WS_RECONNECT_DELAY must be > 0")
	}
	if c.Binance.MaxRetries < -1 {
		problems = append(problems, "WS_MAX_RETRIES must be >= -1 (-1 = retry forever)")
	}

	if c.Database.URL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.Database.MaxRetries < 0 {
		problems = append(problems, "DB_MAX_RETRIES must be >= 0")
	}

	if c.Notification.Discord.BotToken != "" && c.Notification.Discord.ChannelID == "" {
		problems = append(problems, "DISCORD_CHANNEL_ID is required when DISCORD_BOT_TOKEN is set")
	}
	if c.Notification.Discord.ChannelID != "" && c.Notification.Discord.BotToken == "" {
		problems = append(problems, "DISCORD_BOT_TOKEN is required when DISCORD_CHANNEL_ID is set")
	}
	if c.Notification.Telegram.BotToken != "" && c.Notification.Telegram.ChatID == "" {
		problems = append(problems, "TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.Notification.Telegram.ChatID != "" && c.Notification.Telegram.BotToken == "" {
		problems = append(problems, "TELEGRAM_BOT_TOKEN is required when TELEGRAM_CHAT_ID is set")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("LOG_FORMAT must be json or text, got %q", c.Logging.Format))
	}

	if c.Targets.MinRiskReward < 1 {
		problems = append(problems, fmt.Sprintf("MIN_RISK_REWARD must be >= 1, got %v", c.Targets.MinRiskReward))
	}
	if c.Targets.ElliottWave5Ratio <= 0 {
		problems = append(problems, "ELLIOTT_WAVE_5_RATIO must be > 0")
	}
	if c.Targets.ATRStopLossMultiplier <= 0 || c.Targets.ATRTakeProfitMultiplier <= 0 {
		problems = append(problems, "ATR multipliers must be > 0")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
}

// splitList splits a comma-separated env value, trimming blanks.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare integers are treated as seconds, matching the original
		// deployment's env files.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}
