// signalctl is the operations CLI for the signal engine: backtests,
// database maintenance, per-symbol diagnostics, deployment health checks,
// and API token minting. It reads the same environment the engine does.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/database"
	"binance-signal-engine/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "signalctl",
	Short: "Operations CLI for the signal engine",
	Long: `signalctl runs the signal engine's operational tasks against the same
configuration the live process uses: strategy backtests over exchange
history, database cleanup and reset, per-symbol signal diagnostics,
pre-deployment health checks, and status API token minting.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliLogger keeps component internals quiet so command output stays the
// primary channel. Failures still reach stderr.
func cliLogger() zerolog.Logger {
	return logging.New(logging.Config{
		Level:  "warn",
		Format: "text",
		Output: os.Stderr,
	})
}

// openStore loads configuration and connects to PostgreSQL. The returned
// cleanup closes the pool and must always be called.
func openStore(ctx context.Context, logger zerolog.Logger) (*config.Config, *database.Repository, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, nil, nil, fmt.Errorf("DATABASE_URL is not set")
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	repo := database.NewRepository(db, cfg.Database, logger)
	return cfg, repo, db.Close, nil
}
