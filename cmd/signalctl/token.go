package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/api"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the status API",
	Long: `Signs a JWT with the configured API_JWT_SECRET for calling the
authenticated /api/v1 endpoints.

Example usage:
  signalctl token              # valid for 1 hour
  signalctl token --ttl 24h`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.API.JWTSecret == "" {
		return fmt.Errorf("API_JWT_SECRET is not set")
	}

	token, err := api.MintToken(cfg.API.JWTSecret, tokenTTL)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
