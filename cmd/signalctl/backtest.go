package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/backtest"
	"binance-signal-engine/internal/binance"
	"binance-signal-engine/internal/candle"
	"binance-signal-engine/internal/fusion"
)

var (
	backtestSymbol           string
	backtestInterval         string
	backtestDays             int
	backtestMinConfidence    float64
	backtestInitialBalance   float64
	backtestPositionSize     float64
	backtestCommission       float64
	backtestAllowSingle      bool
	backtestSingleConfidence float64
	backtestShowTrades       int
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay the strategy over historical candles",
	Long: `Downloads historical candles from the exchange and replays them through
the live fusion logic with a simulated single-position account. Suppression
cooldowns do not apply; one position is open at a time.

Example usage:
  signalctl backtest                                     # BTCUSDT 1h, last 90 days
  signalctl backtest --symbol ETHUSDT --interval 4h --days 60
  signalctl backtest --min-confidence 0.70 --allow-single`,
	RunE: runBacktest,
}

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVar(&backtestSymbol, "symbol", "BTCUSDT", "Trading pair to replay")
	backtestCmd.Flags().StringVar(&backtestInterval, "interval", "1h", "Candle interval (15m, 1h, 4h, 1d)")
	backtestCmd.Flags().IntVar(&backtestDays, "days", 90, "Days of history to replay")
	backtestCmd.Flags().Float64Var(&backtestMinConfidence, "min-confidence", 0.65, "Minimum fused confidence")
	backtestCmd.Flags().Float64Var(&backtestInitialBalance, "initial-balance", 10000, "Starting account balance")
	backtestCmd.Flags().Float64Var(&backtestPositionSize, "position-size", 0.02, "Fraction of equity per trade")
	backtestCmd.Flags().Float64Var(&backtestCommission, "commission", 0.001, "Commission per side, fraction of notional")
	backtestCmd.Flags().BoolVar(&backtestAllowSingle, "allow-single", false, "Accept strong single-analyzer signals")
	backtestCmd.Flags().Float64Var(&backtestSingleConfidence, "single-confidence", 0.75, "Minimum confidence for single-analyzer signals")
	backtestCmd.Flags().IntVar(&backtestShowTrades, "show-trades", 5, "Sample trades to print, 0 disables")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	if backtestMinConfidence < 0 || backtestMinConfidence > 1 {
		return fmt.Errorf("min-confidence must be between 0.0 and 1.0, got %v", backtestMinConfidence)
	}
	if backtestPositionSize <= 0 || backtestPositionSize > 1 {
		return fmt.Errorf("position-size must be between 0.0 (exclusive) and 1.0, got %v", backtestPositionSize)
	}
	if backtestDays <= 0 {
		return fmt.Errorf("days must be positive, got %d", backtestDays)
	}

	barDur, err := candle.IntervalDuration(backtestInterval)
	if err != nil {
		return err
	}
	bars := int(time.Duration(backtestDays) * 24 * time.Hour / barDur)

	symbol := strings.ToUpper(backtestSymbol)
	logger := cliLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	line := strings.Repeat("=", 60)
	fmt.Println(line)
	fmt.Println("STRATEGY BACKTEST")
	fmt.Println(line)
	fmt.Printf("Symbol:          %s\n", symbol)
	fmt.Printf("Interval:        %s\n", backtestInterval)
	fmt.Printf("Period:          last %d days (%d candles)\n", backtestDays, bars)
	fmt.Printf("Min Confidence:  %.2f\n", backtestMinConfidence)
	if backtestAllowSingle {
		fmt.Printf("Single-Analyzer: enabled (min %.2f)\n", backtestSingleConfidence)
	}
	fmt.Printf("Initial Balance: $%.2f\n", backtestInitialBalance)
	fmt.Printf("Position Size:   %.1f%% per trade\n", backtestPositionSize*100)
	fmt.Println(line)

	ctx := context.Background()
	rest := binance.NewRESTClient(binance.RESTConfig{
		BaseURL:              cfg.Binance.RESTBaseURL,
		RateLimitPerMinute:   cfg.Binance.RateLimitPerMinute,
		MaxCandlesPerRequest: cfg.Binance.MaxCandlesPerRequest,
	}, logger)

	fmt.Printf("\nDownloading %d candles for %s %s...\n", bars, symbol, backtestInterval)
	candles, err := rest.GetKlines(ctx, symbol, backtestInterval, bars, time.Time{})
	if err != nil {
		return fmt.Errorf("downloading candles: %w", err)
	}
	if len(candles) == 0 {
		return fmt.Errorf("exchange returned no candles for %s %s", symbol, backtestInterval)
	}

	first := time.UnixMilli(candles[0].OpenTime).UTC()
	last := time.UnixMilli(candles[len(candles)-1].OpenTime).UTC()
	fmt.Printf("Loaded %d candles: %s to %s\n", len(candles),
		first.Format("2006-01-02"), last.Format("2006-01-02"))

	eng := backtest.New(backtest.Config{
		InitialBalance:           backtestInitialBalance,
		PositionSizePercent:      backtestPositionSize,
		Commission:               backtestCommission,
		MinConfidence:            backtestMinConfidence,
		AllowSingleAnalyzer:      backtestAllowSingle,
		SingleAnalyzerConfidence: backtestSingleConfidence,
		EnableWyckoff:            cfg.Engine.EnableWyckoff,
		EnableElliott:            cfg.Engine.EnableElliott,
		EnableRSI:                cfg.Engine.EnableRSI,
		EnableMACD:               cfg.Engine.EnableMACD,
		Targets: fusion.TargetConfig{
			UseElliottWaveTargets:   cfg.Targets.UseElliottWaveTargets,
			ElliottWave5Ratio:       cfg.Targets.ElliottWave5Ratio,
			ATRStopLossMultiplier:   cfg.Targets.ATRStopLossMultiplier,
			ATRTakeProfitMultiplier: cfg.Targets.ATRTakeProfitMultiplier,
			MinRiskReward:           cfg.Targets.MinRiskReward,
		},
	}, logger)

	result, err := eng.Run(symbol, backtestInterval, candles)
	if err != nil {
		return err
	}

	result.Print(os.Stdout)

	if backtestShowTrades > 0 && len(result.Trades) > 0 {
		n := backtestShowTrades
		if n > len(result.Trades) {
			n = len(result.Trades)
		}
		fmt.Printf("SAMPLE TRADES (first %d of %d)\n", n, len(result.Trades))
		fmt.Println(line)
		for i, t := range result.Trades[:n] {
			marker := "LOSS"
			if t.PnL > 0 {
				marker = "WIN"
			}
			fmt.Printf("#%d %s %s\n", i+1, t.Direction, marker)
			fmt.Printf("  Entry:      $%.4f at %s\n", t.EntryPrice, t.EntryTime.UTC().Format(time.RFC3339))
			fmt.Printf("  Exit:       $%.4f (%s) at %s\n", t.ExitPrice, t.ExitReason, t.ExitTime.UTC().Format(time.RFC3339))
			fmt.Printf("  Confidence: %.0f%%\n", t.Confidence*100)
			fmt.Printf("  PnL:        $%.2f\n", t.PnL)
		}
		fmt.Println(line)
	}

	printRecommendations(result)
	return nil
}

// printRecommendations gives the operator a starting point for tuning,
// mirroring what an experienced user would check first.
func printRecommendations(r *backtest.Result) {
	fmt.Println("\nRECOMMENDATIONS:")
	switch {
	case r.TotalTrades == 0:
		fmt.Println("  No trades executed. Try a lower --min-confidence (0.55-0.60),")
		fmt.Println("  a longer period (--days 120), or a different --interval.")
	case r.WinRate > 0.55 && r.TotalPnL > 0:
		fmt.Println("  Win rate above 55% with positive PnL. Validate on other periods")
		fmt.Println("  and symbols before trusting the parameters.")
	default:
		if r.WinRate < 0.50 {
			fmt.Println("  Win rate below 50%. Consider raising --min-confidence.")
		}
		if r.TotalPnL < 0 {
			fmt.Println("  Negative PnL. Try other intervals or symbols; the strategy may")
			fmt.Println("  not fit this market regime.")
		}
	}
	fmt.Println()
}
