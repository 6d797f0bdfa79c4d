package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"binance-signal-engine/internal/analyzer"
	"binance-signal-engine/internal/candle"
	"binance-signal-engine/internal/fusion"
)

// diagnoseMinCandles matches the history the analyzers need before their
// verdicts mean anything.
const diagnoseMinCandles = 50

var (
	diagnoseSymbol   string
	diagnoseInterval string
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Explain why symbols are or are not producing signals",
	Long: `Runs every enabled analyzer over the stored candles for each configured
symbol and previews what the fusion ladder would decide on the next bar
close. Use it to tell apart "not enough data", "analyzers see nothing",
and "confidence below threshold".

Example usage:
  signalctl diagnose                     # All configured symbols, first interval
  signalctl diagnose --symbol BTCUSDT --interval 4h`,
	RunE: runDiagnose,
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)

	diagnoseCmd.Flags().StringVar(&diagnoseSymbol, "symbol", "", "Single symbol to diagnose (default: all configured)")
	diagnoseCmd.Flags().StringVar(&diagnoseInterval, "interval", "", "Interval to diagnose (default: first configured)")
}

type diagnosis struct {
	symbol     string
	status     string
	direction  analyzer.Direction
	confidence float64
	reason     string
}

const (
	diagSignal        = "SIGNAL"
	diagLowConfidence = "LOW_CONFIDENCE"
	diagNoSignal      = "NO_SIGNAL"
	diagNoCandles     = "NO_CANDLES"
	diagInsufficient  = "INSUFFICIENT_CANDLES"
	diagError         = "ERROR"
)

func runDiagnose(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := cliLogger()
	cfg, repo, closeStore, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	symbols := cfg.Engine.Symbols
	if diagnoseSymbol != "" {
		symbols = []string{strings.ToUpper(diagnoseSymbol)}
	}
	interval := diagnoseInterval
	if interval == "" {
		if len(cfg.Engine.Timeframes) == 0 {
			return fmt.Errorf("no intervals configured")
		}
		interval = cfg.Engine.Timeframes[0]
	}

	line := strings.Repeat("=", 60)
	fmt.Println(line)
	fmt.Println("SYMBOL DIAGNOSTIC REPORT")
	fmt.Printf("Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Println(line)
	fmt.Printf("Interval:       %s\n", interval)
	fmt.Printf("Window Size:    %d\n", cfg.Engine.WindowSize)
	fmt.Printf("Min Confidence: %.0f%%\n", cfg.Engine.MinConfidence*100)
	fmt.Println(line)

	targets := fusion.TargetConfig{
		UseElliottWaveTargets:   cfg.Targets.UseElliottWaveTargets,
		ElliottWave5Ratio:       cfg.Targets.ElliottWave5Ratio,
		ATRStopLossMultiplier:   cfg.Targets.ATRStopLossMultiplier,
		ATRTakeProfitMultiplier: cfg.Targets.ATRTakeProfitMultiplier,
		MinRiskReward:           cfg.Targets.MinRiskReward,
	}
	// Two fusers at different thresholds separate "would signal" from
	// "signal exists but confidence is too low".
	liveFuser := fusion.NewFuser(fusion.Config{
		MinConfidence:       cfg.Engine.MinConfidence,
		AllowSingleAnalyzer: true,
		Targets:             targets,
	}, logger)
	floorFuser := fusion.NewFuser(fusion.Config{
		MinConfidence:       0.01,
		AllowSingleAnalyzer: true,
		Targets:             targets,
	}, logger)

	var (
		wyckoff analyzer.Analyzer
		elliott analyzer.Analyzer
		rsi     analyzer.Analyzer
		macd    analyzer.Analyzer
	)
	if cfg.Engine.EnableWyckoff {
		wyckoff = analyzer.NewWyckoffAnalyzer()
	}
	if cfg.Engine.EnableElliott {
		elliott = analyzer.NewElliottAnalyzer()
	}
	if cfg.Engine.EnableRSI {
		rsi = analyzer.NewRSIAnalyzer()
	}
	if cfg.Engine.EnableMACD {
		macd = analyzer.NewMACDAnalyzer()
	}

	results := make([]diagnosis, 0, len(symbols))
	for _, symbol := range symbols {
		fmt.Printf("\n%s\n%s\n", symbol, strings.Repeat("-", 40))

		candles, err := repo.GetCandles(ctx, symbol, interval, cfg.Engine.WindowSize)
		if err != nil {
			fmt.Printf("  Error: %v\n", err)
			results = append(results, diagnosis{symbol: symbol, status: diagError, reason: err.Error()})
			continue
		}
		if len(candles) == 0 {
			fmt.Println("  No candles stored")
			results = append(results, diagnosis{symbol: symbol, status: diagNoCandles, reason: "no candles stored"})
			continue
		}

		fmt.Printf("  Candles: %d/%d\n", len(candles), cfg.Engine.WindowSize)
		if len(candles) < diagnoseMinCandles {
			fmt.Printf("  Not enough history (%d < %d)\n", len(candles), diagnoseMinCandles)
			results = append(results, diagnosis{
				symbol: symbol,
				status: diagInsufficient,
				reason: fmt.Sprintf("only %d candles", len(candles)),
			})
			continue
		}

		price := candles[len(candles)-1].Close
		fmt.Printf("  Price:   $%.4f\n", price)

		wyckoffRes := runVerdict("Wyckoff", wyckoff, candles)
		elliottRes := runVerdict("Elliott", elliott, candles)
		rsiRes := runVerdict("RSI", rsi, candles)
		macdRes := runVerdict("MACD", macd, candles)

		inputs := fusion.Inputs{
			Symbol:       symbol,
			Interval:     interval,
			Candles:      candles,
			CurrentPrice: price,
			Wyckoff:      wyckoffRes,
			Elliott:      elliottRes,
			RSI:          rsiRes,
			MACD:         macdRes,
		}

		if sig := liveFuser.Fuse(inputs); sig != nil {
			fmt.Printf("  Verdict: WOULD SIGNAL %s (%.1f%%): %s\n",
				sig.Direction, sig.Confidence*100, sig.FusionReason)
			results = append(results, diagnosis{
				symbol:     symbol,
				status:     diagSignal,
				direction:  sig.Direction,
				confidence: sig.Confidence,
				reason:     sig.FusionReason,
			})
		} else if sig := floorFuser.Fuse(inputs); sig != nil {
			fmt.Printf("  Verdict: below threshold, %s at %.1f%% < %.0f%%: %s\n",
				sig.Direction, sig.Confidence*100, cfg.Engine.MinConfidence*100, sig.FusionReason)
			results = append(results, diagnosis{
				symbol:     symbol,
				status:     diagLowConfidence,
				direction:  sig.Direction,
				confidence: sig.Confidence,
				reason:     sig.FusionReason,
			})
		} else {
			fmt.Println("  Verdict: no signal, analyzers do not agree strongly enough")
			results = append(results, diagnosis{
				symbol: symbol,
				status: diagNoSignal,
				reason: "no fusion tier matched",
			})
		}
	}

	printDiagnoseSummary(results)
	return nil
}

// runVerdict executes one analyzer and prints its line. A nil analyzer is
// reported as disabled; an error or empty verdict contributes nothing to
// fusion.
func runVerdict(name string, a analyzer.Analyzer, candles []candle.Candle) *analyzer.Result {
	if a == nil {
		fmt.Printf("  %-8s disabled\n", name+":")
		return nil
	}
	result, err := a.Analyze(candles)
	if err != nil {
		fmt.Printf("  %-8s error: %v\n", name+":", err)
		return nil
	}
	if !result.HasSignal() {
		fmt.Printf("  %-8s none\n", name+":")
		return result
	}
	fmt.Printf("  %-8s %s (%.1f%%)\n", name+":", result.Direction, result.Confidence*100)
	return result
}

func printDiagnoseSummary(results []diagnosis) {
	line := strings.Repeat("=", 60)
	fmt.Printf("\n%s\nSUMMARY\n%s\n", line, line)

	counts := map[string]int{}
	for _, r := range results {
		counts[r.status]++
	}

	fmt.Printf("Total Symbols:        %d\n", len(results))
	fmt.Printf("  Would Signal:       %d\n", counts[diagSignal])
	fmt.Printf("  Low Confidence:     %d\n", counts[diagLowConfidence])
	fmt.Printf("  No Signal:          %d\n", counts[diagNoSignal])
	fmt.Printf("  Missing Data:       %d\n", counts[diagNoCandles]+counts[diagInsufficient])
	fmt.Printf("  Errors:             %d\n", counts[diagError])

	if counts[diagSignal] > 0 {
		fmt.Println("\nSymbols that would signal:")
		for _, r := range results {
			if r.status == diagSignal {
				fmt.Printf("  %s %s (%.1f%%): %s\n", r.symbol, r.direction, r.confidence*100, r.reason)
			}
		}
	}
	if counts[diagLowConfidence] > 0 {
		fmt.Println("\nSymbols below threshold:")
		for _, r := range results {
			if r.status == diagLowConfidence {
				fmt.Printf("  %s %s (%.1f%%): %s\n", r.symbol, r.direction, r.confidence*100, r.reason)
			}
		}
	}
	fmt.Println()
}
