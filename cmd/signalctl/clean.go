package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"binance-signal-engine/internal/database"
)

// statsSource is the slice of the repository the stats banner needs.
type statsSource interface {
	Stats(ctx context.Context) (*database.TableStats, error)
}

var (
	cleanDryRun  bool
	cleanCandles bool
	cleanSignals bool
	cleanAll     bool
	cleanDays    int
	cleanStats   bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete stored candles and signals older than a cutoff",
	Long: `Removes rows older than the cutoff from the candles and/or signals
tables. Without --dry-run the deletion is immediate and permanent.

Example usage:
  signalctl clean --stats                  # Only print table statistics
  signalctl clean --candles --dry-run      # Preview a candle cleanup
  signalctl clean --all --days 60          # Delete both older than 60 days`,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "Preview without deleting")
	cleanCmd.Flags().BoolVar(&cleanCandles, "candles", false, "Clean the candles table")
	cleanCmd.Flags().BoolVar(&cleanSignals, "signals", false, "Clean the signals table")
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Clean both tables")
	cleanCmd.Flags().IntVar(&cleanDays, "days", 30, "Keep rows newer than this many days")
	cleanCmd.Flags().BoolVar(&cleanStats, "stats", false, "Print table statistics and exit")
}

func runClean(cmd *cobra.Command, args []string) error {
	if cleanAll {
		cleanCandles = true
		cleanSignals = true
	}
	if !cleanStats && !cleanCandles && !cleanSignals {
		return fmt.Errorf("nothing to do: pass --candles, --signals, --all, or --stats")
	}
	if cleanDays <= 0 {
		return fmt.Errorf("days must be positive, got %d", cleanDays)
	}

	ctx := context.Background()
	logger := cliLogger()
	_, repo, closeStore, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := printStats(ctx, repo); err != nil {
		return err
	}
	if cleanStats {
		return nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -cleanDays)
	fmt.Printf("Cutoff: rows older than %s (%d days)\n\n", cutoff.Format("2006-01-02 15:04 MST"), cleanDays)

	if cleanCandles {
		count, err := repo.CountCandlesBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("counting candles: %w", err)
		}
		if cleanDryRun {
			fmt.Printf("[dry run] Would delete %d candles\n", count)
		} else if count > 0 {
			deleted, err := repo.DeleteCandlesBefore(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("deleting candles: %w", err)
			}
			fmt.Printf("Deleted %d candles\n", deleted)
		} else {
			fmt.Println("No candles older than cutoff")
		}
	}

	if cleanSignals {
		count, err := repo.CountSignalsBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("counting signals: %w", err)
		}
		if cleanDryRun {
			fmt.Printf("[dry run] Would delete %d signals\n", count)
		} else if count > 0 {
			deleted, err := repo.DeleteSignalsBefore(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("deleting signals: %w", err)
			}
			fmt.Printf("Deleted %d signals\n", deleted)
		} else {
			fmt.Println("No signals older than cutoff")
		}
	}

	if cleanDryRun {
		fmt.Println("\nRun again without --dry-run to delete")
	}
	return nil
}

func printStats(ctx context.Context, repo statsSource) error {
	stats, err := repo.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading table statistics: %w", err)
	}

	line := strings.Repeat("=", 60)
	fmt.Println(line)
	fmt.Println("DATABASE STATISTICS")
	fmt.Println(line)
	fmt.Printf("Symbols: %d\n", stats.Symbols)
	fmt.Printf("Candles: %d\n", stats.Candles)
	fmt.Printf("Signals: %d\n", stats.Signals)
	if stats.OldestCandleTime > 0 {
		fmt.Printf("Candle range: %s to %s\n",
			time.UnixMilli(stats.OldestCandleTime).UTC().Format("2006-01-02"),
			time.UnixMilli(stats.NewestCandleTime).UTC().Format("2006-01-02"))
	}
	fmt.Println(line)
	fmt.Println()
	return nil
}
