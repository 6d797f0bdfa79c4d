package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	resetConfirm bool
	resetDryRun  bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe all stored candles, signals, and symbols",
	Long: `Truncates every table and restarts the id sequences. The engine
re-downloads history on its next startup. This cannot be undone, so the
command previews by default and only deletes with --confirm.

Example usage:
  signalctl reset             # Preview what would be deleted
  signalctl reset --dry-run   # Same as above, spelled out
  signalctl reset --confirm   # Actually wipe the database`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVar(&resetConfirm, "confirm", false, "Actually delete everything")
	resetCmd.Flags().BoolVar(&resetDryRun, "dry-run", false, "Preview without deleting (overrides --confirm)")
}

func runReset(cmd *cobra.Command, args []string) error {
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

	if resetDryRun || !resetConfirm {
		fmt.Println("[dry run] Would delete ALL rows above and restart id sequences.")
		fmt.Println("Run again with --confirm to actually reset.")
		return nil
	}

	fmt.Println("Resetting database...")
	if err := repo.ResetAll(ctx); err != nil {
		return fmt.Errorf("resetting database: %w", err)
	}
	fmt.Println("Database reset complete. History re-downloads on next engine start.")
	return nil
}
