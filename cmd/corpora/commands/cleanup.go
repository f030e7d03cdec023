package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupMaxStaleHours int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep records stuck in a working status",
	Long: `Sweep records stuck in processing or indexing into the
matching failed status, making them eligible for retry again.

Records get stuck when a run is killed between claiming a document and
finishing it. The sweep only touches records older than the stale
window (pipeline.stale_after, default 24h).

Examples:
  # Sweep with the configured stale window
  corpora cleanup

  # Sweep anything stuck for more than 2 hours
  corpora cleanup --max-stale-hours 2

  # List stuck records without sweeping them
  corpora cleanup --dry-run`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "List stale records without sweeping them")
	cleanupCmd.Flags().IntVar(&cleanupMaxStaleHours, "max-stale-hours", 0, "Stale window in hours (default: from config)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	app, ctx, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer shutdown()

	maxAge := time.Duration(cleanupMaxStaleHours) * time.Hour
	res, err := app.pipeline(cmd).Cleanup(ctx, maxAge)
	if err != nil {
		return runFailed(err)
	}

	if flagDryRun {
		fmt.Printf("Cleanup dry run: %d stale records found\n", res.Stale)
		return nil
	}
	fmt.Printf("Cleanup finished: %d stale records found, %d swept to failed\n", res.Stale, res.Swept)
	return nil
}
