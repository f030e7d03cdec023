package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rebuild the state database from the object store",
	Long: `Rebuild the state database from what already lives in the
object store.

Every source object becomes a content record, complete derivative
bundles prove the processed stage, and legacy marker layouts under
indexed/ and failed/ settle the rest. Existing records are never
downgraded, so the command is safe to run against a live database.

Examples:
  # Rebuild state after restoring a bucket
  corpora migrate

  # Preview what a migration would write
  corpora migrate --dry-run`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Report what would be written without touching the database")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	app, ctx, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer shutdown()

	res, err := app.pipeline(cmd).Migrate(ctx)
	if err != nil {
		return runFailed(err)
	}

	verb := "wrote"
	if flagDryRun {
		verb = "would write"
	}
	fmt.Printf("Migration %s: %d synced, %d processed, %d indexed, %d failed\n",
		verb, res.Synced, res.Processed, res.Indexed, res.Failed)
	if res.Skipped > 0 {
		fmt.Printf("  %d entries skipped (unreadable or without a matching record)\n", res.Skipped)
	}
	return nil
}
