package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Run the full pipeline: sync, process, index",
	Long: `Run sync, process and index back to back.

A full run always retries earlier failures, and each stage claims its
own work by status, so a full run also drains whatever partial runs
left behind. Running corpora without a subcommand does the same thing.

Examples:
  # Full pipeline run
  corpora full

  # Nightly batch with a larger upload budget
  corpora full --max-files 500

  # Rehearse without writing anything
  corpora full --dry-run`,
	RunE: runFull,
}

func init() {
	addRunFlags(fullCmd)
	addSyncFlags(fullCmd)
	addProcessFlags(fullCmd)
	addIndexFlags(fullCmd)
}

func runFull(cmd *cobra.Command, args []string) error {
	app, ctx, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer shutdown()

	res, err := app.pipeline(cmd).Full(ctx)
	if err != nil {
		return runFailed(err)
	}

	fmt.Printf("Full run finished: %d uploaded, %d processed, %d indexed\n",
		res.Sync.Uploaded, res.Process.Processed, res.Index.Indexed)
	if n := res.Failures(); n > 0 {
		return partialFailure(n)
	}
	return nil
}
