package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Attach extracted text to the vector store",
	Long: `Claim processed documents and attach their extracted text to
the configured vector store for search.

Documents that fail indexing are marked failed_index and can be
retried with --retry-failed.

Examples:
  # Index the processed backlog
  corpora index

  # Retry earlier failures too
  corpora index --retry-failed`,
	RunE: runIndex,
}

func init() {
	addRunFlags(indexCmd)
	addRetryFlag(indexCmd)
	addIndexFlags(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	app, ctx, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer shutdown()

	res, err := app.pipeline(cmd).Index(ctx)
	if err != nil {
		return runFailed(err)
	}

	fmt.Printf("Index finished: %d eligible, %d indexed, %d failed\n",
		res.Eligible, res.Indexed, res.Failed)
	if res.Failed > 0 {
		return partialFailure(res.Failed)
	}
	return nil
}
