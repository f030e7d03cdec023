package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror drive documents into the object store",
	Long: `Walk the configured drive folder and mirror new and changed
documents into the content-addressed object store.

Unchanged documents are skipped via the stored watermark; renames and
moves refresh metadata without re-uploading bytes. New uploads are
capped per run (see --max-files), leftover items are picked up by the
next run.

Examples:
  # Incremental sync
  corpora sync

  # See what a sync would upload, without writing anything
  corpora sync --dry-run

  # Ignore the watermark and re-examine everything
  corpora sync --force-full-sync

  # Upload at most 50 new documents
  corpora sync --max-files 50`,
	RunE: runSync,
}

func init() {
	addRunFlags(syncCmd)
	addSyncFlags(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	app, ctx, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer shutdown()

	res, err := app.pipeline(cmd).Sync(ctx)
	if err != nil {
		return runFailed(err)
	}

	fmt.Printf("Sync finished: %d examined, %d uploaded, %d metadata-only, %d linked, %d skipped\n",
		res.Examined, res.Uploaded, res.MetadataOnly, res.Linked, res.Skipped)
	if res.Deferred > 0 {
		fmt.Printf("  %d new documents deferred to the next run (upload cap reached)\n", res.Deferred)
	}
	if res.Failed > 0 {
		return partialFailure(res.Failed)
	}
	return nil
}
