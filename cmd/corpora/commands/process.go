package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract text from synced documents",
	Long: `Claim synced documents and extract their text into derivative
bundles in the object store.

PDFs get a fast extraction pass first; scanned documents whose fast
pass yields too little text are retried with OCR. Documents that fail
extraction are marked failed_process and can be retried with
--retry-failed.

Examples:
  # Process the synced backlog
  corpora process

  # Retry earlier failures too
  corpora process --retry-failed

  # Use resident partitioner subprocesses
  corpora process --use-processes --processor-workers 8`,
	RunE: runProcess,
}

func init() {
	addRunFlags(processCmd)
	addRetryFlag(processCmd)
	addProcessFlags(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	app, ctx, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer shutdown()

	res, err := app.pipeline(cmd).Process(ctx)
	if err != nil {
		return runFailed(err)
	}

	fmt.Printf("Process finished: %d eligible, %d processed, %d failed\n",
		res.Eligible, res.Processed, res.Failed)
	if res.Failed > 0 {
		return partialFailure(res.Failed)
	}
	return nil
}
