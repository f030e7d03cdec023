package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/corpora-io/corpora/internal/cli/output"
	"github.com/corpora-io/corpora/pkg/state"
)

var statsOutput string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline statistics",
	Long: `Show the number of documents in each lifecycle status, plus
totals and the failure breakdown.

Examples:
  # Show statistics as a table
  corpora stats

  # Output as JSON for scripting
  corpora stats --output json`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVarP(&statsOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runStats(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statsOutput)
	if err != nil {
		return err
	}

	app, ctx, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer shutdown()

	stats, err := app.store.Statistics(ctx)
	if err != nil {
		return runFailed(fmt.Errorf("failed to read statistics: %w", err))
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, stats)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, stats)
	default:
		return printStatsTable(stats)
	}
}

func printStatsTable(stats *state.Statistics) error {
	rows := make([][]string, 0, len(state.AllStatuses()))
	for _, status := range state.AllStatuses() {
		rows = append(rows, []string{string(status), strconv.FormatInt(stats.ByStatus[status], 10)})
	}
	if err := output.PrintTable(os.Stdout, []string{"STATUS", "DOCUMENTS"}, rows); err != nil {
		return err
	}

	fmt.Println()
	return output.SimpleTable(os.Stdout, [][2]string{
		{"Total", humanize.Comma(stats.Total)},
		{"With errors", humanize.Comma(stats.WithErrors)},
		{"Extracted text", humanize.Bytes(uint64(stats.TextBytes))},
	})
}
