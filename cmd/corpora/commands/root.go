// Package commands implements the CLI commands for the corpora ingest
// pipeline.
package commands

import (
	configcmd "github.com/corpora-io/corpora/cmd/corpora/commands/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
// A bare invocation runs the full pipeline.
var rootCmd = &cobra.Command{
	Use:   "corpora",
	Short: "Corpora - Document ingest pipeline",
	Long: `Corpora mirrors documents from a shared drive folder into a
content-addressed object store, extracts their text (with OCR fallback
for scanned documents) and indexes the text in a vector store for
search.

Running corpora without a subcommand runs the full pipeline:
sync, process and index back to back.

Use "corpora [command] --help" for more information about a command.`,
	Args:          cobra.NoArgs,
	RunE:          runFull,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/corpora/config.yaml)")

	// The bare invocation shares the full command's flags.
	addRunFlags(rootCmd)
	addSyncFlags(rootCmd)
	addProcessFlags(rootCmd)
	addIndexFlags(rootCmd)

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(fullCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configcmd.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
