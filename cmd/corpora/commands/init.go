package commands

import (
	"fmt"

	"github.com/corpora-io/corpora/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample corpora configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/corpora/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  corpora init

  # Initialize with custom path
  corpora init --config /etc/corpora/config.yaml

  # Force overwrite existing config
  corpora init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		// Use custom path
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		// Use default path
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set the drive folder id, storage bucket and vector store id")
	fmt.Println("  2. Run the pipeline with: corpora")
	fmt.Printf("  3. Or specify custom config: corpora --config %s\n", configPath)
	fmt.Println("\nCredentials note:")
	fmt.Println("  Storage and vector credentials can stay out of the file entirely:")
	fmt.Println("  the AWS credential chain, OPENAI_API_KEY and application default")
	fmt.Println("  credentials are used when the corresponding fields are empty.")

	return nil
}
