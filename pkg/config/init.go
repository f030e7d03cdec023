package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// configHeader is prepended to generated configuration files.
const configHeader = `# Corpora Configuration File
#
# Generated by "corpora init". The values below are the defaults; adjust
# what you need. Every field can also be set through environment variables
# with the CORPORA_ prefix, for example CORPORA_LOGGING_LEVEL=DEBUG.
#
# Credentials can be left out of this file entirely:
#   - storage access keys fall back to the AWS credential chain
#   - vector.api_key falls back to the OPENAI_API_KEY environment variable
#   - drive.credentials_file falls back to application default credentials

`

// InitConfig creates a configuration file with default values at the
// default location ($XDG_CONFIG_HOME/corpora/config.yaml).
//
// Returns the path of the created file. Refuses to overwrite an existing
// file unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a configuration file with default values at the
// given path, creating parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	cfg := GetDefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file may later hold storage and vector service credentials.
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
