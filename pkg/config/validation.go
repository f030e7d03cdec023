package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct-tag rules plus the
// constraints the tags cannot express.
//
// Validation covers static correctness only (value ranges, enums, formats).
// Presence of stage-specific settings (drive folder, bucket, vector store)
// is checked by the stage that needs them, so read-only commands work on a
// partial configuration.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	return nil
}
