package config

import (
	"strings"
	"time"

	"github.com/corpora-io/corpora/pkg/extract"
	"github.com/corpora-io/corpora/pkg/state"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyDriveDefaults(&cfg.Drive)
	applyStorageDefaults(&cfg.Storage)
	applyDatabaseDefaults(&cfg.Database)
	applyVectorDefaults(&cfg.Vector)
	applyPipelineDefaults(&cfg.Pipeline)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)
	// No need to set, zero value is false

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	// Apply profiling defaults
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Enabled defaults to false (opt-in for profiling)
	// No need to set, zero value is false

	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	// Default profile types include CPU, memory allocation, and goroutines
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyDriveDefaults sets document source defaults.
// FolderID has no default - the sync stage requires it explicitly.
func applyDriveDefaults(cfg *DriveConfig) {
	if cfg.PageSize == 0 {
		cfg.PageSize = 100
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
}

// applyStorageDefaults sets object store defaults.
// Bucket has no default - the sync and process stages require it explicitly.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
}

// applyDatabaseDefaults sets state database defaults.
func applyDatabaseDefaults(cfg *state.Config) {
	cfg.ApplyDefaults()
}

// applyVectorDefaults sets vector service defaults.
// StoreID has no default - the index stage requires it explicitly.
func applyVectorDefaults(cfg *VectorConfig) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
}

// applyPipelineDefaults sets stage tuning defaults.
func applyPipelineDefaults(cfg *PipelineConfig) {
	if cfg.MaxFilesPerRun == 0 {
		cfg.MaxFilesPerRun = 10
	}
	if cfg.SyncWorkers == 0 {
		cfg.SyncWorkers = 10
	}
	if cfg.ProcessorWorkers == 0 {
		cfg.ProcessorWorkers = 5
	}
	if cfg.IndexerWorkers == 0 {
		cfg.IndexerWorkers = 3
	}
	if cfg.CheckpointEvery == 0 {
		cfg.CheckpointEvery = 10
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 100
	}
	if cfg.OCRThreshold == 0 {
		cfg.OCRThreshold = extract.DefaultMinCharsPerPage
	}
	if cfg.OCRTimeout == 0 {
		cfg.OCRTimeout = extract.DefaultOCRTimeout
	}
	if len(cfg.OCRLanguages) == 0 {
		cfg.OCRLanguages = []string{"eng", "hun"}
	}
	if cfg.PartitionerCommand == "" {
		cfg.PartitionerCommand = "unstructured-worker"
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 24 * time.Hour
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: state.Config{
			Type: state.DatabaseTypeSQLite, // Default to SQLite for single-node
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
