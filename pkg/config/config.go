package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/corpora-io/corpora/internal/bytesize"
	"github.com/corpora-io/corpora/pkg/state"
)

// Config represents the corpora pipeline configuration.
//
// This structure captures all static configuration aspects of the pipeline:
//   - Logging configuration
//   - Telemetry/tracing configuration
//   - Drive settings (source folder, credentials)
//   - Storage settings (S3-compatible content-addressed store)
//   - Database connection (pipeline state persistence)
//   - Vector service settings (file search indexing)
//   - Pipeline tuning (worker counts, thresholds, timeouts)
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (CORPORA_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Drive configures the document source (shared drive folder)
	Drive DriveConfig `mapstructure:"drive" yaml:"drive"`

	// Storage configures the S3-compatible content-addressed object store
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Database configures the pipeline state database (SQLite or PostgreSQL).
	// This is the persistent store for content records, origin mappings,
	// and sync checkpoints.
	Database state.Config `mapstructure:"database" yaml:"database"`

	// Vector configures the vector indexing service
	Vector VectorConfig `mapstructure:"vector" yaml:"vector"`

	// Pipeline contains stage tuning (worker counts, thresholds, timeouts)
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	// Set to false in production with a TLS-enabled collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// 1.0 = sample all traces, 0.5 = sample 50%, 0.0 = no sampling
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
// When enabled, CPU and memory profiles are continuously sent to a Pyroscope server
// for flame graph visualization and performance analysis.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// DriveConfig configures the document source.
//
// The sync stage walks the configured folder recursively and mirrors
// accepted documents into the content-addressed store.
type DriveConfig struct {
	// FolderID is the identifier of the shared drive folder to sync.
	// Required for the sync stage.
	FolderID string `mapstructure:"folder_id" yaml:"folder_id"`

	// CredentialsFile is the path to a service account credentials JSON file.
	// When empty, application default credentials are used.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`

	// Impersonate is the subject for domain-wide delegation (optional).
	Impersonate string `mapstructure:"impersonate" yaml:"impersonate,omitempty"`

	// PageSize is the listing page size for folder walks.
	// Default: 100
	PageSize int64 `mapstructure:"page_size" validate:"omitempty,min=1,max=1000" yaml:"page_size"`

	// RequestTimeout bounds a single listing page request.
	// Downloads and exports are not subject to it.
	// Default: 30s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// StorageConfig configures the S3-compatible content-addressed store.
//
// Works with AWS S3 and S3-compatible services (MinIO, LocalStack).
type StorageConfig struct {
	// Bucket is the bucket holding payloads and derivative bundles.
	// Required for the sync and process stages.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the bucket region.
	// Default: "us-east-1"
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint URL (for MinIO, LocalStack).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey provide static credentials.
	// When empty, the default AWS credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle enables path-style addressing (required for MinIO).
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// MaxRetries is the retry budget for transient storage errors.
	// Default: 3
	MaxRetries int `mapstructure:"max_retries" validate:"omitempty,min=1" yaml:"max_retries"`

	// RequestTimeout bounds a single metadata-level storage request.
	// Streamed uploads and downloads are not subject to it.
	// Default: 30s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// VectorConfig configures the vector indexing service.
type VectorConfig struct {
	// APIKey authenticates against the vector service.
	// When empty, the OPENAI_API_KEY environment variable is used.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`

	// BaseURL overrides the service endpoint (for proxies or compatible services).
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`

	// StoreID is the vector store documents are attached to.
	// Required for the index stage.
	StoreID string `mapstructure:"store_id" yaml:"store_id"`

	// RequestTimeout bounds individual vector service calls.
	// Default: 2m
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// PipelineConfig contains stage tuning.
type PipelineConfig struct {
	// MaxFilesPerRun caps the number of new uploads per sync run.
	// Skipped, metadata-only, and dedupe-linked items do not count.
	// Default: 10
	MaxFilesPerRun int `mapstructure:"max_files_per_run" validate:"omitempty,min=1" yaml:"max_files_per_run"`

	// MaxFileSize skips drive files larger than this during sync. Accepts
	// human-readable sizes like "100MB" or "1Gi". Skipped files advance the
	// watermark, so picking them up after raising the limit needs a run
	// with --force-full-sync.
	// Default: 0 (no limit)
	MaxFileSize bytesize.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size,omitempty"`

	// SyncWorkers is the sync stage worker count.
	// Default: 10
	SyncWorkers int `mapstructure:"sync_workers" validate:"omitempty,min=1" yaml:"sync_workers"`

	// ProcessorWorkers is the extraction stage worker count.
	// Default: 5
	ProcessorWorkers int `mapstructure:"processor_workers" validate:"omitempty,min=1" yaml:"processor_workers"`

	// IndexerWorkers is the index stage worker count.
	// Default: 3
	IndexerWorkers int `mapstructure:"indexer_workers" validate:"omitempty,min=1" yaml:"indexer_workers"`

	// UseProcesses runs extraction in resident partitioner subprocesses
	// (one per worker) instead of one-shot invocations.
	UseProcesses bool `mapstructure:"use_processes" yaml:"use_processes"`

	// CheckpointEvery persists the sync watermark after this many
	// committed items. The watermark is also persisted at run end.
	// Default: 10
	CheckpointEvery int `mapstructure:"checkpoint_every" validate:"omitempty,min=1" yaml:"checkpoint_every"`

	// ChunkSize is the extraction claim batch size. Temp resources are
	// cleaned up between chunks.
	// Default: 100
	ChunkSize int `mapstructure:"chunk_size" validate:"omitempty,min=1" yaml:"chunk_size"`

	// OCRThreshold is the minimum average characters per page below which
	// the fast extraction pass is considered insufficient and OCR runs.
	// Default: 200
	OCRThreshold int `mapstructure:"ocr_threshold" validate:"omitempty,min=1" yaml:"ocr_threshold"`

	// OCRTimeout is the hard wall-clock limit for one OCR attempt.
	// On expiry the partitioner is killed and the fast result is kept.
	// Default: 5m
	OCRTimeout time.Duration `mapstructure:"ocr_timeout" yaml:"ocr_timeout"`

	// OCRLanguages are the default OCR language hints, used when the
	// filename carries no recognizable language marker.
	// Default: ["eng", "hun"]
	OCRLanguages []string `mapstructure:"ocr_languages" yaml:"ocr_languages"`

	// PartitionerCommand is the external partitioner executable.
	// It must implement the JSONL partition protocol (one request in,
	// one response out).
	// Default: "unstructured-worker"
	PartitionerCommand string `mapstructure:"partitioner_command" yaml:"partitioner_command"`

	// TempDir overrides the directory for staging downloads and artifacts.
	// Default: system temp directory
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`

	// StaleAfter is the age threshold for the cleanup sweep. Records stuck
	// in a working status longer than this are marked failed.
	// Default: 24h
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CORPORA_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: User-friendly error with instructions if config not found
func MustLoad(configPath string) (*Config, error) {
	// Determine config path
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  corpora init\n\n"+
				"Or specify a custom config file:\n"+
				"  corpora <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  corpora init --config %s",
				configPath, configPath)
		}
	}

	// Load configuration
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file with restricted permissions (0600 = owner read/write only).
	// Config files may contain storage and vector service credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use CORPORA_ prefix and underscores
	// Example: CORPORA_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CORPORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/corpora/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Other errors are problems
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing and comma-separated
// slices from environment variables.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use
// human-readable sizes like "1Gi", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to ByteSize
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse human-readable string like "1Gi", "500Mi", "100MB"
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to time.Duration
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse duration string like "30s", "5m", "1h"
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "corpora")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "corpora")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
