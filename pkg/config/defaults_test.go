package config

import (
	"testing"
	"time"

	"github.com/corpora-io/corpora/pkg/state"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_NormalizesLogLevel(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "debug"
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected log level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_Pipeline(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Pipeline.MaxFilesPerRun != 10 {
		t.Errorf("Expected default max files per run 10, got %d", cfg.Pipeline.MaxFilesPerRun)
	}
	if cfg.Pipeline.SyncWorkers != 10 {
		t.Errorf("Expected default sync workers 10, got %d", cfg.Pipeline.SyncWorkers)
	}
	if cfg.Pipeline.ProcessorWorkers != 5 {
		t.Errorf("Expected default processor workers 5, got %d", cfg.Pipeline.ProcessorWorkers)
	}
	if cfg.Pipeline.IndexerWorkers != 3 {
		t.Errorf("Expected default indexer workers 3, got %d", cfg.Pipeline.IndexerWorkers)
	}
	if cfg.Pipeline.CheckpointEvery != 10 {
		t.Errorf("Expected default checkpoint interval 10, got %d", cfg.Pipeline.CheckpointEvery)
	}
	if cfg.Pipeline.ChunkSize != 100 {
		t.Errorf("Expected default chunk size 100, got %d", cfg.Pipeline.ChunkSize)
	}
	if cfg.Pipeline.OCRThreshold != 200 {
		t.Errorf("Expected default OCR threshold 200, got %d", cfg.Pipeline.OCRThreshold)
	}
	if cfg.Pipeline.OCRTimeout != 5*time.Minute {
		t.Errorf("Expected default OCR timeout 5m, got %v", cfg.Pipeline.OCRTimeout)
	}
	if len(cfg.Pipeline.OCRLanguages) != 2 || cfg.Pipeline.OCRLanguages[0] != "eng" || cfg.Pipeline.OCRLanguages[1] != "hun" {
		t.Errorf("Expected default OCR languages [eng hun], got %v", cfg.Pipeline.OCRLanguages)
	}
	if cfg.Pipeline.PartitionerCommand != "unstructured-worker" {
		t.Errorf("Expected default partitioner command 'unstructured-worker', got %q", cfg.Pipeline.PartitionerCommand)
	}
	if cfg.Pipeline.StaleAfter != 24*time.Hour {
		t.Errorf("Expected default stale threshold 24h, got %v", cfg.Pipeline.StaleAfter)
	}
}

func TestApplyDefaults_StorageAndVector(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Storage.Region != "us-east-1" {
		t.Errorf("Expected default region 'us-east-1', got %q", cfg.Storage.Region)
	}
	if cfg.Storage.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.Storage.MaxRetries)
	}
	if cfg.Storage.RequestTimeout != 30*time.Second {
		t.Errorf("Expected default storage request timeout 30s, got %v", cfg.Storage.RequestTimeout)
	}
	if cfg.Vector.RequestTimeout != 2*time.Minute {
		t.Errorf("Expected default vector request timeout 2m, got %v", cfg.Vector.RequestTimeout)
	}
	if cfg.Drive.PageSize != 100 {
		t.Errorf("Expected default drive page size 100, got %d", cfg.Drive.PageSize)
	}
	if cfg.Drive.RequestTimeout != 30*time.Second {
		t.Errorf("Expected default drive request timeout 30s, got %v", cfg.Drive.RequestTimeout)
	}
}

func TestApplyDefaults_MetricsPortOnlyWhenEnabled(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 0 {
		t.Errorf("Expected no metrics port while disabled, got %d", cfg.Metrics.Port)
	}

	cfg = &Config{}
	cfg.Metrics.Enabled = true
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/corpora.log",
		},
		ShutdownTimeout: 60 * time.Second,
		Pipeline: PipelineConfig{
			SyncWorkers:  2,
			OCRThreshold: 50,
			OCRLanguages: []string{"deu"},
		},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected explicit format 'json' to be preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "/var/log/corpora.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Pipeline.SyncWorkers != 2 {
		t.Errorf("Expected explicit sync workers 2 to be preserved, got %d", cfg.Pipeline.SyncWorkers)
	}
	if cfg.Pipeline.OCRThreshold != 50 {
		t.Errorf("Expected explicit OCR threshold 50 to be preserved, got %d", cfg.Pipeline.OCRThreshold)
	}
	if len(cfg.Pipeline.OCRLanguages) != 1 || cfg.Pipeline.OCRLanguages[0] != "deu" {
		t.Errorf("Expected explicit OCR languages [deu] to be preserved, got %v", cfg.Pipeline.OCRLanguages)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}

func TestGetDefaultConfig_Database(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Database.Type != state.DatabaseTypeSQLite {
		t.Errorf("Expected default database type sqlite, got %q", cfg.Database.Type)
	}
	if cfg.Database.SQLite.Path == "" {
		t.Error("Default config missing SQLite path")
	}
}
