package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corpora-io/corpora/internal/logger"
	"github.com/corpora-io/corpora/internal/metrics"
	"github.com/corpora-io/corpora/internal/telemetry"
	"github.com/corpora-io/corpora/pkg/config"
	"github.com/corpora-io/corpora/pkg/pipeline"
	"github.com/corpora-io/corpora/pkg/state"
)

// ErrRunFailed tags errors that happen while the pipeline is running,
// as opposed to configuration problems. main maps it to exit code 2.
var ErrRunFailed = errors.New("run failed")

// runFailed marks a stage error as a runtime failure.
func runFailed(err error) error {
	return fmt.Errorf("%w: %v", ErrRunFailed, err)
}

// partialFailure reports a run that finished but left failed documents
// behind. The failures stay queryable via corpora stats.
func partialFailure(n int) error {
	return fmt.Errorf("%w: %d documents failed (see corpora stats)", ErrRunFailed, n)
}

// Per-run flags shared across the pipeline commands. Only one command
// runs per invocation, so the commands can share the variables.
var (
	flagDryRun           bool
	flagMaxFiles         int
	flagForceFullSync    bool
	flagRetryFailed      bool
	flagProcessorWorkers int
	flagIndexerWorkers   int
	flagUseProcesses     bool
)

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Report what would be done without writing anything")
	cmd.Flags().IntVar(&flagMaxFiles, "max-files", 0, "Cap on files handled this run (default: from config, 0 = unlimited)")
}

func addSyncFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&flagForceFullSync, "force-full-sync", false, "Walk the whole drive tree, ignoring the stored watermark")
}

func addRetryFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&flagRetryFailed, "retry-failed", false, "Also claim records that failed in an earlier run")
}

func addProcessFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&flagProcessorWorkers, "processor-workers", 0, "Extraction worker count (default: from config)")
	cmd.Flags().BoolVar(&flagUseProcesses, "use-processes", false, "Run extraction in resident partitioner subprocesses")
}

func addIndexFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&flagIndexerWorkers, "indexer-workers", 0, "Indexing worker count (default: from config)")
}

// buildOptions resolves run options: configuration supplies the
// baseline, flags the caller actually set override it.
func buildOptions(cmd *cobra.Command, cfg *config.Config) pipeline.Options {
	opts := pipeline.FromConfig(cfg)
	opts.DryRun = flagDryRun
	opts.ForceFullSync = flagForceFullSync
	opts.RetryFailed = flagRetryFailed

	flags := cmd.Flags()
	if flags.Changed("max-files") {
		opts.MaxFiles = flagMaxFiles
	}
	if flags.Changed("processor-workers") {
		opts.ProcessWorkers = flagProcessorWorkers
	}
	if flags.Changed("indexer-workers") {
		opts.IndexWorkers = flagIndexerWorkers
	}
	if flags.Changed("use-processes") {
		opts.UseProcesses = flagUseProcesses
	}
	return opts
}

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// app bundles what a pipeline command needs after bootstrap.
type app struct {
	cfg     *config.Config
	store   *state.Store
	metrics *metrics.PipelineMetrics
}

// pipeline builds a pipeline run from the app and the command's flags.
func (a *app) pipeline(cmd *cobra.Command) *pipeline.Pipeline {
	return pipeline.New(a.cfg, a.store, a.metrics, buildOptions(cmd, a.cfg))
}

// setup loads configuration and brings up logging, telemetry, metrics
// and the state store. The returned context is cancelled on SIGINT and
// SIGTERM; the returned shutdown releases everything in reverse order.
func setup(cmd *cobra.Command) (*app, context.Context, func(), error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, nil, nil, err
	}

	if err := InitLogger(cfg); err != nil {
		return nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "corpora",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		stop()
		return nil, nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "corpora",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		stop()
		return nil, nil, nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	store, err := state.New(&cfg.Database)
	if err != nil {
		stop()
		return nil, nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}

	a := &app{cfg: cfg, store: store}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(nil)
		srv := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	}

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	}

	shutdown := func() {
		if err := store.Close(); err != nil {
			logger.Error("state store close error", "error", err)
		}
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
		cancel()
		stop()
	}

	return a, ctx, shutdown, nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
