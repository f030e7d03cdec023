// Package pipeline runs the document ingest stages: sync mirrors drive
// items into the content-addressed store, process extracts text and
// writes derivative bundles, index attaches the extracted text to the
// vector store.
//
// Stages communicate only through the state database and CAS. Each run
// claims its own work by status instead of receiving it from the
// previous stage, so any stage can be rerun at any time and a full run
// picks up whatever earlier runs left behind.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/corpora-io/corpora/internal/logger"
	"github.com/corpora-io/corpora/internal/metrics"
	"github.com/corpora-io/corpora/internal/telemetry"
	"github.com/corpora-io/corpora/pkg/cas"
	"github.com/corpora-io/corpora/pkg/config"
	"github.com/corpora-io/corpora/pkg/drive"
	"github.com/corpora-io/corpora/pkg/extract"
	"github.com/corpora-io/corpora/pkg/state"
	"github.com/corpora-io/corpora/pkg/vector"
)

// SourceFactory builds a drive client. Drive clients are not safe to
// share across goroutines, so each sync worker calls the factory once
// and owns the result.
type SourceFactory func(ctx context.Context) (drive.Source, error)

// StoreFactory builds a CAS client for one worker.
type StoreFactory func(ctx context.Context) (cas.Store, error)

// EngineFactory builds a partitioner engine for one extraction worker.
// Engines that implement io.Closer are closed when the worker is done
// with them.
type EngineFactory func() extract.Engine

// Options carries the per-run switches. The CLI resolves flag and
// config precedence before building one; see FromConfig for the
// config-derived baseline.
type Options struct {
	// DryRun reports what each stage would do without writing to CAS,
	// the database or the vector service.
	DryRun bool

	// MaxFiles caps new uploads in sync and claimed records in the
	// batch stages. Zero or negative means no cap.
	MaxFiles int

	// ForceFullSync walks the whole drive tree regardless of the stored
	// watermark.
	ForceFullSync bool

	// RetryFailed re-claims failed_process and failed_index records in
	// the batch stages. Full runs always retry.
	RetryFailed bool

	// UseProcesses runs extraction in resident partitioner subprocesses
	// instead of one-shot invocations.
	UseProcesses bool

	SyncWorkers    int
	ProcessWorkers int
	IndexWorkers   int
}

// FromConfig derives the baseline options from configuration. CLI flags
// overwrite individual fields afterwards.
func FromConfig(cfg *config.Config) Options {
	return Options{
		MaxFiles:       cfg.Pipeline.MaxFilesPerRun,
		UseProcesses:   cfg.Pipeline.UseProcesses,
		SyncWorkers:    cfg.Pipeline.SyncWorkers,
		ProcessWorkers: cfg.Pipeline.ProcessorWorkers,
		IndexWorkers:   cfg.Pipeline.IndexerWorkers,
	}
}

// Pipeline wires the stages against one configuration. Every Pipeline
// gets a run id that tags all its log lines and spans, so a Pipeline
// value represents a single run.
type Pipeline struct {
	cfg     *config.Config
	store   *state.Store
	metrics *metrics.PipelineMetrics
	opts    Options

	sources SourceFactory
	stores  StoreFactory
	engines EngineFactory
	vectors vector.Service

	runID string
}

// New builds a pipeline run on the caller's state store. The store
// stays open after the pipeline is done with it.
func New(cfg *config.Config, store *state.Store, m *metrics.PipelineMetrics, opts Options) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		store:   store,
		metrics: m,
		opts:    opts,
		runID:   uuid.NewString(),
	}

	p.sources = func(ctx context.Context) (drive.Source, error) {
		return drive.NewGoogleDrive(ctx, drive.GoogleConfig{
			CredentialsFile: cfg.Drive.CredentialsFile,
			Impersonate:     cfg.Drive.Impersonate,
			PageSize:        cfg.Drive.PageSize,
			RequestTimeout:  cfg.Drive.RequestTimeout,
		})
	}

	p.stores = func(ctx context.Context) (cas.Store, error) {
		s3cfg := cas.S3Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			ForcePathStyle:  cfg.Storage.ForcePathStyle,
			MaxRetries:      cfg.Storage.MaxRetries,
			RequestTimeout:  cfg.Storage.RequestTimeout,
		}
		client, err := cas.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		return cas.NewS3Store(ctx, client, s3cfg)
	}

	command := cfg.Pipeline.PartitionerCommand
	if opts.UseProcesses {
		p.engines = func() extract.Engine { return extract.NewProcessEngine(command) }
	} else {
		p.engines = func() extract.Engine { return extract.NewCommandEngine(command) }
	}

	p.vectors = vector.NewOpenAI(vector.Config{
		APIKey:         cfg.Vector.APIKey,
		BaseURL:        cfg.Vector.BaseURL,
		StoreID:        cfg.Vector.StoreID,
		RequestTimeout: cfg.Vector.RequestTimeout,
	})

	return p
}

// RunID returns the identifier tagging this run's logs and spans.
func (p *Pipeline) RunID() string {
	return p.runID
}

// stageContext tags the context with the run and stage for logging and
// starts the stage span. The caller must end the returned span.
func (p *Pipeline) stageContext(ctx context.Context, stage string) (context.Context, func()) {
	ctx, span := telemetry.StartStageSpan(ctx, stage, p.runID)
	ctx = logger.WithContext(ctx, logger.NewLogContext(p.runID, stage))
	return ctx, func() { span.End() }
}

// Sync mirrors new and changed drive items into CAS.
func (p *Pipeline) Sync(ctx context.Context) (*SyncResult, error) {
	ctx, end := p.stageContext(ctx, "sync")
	defer end()

	stage := NewSyncStage(p.store, p.sources, p.stores, p.metrics, SyncConfig{
		RootFolderID:    p.cfg.Drive.FolderID,
		Workers:         p.opts.SyncWorkers,
		MaxFiles:        p.opts.MaxFiles,
		MaxFileSize:     int64(p.cfg.Pipeline.MaxFileSize),
		CheckpointEvery: p.cfg.Pipeline.CheckpointEvery,
		ForceFullSync:   p.opts.ForceFullSync,
		DryRun:          p.opts.DryRun,
		TempDir:         p.cfg.Pipeline.TempDir,
	})

	start := time.Now()
	res, err := stage.Run(ctx)
	p.metrics.RecordStageDuration("sync", time.Since(start))
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return res, err
}

// Process extracts text from synced documents and writes derivative
// bundles.
func (p *Pipeline) Process(ctx context.Context) (*ProcessResult, error) {
	return p.process(ctx, p.opts.RetryFailed)
}

func (p *Pipeline) process(ctx context.Context, retryFailed bool) (*ProcessResult, error) {
	ctx, end := p.stageContext(ctx, "process")
	defer end()

	stage := NewProcessStage(p.store, p.stores, p.engines, p.metrics, ProcessConfig{
		Workers:     p.opts.ProcessWorkers,
		MaxFiles:    p.opts.MaxFiles,
		ChunkSize:   p.cfg.Pipeline.ChunkSize,
		RetryFailed: retryFailed,
		DryRun:      p.opts.DryRun,
		TempDir:     p.cfg.Pipeline.TempDir,
		Policy: extract.PolicyConfig{
			MinCharsPerPage:  p.cfg.Pipeline.OCRThreshold,
			OCRTimeout:       p.cfg.Pipeline.OCRTimeout,
			DefaultLanguages: p.cfg.Pipeline.OCRLanguages,
		},
	})

	start := time.Now()
	res, err := stage.Run(ctx)
	p.metrics.RecordStageDuration("process", time.Since(start))
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return res, err
}

// Index attaches extracted text to the vector store.
func (p *Pipeline) Index(ctx context.Context) (*IndexResult, error) {
	return p.index(ctx, p.opts.RetryFailed)
}

func (p *Pipeline) index(ctx context.Context, retryFailed bool) (*IndexResult, error) {
	ctx, end := p.stageContext(ctx, "index")
	defer end()

	stage := NewIndexStage(p.store, p.stores, p.vectors, p.metrics, IndexConfig{
		Workers:     p.opts.IndexWorkers,
		MaxFiles:    p.opts.MaxFiles,
		RetryFailed: retryFailed,
		DryRun:      p.opts.DryRun,
	})

	start := time.Now()
	res, err := stage.Run(ctx)
	p.metrics.RecordStageDuration("index", time.Since(start))
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return res, err
}

// FullResult aggregates the per-stage results of one full run. Stages
// that never ran (because an earlier one failed) are nil.
type FullResult struct {
	Sync    *SyncResult    `json:"sync,omitempty"`
	Process *ProcessResult `json:"process,omitempty"`
	Index   *IndexResult   `json:"index,omitempty"`
}

// Failures counts documents that failed across all stages that ran.
func (r *FullResult) Failures() int {
	n := 0
	if r.Sync != nil {
		n += r.Sync.Failed
	}
	if r.Process != nil {
		n += r.Process.Failed
	}
	if r.Index != nil {
		n += r.Index.Failed
	}
	return n
}

// Full runs sync, process and index back to back. Failed extractions
// and index attempts are always retried in a full run, and each stage
// claims work by status, so a full run also drains leftovers from
// earlier partial runs.
func (p *Pipeline) Full(ctx context.Context) (*FullResult, error) {
	logger.Info("full pipeline run starting", "run_id", p.runID, "dry_run", p.opts.DryRun)

	res := &FullResult{}
	var err error

	if res.Sync, err = p.Sync(ctx); err != nil {
		return res, err
	}
	if res.Process, err = p.process(ctx, true); err != nil {
		return res, err
	}
	if res.Index, err = p.index(ctx, true); err != nil {
		return res, err
	}

	logger.Info("full pipeline run finished",
		"run_id", p.runID,
		"uploaded", res.Sync.Uploaded,
		"processed", res.Process.Processed,
		"indexed", res.Index.Indexed,
		"failed", res.Failures())
	return res, nil
}
