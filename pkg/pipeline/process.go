package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/corpora-io/corpora/internal/logger"
	"github.com/corpora-io/corpora/internal/metrics"
	"github.com/corpora-io/corpora/internal/telemetry"
	"github.com/corpora-io/corpora/pkg/cas"
	"github.com/corpora-io/corpora/pkg/extract"
	"github.com/corpora-io/corpora/pkg/state"
)

const (
	defaultProcessWorkers = 5
	defaultChunkSize      = 100
)

// ProcessConfig tunes one extraction run.
type ProcessConfig struct {
	// Workers is the number of concurrent extraction workers. Default 5.
	Workers int

	// MaxFiles caps how many records the run claims. Zero or negative
	// means all eligible records.
	MaxFiles int

	// ChunkSize is the batch size between engine recycles. Resident
	// partitioner processes are restarted at chunk boundaries. Default 100.
	ChunkSize int

	// RetryFailed also claims failed_process records.
	RetryFailed bool

	// DryRun lists what would be processed without claiming anything.
	DryRun bool

	// TempDir is where payloads are staged for the engine. Empty means
	// the system temp directory.
	TempDir string

	// Policy is the extraction policy (OCR threshold, timeout, languages).
	Policy extract.PolicyConfig
}

// ProcessResult tallies one extraction run.
type ProcessResult struct {
	// Eligible counts records matched by the claim query.
	Eligible int `json:"eligible"`

	// Processed counts complete derivative bundles.
	Processed int `json:"processed"`

	// Failed counts records moved to failed_process.
	Failed int `json:"failed"`

	// Skipped counts claim races lost to another worker or run.
	Skipped int `json:"skipped,omitempty"`

	// Interrupted counts claims reverted by shutdown.
	Interrupted int `json:"interrupted,omitempty"`
}

// ProcessStage turns synced documents into derivative bundles: the
// element stream, the plain text and the bundle descriptor.
//
// A stage value runs once. Workers claim records with a guarded status
// transition, so concurrent runs share the backlog instead of doubling
// work.
type ProcessStage struct {
	store   *state.Store
	stores  StoreFactory
	engines EngineFactory
	metrics *metrics.PipelineMetrics
	cfg     ProcessConfig

	mu     sync.Mutex
	result ProcessResult
}

// NewProcessStage builds a process stage. Zero config fields fall back
// to defaults.
func NewProcessStage(store *state.Store, stores StoreFactory, engines EngineFactory, m *metrics.PipelineMetrics, cfg ProcessConfig) *ProcessStage {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultProcessWorkers
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &ProcessStage{store: store, stores: stores, engines: engines, metrics: m, cfg: cfg}
}

func (s *ProcessStage) tally(update func(*ProcessResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.result)
}

// claimFrom is the status set a claim transition accepts as source.
func (s *ProcessStage) claimFrom() []state.Status {
	if s.cfg.RetryFailed {
		return []state.Status{state.StatusSynced, state.StatusFailedProcess}
	}
	return []state.Status{state.StatusSynced}
}

// Run claims eligible records and extracts them in chunks. On
// cancellation, in-flight extractions revert their claims so no record
// is left in processing.
func (s *ProcessStage) Run(ctx context.Context) (*ProcessResult, error) {
	start := time.Now()

	candidates, err := s.store.ListByStatuses(ctx, s.claimFrom(), s.cfg.MaxFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to list records for processing: %w", err)
	}
	s.result.Eligible = len(candidates)

	if len(candidates) == 0 {
		logger.InfoCtx(ctx, "nothing to process")
		return &s.result, nil
	}

	logger.InfoCtx(ctx, "process starting",
		"eligible", len(candidates),
		"workers", s.cfg.Workers,
		"chunk_size", s.cfg.ChunkSize,
		"retry_failed", s.cfg.RetryFailed,
		"dry_run", s.cfg.DryRun)

	if s.cfg.DryRun {
		for _, rec := range candidates {
			logger.InfoCtx(ctx, "dry run: would process",
				"digest", rec.Digest, "name", rec.OriginalName, "status", rec.Status)
		}
		return &s.result, nil
	}

	// CAS clients live for the whole run; engines are rebuilt per chunk.
	stores := make([]cas.Store, s.cfg.Workers)
	for i := range stores {
		if stores[i], err = s.stores(ctx); err != nil {
			return nil, fmt.Errorf("failed to build storage client for worker %d: %w", i, err)
		}
	}

	chunks := (len(candidates) + s.cfg.ChunkSize - 1) / s.cfg.ChunkSize
	for i := 0; i < chunks && ctx.Err() == nil; i++ {
		lo := i * s.cfg.ChunkSize
		hi := lo + s.cfg.ChunkSize
		if hi > len(candidates) {
			hi = len(candidates)
		}

		logger.InfoCtx(ctx, "process chunk starting", "chunk", i+1, "chunks", chunks, "size", hi-lo)
		s.runChunk(ctx, stores, candidates[lo:hi])

		if hi < len(candidates) {
			// Engines were just torn down; collect what they left behind
			// before the next batch spins up.
			runtime.GC()
		}
	}

	res := &s.result
	logger.InfoCtx(ctx, "process finished",
		"eligible", res.Eligible,
		"processed", res.Processed,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"duration_ms", logger.Duration(start))

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// runChunk fans one batch out to a fresh worker pool.
func (s *ProcessStage) runChunk(ctx context.Context, stores []cas.Store, records []*state.ContentRecord) {
	jobs := make(chan *state.ContentRecord)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int, store cas.Store) {
			defer wg.Done()
			s.worker(ctx, id, store, jobs)
		}(i, stores[i])
	}

dispatch:
	for _, rec := range records {
		select {
		case jobs <- rec:
		case <-ctx.Done():
			// Undispatched records were never claimed; the next run
			// picks them up.
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
}

// worker drains jobs with its own engine. The engine lives for one
// chunk: resident partitioner processes get restarted at chunk
// boundaries so a leaky extraction run cannot grow without bound.
func (s *ProcessStage) worker(ctx context.Context, id int, store cas.Store, jobs <-chan *state.ContentRecord) {
	engine := s.engines()
	if closer, ok := engine.(io.Closer); ok {
		defer closer.Close()
	}
	partitioner := extract.NewPartitioner(engine, s.cfg.Policy)

	logger.DebugCtx(ctx, "process worker started", "worker", id)
	for rec := range jobs {
		s.processRecord(ctx, store, partitioner, rec)
	}
	logger.DebugCtx(ctx, "process worker stopped", "worker", id)
}

// processRecord claims one record, extracts it and commits the outcome.
func (s *ProcessStage) processRecord(ctx context.Context, store cas.Store, partitioner *extract.Partitioner, rec *state.ContentRecord) {
	start := time.Now()
	s.metrics.IncInFlight("process")
	defer s.metrics.DecInFlight("process")

	ctx, span := telemetry.StartDocumentSpan(ctx, "process", rec.Digest,
		telemetry.OriginID(rec.OriginID), telemetry.DocName(rec.OriginalName))
	defer span.End()

	err := s.store.TransitionStatus(ctx, rec.Digest, s.claimFrom(), state.StatusProcessing, state.ClearErrors())
	if errors.Is(err, state.ErrConflict) {
		logger.DebugCtx(ctx, "process claim lost", "digest", rec.Digest)
		s.tally(func(r *ProcessResult) { r.Skipped++ })
		return
	}
	if err != nil {
		logger.ErrorCtx(ctx, "process claim failed", "digest", rec.Digest, "error", err)
		s.tally(func(r *ProcessResult) { r.Failed++ })
		s.metrics.RecordProcessResult("failed", "", time.Since(start))
		return
	}

	out, err := s.extractOne(ctx, store, partitioner, rec)
	duration := time.Since(start)

	switch {
	case err == nil:
		s.commitProcessed(ctx, rec, out, start, duration)

	case ctx.Err() != nil:
		// Shutdown took the context away mid-extraction. Hand the claim
		// back so the record is not stranded in processing.
		s.revertClaim(ctx, rec)
		s.tally(func(r *ProcessResult) { r.Interrupted++ })
		s.metrics.RecordProcessResult("aborted", "", duration)

	default:
		kind := classifyExtractError(err)
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "process failed",
			"digest", rec.Digest, "name", rec.OriginalName, "kind", kind, "error", err)
		terr := s.store.TransitionStatus(ctx, rec.Digest,
			[]state.Status{state.StatusProcessing}, state.StatusFailedProcess,
			state.RecordError(err.Error(), kind))
		if terr != nil {
			logger.WarnCtx(ctx, "failed to record process failure", "digest", rec.Digest, "error", terr)
		}
		s.tally(func(r *ProcessResult) { r.Failed++ })
		s.metrics.RecordProcessResult("failed", "", duration)
	}
}

func (s *ProcessStage) commitProcessed(ctx context.Context, rec *state.ContentRecord, out *extract.Output, start time.Time, duration time.Duration) {
	now := time.Now().UTC()
	err := s.store.TransitionStatus(ctx, rec.Digest,
		[]state.Status{state.StatusProcessing}, state.StatusProcessed,
		state.StampStage(now), state.WithTextSize(int64(len(out.Text))))
	if err != nil {
		logger.ErrorCtx(ctx, "failed to commit processed record", "digest", rec.Digest, "error", err)
		s.tally(func(r *ProcessResult) { r.Failed++ })
		s.metrics.RecordProcessResult("failed", "", duration)
		return
	}

	telemetry.SetAttributes(ctx, telemetry.Strategy(string(out.Strategy)))
	logger.InfoCtx(ctx, "processed document",
		"digest", rec.Digest,
		"name", rec.OriginalName,
		"strategy", out.Strategy,
		"text_size", len(out.Text),
		"elements", len(out.Elements),
		"duration_ms", logger.Duration(start))
	s.tally(func(r *ProcessResult) { r.Processed++ })
	s.metrics.RecordProcessResult("processed", string(out.Strategy), duration)
}

// revertClaim hands a claimed record back on shutdown so no row is left
// in a working status. The write must land on a cancelled context.
func (s *ProcessStage) revertClaim(ctx context.Context, rec *state.ContentRecord) {
	err := s.store.TransitionStatus(context.WithoutCancel(ctx), rec.Digest,
		[]state.Status{state.StatusProcessing}, state.StatusSynced)
	if err != nil {
		logger.WarnCtx(ctx, "failed to revert process claim", "digest", rec.Digest, "error", err)
		return
	}
	logger.InfoCtx(ctx, "process interrupted, claim reverted", "digest", rec.Digest)
}

// classifyExtractError maps an extraction failure to the stored error
// kind. Timeout and empty-content checks come first because engine
// errors can wrap I/O errors that would read as transient.
func classifyExtractError(err error) state.ErrorKind {
	switch {
	case extract.IsTimeout(err):
		return state.ErrorOCRTimeout
	case errors.Is(err, extract.ErrEmptyContent):
		return state.ErrorEmptyContent
	case cas.IsTransient(err):
		return state.ErrorTransientBackend
	}
	return state.ErrorPermanent
}

// extractOne downloads the source payload, runs the partitioner and
// uploads the derivative bundle.
func (s *ProcessStage) extractOne(ctx context.Context, store cas.Store, partitioner *extract.Partitioner, rec *state.ContentRecord) (*extract.Output, error) {
	staged, err := s.stage(ctx, store, rec)
	if err != nil {
		return nil, err
	}
	defer staged.cleanup()

	out, err := partitioner.Extract(ctx, extract.Document{
		Path:        staged.path,
		Extension:   rec.Extension,
		DisplayName: rec.OriginalName,
	})
	if err != nil {
		return nil, err
	}

	if err := s.uploadBundle(ctx, store, rec, out); err != nil {
		return nil, err
	}
	return out, nil
}

// stage downloads the source object to local disk for the engine. The
// staged name keeps the real extension because engines sniff by it.
func (s *ProcessStage) stage(ctx context.Context, store cas.Store, rec *state.ContentRecord) (*spoolFile, error) {
	body, err := store.Get(ctx, rec.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rec.ObjectKey, err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(s.cfg.TempDir, "corpora-extract-*"+rec.Extension)
	if err != nil {
		return nil, fmt.Errorf("failed to stage payload: %w", err)
	}

	size, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to stage %s: %w", rec.ObjectKey, err)
	}
	return &spoolFile{path: tmp.Name(), size: size}, nil
}

// uploadBundle writes the three bundle entries. meta.json goes last: its
// presence marks the bundle complete, and nothing downstream trusts a
// bundle without it.
func (s *ProcessStage) uploadBundle(ctx context.Context, store cas.Store, rec *state.ContentRecord, out *extract.Output) error {
	meta := &extract.Meta{
		Digest:           rec.Digest,
		OriginalName:     rec.OriginalName,
		ObjectKey:        rec.ObjectKey,
		Extension:        rec.Extension,
		ElementCount:     len(out.Elements),
		TextLength:       utf8.RuneCountInString(out.Text),
		WordCount:        len(strings.Fields(out.Text)),
		PageCount:        extract.PageCountOf(out.Elements),
		Title:            extract.TitleOf(out.Elements),
		Author:           extract.AuthorOf(out.Elements),
		Language:         out.Language,
		SyncedAt:         rec.SyncedAt,
		ProcessedAt:      time.Now().UTC(),
		Strategy:         out.Strategy,
		OriginID:         rec.OriginID,
		OriginPath:       rec.OriginPath,
		OriginCreatedAt:  rec.OriginCreatedAt,
		OriginModifiedAt: rec.OriginModifiedAt,
		OriginMIME:       rec.OriginMIME,
	}
	encoded, err := meta.Encode()
	if err != nil {
		return err
	}

	entries := []struct {
		name        string
		data        []byte
		contentType string
	}{
		{cas.DerivativeElements, out.JSONL, cas.ContentTypeJSONL},
		{cas.DerivativeText, []byte(out.Text), cas.ContentTypeText},
		{cas.DerivativeMeta, encoded, cas.ContentTypeJSON},
	}
	for _, e := range entries {
		key := cas.DerivativeKey(rec.Digest, e.name)
		if err := store.PutBytes(ctx, key, e.data, e.contentType, nil); err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
	}
	return nil
}
