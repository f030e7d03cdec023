package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/corpora-io/corpora/internal/logger"
	"github.com/corpora-io/corpora/internal/metrics"
	"github.com/corpora-io/corpora/internal/telemetry"
	"github.com/corpora-io/corpora/pkg/cas"
	"github.com/corpora-io/corpora/pkg/state"
	"github.com/corpora-io/corpora/pkg/vector"
)

const defaultIndexWorkers = 3

// IndexConfig tunes one indexing run.
type IndexConfig struct {
	// Workers is the number of concurrent indexing workers. Default 3.
	Workers int

	// MaxFiles caps how many records the run claims. Zero or negative
	// means all eligible records.
	MaxFiles int

	// RetryFailed also claims failed_index records.
	RetryFailed bool

	// DryRun lists what would be indexed without claiming anything.
	DryRun bool
}

// IndexResult tallies one indexing run.
type IndexResult struct {
	// Eligible counts records matched by the claim query.
	Eligible int `json:"eligible"`

	// Indexed counts documents attached to the vector store.
	Indexed int `json:"indexed"`

	// Failed counts records moved to failed_index.
	Failed int `json:"failed"`

	// Skipped counts claim races lost to another worker or run.
	Skipped int `json:"skipped,omitempty"`

	// Interrupted counts claims reverted by shutdown.
	Interrupted int `json:"interrupted,omitempty"`
}

// IndexStage uploads extracted text to the vector service and attaches
// it to the configured vector store.
//
// A stage value runs once. The vector client is shared by all workers;
// CAS clients are per worker.
type IndexStage struct {
	store   *state.Store
	stores  StoreFactory
	vectors vector.Service
	metrics *metrics.PipelineMetrics
	cfg     IndexConfig

	mu     sync.Mutex
	result IndexResult
}

// NewIndexStage builds an index stage. Zero config fields fall back to
// defaults.
func NewIndexStage(store *state.Store, stores StoreFactory, vectors vector.Service, m *metrics.PipelineMetrics, cfg IndexConfig) *IndexStage {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultIndexWorkers
	}
	return &IndexStage{store: store, stores: stores, vectors: vectors, metrics: m, cfg: cfg}
}

func (s *IndexStage) tally(update func(*IndexResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.result)
}

// claimFrom is the status set a claim transition accepts as source.
func (s *IndexStage) claimFrom() []state.Status {
	if s.cfg.RetryFailed {
		return []state.Status{state.StatusProcessed, state.StatusFailedIndex}
	}
	return []state.Status{state.StatusProcessed}
}

// Run claims eligible records and indexes them. On cancellation,
// in-flight attachments revert their claims so no record is left in
// indexing.
func (s *IndexStage) Run(ctx context.Context) (*IndexResult, error) {
	start := time.Now()

	candidates, err := s.store.ListByStatuses(ctx, s.claimFrom(), s.cfg.MaxFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to list records for indexing: %w", err)
	}
	s.result.Eligible = len(candidates)

	if len(candidates) == 0 {
		logger.InfoCtx(ctx, "nothing to index")
		return &s.result, nil
	}

	logger.InfoCtx(ctx, "index starting",
		"eligible", len(candidates),
		"workers", s.cfg.Workers,
		"vector_store", s.vectors.StoreID(),
		"retry_failed", s.cfg.RetryFailed,
		"dry_run", s.cfg.DryRun)

	if s.cfg.DryRun {
		for _, rec := range candidates {
			logger.InfoCtx(ctx, "dry run: would index",
				"digest", rec.Digest, "name", rec.OriginalName, "status", rec.Status)
		}
		return &s.result, nil
	}

	stores := make([]cas.Store, s.cfg.Workers)
	for i := range stores {
		if stores[i], err = s.stores(ctx); err != nil {
			return nil, fmt.Errorf("failed to build storage client for worker %d: %w", i, err)
		}
	}

	jobs := make(chan *state.ContentRecord)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int, store cas.Store) {
			defer wg.Done()
			logger.DebugCtx(ctx, "index worker started", "worker", id)
			for rec := range jobs {
				s.indexRecord(ctx, store, rec)
			}
			logger.DebugCtx(ctx, "index worker stopped", "worker", id)
		}(i, stores[i])
	}

dispatch:
	for _, rec := range candidates {
		select {
		case jobs <- rec:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	res := &s.result
	logger.InfoCtx(ctx, "index finished",
		"eligible", res.Eligible,
		"indexed", res.Indexed,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"duration_ms", logger.Duration(start))

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// indexRecord claims one record, uploads its text and commits the
// outcome.
func (s *IndexStage) indexRecord(ctx context.Context, store cas.Store, rec *state.ContentRecord) {
	start := time.Now()
	s.metrics.IncInFlight("index")
	defer s.metrics.DecInFlight("index")

	ctx, span := telemetry.StartDocumentSpan(ctx, "index", rec.Digest,
		telemetry.OriginID(rec.OriginID), telemetry.DocName(rec.OriginalName))
	defer span.End()

	err := s.store.TransitionStatus(ctx, rec.Digest, s.claimFrom(), state.StatusIndexing, state.ClearErrors())
	if errors.Is(err, state.ErrConflict) {
		logger.DebugCtx(ctx, "index claim lost", "digest", rec.Digest)
		s.tally(func(r *IndexResult) { r.Skipped++ })
		return
	}
	if err != nil {
		logger.ErrorCtx(ctx, "index claim failed", "digest", rec.Digest, "error", err)
		s.tally(func(r *IndexResult) { r.Failed++ })
		s.metrics.RecordIndexResult("failed", time.Since(start))
		return
	}

	fileID, err := s.indexOne(ctx, store, rec)
	duration := time.Since(start)

	switch {
	case err == nil:
		s.commitIndexed(ctx, rec, fileID, start, duration)

	case ctx.Err() != nil:
		s.revertClaim(ctx, rec)
		s.tally(func(r *IndexResult) { r.Interrupted++ })
		s.metrics.RecordIndexResult("aborted", duration)

	default:
		kind := classifyIndexError(err)
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "index failed",
			"digest", rec.Digest, "name", rec.OriginalName, "kind", kind, "error", err)
		terr := s.store.TransitionStatus(ctx, rec.Digest,
			[]state.Status{state.StatusIndexing}, state.StatusFailedIndex,
			state.RecordError(err.Error(), kind))
		if terr != nil {
			logger.WarnCtx(ctx, "failed to record index failure", "digest", rec.Digest, "error", terr)
		}
		s.tally(func(r *IndexResult) { r.Failed++ })
		s.metrics.RecordIndexResult("failed", duration)
	}
}

// indexOne fetches the extracted text and pushes it to the vector
// service: upload the file, then attach it to the store. The text is
// buffered so upload retries can replay the payload.
func (s *IndexStage) indexOne(ctx context.Context, store cas.Store, rec *state.ContentRecord) (string, error) {
	key := cas.DerivativeKey(rec.Digest, cas.DerivativeText)
	body, err := store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	text, err := io.ReadAll(body)
	if closeErr := body.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}

	fileID, err := s.vectors.Upload(ctx, rec.Digest+".txt", bytes.NewReader(text))
	if err != nil {
		return "", err
	}
	if err := s.vectors.Attach(ctx, fileID); err != nil {
		return fileID, err
	}
	return fileID, nil
}

func (s *IndexStage) commitIndexed(ctx context.Context, rec *state.ContentRecord, fileID string, start time.Time, duration time.Duration) {
	now := time.Now().UTC()
	err := s.store.TransitionStatus(ctx, rec.Digest,
		[]state.Status{state.StatusIndexing}, state.StatusIndexed,
		state.StampStage(now), state.WithVectorHandles(fileID, s.vectors.StoreID()))
	if err != nil {
		logger.ErrorCtx(ctx, "failed to commit indexed record", "digest", rec.Digest, "error", err)
		s.tally(func(r *IndexResult) { r.Failed++ })
		s.metrics.RecordIndexResult("failed", duration)
		return
	}

	telemetry.SetAttributes(ctx,
		telemetry.VectorFileID(fileID), telemetry.VectorStoreID(s.vectors.StoreID()))
	logger.InfoCtx(ctx, "indexed document",
		"digest", rec.Digest,
		"name", rec.OriginalName,
		"file_id", fileID,
		"vector_store", s.vectors.StoreID(),
		"duration_ms", logger.Duration(start))
	s.tally(func(r *IndexResult) { r.Indexed++ })
	s.metrics.RecordIndexResult("indexed", duration)
}

// revertClaim hands a claimed record back on shutdown so no row is left
// in a working status.
func (s *IndexStage) revertClaim(ctx context.Context, rec *state.ContentRecord) {
	err := s.store.TransitionStatus(context.WithoutCancel(ctx), rec.Digest,
		[]state.Status{state.StatusIndexing}, state.StatusProcessed)
	if err != nil {
		logger.WarnCtx(ctx, "failed to revert index claim", "digest", rec.Digest, "error", err)
		return
	}
	logger.InfoCtx(ctx, "index interrupted, claim reverted", "digest", rec.Digest)
}

// classifyIndexError maps an indexing failure to the stored error kind.
// Rate limits and server errors from the vector service are transient,
// as are object store hiccups fetching the text; everything else is a
// permanent rejection of the document.
func classifyIndexError(err error) state.ErrorKind {
	if vector.IsRetryable(err) || cas.IsTransient(err) {
		return state.ErrorTransientBackend
	}
	return state.ErrorPermanent
}
