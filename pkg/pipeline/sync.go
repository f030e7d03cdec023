package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corpora-io/corpora/internal/logger"
	"github.com/corpora-io/corpora/internal/metrics"
	"github.com/corpora-io/corpora/internal/telemetry"
	"github.com/corpora-io/corpora/pkg/cas"
	"github.com/corpora-io/corpora/pkg/drive"
	"github.com/corpora-io/corpora/pkg/state"
)

const (
	defaultSyncWorkers     = 10
	defaultCheckpointEvery = 10

	// syncProgressEvery is how many examined items pass between progress
	// log lines.
	syncProgressEvery = 10
)

// errUploadCapReached aborts the drive traversal once the run has spent
// its new-upload budget.
var errUploadCapReached = errors.New("upload cap reached")

// SyncConfig tunes one sync run.
type SyncConfig struct {
	// RootFolderID is the drive folder the traversal starts from.
	RootFolderID string

	// Workers is the number of concurrent item workers. Default 10.
	Workers int

	// MaxFiles caps new uploads for the run. Skips, metadata refreshes
	// and dedupe links do not count. Zero or negative means no cap.
	MaxFiles int

	// MaxFileSize skips new items larger than this many bytes. Zero or
	// negative means no limit. Native documents report size zero and
	// always pass.
	MaxFileSize int64

	// CheckpointEvery persists the traversal watermark after this many
	// committed items. Default 10.
	CheckpointEvery int

	// ForceFullSync walks the whole tree regardless of the stored
	// watermark. The fast-paths still deduplicate, so a forced walk
	// re-uploads nothing.
	ForceFullSync bool

	// DryRun logs what would be synced without downloading, uploading
	// or touching the database.
	DryRun bool

	// TempDir is where payloads are spooled while hashing. Empty means
	// the system temp directory.
	TempDir string
}

// SyncResult tallies one sync run by item outcome.
type SyncResult struct {
	// Examined counts every item the traversal yielded.
	Examined int `json:"examined"`

	// Uploaded counts new payloads stored in CAS.
	Uploaded int `json:"uploaded"`

	// MetadataOnly counts renames and moves refreshed without moving
	// bytes.
	MetadataOnly int `json:"metadata_only"`

	// Linked counts new origins deduplicated onto existing content.
	Linked int `json:"linked"`

	// Skipped counts items whose snapshot was already current or that
	// the size limit excluded.
	Skipped int `json:"skipped"`

	// Deferred counts new items left for the next run because the
	// upload cap was reached.
	Deferred int `json:"deferred,omitempty"`

	// Failed counts items that errored.
	Failed int `json:"failed"`

	// Interrupted counts items abandoned mid-flight by shutdown.
	Interrupted int `json:"interrupted,omitempty"`
}

type syncOutcome int

const (
	outcomeSkipped syncOutcome = iota
	outcomeMetadataOnly
	outcomeLinked
	outcomeUploaded
	outcomeDeferred
	outcomeFailed
	outcomeAborted
)

func (o syncOutcome) String() string {
	switch o {
	case outcomeSkipped:
		return "skipped"
	case outcomeMetadataOnly:
		return "metadata_only"
	case outcomeLinked:
		return "linked"
	case outcomeUploaded:
		return "uploaded"
	case outcomeDeferred:
		return "deferred"
	case outcomeFailed:
		return "failed"
	case outcomeAborted:
		return "aborted"
	}
	return "unknown"
}

// committed reports whether the item's drive state is fully reflected in
// the store, making it safe to advance the watermark past it.
func (o syncOutcome) committed() bool {
	switch o {
	case outcomeSkipped, outcomeMetadataOnly, outcomeLinked, outcomeUploaded:
		return true
	}
	return false
}

func (r *SyncResult) add(o syncOutcome) {
	r.Examined++
	switch o {
	case outcomeSkipped:
		r.Skipped++
	case outcomeMetadataOnly:
		r.MetadataOnly++
	case outcomeLinked:
		r.Linked++
	case outcomeUploaded:
		r.Uploaded++
	case outcomeDeferred:
		r.Deferred++
	case outcomeFailed:
		r.Failed++
	case outcomeAborted:
		r.Interrupted++
	}
}

// SyncStage mirrors a drive folder tree into the content-addressed store
// and records every document in the state database.
//
// The traversal runs in the caller's goroutine and feeds a fixed pool of
// item workers; a single tally goroutine owns the result counters and
// the watermark writes.
type SyncStage struct {
	store   *state.Store
	sources SourceFactory
	stores  StoreFactory
	metrics *metrics.PipelineMetrics
	cfg     SyncConfig
}

// NewSyncStage builds a sync stage. Zero config fields fall back to
// defaults.
func NewSyncStage(store *state.Store, sources SourceFactory, stores StoreFactory, m *metrics.PipelineMetrics, cfg SyncConfig) *SyncStage {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultSyncWorkers
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = defaultCheckpointEvery
	}
	return &SyncStage{store: store, sources: sources, stores: stores, metrics: m, cfg: cfg}
}

// syncRun carries the mutable per-run state shared by the workers.
type syncRun struct {
	*SyncStage
	uploads atomic.Int64
}

// reserveUpload claims one new-upload slot under the run cap.
func (r *syncRun) reserveUpload() bool {
	if r.cfg.MaxFiles <= 0 {
		return true
	}
	if r.uploads.Add(1) > int64(r.cfg.MaxFiles) {
		r.uploads.Add(-1)
		return false
	}
	return true
}

// releaseUpload returns a slot whose upload did not commit.
func (r *syncRun) releaseUpload() {
	if r.cfg.MaxFiles > 0 {
		r.uploads.Add(-1)
	}
}

func (r *syncRun) capReached() bool {
	return r.cfg.MaxFiles > 0 && r.uploads.Load() >= int64(r.cfg.MaxFiles)
}

// Run executes the sync stage until the traversal ends, the upload cap
// is reached or ctx is cancelled. On cancellation in-flight items finish
// their current step and the watermark reflects only committed work.
func (s *SyncStage) Run(ctx context.Context) (*SyncResult, error) {
	start := time.Now()

	watermark, err := s.loadWatermark(ctx)
	if err != nil {
		return nil, err
	}

	lister, err := s.sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build drive client: %w", err)
	}

	// One drive and one CAS client per worker: neither is shared safely.
	// Building them up front fails the run before any work starts.
	type workerClients struct {
		source drive.Source
		cas    cas.Store
	}
	clients := make([]workerClients, s.cfg.Workers)
	for i := range clients {
		if clients[i].source, err = s.sources(ctx); err != nil {
			return nil, fmt.Errorf("failed to build drive client for worker %d: %w", i, err)
		}
		if clients[i].cas, err = s.stores(ctx); err != nil {
			return nil, fmt.Errorf("failed to build storage client for worker %d: %w", i, err)
		}
	}

	logger.InfoCtx(ctx, "sync starting",
		"folder_id", s.cfg.RootFolderID,
		"workers", s.cfg.Workers,
		"max_files", s.cfg.MaxFiles,
		"watermark", formatWatermark(watermark),
		"force_full", s.cfg.ForceFullSync,
		"dry_run", s.cfg.DryRun)

	run := &syncRun{SyncStage: s}
	jobs := make(chan drive.Item)
	events := make(chan syncEvent)

	res := &SyncResult{}
	tallyDone := make(chan struct{})
	go run.tally(ctx, res, events, tallyDone)

	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(1)
		go func(id int, c workerClients) {
			defer wg.Done()
			logger.DebugCtx(ctx, "sync worker started", "worker", id)
			for item := range jobs {
				events <- run.syncItem(ctx, c.source, c.cas, item)
			}
			logger.DebugCtx(ctx, "sync worker stopped", "worker", id)
		}(i, clients[i])
	}

	walkErr := drive.Enumerate(ctx, lister, s.cfg.RootFolderID, watermark, func(item drive.Item) error {
		if run.capReached() {
			return errUploadCapReached
		}
		select {
		case jobs <- item:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	close(jobs)
	wg.Wait()
	close(events)
	<-tallyDone

	switch {
	case errors.Is(walkErr, errUploadCapReached):
		logger.InfoCtx(ctx, "sync stopped at upload cap", "max_files", s.cfg.MaxFiles)
	case walkErr != nil:
		return res, fmt.Errorf("drive traversal: %w", walkErr)
	}

	logger.InfoCtx(ctx, "sync finished",
		"examined", res.Examined,
		"uploaded", res.Uploaded,
		"metadata_only", res.MetadataOnly,
		"linked", res.Linked,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration_ms", logger.Duration(start))
	return res, nil
}

// loadWatermark reads the traversal watermark left by the last run.
func (s *SyncStage) loadWatermark(ctx context.Context) (time.Time, error) {
	if s.cfg.ForceFullSync {
		return time.Time{}, nil
	}
	raw, err := s.store.GetCheckpoint(ctx, state.CheckpointSyncWatermark)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load sync watermark: %w", err)
	}
	if raw == "" {
		return time.Time{}, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.WarnCtx(ctx, "unreadable sync watermark, walking the full tree", "value", raw, "error", err)
		return time.Time{}, nil
	}
	return at, nil
}

// saveWatermark persists the watermark. The write must land even when
// the run is being cancelled, so it detaches from ctx's lifetime.
func (r *syncRun) saveWatermark(ctx context.Context, at time.Time) {
	value := at.UTC().Format(time.RFC3339)
	if err := r.store.SetCheckpoint(context.WithoutCancel(ctx), state.CheckpointSyncWatermark, value); err != nil {
		logger.WarnCtx(ctx, "failed to persist sync watermark", "watermark", value, "error", err)
		return
	}
	logger.DebugCtx(ctx, "sync watermark persisted", "watermark", value)
}

func formatWatermark(at time.Time) string {
	if at.IsZero() {
		return "none"
	}
	return at.UTC().Format(time.RFC3339)
}

type syncEvent struct {
	outcome    syncOutcome
	modifiedAt time.Time
}

// tally is the only goroutine that mutates the result and writes the
// watermark, so neither needs a lock. The watermark is the greatest
// modified time among committed items, persisted every CheckpointEvery
// items and once at the end.
func (r *syncRun) tally(ctx context.Context, res *SyncResult, events <-chan syncEvent, done chan<- struct{}) {
	defer close(done)

	committed := 0
	var watermark time.Time

	for ev := range events {
		res.add(ev.outcome)

		if ev.outcome.committed() {
			committed++
			if ev.modifiedAt.After(watermark) {
				watermark = ev.modifiedAt
			}
			if !r.cfg.DryRun && committed%r.cfg.CheckpointEvery == 0 {
				r.saveWatermark(ctx, watermark)
			}
		}

		if res.Examined%syncProgressEvery == 0 {
			logger.InfoCtx(ctx, "sync progress",
				"examined", res.Examined,
				"uploaded", res.Uploaded,
				"skipped", res.Skipped,
				"failed", res.Failed)
		}
	}

	if !r.cfg.DryRun && committed > 0 && !watermark.IsZero() {
		r.saveWatermark(ctx, watermark)
	}
}

// syncItem runs one item through the decision tree and maps the result
// to an event for the tally.
func (r *syncRun) syncItem(ctx context.Context, source drive.Source, store cas.Store, item drive.Item) syncEvent {
	start := time.Now()
	r.metrics.IncInFlight("sync")
	defer r.metrics.DecInFlight("sync")

	ctx, span := telemetry.StartDocumentSpan(ctx, "sync", "",
		telemetry.OriginID(item.OriginID), telemetry.DocName(item.Name))
	defer span.End()

	outcome, err := r.processItem(ctx, source, store, item)
	r.metrics.RecordSyncDuration(time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a document problem. The item stays eligible
			// for the next run because the watermark never passes it.
			logger.WarnCtx(ctx, "sync item interrupted", "origin_id", item.OriginID, "name", item.Name)
			r.metrics.RecordSyncResult(outcomeAborted.String())
			return syncEvent{outcome: outcomeAborted}
		}
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "sync item failed", "origin_id", item.OriginID, "name", item.Name, "error", err)
		r.metrics.RecordSyncResult(outcomeFailed.String())
		return syncEvent{outcome: outcomeFailed}
	}

	r.metrics.RecordSyncResult(outcome.String())
	return syncEvent{outcome: outcome, modifiedAt: item.ModifiedAt}
}

// processItem decides what one drive item needs:
//
//  1. known origin, unchanged snapshot: nothing
//  2. known origin, changed snapshot: metadata refresh, no bytes moved
//  3. new origin, known content: dedupe link
//  4. new origin, new content: upload and record
//
// The expensive step (download and digest) only happens past 2.
func (r *syncRun) processItem(ctx context.Context, source drive.Source, store cas.Store, item drive.Item) (syncOutcome, error) {
	mapping, err := r.store.GetOriginMapping(ctx, item.OriginID)
	switch {
	case err == nil:
		if sameSnapshot(mapping, item) {
			logger.DebugCtx(ctx, "sync skip: unchanged", "origin_id", item.OriginID, "name", item.Name)
			return outcomeSkipped, nil
		}
		return r.refreshMetadata(ctx, store, mapping.Digest, item)
	case !errors.Is(err, state.ErrNotFound):
		return 0, fmt.Errorf("failed to look up origin %s: %w", item.OriginID, err)
	}

	if r.cfg.MaxFileSize > 0 && item.Size > r.cfg.MaxFileSize {
		logger.InfoCtx(ctx, "sync skip: over size limit",
			"origin_id", item.OriginID, "name", item.Name, "size", item.Size, "limit", r.cfg.MaxFileSize)
		return outcomeSkipped, nil
	}

	if r.cfg.DryRun {
		if !r.reserveUpload() {
			return outcomeDeferred, nil
		}
		logger.InfoCtx(ctx, "dry run: would sync", "origin_id", item.OriginID, "name", item.Name, "path", item.Path)
		return outcomeUploaded, nil
	}

	spool, resolvedName, digest, err := r.download(ctx, source, item)
	if err != nil {
		return 0, err
	}
	defer spool.cleanup()

	existing, err := r.store.GetContentByDigest(ctx, digest)
	switch {
	case err == nil:
		if err := r.store.RefreshOrigin(ctx, mappingFor(item, digest)); err != nil {
			return 0, fmt.Errorf("failed to link origin %s to %s: %w", item.OriginID, digest, err)
		}
		logger.InfoCtx(ctx, "sync linked existing content",
			"digest", digest, "origin_id", item.OriginID, "name", item.Name, "status", existing.Status)
		return outcomeLinked, nil
	case !errors.Is(err, state.ErrNotFound):
		return 0, fmt.Errorf("failed to look up content %s: %w", digest, err)
	}

	if !r.reserveUpload() {
		logger.DebugCtx(ctx, "sync deferred: upload cap reached", "origin_id", item.OriginID, "name", item.Name)
		return outcomeDeferred, nil
	}
	if err := r.upload(ctx, store, item, spool, resolvedName, digest); err != nil {
		r.releaseUpload()
		return 0, err
	}
	return outcomeUploaded, nil
}

// sameSnapshot reports whether the stored origin snapshot still matches
// the live item, meaning nothing changed upstream since the last run.
func sameSnapshot(m *state.OriginMapping, item drive.Item) bool {
	if m.Name != item.Name || m.Path != item.Path {
		return false
	}
	return m.OriginModifiedAt != nil && m.OriginModifiedAt.Equal(item.ModifiedAt)
}

func mappingFor(item drive.Item, digest string) *state.OriginMapping {
	created, modified := item.CreatedAt, item.ModifiedAt
	return &state.OriginMapping{
		OriginID:         item.OriginID,
		Digest:           digest,
		Name:             item.Name,
		Path:             item.Path,
		MIME:             item.MIME,
		OriginCreatedAt:  &created,
		OriginModifiedAt: &modified,
		Size:             item.Size,
	}
}

// refreshMetadata handles a rename or move: same bytes, new origin
// snapshot. The CAS object metadata is replaced first, then the store
// rows; a crash in between is healed by the next run repeating the
// refresh.
func (r *syncRun) refreshMetadata(ctx context.Context, store cas.Store, digest string, item drive.Item) (syncOutcome, error) {
	if r.cfg.DryRun {
		logger.InfoCtx(ctx, "dry run: would refresh metadata",
			"origin_id", item.OriginID, "digest", digest, "name", item.Name)
		return outcomeMetadataOnly, nil
	}

	rec, err := r.store.GetContentByDigest(ctx, digest)
	if err != nil {
		return 0, fmt.Errorf("failed to load content %s: %w", digest, err)
	}

	err = store.ReplaceMetadata(ctx, rec.ObjectKey, map[string]string{
		cas.MetaOriginID:     item.OriginID,
		cas.MetaOriginalName: item.Name,
		cas.MetaOriginPath:   item.Path,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to refresh metadata on %s: %w", rec.ObjectKey, err)
	}

	if err := r.store.RefreshOrigin(ctx, mappingFor(item, digest)); err != nil {
		return 0, fmt.Errorf("failed to refresh origin %s: %w", item.OriginID, err)
	}

	logger.InfoCtx(ctx, "sync refreshed metadata",
		"origin_id", item.OriginID, "digest", digest, "name", item.Name, "path", item.Path)
	return outcomeMetadataOnly, nil
}

// spoolFile is a payload staged on local disk while its digest is
// computed, so large documents never live in memory.
type spoolFile struct {
	path string
	size int64
}

func (f *spoolFile) cleanup() {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove spooled payload", "path", f.path, "error", err)
	}
}

// download streams the payload into a temp file, hashing as it goes.
// The returned name carries the export extension for native documents.
// The caller owns the spool.
func (r *syncRun) download(ctx context.Context, source drive.Source, item drive.Item) (*spoolFile, string, string, error) {
	body, name, err := source.Fetch(ctx, item)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to fetch %s: %w", item.OriginID, err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(r.cfg.TempDir, "corpora-sync-*")
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to stage download: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, "", "", fmt.Errorf("failed to download %s: %w", item.OriginID, err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	logger.DebugCtx(ctx, "downloaded payload",
		"origin_id", item.OriginID, "name", name, "size", size, "digest", digest)
	return &spoolFile{path: tmp.Name(), size: size}, name, digest, nil
}

// upload stores the payload under its digest key, then records the
// synced row and origin mapping in one transaction. CAS first: an
// object without a record is re-recorded by the next run, a record
// without an object would break extraction.
func (r *syncRun) upload(ctx context.Context, store cas.Store, item drive.Item, spool *spoolFile, resolvedName, digest string) error {
	ext := cas.NormalizeExtension(resolvedName)
	key := cas.ObjectKey(digest, ext)

	body, err := os.Open(spool.path)
	if err != nil {
		return fmt.Errorf("failed to reopen spooled payload: %w", err)
	}
	defer body.Close()

	err = store.Put(ctx, key, body, cas.ContentTypeForExtension(ext), map[string]string{
		cas.MetaDigest:       digest,
		cas.MetaOriginID:     item.OriginID,
		cas.MetaOriginalName: item.Name,
		cas.MetaOriginPath:   item.Path,
	})
	if err != nil {
		r.recordSyncFailure(ctx, item, digest, key, ext, err)
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	created, modified := item.CreatedAt, item.ModifiedAt
	rec := &state.ContentRecord{
		Digest:           digest,
		ObjectKey:        key,
		Extension:        ext,
		Status:           state.StatusSynced,
		OriginID:         item.OriginID,
		OriginalName:     item.Name,
		OriginPath:       item.Path,
		OriginMIME:       item.MIME,
		OriginCreatedAt:  &created,
		OriginModifiedAt: &modified,
		OriginalSize:     spool.size,
	}
	if err := r.store.RecordSynced(ctx, rec, mappingFor(item, digest)); err != nil {
		return fmt.Errorf("failed to record synced %s: %w", digest, err)
	}

	r.metrics.AddBytesSynced(spool.size)
	logger.InfoCtx(ctx, "synced document",
		"digest", digest, "origin_id", item.OriginID, "name", resolvedName,
		"size", spool.size, "key", key)
	return nil
}

// recordSyncFailure leaves a failed_sync row so the document shows up
// in statistics and retries. Only reachable once the digest is known;
// earlier failures have nothing to key a record on.
func (r *syncRun) recordSyncFailure(ctx context.Context, item drive.Item, digest, key, ext string, cause error) {
	if ctx.Err() != nil {
		// Shutdown, not a document failure.
		return
	}

	kind := state.ErrorPermanent
	if cas.IsTransient(cause) {
		kind = state.ErrorTransientBackend
	}

	created, modified := item.CreatedAt, item.ModifiedAt
	rec := &state.ContentRecord{
		Digest:           digest,
		ObjectKey:        key,
		Extension:        ext,
		Status:           state.StatusFailedSync,
		OriginID:         item.OriginID,
		OriginalName:     item.Name,
		OriginPath:       item.Path,
		OriginMIME:       item.MIME,
		OriginCreatedAt:  &created,
		OriginModifiedAt: &modified,
		OriginalSize:     item.Size,
		ErrorMessage:     cause.Error(),
		ErrorType:        kind,
	}
	if err := r.store.UpsertContent(ctx, rec); err != nil {
		logger.WarnCtx(ctx, "failed to record sync failure", "digest", digest, "error", err)
	}
}
