package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/corpora-io/corpora/internal/logger"
	"github.com/corpora-io/corpora/pkg/cas"
	"github.com/corpora-io/corpora/pkg/state"
)

// Status ranks for migration writes. A write only ever applies when it
// strictly increases a record's rank, so re-running the migration on a
// live store never downgrades anything.
const (
	rankSynced = iota + 1
	rankProcessed
	rankIndexed
)

func statusRank(s state.Status) int {
	switch s {
	case state.StatusProcessed, state.StatusIndexing, state.StatusFailedIndex:
		return rankProcessed
	case state.StatusIndexed:
		return rankIndexed
	}
	return rankSynced
}

// MigrateResult counts the records each migration phase wrote, or, in a
// dry run, would write.
type MigrateResult struct {
	// Synced counts source objects recorded for the first time.
	Synced int `json:"synced"`

	// Processed counts records upgraded by a complete derivative bundle.
	Processed int `json:"processed"`

	// Indexed counts records upgraded by a legacy index marker.
	Indexed int `json:"indexed"`

	// Failed counts records marked failed_process by a legacy failure
	// marker.
	Failed int `json:"failed"`

	// Skipped counts unreadable entries and markers without a matching
	// record.
	Skipped int `json:"skipped,omitempty"`
}

// Migrator rebuilds the state database from what lives in the object
// store: every source object becomes a record, complete derivative
// bundles prove the processed stage, and the marker layouts older
// pipelines wrote under indexed/ and failed/ settle the rest.
type Migrator struct {
	store *state.Store
	cas   cas.Store
	dry   bool

	// planned holds the status a dry run would have written per digest,
	// so later phases count against the simulated state instead of
	// reporting would-be records as missing.
	planned map[string]state.Status
}

// NewMigrator builds a migrator over the given object store. With
// dryRun set it only reports what it would write.
func NewMigrator(store *state.Store, objects cas.Store, dryRun bool) *Migrator {
	return &Migrator{
		store:   store,
		cas:     objects,
		dry:     dryRun,
		planned: make(map[string]state.Status),
	}
}

// lookup resolves a digest's record, folding in writes a dry run has
// only planned.
func (m *Migrator) lookup(ctx context.Context, digest string) (*state.ContentRecord, error) {
	rec, err := m.store.GetContentByDigest(ctx, digest)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, state.ErrNotFound) {
		return nil, err
	}
	if status, ok := m.planned[digest]; ok {
		return &state.ContentRecord{Digest: digest, Status: status}, nil
	}
	return nil, state.ErrNotFound
}

// Migrate scans the object store and rebuilds pipeline state. The
// pipeline itself gets the same result from re-syncing and re-processing
// everything; migration just skips the downloads.
func (p *Pipeline) Migrate(ctx context.Context) (*MigrateResult, error) {
	ctx, end := p.stageContext(ctx, "migrate")
	defer end()

	store, err := p.stores(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage client: %w", err)
	}
	return NewMigrator(p.store, store, p.opts.DryRun).Run(ctx)
}

// Run executes the four scan phases in pipeline order.
func (m *Migrator) Run(ctx context.Context) (*MigrateResult, error) {
	start := time.Now()
	res := &MigrateResult{}

	logger.InfoCtx(ctx, "migration starting", "dry_run", m.dry)

	if err := m.scanObjects(ctx, res); err != nil {
		return res, err
	}
	if err := m.scanDerivatives(ctx, res); err != nil {
		return res, err
	}
	if err := m.scanIndexed(ctx, res); err != nil {
		return res, err
	}
	if err := m.scanFailed(ctx, res); err != nil {
		return res, err
	}

	logger.InfoCtx(ctx, "migration finished",
		"synced", res.Synced,
		"processed", res.Processed,
		"indexed", res.Indexed,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"dry_run", m.dry,
		"duration_ms", logger.Duration(start))
	return res, nil
}

// scanObjects records every source payload as synced. Digests the
// database already tracks are left alone; later phases handle upgrades.
func (m *Migrator) scanObjects(ctx context.Context, res *MigrateResult) error {
	logger.InfoCtx(ctx, "scanning source objects")

	return m.cas.List(ctx, "objects/", func(obj cas.ObjectSummary) error {
		if strings.HasSuffix(obj.Key, "/") {
			return nil
		}
		digest, ext, ok := cas.ParseObjectKey(obj.Key)
		if !ok {
			logger.WarnCtx(ctx, "skipping unrecognized object key", "key", obj.Key)
			res.Skipped++
			return nil
		}

		_, err := m.lookup(ctx, digest)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, state.ErrNotFound):
			return fmt.Errorf("failed to look up %s: %w", digest, err)
		}

		originID, name, path := m.objectOrigin(ctx, obj.Key)

		res.Synced++
		if m.dry {
			logger.InfoCtx(ctx, "dry run: would record synced", "digest", digest, "key", obj.Key)
			m.planned[digest] = state.StatusSynced
			return nil
		}

		rec := &state.ContentRecord{
			Digest:       digest,
			ObjectKey:    obj.Key,
			Extension:    ext,
			Status:       state.StatusSynced,
			OriginID:     originID,
			OriginalName: name,
			OriginPath:   path,
			OriginalSize: obj.Size,
		}
		// The upload time is the closest thing to a sync time we still
		// have.
		if !obj.LastModified.IsZero() {
			syncedAt := obj.LastModified.UTC()
			rec.SyncedAt = &syncedAt
		}

		if originID != "" {
			mapping := &state.OriginMapping{
				OriginID: originID,
				Digest:   digest,
				Name:     name,
				Path:     path,
			}
			if err := m.store.RecordSynced(ctx, rec, mapping); err != nil {
				return fmt.Errorf("failed to record %s: %w", digest, err)
			}
		} else if err := m.store.UpsertContent(ctx, rec); err != nil {
			return fmt.Errorf("failed to record %s: %w", digest, err)
		}

		logger.DebugCtx(ctx, "migrated object", "digest", digest, "key", obj.Key)
		return nil
	})
}

// objectOrigin reads the origin fields off the object's user metadata.
// Older pipelines wrote drive-file-id and drive-path; current uploads
// write origin-id and origin-path. Missing metadata is tolerated: the
// record is still tracked, it just cannot take the origin fast-path on
// the next sync.
func (m *Migrator) objectOrigin(ctx context.Context, key string) (originID, name, path string) {
	info, err := m.cas.Head(ctx, key)
	if err != nil {
		logger.WarnCtx(ctx, "failed to read object metadata", "key", key, "error", err)
		return "", "", ""
	}

	md := info.Metadata
	originID = firstNonEmpty(md[cas.MetaOriginID], md["drive-file-id"])
	name = md[cas.MetaOriginalName]
	path = firstNonEmpty(md[cas.MetaOriginPath], md["drive-path"])
	return originID, name, path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// legacyMeta is the subset of meta.json the migration reads. The
// timestamp stays raw because older descriptors carry several formats.
type legacyMeta struct {
	Extension   string `json:"extension"`
	TextLength  int    `json:"text_length"`
	ProcessedAt string `json:"processed_at"`
}

// scanDerivatives upgrades records whose derivative bundle is complete.
// meta.json is written last, so its presence proves the whole bundle.
func (m *Migrator) scanDerivatives(ctx context.Context, res *MigrateResult) error {
	logger.InfoCtx(ctx, "scanning derivative bundles")

	return m.cas.List(ctx, "derivatives/", func(obj cas.ObjectSummary) error {
		digest, name, ok := cas.ParseDerivativeKey(obj.Key)
		if !ok || name != cas.DerivativeMeta {
			return nil
		}

		rec, err := m.lookup(ctx, digest)
		switch {
		case errors.Is(err, state.ErrNotFound):
			logger.WarnCtx(ctx, "derivative bundle for untracked digest", "digest", digest)
			res.Skipped++
			return nil
		case err != nil:
			return fmt.Errorf("failed to look up %s: %w", digest, err)
		}
		if statusRank(rec.Status) >= rankProcessed {
			return nil
		}

		var meta legacyMeta
		if err := m.loadJSON(ctx, obj.Key, &meta); err != nil {
			logger.WarnCtx(ctx, "unreadable bundle descriptor", "key", obj.Key, "error", err)
			res.Skipped++
			return nil
		}

		res.Processed++
		if m.dry {
			logger.InfoCtx(ctx, "dry run: would record processed", "digest", digest)
			m.planned[digest] = state.StatusProcessed
			return nil
		}

		update := &state.ContentRecord{
			Digest:    digest,
			ObjectKey: rec.ObjectKey,
			Status:    state.StatusProcessed,
			Extension: meta.Extension,
			TextSize:  int64(meta.TextLength),
		}
		if at, ok := parseLegacyTime(meta.ProcessedAt); ok {
			update.ProcessedAt = &at
		}
		if err := m.store.UpsertContent(ctx, update); err != nil {
			return fmt.Errorf("failed to upgrade %s to processed: %w", digest, err)
		}

		logger.DebugCtx(ctx, "migrated derivative bundle", "digest", digest)
		return nil
	})
}

// legacyIndexMarker is the marker body older pipelines wrote after
// attaching a document to the vector store.
type legacyIndexMarker struct {
	FileID    string `json:"openai_file_id"`
	StoreID   string `json:"vector_store_id"`
	IndexedAt string `json:"indexed_at"`
}

// scanIndexed upgrades records proven indexed by a legacy marker.
func (m *Migrator) scanIndexed(ctx context.Context, res *MigrateResult) error {
	logger.InfoCtx(ctx, "scanning index markers")

	return m.cas.List(ctx, "indexed/", func(obj cas.ObjectSummary) error {
		digest, ok := cas.ParseLegacyMarkerKey(obj.Key)
		if !ok {
			return nil
		}

		rec, err := m.lookup(ctx, digest)
		switch {
		case errors.Is(err, state.ErrNotFound):
			logger.WarnCtx(ctx, "index marker for untracked digest", "digest", digest)
			res.Skipped++
			return nil
		case err != nil:
			return fmt.Errorf("failed to look up %s: %w", digest, err)
		}
		if statusRank(rec.Status) >= rankIndexed {
			return nil
		}

		var marker legacyIndexMarker
		if err := m.loadJSON(ctx, obj.Key, &marker); err != nil {
			logger.WarnCtx(ctx, "unreadable index marker", "key", obj.Key, "error", err)
			res.Skipped++
			return nil
		}

		res.Indexed++
		if m.dry {
			logger.InfoCtx(ctx, "dry run: would record indexed", "digest", digest)
			m.planned[digest] = state.StatusIndexed
			return nil
		}

		update := &state.ContentRecord{
			Digest:        digest,
			ObjectKey:     rec.ObjectKey,
			Status:        state.StatusIndexed,
			VectorFileID:  marker.FileID,
			VectorStoreID: marker.StoreID,
		}
		if at, ok := parseLegacyTime(marker.IndexedAt); ok {
			update.IndexedAt = &at
		}
		if err := m.store.UpsertContent(ctx, update); err != nil {
			return fmt.Errorf("failed to upgrade %s to indexed: %w", digest, err)
		}

		logger.DebugCtx(ctx, "migrated index marker", "digest", digest)
		return nil
	})
}

// legacyFailureMarker is the marker body older pipelines wrote after a
// processing failure.
type legacyFailureMarker struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// scanFailed applies legacy failure markers. Only records still at the
// synced rank take them: a complete bundle or an index marker outranks a
// failure note from an older run.
func (m *Migrator) scanFailed(ctx context.Context, res *MigrateResult) error {
	logger.InfoCtx(ctx, "scanning failure markers")

	return m.cas.List(ctx, "failed/", func(obj cas.ObjectSummary) error {
		digest, ok := cas.ParseLegacyMarkerKey(obj.Key)
		if !ok {
			return nil
		}

		rec, err := m.lookup(ctx, digest)
		switch {
		case errors.Is(err, state.ErrNotFound):
			logger.WarnCtx(ctx, "failure marker for untracked digest", "digest", digest)
			res.Skipped++
			return nil
		case err != nil:
			return fmt.Errorf("failed to look up %s: %w", digest, err)
		}
		if statusRank(rec.Status) > rankSynced || rec.Status == state.StatusFailedProcess {
			return nil
		}

		var marker legacyFailureMarker
		if err := m.loadJSON(ctx, obj.Key, &marker); err != nil {
			logger.WarnCtx(ctx, "unreadable failure marker", "key", obj.Key, "error", err)
			res.Skipped++
			return nil
		}

		res.Failed++
		if m.dry {
			logger.InfoCtx(ctx, "dry run: would record failed", "digest", digest, "error_type", marker.ErrorType)
			m.planned[digest] = state.StatusFailedProcess
			return nil
		}

		update := &state.ContentRecord{
			Digest:       digest,
			ObjectKey:    rec.ObjectKey,
			Status:       state.StatusFailedProcess,
			ErrorMessage: marker.Error,
			ErrorType:    legacyErrorKind(marker.ErrorType),
		}
		if err := m.store.UpsertContent(ctx, update); err != nil {
			return fmt.Errorf("failed to mark %s failed: %w", digest, err)
		}

		logger.DebugCtx(ctx, "migrated failure marker", "digest", digest, "error_type", marker.ErrorType)
		return nil
	})
}

func (m *Migrator) loadJSON(ctx context.Context, key string, v any) error {
	body, err := m.cas.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()
	return json.NewDecoder(body).Decode(v)
}

// legacyTimeLayouts cover the timestamp renderings found in older
// artifacts: RFC 3339, isoformat with and without fractional seconds,
// and the space-separated form. Zoneless values are taken as UTC.
var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseLegacyTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range legacyTimeLayouts {
		if at, err := time.Parse(layout, s); err == nil {
			return at.UTC(), true
		}
	}
	return time.Time{}, false
}

// legacyErrorKind maps the exception names older pipelines recorded to
// error kinds. Unknown names are permanent.
func legacyErrorKind(name string) state.ErrorKind {
	switch {
	case strings.Contains(name, "Timeout"):
		return state.ErrorOCRTimeout
	case strings.Contains(name, "Empty"):
		return state.ErrorEmptyContent
	case strings.Contains(name, "Connection"), strings.Contains(name, "Unavailable"):
		return state.ErrorTransientBackend
	}
	return state.ErrorPermanent
}
