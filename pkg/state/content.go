package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/corpora-io/corpora/pkg/cas"
)

// ============================================
// CONTENT RECORD OPERATIONS
// ============================================

// UpsertContent inserts a new content record or folds rec into the
// existing row for the same digest.
//
// Update semantics preserve first-success bookkeeping:
//   - status and object_key always follow rec
//   - origin snapshot fields update only when rec carries a value
//   - text size and vector handles update only when rec carries a value
//   - a non-empty error message appends to the error block and bumps
//     retry_count
//   - the stage timestamp matching rec.Status is set only while NULL
func (s *Store) UpsertContent(ctx context.Context, rec *ContentRecord) error {
	upsert := func() error {
		now := time.Now().UTC()
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return upsertContentTx(tx, rec, now)
		})
	}

	err := upsert()
	if isUniqueConstraintError(err) {
		// Lost an insert race with a concurrent worker; fold into the
		// row that won.
		err = upsert()
	}
	return err
}

// RecordSynced persists a freshly uploaded object and its origin mapping
// in one transaction. The content row is written before the mapping so a
// mapping never points at a digest the store does not know.
func (s *Store) RecordSynced(ctx context.Context, rec *ContentRecord, m *OriginMapping) error {
	record := func() error {
		now := time.Now().UTC()
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := upsertContentTx(tx, rec, now); err != nil {
				return err
			}
			return upsertMappingTx(tx, m)
		})
	}

	err := record()
	if isUniqueConstraintError(err) {
		err = record()
	}
	return err
}

// RefreshOrigin folds a new origin snapshot into an existing content
// record and its mapping without touching the lifecycle status. This is
// the rename/move and dedupe-link path: the bytes are already in CAS and
// must not be re-extracted or re-indexed.
func (s *Store) RefreshOrigin(ctx context.Context, m *OriginMapping) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"origin_id": m.OriginID,
		}
		if m.Name != "" {
			updates["original_name"] = m.Name
		}
		if m.Path != "" {
			updates["origin_path"] = m.Path
		}
		if m.MIME != "" {
			updates["origin_mime"] = m.MIME
		}
		if m.OriginCreatedAt != nil {
			updates["origin_created_at"] = m.OriginCreatedAt
		}
		if m.OriginModifiedAt != nil {
			updates["origin_modified_at"] = m.OriginModifiedAt
		}
		if m.Size > 0 {
			updates["original_size"] = m.Size
		}

		result := tx.Model(&ContentRecord{}).Where("digest = ?", m.Digest).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		return upsertMappingTx(tx, m)
	})
}

// GetContentByDigest returns the record for a content digest.
func (s *Store) GetContentByDigest(ctx context.Context, digest string) (*ContentRecord, error) {
	return getByField[ContentRecord](s.db, ctx, "digest", digest)
}

// GetContentByOriginID returns the record most recently associated with
// a drive item.
func (s *Store) GetContentByOriginID(ctx context.Context, originID string) (*ContentRecord, error) {
	return getByField[ContentRecord](s.db, ctx, "origin_id", originID)
}

// ListByStatus returns records in the given status, most recently
// updated first. A limit of 0 returns all matches.
func (s *Store) ListByStatus(ctx context.Context, status Status, limit int) ([]*ContentRecord, error) {
	return s.ListByStatuses(ctx, []Status{status}, limit)
}

// ListByStatuses returns records whose status is in the given set, most
// recently updated first. A limit of 0 returns all matches.
func (s *Store) ListByStatuses(ctx context.Context, statuses []Status, limit int) ([]*ContentRecord, error) {
	var records []*ContentRecord
	q := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// CountByStatus returns the number of records in the given status.
func (s *Store) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ContentRecord{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

// ============================================
// GUARDED STATUS TRANSITIONS
// ============================================

// transition collects the column updates for one guarded status change.
type transition struct {
	to      Status
	updates map[string]any
}

// TransitionOption adjusts the column set written by TransitionStatus.
type TransitionOption func(*transition)

// ClearErrors blanks error_message and error_type. The retry count and
// stage timestamps survive.
func ClearErrors() TransitionOption {
	return func(t *transition) {
		t.updates["error_message"] = ""
		t.updates["error_type"] = ""
	}
}

// StampStage sets the destination stage's first-success timestamp unless
// an earlier run already set it.
func StampStage(at time.Time) TransitionOption {
	return func(t *transition) {
		if col := stageColumn(t.to); col != "" {
			t.updates[col] = gorm.Expr("COALESCE("+col+", ?)", at)
		}
	}
}

// WithTextSize records the extracted text size in bytes.
func WithTextSize(size int64) TransitionOption {
	return func(t *transition) {
		t.updates["text_size"] = size
	}
}

// WithVectorHandles records the vector service file and store identifiers.
func WithVectorHandles(fileID, storeID string) TransitionOption {
	return func(t *transition) {
		t.updates["vector_file_id"] = fileID
		t.updates["vector_store_id"] = storeID
	}
}

// RecordError appends a failure to the error block: message, kind, a
// bumped retry count and last_error_at.
func RecordError(message string, kind ErrorKind) TransitionOption {
	return func(t *transition) {
		t.updates["error_message"] = message
		t.updates["error_type"] = kind
		t.updates["retry_count"] = gorm.Expr("retry_count + 1")
		t.updates["last_error_at"] = time.Now().UTC()
	}
}

// TransitionStatus moves a record from any of the expected source states
// to the destination state with a single guarded UPDATE. ErrConflict
// means no row matched: another worker claimed the record first, or it
// already moved on. Per-digest transitions serialize through this guard.
func (s *Store) TransitionStatus(ctx context.Context, digest string, from []Status, to Status, opts ...TransitionOption) error {
	t := &transition{
		to:      to,
		updates: map[string]any{"status": to},
	}
	for _, opt := range opts {
		opt(t)
	}

	result := s.db.WithContext(ctx).Model(&ContentRecord{}).
		Where("digest = ? AND status IN ?", digest, from).
		Updates(t.updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ============================================
// STALE RECORD SWEEP
// ============================================

// ListStale returns records stuck in a working status (processing or
// indexing) for longer than maxAge, oldest first.
func (s *Store) ListStale(ctx context.Context, maxAge time.Duration) ([]*ContentRecord, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	var records []*ContentRecord
	err := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []Status{StatusProcessing, StatusIndexing}, cutoff).
		Order("updated_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// MarkStaleFailed sweeps records stuck in processing or indexing into
// the matching failed state and returns the number of records swept.
//
// A record goes stale when a worker dies between claiming it and
// committing the result; the sweep makes it eligible for retry again.
// The update is guarded on the current status so records that moved on
// between listing and sweeping are left alone.
func (s *Store) MarkStaleFailed(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := s.ListStale(ctx, maxAge)
	if err != nil {
		return 0, err
	}

	hours := int(maxAge.Hours())
	now := time.Now().UTC()
	swept := 0

	for _, rec := range stale {
		message := fmt.Sprintf("File stuck in %s for more than %d hours", rec.Status, hours)
		result := s.db.WithContext(ctx).Model(&ContentRecord{}).
			Where("digest = ? AND status = ?", rec.Digest, rec.Status).
			Updates(map[string]any{
				"status":        FailedStatusFor(rec.Status),
				"error_message": message,
				"error_type":    ErrorStaleProcessing,
				"last_error_at": now,
			})
		if result.Error != nil {
			return swept, result.Error
		}
		swept += int(result.RowsAffected)
	}

	return swept, nil
}

// ============================================
// READ-PATH RESOLUTION
// ============================================

// ResolvedContent is the read-path projection for one digest: enough to
// name the document and issue download URLs for the source bytes and the
// extracted text.
type ResolvedContent struct {
	OriginalName string `json:"original_name"`
	ObjectKey    string `json:"object_key"`
	TextKey      string `json:"text_key"`
}

// ResolveContent maps a digest to its display name, source object key
// and extracted-text key.
func (s *Store) ResolveContent(ctx context.Context, digest string) (*ResolvedContent, error) {
	rec, err := s.GetContentByDigest(ctx, digest)
	if err != nil {
		return nil, err
	}
	return &ResolvedContent{
		OriginalName: rec.OriginalName,
		ObjectKey:    rec.ObjectKey,
		TextKey:      cas.DerivativeKey(rec.Digest, cas.DerivativeText),
	}, nil
}

// ============================================
// INTERNAL HELPERS
// ============================================

// upsertContentTx performs the insert-or-update inside an open transaction.
func upsertContentTx(tx *gorm.DB, rec *ContentRecord, now time.Time) error {
	var existing ContentRecord
	err := tx.Where("digest = ?", rec.Digest).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return insertContent(tx, rec, now)
	case err != nil:
		return err
	}
	return updateContent(tx, rec, now)
}

func insertContent(tx *gorm.DB, rec *ContentRecord, now time.Time) error {
	stampForStatus(rec, now)
	if rec.ErrorMessage != "" && rec.LastErrorAt == nil {
		rec.LastErrorAt = &now
	}
	return tx.Create(rec).Error
}

func updateContent(tx *gorm.DB, rec *ContentRecord, now time.Time) error {
	updates := map[string]any{
		"status":     rec.Status,
		"object_key": rec.ObjectKey,
	}
	if rec.Extension != "" {
		updates["extension"] = rec.Extension
	}
	if rec.OriginID != "" {
		updates["origin_id"] = rec.OriginID
	}
	if rec.OriginalName != "" {
		updates["original_name"] = rec.OriginalName
	}
	if rec.OriginPath != "" {
		updates["origin_path"] = rec.OriginPath
	}
	if rec.OriginMIME != "" {
		updates["origin_mime"] = rec.OriginMIME
	}
	if rec.OriginCreatedAt != nil {
		updates["origin_created_at"] = rec.OriginCreatedAt
	}
	if rec.OriginModifiedAt != nil {
		updates["origin_modified_at"] = rec.OriginModifiedAt
	}
	if rec.OriginalSize > 0 {
		updates["original_size"] = rec.OriginalSize
	}
	if rec.TextSize > 0 {
		updates["text_size"] = rec.TextSize
	}
	if rec.VectorFileID != "" {
		updates["vector_file_id"] = rec.VectorFileID
	}
	if rec.VectorStoreID != "" {
		updates["vector_store_id"] = rec.VectorStoreID
	}
	if rec.ErrorMessage != "" {
		updates["error_message"] = rec.ErrorMessage
		updates["error_type"] = rec.ErrorType
		updates["last_error_at"] = now
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	}
	if col := stageColumn(rec.Status); col != "" {
		updates[col] = gorm.Expr("COALESCE("+col+", ?)", stampValue(rec, now))
	}

	return tx.Model(&ContentRecord{}).Where("digest = ?", rec.Digest).Updates(updates).Error
}

// stageColumn maps a stage-success status to its timestamp column.
func stageColumn(s Status) string {
	switch s {
	case StatusSynced:
		return "synced_at"
	case StatusProcessed:
		return "processed_at"
	case StatusIndexed:
		return "indexed_at"
	}
	return ""
}

// stampForStatus fills the first-success timestamp matching the record's
// status when the record does not already carry one.
func stampForStatus(rec *ContentRecord, now time.Time) {
	switch rec.Status {
	case StatusSynced:
		if rec.SyncedAt == nil {
			rec.SyncedAt = &now
		}
	case StatusProcessed:
		if rec.ProcessedAt == nil {
			rec.ProcessedAt = &now
		}
	case StatusIndexed:
		if rec.IndexedAt == nil {
			rec.IndexedAt = &now
		}
	}
}

// stampValue returns the explicit stage timestamp carried by rec for its
// status, falling back to now. Explicit stamps matter for migration,
// where the original processing time is recovered from artifacts.
func stampValue(rec *ContentRecord, now time.Time) time.Time {
	switch rec.Status {
	case StatusSynced:
		if rec.SyncedAt != nil {
			return *rec.SyncedAt
		}
	case StatusProcessed:
		if rec.ProcessedAt != nil {
			return *rec.ProcessedAt
		}
	case StatusIndexed:
		if rec.IndexedAt != nil {
			return *rec.IndexedAt
		}
	}
	return now
}
