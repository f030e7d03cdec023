package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for pipeline operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Pipeline-level keys use "pipeline." prefix, document-level keys "doc.".
const (
	// ========================================================================
	// Pipeline attributes
	// ========================================================================
	AttrRunID = "pipeline.run_id"
	AttrStage = "pipeline.stage" // sync, process, index, migrate, cleanup

	// ========================================================================
	// Document attributes
	// ========================================================================
	AttrDigest     = "doc.digest"
	AttrOriginID   = "doc.origin_id"
	AttrDocName    = "doc.name"
	AttrExtension  = "doc.extension"
	AttrMimeType   = "doc.mime_type"
	AttrDocSize    = "doc.size"
	AttrDocStatus  = "doc.status"
	AttrStrategy   = "doc.strategy" // fast, ocr, fast_fallback, native
	AttrPages      = "doc.pages"
	AttrElements   = "doc.elements"
	AttrTextLength = "doc.text_length"
	AttrAttempt    = "doc.attempt"

	// ========================================================================
	// Drive attributes
	// ========================================================================
	AttrDriveFolderID = "drive.folder_id"
	AttrDriveItemPath = "drive.item_path"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"

	// ========================================================================
	// Vector service attributes
	// ========================================================================
	AttrVectorFileID  = "vector.file_id"
	AttrVectorStoreID = "vector.store_id"
)

// Span names for operations.
// Format: <stage>.<operation> for stage-specific spans
// Format: <component>.<operation> for internal operations
const (
	// ========================================================================
	// Stage spans
	// ========================================================================
	SpanSyncRun    = "sync.run"
	SpanSyncItem   = "sync.item"
	SpanProcessRun = "process.run"
	SpanProcessDoc = "process.document"
	SpanIndexRun   = "index.run"
	SpanIndexDoc   = "index.document"
	SpanMigrateRun = "migrate.run"
	SpanCleanupRun = "cleanup.run"

	// ========================================================================
	// Internal operations
	// ========================================================================
	SpanSyncDownload     = "sync.download"
	SpanSyncUpload       = "sync.upload"
	SpanProcessPartition = "process.partition"
	SpanProcessArtifacts = "process.artifacts"
	SpanIndexUpload      = "index.upload"
	SpanIndexAttach      = "index.attach"
	SpanStoragePut       = "storage.put"
	SpanStorageGet       = "storage.get"
	SpanStorageHead      = "storage.head"
	SpanStateTransition  = "state.transition"
	SpanStateCheckpoint  = "state.checkpoint"
)

// RunID returns an attribute for the pipeline run identifier
func RunID(id string) attribute.KeyValue {
	return attribute.String(AttrRunID, id)
}

// Stage returns an attribute for the pipeline stage name
func Stage(stage string) attribute.KeyValue {
	return attribute.String(AttrStage, stage)
}

// Digest returns an attribute for the document content digest
func Digest(digest string) attribute.KeyValue {
	return attribute.String(AttrDigest, digest)
}

// OriginID returns an attribute for the drive item identifier
func OriginID(id string) attribute.KeyValue {
	return attribute.String(AttrOriginID, id)
}

// DocName returns an attribute for the original document name
func DocName(name string) attribute.KeyValue {
	return attribute.String(AttrDocName, name)
}

// Extension returns an attribute for the document file extension
func Extension(ext string) attribute.KeyValue {
	return attribute.String(AttrExtension, ext)
}

// MimeType returns an attribute for the origin MIME type
func MimeType(mime string) attribute.KeyValue {
	return attribute.String(AttrMimeType, mime)
}

// DocSize returns an attribute for the document payload size
func DocSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrDocSize, size)
}

// DocStatus returns an attribute for the pipeline status
func DocStatus(status string) attribute.KeyValue {
	return attribute.String(AttrDocStatus, status)
}

// Strategy returns an attribute for the partitioning strategy
func Strategy(strategy string) attribute.KeyValue {
	return attribute.String(AttrStrategy, strategy)
}

// Pages returns an attribute for the estimated page count
func Pages(pages int) attribute.KeyValue {
	return attribute.Int(AttrPages, pages)
}

// Elements returns an attribute for the extracted element count
func Elements(count int) attribute.KeyValue {
	return attribute.Int(AttrElements, count)
}

// TextLength returns an attribute for the extracted text length
func TextLength(length int) attribute.KeyValue {
	return attribute.Int(AttrTextLength, length)
}

// Attempt returns an attribute for the retry attempt number
func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

// DriveFolderID returns an attribute for the drive folder identifier
func DriveFolderID(id string) attribute.KeyValue {
	return attribute.String(AttrDriveFolderID, id)
}

// DriveItemPath returns an attribute for the item path within the drive
func DriveItemPath(path string) attribute.KeyValue {
	return attribute.String(AttrDriveItemPath, path)
}

// Bucket returns an attribute for S3 bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for S3 object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for cloud region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// VectorFileID returns an attribute for the vector service file identifier
func VectorFileID(id string) attribute.KeyValue {
	return attribute.String(AttrVectorFileID, id)
}

// VectorStoreID returns an attribute for the vector store identifier
func VectorStoreID(id string) attribute.KeyValue {
	return attribute.String(AttrVectorStoreID, id)
}

// StartStageSpan starts a span for a whole pipeline stage run.
// This is a convenience function that sets common attributes.
func StartStageSpan(ctx context.Context, stage, runID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Stage(stage),
		RunID(runID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, stage+".run", trace.WithAttributes(allAttrs...))
}

// StartDocumentSpan starts a span for a single document within a stage.
func StartDocumentSpan(ctx context.Context, stage, digest string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Stage(stage),
	}
	if digest != "" {
		allAttrs = append(allAttrs, Digest(digest))
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, stage+".document", trace.WithAttributes(allAttrs...))
}

// StartStorageSpan starts a span for an object store operation.
func StartStorageSpan(ctx context.Context, operation, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		StorageKey(key),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "storage."+operation, trace.WithAttributes(allAttrs...))
}
