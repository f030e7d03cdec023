package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging. Use these consistently so the
// pipeline's logs stay queryable across stages.
const (
	// Run identity
	KeyRunID = "run_id"
	KeyStage = "stage"

	// Document identity
	KeyDigest   = "digest"
	KeyOriginID = "origin_id"
	KeyName     = "name"
	KeyPath     = "path"
	KeyKey      = "key" // object-store key

	// Lifecycle
	KeyStatus   = "status"
	KeyStrategy = "strategy"
	KeyOutcome  = "outcome"

	// Sizes and counts
	KeySize     = "size"
	KeyCount    = "count"
	KeyElements = "elements"
	KeyPages    = "pages"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyAttempt    = "attempt"
	KeyWorker     = "worker"
)

// ErrAttr returns a standard error attribute.
func ErrAttr(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DocAttrs returns the standard identity attributes for a document.
func DocAttrs(digest, originID string) []any {
	return []any{KeyDigest, digest, KeyOriginID, originID}
}

// FormatDuration renders a millisecond duration for human-readable output.
func FormatDuration(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000.0)
}
