package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds run-scoped logging context shared by the pipeline stages.
type LogContext struct {
	RunID    string    // unique identifier of the pipeline run
	Stage    string    // sync, process, index, migrate, cleanup
	Digest   string    // content digest of the document being worked on
	OriginID string    // drive identifier of the originating item
	Start    time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a pipeline run.
func NewLogContext(runID, stage string) *LogContext {
	return &LogContext{
		RunID: runID,
		Stage: stage,
		Start: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithDocument returns a copy scoped to one document.
func (lc *LogContext) WithDocument(digest, originID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Digest = digest
		clone.OriginID = originID
	}
	return clone
}

// DurationMs returns the duration since Start in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.Start.IsZero() {
		return 0
	}
	return float64(time.Since(lc.Start).Microseconds()) / 1000.0
}
