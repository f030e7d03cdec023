package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/corpora-io/corpora/internal/logger"
)

// CleanupResult reports a stale-record sweep.
type CleanupResult struct {
	// Stale is the number of records found stuck in a working status.
	Stale int `json:"stale"`

	// Swept is the number actually moved to a failed status. Zero in a
	// dry run.
	Swept int `json:"swept"`
}

// Cleanup sweeps records stuck in processing or indexing for longer than
// maxAge into the matching failed status, which makes them eligible for
// retry again. maxAge <= 0 falls back to the configured stale window.
func (p *Pipeline) Cleanup(ctx context.Context, maxAge time.Duration) (*CleanupResult, error) {
	ctx, end := p.stageContext(ctx, "cleanup")
	defer end()

	if maxAge <= 0 {
		maxAge = p.cfg.Pipeline.StaleAfter
	}

	stale, err := p.store.ListStale(ctx, maxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale records: %w", err)
	}

	res := &CleanupResult{Stale: len(stale)}
	if len(stale) == 0 {
		logger.InfoCtx(ctx, "no stale records", "max_age", maxAge)
		return res, nil
	}

	for _, rec := range stale {
		logger.InfoCtx(ctx, "stale record",
			"digest", rec.Digest,
			"status", rec.Status,
			"updated_at", rec.UpdatedAt)
	}

	if p.opts.DryRun {
		logger.InfoCtx(ctx, "dry run: would sweep stale records", "count", len(stale))
		return res, nil
	}

	swept, err := p.store.MarkStaleFailed(ctx, maxAge)
	if err != nil {
		return res, fmt.Errorf("failed to sweep stale records: %w", err)
	}
	res.Swept = swept
	p.metrics.AddStaleSwept(int64(swept))

	logger.InfoCtx(ctx, "stale records swept", "count", swept, "max_age", maxAge)
	return res, nil
}
