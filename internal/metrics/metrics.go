// Package metrics tracks Prometheus metrics for the ingest pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics tracks Prometheus metrics for pipeline stage outcomes.
//
// All metrics use the "corpora_" prefix. Methods handle nil receiver
// gracefully, so a nil *PipelineMetrics acts as a no-op (zero overhead
// when metrics are disabled).
type PipelineMetrics struct {
	// SyncResults counts sync outcomes per item.
	// Labels: result=[uploaded, skipped, metadata_only, dedupe_linked, failed]
	SyncResults *prometheus.CounterVec

	// ProcessResults counts extraction outcomes per document.
	// Labels: result=[processed, empty, failed]
	ProcessResults *prometheus.CounterVec

	// ProcessStrategies counts the partitioning strategy that produced
	// each successful derivative bundle.
	// Labels: strategy=[fast, ocr, fast_fallback, native]
	ProcessStrategies *prometheus.CounterVec

	// IndexResults counts indexing outcomes per document.
	// Labels: result=[indexed, failed]
	IndexResults *prometheus.CounterVec

	// DocumentDuration tracks per-document processing time by stage.
	// Labels: stage=[sync, process, index]
	DocumentDuration *prometheus.HistogramVec

	// StageDuration tracks whole-stage batch duration.
	// Labels: stage=[sync, process, index, migrate, cleanup]
	StageDuration *prometheus.HistogramVec

	// InFlight tracks documents currently being worked on per stage.
	InFlight *prometheus.GaugeVec

	// BytesSynced counts payload bytes uploaded to the object store.
	BytesSynced prometheus.Counter

	// StaleSwept counts records transitioned to failed by the stale sweep.
	StaleSwept prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *PipelineMetrics
)

// New creates and registers the pipeline Prometheus metrics.
//
// If registerer is nil, prometheus.DefaultRegisterer is used. Idempotent:
// metrics are registered exactly once even if called multiple times.
func New(registerer prometheus.Registerer) *PipelineMetrics {
	metricsOnce.Do(func() {
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}

		m := &PipelineMetrics{
			SyncResults: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "corpora_sync_results_total",
					Help: "Sync stage outcomes per drive item",
				},
				[]string{"result"},
			),
			ProcessResults: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "corpora_process_results_total",
					Help: "Extraction stage outcomes per document",
				},
				[]string{"result"},
			),
			ProcessStrategies: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "corpora_process_strategies_total",
					Help: "Partitioning strategy used for successful extractions",
				},
				[]string{"strategy"},
			),
			IndexResults: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "corpora_index_results_total",
					Help: "Indexing stage outcomes per document",
				},
				[]string{"result"},
			),
			DocumentDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "corpora_document_duration_seconds",
					Help:    "Per-document processing duration by stage",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
				},
				[]string{"stage"},
			),
			StageDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "corpora_stage_duration_seconds",
					Help:    "Whole-stage batch duration",
					Buckets: prometheus.ExponentialBuckets(1, 2, 14),
				},
				[]string{"stage"},
			),
			InFlight: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "corpora_in_flight_documents",
					Help: "Documents currently being worked on per stage",
				},
				[]string{"stage"},
			),
			BytesSynced: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "corpora_bytes_synced_total",
					Help: "Payload bytes uploaded to the object store",
				},
			),
			StaleSwept: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "corpora_stale_swept_total",
					Help: "Records transitioned to failed by the stale sweep",
				},
			),
		}

		registerer.MustRegister(
			m.SyncResults,
			m.ProcessResults,
			m.ProcessStrategies,
			m.IndexResults,
			m.DocumentDuration,
			m.StageDuration,
			m.InFlight,
			m.BytesSynced,
			m.StaleSwept,
		)

		metricsInstance = m
	})

	return metricsInstance
}

// RecordSyncResult records one sync outcome.
func (m *PipelineMetrics) RecordSyncResult(result string) {
	if m == nil {
		return
	}
	m.SyncResults.WithLabelValues(result).Inc()
}

// RecordProcessResult records one extraction outcome with its duration.
// strategy is empty for failures.
func (m *PipelineMetrics) RecordProcessResult(result, strategy string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProcessResults.WithLabelValues(result).Inc()
	if strategy != "" {
		m.ProcessStrategies.WithLabelValues(strategy).Inc()
	}
	m.DocumentDuration.WithLabelValues("process").Observe(duration.Seconds())
}

// RecordIndexResult records one indexing outcome with its duration.
func (m *PipelineMetrics) RecordIndexResult(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.IndexResults.WithLabelValues(result).Inc()
	m.DocumentDuration.WithLabelValues("index").Observe(duration.Seconds())
}

// RecordSyncDuration records the duration of one sync item.
func (m *PipelineMetrics) RecordSyncDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.DocumentDuration.WithLabelValues("sync").Observe(duration.Seconds())
}

// RecordStageDuration records the duration of a whole stage run.
func (m *PipelineMetrics) RecordStageDuration(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// AddBytesSynced records uploaded payload bytes.
func (m *PipelineMetrics) AddBytesSynced(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesSynced.Add(float64(n))
}

// IncInFlight marks a document as in flight for the stage.
func (m *PipelineMetrics) IncInFlight(stage string) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(stage).Inc()
}

// DecInFlight marks a document as done for the stage.
func (m *PipelineMetrics) DecInFlight(stage string) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(stage).Dec()
}

// AddStaleSwept records records transitioned by the stale sweep.
func (m *PipelineMetrics) AddStaleSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.StaleSwept.Add(float64(n))
}
