// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes Prometheus instruments for the workflow engine and
// the retrieval pipeline.
type Collector struct {
	// workflow
	nodeExecutionsTotal   *prometheus.CounterVec
	nodeExecutionDuration *prometheus.HistogramVec
	workflowRunsTotal     *prometheus.CounterVec
	workflowRunDuration   prometheus.Histogram
	retriesTotal          prometheus.Counter
	validationRejections  prometheus.Counter

	// checkpointing
	checkpointSavesTotal        *prometheus.CounterVec
	checkpointSaveFailuresTotal prometheus.Counter

	// retrieval
	retrievalDuration    prometheus.Histogram
	embeddingCacheHits   prometheus.Counter
	embeddingCacheMisses prometheus.Counter

	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers all instruments on reg. A nil reg registers on
// the default registry; tests pass their own to stay isolated.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.nodeExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of workflow node executions",
		},
		[]string{"node", "status"},
	)

	c.nodeExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_execution_duration_seconds",
			Help:      "Workflow node execution duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"node"},
	)

	c.workflowRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow runs",
		},
		[]string{"status"},
	)

	c.workflowRunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "End-to-end workflow run duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	c.retriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_retries_total",
			Help:      "Total number of validation-triggered retries",
		},
	)

	c.validationRejections = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Total number of rejected response drafts",
		},
	)

	c.checkpointSavesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Total number of checkpoint save attempts",
		},
		[]string{"status"},
	)

	c.checkpointSaveFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_save_failures_total",
			Help:      "Total number of failed checkpoint saves",
		},
	)

	c.retrievalDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Hybrid retrieval duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	c.embeddingCacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Total number of embedding cache hits",
		},
	)

	c.embeddingCacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Total number of embedding cache misses",
		},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

// RecordNodeExecution records one node run with its outcome.
func (c *Collector) RecordNodeExecution(node, status string, duration time.Duration) {
	c.nodeExecutionsTotal.WithLabelValues(node, status).Inc()
	c.nodeExecutionDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordWorkflowRun records one end-to-end run.
func (c *Collector) RecordWorkflowRun(status string, duration time.Duration) {
	c.workflowRunsTotal.WithLabelValues(status).Inc()
	c.workflowRunDuration.Observe(duration.Seconds())
}

// RecordRetry counts a validation-triggered retry.
func (c *Collector) RecordRetry() {
	c.retriesTotal.Inc()
}

// RecordValidationRejection counts a rejected draft.
func (c *Collector) RecordValidationRejection() {
	c.validationRejections.Inc()
}

// RecordCheckpointSave records a checkpoint save attempt.
func (c *Collector) RecordCheckpointSave(err error) {
	if err != nil {
		c.checkpointSavesTotal.WithLabelValues("error").Inc()
		c.checkpointSaveFailuresTotal.Inc()
		return
	}
	c.checkpointSavesTotal.WithLabelValues("success").Inc()
}

// RecordRetrieval records one hybrid retrieval call.
func (c *Collector) RecordRetrieval(duration time.Duration) {
	c.retrievalDuration.Observe(duration.Seconds())
}

// RecordEmbeddingCache adds per-call embedding cache hit/miss deltas.
func (c *Collector) RecordEmbeddingCache(hits, misses uint64) {
	c.embeddingCacheHits.Add(float64(hits))
	c.embeddingCacheMisses.Add(float64(misses))
}

// RecordHTTPRequest records one HTTP request.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
