package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	metrics "github.com/tigerroll/spatialpool/pkg/spatial/core/metrics"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.PoolRecorder.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Acquire Metrics
	acquireTotal       *prometheus.CounterVec
	acquireWaitSeconds *prometheus.HistogramVec

	// Handle Metrics
	handlesCreated       *prometheus.CounterVec
	handleCreateFailures *prometheus.CounterVec
	handlesClosed        *prometheus.CounterVec
	handlesAvailable     *prometheus.GaugeVec
	handlesInUse         *prometheus.GaugeVec
	acquireWaiters       *prometheus.GaugeVec

	// Metadata Metrics
	refreshTotal           *prometheus.CounterVec
	refreshDurationSeconds *prometheus.HistogramVec
	refreshSkipped         *prometheus.CounterVec
	cachedTables           *prometheus.GaugeVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder with its
// own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		acquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spatialpool_acquire_total",
			Help: "Total acquire calls by outcome.",
		}, []string{"pool", "outcome"}),
		acquireWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spatialpool_acquire_wait_seconds",
			Help:    "Time spent inside acquire, by outcome.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"pool", "outcome"}),
		handlesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spatialpool_handles_created_total",
			Help: "Total backend handles opened.",
		}, []string{"pool"}),
		handleCreateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spatialpool_handle_create_failures_total",
			Help: "Total failed attempts to open a backend handle.",
		}, []string{"pool"}),
		handlesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spatialpool_handles_closed_total",
			Help: "Total backend handles closed cleanly.",
		}, []string{"pool"}),
		handlesAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spatialpool_handles_available",
			Help: "Idle handles ready to be acquired.",
		}, []string{"pool"}),
		handlesInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spatialpool_handles_in_use",
			Help: "Handles currently borrowed.",
		}, []string{"pool"}),
		acquireWaiters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spatialpool_acquire_waiters",
			Help: "Goroutines blocked in acquire.",
		}, []string{"pool"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spatialpool_metadata_refresh_total",
			Help: "Total metadata refreshes by result.",
		}, []string{"pool", "result"}), // result: success, failure
		refreshDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spatialpool_metadata_refresh_duration_seconds",
			Help:    "Duration of metadata refreshes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pool"}),
		refreshSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spatialpool_metadata_skipped_tables_total",
			Help: "Tables skipped because describing them failed.",
		}, []string{"pool"}),
		cachedTables: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spatialpool_metadata_cached_tables",
			Help: "Tables held by the metadata cache after the last successful refresh.",
		}, []string{"pool"}),
	}

	registry.MustRegister(
		r.acquireTotal,
		r.acquireWaitSeconds,
		r.handlesCreated,
		r.handleCreateFailures,
		r.handlesClosed,
		r.handlesAvailable,
		r.handlesInUse,
		r.acquireWaiters,
		r.refreshTotal,
		r.refreshDurationSeconds,
		r.refreshSkipped,
		r.cachedTables,
	)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordAcquire records one acquire call.
func (r *PrometheusRecorder) RecordAcquire(ctx context.Context, pool string, outcome metrics.AcquireOutcome, wait time.Duration) {
	r.acquireTotal.WithLabelValues(pool, string(outcome)).Inc()
	r.acquireWaitSeconds.WithLabelValues(pool, string(outcome)).Observe(wait.Seconds())
}

// RecordHandlesCreated records newly opened handles.
func (r *PrometheusRecorder) RecordHandlesCreated(ctx context.Context, pool string, n int) {
	r.handlesCreated.WithLabelValues(pool).Add(float64(n))
}

// RecordHandleCreateFailure records a failed open.
func (r *PrometheusRecorder) RecordHandleCreateFailure(ctx context.Context, pool string) {
	r.handleCreateFailures.WithLabelValues(pool).Inc()
}

// RecordHandlesClosed records handles closed by Close.
func (r *PrometheusRecorder) RecordHandlesClosed(ctx context.Context, pool string, n int) {
	r.handlesClosed.WithLabelValues(pool).Add(float64(n))
}

// RecordPoolState sets the pool gauges.
func (r *PrometheusRecorder) RecordPoolState(ctx context.Context, pool string, available, inUse, waiting int) {
	r.handlesAvailable.WithLabelValues(pool).Set(float64(available))
	r.handlesInUse.WithLabelValues(pool).Set(float64(inUse))
	r.acquireWaiters.WithLabelValues(pool).Set(float64(waiting))
}

// RecordRefresh records one metadata refresh. The cached-tables gauge only
// moves on success, since a failed refresh leaves the cache unchanged.
func (r *PrometheusRecorder) RecordRefresh(ctx context.Context, pool string, tables, skipped int, duration time.Duration, err error) {
	r.refreshDurationSeconds.WithLabelValues(pool).Observe(duration.Seconds())
	r.refreshSkipped.WithLabelValues(pool).Add(float64(skipped))
	if err != nil {
		r.refreshTotal.WithLabelValues(pool, "failure").Inc()
		return
	}
	r.refreshTotal.WithLabelValues(pool, "success").Inc()
	r.cachedTables.WithLabelValues(pool).Set(float64(tables))
	logger.Debugf("Metrics: metadata refresh for '%s' cached %d table(s) in %.3fs", pool, tables, duration.Seconds())
}

var _ metrics.PoolRecorder = (*PrometheusRecorder)(nil)
