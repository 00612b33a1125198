package metrics

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	metrics "github.com/tigerroll/spatialpool/pkg/spatial/core/metrics"
)

// OpenTelemetryRecorder records pool metrics through an OpenTelemetry Meter.
type OpenTelemetryRecorder struct {
	acquires       metric.Int64Counter
	acquireWait    metric.Float64Histogram
	created        metric.Int64Counter
	createFailures metric.Int64Counter
	closed         metric.Int64Counter
	available      metric.Int64Gauge
	inUse          metric.Int64Gauge
	waiting        metric.Int64Gauge
	refreshes      metric.Int64Counter
	refreshTime    metric.Float64Histogram
	cachedTables   metric.Int64Gauge
}

// NewOpenTelemetryRecorder creates a recorder on the global MeterProvider.
func NewOpenTelemetryRecorder() (*OpenTelemetryRecorder, error) {
	return NewOpenTelemetryRecorderWithProvider(otel.GetMeterProvider())
}

// NewOpenTelemetryRecorderWithProvider creates a recorder on mp. Every
// instrument that fails to register is reported.
func NewOpenTelemetryRecorderWithProvider(mp metric.MeterProvider) (*OpenTelemetryRecorder, error) {
	m := mp.Meter(instrumentationName)
	r := &OpenTelemetryRecorder{}
	var errs *multierror.Error
	collect := func(err error) {
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	var err error
	r.acquires, err = m.Int64Counter("spatialpool.acquire", metric.WithDescription("Acquire calls by outcome."))
	collect(err)
	r.acquireWait, err = m.Float64Histogram("spatialpool.acquire.wait", metric.WithUnit("s"), metric.WithDescription("Time spent inside acquire."))
	collect(err)
	r.created, err = m.Int64Counter("spatialpool.handles.created", metric.WithDescription("Backend handles opened."))
	collect(err)
	r.createFailures, err = m.Int64Counter("spatialpool.handles.create_failures", metric.WithDescription("Failed handle opens."))
	collect(err)
	r.closed, err = m.Int64Counter("spatialpool.handles.closed", metric.WithDescription("Backend handles closed cleanly."))
	collect(err)
	r.available, err = m.Int64Gauge("spatialpool.handles.available", metric.WithDescription("Idle handles."))
	collect(err)
	r.inUse, err = m.Int64Gauge("spatialpool.handles.in_use", metric.WithDescription("Borrowed handles."))
	collect(err)
	r.waiting, err = m.Int64Gauge("spatialpool.acquire.waiters", metric.WithDescription("Goroutines blocked in acquire."))
	collect(err)
	r.refreshes, err = m.Int64Counter("spatialpool.metadata.refresh", metric.WithDescription("Metadata refreshes by result."))
	collect(err)
	r.refreshTime, err = m.Float64Histogram("spatialpool.metadata.refresh.duration", metric.WithUnit("s"))
	collect(err)
	r.cachedTables, err = m.Int64Gauge("spatialpool.metadata.cached_tables", metric.WithDescription("Tables in the metadata cache."))
	collect(err)

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return r, nil
}

func poolAttr(pool string) attribute.KeyValue {
	return attribute.String("pool", pool)
}

// RecordAcquire records one acquire call.
func (r *OpenTelemetryRecorder) RecordAcquire(ctx context.Context, pool string, outcome metrics.AcquireOutcome, wait time.Duration) {
	attrs := metric.WithAttributes(poolAttr(pool), attribute.String("outcome", string(outcome)))
	r.acquires.Add(ctx, 1, attrs)
	r.acquireWait.Record(ctx, wait.Seconds(), attrs)
}

// RecordHandlesCreated records newly opened handles.
func (r *OpenTelemetryRecorder) RecordHandlesCreated(ctx context.Context, pool string, n int) {
	r.created.Add(ctx, int64(n), metric.WithAttributes(poolAttr(pool)))
}

// RecordHandleCreateFailure records a failed open.
func (r *OpenTelemetryRecorder) RecordHandleCreateFailure(ctx context.Context, pool string) {
	r.createFailures.Add(ctx, 1, metric.WithAttributes(poolAttr(pool)))
}

// RecordHandlesClosed records handles closed by Close.
func (r *OpenTelemetryRecorder) RecordHandlesClosed(ctx context.Context, pool string, n int) {
	r.closed.Add(ctx, int64(n), metric.WithAttributes(poolAttr(pool)))
}

// RecordPoolState records the pool gauges.
func (r *OpenTelemetryRecorder) RecordPoolState(ctx context.Context, pool string, available, inUse, waiting int) {
	attrs := metric.WithAttributes(poolAttr(pool))
	r.available.Record(ctx, int64(available), attrs)
	r.inUse.Record(ctx, int64(inUse), attrs)
	r.waiting.Record(ctx, int64(waiting), attrs)
}

// RecordRefresh records one metadata refresh.
func (r *OpenTelemetryRecorder) RecordRefresh(ctx context.Context, pool string, tables, skipped int, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.refreshes.Add(ctx, 1, metric.WithAttributes(poolAttr(pool), attribute.String("result", result)))
	r.refreshTime.Record(ctx, duration.Seconds(), metric.WithAttributes(poolAttr(pool)))
	if err == nil {
		r.cachedTables.Record(ctx, int64(tables), metric.WithAttributes(poolAttr(pool)))
	}
}

var _ metrics.PoolRecorder = (*OpenTelemetryRecorder)(nil)
