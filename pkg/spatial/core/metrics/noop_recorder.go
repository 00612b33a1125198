package metrics

import (
	"context"
	"time"
)

// NoOpPoolRecorder is a PoolRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpPoolRecorder struct{}

// NewNoOpPoolRecorder creates a new instance of NoOpPoolRecorder.
func NewNoOpPoolRecorder() PoolRecorder {
	return &NoOpPoolRecorder{}
}

func (r *NoOpPoolRecorder) RecordAcquire(context.Context, string, AcquireOutcome, time.Duration) {}
func (r *NoOpPoolRecorder) RecordHandlesCreated(context.Context, string, int)                   {}
func (r *NoOpPoolRecorder) RecordHandleCreateFailure(context.Context, string)                   {}
func (r *NoOpPoolRecorder) RecordHandlesClosed(context.Context, string, int)                    {}
func (r *NoOpPoolRecorder) RecordPoolState(context.Context, string, int, int, int)              {}
func (r *NoOpPoolRecorder) RecordRefresh(context.Context, string, int, int, time.Duration, error) {
}

var _ PoolRecorder = (*NoOpPoolRecorder)(nil)

// NoOpTracer is a Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartSpan returns ctx unchanged.
func (t *NoOpTracer) StartSpan(ctx context.Context, op string, pool string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)
