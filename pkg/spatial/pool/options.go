package pool

import (
	"github.com/tigerroll/spatialpool/pkg/spatial/core/metrics"
)

// Option customises a ConnectionPool.
type Option func(*ConnectionPool)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.PoolRecorder) Option {
	return func(p *ConnectionPool) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t metrics.Tracer) Option {
	return func(p *ConnectionPool) {
		if t != nil {
			p.tracer = t
		}
	}
}
