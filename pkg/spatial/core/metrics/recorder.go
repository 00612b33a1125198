// Package metrics declares the observability ports used by the connection pool.
package metrics

import (
	"context"
	"time"
)

// AcquireOutcome classifies how an Acquire call ended.
type AcquireOutcome string

const (
	AcquireImmediate   AcquireOutcome = "immediate"   // handle was already available
	AcquireGrown       AcquireOutcome = "grown"       // handle came from a growth step
	AcquireWaited      AcquireOutcome = "waited"      // handle became available while waiting
	AcquireExhausted   AcquireOutcome = "exhausted"   // acquire timed out
	AcquireFailed      AcquireOutcome = "failed"      // growth failed or the pool was closed
	AcquireInterrupted AcquireOutcome = "interrupted" // caller context ended
)

// PoolRecorder records connection pool metrics.
// Implementations must be safe for concurrent use; the pool calls them
// outside its lock.
type PoolRecorder interface {
	// RecordAcquire records the outcome of an Acquire call and how long it took.
	//
	// pool: The pool's identity string.
	RecordAcquire(ctx context.Context, pool string, outcome AcquireOutcome, wait time.Duration)

	// RecordHandlesCreated records handles opened by population or growth.
	RecordHandlesCreated(ctx context.Context, pool string, count int)

	// RecordHandleCreateFailure records a failed open.
	RecordHandleCreateFailure(ctx context.Context, pool string)

	// RecordHandlesClosed records handles closed at pool shutdown.
	RecordHandlesClosed(ctx context.Context, pool string, count int)

	// RecordPoolState publishes current set sizes.
	RecordPoolState(ctx context.Context, pool string, available, inUse, waiting int)

	// RecordRefresh records a metadata refresh.
	//
	// tables: Number of tables cached afterwards.
	// skipped: Number of tables whose describe failed.
	RecordRefresh(ctx context.Context, pool string, tables, skipped int, duration time.Duration, err error)
}
