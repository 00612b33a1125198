package metrics

import "context"

// Tracer starts spans around pool operations.
type Tracer interface {
	// StartSpan starts a span named op for the given pool.
	//
	// Returns: A context with the new span set, and a function ending the span.
	// The end function records err on the span when it is non-nil.
	StartSpan(ctx context.Context, op string, pool string) (context.Context, func(err error))

	// RecordEvent records an event in the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
