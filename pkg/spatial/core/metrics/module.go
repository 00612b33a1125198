package metrics

import "go.uber.org/fx"

// NoOpModule provides recorders that discard everything.
var NoOpModule = fx.Options(
	fx.Provide(NewNoOpPoolRecorder),
	fx.Provide(NewNoOpTracer),
)
