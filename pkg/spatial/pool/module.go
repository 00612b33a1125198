package pool

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	"github.com/tigerroll/spatialpool/pkg/spatial/core/metrics"
)

// RegistryParams are the dependencies of NewRegistryProvider.
type RegistryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Factory   database.ConnectionFactory
	Sources   database.MetadataSourceResolver `optional:"true"`
	Recorder  metrics.PoolRecorder            `optional:"true"`
	Tracer    metrics.Tracer                  `optional:"true"`
}

// NewRegistryProvider builds the process registry and closes every pool it
// holds when the application stops.
func NewRegistryProvider(p RegistryParams) *Registry {
	r := NewRegistry(p.Factory, p.Sources, WithRecorder(p.Recorder), WithTracer(p.Tracer))
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return r.Clear(ctx)
		},
	})
	return r
}

// Module provides *Registry.
var Module = fx.Options(
	fx.Provide(NewRegistryProvider),
)
