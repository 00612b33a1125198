package gorm

import (
	"go.uber.org/fx"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	config "github.com/tigerroll/spatialpool/pkg/spatial/core/config"
)

// FactoryParams are the dependencies of NewConnectionFactoryProvider.
type FactoryParams struct {
	fx.In
	Logging *config.LoggingConfig `optional:"true"`
}

// NewConnectionFactoryProvider builds the factory with the configured GORM
// log level.
func NewConnectionFactoryProvider(p FactoryParams) *ConnectionFactory {
	if p.Logging != nil && p.Logging.GormLevel != "" {
		return NewConnectionFactory(WithGormLogLevel(p.Logging.GormLevel))
	}
	return NewConnectionFactory()
}

// Module provides the GORM ConnectionFactory as both the pool's connection
// factory and its metadata source resolver. Dialect packages must be
// imported separately so that they register themselves.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewConnectionFactoryProvider,
			fx.As(new(database.ConnectionFactory)),
			fx.As(new(database.MetadataSourceResolver)),
		),
	),
)
