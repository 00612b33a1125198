package config

import (
	"go.uber.org/fx"

	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/logger"
)

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	Raw         RawConfig
	EnvFilePath string `name:"envFilePath" optional:"true"` // Path to the .env file, if any.
}

// NewConfigProvider loads *Config and applies its log level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(params.EnvFilePath, params.Raw)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.SpatialPool.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.SpatialPool.System.Logging.Level)
	return cfg, nil
}

// NewLoggingConfigProvider extracts *LoggingConfig from *Config.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.SpatialPool.System.Logging
}

// NewMetricsConfigProvider extracts *MetricsConfig from *Config.
func NewMetricsConfigProvider(cfg *Config) *MetricsConfig {
	return &cfg.SpatialPool.Metrics
}

// Module provides *Config and its sections. The application must supply
// RawConfig.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewMetricsConfigProvider),
)
