// Package config holds the application configuration: logging, metrics and
// the named data sources the CLI opens pools for.
package config

import (
	"fmt"
	"sort"

	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/configbinder"
)

// RawConfig holds the YAML bytes the configuration is loaded from.
type RawConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelTrace  LogLevel = "TRACE"
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// Metrics backends.
const (
	MetricsBackendNone       = "none"
	MetricsBackendPrometheus = "prometheus"
	MetricsBackendOTel       = "otel"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the application logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
	// GormLevel is the level GORM statements are logged at. SILENT by default.
	GormLevel string `yaml:"gorm_level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// OTLPConfig configures the OpenTelemetry exporters.
type OTLPConfig struct {
	Endpoint string `yaml:"endpoint"` // host:port of the collector. Empty disables export.
	Protocol string `yaml:"protocol"` // grpc or http.
	Insecure bool   `yaml:"insecure"` // Disables TLS.
}

// MetricsConfig selects where pool metrics and spans go.
type MetricsConfig struct {
	Backend string     `yaml:"backend"` // none, prometheus or otel.
	Listen  string     `yaml:"listen"`  // Address serving /metrics for the prometheus backend.
	OTLP    OTLPConfig `yaml:"otlp"`
}

// SpatialPoolConfig holds everything under the "spatialpool" top-level key.
type SpatialPoolConfig struct {
	System  SystemConfig  `yaml:"system"`
	Metrics MetricsConfig `yaml:"metrics"`
	// Datasources maps a data source name to its raw connection settings,
	// decoded on demand by Datasource.
	Datasources map[string]interface{} `yaml:"datasources"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	SpatialPool SpatialPoolConfig `yaml:"spatialpool"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		SpatialPool: SpatialPoolConfig{
			System: SystemConfig{
				Logging: LoggingConfig{Level: string(LogLevelInfo), GormLevel: string(LogLevelSilent)},
			},
			Metrics: MetricsConfig{
				Backend: MetricsBackendNone,
				OTLP:    OTLPConfig{Protocol: "grpc"},
			},
			Datasources: map[string]interface{}{},
		},
	}
}

// DatasourceNames returns the configured data source names, sorted.
func (c *Config) DatasourceNames() []string {
	names := make([]string, 0, len(c.SpatialPool.Datasources))
	for name := range c.SpatialPool.Datasources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Datasource decodes, defaults and validates the named data source.
func (c *Config) Datasource(name string) (dbconfig.ConnectionConfig, error) {
	raw, ok := c.SpatialPool.Datasources[name]
	if !ok {
		return dbconfig.ConnectionConfig{}, fmt.Errorf("data source '%s' is not configured", name)
	}
	props, ok := raw.(map[string]interface{})
	if !ok {
		return dbconfig.ConnectionConfig{}, fmt.Errorf("data source '%s': expected a mapping, got %T", name, raw)
	}

	// Keys the mapping leaves out keep their defaults; explicit values,
	// zero included, are kept as written.
	cfg := dbconfig.ConnectionConfig{Pool: dbconfig.DefaultPoolConfig()}
	if err := configbinder.BindProperties(props, &cfg); err != nil {
		return dbconfig.ConnectionConfig{}, fmt.Errorf("data source '%s': %w", name, err)
	}
	if !hasPoolSetting(props, "max_connections") {
		cfg.Pool.MaxConnections = max(cfg.Pool.MaxConnections, cfg.Pool.MinConnections)
	}
	cfg, err := dbconfig.NewConnectionConfig(cfg)
	if err != nil {
		return dbconfig.ConnectionConfig{}, fmt.Errorf("data source '%s': %w", name, err)
	}
	return cfg, nil
}

func hasPoolSetting(props map[string]interface{}, key string) bool {
	pool, ok := props["pool"].(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = pool[key]
	return ok
}

// Validate checks the settings that are not data source specific.
func (c *Config) Validate() error {
	switch c.SpatialPool.Metrics.Backend {
	case "", MetricsBackendNone, MetricsBackendPrometheus, MetricsBackendOTel:
	default:
		return fmt.Errorf("unknown metrics backend '%s'", c.SpatialPool.Metrics.Backend)
	}
	switch c.SpatialPool.Metrics.OTLP.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("unknown OTLP protocol '%s'", c.SpatialPool.Metrics.OTLP.Protocol)
	}
	return nil
}
