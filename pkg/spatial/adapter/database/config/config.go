// Package config defines the connection and pool tuning settings for one
// spatial database target.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Supported dialects.
const (
	TypePostgres = "postgres" // PostGIS
	TypeMySQL    = "mysql"    // MySQL 8 spatial
	TypeSQLite   = "sqlite"   // SpatiaLite
)

// Defaults returned by DefaultPoolConfig.
const (
	DefaultMinConnections = 1
	DefaultMaxConnections = 1
	DefaultIncrement      = 1
	DefaultAcquireTimeout = 10 * time.Second
	DefaultPollInterval   = time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// ErrInvalidConfig is matched by every validation failure.
var ErrInvalidConfig = errors.New("invalid connection config")

// PoolConfig holds the pool tuning knobs.
type PoolConfig struct {
	MinConnections        int           `yaml:"min_connections"`         // Handles created when the pool is built.
	MaxConnections        int           `yaml:"max_connections"`         // Hard ceiling on live handles.
	Increment             int           `yaml:"increment"`               // Handles created per growth step.
	AcquireTimeout        time.Duration `yaml:"acquire_timeout"`         // Max time Acquire may block.
	PollInterval          time.Duration `yaml:"poll_interval"`           // Upper bound between availability re-checks while waiting.
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`         // Bounds a single handle open.
	SchemaRefreshInterval time.Duration `yaml:"schema_refresh_interval"` // Background metadata refresh period. Zero disables it.
}

// ConnectionConfig holds the settings for one backend target.
// Treat values as immutable once handed to a pool.
type ConnectionConfig struct {
	Type     string     `yaml:"type"`             // Dialect (postgres, mysql, sqlite).
	Host     string     `yaml:"host"`             // Database host address.
	Port     int        `yaml:"port"`             // Database port number.
	Database string     `yaml:"database"`         // Database name, or file path for sqlite.
	User     string     `yaml:"user"`             // Database user.
	Password string     `yaml:"password"`         // Database password. Not part of the identity.
	Schema   string     `yaml:"schema,omitempty"` // Restricts metadata listing to one schema.
	Sslmode  string     `yaml:"sslmode"`          // SSL mode for postgres.
	Pool     PoolConfig `yaml:"pool"`
}

// Key identifies a backend target. Two configs with equal keys share a pool.
type Key struct {
	Type     string
	Host     string
	Port     int
	Database string
	User     string
}

// String renders the key without credentials.
func (k Key) String() string {
	if k.Type == TypeSQLite {
		return fmt.Sprintf("%s://%s", k.Type, k.Database)
	}
	return fmt.Sprintf("%s://%s@%s:%d/%s", k.Type, k.User, k.Host, k.Port, k.Database)
}

// NewConnectionConfig fills defaults into cfg and validates the result.
func NewConnectionConfig(cfg ConnectionConfig) (ConnectionConfig, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return ConnectionConfig{}, err
	}
	return cfg, nil
}

// DefaultPoolConfig returns the pool settings used when a data source leaves
// them out.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinConnections: DefaultMinConnections,
		MaxConnections: DefaultMaxConnections,
		Increment:      DefaultIncrement,
		AcquireTimeout: DefaultAcquireTimeout,
		PollInterval:   DefaultPollInterval,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// WithDefaults returns a copy of c with the dialect, sslmode, poll interval
// and connect timeout filled in when zero.
//
// Pool sizing and AcquireTimeout are taken as given: a zero size fails
// Validate and a zero AcquireTimeout means Acquire never waits. Start from
// DefaultPoolConfig to get their defaults.
func (c ConnectionConfig) WithDefaults() ConnectionConfig {
	if c.Type == "" {
		c.Type = TypePostgres
	}
	if c.Type == TypePostgres && c.Sslmode == "" {
		c.Sslmode = "disable"
	}
	if c.Pool.PollInterval == 0 {
		c.Pool.PollInterval = DefaultPollInterval
	}
	if c.Pool.ConnectTimeout == 0 {
		c.Pool.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// Validate checks identity and tuning fields. Every violation is reported;
// the returned error matches ErrInvalidConfig.
func (c ConnectionConfig) Validate() error {
	var result *multierror.Error
	invalid := func(format string, a ...interface{}) {
		result = multierror.Append(result, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, a...)...))
	}

	switch c.Type {
	case TypePostgres, TypeMySQL:
		if c.Host == "" {
			invalid("host is required")
		}
		if c.Port <= 0 || c.Port > 65535 {
			invalid("port %d is out of range", c.Port)
		}
		if c.User == "" {
			invalid("user is required")
		}
	case TypeSQLite:
	default:
		invalid("unsupported type %q", c.Type)
	}
	if c.Database == "" {
		invalid("database is required")
	}

	p := c.Pool
	if p.MinConnections <= 0 {
		invalid("min_connections must be positive, got %d", p.MinConnections)
	}
	if p.MaxConnections < p.MinConnections {
		invalid("max_connections (%d) must be >= min_connections (%d)", p.MaxConnections, p.MinConnections)
	}
	if p.Increment < 1 {
		invalid("increment must be at least 1, got %d", p.Increment)
	}
	if p.AcquireTimeout < 0 {
		invalid("acquire_timeout must not be negative, got %s", p.AcquireTimeout)
	}
	if p.PollInterval <= 0 {
		invalid("poll_interval must be positive, got %s", p.PollInterval)
	}
	if p.ConnectTimeout < 0 {
		invalid("connect_timeout must not be negative, got %s", p.ConnectTimeout)
	}
	if p.SchemaRefreshInterval < 0 {
		invalid("schema_refresh_interval must not be negative, got %s", p.SchemaRefreshInterval)
	}

	return result.ErrorOrNil()
}

// Key returns the identity of the target. The password is deliberately left out.
func (c ConnectionConfig) Key() Key {
	return Key{
		Type:     c.Type,
		Host:     c.Host,
		Port:     c.Port,
		Database: c.Database,
		User:     c.User,
	}
}

// String renders the target without credentials.
func (c ConnectionConfig) String() string {
	return c.Key().String()
}
