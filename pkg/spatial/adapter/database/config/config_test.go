package config

import (
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPostgres() ConnectionConfig {
	return ConnectionConfig{
		Type:     TypePostgres,
		Host:     "gis.internal",
		Port:     5432,
		Database: "layers",
		User:     "reader",
		Password: "secret",
	}
}

func TestNewConnectionConfig_Defaults(t *testing.T) {
	c := validPostgres()
	c.Pool = DefaultPoolConfig()
	cfg, err := NewConnectionConfig(c)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Pool.MinConnections)
	assert.Equal(t, 1, cfg.Pool.MaxConnections)
	assert.Equal(t, 1, cfg.Pool.Increment)
	assert.Equal(t, 10*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, time.Second, cfg.Pool.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Pool.ConnectTimeout)
	assert.Equal(t, "disable", cfg.Sslmode)
}

func TestNewConnectionConfig_ZeroAcquireTimeoutKept(t *testing.T) {
	c := validPostgres()
	c.Pool = DefaultPoolConfig()
	c.Pool.AcquireTimeout = 0

	cfg, err := NewConnectionConfig(c)
	require.NoError(t, err)
	assert.Zero(t, cfg.Pool.AcquireTimeout)
}

func TestNewConnectionConfig_ZeroSizesRejected(t *testing.T) {
	c := validPostgres()
	c.Pool = DefaultPoolConfig()
	c.Pool.MinConnections = 0
	c.Pool.MaxConnections = 0

	_, err := NewConnectionConfig(c)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "min_connections must be positive")

	c.Pool = DefaultPoolConfig()
	c.Pool.Increment = 0
	_, err = NewConnectionConfig(c)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	c := ConnectionConfig{
		Type: TypeMySQL,
		Port: 0,
		Pool: PoolConfig{
			MinConnections: 2,
			MaxConnections: 1,
			Increment:      0,
			AcquireTimeout: -time.Second,
			PollInterval:   time.Second,
		},
	}

	err := c.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	// host, port, user, database, max<min, increment, acquire_timeout
	assert.Len(t, merr.Errors, 7)
	for _, e := range merr.Errors {
		assert.ErrorIs(t, e, ErrInvalidConfig)
	}
}

func TestValidate_UnsupportedType(t *testing.T) {
	c := validPostgres()
	c.Pool = DefaultPoolConfig()
	c.Type = "oracle"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported type "oracle"`)
}

func TestValidate_SQLiteOnlyNeedsDatabase(t *testing.T) {
	cfg, err := NewConnectionConfig(ConnectionConfig{Type: TypeSQLite, Database: ":memory:", Pool: DefaultPoolConfig()})
	require.NoError(t, err)
	assert.Equal(t, "sqlite://:memory:", cfg.String())

	_, err = NewConnectionConfig(ConnectionConfig{Type: TypeSQLite, Pool: DefaultPoolConfig()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestKey_ExcludesPassword(t *testing.T) {
	a := validPostgres()
	b := validPostgres()
	b.Password = "other"
	b.Pool.MaxConnections = 8

	assert.Equal(t, a.Key(), b.Key())

	c := validPostgres()
	c.User = "writer"
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestString_HasNoPassword(t *testing.T) {
	s := validPostgres().String()
	assert.Equal(t, "postgres://reader@gis.internal:5432/layers", s)
	assert.NotContains(t, s, "secret")
}
