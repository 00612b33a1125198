package test

import (
	"time"

	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
)

// NewTestConfig returns a valid postgres config with the given pool bounds
// and a short timeout, suitable for pool tests.
func NewTestConfig(minConns, maxConns, increment int) dbconfig.ConnectionConfig {
	return dbconfig.ConnectionConfig{
		Type:     dbconfig.TypePostgres,
		Host:     "localhost",
		Port:     5432,
		Database: "gis",
		User:     "tester",
		Password: "secret",
		Pool: dbconfig.PoolConfig{
			MinConnections: minConns,
			MaxConnections: maxConns,
			Increment:      increment,
			AcquireTimeout: 200 * time.Millisecond,
			PollInterval:   20 * time.Millisecond,
			ConnectTimeout: time.Second,
		},
	}
}
