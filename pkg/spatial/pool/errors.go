package pool

import (
	"errors"
	"fmt"
	"time"

	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/exception"
)

var (
	// ErrInvalidConfig is returned when a pool is built from an invalid config.
	ErrInvalidConfig = dbconfig.ErrInvalidConfig
	// ErrPoolClosed is returned by every operation on a closed pool.
	ErrPoolClosed = errors.New("connection pool is closed")
	// ErrPoolExhausted is matched by *PoolExhaustedError.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrConnectionCreateFailed is matched by *ConnectionCreateError.
	ErrConnectionCreateFailed = errors.New("failed to create connection")
	// ErrSchemaNotFound is matched by *SchemaNotFoundError.
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrAcquireInterrupted is returned when the caller's context ends while
	// Acquire is waiting. It is never returned for a plain timeout.
	ErrAcquireInterrupted = errors.New("acquire interrupted")
)

// PoolExhaustedError reports that no handle became available within the
// acquire timeout.
type PoolExhaustedError struct {
	InUse  int                       // handles checked out when the wait gave up
	Config dbconfig.ConnectionConfig // pool config, for max size and target
	Waited time.Duration
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool exhausted for %s: %d handle(s) in use of max %d, waited %s",
		e.Config, e.InUse, e.Config.Pool.MaxConnections, e.Waited.Round(time.Millisecond))
}

// Is makes errors.Is(err, ErrPoolExhausted) succeed.
func (e *PoolExhaustedError) Is(target error) bool {
	return target == ErrPoolExhausted
}

// Temporary reports that exhaustion may clear up on retry.
func (e *PoolExhaustedError) Temporary() bool {
	return true
}

// ConnectionCreateError wraps a backend failure to open a handle.
type ConnectionCreateError struct {
	Config dbconfig.ConnectionConfig
	Cause  error
}

func (e *ConnectionCreateError) Error() string {
	return fmt.Sprintf("failed to create connection to %s: %v", e.Config, e.Cause)
}

// Is makes errors.Is(err, ErrConnectionCreateFailed) succeed.
func (e *ConnectionCreateError) Is(target error) bool {
	return target == ErrConnectionCreateFailed
}

func (e *ConnectionCreateError) Unwrap() error {
	return e.Cause
}

// Temporary defers to the backend cause.
func (e *ConnectionCreateError) Temporary() bool {
	return exception.IsTemporary(e.Cause)
}

// SchemaNotFoundError reports a metadata lookup miss.
type SchemaNotFoundError struct {
	Name string
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("schema not found: %q is not in the metadata cache", e.Name)
}

// Is makes errors.Is(err, ErrSchemaNotFound) succeed.
func (e *SchemaNotFoundError) Is(target error) bool {
	return target == ErrSchemaNotFound
}
