// Package database declares the collaborator contracts the connection pool
// consumes: opaque handles, the factory that opens them, and the source
// that describes tables and spatial layers through a borrowed handle.
package database

import (
	"context"

	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
)

// Handle is an opaque live connection to the backend.
// A handle is used by one goroutine at a time; the pool does not enforce this.
type Handle interface {
	// ID returns a process-unique identifier, used for logging.
	ID() string
	// Close releases the backend session.
	Close() error
}

// ConnectionFactory opens new handles.
type ConnectionFactory interface {
	// Open establishes one new backend session for cfg.
	Open(ctx context.Context, cfg dbconfig.ConnectionConfig) (Handle, error)
}

// MetadataSource lists and describes tables/layers using a borrowed handle.
type MetadataSource interface {
	// ListTables returns every table or layer visible to the handle.
	ListTables(ctx context.Context, h Handle) ([]TableRef, error)
	// Describe returns the columns of one table.
	Describe(ctx context.Context, h Handle, ref TableRef) ([]ColumnMetadata, error)
}

// MetadataSourceResolver picks the MetadataSource that understands cfg's backend.
type MetadataSourceResolver interface {
	MetadataSourceFor(cfg dbconfig.ConnectionConfig) (MetadataSource, error)
}

// ConnectionFactoryFunc adapts a function to ConnectionFactory.
type ConnectionFactoryFunc func(ctx context.Context, cfg dbconfig.ConnectionConfig) (Handle, error)

// Open calls f(ctx, cfg).
func (f ConnectionFactoryFunc) Open(ctx context.Context, cfg dbconfig.ConnectionConfig) (Handle, error) {
	return f(ctx, cfg)
}

// StaticSourceResolver returns the same MetadataSource for every config.
type StaticSourceResolver struct {
	Source MetadataSource
}

// MetadataSourceFor implements MetadataSourceResolver.
func (r StaticSourceResolver) MetadataSourceFor(dbconfig.ConnectionConfig) (MetadataSource, error) {
	return r.Source, nil
}
