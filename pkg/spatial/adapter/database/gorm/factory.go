package gorm

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/logger"
)

// ConnectionFactory opens pool handles through the registered dialects and
// resolves their metadata sources.
type ConnectionFactory struct {
	logLevel string
}

// FactoryOption customises a ConnectionFactory.
type FactoryOption func(*ConnectionFactory)

// WithGormLogLevel sets the level GORM statements are logged at.
// The default is SILENT.
func WithGormLogLevel(level string) FactoryOption {
	return func(f *ConnectionFactory) { f.logLevel = level }
}

// NewConnectionFactory creates a factory over the registered dialects.
func NewConnectionFactory(opts ...FactoryOption) *ConnectionFactory {
	f := &ConnectionFactory{logLevel: "SILENT"}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open implements database.ConnectionFactory. The handle's *sql.DB is capped
// at one open connection and pinged before it is returned, so ctx bounds the
// whole connect.
func (f *ConnectionFactory) Open(ctx context.Context, cfg dbconfig.ConnectionConfig) (database.Handle, error) {
	d, err := GetDialect(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := d.Dialector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", cfg.Type, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:               NewGormLogger(f.logLevel),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection to %s: %w", cfg, err)
	}

	h, err := NewHandle(db)
	if err != nil {
		return nil, err
	}
	h.sqlDB.SetMaxOpenConns(1)
	h.sqlDB.SetMaxIdleConns(1)

	if err := h.sqlDB.PingContext(ctx); err != nil {
		if cerr := h.Close(); cerr != nil {
			logger.Debugf("Closing unreachable handle for %s: %v", cfg, cerr)
		}
		return nil, fmt.Errorf("failed to reach %s: %w", cfg, err)
	}
	return h, nil
}

// MetadataSourceFor implements database.MetadataSourceResolver.
func (f *ConnectionFactory) MetadataSourceFor(cfg dbconfig.ConnectionConfig) (database.MetadataSource, error) {
	d, err := GetDialect(cfg.Type)
	if err != nil {
		return nil, err
	}
	if d.Source == nil {
		return nil, fmt.Errorf("dialect %s has no metadata source", cfg.Type)
	}
	return d.Source(cfg), nil
}

var (
	_ database.ConnectionFactory      = (*ConnectionFactory)(nil)
	_ database.MetadataSourceResolver = (*ConnectionFactory)(nil)
)
