// Package sqlite registers the SpatiaLite dialect with the GORM adapter.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	gormadapter "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm"
)

// init registers the SpatiaLite dialect with the GORM adapter.
func init() {
	gormadapter.RegisterDialect(dbconfig.TypeSQLite, gormadapter.Dialect{
		Dialector: func(cfg dbconfig.ConnectionConfig) (gorm.Dialector, error) {
			if cfg.Database == "" {
				return nil, errors.New("SQLite database path cannot be empty")
			}
			return sqlite.Open(ConnectionString(cfg)), nil
		},
		Source: NewSource,
	})
}

// ConnectionString returns the database file path; the GORM SQLite
// dialector expects it directly.
func ConnectionString(c dbconfig.ConnectionConfig) string {
	return c.Database
}
