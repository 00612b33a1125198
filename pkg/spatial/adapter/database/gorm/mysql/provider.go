// Package mysql registers the MySQL spatial dialect with the GORM adapter.
package mysql

import (
	"net"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	gormadapter "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm"
)

// init registers the MySQL dialect with the GORM adapter.
func init() {
	gormadapter.RegisterDialect(dbconfig.TypeMySQL, gormadapter.Dialect{
		Dialector: func(cfg dbconfig.ConnectionConfig) (gorm.Dialector, error) {
			return gormmysql.New(gormmysql.Config{
				DSN: ConnectionString(cfg),
				// The version probe would run outside the connect timeout.
				SkipInitializeWithVersion: true,
			}), nil
		},
		Source: NewSource,
	})
}

// ConnectionString builds the go-sql-driver DSN for a MySQL target.
func ConnectionString(c dbconfig.ConnectionConfig) string {
	dsn := gomysql.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dsn.DBName = c.Database
	dsn.ParseTime = true
	if c.Pool.ConnectTimeout > 0 {
		dsn.Timeout = c.Pool.ConnectTimeout
	}
	return dsn.FormatDSN()
}
