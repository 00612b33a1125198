// Package postgres registers the PostGIS dialect with the GORM adapter.
package postgres

import (
	"fmt"
	"math"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	gormadapter "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm"
)

// init registers the PostGIS dialect with the GORM adapter.
func init() {
	gormadapter.RegisterDialect(dbconfig.TypePostgres, gormadapter.Dialect{
		Dialector: func(cfg dbconfig.ConnectionConfig) (gorm.Dialector, error) {
			return postgres.New(postgres.Config{DSN: ConnectionString(cfg)}), nil
		},
		Source: NewSource,
	})
}

// ConnectionString generates the keyword/value DSN for a PostgreSQL target.
// Values are quoted so passwords may contain spaces or quotes.
func ConnectionString(c dbconfig.ConnectionConfig) string {
	parts := []string{
		keyword("host", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		keyword("user", c.User),
		keyword("password", c.Password),
		keyword("dbname", c.Database),
		keyword("sslmode", c.Sslmode),
	}
	if t := c.Pool.ConnectTimeout; t > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(math.Ceil(t.Seconds()))))
	}
	return strings.Join(parts, " ")
}

func keyword(k, v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return k + "='" + v + "'"
}
