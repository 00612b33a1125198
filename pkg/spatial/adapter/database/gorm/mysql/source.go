package mysql

import (
	"context"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	gormadapter "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm"
)

const listTablesQuery = `SELECT TABLE_SCHEMA AS table_schema, TABLE_NAME AS table_name
FROM information_schema.TABLES
WHERE TABLE_SCHEMA = ? AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
ORDER BY TABLE_NAME`

// MySQL 8 exposes SRIDs and geometry types in ST_GEOMETRY_COLUMNS and
// has no coordinate dimension column.
const describeQuery = `SELECT c.COLUMN_NAME AS column_name,
  c.DATA_TYPE AS data_type,
  c.IS_NULLABLE = 'YES' AS nullable,
  c.COLUMN_KEY = 'PRI' AS primary_key,
  g.GEOMETRY_TYPE_NAME AS geometry_type,
  g.SRS_ID AS srid,
  NULL AS coord_dimension
FROM information_schema.COLUMNS c
LEFT JOIN information_schema.ST_GEOMETRY_COLUMNS g
  ON g.TABLE_SCHEMA = c.TABLE_SCHEMA
 AND g.TABLE_NAME = c.TABLE_NAME
 AND g.COLUMN_NAME = c.COLUMN_NAME
WHERE c.TABLE_SCHEMA = ? AND c.TABLE_NAME = ?
ORDER BY c.ORDINAL_POSITION`

// Source describes MySQL spatial tables of one database. Schema overrides
// the connection database when set.
type Source struct {
	schema string
}

// NewSource creates the MySQL metadata source for cfg.
func NewSource(cfg dbconfig.ConnectionConfig) database.MetadataSource {
	schema := cfg.Schema
	if schema == "" {
		schema = cfg.Database
	}
	return &Source{schema: schema}
}

// ListTables implements database.MetadataSource.
func (s *Source) ListTables(ctx context.Context, h database.Handle) ([]database.TableRef, error) {
	var rows []gormadapter.TableRow
	if err := gormadapter.Scan(ctx, h, &rows, listTablesQuery, s.schema); err != nil {
		return nil, err
	}
	return gormadapter.TableRefs(rows), nil
}

// Describe implements database.MetadataSource.
func (s *Source) Describe(ctx context.Context, h database.Handle, ref database.TableRef) ([]database.ColumnMetadata, error) {
	schema := ref.Schema
	if schema == "" {
		schema = s.schema
	}
	var rows []gormadapter.ColumnRow
	if err := gormadapter.Scan(ctx, h, &rows, describeQuery, schema, ref.Name); err != nil {
		return nil, err
	}
	return gormadapter.Columns(ref, rows)
}

var _ database.MetadataSource = (*Source)(nil)
