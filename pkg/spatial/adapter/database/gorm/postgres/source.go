package postgres

import (
	"context"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	gormadapter "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm"
)

const listTablesQuery = `SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_type IN ('BASE TABLE', 'VIEW')
  AND table_schema NOT IN ('pg_catalog', 'information_schema', 'topology', 'tiger', 'tiger_data')
  AND table_name NOT IN ('spatial_ref_sys', 'geometry_columns', 'geography_columns')`

const schemaFilter = `
  AND table_schema = ?`

const listTablesOrder = `
ORDER BY table_schema, table_name`

// describeQuery joins information_schema.columns with PostGIS'
// geometry_columns view. Primary key membership comes from pg_index.
const describeQuery = `SELECT c.column_name,
  c.udt_name AS data_type,
  c.is_nullable = 'YES' AS nullable,
  EXISTS (
    SELECT 1 FROM pg_index i
    JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
    WHERE i.indisprimary
      AND i.indrelid = format('%I.%I', c.table_schema, c.table_name)::regclass
      AND a.attname = c.column_name
  ) AS primary_key,
  g.type AS geometry_type,
  g.srid,
  g.coord_dimension
FROM information_schema.columns c
LEFT JOIN geometry_columns g
  ON g.f_table_schema = c.table_schema
 AND g.f_table_name = c.table_name
 AND g.f_geometry_column = c.column_name
WHERE c.table_schema = ? AND c.table_name = ?
ORDER BY c.ordinal_position`

// Source describes PostGIS tables. When a schema is configured only that
// schema is listed.
type Source struct {
	schema string
}

// NewSource creates the PostGIS metadata source for cfg.
func NewSource(cfg dbconfig.ConnectionConfig) database.MetadataSource {
	return &Source{schema: cfg.Schema}
}

// ListTables implements database.MetadataSource.
func (s *Source) ListTables(ctx context.Context, h database.Handle) ([]database.TableRef, error) {
	var rows []gormadapter.TableRow
	var err error
	if s.schema != "" {
		err = gormadapter.Scan(ctx, h, &rows, listTablesQuery+schemaFilter+listTablesOrder, s.schema)
	} else {
		err = gormadapter.Scan(ctx, h, &rows, listTablesQuery+listTablesOrder)
	}
	if err != nil {
		return nil, err
	}
	return gormadapter.TableRefs(rows), nil
}

// Describe implements database.MetadataSource.
func (s *Source) Describe(ctx context.Context, h database.Handle, ref database.TableRef) ([]database.ColumnMetadata, error) {
	schema := ref.Schema
	if schema == "" {
		schema = "public"
	}
	var rows []gormadapter.ColumnRow
	if err := gormadapter.Scan(ctx, h, &rows, describeQuery, schema, ref.Name); err != nil {
		return nil, err
	}
	return gormadapter.Columns(ref, rows)
}

var _ database.MetadataSource = (*Source)(nil)
