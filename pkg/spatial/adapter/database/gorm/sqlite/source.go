package sqlite

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	gormadapter "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm"
)

// SpatiaLite bookkeeping tables are not layers.
const listTablesQuery = `SELECT '' AS table_schema, name AS table_name
FROM sqlite_master
WHERE type IN ('table', 'view')
  AND name NOT LIKE 'sqlite_%'
  AND name NOT LIKE 'idx_%'
  AND name NOT LIKE 'geometry_columns%'
  AND name NOT LIKE 'views_geometry_columns%'
  AND name NOT LIKE 'virts_geometry_columns%'
  AND name NOT LIKE 'spatial_ref_sys%'
  AND name NOT LIKE 'spatialite_%'
  AND name NOT IN ('sql_statements_log', 'SpatialIndex', 'ElementaryGeometries', 'KNN', 'KNN2', 'data_licenses')
ORDER BY name`

const describeQuery = `SELECT name AS column_name,
  type AS data_type,
  "notnull" = 0 AS nullable,
  pk > 0 AS primary_key
FROM pragma_table_info(?)
ORDER BY cid`

const hasGeometryColumnsQuery = `SELECT COUNT(*) AS n FROM sqlite_master
WHERE type = 'table' AND name = 'geometry_columns'`

const geometryColumnsQuery = `SELECT f_geometry_column AS column_name,
  geometry_type AS geometry_type,
  srid,
  coord_dimension AS coord_dimension
FROM geometry_columns
WHERE lower(f_table_name) = lower(?)`

// Source describes SpatiaLite layers. Geometry details come from the
// geometry_columns table when the database has one.
type Source struct{}

// NewSource creates the SpatiaLite metadata source.
func NewSource(dbconfig.ConnectionConfig) database.MetadataSource {
	return &Source{}
}

// ListTables implements database.MetadataSource.
func (s *Source) ListTables(ctx context.Context, h database.Handle) ([]database.TableRef, error) {
	var rows []gormadapter.TableRow
	if err := gormadapter.Scan(ctx, h, &rows, listTablesQuery); err != nil {
		return nil, err
	}
	return gormadapter.TableRefs(rows), nil
}

type geometryRow struct {
	ColumnName     string         `gorm:"column:column_name"`
	GeometryType   sql.NullString `gorm:"column:geometry_type"`
	SRID           sql.NullInt64  `gorm:"column:srid"`
	CoordDimension sql.NullString `gorm:"column:coord_dimension"`
}

// Describe implements database.MetadataSource.
func (s *Source) Describe(ctx context.Context, h database.Handle, ref database.TableRef) ([]database.ColumnMetadata, error) {
	var rows []gormadapter.ColumnRow
	if err := gormadapter.Scan(ctx, h, &rows, describeQuery, ref.Name); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return gormadapter.Columns(ref, rows)
	}

	var n []int64
	if err := gormadapter.Scan(ctx, h, &n, hasGeometryColumnsQuery); err != nil {
		return nil, err
	}
	if len(n) == 1 && n[0] > 0 {
		var geoms []geometryRow
		if err := gormadapter.Scan(ctx, h, &geoms, geometryColumnsQuery, ref.Name); err != nil {
			return nil, err
		}
		mergeGeometry(rows, geoms)
	}
	return gormadapter.Columns(ref, rows)
}

func mergeGeometry(rows []gormadapter.ColumnRow, geoms []geometryRow) {
	for _, g := range geoms {
		for i := range rows {
			if !strings.EqualFold(rows[i].ColumnName, g.ColumnName) {
				continue
			}
			typ, dim := decodeGeometryType(g.GeometryType.String)
			if d := decodeDimension(g.CoordDimension.String); d > 0 {
				dim = d
			}
			rows[i].GeometryType = sql.NullString{String: typ, Valid: typ != ""}
			rows[i].SRID = g.SRID
			rows[i].CoordDimension = sql.NullInt64{Int64: int64(dim), Valid: dim > 0}
		}
	}
}

var geometryTypeCodes = map[int]string{
	0: "GEOMETRY", 1: "POINT", 2: "LINESTRING", 3: "POLYGON",
	4: "MULTIPOINT", 5: "MULTILINESTRING", 6: "MULTIPOLYGON", 7: "GEOMETRYCOLLECTION",
}

// decodeGeometryType understands both the SpatiaLite 4 integer codes
// (1000s digit: 0=XY, 1=XYZ, 2=XYM, 3=XYZM) and the legacy text names.
func decodeGeometryType(v string) (string, int) {
	code, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(v)), 0
	}
	name, ok := geometryTypeCodes[code%1000]
	if !ok {
		return "GEOMETRY", 0
	}
	switch code / 1000 {
	case 1, 2:
		return name, 3
	case 3:
		return name, 4
	default:
		return name, 2
	}
}

func decodeDimension(v string) int {
	v = strings.ToUpper(strings.TrimSpace(v))
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	switch v {
	case "XY":
		return 2
	case "XYZ", "XYM":
		return 3
	case "XYZM":
		return 4
	}
	return 0
}

var _ database.MetadataSource = (*Source)(nil)
