package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
)

// TableRow is the row shape every dialect's table listing query produces.
type TableRow struct {
	TableSchema string `gorm:"column:table_schema"`
	TableName   string `gorm:"column:table_name"`
}

// ColumnRow is the row shape every dialect's describe query produces.
// Geometry fields are NULL for non-spatial columns.
type ColumnRow struct {
	ColumnName     string         `gorm:"column:column_name"`
	DataType       string         `gorm:"column:data_type"`
	Nullable       bool           `gorm:"column:nullable"`
	PrimaryKey     bool           `gorm:"column:primary_key"`
	GeometryType   sql.NullString `gorm:"column:geometry_type"`
	SRID           sql.NullInt64  `gorm:"column:srid"`
	CoordDimension sql.NullInt64  `gorm:"column:coord_dimension"`
}

// Metadata converts the row. A row without geometry info whose declared type
// is a geometry type still counts as spatial, with SRID 0.
func (r ColumnRow) Metadata() database.ColumnMetadata {
	c := database.ColumnMetadata{
		Name:       r.ColumnName,
		DataType:   r.DataType,
		Nullable:   r.Nullable,
		PrimaryKey: r.PrimaryKey,
	}
	switch {
	case r.GeometryType.Valid && r.GeometryType.String != "":
		c.Geometry = &database.GeometryInfo{
			Type:      strings.ToUpper(r.GeometryType.String),
			SRID:      int(r.SRID.Int64),
			Dimension: 2,
		}
		if r.CoordDimension.Valid && r.CoordDimension.Int64 > 0 {
			c.Geometry.Dimension = int(r.CoordDimension.Int64)
		}
	case IsGeometryTypeName(r.DataType):
		c.Geometry = &database.GeometryInfo{Type: strings.ToUpper(r.DataType), Dimension: 2}
	}
	return c
}

var geometryTypeNames = map[string]struct{}{
	"GEOMETRY": {}, "POINT": {}, "LINESTRING": {}, "POLYGON": {},
	"MULTIPOINT": {}, "MULTILINESTRING": {}, "MULTIPOLYGON": {},
	"GEOMETRYCOLLECTION": {}, "GEOMCOLLECTION": {},
}

// IsGeometryTypeName reports whether a declared column type names an OGC
// geometry type.
func IsGeometryTypeName(t string) bool {
	_, ok := geometryTypeNames[strings.ToUpper(strings.TrimSpace(t))]
	return ok
}

// Scan runs a raw query on h's session and scans the rows into dest.
func Scan(ctx context.Context, h database.Handle, dest interface{}, query string, args ...interface{}) error {
	gh, err := AsHandle(h)
	if err != nil {
		return err
	}
	if err := gh.db.WithContext(ctx).Raw(query, args...).Scan(dest).Error; err != nil {
		return fmt.Errorf("metadata query failed: %w", err)
	}
	return nil
}

// TableRefs converts listing rows.
func TableRefs(rows []TableRow) []database.TableRef {
	refs := make([]database.TableRef, 0, len(rows))
	for _, r := range rows {
		refs = append(refs, database.TableRef{Schema: r.TableSchema, Name: r.TableName})
	}
	return refs
}

// Columns converts describe rows. An empty result means the table does not
// exist (or is not visible), which is reported as an error.
func Columns(ref database.TableRef, rows []ColumnRow) ([]database.ColumnMetadata, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("table %s has no visible columns", ref.QualifiedName())
	}
	cols := make([]database.ColumnMetadata, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, r.Metadata())
	}
	return cols, nil
}
