package database

import "strings"

// TableRef names a table or layer.
type TableRef struct {
	Schema string
	Name   string
}

// QualifiedName returns "schema.name", or just the name when no schema is set.
func (r TableRef) QualifiedName() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// String implements fmt.Stringer.
func (r TableRef) String() string {
	return r.QualifiedName()
}

// GeometryInfo describes a geometry column.
type GeometryInfo struct {
	Type      string // e.g. POINT, MULTIPOLYGON, GEOMETRY
	SRID      int
	Dimension int
}

// ColumnMetadata describes one column.
type ColumnMetadata struct {
	Name       string
	DataType   string
	Nullable   bool
	PrimaryKey bool
	Geometry   *GeometryInfo // nil for non-spatial columns
}

// IsGeometry reports whether the column holds geometries.
func (c ColumnMetadata) IsGeometry() bool {
	return c.Geometry != nil
}

// TableMetadata is the cached description of one table.
type TableMetadata struct {
	Ref     TableRef
	Columns []ColumnMetadata
}

// GeometryColumns returns the spatial columns in declaration order.
func (t *TableMetadata) GeometryColumns() []ColumnMetadata {
	var out []ColumnMetadata
	for _, c := range t.Columns {
		if c.IsGeometry() {
			out = append(out, c)
		}
	}
	return out
}

// Column finds a column by name, case-insensitively.
func (t *TableMetadata) Column(name string) (ColumnMetadata, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnMetadata{}, false
}
