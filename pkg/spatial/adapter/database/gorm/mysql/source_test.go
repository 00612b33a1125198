package mysql_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	gormadapter "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm"
	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm/mysql"
)

// setupMySQLMock opens a gorm handle over sqlmock using the mysql dialector.
func setupMySQLMock(t *testing.T) (*gormadapter.Handle, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	h, err := gormadapter.NewHandle(gormDB)
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		assert.NoError(t, h.Close())
	})
	return h, mock
}

func TestSource_ListTablesUsesDatabaseAsSchema(t *testing.T) {
	h, mock := setupMySQLMock(t)
	source := mysql.NewSource(dbconfig.ConnectionConfig{Type: dbconfig.TypeMySQL, Database: "gis"})

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.TABLES")).
		WithArgs("gis").
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}).
			AddRow("gis", "buildings").
			AddRow("gis", "parks"))

	refs, err := source.ListTables(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, []database.TableRef{
		{Schema: "gis", Name: "buildings"},
		{Schema: "gis", Name: "parks"},
	}, refs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSource_Describe(t *testing.T) {
	h, mock := setupMySQLMock(t)
	source := mysql.NewSource(dbconfig.ConnectionConfig{Database: "gis"})

	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN information_schema.ST_GEOMETRY_COLUMNS g")).
		WithArgs("gis", "parks").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "nullable", "primary_key", "geometry_type", "srid", "coord_dimension"}).
			AddRow("id", "bigint", false, true, nil, nil, nil).
			AddRow("area", "polygon", false, false, "polygon", 3857, nil).
			AddRow("centroid", "point", true, false, nil, nil, nil))

	cols, err := source.Describe(context.Background(), h, database.TableRef{Name: "parks"})
	require.NoError(t, err)
	require.Len(t, cols, 3)

	require.True(t, cols[1].IsGeometry())
	assert.Equal(t, database.GeometryInfo{Type: "POLYGON", SRID: 3857, Dimension: 2}, *cols[1].Geometry)

	require.True(t, cols[2].IsGeometry(), "declared geometry type without catalogue entry")
	assert.Equal(t, "POINT", cols[2].Geometry.Type)
	assert.Equal(t, 0, cols[2].Geometry.SRID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionString(t *testing.T) {
	dsn := mysql.ConnectionString(dbconfig.ConnectionConfig{
		Host:     "mysql.internal",
		Port:     3306,
		User:     "gis",
		Password: "p@ss",
		Database: "osm",
		Pool:     dbconfig.PoolConfig{ConnectTimeout: 3 * time.Second},
	})
	assert.Contains(t, dsn, "gis:p@ss@tcp(mysql.internal:3306)/osm?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "timeout=3s")
}
