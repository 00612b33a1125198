package pool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	"github.com/tigerroll/spatialpool/pkg/spatial/pool"
	testutil "github.com/tigerroll/spatialpool/pkg/spatial/test"
)

var (
	roads    = database.TableRef{Schema: "public", Name: "roads"}
	parcels  = database.TableRef{Schema: "public", Name: "parcels"}
	rivers   = database.TableRef{Schema: "hydro", Name: "rivers"}
	roadsAlt = database.TableRef{Schema: "archive", Name: "roads"}
)

func geomColumn(name, geomType string, srid int) database.ColumnMetadata {
	return database.ColumnMetadata{
		Name:     name,
		DataType: "geometry",
		Nullable: true,
		Geometry: &database.GeometryInfo{Type: geomType, SRID: srid, Dimension: 2},
	}
}

func idColumn() database.ColumnMetadata {
	return database.ColumnMetadata{Name: "id", DataType: "integer", PrimaryKey: true}
}

func newCatalogSource() *testutil.StaticMetadataSource {
	return &testutil.StaticMetadataSource{
		Tables: map[database.TableRef][]database.ColumnMetadata{
			roads:   {idColumn(), geomColumn("geom", "LINESTRING", 4326)},
			parcels: {idColumn(), geomColumn("geom", "MULTIPOLYGON", 3857)},
			rivers:  {idColumn(), geomColumn("shape", "LINESTRING", 4326)},
		},
		Order: []database.TableRef{roads, parcels, rivers},
	}
}

func newPoolWithSource(t *testing.T, source database.MetadataSource, minConns, maxConns int) (*pool.ConnectionPool, *testutil.FakeFactory) {
	t.Helper()
	factory := testutil.NewFakeFactory()
	p, err := pool.New(context.Background(), testutil.NewTestConfig(minConns, maxConns, 1), factory, source)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, factory
}

func TestRefreshSchemaCache_PopulatesCache(t *testing.T) {
	p, _ := newPoolWithSource(t, newCatalogSource(), 1, 1)

	res, err := p.RefreshSchemaCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Tables)
	assert.Empty(t, res.Skipped)

	cache := p.Metadata()
	assert.Equal(t, 3, cache.Len())
	assert.False(t, cache.LastRefresh().IsZero())
	assert.Equal(t, []database.TableRef{rivers, parcels, roads}, cache.Tables())

	tm, err := cache.Lookup("public.roads")
	require.NoError(t, err)
	assert.Equal(t, roads, tm.Ref)
	require.Len(t, tm.GeometryColumns(), 1)
	assert.Equal(t, 4326, tm.GeometryColumns()[0].Geometry.SRID)

	byShort, err := cache.Lookup("rivers")
	require.NoError(t, err)
	assert.Equal(t, rivers, byShort.Ref)

	assert.Equal(t, 0, p.Stats().InUse, "refresh must release its handle")
}

func TestLookup_Miss(t *testing.T) {
	p, _ := newPoolWithSource(t, newCatalogSource(), 1, 1)

	_, err := p.Metadata().Lookup("public.roads")
	assert.ErrorIs(t, err, pool.ErrSchemaNotFound, "empty cache before the first refresh")

	_, err = p.RefreshSchemaCache(context.Background())
	require.NoError(t, err)

	_, err = p.Metadata().Lookup("public.lakes")
	require.Error(t, err)
	var notFound *pool.SchemaNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "public.lakes", notFound.Name)

	_, err = p.Metadata().Lookup("ROADS")
	assert.ErrorIs(t, err, pool.ErrSchemaNotFound, "lookup is exact")
}

func TestLookup_AmbiguousShortNameKeepsFirst(t *testing.T) {
	source := newCatalogSource()
	source.Tables[roadsAlt] = []database.ColumnMetadata{idColumn()}
	source.Order = append(source.Order, roadsAlt)
	p, _ := newPoolWithSource(t, source, 1, 1)

	_, err := p.RefreshSchemaCache(context.Background())
	require.NoError(t, err)

	tm, err := p.Metadata().Lookup("roads")
	require.NoError(t, err)
	assert.Equal(t, roads, tm.Ref)

	alt, err := p.Metadata().Lookup("archive.roads")
	require.NoError(t, err)
	assert.Equal(t, roadsAlt, alt.Ref)
}

func TestRefreshSchemaCache_SkipsFailedDescribe(t *testing.T) {
	source := newCatalogSource()
	source.Fail = map[database.TableRef]error{parcels: errors.New("permission denied for table parcels")}
	p, _ := newPoolWithSource(t, source, 1, 1)

	res, err := p.RefreshSchemaCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tables)
	assert.Equal(t, []database.TableRef{parcels}, res.Skipped)
	assert.Equal(t, 2, p.Metadata().Len())

	_, err = p.Metadata().Lookup("public.parcels")
	assert.ErrorIs(t, err, pool.ErrSchemaNotFound)
}

func TestRefreshSchemaCache_ListFailureKeepsPreviousCache(t *testing.T) {
	source := newCatalogSource()
	p, _ := newPoolWithSource(t, source, 1, 1)

	_, err := p.RefreshSchemaCache(context.Background())
	require.NoError(t, err)
	before := p.Metadata().LastRefresh()

	source.ListErr = errors.New("relation geometry_columns does not exist")
	_, err = p.RefreshSchemaCache(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ListErr)

	assert.Equal(t, 3, p.Metadata().Len())
	assert.Equal(t, before, p.Metadata().LastRefresh())
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestRefreshSchemaCache_ReleasesHandleWithMock(t *testing.T) {
	source := new(testutil.MockMetadataSource)
	p, _ := newPoolWithSource(t, source, 1, 1)

	source.On("ListTables", mock.Anything, mock.Anything).
		Return([]database.TableRef{roads, parcels}, nil).Once()
	source.On("Describe", mock.Anything, mock.Anything, roads).
		Return([]database.ColumnMetadata{idColumn()}, nil).Once()
	source.On("Describe", mock.Anything, mock.Anything, parcels).
		Return(nil, errors.New("timeout")).Once()

	res, err := p.RefreshSchemaCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tables)
	assert.Len(t, res.Skipped, 1)
	source.AssertExpectations(t)
	assert.Equal(t, 0, p.Stats().InUse)

	source.On("ListTables", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset")).Once()
	_, err = p.RefreshSchemaCache(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, p.Stats().InUse)
	assert.Equal(t, 1, p.Stats().Available)
}

func TestRefreshSchemaCache_SubjectToExhaustion(t *testing.T) {
	p, _ := newPoolWithSource(t, newCatalogSource(), 1, 1)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(held)

	_, err = p.RefreshSchemaCache(context.Background())
	assert.ErrorIs(t, err, pool.ErrPoolExhausted)
	assert.Equal(t, 0, p.Metadata().Len())
}

func TestRefreshSchemaCache_WithoutSource(t *testing.T) {
	p, _ := newPoolWithSource(t, nil, 1, 1)

	_, err := p.RefreshSchemaCache(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestClose_DiscardsMetadata(t *testing.T) {
	p, _ := newPoolWithSource(t, newCatalogSource(), 1, 1)
	_, err := p.RefreshSchemaCache(context.Background())
	require.NoError(t, err)

	p.Close()

	_, err = p.Metadata().Lookup("public.roads")
	assert.ErrorIs(t, err, pool.ErrPoolClosed)
	assert.Equal(t, 0, p.Metadata().Len())

	_, err = p.RefreshSchemaCache(context.Background())
	assert.ErrorIs(t, err, pool.ErrPoolClosed)
}

func TestBackgroundRefresh(t *testing.T) {
	cfg := testutil.NewTestConfig(1, 1, 1)
	cfg.Pool.SchemaRefreshInterval = 20 * time.Millisecond
	p, err := pool.New(context.Background(), cfg, testutil.NewFakeFactory(), newCatalogSource())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return p.Metadata().Len() == 3 }, 2*time.Second, 10*time.Millisecond)

	p.Close()
	assert.Equal(t, 0, p.Metadata().Len())
}
