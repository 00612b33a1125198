package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/spatialpool/internal/app"
	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	gormadapter "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm"
	"github.com/tigerroll/spatialpool/pkg/spatial/pool"
	testutil "github.com/tigerroll/spatialpool/pkg/spatial/test"
)

const layersFixture = `
CREATE TABLE roads (id INTEGER PRIMARY KEY, name TEXT NOT NULL, geom BLOB);
CREATE TABLE parks (id INTEGER PRIMARY KEY, area POLYGON);
CREATE TABLE geometry_columns (
  f_table_name TEXT NOT NULL,
  f_geometry_column TEXT NOT NULL,
  geometry_type INTEGER NOT NULL,
  coord_dimension INTEGER NOT NULL,
  srid INTEGER NOT NULL,
  spatial_index_enabled INTEGER NOT NULL
);
INSERT INTO geometry_columns VALUES ('roads', 'geom', 1002, 3, 4326, 0);
`

// writeWorkspace creates a SpatiaLite file with the fixture and a config
// file pointing at it, and returns the config path and the database path.
func writeWorkspace(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "layers.db")

	h, err := gormadapter.NewConnectionFactory().Open(context.Background(), dbconfig.ConnectionConfig{
		Type:     dbconfig.TypeSQLite,
		Database: dbPath,
	})
	require.NoError(t, err)
	gh, err := gormadapter.AsHandle(h)
	require.NoError(t, err)
	_, err = gh.SQLDB().Exec(layersFixture)
	require.NoError(t, err)
	require.NoError(t, gh.Close())

	yaml := fmt.Sprintf(`
spatialpool:
  system:
    logging:
      level: ERROR
  datasources:
    local:
      type: sqlite
      database: %s
      pool:
        acquire_timeout: 500ms
`, dbPath)
	configPath := filepath.Join(dir, "spatialpool.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o600))
	return configPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := app.NewRootCommand("test")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTablesCommand(t *testing.T) {
	configPath, _ := writeWorkspace(t)

	out, err := execute(t, "--config", configPath, "tables", "local", "--describe")
	require.NoError(t, err)

	assert.Regexp(t, `parks\s+2\s+area`, out)
	assert.Regexp(t, `roads\s+3\s+geom`, out)
	assert.Regexp(t, `geom\s+LINESTRING\s+srid=4326 dim=3`, out)
}

func TestDescribeCommand(t *testing.T) {
	configPath, _ := writeWorkspace(t)

	out, err := execute(t, "--config", configPath, "describe", "local", "roads")
	require.NoError(t, err)
	assert.Contains(t, out, "# roads")
	assert.Contains(t, out, "LINESTRING(4326) dim=3")
}

func TestDescribeCommand_UnknownTable(t *testing.T) {
	configPath, _ := writeWorkspace(t)

	_, err := execute(t, "--config", configPath, "describe", "local", "rivers")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pool.ErrSchemaNotFound), "got %v", err)
}

func TestStatsCommand_JSON(t *testing.T) {
	configPath, dbPath := writeWorkspace(t)

	out, err := execute(t, "--config", configPath, "stats", "--json")
	require.NoError(t, err)

	var stats []pool.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "sqlite://"+dbPath, stats[0].Target)
	assert.Equal(t, 1, stats[0].Available)
	assert.Equal(t, 1, stats[0].TotalCreated)
}

func TestCommand_UnknownDatasource(t *testing.T) {
	configPath, _ := writeWorkspace(t)

	_, err := execute(t, "--config", configPath, "tables", "nowhere")
	assert.ErrorContains(t, err, "nowhere")
}

func TestCommand_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "stats")
	assert.ErrorContains(t, err, "absent.yaml")
}

func TestRun_ClosesPoolsOnStop(t *testing.T) {
	configPath, _ := writeWorkspace(t)
	raw, err := os.ReadFile(configPath)
	require.NoError(t, err)

	var opened *pool.ConnectionPool
	err = app.Run(context.Background(), app.Options{Raw: raw}, func(ctx context.Context, rt *app.Runtime) error {
		opened, err = rt.OpenPool(ctx, "local")
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, opened)
	assert.True(t, opened.IsClosed())
}

func TestRun_ReportsCommandError(t *testing.T) {
	configPath, _ := writeWorkspace(t)
	raw, err := os.ReadFile(configPath)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = app.Run(context.Background(), app.Options{Raw: raw}, func(context.Context, *app.Runtime) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestProbe(t *testing.T) {
	factory := testutil.NewFakeFactory()
	p, err := pool.New(context.Background(), testutil.NewTestConfig(1, 2, 1), factory, nil)
	require.NoError(t, err)
	defer p.Close()

	res, err := app.Probe(context.Background(), p, 4, 5, time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, int64(20), res.Acquired+res.Exhausted)
	assert.LessOrEqual(t, res.Stats.TotalCreated, 2)
	assert.Equal(t, 0, res.Stats.InUse)
}
