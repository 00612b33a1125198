package pool_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	"github.com/tigerroll/spatialpool/pkg/spatial/core/metrics"
	"github.com/tigerroll/spatialpool/pkg/spatial/pool"
	testutil "github.com/tigerroll/spatialpool/pkg/spatial/test"
)

type resolverFunc func(cfg dbconfig.ConnectionConfig) (database.MetadataSource, error)

func (f resolverFunc) MetadataSourceFor(cfg dbconfig.ConnectionConfig) (database.MetadataSource, error) {
	return f(cfg)
}

func TestRegistry_SameTargetSamePool(t *testing.T) {
	factory := testutil.NewFakeFactory()
	r := pool.NewRegistry(factory, nil)
	defer r.Clear(context.Background())

	cfg := testutil.NewTestConfig(1, 2, 1)
	a, err := r.GetOrCreate(context.Background(), cfg)
	require.NoError(t, err)
	b, err := r.GetOrCreate(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, a, b)

	otherPassword := cfg
	otherPassword.Password = "rotated"
	c, err := r.GetOrCreate(context.Background(), otherPassword)
	require.NoError(t, err)
	assert.Same(t, a, c, "password is not part of the identity")

	otherUser := cfg
	otherUser.User = "reader"
	d, err := r.GetOrCreate(context.Background(), otherUser)
	require.NoError(t, err)
	assert.NotSame(t, a, d)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, factory.OpenCount())

	got, ok := r.Get(cfg)
	assert.True(t, ok)
	assert.Same(t, a, got)
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	factory := testutil.NewFakeFactory().WithDelay(5 * time.Millisecond)
	r := pool.NewRegistry(factory, nil)
	defer r.Clear(context.Background())

	cfg := testutil.NewTestConfig(1, 4, 1)
	const callers = 16
	pools := make([]*pool.ConnectionPool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.GetOrCreate(context.Background(), cfg)
			assert.NoError(t, err)
			pools[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range pools[1:] {
		assert.Same(t, pools[0], p)
	}
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, factory.OpenCount())
}

// gatedFactory holds opens for one database until release is closed.
type gatedFactory struct {
	*testutil.FakeFactory
	slowDB  string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedFactory(slowDB string) *gatedFactory {
	return &gatedFactory{
		FakeFactory: testutil.NewFakeFactory(),
		slowDB:      slowDB,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (f *gatedFactory) Open(ctx context.Context, cfg dbconfig.ConnectionConfig) (database.Handle, error) {
	if cfg.Database == f.slowDB {
		f.once.Do(func() { close(f.entered) })
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.FakeFactory.Open(ctx, cfg)
}

func (f *gatedFactory) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-f.entered:
	case <-time.After(time.Second):
		t.Fatal("slow open never started")
	}
}

func TestRegistry_SlowTargetDoesNotBlockOthers(t *testing.T) {
	factory := newGatedFactory("slow")
	r := pool.NewRegistry(factory, nil)
	defer r.Clear(context.Background())

	slow := testutil.NewTestConfig(1, 1, 1)
	slow.Database = "slow"
	slowErr := make(chan error, 1)
	go func() {
		_, err := r.GetOrCreate(context.Background(), slow)
		slowErr <- err
	}()
	factory.waitEntered(t)

	start := time.Now()
	fast, err := r.GetOrCreate(context.Background(), testutil.NewTestConfig(1, 1, 1))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.False(t, fast.IsClosed())

	_, ok := r.Get(slow)
	assert.False(t, ok, "a pool under construction is not registered yet")
	assert.Len(t, r.Pools(), 1)

	close(factory.release)
	require.NoError(t, <-slowErr)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ClearDuringBuildClosesPool(t *testing.T) {
	factory := newGatedFactory("slow")
	r := pool.NewRegistry(factory, nil)
	defer r.Clear(context.Background())

	slow := testutil.NewTestConfig(1, 1, 1)
	slow.Database = "slow"
	type result struct {
		p   *pool.ConnectionPool
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := r.GetOrCreate(context.Background(), slow)
		done <- result{p, err}
	}()
	factory.waitEntered(t)

	require.NoError(t, r.Clear(context.Background()))
	close(factory.release)

	res := <-done
	assert.ErrorIs(t, res.err, pool.ErrPoolClosed)
	assert.Nil(t, res.p)
	assert.Equal(t, 0, r.Len())
	opened := factory.Opened()
	require.Len(t, opened, 1)
	assert.True(t, opened[0].Closed())

	p, err := r.GetOrCreate(context.Background(), slow)
	require.NoError(t, err)
	assert.False(t, p.IsClosed())
}

func TestRegistry_ClearThenRecreate(t *testing.T) {
	factory := testutil.NewFakeFactory()
	r := pool.NewRegistry(factory, nil)

	cfg := testutil.NewTestConfig(1, 1, 1)
	first, err := r.GetOrCreate(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, r.Clear(context.Background()))
	assert.Equal(t, 0, r.Len())
	assert.True(t, first.IsClosed())

	second, err := r.GetOrCreate(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.False(t, second.IsClosed())
	second.Close()
}

func TestRegistry_CloseAllThenReplace(t *testing.T) {
	r := pool.NewRegistry(testutil.NewFakeFactory(), nil)

	a, err := r.GetOrCreate(context.Background(), testutil.NewTestConfig(1, 1, 1))
	require.NoError(t, err)
	other := testutil.NewTestConfig(1, 1, 1)
	other.Database = "osm"
	b, err := r.GetOrCreate(context.Background(), other)
	require.NoError(t, err)

	require.NoError(t, r.CloseAll(context.Background()))
	assert.True(t, a.IsClosed())
	assert.True(t, b.IsClosed())
	assert.Equal(t, 2, r.Len(), "CloseAll keeps entries")

	replaced, err := r.GetOrCreate(context.Background(), testutil.NewTestConfig(1, 1, 1))
	require.NoError(t, err)
	assert.NotSame(t, a, replaced)
	assert.Equal(t, 2, r.Len())
	require.NoError(t, r.Clear(context.Background()))
}

func TestRegistry_CloseAllRespectsContext(t *testing.T) {
	r := pool.NewRegistry(testutil.NewFakeFactory(), nil)
	_, err := r.GetOrCreate(context.Background(), testutil.NewTestConfig(1, 1, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.CloseAll(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Eventually(t, func() bool { return r.Pools()[0].IsClosed() }, time.Second, 5*time.Millisecond)
}

func TestRegistry_CreationFailureIsNotRegistered(t *testing.T) {
	factory := testutil.NewFakeFactory().FailFrom(1, errors.New("connection refused"))
	r := pool.NewRegistry(factory, nil)

	_, err := r.GetOrCreate(context.Background(), testutil.NewTestConfig(1, 1, 1))
	assert.ErrorIs(t, err, pool.ErrConnectionCreateFailed)
	assert.Equal(t, 0, r.Len())

	bad := testutil.NewTestConfig(1, 1, 1)
	bad.Host = ""
	_, err = r.GetOrCreate(context.Background(), bad)
	assert.ErrorIs(t, err, pool.ErrInvalidConfig)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ResolvesMetadataSource(t *testing.T) {
	var resolved []dbconfig.Key
	source := newCatalogSource()
	r := pool.NewRegistry(testutil.NewFakeFactory(), resolverFunc(func(cfg dbconfig.ConnectionConfig) (database.MetadataSource, error) {
		resolved = append(resolved, cfg.Key())
		if cfg.Database == "broken" {
			return nil, errors.New("no metadata source for dialect")
		}
		return source, nil
	}))
	defer r.Clear(context.Background())

	p, err := r.GetOrCreate(context.Background(), testutil.NewTestConfig(1, 1, 1))
	require.NoError(t, err)
	_, err = p.RefreshSchemaCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, p.Metadata().Len())

	broken := testutil.NewTestConfig(1, 1, 1)
	broken.Database = "broken"
	_, err = r.GetOrCreate(context.Background(), broken)
	assert.Error(t, err)
	assert.Len(t, resolved, 2)
	assert.Equal(t, 1, r.Len())
}

func TestModule_ClosesPoolsOnStop(t *testing.T) {
	factory := testutil.NewFakeFactory()
	var registry *pool.Registry

	app := fxtest.New(t,
		fx.Supply(fx.Annotate(factory, fx.As(new(database.ConnectionFactory)))),
		metrics.NoOpModule,
		pool.Module,
		fx.Populate(&registry),
	)
	app.RequireStart()

	p, err := registry.GetOrCreate(context.Background(), testutil.NewTestConfig(1, 1, 1))
	require.NoError(t, err)

	app.RequireStop()
	assert.True(t, p.IsClosed())
	assert.Equal(t, 0, registry.Len())
	for _, h := range factory.Opened() {
		assert.True(t, h.Closed())
	}
}
