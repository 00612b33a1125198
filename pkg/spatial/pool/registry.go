package pool

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/exception"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/logger"
)

// closeParallelism bounds how many pools CloseAll shuts down at once.
const closeParallelism = 8

// Registry keeps exactly one pool per backend target (dbconfig.Key).
// Build one per process and pass it to whatever needs pools.
type Registry struct {
	factory database.ConnectionFactory
	sources database.MetadataSourceResolver
	opts    []Option

	mu       sync.Mutex
	pools    map[dbconfig.Key]*ConnectionPool
	building map[dbconfig.Key]*pendingPool
	// generation changes on Clear; builds started before it are discarded.
	generation uint64
}

// pendingPool is a pool under construction. done is closed once err is set
// and, on success, the pool is registered.
type pendingPool struct {
	done chan struct{}
	err  error
}

// NewRegistry creates an empty registry. sources may be nil, in which case
// pools are created without a metadata source.
func NewRegistry(factory database.ConnectionFactory, sources database.MetadataSourceResolver, opts ...Option) *Registry {
	return &Registry{
		factory:  factory,
		sources:  sources,
		opts:     opts,
		pools:    make(map[dbconfig.Key]*ConnectionPool),
		building: make(map[dbconfig.Key]*pendingPool),
	}
}

// GetOrCreate returns the pool registered for cfg's target, creating and
// populating it if there is none (or the registered one was closed).
//
// At most one pool is built per target at a time: concurrent callers with
// equal configs wait for that build and get the same pool. The build itself
// runs outside the registry lock, so a slow target does not hold up callers
// of other targets. Configs that differ only in password map to the same
// pool. A pool whose build overlaps Clear is closed and ErrPoolClosed is
// returned.
func (r *Registry) GetOrCreate(ctx context.Context, cfg dbconfig.ConnectionConfig) (*ConnectionPool, error) {
	cfg, err := dbconfig.NewConnectionConfig(cfg)
	if err != nil {
		return nil, err
	}
	key := cfg.Key()

	for {
		r.mu.Lock()
		if p, ok := r.pools[key]; ok {
			if !p.IsClosed() {
				r.mu.Unlock()
				if p.Config().Password != cfg.Password {
					logger.Warnf("Pool for %s already exists with a different password; reusing it.", key)
				}
				return p, nil
			}
		}

		if b, ok := r.building[key]; ok {
			r.mu.Unlock()
			select {
			case <-b.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if b.err != nil && !retryBuild(b.err) {
				return nil, b.err
			}
			continue
		}

		b := &pendingPool{done: make(chan struct{})}
		r.building[key] = b
		generation := r.generation
		r.mu.Unlock()

		p, err := r.create(ctx, cfg)

		r.mu.Lock()
		if r.building[key] == b {
			delete(r.building, key)
		}
		switch {
		case err != nil:
		case r.generation != generation:
			err = ErrPoolClosed
		default:
			if old, ok := r.pools[key]; ok && old.IsClosed() {
				logger.Infof("Replacing closed pool for %s.", key)
			}
			r.pools[key] = p
		}
		r.mu.Unlock()

		if err != nil && p != nil {
			p.Close()
			p = nil
		}
		b.err = err
		close(b.done)
		return p, err
	}
}

// retryBuild reports whether a caller that waited on someone else's build
// should try again instead of sharing its error.
func retryBuild(err error) bool {
	return errors.Is(err, ErrPoolClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (r *Registry) create(ctx context.Context, cfg dbconfig.ConnectionConfig) (*ConnectionPool, error) {
	var source database.MetadataSource
	if r.sources != nil {
		var err error
		source, err = r.sources.MetadataSourceFor(cfg)
		if err != nil {
			return nil, exception.New(moduleName, "failed to resolve metadata source for "+cfg.Key().String(), err)
		}
	}
	return New(ctx, cfg, r.factory, source, r.opts...)
}

// Get returns the registered pool for cfg's target, if any.
func (r *Registry) Get(cfg dbconfig.ConnectionConfig) (*ConnectionPool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[cfg.WithDefaults().Key()]
	return p, ok
}

// Pools returns the registered pools ordered by target name.
func (r *Registry) Pools() []*ConnectionPool {
	r.mu.Lock()
	out := make([]*ConnectionPool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len returns the number of registered pools, closed ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

// CloseAll closes every registered pool in parallel. Entries stay
// registered; GetOrCreate replaces closed pools on demand. It returns
// ctx.Err() if ctx ends before every pool is closed (closing continues in
// the background).
func (r *Registry) CloseAll(ctx context.Context) error {
	return closePools(ctx, r.Pools())
}

// Clear empties the registry and closes the pools it held, so fresh pools
// can be created for the same targets. Pools still being built are closed
// when their build finishes.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	pools := make([]*ConnectionPool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.pools = make(map[dbconfig.Key]*ConnectionPool)
	r.building = make(map[dbconfig.Key]*pendingPool)
	r.generation++
	r.mu.Unlock()

	return closePools(ctx, pools)
}

func closePools(ctx context.Context, pools []*ConnectionPool) error {
	if len(pools) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(closeParallelism)
	done := make(chan error, 1)
	go func() {
		for _, p := range pools {
			g.Go(func() error {
				p.Close()
				return nil
			})
		}
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		logger.Infof("Closed %d connection pool(s).", len(pools))
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
