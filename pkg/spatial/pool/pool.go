// Package pool implements a bounded pool of spatial database handles with an
// embedded table/layer metadata cache, and a registry that keeps one pool per
// backend target.
package pool

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	"github.com/tigerroll/spatialpool/pkg/spatial/core/metrics"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/exception"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/logger"
)

const moduleName = "pool"

// ConnectionPool hands out a bounded number of backend handles.
//
// All state is guarded by mu. Backend I/O (opening, closing, describing)
// never runs while mu is held, so Release stays responsive while other
// goroutines are growing the pool or waiting for a handle.
//
// Handles returned by the factory must be comparable (pointer types are);
// others are closed and reported as a creation failure.
type ConnectionPool struct {
	cfg      dbconfig.ConnectionConfig
	name     string
	factory  database.ConnectionFactory
	source   database.MetadataSource
	recorder metrics.PoolRecorder
	tracer   metrics.Tracer

	mu        sync.Mutex
	available []database.Handle
	inUse     map[database.Handle]struct{}
	pending   int // slots reserved by in-flight growth
	waiting   int
	closed    bool
	// notify is closed and replaced whenever a handle may have become
	// available, waking every waiter at once.
	notify chan struct{}
	cache  *MetadataCache

	totalCreated int
	totalClosed  int
	exhaustions  int

	bgCancel context.CancelFunc
}

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	Target       string
	Available    int
	InUse        int
	Pending      int
	Waiting      int
	Max          int
	Closed       bool
	TotalCreated int
	TotalClosed  int
	Exhaustions  int
	CachedTables int
	LastRefresh  time.Time
}

// New validates cfg, opens the initial MinConnections handles and returns an
// active pool. source may be nil, in which case RefreshSchemaCache fails.
func New(ctx context.Context, cfg dbconfig.ConnectionConfig, factory database.ConnectionFactory, source database.MetadataSource, opts ...Option) (*ConnectionPool, error) {
	cfg, err := dbconfig.NewConnectionConfig(cfg)
	if err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, exception.New(moduleName, "a connection factory is required", ErrInvalidConfig)
	}

	p := &ConnectionPool{
		cfg:      cfg,
		name:     cfg.String(),
		factory:  factory,
		source:   source,
		recorder: metrics.NewNoOpPoolRecorder(),
		tracer:   metrics.NewNoOpTracer(),
		inUse:    make(map[database.Handle]struct{}),
		notify:   make(chan struct{}),
	}
	p.cache = newMetadataCache(p)
	for _, opt := range opts {
		opt(p)
	}

	if err := p.populate(ctx); err != nil {
		return nil, err
	}

	if interval := cfg.Pool.SchemaRefreshInterval; interval > 0 {
		bgCtx, cancel := context.WithCancel(context.Background())
		p.bgCancel = cancel
		go p.refreshLoop(bgCtx, interval)
	}

	logger.Infof("Connection pool for %s ready: %d handle(s), max %d, increment %d.",
		p.name, cfg.Pool.MinConnections, cfg.Pool.MaxConnections, cfg.Pool.Increment)
	return p, nil
}

// populate opens the initial handles. On failure every handle opened so far
// is closed and the creation error is returned.
func (p *ConnectionPool) populate(ctx context.Context) error {
	n := min(p.cfg.Pool.MinConnections, p.cfg.Pool.MaxConnections)
	created := make([]database.Handle, 0, n)
	for i := 0; i < n; i++ {
		h, err := p.open(ctx)
		if err != nil {
			closeHandles(p.name, created)
			return err
		}
		created = append(created, h)
	}

	p.mu.Lock()
	p.available = append(p.available, created...)
	p.totalCreated += len(created)
	p.mu.Unlock()

	p.recorder.RecordHandlesCreated(ctx, p.name, len(created))
	return nil
}

// Config returns the validated config the pool was built with.
func (p *ConnectionPool) Config() dbconfig.ConnectionConfig {
	return p.cfg
}

// Name returns the pool's target string (no credentials).
func (p *ConnectionPool) Name() string {
	return p.name
}

// Metadata returns the pool's metadata cache.
func (p *ConnectionPool) Metadata() *MetadataCache {
	return p.cache
}

// IsClosed reports whether Close has been called.
func (p *ConnectionPool) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Acquire returns a handle for exclusive use until Release.
//
// An available handle is returned without blocking. Otherwise the pool tries
// one growth step; if the pool is already at MaxConnections the caller waits
// up to AcquireTimeout for a release. Waiters are not served in any
// particular order.
//
// Errors: ErrPoolClosed, *PoolExhaustedError after the timeout,
// *ConnectionCreateError when growth fails (never retried here), and
// ErrAcquireInterrupted when ctx ends during the wait or while growing.
// A zero AcquireTimeout never waits: a full pool fails at once with
// *PoolExhaustedError.
func (p *ConnectionPool) Acquire(ctx context.Context) (database.Handle, error) {
	ctx, end := p.tracer.StartSpan(ctx, "pool.acquire", p.name)
	start := time.Now()

	h, outcome, err := p.acquire(ctx, start)

	p.recorder.RecordAcquire(ctx, p.name, outcome, time.Since(start))
	p.publishState(ctx)
	end(err)
	return h, err
}

func (p *ConnectionPool) acquire(ctx context.Context, start time.Time) (database.Handle, metrics.AcquireOutcome, error) {
	deadline := start.Add(p.cfg.Pool.AcquireTimeout)
	waited := false

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, metrics.AcquireFailed, ErrPoolClosed
		}

		if h, ok := p.takeLocked(); ok {
			p.mu.Unlock()
			if waited {
				return h, metrics.AcquireWaited, nil
			}
			return h, metrics.AcquireImmediate, nil
		}

		if n := p.reserveLocked(); n > 0 {
			p.mu.Unlock()
			h, err := p.grow(ctx, n)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrPoolClosed) {
					return nil, metrics.AcquireInterrupted, fmt.Errorf("%w: %w", ErrAcquireInterrupted, ctxErr)
				}
				return nil, metrics.AcquireFailed, err
			}
			return h, metrics.AcquireGrown, nil
		}

		// At capacity: wait for a release.
		remaining := time.Until(deadline)
		if remaining <= 0 {
			inUse := len(p.inUse)
			p.exhaustions++
			p.mu.Unlock()
			err := &PoolExhaustedError{InUse: inUse, Config: p.cfg, Waited: time.Since(start)}
			logger.Warnf("%v", err)
			return nil, metrics.AcquireExhausted, err
		}
		notify := p.notify
		p.waiting++
		p.mu.Unlock()
		waited = true

		timer := time.NewTimer(min(remaining, p.cfg.Pool.PollInterval))
		var interrupted error
		select {
		case <-notify:
		case <-timer.C:
		case <-ctx.Done():
			interrupted = ctx.Err()
		}
		timer.Stop()

		p.mu.Lock()
		p.waiting--
		p.mu.Unlock()

		if interrupted != nil {
			return nil, metrics.AcquireInterrupted, fmt.Errorf("%w: %w", ErrAcquireInterrupted, interrupted)
		}
	}
}

// takeLocked pops the most recently released handle and marks it in use.
func (p *ConnectionPool) takeLocked() (database.Handle, bool) {
	n := len(p.available)
	if n == 0 {
		return nil, false
	}
	h := p.available[n-1]
	p.available[n-1] = nil
	p.available = p.available[:n-1]
	p.inUse[h] = struct{}{}
	return h, true
}

// reserveLocked reserves up to Increment creation slots without exceeding
// MaxConnections. Zero means the pool is full.
func (p *ConnectionPool) reserveLocked() int {
	total := len(p.available) + len(p.inUse) + p.pending
	n := min(p.cfg.Pool.Increment, p.cfg.Pool.MaxConnections-total)
	if n <= 0 {
		return 0
	}
	p.pending += n
	return n
}

// grow opens up to n reserved handles. The first one is handed to the caller,
// the rest become available. A creation error stops the step; handles opened
// before it are kept.
func (p *ConnectionPool) grow(ctx context.Context, n int) (database.Handle, error) {
	created := make([]database.Handle, 0, n)
	var createErr error
	for i := 0; i < n; i++ {
		h, err := p.open(ctx)
		if err != nil {
			createErr = err
			break
		}
		created = append(created, h)
	}

	p.mu.Lock()
	p.pending -= n
	if p.closed {
		p.mu.Unlock()
		closeHandles(p.name, created)
		return nil, ErrPoolClosed
	}
	p.totalCreated += len(created)

	var first database.Handle
	if createErr == nil {
		first, created = created[0], created[1:]
		p.inUse[first] = struct{}{}
	}
	p.available = append(p.available, created...)
	// Freed reservations or new handles: either way waiters should re-check.
	p.broadcastLocked()
	p.mu.Unlock()

	count := len(created)
	if first != nil {
		count++
	}
	if count > 0 {
		p.recorder.RecordHandlesCreated(ctx, p.name, count)
		logger.Debugf("Pool %s grew by %d handle(s).", p.name, count)
	}
	if createErr != nil {
		return nil, createErr
	}
	return first, nil
}

// open creates one handle, bounded by ConnectTimeout.
func (p *ConnectionPool) open(ctx context.Context) (database.Handle, error) {
	openCtx := ctx
	if t := p.cfg.Pool.ConnectTimeout; t > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	h, err := p.factory.Open(openCtx, p.cfg)
	if err == nil && h == nil {
		err = errors.New("connection factory returned a nil handle")
	}
	if err == nil && !reflect.TypeOf(h).Comparable() {
		if closeErr := h.Close(); closeErr != nil {
			logger.Warnf("Failed to close rejected handle for %s: %v", p.name, closeErr)
		}
		err = fmt.Errorf("connection factory returned a handle of non-comparable type %T", h)
	}
	if err != nil {
		p.recorder.RecordHandleCreateFailure(ctx, p.name)
		logger.Errorf("Failed to open handle for %s: %v", p.name, err)
		return nil, &ConnectionCreateError{Config: p.cfg, Cause: err}
	}
	logger.Debugf("Opened handle %s for %s.", h.ID(), p.name)
	return h, nil
}

// broadcastLocked wakes every goroutine waiting in Acquire.
func (p *ConnectionPool) broadcastLocked() {
	close(p.notify)
	p.notify = make(chan struct{})
}

// Release returns h to the pool.
//
// Releasing nil, a handle that is already available, a handle this pool does
// not own, or any handle after Close is a no-op.
func (p *ConnectionPool) Release(h database.Handle) {
	if h == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		logger.Debugf("Ignoring release of handle %s: pool %s is closed.", h.ID(), p.name)
		return
	}
	if _, ok := p.inUse[h]; ok {
		delete(p.inUse, h)
		p.available = append(p.available, h)
		p.broadcastLocked()
		p.mu.Unlock()
		p.publishState(context.Background())
		return
	}
	alreadyAvailable := p.isAvailableLocked(h)
	p.mu.Unlock()

	if alreadyAvailable {
		logger.Warnf("Handle %s released twice to pool %s; ignoring.", h.ID(), p.name)
	} else {
		logger.Warnf("Handle %s is not owned by pool %s; ignoring release.", h.ID(), p.name)
	}
}

func (p *ConnectionPool) isAvailableLocked(h database.Handle) bool {
	for _, a := range p.available {
		if a == h {
			return true
		}
	}
	return false
}

// Close closes every handle, available or in use, and discards the metadata
// cache. It is idempotent. Individual close failures are logged; Close itself
// never fails. Goroutines blocked in Acquire return ErrPoolClosed.
func (p *ConnectionPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	handles := make([]database.Handle, 0, len(p.available)+len(p.inUse))
	handles = append(handles, p.available...)
	for h := range p.inUse {
		handles = append(handles, h)
	}
	p.available = nil
	p.inUse = make(map[database.Handle]struct{})
	p.cache.resetLocked()
	p.broadcastLocked()
	cancel := p.bgCancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	closed := closeHandles(p.name, handles)

	p.mu.Lock()
	p.totalClosed += closed
	p.mu.Unlock()

	ctx := context.Background()
	p.recorder.RecordHandlesClosed(ctx, p.name, closed)
	p.publishState(ctx)
	logger.Infof("Connection pool for %s closed (%d of %d handle(s) closed cleanly).", p.name, closed, len(handles))
}

// closeHandles closes each handle, logging failures. It returns how many
// closed without error.
func closeHandles(name string, handles []database.Handle) int {
	var errs *multierror.Error
	for _, h := range handles {
		if err := h.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("handle %s: %w", h.ID(), err))
		}
	}
	if errs.ErrorOrNil() != nil {
		logger.Errorf("Failed to close %d handle(s) for %s: %v", len(errs.Errors), name, errs)
		return len(handles) - len(errs.Errors)
	}
	return len(handles)
}

// Stats returns a snapshot of the pool's counters.
func (p *ConnectionPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Target:       p.name,
		Available:    len(p.available),
		InUse:        len(p.inUse),
		Pending:      p.pending,
		Waiting:      p.waiting,
		Max:          p.cfg.Pool.MaxConnections,
		Closed:       p.closed,
		TotalCreated: p.totalCreated,
		TotalClosed:  p.totalClosed,
		Exhaustions:  p.exhaustions,
		CachedTables: p.cache.lenLocked(),
		LastRefresh:  p.cache.lastRefresh,
	}
}

func (p *ConnectionPool) publishState(ctx context.Context) {
	p.mu.Lock()
	available, inUse, waiting := len(p.available), len(p.inUse), p.waiting
	p.mu.Unlock()
	p.recorder.RecordPoolState(ctx, p.name, available, inUse, waiting)
}

// refreshLoop refreshes the metadata cache every interval until ctx ends.
func (p *ConnectionPool) refreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RefreshSchemaCache(ctx); err != nil {
				if errors.Is(err, ErrPoolClosed) || ctx.Err() != nil {
					return
				}
				logger.Warnf("Background metadata refresh for %s failed: %v", p.name, err)
			}
		}
	}
}
