package pool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/exception"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/logger"
)

const metadataModule = "metadata"

// MetadataCache maps table/layer names to their column descriptions.
//
// The cache has no lock of its own; it is guarded by the owning pool's
// mutex. Entries are replaced all at once by Refresh and are never updated
// in place, so returned *TableMetadata values must be treated as read-only.
type MetadataCache struct {
	pool        *ConnectionPool
	current     *catalog
	lastRefresh time.Time
}

// catalog is one immutable generation of the cache.
type catalog struct {
	byQualified map[string]*database.TableMetadata
	byShort     map[string]*database.TableMetadata
	refs        []database.TableRef
}

func newCatalog() *catalog {
	return &catalog{
		byQualified: make(map[string]*database.TableMetadata),
		byShort:     make(map[string]*database.TableMetadata),
	}
}

func (c *catalog) add(tm *database.TableMetadata) {
	qualified := tm.Ref.QualifiedName()
	if _, dup := c.byQualified[qualified]; dup {
		return
	}
	c.byQualified[qualified] = tm
	c.refs = append(c.refs, tm.Ref)
	if prev, taken := c.byShort[tm.Ref.Name]; taken {
		logger.Warnf("Table name %q is ambiguous (%s, %s); use the qualified name for the latter.",
			tm.Ref.Name, prev.Ref.QualifiedName(), qualified)
		return
	}
	c.byShort[tm.Ref.Name] = tm
}

func (c *catalog) lookup(name string) (*database.TableMetadata, bool) {
	if tm, ok := c.byQualified[name]; ok {
		return tm, true
	}
	tm, ok := c.byShort[name]
	return tm, ok
}

func newMetadataCache(p *ConnectionPool) *MetadataCache {
	return &MetadataCache{pool: p, current: newCatalog()}
}

// Lookup returns the cached metadata for an exact qualified ("schema.table")
// or short ("table") name. A miss returns *SchemaNotFoundError; call Refresh
// at least once before looking anything up.
func (c *MetadataCache) Lookup(name string) (*database.TableMetadata, error) {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	if c.pool.closed {
		return nil, ErrPoolClosed
	}
	if tm, ok := c.current.lookup(name); ok {
		return tm, nil
	}
	return nil, &SchemaNotFoundError{Name: name}
}

// Refresh rebuilds the cache. See ConnectionPool.RefreshSchemaCache.
func (c *MetadataCache) Refresh(ctx context.Context) (RefreshResult, error) {
	return c.pool.RefreshSchemaCache(ctx)
}

// Tables returns the cached table references sorted by qualified name.
func (c *MetadataCache) Tables() []database.TableRef {
	c.pool.mu.Lock()
	refs := append([]database.TableRef(nil), c.current.refs...)
	c.pool.mu.Unlock()

	sort.Slice(refs, func(i, j int) bool {
		return refs[i].QualifiedName() < refs[j].QualifiedName()
	})
	return refs
}

// Len returns the number of cached tables.
func (c *MetadataCache) Len() int {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.lenLocked()
}

// LastRefresh returns when the cache was last replaced.
func (c *MetadataCache) LastRefresh() time.Time {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.lastRefresh
}

func (c *MetadataCache) lenLocked() int {
	return len(c.current.byQualified)
}

func (c *MetadataCache) replaceLocked(next *catalog, at time.Time) {
	c.current = next
	c.lastRefresh = at
}

func (c *MetadataCache) resetLocked() {
	c.current = newCatalog()
	c.lastRefresh = time.Time{}
}

// RefreshResult summarises one metadata refresh.
type RefreshResult struct {
	Tables  int                 // tables cached after the refresh
	Skipped []database.TableRef // tables whose describe call failed
}

// RefreshSchemaCache rebuilds the metadata cache through a borrowed handle.
//
// The handle is acquired with the normal Acquire contract, so the refresh
// may wait or fail under exhaustion. A listing failure aborts the refresh
// and leaves the cache as it was. A failure to describe a single table is
// logged and that table is skipped. The handle is always released.
func (p *ConnectionPool) RefreshSchemaCache(ctx context.Context) (RefreshResult, error) {
	ctx, end := p.tracer.StartSpan(ctx, "pool.refresh_schema", p.name)
	start := time.Now()

	res, err := p.refreshSchemaCache(ctx)

	p.recorder.RecordRefresh(ctx, p.name, res.Tables, len(res.Skipped), time.Since(start), err)
	end(err)
	return res, err
}

func (p *ConnectionPool) refreshSchemaCache(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	if p.source == nil {
		return res, exception.New(metadataModule, fmt.Sprintf("no metadata source configured for %s", p.name), nil)
	}

	h, err := p.Acquire(ctx)
	if err != nil {
		return res, err
	}
	defer p.Release(h)

	refs, err := p.source.ListTables(ctx, h)
	if err != nil {
		return res, exception.New(metadataModule, fmt.Sprintf("failed to list tables for %s", p.name), err)
	}

	next := newCatalog()
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return res, exception.New(metadataModule, fmt.Sprintf("refresh of %s interrupted", p.name), err)
		}
		cols, err := p.source.Describe(ctx, h, ref)
		if err != nil {
			logger.Warnf("Skipping %s in metadata refresh for %s: %v", ref.QualifiedName(), p.name, err)
			p.tracer.RecordEvent(ctx, "describe_failed", map[string]interface{}{"table": ref.QualifiedName()})
			res.Skipped = append(res.Skipped, ref)
			continue
		}
		next.add(&database.TableMetadata{Ref: ref, Columns: cols})
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return res, ErrPoolClosed
	}
	p.cache.replaceLocked(next, time.Now())
	p.mu.Unlock()

	res.Tables = len(next.byQualified)
	logger.Infof("Metadata cache for %s refreshed: %d table(s), %d skipped.", p.name, res.Tables, len(res.Skipped))
	return res, nil
}
