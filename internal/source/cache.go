package source

import (
	"context"
	"sync"
	"time"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/util"
)

// CachedAdapter decorates an Archiver with a TTL cache over List. Remote
// listings are expensive (paginated, rate limited), and a run consults
// them repeatedly. Any write through Archive invalidates the cache so a
// later List never shows a record the run already archived.
type CachedAdapter struct {
	inner Archiver
	ttl   time.Duration

	mu       sync.Mutex
	items    []*catalog.Item
	fetched  time.Time
	hasItems bool
}

// NewCachedAdapter wraps an archiver with a listing cache
func NewCachedAdapter(inner Archiver, ttl time.Duration) *CachedAdapter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedAdapter{inner: inner, ttl: ttl}
}

func (c *CachedAdapter) Store() catalog.Store {
	return c.inner.Store()
}

// List serves the cached listing while fresh, refetching otherwise
func (c *CachedAdapter) List(ctx context.Context) ([]*catalog.Item, error) {
	c.mu.Lock()
	if c.hasItems && time.Since(c.fetched) < c.ttl {
		items := c.items
		c.mu.Unlock()
		util.DebugLog("%s: serving cached listing (%d items)", c.inner.Store(), len(items))
		return items, nil
	}
	c.mu.Unlock()

	items, err := c.inner.List(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.items = items
	c.fetched = time.Now()
	c.hasItems = true
	c.mu.Unlock()

	return items, nil
}

// Archive writes through and drops the cached listing
func (c *CachedAdapter) Archive(ctx context.Context, it *catalog.Item) error {
	if err := c.inner.Archive(ctx, it); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Invalidate drops the cached listing
func (c *CachedAdapter) Invalidate() {
	c.mu.Lock()
	c.items = nil
	c.hasItems = false
	c.mu.Unlock()
}
