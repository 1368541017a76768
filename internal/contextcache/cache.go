// Package contextcache is the local lookup of parent-context metadata used to
// backfill entries the server sends without a full parentInfo snapshot. A miss
// is never an error; the merge simply skips backfill.
package contextcache

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/studyhall/liveview/internal/metrics"
	"github.com/studyhall/liveview/internal/model"
)

// Cache maps context id to ParentContext. All methods are safe for concurrent
// use and never block on anything beyond the in-process store.
type Cache struct {
	store *ristretto.Cache[string, model.ParentContext]
}

// New creates an empty cache.
func New() (*Cache, error) {
	store, err := ristretto.NewCache(&ristretto.Config[string, model.ParentContext]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("contextcache: %w", err)
	}
	return &Cache{store: store}, nil
}

// Get returns the cached context for id. ok is false on a miss.
func (c *Cache) Get(id string) (model.ParentContext, bool) {
	pc, ok := c.store.Get(id)
	if ok {
		metrics.CountCacheHit()
	} else {
		metrics.CountCacheMiss()
	}
	return pc, ok
}

// Put stores or replaces a context.
func (c *Cache) Put(pc model.ParentContext) {
	c.store.Set(pc.ID, pc, 1)
	c.store.Wait()
}

// Invalidate drops a context, typically on a context.deleted frame.
func (c *Cache) Invalidate(id string) {
	c.store.Del(id)
}

// ReplaceAll swaps the cache contents for a freshly fetched context list.
func (c *Cache) ReplaceAll(list []model.ParentContext) {
	c.store.Clear()
	for _, pc := range list {
		c.store.Set(pc.ID, pc, 1)
	}
	c.store.Wait()
}

// Close releases the underlying store.
func (c *Cache) Close() {
	c.store.Close()
}
