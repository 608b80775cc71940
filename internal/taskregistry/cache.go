package taskregistry

import (
	"context"
	"time"

	"github.com/DM-llm/deer-flow/pkg/util"
)

// CachedRegistry wraps a Registry with a bounded, short-TTL read cache
// for Get — the hot path hit by every replay connection's initial
// alias resolution and by /tasks/{id} polling. Writes go straight
// through and evict the cached entry so readers never see a stale
// terminal-state flip.
type CachedRegistry struct {
	inner Registry
	cache *util.LRUCache[string, *TaskInfo]
}

// NewCachedRegistry wraps inner with an LRU cache of up to capacity
// entries, each valid for ttl.
func NewCachedRegistry(inner Registry, capacity int, ttl time.Duration) *CachedRegistry {
	cache, err := util.NewWithConfig(util.CacheConfig[string, *TaskInfo]{
		Capacity: capacity,
		TTL:      ttl,
	})
	if err != nil {
		// capacity is always > 0 by construction in this module; a
		// misconfigured cache degrades to "no cache" rather than panic.
		return &CachedRegistry{inner: inner}
	}
	return &CachedRegistry{inner: inner, cache: cache}
}

func (c *CachedRegistry) Create(ctx context.Context, info *TaskInfo) error {
	return c.inner.Create(ctx, info)
}

func (c *CachedRegistry) Get(ctx context.Context, taskID string) (*TaskInfo, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(taskID); ok {
			return cached.Clone(), nil
		}
	}
	t, err := c.inner.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Put(taskID, t.Clone(), 1)
	}
	return t, nil
}

func (c *CachedRegistry) Update(ctx context.Context, taskID string, mutate func(*TaskInfo) error) error {
	err := c.inner.Update(ctx, taskID, mutate)
	if c.cache != nil {
		c.cache.Remove(taskID)
	}
	return err
}

func (c *CachedRegistry) List(ctx context.Context, filter Filter) ([]*TaskInfo, error) {
	return c.inner.List(ctx, filter)
}

func (c *CachedRegistry) Delete(ctx context.Context, taskID string) error {
	err := c.inner.Delete(ctx, taskID)
	if c.cache != nil {
		c.cache.Remove(taskID)
	}
	return err
}

func (c *CachedRegistry) FindLatestByThread(ctx context.Context, threadID string) (*TaskInfo, error) {
	return c.inner.FindLatestByThread(ctx, threadID)
}

var _ Registry = (*CachedRegistry)(nil)
