// Package cache implements the §4.I LRU cache that sits between the
// chunk engine and a storage provider. Keys map to Cachable objects -
// raw bytes are just as cachable as a deserialized Chunk or encoder, as
// long as they can report their own exact size. Eviction is by byte
// budget, least-recently-used first; dirty entries are flushed (not
// dropped) on eviction and on an explicit Flush call.
package cache

import (
	"github.com/pkg/errors"
	lru "github.com/hashicorp/golang-lru/v2"
)

// maxTrackedKeys bounds the underlying LRU's key count, not its byte
// budget - eviction is actually driven by TotalSize vs the configured
// byte budget in evictUntilWithinBudget. This is large enough that the
// count cap never binds in practice; it exists only because the
// wrapped library requires a positive size.
const maxTrackedKeys = 1 << 20

// Cachable is the object interface the cache and storage layer share
// (spec §6 "Cachable object interface"): exact size without
// serializing, and exact serialization.
type Cachable interface {
	NBytes() int
	ToBytes() []byte
}

type entry struct {
	value Cachable
	dirty bool
}

// FlushFunc writes a dirty entry's bytes to the backing store.
type FlushFunc func(key string, value Cachable) error

// Cache is a byte-budgeted LRU cache of Cachable values.
type Cache struct {
	budget    uint64
	totalSize uint64
	lru       *lru.Cache[string, *entry]
	flush     FlushFunc
}

// New returns a cache that evicts clean entries, and flushes-then-evicts
// dirty ones, once TotalSize would exceed budget bytes. flush is called
// for every dirty entry removed, whether by eviction or by an explicit
// Flush call.
func New(budget uint64, flush FlushFunc) *Cache {
	c := &Cache{budget: budget, flush: flush}
	backing, err := lru.NewWithEvict[string, *entry](maxTrackedKeys, func(key string, e *entry) {
		c.totalSize -= uint64(e.value.NBytes())
	})
	if err != nil {
		// maxTrackedKeys is a positive compile-time constant; this can
		// only happen if the constant itself is invalid.
		panic(err)
	}
	c.lru = backing
	return c
}

// TotalSize reports the cache's current byte usage.
func (c *Cache) TotalSize() uint64 {
	return c.totalSize
}

// Get returns the cached value for key, whether it is dirty, and
// whether it was present. A present lookup counts as a use for LRU
// ordering purposes.
func (c *Cache) Get(key string) (value Cachable, dirty bool, ok bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false, false
	}
	return e.value, e.dirty, true
}

// Put inserts or replaces key's value. A value larger than the cache's
// entire budget is never cached - Put returns nil rather than an error,
// so callers just fall back to reading through to the provider. A dirty
// value of that size is written through the flush function first.
func (c *Cache) Put(key string, value Cachable, dirty bool) error {
	// Remove triggers the eviction callback, which already subtracts
	// the replaced entry's size from totalSize.
	c.lru.Remove(key)

	size := uint64(value.NBytes())
	if size > c.budget {
		if dirty {
			return c.flushOne(key, &entry{value: value, dirty: true})
		}
		return nil
	}

	c.lru.Add(key, &entry{value: value, dirty: dirty})
	c.totalSize += size
	return c.evictUntilWithinBudget()
}

// MarkDirty flags an already-cached entry as needing a flush before
// eviction. It is a no-op if key is not cached.
func (c *Cache) MarkDirty(key string) {
	if e, ok := c.lru.Peek(key); ok {
		e.dirty = true
	}
}

// evictUntilWithinBudget drops least-recently-used entries - flushing
// dirty ones first - until TotalSize fits within budget.
func (c *Cache) evictUntilWithinBudget() error {
	for c.totalSize > c.budget {
		keys := c.lru.Keys()
		if len(keys) == 0 {
			break
		}
		oldest := keys[0]
		e, ok := c.lru.Peek(oldest)
		if !ok {
			break
		}
		if e.dirty {
			if err := c.flushOne(oldest, e); err != nil {
				return err
			}
		}
		c.lru.Remove(oldest)
	}
	return nil
}

func (c *Cache) flushOne(key string, e *entry) error {
	if c.flush == nil {
		return errors.Errorf("cache: no flush function configured, cannot evict dirty key %q", key)
	}
	if err := c.flush(key, e.value); err != nil {
		return errors.Wrapf(err, "cache: flushing dirty key %q", key)
	}
	e.dirty = false
	return nil
}

// Flush writes every dirty entry to the backing store via the cache's
// configured FlushFunc, without evicting them (spec §4.I: "dirty items
// flushed on eviction or on explicit flush()").
func (c *Cache) Flush() error {
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok || !e.dirty {
			continue
		}
		if err := c.flushOne(key, e); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops key from the cache without flushing it, regardless of
// dirty state.
func (c *Cache) Remove(key string) {
	c.lru.Remove(key)
}

// Contains reports whether key is currently cached, without affecting
// LRU order.
func (c *Cache) Contains(key string) bool {
	return c.lru.Contains(key)
}
