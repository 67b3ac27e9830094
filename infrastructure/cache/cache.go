// Package cache provides the bounded concrete-node cache: a real LRU
// rather than a hand-rolled list+map, accelerating re-materialization
// while the persistent store remains the source of truth.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"increment/domain/schema"
)

// ConcreteNodeCache is a bounded LRU cache keyed by canonical node-key
// string, holding materialized ConcreteNode instances.
type ConcreteNodeCache struct {
	inner *lru.Cache[string, *schema.ConcreteNode]
}

// New creates a ConcreteNodeCache with the given capacity.
func New(size int) (*ConcreteNodeCache, error) {
	inner, err := lru.New[string, *schema.ConcreteNode](size)
	if err != nil {
		return nil, err
	}
	return &ConcreteNodeCache{inner: inner}, nil
}

// Get returns the cached ConcreteNode for key, if present.
func (c *ConcreteNodeCache) Get(key string) (*schema.ConcreteNode, bool) {
	return c.inner.Get(key)
}

// Add inserts or updates the cached ConcreteNode for key, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *ConcreteNodeCache) Add(key string, node *schema.ConcreteNode) {
	c.inner.Add(key, node)
}

// Keys returns all keys currently resident in the cache, most recently
// used last — used by the listMaterializedNodes debug accessor.
func (c *ConcreteNodeCache) Keys() []string {
	return c.inner.Keys()
}

// Len returns the number of entries currently cached.
func (c *ConcreteNodeCache) Len() int {
	return c.inner.Len()
}

// Purge evicts every cached entry, used when a caller wants to force
// re-materialization (e.g. after a schema-hash-changing restart).
func (c *ConcreteNodeCache) Purge() {
	c.inner.Purge()
}
