package project

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Weigher assigns a caller-defined weight to a cached repository handle
// (spec §4.5's "manager keeps a weighted cache" — the real upstream
// project weighs open repositories by their resident working-tree size,
// not by count).
type Weigher[V any] func(key string, value V) int

// weightedCache wraps hashicorp/golang-lru's plain by-count LRU with a
// total-weight budget: golang-lru/v2 only evicts by entry count, so an
// enforced capacity in bytes/weight needs a thin layer tracking and
// trimming by weight on top of it.
type weightedCache[V any] struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, V]
	weigher  Weigher[V]
	maxTotal int
	weights  map[string]int
	total    int
}

func newWeightedCache[V any](maxEntries, maxTotalWeight int, weigher Weigher[V]) (*weightedCache[V], error) {
	c := &weightedCache[V]{
		weigher:  weigher,
		maxTotal: maxTotalWeight,
		weights:  make(map[string]int),
	}
	inner, err := lru.NewWithEvict[string, V](maxEntries, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = inner
	return c, nil
}

// onEvict keeps the weight ledger consistent whenever golang-lru's own
// count-based eviction removes an entry out from under us.
func (c *weightedCache[V]) onEvict(key string, _ V) {
	c.total -= c.weights[key]
	delete(c.weights, key)
}

func (c *weightedCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

func (c *weightedCache[V]) Add(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.weights[key]; ok {
		c.total -= old
	}
	w := c.weigher(key, value)
	c.weights[key] = w
	c.total += w
	c.lru.Add(key, value)
	c.trimLocked()
}

func (c *weightedCache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// trimLocked evicts the least-recently-used entries until the total
// weight is back under budget. golang-lru/v2's Keys() returns entries
// oldest-first, which is exactly the eviction order we want here.
func (c *weightedCache[V]) trimLocked() {
	for c.total > c.maxTotal {
		keys := c.lru.Keys()
		if len(keys) == 0 {
			return
		}
		c.lru.Remove(keys[0]) // triggers onEvict, which updates c.total
	}
}
