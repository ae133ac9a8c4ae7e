package store

import (
	"container/list"
	"sync"
)

// ValueCache is a byte-budgeted LRU keyed by an opaque content id (typically
// a pkg/ids.BlobId or CryptoHash), per spec.md §4.1/§5. Eviction is by
// total serialized byte size rather than entry count, since cached values
// (blobs, bytecode, certificates) vary in size by orders of magnitude.
type ValueCache struct {
	mu        sync.Mutex
	maxBytes  int64
	curBytes  int64
	entries   map[string]*list.Element
	evictList *list.List
}

type cacheEntry struct {
	key   string
	value []byte
}

// NewValueCache creates a cache that evicts least-recently-used entries
// once the sum of cached value sizes would exceed maxBytes.
func NewValueCache(maxBytes int64) *ValueCache {
	return &ValueCache{
		maxBytes:  maxBytes,
		entries:   map[string]*list.Element{},
		evictList: list.New(),
	}
}

// Get returns the cached value for key, if present, promoting it to
// most-recently-used.
func (c *ValueCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.evictList.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

// TryGetMany looks up every key in keys in one locked pass, returning the
// subset found (as key->value) and the subset missing, so callers never
// observe a cache mutated between a partial hit and a subsequent miss
// check (spec.md's atomic (found, missing) contract).
func (c *ValueCache) TryGetMany(keys []string) (found map[string][]byte, missing []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	found = make(map[string][]byte, len(keys))
	for _, key := range keys {
		el, ok := c.entries[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		c.evictList.MoveToFront(el)
		found[key] = el.Value.(*cacheEntry).value
	}
	return found, missing
}

// Insert adds or replaces the cached value for key, evicting
// least-recently-used entries until the cache is back under budget.
func (c *ValueCache) Insert(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		old := el.Value.(*cacheEntry)
		c.curBytes += int64(len(value)) - int64(len(old.value))
		old.value = value
		c.evictList.MoveToFront(el)
	} else {
		el := c.evictList.PushFront(&cacheEntry{key: key, value: value})
		c.entries[key] = el
		c.curBytes += int64(len(value))
	}
	c.evictOverBudget()
}

func (c *ValueCache) evictOverBudget() {
	for c.curBytes > c.maxBytes {
		el := c.evictList.Back()
		if el == nil {
			return
		}
		ent := el.Value.(*cacheEntry)
		c.evictList.Remove(el)
		delete(c.entries, ent.key)
		c.curBytes -= int64(len(ent.value))
	}
}

// Remove evicts key, if present.
func (c *ValueCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return
	}
	ent := el.Value.(*cacheEntry)
	c.evictList.Remove(el)
	delete(c.entries, key)
	c.curBytes -= int64(len(ent.value))
}

// Len returns the number of entries currently cached.
func (c *ValueCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
