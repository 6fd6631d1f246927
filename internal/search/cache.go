package search

import (
	"container/list"
	"sync"
	"time"

	"slm-core/internal/domain"
)

// cacheKey identifies one search result set (§4.6: "(profile,
// normalized_query, filter_hash, limit)").
type cacheKey struct {
	profile    string
	query      string
	filterHash string
	limit      int
}

type cacheEntry struct {
	key     cacheKey
	hits    []domain.Hit
	expires time.Time
}

// resultCache is a bounded LRU with TTL expiry; cache hits never re-rank
// (§4.6: "entries expire by TTL or eviction; cache hits do not re-rank").
type resultCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[cacheKey]*list.Element
}

func newResultCache(capacity int, ttl time.Duration) *resultCache {
	return &resultCache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[cacheKey]*list.Element),
	}
}

// invalidateProfile drops every cached entry for profile. Called on any
// write that changes the corpus (§5: "in-memory caches ... are invalidated
// on any write that changes the corpus").
func (c *resultCache) invalidateProfile(profile string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, el := range c.items {
		if k.profile == profile {
			c.ll.Remove(el)
			delete(c.items, k)
		}
	}
}

func (c *resultCache) get(k cacheKey) ([]domain.Hit, bool) {
	if c == nil || c.capacity <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[k]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expires) {
		c.ll.Remove(el)
		delete(c.items, k)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return entry.hits, true
}

func (c *resultCache) put(k cacheKey, hits []domain.Hit) {
	if c == nil || c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k]; ok {
		el.Value.(*cacheEntry).hits = hits
		el.Value.(*cacheEntry).expires = time.Now().Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}
	entry := &cacheEntry{key: k, hits: hits, expires: time.Now().Add(c.ttl)}
	el := c.ll.PushFront(entry)
	c.items[k] = el
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}
