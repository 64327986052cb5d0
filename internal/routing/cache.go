package routing

import "container/list"

// cachedMatch is a published match result. Entries are immutable once
// inserted; invalidation drops the whole cache.
type cachedMatch struct {
	path   string
	entry  *RouteEntry
	params map[string]string
}

// matchCache is a capacity-bounded LRU over path match results.
// The TTL cache the rest of the kernel leans on has no recency
// eviction, so this one is purpose-built: map for lookup, list for
// recency.
type matchCache struct {
	capacity int
	order    *list.List               // front = most recent
	byPath   map[string]*list.Element // path -> element holding *cachedMatch
}

func newMatchCache(capacity int) *matchCache {
	if capacity < 1 {
		capacity = 1
	}
	return &matchCache{
		capacity: capacity,
		order:    list.New(),
		byPath:   make(map[string]*list.Element),
	}
}

// get returns the cached match for path, refreshing its recency.
func (c *matchCache) get(path string) (*cachedMatch, bool) {
	el, exists := c.byPath[path]
	if !exists {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cachedMatch), true
}

// put inserts a match, evicting the least recently used entry at
// capacity.
func (c *matchCache) put(m *cachedMatch) {
	if el, exists := c.byPath[m.path]; exists {
		el.Value = m
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.byPath, oldest.Value.(*cachedMatch).path)
		}
	}
	c.byPath[m.path] = c.order.PushFront(m)
}

// clear drops every entry.
func (c *matchCache) clear() {
	c.order.Init()
	c.byPath = make(map[string]*list.Element)
}

func (c *matchCache) len() int { return c.order.Len() }
