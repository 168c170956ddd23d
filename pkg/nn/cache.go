package nn

import (
	"container/list"
	"sync"
)

// Entry is an immutable evaluation record. Priors are aligned with the
// position's legal-move list (generator order), already masked and softmax
// normalised, so readers never observe a partially built record.
type Entry struct {
	Value     float32
	W, D, L   float32
	MovesLeft float32
	Priors    []float32
	VerifyKey string
}

const cacheShards = 16

// Cache is a sharded approximate-LRU map from position fingerprint to Entry.
// Lookups verify the stored position key, so fingerprint collisions degrade
// to misses instead of corrupting the search.
type Cache struct {
	shards [cacheShards]cacheShard
}

type cacheShard struct {
	mu       sync.Mutex
	capacity int
	items    map[uint64]*list.Element
	order    *list.List
}

type cacheItem struct {
	fingerprint uint64
	entry       *Entry
}

func NewCache(capacity int) *Cache {
	var c = &Cache{}
	for i := range c.shards {
		c.shards[i].items = make(map[uint64]*list.Element)
		c.shards[i].order = list.New()
	}
	c.SetCapacity(capacity)
	return c
}

func (c *Cache) shard(fingerprint uint64) *cacheShard {
	return &c.shards[fingerprint%cacheShards]
}

// Lookup returns the entry for fingerprint only when the stored position
// matches verifyKey exactly.
func (c *Cache) Lookup(fingerprint uint64, verifyKey string) (*Entry, bool) {
	var s = c.shard(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()
	var el, ok = s.items[fingerprint]
	if !ok {
		return nil, false
	}
	var item = el.Value.(*cacheItem)
	if item.entry.VerifyKey != verifyKey {
		return nil, false
	}
	s.order.MoveToFront(el)
	return item.entry, true
}

// Insert stores or refreshes an entry, evicting from the cold end on
// overflow.
func (c *Cache) Insert(fingerprint uint64, entry *Entry) {
	var s = c.shard(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[fingerprint]; ok {
		el.Value.(*cacheItem).entry = entry
		s.order.MoveToFront(el)
		return
	}
	s.items[fingerprint] = s.order.PushFront(&cacheItem{fingerprint: fingerprint, entry: entry})
	s.evictOverflow()
}

func (s *cacheShard) evictOverflow() {
	for s.order.Len() > s.capacity {
		var el = s.order.Back()
		if el == nil {
			return
		}
		delete(s.items, el.Value.(*cacheItem).fingerprint)
		s.order.Remove(el)
	}
}

// SetCapacity resizes the cache; shrinking drops excess entries
// synchronously.
func (c *Cache) SetCapacity(capacity int) {
	if capacity < cacheShards {
		capacity = cacheShards
	}
	var perShard = (capacity + cacheShards - 1) / cacheShards
	for i := range c.shards {
		var s = &c.shards[i]
		s.mu.Lock()
		s.capacity = perShard
		s.evictOverflow()
		s.mu.Unlock()
	}
}

func (c *Cache) Len() int {
	var n = 0
	for i := range c.shards {
		var s = &c.shards[i]
		s.mu.Lock()
		n += s.order.Len()
		s.mu.Unlock()
	}
	return n
}

func (c *Cache) Clear() {
	for i := range c.shards {
		var s = &c.shards[i]
		s.mu.Lock()
		s.items = make(map[uint64]*list.Element)
		s.order = list.New()
		s.mu.Unlock()
	}
}

// Fullness reports cache load as permille, for the uci hashfull field.
func (c *Cache) Fullness() int {
	var n, capacity = 0, 0
	for i := range c.shards {
		var s = &c.shards[i]
		s.mu.Lock()
		n += s.order.Len()
		capacity += s.capacity
		s.mu.Unlock()
	}
	if capacity == 0 {
		return 0
	}
	return n * 1000 / capacity
}
