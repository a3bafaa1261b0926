package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is an LRU store bounded by entry count and total bytes.
// Expired entries are dropped when looked up or when they reach the tail.
// Stored slices are shared with callers and must not be mutated.
type MemoryCache struct {
	mu    sync.Mutex
	cfg   Config
	items map[string]*list.Element
	lru   *list.List
	stats Stats
}

type memEntry struct {
	key     string
	value   []byte
	expires time.Time
}

func (e *memEntry) size() int64 { return int64(len(e.key) + len(e.value)) }

func (e *memEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty store.
func NewMemoryCache(cfg Config) *MemoryCache {
	return &MemoryCache{
		cfg:   cfg,
		items: make(map[string]*list.Element),
		lru:   list.New(),
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if ok && elem.Value.(*memEntry).expired(time.Now()) {
		c.remove(elem)
		ok = false
	}
	if !ok {
		c.stats.Misses++
		return nil, ErrNotFound
	}

	c.lru.MoveToFront(elem)
	c.stats.Hits++
	return elem.Value.(*memEntry).value, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := &memEntry{key: key, value: value}
	if c.cfg.MaxBytes > 0 && e.size() > c.cfg.MaxBytes {
		return ErrValueTooLarge
	}
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.items[key]; ok {
		c.remove(old)
	}
	c.makeRoom(e.size())

	c.items[key] = c.lru.PushFront(e)
	c.stats.Entries++
	c.stats.Bytes += e.size()
	c.stats.Sets++
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return ErrNotFound
	}
	c.remove(elem)
	return nil
}

func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close is a no-op; the store holds no background resources.
func (c *MemoryCache) Close() error { return nil }

// makeRoom evicts from the tail until an entry of size n fits.
func (c *MemoryCache) makeRoom(n int64) {
	now := time.Now()
	for elem := c.lru.Back(); elem != nil; elem = c.lru.Back() {
		full := (c.cfg.MaxEntries > 0 && c.stats.Entries >= c.cfg.MaxEntries) ||
			(c.cfg.MaxBytes > 0 && c.stats.Bytes+n > c.cfg.MaxBytes)
		if !full && !elem.Value.(*memEntry).expired(now) {
			return
		}
		if full {
			c.stats.Evictions++
		}
		c.remove(elem)
	}
}

func (c *MemoryCache) remove(elem *list.Element) {
	e := elem.Value.(*memEntry)
	delete(c.items, e.key)
	c.lru.Remove(elem)
	c.stats.Entries--
	c.stats.Bytes -= e.size()
}
