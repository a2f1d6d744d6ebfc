package conversation

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is the in-process tier. Get has no side effects besides LRU recency and no expiry;
// Put overwrites unconditionally.
type Cache interface {
	Get(key Key) ([]Turn, bool)
	Put(key Key, turns []Turn)
	Len() int
}

const DefaultCacheCapacity = 1000

type LRUCache struct {
	lru *lru.Cache[Key, []Turn]
}

// NewCache returns a bounded LRU cache, or an unbounded map cache when capacity <= 0.
func NewCache(capacity int) Cache {
	if capacity <= 0 {
		return NewMapCache()
	}
	c, err := NewLRUCache(capacity)
	if err != nil {
		return NewMapCache()
	}
	return c
}

func NewLRUCache(capacity int) (*LRUCache, error) {
	l, err := lru.New[Key, []Turn](capacity)
	if err != nil {
		return nil, err
	}
	return &LRUCache{lru: l}, nil
}

func (c *LRUCache) Get(key Key) ([]Turn, bool) {
	turns, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return cloneTurns(turns), true
}

func (c *LRUCache) Put(key Key, turns []Turn) {
	c.lru.Add(key, cloneTurns(turns))
}

func (c *LRUCache) Len() int { return c.lru.Len() }

// MapCache never evicts. It lives as long as the process.
type MapCache struct {
	mu      sync.RWMutex
	entries map[Key][]Turn
}

func NewMapCache() *MapCache {
	return &MapCache{entries: make(map[Key][]Turn)}
}

func (c *MapCache) Get(key Key) ([]Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	turns, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return cloneTurns(turns), true
}

func (c *MapCache) Put(key Key, turns []Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cloneTurns(turns)
}

func (c *MapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
