package embedding

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// DefaultCacheSize bounds the cache when no size is configured.
const DefaultCacheSize = 2048

// Cache memoizes embeddings by event identity (timestamp, source, content).
// It is bounded LRU and safe for concurrent use.
type Cache struct {
	lru *lru.Cache[types.EventKey, types.Embedding]
}

// NewCache creates a cache holding up to size entries. size < 1 uses
// DefaultCacheSize.
func NewCache(size int) *Cache {
	if size < 1 {
		size = DefaultCacheSize
	}
	c, err := lru.New[types.EventKey, types.Embedding](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &Cache{lru: c}
}

// Get returns the cached embedding for key.
func (c *Cache) Get(key types.EventKey) (types.Embedding, bool) {
	return c.lru.Get(key)
}

// Put stores emb under key, evicting the least recently used entry when full.
func (c *Cache) Put(key types.EventKey, emb types.Embedding) {
	c.lru.Add(key, emb)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.lru.Purge()
}

// Len returns the number of cached embeddings.
func (c *Cache) Len() int {
	return c.lru.Len()
}
