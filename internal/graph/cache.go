package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type cacheEntry struct {
	records   []Record
	expiresAt time.Time
}

// QueryCache keeps read results for a fixed TTL. When full, the oldest half
// of the entries is evicted.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	hits    int64
	misses  int64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize < 2 {
		maxSize = 2
	}
	return &QueryCache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(query string, params map[string]any) string {
	data, _ := json.Marshal(map[string]any{"q": query, "p": params})
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

func (c *QueryCache) Get(query string, params map[string]any) ([]Record, bool) {
	key := cacheKey(query, params)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.records, true
}

func (c *QueryCache) Set(query string, params map[string]any, records []Record) {
	key := cacheKey(query, params)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.evictOldestHalf()
	}
	c.entries[key] = cacheEntry{records: records, expiresAt: c.now().Add(c.ttl)}
}

func (c *QueryCache) evictOldestHalf() {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].expiresAt.Before(c.entries[keys[j]].expiresAt)
	})
	for _, k := range keys[:len(keys)/2] {
		delete(c.entries, k)
	}
}

func (c *QueryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

type CacheStats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func (c *QueryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{Size: len(c.entries), Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// CachedReader answers repeated read queries from a QueryCache.
type CachedReader struct {
	Reader
	cache *QueryCache
}

func NewCachedReader(r Reader, cache *QueryCache) *CachedReader {
	return &CachedReader{Reader: r, cache: cache}
}

func (r *CachedReader) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	if records, ok := r.cache.Get(query, params); ok {
		return records, nil
	}
	records, err := r.Reader.Execute(ctx, query, params)
	if err != nil {
		return nil, err
	}
	r.cache.Set(query, params, records)
	return records, nil
}

func (r *CachedReader) Cache() *QueryCache { return r.cache }
