package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"medrag/internal/domain"
	"medrag/internal/port"
)

// QueryCache is an LRU of retrieval results with a TTL. Entries written
// before the last Invalidate are never returned.
type QueryCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front is most recently used
	maxSize  int
	ttl      time.Duration
	indexGen uint64
	now      func() time.Time
}

type cacheEntry struct {
	key       string
	results   []domain.ScoredChunk
	timestamp time.Time
	indexGen  uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// normalize folds runs of whitespace and trims the query. Case is kept since
// embedders need not be case-insensitive.
func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func cacheKey(query string, topK int) string {
	data := []byte(normalize(query))
	data = append(data, 0, byte(topK>>8), byte(topK))
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

// Get returns a copy of the cached results for query.
func (c *QueryCache) Get(query string, topK int) ([]domain.ScoredChunk, bool) {
	key := cacheKey(query, topK)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if entry.indexGen != c.indexGen || c.now().Sub(entry.timestamp) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}

	c.order.MoveToFront(el)
	return append([]domain.ScoredChunk(nil), entry.results...), true
}

func (c *QueryCache) Put(query string, topK int, results []domain.ScoredChunk) {
	key := cacheKey(query, topK)
	entry := &cacheEntry{
		key:       key,
		results:   append([]domain.ScoredChunk(nil), results...),
		timestamp: c.now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry.indexGen = c.indexGen
	if el, ok := c.entries[key]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = c.order.PushFront(entry)
}

// Invalidate drops every entry, e.g. when the index is replaced or released.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.indexGen++
}

func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *QueryCache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry).key)
}

// CachedRetriever serves repeated questions from a QueryCache. Queries reach
// the wrapped retriever normalized, so a hit returns what the same text would
// retrieve. Only successful retrievals are cached.
type CachedRetriever struct {
	retriever port.Retriever
	cache     *QueryCache
	k         int
}

func NewCachedRetriever(retriever port.Retriever, cache *QueryCache, k int) *CachedRetriever {
	return &CachedRetriever{
		retriever: retriever,
		cache:     cache,
		k:         k,
	}
}

func (r *CachedRetriever) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	query = normalize(query)
	if results, hit := r.cache.Get(query, r.k); hit {
		return results, nil
	}

	results, err := r.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	r.cache.Put(query, r.k, results)
	return results, nil
}
