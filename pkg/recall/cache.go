package recall

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/agentdock/agentdock-core/pkg/memory"
)

// queryCache memoizes recall results per query fingerprint for a fixed
// TTL. Entries are evicted lazily on lookup.
type queryCache struct {
	ttl   time.Duration
	nowFn func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	results   []*Result
	expiresAt time.Time
}

func newQueryCache(ttl time.Duration, nowFn func() time.Time) *queryCache {
	return &queryCache{
		ttl:     ttl,
		nowFn:   nowFn,
		entries: make(map[string]cacheEntry),
	}
}

// key fingerprints the query together with every filter that affects
// the result set.
func (c *queryCache) key(req *Request, tiers []memory.MemoryType, limit int, minRelevance float64) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%d|%g|%t|", req.UserID, req.AgentID, req.Query, limit, minRelevance, req.IncludeRelated)
	for _, tier := range tiers {
		fmt.Fprintf(h, "%s,", tier)
	}
	if req.TimeRange != nil {
		fmt.Fprintf(h, "%d-%d", req.TimeRange.Start.UnixNano(), req.TimeRange.End.UnixNano())
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func (c *queryCache) get(key string) ([]*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.nowFn().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.results, true
}

func (c *queryCache) put(key string, results []*Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		results:   results,
		expiresAt: c.nowFn().Add(c.ttl),
	}
}
