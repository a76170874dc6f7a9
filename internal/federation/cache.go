package federation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// queryHash deterministically hashes a normalized filter set so identical
// searches (regardless of map key ordering) share one cache entry.
func queryHash(filters map[string]string) string {
	b, _ := json.Marshal(filters) // map keys are sorted by encoding/json
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	agents    []map[string]any
	expiresAt time.Time
}

// searchCache caches one peer's federated search payload keyed by
// (peer_id, query_hash), honoring a TTL. Entries past expiry are never
// served; they're evicted lazily on read rather than swept eagerly, since a
// background sweep buys nothing a read-time check doesn't already give.
type searchCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

func newSearchCache(ttl time.Duration) *searchCache {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &searchCache{entries: make(map[string]cacheEntry), ttl: ttl}
}

func (c *searchCache) key(peerID, hash string) string { return peerID + ":" + hash }

// Get returns the cached payload for (peerID, hash), or nil if absent or expired.
func (c *searchCache) Get(peerID, hash string) ([]map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.key(peerID, hash)
	entry, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, k)
		return nil, false
	}
	return entry.agents, true
}

// Set stores agents under (peerID, hash) with the cache's configured TTL.
func (c *searchCache) Set(peerID, hash string, agents []map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(peerID, hash)] = cacheEntry{agents: agents, expiresAt: time.Now().Add(c.ttl)}
}

// Sweep drops every expired entry. Optional; Get already refuses to serve
// stale entries, but a periodic sweep keeps the map from growing unbounded
// when a peer's filter combinations churn without repeats.
func (c *searchCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
}
