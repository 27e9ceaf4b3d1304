// Package cache provides the sharded last-quote store the pipeline
// shares between the market feed (writer) and everything that needs a
// recent price without touching the venue: exposure marks, the status
// API and the dashboard stream.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Quote is the cached view of the latest observation for one symbol.
type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Volume float64 `json:"volume"`
}

// QuoteCache is a sharded cache of the most recent quote per symbol.
// Shards keep feed writes from contending with API reads.
type QuoteCache struct {
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]quoteEntry
}

type quoteEntry struct {
	quote     Quote
	updatedAt time.Time
}

// NewQuoteCache creates an empty cache.
func NewQuoteCache() *QuoteCache {
	c := &QuoteCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{items: make(map[string]quoteEntry)}
	}
	return c
}

func (c *QuoteCache) getShard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the latest quote for its symbol.
func (c *QuoteCache) Set(q Quote) {
	shard := c.getShard(q.Symbol)
	shard.mu.Lock()
	shard.items[q.Symbol] = quoteEntry{quote: q, updatedAt: time.Now()}
	shard.mu.Unlock()
}

// Get retrieves the latest quote for a symbol.
func (c *QuoteCache) Get(symbol string) (Quote, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.quote, ok
}

// GetWithAge retrieves a quote and how long ago it was written, so
// callers can refuse stale marks.
func (c *QuoteCache) GetWithAge(symbol string) (Quote, time.Duration, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return Quote{}, 0, false
	}
	return entry.quote, time.Since(entry.updatedAt), true
}

// Last returns the last traded price for a symbol, the common case for
// marking exposure.
func (c *QuoteCache) Last(symbol string) (float64, bool) {
	q, ok := c.Get(symbol)
	if !ok || q.Last <= 0 {
		return 0, false
	}
	return q.Last, true
}

// All returns every cached quote keyed by symbol.
func (c *QuoteCache) All() map[string]Quote {
	result := make(map[string]Quote)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for sym, entry := range shard.items {
			result[sym] = entry.quote
		}
		shard.mu.RUnlock()
	}
	return result
}

// Len returns total symbols across all shards.
func (c *QuoteCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes quotes older than maxAge and reports how many went.
func (c *QuoteCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, entry := range shard.items {
			if entry.updatedAt.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Stats summarizes cache occupancy for the status API.
type Stats struct {
	TotalItems int           `json:"total_items"`
	OldestAge  time.Duration `json:"oldest_age"`
}

// Snapshot returns occupancy statistics.
func (c *QuoteCache) Snapshot() Stats {
	stats := Stats{}
	var oldest time.Time
	for _, shard := range c.shards {
		shard.mu.RLock()
		stats.TotalItems += len(shard.items)
		for _, entry := range shard.items {
			if oldest.IsZero() || entry.updatedAt.Before(oldest) {
				oldest = entry.updatedAt
			}
		}
		shard.mu.RUnlock()
	}
	if !oldest.IsZero() {
		stats.OldestAge = time.Since(oldest)
	}
	return stats
}
