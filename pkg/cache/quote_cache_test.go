package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestQuoteCacheSetGet(t *testing.T) {
	c := NewQuoteCache()

	if _, ok := c.Get("BTC/USD"); ok {
		t.Fatal("empty cache returned a quote")
	}

	c.Set(Quote{Symbol: "BTC/USD", Bid: 49990, Ask: 50010, Last: 50000, Volume: 12})
	q, ok := c.Get("BTC/USD")
	if !ok {
		t.Fatal("quote not found after Set")
	}
	if q.Bid != 49990 || q.Ask != 50010 || q.Last != 50000 {
		t.Errorf("quote = %+v", q)
	}

	// Set replaces, never accumulates.
	c.Set(Quote{Symbol: "BTC/USD", Bid: 50000, Ask: 50020, Last: 50010, Volume: 13})
	q, _ = c.Get("BTC/USD")
	if q.Last != 50010 {
		t.Errorf("stale quote survived: %+v", q)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

func TestQuoteCacheLast(t *testing.T) {
	c := NewQuoteCache()
	c.Set(Quote{Symbol: "BTC/USD", Last: 50000})
	c.Set(Quote{Symbol: "ETH/USD", Bid: 1, Ask: 2}) // no last trade yet

	if last, ok := c.Last("BTC/USD"); !ok || last != 50000 {
		t.Errorf("Last = %v, %v", last, ok)
	}
	if _, ok := c.Last("ETH/USD"); ok {
		t.Error("Last returned ok for a quote without a trade price")
	}
	if _, ok := c.Last("XRP/USD"); ok {
		t.Error("Last returned ok for an unknown symbol")
	}
}

func TestQuoteCacheAgeAndCleanup(t *testing.T) {
	c := NewQuoteCache()
	c.Set(Quote{Symbol: "BTC/USD", Last: 50000})

	_, age, ok := c.GetWithAge("BTC/USD")
	if !ok || age > time.Second {
		t.Errorf("age = %v, ok = %v", age, ok)
	}

	// Nothing is old enough to collect yet.
	if removed := c.Cleanup(time.Minute); removed != 0 {
		t.Errorf("cleanup removed %d fresh quotes", removed)
	}
	time.Sleep(15 * time.Millisecond)
	if removed := c.Cleanup(time.Millisecond); removed != 1 {
		t.Errorf("cleanup removed %d, want 1", removed)
	}
	if c.Len() != 0 {
		t.Errorf("len after cleanup = %d", c.Len())
	}
}

func TestQuoteCacheAllAndSnapshot(t *testing.T) {
	c := NewQuoteCache()
	for i := 0; i < 40; i++ {
		sym := fmt.Sprintf("SYM%d/USD", i)
		c.Set(Quote{Symbol: sym, Last: float64(i + 1)})
	}

	all := c.All()
	if len(all) != 40 {
		t.Fatalf("All returned %d quotes, want 40", len(all))
	}
	if all["SYM7/USD"].Last != 8 {
		t.Errorf("SYM7 = %+v", all["SYM7/USD"])
	}

	st := c.Snapshot()
	if st.TotalItems != 40 {
		t.Errorf("snapshot total = %d", st.TotalItems)
	}
	if st.OldestAge < 0 {
		t.Errorf("oldest age = %v", st.OldestAge)
	}
}

func TestQuoteCacheConcurrentAccess(t *testing.T) {
	c := NewQuoteCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set(Quote{Symbol: fmt.Sprintf("SYM%d/USD", n), Last: float64(j)})
			}
		}(i)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Get(fmt.Sprintf("SYM%d/USD", n))
				c.Len()
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 8 {
		t.Errorf("len = %d, want 8", c.Len())
	}
}
