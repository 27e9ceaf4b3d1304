package market

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/bus"
	"signal-core/internal/gauntlet"
	"signal-core/internal/monitor"
	"signal-core/internal/trade"
	"signal-core/pkg/cache"
)

// MockFeed publishes a synthetic random walk for paper runs and local
// development. Each tick carries a bid/ask spread around the last price
// so the spread gate sees realistic quotes.
type MockFeed struct {
	Events  *bus.Bus
	Symbols []string

	StartPrice float64
	Step       float64 // max absolute move per tick
	SpreadPct  float64 // synthetic relative spread around last
	Volume     float64 // per-tick volume
	Interval   time.Duration

	Cache   *cache.QuoteCache // optional
	Tracker *gauntlet.Tracker // optional
	Metrics *monitor.Metrics  // optional
	Log     zerolog.Logger
}

// Start launches the tick loop and returns immediately.
func (m *MockFeed) Start(ctx context.Context) {
	if m.Events == nil {
		m.Log.Warn().Msg("mock feed: bus not set")
		return
	}
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTC/USD"}
	}
	if m.StartPrice <= 0 {
		m.StartPrice = 50000
	}
	if m.Step <= 0 {
		m.Step = m.StartPrice * 0.0005
	}
	if m.SpreadPct <= 0 {
		m.SpreadPct = 0.0004
	}
	if m.Volume <= 0 {
		m.Volume = 1
	}
	if m.Interval <= 0 {
		m.Interval = time.Second
	}

	prices := make(map[string]float64, len(m.Symbols))
	for _, sym := range m.Symbols {
		prices[sym] = m.StartPrice
	}

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for _, sym := range m.Symbols {
					prices[sym] += (rand.Float64()*2 - 1) * m.Step
					if prices[sym] <= 0 {
						prices[sym] = m.StartPrice
					}
					m.publish(sym, prices[sym])
				}
			}
		}
	}()
}

func (m *MockFeed) publish(symbol string, last float64) {
	half := last * m.SpreadPct / 2
	md := trade.MarketData{
		Symbol:    symbol,
		Price:     last,
		Bid:       last - half,
		Ask:       last + half,
		Volume:    m.Volume,
		Timestamp: time.Now().UTC(),
		Source:    "mock",
	}
	m.Events.Publish(bus.TopicMarketData, md)
	if m.Cache != nil {
		m.Cache.Set(cache.Quote{Symbol: symbol, Bid: md.Bid, Ask: md.Ask, Last: last, Volume: m.Volume})
	}
	if m.Tracker != nil {
		m.Tracker.OnTick(md)
	}
	if m.Metrics != nil {
		m.Metrics.IncTick()
	}
}
