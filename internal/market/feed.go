// Package market feeds prices into the pipeline: a Kraken websocket
// feed for live runs and a synthetic random-walk feed for paper runs
// and tests. Both publish trade.MarketData on the bus and push every
// tick into the optional sinks (quote cache, gauntlet stats, metrics).
package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/bus"
	"signal-core/internal/gauntlet"
	"signal-core/internal/monitor"
	"signal-core/internal/trade"
	"signal-core/pkg/cache"
	"signal-core/pkg/exchange/kraken"
)

// TickerStream is the subscription surface of the websocket client.
type TickerStream interface {
	SubscribeTicker(ctx context.Context, symbols []string) (<-chan kraken.TickerUpdate, func(), error)
}

// Feed streams venue tickers onto the bus and resubscribes whenever the
// connection drops.
type Feed struct {
	Stream  TickerStream
	Events  *bus.Bus
	Symbols []string

	Cache   *cache.QuoteCache // optional
	Tracker *gauntlet.Tracker // optional
	Metrics *monitor.Metrics  // optional
	Log     zerolog.Logger

	// Reconnect is the pause before a new subscribe attempt after the
	// stream drops. Zero means 5s.
	Reconnect time.Duration
}

// Start launches the feed loop and returns immediately. It runs until
// ctx is cancelled.
func (f *Feed) Start(ctx context.Context) {
	if f.Stream == nil || f.Events == nil || len(f.Symbols) == 0 {
		f.Log.Warn().Msg("market feed not fully configured; not starting")
		return
	}
	if f.Reconnect <= 0 {
		f.Reconnect = 5 * time.Second
	}
	go f.run(ctx)
}

func (f *Feed) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		ch, stop, err := f.Stream.SubscribeTicker(ctx, f.Symbols)
		if err != nil {
			f.Log.Error().Err(err).Dur("retry_in", f.Reconnect).Msg("ticker subscribe failed")
		} else {
			f.Log.Info().Strs("symbols", f.Symbols).Msg("ticker stream connected")
			f.consume(ctx, ch)
			stop()
			f.Log.Warn().Dur("retry_in", f.Reconnect).Msg("ticker stream ended")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.Reconnect):
		}
	}
}

func (f *Feed) consume(ctx context.Context, ch <-chan kraken.TickerUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			f.publish(u)
		}
	}
}

func (f *Feed) publish(u kraken.TickerUpdate) {
	md := trade.MarketData{
		Symbol:    u.Symbol,
		Price:     u.Last,
		Bid:       u.Bid,
		Ask:       u.Ask,
		Volume:    u.Volume,
		Timestamp: u.Time,
		Source:    "kraken",
	}
	f.Events.Publish(bus.TopicMarketData, md)
	if f.Cache != nil {
		f.Cache.Set(cache.Quote{Symbol: u.Symbol, Bid: u.Bid, Ask: u.Ask, Last: u.Last, Volume: u.Volume})
	}
	if f.Tracker != nil {
		f.Tracker.OnTick(md)
	}
	if f.Metrics != nil {
		f.Metrics.IncTick()
	}
}
