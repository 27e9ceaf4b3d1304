package market

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"signal-core/internal/gauntlet"
	"signal-core/internal/indicators"
	"signal-core/pkg/exchange/kraken"
)

// HistorySource supplies recent OHLC bars. The Kraken REST client
// implements it; interval is in minutes, Kraken's OHLC granularity.
type HistorySource interface {
	OHLC(ctx context.Context, symbol string, interval int) ([]kraken.Candle, error)
}

// WarmUp seeds the tracker's rolling stats from OHLC history so the
// volume, volatility and spread context exists before the first live
// tick. A symbol that fails to warm up is logged and skipped; the first
// failure is returned so the caller can decide whether a cold start is
// acceptable.
func WarmUp(ctx context.Context, src HistorySource, tracker *gauntlet.Tracker, symbols []string, interval int, logger zerolog.Logger) error {
	if src == nil || tracker == nil {
		return nil
	}
	if interval <= 0 {
		interval = 1
	}

	var firstErr error
	for _, sym := range symbols {
		candles, err := src.OHLC(ctx, sym, interval)
		if err != nil {
			logger.Warn().Err(err).Str("symbol", sym).Msg("ohlc warm-up failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("warm up %s: %w", sym, err)
			}
			continue
		}
		bars := make([]indicators.Bar, 0, len(candles))
		for _, c := range candles {
			bars = append(bars, indicators.Bar{
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: c.Volume,
			})
		}
		tracker.SeedBars(sym, bars)
		logger.Info().Str("symbol", sym).Int("bars", len(bars)).Msg("stats warmed up")
	}
	return firstErr
}
