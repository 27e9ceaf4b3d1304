package gauntlet

import (
	"sync"

	"signal-core/internal/indicators"
	"signal-core/internal/trade"
)

// symbolStats is the rolling market state for one symbol.
type symbolStats struct {
	bid, ask  float64
	hasQuote  bool
	volumes   []float64
	highs     []float64
	lows      []float64
	closes    []float64
	vwap      indicators.VWAP
	barWindow int
	volWindow int
}

// Tracker feeds the market-quality gates: rolling spread, trailing volume,
// short-horizon ATR against its baseline, and session VWAP. It is warmed up
// from historical bars at startup and updated from live ticks.
type Tracker struct {
	mu        sync.RWMutex
	symbols   map[string]*symbolStats
	barWindow int
	volWindow int
	atrShort  int
	atrBase   int
}

// NewTracker creates a tracker. atrShort/atrBase are the fast and baseline
// ATR periods; volWindow is the trailing volume average length.
func NewTracker(atrShort, atrBase, volWindow int) *Tracker {
	if atrShort <= 0 {
		atrShort = 5
	}
	if atrBase <= atrShort {
		atrBase = atrShort * 4
	}
	if volWindow <= 0 {
		volWindow = 20
	}
	return &Tracker{
		symbols:   make(map[string]*symbolStats),
		barWindow: atrBase + 1,
		volWindow: volWindow,
		atrShort:  atrShort,
		atrBase:   atrBase,
	}
}

func (t *Tracker) stats(symbol string) *symbolStats {
	s, ok := t.symbols[symbol]
	if !ok {
		s = &symbolStats{barWindow: t.barWindow, volWindow: t.volWindow}
		t.symbols[symbol] = s
	}
	return s
}

// SeedBars warms the tracker from historical OHLCV bars, oldest first.
func (t *Tracker) SeedBars(symbol string, bars []indicators.Bar) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats(symbol)
	for _, b := range bars {
		s.addBar(b)
	}
}

// OnBar folds a live bar into the rolling windows and the session VWAP.
func (t *Tracker) OnBar(symbol string, bar indicators.Bar) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats(symbol)
	s.addBar(bar)
	typical := (bar.High + bar.Low + bar.Close) / 3
	s.vwap.Add(typical, bar.Volume)
}

// OnTick records the latest quote for the spread gate.
func (t *Tracker) OnTick(md trade.MarketData) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats(md.Symbol)
	if md.Bid > 0 && md.Ask > 0 {
		s.bid, s.ask = md.Bid, md.Ask
		s.hasQuote = true
	}
	if md.Volume > 0 {
		s.vwap.Add(md.Price, md.Volume)
	}
}

func (s *symbolStats) addBar(b indicators.Bar) {
	s.highs = append(s.highs, b.High)
	s.lows = append(s.lows, b.Low)
	s.closes = append(s.closes, b.Close)
	if len(s.closes) > s.barWindow {
		s.highs = s.highs[len(s.highs)-s.barWindow:]
		s.lows = s.lows[len(s.lows)-s.barWindow:]
		s.closes = s.closes[len(s.closes)-s.barWindow:]
	}
	s.volumes = append(s.volumes, b.Volume)
	if len(s.volumes) > s.volWindow {
		s.volumes = s.volumes[len(s.volumes)-s.volWindow:]
	}
}

// Spread returns the relative spread (ask−bid)/bid for a symbol.
func (t *Tracker) Spread(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.symbols[symbol]
	if !ok || !s.hasQuote || s.bid <= 0 {
		return 0, false
	}
	return (s.ask - s.bid) / s.bid, true
}

// AvgVolume returns the trailing average bar volume for a symbol.
func (t *Tracker) AvgVolume(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.symbols[symbol]
	if !ok || len(s.volumes) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range s.volumes {
		sum += v
	}
	return sum / float64(len(s.volumes)), true
}

// ATRRatio returns short-horizon ATR divided by its trailing baseline.
func (t *Tracker) ATRRatio(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.symbols[symbol]
	if !ok {
		return 0, false
	}
	short := indicators.ATR(s.highs, s.lows, s.closes, t.atrShort)
	base := indicators.ATR(s.highs, s.lows, s.closes, t.atrBase)
	if short == 0 || base == 0 {
		return 0, false
	}
	return short / base, true
}

// VWAP returns the session VWAP for a symbol.
func (t *Tracker) VWAP(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.symbols[symbol]
	if !ok {
		return 0, false
	}
	return s.vwap.Value()
}

// ResetSession clears the per-session VWAP accumulators.
func (t *Tracker) ResetSession() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.symbols {
		s.vwap.Reset()
	}
}
