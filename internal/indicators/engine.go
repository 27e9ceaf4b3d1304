// Package indicators maintains per-symbol price windows and computes the
// technical values the agents and risk gates consume.
package indicators

import "sync"

// Bar is one OHLCV candle.
type Bar struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Engine maintains per-symbol bar windows and calculates the core set.
type Engine struct {
	mu        sync.Mutex
	bars      map[string][]Bar
	window    int
	shortMA   int
	longMA    int
	rsiPeriod int
	atrPeriod int
}

// NewEngine builds an indicator engine with the given windows.
func NewEngine(shortMA, longMA, rsiPeriod, atrPeriod, window int) *Engine {
	for _, min := range []int{longMA, atrPeriod + 1} {
		if window < min {
			window = min
		}
	}
	return &Engine{
		bars:      make(map[string][]Bar),
		window:    window,
		shortMA:   shortMA,
		longMA:    longMA,
		rsiPeriod: rsiPeriod,
		atrPeriod: atrPeriod,
	}
}

// Update ingests a new bar and returns the latest computed values.
func (e *Engine) Update(symbol string, bar Bar) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	window := append(e.bars[symbol], bar)
	if len(window) > e.window {
		window = window[len(window)-e.window:]
	}
	e.bars[symbol] = window

	closes := make([]float64, len(window))
	highs := make([]float64, len(window))
	lows := make([]float64, len(window))
	for i, b := range window {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	return map[string]float64{
		"sma_short": SMA(closes, e.shortMA),
		"sma_long":  SMA(closes, e.longMA),
		"rsi":       RSI(closes, e.rsiPeriod),
		"atr":       ATR(highs, lows, closes, e.atrPeriod),
		"highest":   Highest(highs, e.window),
	}
}

// Closes returns a copy of the closing-price window for a symbol.
func (e *Engine) Closes(symbol string) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	window := e.bars[symbol]
	closes := make([]float64, len(window))
	for i, b := range window {
		closes[i] = b.Close
	}
	return closes
}
