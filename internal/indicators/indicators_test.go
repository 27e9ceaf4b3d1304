package indicators

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	if got := SMA(values, 5); !almostEqual(got, 3) {
		t.Errorf("SMA(5) = %v, want 3", got)
	}
	if got := SMA(values, 2); !almostEqual(got, 4.5) {
		t.Errorf("SMA(2) = %v, want 4.5", got)
	}
	if got := SMA(values, 6); got != 0 {
		t.Errorf("SMA with short window = %v, want 0", got)
	}
}

func TestRSIExtremes(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6}
	if got := RSI(rising, 5); got != 100 {
		t.Errorf("RSI all gains = %v, want 100", got)
	}

	falling := []float64{6, 5, 4, 3, 2, 1}
	if got := RSI(falling, 5); got != 0 {
		t.Errorf("RSI all losses = %v, want 0", got)
	}
}

func TestTrueRangeUsesGaps(t *testing.T) {
	// gap up: previous close far below the low
	if got := TrueRange(110, 105, 90); !almostEqual(got, 20) {
		t.Errorf("TrueRange gap up = %v, want 20", got)
	}
	// plain range
	if got := TrueRange(110, 100, 105); !almostEqual(got, 10) {
		t.Errorf("TrueRange = %v, want 10", got)
	}
}

func TestATR(t *testing.T) {
	highs := []float64{10, 12, 11, 13}
	lows := []float64{8, 9, 10, 11}
	closes := []float64{9, 11, 10, 12}

	// TRs over the last 3 bars: max(12-9,|12-9|,|9-9|)=3, max(1,|11-11|,|10-11|)=1, max(2,3,1)=3
	if got := ATR(highs, lows, closes, 3); !almostEqual(got, 7.0/3.0) {
		t.Errorf("ATR = %v, want %v", got, 7.0/3.0)
	}
	if got := ATR(highs, lows, closes, 4); got != 0 {
		t.Errorf("ATR without lead-in bar = %v, want 0", got)
	}
}

func TestVWAP(t *testing.T) {
	var v VWAP
	if _, ok := v.Value(); ok {
		t.Error("empty VWAP should report not ready")
	}

	v.Add(100, 10)
	v.Add(110, 30)
	got, ok := v.Value()
	if !ok {
		t.Fatal("VWAP should be ready after volume")
	}
	if want := (100*10 + 110*30) / 40.0; !almostEqual(got, want) {
		t.Errorf("VWAP = %v, want %v", got, want)
	}

	v.Reset()
	if _, ok := v.Value(); ok {
		t.Error("VWAP should reset to not ready")
	}
}

func TestEngineWindowsAndValues(t *testing.T) {
	e := NewEngine(2, 3, 3, 3, 5)

	var values map[string]float64
	bars := []Bar{
		{High: 10, Low: 9, Close: 9.5, Volume: 100},
		{High: 11, Low: 9.5, Close: 10.5, Volume: 120},
		{High: 12, Low: 10, Close: 11.5, Volume: 90},
		{High: 12.5, Low: 11, Close: 12, Volume: 150},
	}
	for _, b := range bars {
		values = e.Update("BTC/USD", b)
	}

	if got := values["sma_short"]; !almostEqual(got, (11.5+12)/2) {
		t.Errorf("sma_short = %v", got)
	}
	if got := values["sma_long"]; !almostEqual(got, (10.5+11.5+12)/3) {
		t.Errorf("sma_long = %v", got)
	}
	if values["atr"] == 0 {
		t.Error("atr should be available after 4 bars with period 3")
	}
	if got := values["highest"]; !almostEqual(got, 12.5) {
		t.Errorf("highest = %v, want 12.5", got)
	}

	// per-symbol isolation
	other := e.Update("ETH/USD", Bar{High: 5, Low: 4, Close: 4.5})
	if other["sma_short"] != 0 {
		t.Errorf("fresh symbol sma_short = %v, want 0", other["sma_short"])
	}
	if got := len(e.Closes("BTC/USD")); got != 4 {
		t.Errorf("window length = %d, want 4", got)
	}
}
