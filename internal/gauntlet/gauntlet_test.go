package gauntlet

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"signal-core/internal/indicators"
	"signal-core/internal/trade"
)

type fakeRisk struct{ pnl float64 }

func (f fakeRisk) DailyPnL() float64 { return f.pnl }

type fakeLedger struct{ exposure, profit float64 }

func (f fakeLedger) Exposure() float64       { return f.exposure }
func (f fakeLedger) RealizedProfit() float64 { return f.profit }

type fakeFacts struct {
	report map[string]any
	err    error
}

func (f fakeFacts) Check(context.Context, string) (map[string]any, error) {
	return f.report, f.err
}

// seedCalmMarket loads enough history for every market gate to pass:
// tight spread, deep volume, stable ATR, VWAP around 100.
func seedCalmMarket(tr *Tracker, symbol string) {
	bars := make([]indicators.Bar, 25)
	for i := range bars {
		bars[i] = indicators.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 600000}
	}
	tr.SeedBars(symbol, bars)
	for _, b := range bars {
		tr.OnBar(symbol, b)
	}
	tr.OnTick(trade.MarketData{Symbol: symbol, Price: 100, Bid: 100, Ask: 100.2})
}

func buySignal(symbol string, amount, price float64, class trade.AssetClass) trade.Signal {
	sig := trade.NewSignal("test-agent", symbol, trade.SideBuy, amount)
	sig.Price = price
	sig.AssetClass = class
	return sig
}

func TestGauntletApprovesCleanSignal(t *testing.T) {
	tr := NewTracker(5, 20, 20)
	seedCalmMarket(tr, "TSCO")

	g := New(DefaultConfig(), fakeRisk{pnl: -50}, fakeLedger{}, tr, nil, zerolog.Nop())
	res := g.Run(context.Background(), Request{
		Signal:   buySignal("TSCO", 200, 105, trade.AssetEquities),
		Notional: 200,
		Wealth:   10000,
	})

	if !res.Approved {
		t.Fatalf("expected approval, got gate %q reason %q", res.Gate, res.Reason)
	}
	if res.NormalizedPrice != 105 {
		t.Errorf("normalized price = %v, want 105", res.NormalizedPrice)
	}
	if skipped, ok := res.FactCheck["skipped"].(bool); !ok || !skipped {
		t.Errorf("unconfigured fact-check should record skipped, got %v", res.FactCheck)
	}
}

func TestCircuitBreakerComesFirst(t *testing.T) {
	tr := NewTracker(5, 20, 20)
	// no market data at all and an oversized request: every later gate
	// would have its own complaint
	g := New(DefaultConfig(), fakeRisk{pnl: -1500}, fakeLedger{exposure: 99999}, tr, fakeFacts{err: errors.New("down")}, zerolog.Nop())

	res := g.Run(context.Background(), Request{
		Signal:   buySignal("TSCO", 5000, 105, trade.AssetEquities),
		Notional: 5000,
		Wealth:   5000,
	})

	if res.Approved {
		t.Fatal("expected rejection")
	}
	if res.Gate != GateCircuitBreaker {
		t.Errorf("failing gate = %q, want circuit_breaker", res.Gate)
	}
	if !strings.Contains(res.Reason, "CIRCUIT BREAKER") {
		t.Errorf("reason %q should mention CIRCUIT BREAKER", res.Reason)
	}
}

func TestPenceQuotedEquityPositionCap(t *testing.T) {
	tr := NewTracker(5, 20, 20)
	seedCalmMarket(tr, "VOD.L")

	g := New(DefaultConfig(), fakeRisk{pnl: -50}, fakeLedger{}, tr, nil, zerolog.Nop())
	res := g.Run(context.Background(), Request{
		Signal:   buySignal("VOD.L", 500, 7250, trade.AssetEquities),
		Notional: 500,
		Wealth:   5000,
	})

	if res.NormalizedPrice != 72.50 {
		t.Errorf("normalized price = %v, want 72.50 (pence converted)", res.NormalizedPrice)
	}
	if res.Approved {
		t.Fatal("expected rejection by position cap")
	}
	if res.Gate != GatePositionCap {
		t.Errorf("failing gate = %q, want position_cap", res.Gate)
	}
	if !strings.Contains(res.Reason, "exceeds limit") {
		t.Errorf("reason %q should name the limit", res.Reason)
	}
	if res.MaxPositionSize != 250 {
		t.Errorf("max position = %v, want base 250 (profit below unlock)", res.MaxPositionSize)
	}
}

func TestPositionCapUnlocksWithProfit(t *testing.T) {
	tr := NewTracker(5, 20, 20)
	seedCalmMarket(tr, "TSCO")

	t.Run("profit scales the cap", func(t *testing.T) {
		g := New(DefaultConfig(), fakeRisk{}, fakeLedger{profit: 2000}, tr, nil, zerolog.Nop())
		res := g.Run(context.Background(), Request{
			Signal:   buySignal("TSCO", 400, 105, trade.AssetEquities),
			Notional: 400,
			Wealth:   100000,
		})
		if res.MaxPositionSize != 450 {
			t.Errorf("max position = %v, want 250 + 0.1*2000 = 450", res.MaxPositionSize)
		}
		if !res.Approved {
			t.Errorf("400 within unlocked cap should pass, got %q", res.Reason)
		}
	})

	t.Run("ceiling holds", func(t *testing.T) {
		g := New(DefaultConfig(), fakeRisk{}, fakeLedger{profit: 50000}, tr, nil, zerolog.Nop())
		res := g.Run(context.Background(), Request{
			Signal:   buySignal("TSCO", 100, 105, trade.AssetEquities),
			Notional: 100,
			Wealth:   1000000,
		})
		if res.MaxPositionSize != 3000 {
			t.Errorf("max position = %v, want ceiling 3000", res.MaxPositionSize)
		}
	})
}

func TestGlobalExposureCap(t *testing.T) {
	tr := NewTracker(5, 20, 20)
	seedCalmMarket(tr, "TSCO")

	g := New(DefaultConfig(), fakeRisk{}, fakeLedger{exposure: 250}, tr, nil, zerolog.Nop())
	res := g.Run(context.Background(), Request{
		Signal:   buySignal("TSCO", 100, 105, trade.AssetEquities),
		Notional: 100,
		Wealth:   5000, // 5% threshold = 250
	})

	if res.Approved || res.Gate != GateGlobalExposure {
		t.Errorf("expected global_exposure rejection, got approved=%v gate=%q", res.Approved, res.Gate)
	}
}

func TestSpreadGuard(t *testing.T) {
	tr := NewTracker(5, 20, 20)
	seedCalmMarket(tr, "TSCO")
	// widen the quote: (101-100)/100 = 1% > 0.5%
	tr.OnTick(trade.MarketData{Symbol: "TSCO", Price: 100.5, Bid: 100, Ask: 101})

	g := New(DefaultConfig(), fakeRisk{}, fakeLedger{}, tr, nil, zerolog.Nop())
	res := g.Run(context.Background(), Request{
		Signal:   buySignal("TSCO", 100, 105, trade.AssetEquities),
		Notional: 100,
		Wealth:   100000,
	})

	if res.Approved || res.Gate != GateSpread {
		t.Errorf("expected spread rejection, got approved=%v gate=%q", res.Approved, res.Gate)
	}
}

func TestVolumeFilter(t *testing.T) {
	tr := NewTracker(5, 20, 20)
	bars := make([]indicators.Bar, 25)
	for i := range bars {
		bars[i] = indicators.Bar{High: 101, Low: 99, Close: 100, Volume: 1000} // thin
	}
	tr.SeedBars("ILLQ", bars)
	for _, b := range bars {
		tr.OnBar("ILLQ", b)
	}
	tr.OnTick(trade.MarketData{Symbol: "ILLQ", Price: 100, Bid: 100, Ask: 100.1})

	g := New(DefaultConfig(), fakeRisk{}, fakeLedger{}, tr, nil, zerolog.Nop())
	res := g.Run(context.Background(), Request{
		Signal:   buySignal("ILLQ", 100, 105, trade.AssetEquities),
		Notional: 100,
		Wealth:   100000,
	})

	if res.Approved || res.Gate != GateVolume {
		t.Errorf("expected volume rejection, got approved=%v gate=%q", res.Approved, res.Gate)
	}
}

func TestVolatilityGuard(t *testing.T) {
	t.Run("spike rejects", func(t *testing.T) {
		tr := NewTracker(5, 20, 20)
		calm := make([]indicators.Bar, 25)
		for i := range calm {
			calm[i] = indicators.Bar{High: 101, Low: 99, Close: 100, Volume: 600000}
		}
		tr.SeedBars("TSCO", calm)
		for _, b := range calm {
			tr.OnBar("TSCO", b)
		}
		for i := 0; i < 5; i++ {
			tr.OnBar("TSCO", indicators.Bar{High: 105, Low: 95, Close: 100, Volume: 600000})
		}
		tr.OnTick(trade.MarketData{Symbol: "TSCO", Price: 100, Bid: 100, Ask: 100.2})

		g := New(DefaultConfig(), fakeRisk{}, fakeLedger{}, tr, nil, zerolog.Nop())
		res := g.Run(context.Background(), Request{
			Signal:   buySignal("TSCO", 100, 105, trade.AssetEquities),
			Notional: 100,
			Wealth:   100000,
		})
		if res.Approved || res.Gate != GateVolatility {
			t.Errorf("expected volatility rejection, got approved=%v gate=%q reason=%q", res.Approved, res.Gate, res.Reason)
		}
	})

	t.Run("missing stat passes (advisory)", func(t *testing.T) {
		tr := NewTracker(5, 20, 20)
		// quote + volume history but too few bars for the baseline ATR
		bars := make([]indicators.Bar, 10)
		for i := range bars {
			bars[i] = indicators.Bar{High: 101, Low: 99, Close: 100, Volume: 600000}
		}
		tr.SeedBars("TSCO", bars)
		for _, b := range bars {
			tr.OnBar("TSCO", b)
		}
		tr.OnTick(trade.MarketData{Symbol: "TSCO", Price: 100, Bid: 100, Ask: 100.2})

		g := New(DefaultConfig(), fakeRisk{}, fakeLedger{}, tr, nil, zerolog.Nop())
		res := g.Run(context.Background(), Request{
			Signal:   buySignal("TSCO", 100, 105, trade.AssetEquities),
			Notional: 100,
			Wealth:   100000,
		})
		if !res.Approved {
			t.Errorf("volatility gate should fail open, got gate=%q reason=%q", res.Gate, res.Reason)
		}
	})
}

func TestVWAPGate(t *testing.T) {
	t.Run("long below VWAP rejects", func(t *testing.T) {
		tr := NewTracker(5, 20, 20)
		seedCalmMarket(tr, "TSCO") // VWAP ~100

		g := New(DefaultConfig(), fakeRisk{}, fakeLedger{}, tr, nil, zerolog.Nop())
		res := g.Run(context.Background(), Request{
			Signal:   buySignal("TSCO", 100, 95, trade.AssetEquities),
			Notional: 100,
			Wealth:   100000,
		})
		if res.Approved || res.Gate != GateVWAP {
			t.Errorf("expected vwap rejection, got approved=%v gate=%q", res.Approved, res.Gate)
		}
	})

	t.Run("sell ignores VWAP", func(t *testing.T) {
		tr := NewTracker(5, 20, 20)
		seedCalmMarket(tr, "TSCO")

		sig := trade.NewSignal("test-agent", "TSCO", trade.SideSell, 100)
		sig.Price = 95
		sig.AssetClass = trade.AssetEquities

		g := New(DefaultConfig(), fakeRisk{}, fakeLedger{}, tr, nil, zerolog.Nop())
		res := g.Run(context.Background(), Request{Signal: sig, Notional: 100, Wealth: 100000})
		if !res.Approved {
			t.Errorf("sell below VWAP should pass, got gate=%q reason=%q", res.Gate, res.Reason)
		}
	})

	t.Run("long with no VWAP fails closed", func(t *testing.T) {
		tr := NewTracker(5, 20, 20)
		// quote only, no volume anywhere
		tr.OnTick(trade.MarketData{Symbol: "TSCO", Price: 100, Bid: 100, Ask: 100.2})

		g := New(DefaultConfig(), fakeRisk{}, fakeLedger{}, tr, nil, zerolog.Nop())
		res := g.Run(context.Background(), Request{
			Signal:   buySignal("TSCO", 100, 105, trade.AssetEquities),
			Notional: 100,
			Wealth:   100000,
		})
		if res.Approved || res.Gate != GateVWAP {
			t.Errorf("expected fail-closed vwap rejection, got approved=%v gate=%q", res.Approved, res.Gate)
		}
		if !strings.Contains(res.Reason, "fail closed") {
			t.Errorf("reason %q should note fail closed", res.Reason)
		}
	})
}

func TestFactCheckGate(t *testing.T) {
	newCalm := func() *Tracker {
		tr := NewTracker(5, 20, 20)
		seedCalmMarket(tr, "TSCO")
		return tr
	}
	req := Request{
		Signal:   buySignal("TSCO", 100, 105, trade.AssetEquities),
		Notional: 100,
		Wealth:   100000,
	}

	t.Run("red flag hard blocks", func(t *testing.T) {
		facts := fakeFacts{report: map[string]any{"earnings_today": true}}
		g := New(DefaultConfig(), fakeRisk{}, fakeLedger{}, newCalm(), facts, zerolog.Nop())
		res := g.Run(context.Background(), req)
		if res.Approved || res.Gate != GateFactCheck {
			t.Fatalf("expected fact_check rejection, got approved=%v gate=%q", res.Approved, res.Gate)
		}
		if !strings.Contains(res.Reason, "HARD BLOCKED") {
			t.Errorf("reason %q should say HARD BLOCKED", res.Reason)
		}
	})

	t.Run("provider error fails closed", func(t *testing.T) {
		facts := fakeFacts{err: errors.New("upstream 500")}
		g := New(DefaultConfig(), fakeRisk{}, fakeLedger{}, newCalm(), facts, zerolog.Nop())
		res := g.Run(context.Background(), req)
		if res.Approved || res.Gate != GateFactCheck {
			t.Fatalf("expected fail-closed rejection, got approved=%v gate=%q", res.Approved, res.Gate)
		}
	})

	t.Run("clean report passes through", func(t *testing.T) {
		facts := fakeFacts{report: map[string]any{"earnings_today": false, "note": "clear"}}
		g := New(DefaultConfig(), fakeRisk{}, fakeLedger{}, newCalm(), facts, zerolog.Nop())
		res := g.Run(context.Background(), req)
		if !res.Approved {
			t.Fatalf("expected approval, got gate=%q reason=%q", res.Gate, res.Reason)
		}
		if res.FactCheck["note"] != "clear" {
			t.Errorf("fact check report not attached: %v", res.FactCheck)
		}
	})
}

func TestCryptoProfileSkipsEquityGates(t *testing.T) {
	tr := NewTracker(5, 20, 20)
	seedCalmMarket(tr, "BTC/USD")

	// a broken fact-check provider and breached exposure would both reject
	// an equities signal; the crypto profile runs neither gate
	facts := fakeFacts{err: errors.New("down")}
	g := New(DefaultConfig(), fakeRisk{}, fakeLedger{exposure: 99999}, tr, facts, zerolog.Nop())

	res := g.Run(context.Background(), Request{
		Signal:   buySignal("BTC/USD", 0.001, 105, trade.AssetCrypto),
		Notional: 105,
		Wealth:   5000,
	})

	if !res.Approved {
		t.Errorf("crypto signal should skip exposure and fact-check gates, got gate=%q reason=%q", res.Gate, res.Reason)
	}
}
