package normalize

import "testing"

func TestAmountTruncates(t *testing.T) {
	cases := []struct {
		name   string
		symbol string
		in     float64
		want   float64
	}{
		{"btc eight places", "BTC/USD", 0.123456789, 0.12345678},
		{"doge whole units", "DOGE/USD", 100.9, 100.0},
		{"doge never rounds up", "DOGE/USD", 100.999999, 100.0},
		{"unknown symbol default", "XRP/USD", 1.123456789, 1.12345678},
		{"exact value unchanged", "BTC/USD", 0.12345678, 0.12345678},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Amount(tc.symbol, tc.in)
			if got != tc.want {
				t.Errorf("Amount(%s, %v) = %v, want %v", tc.symbol, tc.in, got, tc.want)
			}
		})
	}
}

func TestAmountIdempotent(t *testing.T) {
	symbols := []string{"BTC/USD", "DOGE/USD", "ETH/USD", "UNKNOWN/PAIR"}
	for _, sym := range symbols {
		once := Amount(sym, 3.1415926535)
		twice := Amount(sym, once)
		if once != twice {
			t.Errorf("%s: normalizing a normalized value changed it: %v -> %v", sym, once, twice)
		}
	}
}

func TestAmountNeverIncreasesMagnitude(t *testing.T) {
	inputs := []float64{0.999999999, 1.000000001, 42.123456789, 0.000000019}
	for _, v := range inputs {
		got := Amount("BTC/USD", v)
		if got > v {
			t.Errorf("Amount increased magnitude: %v -> %v", v, got)
		}
	}
}

func TestPricePrecision(t *testing.T) {
	if got := Price("BTC/USD", 43210.57); got != 43210.5 {
		t.Errorf("BTC/USD price: got %v, want 43210.5", got)
	}
	if got := Price("DOGE/USD", 0.1234567); got != 0.12345 {
		t.Errorf("DOGE/USD price: got %v, want 0.12345", got)
	}
	if got := Price("ACME/USD", 10.999); got != 10.99 {
		t.Errorf("default price precision: got %v, want 10.99", got)
	}
}

func TestFixMinorUnit(t *testing.T) {
	if got := FixMinorUnit(7250, "GBP"); got != 72.50 {
		t.Errorf("pence conversion: got %v, want 72.50", got)
	}
	if got := FixMinorUnit(7250, "GBX"); got != 72.50 {
		t.Errorf("GBX conversion: got %v, want 72.50", got)
	}
	if got := FixMinorUnit(7250, "USD"); got != 7250 {
		t.Errorf("USD must pass through: got %v", got)
	}
}

func TestEntryPrice(t *testing.T) {
	if got := EntryPrice("VOD.L", 7250); got != 72.50 {
		t.Errorf("VOD.L entry: got %v, want 72.50", got)
	}
	if got := EntryPrice("BARC_UK_EQ", 21462); got != 214.62 {
		t.Errorf("UK equity suffix entry: got %v, want 214.62", got)
	}
	if got := EntryPrice("ETH/USD", 2481.559); got != 2481.55 {
		t.Errorf("non-pence symbol: got %v, want 2481.55", got)
	}
}

func TestMinorUnitSuspect(t *testing.T) {
	if !MinorUnitSuspect(7250, 72.50) {
		t.Error("7250 against reference 72.50 should look like pence")
	}
	if MinorUnitSuspect(73.10, 72.50) {
		t.Error("near-identical prices are not a minor-unit mismatch")
	}
	if MinorUnitSuspect(7250, 0) {
		t.Error("zero reference must never flag")
	}
}
