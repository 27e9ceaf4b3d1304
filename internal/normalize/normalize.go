// Package normalize converts amounts and prices to instrument precision.
// Truncation only, never rounding: a normalized value must never report a
// larger position or price than the raw input.
package normalize

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Precision holds decimal places for one instrument.
type Precision struct {
	AmountDP int32
	PriceDP  int32
}

// Instrument precision table. Unknown symbols fall back to defaultPrecision.
var precisions = map[string]Precision{
	"BTC/USD":  {AmountDP: 8, PriceDP: 1},
	"BTC/GBP":  {AmountDP: 8, PriceDP: 1},
	"ETH/USD":  {AmountDP: 8, PriceDP: 2},
	"DOGE/USD": {AmountDP: 0, PriceDP: 5},
}

var defaultPrecision = Precision{AmountDP: 8, PriceDP: 2}

// For returns the precision for a symbol, defaulting for unknown ones.
func For(symbol string) Precision {
	if p, ok := precisions[symbol]; ok {
		return p
	}
	return defaultPrecision
}

// Amount truncates an order amount to the instrument's amount precision.
func Amount(symbol string, amount float64) float64 {
	return truncate(amount, For(symbol).AmountDP)
}

// Price truncates a price to the instrument's price precision.
func Price(symbol string, price float64) float64 {
	return truncate(price, For(symbol).PriceDP)
}

// PenceQuoted reports whether a symbol's feed quotes in minor units.
// LSE tickers (".L") and the internal UK-equity suffix are pence-quoted.
func PenceQuoted(symbol string) bool {
	return strings.HasSuffix(symbol, ".L") || strings.HasSuffix(symbol, "_UK_EQ")
}

// FixMinorUnit converts a minor-unit value (pence) to major units for
// 2-decimal currencies. Values in other currencies pass through untouched.
func FixMinorUnit(value float64, currency string) float64 {
	switch strings.ToUpper(currency) {
	case "GBP", "GBX":
		return truncate(value/100, 2)
	}
	return value
}

// EntryPrice applies the minor-unit fix for pence-quoted symbols and then
// truncates to the instrument's price precision.
func EntryPrice(symbol string, price float64) float64 {
	if PenceQuoted(symbol) {
		price = truncate(price/100, 2)
	}
	return Price(symbol, price)
}

// MinorUnitSuspect reports whether value is plausibly the same price as ref
// expressed in minor units: the magnitude heuristic for feeds that do not
// label their unit. Only meaningful when a trusted reference price exists.
func MinorUnitSuspect(value, ref float64) bool {
	if ref <= 0 || value <= 0 {
		return false
	}
	ratio := value / ref
	return ratio > 80 && ratio < 120
}

func truncate(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Truncate(places).Float64()
	return f
}
