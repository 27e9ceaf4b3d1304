package gauntlet

import "signal-core/internal/trade"

// Gate names, in pipeline order.
const (
	GateCircuitBreaker = "circuit_breaker"
	GateGlobalExposure = "global_exposure"
	GatePositionCap    = "position_cap"
	GateSpread         = "spread"
	GateVolume         = "volume"
	GateVolatility     = "volatility"
	GateVWAP           = "vwap"
	GateFactCheck      = "fact_check"
)

// AllGates is the full ordered pipeline.
var AllGates = []string{
	GateCircuitBreaker,
	GateGlobalExposure,
	GatePositionCap,
	GateSpread,
	GateVolume,
	GateVolatility,
	GateVWAP,
	GateFactCheck,
}

// Config holds the gate thresholds and per-asset-class gate profiles.
type Config struct {
	// Circuit breaker: reject everything once the day's drawdown reaches this.
	DrawdownLimit float64 `json:"drawdown_limit"`

	// Global exposure cap as a fraction of total wealth.
	ExposureCapPct float64 `json:"exposure_cap_pct"`

	// Position-size cap: base allowance, profit unlock threshold, growth
	// factor per unit of realized profit, and the absolute ceiling.
	BasePositionSize float64 `json:"base_position_size"`
	ProfitUnlock     float64 `json:"profit_unlock"`
	ProfitScale      float64 `json:"profit_scale"`
	PositionCeiling  float64 `json:"position_ceiling"`

	// Market-quality thresholds.
	MaxSpread    float64 `json:"max_spread"`
	MinAvgVolume float64 `json:"min_avg_volume"`
	ATRMultiple  float64 `json:"atr_multiple"`

	// Profiles lists the enabled gates per asset class. A class with no
	// profile runs the full pipeline.
	Profiles map[trade.AssetClass][]string `json:"profiles"`
}

// DefaultConfig returns the standard thresholds: equities run all eight
// gates, crypto skips the exposure cap and the fact-check (no earnings
// calendar to consult, exposure managed per venue).
func DefaultConfig() Config {
	return Config{
		DrawdownLimit:    1000.0,
		ExposureCapPct:   0.05,
		BasePositionSize: 250.0,
		ProfitUnlock:     1000.0,
		ProfitScale:      0.1,
		PositionCeiling:  3000.0,
		MaxSpread:        0.005,
		MinAvgVolume:     500000,
		ATRMultiple:      1.5,
		Profiles: map[trade.AssetClass][]string{
			trade.AssetEquities: AllGates,
			trade.AssetCrypto: {
				GateCircuitBreaker,
				GatePositionCap,
				GateSpread,
				GateVolume,
				GateVolatility,
				GateVWAP,
			},
		},
	}
}

// gatesFor resolves the enabled gates for an asset class.
func (c Config) gatesFor(class trade.AssetClass) []string {
	if gates, ok := c.Profiles[class]; ok {
		return gates
	}
	return AllGates
}
