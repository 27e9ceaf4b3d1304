// Package gauntlet runs every proposed trade through an ordered,
// short-circuiting chain of risk gates. Cheap local checks come first, the
// remote fact-check last; the first failing gate decides the outcome.
package gauntlet

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"signal-core/internal/normalize"
	"signal-core/internal/trade"
)

// RiskView is the slice of the risk engine the gates read.
type RiskView interface {
	DailyPnL() float64
}

// LedgerView exposes the session ledger numbers the gates read.
type LedgerView interface {
	Exposure() float64
	RealizedProfit() float64
}

// FactChecker consults an external advisory provider for red flags on a
// symbol. A nil checker means the gate records {"skipped": true} and passes.
type FactChecker interface {
	Check(ctx context.Context, symbol string) (map[string]any, error)
}

// redFlags are the advisory findings that hard-block a trade.
var redFlags = []string{"earnings_today", "dividend_cut", "ceo_resignation"}

// Request is one trade proposal to vet.
type Request struct {
	Signal   trade.Signal
	Notional float64 // stake in account currency
	Wealth   float64 // total wealth, for the exposure cap
}

// Result is the aggregate verdict. Computed fresh per request, never cached.
type Result struct {
	Approved        bool           `json:"approved"`
	Gate            string         `json:"gate,omitempty"` // failing gate
	Reason          string         `json:"reason,omitempty"`
	NormalizedPrice float64        `json:"normalized_price"`
	MaxPositionSize float64        `json:"max_position_size"`
	FactCheck       map[string]any `json:"fact_check,omitempty"`
}

// Gauntlet evaluates the gate chain.
type Gauntlet struct {
	cfg    Config
	risk   RiskView
	ledger LedgerView
	stats  *Tracker
	facts  FactChecker
	log    zerolog.Logger
}

// New assembles a gauntlet. facts may be nil when no advisory provider is
// configured.
func New(cfg Config, riskView RiskView, ledger LedgerView, stats *Tracker, facts FactChecker, logger zerolog.Logger) *Gauntlet {
	return &Gauntlet{
		cfg:    cfg,
		risk:   riskView,
		ledger: ledger,
		stats:  stats,
		facts:  facts,
		log:    logger.With().Str("component", "gauntlet").Logger(),
	}
}

type gateFunc func(ctx context.Context, req Request, res *Result) (string, bool)

// Run vets one request. The returned price is normalized (minor-unit fix
// plus precision truncation) whether or not the request is approved.
func (g *Gauntlet) Run(ctx context.Context, req Request) Result {
	res := Result{
		NormalizedPrice: normalize.EntryPrice(req.Signal.Symbol, req.Signal.Price),
		MaxPositionSize: g.maxPositionSize(),
	}

	gates := map[string]gateFunc{
		GateCircuitBreaker: g.circuitBreaker,
		GateGlobalExposure: g.globalExposure,
		GatePositionCap:    g.positionCap,
		GateSpread:         g.spreadGuard,
		GateVolume:         g.volumeFilter,
		GateVolatility:     g.volatilityGuard,
		GateVWAP:           g.vwapGate,
		GateFactCheck:      g.factCheck,
	}

	for _, name := range g.cfg.gatesFor(req.Signal.AssetClass) {
		fn, ok := gates[name]
		if !ok {
			continue
		}
		reason, passed := fn(ctx, req, &res)
		if !passed {
			res.Approved = false
			res.Gate = name
			res.Reason = reason
			g.log.Warn().
				Str("gate", name).
				Str("signal_id", req.Signal.SignalID).
				Str("symbol", req.Signal.Symbol).
				Str("reason", reason).
				Msg("gauntlet rejected signal")
			return res
		}
	}

	res.Approved = true
	return res
}

// maxPositionSize applies the profit-unlocked cap: the base allowance until
// realized profit clears the unlock, then grows with profit up to the
// ceiling.
func (g *Gauntlet) maxPositionSize() float64 {
	profit := g.ledger.RealizedProfit()
	if profit < g.cfg.ProfitUnlock {
		return g.cfg.BasePositionSize
	}
	limit := g.cfg.BasePositionSize + g.cfg.ProfitScale*profit
	if limit > g.cfg.PositionCeiling {
		return g.cfg.PositionCeiling
	}
	return limit
}

func (g *Gauntlet) circuitBreaker(_ context.Context, _ Request, _ *Result) (string, bool) {
	drawdown := -g.risk.DailyPnL()
	if drawdown >= g.cfg.DrawdownLimit {
		return fmt.Sprintf("CIRCUIT BREAKER ACTIVE: daily drawdown £%.2f >= limit £%.2f",
			drawdown, g.cfg.DrawdownLimit), false
	}
	return "", true
}

func (g *Gauntlet) globalExposure(_ context.Context, req Request, _ *Result) (string, bool) {
	if req.Wealth <= 0 {
		return "", true
	}
	exposure := g.ledger.Exposure()
	threshold := req.Wealth * g.cfg.ExposureCapPct
	if exposure >= threshold {
		return fmt.Sprintf("global exposure £%.2f at or above %.1f%% of wealth £%.2f",
			exposure, g.cfg.ExposureCapPct*100, req.Wealth), false
	}
	return "", true
}

func (g *Gauntlet) positionCap(_ context.Context, req Request, res *Result) (string, bool) {
	if req.Notional > res.MaxPositionSize {
		return fmt.Sprintf("Position size £%.2f exceeds limit £%.2f",
			req.Notional, res.MaxPositionSize), false
	}
	return "", true
}

func (g *Gauntlet) spreadGuard(_ context.Context, req Request, _ *Result) (string, bool) {
	spread, ok := g.stats.Spread(req.Signal.Symbol)
	if !ok {
		g.log.Warn().Str("symbol", req.Signal.Symbol).Msg("no quote for spread gate, passing")
		return "", true
	}
	if spread > g.cfg.MaxSpread {
		return fmt.Sprintf("spread %.4f exceeds maximum %.4f", spread, g.cfg.MaxSpread), false
	}
	return "", true
}

func (g *Gauntlet) volumeFilter(_ context.Context, req Request, _ *Result) (string, bool) {
	avg, ok := g.stats.AvgVolume(req.Signal.Symbol)
	if !ok {
		g.log.Warn().Str("symbol", req.Signal.Symbol).Msg("no volume history for volume gate, passing")
		return "", true
	}
	if avg < g.cfg.MinAvgVolume {
		return fmt.Sprintf("average volume %.0f below floor %.0f", avg, g.cfg.MinAvgVolume), false
	}
	return "", true
}

// volatilityGuard is advisory: missing data passes with a warning.
func (g *Gauntlet) volatilityGuard(_ context.Context, req Request, _ *Result) (string, bool) {
	ratio, ok := g.stats.ATRRatio(req.Signal.Symbol)
	if !ok {
		g.log.Warn().Str("symbol", req.Signal.Symbol).Msg("ATR unavailable for volatility gate, passing")
		return "", true
	}
	if ratio > g.cfg.ATRMultiple {
		return fmt.Sprintf("volatility %.2fx baseline exceeds %.2fx limit", ratio, g.cfg.ATRMultiple), false
	}
	return "", true
}

// vwapGate filters long entries: price must clear the session VWAP. It
// fails closed when the stat is unavailable.
func (g *Gauntlet) vwapGate(_ context.Context, req Request, res *Result) (string, bool) {
	if req.Signal.Side != trade.SideBuy {
		return "", true
	}
	vwap, ok := g.stats.VWAP(req.Signal.Symbol)
	if !ok {
		return "VWAP unavailable, rejecting long entry (fail closed)", false
	}
	if res.NormalizedPrice <= vwap {
		return fmt.Sprintf("price %.2f not above VWAP %.2f", res.NormalizedPrice, vwap), false
	}
	return "", true
}

// factCheck consults the advisory provider last; provider errors reject
// rather than silently approving.
func (g *Gauntlet) factCheck(ctx context.Context, req Request, res *Result) (string, bool) {
	if g.facts == nil {
		res.FactCheck = map[string]any{"skipped": true}
		return "", true
	}
	report, err := g.facts.Check(ctx, req.Signal.Symbol)
	if err != nil {
		return fmt.Sprintf("fact-check error (fail closed): %v", err), false
	}
	res.FactCheck = report
	for _, flag := range redFlags {
		if flagSet(report, flag) {
			return fmt.Sprintf("HARD BLOCKED by fact-check: %s", flag), false
		}
	}
	return "", true
}

func flagSet(report map[string]any, key string) bool {
	switch v := report[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}
