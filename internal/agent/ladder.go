package agent

import (
	"encoding/json"
	"fmt"
	"math"

	"signal-core/internal/trade"
)

// Ladder averages into a falling market: a base entry on the first tick,
// then a further buy each time price drops another step below the entry
// price. Rung size grows geometrically so deeper rungs pull the average
// entry down faster. The ladder never sells; exits belong to the operator
// or a companion agent.
type Ladder struct {
	id       string
	symbol   string
	class    trade.AssetClass
	baseSize float64
	stepPct  float64 // entry-relative drop that triggers the next rung
	growth   float64 // geometric size multiplier per rung
	maxRungs int

	entryPrice float64
	rungs      int
}

// NewLadder creates an averaging-ladder agent. growth of 1 gives flat
// rung sizes; 2 doubles each rung down.
func NewLadder(id, symbol string, class trade.AssetClass, baseSize, stepPct, growth float64, maxRungs int) *Ladder {
	if baseSize <= 0 {
		baseSize = 0.001
	}
	if stepPct <= 0 {
		stepPct = 0.02
	}
	if growth <= 0 {
		growth = 2
	}
	if maxRungs <= 0 {
		maxRungs = 10
	}
	if class == "" {
		class = trade.AssetCrypto
	}
	return &Ladder{
		id:       id,
		symbol:   symbol,
		class:    class,
		baseSize: baseSize,
		stepPct:  stepPct,
		growth:   growth,
		maxRungs: maxRungs,
	}
}

func (a *Ladder) ID() string {
	return a.id
}

func (a *Ladder) Name() string {
	return fmt.Sprintf("Ladder_x%g_%d", a.growth, a.maxRungs)
}

// LadderState is the serializable position state.
type LadderState struct {
	EntryPrice float64 `json:"entry_price"`
	Rungs      int     `json:"rungs"`
}

func (a *Ladder) GetState() (json.RawMessage, error) {
	return json.Marshal(LadderState{EntryPrice: a.entryPrice, Rungs: a.rungs})
}

func (a *Ladder) SetState(data json.RawMessage) error {
	var st LadderState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	a.entryPrice = st.EntryPrice
	a.rungs = st.Rungs
	return nil
}

// OnTick opens the position on the first observation, then adds one rung
// per tick whenever the drop from entry crosses the next step threshold.
func (a *Ladder) OnTick(md trade.MarketData) ([]trade.Signal, error) {
	if md.Symbol != a.symbol || md.Price <= 0 {
		return nil, nil
	}

	if a.entryPrice == 0 {
		a.entryPrice = md.Price
		return []trade.Signal{a.signal(md, a.baseSize, "ladder entry")}, nil
	}

	drop := (a.entryPrice - md.Price) / a.entryPrice
	target := float64(a.rungs+1) * a.stepPct
	if drop < target || a.rungs >= a.maxRungs {
		return nil, nil
	}

	a.rungs++
	size := a.baseSize * math.Pow(a.growth, float64(a.rungs))
	reason := fmt.Sprintf("ladder rung %d of %d", a.rungs, a.maxRungs)
	return []trade.Signal{a.signal(md, size, reason)}, nil
}

func (a *Ladder) signal(md trade.MarketData, size float64, reason string) trade.Signal {
	sig := trade.NewSignal(a.id, a.symbol, trade.SideBuy, size)
	sig.Price = md.Price
	sig.AssetClass = a.class
	sig.Reason = reason
	drop := 0.0
	if a.entryPrice > 0 {
		drop = (a.entryPrice - md.Price) / a.entryPrice
	}
	sig.MarketSnapshot = map[string]any{
		"entry_price": a.entryPrice,
		"rung":        a.rungs,
		"price":       md.Price,
		"drop_pct":    drop,
	}
	return sig
}
