package agent

import (
	"encoding/json"
	"fmt"

	"signal-core/internal/trade"
)

// Breakout trades the opening range: it records the high and low of the
// first minutes after session open, then enters once price escapes the
// range in the direction of intraday VWAP. One entry per session; the
// VWAP confirmation screens out breaks against the volume-weighted trend.
type Breakout struct {
	id        string
	symbol    string
	class     trade.AssetClass
	openMin   int // session open, minutes after midnight UTC
	windowMin int // opening range duration in minutes
	size      float64

	day    string
	high   float64
	low    float64
	volume float64
	pv     float64 // cumulative price*volume for VWAP
	armed  bool
	fired  bool
}

// NewBreakout creates an opening-range breakout agent. openMin is the
// session open expressed as minutes after midnight UTC.
func NewBreakout(id, symbol string, class trade.AssetClass, openMin, windowMin int, size float64) *Breakout {
	if openMin < 0 {
		openMin = 0
	}
	if windowMin <= 0 {
		windowMin = 15
	}
	if size <= 0 {
		size = 0.01
	}
	if class == "" {
		class = trade.AssetCrypto
	}
	return &Breakout{
		id:        id,
		symbol:    symbol,
		class:     class,
		openMin:   openMin,
		windowMin: windowMin,
		size:      size,
	}
}

func (a *Breakout) ID() string {
	return a.id
}

func (a *Breakout) Name() string {
	return fmt.Sprintf("ORB_%dm_VWAP", a.windowMin)
}

// BreakoutState is the serializable per-session state.
type BreakoutState struct {
	Day    string  `json:"day"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Volume float64 `json:"volume"`
	PV     float64 `json:"pv"`
	Armed  bool    `json:"armed"`
	Fired  bool    `json:"fired"`
}

func (a *Breakout) GetState() (json.RawMessage, error) {
	return json.Marshal(BreakoutState{
		Day:    a.day,
		High:   a.high,
		Low:    a.low,
		Volume: a.volume,
		PV:     a.pv,
		Armed:  a.armed,
		Fired:  a.fired,
	})
}

func (a *Breakout) SetState(data json.RawMessage) error {
	var st BreakoutState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	a.day = st.Day
	a.high = st.High
	a.low = st.Low
	a.volume = st.Volume
	a.pv = st.PV
	a.armed = st.Armed
	a.fired = st.Fired
	return nil
}

// OnTick builds the range during the opening window and watches for the
// break afterwards. Sessions roll over on the UTC date of the tick.
func (a *Breakout) OnTick(md trade.MarketData) ([]trade.Signal, error) {
	if md.Symbol != a.symbol || md.Price <= 0 {
		return nil, nil
	}

	ts := md.Timestamp.UTC()
	if day := ts.Format("2006-01-02"); day != a.day {
		a.resetSession(day)
	}
	minute := ts.Hour()*60 + ts.Minute()
	if minute < a.openMin {
		// Pre-open ticks belong to no session.
		a.resetSession(a.day)
		return nil, nil
	}

	a.volume += md.Volume
	a.pv += md.Price * md.Volume
	vwap := 0.0
	if a.volume > 0 {
		vwap = a.pv / a.volume
	}

	if minute < a.openMin+a.windowMin {
		if a.high == 0 || md.Price > a.high {
			a.high = md.Price
		}
		if a.low == 0 || md.Price < a.low {
			a.low = md.Price
		}
		return nil, nil
	}

	if !a.armed {
		if a.high == 0 || a.fired {
			// No range this session, or the one shot is spent.
			return nil, nil
		}
		a.armed = true
	}

	switch {
	case md.Price > a.high && md.Price > vwap:
		a.armed = false
		a.fired = true
		return []trade.Signal{a.signal(md, trade.SideBuy, vwap)}, nil
	case md.Price < a.low && md.Price < vwap:
		a.armed = false
		a.fired = true
		return []trade.Signal{a.signal(md, trade.SideSell, vwap)}, nil
	}
	return nil, nil
}

func (a *Breakout) signal(md trade.MarketData, side trade.Side, vwap float64) trade.Signal {
	sig := trade.NewSignal(a.id, a.symbol, side, a.size)
	sig.Price = md.Price
	sig.AssetClass = a.class
	if side == trade.SideBuy {
		sig.StopLoss = a.low
		sig.Reason = fmt.Sprintf("opening range breakout above %.2f with VWAP confirmation", a.high)
	} else {
		sig.StopLoss = a.high
		sig.Reason = fmt.Sprintf("opening range breakdown below %.2f with VWAP confirmation", a.low)
	}
	sig.MarketSnapshot = map[string]any{
		"range_high": a.high,
		"range_low":  a.low,
		"vwap":       vwap,
		"price":      md.Price,
		"volume":     a.volume,
	}
	return sig
}

func (a *Breakout) resetSession(day string) {
	a.day = day
	a.high = 0
	a.low = 0
	a.volume = 0
	a.pv = 0
	a.armed = false
	a.fired = false
}
