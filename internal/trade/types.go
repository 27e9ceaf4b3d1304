package trade

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Side denotes signal direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the intended order style.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// AssetClass selects the gate profile a signal is validated under.
type AssetClass string

const (
	AssetCrypto   AssetClass = "crypto"
	AssetEquities AssetClass = "equities"
)

// Signal is a trade proposal emitted by a strategy agent. It is immutable
// once published; consumers must not mutate it.
type Signal struct {
	SignalID   string     `json:"signal_id"`
	StrategyID string     `json:"strategy_id"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	OrderType  OrderType  `json:"order_type"`
	Amount     float64    `json:"amount"`
	Price      float64    `json:"price,omitempty"`
	StopLoss   float64    `json:"stop_loss,omitempty"`
	TakeProfit float64    `json:"take_profit,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	AssetClass AssetClass `json:"asset_class,omitempty"`

	// MarketSnapshot carries the emitting agent's view of the market at
	// decision time. Opaque to the pipeline, persisted with the audit trail.
	MarketSnapshot map[string]any `json:"market_state_snapshot,omitempty"`
}

// NewSignal assigns a fresh id and timestamp. All other fields are the
// caller's responsibility; Validate before publishing.
func NewSignal(strategyID, symbol string, side Side, amount float64) Signal {
	return Signal{
		SignalID:   uuid.NewString(),
		StrategyID: strategyID,
		Symbol:     symbol,
		Side:       side,
		OrderType:  OrderTypeMarket,
		Amount:     amount,
		Timestamp:  time.Now().UTC(),
	}
}

var (
	ErrInvalidSide   = errors.New("side must be BUY or SELL")
	ErrInvalidType   = errors.New("order type must be MARKET, LIMIT or STOP")
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Validate rejects malformed signals before they reach the queue.
func (s Signal) Validate() error {
	if s.SignalID == "" {
		return errors.New("signal_id is empty")
	}
	if s.Symbol == "" {
		return errors.New("symbol is empty")
	}
	switch s.Side {
	case SideBuy, SideSell:
	default:
		return ErrInvalidSide
	}
	switch s.OrderType {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop:
	default:
		return ErrInvalidType
	}
	if s.Amount <= 0 {
		return ErrInvalidAmount
	}
	if s.OrderType == OrderTypeLimit && s.Price <= 0 {
		return fmt.Errorf("limit signal for %s has no price", s.Symbol)
	}
	return nil
}

// Fingerprint is the idempotency key beyond SignalID: two signals with the
// same symbol, amount and price are equivalent submissions even when their
// ids differ. Floats are printed with full precision so the key is stable.
func (s Signal) Fingerprint() string {
	return s.Symbol + "|" +
		strconv.FormatFloat(s.Amount, 'f', -1, 64) + "|" +
		strconv.FormatFloat(s.Price, 'f', -1, 64)
}

// MarketData is a single quote/trade observation fanned out to agents.
// Never persisted by the pipeline.
type MarketData struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}
