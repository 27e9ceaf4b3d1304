// Package paper implements an in-memory simulated gateway for dry runs.
// Fills are immediate, with configurable slippage, fees and gateway
// latency so a dry run behaves close to production.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-core/pkg/exchange/common"
)

// Config controls the simulation.
type Config struct {
	Currency     string  // cash currency label, default USD
	StartBalance float64 // opening cash balance
	FeeRate      float64 // decimal, e.g. 0.0026 = 26 bps taker
	SlippageBps  float64 // basis points of adverse slippage on fills
	LatencyMinMs int     // simulated gateway latency lower bound
	LatencyMaxMs int     // simulated gateway latency upper bound
}

// Position is an open simulated position.
type Position struct {
	Symbol     string      `json:"symbol"`
	Side       common.Side `json:"side"`
	Qty        float64     `json:"qty"`
	EntryPrice float64     `json:"entry_price"`
}

// State is a snapshot of the simulated account.
type State struct {
	Cash      float64    `json:"cash"`
	FeesPaid  float64    `json:"fees_paid"`
	Positions []Position `json:"positions"`
}

// Gateway is a simulated venue implementing common.Gateway.
type Gateway struct {
	cfg Config
	rng *rand.Rand
	log zerolog.Logger

	mu        sync.RWMutex
	cash      float64
	feesPaid  float64
	quotes    map[string]common.Quote
	positions map[string]*Position
	open      map[string]common.OpenOrder
	seq       int64
}

func New(cfg Config, logger zerolog.Logger) *Gateway {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.LatencyMaxMs > 0 && cfg.LatencyMinMs > cfg.LatencyMaxMs {
		cfg.LatencyMinMs, cfg.LatencyMaxMs = cfg.LatencyMaxMs, cfg.LatencyMinMs
	}
	return &Gateway{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		log:       logger.With().Str("component", "paper_gateway").Logger(),
		cash:      cfg.StartBalance,
		quotes:    make(map[string]common.Quote),
		positions: make(map[string]*Position),
		open:      make(map[string]common.OpenOrder),
	}
}

func (g *Gateway) Name() string { return "paper" }

// SetQuote updates the simulated top of book for a symbol. The market
// feed pushes ticks here so fills track live prices.
func (g *Gateway) SetQuote(q common.Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quotes[q.Symbol] = q
}

// SubmitOrder fills immediately at the quoted price plus slippage.
func (g *Gateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := g.simulateLatency(ctx); err != nil {
		return common.OrderResult{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	price, err := g.fillPriceLocked(req)
	if err != nil {
		return common.OrderResult{}, err
	}

	cost := req.Qty * price
	fee := cost * g.cfg.FeeRate
	if req.Side == common.SideBuy && cost+fee > g.cash {
		return common.OrderResult{}, fmt.Errorf("paper: need %.2f, have %.2f: %w", cost+fee, g.cash, common.ErrInsufficientFunds)
	}

	if req.Side == common.SideBuy {
		g.cash -= cost + fee
	} else {
		g.cash += cost - fee
	}
	g.feesPaid += fee
	g.applyFillLocked(req, price)

	g.seq++
	res := common.OrderResult{
		ExchangeOrderID: fmt.Sprintf("PAPER-%06d", g.seq),
		ClientID:        req.ClientID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Status:          common.OrderStatusFilled,
		Qty:             req.Qty,
		FilledQty:       req.Qty,
		AvgPrice:        price,
		Fee:             fee,
		SubmittedAt:     time.Now().UTC(),
	}
	g.log.Debug().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("qty", req.Qty).
		Float64("price", price).
		Float64("cash", g.cash).
		Msg("simulated fill")
	return res, nil
}

// SubmitStop rests a protective stop; it never fills in simulation but
// shows up in OpenOrders so reconciliation sees it.
func (g *Gateway) SubmitStop(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := g.simulateLatency(ctx); err != nil {
		return common.OrderResult{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	id := fmt.Sprintf("PAPER-STOP-%06d", g.seq)
	g.open[id] = common.OpenOrder{
		ExchangeOrderID: id,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            common.OrderTypeStopLoss,
		Status:          common.OrderStatusOpen,
		Qty:             req.Qty,
		Price:           req.StopPrice,
		OpenedAt:        time.Now().UTC(),
	}
	return common.OrderResult{
		ExchangeOrderID: id,
		ClientID:        req.ClientID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Status:          common.OrderStatusOpen,
		Qty:             req.Qty,
		SubmittedAt:     time.Now().UTC(),
	}, nil
}

func (g *Gateway) CancelOrder(_ context.Context, _ string, exchangeOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.open[exchangeOrderID]; !ok {
		return fmt.Errorf("paper: unknown order %s", exchangeOrderID)
	}
	delete(g.open, exchangeOrderID)
	return nil
}

func (g *Gateway) GetQuote(_ context.Context, symbol string) (common.Quote, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	q, ok := g.quotes[symbol]
	if !ok {
		return common.Quote{}, fmt.Errorf("paper: no quote for %s", symbol)
	}
	return q, nil
}

func (g *Gateway) OpenOrders(_ context.Context) ([]common.OpenOrder, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	orders := make([]common.OpenOrder, 0, len(g.open))
	for _, o := range g.open {
		orders = append(orders, o)
	}
	return orders, nil
}

func (g *Gateway) GetBalance(_ context.Context) ([]common.Balance, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return []common.Balance{{
		Currency:  g.cfg.Currency,
		Total:     g.cash,
		Available: g.cash,
	}}, nil
}

// Snapshot returns the current simulated account state.
func (g *Gateway) Snapshot() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st := State{Cash: g.cash, FeesPaid: g.feesPaid}
	for _, p := range g.positions {
		st.Positions = append(st.Positions, *p)
	}
	return st
}

// fillPriceLocked resolves the execution price: the book side for
// market orders, the limit price for limit orders, plus adverse
// slippage noise.
func (g *Gateway) fillPriceLocked(req common.OrderRequest) (float64, error) {
	var price float64
	if req.Type == common.OrderTypeLimit && req.Price > 0 {
		price = req.Price
	} else if q, ok := g.quotes[req.Symbol]; ok {
		if req.Side == common.SideBuy {
			price = q.Ask
		} else {
			price = q.Bid
		}
		if price <= 0 {
			price = q.Last
		}
	}
	if price <= 0 {
		price = req.Price
	}
	if price <= 0 {
		return 0, fmt.Errorf("paper: no price available for %s", req.Symbol)
	}

	slippageFrac := g.cfg.SlippageBps / 10000.0
	if slippageFrac > 0 {
		noise := g.rng.Float64() * slippageFrac
		if req.Side == common.SideBuy {
			price *= 1 + noise
		} else {
			price *= 1 - noise
		}
	}
	return price, nil
}

func (g *Gateway) applyFillLocked(req common.OrderRequest, price float64) {
	pos, exists := g.positions[req.Symbol]
	if !exists {
		g.positions[req.Symbol] = &Position{
			Symbol:     req.Symbol,
			Side:       req.Side,
			Qty:        req.Qty,
			EntryPrice: price,
		}
		return
	}
	if req.Side == pos.Side {
		total := pos.Qty*pos.EntryPrice + req.Qty*price
		pos.Qty += req.Qty
		if pos.Qty != 0 {
			pos.EntryPrice = total / pos.Qty
		}
		return
	}
	pos.Qty -= req.Qty
	if pos.Qty <= 0 {
		delete(g.positions, req.Symbol)
	}
}

func (g *Gateway) simulateLatency(ctx context.Context) error {
	if g.cfg.LatencyMaxMs <= 0 {
		return nil
	}
	span := g.cfg.LatencyMaxMs - g.cfg.LatencyMinMs
	delayMs := g.cfg.LatencyMinMs
	if span > 0 {
		g.mu.Lock()
		delayMs += g.rng.Intn(span + 1)
		g.mu.Unlock()
	}
	if delayMs <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(delayMs) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
