// Package ledger keeps the session position book: net quantity,
// average price, realized PnL and day-traded quantity per symbol. The
// in-memory map is the live view; every change is mirrored to sqlite
// so a restart resumes from the last persisted book.
package ledger

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"signal-core/pkg/db"
)

// Ledger is the position book. It satisfies the gauntlet's LedgerView.
type Ledger struct {
	mu        sync.RWMutex
	store     *db.Database // nil runs memory-only
	log       zerolog.Logger
	positions map[string]db.Position
}

func New(store *db.Database, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:     store,
		log:       logger.With().Str("component", "ledger").Logger(),
		positions: make(map[string]db.Position),
	}
}

// Load seeds the book from sqlite on startup.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	positions, err := l.store.ListPositions(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range positions {
		l.positions[p.Symbol] = p
	}
	return nil
}

// RecordFill folds a fill into the book and returns the updated
// position along with the PnL realized by this fill (zero for buys).
func (l *Ledger) RecordFill(ctx context.Context, symbol, side string, qty, price float64) (db.Position, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.positions[symbol]
	p.Symbol = symbol
	realizedBefore := p.RealizedPnL
	p = fold(p, side, qty, price)
	l.positions[symbol] = p
	l.persistLocked(ctx, p)
	return p, p.RealizedPnL - realizedBefore
}

// SetPosition overwrites a symbol's book entry. Reconciliation uses
// this to sync drift against the venue.
func (l *Ledger) SetPosition(ctx context.Context, symbol string, qty, avgPrice float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.positions[symbol]
	p.Symbol = symbol
	p.Qty = qty
	p.AvgPrice = avgPrice
	l.positions[symbol] = p
	if l.store != nil {
		return l.store.UpsertPosition(ctx, p)
	}
	return nil
}

// Position returns the book entry for a symbol.
func (l *Ledger) Position(symbol string) db.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positions[symbol]
}

// Positions returns a snapshot of every tracked symbol, flat ones
// included.
func (l *Ledger) Positions() []db.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]db.Position, 0, len(l.positions))
	for _, p := range l.positions {
		res = append(res, p)
	}
	return res
}

// Exposure returns the total open cost basis across the book.
func (l *Ledger) Exposure() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, p := range l.positions {
		total += math.Abs(p.Qty) * p.AvgPrice
	}
	return total
}

// RealizedProfit returns cumulative realized PnL across the book.
func (l *Ledger) RealizedProfit() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, p := range l.positions {
		total += p.RealizedPnL
	}
	return total
}

// DayQty returns the quantity traded today for a symbol.
func (l *Ledger) DayQty(symbol string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positions[symbol].DayQty
}

// ResetDay zeroes day-traded quantities at the session rollover.
// Net positions and realized PnL carry across days.
func (l *Ledger) ResetDay(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for symbol, p := range l.positions {
		if p.DayQty == 0 {
			continue
		}
		p.DayQty = 0
		l.positions[symbol] = p
		l.persistLocked(ctx, p)
	}
}

func (l *Ledger) persistLocked(ctx context.Context, p db.Position) {
	if l.store == nil {
		return
	}
	if err := l.store.UpsertPosition(ctx, p); err != nil {
		l.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("position persist failed")
	}
}

// fold applies one fill to a position. BUY moves the average in;
// SELL realizes PnL on the closed portion. Quantities near zero snap
// to zero so float residue never leaves a phantom position open.
func fold(p db.Position, side string, qty, price float64) db.Position {
	switch strings.ToUpper(side) {
	case "BUY":
		newQty := p.Qty + qty
		if math.Abs(newQty) < 1e-9 {
			p.Qty = 0
			p.AvgPrice = 0
		} else if newQty > 0 {
			p.AvgPrice = (p.AvgPrice*p.Qty + price*qty) / newQty
			p.Qty = newQty
		} else {
			p.Qty = newQty
		}
		p.DayQty += qty
	case "SELL":
		closeQty := math.Min(p.Qty, qty)
		if closeQty > 0 {
			p.RealizedPnL += (price - p.AvgPrice) * closeQty
		}
		p.Qty -= qty
		if p.Qty < 1e-9 {
			p.Qty = 0
			p.AvgPrice = 0
		}
		p.DayQty -= qty
	}
	return p
}
