// Package account tracks operator cash: synced from the venue,
// reserved while orders are in flight, settled on fills. The invariant
// total = available + reserved holds through every operation.
package account

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-core/pkg/exchange/common"
)

// BalanceSource is the slice of the gateway the manager needs.
type BalanceSource interface {
	GetBalance(ctx context.Context) ([]common.Balance, error)
}

// Snapshot is a point-in-time view of the cash book.
type Snapshot struct {
	Currency  string    `json:"currency"`
	Total     float64   `json:"total"`
	Available float64   `json:"available"`
	Reserved  float64   `json:"reserved"`
	Equity    float64   `json:"equity"`
	LastSync  time.Time `json:"last_sync"`
}

// Manager is the cash book.
type Manager struct {
	source   BalanceSource
	currency string
	interval time.Duration
	log      zerolog.Logger

	mu        sync.RWMutex
	total     float64
	available float64
	reserved  float64
	lastSync  time.Time
	markFn    func() float64
}

// New builds a manager syncing the given cash currency. source may be
// nil when the balance is seeded locally (paper mode).
func New(source BalanceSource, currency string, interval time.Duration, logger zerolog.Logger) *Manager {
	if currency == "" {
		currency = "USD"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		source:   source,
		currency: strings.ToUpper(currency),
		interval: interval,
		log:      logger.With().Str("component", "account").Logger(),
	}
}

// SetInitial seeds the cash book, clearing reservations.
func (m *Manager) SetInitial(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = amount
	m.available = amount
	m.reserved = 0
	m.log.Info().Float64("amount", amount).Msg("initial balance set")
}

// SetMarkFunc installs the open-position valuation used by Equity.
func (m *Manager) SetMarkFunc(fn func() float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markFn = fn
}

// Start syncs once, then keeps syncing on the configured interval
// until the context is cancelled.
func (m *Manager) Start(ctx context.Context) {
	if err := m.Sync(ctx); err != nil {
		m.log.Warn().Err(err).Msg("initial balance sync failed")
	}
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Sync(ctx); err != nil {
					m.log.Warn().Err(err).Msg("balance sync failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync pulls the venue balance for the configured currency. In-flight
// reservations are carved out of the synced available figure.
func (m *Manager) Sync(ctx context.Context) error {
	if m.source == nil {
		return nil
	}
	balances, err := m.source.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("balance sync: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range balances {
		if strings.ToUpper(b.Currency) != m.currency {
			continue
		}
		m.total = b.Total
		m.available = b.Available - m.reserved
		if m.available < 0 {
			m.available = 0
		}
		m.lastSync = time.Now().UTC()
		m.log.Debug().
			Float64("total", m.total).
			Float64("available", m.available).
			Float64("reserved", m.reserved).
			Msg("balance synced")
		return nil
	}
	return fmt.Errorf("balance sync: no %s balance in venue response", m.currency)
}

// Reserve holds cash for an order about to be submitted.
func (m *Manager) Reserve(amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount > m.available {
		return fmt.Errorf("insufficient funds: need %.2f, have %.2f available", amount, m.available)
	}
	m.available -= amount
	m.reserved += amount
	return nil
}

// Release returns a reservation to available cash after a failed or
// cancelled submission.
func (m *Manager) Release(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount > m.reserved {
		amount = m.reserved
	}
	m.reserved -= amount
	m.available += amount
}

// SettleBuy converts a reservation into spent cash. Any gap between
// the reserved amount and the actual cost (slippage, fees) is settled
// against available cash.
func (m *Manager) SettleBuy(reserved, cost, fee float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reserved > m.reserved {
		reserved = m.reserved
	}
	m.reserved -= reserved
	m.available += reserved - cost - fee
	m.total -= cost + fee
}

// SettleSell credits sale proceeds net of fees.
func (m *Manager) SettleSell(proceeds, fee float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available += proceeds - fee
	m.total += proceeds - fee
}

// Available returns cash not reserved by in-flight orders.
func (m *Manager) Available() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available
}

// Equity returns cash plus the marked value of open positions.
func (m *Manager) Equity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	equity := m.total
	if m.markFn != nil {
		equity += m.markFn()
	}
	return equity
}

// Get returns the current cash book snapshot.
func (m *Manager) Get() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	equity := m.total
	if m.markFn != nil {
		equity += m.markFn()
	}
	return Snapshot{
		Currency:  m.currency,
		Total:     m.total,
		Available: m.available,
		Reserved:  m.reserved,
		Equity:    equity,
		LastSync:  m.lastSync,
	}
}
