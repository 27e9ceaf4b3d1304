package common

import (
	"context"
	"errors"
)

// Sentinel errors gateways map venue responses onto so callers can
// branch without parsing venue-specific strings.
var (
	ErrRateLimited       = errors.New("exchange: rate limited")
	ErrAuth              = errors.New("exchange: authentication failed")
	ErrInsufficientFunds = errors.New("exchange: insufficient funds")
)

// Gateway is the venue-neutral execution interface.
type Gateway interface {
	// Name identifies the venue, e.g. "kraken" or "paper".
	Name() string

	// SubmitOrder places an entry order and returns the venue acknowledgement.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// SubmitStop places a protective stop for an existing position.
	SubmitStop(ctx context.Context, req OrderRequest) (OrderResult, error)

	// CancelOrder cancels a resting order by its exchange order id.
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error

	// GetQuote returns the current top of book for a symbol.
	GetQuote(ctx context.Context, symbol string) (Quote, error)

	// OpenOrders lists resting orders on the venue.
	OpenOrders(ctx context.Context) ([]OpenOrder, error)

	// GetBalance returns per-currency account balances.
	GetBalance(ctx context.Context) ([]Balance, error)
}
