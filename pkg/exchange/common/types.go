package common

import "time"

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the venue order type.
type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeStopLoss OrderType = "STOP_LOSS"
)

// OrderStatus is the venue-reported order state.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// OrderRequest is a venue-neutral order.
type OrderRequest struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Type      OrderType `json:"type"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price,omitempty"`      // required for LIMIT
	StopPrice float64   `json:"stop_price,omitempty"` // required for STOP_LOSS
	ClientID  string    `json:"client_id,omitempty"`  // idempotent client order id
}

// OrderResult is the venue acknowledgement for a submitted order.
type OrderResult struct {
	ExchangeOrderID string      `json:"exchange_order_id"`
	ClientID        string      `json:"client_id,omitempty"`
	Symbol          string      `json:"symbol"`
	Side            Side        `json:"side"`
	Status          OrderStatus `json:"status"`
	Qty             float64     `json:"qty"`
	FilledQty       float64     `json:"filled_qty"`
	AvgPrice        float64     `json:"avg_price"`
	Fee             float64     `json:"fee"`
	SubmittedAt     time.Time   `json:"submitted_at"`
}

// OpenOrder is a resting order reported by the venue.
type OpenOrder struct {
	ExchangeOrderID string      `json:"exchange_order_id"`
	Symbol          string      `json:"symbol"`
	Side            Side        `json:"side"`
	Type            OrderType   `json:"type"`
	Status          OrderStatus `json:"status"`
	Qty             float64     `json:"qty"`
	FilledQty       float64     `json:"filled_qty"`
	Price           float64     `json:"price"`
	OpenedAt        time.Time   `json:"opened_at"`
}

// Quote is a top-of-book snapshot.
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Volume float64   `json:"volume"` // rolling 24h base volume
	Time   time.Time `json:"time"`
}

// Balance is a single-currency account balance.
type Balance struct {
	Currency  string  `json:"currency"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}
