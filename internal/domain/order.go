package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType enumerates the supported exchange order types.
type OrderType string

const (
	TypeMarket          OrderType = "MARKET"
	TypeLimit           OrderType = "LIMIT"
	TypeStopLoss        OrderType = "STOP_LOSS"
	TypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	TypeTakeProfit      OrderType = "TAKE_PROFIT"
	TypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
)

// OrderStatus is the order lifecycle state.
// NEW -> {PARTIALLY_FILLED -> FILLED | FILLED | CANCELED | REJECTED | EXPIRED}
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status ends the order lifecycle.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether the status machine allows moving from s to next.
// Self-transitions are allowed (a poll may observe the same state twice).
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusNew:
		switch next {
		case StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
			return true
		}
	case StatusPartiallyFilled:
		switch next {
		case StatusFilled, StatusCanceled, StatusExpired:
			return true
		}
	}
	return false
}

// OrderRequest is a new-order instruction built from an approved decision.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Side          Side             `json:"side"`
	Type          OrderType        `json:"type"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce   string           `json:"time_in_force"`
	ClientOrderID string           `json:"client_order_id"`
}

// Order is the tracked state of a submitted order.
// Mutated only by status-poll reconciliation in the order manager.
type Order struct {
	ID            string           `json:"id"`
	ClientOrderID string           `json:"client_order_id"`
	Symbol        string           `json:"symbol"`
	Side          Side             `json:"side"`
	Status        OrderStatus      `json:"status"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	ExecutedQty   decimal.Decimal  `json:"executed_qty"`
	ExecutedPrice *decimal.Decimal `json:"executed_price,omitempty"`
	Time          time.Time        `json:"time"`
}

// IsOpen reports whether the order is still active on the venue.
func (o *Order) IsOpen() bool {
	return !o.Status.IsTerminal()
}
