package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is LIMIT or MARKET.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// TimeInForce is always DAY for this engine.
type TimeInForce string

const TIFDay TimeInForce = "DAY"

// OrderStatus is the broker-reported lifecycle state of an order.
// Terminal statuses never revert to a non-terminal one.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status can never transition further.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Order is a submitted broker order and its execution state.
// Invariants: ExecutedQuantity <= Quantity; a terminal Status never reverts.
type Order struct {
	BrokerOrderID   string
	SignalID        string
	Symbol          string
	Side            Side
	Type            OrderType
	Quantity        int64
	LimitPrice      decimal.Decimal
	TIF             TimeInForce
	Status          OrderStatus
	ExecutedQty     int64
	ExecutedPrice   decimal.Decimal
	SubmittedAt     time.Time
	UpdatedAt       time.Time
}

// Fill is one execution event against an order.
type Fill struct {
	OrderID  string
	Symbol   string
	Side     Side
	Quantity int64
	Price    decimal.Decimal
	Time     time.Time
}
