// Package broker defines the broker abstraction layer.
//
// Design rules:
//   - Only one broker is active at a time.
//   - No strategy logic inside broker.
//   - No AI logic inside broker.
//   - Broker layer must be stateless — all durable state lives in
//     internal/storage.
//   - Broker APIs are used only for execution and account state.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

// AccountBalance is a broker's per-currency cash and buying-power
// snapshot. A multi-market account holds balances in more than one
// currency (HKD/USD/CNY) at once, and every percentage-based risk or
// rebalancing rule operates within one currency bucket at a time.
type AccountBalance struct {
	Currency   string
	Cash       decimal.Decimal
	BuyPower   decimal.Decimal
	MarginUsed decimal.Decimal
}

// ReplaceRequest describes an in-place amend of a working order's
// quantity and/or limit price.
type ReplaceRequest struct {
	Quantity   int64
	LimitPrice decimal.Decimal
}

// ErrorCode identifies a broker-specific rejection reason. The exact
// codes are provider-specific; 602001 (lot size) and 602035 (stale
// price) are the two placeholders this engine reacts to automatically
// with one adaptive retry each — everything else is surfaced to the
// caller as a terminal failure.
type ErrorCode string

const (
	ErrCodeLotSize    ErrorCode = "602001"
	ErrCodeStalePrice ErrorCode = "602035"
)

// Error wraps a broker rejection with its provider error code so the
// router can distinguish retryable codes from everything else via
// errors.As, instead of matching on an error message string.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker error %s: %s", e.Code, e.Message)
}

// Broker is the only contract between the trading engine and any
// broker implementation.
type Broker interface {
	// AccountBalances returns cash and buying power per currency.
	AccountBalances(ctx context.Context) ([]AccountBalance, error)

	// StockPositions returns every open position across all markets.
	StockPositions(ctx context.Context) ([]domain.Position, error)

	// SubmitOrder places a new order and returns the broker's initial
	// acknowledgement with a broker order id assigned (the paper broker
	// fills or rejects immediately, so it returns FILLED or REJECTED).
	SubmitOrder(ctx context.Context, order domain.Order) (*domain.Order, error)

	// CancelOrder cancels a working order.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// ReplaceOrder amends a working order's quantity and/or limit price
	// in place. The router's lot-size and stale-price adaptive retries do
	// not use it; they send the corrected order through SubmitOrder.
	ReplaceOrder(ctx context.Context, brokerOrderID string, req ReplaceRequest) (*domain.Order, error)

	// TodayOrders lists every order submitted today, used to dedupe a
	// zombie-recovered intent against an order that already went out.
	TodayOrders(ctx context.Context) ([]domain.Order, error)

	// OrderDetail fetches the current state of one order, polled by the
	// router's fill loop.
	OrderDetail(ctx context.Context, brokerOrderID string) (*domain.Order, error)

	// HistoryOrders lists orders submitted within [from, to].
	HistoryOrders(ctx context.Context, from, to time.Time) ([]domain.Order, error)

	// EstimateMaxPurchaseQuantity returns the broker's estimate of the
	// maximum number of shares purchasable at price, accounting for
	// cash plus margin. A 0 result triggers the router's cash-fallback
	// estimate.
	EstimateMaxPurchaseQuantity(ctx context.Context, symbol string, price decimal.Decimal) (int64, error)
}

// Registry maps broker names to their factory functions. New broker
// implementations register here via an init func.
var Registry = map[string]func(configJSON []byte) (Broker, error){}

// New creates a broker instance by name using the registry.
func New(name string, configJSON []byte) (Broker, error) {
	factory, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("broker: unknown broker %q, registered: %v", name, registeredNames())
	}
	return factory(configJSON)
}

func registeredNames() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	return names
}
