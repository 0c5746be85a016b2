// Package broker - paper.go implements a paper trading broker.
//
// The paper broker fills every order immediately at its limit price (or
// a supplied mark price for market orders). It satisfies the same
// Broker interface as the live gateway so the rest of the engine — the
// router, the risk controller, the rebalancer — runs identically
// whether the account is paper or live.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

// PaperBroker simulates broker operations for dry-run and backtesting use.
type PaperBroker struct {
	mu        sync.Mutex
	cash      map[string]decimal.Decimal // currency -> cash
	positions map[string]*domain.Position
	orders    map[string]*domain.Order
	nextID    int
}

// NewPaperBroker creates a paper broker seeded with a single currency's
// starting cash. Additional currencies can be credited via CreditCash.
func NewPaperBroker(currency string, initialCash decimal.Decimal) *PaperBroker {
	return &PaperBroker{
		cash:      map[string]decimal.Decimal{currency: initialCash},
		positions: make(map[string]*domain.Position),
		orders:    make(map[string]*domain.Order),
	}
}

// CreditCash adds to (or initializes) the paper cash balance for a currency.
func (pb *PaperBroker) CreditCash(currency string, amount decimal.Decimal) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.cash[currency] = pb.cash[currency].Add(amount)
}

func (pb *PaperBroker) AccountBalances(_ context.Context) ([]AccountBalance, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	balances := make([]AccountBalance, 0, len(pb.cash))
	for currency, cash := range pb.cash {
		balances = append(balances, AccountBalance{
			Currency: currency,
			Cash:     cash,
			BuyPower: cash,
		})
	}
	return balances, nil
}

func (pb *PaperBroker) StockPositions(_ context.Context) ([]domain.Position, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	positions := make([]domain.Position, 0, len(pb.positions))
	for _, p := range pb.positions {
		positions = append(positions, *p)
	}
	return positions, nil
}

// SubmitOrder simulates immediate execution. A LIMIT order fills at its
// own limit price; a MARKET order fills at order.LimitPrice if set
// (tests and backtests supply the mark price there), otherwise it is
// rejected — the paper broker has no quote feed of its own.
func (pb *PaperBroker) SubmitOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.nextID++
	orderID := fmt.Sprintf("PAPER-%d", pb.nextID)
	now := time.Now()

	fillPrice := order.LimitPrice
	if fillPrice.IsZero() {
		result := order
		result.BrokerOrderID = orderID
		result.Status = domain.OrderStatusRejected
		result.SubmittedAt = now
		result.UpdatedAt = now
		pb.orders[orderID] = &result
		return &result, nil
	}

	currency := ""
	if market, ok := domain.MarketFor(order.Symbol); ok {
		currency = currencyForMarket(market)
	}

	cost := fillPrice.Mul(decimal.NewFromInt(order.Quantity))

	result := order
	result.BrokerOrderID = orderID
	result.SubmittedAt = now
	result.UpdatedAt = now

	switch order.Side {
	case domain.SideBuy:
		if cost.GreaterThan(pb.cash[currency]) {
			result.Status = domain.OrderStatusRejected
			pb.orders[orderID] = &result
			return &result, nil
		}
		pb.cash[currency] = pb.cash[currency].Sub(cost)
		pb.applyFill(order.Symbol, currency, order.Quantity, fillPrice)

	case domain.SideSell:
		pos, exists := pb.positions[order.Symbol]
		if !exists || pos.AvailableQty < order.Quantity {
			result.Status = domain.OrderStatusRejected
			pb.orders[orderID] = &result
			return &result, nil
		}
		proceeds := fillPrice.Mul(decimal.NewFromInt(order.Quantity))
		pb.cash[currency] = pb.cash[currency].Add(proceeds)
		pb.applyFill(order.Symbol, currency, -order.Quantity, fillPrice)
	}

	result.Status = domain.OrderStatusFilled
	result.ExecutedQty = order.Quantity
	result.ExecutedPrice = fillPrice
	pb.orders[orderID] = &result

	filled := result
	return &filled, nil
}

// applyFill updates (or creates/removes) a position after a simulated
// fill. delta is positive for a buy, negative for a sell.
func (pb *PaperBroker) applyFill(symbol, currency string, delta int64, price decimal.Decimal) {
	pos, exists := pb.positions[symbol]
	if !exists {
		if delta <= 0 {
			return
		}
		market, _ := domain.MarketFor(symbol)
		pb.positions[symbol] = &domain.Position{
			Symbol:       symbol,
			Quantity:     delta,
			AvailableQty: delta,
			AverageCost:  price,
			Currency:     currency,
			Market:       market,
			EntryTime:    time.Now(),
		}
		return
	}

	if delta > 0 {
		totalQty := pos.Quantity + delta
		weighted := pos.AverageCost.Mul(decimal.NewFromInt(pos.Quantity)).Add(price.Mul(decimal.NewFromInt(delta)))
		pos.AverageCost = weighted.Div(decimal.NewFromInt(totalQty))
		pos.Quantity = totalQty
		pos.AvailableQty += delta
		return
	}

	pos.Quantity += delta // delta negative
	pos.AvailableQty += delta
	if pos.Quantity == 0 {
		delete(pb.positions, symbol)
	}
}

func (pb *PaperBroker) CancelOrder(_ context.Context, brokerOrderID string) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	o, exists := pb.orders[brokerOrderID]
	if !exists {
		return fmt.Errorf("paper broker: order %s not found", brokerOrderID)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("paper broker: order %s already %s", brokerOrderID, o.Status)
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}

// ReplaceOrder is a no-op fill-in-place for the paper broker: since every
// order fills synchronously in SubmitOrder, there is never a working
// order left to amend. It exists only to satisfy the Broker interface
// for router code paths exercised against a paper account.
func (pb *PaperBroker) ReplaceOrder(_ context.Context, brokerOrderID string, req ReplaceRequest) (*domain.Order, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	o, exists := pb.orders[brokerOrderID]
	if !exists {
		return nil, fmt.Errorf("paper broker: order %s not found", brokerOrderID)
	}
	replaced := *o
	return &replaced, nil
}

func (pb *PaperBroker) TodayOrders(_ context.Context) ([]domain.Order, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	today := time.Now()
	orders := make([]domain.Order, 0, len(pb.orders))
	for _, o := range pb.orders {
		if sameDay(o.SubmittedAt, today) {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

func (pb *PaperBroker) OrderDetail(_ context.Context, brokerOrderID string) (*domain.Order, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	o, exists := pb.orders[brokerOrderID]
	if !exists {
		return nil, fmt.Errorf("paper broker: order %s not found", brokerOrderID)
	}
	detail := *o
	return &detail, nil
}

func (pb *PaperBroker) HistoryOrders(_ context.Context, from, to time.Time) ([]domain.Order, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	orders := make([]domain.Order, 0)
	for _, o := range pb.orders {
		if !o.SubmittedAt.Before(from) && !o.SubmittedAt.After(to) {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

// EstimateMaxPurchaseQuantity returns cash-only buying power divided by
// price — the paper broker never extends margin.
func (pb *PaperBroker) EstimateMaxPurchaseQuantity(_ context.Context, symbol string, price decimal.Decimal) (int64, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if price.IsZero() {
		return 0, nil
	}
	currency := ""
	if market, ok := domain.MarketFor(symbol); ok {
		currency = currencyForMarket(market)
	}
	return pb.cash[currency].Div(price).IntPart(), nil
}

func sameDay(t, ref time.Time) bool {
	ty, tm, td := t.Date()
	ry, rm, rd := ref.Date()
	return ty == ry && tm == rm && td == rd
}

// currencyForMarket maps a market to its settlement currency: HKD, USD or
// CNY for HK, US and CN. Any other market, SG included, maps to "".
func currencyForMarket(m domain.Market) string {
	switch m {
	case domain.MarketHK:
		return "HKD"
	case domain.MarketUS:
		return "USD"
	case domain.MarketCN:
		return "CNY"
	default:
		return ""
	}
}
