// Package strategy defines the strategy framework.
//
// Design rules:
//   - A strategy is a pure decision engine.
//   - Strategies are stateless, deterministic, and testable in isolation.
//   - Indicators decide: every input a strategy reads is computed in-process
//     from the symbol's own candle history — there is no external scoring
//     feed, and a strategy never places an order. It produces a TradeIntent,
//     which risk management must validate before it can become a signal.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

// TradeAction represents what a strategy wants to do.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionHold TradeAction = "HOLD"
	ActionExit TradeAction = "EXIT"
	ActionSkip TradeAction = "SKIP"
)

// StrategyInput is the complete input bundle passed to a strategy. Every
// field is expressed in the engine's own domain types, so a strategy's
// TradeIntent needs no unit conversion before it becomes a domain.Signal.
type StrategyInput struct {
	// Date being evaluated.
	Date time.Time

	// Symbol being evaluated.
	Symbol string

	// Market this symbol trades on.
	Market domain.Market

	// Regime is the risk controller's current classification for Market.
	Regime domain.RegimeLabel

	// RegimeConfidence is how far Regime is from a boundary, in [0,1].
	RegimeConfidence float64

	// Candles is the symbol's historical daily bars, most recent last.
	Candles []domain.Candle

	// CurrentPosition is the open position in this symbol, nil if flat.
	CurrentPosition *domain.Position

	// OpenPositionCount is how many symbols currently have an open position.
	OpenPositionCount int

	// AvailableCapital is free cash available for a new entry.
	AvailableCapital decimal.Decimal
}

// TradeIntent is what a strategy produces — a desire to trade. This is
// NOT an order, and not yet a domain.Signal: risk management assigns the
// signal's ID, urgency, and queue bookkeeping. Price fields are already
// decimal because they are read straight off the candle history.
type TradeIntent struct {
	// StrategyID identifies which strategy generated this intent.
	StrategyID string

	// Symbol is the stock ticker.
	Symbol string

	// Action is what the strategy wants to do.
	Action TradeAction

	// Price is the desired entry/exit price.
	Price decimal.Decimal

	// StopLoss is the mandatory stop-loss price for BUY intents.
	StopLoss decimal.Decimal

	// Target is the profit target price.
	Target decimal.Decimal

	// Quantity is the desired number of shares.
	Quantity int64

	// Score is a quality estimate in [0,100] carried onto the eventual
	// domain.Signal for queue priority ordering.
	Score float64

	// Reason explains why this decision was made (for logging/explainability).
	Reason string

	// Metrics snapshot at the time of decision (for audit trail).
	Metrics Metrics
}

// Strategy is the interface that all trading strategies must implement.
// Strategies must be:
//   - Pure functions: same input → same output.
//   - Stateless: no internal mutable state.
//   - Deterministic: no randomness.
type Strategy interface {
	// ID returns the unique identifier for this strategy.
	ID() string

	// Name returns a human-readable name for this strategy.
	Name() string

	// Evaluate takes a StrategyInput and produces a TradeIntent.
	// It must never produce side effects (no I/O, no state changes).
	Evaluate(input StrategyInput) TradeIntent
}
