package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Signal is a trading intent produced by a strategy or the risk/capital
// controller's rebalancer/rotation logic. It is not an order — it must
// pass risk validation and be routed by the smart order router before
// any broker call is made.
//
// Score and urgency are independent: Score is the strategy's confidence
// in the idea (used for queue priority); Urgency drives execution-style
// selection inside the router.
type Signal struct {
	ID                  uuid.UUID
	Symbol              string
	Side                Side
	QuantityShares       int64
	ReferencePrice       decimal.Decimal
	Score                float64 // [0, 100]
	StrategyName         string
	Urgency              int // [1, 10]
	MaxSlippage          decimal.Decimal
	StopLoss             decimal.Decimal
	Reason               string
	CreatedAt            time.Time
	RetryCount           int
	QueuedAt             time.Time
	LastError            string
	ProcessingStartedAt  *time.Time

	// originalPayload carries the exact serialized bytes the queue last
	// stored this signal under, so mark_completed/mark_failed can delete
	// precisely that entry rather than a re-serialized (and therefore
	// possibly differently-ordered-field) copy.
	originalPayload []byte
}

// WithOriginalPayload returns a copy of the signal carrying the queue's
// serialized form, used internally by the queue package. Exported via
// this accessor pair so other packages never need to know the field exists.
func (s Signal) WithOriginalPayload(payload []byte) Signal {
	s.originalPayload = payload
	return s
}

// OriginalPayload returns the serialized form the queue last stored this
// signal under, or nil if the signal was never read back from the queue.
func (s Signal) OriginalPayload() []byte {
	return s.originalPayload
}

// NewSignal builds a Signal with a fresh ID and CreatedAt set to now.
func NewSignal(symbol string, side Side, qty int64, refPrice decimal.Decimal, score float64, strategyName string) Signal {
	return Signal{
		ID:             uuid.New(),
		Symbol:         symbol,
		Side:           side,
		QuantityShares: qty,
		ReferencePrice: refPrice,
		Score:          score,
		StrategyName:   strategyName,
		Urgency:        5,
		CreatedAt:      time.Now().UTC(),
	}
}
