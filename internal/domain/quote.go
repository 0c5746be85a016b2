package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a real-time snapshot of a symbol's trading state.
// Monetary fields are arbitrary-precision decimals; volumes are int64;
// Timestamp is always UTC.
type Quote struct {
	Symbol      string
	Last        decimal.Decimal
	PrevClose   decimal.Decimal
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Volume      int64
	Turnover    decimal.Decimal
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	BidSize     int64
	AskSize     int64
	TradeStatus string
	Timestamp   time.Time
}

// Candle is one immutable OHLCV bar, closed once created.
type Candle struct {
	Symbol   string
	Period   Period
	Time     time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   int64
	Turnover decimal.Decimal
}

// Position is a held quantity of a symbol.
// Invariant: AvailableQuantity <= Quantity.
type Position struct {
	Symbol           string
	Quantity         int64
	AvailableQty     int64
	AverageCost      decimal.Decimal
	Currency         string
	Market           Market
	EntryTime        time.Time
}

// Depth holds the best bid/ask with sizes, used by the adaptive execution
// style's spread check.
type Depth struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	BidQty int64
	AskQty int64
}

// Spread returns Ask - Bid. Callers should guard against a zero/negative
// Bid before dividing to obtain a relative spread.
func (d Depth) Spread() decimal.Decimal {
	return d.Ask.Sub(d.Bid)
}
