// Package quotes implements the C3 quote gateway: a request/response
// channel for history and static data, and a streaming push channel for
// realtime quotes, depth, and trades. Strategies and the router only ever
// see the Gateway interface; REST polling and websocket transport are
// implementation details behind it.
package quotes

import (
	"context"
	"time"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

// SubType is a push subscription channel.
type SubType string

const (
	SubQuote  SubType = "QUOTE"
	SubDepth  SubType = "DEPTH"
	SubTrades SubType = "TRADES"
)

// Adjust controls split/dividend adjustment of returned candles.
type Adjust string

const (
	AdjustNone    Adjust = "NONE"
	AdjustForward Adjust = "FORWARD"
)

// StaticInfo is a symbol's slow-changing reference data.
type StaticInfo struct {
	Symbol     string
	Name       string
	Currency   string
	LotSize    int64
	TickSize   string // decimal.Decimal rendered as a string; callers parse with decimal.NewFromString
	Market     domain.Market
}

// Trade is one executed print on the tape, delivered over the push channel.
type Trade struct {
	Symbol string
	Price  string
	Size   int64
	Time   time.Time
}

// QuoteCallback, DepthCallback and TradeCallback are invoked on the push
// reader's dedicated dispatch goroutine, never on the transport's own
// read loop. They must not block or perform further I/O — the dispatch
// loop serializes all callback invocations for one Gateway.
type QuoteCallback func(symbol string, q domain.Quote)
type DepthCallback func(symbol string, d domain.Depth)
type TradeCallback func(symbol string, t Trade)

// Gateway is the abstraction C6 strategies and C8's router depend on for
// all market data. Implementations own both the REST request/response
// side (history, static info) and the streaming push side (Subscribe
// plus the three On* callback registrations).
type Gateway interface {
	GetRealtimeQuote(ctx context.Context, symbols []string) ([]domain.Quote, error)
	GetHistoryCandles(ctx context.Context, symbol string, period domain.Period, start, end time.Time) ([]domain.Candle, error)
	GetCandlesticks(ctx context.Context, symbol string, period domain.Period, count int, adjust Adjust) ([]domain.Candle, error)
	GetStaticInfo(ctx context.Context, symbols []string) ([]StaticInfo, error)
	GetDepth(ctx context.Context, symbol string) (domain.Depth, error)

	// Subscribe opens (or extends) the push feed for the given symbols.
	// When firstPush is true the provider sends one immediate snapshot
	// per symbol before switching to incremental updates.
	Subscribe(ctx context.Context, symbols []string, subTypes []SubType, firstPush bool) error

	SetOnQuote(cb QuoteCallback)
	SetOnDepth(cb DepthCallback)
	SetOnTrades(cb TradeCallback)

	// Close releases the push transport and stops the dispatch goroutine.
	Close() error
}
