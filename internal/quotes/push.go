package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

// pushEventBuffer bounds the channel the read loop writes to. A full
// buffer means the dispatch side is falling behind; the read loop drops
// the event and logs rather than blocking, since blocking here would
// stall the websocket's read deadline and eventually desync the feed.
const pushEventBuffer = 4096

type pushKind int

const (
	pushKindQuote pushKind = iota
	pushKindDepth
	pushKindTrade
)

type pushEvent struct {
	kind  pushKind
	quote domain.Quote
	depth domain.Depth
	trade Trade
}

type pushWire struct {
	Type   string `json:"type"` // "quote" | "depth" | "trade"
	Symbol string `json:"symbol"`
	Quote  *quoteWire `json:"quote,omitempty"`
	Depth  *depthWire `json:"depth,omitempty"`
	Trade  *struct {
		Price string `json:"price"`
		Size  int64  `json:"size"`
		Time  int64  `json:"time"`
	} `json:"trade,omitempty"`
}

// pushReader owns the streaming half of a Gateway: one websocket
// connection, a dedicated read loop that only ever enqueues onto a
// bounded channel, and a separate dispatch goroutine that is the sole
// caller of the registered On* callbacks. dispatchLoop drains the channel
// and fans out to subscribers without ever letting a slow consumer
// block the producer.
type pushReader struct {
	wsURL  string
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	onQuote  QuoteCallback
	onDepth  DepthCallback
	onTrades TradeCallback

	events chan pushEvent
	done   chan struct{}
}

func newPushReader(wsURL string, logger zerolog.Logger) *pushReader {
	return &pushReader{
		wsURL:  wsURL,
		logger: logger.With().Str("component", "quotes.push").Logger(),
		events: make(chan pushEvent, pushEventBuffer),
		done:   make(chan struct{}),
	}
}

func (p *pushReader) SetOnQuote(cb QuoteCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onQuote = cb
}

func (p *pushReader) SetOnDepth(cb DepthCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDepth = cb
}

func (p *pushReader) SetOnTrades(cb TradeCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrades = cb
}

// Subscribe dials the push connection on first use and sends a
// subscribe control frame. Safe to call again to add symbols.
func (p *pushReader) Subscribe(ctx context.Context, symbols []string, subTypes []SubType, firstPush bool) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		if err := p.connect(ctx); err != nil {
			return fmt.Errorf("connect push feed: %w", err)
		}
		p.mu.Lock()
		conn = p.conn
		p.mu.Unlock()
	}

	msg := struct {
		Action     string    `json:"action"`
		Symbols    []string  `json:"symbols"`
		SubTypes   []SubType `json:"sub_types"`
		FirstPush  bool      `json:"first_push"`
	}{"subscribe", symbols, subTypes, firstPush}

	p.mu.Lock()
	defer p.mu.Unlock()
	return conn.WriteJSON(msg)
}

func (p *pushReader) connect(ctx context.Context) error {
	u, err := url.Parse(p.wsURL)
	if err != nil {
		return fmt.Errorf("parse push url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	go p.readLoop()
	go p.dispatchLoop()
	return nil
}

// readLoop is the only goroutine touching the websocket connection's
// read side. It must never block on anything but the socket itself:
// every decoded event is handed to the bounded channel with a
// non-blocking send. The loop holds p.mu only long enough to read the
// current connection and performs no I/O beyond the socket read.
func (p *pushReader) readLoop() {
	defer close(p.done)
	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn == nil {
			return
		}

		var w pushWire
		if err := conn.ReadJSON(&w); err != nil {
			p.logger.Warn().Err(err).Msg("push feed read failed, connection closing")
			return
		}

		ev, ok := decodePushWire(w)
		if !ok {
			continue
		}

		select {
		case p.events <- ev:
		default:
			p.logger.Warn().Str("symbol", w.Symbol).Msg("push event buffer full, dropping event")
		}
	}
}

func decodePushWire(w pushWire) (pushEvent, bool) {
	dec := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	}

	switch w.Type {
	case "quote":
		if w.Quote == nil {
			return pushEvent{}, false
		}
		q, _ := w.Quote.toDomain()
		return pushEvent{kind: pushKindQuote, quote: q}, true
	case "depth":
		if w.Depth == nil {
			return pushEvent{}, false
		}
		return pushEvent{kind: pushKindDepth, depth: domain.Depth{
			Symbol: w.Depth.Symbol,
			Bid:    dec(w.Depth.Bid),
			Ask:    dec(w.Depth.Ask),
			BidQty: w.Depth.BidQty,
			AskQty: w.Depth.AskQty,
		}}, true
	case "trade":
		if w.Trade == nil {
			return pushEvent{}, false
		}
		return pushEvent{kind: pushKindTrade, trade: Trade{
			Symbol: w.Symbol,
			Price:  w.Trade.Price,
			Size:   w.Trade.Size,
			Time:   time.Unix(w.Trade.Time, 0).UTC(),
		}}, true
	default:
		return pushEvent{}, false
	}
}

// dispatchLoop is the sole caller of the registered On* callbacks. It
// runs independently of readLoop so a slow or misbehaving callback never
// stalls the socket read.
func (p *pushReader) dispatchLoop() {
	for ev := range p.events {
		p.mu.Lock()
		onQuote, onDepth, onTrades := p.onQuote, p.onDepth, p.onTrades
		p.mu.Unlock()

		switch ev.kind {
		case pushKindQuote:
			if onQuote != nil {
				onQuote(ev.quote.Symbol, ev.quote)
			}
		case pushKindDepth:
			if onDepth != nil {
				onDepth(ev.depth.Symbol, ev.depth)
			}
		case pushKindTrade:
			if onTrades != nil {
				onTrades(ev.trade.Symbol, ev.trade)
			}
		}
	}
}

func (p *pushReader) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	close(p.events)
	return err
}
