package quotes

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

// Config wires together the REST and push halves of a Client.
type Config struct {
	REST  RESTConfig
	WSURL string
}

// Client is the production Gateway: REST for request/response calls,
// a websocket push reader for streaming quotes/depth/trades.
type Client struct {
	rest *restClient
	push *pushReader
}

// New builds a Gateway against a live quote provider.
func New(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		rest: newRESTClient(cfg.REST, logger),
		push: newPushReader(cfg.WSURL, logger),
	}
}

func (c *Client) GetRealtimeQuote(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	return c.rest.GetRealtimeQuote(ctx, symbols)
}

func (c *Client) GetHistoryCandles(ctx context.Context, symbol string, period domain.Period, start, end time.Time) ([]domain.Candle, error) {
	return c.rest.GetHistoryCandles(ctx, symbol, period, start, end)
}

func (c *Client) GetCandlesticks(ctx context.Context, symbol string, period domain.Period, count int, adjust Adjust) ([]domain.Candle, error) {
	return c.rest.GetCandlesticks(ctx, symbol, period, count, adjust)
}

func (c *Client) GetStaticInfo(ctx context.Context, symbols []string) ([]StaticInfo, error) {
	return c.rest.GetStaticInfo(ctx, symbols)
}

func (c *Client) GetDepth(ctx context.Context, symbol string) (domain.Depth, error) {
	return c.rest.GetDepth(ctx, symbol)
}

func (c *Client) Subscribe(ctx context.Context, symbols []string, subTypes []SubType, firstPush bool) error {
	return c.push.Subscribe(ctx, symbols, subTypes, firstPush)
}

func (c *Client) SetOnQuote(cb QuoteCallback)   { c.push.SetOnQuote(cb) }
func (c *Client) SetOnDepth(cb DepthCallback)   { c.push.SetOnDepth(cb) }
func (c *Client) SetOnTrades(cb TradeCallback)  { c.push.SetOnTrades(cb) }

func (c *Client) Close() error {
	return c.push.Close()
}

var _ Gateway = (*Client)(nil)
