package quotes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

// restMaxChunkDays bounds a single history request; longer ranges are
// split into sequential chunks, same as a provider's historical-candle
// endpoint would require.
const restMaxChunkDays = 90

// RESTConfig configures the REST half of a Client.
type RESTConfig struct {
	BaseURL           string
	AccessToken       string
	ClientID          string
	RateLimitInterval time.Duration // minimum gap between requests; defaults to 110ms (~9 req/s)
}

func (c *RESTConfig) applyDefaults() {
	if c.RateLimitInterval <= 0 {
		c.RateLimitInterval = 110 * time.Millisecond
	}
}

// restClient is the request/response half of a Gateway implementation: a
// single-rate-limited HTTP client against a broker/data-vendor's quote
// API, chunking multi-month history requests the same way a provider
// with a max-range-per-call limit would require.
type restClient struct {
	cfg    RESTConfig
	client *http.Client
	logger zerolog.Logger

	rateMu      sync.Mutex
	lastRequest time.Time
}

func newRESTClient(cfg RESTConfig, logger zerolog.Logger) *restClient {
	cfg.applyDefaults()
	return &restClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "quotes.rest").Logger(),
	}
}

func (r *restClient) throttle() {
	r.rateMu.Lock()
	defer r.rateMu.Unlock()
	elapsed := time.Since(r.lastRequest)
	if elapsed < r.cfg.RateLimitInterval {
		time.Sleep(r.cfg.RateLimitInterval - elapsed)
	}
	r.lastRequest = time.Now()
}

func (r *restClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", r.cfg.AccessToken)
	if r.cfg.ClientID != "" {
		req.Header.Set("Client-Id", r.cfg.ClientID)
	}

	r.throttle()
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("quotes: authentication failed (401) — access token may have expired")
	case http.StatusTooManyRequests:
		return fmt.Errorf("quotes: rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quotes: API error %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

type quoteWire struct {
	Symbol      string `json:"symbol"`
	Last        string `json:"last"`
	PrevClose   string `json:"prev_close"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Volume      int64  `json:"volume"`
	Turnover    string `json:"turnover"`
	Bid         string `json:"bid"`
	Ask         string `json:"ask"`
	BidSize     int64  `json:"bid_size"`
	AskSize     int64  `json:"ask_size"`
	TradeStatus string `json:"trade_status"`
	Timestamp   int64  `json:"timestamp"` // unix seconds
}

func (w quoteWire) toDomain() (domain.Quote, error) {
	dec := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return domain.Quote{
		Symbol:      w.Symbol,
		Last:        dec(w.Last),
		PrevClose:   dec(w.PrevClose),
		Open:        dec(w.Open),
		High:        dec(w.High),
		Low:         dec(w.Low),
		Volume:      w.Volume,
		Turnover:    dec(w.Turnover),
		Bid:         dec(w.Bid),
		Ask:         dec(w.Ask),
		BidSize:     w.BidSize,
		AskSize:     w.AskSize,
		TradeStatus: w.TradeStatus,
		Timestamp:   time.Unix(w.Timestamp, 0).UTC(),
	}, nil
}

// GetRealtimeQuote fetches a snapshot for each symbol. Per-call timeout is
// the caller's responsibility via ctx.
func (r *restClient) GetRealtimeQuote(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	var resp struct {
		Quotes []quoteWire `json:"quotes"`
	}
	if err := r.do(ctx, http.MethodPost, "/v1/quote", map[string]interface{}{"symbols": symbols}, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Quote, 0, len(resp.Quotes))
	for _, w := range resp.Quotes {
		q, err := w.toDomain()
		if err != nil {
			r.logger.Warn().Str("symbol", w.Symbol).Err(err).Msg("dropping unparseable quote")
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

type candleWire struct {
	Timestamp []int64   `json:"timestamp"`
	Open      []string  `json:"open"`
	High      []string  `json:"high"`
	Low       []string  `json:"low"`
	Close     []string  `json:"close"`
	Volume    []int64   `json:"volume"`
	Turnover  []string  `json:"turnover"`
}

func (r *restClient) fetchCandleChunk(ctx context.Context, symbol string, period domain.Period, from, to time.Time) ([]domain.Candle, error) {
	var resp candleWire
	reqBody := map[string]interface{}{
		"symbol": symbol,
		"period": string(period),
		"from":   from.Format("2006-01-02"),
		"to":     to.Format("2006-01-02"),
	}
	if err := r.do(ctx, http.MethodPost, "/v2/charts/historical", reqBody, &resp); err != nil {
		return nil, err
	}

	dec := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	}

	out := make([]domain.Candle, 0, len(resp.Timestamp))
	for i := range resp.Timestamp {
		c := domain.Candle{
			Symbol: symbol,
			Period: period,
			Time:   time.Unix(resp.Timestamp[i], 0).UTC(),
			Open:   dec(resp.Open[i]),
			High:   dec(resp.High[i]),
			Low:    dec(resp.Low[i]),
			Close:  dec(resp.Close[i]),
			Volume: resp.Volume[i],
		}
		if i < len(resp.Turnover) {
			c.Turnover = dec(resp.Turnover[i])
		}
		out = append(out, c)
	}
	return out, nil
}

// GetHistoryCandles fetches all candles in [start, end], chunking into
// restMaxChunkDays windows the way a provider's historical endpoint
// would require for a multi-month range.
func (r *restClient) GetHistoryCandles(ctx context.Context, symbol string, period domain.Period, start, end time.Time) ([]domain.Candle, error) {
	var all []domain.Candle
	chunkStart := start
	for !chunkStart.After(end) {
		chunkEnd := chunkStart.AddDate(0, 0, restMaxChunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		candles, err := r.fetchCandleChunk(ctx, symbol, period, chunkStart, chunkEnd)
		if err != nil {
			return all, fmt.Errorf("fetch %s chunk [%s to %s]: %w",
				symbol, chunkStart.Format("2006-01-02"), chunkEnd.Format("2006-01-02"), err)
		}
		all = append(all, candles...)

		chunkStart = chunkEnd.AddDate(0, 0, 1)
	}
	return all, nil
}

// GetCandlesticks fetches the most recent count bars, newest last.
func (r *restClient) GetCandlesticks(ctx context.Context, symbol string, period domain.Period, count int, adjust Adjust) ([]domain.Candle, error) {
	var resp candleWire
	reqBody := map[string]interface{}{
		"symbol": symbol,
		"period": string(period),
		"count":  count,
		"adjust": string(adjust),
	}
	if err := r.do(ctx, http.MethodPost, "/v2/charts/recent", reqBody, &resp); err != nil {
		return nil, err
	}

	dec := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	}

	out := make([]domain.Candle, 0, len(resp.Timestamp))
	for i := range resp.Timestamp {
		out = append(out, domain.Candle{
			Symbol: symbol,
			Period: period,
			Time:   time.Unix(resp.Timestamp[i], 0).UTC(),
			Open:   dec(resp.Open[i]),
			High:   dec(resp.High[i]),
			Low:    dec(resp.Low[i]),
			Close:  dec(resp.Close[i]),
			Volume: resp.Volume[i],
		})
	}
	return out, nil
}

type staticInfoWire struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	LotSize  int64  `json:"lot_size"`
	TickSize string `json:"tick_size"`
	Market   string `json:"market"`
}

// GetStaticInfo fetches slow-changing reference data for each symbol.
func (r *restClient) GetStaticInfo(ctx context.Context, symbols []string) ([]StaticInfo, error) {
	var resp struct {
		Securities []staticInfoWire `json:"securities"`
	}
	if err := r.do(ctx, http.MethodPost, "/v1/static-info", map[string]interface{}{"symbols": symbols}, &resp); err != nil {
		return nil, err
	}
	out := make([]StaticInfo, 0, len(resp.Securities))
	for _, s := range resp.Securities {
		out = append(out, StaticInfo{
			Symbol:   s.Symbol,
			Name:     s.Name,
			Currency: s.Currency,
			LotSize:  s.LotSize,
			TickSize: s.TickSize,
			Market:   domain.Market(s.Market),
		})
	}
	return out, nil
}

type depthWire struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	BidQty int64  `json:"bid_qty"`
	AskQty int64  `json:"ask_qty"`
}

// GetDepth fetches the current best bid/ask for symbol.
func (r *restClient) GetDepth(ctx context.Context, symbol string) (domain.Depth, error) {
	var resp depthWire
	if err := r.do(ctx, http.MethodGet, "/v1/depth?symbol="+symbol, nil, &resp); err != nil {
		return domain.Depth{}, err
	}
	dec := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return domain.Depth{
		Symbol: resp.Symbol,
		Bid:    dec(resp.Bid),
		Ask:    dec(resp.Ask),
		BidQty: resp.BidQty,
		AskQty: resp.AskQty,
	}, nil
}
