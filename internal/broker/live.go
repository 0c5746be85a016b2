// Package broker - live.go implements the Broker interface against a
// generic REST execution gateway shared across the HK/US/CN markets.
//
// Wire shape:
//   - Auth: access-token header (JWT, short-lived, refreshed out of band)
//   - Orders: POST/GET/PUT/DELETE /v1/trade/orders[/{id}]
//   - Balances: GET /v1/trade/balances (one entry per currency)
//   - Positions: GET /v1/trade/positions
//   - Estimate: GET /v1/trade/estimate
//   - Exact error codes are provider-specific; rejections are returned as
//     *Error with the provider's code unchanged, and the router matches
//     them against its own configurable lot-size and stale-price codes.
//     LiveConfig's LotSizeCode and StalePriceCode are not read here.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

// LiveConfig holds the execution-gateway configuration for one broker
// account. A single account can route orders across all three markets;
// MarketSegments maps a domain.Market to the provider's segment code.
type LiveConfig struct {
	ClientID       string            `json:"client_id"`
	AccessToken    string            `json:"access_token"`
	BaseURL        string            `json:"base_url"`
	MarketSegments map[string]string `json:"market_segments"`
	LotSizeCode    string            `json:"lot_size_code"`
	StalePriceCode string            `json:"stale_price_code"`
}

// LiveBroker implements Broker against a REST execution gateway.
type LiveBroker struct {
	config LiveConfig
	client *http.Client
}

func init() {
	Registry["live"] = NewLiveBroker
}

// NewLiveBroker creates a broker instance from JSON config.
func NewLiveBroker(configJSON []byte) (Broker, error) {
	var cfg LiveConfig
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, fmt.Errorf("live broker: parse config: %w", err)
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("live broker: access_token is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("live broker: base_url is required")
	}
	if cfg.LotSizeCode == "" {
		cfg.LotSizeCode = string(ErrCodeLotSize)
	}
	if cfg.StalePriceCode == "" {
		cfg.StalePriceCode = string(ErrCodeStalePrice)
	}
	if cfg.MarketSegments == nil {
		cfg.MarketSegments = map[string]string{
			string(domain.MarketHK): "HK_EQ",
			string(domain.MarketUS): "US_EQ",
			string(domain.MarketCN): "CN_EQ",
		}
	}

	return &LiveBroker{
		config: cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// marketSegment maps a symbol's market to the provider's segment code,
// falling back to the symbol's own suffix when no explicit mapping exists.
func (l *LiveBroker) marketSegment(symbol string) string {
	market, ok := domain.MarketFor(symbol)
	if !ok {
		return "UNKNOWN"
	}
	if seg, ok := l.config.MarketSegments[string(market)]; ok {
		return seg
	}
	return string(market)
}

func mapOrderTypeToWire(t domain.OrderType) string {
	switch t {
	case domain.OrderTypeLimit:
		return "LIMIT"
	case domain.OrderTypeMarket:
		return "MARKET"
	default:
		return "LIMIT"
	}
}

func mapWireStatus(s string) domain.OrderStatus {
	switch s {
	case "FILLED":
		return domain.OrderStatusFilled
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "CANCELLED":
		return domain.OrderStatusCancelled
	case "REJECTED":
		return domain.OrderStatusRejected
	case "EXPIRED":
		return domain.OrderStatusExpired
	case "NEW", "PENDING", "TRANSIT":
		return domain.OrderStatusNew
	default:
		return domain.OrderStatusNew
	}
}

// --- wire request/response types ---

type liveOrderReq struct {
	ClientID   string `json:"clientId"`
	Symbol     string `json:"symbol"`
	Segment    string `json:"segment"`
	Side       string `json:"side"`
	OrderType  string `json:"orderType"`
	Quantity   int64  `json:"quantity"`
	LimitPrice string `json:"limitPrice,omitempty"`
	TIF        string `json:"timeInForce"`
	SignalID   string `json:"signalId,omitempty"`
}

type liveOrderResp struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type liveOrderDetailResp struct {
	OrderID       string `json:"orderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Status        string `json:"status"`
	Quantity      int64  `json:"quantity"`
	ExecutedQty   int64  `json:"executedQty"`
	ExecutedPrice string `json:"executedPrice"`
	SubmittedAt   string `json:"submittedAt"`
	UpdatedAt     string `json:"updatedAt"`
}

type liveReplaceReq struct {
	Quantity   int64  `json:"quantity"`
	LimitPrice string `json:"limitPrice"`
}

type liveBalanceResp struct {
	Currency   string `json:"currency"`
	Cash       string `json:"cash"`
	BuyPower   string `json:"buyPower"`
	MarginUsed string `json:"marginUsed"`
}

type livePositionResp struct {
	Symbol      string `json:"symbol"`
	Quantity    int64  `json:"quantity"`
	AvailableQty int64 `json:"availableQty"`
	AverageCost string `json:"averageCost"`
	Currency    string `json:"currency"`
}

type liveEstimateResp struct {
	MaxQuantity int64 `json:"maxQuantity"`
}

type liveErrorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- HTTP helper ---

func (l *LiveBroker) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	fullURL := l.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		bodyJSON, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", l.config.AccessToken)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("authentication failed (401): access token may have expired")
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited (429): too many requests")
	}

	if resp.StatusCode >= 400 {
		var wireErr liveErrorResp
		if json.Unmarshal(respBody, &wireErr) == nil && wireErr.Code != "" {
			return nil, &Error{Code: ErrorCode(wireErr.Code), Message: wireErr.Message}
		}
		return nil, fmt.Errorf("execution gateway error %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// --- Broker interface implementation ---

func (l *LiveBroker) SubmitOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	wireReq := liveOrderReq{
		ClientID:   l.config.ClientID,
		Symbol:     order.Symbol,
		Segment:    l.marketSegment(order.Symbol),
		Side:       string(order.Side),
		OrderType:  mapOrderTypeToWire(order.Type),
		Quantity:   order.Quantity,
		LimitPrice: decimalOrEmpty(order.LimitPrice),
		TIF:        string(domain.TIFDay),
		SignalID:   order.SignalID,
	}

	respBody, err := l.doRequest(ctx, http.MethodPost, "/v1/trade/orders", wireReq)
	if err != nil {
		return nil, fmt.Errorf("live broker SubmitOrder: %w", err)
	}

	var wireResp liveOrderResp
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, fmt.Errorf("live broker SubmitOrder: parse response: %w", err)
	}

	result := order
	result.BrokerOrderID = wireResp.OrderID
	result.Status = mapWireStatus(wireResp.Status)
	result.SubmittedAt = time.Now()
	result.UpdatedAt = result.SubmittedAt
	return &result, nil
}

func (l *LiveBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := l.doRequest(ctx, http.MethodDelete, "/v1/trade/orders/"+brokerOrderID, nil)
	if err != nil {
		return fmt.Errorf("live broker CancelOrder: %w", err)
	}
	return nil
}

func (l *LiveBroker) ReplaceOrder(ctx context.Context, brokerOrderID string, req ReplaceRequest) (*domain.Order, error) {
	wireReq := liveReplaceReq{
		Quantity:   req.Quantity,
		LimitPrice: decimalOrEmpty(req.LimitPrice),
	}
	respBody, err := l.doRequest(ctx, http.MethodPut, "/v1/trade/orders/"+brokerOrderID, wireReq)
	if err != nil {
		return nil, fmt.Errorf("live broker ReplaceOrder: %w", err)
	}

	var detail liveOrderDetailResp
	if err := json.Unmarshal(respBody, &detail); err != nil {
		return nil, fmt.Errorf("live broker ReplaceOrder: parse response: %w", err)
	}
	return l.orderFromDetail(detail), nil
}

func (l *LiveBroker) OrderDetail(ctx context.Context, brokerOrderID string) (*domain.Order, error) {
	respBody, err := l.doRequest(ctx, http.MethodGet, "/v1/trade/orders/"+brokerOrderID, nil)
	if err != nil {
		return nil, fmt.Errorf("live broker OrderDetail: %w", err)
	}

	var detail liveOrderDetailResp
	if err := json.Unmarshal(respBody, &detail); err != nil {
		return nil, fmt.Errorf("live broker OrderDetail: parse response: %w", err)
	}
	return l.orderFromDetail(detail), nil
}

func (l *LiveBroker) TodayOrders(ctx context.Context) ([]domain.Order, error) {
	respBody, err := l.doRequest(ctx, http.MethodGet, "/v1/trade/orders/today", nil)
	if err != nil {
		return nil, fmt.Errorf("live broker TodayOrders: %w", err)
	}
	return l.ordersFromList(respBody, "TodayOrders")
}

func (l *LiveBroker) HistoryOrders(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	q := url.Values{}
	q.Set("from", from.Format(time.RFC3339))
	q.Set("to", to.Format(time.RFC3339))
	respBody, err := l.doRequest(ctx, http.MethodGet, "/v1/trade/orders/history?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("live broker HistoryOrders: %w", err)
	}
	return l.ordersFromList(respBody, "HistoryOrders")
}

func (l *LiveBroker) ordersFromList(respBody []byte, op string) ([]domain.Order, error) {
	var details []liveOrderDetailResp
	if err := json.Unmarshal(respBody, &details); err != nil {
		return nil, fmt.Errorf("live broker %s: parse response: %w", op, err)
	}
	orders := make([]domain.Order, 0, len(details))
	for _, d := range details {
		orders = append(orders, *l.orderFromDetail(d))
	}
	return orders, nil
}

func (l *LiveBroker) orderFromDetail(detail liveOrderDetailResp) *domain.Order {
	submittedAt, _ := time.Parse(time.RFC3339, detail.SubmittedAt)
	updatedAt, _ := time.Parse(time.RFC3339, detail.UpdatedAt)
	return &domain.Order{
		BrokerOrderID: detail.OrderID,
		Symbol:        detail.Symbol,
		Side:          domain.Side(detail.Side),
		Quantity:      detail.Quantity,
		Status:        mapWireStatus(detail.Status),
		ExecutedQty:   detail.ExecutedQty,
		ExecutedPrice: parseDecimalOrZero(detail.ExecutedPrice),
		SubmittedAt:   submittedAt,
		UpdatedAt:     updatedAt,
		TIF:           domain.TIFDay,
	}
}

func (l *LiveBroker) AccountBalances(ctx context.Context) ([]AccountBalance, error) {
	respBody, err := l.doRequest(ctx, http.MethodGet, "/v1/trade/balances", nil)
	if err != nil {
		return nil, fmt.Errorf("live broker AccountBalances: %w", err)
	}

	var wireBalances []liveBalanceResp
	if err := json.Unmarshal(respBody, &wireBalances); err != nil {
		return nil, fmt.Errorf("live broker AccountBalances: parse response: %w", err)
	}

	balances := make([]AccountBalance, 0, len(wireBalances))
	for _, b := range wireBalances {
		balances = append(balances, AccountBalance{
			Currency:   b.Currency,
			Cash:       parseDecimalOrZero(b.Cash),
			BuyPower:   parseDecimalOrZero(b.BuyPower),
			MarginUsed: parseDecimalOrZero(b.MarginUsed),
		})
	}
	return balances, nil
}

func (l *LiveBroker) StockPositions(ctx context.Context) ([]domain.Position, error) {
	respBody, err := l.doRequest(ctx, http.MethodGet, "/v1/trade/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("live broker StockPositions: %w", err)
	}

	var wirePositions []livePositionResp
	if err := json.Unmarshal(respBody, &wirePositions); err != nil {
		return nil, fmt.Errorf("live broker StockPositions: parse response: %w", err)
	}

	positions := make([]domain.Position, 0, len(wirePositions))
	for _, p := range wirePositions {
		market, _ := domain.MarketFor(p.Symbol)
		positions = append(positions, domain.Position{
			Symbol:       p.Symbol,
			Quantity:     p.Quantity,
			AvailableQty: p.AvailableQty,
			AverageCost:  parseDecimalOrZero(p.AverageCost),
			Currency:     p.Currency,
			Market:       market,
		})
	}
	return positions, nil
}

func (l *LiveBroker) EstimateMaxPurchaseQuantity(ctx context.Context, symbol string, price decimal.Decimal) (int64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("price", price.String())
	respBody, err := l.doRequest(ctx, http.MethodGet, "/v1/trade/estimate?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("live broker EstimateMaxPurchaseQuantity: %w", err)
	}

	var estimate liveEstimateResp
	if err := json.Unmarshal(respBody, &estimate); err != nil {
		return 0, fmt.Errorf("live broker EstimateMaxPurchaseQuantity: parse response: %w", err)
	}
	return estimate.MaxQuantity, nil
}

// --- decimal wire helpers ---

func decimalOrEmpty(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
