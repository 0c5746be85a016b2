package quotes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestGetRealtimeQuote_ParsesDecimalFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"quotes": []map[string]interface{}{
				{
					"symbol": "0700.HK", "last": "350.40", "prev_close": "348.00",
					"open": "349.00", "high": "351.00", "low": "347.50",
					"volume": 1200000, "turnover": "420480000",
					"bid": "350.20", "ask": "350.40", "bid_size": 2000, "ask_size": 1500,
					"trade_status": "NORMAL", "timestamp": time.Now().Unix(),
				},
			},
		})
	}))
	defer srv.Close()

	c := newRESTClient(RESTConfig{BaseURL: srv.URL, RateLimitInterval: time.Millisecond}, testLogger())
	quotes, err := c.GetRealtimeQuote(context.Background(), []string{"0700.HK"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("expected 1 quote, got %d", len(quotes))
	}
	if !quotes[0].Last.Equal(decimal.RequireFromString("350.40")) {
		t.Errorf("expected last=350.40, got %s", quotes[0].Last)
	}
}

func TestGetHistoryCandles_ChunksLongRanges(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"timestamp": []int64{time.Now().Unix()},
			"open":      []string{"100.00"},
			"high":      []string{"101.00"},
			"low":       []string{"99.00"},
			"close":     []string{"100.50"},
			"volume":    []int64{1000},
		})
	}))
	defer srv.Close()

	c := newRESTClient(RESTConfig{BaseURL: srv.URL, RateLimitInterval: time.Millisecond}, testLogger())

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 200) // > 90 days, must chunk into 3 requests

	candles, err := c.GetHistoryCandles(context.Background(), "0700.HK", domain.Period1d, start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("expected one candle per chunk (3), got %d", len(candles))
	}
	if atomic.LoadInt32(&requests) != 3 {
		t.Errorf("expected 3 chunked requests, got %d", requests)
	}
}

func TestGetDepth_ParsesBidAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"symbol": "AAPL.US", "bid": "229.50", "ask": "229.55", "bid_qty": 300, "ask_qty": 500,
		})
	}))
	defer srv.Close()

	c := newRESTClient(RESTConfig{BaseURL: srv.URL, RateLimitInterval: time.Millisecond}, testLogger())
	depth, err := c.GetDepth(context.Background(), "AAPL.US")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !depth.Spread().Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("expected spread 0.05, got %s", depth.Spread())
	}
}

func TestDo_AuthFailureIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newRESTClient(RESTConfig{BaseURL: srv.URL, RateLimitInterval: time.Millisecond}, testLogger())
	if _, err := c.GetDepth(context.Background(), "AAPL.US"); err == nil {
		t.Error("expected an error on 401 response")
	}
}
