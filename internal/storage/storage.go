// Package storage defines the relational persistence interface for the
// trading engine and its Postgres/TimescaleDB implementation.
//
// Tables:
//   - kline_daily, kline_minute — OHLCV candles, one hypertable per period class
//   - orders, fills             — C8's order and execution history
//   - positions                 — current holdings per account
//   - security_static           — lot size, tick size, currency per symbol
//   - trading_calendar          — C1's session schedule, one row per (market, date)
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/calendar"
	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/quotes"
)

// Store is the complete persistence interface the engine depends on.
// It also implements calendar.Store (GetCalendarDays/PutCalendarDays)
// so a single Postgres connection backs both candle history and the
// session calendar.
type Store interface {
	// Candle operations.
	SaveCandles(ctx context.Context, candles []domain.Candle) error
	GetCandles(ctx context.Context, symbol string, period domain.Period, from, to time.Time) ([]domain.Candle, error)
	GetLatestCandleTime(ctx context.Context, symbol string, period domain.Period) (time.Time, error)

	// Order and fill operations.
	SaveOrder(ctx context.Context, order domain.Order) error
	UpdateOrderStatus(ctx context.Context, brokerOrderID string, status domain.OrderStatus, executedQty int64, executedPrice decimal.Decimal) error
	GetOpenOrders(ctx context.Context) ([]domain.Order, error)
	SaveFill(ctx context.Context, fill domain.Fill) error
	GetFillsForOrder(ctx context.Context, orderID string) ([]domain.Fill, error)

	// Position operations.
	SavePosition(ctx context.Context, pos domain.Position) error
	GetPositions(ctx context.Context) ([]domain.Position, error)
	GetPosition(ctx context.Context, symbol string) (domain.Position, bool, error)
	DeletePosition(ctx context.Context, symbol string) error

	// Security static info, the cache layer backing internal/watchlist's
	// LotSizeSource when the quote gateway is unavailable.
	SaveSecurityStatic(ctx context.Context, info quotes.StaticInfo) error
	GetSecurityStatic(ctx context.Context, symbol string) (quotes.StaticInfo, bool, error)

	// Calendar operations; satisfies calendar.Store.
	GetCalendarDays(ctx context.Context, market domain.Market, from, to time.Time) ([]domain.CalendarDay, error)
	PutCalendarDays(ctx context.Context, days []domain.CalendarDay) error

	// Daily realized P&L, consumed by internal/risk's drawdown and
	// daily-loss-cap checks.
	GetDailyPnL(ctx context.Context, date time.Time) (decimal.Decimal, error)
	SaveDailyPnL(ctx context.Context, date time.Time, realized decimal.Decimal) error

	Ping(ctx context.Context) error
	Close()
}

var (
	_ calendar.Store = Store(nil)
)
