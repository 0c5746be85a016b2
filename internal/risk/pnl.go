package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// dailyPnLStore is the narrow slice of internal/storage.Store the
// drawdown tracker needs: today's realized P&L, persisted so a restart
// doesn't lose the daily-loss-cap baseline.
type dailyPnLStore interface {
	GetDailyPnL(ctx context.Context, date time.Time) (decimal.Decimal, error)
	SaveDailyPnL(ctx context.Context, date time.Time, realized decimal.Decimal) error
}

// dayKey truncates t to its calendar date, the granularity daily_pnl is
// keyed by.
func dayKey(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DrawdownTracker maintains the running equity peak and today's realized
// P&L the drawdown-cap and daily-loss-cap pre-trade checks consume. The
// max-drawdown arithmetic (peak vs. current equity) mirrors
// internal/analytics's batch equity-curve computation, applied
// incrementally as fills happen instead of after the fact over a stored
// trade slice.
type DrawdownTracker struct {
	store dailyPnLStore

	mu         sync.Mutex
	peakEquity decimal.Decimal
	logger     zerolog.Logger
}

// NewDrawdownTracker builds a tracker seeded with startingEquity as the
// initial peak.
func NewDrawdownTracker(store dailyPnLStore, startingEquity decimal.Decimal, logger zerolog.Logger) *DrawdownTracker {
	return &DrawdownTracker{
		store:      store,
		peakEquity: startingEquity,
		logger:     logger.With().Str("component", "risk.drawdown").Logger(),
	}
}

// RecordEquity updates the running peak given the account's current total
// equity (cash plus positions marked to market) and returns the current
// drawdown as a negative percentage (0 at a new peak).
func (d *DrawdownTracker) RecordEquity(equity decimal.Decimal) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if equity.GreaterThan(d.peakEquity) {
		d.peakEquity = equity
	}
	if d.peakEquity.IsZero() {
		return 0
	}

	drawdown := equity.Sub(d.peakEquity).Div(d.peakEquity).Mul(decimal.NewFromInt(100))
	return drawdown.InexactFloat64()
}

// PeakEquity returns the highest equity value observed so far.
func (d *DrawdownTracker) PeakEquity() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peakEquity
}

// RecordRealizedPnL adds delta to the day's persisted realized P&L,
// called once per fill as trades close.
func (d *DrawdownTracker) RecordRealizedPnL(ctx context.Context, at time.Time, delta decimal.Decimal) error {
	date := dayKey(at)
	existing, err := d.store.GetDailyPnL(ctx, date)
	if err != nil {
		return fmt.Errorf("drawdown: load daily pnl: %w", err)
	}
	updated := existing.Add(delta)
	if err := d.store.SaveDailyPnL(ctx, date, updated); err != nil {
		return fmt.Errorf("drawdown: save daily pnl: %w", err)
	}
	return nil
}

// DailyLossPct returns today's realized P&L as a percentage of
// startOfDayEquity — negative when the day is net-losing, the figure the
// max-daily-loss-pct pre-trade check compares against its cap.
func (d *DrawdownTracker) DailyLossPct(ctx context.Context, at time.Time, startOfDayEquity decimal.Decimal) (float64, error) {
	if startOfDayEquity.IsZero() {
		return 0, nil
	}
	pnl, err := d.store.GetDailyPnL(ctx, dayKey(at))
	if err != nil {
		return 0, fmt.Errorf("drawdown: load daily pnl: %w", err)
	}
	pct := pnl.Div(startOfDayEquity).Mul(decimal.NewFromInt(100))
	return pct.InexactFloat64(), nil
}
