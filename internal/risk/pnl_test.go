package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeDailyPnLStore struct {
	byDate map[string]decimal.Decimal
}

func newFakeDailyPnLStore() *fakeDailyPnLStore {
	return &fakeDailyPnLStore{byDate: make(map[string]decimal.Decimal)}
}

func (f *fakeDailyPnLStore) GetDailyPnL(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	v, ok := f.byDate[dayKey(date).String()]
	if !ok {
		return decimal.Zero, nil
	}
	return v, nil
}

func (f *fakeDailyPnLStore) SaveDailyPnL(ctx context.Context, date time.Time, realized decimal.Decimal) error {
	f.byDate[dayKey(date).String()] = realized
	return nil
}

func TestRecordEquity_TracksPeakAndDrawdown(t *testing.T) {
	tr := NewDrawdownTracker(newFakeDailyPnLStore(), decFloat(100_000), zerolog.Nop())

	if dd := tr.RecordEquity(decFloat(110_000)); dd != 0 {
		t.Errorf("expected 0%% drawdown at a new peak, got %v", dd)
	}
	if tr.PeakEquity().String() != decFloat(110_000).String() {
		t.Errorf("expected peak updated to 110000, got %v", tr.PeakEquity())
	}

	dd := tr.RecordEquity(decFloat(99_000))
	want := (99_000.0 - 110_000.0) / 110_000.0 * 100
	if diff := dd - want; diff > 0.001 || diff < -0.001 {
		t.Errorf("expected drawdown %.4f, got %.4f", want, dd)
	}
}

func TestRecordRealizedPnL_AccumulatesAcrossCalls(t *testing.T) {
	store := newFakeDailyPnLStore()
	tr := NewDrawdownTracker(store, decFloat(100_000), zerolog.Nop())
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	if err := tr.RecordRealizedPnL(context.Background(), now, decFloat(-500)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.RecordRealizedPnL(context.Background(), now, decFloat(-300)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pct, err := tr.DailyLossPct(context.Background(), now, decFloat(100_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pct != -0.8 {
		t.Errorf("expected -0.8%% daily loss, got %v", pct)
	}
}

func TestDailyLossPct_ZeroStartingEquityIsSafe(t *testing.T) {
	tr := NewDrawdownTracker(newFakeDailyPnLStore(), decFloat(0), zerolog.Nop())
	pct, err := tr.DailyLossPct(context.Background(), time.Now(), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pct != 0 {
		t.Errorf("expected 0 for zero starting equity, got %v", pct)
	}
}
