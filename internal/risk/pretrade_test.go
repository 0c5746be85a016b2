package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxRiskPerTradePct:        2,
		MaxOpenPositions:          20,
		MaxDailyLossPct:           5,
		MaxCapitalDeploymentPct:   90,
		MaxDailyOrderCount:        50,
		DrawdownCapPct:           -15,
		MaxLongExposurePct:        100,
		MaxShortExposurePct:       30,
		MaxPositionSizeShares:     10_000,
		MaxPositionNotional:       1_000_000,
		PortfolioAllocationCapPct: 20,
		SignalRiskCapPct:          2,
	}
}

func buySignal(symbol string, price, stop float64, qty int64) domain.Signal {
	return domain.Signal{
		Symbol:         symbol,
		Side:           domain.SideBuy,
		QuantityShares: qty,
		ReferencePrice: decFloat(price),
		StopLoss:       decFloat(stop),
		Score:          80,
	}
}

func TestValidate_ApprovesCleanBuy(t *testing.T) {
	m := NewManager(testRiskConfig(), nil, zerolog.Nop())
	s := buySignal("0700.HK", 300, 285, 100)

	result := m.Validate(context.Background(), s, nil, decFloat(1_000_000), time.Now())
	if !result.Approved {
		t.Fatalf("expected approval, got rejections: %+v", result.Rejections)
	}
}

func TestValidate_RejectsMissingStopLoss(t *testing.T) {
	m := NewManager(testRiskConfig(), nil, zerolog.Nop())
	s := buySignal("0700.HK", 300, 0, 100)

	result := m.Validate(context.Background(), s, nil, decFloat(1_000_000), time.Now())
	if result.Approved {
		t.Fatal("expected rejection for missing stop loss")
	}
	if result.Rejections[0].Rule != "MANDATORY_STOP_LOSS" {
		t.Errorf("expected MANDATORY_STOP_LOSS, got %s", result.Rejections[0].Rule)
	}
}

func TestValidate_RejectsStopLossAboveEntry(t *testing.T) {
	m := NewManager(testRiskConfig(), nil, zerolog.Nop())
	s := buySignal("0700.HK", 300, 310, 100)

	result := m.Validate(context.Background(), s, nil, decFloat(1_000_000), time.Now())
	if result.Approved {
		t.Fatal("expected rejection for stop loss above entry price")
	}
}

func TestValidate_RejectsSignalImpliedRiskOverCap(t *testing.T) {
	m := NewManager(testRiskConfig(), nil, zerolog.Nop())
	// risk per share = 300-250 = 50, qty 1000 -> 50,000 implied risk.
	// 2% of 1,000,000 equity = 20,000 -> breached.
	s := buySignal("0700.HK", 300, 250, 1000)

	result := m.Validate(context.Background(), s, nil, decFloat(1_000_000), time.Now())
	if result.Approved {
		t.Fatal("expected rejection for implied risk over the 2% cap")
	}
	found := false
	for _, r := range result.Rejections {
		if r.Rule == "SIGNAL_IMPLIED_RISK" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected SIGNAL_IMPLIED_RISK among rejections, got %+v", result.Rejections)
	}
}

func TestValidate_RejectsPortfolioAllocationOverCap(t *testing.T) {
	m := NewManager(testRiskConfig(), nil, zerolog.Nop())
	// 20% of 1,000,000 equity = 200,000 cap. 100 shares @ 300 existing
	// plus 600 more @ 300 = 210,000 > cap.
	positions := []domain.Position{
		{Symbol: "0700.HK", Quantity: 100, AvailableQty: 100, AverageCost: decFloat(300)},
	}
	s := buySignal("0700.HK", 300, 290, 600)

	result := m.Validate(context.Background(), s, positions, decFloat(1_000_000), time.Now())
	if result.Approved {
		t.Fatal("expected rejection for portfolio allocation cap breach")
	}
}

func TestValidate_ExitIsNeverBlocked(t *testing.T) {
	m := NewManager(testRiskConfig(), nil, zerolog.Nop())
	positions := []domain.Position{
		{Symbol: "0700.HK", Quantity: 100, AvailableQty: 100, AverageCost: decFloat(300)},
	}
	// A SELL with no stop loss against an existing long is a close, and
	// must never be blocked regardless of how badly it would otherwise
	// fail the checks above.
	s := domain.Signal{
		Symbol:         "0700.HK",
		Side:           domain.SideSell,
		QuantityShares: 100,
		ReferencePrice: decFloat(250),
	}

	result := m.Validate(context.Background(), s, positions, decFloat(1_000_000), time.Now())
	if !result.Approved {
		t.Fatalf("expected exits to always be approved, got rejections: %+v", result.Rejections)
	}
}

func TestValidate_RejectsDailyOrderCountAtLimit(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxDailyOrderCount = 2
	m := NewManager(cfg, nil, zerolog.Nop())
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	m.RecordOrderSubmitted(now)
	m.RecordOrderSubmitted(now)

	s := buySignal("0700.HK", 300, 290, 10)
	result := m.Validate(context.Background(), s, nil, decFloat(1_000_000), now)
	if result.Approved {
		t.Fatal("expected rejection once the daily order count limit is reached")
	}
}

func TestValidate_DailyOrderCountRollsOverToNextDay(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxDailyOrderCount = 1
	m := NewManager(cfg, nil, zerolog.Nop())
	day1 := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	m.RecordOrderSubmitted(day1)

	s := buySignal("0700.HK", 300, 290, 10)
	result := m.Validate(context.Background(), s, nil, decFloat(1_000_000), day2)
	if !result.Approved {
		t.Fatalf("expected the count to roll over on a new day, got rejections: %+v", result.Rejections)
	}
}

func TestValidate_RejectsLongExposureOverCap(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxLongExposurePct = 50
	m := NewManager(cfg, nil, zerolog.Nop())
	positions := []domain.Position{
		{Symbol: "AAA", Quantity: 1000, AvailableQty: 1000, AverageCost: decFloat(400)}, // 400,000
	}
	s := buySignal("BBB", 300, 290, 500) // +150,000 -> 550,000 > 50% of 1,000,000

	result := m.Validate(context.Background(), s, positions, decFloat(1_000_000), time.Now())
	if result.Approved {
		t.Fatal("expected rejection for long exposure over cap")
	}
}

func TestValidate_DrawdownCapLocksOutOpeningIntents(t *testing.T) {
	tracker := NewDrawdownTracker(newFakeDailyPnLStore(), decFloat(1_000_000), zerolog.Nop())
	cfg := testRiskConfig()
	m := NewManager(cfg, tracker, zerolog.Nop())

	s := buySignal("0700.HK", 300, 290, 10)
	// 800,000 equity against a 1,000,000 peak is a 20% drawdown, past the
	// -15% cap.
	result := m.Validate(context.Background(), s, nil, decFloat(800_000), time.Now())
	if result.Approved {
		t.Fatal("expected drawdown cap to lock out the opening intent")
	}
}

func TestValidate_DailyLossCapLocksOutOpeningIntents(t *testing.T) {
	store := newFakeDailyPnLStore()
	tracker := NewDrawdownTracker(store, decFloat(1_000_000), zerolog.Nop())
	cfg := testRiskConfig()
	m := NewManager(cfg, tracker, zerolog.Nop())
	now := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)

	// -60,000 realized today against a 1,000,000 starting equity is a 6%
	// loss, past the 5% cap.
	if err := tracker.RecordRealizedPnL(context.Background(), now, decFloat(-60_000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := buySignal("0700.HK", 300, 290, 10)
	result := m.Validate(context.Background(), s, nil, decFloat(1_000_000), now)
	if result.Approved {
		t.Fatal("expected daily loss cap to lock out the opening intent")
	}
}
