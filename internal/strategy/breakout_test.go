package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
)

// makeBreakoutCandles builds a steady uptrend followed by a high-volume
// breakout candle clearing the prior N-day high.
func makeBreakoutCandles(n int, basePrice float64) []domain.Candle {
	candles := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		price := basePrice + float64(i)*0.5
		vol := int64(800000)
		if i == n-1 {
			price = basePrice + float64(n-2)*0.5 + 8.0
			vol = 2_500_000
		}
		candles[i] = domain.Candle{
			Symbol:   "TEST",
			Period:   domain.Period1d,
			Time:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:     dec(price - 0.5),
			High:     dec(price + 1.5),
			Low:      dec(price - 1.5),
			Close:    dec(price),
			Volume:   vol,
			Turnover: dec(price * float64(vol)),
		}
	}
	return candles
}

func TestBreakout_SkipsNonBullRegime(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig())

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeRange,
		RegimeConfidence: 0.8,
		Candles:          makeBreakoutCandles(50, 100),
		AvailableCapital: dec(500000),
	}

	result := s.Evaluate(input)
	if result.Action != ActionSkip {
		t.Errorf("expected SKIP in RANGE regime, got %s: %s", result.Action, result.Reason)
	}
}

func TestBreakout_SkipsLowBreakoutQuality(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig())

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBull,
		RegimeConfidence: 0.8,
		Candles:          makeFlatCandles(50, 100),
		AvailableCapital: dec(500000),
	}

	result := s.Evaluate(input)
	if result.Action != ActionSkip {
		t.Errorf("expected SKIP for flat (no breakout) candles, got %s: %s", result.Action, result.Reason)
	}
}

func TestBreakout_BuysOnVolumeBreakout(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig())

	candles := makeBreakoutCandles(50, 100)

	priorCandles := candles[:len(candles)-1]
	resistance := HighestHigh(priorCandles, s.HighLookback)
	lastClose := f64(candles[len(candles)-1].Close)
	if lastClose <= resistance {
		t.Skipf("test data: price %.2f <= resistance %.2f", lastClose, resistance)
	}

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBull,
		RegimeConfidence: 0.9,
		Candles:          candles,
		AvailableCapital: dec(500000),
	}

	result := s.Evaluate(input)
	if result.Action != ActionBuy {
		t.Errorf("expected BUY on volume breakout, got %s: %s", result.Action, result.Reason)
	}
	if result.StopLoss.LessThanOrEqual(decimal.Zero) {
		t.Error("expected stop loss to be set")
	}
	if !result.Target.GreaterThan(result.Price) {
		t.Error("expected target above entry price")
	}
}

func TestBreakout_SkipsLowVolume(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig())

	// Breakout in price but normal (unconfirmed) volume on the last candle.
	candles := make([]domain.Candle, 50)
	for i := 0; i < 50; i++ {
		price := 100.0 + float64(i)*0.5
		if i == 49 {
			price = 132.0
		}
		candles[i] = domain.Candle{
			Symbol:   "TEST",
			Period:   domain.Period1d,
			Time:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:     dec(price - 0.5),
			High:     dec(price + 1.5),
			Low:      dec(price - 1.5),
			Close:    dec(price),
			Volume:   800000,
			Turnover: dec(price * 800000),
		}
	}

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBull,
		RegimeConfidence: 0.9,
		Candles:          candles,
		AvailableCapital: dec(500000),
	}

	result := s.Evaluate(input)
	if result.Action == ActionBuy {
		t.Errorf("expected non-BUY without volume confirmation, got BUY: %s", result.Reason)
	}
}

func TestBreakout_ExitsOnBearRegime(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig())

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBear,
		RegimeConfidence: 0.8,
		CurrentPosition:  testPosition(10, 100),
		Candles:          makeBreakoutCandles(50, 100),
	}

	result := s.Evaluate(input)
	if result.Action != ActionExit {
		t.Errorf("expected EXIT in BEAR regime with position, got %s", result.Action)
	}
}

func TestBreakout_ExitsOnFailedBreakout(t *testing.T) {
	s := NewBreakoutStrategy(makeTestRiskConfig())

	// Position entered at a price well above where the series ends up.
	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBull,
		RegimeConfidence: 0.8,
		CurrentPosition:  testPosition(10, 250),
		Candles:          makeTrendingCandles(50, 100),
	}

	result := s.Evaluate(input)
	if result.Action != ActionExit {
		t.Errorf("expected EXIT on failed breakout (price below entry), got %s: %s", result.Action, result.Reason)
	}
}

func TestBreakout_IDAndName(t *testing.T) {
	s := NewBreakoutStrategy(config.RiskConfig{MaxRiskPerTradePct: 1.0})
	if s.ID() != "breakout_v1" {
		t.Errorf("unexpected ID: %s", s.ID())
	}
	if s.Name() == "" {
		t.Error("name must not be empty")
	}
}
