package strategy

import (
	"testing"
	"time"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
)

// makeORBCandles builds a volatile uptrend, then a tight consolidation, then a
// breakout candle at the end, so short-period ATR is compressed relative to
// the long-period ATR and the close clears both the consolidation high and
// the prior 20-candle high.
func makeORBCandles(n int, basePrice float64) []domain.Candle {
	candles := make([]domain.Candle, n)
	tightStart := n - 12

	for i := 0; i < n; i++ {
		price := basePrice
		highSpread := 3.0
		lowSpread := 3.0
		vol := int64(300000)

		if i == n-1 {
			price = basePrice + float64(tightStart) + 6.0
			highSpread = 0.5
			lowSpread = 1.0
			vol = 600000
		} else if i >= tightStart {
			price = basePrice + float64(tightStart)
			highSpread = 0.3
			lowSpread = 0.3
		} else {
			price = basePrice + float64(i)
		}

		candles[i] = domain.Candle{
			Symbol:   "TEST",
			Period:   domain.Period1d,
			Time:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:     dec(price - 0.5),
			High:     dec(price + highSpread),
			Low:      dec(price - lowSpread),
			Close:    dec(price),
			Volume:   vol,
			Turnover: dec(price * float64(vol)),
		}
	}
	return candles
}

func TestORB_SkipsNonBullRegime(t *testing.T) {
	s := NewORBStrategy(makeTestRiskConfig())

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBear,
		RegimeConfidence: 0.8,
		Candles:          makeORBCandles(50, 100),
		AvailableCapital: dec(500000),
	}

	result := s.Evaluate(input)
	if result.Action != ActionSkip {
		t.Errorf("expected SKIP in BEAR regime, got %s: %s", result.Action, result.Reason)
	}
}

func TestORB_BuysOnRangeBreakout(t *testing.T) {
	s := NewORBStrategy(makeTestRiskConfig())

	candles := makeORBCandles(50, 100)

	priorCandles := candles[:len(candles)-1]
	shortATR := CalculateATR(priorCandles, s.ShortATRPeriod)
	longATR := CalculateATR(priorCandles, s.LongATRPeriod)
	if longATR > 0 {
		ratio := shortATR / longATR
		t.Logf("ATR compression ratio: %.4f (threshold: %.2f)", ratio, s.ATRCompressionRatio)
		if ratio >= s.ATRCompressionRatio {
			t.Skipf("test data did not compress: ratio %.4f >= %.4f", ratio, s.ATRCompressionRatio)
		}
	}

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBull,
		RegimeConfidence: 0.8,
		Candles:          candles,
		AvailableCapital: dec(500000),
	}

	result := s.Evaluate(input)
	if result.Action != ActionBuy {
		t.Errorf("expected BUY on range breakout, got %s: %s", result.Action, result.Reason)
	}
	if result.StopLoss.IsZero() || result.StopLoss.IsNegative() {
		t.Error("expected stop loss to be set")
	}
}

func TestORB_SkipsNoCompression(t *testing.T) {
	s := NewORBStrategy(makeTestRiskConfig())

	// Volatile candles throughout — no range compression.
	candles := make([]domain.Candle, 50)
	for i := 0; i < 50; i++ {
		price := 100.0 + float64(i%10)*5 - float64(i%7)*3
		candles[i] = domain.Candle{
			Symbol:   "TEST",
			Period:   domain.Period1d,
			Time:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:     dec(price - 3),
			High:     dec(price + 5),
			Low:      dec(price - 5),
			Close:    dec(price),
			Volume:   200000,
			Turnover: dec(price * 200000),
		}
	}

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBull,
		RegimeConfidence: 0.8,
		Candles:          candles,
		AvailableCapital: dec(500000),
	}

	result := s.Evaluate(input)
	if result.Action == ActionBuy {
		t.Errorf("expected non-BUY for volatile candles (no compression), got BUY: %s", result.Reason)
	}
}

func TestORB_ExitsOnFailedBreakout(t *testing.T) {
	s := NewORBStrategy(makeTestRiskConfig())

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
		t.Errorf("expected EXIT on failed breakout, got %s: %s", result.Action, result.Reason)
	}
}

func TestORB_IDAndName(t *testing.T) {
	s := NewORBStrategy(config.RiskConfig{MaxRiskPerTradePct: 1.0})
	if s.ID() != "orb_v1" {
		t.Errorf("unexpected ID: %s", s.ID())
	}
	if s.Name() == "" {
		t.Error("name must not be empty")
	}
}
