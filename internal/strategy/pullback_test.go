package strategy

import (
	"testing"
	"time"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
)

// makePullbackCandles builds a moderate uptrend followed by an extended
// pullback, so price sits above the 50-EMA but has retraced toward the
// 20-EMA with RSI in the healthy 40-60 pullback zone.
func makePullbackCandles(n int, basePrice float64) []domain.Candle {
	candles := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		var price float64
		if i < n-20 {
			price = basePrice + float64(i)*1.0
		} else {
			peak := basePrice + float64(n-21)*1.0
			price = peak - float64(i-(n-20))*0.5
		}
		candles[i] = domain.Candle{
			Symbol:   "TEST",
			Period:   domain.Period1d,
			Time:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:     dec(price - 1),
			High:     dec(price + 3),
			Low:      dec(price - 2),
			Close:    dec(price),
			Volume:   150000,
			Turnover: dec(price * 150000),
		}
	}
	return candles
}

func TestPullback_SkipsNonBullRegime(t *testing.T) {
	s := NewPullbackStrategy(makeTestRiskConfig())

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeRange,
		RegimeConfidence: 0.8,
		Candles:          makePullbackCandles(70, 100),
		AvailableCapital: dec(500000),
	}

	result := s.Evaluate(input)
	if result.Action != ActionSkip {
		t.Errorf("expected SKIP in RANGE regime, got %s: %s", result.Action, result.Reason)
	}
}

func TestPullback_SkipsInsufficientHistory(t *testing.T) {
	s := NewPullbackStrategy(makeTestRiskConfig())

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBull,
		RegimeConfidence: 0.8,
		Candles:          makePullbackCandles(30, 100), // needs 60
		AvailableCapital: dec(500000),
	}

	result := s.Evaluate(input)
	if result.Action != ActionSkip {
		t.Errorf("expected SKIP for insufficient history, got %s: %s", result.Action, result.Reason)
	}
}

func TestPullback_BuysOnPullbackToEMA(t *testing.T) {
	s := NewPullbackStrategy(makeTestRiskConfig())
	// Widen the pullback tolerance and RSI range for test data.
	s.PullbackPct = 5.0
	s.RSILow = 30
	s.RSIHigh = 75

	candles := makePullbackCandles(70, 100)

	slowEMA := CalculateEMA(candles, s.SlowEMAPeriod)
	lastPrice := f64(candles[len(candles)-1].Close)
	if lastPrice <= slowEMA {
		t.Skipf("test data: price %.2f not above 50-EMA %.2f", lastPrice, slowEMA)
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
		t.Errorf("expected BUY on pullback, got %s: %s", result.Action, result.Reason)
	}
	if result.StopLoss.IsZero() || result.StopLoss.IsNegative() {
		t.Error("expected stop loss to be set")
	}
	if !result.Target.GreaterThan(result.Price) {
		t.Error("expected target above entry price")
	}
}

func TestPullback_ExitsBelowSlowEMA(t *testing.T) {
	s := NewPullbackStrategy(makeTestRiskConfig())

	// Price drops below 50-EMA.
	candles := make([]domain.Candle, 70)
	for i := 0; i < 70; i++ {
		var price float64
		if i < 50 {
			price = 100 + float64(i)*1.5
		} else {
			price = 100 + float64(50)*1.5 - float64(i-50)*8.0
		}
		candles[i] = domain.Candle{
			Symbol:   "TEST",
			Period:   domain.Period1d,
			Time:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:     dec(price - 1),
			High:     dec(price + 2),
			Low:      dec(price - 2),
			Close:    dec(price),
			Volume:   150000,
			Turnover: dec(price * 150000),
		}
	}

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBull,
		RegimeConfidence: 0.8,
		CurrentPosition:  testPosition(10, 150),
		Candles:          candles,
	}

	result := s.Evaluate(input)
	if result.Action != ActionExit {
		t.Errorf("expected EXIT below 50-EMA, got %s: %s", result.Action, result.Reason)
	}
}

func TestPullback_IDAndName(t *testing.T) {
	s := NewPullbackStrategy(config.RiskConfig{MaxRiskPerTradePct: 1.0})
	if s.ID() != "pullback_v1" {
		t.Errorf("unexpected ID: %s", s.ID())
	}
	if s.Name() == "" {
		t.Error("name must not be empty")
	}
}
