package strategy

import (
	"testing"
	"time"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
)

// makeOversoldCandles builds a sideways range followed by a short four-candle
// drop, so the last candle sits below the 20-day SMA with an oversold RSI
// while the stock is not trending.
func makeOversoldCandles(n int, basePrice float64) []domain.Candle {
	candles := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		var price float64
		if i < n-4 {
			price = basePrice - 0.2 + float64(i%2)*0.4
		} else {
			price = basePrice - float64(i-(n-5))*1.0
		}
		candles[i] = domain.Candle{
			Symbol:   "TEST",
			Period:   domain.Period1d,
			Time:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:     dec(price + 1),
			High:     dec(price + 1),
			Low:      dec(price - 1),
			Close:    dec(price),
			Volume:   300000,
			Turnover: dec(price * 300000),
		}
	}
	return candles
}

func TestMeanReversion_SkipsBearRegime(t *testing.T) {
	s := NewMeanReversionStrategy(makeTestRiskConfig())

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBear,
		RegimeConfidence: 0.8,
		Candles:          makeOversoldCandles(50, 100),
		AvailableCapital: dec(500000),
	}

	result := s.Evaluate(input)
	if result.Action != ActionSkip {
		t.Errorf("expected SKIP in BEAR regime, got %s: %s", result.Action, result.Reason)
	}
}

func TestMeanReversion_SkipsTrendingStock(t *testing.T) {
	s := NewMeanReversionStrategy(makeTestRiskConfig())

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBull,
		RegimeConfidence: 0.8,
		Candles:          makeTrendingCandles(50, 100),
		AvailableCapital: dec(500000),
	}

	result := s.Evaluate(input)
	if result.Action != ActionSkip {
		t.Errorf("expected SKIP for a strongly trending stock, got %s: %s", result.Action, result.Reason)
	}
}

func TestMeanReversion_BuysOversoldStock(t *testing.T) {
	s := NewMeanReversionStrategy(makeTestRiskConfig())

	candles := makeOversoldCandles(50, 100)

	// Verify the setup: last price should be below SMA and RSI oversold.
	sma := CalculateSMA(candles, 20)
	lastPrice := f64(candles[len(candles)-1].Close)
	rsi := CalculateRSI(candles, 14)

	if lastPrice >= sma {
		t.Skipf("test data not oversold enough: price=%.2f >= SMA=%.2f (skipping)", lastPrice, sma)
	}
	if rsi >= 35 {
		t.Skipf("test data RSI too high: %.2f >= 35 (skipping)", rsi)
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
		t.Errorf("expected BUY for oversold stock, got %s: %s", result.Action, result.Reason)
	}
	if result.StopLoss.IsZero() || result.StopLoss.IsNegative() {
		t.Error("expected stop loss to be set")
	}
	if !result.Target.IsPositive() {
		t.Error("expected target to be set")
	}
}

func TestMeanReversion_ExitsOnBearRegime(t *testing.T) {
	s := NewMeanReversionStrategy(makeTestRiskConfig())

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBear,
		RegimeConfidence: 0.8,
		CurrentPosition:  testPosition(10, 100),
		Candles:          makeOversoldCandles(50, 100),
	}

	result := s.Evaluate(input)
	if result.Action != ActionExit {
		t.Errorf("expected EXIT in BEAR regime with position, got %s", result.Action)
	}
}

func TestMeanReversion_HoldsWhileOversold(t *testing.T) {
	s := NewMeanReversionStrategy(makeTestRiskConfig())

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeBull,
		RegimeConfidence: 0.8,
		CurrentPosition:  testPosition(10, 100),
		Candles:          makeOversoldCandles(50, 100),
	}

	result := s.Evaluate(input)
	if result.Action != ActionHold && result.Action != ActionExit {
		t.Errorf("expected HOLD or EXIT, got %s: %s", result.Action, result.Reason)
	}
}

func TestMeanReversion_IDAndName(t *testing.T) {
	s := NewMeanReversionStrategy(config.RiskConfig{MaxRiskPerTradePct: 1.0})
	if s.ID() != "mean_reversion_v1" {
		t.Errorf("unexpected ID: %s", s.ID())
	}
	if s.Name() == "" {
		t.Error("name must not be empty")
	}
}

func TestMeanReversion_WorksInRangeRegime(t *testing.T) {
	s := NewMeanReversionStrategy(makeTestRiskConfig())

	// RANGE regime should be allowed (not just BULL).
	candles := makeOversoldCandles(50, 100)
	sma := CalculateSMA(candles, 20)
	lastPrice := f64(candles[len(candles)-1].Close)
	rsi := CalculateRSI(candles, 14)

	if lastPrice >= sma || rsi >= 35 {
		t.Skipf("test data conditions not met for RANGE test")
	}

	input := StrategyInput{
		Date:             time.Now(),
		Symbol:           "TEST",
		Regime:           domain.RegimeRange,
		RegimeConfidence: 0.7,
		Candles:          candles,
		AvailableCapital: dec(500000),
	}

	result := s.Evaluate(input)
	if result.Action != ActionBuy {
		t.Errorf("expected BUY in RANGE regime, got %s: %s", result.Action, result.Reason)
	}
}
