package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

// makeIndicatorCandles creates candles with known closing prices for indicator testing.
func makeIndicatorCandles(closes []float64) []domain.Candle {
	candles := make([]domain.Candle, len(closes))
	for i, close := range closes {
		vol := int64(100000 + i*1000)
		candles[i] = domain.Candle{
			Symbol:   "TEST",
			Period:   domain.Period1d,
			Time:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:     dec(close - 1),
			High:     dec(close + 2),
			Low:      dec(close - 2),
			Close:    dec(close),
			Volume:   vol,
			Turnover: dec(close * float64(vol)),
		}
	}
	return candles
}

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestCalculateATR_Basic(t *testing.T) {
	candles := makeIndicatorCandles([]float64{
		100, 102, 104, 103, 105, 107, 106, 108, 110, 109,
		111, 113, 112, 114, 116, 115,
	})

	atr := CalculateATR(candles, 14)
	if atr <= 0 {
		t.Errorf("expected positive ATR, got %.4f", atr)
	}
}

func TestCalculateATR_InsufficientData(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 102, 104})

	// With only 3 candles and period=14, should fallback to last candle range.
	atr := CalculateATR(candles, 14)
	last := candles[len(candles)-1]
	expected := f64(last.High) - f64(last.Low)
	if atr != expected {
		t.Errorf("expected fallback ATR %.4f, got %.4f", expected, atr)
	}
}

func TestCalculateATR_EmptyCandles(t *testing.T) {
	atr := CalculateATR(nil, 14)
	if atr != 0 {
		t.Errorf("expected 0 ATR for empty candles, got %.4f", atr)
	}
}

func TestCalculateRSI_Neutral(t *testing.T) {
	// With insufficient data, should return 50 (neutral).
	candles := makeIndicatorCandles([]float64{100, 102, 104})
	rsi := CalculateRSI(candles, 14)
	if rsi != 50 {
		t.Errorf("expected RSI=50 for insufficient data, got %.2f", rsi)
	}
}

func TestCalculateRSI_AllGains(t *testing.T) {
	// All gains → RSI should be 100 or very close.
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 100 + float64(i)*2
	}
	candles := makeIndicatorCandles(prices)
	rsi := CalculateRSI(candles, 14)
	if rsi < 95 {
		t.Errorf("expected RSI near 100 for all gains, got %.2f", rsi)
	}
}

func TestCalculateRSI_AllLosses(t *testing.T) {
	// All losses → RSI should be near 0.
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 200 - float64(i)*2
	}
	candles := makeIndicatorCandles(prices)
	rsi := CalculateRSI(candles, 14)
	if rsi > 5 {
		t.Errorf("expected RSI near 0 for all losses, got %.2f", rsi)
	}
}

func TestCalculateRSI_Range(t *testing.T) {
	// Mixed data → RSI should be between 0 and 100.
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 100 + float64(i%5)*3 - float64(i%3)*2
	}
	candles := makeIndicatorCandles(prices)
	rsi := CalculateRSI(candles, 14)
	if rsi < 0 || rsi > 100 {
		t.Errorf("RSI out of range: %.2f", rsi)
	}
}

func TestCalculateSMA_Basic(t *testing.T) {
	candles := makeIndicatorCandles([]float64{10, 20, 30, 40, 50})
	sma := CalculateSMA(candles, 5)
	expected := (10 + 20 + 30 + 40 + 50) / 5.0
	if !almostEqual(sma, expected, 0.01) {
		t.Errorf("expected SMA=%.2f, got %.2f", expected, sma)
	}
}

func TestCalculateSMA_PartialPeriod(t *testing.T) {
	candles := makeIndicatorCandles([]float64{10, 20, 30})
	// Period 3 with 3 candles: (10+20+30)/3 = 20
	sma := CalculateSMA(candles, 3)
	if !almostEqual(sma, 20, 0.01) {
		t.Errorf("expected SMA=20, got %.2f", sma)
	}
}

func TestCalculateSMA_InsufficientData(t *testing.T) {
	candles := makeIndicatorCandles([]float64{10, 20})
	sma := CalculateSMA(candles, 5) // Not enough candles
	if sma != 0 {
		t.Errorf("expected SMA=0 for insufficient data, got %.2f", sma)
	}
}

func TestCalculateROC_Basic(t *testing.T) {
	// Price went from 100 to 110 over 5 periods → ROC = 10%
	candles := makeIndicatorCandles([]float64{100, 102, 104, 106, 108, 110})
	roc := CalculateROC(candles, 5)
	expected := (110 - 100) / 100.0 // 0.1 = 10%
	if !almostEqual(roc, expected, 0.01) {
		t.Errorf("expected ROC=%.4f, got %.4f", expected, roc)
	}
}

func TestCalculateROC_Negative(t *testing.T) {
	// Price went from 100 to 90 → negative ROC
	candles := makeIndicatorCandles([]float64{100, 98, 96, 94, 92, 90})
	roc := CalculateROC(candles, 5)
	if roc >= 0 {
		t.Errorf("expected negative ROC, got %.4f", roc)
	}
}

func TestCalculateROC_InsufficientData(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 102})
	roc := CalculateROC(candles, 5) // Not enough
	if roc != 0 {
		t.Errorf("expected ROC=0 for insufficient data, got %.4f", roc)
	}
}

func TestHighestHigh_Basic(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 110, 105, 120, 115})
	// High = Close + 2 for each candle
	hh := HighestHigh(candles, 5)
	expected := 120 + 2.0 // Candle at close=120 has high=122
	if !almostEqual(hh, expected, 0.01) {
		t.Errorf("expected HighestHigh=%.2f, got %.2f", expected, hh)
	}
}

func TestLowestLow_Basic(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 110, 105, 120, 115})
	// Low = Close - 2 for each candle
	ll := LowestLow(candles, 5)
	expected := 100 - 2.0 // Candle at close=100 has low=98
	if !almostEqual(ll, expected, 0.01) {
		t.Errorf("expected LowestLow=%.2f, got %.2f", expected, ll)
	}
}

func TestAverageVolume_Basic(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 102, 104, 106, 108})
	avgVol := AverageVolume(candles, 5)
	// Volumes: 100000, 101000, 102000, 103000, 104000
	expected := (100000 + 101000 + 102000 + 103000 + 104000) / 5.0
	if !almostEqual(avgVol, expected, 1) {
		t.Errorf("expected AvgVol=%.0f, got %.0f", expected, avgVol)
	}
}

func TestHighestHigh_Empty(t *testing.T) {
	hh := HighestHigh(nil, 5)
	if hh != 0 {
		t.Errorf("expected 0 for empty candles, got %.2f", hh)
	}
}

func TestLowestLow_Empty(t *testing.T) {
	ll := LowestLow(nil, 5)
	if ll != 0 {
		t.Errorf("expected 0 for empty candles, got %.2f", ll)
	}
}

func TestAverageVolume_Empty(t *testing.T) {
	avgVol := AverageVolume(nil, 5)
	if avgVol != 0 {
		t.Errorf("expected 0 for empty candles, got %.0f", avgVol)
	}
}

func TestCalculateEMA_ConvergesTowardRecentPrice(t *testing.T) {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100
	}
	for i := 30; i < 40; i++ {
		prices[i] = 150
	}
	candles := makeIndicatorCandles(prices)
	emaFast := CalculateEMA(candles, 10)
	if emaFast <= 100 {
		t.Errorf("expected fast EMA to have moved up toward 150, got %.2f", emaFast)
	}
}

func TestCalculateEMA_InsufficientData(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 102})
	ema := CalculateEMA(candles, 20)
	if ema != 0 {
		t.Errorf("expected EMA=0 for insufficient data, got %.2f", ema)
	}
}

func TestCalculateVWAP_Basic(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 100, 100, 100, 100})
	vwap := CalculateVWAP(candles, 5)
	// Typical price is (H+L+C)/3 = close for these symmetric candles, so VWAP ≈ 100.
	if !almostEqual(vwap, 100, 1) {
		t.Errorf("expected VWAP near 100, got %.2f", vwap)
	}
}

func TestCalculateVWAP_NoVolume(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 102})
	for i := range candles {
		candles[i].Volume = 0
	}
	vwap := CalculateVWAP(candles, 5)
	if vwap != 0 {
		t.Errorf("expected VWAP=0 with no volume, got %.2f", vwap)
	}
}

func TestCalculateBollingerBands_Basic(t *testing.T) {
	candles := makeIndicatorCandles([]float64{
		100, 101, 99, 100, 101, 99, 100, 101, 99, 100,
		101, 99, 100, 101, 99, 100, 101, 99, 100, 101,
	})
	middle, upper, lower, bandwidth := CalculateBollingerBands(candles, 20, 2.0)
	if middle <= 0 {
		t.Errorf("expected positive middle band, got %.2f", middle)
	}
	if upper <= middle {
		t.Errorf("expected upper band above middle, got upper=%.2f middle=%.2f", upper, middle)
	}
	if lower >= middle {
		t.Errorf("expected lower band below middle, got lower=%.2f middle=%.2f", lower, middle)
	}
	if bandwidth <= 0 {
		t.Errorf("expected positive bandwidth, got %.4f", bandwidth)
	}
}

func TestCalculateBollingerBands_InsufficientData(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 101})
	middle, upper, lower, bandwidth := CalculateBollingerBands(candles, 20, 2.0)
	if middle != 0 || upper != 0 || lower != 0 || bandwidth != 0 {
		t.Errorf("expected all zeros for insufficient data, got %.2f %.2f %.2f %.4f", middle, upper, lower, bandwidth)
	}
}

func TestCalculatePrevMACD_InsufficientData(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 101, 102})
	macdLine, signalLine := CalculatePrevMACD(candles, 12, 26, 9)
	if macdLine != 0 || signalLine != 0 {
		t.Errorf("expected zeros for insufficient data, got %.4f %.4f", macdLine, signalLine)
	}
}
