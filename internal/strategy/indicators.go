// Package strategy - indicators.go provides shared technical indicator calculations.
//
// These are used by multiple strategies (trend follow, mean reversion, breakout, momentum).
// All functions are stateless and deterministic — given the same candle slice, they
// return the same result. Indicator math runs in float64: OHLC values arrive as
// decimal.Decimal (the precision that matters for order pricing), but nothing
// here feeds an order directly — callers convert a strategy's final decision
// back to decimal before it becomes a TradeIntent.
package strategy

import (
	"math"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

func f64(d interface{ Float64() (float64, bool) }) float64 {
	v, _ := d.Float64()
	return v
}

// CalculateATR computes the Average True Range over the given period.
// True Range = max(high-low, |high-prevClose|, |low-prevClose|).
// Returns the simple average of the last `period` true ranges.
// Falls back to last candle's range if insufficient data.
func CalculateATR(candles []domain.Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) < period+1 {
		last := candles[len(candles)-1]
		return f64(last.High) - f64(last.Low)
	}

	var totalTR float64
	for i := len(candles) - period; i < len(candles); i++ {
		curr := candles[i]
		prev := candles[i-1]

		tr1 := f64(curr.High) - f64(curr.Low)
		tr2 := math.Abs(f64(curr.High) - f64(prev.Close))
		tr3 := math.Abs(f64(curr.Low) - f64(prev.Close))

		tr := math.Max(tr1, math.Max(tr2, tr3))
		totalTR += tr
	}

	return totalTR / float64(period)
}

// CalculateRSI computes the Relative Strength Index over the given period.
// Uses the Wilder smoothing method (exponential moving average of gains/losses).
// Returns a value between 0 and 100.
// Returns 50 (neutral) if insufficient data.
func CalculateRSI(candles []domain.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50 // neutral if insufficient data
	}

	// Calculate initial average gain and loss over the first `period` changes.
	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		change := f64(candles[i].Close) - f64(candles[i-1].Close)
		if change > 0 {
			gainSum += change
		} else {
			lossSum += math.Abs(change)
		}
	}

	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	// Apply Wilder smoothing for remaining candles.
	for i := period + 1; i < len(candles); i++ {
		change := f64(candles[i].Close) - f64(candles[i-1].Close)
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = math.Abs(change)
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100 // no losses → RSI is maxed
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateSMA computes the Simple Moving Average of closing prices over the given period.
// Uses the last `period` candles. Returns 0 if insufficient data.
func CalculateSMA(candles []domain.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	var sum float64
	for i := len(candles) - period; i < len(candles); i++ {
		sum += f64(candles[i].Close)
	}
	return sum / float64(period)
}

// CalculateROC computes the Rate of Change (fraction) over the given period.
// ROC = (currentClose - closeNPeriodsAgo) / closeNPeriodsAgo
// Returns 0 if insufficient data or division by zero.
func CalculateROC(candles []domain.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 0
	}

	current := f64(candles[len(candles)-1].Close)
	past := f64(candles[len(candles)-1-period].Close)

	if past == 0 {
		return 0
	}

	return (current - past) / past
}

// HighestHigh returns the highest high price over the last `period` candles.
// Returns 0 if no candles.
func HighestHigh(candles []domain.Candle, period int) float64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}

	start := len(candles) - period
	if start < 0 {
		start = 0
	}

	highest := f64(candles[start].High)
	for i := start + 1; i < len(candles); i++ {
		if h := f64(candles[i].High); h > highest {
			highest = h
		}
	}
	return highest
}

// LowestLow returns the lowest low price over the last `period` candles.
// Returns 0 if no candles.
func LowestLow(candles []domain.Candle, period int) float64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}

	start := len(candles) - period
	if start < 0 {
		start = 0
	}

	lowest := f64(candles[start].Low)
	for i := start + 1; i < len(candles); i++ {
		if l := f64(candles[i].Low); l < lowest {
			lowest = l
		}
	}
	return lowest
}

// ema computes the exponential moving average of a float64 series, seeding
// with a simple average of the first `period` values the way most charting
// libraries do.
func ema(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) < period || period <= 0 {
		return out
	}

	var seed float64
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)
	for i := 0; i < period-1; i++ {
		out[i] = seed
	}
	out[period-1] = seed

	k := 2 / (float64(period) + 1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// CalculateMACD computes the MACD line (fast EMA - slow EMA), its signal
// line (EMA of the MACD line), and the histogram (MACD - signal) for the
// most recent candle. Returns zeros if there isn't enough history for the
// slow EMA plus the signal period.
func CalculateMACD(candles []domain.Candle, fastPeriod, slowPeriod, signalPeriod int) (macdLine, signalLine, histogram float64) {
	if len(candles) < slowPeriod+signalPeriod {
		return 0, 0, 0
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = f64(c.Close)
	}

	fastEMA := ema(closes, fastPeriod)
	slowEMA := ema(closes, slowPeriod)

	macdSeries := make([]float64, len(candles))
	for i := range candles {
		macdSeries[i] = fastEMA[i] - slowEMA[i]
	}
	signalSeries := ema(macdSeries, signalPeriod)

	last := len(candles) - 1
	macdLine = macdSeries[last]
	signalLine = signalSeries[last]
	histogram = macdLine - signalLine
	return macdLine, signalLine, histogram
}

// CalculatePrevMACD computes the MACD line and signal line one candle
// before the most recent, used to detect a fresh crossover rather than an
// already-established one. Returns zeros if there isn't enough history.
func CalculatePrevMACD(candles []domain.Candle, fastPeriod, slowPeriod, signalPeriod int) (macdLine, signalLine float64) {
	if len(candles) < slowPeriod+signalPeriod+1 {
		return 0, 0
	}
	macdLine, signalLine, _ = CalculateMACD(candles[:len(candles)-1], fastPeriod, slowPeriod, signalPeriod)
	return macdLine, signalLine
}

// AverageVolume computes the average volume over the last `period` candles.
// Returns 0 if insufficient data.
func AverageVolume(candles []domain.Candle, period int) float64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}

	start := len(candles) - period
	if start < 0 {
		start = 0
	}

	var totalVol float64
	count := 0
	for i := start; i < len(candles); i++ {
		totalVol += float64(candles[i].Volume)
		count++
	}

	if count == 0 {
		return 0
	}
	return totalVol / float64(count)
}

// CalculateEMA returns the exponential moving average of closing prices for
// the given period, evaluated at the most recent candle. Returns 0 if there
// isn't enough history.
func CalculateEMA(candles []domain.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = f64(c.Close)
	}
	series := ema(closes, period)
	return series[len(series)-1]
}

// CalculateVWAP computes the Volume Weighted Average Price over the last
// `period` candles, using the typical price (H+L+C)/3 for each candle.
// Returns 0 if there isn't enough data or total volume is zero.
func CalculateVWAP(candles []domain.Candle, period int) float64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}

	start := len(candles) - period
	if start < 0 {
		start = 0
	}

	var sumPV, sumV float64
	for i := start; i < len(candles); i++ {
		c := candles[i]
		typical := (f64(c.High) + f64(c.Low) + f64(c.Close)) / 3
		vol := float64(c.Volume)
		sumPV += typical * vol
		sumV += vol
	}

	if sumV == 0 {
		return 0
	}
	return sumPV / sumV
}

// CalculateBollingerBands computes the middle (SMA), upper, and lower bands
// plus bandwidth (upper-lower)/middle over the given period. Returns all
// zeros if there isn't enough history.
func CalculateBollingerBands(candles []domain.Candle, period int, multiplier float64) (middle, upper, lower, bandwidth float64) {
	if len(candles) < period || period <= 0 {
		return 0, 0, 0, 0
	}

	middle = CalculateSMA(candles, period)

	var sumSq float64
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		diff := f64(candles[i].Close) - middle
		sumSq += diff * diff
	}
	stdDev := math.Sqrt(sumSq / float64(period))

	upper = middle + multiplier*stdDev
	lower = middle - multiplier*stdDev
	if middle != 0 {
		bandwidth = (upper - lower) / middle
	}
	return middle, upper, lower, bandwidth
}
