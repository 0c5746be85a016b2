// Package strategy - bollinger.go implements a Bollinger Band Squeeze strategy.
//
// The Bollinger Band Squeeze identifies periods of low volatility (tight bands)
// that precede explosive moves. When the bands contract to an extreme and price
// then breaks above the upper band, it signals a high-probability breakout.
//
// This is a volatility-contraction/expansion strategy — the squeeze "loads the spring"
// and the breakout "releases" it.
//
// Entry rules:
//   - Market regime is BULL or RANGE
//   - Bollinger Bandwidth is below the squeeze threshold (tight bands)
//   - Price breaks above the upper band (expansion begins)
//   - Volume confirms the breakout
//   - Trend strength >= threshold
//   - Risk score <= threshold
//   - Sufficient candle history (30+)
//
// Exit rules:
//   - Price falls below the middle band (SMA — momentum lost)
//   - Trend strength collapses
//   - Market regime changes to BEAR
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
)

// BollingerSqueezeStrategy implements a Bollinger Band squeeze breakout strategy.
type BollingerSqueezeStrategy struct {
	// Bollinger Band parameters.
	BBPeriod     int     // default 20
	BBMultiplier float64 // default 2.0

	// Entry thresholds.
	SqueezeBandwidth float64 // max bandwidth for squeeze (default 0.10 = 10%)
	VolumeMultiplier float64 // default 1.2
	MinTrendStrength float64 // default 0.3
	MaxRiskScore     float64 // default 0.5
	MinLiquidity     float64 // default 0.4

	// Exit thresholds.
	ExitTrendStrength float64 // default 0.2

	// ATR multiplier for stop-loss.
	ATRStopMultiplier float64 // default 1.5

	// Risk-reward ratio.
	RiskRewardRatio float64 // default 2.5

	// Risk config for position sizing.
	RiskConfig config.RiskConfig
}

// NewBollingerSqueezeStrategy creates a Bollinger squeeze strategy with sensible defaults.
func NewBollingerSqueezeStrategy(riskCfg config.RiskConfig) *BollingerSqueezeStrategy {
	return &BollingerSqueezeStrategy{
		BBPeriod:          20,
		BBMultiplier:      2.0,
		SqueezeBandwidth:  0.10,
		VolumeMultiplier:  1.2,
		MinTrendStrength:  0.3,
		MaxRiskScore:      0.5,
		MinLiquidity:      0.4,
		ExitTrendStrength: 0.2,
		ATRStopMultiplier: 1.5,
		RiskRewardRatio:   2.5,
		RiskConfig:        riskCfg,
	}
}

func (s *BollingerSqueezeStrategy) ID() string   { return "bollinger_squeeze_v1" }
func (s *BollingerSqueezeStrategy) Name() string { return "Bollinger Band Squeeze" }

// Evaluate applies the Bollinger squeeze rules to produce a TradeIntent.
func (s *BollingerSqueezeStrategy) Evaluate(input StrategyInput) TradeIntent {
	intent := TradeIntent{
		StrategyID: s.ID(),
		Symbol:     input.Symbol,
		Metrics:    ComputeMetrics(input.Candles),
	}

	if input.CurrentPosition != nil {
		return s.evaluateExit(input, intent)
	}

	return s.evaluateEntry(input, intent)
}

func (s *BollingerSqueezeStrategy) evaluateEntry(input StrategyInput, intent TradeIntent) TradeIntent {
	metrics := intent.Metrics

	// Rule 1: Only trade in BULL or RANGE regime.
	if input.Regime == domain.RegimeBear {
		intent.Action = ActionSkip
		intent.Reason = "market regime is BEAR, Bollinger squeeze requires BULL or RANGE"
		return intent
	}

	// Rule 2: Regime confidence.
	if input.RegimeConfidence < 0.5 {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("regime confidence %.2f < 0.50", input.RegimeConfidence)
		return intent
	}

	// Rule 3: Trend strength check.
	if metrics.TrendStrength < s.MinTrendStrength {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("trend strength %.2f < %.2f", metrics.TrendStrength, s.MinTrendStrength)
		return intent
	}

	// Rule 4: Liquidity check.
	if metrics.Liquidity < s.MinLiquidity {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("liquidity %.2f < %.2f", metrics.Liquidity, s.MinLiquidity)
		return intent
	}

	// Rule 5: Risk score check.
	if metrics.Risk > s.MaxRiskScore {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("risk score %.2f > %.2f", metrics.Risk, s.MaxRiskScore)
		return intent
	}

	// Rule 6: Sufficient candle history.
	if len(input.Candles) < 30 {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("insufficient candle history: %d < 30", len(input.Candles))
		return intent
	}

	// Rule 7: Check Bollinger Band squeeze — bandwidth must be tight.
	// Use prior candles (excluding last) to detect squeeze BEFORE breakout.
	priorCandles := input.Candles[:len(input.Candles)-1]
	_, _, _, priorBandwidth := CalculateBollingerBands(priorCandles, s.BBPeriod, s.BBMultiplier)
	if priorBandwidth == 0 {
		intent.Action = ActionSkip
		intent.Reason = "prior Bollinger bandwidth is zero"
		return intent
	}
	if priorBandwidth > s.SqueezeBandwidth {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("prior bandwidth %.4f > %.4f (no squeeze)",
			priorBandwidth, s.SqueezeBandwidth)
		return intent
	}

	// Rule 8: Price must break above the current upper Bollinger Band.
	lastCandle := input.Candles[len(input.Candles)-1]
	lastClose := f64(lastCandle.Close)
	_, upper, _, _ := CalculateBollingerBands(input.Candles, s.BBPeriod, s.BBMultiplier)
	if upper == 0 {
		intent.Action = ActionSkip
		intent.Reason = "upper Bollinger band is zero"
		return intent
	}
	if lastClose <= upper {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("price %.2f <= upper BB %.2f (no breakout above band)",
			lastClose, upper)
		return intent
	}

	// Rule 9: Volume confirmation.
	avgVol := AverageVolume(priorCandles, s.BBPeriod)
	if avgVol > 0 && float64(lastCandle.Volume) < avgVol*s.VolumeMultiplier {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("volume %d < %.0f×%.0f (no volume confirmation)",
			lastCandle.Volume, s.VolumeMultiplier, avgVol)
		return intent
	}

	// All entry conditions met.
	atr := CalculateATR(input.Candles, 14)
	entryPrice := lastCandle.Close
	middle, _, lower, _ := CalculateBollingerBands(input.Candles, s.BBPeriod, s.BBMultiplier)
	// Stop loss at the lower Bollinger band.
	stopLoss := lower
	if stopLoss >= lastClose {
		stopLoss = lastClose - (atr * s.ATRStopMultiplier)
	}
	riskPerShare := lastClose - stopLoss
	if riskPerShare <= 0 {
		intent.Action = ActionSkip
		intent.Reason = "computed risk-per-share is non-positive"
		return intent
	}
	target := lastClose + (riskPerShare * s.RiskRewardRatio)

	// Position sizing: risk-based.
	availableCapital := f64(input.AvailableCapital)
	maxRiskAmount := availableCapital * (s.RiskConfig.MaxRiskPerTradePct / 100.0)
	quantity := int64(maxRiskAmount / riskPerShare)
	if quantity <= 0 {
		intent.Action = ActionSkip
		intent.Reason = "calculated quantity is zero (risk per share too large)"
		return intent
	}

	totalCost := lastClose * float64(quantity)
	if totalCost > availableCapital {
		quantity = int64(availableCapital / lastClose)
	}
	if quantity <= 0 {
		intent.Action = ActionSkip
		intent.Reason = "insufficient capital for minimum position"
		return intent
	}

	intent.Action = ActionBuy
	intent.Price = entryPrice
	intent.StopLoss = decimal.NewFromFloat(stopLoss)
	intent.Target = decimal.NewFromFloat(target)
	intent.Quantity = quantity
	intent.Score = clamp01((metrics.TrendStrength+metrics.Liquidity+metrics.BreakoutQuality)/3) * 100
	intent.Reason = fmt.Sprintf(
		"bb_squeeze: BW=%.4f upper=%.2f mid=%.2f price=%.2f vol=%d | SL=%.2f TGT=%.2f",
		priorBandwidth, upper, middle, lastClose, lastCandle.Volume, stopLoss, target,
	)
	return intent
}

func (s *BollingerSqueezeStrategy) evaluateExit(input StrategyInput, intent TradeIntent) TradeIntent {
	metrics := intent.Metrics

	// Exit Rule 1: Market turned BEAR.
	if input.Regime == domain.RegimeBear {
		intent.Action = ActionExit
		intent.Quantity = input.CurrentPosition.Quantity
		intent.Reason = "market regime turned BEAR"
		if len(input.Candles) > 0 {
			intent.Price = input.Candles[len(input.Candles)-1].Close
		}
		return intent
	}

	// Exit Rule 2: Price fell below the middle Bollinger Band (momentum lost).
	if len(input.Candles) >= s.BBPeriod {
		middle, _, _, _ := CalculateBollingerBands(input.Candles, s.BBPeriod, s.BBMultiplier)
		lastCandle := input.Candles[len(input.Candles)-1]
		lastPrice := f64(lastCandle.Close)
		if middle > 0 && lastPrice < middle {
			intent.Action = ActionExit
			intent.Price = lastCandle.Close
			intent.Quantity = input.CurrentPosition.Quantity
			intent.Reason = fmt.Sprintf("price %.2f fell below middle BB %.2f — momentum lost",
				lastPrice, middle)
			return intent
		}
	}

	// Exit Rule 3: Trend strength collapsed.
	if metrics.TrendStrength < s.ExitTrendStrength {
		intent.Action = ActionExit
		intent.Quantity = input.CurrentPosition.Quantity
		intent.Reason = fmt.Sprintf("trend strength dropped to %.2f < %.2f",
			metrics.TrendStrength, s.ExitTrendStrength)
		if len(input.Candles) > 0 {
			intent.Price = input.Candles[len(input.Candles)-1].Close
		}
		return intent
	}

	// Otherwise, hold.
	intent.Action = ActionHold
	intent.Reason = "holding: Bollinger squeeze breakout intact"
	return intent
}
