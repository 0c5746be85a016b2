// Package strategy - orb.go implements an opening-range-breakout-style
// compression/expansion strategy.
//
// Unlike breakout.go, which reacts to a fresh N-day high, ORB first
// confirms the stock has been coiling (short-term ATR compressed well
// below its longer-term ATR) before treating a push above the
// consolidation high as a real breakout. Trading a breakout out of a
// tight range gives a tighter, more defensible stop than trading a
// breakout out of an already-volatile stock.
//
// Entry rules:
//   - Market regime must be BULL with sufficient confidence
//   - Breakout quality, trend strength, liquidity, and risk metrics clear
//     the same bars breakout.go uses
//   - Short-term ATR / long-term ATR ratio below ATRCompressionRatio
//     (the stock was compressed, not already trending)
//   - Close breaks above the consolidation-window high
//
// Exit rules:
//   - Market regime changes to BEAR
//   - Price falls back below the entry price (failed breakout)
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
)

// ORBStrategy implements the compression/expansion breakout strategy.
type ORBStrategy struct {
	MinBreakoutQuality    float64 // default 0.7
	MinTrendStrength      float64 // default 0.5
	MinLiquidity          float64 // default 0.5
	MaxRiskScore          float64 // default 0.4
	ShortATRPeriod        int     // default 5
	LongATRPeriod         int     // default 20
	ATRCompressionRatio   float64 // default 0.6 — short/long ATR must be below this
	ConsolidationLookback int     // default 10 — window for the breakout high

	ATRStopMultiplier float64 // default 1.2 (tighter than breakout.go — the range was already tight)
	RiskRewardRatio   float64 // default 2.5

	RiskConfig config.RiskConfig
}

// NewORBStrategy creates an ORB strategy with sensible defaults.
func NewORBStrategy(riskCfg config.RiskConfig) *ORBStrategy {
	return &ORBStrategy{
		MinBreakoutQuality:    0.7,
		MinTrendStrength:      0.5,
		MinLiquidity:          0.5,
		MaxRiskScore:          0.4,
		ShortATRPeriod:        5,
		LongATRPeriod:         20,
		ATRCompressionRatio:   0.6,
		ConsolidationLookback: 10,
		ATRStopMultiplier:     1.2,
		RiskRewardRatio:       2.5,
		RiskConfig:            riskCfg,
	}
}

func (s *ORBStrategy) ID() string   { return "orb_v1" }
func (s *ORBStrategy) Name() string { return "Opening Range Breakout" }

// Evaluate applies the ORB rules to produce a TradeIntent.
func (s *ORBStrategy) Evaluate(input StrategyInput) TradeIntent {
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

func (s *ORBStrategy) evaluateEntry(input StrategyInput, intent TradeIntent) TradeIntent {
	metrics := intent.Metrics

	if input.Regime != domain.RegimeBull {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("market regime is %s, ORB requires BULL", input.Regime)
		return intent
	}

	if input.RegimeConfidence < 0.6 {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("regime confidence %.2f < 0.60", input.RegimeConfidence)
		return intent
	}

	if metrics.BreakoutQuality < s.MinBreakoutQuality {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("breakout quality %.2f < %.2f", metrics.BreakoutQuality, s.MinBreakoutQuality)
		return intent
	}

	if metrics.TrendStrength < s.MinTrendStrength {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("trend strength %.2f < %.2f", metrics.TrendStrength, s.MinTrendStrength)
		return intent
	}

	if metrics.Liquidity < s.MinLiquidity {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("liquidity %.2f < %.2f", metrics.Liquidity, s.MinLiquidity)
		return intent
	}

	if metrics.Risk > s.MaxRiskScore {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("risk score %.2f > %.2f", metrics.Risk, s.MaxRiskScore)
		return intent
	}

	if len(input.Candles) < s.LongATRPeriod+2 {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("insufficient candle history: %d < %d", len(input.Candles), s.LongATRPeriod+2)
		return intent
	}

	lastCandle := input.Candles[len(input.Candles)-1]
	lastClose := f64(lastCandle.Close)
	priorCandles := input.Candles[:len(input.Candles)-1]

	shortATR := CalculateATR(priorCandles, s.ShortATRPeriod)
	longATR := CalculateATR(priorCandles, s.LongATRPeriod)
	if longATR <= 0 {
		intent.Action = ActionSkip
		intent.Reason = "long-period ATR is zero, cannot assess compression"
		return intent
	}
	ratio := shortATR / longATR
	if ratio >= s.ATRCompressionRatio {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("no range compression: short/long ATR ratio %.2f >= %.2f", ratio, s.ATRCompressionRatio)
		return intent
	}

	resistance := HighestHigh(priorCandles, s.ConsolidationLookback)
	if lastClose <= resistance {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("price %.2f <= %d-candle high %.2f (no breakout)", lastClose, s.ConsolidationLookback, resistance)
		return intent
	}

	support := LowestLow(priorCandles, s.ConsolidationLookback)
	stopLoss := support - (longATR * s.ATRStopMultiplier * 0.25)
	riskPerShare := lastClose - stopLoss
	if riskPerShare <= 0 {
		intent.Action = ActionSkip
		intent.Reason = "computed risk-per-share is non-positive"
		return intent
	}
	target := lastClose + (riskPerShare * s.RiskRewardRatio)

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
	intent.Price = lastCandle.Close
	intent.StopLoss = decimal.NewFromFloat(stopLoss)
	intent.Target = decimal.NewFromFloat(target)
	intent.Quantity = quantity
	intent.Score = clamp01((metrics.TrendStrength+metrics.BreakoutQuality+metrics.Liquidity)/3) * 100
	intent.Reason = fmt.Sprintf(
		"ORB: price=%.2f > range_high=%.2f compression=%.2f | SL=%.2f TGT=%.2f",
		lastClose, resistance, ratio, stopLoss, target,
	)
	return intent
}

func (s *ORBStrategy) evaluateExit(input StrategyInput, intent TradeIntent) TradeIntent {
	metrics := intent.Metrics

	if input.Regime == domain.RegimeBear {
		intent.Action = ActionExit
		intent.Quantity = input.CurrentPosition.Quantity
		intent.Reason = "market regime turned BEAR"
		if len(input.Candles) > 0 {
			intent.Price = input.Candles[len(input.Candles)-1].Close
		}
		return intent
	}

	entryPrice := f64(input.CurrentPosition.AverageCost)
	if len(input.Candles) > 0 && entryPrice > 0 {
		lastCandle := input.Candles[len(input.Candles)-1]
		lastPrice := f64(lastCandle.Close)
		if lastPrice < entryPrice {
			intent.Action = ActionExit
			intent.Price = lastCandle.Close
			intent.Quantity = input.CurrentPosition.Quantity
			intent.Reason = fmt.Sprintf("price %.2f fell below entry %.2f — failed breakout", lastPrice, entryPrice)
			return intent
		}
	}

	intent.Action = ActionHold
	intent.Reason = fmt.Sprintf("holding: range breakout intact, trend=%.2f", metrics.TrendStrength)
	return intent
}
