// Package strategy - trend_follow.go implements a swing trading trend-following strategy.
//
// This is the first concrete strategy for the system.
// It buys strong-trending stocks in bull markets and exits on weakness.
//
// Entry rules:
//   - Market regime must be BULL
//   - Trend strength >= threshold
//   - Breakout quality >= threshold
//   - Liquidity >= threshold
//   - Risk score <= threshold (lower is safer)
//
// Exit rules:
//   - Stop loss hit (handled by order management, not here)
//   - Target hit (handled by order management, not here)
//   - Trend strength drops below exit threshold
//   - Market regime changes to BEAR
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
)

// TrendFollowStrategy implements a simple trend-following swing strategy.
type TrendFollowStrategy struct {
	// Entry thresholds — all must be met.
	MinTrendStrength   float64
	MinBreakoutQuality float64
	MinLiquidity       float64
	MaxRiskScore       float64

	// Exit thresholds.
	ExitTrendStrength float64

	// ATR multiplier for stop-loss calculation.
	ATRStopMultiplier float64

	// Risk-reward ratio for target calculation.
	RiskRewardRatio float64

	// Risk config for position sizing.
	RiskConfig config.RiskConfig
}

// NewTrendFollowStrategy creates a trend-following strategy with sensible defaults.
func NewTrendFollowStrategy(riskCfg config.RiskConfig) *TrendFollowStrategy {
	return &TrendFollowStrategy{
		MinTrendStrength:   0.6,
		MinBreakoutQuality: 0.5,
		MinLiquidity:       0.4,
		MaxRiskScore:       0.5,
		ExitTrendStrength:  0.3,
		ATRStopMultiplier:  2.0,
		RiskRewardRatio:    2.0,
		RiskConfig:         riskCfg,
	}
}

func (s *TrendFollowStrategy) ID() string   { return "trend_follow_v1" }
func (s *TrendFollowStrategy) Name() string { return "Trend Following Swing" }

// Evaluate applies the trend-following rules to produce a TradeIntent.
func (s *TrendFollowStrategy) Evaluate(input StrategyInput) TradeIntent {
	intent := TradeIntent{
		StrategyID: s.ID(),
		Symbol:     input.Symbol,
		Metrics:    ComputeMetrics(input.Candles),
	}

	// If we have a position, evaluate exit conditions.
	if input.CurrentPosition != nil {
		return s.evaluateExit(input, intent)
	}

	// Otherwise, evaluate entry conditions.
	return s.evaluateEntry(input, intent)
}

func (s *TrendFollowStrategy) evaluateEntry(input StrategyInput, intent TradeIntent) TradeIntent {
	metrics := intent.Metrics

	// Rule 1: Only trade in BULL regime.
	if input.Regime != domain.RegimeBull {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("market regime is %s, require BULL", input.Regime)
		return intent
	}

	// Rule 2: Regime confidence must be sufficient.
	if input.RegimeConfidence < 0.6 {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("regime confidence %.2f < 0.60", input.RegimeConfidence)
		return intent
	}

	// Rule 3: Trend strength check.
	if metrics.TrendStrength < s.MinTrendStrength {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("trend strength %.2f < %.2f", metrics.TrendStrength, s.MinTrendStrength)
		return intent
	}

	// Rule 4: Breakout quality check.
	if metrics.BreakoutQuality < s.MinBreakoutQuality {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("breakout quality %.2f < %.2f", metrics.BreakoutQuality, s.MinBreakoutQuality)
		return intent
	}

	// Rule 5: Liquidity check.
	if metrics.Liquidity < s.MinLiquidity {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("liquidity %.2f < %.2f", metrics.Liquidity, s.MinLiquidity)
		return intent
	}

	// Rule 6: Risk score check (lower is safer).
	if metrics.Risk > s.MaxRiskScore {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("risk score %.2f > %.2f", metrics.Risk, s.MaxRiskScore)
		return intent
	}

	// Rule 7: Must have sufficient candle history.
	if len(input.Candles) < 20 {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("insufficient candle history: %d < 20", len(input.Candles))
		return intent
	}

	// All entry conditions met — calculate stop loss, target, and quantity.
	lastCandle := input.Candles[len(input.Candles)-1]
	lastClose := f64(lastCandle.Close)
	atr := CalculateATR(input.Candles, 14)

	stopLoss := lastClose - (atr * s.ATRStopMultiplier)
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

	// Ensure we don't exceed available capital.
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
		"trend=%.2f breakout=%.2f liq=%.2f risk=%.2f | ATR=%.2f SL=%.2f TGT=%.2f",
		metrics.TrendStrength,
		metrics.BreakoutQuality,
		metrics.Liquidity,
		metrics.Risk,
		atr, stopLoss, target,
	)
	return intent
}

func (s *TrendFollowStrategy) evaluateExit(input StrategyInput, intent TradeIntent) TradeIntent {
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

	// Exit Rule 2: Trend strength collapsed.
	if metrics.TrendStrength < s.ExitTrendStrength {
		intent.Action = ActionExit
		intent.Quantity = input.CurrentPosition.Quantity
		intent.Reason = fmt.Sprintf("trend strength dropped to %.2f < %.2f", metrics.TrendStrength, s.ExitTrendStrength)
		if len(input.Candles) > 0 {
			intent.Price = input.Candles[len(input.Candles)-1].Close
		}
		return intent
	}

	// Otherwise, hold.
	intent.Action = ActionHold
	intent.Reason = fmt.Sprintf("holding: trend=%.2f regime=%s", metrics.TrendStrength, input.Regime)
	return intent
}
