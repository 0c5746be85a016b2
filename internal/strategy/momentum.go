// Package strategy - momentum.go implements a momentum swing strategy.
//
// This strategy buys stocks with the strongest upward price momentum, measured
// purely by rate of change and trend strength derived from the symbol's own
// candle history — there is no cross-symbol ranking here, each symbol is
// judged against fixed thresholds in isolation.
//
// Momentum works on the principle that stocks that have been going up tend to
// continue going up (persistence).
//
// Entry rules:
//   - Market regime must be BULL
//   - Trend strength >= threshold (0.7 — very strong trend)
//   - Breakout quality >= threshold (0.6)
//   - ROC(10) > threshold (5% — strong upward momentum)
//   - Risk score <= threshold (0.3 — very strict)
//   - Sufficient candle history (30+)
//
// Exit rules:
//   - ROC turns negative (momentum reversal)
//   - ROC drops below the exit floor (momentum weakening, not yet reversed)
//   - Trend strength drops below 0.5
//   - Market regime changes to BEAR
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
)

// MomentumStrategy implements a momentum-based swing strategy.
type MomentumStrategy struct {
	// Entry thresholds.
	MinTrendStrength   float64 // default 0.7
	MinBreakoutQuality float64 // default 0.6
	MinROC             float64 // default 0.05 (5%)
	MaxRiskScore       float64 // default 0.3 (very strict)
	MinLiquidity       float64 // default 0.6
	ROCPeriod          int     // default 10

	// Exit thresholds.
	ExitMinROC        float64 // default -0.02 (exit once ROC falls below -2%)
	ExitTrendStrength float64 // default 0.5

	// ATR multiplier for stop-loss (wider for volatile momentum stocks).
	ATRStopMultiplier float64 // default 2.5

	// Risk-reward ratio.
	RiskRewardRatio float64 // default 2.5

	// Risk config for position sizing.
	RiskConfig config.RiskConfig
}

// NewMomentumStrategy creates a momentum strategy with sensible defaults.
func NewMomentumStrategy(riskCfg config.RiskConfig) *MomentumStrategy {
	return &MomentumStrategy{
		MinTrendStrength:   0.7,
		MinBreakoutQuality: 0.6,
		MinROC:             0.05,
		MaxRiskScore:       0.3,
		MinLiquidity:       0.6,
		ROCPeriod:          10,
		ExitMinROC:         -0.02,
		ExitTrendStrength:  0.5,
		ATRStopMultiplier:  2.5,
		RiskRewardRatio:    2.5,
		RiskConfig:         riskCfg,
	}
}

func (s *MomentumStrategy) ID() string   { return "momentum_v1" }
func (s *MomentumStrategy) Name() string { return "Momentum Swing" }

// Evaluate applies the momentum rules to produce a TradeIntent.
func (s *MomentumStrategy) Evaluate(input StrategyInput) TradeIntent {
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

func (s *MomentumStrategy) evaluateEntry(input StrategyInput, intent TradeIntent) TradeIntent {
	metrics := intent.Metrics

	// Rule 1: Only trade in BULL regime.
	if input.Regime != domain.RegimeBull {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("market regime is %s, momentum requires BULL", input.Regime)
		return intent
	}

	// Rule 2: Regime confidence must be high.
	if input.RegimeConfidence < 0.7 {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("regime confidence %.2f < 0.70", input.RegimeConfidence)
		return intent
	}

	// Rule 3: Trend strength must be very strong.
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

	// Rule 6: Risk score check (very strict for momentum).
	if metrics.Risk > s.MaxRiskScore {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("risk score %.2f > %.2f", metrics.Risk, s.MaxRiskScore)
		return intent
	}

	// Rule 7: Must have sufficient candle history.
	if len(input.Candles) < 30 {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("insufficient candle history: %d < 30", len(input.Candles))
		return intent
	}

	// Rule 8: ROC must be positive and above threshold.
	roc := CalculateROC(input.Candles, s.ROCPeriod)
	if roc < s.MinROC {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("ROC(10) %.2f%% < %.2f%% (insufficient momentum)", roc*100, s.MinROC*100)
		return intent
	}

	// All entry conditions met.
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
	intent.Score = clamp01((metrics.TrendStrength+metrics.BreakoutQuality+clamp01(roc/s.MinROC))/3) * 100
	intent.Reason = fmt.Sprintf(
		"momentum: ROC=%.1f%% trend=%.2f breakout=%.2f | ATR=%.2f SL=%.2f TGT=%.2f",
		roc*100, metrics.TrendStrength, metrics.BreakoutQuality, atr, stopLoss, target,
	)
	return intent
}

func (s *MomentumStrategy) evaluateExit(input StrategyInput, intent TradeIntent) TradeIntent {
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

	// Exit Rule 2: Momentum reversal or weakening (ROC fell below the exit floor).
	if len(input.Candles) >= s.ROCPeriod+1 {
		roc := CalculateROC(input.Candles, s.ROCPeriod)
		if roc < s.ExitMinROC {
			intent.Action = ActionExit
			intent.Quantity = input.CurrentPosition.Quantity
			intent.Reason = fmt.Sprintf("ROC(10) = %.1f%% < %.1f%% — momentum reversal", roc*100, s.ExitMinROC*100)
			if len(input.Candles) > 0 {
				intent.Price = input.Candles[len(input.Candles)-1].Close
			}
			return intent
		}
	}

	// Exit Rule 3: Trend strength fading.
	if metrics.TrendStrength < s.ExitTrendStrength {
		intent.Action = ActionExit
		intent.Quantity = input.CurrentPosition.Quantity
		intent.Reason = fmt.Sprintf("trend strength dropped to %.2f < %.2f — momentum fading",
			metrics.TrendStrength, s.ExitTrendStrength)
		if len(input.Candles) > 0 {
			intent.Price = input.Candles[len(input.Candles)-1].Close
		}
		return intent
	}

	// Otherwise, hold.
	intent.Action = ActionHold
	intent.Reason = fmt.Sprintf("holding: trend=%.2f — momentum intact", metrics.TrendStrength)
	return intent
}
