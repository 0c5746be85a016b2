// Package risk implements hard risk guardrails for the trading system.
//
// Design rules:
//   - Risk rules are implemented in Go.
//   - They CANNOT be overridden by strategy or AI.
//   - Every trade MUST have a stop loss.
//   - Capital preservation > returns.
//   - System must prefer not trading over bad trades.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
)

// RejectionReason explains why a signal was rejected by pre-trade risk checks.
type RejectionReason struct {
	Rule    string
	Message string
}

func (r RejectionReason) Error() string {
	return fmt.Sprintf("risk rejected [%s]: %s", r.Rule, r.Message)
}

// ValidationResult holds the outcome of pre-trade validation.
type ValidationResult struct {
	Approved   bool
	Signal     domain.Signal
	Rejections []RejectionReason
}

// Manager enforces every pre-trade guardrail. It is the final gatekeeper
// before a signal reaches the router — every rule here rejects outright
// rather than resizing the order, so approval is strictly binary.
type Manager struct {
	drawdown *DrawdownTracker
	logger   zerolog.Logger

	mu              sync.Mutex
	cfg             config.RiskConfig
	dailyOrderDate  time.Time
	dailyOrderCount int
}

// NewManager builds a pre-trade manager. drawdown may be nil, in which
// case the drawdown-cap and daily-loss-cap checks are skipped — useful
// for unit tests that only exercise the stateless per-signal checks.
func NewManager(cfg config.RiskConfig, drawdown *DrawdownTracker, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		drawdown: drawdown,
		logger:   logger.With().Str("component", "risk.pretrade").Logger(),
	}
}

// UpdateConfig replaces the risk configuration atomically, used by config
// hot-reload to update limits without restarting.
func (m *Manager) UpdateConfig(cfg config.RiskConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// RecordOrderSubmitted increments today's order count. The router calls
// it once per signal it sends to execution (slices and adaptive retries
// are not counted separately), regardless of whether the broker accepts it.
func (m *Manager) RecordOrderSubmitted(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDailyCountLocked(at)
	m.dailyOrderCount++
}

func (m *Manager) rollDailyCountLocked(at time.Time) {
	day := dayKey(at)
	if !day.Equal(m.dailyOrderDate) {
		m.dailyOrderDate = day
		m.dailyOrderCount = 0
	}
}

// Validate checks signal against every pre-trade rule. positions is the
// account's current open book; equity is total account equity (cash plus
// positions marked to market), the denominator for every percentage-based
// limit. now drives the daily order count rollover and the daily-loss
// lockout window.
func (m *Manager) Validate(ctx context.Context, signal domain.Signal, positions []domain.Position, equity decimal.Decimal, now time.Time) ValidationResult {
	result := ValidationResult{Approved: true, Signal: signal}

	if !m.isOpeningIntent(signal, positions) {
		// An exit (SELL against an existing long) always goes through —
		// the system must be able to get out of a position even while
		// locked out of opening new ones.
		return result
	}

	m.mu.Lock()
	m.rollDailyCountLocked(now)
	orderCount := m.dailyOrderCount
	cfg := m.cfg
	m.mu.Unlock()

	m.checkStopLoss(&result, signal)
	m.checkSignalImpliedRisk(&result, signal, equity, cfg)
	m.checkPositionSizeLimits(&result, signal, cfg)
	m.checkPortfolioAllocation(&result, signal, positions, equity, cfg)
	m.checkDailyOrderCount(&result, orderCount, cfg)
	m.checkExposureCaps(&result, signal, positions, equity, cfg)

	if m.drawdown != nil {
		m.checkDrawdownCap(&result, equity, cfg)
		m.checkDailyLossCap(ctx, &result, now, equity, cfg)
	}

	return result
}

// isOpeningIntent reports whether signal increases net exposure rather
// than reducing it. A BUY always opens or adds to a position. A SELL
// against an existing holding is a close and is never blocked; a SELL
// with no matching holding is a new short and is treated like any other
// opening intent.
func (m *Manager) isOpeningIntent(s domain.Signal, positions []domain.Position) bool {
	for _, p := range positions {
		if p.Symbol == s.Symbol {
			return s.Side == domain.SideBuy
		}
	}
	return true
}

func (m *Manager) checkStopLoss(result *ValidationResult, s domain.Signal) {
	if s.StopLoss.LessThanOrEqual(decimal.Zero) {
		m.reject(result, "MANDATORY_STOP_LOSS", "every trade must have a stop loss")
		return
	}
	switch s.Side {
	case domain.SideBuy:
		if s.StopLoss.GreaterThanOrEqual(s.ReferencePrice) {
			m.reject(result, "INVALID_STOP_LOSS", fmt.Sprintf(
				"stop loss %s must be below reference price %s", s.StopLoss, s.ReferencePrice,
			))
		}
	case domain.SideSell:
		if s.StopLoss.LessThanOrEqual(s.ReferencePrice) {
			m.reject(result, "INVALID_STOP_LOSS", fmt.Sprintf(
				"stop loss %s must be above reference price %s for a short", s.StopLoss, s.ReferencePrice,
			))
		}
	}
}

// checkSignalImpliedRisk enforces (price - stop_loss) * qty <= cap% * equity.
func (m *Manager) checkSignalImpliedRisk(result *ValidationResult, s domain.Signal, equity decimal.Decimal, cfg config.RiskConfig) {
	capPct := cfg.SignalRiskCapPct
	if capPct <= 0 {
		capPct = 2
	}

	var riskPerShare decimal.Decimal
	switch s.Side {
	case domain.SideBuy:
		riskPerShare = s.ReferencePrice.Sub(s.StopLoss)
	case domain.SideSell:
		riskPerShare = s.StopLoss.Sub(s.ReferencePrice)
	}
	if riskPerShare.LessThanOrEqual(decimal.Zero) {
		return // already flagged by checkStopLoss
	}

	totalRisk := riskPerShare.Mul(decimal.NewFromInt(s.QuantityShares))
	maxRisk := equity.Mul(decimal.NewFromFloat(capPct / 100.0))
	if totalRisk.GreaterThan(maxRisk) {
		m.reject(result, "SIGNAL_IMPLIED_RISK", fmt.Sprintf(
			"implied risk %s exceeds %.1f%% of equity (%s)", totalRisk, capPct, maxRisk,
		))
	}
}

func (m *Manager) checkPositionSizeLimits(result *ValidationResult, s domain.Signal, cfg config.RiskConfig) {
	if cfg.MaxPositionSizeShares > 0 && s.QuantityShares > cfg.MaxPositionSizeShares {
		m.reject(result, "MAX_POSITION_SHARES", fmt.Sprintf(
			"%d shares exceeds per-symbol limit of %d", s.QuantityShares, cfg.MaxPositionSizeShares,
		))
	}
	if cfg.MaxPositionNotional > 0 {
		notional := s.ReferencePrice.Mul(decimal.NewFromInt(s.QuantityShares))
		limit := decimal.NewFromFloat(cfg.MaxPositionNotional)
		if notional.GreaterThan(limit) {
			m.reject(result, "MAX_POSITION_NOTIONAL", fmt.Sprintf(
				"notional %s exceeds per-symbol limit %s", notional, limit,
			))
		}
	}
}

// checkPortfolioAllocation caps the post-trade book value of a single
// symbol (existing holding plus this trade) at a percentage of equity.
func (m *Manager) checkPortfolioAllocation(result *ValidationResult, s domain.Signal, positions []domain.Position, equity decimal.Decimal, cfg config.RiskConfig) {
	if equity.LessThanOrEqual(decimal.Zero) {
		return
	}
	capPct := cfg.PortfolioAllocationCapPct
	if capPct <= 0 {
		capPct = 20
	}

	existing := decimal.Zero
	for _, p := range positions {
		if p.Symbol == s.Symbol {
			existing = existing.Add(p.AverageCost.Mul(decimal.NewFromInt(p.Quantity)).Abs())
		}
	}
	proposed := existing.Add(s.ReferencePrice.Mul(decimal.NewFromInt(s.QuantityShares)))
	limit := equity.Mul(decimal.NewFromFloat(capPct / 100.0))
	if proposed.GreaterThan(limit) {
		m.reject(result, "PORTFOLIO_ALLOCATION_CAP", fmt.Sprintf(
			"%s allocation %s would exceed %.1f%% of equity (%s)", s.Symbol, proposed, capPct, limit,
		))
	}
}

func (m *Manager) checkDailyOrderCount(result *ValidationResult, count int, cfg config.RiskConfig) {
	if cfg.MaxDailyOrderCount > 0 && count >= cfg.MaxDailyOrderCount {
		m.reject(result, "MAX_DAILY_ORDER_COUNT", fmt.Sprintf(
			"at daily order limit: %d/%d", count, cfg.MaxDailyOrderCount,
		))
	}
}

// checkExposureCaps enforces long and short exposure ceilings relative to
// equity. A position's Quantity is negative for a short holding.
func (m *Manager) checkExposureCaps(result *ValidationResult, s domain.Signal, positions []domain.Position, equity decimal.Decimal, cfg config.RiskConfig) {
	if equity.LessThanOrEqual(decimal.Zero) {
		return
	}

	var longValue, shortValue decimal.Decimal
	for _, p := range positions {
		value := p.AverageCost.Mul(decimal.NewFromInt(p.Quantity))
		if p.Quantity >= 0 {
			longValue = longValue.Add(value)
		} else {
			shortValue = shortValue.Add(value.Abs())
		}
	}
	tradeValue := s.ReferencePrice.Mul(decimal.NewFromInt(s.QuantityShares))

	switch s.Side {
	case domain.SideBuy:
		longValue = longValue.Add(tradeValue)
		capPct := cfg.MaxLongExposurePct
		if capPct <= 0 {
			capPct = 100
		}
		limit := equity.Mul(decimal.NewFromFloat(capPct / 100.0))
		if longValue.GreaterThan(limit) {
			m.reject(result, "MAX_LONG_EXPOSURE", fmt.Sprintf(
				"long exposure %s would exceed %.1f%% of equity (%s)", longValue, capPct, limit,
			))
		}
	case domain.SideSell:
		shortValue = shortValue.Add(tradeValue)
		capPct := cfg.MaxShortExposurePct
		if capPct <= 0 {
			capPct = 30
		}
		limit := equity.Mul(decimal.NewFromFloat(capPct / 100.0))
		if shortValue.GreaterThan(limit) {
			m.reject(result, "MAX_SHORT_EXPOSURE", fmt.Sprintf(
				"short exposure %s would exceed %.1f%% of equity (%s)", shortValue, capPct, limit,
			))
		}
	}
}

// checkDrawdownCap locks out opening intents once equity has fallen the
// configured percentage below its running peak.
func (m *Manager) checkDrawdownCap(result *ValidationResult, equity decimal.Decimal, cfg config.RiskConfig) {
	capPct := cfg.DrawdownCapPct
	if capPct == 0 {
		capPct = -15
	}
	dd := m.drawdown.RecordEquity(equity)
	if dd <= capPct {
		m.reject(result, "DRAWDOWN_CAP", fmt.Sprintf(
			"drawdown %.2f%% has breached cap %.2f%% from peak %s — opening intents locked out until recovery",
			dd, capPct, m.drawdown.PeakEquity(),
		))
	}
}

// checkDailyLossCap locks out opening intents for the rest of the trading
// day once today's realized P&L breaches the configured loss percentage.
func (m *Manager) checkDailyLossCap(ctx context.Context, result *ValidationResult, now time.Time, equity decimal.Decimal, cfg config.RiskConfig) {
	capPct := cfg.MaxDailyLossPct
	if capPct <= 0 {
		capPct = 5
	}
	pct, err := m.drawdown.DailyLossPct(ctx, now, equity)
	if err != nil {
		m.logger.Error().Err(err).Msg("daily loss lookup failed, failing open on this check")
		return
	}
	if pct <= -capPct {
		m.reject(result, "MAX_DAILY_LOSS", fmt.Sprintf(
			"daily realized loss %.2f%% has reached cap %.2f%% — opening intents locked out until next trading day",
			pct, capPct,
		))
	}
}

func (m *Manager) reject(result *ValidationResult, rule, message string) {
	result.Approved = false
	result.Rejections = append(result.Rejections, RejectionReason{
		Rule:    rule,
		Message: message,
	})
	m.logger.Warn().Str("rule", rule).Str("symbol", result.Signal.Symbol).Msg(message)
}
