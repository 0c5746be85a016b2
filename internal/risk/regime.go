package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/quotes"
	"github.com/kestrelquant/tradingcore/internal/strategy"
)

// regimeLookbackDays is the number of daily candles the classifier
// pulls for its index proxy, enough for a 50-day moving average plus
// one extra bar to determine slope direction.
const regimeLookbackDays = 60

// indexProxyFor returns the symbol whose daily candles approximate the
// broad market for a regime classification: Hang Seng for HK, QQQ for
// US, CSI 300 for CN.
func indexProxyFor(market domain.Market) (string, bool) {
	switch market {
	case domain.MarketHK:
		return "HSI.HK", true
	case domain.MarketUS:
		return "QQQ.US", true
	case domain.MarketCN:
		return "000300.SH", true
	default:
		return "", false
	}
}

// historySource is the one Gateway method the classifier needs; naming
// it narrowly lets tests substitute a fixture without implementing the
// full quotes.Gateway interface.
type historySource interface {
	GetHistoryCandles(ctx context.Context, symbol string, period domain.Period, start, end time.Time) ([]domain.Candle, error)
}

// RegimeClassifier derives the per-market RegimeState the rebalancer and
// position sizing consume, from an index proxy's MA-20/MA-50 slope and
// ATR-normalised intraday range.
type RegimeClassifier struct {
	gateway historySource
	cfg     config.RegimeConfig
	logger  zerolog.Logger
}

// NewRegimeClassifier builds a classifier against a live quote gateway.
func NewRegimeClassifier(gateway quotes.Gateway, cfg config.RegimeConfig, logger zerolog.Logger) *RegimeClassifier {
	return &RegimeClassifier{
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.With().Str("component", "risk.regime").Logger(),
	}
}

// UpdateConfig replaces the reserve-percentage configuration, used by
// config hot-reload.
func (c *RegimeClassifier) UpdateConfig(cfg config.RegimeConfig) {
	c.cfg = cfg
}

// Classify computes the current regime for market from its index
// proxy's last regimeLookbackDays daily candles.
func (c *RegimeClassifier) Classify(ctx context.Context, market domain.Market) (domain.RegimeState, error) {
	proxy, ok := indexProxyFor(market)
	if !ok {
		return domain.RegimeState{}, fmt.Errorf("risk: no index proxy configured for market %s", market)
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -regimeLookbackDays*2) // pad for weekends/holidays
	candles, err := c.gateway.GetHistoryCandles(ctx, proxy, domain.Period1d, start, end)
	if err != nil {
		return domain.RegimeState{}, fmt.Errorf("risk: fetch index proxy %s: %w", proxy, err)
	}
	label, reserve := c.classifyFromCandles(candles)

	state := domain.RegimeState{
		Label:      label,
		ReservePct: reserve,
		ComputedAt: time.Now().UTC(),
	}

	if c.cfg.IntradayStyleEnabled {
		if style, ok := c.classifyIntradayStyle(candles); ok {
			state.IntradayStyle = &style
			delta := c.cfg.IntradayReserveDeltaRange
			if style == domain.IntradayTrend {
				delta = c.cfg.IntradayReserveDeltaTrend
			}
			state.ReservePct = clampReserve(state.ReservePct + delta)
		}
	}

	return state, nil
}

func (c *RegimeClassifier) classifyFromCandles(candles []domain.Candle) (domain.RegimeLabel, float64) {
	if len(candles) < 51 {
		c.logger.Warn().Int("candles", len(candles)).Msg("insufficient history for regime classification, defaulting to RANGE")
		return domain.RegimeRange, c.reserveFor(domain.RegimeRange)
	}

	sma20Now := strategy.CalculateSMA(candles, 20)
	sma50Now := strategy.CalculateSMA(candles, 50)
	sma20Prev := strategy.CalculateSMA(candles[:len(candles)-1], 20)

	slopePositive := sma20Now > sma20Prev
	slopeNegative := sma20Now < sma20Prev

	var label domain.RegimeLabel
	switch {
	case sma20Now > sma50Now && slopePositive:
		label = domain.RegimeBull
	case sma20Now < sma50Now && slopeNegative:
		label = domain.RegimeBear
	default:
		label = domain.RegimeRange
	}

	return label, c.reserveFor(label)
}

func (c *RegimeClassifier) reserveFor(label domain.RegimeLabel) float64 {
	switch label {
	case domain.RegimeBull:
		return c.cfg.ReservePctBull
	case domain.RegimeBear:
		return c.cfg.ReservePctBear
	default:
		return c.cfg.ReservePctRange
	}
}

// classifyIntradayStyle compares today's realized move against the
// average true range: a move that dominates ATR is TREND, otherwise
// RANGE.
func (c *RegimeClassifier) classifyIntradayStyle(candles []domain.Candle) (domain.IntradayStyle, bool) {
	if len(candles) < 15 {
		return "", false
	}
	atr := strategy.CalculateATR(candles, 14)
	if atr <= 0 {
		return "", false
	}

	today := candles[len(candles)-1]
	realizedMove := today.High - today.Low
	if realizedMove >= atr {
		return domain.IntradayTrend, true
	}
	return domain.IntradayRange, true
}

func clampReserve(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 0.9 {
		return 0.9
	}
	return v
}
