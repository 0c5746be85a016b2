package risk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/calendar"
	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/strategy"
)

const (
	rotationBaseScore           = 50
	rotationWeakScoreThreshold  = 40
	rotationProtectedThreshold  = 70
	rotationMinProfitPct        = -0.10
	rotationMaxPortfolioPct     = 0.30
	rotationMinHoldingMinutes   = 30
	rotationProceedsHaircut     = 0.80
	rotationSignalPriority      = 85
	rotationHighScoreBuyMinimum = 70
)

// RotatablePosition is one holding scored for cross-timezone capital
// rotation: a lower RotationScore makes it a better sell candidate to
// free cash for a stronger pending signal.
type RotatablePosition struct {
	Symbol         string
	Currency       string
	Market         domain.Market
	MarketValue    decimal.Decimal
	RotationScore  int
	ProfitPct      float64
	HoldingMinutes float64
	Protected      bool
	Reason         string
}

// RotationTrigger describes the funding shortfall a pending BUY signal
// has hit, the condition that opens a capital-rotation pass.
type RotationTrigger struct {
	Symbol       string
	Market       domain.Market
	Currency     string
	SignalScore  float64
	RequiredCash decimal.Decimal
}

// CapitalRotator frees cash for a high-score BUY signal that available
// balances can't fund, by selling down the weakest open positions in the
// same currency whose market is currently open.
type CapitalRotator struct {
	account   accountSource
	prices    priceSource
	history   historySource
	publisher signalPublisher
	lots      lotRounder
	regime    *RegimeClassifier
	cal       *calendar.Calendar
	logger    zerolog.Logger
}

// NewCapitalRotator builds a rotator sharing the same account, quote,
// queue, and lot-size dependencies the rebalancer uses.
func NewCapitalRotator(
	account accountSource,
	prices priceSource,
	history historySource,
	publisher signalPublisher,
	lots lotRounder,
	regime *RegimeClassifier,
	cal *calendar.Calendar,
	logger zerolog.Logger,
) *CapitalRotator {
	return &CapitalRotator{
		account:   account,
		prices:    prices,
		history:   history,
		publisher: publisher,
		lots:      lots,
		regime:    regime,
		cal:       cal,
		logger:    logger.With().Str("component", "risk.rotation").Logger(),
	}
}

// ShouldTrigger reports whether trigger's score clears the high-score BUY
// threshold that opens a rotation pass; callers (cmd/engine's
// maybeTriggerRotation, and TriggerRotation itself) call this before
// spending the cost of scanning every holding.
func ShouldTrigger(trigger RotationTrigger) bool {
	return trigger.SignalScore >= rotationHighScoreBuyMinimum
}

// calculateRotationScore scores one position 0-100 (higher keeps, lower
// sells first): a base of 50, adjusted by profit/loss bucket, holding
// duration, technical weakness, and the current regime.
func calculateRotationScore(profitPct, holdingMinutes float64, weakness int, regime domain.RegimeLabel) (int, string) {
	score := rotationBaseScore
	var reason string

	switch {
	case profitPct < -0.10:
		score -= 30
		reason = "loss > 10%"
	case profitPct < -0.05:
		score -= 20
		reason = "loss > 5%"
	case profitPct < 0:
		score -= 10
		reason = "at a loss"
	case profitPct > 0.20:
		score += 30
		reason = "profit > 20%"
	case profitPct > 0.10:
		score += 20
		reason = "profit > 10%"
	case profitPct > 0.05:
		score += 10
		reason = "profit > 5%"
	}

	switch {
	case holdingMinutes < rotationMinHoldingMinutes:
		score += 10
		reason = appendReason(reason, "just opened")
	case holdingMinutes > 24*60:
		score -= 10
		reason = appendReason(reason, "held > 24h")
	}

	score -= weakness

	switch regime {
	case domain.RegimeBear:
		score -= 15
		reason = appendReason(reason, "BEAR regime")
	case domain.RegimeBull:
		score += 10
		reason = appendReason(reason, "BULL regime")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	if reason == "" {
		reason = "neutral"
	}
	return score, reason
}

func appendReason(existing, add string) string {
	if existing == "" {
		return add
	}
	return existing + "; " + add
}

// technicalWeakness scores 0-50 from RSI overbought, a MACD bearish
// cross, and moving-average breaks — the same inputs timezone-aware
// rotation scoring in the original system used, distinct from the
// rebalancer's own weakness weights since rotation asks "sell this to
// fund a better trade" rather than "this name broke down".
func (c *CapitalRotator) technicalWeakness(ctx context.Context, symbol string, price decimal.Decimal) int {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -120)
	candles, err := c.history.GetHistoryCandles(ctx, symbol, domain.Period1d, start, end)
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("technical weakness: history fetch failed")
		return 0
	}
	if len(candles) < 51 {
		return 0
	}

	var weakness int
	current := price.InexactFloat64()

	rsi := strategy.CalculateRSI(candles, 14)
	if rsi > 70 {
		weakness += 15
	}

	macdLine, signalLine, _ := strategy.CalculateMACD(candles, 12, 26, 9)
	prevMACD, prevSignal, _ := strategy.CalculateMACD(candles[:len(candles)-1], 12, 26, 9)
	if macdLine < signalLine && prevMACD >= prevSignal {
		weakness += 15
	}

	if current < strategy.CalculateSMA(candles, 20) {
		weakness += 10
	}
	if current < strategy.CalculateSMA(candles, 50) {
		weakness += 10
	}

	return weakness
}

// IdentifyRotatable scores every open position matching trigger's
// currency whose market is currently open, sorted weakest-first, marking
// as Protected any position the rotation constraints forbid selling.
func (c *CapitalRotator) IdentifyRotatable(ctx context.Context, trigger RotationTrigger, now time.Time) ([]RotatablePosition, error) {
	positions, err := c.account.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotation: fetch positions: %w", err)
	}

	var candidates []domain.Position
	for _, p := range positions {
		if p.Currency != trigger.Currency {
			continue
		}
		if c.cal.SessionOf(p.Market, now) == domain.SessionClosed {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	symbols := make([]string, len(candidates))
	for i, p := range candidates {
		symbols[i] = p.Symbol
	}
	quotesList, err := c.prices.GetRealtimeQuote(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("rotation: fetch realtime quotes: %w", err)
	}
	priceMap := make(map[string]decimal.Decimal, len(quotesList))
	for _, q := range quotesList {
		priceMap[q.Symbol] = q.Last
	}

	out := make([]RotatablePosition, 0, len(candidates))
	for _, p := range candidates {
		price, ok := priceMap[p.Symbol]
		if !ok || price.IsZero() || p.AverageCost.IsZero() {
			continue
		}

		regimeState, err := c.regime.Classify(ctx, p.Market)
		var regimeLabel domain.RegimeLabel
		if err == nil {
			regimeLabel = regimeState.Label
		}

		profitPct := price.Sub(p.AverageCost).Div(p.AverageCost).InexactFloat64()
		holdingMinutes := now.Sub(p.EntryTime).Minutes()
		weakness := c.technicalWeakness(ctx, p.Symbol, price)
		score, reason := calculateRotationScore(profitPct, holdingMinutes, weakness, regimeLabel)

		protected := score >= rotationProtectedThreshold || holdingMinutes < rotationMinHoldingMinutes
		shouldRotate := score < rotationWeakScoreThreshold || profitPct < rotationMinProfitPct

		rp := RotatablePosition{
			Symbol:         p.Symbol,
			Currency:       p.Currency,
			Market:         p.Market,
			MarketValue:    price.Mul(decimal.NewFromInt(p.Quantity)),
			RotationScore:  score,
			ProfitPct:      profitPct,
			HoldingMinutes: holdingMinutes,
			Protected:      protected || !shouldRotate,
			Reason:         reason,
		}
		out = append(out, rp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RotationScore < out[j].RotationScore })
	return out, nil
}

// ReleasableCapital sums the haircut-adjusted proceeds of the weakest
// unprotected positions up to rotationMaxPortfolioPct of totalPortfolioValue,
// returning the positions selected (weakest first) and the estimated cash
// they would release.
func ReleasableCapital(rotatable []RotatablePosition, totalPortfolioValue decimal.Decimal) (decimal.Decimal, []RotatablePosition) {
	maxReleasable := totalPortfolioValue.Mul(decimal.NewFromFloat(rotationMaxPortfolioPct))

	var released decimal.Decimal
	var selected []RotatablePosition
	for _, p := range rotatable {
		if p.Protected {
			continue
		}
		if released.GreaterThanOrEqual(maxReleasable) {
			break
		}
		proceeds := p.MarketValue.Mul(decimal.NewFromFloat(rotationProceedsHaircut))
		released = released.Add(proceeds)
		selected = append(selected, p)
	}
	return released, selected
}

// TriggerRotation runs a full rotation pass for trigger: identifies
// candidates, caps the release at the portfolio-wide rotation limit, and
// publishes a lot-rounded SELL signal for each selected position.
func (c *CapitalRotator) TriggerRotation(ctx context.Context, trigger RotationTrigger, totalPortfolioValue decimal.Decimal, now time.Time) ([]RebalancePlanItem, error) {
	if !ShouldTrigger(trigger) {
		return nil, nil
	}

	rotatable, err := c.IdentifyRotatable(ctx, trigger, now)
	if err != nil {
		return nil, err
	}
	if len(rotatable) == 0 {
		c.logger.Info().Str("symbol", trigger.Symbol).Msg("rotation: no eligible holdings to rotate")
		return nil, nil
	}

	_, selected := ReleasableCapital(rotatable, totalPortfolioValue)
	if len(selected) == 0 {
		c.logger.Info().Str("symbol", trigger.Symbol).Msg("rotation: no unprotected holdings cleared the rotation threshold")
		return nil, nil
	}

	positions, err := c.account.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotation: fetch positions: %w", err)
	}
	positionsBySymbol := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		positionsBySymbol[p.Symbol] = p
	}

	var plan []RebalancePlanItem
	for _, rp := range selected {
		pos, ok := positionsBySymbol[rp.Symbol]
		if !ok {
			continue
		}
		sellQty := c.lots.RoundDownToLot(ctx, rp.Symbol, pos.AvailableQty)
		if sellQty <= 0 {
			continue
		}
		price := rp.MarketValue.Div(decimal.NewFromInt(pos.Quantity))

		plan = append(plan, RebalancePlanItem{
			Symbol:   rp.Symbol,
			Currency: rp.Currency,
			Price:    price,
			SellQty:  sellQty,
			Weakness: rotationProtectedThreshold - rp.RotationScore,
			Reason:   fmt.Sprintf("capital rotation for %s: %s", trigger.Symbol, rp.Reason),
		})
	}

	for _, item := range plan {
		signal := domain.Signal{
			ID:             uuid.New(),
			Symbol:         item.Symbol,
			Side:           domain.SideSell,
			QuantityShares: item.SellQty,
			ReferencePrice: item.Price,
			Score:          float64(item.Weakness),
			StrategyName:   "capital_rotation",
			Urgency:        6,
			Reason:         item.Reason,
			CreatedAt:      now,
		}
		if ok := c.publisher.Publish(ctx, signal, rotationSignalPriority); !ok {
			c.logger.Error().Str("symbol", item.Symbol).Msg("rotation: failed to publish SELL signal")
		}
	}

	return plan, nil
}
