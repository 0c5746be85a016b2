package risk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/calendar"
	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/quotes"
	"github.com/kestrelquant/tradingcore/internal/strategy"
)

const (
	// rebalanceSignalPriority is the fixed queue priority every rebalancer
	// SELL signal publishes at, ahead of most strategy-originated signals.
	rebalanceSignalPriority = 85

	// rebalancerLookbackDays covers the MACD slow EMA (26) plus its signal
	// smoothing (9), with headroom for weekends/holidays in the fetch window.
	rebalancerLookbackDays = 70

	donchianLookback = 20

	weaknessMA20Break      = 15
	weaknessMA50Break      = 25
	weaknessDonchianBreak  = 40
	weaknessMACDDeathCross = 15
	weaknessMACDBearish    = 5
	weaknessMA20DownSlope  = 5

	negativeBuyPowerReserveBump = 0.20
	maxReservePct               = 0.80
)

// AccountBalance is a broker's per-currency cash snapshot, the minimal
// account-state slice the rebalancer needs to size buying power.
type AccountBalance struct {
	Currency string
	Cash     decimal.Decimal
}

// accountSource is the narrow broker surface the rebalancer calls. A
// concrete broker implementation satisfies this without the rebalancer
// depending on the whole broker interface.
type accountSource interface {
	GetPositions(ctx context.Context) ([]domain.Position, error)
	GetAccountBalances(ctx context.Context) ([]AccountBalance, error)
}

// lotRounder resolves a symbol's board lot so sell quantities never leave
// a non-multiple-of-lot remainder.
type lotRounder interface {
	LotSize(ctx context.Context, symbol string) int64
	RoundDownToLot(ctx context.Context, symbol string, qty int64) int64
}

// signalPublisher is the one Queue method the rebalancer needs to hand off
// plan items, narrowed the same way historySource is so tests substitute a
// fixture instead of a live Redis-backed queue.
type signalPublisher interface {
	Publish(ctx context.Context, intent domain.Signal, priority float64) bool
}

// RebalancePlanItem is one SELL decision the rebalancer made for a
// position, carrying the weakness score and reason that justified
// trimming it.
type RebalancePlanItem struct {
	Symbol   string
	Currency string
	Price    decimal.Decimal
	SellQty  int64
	Weakness int
	Reason   string
}

// Rebalancer marks every open position in a market against that market's
// current regime-implied cash reserve target, and sells the technically
// weakest names down to the target, one currency bucket at a time.
type Rebalancer struct {
	account   accountSource
	prices    priceSource
	history   historySource
	publisher signalPublisher
	lots      lotRounder
	regime    *RegimeClassifier
	cal       *calendar.Calendar
	cfg       config.RegimeConfig
	logger    zerolog.Logger
}

// priceSource is the one Gateway method the rebalancer needs for marking
// positions to market.
type priceSource interface {
	GetRealtimeQuote(ctx context.Context, symbols []string) ([]domain.Quote, error)
}

// NewRebalancer builds a rebalancer against a live account, quote gateway,
// signal queue, and lot-size resolver.
func NewRebalancer(
	account accountSource,
	gateway quotes.Gateway,
	publisher signalPublisher,
	lots lotRounder,
	regime *RegimeClassifier,
	cal *calendar.Calendar,
	cfg config.RegimeConfig,
	logger zerolog.Logger,
) *Rebalancer {
	return &Rebalancer{
		account:   account,
		prices:    gateway,
		history:   gateway,
		publisher: publisher,
		lots:      lots,
		regime:    regime,
		cal:       cal,
		cfg:       cfg,
		logger:    logger.With().Str("component", "risk.rebalancer").Logger(),
	}
}

// UpdateConfig replaces the regime configuration, used by config
// hot-reload.
func (r *Rebalancer) UpdateConfig(cfg config.RegimeConfig) {
	r.cfg = cfg
}

// RunOnce evaluates market's positions against the current regime's
// reserve target, publishes a SELL signal for every position the plan
// decides to trim, and returns the plan it acted on.
func (r *Rebalancer) RunOnce(ctx context.Context, market domain.Market, now time.Time) ([]RebalancePlanItem, error) {
	regimeState, err := r.regime.Classify(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("rebalancer: classify regime for %s: %w", market, err)
	}

	allPositions, err := r.account.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebalancer: fetch positions: %w", err)
	}
	positions := make([]domain.Position, 0, len(allPositions))
	for _, p := range allPositions {
		if p.Market == market {
			positions = append(positions, p)
		}
	}
	if len(positions) == 0 {
		return nil, nil
	}

	if !r.marketHoursPermit(market, now) {
		r.logger.Info().Str("market", string(market)).Msg("rebalance skipped, market-hours gate closed")
		return nil, nil
	}

	symbols := make([]string, len(positions))
	for i, p := range positions {
		symbols[i] = p.Symbol
	}
	quotesList, err := r.prices.GetRealtimeQuote(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("rebalancer: fetch realtime quotes: %w", err)
	}
	priceMap := make(map[string]decimal.Decimal, len(quotesList))
	for _, q := range quotesList {
		priceMap[q.Symbol] = q.Last
	}

	balances, err := r.account.GetAccountBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebalancer: fetch account balances: %w", err)
	}
	cashByCurrency := make(map[string]decimal.Decimal, len(balances))
	for _, b := range balances {
		cashByCurrency[b.Currency] = b.Cash
	}

	byCurrency := make(map[string][]domain.Position)
	for _, p := range positions {
		byCurrency[p.Currency] = append(byCurrency[p.Currency], p)
	}

	var plan []RebalancePlanItem
	for currency, group := range byCurrency {
		items := r.planCurrencyGroup(ctx, currency, group, priceMap, cashByCurrency[currency], regimeState)
		plan = append(plan, items...)
	}

	for _, item := range plan {
		signal := domain.Signal{
			ID:             uuid.New(),
			Symbol:         item.Symbol,
			Side:           domain.SideSell,
			QuantityShares: item.SellQty,
			ReferencePrice: item.Price,
			Score:          float64(item.Weakness),
			StrategyName:   "regime_rebalancer",
			Urgency:        5,
			Reason:         item.Reason,
			CreatedAt:      now,
		}
		if ok := r.publisher.Publish(ctx, signal, rebalanceSignalPriority); !ok {
			r.logger.Error().Str("symbol", item.Symbol).Msg("rebalancer: failed to publish SELL signal")
		}
	}

	return plan, nil
}

// marketHoursPermit applies the market-hours-only gate: outside regular
// hours it requires afterhours rebalancing to be explicitly enabled, and
// refuses entirely while the market is closed.
func (r *Rebalancer) marketHoursPermit(market domain.Market, now time.Time) bool {
	if !r.cfg.RebalancerMarketHoursOnly {
		return true
	}
	session := r.cal.SessionOf(market, now)
	switch session {
	case domain.SessionRegular:
		return true
	case domain.SessionAfterhours, domain.SessionPremarket:
		return r.cfg.EnableAfterhoursRebalance
	default:
		return false
	}
}

// planCurrencyGroup computes the SELL plan for one currency bucket: it
// raises the reserve target when buying power has gone negative, then
// greedily sells the weakest positions, lot-rounded, until the cut target
// is met.
func (r *Rebalancer) planCurrencyGroup(
	ctx context.Context,
	currency string,
	group []domain.Position,
	priceMap map[string]decimal.Decimal,
	cash decimal.Decimal,
	regimeState domain.RegimeState,
) []RebalancePlanItem {
	reserve := regimeState.ReservePct
	if cash.IsNegative() {
		reserve += negativeBuyPowerReserveBump
		if reserve > maxReservePct {
			reserve = maxReservePct
		}
		r.logger.Warn().
			Str("currency", currency).
			Float64("reserve", reserve).
			Msg("buying power negative, raising reserve target to deleverage")
	}

	var totalValue decimal.Decimal
	for _, p := range group {
		price, ok := priceMap[p.Symbol]
		if !ok {
			continue
		}
		totalValue = totalValue.Add(price.Mul(decimal.NewFromInt(p.Quantity)))
	}

	equity := totalValue.Add(cash)
	targetValue := equity.Mul(decimal.NewFromFloat(1 - reserve))
	if totalValue.LessThanOrEqual(targetValue) {
		return nil
	}
	remaining := totalValue.Sub(targetValue)

	type candidate struct {
		position domain.Position
		price    decimal.Decimal
		weakness int
		reason   string
	}
	candidates := make([]candidate, 0, len(group))
	for _, p := range group {
		price, ok := priceMap[p.Symbol]
		if !ok || price.IsZero() {
			continue
		}
		weakness, reason := r.weakness(ctx, p.Symbol, price)
		candidates = append(candidates, candidate{position: p, price: price, weakness: weakness, reason: reason})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].weakness > candidates[j].weakness })

	var plan []RebalancePlanItem
	for _, c := range candidates {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		lot := r.lots.LotSize(ctx, c.position.Symbol)
		maxQty := r.lots.RoundDownToLot(ctx, c.position.Symbol, c.position.AvailableQty)
		if maxQty <= 0 {
			continue
		}
		targetQty := remaining.Div(c.price).IntPart()
		sellQty := r.lots.RoundDownToLot(ctx, c.position.Symbol, minInt64(maxQty, targetQty))
		if sellQty == 0 && targetQty > 0 && lot > 0 {
			sellQty = lot
			if sellQty > maxQty {
				sellQty = maxQty
			}
		}
		if sellQty <= 0 {
			continue
		}

		plan = append(plan, RebalancePlanItem{
			Symbol:   c.position.Symbol,
			Currency: currency,
			Price:    c.price,
			SellQty:  sellQty,
			Weakness: c.weakness,
			Reason:   c.reason,
		})
		remaining = remaining.Sub(c.price.Mul(decimal.NewFromInt(sellQty)))
	}

	return plan
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// weakness scores symbol's technical condition 0-100+ from its recent
// daily candles: moving-average breaks, a Donchian-channel breakdown, and
// a MACD bearish signal each add points, summed into one score with a
// human-readable reason trail.
func (r *Rebalancer) weakness(ctx context.Context, symbol string, price decimal.Decimal) (int, string) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -rebalancerLookbackDays*2)
	candles, err := r.history.GetHistoryCandles(ctx, symbol, domain.Period1d, start, end)
	if err != nil {
		r.logger.Warn().Err(err).Str("symbol", symbol).Msg("weakness: history fetch failed, scoring as neutral")
		return 0, "history unavailable"
	}
	if len(candles) < 51 {
		return 0, "insufficient history"
	}

	current := price.InexactFloat64()
	var score int
	var reasons []string

	sma20 := strategy.CalculateSMA(candles, 20)
	if current < sma20 {
		score += weaknessMA20Break
		reasons = append(reasons, "below MA20")
	}

	sma50 := strategy.CalculateSMA(candles, 50)
	if current < sma50 {
		score += weaknessMA50Break
		reasons = append(reasons, "below MA50")
	}

	donchianLow := strategy.LowestLow(candles[:len(candles)-1], donchianLookback)
	if donchianLow > 0 && current < donchianLow {
		score += weaknessDonchianBreak
		reasons = append(reasons, "broke 20-day low")
	}

	macdLine, signalLine, _ := strategy.CalculateMACD(candles, 12, 26, 9)
	prevMACD, prevSignal, _ := strategy.CalculateMACD(candles[:len(candles)-1], 12, 26, 9)
	switch {
	case macdLine < signalLine && prevMACD >= prevSignal:
		score += weaknessMACDDeathCross
		reasons = append(reasons, "MACD death cross")
	case macdLine < signalLine:
		score += weaknessMACDBearish
		reasons = append(reasons, "MACD bearish")
	}

	sma20Prev := strategy.CalculateSMA(candles[:len(candles)-1], 20)
	if sma20 < sma20Prev {
		score += weaknessMA20DownSlope
		reasons = append(reasons, "MA20 downward slope")
	}

	if len(reasons) == 0 {
		return score, "no weakness detected"
	}
	return score, strings.Join(reasons, "; ")
}
