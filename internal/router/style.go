package router

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/broker"
	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/watchlist"
)

// Style is the execution style chosen for a signal.
type Style string

const (
	StyleAggressive Style = "AGGRESSIVE"
	StylePassive    Style = "PASSIVE"
	StyleIceberg    Style = "ICEBERG"
	StyleTWAP       Style = "TWAP"
	StyleVWAP       Style = "VWAP"
	StyleAdaptive   Style = "ADAPTIVE"
)

const (
	icebergSliceCount   = 10
	twapDuration        = 30 * time.Minute
	twapMinLots         = 20
	icebergVolumePct    = 0.05
	twapMinVolumePct    = 0.03
	twapMaxVolumePct    = 0.05
	vwapMinVolumePct    = 0.15
	adaptiveSpreadPct   = 0.002 // 20 bps of bid counts as a "tight" spread
	marketOrderDeadline = 10 * time.Second
	limitOrderDeadline  = 60 * time.Second
	twapSliceDeadline   = 60 * time.Second
	icebergSliceDelay   = 2 * time.Second
)

// sliceSpec describes one broker order the router will submit as part of
// an execution plan.
type sliceSpec struct {
	quantity     int64
	orderType    domain.OrderType
	limitPrice   decimal.Decimal
	pollDeadline time.Duration
	delayBefore  time.Duration
}

// executionPlan is the fully-priced, fully-sliced translation of a signal
// into one or more broker orders.
type executionPlan struct {
	signal         domain.Signal
	symbol         string
	side           domain.Side
	market         domain.Market
	style          Style
	quantity       int64
	lotSize        int64
	referencePrice decimal.Decimal
	maxSlippage    decimal.Decimal
	bid, ask       decimal.Decimal
	slices         []sliceSpec
}

// buildPlan runs the full pre-submission validation pipeline and returns
// a priced, sliced execution plan. Errors wrapping errPermanentRejection
// tell the caller the signal should not be retried.
func (r *Router) buildPlan(ctx context.Context, signal domain.Signal, balances []broker.AccountBalance, now time.Time) (*executionPlan, error) {
	if signal.QuantityShares <= 0 {
		return nil, fmt.Errorf("%w: non-positive quantity %d", errPermanentRejection, signal.QuantityShares)
	}
	if signal.Side != domain.SideBuy && signal.Side != domain.SideSell {
		return nil, fmt.Errorf("%w: unknown side %q", errPermanentRejection, signal.Side)
	}
	if !r.resolver.Contains(signal.Symbol) {
		return nil, fmt.Errorf("%w: %s is not in the watchlist", errPermanentRejection, signal.Symbol)
	}

	quantity := r.resolver.RoundDownToLot(ctx, signal.Symbol, signal.QuantityShares)
	if quantity == 0 {
		return nil, fmt.Errorf("%w: lot-rounded quantity is zero for %s", errPermanentRejection, signal.Symbol)
	}

	quotes, err := r.quotes.GetRealtimeQuote(ctx, []string{signal.Symbol})
	if err != nil {
		return nil, fmt.Errorf("fetch quote for %s: %w", signal.Symbol, err)
	}
	if len(quotes) == 0 || quotes[0].Last.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: stale or missing quote for %s", errPermanentRejection, signal.Symbol)
	}
	quote := quotes[0]

	market, ok := domain.MarketFor(signal.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: cannot resolve market for %s", errPermanentRejection, signal.Symbol)
	}

	bid, ask := quote.Bid, quote.Ask
	if depth, err := r.quotes.GetDepth(ctx, signal.Symbol); err == nil && depth.Bid.IsPositive() && depth.Ask.IsPositive() {
		bid, ask = depth.Bid, depth.Ask
	}

	session := r.calendar.SessionOf(market, now)
	afterHoursSafety := market == domain.MarketUS && session == domain.SessionPostmarket

	urgency := signal.Urgency
	forceLimit := r.cfg.ForceLimitOrders
	forbidAggressive := false
	if afterHoursSafety {
		forceLimit = true
		forbidAggressive = true
		if urgency > r.cfg.AfterhoursMaxUrgency {
			urgency = r.cfg.AfterhoursMaxUrgency
		}
	}
	if r.cfg.MaxUrgencyLevel > 0 && urgency > r.cfg.MaxUrgencyLevel {
		urgency = r.cfg.MaxUrgencyLevel
	}

	lotSize := r.resolver.LotSize(ctx, signal.Symbol)
	avgVolume := r.averageVolume(ctx, signal.Symbol)
	volumeWeights := r.fetchVolumeProfile(ctx, signal.Symbol, now)

	style := selectStyle(selectionInput{
		urgency:          urgency,
		quantity:         quantity,
		lotSize:          lotSize,
		avgVolume:        avgVolume,
		marketOpen:       session == domain.SessionRegular,
		forceLimit:       forceLimit,
		forbidAggressive: forbidAggressive,
		hasVolumeProfile: len(volumeWeights) > 0,
		bid:              bid,
		ask:              ask,
	})

	if signal.Side == domain.SideBuy {
		capped, err := r.applyBuyingPowerCap(ctx, quantity, signal, quote.Last, balances, lotSize)
		if err != nil {
			return nil, err
		}
		quantity = capped
		if quantity == 0 {
			return nil, fmt.Errorf("%w: no buying power available for %s", errPermanentRejection, signal.Symbol)
		}
	}

	maxSlippage := signal.MaxSlippage
	if maxSlippage.IsZero() {
		maxSlippage = decimal.NewFromFloat(0.01)
	}

	plan := &executionPlan{
		signal:         signal,
		symbol:         signal.Symbol,
		side:           signal.Side,
		market:         market,
		style:          style,
		quantity:       quantity,
		lotSize:        lotSize,
		referencePrice: quote.Last,
		maxSlippage:    maxSlippage,
		bid:            bid,
		ask:            ask,
	}
	plan.slices = buildSlices(plan, volumeWeights)
	return plan, nil
}

type selectionInput struct {
	urgency          int
	quantity         int64
	lotSize          int64
	avgVolume        int64
	marketOpen       bool
	forceLimit       bool
	forbidAggressive bool
	hasVolumeProfile bool
	bid, ask         decimal.Decimal
}

// selectStyle implements the execution-style table. PASSIVE is the
// fallback and the style forced by force_limit_orders, closed/extended
// sessions, or the after-hours safety override.
func selectStyle(in selectionInput) Style {
	if in.forceLimit || !in.marketOpen {
		return StylePassive
	}
	if in.urgency >= 8 && !in.forbidAggressive {
		return StyleAggressive
	}

	if in.avgVolume > 0 {
		pct := float64(in.quantity) / float64(in.avgVolume)
		if in.hasVolumeProfile && pct >= vwapMinVolumePct {
			return StyleVWAP
		}
		if pct > icebergVolumePct {
			return StyleIceberg
		}
		if pct >= twapMinVolumePct && pct <= twapMaxVolumePct && in.lotSize > 0 && in.quantity >= twapMinLots*in.lotSize {
			return StyleTWAP
		}
	}

	if in.urgency >= 4 && in.urgency < 8 && tightSpread(in.bid, in.ask) {
		return StyleAdaptive
	}

	return StylePassive
}

func tightSpread(bid, ask decimal.Decimal) bool {
	if !bid.IsPositive() || !ask.IsPositive() {
		return false
	}
	spread := ask.Sub(bid)
	return spread.Div(bid).LessThanOrEqual(decimal.NewFromFloat(adaptiveSpreadPct))
}

// buildSlices translates the chosen style into one or more order slices,
// each already priced and tick-snapped. weights is the intraday volume
// profile fetched for the plan's symbol; it is only consulted for VWAP.
func buildSlices(plan *executionPlan, weights []float64) []sliceSpec {
	switch plan.style {
	case StyleAggressive:
		return []sliceSpec{{
			quantity:     plan.quantity,
			orderType:    domain.OrderTypeMarket,
			pollDeadline: marketOrderDeadline,
		}}

	case StyleIceberg:
		return evenSlices(plan, icebergSliceCount, icebergSliceDelay, limitOrderDeadline)

	case StyleTWAP:
		n := twapSliceCount(plan.quantity, plan.lotSize)
		delay := twapDuration / time.Duration(n)
		return evenSlices(plan, n, delay, twapSliceDeadline)

	case StyleVWAP:
		return weightedSlices(plan, weights)

	case StyleAdaptive:
		if tightSpread(plan.bid, plan.ask) {
			return []sliceSpec{{
				quantity:     plan.quantity,
				orderType:    domain.OrderTypeMarket,
				pollDeadline: marketOrderDeadline,
			}}
		}
		return []sliceSpec{passiveSlice(plan)}

	default: // StylePassive
		return []sliceSpec{passiveSlice(plan)}
	}
}

func passiveSlice(plan *executionPlan) sliceSpec {
	price := plan.bid
	if plan.side == domain.SideSell {
		price = plan.ask
	}
	return sliceSpec{
		quantity:     plan.quantity,
		orderType:    domain.OrderTypeLimit,
		limitPrice:   watchlist.SnapToTick(plan.market, price),
		pollDeadline: limitOrderDeadline,
	}
}

// twapSliceCount picks the number of slices (up to 6, spread across the
// ~30 minute window) that keeps every slice a whole number of lots.
func twapSliceCount(quantity, lotSize int64) int {
	if lotSize <= 0 {
		lotSize = 1
	}
	lots := quantity / lotSize
	n := 6
	for n > 1 && lots/int64(n) < 1 {
		n--
	}
	for n > 1 && lots%int64(n) != 0 {
		n--
	}
	return n
}

// evenSlices splits plan.quantity into n whole-lot slices (the remainder
// lands in the final slice), each priced with the dynamic limit formula.
func evenSlices(plan *executionPlan, n int, delay, deadline time.Duration) []sliceSpec {
	lotSize := plan.lotSize
	if lotSize <= 0 {
		lotSize = 1
	}
	if n < 1 {
		n = 1
	}
	lots := plan.quantity / lotSize
	perSliceLots := lots / int64(n)
	if perSliceLots < 1 {
		perSliceLots = lots
		n = 1
	}

	slices := make([]sliceSpec, 0, n)
	remaining := plan.quantity
	for i := 0; i < n; i++ {
		qty := perSliceLots * lotSize
		if i == n-1 {
			qty = remaining
		}
		remaining -= qty
		price, _ := dynamicLimitPrice(plan.side, plan.referencePrice, plan.referencePrice, plan.maxSlippage, plan.bid, plan.ask)
		sliceDelay := time.Duration(0)
		if i > 0 {
			sliceDelay = delay
		}
		slices = append(slices, sliceSpec{
			quantity:     qty,
			orderType:    domain.OrderTypeLimit,
			limitPrice:   watchlist.SnapToTick(plan.market, price),
			pollDeadline: deadline,
			delayBefore:  sliceDelay,
		})
	}
	return slices
}

// weightedSlices sizes each slice proportionally to a volume-profile
// weight. If no profile is available, it degrades to a single PASSIVE
// slice for the full quantity.
func weightedSlices(plan *executionPlan, weights []float64) []sliceSpec {
	if len(weights) == 0 {
		return []sliceSpec{passiveSlice(plan)}
	}
	lotSize := plan.lotSize
	if lotSize <= 0 {
		lotSize = 1
	}
	lots := plan.quantity / lotSize

	slices := make([]sliceSpec, 0, len(weights))
	allocated := int64(0)
	for i, w := range weights {
		var qtyLots int64
		if i == len(weights)-1 {
			qtyLots = lots - allocated
		} else {
			qtyLots = int64(float64(lots) * w)
		}
		allocated += qtyLots
		qty := qtyLots * lotSize
		if qty <= 0 {
			continue
		}
		price, _ := dynamicLimitPrice(plan.side, plan.referencePrice, plan.referencePrice, plan.maxSlippage, plan.bid, plan.ask)
		sliceDelay := time.Duration(0)
		if i > 0 {
			sliceDelay = twapDuration / time.Duration(len(weights))
		}
		slices = append(slices, sliceSpec{
			quantity:     qty,
			orderType:    domain.OrderTypeLimit,
			limitPrice:   watchlist.SnapToTick(plan.market, price),
			pollDeadline: twapSliceDeadline,
			delayBefore:  sliceDelay,
		})
	}
	if len(slices) == 0 {
		return []sliceSpec{passiveSlice(plan)}
	}
	return slices
}

// dynamicLimitPrice is the re-pricing formula used for ICEBERG/TWAP/VWAP
// slices (the stale-price adaptive retry reprices straight to the
// refreshed bid or ask instead). It returns the tick-unsnapped
// price and whether the move from reference exceeds maxSlippage.
func dynamicLimitPrice(side domain.Side, reference, currentMarket, maxSlippage, bid, ask decimal.Decimal) (decimal.Decimal, bool) {
	one := decimal.NewFromInt(1)
	exceeds := false
	if reference.IsPositive() {
		move := currentMarket.Sub(reference).Abs().Div(reference)
		exceeds = move.GreaterThan(maxSlippage)
	}

	if side == domain.SideBuy {
		suggested := ask.Mul(decimal.NewFromFloat(1.001))
		cap := reference.Mul(one.Add(maxSlippage))
		if suggested.GreaterThan(cap) {
			return cap, exceeds
		}
		return suggested, exceeds
	}

	suggested := bid.Mul(decimal.NewFromFloat(0.999))
	floor := reference.Mul(one.Sub(maxSlippage))
	if suggested.LessThan(floor) {
		return floor, exceeds
	}
	return suggested, exceeds
}

// averageVolume asks the optional volume source for a recent average
// daily volume. A nil source, or a source returning an error, yields 0 —
// which removes ICEBERG/TWAP/VWAP from consideration rather than failing
// the signal.
func (r *Router) averageVolume(ctx context.Context, symbol string) int64 {
	if r.volume == nil {
		return 0
	}
	v, err := r.volume.AverageDailyVolume(ctx, symbol)
	if err != nil {
		r.logger.Debug().Err(err).Str("symbol", symbol).Msg("average volume unavailable")
		return 0
	}
	return v
}

// fetchVolumeProfile asks the optional volume source for an intraday
// shape. A nil source, or a source returning an error or empty profile,
// takes VWAP out of consideration for this signal.
func (r *Router) fetchVolumeProfile(ctx context.Context, symbol string, now time.Time) []float64 {
	if r.volume == nil {
		return nil
	}
	weights, err := r.volume.IntradayVolumeProfile(ctx, symbol, now)
	if err != nil {
		r.logger.Debug().Err(err).Str("symbol", symbol).Msg("volume profile unavailable")
		return nil
	}
	return weights
}
