package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/broker"
	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/watchlist"
)

// currencyForMarket mirrors broker.currencyForMarket (unexported there):
// HK, US and CN map to HKD, USD and CNY; any other market, SG included,
// maps to "".
func currencyForMarket(m domain.Market) string {
	switch m {
	case domain.MarketHK:
		return "HKD"
	case domain.MarketUS:
		return "USD"
	case domain.MarketCN:
		return "CNY"
	default:
		return ""
	}
}

// applyBuyingPowerCap implements validation-pipeline step 6: estimate the
// broker's maximum purchasable quantity and clamp to it; if the broker
// reports 0, fall back to a local cash-based estimate.
func (r *Router) applyBuyingPowerCap(ctx context.Context, quantity int64, signal domain.Signal, price decimal.Decimal, balances []broker.AccountBalance, lotSize int64) (int64, error) {
	maxQty, err := r.brokerAPI.EstimateMaxPurchaseQuantity(ctx, signal.Symbol, price)
	if err != nil {
		return 0, fmt.Errorf("estimate max purchase quantity for %s: %w", signal.Symbol, err)
	}
	if maxQty > 0 {
		if maxQty < quantity {
			return maxQty, nil
		}
		return quantity, nil
	}

	fallback := r.cashFallbackQuantity(signal, price, balances, lotSize)
	if fallback < quantity {
		return fallback, nil
	}
	return quantity, nil
}

// cashFallbackQuantity is the cash-fallback sizing estimate: 50% of
// available cash in the intent's currency, or 30% of remaining
// financing when the account carries margin headroom well beyond a
// couple of lots. It always floors to whole lots.
func (r *Router) cashFallbackQuantity(signal domain.Signal, price decimal.Decimal, balances []broker.AccountBalance, lotSize int64) int64 {
	if lotSize <= 0 {
		lotSize = 1
	}
	market, _ := domain.MarketFor(signal.Symbol)
	currency := currencyForMarket(market)

	var balance broker.AccountBalance
	found := false
	for _, b := range balances {
		if b.Currency == currency {
			balance = b
			found = true
			break
		}
	}
	if !found || price.IsZero() {
		return 0
	}

	twoLotCost := price.Mul(decimal.NewFromInt(2 * lotSize))
	remainingFinancing := balance.BuyPower.Sub(balance.MarginUsed)

	var candidateCash decimal.Decimal
	reason := "50% of available cash"
	if balance.MarginUsed.IsPositive() && remainingFinancing.GreaterThan(twoLotCost) {
		candidateCash = remainingFinancing.Mul(decimal.NewFromFloat(0.3))
		reason = "30% of remaining margin financing"
	} else {
		candidateCash = balance.Cash.Mul(decimal.NewFromFloat(0.5))
	}

	lots := candidateCash.Div(price.Mul(decimal.NewFromInt(lotSize))).IntPart()
	qty := lots * lotSize

	r.logger.Warn().
		Str("symbol", signal.Symbol).
		Str("currency", currency).
		Str("cash", balance.Cash.String()).
		Str("buy_power", balance.BuyPower.String()).
		Int64("fallback_quantity", qty).
		Str("reason", reason).
		Msg("broker reported zero purchasable quantity; applying cash-fallback estimate")

	if qty < 0 {
		return 0
	}
	return qty
}

// execute submits every slice of plan in order, polling each to
// completion before moving to the next, and persists every order and
// fill. A partial fill reported at a slice's poll deadline still counts
// as progress: if the plan's remaining slices cannot be submitted or
// filled, execute still returns success as long as at least one share
// filled anywhere in the plan.
func (r *Router) execute(ctx context.Context, plan *executionPlan) error {
	var totalFilled int64
	slippageWeighted := decimal.Zero
	abortThreshold := plan.maxSlippage.Mul(decimal.NewFromFloat(1.2))

	for _, slice := range plan.slices {
		if slice.delayBefore > 0 {
			r.clock.Sleep(slice.delayBefore)
		}

		order := domain.Order{
			SignalID:   plan.signal.ID.String(),
			Symbol:     plan.symbol,
			Side:       plan.side,
			Type:       slice.orderType,
			Quantity:   slice.quantity,
			LimitPrice: slice.limitPrice,
			TIF:        domain.TIFDay,
		}

		submitted, err := r.submitWithRetry(ctx, order, plan)
		if err != nil {
			if totalFilled > 0 {
				r.logger.Warn().Err(err).Str("symbol", plan.symbol).Msg("slice submission failed after partial fill; reporting partial success")
				return nil
			}
			return fmt.Errorf("submit order for %s: %w", plan.symbol, err)
		}

		final, err := r.pollFill(ctx, submitted, slice.pollDeadline)
		if err != nil {
			if totalFilled > 0 {
				return nil
			}
			return fmt.Errorf("poll fill for %s: %w", plan.symbol, err)
		}

		if err := r.store.SaveOrder(ctx, *final); err != nil {
			r.logger.Error().Err(err).Str("broker_order_id", final.BrokerOrderID).Msg("failed to persist order")
		}

		if final.ExecutedQty > 0 {
			fill := domain.Fill{
				OrderID:  final.BrokerOrderID,
				Symbol:   plan.symbol,
				Side:     plan.side,
				Quantity: final.ExecutedQty,
				Price:    final.ExecutedPrice,
				Time:     final.UpdatedAt,
			}
			if err := r.store.SaveFill(ctx, fill); err != nil {
				r.logger.Error().Err(err).Str("broker_order_id", final.BrokerOrderID).Msg("failed to persist fill")
			}
			totalFilled += final.ExecutedQty
			if plan.referencePrice.IsPositive() {
				move := final.ExecutedPrice.Sub(plan.referencePrice).Abs().Div(plan.referencePrice)
				slippageWeighted = slippageWeighted.Add(move.Mul(decimal.NewFromInt(final.ExecutedQty)))
			}
		}

		if final.Status == domain.OrderStatusRejected || final.Status == domain.OrderStatusCancelled || final.Status == domain.OrderStatusExpired {
			if totalFilled == 0 {
				return fmt.Errorf("order for %s ended in %s", plan.symbol, final.Status)
			}
			break
		}

		if len(plan.slices) > 1 && totalFilled > 0 {
			avgSlippage := slippageWeighted.Div(decimal.NewFromInt(totalFilled))
			if avgSlippage.GreaterThan(abortThreshold) {
				r.logger.Warn().
					Str("symbol", plan.symbol).
					Str("avg_slippage", avgSlippage.String()).
					Str("abort_threshold", abortThreshold.String()).
					Msg("aborting remaining execution slices: cumulative slippage exceeded 1.2x max_slippage")
				break
			}
		}
	}

	if totalFilled == 0 {
		return fmt.Errorf("no fill achieved for %s", plan.symbol)
	}
	return nil
}

// submitWithRetry submits order, applying exactly one adaptive retry for
// a lot-size rejection and one for a stale-price rejection, per the
// spec's broker error handling rules.
func (r *Router) submitWithRetry(ctx context.Context, order domain.Order, plan *executionPlan) (*domain.Order, error) {
	result, err := r.brokerAPI.SubmitOrder(ctx, order)
	if err == nil {
		return result, nil
	}

	var brokerErr *broker.Error
	if !errors.As(err, &brokerErr) {
		return nil, err
	}

	lotSizeCode := r.cfg.LotSizeErrorCode
	if lotSizeCode == "" {
		lotSizeCode = string(broker.ErrCodeLotSize)
	}
	stalePriceCode := r.cfg.StalePriceErrorCode
	if stalePriceCode == "" {
		stalePriceCode = string(broker.ErrCodeStalePrice)
	}

	switch string(brokerErr.Code) {
	case lotSizeCode:
		r.resolver.InvalidateLotSize(order.Symbol)
		newQty := r.resolver.RoundDownToLot(ctx, order.Symbol, order.Quantity)
		if newQty == order.Quantity || newQty == 0 {
			return nil, fmt.Errorf("%w: lot-size rejection did not change quantity (%d)", brokerErr, order.Quantity)
		}
		retryOrder := order
		retryOrder.Quantity = newQty
		r.logger.Info().Str("symbol", order.Symbol).Int64("old_quantity", order.Quantity).Int64("new_quantity", newQty).Msg("retrying order after lot-size rejection")
		return r.brokerAPI.SubmitOrder(ctx, retryOrder)

	case stalePriceCode:
		quotes, qErr := r.quotes.GetRealtimeQuote(ctx, []string{order.Symbol})
		if qErr != nil || len(quotes) == 0 {
			return nil, fmt.Errorf("%w: refresh quote after stale-price rejection: %v", brokerErr, qErr)
		}
		quote := quotes[0]
		bid, ask := quote.Bid, quote.Ask
		if depth, dErr := r.quotes.GetDepth(ctx, order.Symbol); dErr == nil && depth.Bid.IsPositive() && depth.Ask.IsPositive() {
			bid, ask = depth.Bid, depth.Ask
		}
		price := ask
		if order.Side == domain.SideSell {
			price = bid
		}
		retryOrder := order
		retryOrder.LimitPrice = watchlist.SnapToTick(plan.market, price)
		r.logger.Info().Str("symbol", order.Symbol).Str("new_price", retryOrder.LimitPrice.String()).Msg("retrying order after stale-price rejection")
		return r.brokerAPI.SubmitOrder(ctx, retryOrder)

	default:
		return nil, err
	}
}

// pollFill polls the broker's order-detail endpoint every second until a
// terminal status is reached or deadline elapses. A PARTIALLY_FILLED
// order still resting at the deadline is reported as success with
// ExecutedQty < Quantity. A transient poll error is retried; the third
// consecutive error ends polling with an error.
func (r *Router) pollFill(ctx context.Context, order *domain.Order, deadline time.Duration) (*domain.Order, error) {
	if order.BrokerOrderID == "" {
		return order, nil
	}

	deadlineAt := r.clock.Now().Add(deadline)
	failures := 0
	latest := order

	for {
		detail, err := r.brokerAPI.OrderDetail(ctx, order.BrokerOrderID)
		if err != nil {
			failures++
			if failures >= 3 {
				return nil, fmt.Errorf("poll order detail for %s after %d attempts: %w", order.BrokerOrderID, failures, err)
			}
		} else {
			failures = 0
			latest = detail

			switch detail.Status {
			case domain.OrderStatusFilled:
				return detail, nil
			case domain.OrderStatusRejected, domain.OrderStatusCancelled, domain.OrderStatusExpired:
				return detail, nil
			case domain.OrderStatusPartiallyFilled:
				// keep polling
			}
		}

		if r.clock.Now().After(deadlineAt) {
			return latest, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		r.clock.Sleep(time.Second)
	}
}
