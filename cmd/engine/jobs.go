package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/calendar"
	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/queue"
	"github.com/kestrelquant/tradingcore/internal/quotes"
	"github.com/kestrelquant/tradingcore/internal/risk"
	"github.com/kestrelquant/tradingcore/internal/storage"
	"github.com/kestrelquant/tradingcore/internal/strategy"
	"github.com/kestrelquant/tradingcore/internal/watchlist"
)

// engineRuntime bundles every long-lived component a scheduled job needs
// to reach. It is assembled once in main and closed over by the job
// RunFuncs registered with the scheduler.
type engineRuntime struct {
	cfg        *config.Config
	logger     zerolog.Logger
	gateway    *quotes.Client
	store      *storage.PostgresStore
	resolver   *watchlist.Resolver
	cal        *calendar.Calendar
	q          *queue.Queue
	strategies []strategy.Strategy
	regime     *risk.RegimeClassifier
	cb         *risk.CircuitBreaker
	rotator    *risk.CapitalRotator
	account    brokerAccountView
	markets    []domain.Market
}

// currencyForMarket is cmd/engine's own market-to-currency lookup. Unlike
// the private copies in internal/router and internal/broker, which map
// only HK, US and CN and return "" otherwise, it maps SG to SGD and every
// other market to USD.
func currencyForMarket(m domain.Market) string {
	switch m {
	case domain.MarketHK:
		return "HKD"
	case domain.MarketCN:
		return "CNY"
	case domain.MarketSG:
		return "SGD"
	default:
		return "USD"
	}
}

// fetchMarketDataJob pulls and caches the last 120 calendar days of daily
// candles for every watchlist symbol. Run nightly, ahead of scoring, so
// the strategy tick always evaluates against candles already on disk.
func (e *engineRuntime) fetchMarketDataJob(ctx context.Context) error {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -120)

	var failed int
	for _, symbol := range e.resolver.Symbols() {
		candles, err := e.gateway.GetHistoryCandles(ctx, symbol, domain.Period1d, start, end)
		if err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("history fetch failed")
			failed++
			continue
		}
		if e.store != nil && len(candles) > 0 {
			if err := e.store.SaveCandles(ctx, candles); err != nil {
				e.logger.Warn().Err(err).Str("symbol", symbol).Msg("candle persist failed")
			}
		}
	}
	if failed > 0 {
		e.logger.Warn().Int("failed", failed).Msg("fetch-market-data completed with failures")
	}
	return nil
}

// refreshRegimeJob evaluates the regime classifier for every configured
// market and logs the result. The classifier caches nothing itself, so
// this job's only effect is visibility — the rebalancer's RunOnce
// re-derives the regime fresh.
func (e *engineRuntime) refreshRegimeJob(ctx context.Context) error {
	if e.regime == nil {
		return nil
	}
	for _, m := range e.markets {
		state, err := e.regime.Classify(ctx, m)
		if err != nil {
			return fmt.Errorf("classify regime for %s: %w", m, err)
		}
		e.logger.Info().Str("market", string(m)).Str("regime", string(state.Label)).
			Float64("reserve_pct", state.ReservePct).Msg("regime refreshed")
	}
	return nil
}

// refreshCalendarJob extends the cached trading-session table far enough
// ahead that the scheduler's weekday fallback is never exercised during
// normal operation.
func (e *engineRuntime) refreshCalendarJob(ctx context.Context) error {
	return e.cal.EnsureCalendar(ctx, e.markets, e.cfg.Scheduler.CalendarHorizonDays)
}

// rebuildUniverseJob refreshes each watchlist symbol's board-lot and
// currency reference data from the quote gateway's static-info endpoint,
// persisting it so a restart doesn't need a live round trip before the
// first order.
func (e *engineRuntime) rebuildUniverseJob(ctx context.Context) error {
	symbols := e.resolver.Symbols()
	if len(symbols) == 0 {
		return nil
	}
	infos, err := e.gateway.GetStaticInfo(ctx, symbols)
	if err != nil {
		return fmt.Errorf("rebuild universe: %w", err)
	}
	if e.store == nil {
		return nil
	}
	for _, info := range infos {
		if err := e.store.SaveSecurityStatic(ctx, info); err != nil {
			e.logger.Warn().Err(err).Str("symbol", info.Symbol).Msg("security static persist failed")
		}
	}
	return nil
}

// strategyTickJob evaluates every configured strategy against every
// watchlist symbol currently in session, and publishes any resulting
// BUY/EXIT intent onto the signal dispatch queue. A symbol with a
// pending queued signal on the same side is skipped so the queue never
// accumulates duplicate intents for one position decision.
func (e *engineRuntime) strategyTickJob(ctx context.Context) error {
	if e.cb != nil && e.cb.IsTripped() {
		e.logger.Warn().Str("reason", e.cb.TripReason()).Msg("circuit breaker tripped, skipping strategy tick")
		return nil
	}
	for _, symbol := range e.resolver.Symbols() {
		market, ok := domain.MarketFor(symbol)
		if !ok {
			continue
		}
		if e.cal.SessionOf(market, time.Now()) != domain.SessionRegular {
			continue
		}
		if err := e.evaluateSymbol(ctx, symbol, market); err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("strategy tick failed for symbol")
			if e.cb != nil {
				e.cb.RecordFailure(err.Error())
			}
			continue
		}
		if e.cb != nil {
			e.cb.RecordSuccess()
		}
	}
	return nil
}

// evaluateSymbol runs every strategy against one symbol's recent candles
// and publishes the first non-HOLD/non-SKIP intent it produces. Only one
// strategy may act per tick per symbol: letting two strategies queue
// conflicting intents in the same pass would race in the router.
func (e *engineRuntime) evaluateSymbol(ctx context.Context, symbol string, market domain.Market) error {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -120)
	candles, err := e.gateway.GetHistoryCandles(ctx, symbol, domain.Period1d, start, end)
	if err != nil {
		return fmt.Errorf("history for %s: %w", symbol, err)
	}
	if len(candles) < 20 {
		return nil
	}

	regimeLabel := domain.RegimeRange
	regimeConfidence := 0.5
	if e.regime != nil {
		state, err := e.regime.Classify(ctx, market)
		if err == nil {
			regimeLabel = state.Label
			regimeConfidence = 1 - state.ReservePct
		}
	}

	position, availableCapital, openCount, err := e.positionAndCapital(ctx, symbol, market)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", symbol).Msg("account snapshot failed, evaluating flat with zero capital")
	}

	input := strategy.StrategyInput{
		Date:              end,
		Symbol:            symbol,
		Market:            market,
		Regime:            regimeLabel,
		RegimeConfidence:  regimeConfidence,
		Candles:           candles,
		CurrentPosition:   position,
		OpenPositionCount: openCount,
		AvailableCapital:  availableCapital,
	}

	for _, s := range e.strategies {
		intent := s.Evaluate(input)
		if intent.Action != strategy.ActionBuy && intent.Action != strategy.ActionExit {
			continue
		}

		side := domain.SideBuy
		if intent.Action == strategy.ActionExit {
			side = domain.SideSell
		}

		pending, err := e.q.HasPending(ctx, symbol, side)
		if err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("pending check failed, publishing anyway")
		} else if pending {
			continue
		}

		signal := domain.NewSignal(symbol, side, intent.Quantity,
			intent.Price, intent.Score, intent.StrategyID)
		signal.StopLoss = intent.StopLoss
		signal.Reason = intent.Reason

		if side == domain.SideBuy {
			e.maybeTriggerRotation(ctx, signal, market)
		}

		if !e.q.Publish(ctx, signal, signal.Score) {
			e.logger.Warn().Str("symbol", symbol).Msg("signal publish failed")
		}
		return nil
	}
	return nil
}

// positionAndCapital looks up the symbol's current open position (nil if
// flat), the free cash available in the market's settlement currency, and
// how many symbols currently carry an open position. It returns partial
// results alongside the first error encountered so a broker hiccup
// degrades a strategy tick to flat/zero-capital instead of aborting it.
func (e *engineRuntime) positionAndCapital(ctx context.Context, symbol string, market domain.Market) (*domain.Position, decimal.Decimal, int, error) {
	positions, err := e.account.GetPositions(ctx)
	if err != nil {
		return nil, decimal.Zero, 0, fmt.Errorf("positions lookup: %w", err)
	}

	var current *domain.Position
	openCount := 0
	for i := range positions {
		if positions[i].Quantity == 0 {
			continue
		}
		openCount++
		if positions[i].Symbol == symbol {
			current = &positions[i]
		}
	}

	balances, err := e.account.GetAccountBalances(ctx)
	if err != nil {
		return current, decimal.Zero, openCount, fmt.Errorf("balance lookup: %w", err)
	}
	currency := currencyForMarket(market)
	var available decimal.Decimal
	for _, b := range balances {
		if b.Currency == currency {
			available = b.Cash
			break
		}
	}

	return current, available, openCount, nil
}

// maybeTriggerRotation opens a capital-rotation pass when a high-score
// BUY signal's required cash exceeds what the account currently holds
// in that market's settlement currency, selling down the weakest open
// positions to fund it. The original signal is published either way —
// rotation only improves the router's cash-fallback sizing by the time
// it drains the queue, it never blocks the signal itself.
func (e *engineRuntime) maybeTriggerRotation(ctx context.Context, signal domain.Signal, market domain.Market) {
	if e.rotator == nil {
		return
	}
	currency := currencyForMarket(market)
	requiredCash := signal.ReferencePrice.Mul(decimal.NewFromInt(signal.QuantityShares))

	trigger := risk.RotationTrigger{
		Symbol:       signal.Symbol,
		Market:       market,
		Currency:     currency,
		SignalScore:  signal.Score,
		RequiredCash: requiredCash,
	}
	if !risk.ShouldTrigger(trigger) {
		return
	}

	balances, err := e.account.GetAccountBalances(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("rotation: account balance lookup failed")
		return
	}
	var cash decimal.Decimal
	for _, b := range balances {
		if b.Currency == currency {
			cash = b.Cash
			break
		}
	}
	if cash.GreaterThanOrEqual(requiredCash) {
		return
	}

	positions, err := e.account.GetPositions(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("rotation: position lookup failed")
		return
	}
	var portfolioValue decimal.Decimal
	for _, p := range positions {
		portfolioValue = portfolioValue.Add(p.AverageCost.Mul(decimal.NewFromInt(p.Quantity)))
	}

	plan, err := e.rotator.TriggerRotation(ctx, trigger, portfolioValue, time.Now())
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", signal.Symbol).Msg("capital rotation failed")
		return
	}
	if len(plan) > 0 {
		e.logger.Info().Str("symbol", signal.Symbol).Int("sells", len(plan)).Msg("capital rotation triggered")
	}
}

