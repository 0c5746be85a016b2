// Package router implements the smart order router.
//
// Design rules:
//   - The router is the only component allowed to submit broker orders.
//   - Every order traces back to the signal that produced it.
//   - A rejected or failed submission must leave the queue item in a
//     state from which it can be retried or inspected, never silently
//     dropped.
//   - No execution style may exceed the urgency or order-type limits
//     imposed by the after-hours safety rules.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/broker"
	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/risk"
)

// queueSource is the slice of internal/queue.Queue the router consumes.
type queueSource interface {
	Consume(ctx context.Context) (domain.Signal, bool)
	MarkCompleted(ctx context.Context, intent domain.Signal) bool
	MarkFailed(ctx context.Context, intent domain.Signal, errMsg string, retry bool) bool
}

// riskValidator is the slice of internal/risk.Manager the router calls
// immediately before translating a signal into broker orders.
type riskValidator interface {
	Validate(ctx context.Context, signal domain.Signal, positions []domain.Position, equity decimal.Decimal, now time.Time) risk.ValidationResult
	RecordOrderSubmitted(at time.Time)
}

// quoteSource is the slice of internal/quotes.Client the router needs for
// pricing and spread decisions.
type quoteSource interface {
	GetRealtimeQuote(ctx context.Context, symbols []string) ([]domain.Quote, error)
	GetDepth(ctx context.Context, symbol string) (domain.Depth, error)
}

// symbolResolver is the slice of internal/watchlist.Resolver the router
// needs to validate and round intent quantities.
type symbolResolver interface {
	Contains(symbol string) bool
	LotSize(ctx context.Context, symbol string) int64
	RoundDownToLot(ctx context.Context, symbol string, qty int64) int64
	InvalidateLotSize(symbol string)
}

// sessionSource is the slice of internal/calendar.Calendar the router
// needs for after-hours safety decisions.
type sessionSource interface {
	SessionOf(market domain.Market, now time.Time) domain.Session
}

// execBroker is the slice of broker.Broker the router drives directly.
type execBroker interface {
	SubmitOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	OrderDetail(ctx context.Context, brokerOrderID string) (*domain.Order, error)
	TodayOrders(ctx context.Context) ([]domain.Order, error)
	EstimateMaxPurchaseQuantity(ctx context.Context, symbol string, price decimal.Decimal) (int64, error)
	AccountBalances(ctx context.Context) ([]broker.AccountBalance, error)
	StockPositions(ctx context.Context) ([]domain.Position, error)
}

// orderRecorder is the slice of internal/storage.PostgresStore the router
// writes every order and fill to.
type orderRecorder interface {
	SaveOrder(ctx context.Context, o domain.Order) error
	UpdateOrderStatus(ctx context.Context, brokerOrderID string, status domain.OrderStatus, executedQty int64, executedPrice decimal.Decimal) error
	SaveFill(ctx context.Context, f domain.Fill) error
}

// volumeSource supplies a recent average daily volume, used to size
// ICEBERG/TWAP/VWAP eligibility. It is optional: a nil volumeSource (or
// one returning an error) simply removes those styles from consideration.
type volumeSource interface {
	AverageDailyVolume(ctx context.Context, symbol string) (int64, error)
	// IntradayVolumeProfile returns fractional weights (summing to ~1)
	// across the VWAP slicing window. An empty slice or an error means
	// no profile is available for symbol right now.
	IntradayVolumeProfile(ctx context.Context, symbol string, now time.Time) ([]float64, error)
}

// Clock lets tests substitute a fixed time and a no-op sleep for the
// router's poll loops and inter-slice delays.
type Clock struct {
	Now   func() time.Time
	Sleep func(d time.Duration)
}

func defaultClock() Clock {
	return Clock{Now: time.Now, Sleep: time.Sleep}
}

// Router is the sole consumer of the signal dispatch queue. It validates
// each intent, chooses an execution style, submits and tracks the
// resulting broker order(s), and persists the outcome.
type Router struct {
	queue    queueSource
	risk     riskValidator
	quotes   quoteSource
	resolver symbolResolver
	calendar sessionSource
	brokerAPI execBroker
	store    orderRecorder
	volume   volumeSource // optional

	cfg    config.RouterConfig
	logger zerolog.Logger
	clock  Clock
}

// Deps bundles every collaborator the router needs. Volume is optional.
type Deps struct {
	Queue     queueSource
	Risk      riskValidator
	Quotes    quoteSource
	Resolver  symbolResolver
	Calendar  sessionSource
	Broker    execBroker
	Store     orderRecorder
	Volume    volumeSource
}

// New builds a Router. cfg is read fresh from a pointer-free copy each
// call to UpdateConfig, so hot-reloaded limits take effect on the next
// signal without restarting the consume loop.
func New(deps Deps, cfg config.RouterConfig, logger zerolog.Logger) *Router {
	return &Router{
		queue:     deps.Queue,
		risk:      deps.Risk,
		quotes:    deps.Quotes,
		resolver:  deps.Resolver,
		calendar:  deps.Calendar,
		brokerAPI: deps.Broker,
		store:     deps.Store,
		volume:    deps.Volume,
		cfg:       cfg,
		logger:    logger.With().Str("component", "router").Logger(),
		clock:     defaultClock(),
	}
}

// UpdateConfig replaces the router's configuration, used by config
// hot-reload.
func (r *Router) UpdateConfig(cfg config.RouterConfig) {
	r.cfg = cfg
}

// Run drains the queue until ctx is cancelled. A consume miss (empty
// queue) backs off briefly rather than busy-spinning.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		signal, ok := r.queue.Consume(ctx)
		if !ok {
			r.clock.Sleep(500 * time.Millisecond)
			continue
		}

		r.logger.Info().
			Str("symbol", signal.Symbol).
			Str("side", string(signal.Side)).
			Str("strategy", signal.StrategyName).
			Msg("dispatching signal")

		if err := r.ProcessSignal(ctx, signal); err != nil {
			retry := !errors.Is(err, errPermanentRejection)
			r.logger.Warn().Err(err).Str("symbol", signal.Symbol).Bool("retry", retry).Msg("signal processing failed")
			r.queue.MarkFailed(ctx, signal, err.Error(), retry)
			continue
		}

		r.queue.MarkCompleted(ctx, signal)
	}
}

// errPermanentRejection marks failures that retrying will not fix (the
// symbol isn't tradeable, the lot-rounded quantity is zero, risk
// rejected the signal outright). Wrap it with fmt.Errorf("...: %w", ...)
// so errors.Is sees through the wrapping.
var errPermanentRejection = errors.New("permanent rejection")

// ProcessSignal runs one signal through risk validation, the router's own
// pre-submission pipeline, execution-style selection, and order
// submission, persisting every order and fill along the way. A returned
// error wrapping errPermanentRejection tells the caller not to retry.
func (r *Router) ProcessSignal(ctx context.Context, signal domain.Signal) error {
	now := r.clock.Now()

	if done, err := r.dedupeAgainstTodayOrders(ctx, signal); err != nil {
		r.logger.Warn().Err(err).Str("symbol", signal.Symbol).Msg("today_orders dedupe check failed, proceeding without it")
	} else if done {
		r.logger.Info().Str("symbol", signal.Symbol).Str("signal_id", signal.ID.String()).
			Msg("signal already has a live broker order, skipping resubmission")
		return nil
	}

	positions, err := r.brokerAPI.StockPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	balances, err := r.brokerAPI.AccountBalances(ctx)
	if err != nil {
		return fmt.Errorf("fetch balances: %w", err)
	}
	equity := accountEquity(balances, positions)

	result := r.risk.Validate(ctx, signal, positions, equity, now)
	if !result.Approved {
		return fmt.Errorf("%w: %s", errPermanentRejection, joinRejections(result.Rejections))
	}

	plan, err := r.buildPlan(ctx, signal, balances, now)
	if err != nil {
		if errors.Is(err, errPermanentRejection) {
			return err
		}
		return fmt.Errorf("build execution plan: %w", err)
	}

	r.risk.RecordOrderSubmitted(now)

	return r.execute(ctx, plan)
}

// accountEquity approximates total account equity as cash across every
// currency plus the cost-basis book value of open positions. The engine
// does not convert across currencies; multi-currency accounts are
// expected to keep each market's sleeve roughly self-funded so this sum
// stays a meaningful single number for risk's percentage-based checks.
func accountEquity(balances []broker.AccountBalance, positions []domain.Position) decimal.Decimal {
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b.Cash)
	}
	for _, p := range positions {
		total = total.Add(p.AverageCost.Mul(decimal.NewFromInt(p.Quantity)))
	}
	return total
}

// dedupeAgainstTodayOrders implements the at-most-once half of the
// queue's at-least-once redelivery contract: a signal can reappear on
// Consume after a router crash between submission and MarkCompleted
// (a "zombie" signal the queue's visibility-timeout reaper requeued).
// Before submitting anything, check whether today's broker orders
// already contain one carrying this signal's ID. If one does and it
// hasn't ended in a terminal failure, the original submission went
// through; ProcessSignal returns success without resubmitting rather
// than risk a duplicate live order. A broker order found in a
// rejected/cancelled/expired terminal state is not a duplicate to
// protect against — resubmission is exactly what should happen next.
func (r *Router) dedupeAgainstTodayOrders(ctx context.Context, signal domain.Signal) (bool, error) {
	if signal.RetryCount == 0 {
		return false, nil
	}

	orders, err := r.brokerAPI.TodayOrders(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch today's orders: %w", err)
	}

	signalID := signal.ID.String()
	for _, o := range orders {
		if o.SignalID != signalID {
			continue
		}
		switch o.Status {
		case domain.OrderStatusRejected, domain.OrderStatusCancelled, domain.OrderStatusExpired:
			continue
		default:
			return true, nil
		}
	}
	return false, nil
}

func joinRejections(reasons []risk.RejectionReason) string {
	msg := ""
	for i, rr := range reasons {
		if i > 0 {
			msg += "; "
		}
		msg += rr.Error()
	}
	if msg == "" {
		msg = "rejected with no reason recorded"
	}
	return msg
}
