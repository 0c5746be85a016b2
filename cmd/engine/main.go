// Package main is the entry point for the trading engine.
//
// The engine:
//  1. Loads configuration.
//  2. Initializes every component: broker, storage, calendar, quote
//     gateway, watchlist resolver, signal queue, risk controller, smart
//     order router, and strategy set.
//  3. Runs the C1 market-session scheduler, which fires nightly, weekly,
//     and market-hour jobs and ticks the regime rebalancer while any
//     configured market is open.
//  4. The router drains the signal queue concurrently, validating every
//     intent against hard risk limits before any broker call.
//
// Modes:
//   - "run":     start the full engine (scheduler + router) and block until signaled.
//   - "nightly": run the nightly job cycle once and exit.
//   - "status":  print current market/account status and exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/broker"
	"github.com/kestrelquant/tradingcore/internal/calendar"
	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/notify"
	"github.com/kestrelquant/tradingcore/internal/queue"
	"github.com/kestrelquant/tradingcore/internal/quotes"
	"github.com/kestrelquant/tradingcore/internal/risk"
	"github.com/kestrelquant/tradingcore/internal/router"
	"github.com/kestrelquant/tradingcore/internal/scheduler"
	"github.com/kestrelquant/tradingcore/internal/storage"
	"github.com/kestrelquant/tradingcore/internal/strategy"
	"github.com/kestrelquant/tradingcore/internal/watchlist"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	mode := flag.String("mode", "run", "run mode: run | nightly | status")
	confirmLive := flag.Bool("confirm-live", false, "required safety flag to run in live trading mode")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = logger.With().Str("account_id", cfg.AccountID).Logger()
	logger.Info().Str("broker", cfg.ActiveBroker).Str("trading_mode", string(cfg.TradingMode)).
		Bool("dry_run", cfg.DryRun).Msg("config loaded")

	if cfg.TradingMode == config.ModeLive {
		requireLiveConfirmation(*confirmLive, logger)
	}

	markets, err := parseMarkets(cfg.Markets)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid markets configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to storage")
	}
	defer store.Close()

	activeBroker, err := newBroker(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize broker")
	}

	cal := calendar.New(store, nil, logger)
	if err := cal.EnsureCalendar(ctx, markets, cfg.Scheduler.CalendarHorizonDays); err != nil {
		logger.Warn().Err(err).Msg("initial calendar load failed, falling back to weekday rule")
	}

	gateway := quotes.New(quotes.Config{
		REST: quotes.RESTConfig{
			BaseURL:           cfg.Quotes.BaseURL,
			AccessToken:       cfg.Quotes.AccessToken,
			ClientID:          cfg.Quotes.ClientID,
			RateLimitInterval: time.Duration(cfg.Quotes.RateLimitIntervalMillis) * time.Millisecond,
		},
		WSURL: cfg.Quotes.WSURL,
	}, logger)
	defer gateway.Close()

	resolver, err := newResolver(cfg, gateway, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build watchlist resolver")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer redisClient.Close()
	signalQueue := queue.New(redisClient, queue.Config{
		PendingKey:    cfg.Queue.SignalQueueKey,
		ProcessingKey: cfg.Queue.SignalQueueKey + ":processing",
		FailedKey:     cfg.Queue.SignalQueueKey + ":failed",
		MaxRetries:    cfg.Queue.SignalMaxRetries,
	}, logger)

	drawdown := risk.NewDrawdownTracker(store, decimal.NewFromFloat(0), logger)
	riskManager := risk.NewManager(cfg.Risk, drawdown, logger)
	circuitBreaker := risk.NewCircuitBreaker(cfg.Risk.CircuitBreaker, logger)
	regimeClassifier := risk.NewRegimeClassifier(gateway, cfg.Regime, logger)

	accountView := brokerAccountView{b: activeBroker}
	rebalancer := risk.NewRebalancer(accountView, gateway, signalQueue, resolver, regimeClassifier, cal, cfg.Regime, logger)
	rotator := risk.NewCapitalRotator(accountView, gateway, gateway, signalQueue, resolver, regimeClassifier, cal, logger)

	orderRouter := router.New(router.Deps{
		Queue:    signalQueue,
		Risk:     riskManager,
		Quotes:   gateway,
		Resolver: resolver,
		Calendar: cal,
		Broker:   activeBroker,
		Store:    store,
		Volume:   quotesVolumeSource{client: gateway},
	}, cfg.Router, logger)

	notifier := notify.New(cfg.Notify, logger)
	if cfg.NotificationsEnabled {
		notifier.Notify(ctx, notify.Event{Level: notify.LevelInfo, Message: fmt.Sprintf("engine starting in %s mode", cfg.TradingMode)})
	}

	strategies := buildStrategies(cfg)

	runtime := &engineRuntime{
		cfg:        cfg,
		logger:     logger,
		gateway:    gateway,
		store:      store,
		resolver:   resolver,
		cal:        cal,
		q:          signalQueue,
		strategies: strategies,
		regime:     regimeClassifier,
		cb:         circuitBreaker,
		rotator:    rotator,
		account:    accountView,
		markets:    markets,
	}

	sched := scheduler.New(scheduler.Deps{
		Calendar:   cal,
		Markets:    markets,
		Rebalancer: rebalancer,
	}, cfg.Scheduler, cfg.Regime, logger)

	sched.RegisterJob(scheduler.Job{Name: "fetch-market-data", Type: scheduler.JobTypeNightly, RunFunc: runtime.fetchMarketDataJob})
	sched.RegisterJob(scheduler.Job{Name: "refresh-regime", Type: scheduler.JobTypeNightly, RunFunc: runtime.refreshRegimeJob})
	sched.RegisterJob(scheduler.Job{Name: "refresh-calendar", Type: scheduler.JobTypeNightly, RunFunc: runtime.refreshCalendarJob})
	sched.RegisterJob(scheduler.Job{Name: "strategy-tick", Type: scheduler.JobTypeMarketHour, RunFunc: runtime.strategyTickJob})
	sched.RegisterJob(scheduler.Job{Name: "rebuild-universe", Type: scheduler.JobTypeWeekly, RunFunc: runtime.rebuildUniverseJob})

	switch *mode {
	case "status":
		runStatus(ctx, cal, activeBroker, cfg, markets, logger)

	case "nightly":
		if err := sched.RunNightlyJobs(ctx); err != nil {
			logger.Fatal().Err(err).Msg("nightly job cycle failed")
		}

	case "run":
		watcher := config.NewConfigWatcher(*configPath, cfg, logger)
		watcher.OnChange(func(old, new *config.Config) {
			riskManager.UpdateConfig(new.Risk)
			circuitBreaker.UpdateConfig(new.Risk.CircuitBreaker)
			orderRouter.UpdateConfig(new.Router)
			rebalancer.UpdateConfig(new.Regime)
			sched.UpdateRegimeConfig(new.Regime)
			logger.Info().Msg("hot-reloaded risk/router/regime config")
		})
		if err := watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("config watcher failed to start")
		}
		defer watcher.Stop()

		if err := sched.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start scheduler cron")
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := orderRouter.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("router loop exited unexpectedly")
			}
		}()

		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("scheduler loop exited unexpectedly")
		}

		sched.Stop()
		wg.Wait()
		logger.Info().Msg("engine shut down cleanly")

	default:
		logger.Fatal().Str("mode", *mode).Msg("unknown mode: expected run, nightly, or status")
	}
}

// requireLiveConfirmation enforces the two-factor live-mode gate: both
// the --confirm-live flag and the ENGINE_LIVE_CONFIRMED env var must be
// present before a single real order can be placed.
func requireLiveConfirmation(confirmFlag bool, logger zerolog.Logger) {
	envConfirmed := os.Getenv("ENGINE_LIVE_CONFIRMED") == "true"
	if confirmFlag && envConfirmed {
		logger.Warn().Msg("LIVE MODE ACTIVE — real orders will be placed")
		return
	}
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "  LIVE MODE BLOCKED — two explicit confirmations are required:")
	fmt.Fprintln(os.Stderr, "    1. CLI flag:  --confirm-live")
	fmt.Fprintln(os.Stderr, "    2. Env var:   ENGINE_LIVE_CONFIRMED=true")
	fmt.Fprintln(os.Stderr, "")
	if !confirmFlag {
		fmt.Fprintln(os.Stderr, "  missing: --confirm-live")
	}
	if !envConfirmed {
		fmt.Fprintln(os.Stderr, "  missing: ENGINE_LIVE_CONFIRMED=true")
	}
	fmt.Fprintln(os.Stderr, "")
	os.Exit(2)
}

// newBroker selects the paper or live broker implementation per
// cfg.TradingMode. Paper mode never touches cfg.BrokerConfig.
func newBroker(cfg *config.Config) (broker.Broker, error) {
	if cfg.TradingMode == config.ModePaper {
		return broker.NewPaperBroker("USD", decimal.NewFromInt(1_000_000)), nil
	}
	brokerCfg, ok := cfg.BrokerConfig[cfg.ActiveBroker]
	if !ok {
		return nil, fmt.Errorf("no broker_config entry for active broker %q", cfg.ActiveBroker)
	}
	return broker.New(cfg.ActiveBroker, brokerCfg)
}

// newResolver builds the C2 watchlist resolver per cfg.WatchlistSource,
// wiring the quote gateway in as its lot-size source either way.
func newResolver(cfg *config.Config, gateway *quotes.Client, logger zerolog.Logger) (*watchlist.Resolver, error) {
	source := quotesLotSizeSource{client: gateway}
	if cfg.WatchlistSource == config.WatchlistFile {
		return watchlist.LoadFromFile(cfg.WatchlistPath, source, logger)
	}
	return watchlist.New(nil, source, logger), nil
}

// parseMarkets converts the config's string market codes into
// domain.Market values, rejecting anything unrecognized up front rather
// than silently dropping it at calendar/scheduler wiring time.
func parseMarkets(raw []string) ([]domain.Market, error) {
	out := make([]domain.Market, 0, len(raw))
	for _, s := range raw {
		m := domain.Market(strings.ToUpper(strings.TrimSpace(s)))
		switch m {
		case domain.MarketHK, domain.MarketUS, domain.MarketCN, domain.MarketSG:
			out = append(out, m)
		default:
			return nil, fmt.Errorf("unknown market %q", s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one market is required")
	}
	return out, nil
}

// buildStrategies instantiates the configured strategy set. "all" (the
// default) runs every strategy; any other value is treated as a
// comma-separated allow-list of strategy IDs.
func buildStrategies(cfg *config.Config) []strategy.Strategy {
	all := []strategy.Strategy{
		strategy.NewBollingerSqueezeStrategy(cfg.Risk),
		strategy.NewBreakoutStrategy(cfg.Risk),
		strategy.NewMACDCrossoverStrategy(cfg.Risk),
		strategy.NewMeanReversionStrategy(cfg.Risk),
		strategy.NewMomentumStrategy(cfg.Risk),
		strategy.NewORBStrategy(cfg.Risk),
		strategy.NewPullbackStrategy(cfg.Risk),
		strategy.NewTrendFollowStrategy(cfg.Risk),
		strategy.NewVWAPReversionStrategy(cfg.Risk),
	}
	if cfg.StrategyMode == "" || cfg.StrategyMode == "all" {
		return all
	}

	allowed := make(map[string]struct{})
	for _, id := range strings.Split(cfg.StrategyMode, ",") {
		allowed[strings.TrimSpace(id)] = struct{}{}
	}
	filtered := make([]strategy.Strategy, 0, len(all))
	for _, s := range all {
		if _, ok := allowed[s.ID()]; ok {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// runStatus prints a snapshot of market sessions and account balances.
func runStatus(ctx context.Context, cal *calendar.Calendar, b broker.Broker, cfg *config.Config, markets []domain.Market, logger zerolog.Logger) {
	now := time.Now()
	fmt.Printf("=== Engine status (%s) ===\n", now.Format(time.RFC3339))
	fmt.Printf("Trading mode: %s\n", cfg.TradingMode)
	fmt.Printf("Active broker: %s\n", cfg.ActiveBroker)
	for _, m := range markets {
		fmt.Printf("Market %s: %s\n", m, cal.SessionOf(m, now))
	}

	balances, err := b.AccountBalances(ctx)
	if err != nil {
		fmt.Printf("Account balances: error - %v\n", err)
		return
	}
	for _, bal := range balances {
		fmt.Printf("Balance [%s]: cash=%s buy_power=%s margin_used=%s\n",
			bal.Currency, bal.Cash, bal.BuyPower, bal.MarginUsed)
	}

	positions, err := b.StockPositions(ctx)
	if err != nil {
		fmt.Printf("Positions: error - %v\n", err)
		return
	}
	fmt.Printf("Open positions: %d\n", len(positions))
	for _, p := range positions {
		fmt.Printf("  %-12s qty=%-8d avg_cost=%s market=%s\n", p.Symbol, p.Quantity, p.AverageCost, p.Market)
	}
}
