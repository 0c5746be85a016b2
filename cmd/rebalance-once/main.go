// rebalance-once manually triggers a single regime-rebalancing pass for
// one market, outside the scheduler's in-session rebalancer tick. Useful for forcing a
// reserve-target reassessment right after a config change, without
// waiting for the next scheduled tick.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/broker"
	"github.com/kestrelquant/tradingcore/internal/calendar"
	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/queue"
	"github.com/kestrelquant/tradingcore/internal/quotes"
	"github.com/kestrelquant/tradingcore/internal/risk"
	"github.com/kestrelquant/tradingcore/internal/storage"
	"github.com/kestrelquant/tradingcore/internal/watchlist"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	marketFlag := flag.String("market", "", "market to rebalance: HK | US | CN | SG")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	market := domain.Market(strings.ToUpper(strings.TrimSpace(*marketFlag)))
	switch market {
	case domain.MarketHK, domain.MarketUS, domain.MarketCN, domain.MarketSG:
	default:
		logger.Fatal().Str("market", *marketFlag).Msg("--market is required: HK, US, CN, or SG")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to storage")
	}
	defer store.Close()

	var activeBroker broker.Broker
	if cfg.TradingMode == config.ModePaper {
		activeBroker = broker.NewPaperBroker("USD", decimal.NewFromInt(1_000_000))
	} else {
		brokerCfg, ok := cfg.BrokerConfig[cfg.ActiveBroker]
		if !ok {
			logger.Fatal().Str("broker", cfg.ActiveBroker).Msg("no broker_config entry for active broker")
		}
		activeBroker, err = broker.New(cfg.ActiveBroker, brokerCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize broker")
		}
	}

	cal := calendar.New(store, nil, logger)

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

	var resolver *watchlist.Resolver
	source := lotSizeFromGateway{gateway: gateway}
	if cfg.WatchlistSource == config.WatchlistFile {
		resolver, err = watchlist.LoadFromFile(cfg.WatchlistPath, source, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load watchlist")
		}
	} else {
		resolver = watchlist.New(nil, source, logger)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer redisClient.Close()
	signalQueue := queue.New(redisClient, queue.Config{
		PendingKey:    cfg.Queue.SignalQueueKey,
		ProcessingKey: cfg.Queue.SignalQueueKey + ":processing",
		FailedKey:     cfg.Queue.SignalQueueKey + ":failed",
		MaxRetries:    cfg.Queue.SignalMaxRetries,
	}, logger)

	regimeClassifier := risk.NewRegimeClassifier(gateway, cfg.Regime, logger)
	accountView := accountView{b: activeBroker}
	rebalancer := risk.NewRebalancer(accountView, gateway, signalQueue, resolver, regimeClassifier, cal, cfg.Regime, logger)

	plan, err := rebalancer.RunOnce(ctx, market, time.Now())
	if err != nil {
		logger.Fatal().Err(err).Msg("rebalance pass failed")
	}

	fmt.Printf("rebalance pass for %s: %d sell(s) queued\n", market, len(plan))
	for _, item := range plan {
		fmt.Printf("  SELL %-12s qty=%d reason=%s\n", item.Symbol, item.SellQty, item.Reason)
	}
}

// accountView adapts broker.Broker onto the rebalancer's narrow
// accountSource interface, the same bridge cmd/engine keeps for the
// long-running process.
type accountView struct {
	b broker.Broker
}

func (a accountView) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return a.b.StockPositions(ctx)
}

func (a accountView) GetAccountBalances(ctx context.Context) ([]risk.AccountBalance, error) {
	balances, err := a.b.AccountBalances(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]risk.AccountBalance, len(balances))
	for i, bal := range balances {
		out[i] = risk.AccountBalance{Currency: bal.Currency, Cash: bal.Cash}
	}
	return out, nil
}

// lotSizeFromGateway adapts the quote gateway's static-info lookup onto
// watchlist.LotSizeSource.
type lotSizeFromGateway struct {
	gateway *quotes.Client
}

func (s lotSizeFromGateway) LotSize(ctx context.Context, symbol string) (int64, error) {
	infos, err := s.gateway.GetStaticInfo(ctx, []string{symbol})
	if err != nil {
		return 0, err
	}
	for _, info := range infos {
		if info.Symbol == symbol {
			return info.LotSize, nil
		}
	}
	return 0, nil
}
