package main

import (
	"context"
	"time"

	"github.com/kestrelquant/tradingcore/internal/broker"
	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/quotes"
	"github.com/kestrelquant/tradingcore/internal/risk"
)

// brokerAccountView bridges broker.Broker's richer account surface onto
// the narrower shape the risk package's rebalancer and rotator expect
// (GetPositions/GetAccountBalances, risk.AccountBalance{Currency,Cash}).
// The rebalancer sizes against cash alone; margin headroom stays the
// router's concern via execBroker.EstimateMaxPurchaseQuantity.
type brokerAccountView struct {
	b broker.Broker
}

func (a brokerAccountView) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return a.b.StockPositions(ctx)
}

func (a brokerAccountView) GetAccountBalances(ctx context.Context) ([]risk.AccountBalance, error) {
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

// quotesLotSizeSource adapts quotes.Client's static-info lookup onto
// watchlist.LotSizeSource, so the resolver's cache has a real source to
// fall back to instead of only the US/HK/CN/SG default.
type quotesLotSizeSource struct {
	client *quotes.Client
}

func (s quotesLotSizeSource) LotSize(ctx context.Context, symbol string) (int64, error) {
	infos, err := s.client.GetStaticInfo(ctx, []string{symbol})
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

// quotesVolumeSource adapts quotes.Client's history candles into the
// router's optional volumeSource, used to decide ICEBERG/TWAP/VWAP
// eligibility. A flat intraday profile stands in for a real volume-curve
// model: equal-weighted slices across the trading day.
type quotesVolumeSource struct {
	client *quotes.Client
}

const volumeProfileSlices = 8

func (s quotesVolumeSource) AverageDailyVolume(ctx context.Context, symbol string) (int64, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -20)
	candles, err := s.client.GetHistoryCandles(ctx, symbol, domain.Period1d, start, end)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	var total int64
	for _, c := range candles {
		total += c.Volume
	}
	return total / int64(len(candles)), nil
}

func (s quotesVolumeSource) IntradayVolumeProfile(_ context.Context, _ string, _ time.Time) ([]float64, error) {
	weights := make([]float64, volumeProfileSlices)
	for i := range weights {
		weights[i] = 1.0 / float64(volumeProfileSlices)
	}
	return weights, nil
}
