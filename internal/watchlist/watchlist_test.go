package watchlist

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

type fakeLotSource struct {
	lots map[string]int64
	err  error
}

func (s *fakeLotSource) LotSize(ctx context.Context, symbol string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.lots[symbol], nil
}

func TestResolver_ContainsIsCaseInsensitive(t *testing.T) {
	r := New([]string{"0700.HK", "AAPL.US"}, nil, zerolog.Nop())
	if !r.Contains("0700.hk") {
		t.Error("expected case-insensitive match")
	}
	if r.Contains("9999.HK") {
		t.Error("expected symbol outside watchlist to be rejected")
	}
}

func TestLotSize_UsesSourceWhenAvailable(t *testing.T) {
	src := &fakeLotSource{lots: map[string]int64{"0700.HK": 500}}
	r := New([]string{"0700.HK"}, src, zerolog.Nop())

	if got := r.LotSize(context.Background(), "0700.HK"); got != 500 {
		t.Errorf("expected lot size 500, got %d", got)
	}
}

func TestLotSize_FallsBackToMarketDefaultOnSourceError(t *testing.T) {
	src := &fakeLotSource{err: errors.New("boom")}
	r := New([]string{"0700.HK", "AAPL.US"}, src, zerolog.Nop())

	if got := r.LotSize(context.Background(), "0700.HK"); got != 100 {
		t.Errorf("expected HK default lot 100, got %d", got)
	}
	if got := r.LotSize(context.Background(), "AAPL.US"); got != 1 {
		t.Errorf("expected US default lot 1, got %d", got)
	}
}

func TestLotSize_CachesResult(t *testing.T) {
	src := &fakeLotSource{lots: map[string]int64{"0700.HK": 200}}
	r := New([]string{"0700.HK"}, src, zerolog.Nop())

	r.LotSize(context.Background(), "0700.HK")
	src.lots["0700.HK"] = 999 // change underlying source
	if got := r.LotSize(context.Background(), "0700.HK"); got != 200 {
		t.Errorf("expected cached lot size 200, got %d", got)
	}
}

func TestInvalidateLotSize_ForcesRefetch(t *testing.T) {
	src := &fakeLotSource{lots: map[string]int64{"0700.HK": 200}}
	r := New([]string{"0700.HK"}, src, zerolog.Nop())

	r.LotSize(context.Background(), "0700.HK")
	src.lots["0700.HK"] = 500
	r.InvalidateLotSize("0700.HK")

	if got := r.LotSize(context.Background(), "0700.HK"); got != 500 {
		t.Errorf("expected refreshed lot size 500 after invalidation, got %d", got)
	}
}

func TestRoundDownToLot(t *testing.T) {
	src := &fakeLotSource{lots: map[string]int64{"0700.HK": 100}}
	r := New([]string{"0700.HK"}, src, zerolog.Nop())

	if got := r.RoundDownToLot(context.Background(), "0700.HK", 350); got != 300 {
		t.Errorf("expected 350 rounded down to 300, got %d", got)
	}
	if got := r.RoundDownToLot(context.Background(), "0700.HK", 50); got != 0 {
		t.Errorf("expected quantity below one lot to round to 0, got %d", got)
	}
}

func TestRoundDownToLot_AfterLotSizeChangeYieldsZero(t *testing.T) {
	// Stale lot cache (100), real lot is 500: 300 shares re-rounds to 0
	// once the cache is invalidated and refreshed.
	src := &fakeLotSource{lots: map[string]int64{"0700.HK": 100}}
	r := New([]string{"0700.HK"}, src, zerolog.Nop())
	r.LotSize(context.Background(), "0700.HK")
	src.lots["0700.HK"] = 500
	r.InvalidateLotSize("0700.HK")

	if got := r.RoundDownToLot(context.Background(), "0700.HK", 300); got != 0 {
		t.Errorf("expected 300 shares at lot 500 to round to 0, got %d", got)
	}
}

func TestTickSize_USFlat(t *testing.T) {
	got := TickSize(domain.MarketUS, decimal.NewFromInt(5000))
	if !got.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("expected flat 0.01 tick for US, got %s", got)
	}
}

func TestTickSize_HKBands(t *testing.T) {
	cases := []struct {
		price decimal.Decimal
		tick  decimal.Decimal
	}{
		{decimal.NewFromFloat(0.20), decimal.NewFromFloat(0.001)},
		{decimal.NewFromFloat(0.40), decimal.NewFromFloat(0.005)},
		{decimal.NewFromInt(5), decimal.NewFromFloat(0.01)},
		{decimal.NewFromInt(15), decimal.NewFromFloat(0.02)},
		{decimal.NewFromInt(50), decimal.NewFromFloat(0.05)},
		{decimal.NewFromInt(150), decimal.NewFromFloat(0.10)},
		{decimal.NewFromInt(350), decimal.NewFromFloat(0.20)},
		{decimal.NewFromInt(800), decimal.NewFromFloat(0.50)},
		{decimal.NewFromInt(1500), decimal.NewFromFloat(1.00)},
		{decimal.NewFromInt(3000), decimal.NewFromFloat(2.00)},
		{decimal.NewFromInt(6000), decimal.RequireFromString("5.00")},
	}
	for _, c := range cases {
		got := TickSize(domain.MarketHK, c.price)
		if !got.Equal(c.tick) {
			t.Errorf("price %s: expected tick %s, got %s", c.price, c.tick, got)
		}
	}
}

func TestSnapToTick_HKExactTickUnchanged(t *testing.T) {
	// 350.40 is already on the 0.20 tick for the 200-500 band.
	price := decimal.NewFromFloat(350.40)
	got := SnapToTick(domain.MarketHK, price)
	if !got.Equal(price) {
		t.Errorf("expected 350.40 to stay on-tick, got %s", got)
	}
}

func TestSnapToTick_NeverRoundsUp(t *testing.T) {
	// 350.47 in the 0.20-tick band should snap down to 350.40, never up to 350.60.
	price := decimal.NewFromFloat(350.47)
	got := SnapToTick(domain.MarketHK, price)
	if got.GreaterThan(price) {
		t.Errorf("snapped price %s must not exceed input %s", got, price)
	}
	if !got.Equal(decimal.NewFromFloat(350.40)) {
		t.Errorf("expected 350.40, got %s", got)
	}
}

func TestSnapToTick_SatisfiesModuloInvariant(t *testing.T) {
	prices := []decimal.Decimal{
		decimal.NewFromFloat(0.237), decimal.NewFromFloat(12.34), decimal.NewFromInt(777),
	}
	for _, p := range prices {
		snapped := SnapToTick(domain.MarketHK, p)
		tick := TickSize(domain.MarketHK, snapped)
		mod := snapped.Mod(tick)
		if !mod.IsZero() {
			t.Errorf("snapped price %s not a multiple of tick %s (mod=%s)", snapped, tick, mod)
		}
	}
}
