// Package watchlist resolves the canonical set of tradeable symbols and
// their per-symbol board-lot and tick-size rules (C2). Every symbol that
// reaches the router must first pass through this resolver: an order for
// a symbol outside the watchlist is rejected before a broker call is made.
package watchlist

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

// LotSizeSource looks up authoritative board-lot sizes, normally the
// broker's security-info endpoint or the security_static table.
type LotSizeSource interface {
	LotSize(ctx context.Context, symbol string) (int64, error)
}

// defaultLotSize mirrors the fallback grounded in the original
// implementation: 1 share/lot for US, 100 for HK/CN/SG when no source
// is configured or the source has no entry yet.
func defaultLotSize(symbol string) int64 {
	market, ok := domain.MarketFor(symbol)
	if ok && market == domain.MarketUS {
		return 1
	}
	return 100
}

// Resolver is the watchlist & lot-size resolver (C2).
type Resolver struct {
	logger zerolog.Logger
	source LotSizeSource

	mu       sync.RWMutex
	symbols  map[string]struct{}
	lotCache map[string]int64
}

// New builds a Resolver over a fixed symbol set. source may be nil, in
// which case every lot-size lookup falls back to defaultLotSize.
func New(symbols []string, source LotSizeSource, logger zerolog.Logger) *Resolver {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[strings.ToUpper(s)] = struct{}{}
	}
	return &Resolver{
		logger:   logger.With().Str("component", "watchlist").Logger(),
		source:   source,
		symbols:  set,
		lotCache: make(map[string]int64),
	}
}

// LoadFromFile builds a Resolver from a newline-delimited symbol file,
// one symbol per line, blank lines and lines starting with "#" ignored.
func LoadFromFile(path string, source LotSizeSource, logger zerolog.Logger) (*Resolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("watchlist: open %s: %w", path, err)
	}
	defer f.Close()

	var symbols []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("watchlist: read %s: %w", path, err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("watchlist: %s contains no symbols", path)
	}

	return New(symbols, source, logger), nil
}

// Contains reports whether symbol is in the canonical tradeable set.
func (r *Resolver) Contains(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.symbols[strings.ToUpper(symbol)]
	return ok
}

// Symbols returns a snapshot of the canonical tradeable set.
func (r *Resolver) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.symbols))
	for s := range r.symbols {
		out = append(out, s)
	}
	return out
}

// LotSize returns symbol's board-lot size, using the cache first, then
// the configured source, then the market default. A source error falls
// through to the default rather than failing the caller — a stale
// lot-size cache is recovered later via the router's lot-size-error
// retry path, not here.
func (r *Resolver) LotSize(ctx context.Context, symbol string) int64 {
	r.mu.RLock()
	if v, ok := r.lotCache[symbol]; ok {
		r.mu.RUnlock()
		return v
	}
	r.mu.RUnlock()

	lot := defaultLotSize(symbol)
	if r.source != nil {
		if v, err := r.source.LotSize(ctx, symbol); err == nil && v > 0 {
			lot = v
		} else if err != nil {
			r.logger.Warn().Str("symbol", symbol).Err(err).Msg("lot size lookup failed, using default")
		}
	}

	r.mu.Lock()
	r.lotCache[symbol] = lot
	r.mu.Unlock()
	return lot
}

// InvalidateLotSize drops a symbol's cached lot size, forcing the next
// LotSize call to re-fetch from source. Used by the router's lot-size
// error retry path.
func (r *Resolver) InvalidateLotSize(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lotCache, symbol)
}

// RoundDownToLot rounds qty down to the nearest whole multiple of
// symbol's lot size. Returns 0 if qty is smaller than one lot.
func (r *Resolver) RoundDownToLot(ctx context.Context, symbol string, qty int64) int64 {
	lot := r.LotSize(ctx, symbol)
	if lot <= 0 {
		return 0
	}
	return (qty / lot) * lot
}

// hkTickBand is one row of the HK banded tick-size table.
type hkTickBand struct {
	belowPrice decimal.Decimal
	tick       decimal.Decimal
}

var hkTickBands = []hkTickBand{
	{decimal.NewFromFloat(0.25), decimal.NewFromFloat(0.001)},
	{decimal.NewFromFloat(0.50), decimal.NewFromFloat(0.005)},
	{decimal.NewFromInt(10), decimal.NewFromFloat(0.01)},
	{decimal.NewFromInt(20), decimal.NewFromFloat(0.02)},
	{decimal.NewFromInt(100), decimal.NewFromFloat(0.05)},
	{decimal.NewFromInt(200), decimal.NewFromFloat(0.10)},
	{decimal.NewFromInt(500), decimal.NewFromFloat(0.20)},
	{decimal.NewFromInt(1000), decimal.NewFromFloat(0.50)},
	{decimal.NewFromInt(2000), decimal.NewFromFloat(1.00)},
	{decimal.NewFromInt(5000), decimal.NewFromFloat(2.00)},
}

const hkTickAbove5000 = "5.00"

// TickSize returns the tick size applicable to price on market. US is a
// flat 0.01 at all prices; HK is banded by price; CN/SG reuse the US
// flat convention pending a dedicated table.
func TickSize(market domain.Market, price decimal.Decimal) decimal.Decimal {
	if market != domain.MarketHK {
		return decimal.NewFromFloat(0.01)
	}
	for _, band := range hkTickBands {
		if price.LessThan(band.belowPrice) {
			return band.tick
		}
	}
	return decimal.RequireFromString(hkTickAbove5000)
}

// SnapToTick rounds price down to the nearest multiple of its market's
// tick size, so the result always satisfies `price mod tick_size == 0`.
// Truncates toward the last valid tick rather than rounding to nearest,
// so a snapped BUY limit never crosses upward past what the caller asked
// for.
func SnapToTick(market domain.Market, price decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) {
		return price
	}
	tick := TickSize(market, price)
	if tick.IsZero() {
		return price
	}
	ticks := price.DivRound(tick, 0).Mul(tick)
	// DivRound rounds to nearest; snap down if that overshot.
	if ticks.GreaterThan(price) {
		ticks = ticks.Sub(tick)
	}
	return ticks
}
