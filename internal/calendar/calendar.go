// Package calendar answers "is this market open right now" for every
// market the engine trades, purely from a cached session table. It is
// the clock & calendar component that gates every other subsystem:
// the scheduler's top loop, the router's validation pipeline, and the
// regime rebalancer all call is_open before acting.
//
// Design rules:
//   - System must know if today is a trading day from calendar data,
//     never from a bare time-of-day check alone.
//   - One central calendar keyed by market, refreshed ahead of need.
package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelquant/tradingcore/internal/domain"
)

// locationFor returns the IANA zone each market's sessions are quoted in.
func locationFor(m domain.Market) (*time.Location, error) {
	switch m {
	case domain.MarketHK:
		return time.LoadLocation("Asia/Hong_Kong")
	case domain.MarketUS:
		return time.LoadLocation("America/New_York")
	case domain.MarketCN:
		return time.LoadLocation("Asia/Shanghai")
	case domain.MarketSG:
		return time.LoadLocation("Asia/Singapore")
	default:
		return nil, fmt.Errorf("calendar: unknown market %q", m)
	}
}

// defaultSessions returns the full, regular (non-half-day) session set
// for a market. US carries explicit pre-market and post-market windows;
// HK and CN do not trade outside their two windows.
func defaultSessions(m domain.Market) []domain.SessionWindow {
	switch m {
	case domain.MarketHK:
		return []domain.SessionWindow{
			{BeginMinute: 9*60 + 30, EndMinute: 12 * 60},
			{BeginMinute: 13 * 60, EndMinute: 16 * 60},
		}
	case domain.MarketUS:
		return []domain.SessionWindow{
			{BeginMinute: 4 * 60, EndMinute: 9*60 + 30},   // pre-market
			{BeginMinute: 9*60 + 30, EndMinute: 16 * 60},  // regular
			{BeginMinute: 16 * 60, EndMinute: 20 * 60},    // post-market
		}
	case domain.MarketCN, domain.MarketSG:
		return []domain.SessionWindow{
			{BeginMinute: 9*60 + 30, EndMinute: 11*60 + 30},
			{BeginMinute: 13 * 60, EndMinute: 15 * 60},
		}
	default:
		return nil
	}
}

// halfDaySessions keeps only the first (morning) session of a market's
// regular schedule, HK's half-day rule. Applied to any market whose
// calendar marks the day as a half day.
func halfDaySessions(m domain.Market) []domain.SessionWindow {
	full := defaultSessions(m)
	if len(full) == 0 {
		return nil
	}
	return full[:1]
}

// Store persists and retrieves calendar days. internal/storage implements
// this against the trading_calendar table.
type Store interface {
	GetCalendarDays(ctx context.Context, market domain.Market, from, to time.Time) ([]domain.CalendarDay, error)
	PutCalendarDays(ctx context.Context, days []domain.CalendarDay) error
}

// Provider supplies calendar truth when the local cache needs refreshing,
// normally the quote gateway's exchange-calendar endpoint (C3).
type Provider interface {
	TradingDays(ctx context.Context, market domain.Market, from, to time.Time) ([]domain.CalendarDay, error)
}

// Calendar is the clock & calendar component (C1). Safe for concurrent use.
type Calendar struct {
	store    Store
	provider Provider
	logger   zerolog.Logger

	mu    sync.RWMutex
	cache map[domain.Market]map[string]domain.CalendarDay // market -> "2006-01-02" -> day
}

// New builds a Calendar backed by store for persistence and provider for
// refreshing the cache when it runs dry.
func New(store Store, provider Provider, logger zerolog.Logger) *Calendar {
	return &Calendar{
		store:    store,
		provider: provider,
		logger:   logger.With().Str("component", "calendar").Logger(),
		cache:    make(map[domain.Market]map[string]domain.CalendarDay),
	}
}

// MarketFor resolves the market a symbol trades in from its suffix.
func MarketFor(symbol string) (domain.Market, bool) {
	return domain.MarketFor(symbol)
}

// SessionOf classifies now's position in market's trading day.
// Falls back to a weekday rule if the cache has no entry for the date,
// logging a warning; it does not refresh the cache itself.
func (c *Calendar) SessionOf(market domain.Market, now time.Time) domain.Session {
	loc, err := locationFor(market)
	if err != nil {
		c.logger.Error().Err(err).Msg("session_of: unknown market")
		return domain.SessionClosed
	}
	local := now.In(loc)

	day, ok := c.lookup(market, local)
	if !ok {
		return c.weekdayFallbackSession(market, local)
	}

	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return domain.SessionClosed
	}

	minuteOfDay := local.Hour()*60 + local.Minute()
	sessions := day.Sessions
	if day.IsHalfDay {
		sessions = halfDaySessions(market)
	}

	return classify(market, sessions, minuteOfDay)
}

// classify maps a minute-of-day against a market's ordered session windows
// to PREMARKET / REGULAR / POSTMARKET / AFTERHOURS / CLOSED. Only US
// distinguishes pre/post from regular; HK/CN sessions are all REGULAR.
func classify(market domain.Market, sessions []domain.SessionWindow, minuteOfDay int) domain.Session {
	if len(sessions) == 0 {
		return domain.SessionClosed
	}

	for i, w := range sessions {
		if !w.Contains(minuteOfDay) {
			continue
		}
		if market != domain.MarketUS {
			return domain.SessionRegular
		}
		switch i {
		case 0:
			return domain.SessionPremarket
		case len(sessions) - 1:
			return domain.SessionPostmarket
		default:
			return domain.SessionRegular
		}
	}

	if market == domain.MarketUS {
		first, last := sessions[0], sessions[len(sessions)-1]
		if minuteOfDay >= last.EndMinute || minuteOfDay < first.BeginMinute {
			return domain.SessionAfterhours
		}
	}
	return domain.SessionClosed
}

// IsOpen reports whether symbol can currently be traded, i.e. its market
// is in REGULAR session. Pre/post-market are not "open" for order routing
// purposes unless a caller explicitly checks session_of.
func (c *Calendar) IsOpen(symbol string, now time.Time) bool {
	market, ok := domain.MarketFor(symbol)
	if !ok {
		return false
	}
	return c.SessionOf(market, now) == domain.SessionRegular
}

// NextOpen returns the instant the market next enters REGULAR session,
// used by the scheduler to size its sleep between loop iterations. If
// the market is open right now it returns now.
func (c *Calendar) NextOpen(market domain.Market, now time.Time) (time.Time, error) {
	if c.SessionOf(market, now) == domain.SessionRegular {
		return now, nil
	}

	loc, err := locationFor(market)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)

	for i := 0; i < 14; i++ {
		candidate := local.AddDate(0, 0, i)
		if candidate.Weekday() == time.Saturday || candidate.Weekday() == time.Sunday {
			continue
		}

		day, ok := c.lookup(market, candidate)
		sessions := defaultSessions(market)
		if ok && day.IsHalfDay {
			sessions = halfDaySessions(market)
		} else if ok {
			sessions = day.Sessions
		}
		if len(sessions) == 0 {
			continue
		}

		regularIdx := regularSessionIndex(market, sessions)
		open := time.Date(candidate.Year(), candidate.Month(), candidate.Day(), 0, 0, 0, 0, loc).
			Add(time.Duration(sessions[regularIdx].BeginMinute) * time.Minute)
		if open.After(local) {
			return open, nil
		}
	}
	return time.Time{}, fmt.Errorf("calendar: no trading day found for %s within 14 days of %s", market, now)
}

func regularSessionIndex(market domain.Market, sessions []domain.SessionWindow) int {
	if market != domain.MarketUS || len(sessions) < 2 {
		return 0
	}
	return 1 // US: [pre, regular, post]
}

// EnsureCalendar refreshes the cache for any market missing entries over
// the next horizonDays, pulling fresh data from provider and persisting it.
func (c *Calendar) EnsureCalendar(ctx context.Context, markets []domain.Market, horizonDays int) error {
	now := time.Now().UTC()
	horizon := now.AddDate(0, 0, horizonDays)

	for _, m := range markets {
		if c.hasCoverage(m, now, horizon) {
			continue
		}
		if c.provider == nil {
			c.logger.Warn().Str("market", string(m)).Msg("calendar cache empty and no provider configured")
			continue
		}

		days, err := c.provider.TradingDays(ctx, m, now, horizon)
		if err != nil {
			return fmt.Errorf("calendar: refresh %s: %w", m, err)
		}
		if err := c.store.PutCalendarDays(ctx, days); err != nil {
			return fmt.Errorf("calendar: persist %s: %w", m, err)
		}
		c.ingest(m, days)
		c.logger.Info().Str("market", string(m)).Int("days", len(days)).Msg("refreshed calendar")
	}
	return nil
}

// LoadFromStore populates the in-memory cache from the store for the
// given horizon. Call once at startup before serving SessionOf/IsOpen.
func (c *Calendar) LoadFromStore(ctx context.Context, markets []domain.Market, horizonDays int) error {
	now := time.Now().UTC()
	horizon := now.AddDate(0, 0, horizonDays)
	for _, m := range markets {
		days, err := c.store.GetCalendarDays(ctx, m, now.AddDate(0, 0, -5), horizon)
		if err != nil {
			return fmt.Errorf("calendar: load %s: %w", m, err)
		}
		c.ingest(m, days)
	}
	return nil
}

func (c *Calendar) ingest(market domain.Market, days []domain.CalendarDay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.cache[market]
	if !ok {
		m = make(map[string]domain.CalendarDay)
		c.cache[market] = m
	}
	for _, d := range days {
		m[d.TradeDate.Format("2006-01-02")] = d
	}
}

func (c *Calendar) lookup(market domain.Market, local time.Time) (domain.CalendarDay, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.cache[market]
	if !ok {
		return domain.CalendarDay{}, false
	}
	d, ok := m[local.Format("2006-01-02")]
	return d, ok
}

func (c *Calendar) hasCoverage(market domain.Market, from, to time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.cache[market]
	if !ok || len(m) == 0 {
		return false
	}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if _, ok := m[d.Format("2006-01-02")]; !ok {
			return false
		}
	}
	return true
}

// weekdayFallbackSession is invoked when the cache holds nothing for the
// date: fall back to "Mon-Fri is open", warn, and leave it to the caller
// to trigger EnsureCalendar asynchronously.
func (c *Calendar) weekdayFallbackSession(market domain.Market, local time.Time) domain.Session {
	c.logger.Warn().Str("market", string(market)).Time("date", local).
		Msg("calendar cache miss, falling back to weekday rule")

	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return domain.SessionClosed
	}
	minuteOfDay := local.Hour()*60 + local.Minute()
	return classify(market, defaultSessions(market), minuteOfDay)
}

