// Package scheduler runs the engine's top-level market-session loop.
//
// Job schedule:
//
// Nightly jobs (most important):
//   - Fetch new market data
//   - Run AI scoring
//   - Generate next-day watchlist
//
// Market hour jobs:
//   - Monitor watchlist
//   - Execute pre-planned trades
//   - Manage exits only
//
// Weekly jobs:
//   - Rebuild stock universe
//   - Refresh fundamentals (if used)
//
// Design rule: the loop never blocks trading on a calendar miss. A market
// with no cached calendar entry falls back to a weekday-open rule inside
// the calendar package itself; the scheduler's job is only to kick off an
// asynchronous refresh so the next pass has real data.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kestrelquant/tradingcore/internal/config"
	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/risk"
)

// JobType categorizes when a job should run.
type JobType string

const (
	JobTypeNightly    JobType = "NIGHTLY"
	JobTypeMarketHour JobType = "MARKET_HOUR"
	JobTypeWeekly     JobType = "WEEKLY"
)

// Job represents a scheduled task.
type Job struct {
	Name    string
	Type    JobType
	RunFunc func(ctx context.Context) error
}

// calendarSource is the slice of internal/calendar.Calendar the scheduler
// needs to gate activity on exchange sessions.
type calendarSource interface {
	SessionOf(market domain.Market, now time.Time) domain.Session
	NextOpen(market domain.Market, now time.Time) (time.Time, error)
	EnsureCalendar(ctx context.Context, markets []domain.Market, horizonDays int) error
}

// rebalanceRunner is the slice of internal/risk.Rebalancer the scheduler
// ticks on a timer during regular hours.
type rebalanceRunner interface {
	RunOnce(ctx context.Context, market domain.Market, now time.Time) ([]risk.RebalancePlanItem, error)
}

// Clock lets tests substitute a fixed or advancing notion of "now"
// without touching the loop's cancellation-aware sleep.
type Clock struct {
	Now func() time.Time
}

func defaultClock() Clock { return Clock{Now: time.Now} }

// Deps bundles the scheduler's collaborators. Rebalancer is optional: a
// nil Rebalancer simply skips the periodic rebalance tick.
type Deps struct {
	Calendar   calendarSource
	Markets    []domain.Market
	Rebalancer rebalanceRunner
}

// Scheduler runs the top-level loop and the nightly/weekly job cron.
type Scheduler struct {
	calendar   calendarSource
	markets    []domain.Market
	rebalancer rebalanceRunner
	jobs       []Job
	cron       *cron.Cron

	cfg       config.SchedulerConfig
	regimeCfg config.RegimeConfig
	logger    zerolog.Logger
	clock     Clock

	lastRebalance map[domain.Market]time.Time
}

// New creates a scheduler. cfg and regimeCfg can be changed later with
// UpdateConfig/UpdateRegimeConfig as config hot-reloads land.
func New(deps Deps, cfg config.SchedulerConfig, regimeCfg config.RegimeConfig, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		calendar:      deps.Calendar,
		markets:       deps.Markets,
		rebalancer:    deps.Rebalancer,
		cron:          cron.New(),
		cfg:           cfg,
		regimeCfg:     regimeCfg,
		logger:        logger.With().Str("component", "scheduler").Logger(),
		clock:         defaultClock(),
		lastRebalance: make(map[domain.Market]time.Time),
	}
}

// UpdateConfig replaces the scheduler's poll/sleep tuning. It does not
// reschedule cron jobs already registered with Start.
func (s *Scheduler) UpdateConfig(cfg config.SchedulerConfig) {
	s.cfg = cfg
}

// UpdateRegimeConfig replaces the rebalance cadence.
func (s *Scheduler) UpdateRegimeConfig(cfg config.RegimeConfig) {
	s.regimeCfg = cfg
}

// RegisterJob adds a job to the scheduler.
func (s *Scheduler) RegisterJob(job Job) {
	s.jobs = append(s.jobs, job)
	s.logger.Info().Str("job", job.Name).Str("type", string(job.Type)).Msg("registered job")
}

// Start wires the nightly and weekly job cycles onto cron and starts the
// cron runner in its own goroutine. Call Stop to drain it on shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.NightlyCronSpec, func() {
		if err := s.RunNightlyJobs(ctx); err != nil {
			s.logger.Error().Err(err).Msg("nightly job cycle failed")
		}
	}); err != nil {
		return fmt.Errorf("scheduler: register nightly cron %q: %w", s.cfg.NightlyCronSpec, err)
	}

	if _, err := s.cron.AddFunc(s.cfg.WeeklyCronSpec, func() {
		if err := s.RunWeeklyJobs(ctx); err != nil {
			s.logger.Error().Err(err).Msg("weekly job cycle failed")
		}
	}); err != nil {
		return fmt.Errorf("scheduler: register weekly cron %q: %w", s.cfg.WeeklyCronSpec, err)
	}

	s.cron.Start()
	return nil
}

// Stop drains the cron runner, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNightlyJobs executes all nightly jobs in sequence. A failure aborts
// the remaining nightly jobs: the next day's watchlist must not be built
// from a partial pipeline.
func (s *Scheduler) RunNightlyJobs(ctx context.Context) error {
	s.logger.Info().Msg("starting nightly job cycle")

	for _, job := range s.jobs {
		if job.Type != JobTypeNightly {
			continue
		}

		start := s.clock.Now()
		if err := job.RunFunc(ctx); err != nil {
			s.logger.Error().Err(err).Str("job", job.Name).Msg("nightly job failed")
			return fmt.Errorf("nightly job %s failed: %w", job.Name, err)
		}
		s.logger.Info().Str("job", job.Name).Dur("elapsed", s.clock.Now().Sub(start)).Msg("nightly job completed")
	}

	s.logger.Info().Msg("nightly job cycle complete")
	return nil
}

// RunWeeklyJobs executes weekly maintenance jobs, same fail-fast policy
// as nightly jobs.
func (s *Scheduler) RunWeeklyJobs(ctx context.Context) error {
	s.logger.Info().Msg("starting weekly job cycle")

	for _, job := range s.jobs {
		if job.Type != JobTypeWeekly {
			continue
		}

		if err := job.RunFunc(ctx); err != nil {
			s.logger.Error().Err(err).Str("job", job.Name).Msg("weekly job failed")
			return fmt.Errorf("weekly job %s failed: %w", job.Name, err)
		}
		s.logger.Info().Str("job", job.Name).Msg("weekly job completed")
	}

	s.logger.Info().Msg("weekly job cycle complete")
	return nil
}

// runMarketHourJobs runs every market-hour job. Unlike nightly/weekly
// jobs, a single market-hour job failing does not stop the others or the
// loop: monitoring and exits for symbol A must not be blocked by an error
// handling symbol B.
func (s *Scheduler) runMarketHourJobs(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Type != JobTypeMarketHour {
			continue
		}
		if err := job.RunFunc(ctx); err != nil {
			s.logger.Error().Err(err).Str("job", job.Name).Msg("market-hour job failed")
		}
	}
}

// openMarkets returns the subset of s.markets currently in regular
// session.
func (s *Scheduler) openMarkets(now time.Time) []domain.Market {
	open := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if s.calendar.SessionOf(m, now) == domain.SessionRegular {
			open = append(open, m)
		}
	}
	return open
}

// earliestNextOpen returns the soonest instant any configured market
// enters regular session.
func (s *Scheduler) earliestNextOpen(now time.Time) time.Time {
	var earliest time.Time
	for _, m := range s.markets {
		next, err := s.calendar.NextOpen(m, now)
		if err != nil {
			s.logger.Warn().Err(err).Str("market", string(m)).Msg("next_open lookup failed")
			continue
		}
		if earliest.IsZero() || next.Before(earliest) {
			earliest = next
		}
	}
	if earliest.IsZero() {
		earliest = now.Add(time.Duration(s.cfg.MaxSleepSecs) * time.Second)
	}
	return earliest
}

// tickRebalancer runs the regime-based rebalancer for every open market
// whose rebalance interval has elapsed.
func (s *Scheduler) tickRebalancer(ctx context.Context, open []domain.Market, now time.Time) {
	if s.rebalancer == nil {
		return
	}
	interval := time.Duration(s.regimeCfg.RebalanceIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	for _, m := range open {
		if last, ok := s.lastRebalance[m]; ok && now.Sub(last) < interval {
			continue
		}
		s.lastRebalance[m] = now

		plan, err := s.rebalancer.RunOnce(ctx, m, now)
		if err != nil {
			s.logger.Error().Err(err).Str("market", string(m)).Msg("rebalance tick failed")
			continue
		}
		if len(plan) > 0 {
			s.logger.Info().Str("market", string(m)).Int("items", len(plan)).Msg("rebalance plan published")
		}
	}
}

// refreshCalendarAsync kicks off a best-effort calendar refresh without
// blocking the loop. Called once at Run startup and again whenever a
// pass finds every market closed, so a stale or empty cache self-heals.
func (s *Scheduler) refreshCalendarAsync(ctx context.Context) {
	go func() {
		horizon := s.cfg.CalendarHorizonDays
		if horizon <= 0 {
			horizon = 14
		}
		if err := s.calendar.EnsureCalendar(ctx, s.markets, horizon); err != nil {
			s.logger.Warn().Err(err).Msg("calendar refresh failed")
		}
	}()
}

// Run executes the top-level loop: while any configured market is open,
// tick market-hour jobs and the rebalancer on a short poll interval;
// while every market is closed, sleep until the earliest next open,
// capped at MaxSleepSecs so shutdown and reload stay responsive.
func (s *Scheduler) Run(ctx context.Context) error {
	s.refreshCalendarAsync(ctx)

	pollInterval := time.Duration(s.cfg.PollIntervalSecs) * time.Second
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	maxSleep := time.Duration(s.cfg.MaxSleepSecs) * time.Second
	if maxSleep <= 0 {
		maxSleep = 60 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := s.clock.Now()
		open := s.openMarkets(now)

		if len(open) == 0 {
			wait := s.earliestNextOpen(now).Sub(now)
			if wait <= 0 {
				wait = time.Second
			}
			if wait > maxSleep {
				wait = maxSleep
			}
			s.refreshCalendarAsync(ctx)
			if !s.sleep(ctx, wait) {
				return ctx.Err()
			}
			continue
		}

		s.runMarketHourJobs(ctx)
		s.tickRebalancer(ctx, open, now)

		if !s.sleep(ctx, pollInterval) {
			return ctx.Err()
		}
	}
}

// sleep waits for d or ctx cancellation, returning false if ctx was
// cancelled first.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Status summarizes current market state across every configured market.
func (s *Scheduler) Status() string {
	now := s.clock.Now()
	status := fmt.Sprintf("scheduler status at %s:", now.Format(time.RFC3339))
	for _, m := range s.markets {
		session := s.calendar.SessionOf(m, now)
		status += fmt.Sprintf(" %s=%s", m, session)
	}
	return status
}
