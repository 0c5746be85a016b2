// Package config - watcher.go provides config file hot-reload support.
//
// The watcher polls the config file for changes (stat-based, every 5 seconds)
// and notifies registered callbacks when risk, regime or router parameters
// change.
//
// Only the risk, regime and router sections are reloadable. Broker config, database DSN,
// trading mode, and other structural settings require an engine restart.
package config

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ConfigWatcher monitors the config file for changes and invokes callbacks
// when risk, regime or router fields change. It uses stat-based polling (no external
// dependencies like fsnotify required).
type ConfigWatcher struct {
	path     string
	logger   zerolog.Logger
	mu       sync.RWMutex
	current  *Config
	lastMod  time.Time
	onChange []func(old, new *Config)
	done     chan struct{}
	stopped  bool
}

// NewConfigWatcher creates a watcher for the given config file path.
// initial is the currently loaded config. The watcher does not start
// until Start() is called.
func NewConfigWatcher(path string, initial *Config, logger zerolog.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		path:    path,
		logger:  logger.With().Str("component", "config-watcher").Logger(),
		current: initial,
		done:    make(chan struct{}),
	}
}

// OnChange registers a callback that will be called when the config file
// changes and the new config passes validation. Multiple callbacks may
// be registered. Callbacks receive the old and new config values.
//
// Only risk, regime and router config changes trigger callbacks. Changes to broker config,
// database DSN, or trading mode are ignored (they require a restart).
func (w *ConfigWatcher) OnChange(fn func(old, new *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins polling the config file for changes. It returns immediately;
// the watcher runs in a background goroutine. Returns an error if the
// initial file stat fails.
func (w *ConfigWatcher) Start() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()
	w.logger.Info().Str("path", w.path).Dur("poll_interval", 5*time.Second).Msg("watching config file for changes")

	go w.pollLoop()
	return nil
}

// Stop stops the config watcher. Safe to call multiple times.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.done)
		w.logger.Info().Msg("stopped")
	}
}

// Current returns the most recently loaded valid config.
func (w *ConfigWatcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// ────────────────────────────────────────────────────────────────────
// Internal
// ────────────────────────────────────────────────────────────────────

func (w *ConfigWatcher) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

func (w *ConfigWatcher) checkForChanges() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("stat error")
		return
	}

	if !info.ModTime().After(w.lastMod) {
		return // file hasn't changed
	}
	w.lastMod = info.ModTime()

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("read error")
		return
	}

	var newCfg Config
	if err := json.Unmarshal(data, &newCfg); err != nil {
		w.logger.Warn().Err(err).Msg("parse error, keeping old config")
		return
	}
	applyDefaults(&newCfg)

	if err := newCfg.Validate(); err != nil {
		w.logger.Warn().Err(err).Msg("validation error, keeping old config")
		return
	}

	w.mu.RLock()
	oldCfg := w.current
	w.mu.RUnlock()

	if !riskConfigChanged(oldCfg.Risk, newCfg.Risk) && !regimeConfigChanged(oldCfg.Regime, newCfg.Regime) && oldCfg.Router == newCfg.Router {
		w.logger.Debug().Msg("file changed but no reloadable field changed, skipping")
		return
	}

	w.logRiskChanges(oldCfg.Risk, newCfg.Risk)
	w.logRegimeChanges(oldCfg.Regime, newCfg.Regime)

	w.mu.Lock()
	w.current = &newCfg
	callbacks := make([]func(old, new *Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(oldCfg, &newCfg)
	}
}

// riskConfigChanged returns true if any risk-related field changed.
func riskConfigChanged(old, new RiskConfig) bool {
	if old.MaxRiskPerTradePct != new.MaxRiskPerTradePct {
		return true
	}
	if old.MaxOpenPositions != new.MaxOpenPositions {
		return true
	}
	if old.MaxDailyLossPct != new.MaxDailyLossPct {
		return true
	}
	if old.MaxCapitalDeploymentPct != new.MaxCapitalDeploymentPct {
		return true
	}
	if old.MaxPerSector != new.MaxPerSector {
		return true
	}
	if old.MaxDailyOrderCount != new.MaxDailyOrderCount {
		return true
	}
	if old.DrawdownCapPct != new.DrawdownCapPct {
		return true
	}
	if old.MaxLongExposurePct != new.MaxLongExposurePct || old.MaxShortExposurePct != new.MaxShortExposurePct {
		return true
	}
	if old.MaxPositionSizeShares != new.MaxPositionSizeShares || old.MaxPositionNotional != new.MaxPositionNotional {
		return true
	}
	if old.PortfolioAllocationCapPct != new.PortfolioAllocationCapPct {
		return true
	}
	if old.SignalRiskCapPct != new.SignalRiskCapPct {
		return true
	}
	if old.CircuitBreaker != new.CircuitBreaker {
		return true
	}
	return false
}

// regimeConfigChanged returns true if any regime-rebalancer field changed.
func regimeConfigChanged(old, new RegimeConfig) bool {
	return old != new
}

func (w *ConfigWatcher) logRiskChanges(old, new RiskConfig) {
	if old.MaxRiskPerTradePct != new.MaxRiskPerTradePct {
		w.logger.Info().Float64("from", old.MaxRiskPerTradePct).Float64("to", new.MaxRiskPerTradePct).Msg("max_risk_per_trade_pct changed")
	}
	if old.MaxOpenPositions != new.MaxOpenPositions {
		w.logger.Info().Int("from", old.MaxOpenPositions).Int("to", new.MaxOpenPositions).Msg("max_open_positions changed")
	}
	if old.MaxDailyLossPct != new.MaxDailyLossPct {
		w.logger.Info().Float64("from", old.MaxDailyLossPct).Float64("to", new.MaxDailyLossPct).Msg("max_daily_loss_pct changed")
	}
	if old.MaxCapitalDeploymentPct != new.MaxCapitalDeploymentPct {
		w.logger.Info().Float64("from", old.MaxCapitalDeploymentPct).Float64("to", new.MaxCapitalDeploymentPct).Msg("max_capital_deployment_pct changed")
	}
	if old.DrawdownCapPct != new.DrawdownCapPct {
		w.logger.Info().Float64("from", old.DrawdownCapPct).Float64("to", new.DrawdownCapPct).Msg("drawdown_cap_pct changed")
	}
	if old.MaxLongExposurePct != new.MaxLongExposurePct || old.MaxShortExposurePct != new.MaxShortExposurePct {
		w.logger.Info().
			Float64("long_from", old.MaxLongExposurePct).Float64("long_to", new.MaxLongExposurePct).
			Float64("short_from", old.MaxShortExposurePct).Float64("short_to", new.MaxShortExposurePct).
			Msg("exposure caps changed")
	}
	if old.CircuitBreaker != new.CircuitBreaker {
		w.logger.Info().
			Int("consecutive", new.CircuitBreaker.MaxConsecutiveFailures).
			Int("hourly", new.CircuitBreaker.MaxFailuresPerHour).
			Int("cooldown_min", new.CircuitBreaker.CooldownMinutes).
			Msg("circuit_breaker changed")
	}
}

func (w *ConfigWatcher) logRegimeChanges(old, new RegimeConfig) {
	if old == new {
		return
	}
	w.logger.Info().
		Float64("reserve_bull", new.ReservePctBull).
		Float64("reserve_range", new.ReservePctRange).
		Float64("reserve_bear", new.ReservePctBear).
		Bool("intraday_style_enabled", new.IntradayStyleEnabled).
		Msg("regime config changed")
}
