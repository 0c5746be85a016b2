// Package config provides application-wide configuration management.
// All configuration is loaded from a JSON file and environment variables.
// No trading parameter is hardcoded in strategy, router, or risk logic.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Mode defines whether the system runs in paper or live trading mode.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// WatchlistSource selects where the tradeable symbol set comes from.
type WatchlistSource string

const (
	WatchlistBuiltin WatchlistSource = "builtin"
	WatchlistFile    WatchlistSource = "file"
)

// Config holds all system configuration. Loaded once at startup and
// passed as read-only to all components; hot-reload replaces the whole
// *Config atomically via ConfigWatcher rather than mutating fields in place.
type Config struct {
	// AccountID identifies which account this engine instance trades.
	AccountID string `json:"account_id"`

	// ActiveBroker selects which broker implementation to use.
	ActiveBroker string `json:"active_broker"`

	// TradingMode controls whether orders are actually placed (live) or simulated (paper).
	TradingMode Mode `json:"trading_mode"`

	// DryRun is logged at startup; it does not gate order submission, so
	// orders still reach the configured broker when it is set.
	DryRun bool `json:"dry_run"`

	// NotificationsEnabled gates the notify sink.
	NotificationsEnabled bool `json:"notifications_enabled"`

	// StrategyMode selects which strategy set the engine runs.
	StrategyMode string `json:"strategy_mode"`

	// Watchlist loading.
	WatchlistSource WatchlistSource `json:"watchlist_source"`
	WatchlistPath   string          `json:"watchlist_path"`

	// Markets this engine instance is allowed to trade (subset of HK/US/CN/SG).
	Markets []string `json:"markets"`

	Risk      RiskConfig      `json:"risk"`
	Router    RouterConfig    `json:"router"`
	Regime    RegimeConfig    `json:"regime"`
	Queue     QueueConfig     `json:"queue"`
	Paths     PathsConfig     `json:"paths"`
	Notify    NotifyConfig    `json:"notify"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Quotes    QuotesConfig    `json:"quotes"`

	// Broker-specific configuration (API keys, endpoints, etc.), keyed by broker name.
	BrokerConfig map[string]json.RawMessage `json:"broker_config"`

	// DatabaseDSN is the relational store (Postgres/TimescaleDB) connection string.
	DatabaseDSN string `json:"database_dsn"`

	// RedisURL is the key-value store (queue state) connection string.
	RedisURL string `json:"redis_url"`

	// MarketCalendarPath points to the fallback/seed exchange calendar data file.
	MarketCalendarPath string `json:"market_calendar_path"`
}

// RiskConfig defines hard risk guardrails. These limits are enforced by
// the risk module and cannot be overridden by strategies.
type RiskConfig struct {
	MaxRiskPerTradePct        float64              `json:"max_risk_per_trade_pct"`
	MaxOpenPositions          int                  `json:"max_open_positions"`
	MaxDailyLossPct           float64              `json:"max_daily_loss_pct"`
	MaxCapitalDeploymentPct   float64              `json:"max_capital_deployment_pct"`
	MaxPerSector              int                  `json:"max_per_sector"`
	MaxDailyOrderCount        int                  `json:"max_daily_order_count"`
	DrawdownCapPct            float64              `json:"drawdown_cap_pct"`             // default -15
	MaxLongExposurePct        float64              `json:"max_long_exposure_pct"`        // default 100
	MaxShortExposurePct       float64              `json:"max_short_exposure_pct"`       // default 30
	MaxPositionSizeShares     int64                `json:"max_position_size_shares"`
	MaxPositionNotional       float64              `json:"max_position_notional"`
	PortfolioAllocationCapPct float64              `json:"portfolio_allocation_cap_pct"` // default 20
	SignalRiskCapPct          float64              `json:"signal_risk_cap_pct"`          // default 2
	CircuitBreaker            CircuitBreakerConfig `json:"circuit_breaker"`
}

// CircuitBreakerConfig configures automatic trading halts on repeated failures.
type CircuitBreakerConfig struct {
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`
	MaxFailuresPerHour     int `json:"max_failures_per_hour"`
	CooldownMinutes        int `json:"cooldown_minutes"`
}

// RouterConfig configures the smart order router's execution behavior.
type RouterConfig struct {
	ForceLimitOrders                   bool    `json:"force_limit_orders"`
	MaxUrgencyLevel                    int     `json:"max_urgency_level"`
	AllowMarketOrdersDuringMarketHours bool    `json:"allow_market_orders_during_market_hours"`
	AfterhoursMaxPositionPct           float64 `json:"afterhours_max_position_pct"`
	AfterhoursMaxUrgency               int     `json:"afterhours_max_urgency"`
	LotSizeErrorCode                   string  `json:"lot_size_error_code"`    // default "602001"
	StalePriceErrorCode                string  `json:"stale_price_error_code"` // default "602035"
}

// RegimeConfig configures the regime-based rebalancer.
type RegimeConfig struct {
	ReservePctBull            float64 `json:"regime_reserve_pct_bull"`  // default 0.15
	ReservePctRange           float64 `json:"regime_reserve_pct_range"` // default 0.30
	ReservePctBear            float64 `json:"regime_reserve_pct_bear"`  // default 0.50
	IntradayStyleEnabled      bool    `json:"intraday_style_enabled"`
	IntradayReserveDeltaTrend float64 `json:"intraday_reserve_delta_trend"` // default -0.05
	IntradayReserveDeltaRange float64 `json:"intraday_reserve_delta_range"` // default +0.05
	RebalancerMarketHoursOnly bool    `json:"rebalancer_market_hours_only"`
	EnableAfterhoursRebalance bool    `json:"enable_afterhours_rebalance"`
	RebalanceIntervalMinutes  int     `json:"rebalance_interval_minutes"` // default 5
}

// QuotesConfig wires the quote gateway's REST and push (websocket) halves.
type QuotesConfig struct {
	BaseURL                 string `json:"base_url"`
	AccessToken             string `json:"access_token"`
	ClientID                string `json:"client_id"`
	WSURL                   string `json:"ws_url"`
	RateLimitIntervalMillis int    `json:"rate_limit_interval_millis"` // default 110
}

// SchedulerConfig configures the top-level market-session loop: when the
// nightly and weekly job cycles fire, and how often the loop polls market
// state while markets are open.
type SchedulerConfig struct {
	NightlyCronSpec     string `json:"nightly_cron_spec"`     // default "0 19 * * 1-5" (19:00 local, weekdays)
	WeeklyCronSpec      string `json:"weekly_cron_spec"`      // default "0 10 * * 6" (10:00 local, Saturday)
	PollIntervalSecs    int    `json:"poll_interval_secs"`    // default 15
	MaxSleepSecs        int    `json:"max_sleep_secs"`        // default 60, caps the closed-market sleep
	CalendarHorizonDays int    `json:"calendar_horizon_days"` // default 14
}

// QueueConfig configures the signal dispatch queue.
type QueueConfig struct {
	SignalQueueKey    string `json:"signal_queue_key"`
	SignalMaxRetries  int    `json:"signal_max_retries"`
	ZombieTimeoutSecs int    `json:"zombie_timeout_secs"` // default 300
}

// NotifyConfig configures the outbound notification sink.
type NotifyConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url"`
}

// PathsConfig defines filesystem paths for caches and auxiliary data.
type PathsConfig struct {
	MarketDataDir string `json:"market_data_dir"`
	LogDir        string `json:"log_dir"`
}

// Load reads configuration from a JSON file.
// Environment variables override file values where applicable.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENGINE_TRADING_MODE"); v != "" {
		cfg.TradingMode = Mode(v)
	}
	if v := os.Getenv("ENGINE_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("ENGINE_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("ENGINE_ACTIVE_BROKER"); v != "" {
		cfg.ActiveBroker = v
	}
	if v := os.Getenv("ENGINE_ACCOUNT_ID"); v != "" {
		cfg.AccountID = v
	}
}

// applyDefaults fills in sane defaults so a minimal config file is still
// safe to run.
func applyDefaults(cfg *Config) {
	if cfg.Risk.PortfolioAllocationCapPct == 0 {
		cfg.Risk.PortfolioAllocationCapPct = 20
	}
	if cfg.Risk.DrawdownCapPct == 0 {
		cfg.Risk.DrawdownCapPct = -15
	}
	if cfg.Risk.MaxLongExposurePct == 0 {
		cfg.Risk.MaxLongExposurePct = 100
	}
	if cfg.Risk.MaxShortExposurePct == 0 {
		cfg.Risk.MaxShortExposurePct = 30
	}
	if cfg.Risk.SignalRiskCapPct == 0 {
		cfg.Risk.SignalRiskCapPct = 2
	}
	if cfg.Regime.ReservePctBull == 0 {
		cfg.Regime.ReservePctBull = 0.15
	}
	if cfg.Regime.ReservePctRange == 0 {
		cfg.Regime.ReservePctRange = 0.30
	}
	if cfg.Regime.ReservePctBear == 0 {
		cfg.Regime.ReservePctBear = 0.50
	}
	if cfg.Regime.IntradayReserveDeltaTrend == 0 {
		cfg.Regime.IntradayReserveDeltaTrend = -0.05
	}
	if cfg.Regime.IntradayReserveDeltaRange == 0 {
		cfg.Regime.IntradayReserveDeltaRange = 0.05
	}
	if cfg.Regime.RebalanceIntervalMinutes == 0 {
		cfg.Regime.RebalanceIntervalMinutes = 5
	}
	if cfg.Queue.SignalQueueKey == "" {
		cfg.Queue.SignalQueueKey = "trading:signals"
	}
	if cfg.Queue.SignalMaxRetries == 0 {
		cfg.Queue.SignalMaxRetries = 3
	}
	if cfg.Queue.ZombieTimeoutSecs == 0 {
		cfg.Queue.ZombieTimeoutSecs = 300
	}
	if cfg.Router.LotSizeErrorCode == "" {
		cfg.Router.LotSizeErrorCode = "602001"
	}
	if cfg.Router.StalePriceErrorCode == "" {
		cfg.Router.StalePriceErrorCode = "602035"
	}
	if cfg.Router.MaxUrgencyLevel == 0 {
		cfg.Router.MaxUrgencyLevel = 10
	}
	if cfg.Router.AfterhoursMaxUrgency == 0 {
		cfg.Router.AfterhoursMaxUrgency = 5
	}
	if cfg.WatchlistSource == "" {
		cfg.WatchlistSource = WatchlistBuiltin
	}
	if cfg.Scheduler.NightlyCronSpec == "" {
		cfg.Scheduler.NightlyCronSpec = "0 19 * * 1-5"
	}
	if cfg.Scheduler.WeeklyCronSpec == "" {
		cfg.Scheduler.WeeklyCronSpec = "0 10 * * 6"
	}
	if cfg.Scheduler.PollIntervalSecs == 0 {
		cfg.Scheduler.PollIntervalSecs = 15
	}
	if cfg.Scheduler.MaxSleepSecs == 0 {
		cfg.Scheduler.MaxSleepSecs = 60
	}
	if cfg.Scheduler.CalendarHorizonDays == 0 {
		cfg.Scheduler.CalendarHorizonDays = 14
	}
	if cfg.Quotes.RateLimitIntervalMillis == 0 {
		cfg.Quotes.RateLimitIntervalMillis = 110
	}
}

// Validate checks that all required configuration fields are present and sane.
func (c *Config) Validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if c.ActiveBroker == "" {
		return fmt.Errorf("active_broker is required")
	}
	if c.TradingMode != ModePaper && c.TradingMode != ModeLive {
		return fmt.Errorf("trading_mode must be 'paper' or 'live', got %q", c.TradingMode)
	}
	if c.Risk.MaxRiskPerTradePct <= 0 || c.Risk.MaxRiskPerTradePct > 100 {
		return fmt.Errorf("risk.max_risk_per_trade_pct must be in (0, 100], got %f", c.Risk.MaxRiskPerTradePct)
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be positive, got %d", c.Risk.MaxOpenPositions)
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 100 {
		return fmt.Errorf("risk.max_daily_loss_pct must be in (0, 100], got %f", c.Risk.MaxDailyLossPct)
	}
	if c.Risk.MaxCapitalDeploymentPct <= 0 || c.Risk.MaxCapitalDeploymentPct > 100 {
		return fmt.Errorf("risk.max_capital_deployment_pct must be in (0, 100], got %f", c.Risk.MaxCapitalDeploymentPct)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database_dsn is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url is required")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one entry in markets is required")
	}

	if c.TradingMode == ModeLive {
		if err := c.validateLiveMode(); err != nil {
			return fmt.Errorf("live mode: %w", err)
		}
	}

	return nil
}

// validateLiveMode enforces extra safety checks when running with real money.
func (c *Config) validateLiveMode() error {
	if c.BrokerConfig == nil {
		return fmt.Errorf("broker_config is required for live trading")
	}
	if _, ok := c.BrokerConfig[c.ActiveBroker]; !ok {
		return fmt.Errorf("broker_config[%q] is required for live trading", c.ActiveBroker)
	}
	if c.Risk.MaxCapitalDeploymentPct > 90.0 {
		return fmt.Errorf("max_capital_deployment_pct cannot exceed 90%% in live mode (got %.1f%%)", c.Risk.MaxCapitalDeploymentPct)
	}
	return nil
}
