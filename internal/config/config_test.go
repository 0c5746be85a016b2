package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestConfig_LoadValid(t *testing.T) {
	path := writeTestConfig(t, `{
		"account_id": "acct-1",
		"active_broker": "longport",
		"trading_mode": "paper",
		"markets": ["HK", "US"],
		"risk": {
			"max_risk_per_trade_pct": 1.0,
			"max_open_positions": 5,
			"max_daily_loss_pct": 3.0,
			"max_capital_deployment_pct": 80.0
		},
		"paths": {
			"market_data_dir": "./market_data",
			"log_dir": "./logs"
		},
		"broker_config": {},
		"database_dsn": "postgres://localhost/test",
		"redis_url": "redis://localhost:6379/0",
		"market_calendar_path": "./holidays.json"
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ActiveBroker != "longport" {
		t.Errorf("expected longport, got %s", cfg.ActiveBroker)
	}
	if cfg.TradingMode != ModePaper {
		t.Errorf("expected paper, got %s", cfg.TradingMode)
	}
	if len(cfg.Markets) != 2 {
		t.Errorf("expected 2 markets, got %d", len(cfg.Markets))
	}
	if cfg.Risk.PortfolioAllocationCapPct != 20 {
		t.Errorf("expected default portfolio_allocation_cap_pct=20, got %f", cfg.Risk.PortfolioAllocationCapPct)
	}
}

func TestConfig_RejectsInvalidMode(t *testing.T) {
	path := writeTestConfig(t, `{
		"account_id": "acct-1",
		"active_broker": "longport",
		"trading_mode": "invalid",
		"markets": ["HK"],
		"risk": {
			"max_risk_per_trade_pct": 1.0,
			"max_open_positions": 5,
			"max_daily_loss_pct": 3.0,
			"max_capital_deployment_pct": 80.0
		},
		"database_dsn": "postgres://localhost/test",
		"redis_url": "redis://localhost:6379/0"
	}`)

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid trading mode")
	}
}

func TestConfig_RejectsMissingMarkets(t *testing.T) {
	path := writeTestConfig(t, `{
		"account_id": "acct-1",
		"active_broker": "longport",
		"trading_mode": "paper",
		"risk": {
			"max_risk_per_trade_pct": 1.0,
			"max_open_positions": 5,
			"max_daily_loss_pct": 3.0,
			"max_capital_deployment_pct": 80.0
		},
		"database_dsn": "postgres://localhost/test",
		"redis_url": "redis://localhost:6379/0"
	}`)

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for missing markets")
	}
}

func TestConfig_EnvOverride(t *testing.T) {
	path := writeTestConfig(t, `{
		"account_id": "acct-1",
		"active_broker": "longport",
		"trading_mode": "paper",
		"markets": ["HK"],
		"risk": {
			"max_risk_per_trade_pct": 1.0,
			"max_open_positions": 5,
			"max_daily_loss_pct": 3.0,
			"max_capital_deployment_pct": 70.0
		},
		"broker_config": {"longport": {"api_key": "test", "secret": "test"}},
		"database_dsn": "postgres://localhost/test",
		"redis_url": "redis://localhost:6379/0"
	}`)

	os.Setenv("ENGINE_TRADING_MODE", "live")
	defer os.Unsetenv("ENGINE_TRADING_MODE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TradingMode != ModeLive {
		t.Errorf("expected env override to live, got %s", cfg.TradingMode)
	}
}

// ────────────────────────────────────────────────────────────────────
// Live mode validation tests
// ────────────────────────────────────────────────────────────────────

// validLiveConfig returns a Config that passes all live mode validations.
func validLiveConfig() Config {
	return Config{
		AccountID:    "acct-1",
		ActiveBroker: "longport",
		TradingMode:  ModeLive,
		Markets:      []string{"HK", "US"},
		Risk: RiskConfig{
			MaxRiskPerTradePct:      1.0,
			MaxOpenPositions:        5,
			MaxDailyLossPct:         3.0,
			MaxCapitalDeploymentPct: 70.0,
		},
		Paths: PathsConfig{
			MarketDataDir: "./market_data",
		},
		BrokerConfig: map[string]json.RawMessage{
			"longport": json.RawMessage(`{"api_key":"test","secret":"test"}`),
		},
		DatabaseDSN: "postgres://localhost/test",
		RedisURL:    "redis://localhost:6379/0",
	}
}

func TestLiveMode_RequiresBrokerConfig(t *testing.T) {
	cfg := validLiveConfig()
	cfg.BrokerConfig = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when broker_config is nil in live mode")
	}
	if !strings.Contains(err.Error(), "broker_config") {
		t.Errorf("error should mention broker_config, got: %v", err)
	}
}

func TestLiveMode_RequiresActiveBrokerInConfig(t *testing.T) {
	cfg := validLiveConfig()
	cfg.BrokerConfig = map[string]json.RawMessage{
		"other_broker": json.RawMessage(`{}`),
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when active broker not in broker_config")
	}
	if !strings.Contains(err.Error(), "longport") {
		t.Errorf("error should mention active broker name, got: %v", err)
	}
}

func TestLiveMode_MaxCapitalDeploymentCap(t *testing.T) {
	cfg := validLiveConfig()
	cfg.Risk.MaxCapitalDeploymentPct = 95.0 // exceeds live mode ceiling of 90%

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when max_capital_deployment_pct > 90 in live mode")
	}
	if !strings.Contains(err.Error(), "max_capital_deployment_pct") {
		t.Errorf("error should mention max_capital_deployment_pct, got: %v", err)
	}
}

func TestLiveMode_RequiresDatabaseDSN(t *testing.T) {
	cfg := validLiveConfig()
	cfg.DatabaseDSN = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when database_dsn is empty")
	}
	if !strings.Contains(err.Error(), "database_dsn") {
		t.Errorf("error should mention database_dsn, got: %v", err)
	}
}

func TestLiveMode_RequiresRedisURL(t *testing.T) {
	cfg := validLiveConfig()
	cfg.RedisURL = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when redis_url is empty")
	}
	if !strings.Contains(err.Error(), "redis_url") {
		t.Errorf("error should mention redis_url, got: %v", err)
	}
}

func TestLiveMode_ValidConfigPasses(t *testing.T) {
	cfg := validLiveConfig()
	err := cfg.Validate()
	if err != nil {
		t.Fatalf("valid live config should pass validation, got: %v", err)
	}
}

func TestPaperMode_SkipsLiveChecks(t *testing.T) {
	// Paper mode should NOT enforce live mode restrictions.
	cfg := Config{
		AccountID:    "acct-1",
		ActiveBroker: "longport",
		TradingMode:  ModePaper,
		Markets:      []string{"HK"},
		Risk: RiskConfig{
			MaxRiskPerTradePct:      5.0, // not capped by live mode either
			MaxOpenPositions:        10,
			MaxDailyLossPct:         10.0,
			MaxCapitalDeploymentPct: 100.0, // would fail live mode, fine for paper
		},
		DatabaseDSN: "postgres://localhost/test",
		RedisURL:    "redis://localhost:6379/0",
	}

	err := cfg.Validate()
	if err != nil {
		t.Fatalf("paper mode should not enforce live mode caps, got: %v", err)
	}
}
