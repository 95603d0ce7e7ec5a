// Package config loads the vertex YAML configuration and applies environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the vertex backtesting engine.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Gather   GatherConfig   `yaml:"gather"`
	Backtest BacktestConfig `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials for the Alpaca marketdata API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls option-chain gathering.
type GatherConfig struct {
	Symbols         []string `yaml:"symbols"`
	StartDate       string   `yaml:"start_date"`
	MinDTE          int      `yaml:"min_dte"`
	MaxDTE          int      `yaml:"max_dte"`
	MaxWorkers      int      `yaml:"max_workers"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
}

// BacktestConfig defines the window, universe, and capital parameters of a
// backtest run.
type BacktestConfig struct {
	IPSPath   string   `yaml:"ips_path"`
	StartDate string   `yaml:"start_date"`
	EndDate   string   `yaml:"end_date"`
	Symbols   []string `yaml:"symbols"` // empty means every symbol with data

	StartingCapital float64 `yaml:"starting_capital"`
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct"`

	Sentiment  bool `yaml:"sentiment"`
	TimeTravel bool `yaml:"time_travel"`

	AIThreshold float64 `yaml:"ai_threshold"`

	Seed int64 `yaml:"seed"` // 0 means time-seeded simulation fallback
}

// Window parses the configured backtest window.
func (b *BacktestConfig) Window() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", b.StartDate)
	if err != nil {
		return start, end, fmt.Errorf("parsing start_date: %w", err)
	}
	end, err = time.Parse("2006-01-02", b.EndDate)
	if err != nil {
		return start, end, fmt.Errorf("parsing end_date: %w", err)
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("end_date %s before start_date %s", b.EndDate, b.StartDate)
	}
	return start, end, nil
}

// Normalize fills defaults for unset capital parameters.
func (b *BacktestConfig) Normalize() {
	if b.StartingCapital <= 0 {
		b.StartingCapital = 25_000
	}
	if b.RiskPerTradePct <= 0 {
		b.RiskPerTradePct = 2.0
	}
	if b.AIThreshold <= 0 {
		b.AIThreshold = 70
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Canonical Alpaca SDK env vars take highest priority.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/vertex.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Gather.MaxWorkers <= 0 {
		cfg.Gather.MaxWorkers = 4
	}
	if cfg.Gather.RateLimitPerMin <= 0 {
		cfg.Gather.RateLimitPerMin = 200
	}
	cfg.Backtest.Normalize()
}
