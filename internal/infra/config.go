package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
// Loaded from YAML once at startup and handed to each component's
// constructor; no component reads ambient global state.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode                string  `yaml:"mode"`   // PAPER (only wired mode)
		Symbol              string  `yaml:"symbol"` // e.g. BTCUSDT
		Timeframe           string  `yaml:"timeframe"`
		MaxConcurrentOrders int     `yaml:"max_concurrent_orders"`
		OrderPollIntervalS  int     `yaml:"order_poll_interval_sec"`
		OrderQuantity       float64 `yaml:"order_quantity"` // base units proposed per trade
		PaperBalance        float64 `yaml:"paper_balance"`  // initial virtual quote balance
		StopOnStreamFailure bool    `yaml:"stop_on_stream_failure"`
	} `yaml:"trading"`

	Streaming struct {
		WSURL            string `yaml:"ws_url"`
		BufferSize       int    `yaml:"buffer_size"`
		AnalysisInterval int    `yaml:"analysis_interval_sec"`
		MinCandles       int    `yaml:"min_candles"`
		RetryBaseMS      int    `yaml:"retry_base_ms"`
		RetryCapMS       int    `yaml:"retry_cap_ms"`
		MaxRetries       int    `yaml:"max_retries"`
	} `yaml:"streaming"`

	Risk RiskConfig `yaml:"risk"`

	Strategy struct {
		StopLossPct   float64 `yaml:"stop_loss_pct"`
		TakeProfitPct float64 `yaml:"take_profit_pct"`
	} `yaml:"strategy"`

	API struct {
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"api"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// RiskConfig holds the pre-trade limit parameters.
// Ratios are fractions of the account balance; order sizes are notional
// amounts in the quote currency.
type RiskConfig struct {
	MaxDailyTrades   int     `yaml:"max_daily_trades"`
	MaxDailyLoss     float64 `yaml:"max_daily_loss"`
	MaxRiskPerTrade  float64 `yaml:"max_risk_per_trade"`
	MaxPositionSize  float64 `yaml:"max_position_size"`
	MinConfidence    float64 `yaml:"min_confidence"`
	MaxRiskScore     float64 `yaml:"max_risk_score"`
	MinOrderSize     float64 `yaml:"min_order_size"`
	MaxOrderSize     float64 `yaml:"max_order_size"`
	EstimatedRiskPct float64 `yaml:"estimated_risk_pct"` // stop-distance proxy when no stop is set
}

// DefaultConfig returns a configuration with all defaults applied.
// Used directly by tests and as the base the YAML file overrides.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "trading-bot"
	cfg.Trading.Mode = "PAPER"
	cfg.Trading.Symbol = "BTCUSDT"
	cfg.Trading.Timeframe = "1m"
	cfg.Trading.MaxConcurrentOrders = 2
	cfg.Trading.OrderPollIntervalS = 10
	cfg.Trading.OrderQuantity = 0.001
	cfg.Trading.PaperBalance = 10000
	cfg.Streaming.WSURL = "wss://stream.binance.com:9443/ws"
	cfg.Streaming.BufferSize = 480 // 8h of 1-minute candles
	cfg.Streaming.AnalysisInterval = 60
	cfg.Streaming.MinCandles = 20
	cfg.Streaming.RetryBaseMS = 1000
	cfg.Streaming.RetryCapMS = 60000
	cfg.Streaming.MaxRetries = 10
	cfg.Risk.MaxDailyTrades = 10
	cfg.Risk.MaxDailyLoss = 0.05
	cfg.Risk.MaxRiskPerTrade = 0.02
	cfg.Risk.MaxPositionSize = 0.1
	cfg.Risk.MinConfidence = 0.5
	cfg.Risk.MaxRiskScore = 0.8
	cfg.Risk.MinOrderSize = 10
	cfg.Risk.MaxOrderSize = 100000
	cfg.Risk.EstimatedRiskPct = 0.02
	cfg.Strategy.StopLossPct = 0.02
	cfg.Strategy.TakeProfitPct = 0.04
	cfg.Logging.Level = "info"
	return cfg
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Environment variables take precedence over file values for secrets.
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading symbol is required")
	}
	if mode := strings.ToUpper(c.Trading.Mode); mode != "PAPER" {
		return fmt.Errorf("unsupported trading mode: %s", c.Trading.Mode)
	}
	if c.Streaming.WSURL == "" || (!strings.HasPrefix(c.Streaming.WSURL, "ws://") && !strings.HasPrefix(c.Streaming.WSURL, "wss://")) {
		return fmt.Errorf("invalid stream WS URL: %s", c.Streaming.WSURL)
	}
	if c.Streaming.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if c.Streaming.AnalysisInterval <= 0 {
		return fmt.Errorf("analysis interval must be positive")
	}
	if c.Trading.MaxConcurrentOrders <= 0 {
		return fmt.Errorf("max concurrent orders must be positive")
	}
	if c.Trading.OrderQuantity <= 0 {
		return fmt.Errorf("order quantity must be positive")
	}
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be within [0,1]")
	}
	if c.Risk.MaxRiskScore < 0 || c.Risk.MaxRiskScore > 1 {
		return fmt.Errorf("max risk score must be within [0,1]")
	}
	if c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxDailyLoss >= 1 {
		return fmt.Errorf("max daily loss must be within (0,1)")
	}
	if c.Strategy.StopLossPct < 0 || c.Strategy.StopLossPct >= 1 {
		return fmt.Errorf("stop loss pct must be within [0,1)")
	}
	if c.Strategy.TakeProfitPct < 0 || c.Strategy.TakeProfitPct >= 1 {
		return fmt.Errorf("take profit pct must be within [0,1)")
	}
	return nil
}

// RetryBase returns the reconnect backoff base as a duration.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.Streaming.RetryBaseMS) * time.Millisecond
}

// RetryCap returns the reconnect backoff cap as a duration.
func (c *Config) RetryCap() time.Duration {
	return time.Duration(c.Streaming.RetryCapMS) * time.Millisecond
}

// overrideWithEnv overrides secret values from environment variables.
// Env always wins over the file so keys never need to live on disk.
func overrideWithEnv(cfg *Config) {
	if cfg.API.AccessKey != "" || cfg.API.SecretKey != "" {
		fmt.Println("⚠️  SECURITY WARNING: API keys found in config file.")
		fmt.Println("   Recommendation: use TRADER_API_KEY / TRADER_API_SECRET instead.")
	}

	if key := os.Getenv("TRADER_API_KEY"); key != "" {
		cfg.API.AccessKey = key
	}
	if secret := os.Getenv("TRADER_API_SECRET"); secret != "" {
		cfg.API.SecretKey = secret
	}
	if level := os.Getenv("TRADER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
