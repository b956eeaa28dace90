package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config is the full engine configuration.
type Config struct {
	Engine      EngineConfig      `json:"engine"`
	Risk        RiskConfig        `json:"risk"`
	Logging     LoggingConfig     `json:"logging"`
	Persistence PersistenceConfig `json:"persistence"`
}

// EngineConfig holds the tunable constants of the tick engine. Fractions are
// expressed as plain ratios (0.001 = 0.1%).
type EngineConfig struct {
	PercentFee      float64 `json:"percent_fee"`      // per-side fee fraction
	PercentSlippage float64 `json:"percent_slippage"` // per-side slippage fraction

	MinTpDistancePct float64 `json:"min_tp_distance_pct"` // reject TP closer than this fraction of entry
	MaxSlDistancePct float64 `json:"max_sl_distance_pct"` // reject SL farther than this fraction of entry

	MaxSignalLifetimeMin int `json:"max_signal_lifetime_min"`
	ScheduleAwaitMin     int `json:"schedule_await_min"`

	AvgPriceCandlesCount int `json:"avg_price_candles_count"`

	CandlesRetryCount   int `json:"candles_retry_count"`
	CandlesRetryDelayMs int `json:"candles_retry_delay_ms"`

	MedianCandlesLookback int     `json:"median_candles_lookback"`
	PriceAnomalyThreshold float64 `json:"price_anomaly_threshold"`

	// Must stay strictly above 60s so each live tick crosses a 1m boundary.
	TickPollIntervalMs int `json:"tick_poll_interval_ms"`

	// Entry prices within this fraction of the current average price open
	// immediately instead of scheduling a limit entry.
	PriceOpenTolerance float64 `json:"price_open_tolerance"`

	BreakevenSafetyMultiplier float64 `json:"breakeven_safety_multiplier"`
}

// RiskConfig gates the ambiguous-candle behaviors that are configurable by
// design.
type RiskConfig struct {
	// When TP and SL both fall inside one candle: false = stop-loss wins.
	OptimisticSameCandle bool `json:"optimistic_same_candle"`
	// Allow a scheduled (not yet activated) signal to be cancelled when its
	// stop level is crossed first.
	CancelScheduledOnStopCross bool `json:"cancel_scheduled_on_stop_cross"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
	MaxSizeMB  int    `json:"max_size_mb"` // rotation threshold for file output
	MaxBackups int    `json:"max_backups"`
}

type PersistenceConfig struct {
	Backend     string `json:"backend"` // file, memory, redis, postgres
	Dir         string `json:"dir"`
	RedisAddr   string `json:"redis_addr"`
	RedisDB     int    `json:"redis_db"`
	PostgresDSN string `json:"postgres_dsn"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			PercentFee:                0.001,
			PercentSlippage:           0.001,
			MinTpDistancePct:          0.0022,
			MaxSlDistancePct:          1.0,
			MaxSignalLifetimeMin:      10080,
			ScheduleAwaitMin:          120,
			AvgPriceCandlesCount:      5,
			CandlesRetryCount:         3,
			CandlesRetryDelayMs:       1000,
			MedianCandlesLookback:     20,
			PriceAnomalyThreshold:     0.5,
			TickPollIntervalMs:        61_000,
			PriceOpenTolerance:        0.001,
			BreakevenSafetyMultiplier: 1.5,
		},
		Risk: RiskConfig{
			OptimisticSameCandle:       false,
			CancelScheduledOnStopCross: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: false,
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		Persistence: PersistenceConfig{
			Backend: "file",
			Dir:     "./storage",
		},
	}
}

// Load reads configuration from a JSON file layered over the defaults, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ENGINE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ENGINE_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("ENGINE_STORAGE_BACKEND"); v != "" {
		c.Persistence.Backend = v
	}
	if v := os.Getenv("ENGINE_STORAGE_DIR"); v != "" {
		c.Persistence.Dir = v
	}
	if v := os.Getenv("ENGINE_REDIS_ADDR"); v != "" {
		c.Persistence.RedisAddr = v
	}
	if v := os.Getenv("ENGINE_POSTGRES_DSN"); v != "" {
		c.Persistence.PostgresDSN = v
	}
	if v := os.Getenv("ENGINE_TICK_POLL_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Engine.TickPollIntervalMs = ms
		}
	}
	if v := os.Getenv("ENGINE_PERCENT_FEE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Engine.PercentFee = f
		}
	}
	if v := os.Getenv("ENGINE_PERCENT_SLIPPAGE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Engine.PercentSlippage = f
		}
	}
}

// Validate rejects configurations that break engine invariants.
func (c *Config) Validate() error {
	if c.Engine.TickPollIntervalMs <= 60_000 {
		return fmt.Errorf("tick_poll_interval_ms must be > 60000, got %d", c.Engine.TickPollIntervalMs)
	}
	if c.Engine.PercentFee < 0 || c.Engine.PercentSlippage < 0 {
		return fmt.Errorf("fee and slippage fractions must be non-negative")
	}
	if c.Engine.ScheduleAwaitMin <= 0 {
		return fmt.Errorf("schedule_await_min must be positive")
	}
	if c.Engine.MaxSignalLifetimeMin <= 0 {
		return fmt.Errorf("max_signal_lifetime_min must be positive")
	}
	if c.Engine.AvgPriceCandlesCount <= 0 {
		return fmt.Errorf("avg_price_candles_count must be positive")
	}
	switch c.Persistence.Backend {
	case "file", "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown persistence backend %q", c.Persistence.Backend)
	}
	return nil
}

// BreakevenThresholdPct is the profit percentage after which the stop moves
// to the cost-adjusted entry: (fee + slippage) * 2 * safety, in percent.
func (c *Config) BreakevenThresholdPct() float64 {
	return (c.Engine.PercentFee + c.Engine.PercentSlippage) * 2 * c.Engine.BreakevenSafetyMultiplier * 100
}
