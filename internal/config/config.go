// Package config provides configuration loading and validation for the
// ingestion and book-assembly pipeline.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Venue selects which Binance market's WS/REST base URLs apply.
type Venue string

const (
	VenueSpot  Venue = "spot"
	VenueUSDM  Venue = "usdm"
	VenueCoinM Venue = "coinm"
)

// Config holds every field enumerated in the external-interfaces
// section, plus the ambient app/telemetry/resilience settings.
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	Binance        BinanceConfig        `mapstructure:"binance"`
	Store          StoreConfig          `mapstructure:"store"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

// BinanceConfig holds the subscription surface: which symbols, which
// venue, and the combined-stream toggle.
type BinanceConfig struct {
	Venue         Venue    `mapstructure:"venue"`
	Symbols       []string `mapstructure:"symbols"`
	Combined      bool     `mapstructure:"combined"`
	SnapshotLimit int      `mapstructure:"snapshot_limit"`
}

// StoreConfig holds the OrderBookStore's tunables.
type StoreConfig struct {
	DurationSec        int           `mapstructure:"duration_sec"`
	MinL2Updates       int           `mapstructure:"min_l2_updates"`
	MinTrades          int           `mapstructure:"min_trades"`
	MaxLagMS           int           `mapstructure:"max_lag_ms"`
	MaxBufferPerSymbol int           `mapstructure:"max_buffer_per_symbol"`
	MaxRetryAttempts   int           `mapstructure:"max_retry_attempts"`
	InitialBackoff     time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	TradeBackpressure  bool          `mapstructure:"trade_backpressure"`
}

// CircuitBreakerConfig tunes the REST/WS resilience layer.
type CircuitBreakerConfig struct {
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	OpenTimeout  time.Duration `mapstructure:"open_timeout"`
}

// TelemetryConfig holds observability configuration. No exporter
// endpoint fields live here — instrument creation only needs a name;
// exporter wiring is the embedding host's responsibility.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load loads configuration from an optional file and environment
// variables under the L2BOOK_ prefix.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("L2BOOK")
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.name", "L2BOOK_APP_NAME")
	v.BindEnv("app.log_level", "L2BOOK_LOG_LEVEL")

	v.BindEnv("binance.venue", "L2BOOK_VENUE")
	v.BindEnv("binance.symbols", "L2BOOK_SYMBOLS")
	v.BindEnv("binance.combined", "L2BOOK_COMBINED")
	v.BindEnv("binance.snapshot_limit", "L2BOOK_SNAPSHOT_LIMIT")

	v.BindEnv("store.max_lag_ms", "L2BOOK_MAX_LAG_MS")
	v.BindEnv("store.max_buffer_per_symbol", "L2BOOK_MAX_BUFFER_PER_SYMBOL")
	v.BindEnv("store.max_retry_attempts", "L2BOOK_MAX_RETRY_ATTEMPTS")

	v.BindEnv("telemetry.service_name", "L2BOOK_SERVICE_NAME")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "l2book")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("binance.venue", string(VenueSpot))
	v.SetDefault("binance.symbols", []string{"BTCUSDT"})
	v.SetDefault("binance.combined", true)
	v.SetDefault("binance.snapshot_limit", 1000)

	v.SetDefault("store.duration_sec", 0)
	v.SetDefault("store.min_l2_updates", 0)
	v.SetDefault("store.min_trades", 0)
	v.SetDefault("store.max_lag_ms", 1500)
	v.SetDefault("store.max_buffer_per_symbol", 4096)
	v.SetDefault("store.max_retry_attempts", 5)
	v.SetDefault("store.initial_backoff", "250ms")
	v.SetDefault("store.max_backoff", "5s")
	v.SetDefault("store.trade_backpressure", false)

	v.SetDefault("circuit_breaker.failure_ratio", 0.5)
	v.SetDefault("circuit_breaker.min_requests", 5)
	v.SetDefault("circuit_breaker.open_timeout", "30s")

	v.SetDefault("telemetry.service_name", "l2book")
}

// Validate checks the fields that must be non-empty/non-zero for the
// pipeline to start meaningfully.
func (c *Config) Validate() error {
	if len(c.Binance.Symbols) == 0 {
		return fmt.Errorf("binance.symbols cannot be empty")
	}
	switch c.Binance.Venue {
	case VenueSpot, VenueUSDM, VenueCoinM:
	default:
		return fmt.Errorf("binance.venue must be one of spot, usdm, coinm, got %q", c.Binance.Venue)
	}
	if c.Store.MaxBufferPerSymbol <= 0 {
		return fmt.Errorf("store.max_buffer_per_symbol must be positive")
	}
	if c.Store.MaxRetryAttempts <= 0 {
		return fmt.Errorf("store.max_retry_attempts must be positive")
	}
	return nil
}
