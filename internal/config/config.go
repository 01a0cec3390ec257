// Package config loads the papertrade server configuration from a YAML file
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// PathEnv names the environment variable that selects the config file.
const PathEnv = "PAPERTRADE_CONFIG"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the papertrade server.
type Config struct {
	Storage Storage `yaml:"storage"`
	Server  Server  `yaml:"server"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Market  Market  `yaml:"market"`
	Logging Logging `yaml:"logging"`
	Engine  Engine  `yaml:"engine"`
	Kafka   Kafka   `yaml:"kafka"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir" env:"DATA_DIR"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host" env:"SERVER_HOST"`
	Port     int    `yaml:"port" env:"SERVER_PORT"`
	GRPCPort int    `yaml:"grpc_port" env:"GRPC_PORT"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key" env:"ALPACA_API_KEY"`
	APISecret string `yaml:"api_secret" env:"ALPACA_API_SECRET"`
	BaseURL   string `yaml:"base_url" env:"ALPACA_BASE_URL"`
	DataURL   string `yaml:"data_url" env:"ALPACA_DATA_URL"`
	Feed      string `yaml:"feed" env:"ALPACA_FEED"`
}

// Market selects and tunes the price source.
type Market struct {
	// Source is "alpaca" or "static".
	Source          string            `yaml:"source" env:"MARKET_SOURCE"`
	CacheTTL        time.Duration     `yaml:"cache_ttl" env:"MARKET_CACHE_TTL"`
	RateLimitPerMin int               `yaml:"rate_limit_per_min" env:"MARKET_RATE_LIMIT_PER_MIN"`
	StaticPrices    map[string]string `yaml:"static_prices"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Engine holds execution and risk parameters.
type Engine struct {
	Scheduler      Scheduler `yaml:"scheduler"`
	MaxPositionPct float64   `yaml:"max_position_pct" env:"MAX_POSITION_PCT"`
}

// Scheduler configures the background execution pass.
type Scheduler struct {
	Interval        time.Duration `yaml:"interval" env:"SCHEDULER_INTERVAL"`
	MarketHoursOnly bool          `yaml:"market_hours_only" env:"SCHEDULER_MARKET_HOURS_ONLY"`
}

// Kafka configures order event publishing. Publishing is off when no
// brokers are listed.
type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC"`
}

// Enabled reports whether any broker is configured.
func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// ---------------------------------------------------------------------------
// Defaults and validation
// ---------------------------------------------------------------------------

// Default returns the configuration used for any field the file and the
// environment leave unset.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/papertrade.db",
		},
		Server: Server{
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 9090,
		},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
		},
		Market: Market{
			Source:          "alpaca",
			CacheTTL:        5 * time.Second,
			RateLimitPerMin: 200,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Engine: Engine{
			Scheduler: Scheduler{Interval: time.Minute},
		},
		Kafka: Kafka{
			Topic: "paper.fills",
		},
	}
}

// Validate reports configuration values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Storage.SQLitePath == "" {
		errs = append(errs, errors.New("storage.sqlite_path is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort))
	}
	switch c.Market.Source {
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			errs = append(errs, errors.New("market.source alpaca needs alpaca.api_key and alpaca.api_secret"))
		}
	case "static":
		if _, err := c.Market.Prices(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("market.source %q must be alpaca or static", c.Market.Source))
	}
	if c.Engine.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("engine.scheduler.interval must be positive"))
	}
	if c.Engine.MaxPositionPct < 0 || c.Engine.MaxPositionPct > 1 {
		errs = append(errs, fmt.Errorf("engine.max_position_pct %v must be within [0, 1]", c.Engine.MaxPositionPct))
	}
	return errors.Join(errs...)
}

// Prices parses the static price table.
func (m Market) Prices() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(m.StaticPrices))
	for sym, v := range m.StaticPrices {
		p, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("market.static_prices[%s]: %w", sym, err)
		}
		out[sym] = p
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by PAPERTRADE_CONFIG, if any.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(PathEnv))
}

// applyEnvOverrides sets fields whose environment variable is present.
func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}

	// Canonical names used by the Alpaca SDK win.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}
