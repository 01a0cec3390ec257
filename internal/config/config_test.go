package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "papertrade.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ALPACA_API_KEY", "ALPACA_API_SECRET", "APCA_API_KEY_ID",
		"APCA_API_SECRET_KEY", "DATA_DIR", "SQLITE_PATH", "KAFKA_BROKERS", "SCHEDULER_INTERVAL",
		"MARKET_SOURCE", "LOG_LEVEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/papertrade/data"
  sqlite_path: "/tmp/papertrade/paper.db"
server:
  host: "127.0.0.1"
  port: 8081
  grpc_port: 9091
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
market:
  source: static
  cache_ttl: 2s
  static_prices:
    AAPL: "187.25"
logging:
  level: debug
  format: text
engine:
  max_position_pct: 0.25
  scheduler:
    interval: 30s
    market_hours_only: true
kafka:
  brokers: ["localhost:9092"]
  topic: fills
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.SQLitePath != "/tmp/papertrade/paper.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/papertrade/paper.db")
	}
	if cfg.Server.Port != 8081 || cfg.Server.GRPCPort != 9091 {
		t.Errorf("Server ports = %d/%d, want 8081/9091", cfg.Server.Port, cfg.Server.GRPCPort)
	}
	if cfg.Market.CacheTTL != 2*time.Second {
		t.Errorf("Market.CacheTTL = %v, want 2s", cfg.Market.CacheTTL)
	}
	if cfg.Engine.Scheduler.Interval != 30*time.Second || !cfg.Engine.Scheduler.MarketHoursOnly {
		t.Errorf("Engine.Scheduler = %+v, want 30s market hours only", cfg.Engine.Scheduler)
	}
	if cfg.Engine.MaxPositionPct != 0.25 {
		t.Errorf("Engine.MaxPositionPct = %v, want 0.25", cfg.Engine.MaxPositionPct)
	}
	if !cfg.Kafka.Enabled() || cfg.Kafka.Topic != "fills" {
		t.Errorf("Kafka = %+v, want enabled with topic fills", cfg.Kafka)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
	// Unset in the file, so the default survives.
	if cfg.Alpaca.BaseURL != "https://paper-api.alpaca.markets" {
		t.Errorf("Alpaca.BaseURL = %q, want the paper endpoint default", cfg.Alpaca.BaseURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	prices, err := cfg.Market.Prices()
	if err != nil {
		t.Fatalf("Prices(): %v", err)
	}
	if p := prices["AAPL"]; p.String() != "187.25" {
		t.Errorf("AAPL price = %s, want 187.25", p)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/srv/papertrade"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SCHEDULER_INTERVAL", "15s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Kafka.Brokers = %v, want [k1:9092 k2:9092]", cfg.Kafka.Brokers)
	}
	if cfg.Engine.Scheduler.Interval != 15*time.Second {
		t.Errorf("Scheduler.Interval = %v, want 15s", cfg.Engine.Scheduler.Interval)
	}

	t.Setenv("APCA_API_KEY_ID", "sdk-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "sdk-key" {
		t.Errorf("Alpaca.APIKey = %q, want sdk-key from APCA_API_KEY_ID", cfg.Alpaca.APIKey)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	want := Default()
	if cfg.Server.Port != want.Server.Port || cfg.Engine.Scheduler.Interval != time.Minute {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	// Default source is alpaca, which needs credentials.
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Errorf("Validate() = %v, want missing credentials error", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load of a missing file returned nil error")
	}
}

func TestValidateRejects(t *testing.T) {
	cfg := Default()
	cfg.Market.Source = "static"
	cfg.Market.StaticPrices = map[string]string{"X": "abc"}
	cfg.Server.Port = 0
	cfg.Engine.MaxPositionPct = 2

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want errors")
	}
	for _, want := range []string{"static_prices[X]", "server.port", "max_position_pct"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q missing %q", err, want)
		}
	}
}
