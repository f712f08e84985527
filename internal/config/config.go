// Package config loads the engine configuration from a YAML file and then
// applies environment variable overrides. Every field has a usable default
// so the engine runs with no file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the practice engine.
type Config struct {
	Server   Server   `yaml:"server"`
	Market   Market   `yaml:"market"`
	Session  Session  `yaml:"session"`
	Storage  Storage  `yaml:"storage"`
	Feedback Feedback `yaml:"feedback"`
}

// Server holds network listener configuration.
type Server struct {
	Port int `yaml:"port"`
}

// Market configures the price simulator and the scenario catalog.
type Market struct {
	TickIntervalSeconds int            `yaml:"tick_interval_seconds"`
	Symbols             []SymbolConfig `yaml:"symbols"`
	ScenarioFile        string         `yaml:"scenario_file"`
}

// SymbolConfig registers one symbol with its reference price.
type SymbolConfig struct {
	Symbol    string  `yaml:"symbol"`
	BasePrice float64 `yaml:"base_price"`
}

// Session configures per-user session defaults.
type Session struct {
	StartingBalance float64 `yaml:"starting_balance"`
}

// Storage holds connection strings for the snapshot store. Empty values
// select the in-memory store.
type Storage struct {
	DatabaseURL     string `yaml:"database_url"`
	RedisURL        string `yaml:"redis_url"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// Feedback configures the remote feedback generator. An empty API key
// disables the remote path entirely.
type Feedback struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// TickInterval returns the simulator tick period.
func (m Market) TickInterval() time.Duration {
	return time.Duration(m.TickIntervalSeconds) * time.Second
}

// CacheTTL returns the Redis cache TTL.
func (s Storage) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// Timeout returns the remote feedback call deadline.
func (f Feedback) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// Default returns the built-in configuration: the stock universe and
// starting balance of the practice product.
func Default() *Config {
	return &Config{
		Server: Server{Port: 8080},
		Market: Market{
			TickIntervalSeconds: 2,
			Symbols: []SymbolConfig{
				{Symbol: "AAPL", BasePrice: 150.00},
				{Symbol: "GOOGL", BasePrice: 2500.00},
				{Symbol: "MSFT", BasePrice: 300.00},
				{Symbol: "TSLA", BasePrice: 200.00},
				{Symbol: "AMZN", BasePrice: 3200.00},
				{Symbol: "NVDA", BasePrice: 800.00},
			},
		},
		Session: Session{StartingBalance: 10000},
		Storage: Storage{CacheTTLSeconds: 30},
		Feedback: Feedback{
			BaseURL:        "https://api.openai.com/v1",
			TimeoutSeconds: 10,
		},
	}
}

// Load reads the YAML configuration file at path (skipped when path is
// empty), then applies environment variable overrides on top of defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("FEEDBACK_API_KEY"); v != "" {
		cfg.Feedback.APIKey = v
	}
	if v := os.Getenv("FEEDBACK_BASE_URL"); v != "" {
		cfg.Feedback.BaseURL = v
	}
	if v := os.Getenv("FEEDBACK_MODEL"); v != "" {
		cfg.Feedback.Model = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Market.TickIntervalSeconds <= 0 {
		return fmt.Errorf("config: tick interval must be positive")
	}
	if len(c.Market.Symbols) == 0 {
		return fmt.Errorf("config: at least one symbol is required")
	}
	for _, s := range c.Market.Symbols {
		if s.Symbol == "" || s.BasePrice <= 0 {
			return fmt.Errorf("config: symbol %q needs a name and a positive base price", s.Symbol)
		}
	}
	if c.Session.StartingBalance <= 0 {
		return fmt.Errorf("config: starting balance must be positive")
	}
	return nil
}
