// Package common provides shared utilities for marketd
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for marketd
type Config struct {
	Environment string         `toml:"environment"`
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	Clients     ClientsConfig  `toml:"clients"`
	Features    FeaturesConfig `toml:"features"`
	Fallback    FallbackConfig `toml:"fallback"`
	Cache       CacheConfig    `toml:"cache"`
	Sync        SyncConfig     `toml:"sync"`
	Logging     LoggingConfig  `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the price database path.
type StorageConfig struct {
	Path string `toml:"path"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Brapi      BrapiConfig      `toml:"brapi"`
	QuantumAPI QuantumAPIConfig `toml:"quantum_api"`
	Mock       MockConfig       `toml:"mock"`
}

// BrapiConfig holds brapi.dev API configuration
type BrapiConfig struct {
	BaseURL   string `toml:"base_url"`
	Token     string `toml:"token"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *BrapiConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// QuantumAPIConfig holds the local backend API configuration
type QuantumAPIConfig struct {
	BaseURL   string `toml:"base_url"`
	Token     string `toml:"token"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *QuantumAPIConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// MockConfig holds mock data generator configuration
type MockConfig struct {
	Latency string `toml:"latency"`
}

// GetLatency parses and returns the simulated latency duration
func (c *MockConfig) GetLatency() time.Duration {
	d, err := time.ParseDuration(c.Latency)
	if err != nil {
		return 0
	}
	return d
}

// FeaturesConfig holds the data-sourcing feature flags.
type FeaturesConfig struct {
	UseRealData    bool `toml:"use_real_data"`
	FallbackToMock bool `toml:"fallback_to_mock"`
}

// FallbackConfig holds circuit breaker configuration for the adapter chain.
type FallbackConfig struct {
	FailureThreshold int    `toml:"failure_threshold"`
	RecoveryWindow   string `toml:"recovery_window"`
}

// GetRecoveryWindow parses and returns the breaker recovery window.
func (c *FallbackConfig) GetRecoveryWindow() time.Duration {
	d, err := time.ParseDuration(c.RecoveryWindow)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// CacheConfig holds per-class cache TTL overrides. Empty values fall back
// to the defaults in ttl.go.
type CacheConfig struct {
	StockPrices    string `toml:"stock_prices"`
	HistoricalData string `toml:"historical_data"`
	SearchResults  string `toml:"search_results"`
	MarketOverview string `toml:"market_overview"`
}

// SyncConfig holds the monthly historical sync configuration.
type SyncConfig struct {
	AutoSync   bool     `toml:"auto_sync"`
	DayOfMonth int      `toml:"day_of_month"`
	Symbols    []string `toml:"symbols"`
	YearsBack  int      `toml:"years_back"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Path: "data/pricedb",
		},
		Clients: ClientsConfig{
			Brapi: BrapiConfig{
				BaseURL:   "https://brapi.dev/api",
				RateLimit: 10,
				Timeout:   "30s",
			},
			QuantumAPI: QuantumAPIConfig{
				BaseURL:   "http://localhost:5000/api",
				RateLimit: 20,
				Timeout:   "10s",
			},
			Mock: MockConfig{
				Latency: "0s",
			},
		},
		Features: FeaturesConfig{
			UseRealData:    true,
			FallbackToMock: true,
		},
		Fallback: FallbackConfig{
			FailureThreshold: 5,
			RecoveryWindow:   "60s",
		},
		Sync: SyncConfig{
			AutoSync:   false,
			DayOfMonth: 2,
			YearsBack:  20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MARKETD_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("MARKETD_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("MARKETD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("MARKETD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("MARKETD_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	// BRAPI_TOKEN is the name brapi.dev documents; MARKETD_BRAPI_TOKEN wins
	// when both are set.
	if token := os.Getenv("BRAPI_TOKEN"); token != "" {
		config.Clients.Brapi.Token = token
	}
	if token := os.Getenv("MARKETD_BRAPI_TOKEN"); token != "" {
		config.Clients.Brapi.Token = token
	}

	if url := os.Getenv("MARKETD_QUANTUM_API_URL"); url != "" {
		config.Clients.QuantumAPI.BaseURL = url
	}

	if v := os.Getenv("MARKETD_USE_REAL_DATA"); v != "" {
		config.Features.UseRealData = parseBool(v, config.Features.UseRealData)
	}
	if v := os.Getenv("MARKETD_FALLBACK_TO_MOCK"); v != "" {
		config.Features.FallbackToMock = parseBool(v, config.Features.FallbackToMock)
	}
	if v := os.Getenv("MARKETD_AUTO_SYNC"); v != "" {
		config.Sync.AutoSync = parseBool(v, config.Sync.AutoSync)
	}
	if v := os.Getenv("MARKETD_SYNC_DAY"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d >= 1 && d <= 28 {
			config.Sync.DayOfMonth = d
		}
	}
}

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return fallback
	}
	return b
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
