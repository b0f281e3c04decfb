// Package config loads service settings from .env, an optional YAML file and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all service settings
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Provider ProviderConfig `yaml:"provider"`
	Scan     ScanConfig     `yaml:"scan"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Warmer   WarmerConfig   `yaml:"warmer"`
}

type ServerConfig struct {
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
	GinMode string `yaml:"gin_mode" validate:"oneof=debug release test"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// ProviderConfig selects the market data provider and carries its credentials
type ProviderConfig struct {
	Name string `yaml:"name" validate:"oneof=tradier alpaca"`

	TradierToken   string `yaml:"tradier_token" validate:"required_if=Name tradier"`
	TradierBaseURL string `yaml:"tradier_base_url" validate:"omitempty,url"`

	AlpacaAPIKey     string `yaml:"alpaca_api_key" validate:"required_if=Name alpaca"`
	AlpacaSecretKey  string `yaml:"alpaca_secret_key" validate:"required_if=Name alpaca"`
	AlpacaTradingURL string `yaml:"alpaca_trading_url" validate:"omitempty,url"`
	AlpacaDataURL    string `yaml:"alpaca_data_url" validate:"omitempty,url"`

	RateLimit    int           `yaml:"rate_limit" validate:"min=1"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
}

type ScanConfig struct {
	LookbackDays      int `yaml:"lookback_days" validate:"min=2"`
	ScorePrecision    int `yaml:"score_precision" validate:"oneof=1 2"`
	ParallelThreshold int `yaml:"parallel_threshold" validate:"min=0"`
	ExpirationDays    int `yaml:"expiration_days" validate:"min=0"`
}

type CacheConfig struct {
	Backend  string `yaml:"backend" validate:"oneof=memory redis"`
	RedisURL string `yaml:"redis_url" validate:"required_if=Backend redis"`
}

type DatabaseConfig struct {
	// Path to the SQLite file. Empty disables the archive and scan log.
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention" validate:"min=0"`
}

type WarmerConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Schedule  string   `yaml:"schedule" validate:"required_if=Enabled true"`
	Watchlist []string `yaml:"watchlist" validate:"required_if=Enabled true,dive,required"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    4534,
			GinMode: "release",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Provider: ProviderConfig{
			Name:             "tradier",
			TradierBaseURL:   "https://api.tradier.com/v1",
			AlpacaTradingURL: "https://paper-api.alpaca.markets",
			AlpacaDataURL:    "https://data.alpaca.markets",
			RateLimit:        5,
			FetchTimeout:     10 * time.Second,
		},
		Scan: ScanConfig{
			LookbackDays:      30,
			ScorePrecision:    1,
			ParallelThreshold: 200,
			ExpirationDays:    28,
		},
		Cache: CacheConfig{
			Backend: "memory",
		},
		Database: DatabaseConfig{
			Path:      "./data/strikefeed.db",
			Retention: 30 * 24 * time.Hour,
		},
		Warmer: WarmerConfig{
			Schedule: "*/15 9-16 * * MON-FRI",
			Watchlist: []string{
				"SPY", "QQQ", "IWM", "DIA", "TLT", "XLF", "XLK", "XLE",
				"AAPL", "TSLA", "NVDA", "AMD", "MSFT", "GOOGL", "META",
			},
		},
	}
}

// Load reads .env (if present), the YAML file named by STRIKEFEED_CONFIG (if
// set), then applies environment overrides and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path := os.Getenv("STRIKEFEED_CONFIG"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.GinMode, "GIN_MODE")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Provider.Name, "PROVIDER")
	setString(&c.Provider.TradierToken, "TRADIER_TOKEN")
	setString(&c.Provider.TradierBaseURL, "TRADIER_BASE_URL")
	setString(&c.Provider.AlpacaAPIKey, "ALPACA_API_KEY")
	setString(&c.Provider.AlpacaSecretKey, "ALPACA_SECRET_KEY")
	setString(&c.Provider.AlpacaTradingURL, "ALPACA_TRADING_URL")
	setString(&c.Provider.AlpacaDataURL, "ALPACA_DATA_URL")
	setString(&c.Cache.Backend, "CACHE_BACKEND")
	setString(&c.Cache.RedisURL, "REDIS_URL")
	setString(&c.Warmer.Schedule, "WARMER_SCHEDULE")

	if v, ok := os.LookupEnv("DATABASE_PATH"); ok {
		c.Database.Path = v
	}
	if v := os.Getenv("WATCHLIST"); v != "" {
		c.Warmer.Watchlist = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PORT", &c.Server.Port},
		{"PROVIDER_RATE_LIMIT", &c.Provider.RateLimit},
		{"HISTORY_LOOKBACK_DAYS", &c.Scan.LookbackDays},
		{"SCORE_PRECISION", &c.Scan.ScorePrecision},
		{"PARALLEL_SCORING_THRESHOLD", &c.Scan.ParallelThreshold},
		{"EXPIRATION_DAYS", &c.Scan.ExpirationDays},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", e.key, err)
			}
			*e.dst = n
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"FETCH_TIMEOUT", &c.Provider.FetchTimeout},
		{"DATABASE_RETENTION", &c.Database.Retention},
	}
	for _, e := range durations {
		if v := os.Getenv(e.key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", e.key, err)
			}
			*e.dst = d
		}
	}

	if v := os.Getenv("WARMER_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid WARMER_ENABLED: %w", err)
		}
		c.Warmer.Enabled = b
	}

	return nil
}

// Validate checks the settings with struct tags
func (c *Config) Validate() error {
	c.Provider.Name = strings.ToLower(c.Provider.Name)
	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	for i, s := range c.Warmer.Watchlist {
		c.Warmer.Watchlist[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
