package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the full application configuration, read from a YAML file with
// defaults for everything that is safe to default. Secrets never live in
// the file; they come from the environment (see env.go).
type Config struct {
	System   SystemConfig   `mapstructure:"system"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Kline    KlineConfig    `mapstructure:"kline"`
	Triggers TriggersConfig `mapstructure:"triggers"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// path the config was loaded from; dynamic overrides are saved next to it
	path string
}

// SystemConfig identifies the deployment. Mode is informational: it is fed
// into the master brain context and reported by get_system_status.
type SystemConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Mode    string `mapstructure:"mode"`
}

// LLMConfig selects a provider per analyst role, falling back to
// DefaultProvider for roles not listed.
type LLMConfig struct {
	DefaultProvider string                    `mapstructure:"default_provider"`
	Analysts        map[string]string         `mapstructure:"analysts"`
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig holds the non-secret part of one LLM provider endpoint.
// The API key is resolved from the environment by key name.
type ProviderConfig struct {
	Kind        string  `mapstructure:"kind"` // "claude" or "openai"
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	APIKeyEnv   string  `mapstructure:"api_key_env"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	TimeoutSec  int     `mapstructure:"timeout_sec"`
}

// MonitorConfig lists the tracked symbols. Primary symbols get fundamental
// analysis in the scheduled base batch; secondary symbols are tracked for
// context only.
type MonitorConfig struct {
	PrimarySymbols         []string `mapstructure:"primary_symbols"`
	SecondarySymbols       []string `mapstructure:"secondary_symbols"`
	DefaultIntervalMinutes int      `mapstructure:"default_interval_minutes"`
}

// KlineConfig sets the candle period and depth the collector fetches.
// 100 candles of the default 15m period is enough for a 50-period SMA
// with 50 fully-formed rows left over.
type KlineConfig struct {
	DefaultPeriod string `mapstructure:"default_period"`
	FetchLimit    int    `mapstructure:"fetch_limit"`
	FetchInterval int    `mapstructure:"fetch_interval"`
}

// TriggersConfig holds the heartbeat trigger interval in seconds.
type TriggersConfig struct {
	NormalInterval int `mapstructure:"normal_interval"`
}

// TradingConfig controls the trade execution side.
type TradingConfig struct {
	AutoTrading bool   `mapstructure:"auto_trading"`
	BaseURL     string `mapstructure:"base_url"`
	RecvWindow  int    `mapstructure:"recv_window"`
}

// TelegramConfig only carries tunables; token and chat id are env secrets.
type TelegramConfig struct {
	PollTimeoutSec int `mapstructure:"poll_timeout_sec"`
}

// DatabaseConfig configures the PostgreSQL store. With Enabled false the
// service runs on the in-memory store (no persistence across restarts).
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// LoggingConfig configures the root logger and the rotating file sink.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int64  `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("system.name", "crypto-agent")
	v.SetDefault("system.version", "1.0.0")
	v.SetDefault("system.mode", "standby")
	v.SetDefault("llm.default_provider", "doubao")
	v.SetDefault("monitor.primary_symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("monitor.secondary_symbols", []string{})
	v.SetDefault("monitor.default_interval_minutes", 30)
	v.SetDefault("kline.default_period", "15m")
	v.SetDefault("kline.fetch_limit", 100)
	v.SetDefault("kline.fetch_interval", 900)
	v.SetDefault("triggers.normal_interval", 300)
	v.SetDefault("trading.auto_trading", false)
	v.SetDefault("trading.base_url", "https://fapi.binance.com")
	v.SetDefault("trading.recv_window", 5000)
	v.SetDefault("telegram.poll_timeout_sec", 60)
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "crypto_agent")
	v.SetDefault("database.database", "crypto_agent")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "logs/crypto_agent.log")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 2)
}

// Load reads the YAML config at path, applies the dynamic overrides file if
// one exists next to it, and validates the result. A missing config file is
// the one startup error we refuse to work around.
func Load(path string) (*Config, error) {
	LoadDotEnv()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Dynamic overrides (written back by capabilities) live next to the
	// main file and win over it.
	dynPath := DynamicPath(path)
	if _, err := os.Stat(dynPath); err == nil {
		dv := viper.New()
		dv.SetConfigFile(dynPath)
		dv.SetConfigType("yaml")
		if err := dv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read dynamic config %s: %w", dynPath, err)
		}
		for _, key := range dynamicKeys {
			if dv.IsSet(key) {
				v.Set(key, dv.Get(key))
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.path = path

	if err := ValidateEnv(); err != nil {
		return nil, err
	}
	if cfg.Triggers.NormalInterval < 60 || cfg.Triggers.NormalInterval > 3600 {
		return nil, fmt.Errorf("triggers.normal_interval %d out of range [60, 3600]", cfg.Triggers.NormalInterval)
	}
	return &cfg, nil
}

// DynamicPath returns the dynamic overrides file that belongs to the main
// config at path.
func DynamicPath(path string) string {
	return filepath.Join(filepath.Dir(path), "dynamic_config.yaml")
}

// Path returns where this config was loaded from.
func (c *Config) Path() string { return c.path }
