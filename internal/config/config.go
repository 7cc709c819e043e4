// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Cache    CacheConfig    `mapstructure:"cache"`
	DB       DBConfig       `mapstructure:"db"`
	Frontier FrontierConfig `mapstructure:"frontier"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig governs the crawl run itself.
type CrawlConfig struct {
	Seeds      []string `mapstructure:"seeds"`
	LinkBudget int      `mapstructure:"link_budget"`
}

// CacheConfig controls the on-disk fetch cache and upstream pacing.
type CacheConfig struct {
	Root             string `mapstructure:"root"`
	CitecUsername    string `mapstructure:"citec_username"`
	RePEcIntervalSec int    `mapstructure:"repec_interval_seconds"`
	CiTEcIntervalSec int    `mapstructure:"citec_interval_seconds"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// DBConfig controls access to the citation graph database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// FrontierConfig sets where the durable work queue lives.
type FrontierConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// NotifyConfig holds the recipient for run lifecycle notifications.
type NotifyConfig struct {
	Recipient string `mapstructure:"recipient"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CITESPIDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.link_budget", 5000)
	v.SetDefault("cache.root", "cache")
	v.SetDefault("cache.repec_interval_seconds", 3)
	v.SetDefault("cache.citec_interval_seconds", 6)
	v.SetDefault("cache.timeout_seconds", 30)
	v.SetDefault("cache.backoff_initial_ms", 250)
	v.SetDefault("cache.backoff_max_ms", 60000)
	v.SetDefault("frontier.path", "frontier.db")
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawl.Seeds) == 0 {
		return fmt.Errorf("crawl.seeds must not be empty")
	}
	if c.Crawl.LinkBudget <= 0 {
		return fmt.Errorf("crawl.link_budget must be > 0")
	}
	if c.Cache.Root == "" {
		return fmt.Errorf("cache.root must be set")
	}
	if c.Cache.CitecUsername == "" {
		return fmt.Errorf("cache.citec_username must be set")
	}
	if c.Cache.TimeoutSeconds <= 0 {
		return fmt.Errorf("cache.timeout_seconds must be > 0")
	}
	if c.Cache.BackoffMaxMs < c.Cache.BackoffInitialMs {
		return fmt.Errorf("cache.backoff_max_ms must be >= cache.backoff_initial_ms")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Frontier.Path == "" {
		return fmt.Errorf("frontier.path must be set")
	}
	if c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0")
	}
	return nil
}

// RePEcInterval is the minimum spacing between RePEc requests.
func (c CacheConfig) RePEcInterval() time.Duration {
	return time.Duration(c.RePEcIntervalSec) * time.Second
}

// CiTEcInterval is the minimum spacing between CiTEc requests.
func (c CacheConfig) CiTEcInterval() time.Duration {
	return time.Duration(c.CiTEcIntervalSec) * time.Second
}

// Timeout bounds a single upstream request attempt.
func (c CacheConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (c CacheConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps the retry delay growth.
func (c CacheConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}
