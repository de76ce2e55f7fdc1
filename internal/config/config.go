// Package config loads titlesearch settings from an optional YAML/JSON file,
// TITLESEARCH_* environment variables and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"titlesearch/internal/search"
	"titlesearch/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. TITLESEARCH_SEARCH_LIMIT.
const EnvPrefix = "TITLESEARCH"

// Config represents the application configuration
type Config struct {
	Search  SearchConfig  `mapstructure:"search"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Storage StorageConfig `mapstructure:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// SearchConfig controls parsing.
type SearchConfig struct {
	// Limit caps records per page; 0 keeps all of them.
	Limit       int    `mapstructure:"limit"`
	StrictMerge bool   `mapstructure:"strict_merge"`
	RulesFile   string `mapstructure:"rules_file"`
	BaseURL     string `mapstructure:"base_url"`
}

// FetchConfig controls HTTP loading.
type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// StorageConfig selects the record store. An empty Kind disables storage.
type StorageConfig struct {
	Kind  string `mapstructure:"kind"`
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// MetricsConfig selects the metrics backend ("none" or "datadog").
type MetricsConfig struct {
	Backend    string        `mapstructure:"backend"`
	JobName    string        `mapstructure:"job_name"`
	Tags       string        `mapstructure:"tags"` // comma-separated key:value pairs
	FlushEvery time.Duration `mapstructure:"flush_every"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// LimitValue converts Limit to a search.Limit.
func (c SearchConfig) LimitValue() search.Limit {
	if c.Limit <= 0 {
		return search.NoLimit
	}
	return search.LimitTo(c.Limit)
}

// Enabled reports whether a store kind is configured.
func (c StorageConfig) Enabled() bool {
	return strings.TrimSpace(c.Kind) != ""
}

// Repository returns the storage.Config for this section.
func (c StorageConfig) Repository() storage.Config {
	return storage.Config{Kind: c.Kind, DSN: c.DSN, Table: c.Table}
}

// Load reads configPath (when non-empty), applies TITLESEARCH_* overrides
// and defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("search.limit", 0)
	v.SetDefault("search.strict_merge", false)
	v.SetDefault("search.rules_file", "")
	v.SetDefault("search.base_url", search.DefaultBaseURL)

	v.SetDefault("fetch.timeout", 20*time.Second)
	v.SetDefault("fetch.user_agent", "titlesearch/1.0")

	v.SetDefault("storage.kind", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.table", storage.DefaultTable)

	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.job_name", "titlesearch")
	v.SetDefault("metrics.tags", "")
	v.SetDefault("metrics.flush_every", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

func validate(cfg *Config) error {
	if cfg.Search.Limit < 0 {
		return fmt.Errorf("search.limit must be non-negative")
	}
	if cfg.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	if cfg.Storage.Enabled() && strings.TrimSpace(cfg.Storage.DSN) == "" {
		return fmt.Errorf("storage.dsn is required when storage.kind is set")
	}
	switch cfg.Metrics.Backend {
	case "none", "datadog":
	default:
		return fmt.Errorf("metrics.backend must be none or datadog, got %q", cfg.Metrics.Backend)
	}
	if cfg.Metrics.Backend == "datadog" && cfg.Metrics.FlushEvery <= 0 {
		return fmt.Errorf("metrics.flush_every must be positive")
	}
	return nil
}
