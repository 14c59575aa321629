// Package config provides configuration management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"fuel-pricing/core/units"
	perrors "fuel-pricing/internal/errors"
	"fuel-pricing/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. FUELPRICING_PRICING_ROUNDING_PLACES
const EnvPrefix = "FUELPRICING"

// Config is the main application configuration
type Config struct {
	// Pricing contains calculation settings
	Pricing PricingConfig `mapstructure:"pricing"`

	// FX contains exchange rate settings
	FX FXConfig `mapstructure:"fx"`

	// Database contains PostgreSQL settings
	Database DatabaseConfig `mapstructure:"database"`

	// Storage selects where calculation records are kept
	Storage StorageConfig `mapstructure:"storage"`

	// Logging contains logging configuration
	Logging logging.Config `mapstructure:"logging"`

	// Metrics contains instrumentation settings
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// PricingConfig contains pricing-related settings
type PricingConfig struct {
	// OutputUnit is used when a scenario does not name one
	OutputUnit string `mapstructure:"output_unit"`

	// RoundingPlaces is the half-up rounding scale of converted amounts
	RoundingPlaces int32 `mapstructure:"rounding_places"`

	// MaxCandidates bounds the rows one rule family may return
	MaxCandidates int `mapstructure:"max_candidates"`

	// ExtendExpiredClientSpecific is the default of the scenario flag
	ExtendExpiredClientSpecific bool `mapstructure:"extend_expired_client_spec_pricing"`

	// RulesPath is a JSON rule fixture used by the file data source
	RulesPath string `mapstructure:"rules_path"`
}

// FXConfig contains exchange rate settings
type FXConfig struct {
	// Provider is static or redis (static rates cached in redis)
	Provider string `mapstructure:"provider"`

	// StaticRates maps "FROM-TO" to a rate
	StaticRates map[string]string `mapstructure:"static_rates"`

	RedisURL string        `mapstructure:"redis_url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects the record store
type StorageConfig struct {
	// Backend is file, memory or postgres
	Backend string `mapstructure:"backend"`

	// Path is the file store directory
	Path string `mapstructure:"path"`
}

// MetricsConfig contains instrumentation settings
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Default returns a default configuration
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults are static; failing here is a programming error
		panic(err)
	}
	return cfg
}

// Load reads configuration from an optional file and the environment.
// Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, perrors.Config(fmt.Sprintf("failed to read config %s", path), err)
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()
	log := logging.DefaultConfig()

	v.SetDefault("pricing.output_unit", "USD/USG")
	v.SetDefault("pricing.rounding_places", units.DefaultPlaces)
	v.SetDefault("pricing.max_candidates", 500)
	v.SetDefault("pricing.extend_expired_client_spec_pricing", false)
	v.SetDefault("pricing.rules_path", "")

	v.SetDefault("fx.provider", "static")
	v.SetDefault("fx.static_rates", map[string]string{})
	v.SetDefault("fx.redis_url", "redis://localhost:6379/0")
	v.SetDefault("fx.cache_ttl", 15*time.Minute)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.path", filepath.Join(homeDir, ".fuel-pricing", "records"))

	v.SetDefault("logging.level", log.Level)
	v.SetDefault("logging.format", log.Format)
	v.SetDefault("logging.output", log.Output)
	v.SetDefault("logging.development", log.Development)
	v.SetDefault("logging.rotation.max_size_mb", log.Rotation.MaxSizeMB)
	v.SetDefault("logging.rotation.max_backups", log.Rotation.MaxBackups)
	v.SetDefault("logging.rotation.max_age_days", log.Rotation.MaxAgeDays)
	v.SetDefault("logging.rotation.compress", log.Rotation.Compress)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "fuel_pricing")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, perrors.Config("failed to decode configuration", err)
	}
	return &cfg, nil
}

// Validate checks values that cannot be expressed as defaults
func (c *Config) Validate() error {
	if _, err := units.ParsePricingUnit(c.Pricing.OutputUnit); err != nil {
		return perrors.Config("pricing.output_unit", err)
	}
	if c.Pricing.RoundingPlaces < 0 || c.Pricing.RoundingPlaces > 12 {
		return perrors.Config(fmt.Sprintf("pricing.rounding_places %d out of range", c.Pricing.RoundingPlaces), nil)
	}
	if c.Pricing.MaxCandidates <= 0 {
		return perrors.Config("pricing.max_candidates must be positive", nil)
	}
	switch c.FX.Provider {
	case "static", "redis":
	default:
		return perrors.Config(fmt.Sprintf("unknown fx.provider %q", c.FX.Provider), nil)
	}
	switch c.Storage.Backend {
	case "file", "memory", "postgres":
	default:
		return perrors.Config(fmt.Sprintf("unknown storage.backend %q", c.Storage.Backend), nil)
	}
	if c.Storage.Backend == "postgres" && c.Database.URL == "" {
		return perrors.Config("storage.backend postgres requires database.url", nil)
	}
	if _, err := c.FX.Rates(); err != nil {
		return err
	}
	return nil
}

// OutputUnit returns the parsed default output unit
func (c *Config) OutputUnit() units.PricingUnit {
	u, err := units.ParsePricingUnit(c.Pricing.OutputUnit)
	if err != nil {
		return units.MustPricingUnit("USD/USG")
	}
	return u
}

// Rates parses the static rate table
func (c FXConfig) Rates() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(c.StaticRates))
	for pair, raw := range c.StaticRates {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, perrors.Config(fmt.Sprintf("fx.static_rates %s", pair), err)
		}
		// viper lower-cases map keys
		out[strings.ToUpper(pair)] = rate
	}
	return out, nil
}

// Global configuration instance
var globalConfig = Default()

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// Set sets the global configuration
func Set(config *Config) {
	globalConfig = config
}
