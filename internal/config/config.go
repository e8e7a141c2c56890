package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Store   StoreConfig   `mapstructure:"store"`
	Billing BillingConfig `mapstructure:"billing"`
	Loyalty LoyaltyConfig `mapstructure:"loyalty"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Report  ReportConfig  `mapstructure:"report"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig describes the shop itself
type StoreConfig struct {
	Name         string            `mapstructure:"name"`
	Timezone     string            `mapstructure:"timezone"`
	Currency     string            `mapstructure:"currency"`
	DefaultPlans map[string]string `mapstructure:"default_plans"` // device class (lower case) -> plan id
}

// BillingConfig defines settlement rules
type BillingConfig struct {
	PerUnitGrace      string `mapstructure:"per_unit_grace"`
	FreeUnitsEnabled  bool   `mapstructure:"free_units_enabled"`
	FreeUnitThreshold int    `mapstructure:"free_unit_threshold"`
	FreeUnitScope     string `mapstructure:"free_unit_scope"` // "lifetime" or "session"
	ChargeOverrun     bool   `mapstructure:"charge_overrun"`
	PlanCacheSize     int    `mapstructure:"plan_cache_size"`
}

// LoyaltyConfig defines how points are earned and spent
type LoyaltyConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	HourlyPointsMode  string `mapstructure:"hourly_points_mode"` // flat, duration, per_currency, policy
	PointsPerCurrency string `mapstructure:"points_per_currency"`
	PointsPerFreeUnit int    `mapstructure:"points_per_free_unit"`
	PolicyFile        string `mapstructure:"policy_file"` // empty uses the built-in policy
}

// MonitorConfig defines the overdue monitor
type MonitorConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Interval       string `mapstructure:"interval"`
	DispatchBuffer int    `mapstructure:"dispatch_buffer"`
}

// NotifyConfig defines where overdue events go
type NotifyConfig struct {
	Log          bool   `mapstructure:"log"`
	RedisChannel string `mapstructure:"redis_channel"`
}

// ReportConfig defines report caching
type ReportConfig struct {
	CacheSize int    `mapstructure:"cache_size"`
	CacheTTL  string `mapstructure:"cache_ttl"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("GAMESTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration produced by defaults alone.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// KnownKeys returns every configuration key that has a default. Keys
// under store.default_plans are free-form device classes.
func KnownKeys() map[string]bool {
	v := viper.New()
	setDefaults(v)

	keys := make(map[string]bool)
	for _, k := range v.AllKeys() {
		keys[k] = true
	}
	return keys
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "gamestore:")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Store defaults
	v.SetDefault("store.name", "Game Store")
	v.SetDefault("store.timezone", "Africa/Tunis")
	v.SetDefault("store.currency", "TND")
	v.SetDefault("store.default_plans", map[string]string{})

	// Billing defaults
	v.SetDefault("billing.per_unit_grace", "5m")
	v.SetDefault("billing.free_units_enabled", true)
	v.SetDefault("billing.free_unit_threshold", 5)
	v.SetDefault("billing.free_unit_scope", "lifetime")
	v.SetDefault("billing.charge_overrun", false)
	v.SetDefault("billing.plan_cache_size", 128)

	// Loyalty defaults
	v.SetDefault("loyalty.enabled", true)
	v.SetDefault("loyalty.hourly_points_mode", "flat")
	v.SetDefault("loyalty.points_per_currency", "1")
	v.SetDefault("loyalty.points_per_free_unit", 0)
	v.SetDefault("loyalty.policy_file", "")

	// Monitor defaults
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", "10s")
	v.SetDefault("monitor.dispatch_buffer", 64)

	// Notify defaults
	v.SetDefault("notify.log", true)
	v.SetDefault("notify.redis_channel", "gamestore:events")

	// Report defaults
	v.SetDefault("report.cache_size", 32)
	v.SetDefault("report.cache_ttl", "30s")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "redis"
	}
	if cfg.Storage.Type != "redis" {
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if _, err := time.LoadLocation(cfg.Store.Timezone); err != nil {
		return fmt.Errorf("invalid store timezone %q: %w", cfg.Store.Timezone, err)
	}

	if _, err := time.ParseDuration(cfg.Billing.PerUnitGrace); err != nil {
		return fmt.Errorf("invalid billing.per_unit_grace: %w", err)
	}
	if cfg.Billing.FreeUnitsEnabled && cfg.Billing.FreeUnitThreshold <= 0 {
		return fmt.Errorf("billing.free_unit_threshold must be positive when free units are enabled")
	}
	switch cfg.Billing.FreeUnitScope {
	case "lifetime", "session":
	default:
		return fmt.Errorf("invalid billing.free_unit_scope: %s", cfg.Billing.FreeUnitScope)
	}

	switch cfg.Loyalty.HourlyPointsMode {
	case "flat", "duration", "per_currency", "policy":
	default:
		return fmt.Errorf("invalid loyalty.hourly_points_mode: %s", cfg.Loyalty.HourlyPointsMode)
	}
	if cfg.Loyalty.PointsPerFreeUnit < 0 {
		return fmt.Errorf("loyalty.points_per_free_unit cannot be negative")
	}

	interval, err := time.ParseDuration(cfg.Monitor.Interval)
	if err != nil {
		return fmt.Errorf("invalid monitor.interval: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}

	return nil
}

// Location returns the store's time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Store.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
