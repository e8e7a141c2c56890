package main

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/gamestore/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the Gamestore configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Billing rules are only checked when built, so build them once here
	if _, _, err := buildRules(cfg, nil, zerolog.Nop()); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(os.Stdout, cfg, config.Defaults(), unknownKeys)
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unknownKeysOf(v.AllKeys(), config.KnownKeys()), nil
}

// unknownKeysOf returns the keys that are neither known nor device class
// entries under store.default_plans.
func unknownKeysOf(keys []string, known map[string]bool) []string {
	unknown := []string{}
	for _, key := range keys {
		if known[key] || strings.HasPrefix(key, "store.default_plans.") {
			continue
		}
		unknown = append(unknown, key)
	}
	sort.Strings(unknown)
	return unknown
}

type dumpSection struct {
	title  string
	fields []dumpEntry
}

type dumpEntry struct {
	name         string
	value, deflt interface{}
}

// dumpConfig prints every section, highlighting values that differ from
// their default.
func dumpConfig(w io.Writer, cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	sections := []dumpSection{
		{"[server]", []dumpEntry{
			{"bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress},
			{"api_port", cfg.Server.APIPort, defaultCfg.Server.APIPort},
			{"metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort},
		}},
		{"[storage]", []dumpEntry{
			{"type", cfg.Storage.Type, defaultCfg.Storage.Type},
			{"redis.host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host},
			{"redis.port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port},
			{"redis.password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password)},
			{"redis.db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB},
			{"redis.pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize},
			{"redis.min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns},
			{"redis.dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout},
			{"redis.read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout},
			{"redis.write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout},
			{"redis.key_prefix", cfg.Storage.Redis.KeyPrefix, defaultCfg.Storage.Redis.KeyPrefix},
		}},
		{"[logging]", []dumpEntry{
			{"level", cfg.Logging.Level, defaultCfg.Logging.Level},
			{"format", cfg.Logging.Format, defaultCfg.Logging.Format},
		}},
		{"[store]", []dumpEntry{
			{"name", cfg.Store.Name, defaultCfg.Store.Name},
			{"timezone", cfg.Store.Timezone, defaultCfg.Store.Timezone},
			{"currency", cfg.Store.Currency, defaultCfg.Store.Currency},
			{"default_plans", cfg.Store.DefaultPlans, defaultCfg.Store.DefaultPlans},
		}},
		{"[billing]", []dumpEntry{
			{"per_unit_grace", cfg.Billing.PerUnitGrace, defaultCfg.Billing.PerUnitGrace},
			{"free_units_enabled", cfg.Billing.FreeUnitsEnabled, defaultCfg.Billing.FreeUnitsEnabled},
			{"free_unit_threshold", cfg.Billing.FreeUnitThreshold, defaultCfg.Billing.FreeUnitThreshold},
			{"free_unit_scope", cfg.Billing.FreeUnitScope, defaultCfg.Billing.FreeUnitScope},
			{"charge_overrun", cfg.Billing.ChargeOverrun, defaultCfg.Billing.ChargeOverrun},
			{"plan_cache_size", cfg.Billing.PlanCacheSize, defaultCfg.Billing.PlanCacheSize},
		}},
		{"[loyalty]", []dumpEntry{
			{"enabled", cfg.Loyalty.Enabled, defaultCfg.Loyalty.Enabled},
			{"hourly_points_mode", cfg.Loyalty.HourlyPointsMode, defaultCfg.Loyalty.HourlyPointsMode},
			{"points_per_currency", cfg.Loyalty.PointsPerCurrency, defaultCfg.Loyalty.PointsPerCurrency},
			{"points_per_free_unit", cfg.Loyalty.PointsPerFreeUnit, defaultCfg.Loyalty.PointsPerFreeUnit},
			{"policy_file", cfg.Loyalty.PolicyFile, defaultCfg.Loyalty.PolicyFile},
		}},
		{"[monitor]", []dumpEntry{
			{"enabled", cfg.Monitor.Enabled, defaultCfg.Monitor.Enabled},
			{"interval", cfg.Monitor.Interval, defaultCfg.Monitor.Interval},
			{"dispatch_buffer", cfg.Monitor.DispatchBuffer, defaultCfg.Monitor.DispatchBuffer},
		}},
		{"[notify]", []dumpEntry{
			{"log", cfg.Notify.Log, defaultCfg.Notify.Log},
			{"redis_channel", cfg.Notify.RedisChannel, defaultCfg.Notify.RedisChannel},
		}},
		{"[report]", []dumpEntry{
			{"cache_size", cfg.Report.CacheSize, defaultCfg.Report.CacheSize},
			{"cache_ttl", cfg.Report.CacheTTL, defaultCfg.Report.CacheTTL},
		}},
	}

	for _, section := range sections {
		_, _ = cyan.Fprintln(w, "\n"+section.title)
		for _, f := range section.fields {
			dumpField(w, "  "+f.name, f.value, f.deflt, yellow, green)
		}
	}

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = cyan.Fprintln(w, "\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(w, "  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(w io.Writer, name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)

	// nil and empty maps both mean "not set"
	if reflect.ValueOf(value).Kind() == reflect.Map && reflect.ValueOf(value).Len() == 0 &&
		reflect.ValueOf(defaultValue).Kind() == reflect.Map && reflect.ValueOf(defaultValue).Len() == 0 {
		_, _ = defaultColor.Fprintf(w, "%s = %s\n", name, valueStr)
		return
	}

	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Fprintf(w, "%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Fprintf(w, "%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
