package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "store:\n  name: Arcade\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Store.Name != "Arcade" {
		t.Errorf("store name = %q, want Arcade", cfg.Store.Name)
	}
	if cfg.Server.APIPort != 8080 || cfg.Server.MetricsPort != 9090 {
		t.Errorf("ports = %d/%d, want 8080/9090", cfg.Server.APIPort, cfg.Server.MetricsPort)
	}
	if cfg.Billing.FreeUnitThreshold != 5 || cfg.Billing.FreeUnitScope != "lifetime" {
		t.Errorf("free units = %d/%s, want 5/lifetime", cfg.Billing.FreeUnitThreshold, cfg.Billing.FreeUnitScope)
	}
	if cfg.Loyalty.HourlyPointsMode != "flat" {
		t.Errorf("hourly points mode = %q, want flat", cfg.Loyalty.HourlyPointsMode)
	}
	if cfg.Storage.Redis.KeyPrefix != "gamestore:" {
		t.Errorf("key prefix = %q", cfg.Storage.Redis.KeyPrefix)
	}
}

func TestLoadDefaultPlans(t *testing.T) {
	cfg, err := Load(writeConfig(t, "store:\n  default_plans:\n    ps5: ps5-hour\n    ps4: ps4-game\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Store.DefaultPlans["ps5"]; got != "ps5-hour" {
		t.Errorf("default plan for ps5 = %q, want ps5-hour", got)
	}
	if len(cfg.Store.DefaultPlans) != 2 {
		t.Errorf("default plans = %v", cfg.Store.DefaultPlans)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GAMESTORE_BILLING_FREE_UNIT_THRESHOLD", "7")
	t.Setenv("GAMESTORE_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "billing:\n  free_unit_threshold: 3\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Billing.FreeUnitThreshold != 7 {
		t.Errorf("threshold = %d, want 7 from environment", cfg.Billing.FreeUnitThreshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"api port", "server:\n  api_port: 70000\n", "invalid API port"},
		{"storage type", "storage:\n  type: bolt\n", "unsupported storage type"},
		{"timezone", "store:\n  timezone: Nowhere/Land\n", "invalid store timezone"},
		{"grace", "billing:\n  per_unit_grace: soon\n", "per_unit_grace"},
		{"threshold", "billing:\n  free_unit_threshold: 0\n", "free_unit_threshold"},
		{"scope", "billing:\n  free_unit_scope: weekly\n", "free_unit_scope"},
		{"points mode", "loyalty:\n  hourly_points_mode: random\n", "hourly_points_mode"},
		{"free unit cost", "loyalty:\n  points_per_free_unit: -1\n", "points_per_free_unit"},
		{"interval", "monitor:\n  interval: 0s\n", "monitor.interval"},
		{"syntax", "server: [\n", "failed to read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestThresholdIgnoredWhenFreeUnitsDisabled(t *testing.T) {
	_, err := Load(writeConfig(t, "billing:\n  free_units_enabled: false\n  free_unit_threshold: 0\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestKnownKeys(t *testing.T) {
	keys := KnownKeys()
	for _, k := range []string{
		"server.api_port",
		"storage.redis.key_prefix",
		"billing.free_unit_threshold",
		"loyalty.policy_file",
		"monitor.interval",
		"report.cache_ttl",
	} {
		if !keys[k] {
			t.Errorf("%s is not a known key", k)
		}
	}
	if keys["server.dns_port"] {
		t.Error("server.dns_port should not be known")
	}
}

func TestDefaultsMatchLoad(t *testing.T) {
	d := Defaults()
	if d.Monitor.Interval != "10s" || d.Report.CacheSize != 32 {
		t.Errorf("defaults = %+v %+v", d.Monitor, d.Report)
	}
	if d.Location() == nil {
		t.Error("Location returned nil")
	}
}
