package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/gamestore/internal/billing"
	"github.com/goodtune/gamestore/internal/config"
	"github.com/goodtune/gamestore/internal/policy"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func hourlyInput() billing.HourlyPointsInput {
	return billing.HourlyPointsInput{
		PlanID:           "ps5-hour",
		DeviceClass:      "PS5",
		PointsPerUnit:    4,
		StandardMinutes:  60,
		ExtraTimeMinutes: 30,
		ElapsedMinutes:   90,
		Amount:           decimal.RequireFromString("4.5"),
	}
}

func TestBuildRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		points int
	}{
		{"flat", func(c *config.Config) {}, 4},
		{"duration", func(c *config.Config) { c.Loyalty.HourlyPointsMode = "duration" }, 6},
		{"per currency", func(c *config.Config) {
			c.Loyalty.HourlyPointsMode = "per_currency"
			c.Loyalty.PointsPerCurrency = "2"
		}, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			tt.mutate(cfg)

			rules, engine, err := buildRules(cfg, nil, zerolog.Nop())
			if err != nil {
				t.Fatalf("buildRules: %v", err)
			}
			if engine != nil {
				t.Error("expected no policy engine")
			}
			if rules.PerUnitGrace != 5*time.Minute || rules.FreeUnitThreshold != 5 {
				t.Errorf("rules = %+v", rules)
			}

			got, err := rules.HourlyPoints.HourlyPoints(context.Background(), hourlyInput())
			if err != nil {
				t.Fatalf("HourlyPoints: %v", err)
			}
			if got != tt.points {
				t.Errorf("points = %d, want %d", got, tt.points)
			}
		})
	}
}

func TestBuildRulesErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.Loyalty.HourlyPointsMode = "per_currency"
	cfg.Loyalty.PointsPerCurrency = "-1"
	if _, _, err := buildRules(cfg, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for negative points_per_currency")
	}

	cfg = config.Defaults()
	cfg.Billing.PerUnitGrace = "later"
	if _, _, err := buildRules(cfg, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for bad grace")
	}

	cfg = config.Defaults()
	cfg.Loyalty.HourlyPointsMode = "policy"
	cfg.Loyalty.PolicyFile = filepath.Join(t.TempDir(), "missing.rego")
	if _, _, err := buildRules(cfg, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for missing policy file")
	}
}

func TestBuildRulesReusesPolicyEngine(t *testing.T) {
	cfg := config.Defaults()
	cfg.Loyalty.HourlyPointsMode = "policy"

	rules, engine, err := buildRules(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("buildRules: %v", err)
	}
	if engine == nil || engine.Source() != "builtin" {
		t.Fatalf("engine = %v, want builtin policy", engine)
	}
	if rules.HourlyPoints != billing.HourlyPointsPolicy(engine) {
		t.Error("rules do not use the policy engine")
	}

	_, again, err := buildRules(cfg, engine, zerolog.Nop())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if again != engine {
		t.Error("engine for the same policy was replaced")
	}

	other, err := policy.NewPointsEngine("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPointsEngine: %v", err)
	}
	cfg.Loyalty.HourlyPointsMode = "flat"
	_, none, err := buildRules(cfg, other, zerolog.Nop())
	if err != nil {
		t.Fatalf("rebuild flat: %v", err)
	}
	if none != nil {
		t.Error("flat mode kept a policy engine")
	}
}

func TestUnknownKeys(t *testing.T) {
	known := config.KnownKeys()
	got := unknownKeysOf([]string{
		"server.api_port",
		"store.default_plans.ps5",
		"billing.free_unit_treshold",
		"dns.upstream_servers",
	}, known)

	want := []string{"billing.free_unit_treshold", "dns.upstream_servers"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("unknown keys = %v, want %v", got, want)
	}
}

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "server:\n  api_port: 8081\n  https_port: 443\nstore:\n  default_plans:\n    ps5: ps5-hour\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("findUnknownKeys: %v", err)
	}
	if len(got) != 1 || got[0] != "server.https_port" {
		t.Errorf("unknown keys = %v, want [server.https_port]", got)
	}
}

func TestDumpConfig(t *testing.T) {
	defaults := config.Defaults()
	cfg := config.Defaults()
	cfg.Server.APIPort = 8081
	cfg.Storage.Redis.Password = "hunter2"

	var buf bytes.Buffer
	dumpConfig(&buf, cfg, defaults, []string{"server.https_port"})
	out := buf.String()

	for _, want := range []string{
		"api_port = 8081  (modified from default: 8080)",
		"metrics_port = 9090\n",
		"redis.password = ***REDACTED***",
		"default_plans = map[]\n",
		"server.https_port = (unknown key - check for typos)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q", want)
		}
	}
	if strings.Contains(out, "hunter2") {
		t.Error("dump leaked the redis password")
	}
}

func TestQuotePlanAndSettlement(t *testing.T) {
	quoteMode = string(storage.BillingHourly)
	quotePrice = "3"
	quoteMinutes = 60
	quoteExtensionMinutes = 30
	quoteExtraPrice = "1.5"
	quotePoints = 4
	defer func() {
		quotePrice, quoteExtraPrice, quoteExtensionMinutes, quotePoints = "", "0", 0, 0
	}()

	plan, err := quotePlan()
	if err != nil {
		t.Fatalf("quotePlan: %v", err)
	}

	start := time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)
	st, err := billing.Settle(context.Background(), billing.SettleInput{
		Session: storage.Session{
			ID:               "quote",
			BillingMode:      plan.BillingMode,
			StartTime:        start,
			Status:           storage.SessionActive,
			ExtraTimeMinutes: 30,
		},
		Plan:  plan,
		Now:   start.Add(85 * time.Minute),
		Rules: billing.DefaultRules(),
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	var buf bytes.Buffer
	printSettlement(&buf, st, "TND")
	out := buf.String()
	if !strings.Contains(out, "Total:         4.500 TND") {
		t.Errorf("settlement output:\n%s", out)
	}
	if !strings.Contains(out, "Points earned: 4") {
		t.Errorf("settlement output:\n%s", out)
	}
	if strings.Contains(out, "overdue") {
		t.Errorf("session within allotment reported overdue:\n%s", out)
	}
}

func TestQuotePlanRejectsBadInput(t *testing.T) {
	quoteMode = "weekly"
	quotePrice = "3"
	quoteMinutes = 60
	defer func() { quoteMode, quotePrice = "hourly", "" }()

	if _, err := quotePlan(); err == nil {
		t.Error("expected error for unknown billing mode")
	}

	quoteMode = "hourly"
	quotePrice = "three"
	if _, err := quotePlan(); err == nil {
		t.Error("expected error for bad price")
	}
}
