package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/gamestore/internal/api"
	"github.com/goodtune/gamestore/internal/billing"
	"github.com/goodtune/gamestore/internal/clock"
	"github.com/goodtune/gamestore/internal/config"
	"github.com/goodtune/gamestore/internal/desk"
	"github.com/goodtune/gamestore/internal/ledger"
	"github.com/goodtune/gamestore/internal/metrics"
	"github.com/goodtune/gamestore/internal/monitor"
	"github.com/goodtune/gamestore/internal/notify"
	"github.com/goodtune/gamestore/internal/policy"
	"github.com/goodtune/gamestore/internal/pricing"
	"github.com/goodtune/gamestore/internal/report"
	"github.com/goodtune/gamestore/internal/storage/redis"
	"github.com/goodtune/gamestore/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start Gamestore server",
	Long:    `Start the Gamestore server with the staff API, the overdue monitor, the end-of-day report and metrics endpoints.`,
	RunE:    runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Str("store", cfg.Store.Name).
		Msg("Starting Gamestore")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := redis.Open(cfg.Storage.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("redis_host", cfg.Storage.Redis.Host).
		Int("redis_port", cfg.Storage.Redis.Port).
		Str("key_prefix", cfg.Storage.Redis.KeyPrefix).
		Msg("Storage initialized")

	clk := clock.Real{}

	// Billing rules and the points policy
	rules, pointsEngine, err := buildRules(cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to build billing rules: %w", err)
	}
	rulesHolder := billing.NewRulesHolder(rules)

	logger.Info().
		Bool("free_units", rules.FreeUnitsEnabled).
		Int("free_unit_threshold", rules.FreeUnitThreshold).
		Str("free_unit_scope", string(rules.FreeUnitScope)).
		Str("hourly_points", cfg.Loyalty.HourlyPointsMode).
		Msg("Billing rules loaded")

	catalog, err := pricing.NewCatalog(store.Plans(), clk, cfg.Billing.PlanCacheSize, cfg.Store.DefaultPlans, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize pricing catalog: %w", err)
	}

	ledgerSvc := ledger.NewService(store.Ledger(), clk, logger)
	frontDesk := desk.New(store, catalog, ledgerSvc, rulesHolder, clk, logger)

	// Reports and end-of-day close
	reporter := report.NewReporter(report.Sources{
		Sessions: store.Sessions(),
		Sales:    store.Sales(),
		Services: store.Services(),
		Expenses: store.Expenses(),
		Ledger:   store.Ledger(),
	}, clk, report.Config{
		Location:  cfg.Location(),
		CacheSize: cfg.Report.CacheSize,
		CacheTTL:  parseDuration(cfg.Report.CacheTTL, report.DefaultCacheTTL),
	}, logger)

	dayCloser := report.NewDayCloser(reporter, cfg.Store.Currency, logger)
	dayCloser.Start()
	logger.Info().Str("timezone", cfg.Store.Timezone).Msg("Day closer started")

	// Overdue monitor
	mutes := notify.NewRedisMutes(store.Client(), store.Key(""))

	var overdue *monitor.Monitor
	if cfg.Monitor.Enabled {
		var notifiers notify.Multi
		if cfg.Notify.Log {
			notifiers = append(notifiers, notify.NewLogNotifier(logger))
		}
		if cfg.Notify.RedisChannel != "" {
			notifiers = append(notifiers, notify.NewRedisNotifier(store.Client(), cfg.Notify.RedisChannel, clk))
		}

		overdue = monitor.New(monitor.Sources{
			Sessions: store.Sessions(),
			Plans:    catalog,
			Consoles: store.Consoles(),
			Mutes:    mutes,
		}, notifiers, rulesHolder, clk, monitor.Config{
			Interval:       parseDuration(cfg.Monitor.Interval, monitor.DefaultInterval),
			DispatchBuffer: cfg.Monitor.DispatchBuffer,
		}, logger)
		overdue.Start()

		logger.Info().
			Str("interval", cfg.Monitor.Interval).
			Int("notifiers", len(notifiers)).
			Msg("Overdue monitor started")
	}

	// Initialize API Server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(api.Config{ListenAddr: apiAddr}, api.Services{
		Store:    store,
		Desk:     frontDesk,
		Catalog:  catalog,
		Ledger:   ledgerSvc,
		Reporter: reporter,
		Mutes:    mutes,
		Clock:    clk,
	}, logger)

	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, func(ctx context.Context) error {
		return store.Client().Ping(ctx).Err()
	}, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().Msg("Gamestore startup complete")
	logger.Info().Msgf("API: http://%s", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, reloading configuration...")
		_ = systemd.NotifyReloading()
		pointsEngine = reload(logger, rulesHolder, pointsEngine, catalog, reporter)
		_ = systemd.NotifyReady()
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	if overdue != nil {
		overdue.Stop()
	}
	dayCloser.Stop()

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("Gamestore stopped")

	return nil
}

// reload re-reads the configuration and swaps the billing rules. Listener
// addresses and storage settings need a restart. It returns the points
// engine now in use.
func reload(logger zerolog.Logger, holder *billing.RulesHolder, engine *policy.PointsEngine, catalog *pricing.Catalog, reporter *report.Reporter) *policy.PointsEngine {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reload configuration, keeping current rules")
		return engine
	}

	rules, newEngine, err := buildRules(cfg, engine, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to rebuild billing rules, keeping current rules")
		return engine
	}

	holder.Store(rules)
	catalog.Purge()
	reporter.Invalidate()

	logger.Info().Str("hourly_points", cfg.Loyalty.HourlyPointsMode).Msg("Configuration reloaded")
	return newEngine
}

// buildRules turns the billing and loyalty sections into a rules snapshot.
// In policy mode an engine built for the same file is reloaded in place,
// keeping its previous policy if the file no longer compiles.
func buildRules(cfg *config.Config, current *policy.PointsEngine, logger zerolog.Logger) (billing.Rules, *policy.PointsEngine, error) {
	grace, err := time.ParseDuration(cfg.Billing.PerUnitGrace)
	if err != nil {
		return billing.Rules{}, nil, fmt.Errorf("invalid per_unit_grace: %w", err)
	}

	rules := billing.Rules{
		FreeUnitsEnabled:  cfg.Billing.FreeUnitsEnabled,
		FreeUnitThreshold: cfg.Billing.FreeUnitThreshold,
		FreeUnitScope:     billing.FreeUnitScope(cfg.Billing.FreeUnitScope),
		PerUnitGrace:      grace,
		ChargeOverrun:     cfg.Billing.ChargeOverrun,
		PointsEnabled:     cfg.Loyalty.Enabled,
		PointsPerFreeUnit: cfg.Loyalty.PointsPerFreeUnit,
	}

	var engine *policy.PointsEngine
	switch cfg.Loyalty.HourlyPointsMode {
	case "duration":
		rules.HourlyPoints = billing.DurationPoints{}
	case "per_currency":
		per, err := decimal.NewFromString(cfg.Loyalty.PointsPerCurrency)
		if err != nil || per.IsNegative() {
			return billing.Rules{}, nil, fmt.Errorf("invalid points_per_currency %q", cfg.Loyalty.PointsPerCurrency)
		}
		rules.HourlyPoints = billing.CurrencyPoints{PerCurrencyUnit: per}
	case "policy":
		if current != nil && current.Uses(cfg.Loyalty.PolicyFile) {
			engine = current
			if err := engine.Reload(); err != nil {
				logger.Error().Err(err).Str("source", engine.Source()).Msg("Failed to reload points policy, keeping previous policy")
			}
		} else {
			engine, err = policy.NewPointsEngine(cfg.Loyalty.PolicyFile, logger)
			if err != nil {
				return billing.Rules{}, nil, fmt.Errorf("failed to load points policy: %w", err)
			}
		}
		rules.HourlyPoints = engine
	default:
		rules.HourlyPoints = billing.FlatPoints{}
	}

	return rules, engine, nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
