package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// API metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamestore_http_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"route", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamestore_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Session metrics
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamestore_sessions_started_total",
			Help: "Total sessions started",
		},
		[]string{"mode"},
	)

	SessionsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamestore_sessions_settled_total",
			Help: "Total sessions closed with a settlement",
		},
		[]string{"mode"},
	)

	SessionsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamestore_sessions_cancelled_total",
			Help: "Total sessions cancelled without charge",
		},
	)

	RevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamestore_revenue_total",
			Help: "Total gaming revenue settled, in currency units",
		},
		[]string{"mode"},
	)

	// Monitor metrics
	OverdueSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamestore_overdue_sessions",
			Help: "Number of overdue sessions at the last monitor tick",
		},
	)

	OverdueNotifications = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamestore_overdue_notifications_total",
			Help: "Total overdue notifications raised",
		},
	)

	AlarmsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamestore_alarms_total",
			Help: "Total audible alarms raised",
		},
	)

	MonitorTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gamestore_monitor_tick_duration_seconds",
			Help:    "Overdue monitor tick duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	MonitorTicksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamestore_monitor_ticks_dropped_total",
			Help: "Monitor ticks skipped because the previous tick was still running",
		},
	)

	MonitorSessionErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamestore_monitor_session_errors_total",
			Help: "Sessions the monitor failed to evaluate",
		},
	)

	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamestore_notifications_dropped_total",
			Help: "Notifications dropped because the dispatch queue was full",
		},
	)

	// Ledger metrics
	LedgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamestore_ledger_entries_total",
			Help: "Total ledger entries appended",
		},
		[]string{"type"},
	)

	LedgerConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamestore_ledger_conflicts_total",
			Help: "Ledger appends rejected by a concurrent modification",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		SessionsStarted,
		SessionsSettled,
		SessionsCancelled,
		RevenueTotal,
		OverdueSessions,
		OverdueNotifications,
		AlarmsTotal,
		MonitorTickDuration,
		MonitorTicksDropped,
		MonitorSessionErrors,
		NotificationsDropped,
		LedgerEntries,
		LedgerConflicts,
	)
}

// HealthCheck reports whether a dependency the service needs is reachable.
type HealthCheck func(ctx context.Context) error

// Server serves /metrics and /health.
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server. A nil check always reports healthy.
func NewServer(addr string, check HealthCheck, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "metrics").Logger()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				logger.Warn().Err(err).Msg("Health check failed")
				http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the metrics mux.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
