// Package api serves the staff JSON API over the front desk, the points
// ledger, the pricing catalog and the reports.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/gamestore/internal/clock"
	"github.com/goodtune/gamestore/internal/desk"
	"github.com/goodtune/gamestore/internal/ledger"
	"github.com/goodtune/gamestore/internal/monitor"
	"github.com/goodtune/gamestore/internal/pricing"
	"github.com/goodtune/gamestore/internal/report"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr string
}

// MuteStore reads and changes which overdue alerts are silenced.
type MuteStore interface {
	Mutes(ctx context.Context) (monitor.MuteState, error)
	SetGlobal(ctx context.Context, muted bool) error
	MuteSession(ctx context.Context, sessionID string) error
	UnmuteSession(ctx context.Context, sessionID string) error
}

// Services are the components exposed over HTTP.
type Services struct {
	Store    storage.Store
	Desk     *desk.Desk
	Catalog  *pricing.Catalog
	Ledger   *ledger.Service
	Reporter *report.Reporter
	Mutes    MuteStore
	Clock    clock.Clock
}

// Server represents the API HTTP server.
type Server struct {
	config   Config
	services Services
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, services Services, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:   cfg,
		services: services,
		router:   router,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Sessions
	sessions := NewSessionsHandler(s.services.Desk, s.services.Reporter, s.services.Mutes, s.logger)
	api.HandleFunc("/sessions", sessions.List).Methods("GET")
	api.HandleFunc("/sessions", sessions.Start).Methods("POST")
	api.HandleFunc("/sessions/{id}", sessions.Get).Methods("GET")
	api.HandleFunc("/sessions/{id}/estimate", sessions.Estimate).Methods("GET")
	api.HandleFunc("/sessions/{id}/quote", sessions.Quote).Methods("GET")
	api.HandleFunc("/sessions/{id}/extend", sessions.Extend).Methods("POST")
	api.HandleFunc("/sessions/{id}/units", sessions.AddUnits).Methods("POST")
	api.HandleFunc("/sessions/{id}/consumptions", sessions.AddConsumption).Methods("POST")
	api.HandleFunc("/sessions/{id}/close", sessions.Close).Methods("POST")
	api.HandleFunc("/sessions/{id}/cancel", sessions.Cancel).Methods("POST")

	// Catalog
	plans := NewPlansHandler(s.services.Catalog, s.logger)
	api.HandleFunc("/plans", plans.List).Methods("GET")
	api.HandleFunc("/plans/{id}", plans.Get).Methods("GET")
	api.HandleFunc("/plans/{id}", plans.Put).Methods("PUT")
	api.HandleFunc("/plans/{id}", plans.Delete).Methods("DELETE")

	consoles := NewConsolesHandler(s.services.Store.Consoles(), s.services.Catalog, s.logger)
	api.HandleFunc("/consoles", consoles.List).Methods("GET")
	api.HandleFunc("/consoles/{id}", consoles.Put).Methods("PUT")

	// Clients and points
	clients := NewClientsHandler(s.services.Store.Clients(), s.services.Ledger, s.services.Clock, s.services.Reporter, s.logger)
	api.HandleFunc("/clients", clients.List).Methods("GET")
	api.HandleFunc("/clients/{id}", clients.Get).Methods("GET")
	api.HandleFunc("/clients/{id}", clients.Put).Methods("PUT")
	api.HandleFunc("/clients/{id}/points", clients.Balance).Methods("GET")
	api.HandleFunc("/clients/{id}/points/history", clients.History).Methods("GET")
	api.HandleFunc("/clients/{id}/points/redeem", clients.Redeem).Methods("POST")
	api.HandleFunc("/clients/{id}/points/adjust", clients.Adjust).Methods("POST")

	// Sales, repairs and expenses
	records := NewRecordsHandler(s.services.Desk, s.services.Store, s.services.Reporter, s.services.Clock, s.logger)
	api.HandleFunc("/sales", records.RecordSale).Methods("POST")
	api.HandleFunc("/services/{id}", records.PutService).Methods("PUT")
	api.HandleFunc("/expenses", records.ListExpenses).Methods("GET")
	api.HandleFunc("/expenses", records.CreateExpense).Methods("POST")
	api.HandleFunc("/expenses/{id}", records.DeleteExpense).Methods("DELETE")

	// Reports
	reports := NewReportsHandler(s.services.Reporter, s.logger)
	api.HandleFunc("/reports/summary", reports.Summary).Methods("GET")

	// Overdue alert mutes
	mutes := NewMutesHandler(s.services.Mutes, s.logger)
	api.HandleFunc("/mutes", mutes.Get).Methods("GET")
	api.HandleFunc("/mutes/global", mutes.SetGlobal).Methods("PUT")
	api.HandleFunc("/sessions/{id}/mute", mutes.MuteSession).Methods("PUT")
	api.HandleFunc("/sessions/{id}/mute", mutes.UnmuteSession).Methods("DELETE")
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active, err := s.services.Desk.ListActive(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"active_sessions": len(active),
	})
}
