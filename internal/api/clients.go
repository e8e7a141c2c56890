package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/goodtune/gamestore/internal/clock"
	"github.com/goodtune/gamestore/internal/ledger"
	"github.com/goodtune/gamestore/internal/report"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ClientsHandler handles loyalty client and points API requests.
type ClientsHandler struct {
	store    storage.ClientStore
	ledger   *ledger.Service
	clock    clock.Clock
	reporter *report.Reporter
	logger   zerolog.Logger
}

// NewClientsHandler creates a new clients handler.
func NewClientsHandler(store storage.ClientStore, ledgerSvc *ledger.Service, clk clock.Clock, reporter *report.Reporter, logger zerolog.Logger) *ClientsHandler {
	return &ClientsHandler{
		store:    store,
		ledger:   ledgerSvc,
		clock:    clk,
		reporter: reporter,
		logger:   logger.With().Str("handler", "clients").Logger(),
	}
}

// pointsRequest is the body of redeem and adjust requests.
type pointsRequest struct {
	Points      int    `json:"points"`
	Description string `json:"description"`
}

// List returns all clients.
func (h *ClientsHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.store.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list clients")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clients": clients,
		"count":   len(clients),
	})
}

// Get returns a client by ID.
func (h *ClientsHandler) Get(w http.ResponseWriter, r *http.Request) {
	client, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err, "get client")
		return
	}

	writeJSON(w, http.StatusOK, client)
}

// Put creates or updates a client's contact details. The visit counters
// are maintained by session closes and cannot be set here.
func (h *ClientsHandler) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var updates storage.Client
	if err := decodeJSON(r, &updates); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if updates.Name == "" {
		writeError(w, http.StatusBadRequest, "Client name is required")
		return
	}

	client := storage.Client{ID: id, CreatedAt: h.clock.Now().UTC()}
	existing, err := h.store.Get(ctx, id)
	switch {
	case err == nil:
		client = *existing
	case !errors.Is(err, storage.ErrNotFound):
		writeServiceError(w, h.logger, err, "get client")
		return
	}
	client.Name = updates.Name
	client.Phone = updates.Phone

	if err := h.store.Upsert(ctx, client); err != nil {
		writeServiceError(w, h.logger, err, "save client")
		return
	}

	h.logger.Info().Str("id", id).Msg("Client saved")
	writeJSON(w, http.StatusOK, client)
}

// Balance returns a client's points balance.
func (h *ClientsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if _, err := h.store.Get(ctx, id); err != nil {
		writeServiceError(w, h.logger, err, "get client")
		return
	}

	balance, err := h.ledger.CurrentBalance(ctx, id)
	if err != nil {
		writeServiceError(w, h.logger, err, "read balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"client_id": id,
		"balance":   balance,
	})
}

// History returns a client's ledger entries, oldest first.
func (h *ClientsHandler) History(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entries, err := h.ledger.History(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "read points history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"client_id": id,
		"entries":   entries,
		"count":     len(entries),
	})
}

// Redeem debits points for a reward outside a session.
func (h *ClientsHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "redeem points", h.ledger.Redeem)
}

// Adjust applies a signed manual correction.
func (h *ClientsHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "adjust points", h.ledger.Adjust)
}

type ledgerOp func(ctx context.Context, clientID string, amount int, ref ledger.Reference) (storage.LedgerEntry, error)

func (h *ClientsHandler) apply(w http.ResponseWriter, r *http.Request, action string, op ledgerOp) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var req pointsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, err := h.store.Get(ctx, id); err != nil {
		writeServiceError(w, h.logger, err, "get client")
		return
	}

	ref := ledger.Reference{Type: storage.ReferenceManual, Description: req.Description}
	entry, err := ledger.RetryOnce(func() (storage.LedgerEntry, error) {
		return op(ctx, id, req.Points, ref)
	})
	if err != nil {
		writeServiceError(w, h.logger, err, action)
		return
	}

	if h.reporter != nil {
		h.reporter.Invalidate()
	}
	writeJSON(w, http.StatusOK, entry)
}
