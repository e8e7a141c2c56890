package api

import (
	"net/http"

	"github.com/goodtune/gamestore/internal/pricing"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ConsolesHandler handles console API requests.
type ConsolesHandler struct {
	store   storage.ConsoleStore
	catalog *pricing.Catalog
	logger  zerolog.Logger
}

// NewConsolesHandler creates a new consoles handler.
func NewConsolesHandler(store storage.ConsoleStore, catalog *pricing.Catalog, logger zerolog.Logger) *ConsolesHandler {
	return &ConsolesHandler{
		store:   store,
		catalog: catalog,
		logger:  logger.With().Str("handler", "consoles").Logger(),
	}
}

// List returns all consoles.
func (h *ConsolesHandler) List(w http.ResponseWriter, r *http.Request) {
	consoles, err := h.store.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list consoles")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"consoles": consoles,
		"count":    len(consoles),
	})
}

// Put creates or replaces a console.
func (h *ConsolesHandler) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var console storage.Console
	if err := decodeJSON(r, &console); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	console.ID = mux.Vars(r)["id"]

	if console.Name == "" || console.DeviceClass == "" {
		writeError(w, http.StatusBadRequest, "name and device_class are required")
		return
	}
	if console.DefaultPlanID != "" {
		if _, err := h.catalog.Get(ctx, console.DefaultPlanID); err != nil {
			writeServiceError(w, h.logger, err, "check default plan")
			return
		}
	}

	if err := h.store.Upsert(ctx, console); err != nil {
		writeServiceError(w, h.logger, err, "save console")
		return
	}

	h.logger.Info().Str("id", console.ID).Str("device_class", console.DeviceClass).Msg("Console saved")
	writeJSON(w, http.StatusOK, console)
}
