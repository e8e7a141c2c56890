package api

import (
	"net/http"

	"github.com/goodtune/gamestore/internal/pricing"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// PlansHandler handles pricing catalog API requests.
type PlansHandler struct {
	catalog *pricing.Catalog
	logger  zerolog.Logger
}

// NewPlansHandler creates a new plans handler.
func NewPlansHandler(catalog *pricing.Catalog, logger zerolog.Logger) *PlansHandler {
	return &PlansHandler{
		catalog: catalog,
		logger:  logger.With().Str("handler", "plans").Logger(),
	}
}

// List returns all plans, or the active plans of one device class when
// device_class is given.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		plans []storage.PricingPlan
		err   error
	)
	if class := r.URL.Query().Get("device_class"); class != "" {
		plans, err = h.catalog.ForDeviceClass(r.Context(), class)
	} else {
		plans, err = h.catalog.List(r.Context())
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "list plans")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plans": plans,
		"count": len(plans),
	})
}

// Get returns a plan by ID.
func (h *PlansHandler) Get(w http.ResponseWriter, r *http.Request) {
	plan, err := h.catalog.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err, "get plan")
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

// Put creates or replaces a plan. Running sessions keep the billing mode
// they started with.
func (h *PlansHandler) Put(w http.ResponseWriter, r *http.Request) {
	var plan storage.PricingPlan
	if err := decodeJSON(r, &plan); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	plan.ID = mux.Vars(r)["id"]

	saved, err := h.catalog.Save(r.Context(), plan)
	if err != nil {
		writeServiceError(w, h.logger, err, "save plan")
		return
	}

	h.logger.Info().Str("id", saved.ID).Str("device_class", saved.DeviceClass).Msg("Plan saved")
	writeJSON(w, http.StatusOK, saved)
}

// Delete removes a plan.
func (h *PlansHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.catalog.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "delete plan")
		return
	}

	h.logger.Info().Str("id", id).Msg("Plan deleted")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Plan deleted successfully",
	})
}
