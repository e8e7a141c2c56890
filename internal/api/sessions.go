package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/goodtune/gamestore/internal/desk"
	"github.com/goodtune/gamestore/internal/report"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// SessionsHandler handles session lifecycle API requests.
type SessionsHandler struct {
	desk     *desk.Desk
	reporter *report.Reporter
	mutes    MuteStore
	logger   zerolog.Logger
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(d *desk.Desk, reporter *report.Reporter, mutes MuteStore, logger zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		desk:     d,
		reporter: reporter,
		mutes:    mutes,
		logger:   logger.With().Str("handler", "sessions").Logger(),
	}
}

// List returns all active sessions.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.desk.ListActive(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// Start opens a session on a console.
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req desk.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ConsoleID == "" {
		writeError(w, http.StatusBadRequest, "console_id is required")
		return
	}

	session, err := h.desk.Start(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "start session")
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// Get returns a session by ID.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.desk.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err, "get session")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Estimate returns the elapsed and allowed minutes of a running session.
func (h *SessionsHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	est, err := h.desk.Estimate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err, "estimate session")
		return
	}

	writeJSON(w, http.StatusOK, est)
}

// Quote returns what closing the session now would charge. The optional
// redeem_units query parameter previews a points redemption.
func (h *SessionsHandler) Quote(w http.ResponseWriter, r *http.Request) {
	redeem := 0
	if v := r.URL.Query().Get("redeem_units"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "redeem_units must be a non-negative integer")
			return
		}
		redeem = n
	}

	st, err := h.desk.Quote(r.Context(), mux.Vars(r)["id"], redeem)
	if err != nil {
		writeServiceError(w, h.logger, err, "quote session")
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// Extend adds one extension to a session.
func (h *SessionsHandler) Extend(w http.ResponseWriter, r *http.Request) {
	session, err := h.desk.Extend(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err, "extend session")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// AddUnits records games played on a per-unit session.
func (h *SessionsHandler) AddUnits(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Units int `json:"units"`
	}{Units: 1}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.desk.AddUnits(r.Context(), mux.Vars(r)["id"], req.Units)
	if err != nil {
		writeServiceError(w, h.logger, err, "add units")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// AddConsumption records a product served during a session.
func (h *SessionsHandler) AddConsumption(w http.ResponseWriter, r *http.Request) {
	var req desk.ConsumptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProductName == "" {
		writeError(w, http.StatusBadRequest, "product_name is required")
		return
	}

	c, err := h.desk.AddConsumption(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeServiceError(w, h.logger, err, "add consumption")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// Close settles a session.
func (h *SessionsHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req desk.CloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := mux.Vars(r)["id"]
	result, err := h.desk.Close(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, h.logger, err, "close session")
		return
	}

	h.ended(r.Context(), id)
	writeJSON(w, http.StatusOK, result)
}

// Cancel ends a session without charge.
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, err := h.desk.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "cancel session")
		return
	}

	h.ended(r.Context(), id)
	writeJSON(w, http.StatusOK, session)
}

// ended drops cached reports and the session's alert mute.
func (h *SessionsHandler) ended(ctx context.Context, id string) {
	if h.reporter != nil {
		h.reporter.Invalidate()
	}
	if h.mutes != nil {
		if err := h.mutes.UnmuteSession(ctx, id); err != nil {
			h.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to clear session mute")
		}
	}
}
