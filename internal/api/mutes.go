package api

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// MutesHandler handles overdue alert mute requests.
type MutesHandler struct {
	mutes  MuteStore
	logger zerolog.Logger
}

// NewMutesHandler creates a new mutes handler.
func NewMutesHandler(mutes MuteStore, logger zerolog.Logger) *MutesHandler {
	return &MutesHandler{
		mutes:  mutes,
		logger: logger.With().Str("handler", "mutes").Logger(),
	}
}

// Get returns the current mute state.
func (h *MutesHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	state, err := h.mutes.Mutes(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "read mutes")
		return
	}

	sessions := make([]string, 0, len(state.Sessions))
	for id := range state.Sessions {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"global":   state.Global,
		"sessions": sessions,
	})
}

// SetGlobal silences or restores the overdue alarm for every station.
func (h *MutesHandler) SetGlobal(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	var req struct {
		Muted *bool `json:"muted"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Muted == nil {
		writeError(w, http.StatusBadRequest, "muted is required")
		return
	}

	if err := h.mutes.SetGlobal(r.Context(), *req.Muted); err != nil {
		writeServiceError(w, h.logger, err, "set global mute")
		return
	}

	h.logger.Info().Bool("muted", *req.Muted).Msg("Global alarm mute changed")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"global": *req.Muted,
	})
}

// MuteSession silences the alarm for one session.
func (h *MutesHandler) MuteSession(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.mutes.MuteSession(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "mute session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"muted":      true,
	})
}

// UnmuteSession restores the alarm for one session.
func (h *MutesHandler) UnmuteSession(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.mutes.UnmuteSession(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "unmute session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"muted":      false,
	})
}

func (h *MutesHandler) available(w http.ResponseWriter) bool {
	if h.mutes == nil {
		writeError(w, http.StatusServiceUnavailable, "Alert mutes are not configured")
		return false
	}
	return true
}
