package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/goodtune/gamestore/internal/billing"
	"github.com/goodtune/gamestore/internal/desk"
	"github.com/goodtune/gamestore/internal/ledger"
	"github.com/goodtune/gamestore/internal/pricing"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"internal_error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// decodeJSON reads a request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// classify maps a domain error to a status code and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrInsufficientPoints):
		return http.StatusConflict, "insufficient_points"
	case errors.Is(err, ledger.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, billing.ErrInvalidState), errors.Is(err, storage.ErrNotActive):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, storage.ErrConsoleBusy):
		return http.StatusConflict, "console_busy"
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, pricing.ErrNoPlan):
		return http.StatusConflict, "no_plan"
	case errors.Is(err, billing.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, billing.ErrInvalidPlan):
		return http.StatusBadRequest, "invalid_plan"
	case errors.Is(err, desk.ErrPlanMismatch):
		return http.StatusBadRequest, "plan_mismatch"
	case errors.Is(err, desk.ErrNoClient), errors.Is(err, ledger.ErrNoClient):
		return http.StatusBadRequest, "no_client"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError reports err to the client. Unexpected errors are
// logged and their detail is not exposed.
func writeServiceError(w http.ResponseWriter, logger zerolog.Logger, err error, action string) {
	status, code := classify(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("Failed to " + action)
		message = "Failed to " + action
	}

	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
		Code:    status,
	})
}
