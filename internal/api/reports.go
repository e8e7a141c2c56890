package api

import (
	"net/http"
	"time"

	"github.com/goodtune/gamestore/internal/report"
	"github.com/rs/zerolog"
)

// ReportsHandler handles revenue and expense report requests.
type ReportsHandler struct {
	reporter *report.Reporter
	logger   zerolog.Logger
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(reporter *report.Reporter, logger zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{
		reporter: reporter,
		logger:   logger.With().Str("handler", "reports").Logger(),
	}
}

// Summary returns the report for a named period, or for the inclusive
// date range from..to (YYYY-MM-DD, store time zone).
func (h *ReportsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if from, to := q.Get("from"), q.Get("to"); from != "" || to != "" {
		h.dateRange(w, r, from, to)
		return
	}

	period, err := report.ParsePeriod(q.Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := h.reporter.Period(r.Context(), period)
	if err != nil {
		writeServiceError(w, h.logger, err, "build report")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"period":  period,
		"summary": sum,
	})
}

func (h *ReportsHandler) dateRange(w http.ResponseWriter, r *http.Request, fromStr, toStr string) {
	loc := h.reporter.Location()

	from, err := time.ParseInLocation("2006-01-02", fromStr, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (expected YYYY-MM-DD)")
		return
	}
	to, err := time.ParseInLocation("2006-01-02", toStr, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (expected YYYY-MM-DD)")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	sum, err := h.reporter.Window(r.Context(), from, to.AddDate(0, 0, 1))
	if err != nil {
		writeServiceError(w, h.logger, err, "build report")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": sum,
	})
}
