package api

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/goodtune/gamestore/internal/clock"
	"github.com/goodtune/gamestore/internal/desk"
	"github.com/goodtune/gamestore/internal/report"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// RecordsHandler handles sales, repair jobs and expenses.
type RecordsHandler struct {
	desk     *desk.Desk
	store    storage.Store
	reporter *report.Reporter
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(d *desk.Desk, store storage.Store, reporter *report.Reporter, clk clock.Clock, logger zerolog.Logger) *RecordsHandler {
	return &RecordsHandler{
		desk:     d,
		store:    store,
		reporter: reporter,
		clock:    clk,
		logger:   logger.With().Str("handler", "records").Logger(),
	}
}

// RecordSale records a counter sale.
func (h *RecordsHandler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req desk.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProductName == "" {
		writeError(w, http.StatusBadRequest, "product_name is required")
		return
	}

	sale, err := h.desk.RecordSale(r.Context(), req)
	if sale.ID != "" {
		h.invalidate()
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "record sale")
		return
	}

	writeJSON(w, http.StatusCreated, sale)
}

// PutService creates or updates a repair job. Completing a job stamps its
// completion time, which places it in reports.
func (h *RecordsHandler) PutService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var job storage.ServiceRequest
	if err := decodeJSON(r, &job); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	job.ID = id

	switch job.Status {
	case "":
		job.Status = storage.ServicePending
	case storage.ServicePending, storage.ServiceInProgress, storage.ServiceCompleted, storage.ServiceCancelled:
	default:
		writeError(w, http.StatusBadRequest, "Unknown service status")
		return
	}
	if job.FinalCost.IsNegative() {
		writeError(w, http.StatusBadRequest, "final_cost cannot be negative")
		return
	}

	now := h.clock.Now().UTC()
	existing, err := h.store.Services().Get(ctx, id)
	switch {
	case err == nil:
		job.CreatedAt = existing.CreatedAt
		if job.CompletedAt.IsZero() {
			job.CompletedAt = existing.CompletedAt
		}
	case errors.Is(err, storage.ErrNotFound):
		job.CreatedAt = now
	default:
		writeServiceError(w, h.logger, err, "get service")
		return
	}
	if job.Status == storage.ServiceCompleted && job.CompletedAt.IsZero() {
		job.CompletedAt = now
	}
	if job.Status != storage.ServiceCompleted {
		job.CompletedAt = time.Time{}
	}

	if err := h.store.Services().Upsert(ctx, job); err != nil {
		writeServiceError(w, h.logger, err, "save service")
		return
	}

	h.invalidate()
	h.logger.Info().Str("id", id).Str("status", string(job.Status)).Msg("Service saved")
	writeJSON(w, http.StatusOK, job)
}

// ListExpenses returns all expenses, newest date first.
func (h *RecordsHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.store.Expenses().List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list expenses")
		return
	}
	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].Date > expenses[j].Date
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"expenses": expenses,
		"count":    len(expenses),
	})
}

// CreateExpense records an expense. The date defaults to today in the
// store's time zone.
func (h *RecordsHandler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var e storage.Expense
	if err := decodeJSON(r, &e); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if e.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	if !e.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	switch e.Category {
	case "":
		e.Category = storage.ExpenseOther
	case storage.ExpenseDaily, storage.ExpenseMonthly, storage.ExpenseYearly, storage.ExpenseOther:
	default:
		writeError(w, http.StatusBadRequest, "Unknown expense category")
		return
	}
	if e.Date == "" {
		e.Date = h.clock.Now().In(h.location()).Format(storage.ExpenseDateLayout)
	} else if _, err := time.Parse(storage.ExpenseDateLayout, e.Date); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (expected YYYY-MM-DD)")
		return
	}
	e.ID = uuid.NewString()

	if err := h.store.Expenses().Create(r.Context(), e); err != nil {
		writeServiceError(w, h.logger, err, "create expense")
		return
	}

	h.invalidate()
	h.logger.Info().Str("id", e.ID).Str("amount", e.Amount.String()).Msg("Expense recorded")
	writeJSON(w, http.StatusCreated, e)
}

// DeleteExpense removes an expense.
func (h *RecordsHandler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.Expenses().Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "delete expense")
		return
	}

	h.invalidate()
	h.logger.Info().Str("id", id).Msg("Expense deleted")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Expense deleted successfully",
	})
}

func (h *RecordsHandler) location() *time.Location {
	if h.reporter != nil {
		return h.reporter.Location()
	}
	return time.UTC
}

func (h *RecordsHandler) invalidate() {
	if h.reporter != nil {
		h.reporter.Invalidate()
	}
}
