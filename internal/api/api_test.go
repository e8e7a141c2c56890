package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/gamestore/internal/billing"
	"github.com/goodtune/gamestore/internal/clock"
	"github.com/goodtune/gamestore/internal/config"
	"github.com/goodtune/gamestore/internal/desk"
	"github.com/goodtune/gamestore/internal/ledger"
	"github.com/goodtune/gamestore/internal/notify"
	"github.com/goodtune/gamestore/internal/pricing"
	"github.com/goodtune/gamestore/internal/report"
	"github.com/goodtune/gamestore/internal/storage"
	redisstore "github.com/goodtune/gamestore/internal/storage/redis"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)

type testAPI struct {
	handler http.Handler
	store   *redisstore.Store
	ledger  *ledger.Service
	clock   *clock.Manual
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := redisstore.Open(config.RedisConfig{
		Host:         mr.Addr(),
		PoolSize:     10,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
		KeyPrefix:    "test:",
	})
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	clk := clock.NewManual(t0)
	logger := zerolog.Nop()

	catalog, err := pricing.NewCatalog(store.Plans(), clk, 16, nil, logger)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	if _, err := catalog.Save(ctx, storage.PricingPlan{
		ID: "ps5-hour", DeviceClass: "PS5", BillingMode: storage.BillingHourly,
		UnitPrice: decimal.RequireFromString("3"), StandardUnitDurationMinutes: 60,
		ExtensionMinutes: 30, ExtraUnitPrice: decimal.RequireFromString("1.5"),
		PointsAwardedPerUnit: 4, Active: true,
	}); err != nil {
		t.Fatalf("Save plan failed: %v", err)
	}
	if err := store.Consoles().Upsert(ctx, storage.Console{ID: "c1", Name: "PS5 one", DeviceClass: "PS5", StationNumber: 1}); err != nil {
		t.Fatalf("Upsert console failed: %v", err)
	}
	if err := store.Clients().Upsert(ctx, storage.Client{ID: "client-1", Name: "Amira", CreatedAt: t0}); err != nil {
		t.Fatalf("Upsert client failed: %v", err)
	}

	ledgerSvc := ledger.NewService(store.Ledger(), clk, logger)
	rules := billing.NewRulesHolder(billing.DefaultRules())
	reporter := report.NewReporter(report.Sources{
		Sessions: store.Sessions(),
		Sales:    store.Sales(),
		Services: store.Services(),
		Expenses: store.Expenses(),
		Ledger:   store.Ledger(),
	}, clk, report.Config{Location: time.UTC}, logger)

	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"}, Services{
		Store:    store,
		Desk:     desk.New(store, catalog, ledgerSvc, rules, clk, logger),
		Catalog:  catalog,
		Ledger:   ledgerSvc,
		Reporter: reporter,
		Mutes:    notify.NewRedisMutes(store.Client(), "test:"),
		Clock:    clk,
	}, logger)

	return &testAPI{handler: srv.Handler(), store: store, ledger: ledgerSvc, clock: clk}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: failed to decode response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestHealth(t *testing.T) {
	a := setupTestAPI(t)

	var resp map[string]interface{}
	if code := a.do(t, "GET", "/health", nil, &resp); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if resp["status"] != "ok" {
		t.Errorf("Unexpected health response: %v", resp)
	}
}

func TestSessionCloseFlow(t *testing.T) {
	a := setupTestAPI(t)

	var session storage.Session
	code := a.do(t, "POST", "/api/sessions", map[string]string{"console_id": "c1", "client_id": "client-1"}, &session)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}

	var busy ErrorResponse
	if code := a.do(t, "POST", "/api/sessions", map[string]string{"console_id": "c1"}, &busy); code != http.StatusConflict || busy.Error != "console_busy" {
		t.Errorf("Expected 409 console_busy, got %d %+v", code, busy)
	}

	a.clock.Advance(61 * time.Minute)
	var est billing.Estimate
	a.do(t, "GET", "/api/sessions/"+session.ID+"/estimate", nil, &est)
	if !est.IsOverdue {
		t.Errorf("Expected overdue estimate, got %+v", est)
	}

	if code := a.do(t, "POST", "/api/sessions/"+session.ID+"/extend", nil, &session); code != http.StatusOK || session.ExtraTimeMinutes != 30 {
		t.Fatalf("Extend: got %d %+v", code, session)
	}

	a.clock.Set(t0.Add(75 * time.Minute))
	var quote billing.Settlement
	a.do(t, "GET", "/api/sessions/"+session.ID+"/quote", nil, &quote)
	if !quote.TotalAmount.Equal(decimal.RequireFromString("4.5")) {
		t.Errorf("Expected quote 4.5, got %s", quote.TotalAmount)
	}

	var result desk.CloseResult
	if code := a.do(t, "POST", "/api/sessions/"+session.ID+"/close", nil, &result); code != http.StatusOK {
		t.Fatalf("Expected 200 closing, got %d", code)
	}
	if !result.Session.TotalAmount.Equal(decimal.RequireFromString("4.5")) || result.Balance == nil || *result.Balance != 4 {
		t.Errorf("Unexpected close result: %+v", result)
	}

	var again ErrorResponse
	if code := a.do(t, "POST", "/api/sessions/"+session.ID+"/close", nil, &again); code != http.StatusConflict || again.Error != "invalid_state" {
		t.Errorf("Expected 409 invalid_state, got %d %+v", code, again)
	}

	var rep struct {
		Summary report.Summary `json:"summary"`
	}
	if code := a.do(t, "GET", "/api/reports/summary?period=today", nil, &rep); code != http.StatusOK {
		t.Fatalf("Expected 200 for report, got %d", code)
	}
	if !rep.Summary.Revenue.Gaming.Equal(decimal.RequireFromString("4.5")) || rep.Summary.Points.Earned != 4 {
		t.Errorf("Unexpected report: %+v", rep.Summary)
	}
}

func TestErrorMapping(t *testing.T) {
	a := setupTestAPI(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"unknown session", "GET", "/api/sessions/nope", nil, http.StatusNotFound, "not_found"},
		{"redeem more than balance", "POST", "/api/clients/client-1/points/redeem", pointsRequest{Points: 5}, http.StatusConflict, "insufficient_points"},
		{"zero adjustment", "POST", "/api/clients/client-1/points/adjust", pointsRequest{Points: 0}, http.StatusBadRequest, "invalid_amount"},
		{"unknown client points", "POST", "/api/clients/ghost/points/adjust", pointsRequest{Points: 5}, http.StatusNotFound, "not_found"},
		{"invalid plan", "PUT", "/api/plans/bad", storage.PricingPlan{BillingMode: "daily"}, http.StatusBadRequest, "invalid_plan"},
		{"unknown console", "POST", "/api/sessions", desk.StartRequest{ConsoleID: "c9"}, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			code := a.do(t, tt.method, tt.path, tt.body, &resp)
			if code != tt.wantCode || resp.Error != tt.wantErr {
				t.Errorf("Expected %d %s, got %d %+v", tt.wantCode, tt.wantErr, code, resp)
			}
		})
	}
}

func TestPointsEndpoints(t *testing.T) {
	a := setupTestAPI(t)

	var entry storage.LedgerEntry
	if code := a.do(t, "POST", "/api/clients/client-1/points/adjust", pointsRequest{Points: 20, Description: "welcome"}, &entry); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if entry.BalanceAfter != 20 || entry.Type != storage.LedgerAdjustment {
		t.Errorf("Unexpected entry: %+v", entry)
	}

	if code := a.do(t, "POST", "/api/clients/client-1/points/redeem", pointsRequest{Points: 15}, &entry); code != http.StatusOK || entry.BalanceAfter != 5 {
		t.Fatalf("Redeem: got %d %+v", code, entry)
	}

	var balance struct {
		Balance int `json:"balance"`
	}
	a.do(t, "GET", "/api/clients/client-1/points", nil, &balance)
	if balance.Balance != 5 {
		t.Errorf("Expected balance 5, got %d", balance.Balance)
	}

	var history struct {
		Entries []storage.LedgerEntry `json:"entries"`
	}
	a.do(t, "GET", "/api/clients/client-1/points/history", nil, &history)
	if len(history.Entries) != 2 || history.Entries[1].Amount != -15 {
		t.Errorf("Unexpected history: %+v", history.Entries)
	}
}

func TestClientPutKeepsCounters(t *testing.T) {
	a := setupTestAPI(t)
	ctx := context.Background()

	if _, err := a.store.Clients().RecordVisit(ctx, "client-1", 3, decimal.RequireFromString("6")); err != nil {
		t.Fatalf("RecordVisit failed: %v", err)
	}

	var client storage.Client
	body := storage.Client{Name: "Amira K", Phone: "555-0100", LifetimeUnits: 99}
	if code := a.do(t, "PUT", "/api/clients/client-1", body, &client); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if client.Name != "Amira K" || client.LifetimeUnits != 3 || !client.TotalSpent.Equal(decimal.RequireFromString("6")) {
		t.Errorf("Unexpected client: %+v", client)
	}
}

func TestExpenses(t *testing.T) {
	a := setupTestAPI(t)

	var bad ErrorResponse
	if code := a.do(t, "POST", "/api/expenses", storage.Expense{Description: "rent", Amount: decimal.RequireFromString("100"), Date: "01/03/2025"}, &bad); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad date, got %d", code)
	}

	var created storage.Expense
	if code := a.do(t, "POST", "/api/expenses", storage.Expense{Description: "snacks", Amount: decimal.RequireFromString("2")}, &created); code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}
	if created.Date != "2025-03-01" || created.Category != storage.ExpenseOther {
		t.Errorf("Unexpected defaults: %+v", created)
	}

	var rep struct {
		Summary report.Summary `json:"summary"`
	}
	a.do(t, "GET", "/api/reports/summary?from=2025-03-01&to=2025-03-01", nil, &rep)
	if !rep.Summary.Expenses.Total.Equal(decimal.RequireFromString("2")) {
		t.Errorf("Expected expense in report, got %+v", rep.Summary.Expenses)
	}

	if code := a.do(t, "DELETE", "/api/expenses/"+created.ID, nil, nil); code != http.StatusOK {
		t.Errorf("Expected 200 deleting, got %d", code)
	}

	var list struct {
		Count int `json:"count"`
	}
	a.do(t, "GET", "/api/expenses", nil, &list)
	if list.Count != 0 {
		t.Errorf("Expected no expenses, got %d", list.Count)
	}
}

func TestServiceCompletionStamped(t *testing.T) {
	a := setupTestAPI(t)

	var job storage.ServiceRequest
	a.do(t, "PUT", "/api/services/r1", storage.ServiceRequest{DeviceType: "controller", Description: "stick drift"}, &job)
	if job.Status != storage.ServicePending || !job.CompletedAt.IsZero() {
		t.Errorf("Unexpected new job: %+v", job)
	}

	a.clock.Advance(2 * time.Hour)
	done := storage.ServiceRequest{DeviceType: "controller", Status: storage.ServiceCompleted, FinalCost: decimal.RequireFromString("12")}
	if code := a.do(t, "PUT", "/api/services/r1", done, &job); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if !job.CompletedAt.Equal(t0.Add(2*time.Hour)) || !job.CreatedAt.Equal(t0) {
		t.Errorf("Unexpected timestamps: %+v", job)
	}
}

func TestMutes(t *testing.T) {
	a := setupTestAPI(t)

	if code := a.do(t, "PUT", "/api/mutes/global", map[string]bool{"muted": true}, nil); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if code := a.do(t, "PUT", "/api/sessions/s1/mute", nil, nil); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}

	var state struct {
		Global   bool     `json:"global"`
		Sessions []string `json:"sessions"`
	}
	a.do(t, "GET", "/api/mutes", nil, &state)
	if !state.Global || len(state.Sessions) != 1 || state.Sessions[0] != "s1" {
		t.Errorf("Unexpected mute state: %+v", state)
	}

	a.do(t, "DELETE", "/api/sessions/s1/mute", nil, nil)
	a.do(t, "GET", "/api/mutes", nil, &state)
	if len(state.Sessions) != 0 {
		t.Errorf("Expected session unmuted, got %v", state.Sessions)
	}

	if code := a.do(t, "PUT", "/api/mutes/global", map[string]string{}, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 without muted, got %d", code)
	}
}

func TestCounterSale(t *testing.T) {
	a := setupTestAPI(t)

	var sale storage.Sale
	req := desk.SaleRequest{ClientID: "client-1", ProductName: "Cola", Quantity: 2, UnitPrice: decimal.RequireFromString("1.5"), PointsPerUnit: 1}
	if code := a.do(t, "POST", "/api/sales", req, &sale); code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}
	if !sale.TotalAmount.Equal(decimal.RequireFromString("3")) || sale.PointsEarned != 2 {
		t.Errorf("Unexpected sale: %+v", sale)
	}

	balance, err := a.ledger.CurrentBalance(context.Background(), "client-1")
	if err != nil || balance != 2 {
		t.Errorf("Expected 2 points, got %d (%v)", balance, err)
	}
}
