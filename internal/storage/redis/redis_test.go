package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/gamestore/internal/config"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/shopspring/decimal"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
		KeyPrefix:    "test:",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func activeSession(id, consoleID string, start time.Time) storage.Session {
	return storage.Session{
		ID:            id,
		ConsoleID:     consoleID,
		PricingPlanID: "ps5-hour",
		BillingMode:   storage.BillingHourly,
		ClientID:      "client-1",
		StartTime:     start,
		Status:        storage.SessionActive,
	}
}

func TestOpenRejectsBadTimeout(t *testing.T) {
	_, err := Open(config.RedisConfig{Host: "localhost", DialTimeout: "soon"})
	if err == nil {
		t.Fatal("Expected error for invalid dial_timeout")
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	sessions := store.Sessions()

	start := time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)
	if err := sessions.Create(ctx, activeSession("s1", "console-1", start)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := sessions.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ConsoleID != "console-1" {
		t.Errorf("Expected console-1, got %s", got.ConsoleID)
	}
	if !got.StartTime.Equal(start) {
		t.Errorf("Expected start %v, got %v", start, got.StartTime)
	}
	if got.Status != storage.SessionActive {
		t.Errorf("Expected active, got %s", got.Status)
	}
	if !got.EndTime.IsZero() {
		t.Errorf("Expected zero end time, got %v", got.EndTime)
	}

	if _, err := sessions.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionStore_ConsoleClaim(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	sessions := store.Sessions()
	start := time.Now()

	if err := sessions.Create(ctx, activeSession("s1", "console-1", start)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := sessions.Create(ctx, activeSession("s2", "console-1", start))
	if !errors.Is(err, storage.ErrConsoleBusy) {
		t.Fatalf("Expected ErrConsoleBusy, got %v", err)
	}

	err = sessions.Create(ctx, activeSession("s1", "console-2", start))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Expected ErrConflict for duplicate id, got %v", err)
	}

	// Finalizing frees the console
	s, _ := sessions.Get(ctx, "s1")
	s.Status = storage.SessionCancelled
	s.EndTime = start.Add(time.Minute)
	if err := sessions.Finalize(ctx, *s); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if err := sessions.Create(ctx, activeSession("s2", "console-1", start)); err != nil {
		t.Fatalf("Expected console to be free after finalize, got %v", err)
	}
}

func TestSessionStore_ConcurrentClaim(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "s" + string(rune('a'+i))
			if err := store.Sessions().Create(ctx, activeSession(id, "console-1", time.Now())); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if won != 1 {
		t.Errorf("Expected exactly one session to claim the console, got %d", won)
	}
}

func TestSessionStore_IncrementsOnlyWhileActive(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	sessions := store.Sessions()
	start := time.Now()

	if err := sessions.Create(ctx, activeSession("s1", "console-1", start)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := sessions.AddExtraTime(ctx, "s1", 30)
	if err != nil {
		t.Fatalf("AddExtraTime failed: %v", err)
	}
	if got.ExtraTimeMinutes != 30 {
		t.Errorf("Expected 30 extra minutes, got %d", got.ExtraTimeMinutes)
	}

	got, err = sessions.AddUnits(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("AddUnits failed: %v", err)
	}
	if got.GamesPlayed != 2 {
		t.Errorf("Expected 2 games, got %d", got.GamesPlayed)
	}

	got.Status = storage.SessionCompleted
	got.EndTime = start.Add(time.Hour)
	got.BaseAmount = decimal.RequireFromString("3")
	got.ExtraAmount = decimal.RequireFromString("1.5")
	got.TotalAmount = decimal.RequireFromString("4.5")
	if err := sessions.Finalize(ctx, *got); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if _, err := sessions.AddExtraTime(ctx, "s1", 30); !errors.Is(err, storage.ErrNotActive) {
		t.Errorf("Expected ErrNotActive, got %v", err)
	}
	if err := sessions.Finalize(ctx, *got); !errors.Is(err, storage.ErrNotActive) {
		t.Errorf("Expected ErrNotActive on second finalize, got %v", err)
	}
	if _, err := sessions.AddUnits(ctx, "missing", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	final, err := sessions.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !final.TotalAmount.Equal(decimal.RequireFromString("4.5")) {
		t.Errorf("Expected total 4.500, got %s", final.TotalAmount)
	}
	if final.ExtraTimeMinutes != 30 {
		t.Errorf("Expected extra time frozen at 30, got %d", final.ExtraTimeMinutes)
	}
}

func TestSessionStore_ListActiveAndEnded(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	sessions := store.Sessions()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		s := activeSession(id, "console-"+id, day.Add(time.Duration(i)*time.Hour))
		if err := sessions.Create(ctx, s); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}

	// End "a" inside the window and "b" exactly at its exclusive end
	for id, end := range map[string]time.Time{
		"a": day.Add(2 * time.Hour),
		"b": day.Add(24 * time.Hour),
	} {
		s, _ := sessions.Get(ctx, id)
		s.Status = storage.SessionCompleted
		s.EndTime = end
		if err := sessions.Finalize(ctx, *s); err != nil {
			t.Fatalf("Finalize %s failed: %v", id, err)
		}
	}

	active, err := sessions.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "c" {
		t.Errorf("Expected only c active, got %+v", active)
	}

	ended, err := sessions.ListEnded(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListEnded failed: %v", err)
	}
	if len(ended) != 1 || ended[0].ID != "a" {
		t.Errorf("Expected only a in window, got %+v", ended)
	}
}

func TestSessionStore_Consumptions(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	sessions := store.Sessions()

	for _, name := range []string{"Coffee", "Water"} {
		err := sessions.AddConsumption(ctx, storage.Consumption{
			ID:          name,
			SessionID:   "s1",
			ProductName: name,
			Quantity:    1,
			UnitPrice:   decimal.RequireFromString("1.2"),
		})
		if err != nil {
			t.Fatalf("AddConsumption failed: %v", err)
		}
	}

	items, err := sessions.ListConsumptions(ctx, "s1")
	if err != nil {
		t.Fatalf("ListConsumptions failed: %v", err)
	}
	if len(items) != 2 || items[0].ProductName != "Coffee" {
		t.Errorf("Unexpected consumptions: %+v", items)
	}

	if err := sessions.ClearConsumptions(ctx, "s1"); err != nil {
		t.Fatalf("ClearConsumptions failed: %v", err)
	}
	items, _ = sessions.ListConsumptions(ctx, "s1")
	if len(items) != 0 {
		t.Errorf("Expected no consumptions, got %d", len(items))
	}
}

func TestPlanStore(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	plans := store.Plans()

	plan := storage.PricingPlan{
		ID:                          "ps5-hour",
		Name:                        "PS5 1h",
		DeviceClass:                 "PS5",
		BillingMode:                 storage.BillingHourly,
		UnitPrice:                   decimal.RequireFromString("3"),
		StandardUnitDurationMinutes: 60,
		ExtensionMinutes:            30,
		ExtraUnitPrice:              decimal.RequireFromString("1.5"),
		Active:                      true,
	}
	if err := plans.Upsert(ctx, plan); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := plans.Get(ctx, plan.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.UnitPrice.Equal(plan.UnitPrice) || got.ExtensionMinutes != 30 {
		t.Errorf("Plan round trip mismatch: %+v", got)
	}

	all, err := plans.List(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("List = %d plans, err %v", len(all), err)
	}

	if err := plans.Delete(ctx, plan.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := plans.Get(ctx, plan.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := plans.Delete(ctx, plan.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestConsoleStore(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	c := storage.Console{ID: "c1", Name: "Station 1", DeviceClass: "PS4", StationNumber: 1}
	if err := store.Consoles().Upsert(ctx, c); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := store.Consoles().Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.StationNumber != 1 {
		t.Errorf("Expected station 1, got %d", got.StationNumber)
	}

	list, err := store.Consoles().List(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("List = %v, %v", list, err)
	}
}

func TestClientStore_RecordVisit(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	clients := store.Clients()

	if _, err := clients.RecordVisit(ctx, "ghost", 1, decimal.Zero); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	c := storage.Client{ID: "client-1", Name: "Amine", LifetimeUnits: 4, CreatedAt: time.Now()}
	if err := clients.Upsert(ctx, c); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := clients.RecordVisit(ctx, "client-1", 2, decimal.RequireFromString("7.5"))
	if err != nil {
		t.Fatalf("RecordVisit failed: %v", err)
	}
	if got.LifetimeUnits != 6 {
		t.Errorf("Expected 6 lifetime units, got %d", got.LifetimeUnits)
	}
	if !got.TotalSpent.Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("Expected 7.500 spent, got %s", got.TotalSpent)
	}

	all, err := clients.List(ctx)
	if err != nil || len(all) != 1 {
		t.Errorf("List = %v, %v", all, err)
	}
}

func TestClientStore_ReserveUnits(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	clients := store.Clients()

	if _, err := clients.ReserveUnits(ctx, "ghost", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if err := clients.Upsert(ctx, storage.Client{ID: "client-1", Name: "Amine", LifetimeUnits: 4, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	tests := []struct {
		units      int
		wantBefore int
		wantAfter  int
	}{
		{units: 1, wantBefore: 4, wantAfter: 5},
		{units: 3, wantBefore: 5, wantAfter: 8},
		{units: -3, wantBefore: 8, wantAfter: 5},
	}

	for _, tt := range tests {
		before, err := clients.ReserveUnits(ctx, "client-1", tt.units)
		if err != nil {
			t.Fatalf("ReserveUnits(%d) failed: %v", tt.units, err)
		}
		if before != tt.wantBefore {
			t.Errorf("ReserveUnits(%d) before = %d, want %d", tt.units, before, tt.wantBefore)
		}
		got, _ := clients.Get(ctx, "client-1")
		if got.LifetimeUnits != tt.wantAfter {
			t.Errorf("ReserveUnits(%d) after = %d, want %d", tt.units, got.LifetimeUnits, tt.wantAfter)
		}
	}

	if exists, _ := store.Client().Exists(ctx, store.Key("client:ghost")).Result(); exists != 0 {
		t.Error("Reserving for an unknown client must not create it")
	}
}

func ledgerEntry(id, clientID string, amount, balance int, at time.Time) storage.LedgerEntry {
	typ := storage.LedgerEarned
	if amount < 0 {
		typ = storage.LedgerRedeemed
	}
	return storage.LedgerEntry{
		ID:            id,
		ClientID:      clientID,
		Type:          typ,
		Amount:        amount,
		BalanceAfter:  balance,
		ReferenceType: storage.ReferenceSession,
		ReferenceID:   "session-" + id,
		CreatedAt:     at,
	}
}

func TestLedgerStore_ConditionalAppend(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	ledger := store.Ledger()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := ledger.Last(ctx, "client-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for empty ledger, got %v", err)
	}

	if err := ledger.Append(ctx, ledgerEntry("e1", "client-1", 10, 10, now), ""); err != nil {
		t.Fatalf("First append failed: %v", err)
	}

	// A writer that read an empty ledger has lost the race
	err := ledger.Append(ctx, ledgerEntry("e2", "client-1", 5, 5, now), "")
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	// Balance must follow from the head
	err = ledger.Append(ctx, ledgerEntry("e2", "client-1", 5, 20, now), "e1")
	if !errors.Is(err, storage.ErrBalanceMismatch) {
		t.Fatalf("Expected ErrBalanceMismatch, got %v", err)
	}

	// Balance may never go negative
	err = ledger.Append(ctx, ledgerEntry("e2", "client-1", -11, -1, now), "e1")
	if !errors.Is(err, storage.ErrBalanceMismatch) {
		t.Fatalf("Expected ErrBalanceMismatch for overdraw, got %v", err)
	}

	if err := ledger.Append(ctx, ledgerEntry("e2", "client-1", -4, 6, now.Add(time.Minute)), "e1"); err != nil {
		t.Fatalf("Second append failed: %v", err)
	}

	last, err := ledger.Last(ctx, "client-1")
	if err != nil {
		t.Fatalf("Last failed: %v", err)
	}
	if last.ID != "e2" || last.BalanceAfter != 6 {
		t.Errorf("Unexpected head: %+v", last)
	}

	entries, err := ledger.List(ctx, "client-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "e1" || entries[1].ID != "e2" {
		t.Errorf("Unexpected order: %+v", entries)
	}

	refs, err := ledger.FindByReference(ctx, "client-1", storage.ReferenceSession, "session-e2")
	if err != nil || len(refs) != 1 {
		t.Errorf("FindByReference = %v, %v", refs, err)
	}
	refs, _ = ledger.FindByReference(ctx, "client-2", storage.ReferenceSession, "session-e2")
	if len(refs) != 0 {
		t.Errorf("Expected reference lookup to be client scoped, got %v", refs)
	}

	between, err := ledger.ListBetween(ctx, now, now.Add(time.Minute))
	if err != nil || len(between) != 1 || between[0].ID != "e1" {
		t.Errorf("ListBetween = %v, %v", between, err)
	}
}

func TestSaleServiceExpenseStores(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	sale := storage.Sale{
		ID:          "sale-1",
		ProductName: "Chips",
		Quantity:    2,
		TotalAmount: decimal.RequireFromString("2.4"),
		Status:      storage.SaleCompleted,
		CreatedAt:   day.Add(10 * time.Hour),
	}
	if err := store.Sales().Create(ctx, sale); err != nil {
		t.Fatalf("Create sale failed: %v", err)
	}
	if err := store.Sales().Create(ctx, sale); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate sale, got %v", err)
	}

	sales, err := store.Sales().ListBetween(ctx, day, day.Add(24*time.Hour))
	if err != nil || len(sales) != 1 {
		t.Fatalf("ListBetween = %v, %v", sales, err)
	}

	job := storage.ServiceRequest{ID: "job-1", DeviceType: "PS4", Status: storage.ServiceInProgress, CreatedAt: day}
	if err := store.Services().Upsert(ctx, job); err != nil {
		t.Fatalf("Upsert service failed: %v", err)
	}
	done, _ := store.Services().ListCompletedBetween(ctx, day, day.Add(24*time.Hour))
	if len(done) != 0 {
		t.Errorf("In-progress job should not be listed as completed")
	}

	job.Status = storage.ServiceCompleted
	if err := store.Services().Upsert(ctx, job); err == nil {
		t.Error("Expected error for completed job without completion time")
	}
	job.CompletedAt = day.Add(15 * time.Hour)
	job.FinalCost = decimal.RequireFromString("40")
	if err := store.Services().Upsert(ctx, job); err != nil {
		t.Fatalf("Upsert completed service failed: %v", err)
	}
	done, err = store.Services().ListCompletedBetween(ctx, day, day.Add(24*time.Hour))
	if err != nil || len(done) != 1 {
		t.Errorf("ListCompletedBetween = %v, %v", done, err)
	}

	exp := storage.Expense{ID: "exp-1", Description: "Rent", Amount: decimal.RequireFromString("300"), Category: storage.ExpenseMonthly, Date: "2025-03-01"}
	if err := store.Expenses().Create(ctx, exp); err != nil {
		t.Fatalf("Create expense failed: %v", err)
	}
	list, err := store.Expenses().List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List expenses = %v, %v", list, err)
	}
	if err := store.Expenses().Delete(ctx, "exp-1"); err != nil {
		t.Errorf("Delete expense failed: %v", err)
	}
}

func TestListingsSkipUndecodableRecords(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	noon := float64(day.Add(12 * time.Hour).UnixMilli())

	good := activeSession("good", "c1", day.Add(9*time.Hour))
	if err := store.Sessions().Create(ctx, good); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	good.Status = storage.SessionCompleted
	good.EndTime = day.Add(10 * time.Hour)
	if err := store.Sessions().Finalize(ctx, good); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := store.Sessions().Create(ctx, activeSession("running", "c2", day.Add(11*time.Hour))); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Sales().Create(ctx, storage.Sale{ID: "sale-1", ProductName: "Chips", Quantity: 1, CreatedAt: day.Add(12 * time.Hour)}); err != nil {
		t.Fatalf("Create sale failed: %v", err)
	}
	if err := store.Expenses().Create(ctx, storage.Expense{ID: "exp-1", Description: "Rent", Date: "2025-03-01"}); err != nil {
		t.Fatalf("Create expense failed: %v", err)
	}

	mr.HSet("test:session:bad-active", "id", "bad-active", "status", "active", "start_time", "garbage")
	_, _ = mr.SAdd("test:sessions:active", "bad-active")
	mr.HSet("test:session:bad-ended", "id", "bad-ended", "status", "completed", "end_time", "garbage")
	_, _ = mr.ZAdd("test:sessions:ended", noon, "bad-ended")
	_ = mr.Set("test:sale:bad", `{"id":"bad","created_at":"not-a-date"}`)
	_, _ = mr.ZAdd("test:sales:timeline", noon, "bad")
	mr.HSet("test:expenses", "bad", "{not json")

	tests := []struct {
		name string
		list func() (int, error)
	}{
		{"active sessions", func() (int, error) {
			l, err := store.Sessions().ListActive(ctx)
			return len(l), err
		}},
		{"ended sessions", func() (int, error) {
			l, err := store.Sessions().ListEnded(ctx, day, day.Add(24*time.Hour))
			return len(l), err
		}},
		{"sales", func() (int, error) {
			l, err := store.Sales().ListBetween(ctx, day, day.Add(24*time.Hour))
			return len(l), err
		}},
		{"expenses", func() (int, error) {
			l, err := store.Expenses().List(ctx)
			return len(l), err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.list()
			if err != nil {
				t.Fatalf("Listing failed: %v", err)
			}
			if n != 1 {
				t.Errorf("Expected only the readable record, got %d", n)
			}
		})
	}
}
