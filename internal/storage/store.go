package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrConflict is returned when a conditional write lost against a
	// concurrent writer, or a record with the same id already exists.
	ErrConflict = errors.New("storage: write conflict")

	// ErrConsoleBusy is returned when a console already has an active session.
	ErrConsoleBusy = errors.New("storage: console already has an active session")

	// ErrNotActive is returned when a session mutation targets a session
	// that is no longer active.
	ErrNotActive = errors.New("storage: session is not active")

	// ErrBalanceMismatch is returned when a ledger entry's balance does not
	// follow from the previous entry.
	ErrBalanceMismatch = errors.New("storage: ledger balance mismatch")
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Plans() PlanStore
	Consoles() ConsoleStore
	Sessions() SessionStore
	Clients() ClientStore
	Ledger() LedgerStore
	Sales() SaleStore
	Services() ServiceStore
	Expenses() ExpenseStore
}

// PlanStore manages pricing plans.
type PlanStore interface {
	Get(ctx context.Context, id string) (*PricingPlan, error)
	List(ctx context.Context) ([]PricingPlan, error)
	Upsert(ctx context.Context, plan PricingPlan) error
	Delete(ctx context.Context, id string) error
}

// ConsoleStore manages stations.
type ConsoleStore interface {
	Get(ctx context.Context, id string) (*Console, error)
	List(ctx context.Context) ([]Console, error)
	Upsert(ctx context.Context, console Console) error
}

// SessionStore manages rentals. Every mutation of an active session is
// conditional on the session still being active.
type SessionStore interface {
	// Create stores a new active session and claims its console.
	Create(ctx context.Context, session Session) error
	Get(ctx context.Context, id string) (*Session, error)
	ListActive(ctx context.Context) ([]Session, error)
	// ListEnded returns completed and cancelled sessions whose end time is
	// in [from, to).
	ListEnded(ctx context.Context, from, to time.Time) ([]Session, error)
	AddExtraTime(ctx context.Context, id string, minutes int) (*Session, error)
	AddUnits(ctx context.Context, id string, units int) (*Session, error)
	// Finalize writes the final state of a session, which must be completed
	// or cancelled, and releases its console.
	Finalize(ctx context.Context, session Session) error
	AddConsumption(ctx context.Context, c Consumption) error
	ListConsumptions(ctx context.Context, sessionID string) ([]Consumption, error)
	ClearConsumptions(ctx context.Context, sessionID string) error
}

// ClientStore manages loyalty customers.
type ClientStore interface {
	Get(ctx context.Context, id string) (*Client, error)
	List(ctx context.Context) ([]Client, error)
	Upsert(ctx context.Context, client Client) error
	// RecordVisit adds to the lifetime unit and spend counters.
	RecordVisit(ctx context.Context, id string, units int, spent decimal.Decimal) (*Client, error)
	// ReserveUnits atomically adds units to the lifetime counter and returns
	// its previous value, or ErrNotFound for an unknown client.
	ReserveUnits(ctx context.Context, id string, units int) (int, error)
}

// LedgerStore is the append-only points ledger.
type LedgerStore interface {
	// Last returns the newest entry for a client, or ErrNotFound.
	Last(ctx context.Context, clientID string) (*LedgerEntry, error)
	// Append adds entry if the client's newest entry id is still prevID
	// (empty for a client with no entries). It returns ErrConflict otherwise.
	Append(ctx context.Context, entry LedgerEntry, prevID string) error
	// List returns a client's entries in creation order.
	List(ctx context.Context, clientID string) ([]LedgerEntry, error)
	// ListBetween returns all entries created in [from, to).
	ListBetween(ctx context.Context, from, to time.Time) ([]LedgerEntry, error)
	FindByReference(ctx context.Context, clientID string, refType ReferenceType, refID string) ([]LedgerEntry, error)
}

// SaleStore manages product sales.
type SaleStore interface {
	Create(ctx context.Context, sale Sale) error
	Get(ctx context.Context, id string) (*Sale, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]Sale, error)
}

// ServiceStore manages repair jobs.
type ServiceStore interface {
	Upsert(ctx context.Context, req ServiceRequest) error
	Get(ctx context.Context, id string) (*ServiceRequest, error)
	// ListCompletedBetween returns completed jobs whose completion time is
	// in [from, to).
	ListCompletedBetween(ctx context.Context, from, to time.Time) ([]ServiceRequest, error)
}

// ExpenseStore manages expense records.
type ExpenseStore interface {
	Create(ctx context.Context, e Expense) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Expense, error)
}
