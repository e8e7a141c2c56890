// Package ledger maintains the loyalty points ledger. It is the only writer
// of points entries and the sole arbiter of a client's balance.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/gamestore/internal/clock"
	"github.com/goodtune/gamestore/internal/metrics"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidAmount is returned for a zero amount, or a negative one
	// where a positive amount is required.
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrInsufficientPoints is returned when a debit exceeds the balance.
	ErrInsufficientPoints = errors.New("ledger: insufficient points")

	// ErrConcurrentModification is returned when another writer appended
	// to the client's ledger first. Callers retry once, see RetryOnce.
	ErrConcurrentModification = errors.New("ledger: concurrent modification")

	// ErrCorrupt is returned when replaying a ledger does not reproduce its
	// recorded balances.
	ErrCorrupt = errors.New("ledger: balance chain is corrupt")

	// ErrNoClient is returned when an operation names no client.
	ErrNoClient = errors.New("ledger: client id is required")
)

// Reference names what caused a ledger entry.
type Reference struct {
	Type        storage.ReferenceType
	ID          string
	Description string
}

// Service appends and reads ledger entries.
type Service struct {
	store  storage.LedgerStore
	clock  clock.Clock
	locks  *clientLocks
	logger zerolog.Logger
}

// NewService creates a ledger service.
func NewService(store storage.LedgerStore, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		clock:  clk,
		locks:  newClientLocks(),
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// Earn credits amount points to a client.
func (s *Service) Earn(ctx context.Context, clientID string, amount int, ref Reference) (storage.LedgerEntry, error) {
	if amount <= 0 {
		return storage.LedgerEntry{}, fmt.Errorf("%w: earn %d", ErrInvalidAmount, amount)
	}
	return s.append(ctx, clientID, storage.LedgerEarned, amount, ref)
}

// Redeem debits amount points from a client. It fails with
// ErrInsufficientPoints, leaving the balance unchanged, when amount exceeds
// the current balance.
func (s *Service) Redeem(ctx context.Context, clientID string, amount int, ref Reference) (storage.LedgerEntry, error) {
	if amount <= 0 {
		return storage.LedgerEntry{}, fmt.Errorf("%w: redeem %d", ErrInvalidAmount, amount)
	}
	return s.append(ctx, clientID, storage.LedgerRedeemed, -amount, ref)
}

// Adjust records a signed manual correction. A negative adjustment may not
// take the balance below zero.
func (s *Service) Adjust(ctx context.Context, clientID string, amount int, ref Reference) (storage.LedgerEntry, error) {
	if amount == 0 {
		return storage.LedgerEntry{}, fmt.Errorf("%w: adjust by zero", ErrInvalidAmount)
	}
	if ref.Type == "" {
		ref.Type = storage.ReferenceManual
	}
	return s.append(ctx, clientID, storage.LedgerAdjustment, amount, ref)
}

// CurrentBalance returns the balance after the client's newest entry.
func (s *Service) CurrentBalance(ctx context.Context, clientID string) (int, error) {
	if clientID == "" {
		return 0, ErrNoClient
	}

	last, err := s.store.Last(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last.BalanceAfter, nil
}

// History returns a client's entries in creation order.
func (s *Service) History(ctx context.Context, clientID string) ([]storage.LedgerEntry, error) {
	if clientID == "" {
		return nil, ErrNoClient
	}
	return s.store.List(ctx, clientID)
}

// FindByReference returns the client's entries caused by ref. Callers use it
// to re-check after a write with an unknown outcome.
func (s *Service) FindByReference(ctx context.Context, clientID string, ref Reference) ([]storage.LedgerEntry, error) {
	if clientID == "" {
		return nil, ErrNoClient
	}
	return s.store.FindByReference(ctx, clientID, ref.Type, ref.ID)
}

// Verify replays a client's entries and checks every balanceAfter. It
// returns the replayed balance.
func (s *Service) Verify(ctx context.Context, clientID string) (int, error) {
	entries, err := s.History(ctx, clientID)
	if err != nil {
		return 0, err
	}

	balance := 0
	for i, e := range entries {
		balance += e.Amount
		if e.BalanceAfter != balance {
			return balance, fmt.Errorf("%w: entry %d (%s) records %d, replay gives %d",
				ErrCorrupt, i, e.ID, e.BalanceAfter, balance)
		}
		if balance < 0 {
			return balance, fmt.Errorf("%w: balance negative after entry %s", ErrCorrupt, e.ID)
		}
	}

	current, err := s.CurrentBalance(ctx, clientID)
	if err != nil {
		return balance, err
	}
	if current != balance {
		return balance, fmt.Errorf("%w: head records %d, replay gives %d", ErrCorrupt, current, balance)
	}
	return balance, nil
}

// append performs the read-validate-append cycle under the client's lock.
// The store re-checks the predecessor id, so writers in other processes
// surface as ErrConcurrentModification rather than a lost update.
func (s *Service) append(ctx context.Context, clientID string, typ storage.LedgerEntryType, amount int, ref Reference) (storage.LedgerEntry, error) {
	if clientID == "" {
		return storage.LedgerEntry{}, ErrNoClient
	}

	unlock := s.locks.lock(clientID)
	defer unlock()

	prevID := ""
	balance := 0
	last, err := s.store.Last(ctx, clientID)
	switch {
	case err == nil:
		prevID = last.ID
		balance = last.BalanceAfter
	case errors.Is(err, storage.ErrNotFound):
	default:
		return storage.LedgerEntry{}, fmt.Errorf("failed to read balance: %w", err)
	}

	if balance+amount < 0 {
		return storage.LedgerEntry{}, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientPoints, balance, -amount)
	}

	entry := storage.LedgerEntry{
		ID:            uuid.NewString(),
		ClientID:      clientID,
		Type:          typ,
		Amount:        amount,
		BalanceAfter:  balance + amount,
		ReferenceType: ref.Type,
		ReferenceID:   ref.ID,
		Description:   ref.Description,
		CreatedAt:     s.clock.Now().UTC(),
	}

	if err := s.store.Append(ctx, entry, prevID); err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			metrics.LedgerConflicts.Inc()
			s.logger.Warn().
				Str("client_id", clientID).
				Str("type", string(typ)).
				Msg("Ledger append lost to a concurrent writer")
			return storage.LedgerEntry{}, fmt.Errorf("%w: client %s", ErrConcurrentModification, clientID)
		case errors.Is(err, storage.ErrBalanceMismatch):
			return storage.LedgerEntry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return storage.LedgerEntry{}, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	metrics.LedgerEntries.WithLabelValues(string(typ)).Inc()
	s.logger.Debug().
		Str("client_id", clientID).
		Str("entry_id", entry.ID).
		Str("type", string(typ)).
		Int("amount", amount).
		Int("balance_after", entry.BalanceAfter).
		Str("reference_type", string(ref.Type)).
		Str("reference_id", ref.ID).
		Msg("Ledger entry appended")

	return entry, nil
}

// RetryOnce runs fn and, if it lost a ledger race, runs it exactly once
// more. Any other error is returned as is.
func RetryOnce[T any](fn func() (T, error)) (T, error) {
	v, err := fn()
	if errors.Is(err, ErrConcurrentModification) {
		return fn()
	}
	return v, err
}
