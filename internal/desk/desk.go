// Package desk runs the front-desk session lifecycle: starting a rental,
// extending it, and closing it into a settlement, sales and ledger entries.
package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goodtune/gamestore/internal/billing"
	"github.com/goodtune/gamestore/internal/clock"
	"github.com/goodtune/gamestore/internal/ledger"
	"github.com/goodtune/gamestore/internal/metrics"
	"github.com/goodtune/gamestore/internal/money"
	"github.com/goodtune/gamestore/internal/pricing"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrPlanMismatch is returned when a plan does not serve a console's
	// device class or is inactive.
	ErrPlanMismatch = errors.New("desk: plan does not serve this console")

	// ErrNoClient is returned when redeeming points on an anonymous session.
	ErrNoClient = errors.New("desk: session has no client")

	// ErrInvalidState is returned for lifecycle operations on a session
	// that is no longer active.
	ErrInvalidState = billing.ErrInvalidState
)

// Desk coordinates sessions, billing and the points ledger.
type Desk struct {
	store   storage.Store
	catalog *pricing.Catalog
	ledger  *ledger.Service
	rules   *billing.RulesHolder
	clock   clock.Clock
	logger  zerolog.Logger
}

// New creates a desk.
func New(store storage.Store, catalog *pricing.Catalog, ledgerSvc *ledger.Service, rules *billing.RulesHolder, clk clock.Clock, logger zerolog.Logger) *Desk {
	return &Desk{
		store:   store,
		catalog: catalog,
		ledger:  ledgerSvc,
		rules:   rules,
		clock:   clk,
		logger:  logger.With().Str("component", "desk").Logger(),
	}
}

// StartRequest describes a new rental.
type StartRequest struct {
	ConsoleID string `json:"console_id"`
	// PlanID is optional; the console's default plan is used without it
	PlanID   string `json:"plan_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Start opens a session on a free console. The plan's billing mode is
// copied onto the session so later plan edits do not change its behavior.
func (d *Desk) Start(ctx context.Context, req StartRequest) (storage.Session, error) {
	console, err := d.store.Consoles().Get(ctx, req.ConsoleID)
	if err != nil {
		return storage.Session{}, fmt.Errorf("console %s: %w", req.ConsoleID, err)
	}

	var plan storage.PricingPlan
	if req.PlanID != "" {
		plan, err = d.catalog.Get(ctx, req.PlanID)
		if err != nil {
			return storage.Session{}, fmt.Errorf("plan %s: %w", req.PlanID, err)
		}
		if !plan.Active || !strings.EqualFold(plan.DeviceClass, console.DeviceClass) {
			return storage.Session{}, fmt.Errorf("%w: plan %s is for %s, console %s is %s",
				ErrPlanMismatch, plan.ID, plan.DeviceClass, console.ID, console.DeviceClass)
		}
	} else {
		plan, err = d.catalog.ResolveDefault(ctx, *console)
		if err != nil {
			return storage.Session{}, err
		}
	}

	if req.ClientID != "" {
		if _, err := d.store.Clients().Get(ctx, req.ClientID); err != nil {
			return storage.Session{}, fmt.Errorf("client %s: %w", req.ClientID, err)
		}
	}

	s := storage.Session{
		ID:            uuid.NewString(),
		ConsoleID:     console.ID,
		PricingPlanID: plan.ID,
		BillingMode:   plan.BillingMode,
		ClientID:      req.ClientID,
		StartTime:     d.clock.Now().UTC(),
		Status:        storage.SessionActive,
		Notes:         req.Notes,
	}
	if plan.BillingMode == storage.BillingPerUnit {
		s.GamesPlayed = 1
	}

	if err := d.store.Sessions().Create(ctx, s); err != nil {
		return storage.Session{}, err
	}

	metrics.SessionsStarted.WithLabelValues(string(s.BillingMode)).Inc()
	d.logger.Info().
		Str("session_id", s.ID).
		Str("console_id", s.ConsoleID).
		Str("plan_id", s.PricingPlanID).
		Str("billing_mode", string(s.BillingMode)).
		Str("client_id", s.ClientID).
		Msg("Session started")

	return s, nil
}

// Get returns a session.
func (d *Desk) Get(ctx context.Context, id string) (storage.Session, error) {
	s, err := d.store.Sessions().Get(ctx, id)
	if err != nil {
		return storage.Session{}, err
	}
	return *s, nil
}

// ListActive returns every running session.
func (d *Desk) ListActive(ctx context.Context) ([]storage.Session, error) {
	return d.store.Sessions().ListActive(ctx)
}

// Extend adds one paid extension to an hourly session, or one game to a
// per-unit session.
func (d *Desk) Extend(ctx context.Context, id string) (storage.Session, error) {
	s, plan, err := d.active(ctx, id)
	if err != nil {
		return storage.Session{}, err
	}

	var updated *storage.Session
	if s.BillingMode == storage.BillingHourly {
		updated, err = d.store.Sessions().AddExtraTime(ctx, id, plan.ExtensionLength())
	} else {
		updated, err = d.store.Sessions().AddUnits(ctx, id, 1)
	}
	if err != nil {
		return storage.Session{}, stateError(err)
	}

	d.logger.Info().
		Str("session_id", id).
		Int("extra_time_minutes", updated.ExtraTimeMinutes).
		Int("games_played", updated.GamesPlayed).
		Msg("Session extended")

	return *updated, nil
}

// AddUnits records games played on a per-unit session.
func (d *Desk) AddUnits(ctx context.Context, id string, units int) (storage.Session, error) {
	if units <= 0 {
		return storage.Session{}, fmt.Errorf("%w: %d units", billing.ErrInvalidAmount, units)
	}

	s, _, err := d.active(ctx, id)
	if err != nil {
		return storage.Session{}, err
	}
	if s.BillingMode != storage.BillingPerUnit {
		return storage.Session{}, fmt.Errorf("%w: session %s is not billed per unit", billing.ErrInvalidState, id)
	}

	updated, err := d.store.Sessions().AddUnits(ctx, id, units)
	if err != nil {
		return storage.Session{}, stateError(err)
	}
	return *updated, nil
}

// Estimate evaluates a running session without changing it.
func (d *Desk) Estimate(ctx context.Context, id string) (billing.Estimate, error) {
	s, plan, err := d.active(ctx, id)
	if err != nil {
		return billing.Estimate{}, err
	}
	return billing.EstimateElapsed(s, plan, d.clock.Now(), d.rules.Load())
}

// Quote computes what closing the session now would charge, without
// writing anything.
func (d *Desk) Quote(ctx context.Context, id string, redeemUnits int) (billing.Settlement, error) {
	s, plan, err := d.active(ctx, id)
	if err != nil {
		return billing.Settlement{}, err
	}
	if redeemUnits > 0 && s.ClientID == "" {
		return billing.Settlement{}, ErrNoClient
	}

	before, err := d.lifetimeUnits(ctx, s.ClientID)
	if err != nil {
		return billing.Settlement{}, err
	}

	return billing.Settle(ctx, billing.SettleInput{
		Session:             s,
		Plan:                plan,
		Now:                 d.clock.Now(),
		LifetimeUnitsBefore: before,
		RedeemUnits:         redeemUnits,
		Rules:               d.rules.Load(),
	})
}

// ConsumptionRequest is a product served at a station.
type ConsumptionRequest struct {
	ProductID     string          `json:"product_id,omitempty"`
	ProductName   string          `json:"product_name"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	PointsPerUnit int             `json:"points_per_unit"`
}

// AddConsumption records a product on a running session. It becomes a sale
// when the session closes.
func (d *Desk) AddConsumption(ctx context.Context, sessionID string, req ConsumptionRequest) (storage.Consumption, error) {
	if req.Quantity <= 0 || req.UnitPrice.IsNegative() || req.PointsPerUnit < 0 {
		return storage.Consumption{}, fmt.Errorf("%w: quantity %d at %s", billing.ErrInvalidAmount, req.Quantity, req.UnitPrice)
	}
	if _, _, err := d.active(ctx, sessionID); err != nil {
		return storage.Consumption{}, err
	}

	c := storage.Consumption{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		ProductID:     req.ProductID,
		ProductName:   req.ProductName,
		Quantity:      req.Quantity,
		UnitPrice:     req.UnitPrice,
		PointsPerUnit: req.PointsPerUnit,
		CreatedAt:     d.clock.Now().UTC(),
	}
	if err := d.store.Sessions().AddConsumption(ctx, c); err != nil {
		return storage.Consumption{}, err
	}
	return c, nil
}

// active loads a session that must still be running, with its plan.
func (d *Desk) active(ctx context.Context, id string) (storage.Session, storage.PricingPlan, error) {
	s, err := d.store.Sessions().Get(ctx, id)
	if err != nil {
		return storage.Session{}, storage.PricingPlan{}, err
	}
	if s.Status != storage.SessionActive {
		return storage.Session{}, storage.PricingPlan{}, fmt.Errorf("%w: session %s is %s", billing.ErrInvalidState, id, s.Status)
	}

	plan, err := d.catalog.Get(ctx, s.PricingPlanID)
	if err != nil {
		return storage.Session{}, storage.PricingPlan{}, fmt.Errorf("plan %s: %w", s.PricingPlanID, err)
	}
	return *s, plan, nil
}

// lifetimeUnits returns the games a client played before now. Anonymous
// and unknown clients start from zero.
func (d *Desk) lifetimeUnits(ctx context.Context, clientID string) (int, error) {
	if clientID == "" {
		return 0, nil
	}
	c, err := d.store.Clients().Get(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read client counters: %w", err)
	}
	return c.LifetimeUnits, nil
}

// stateError reports a write against a session that stopped being active
// as a lifecycle error.
func stateError(err error) error {
	if errors.Is(err, storage.ErrNotActive) {
		return fmt.Errorf("%w: %v", billing.ErrInvalidState, err)
	}
	return err
}

func sessionRef(id, description string) ledger.Reference {
	return ledger.Reference{Type: storage.ReferenceSession, ID: id, Description: description}
}

func saleTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return money.Round(price.Mul(decimal.NewFromInt(int64(quantity))))
}
