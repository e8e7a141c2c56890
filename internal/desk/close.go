package desk

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/gamestore/internal/billing"
	"github.com/goodtune/gamestore/internal/ledger"
	"github.com/goodtune/gamestore/internal/metrics"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CloseRequest carries the staff's choices when ending a session.
type CloseRequest struct {
	// RedeemUnits is the number of games the client pays for with points
	RedeemUnits int `json:"redeem_units,omitempty"`
}

// CloseResult is everything a close produced.
type CloseResult struct {
	Session    storage.Session    `json:"session"`
	Settlement billing.Settlement `json:"settlement"`
	Sales      []storage.Sale     `json:"sales,omitempty"`
	Balance    *int               `json:"points_balance,omitempty"`
	// Warnings lists follow-up steps that failed after the session was
	// settled; the settlement itself stands
	Warnings []string `json:"warnings,omitempty"`
}

// Close settles a session. Points are redeemed before anything else is
// written, so InsufficientPoints leaves the session untouched. Once the
// session is finalized, the remaining steps are best effort and reported
// as warnings.
func (d *Desk) Close(ctx context.Context, id string, req CloseRequest) (CloseResult, error) {
	s, plan, err := d.active(ctx, id)
	if err != nil {
		return CloseResult{}, err
	}
	if req.RedeemUnits > 0 && s.ClientID == "" {
		return CloseResult{}, ErrNoClient
	}

	before, reserved, err := d.reserveLifetime(ctx, s)
	if err != nil {
		return CloseResult{}, err
	}

	rules := d.rules.Load()
	st, err := billing.Settle(ctx, billing.SettleInput{
		Session:             s,
		Plan:                plan,
		Now:                 d.clock.Now(),
		LifetimeUnitsBefore: before,
		RedeemUnits:         req.RedeemUnits,
		Rules:               rules,
	})
	if err != nil {
		d.releaseUnits(ctx, s, reserved)
		return CloseResult{}, err
	}

	redeemed := 0
	if st.PointsRedeemed > 0 {
		redeemed, err = d.redeemOnce(ctx, s.ID, s.ClientID, st.PointsRedeemed)
		if err != nil {
			d.releaseUnits(ctx, s, reserved)
			return CloseResult{}, err
		}
	}

	final := st.Apply(s)
	if err := d.store.Sessions().Finalize(ctx, final); err != nil {
		if redeemed > 0 {
			d.reverseRedemption(ctx, s.ID, s.ClientID, redeemed)
		}
		d.releaseUnits(ctx, s, reserved)
		return CloseResult{}, stateError(err)
	}

	metrics.SessionsSettled.WithLabelValues(string(final.BillingMode)).Inc()
	revenue, _ := final.TotalAmount.Float64()
	metrics.RevenueTotal.WithLabelValues(string(final.BillingMode)).Add(revenue)

	d.logger.Info().
		Str("session_id", final.ID).
		Str("billing_mode", string(final.BillingMode)).
		Str("base_amount", final.BaseAmount.String()).
		Str("extra_amount", final.ExtraAmount.String()).
		Str("total_amount", final.TotalAmount.String()).
		Int("free_units", final.FreeUnitsGranted).
		Int("points_earned", final.PointsEarned).
		Int("points_redeemed", final.PointsRedeemed).
		Msg("Session settled")

	result := CloseResult{Session: final, Settlement: st}
	warn := func(err error, msg string) {
		d.logger.Error().Err(err).Str("session_id", final.ID).Msg(msg)
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", msg, err))
	}

	// Games were already counted by reserveLifetime
	if final.ClientID != "" {
		if _, err := d.store.Clients().RecordVisit(ctx, final.ClientID, 0, final.TotalAmount); err != nil {
			warn(err, "Failed to update client counters")
		}
	}

	sales, err := d.convertConsumptions(ctx, final, rules.PointsEnabled)
	result.Sales = sales
	if err != nil {
		warn(err, "Failed to convert consumptions")
	}

	if final.ClientID != "" && final.PointsEarned > 0 {
		if err := d.earnSessionPoints(ctx, final); err != nil {
			warn(err, "Failed to credit session points")
		}
	}

	if final.ClientID != "" {
		if balance, err := d.ledger.CurrentBalance(ctx, final.ClientID); err == nil {
			result.Balance = &balance
		}
	}

	return result, nil
}

// reserveLifetime returns the client's lifetime units before s and, for a
// per-unit session, claims its games on the counter in the same step. Two
// sessions of one client closing together therefore see different bases.
func (d *Desk) reserveLifetime(ctx context.Context, s storage.Session) (before, reserved int, err error) {
	if s.ClientID == "" {
		return 0, 0, nil
	}
	if s.BillingMode != storage.BillingPerUnit || s.GamesPlayed <= 0 {
		before, err = d.lifetimeUnits(ctx, s.ClientID)
		return before, 0, err
	}

	before, err = d.store.Clients().ReserveUnits(ctx, s.ClientID, s.GamesPlayed)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to reserve lifetime units: %w", err)
	}
	return before, s.GamesPlayed, nil
}

// releaseUnits gives back a reservation when the close did not go through.
func (d *Desk) releaseUnits(ctx context.Context, s storage.Session, units int) {
	if units == 0 {
		return
	}
	if _, err := d.store.Clients().ReserveUnits(ctx, s.ClientID, -units); err != nil {
		d.logger.Error().
			Err(err).
			Str("session_id", s.ID).
			Str("client_id", s.ClientID).
			Int("units", units).
			Msg("Failed to release lifetime units, client counter needs a manual fix")
	}
}

// redeemOnce debits the session's redemption unless an earlier attempt
// already did. It returns the points debited by this call.
func (d *Desk) redeemOnce(ctx context.Context, sessionID, clientID string, points int) (int, error) {
	ref := sessionRef(sessionID, "points redeemed for games")

	entries, err := d.ledger.FindByReference(ctx, clientID, ref)
	if err != nil {
		return 0, fmt.Errorf("failed to check earlier redemptions: %w", err)
	}
	if netRedeemed(entries) >= points {
		d.logger.Info().Str("session_id", sessionID).Msg("Redemption already recorded")
		return 0, nil
	}

	_, err = ledger.RetryOnce(func() (storage.LedgerEntry, error) {
		return d.ledger.Redeem(ctx, clientID, points, ref)
	})
	if err != nil {
		return 0, err
	}
	return points, nil
}

// netRedeemed is the points debited for a session minus any reversals.
func netRedeemed(entries []storage.LedgerEntry) int {
	net := 0
	for _, e := range entries {
		if e.Type == storage.LedgerRedeemed || e.Type == storage.LedgerAdjustment {
			net -= e.Amount
		}
	}
	return net
}

func (d *Desk) reverseRedemption(ctx context.Context, sessionID, clientID string, points int) {
	_, err := ledger.RetryOnce(func() (storage.LedgerEntry, error) {
		return d.ledger.Adjust(ctx, clientID, points, sessionRef(sessionID, "redemption reversed"))
	})
	if err != nil {
		d.logger.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("client_id", clientID).
			Int("points", points).
			Msg("Failed to reverse redemption, ledger needs a manual adjustment")
		return
	}
	d.logger.Warn().Str("session_id", sessionID).Int("points", points).Msg("Redemption reversed")
}

// earnSessionPoints credits the settlement's points once per session.
func (d *Desk) earnSessionPoints(ctx context.Context, s storage.Session) error {
	ref := sessionRef(s.ID, "points earned for session")

	entries, err := d.ledger.FindByReference(ctx, s.ClientID, ref)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type == storage.LedgerEarned {
			return nil
		}
	}

	_, err = ledger.RetryOnce(func() (storage.LedgerEntry, error) {
		return d.ledger.Earn(ctx, s.ClientID, s.PointsEarned, ref)
	})
	return err
}

// convertConsumptions turns the products served during s into sales.
func (d *Desk) convertConsumptions(ctx context.Context, s storage.Session, pointsEnabled bool) ([]storage.Sale, error) {
	items, err := d.store.Sessions().ListConsumptions(ctx, s.ID)
	if err != nil {
		return nil, err
	}

	var sales []storage.Sale
	var errs []error
	for _, c := range items {
		sale, err := d.recordSale(ctx, SaleRequest{
			ClientID:      s.ClientID,
			SessionID:     s.ID,
			ProductID:     c.ProductID,
			ProductName:   c.ProductName,
			Quantity:      c.Quantity,
			UnitPrice:     c.UnitPrice,
			PointsPerUnit: c.PointsPerUnit,
		}, pointsEnabled)
		if sale.ID != "" {
			sales = append(sales, sale)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		if err := d.store.Sessions().ClearConsumptions(ctx, s.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return sales, errors.Join(errs...)
}

// Cancel ends a session without charge. Financial fields are zeroed and
// the ledger is not touched.
func (d *Desk) Cancel(ctx context.Context, id string) (storage.Session, error) {
	s, err := d.store.Sessions().Get(ctx, id)
	if err != nil {
		return storage.Session{}, err
	}
	if s.Status != storage.SessionActive {
		return storage.Session{}, fmt.Errorf("%w: session %s is %s", billing.ErrInvalidState, id, s.Status)
	}

	final := *s
	final.Status = storage.SessionCancelled
	final.EndTime = d.clock.Now().UTC()
	final.BaseAmount = decimal.Zero
	final.ExtraAmount = decimal.Zero
	final.TotalAmount = decimal.Zero
	final.PointsEarned = 0
	final.PointsRedeemed = 0
	final.FreeUnitsGranted = 0
	final.IsFreeUnitApplied = false

	if err := d.store.Sessions().Finalize(ctx, final); err != nil {
		return storage.Session{}, stateError(err)
	}
	if err := d.store.Sessions().ClearConsumptions(ctx, id); err != nil {
		d.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to clear consumptions")
	}

	metrics.SessionsCancelled.Inc()
	d.logger.Info().Str("session_id", id).Str("console_id", final.ConsoleID).Msg("Session cancelled")

	return final, nil
}

// SaleRequest is a product sale.
type SaleRequest struct {
	ClientID      string          `json:"client_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	ProductID     string          `json:"product_id,omitempty"`
	ProductName   string          `json:"product_name"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	PointsPerUnit int             `json:"points_per_unit"`
}

// RecordSale records a counter sale and credits its points to the client.
func (d *Desk) RecordSale(ctx context.Context, req SaleRequest) (storage.Sale, error) {
	if req.ClientID != "" {
		if _, err := d.store.Clients().Get(ctx, req.ClientID); err != nil {
			return storage.Sale{}, fmt.Errorf("client %s: %w", req.ClientID, err)
		}
	}
	return d.recordSale(ctx, req, d.rules.Load().PointsEnabled)
}

func (d *Desk) recordSale(ctx context.Context, req SaleRequest, pointsEnabled bool) (storage.Sale, error) {
	if req.Quantity <= 0 || req.UnitPrice.IsNegative() || req.PointsPerUnit < 0 {
		return storage.Sale{}, fmt.Errorf("%w: quantity %d at %s", billing.ErrInvalidAmount, req.Quantity, req.UnitPrice)
	}

	sale := storage.Sale{
		ID:          uuid.NewString(),
		ClientID:    req.ClientID,
		SessionID:   req.SessionID,
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		TotalAmount: saleTotal(req.UnitPrice, req.Quantity),
		Status:      storage.SaleCompleted,
		CreatedAt:   d.clock.Now().UTC(),
	}
	if req.ClientID != "" && pointsEnabled {
		sale.PointsEarned = req.PointsPerUnit * req.Quantity
	}

	if err := d.store.Sales().Create(ctx, sale); err != nil {
		return storage.Sale{}, err
	}

	if sale.PointsEarned > 0 {
		_, err := ledger.RetryOnce(func() (storage.LedgerEntry, error) {
			return d.ledger.Earn(ctx, sale.ClientID, sale.PointsEarned, ledger.Reference{
				Type:        storage.ReferenceSale,
				ID:          sale.ID,
				Description: sale.ProductName,
			})
		})
		if err != nil {
			return sale, fmt.Errorf("sale %s recorded but points not credited: %w", sale.ID, err)
		}
	}

	d.logger.Debug().
		Str("sale_id", sale.ID).
		Str("session_id", sale.SessionID).
		Str("total_amount", sale.TotalAmount.String()).
		Int("points_earned", sale.PointsEarned).
		Msg("Sale recorded")

	return sale, nil
}
