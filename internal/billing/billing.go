// Package billing turns a session's usage and its pricing plan into money
// and points. Every function here is pure: callers supply the session, the
// plan, the current time and a Rules snapshot.
package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goodtune/gamestore/internal/money"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidState is returned for a session in the wrong lifecycle
	// state, or whose billing mode disagrees with its plan.
	ErrInvalidState = errors.New("billing: invalid session state")

	// ErrInvalidPlan is returned for a malformed pricing plan.
	ErrInvalidPlan = errors.New("billing: invalid pricing plan")

	// ErrInvalidAmount is returned for a zero or negative quantity where a
	// positive one is required.
	ErrInvalidAmount = errors.New("billing: invalid amount")
)

// Estimate is the live overdue evaluation of an active session.
type Estimate struct {
	ElapsedMinutes float64 `json:"elapsed_minutes"`
	AllowedMinutes int     `json:"allowed_minutes"`
	IsOverdue      bool    `json:"is_overdue"`
}

// SettleInput carries everything needed to settle one session.
type SettleInput struct {
	Session storage.Session
	Plan    storage.PricingPlan
	Now     time.Time
	// LifetimeUnitsBefore is the client's games played before this session.
	LifetimeUnitsBefore int
	// RedeemUnits is the number of games the client pays for with points.
	RedeemUnits int
	Rules       Rules
}

// Settlement is the final financial and points outcome of a session.
type Settlement struct {
	BaseAmount        decimal.Decimal `json:"base_amount"`
	ExtraAmount       decimal.Decimal `json:"extra_amount"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	PointsEarned      int             `json:"points_earned"`
	PointsRedeemed    int             `json:"points_redeemed"`
	FreeUnitsGranted  int             `json:"free_units_granted"`
	EffectiveUnits    int             `json:"effective_units"`
	RedeemedUnits     int             `json:"redeemed_units"`
	IsFreeUnitApplied bool            `json:"is_free_unit_applied"`
	ElapsedMinutes    float64         `json:"elapsed_minutes"`
	AllowedMinutes    int             `json:"allowed_minutes"`
	EndTime           time.Time       `json:"end_time"`
}

// Apply copies the settlement onto a session and marks it completed.
func (st Settlement) Apply(s storage.Session) storage.Session {
	s.Status = storage.SessionCompleted
	s.EndTime = st.EndTime
	s.BaseAmount = st.BaseAmount
	s.ExtraAmount = st.ExtraAmount
	s.TotalAmount = st.TotalAmount
	s.PointsEarned = st.PointsEarned
	s.PointsRedeemed = st.PointsRedeemed
	s.FreeUnitsGranted = st.FreeUnitsGranted
	s.IsFreeUnitApplied = st.IsFreeUnitApplied
	return s
}

// ValidatePlan checks a pricing plan before it is stored or used.
func ValidatePlan(p storage.PricingPlan) error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPlan)
	}
	if !p.BillingMode.Valid() {
		return fmt.Errorf("%w: unknown billing mode %q", ErrInvalidPlan, p.BillingMode)
	}
	if p.UnitPrice.IsNegative() || p.ExtraUnitPrice.IsNegative() {
		return fmt.Errorf("%w: prices cannot be negative", ErrInvalidPlan)
	}
	if p.PointsAwardedPerUnit < 0 {
		return fmt.Errorf("%w: points cannot be negative", ErrInvalidPlan)
	}
	if p.ExtensionMinutes < 0 || p.StandardUnitDurationMinutes < 0 {
		return fmt.Errorf("%w: durations cannot be negative", ErrInvalidPlan)
	}
	if p.BillingMode == storage.BillingHourly && p.StandardUnitDurationMinutes == 0 {
		return fmt.Errorf("%w: hourly plan needs a bracket duration", ErrInvalidPlan)
	}
	return nil
}

func checkSession(s storage.Session, p storage.PricingPlan) error {
	if s.Status != storage.SessionActive {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidState, s.ID, s.Status)
	}
	if s.BillingMode != p.BillingMode {
		return fmt.Errorf("%w: session %s is %s but plan %s is %s",
			ErrInvalidState, s.ID, s.BillingMode, p.ID, p.BillingMode)
	}
	return ValidatePlan(p)
}

// elapsedMinutes is the fractional play time, never negative.
func elapsedMinutes(start, now time.Time) float64 {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return d.Minutes()
}

// allowedMinutes is the paid allotment of an hourly session, or the
// expected duration plus grace of a per-unit session.
func allowedMinutes(s storage.Session, p storage.PricingPlan, r Rules) int {
	if p.BillingMode == storage.BillingHourly {
		return p.StandardUnitDurationMinutes + s.ExtraTimeMinutes
	}

	perUnit := p.StandardUnitDurationMinutes
	if perUnit == 0 {
		perUnit = DefaultPerUnitMinutes
	}
	units := s.GamesPlayed
	if units < 1 {
		units = 1
	}
	grace := r.PerUnitGrace
	if grace < 0 {
		grace = 0
	}
	return units*perUnit + int(grace/time.Minute)
}

// EstimateElapsed evaluates an active session without changing it.
func EstimateElapsed(s storage.Session, p storage.PricingPlan, now time.Time, r Rules) (Estimate, error) {
	if err := checkSession(s, p); err != nil {
		return Estimate{}, err
	}

	elapsed := elapsedMinutes(s.StartTime, now)
	allowed := allowedMinutes(s, p, r)

	return Estimate{
		ElapsedMinutes: elapsed,
		AllowedMinutes: allowed,
		IsOverdue:      elapsed > float64(allowed),
	}, nil
}

// FreeUnitsGranted returns how many of unitsThisSession land on a multiple
// of threshold in the client's cumulative game count. It depends only on
// cumulative counts, so re-settling the same session grants the same units.
func FreeUnitsGranted(lifetimeBefore, unitsThisSession, threshold int) int {
	if threshold <= 0 || unitsThisSession <= 0 {
		return 0
	}
	if lifetimeBefore < 0 {
		lifetimeBefore = 0
	}

	granted := (lifetimeBefore+unitsThisSession)/threshold - lifetimeBefore/threshold
	if granted > unitsThisSession {
		granted = unitsThisSession
	}
	return granted
}

// Settle computes the final amounts and points of an active session.
func Settle(ctx context.Context, in SettleInput) (Settlement, error) {
	if err := checkSession(in.Session, in.Plan); err != nil {
		return Settlement{}, err
	}
	if in.RedeemUnits < 0 {
		return Settlement{}, fmt.Errorf("%w: cannot redeem %d units", ErrInvalidAmount, in.RedeemUnits)
	}

	switch in.Plan.BillingMode {
	case storage.BillingHourly:
		return settleHourly(ctx, in)
	default:
		return settlePerUnit(in)
	}
}

func settleHourly(ctx context.Context, in SettleInput) (Settlement, error) {
	s, p, r := in.Session, in.Plan, in.Rules

	if in.RedeemUnits > 0 {
		return Settlement{}, fmt.Errorf("%w: points redemption applies to per-unit sessions", ErrInvalidState)
	}
	if s.ExtraTimeMinutes < 0 {
		return Settlement{}, fmt.Errorf("%w: negative extra time on session %s", ErrInvalidState, s.ID)
	}

	elapsed := elapsedMinutes(s.StartTime, in.Now)
	allowed := allowedMinutes(s, p, r)

	base := p.UnitPrice
	if r.ChargeOverrun && elapsed > float64(allowed) {
		brackets := int64(math.Ceil((elapsed - float64(allowed)) / float64(p.StandardUnitDurationMinutes)))
		base = base.Add(p.UnitPrice.Mul(decimal.NewFromInt(brackets)))
	}
	base = money.Round(base)

	extra := decimal.Zero
	if s.ExtraTimeMinutes > 0 {
		extra = money.Round(p.ExtraUnitPrice.
			Mul(decimal.NewFromInt(int64(s.ExtraTimeMinutes))).
			Div(decimal.NewFromInt(int64(p.ExtensionLength()))))
	}
	total := base.Add(extra)

	points := 0
	if r.PointsEnabled && r.HourlyPoints != nil {
		var err error
		points, err = r.HourlyPoints.HourlyPoints(ctx, HourlyPointsInput{
			PlanID:           p.ID,
			DeviceClass:      p.DeviceClass,
			PointsPerUnit:    p.PointsAwardedPerUnit,
			StandardMinutes:  p.StandardUnitDurationMinutes,
			ExtraTimeMinutes: s.ExtraTimeMinutes,
			ElapsedMinutes:   elapsed,
			Amount:           total,
		})
		if err != nil {
			return Settlement{}, fmt.Errorf("hourly points policy: %w", err)
		}
		if points < 0 {
			points = 0
		}
	}

	return Settlement{
		BaseAmount:     base,
		ExtraAmount:    extra,
		TotalAmount:    total,
		PointsEarned:   points,
		ElapsedMinutes: elapsed,
		AllowedMinutes: allowed,
		EndTime:        in.Now,
	}, nil
}

func settlePerUnit(in SettleInput) (Settlement, error) {
	s, p, r := in.Session, in.Plan, in.Rules

	units := s.GamesPlayed
	if units < 0 {
		return Settlement{}, fmt.Errorf("%w: negative games played on session %s", ErrInvalidState, s.ID)
	}

	free := 0
	if r.FreeUnitsEnabled {
		lifetime := in.LifetimeUnitsBefore
		if r.FreeUnitScope == ScopeSession {
			lifetime = 0
		}
		free = FreeUnitsGranted(lifetime, units, r.FreeUnitThreshold)
	}
	effective := units - free
	if effective < 0 {
		effective = 0
	}

	redeemed := in.RedeemUnits
	if redeemed > 0 {
		if r.PointsPerFreeUnit <= 0 {
			return Settlement{}, fmt.Errorf("%w: points redemption is disabled", ErrInvalidState)
		}
		if redeemed > effective {
			return Settlement{}, fmt.Errorf("%w: cannot redeem %d of %d billable units", ErrInvalidAmount, redeemed, effective)
		}
	}

	base := money.Round(p.UnitPrice.Mul(decimal.NewFromInt(int64(effective))))
	extra := decimal.Zero
	if redeemed > 0 {
		extra = money.Round(p.UnitPrice.Mul(decimal.NewFromInt(int64(redeemed)))).Neg()
	}

	points := 0
	if r.PointsEnabled {
		points = p.PointsAwardedPerUnit * (effective - redeemed)
	}

	return Settlement{
		BaseAmount:        base,
		ExtraAmount:       extra,
		TotalAmount:       base.Add(extra),
		PointsEarned:      points,
		PointsRedeemed:    redeemed * r.PointsPerFreeUnit,
		FreeUnitsGranted:  free,
		EffectiveUnits:    effective,
		RedeemedUnits:     redeemed,
		IsFreeUnitApplied: free > 0,
		ElapsedMinutes:    elapsedMinutes(s.StartTime, in.Now),
		AllowedMinutes:    allowedMinutes(s, p, r),
		EndTime:           in.Now,
	}, nil
}
