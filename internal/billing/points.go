package billing

import (
	"context"
	"math"

	"github.com/shopspring/decimal"
)

// HourlyPointsInput describes a settled hourly session to a points policy.
type HourlyPointsInput struct {
	PlanID           string          `json:"plan_id"`
	DeviceClass      string          `json:"device_class"`
	PointsPerUnit    int             `json:"points_per_unit"`
	StandardMinutes  int             `json:"standard_minutes"`
	ExtraTimeMinutes int             `json:"extra_time_minutes"`
	ElapsedMinutes   float64         `json:"elapsed_minutes"`
	Amount           decimal.Decimal `json:"amount"`
}

// HourlyPointsPolicy decides the points earned by an hourly session. Points
// are a policy value so promotions can be decoupled from price.
type HourlyPointsPolicy interface {
	HourlyPoints(ctx context.Context, in HourlyPointsInput) (int, error)
}

// FlatPoints awards the plan's points once per session.
type FlatPoints struct{}

// HourlyPoints implements HourlyPointsPolicy.
func (FlatPoints) HourlyPoints(_ context.Context, in HourlyPointsInput) (int, error) {
	return in.PointsPerUnit, nil
}

// DurationPoints awards the plan's points for every bracket paid for,
// counting extensions pro rata and rounding down.
type DurationPoints struct{}

// HourlyPoints implements HourlyPointsPolicy.
func (DurationPoints) HourlyPoints(_ context.Context, in HourlyPointsInput) (int, error) {
	if in.StandardMinutes <= 0 {
		return in.PointsPerUnit, nil
	}
	paid := in.StandardMinutes + in.ExtraTimeMinutes
	return in.PointsPerUnit * paid / in.StandardMinutes, nil
}

// CurrencyPoints awards a fixed number of points per currency unit billed,
// rounded down.
type CurrencyPoints struct {
	PerCurrencyUnit decimal.Decimal
}

// HourlyPoints implements HourlyPointsPolicy.
func (p CurrencyPoints) HourlyPoints(_ context.Context, in HourlyPointsInput) (int, error) {
	points := in.Amount.Mul(p.PerCurrencyUnit).Floor().IntPart()
	if points < 0 {
		return 0, nil
	}
	if points > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return int(points), nil
}
