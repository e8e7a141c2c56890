// Package pricing is the catalog of pricing plans, read through an LRU cache
// in front of the plan store.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goodtune/gamestore/internal/billing"
	"github.com/goodtune/gamestore/internal/clock"
	"github.com/goodtune/gamestore/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultCacheSize is used when no cache size is configured.
const DefaultCacheSize = 128

// ErrNoPlan is returned when no active plan serves a device class.
var ErrNoPlan = errors.New("pricing: no active plan for device class")

// Catalog manages pricing plans.
type Catalog struct {
	store    storage.PlanStore
	clock    clock.Clock
	cache    *lru.Cache[string, storage.PricingPlan]
	defaults map[string]string
	logger   zerolog.Logger
}

// NewCatalog creates a catalog. defaults maps a device class to the id of
// its preferred plan; class names are matched case-insensitively.
func NewCatalog(store storage.PlanStore, clk clock.Clock, cacheSize int, defaults map[string]string, logger zerolog.Logger) (*Catalog, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, storage.PricingPlan](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache: %w", err)
	}

	normalized := make(map[string]string, len(defaults))
	for class, id := range defaults {
		normalized[strings.ToLower(class)] = id
	}

	return &Catalog{
		store:    store,
		clock:    clk,
		cache:    cache,
		defaults: normalized,
		logger:   logger.With().Str("component", "pricing").Logger(),
	}, nil
}

// Get returns a plan by id.
func (c *Catalog) Get(ctx context.Context, id string) (storage.PricingPlan, error) {
	if plan, ok := c.cache.Get(id); ok {
		return plan, nil
	}

	plan, err := c.store.Get(ctx, id)
	if err != nil {
		return storage.PricingPlan{}, err
	}
	c.cache.Add(id, *plan)
	return *plan, nil
}

// Save validates and stores a plan. Existing sessions keep the values they
// already settled with; new calculations see the new plan.
func (c *Catalog) Save(ctx context.Context, plan storage.PricingPlan) (storage.PricingPlan, error) {
	if err := billing.ValidatePlan(plan); err != nil {
		return storage.PricingPlan{}, err
	}
	plan.UpdatedAt = c.clock.Now().UTC()

	if err := c.store.Upsert(ctx, plan); err != nil {
		return storage.PricingPlan{}, fmt.Errorf("failed to store plan %s: %w", plan.ID, err)
	}
	c.cache.Remove(plan.ID)

	c.logger.Info().
		Str("plan_id", plan.ID).
		Str("device_class", plan.DeviceClass).
		Str("billing_mode", string(plan.BillingMode)).
		Str("unit_price", plan.UnitPrice.String()).
		Bool("active", plan.Active).
		Msg("Pricing plan saved")

	return plan, nil
}

// Delete removes a plan.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	c.cache.Remove(id)
	c.logger.Info().Str("plan_id", id).Msg("Pricing plan deleted")
	return nil
}

// Purge empties the cache so the next reads hit storage.
func (c *Catalog) Purge() {
	c.cache.Purge()
}

// List returns all plans ordered by device class, then sort order.
func (c *Catalog) List(ctx context.Context) ([]storage.PricingPlan, error) {
	plans, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sortPlans(plans)
	return plans, nil
}

// ForDeviceClass returns the active plans of a device class.
func (c *Catalog) ForDeviceClass(ctx context.Context, class string) ([]storage.PricingPlan, error) {
	plans, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []storage.PricingPlan
	for _, p := range plans {
		if p.Active && strings.EqualFold(p.DeviceClass, class) {
			out = append(out, p)
		}
	}
	sortPlans(out)
	return out, nil
}

// ResolveDefault picks the plan a new session on console uses when staff
// does not choose one: the console's own default, then the configured
// default for its class, then the first active hourly plan of the class,
// then any active plan of the class.
func (c *Catalog) ResolveDefault(ctx context.Context, console storage.Console) (storage.PricingPlan, error) {
	for _, id := range []string{console.DefaultPlanID, c.defaults[strings.ToLower(console.DeviceClass)]} {
		if id == "" {
			continue
		}
		plan, err := c.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn().
				Str("console_id", console.ID).
				Str("plan_id", id).
				Msg("Default plan missing, falling back")
			continue
		}
		if err != nil {
			return storage.PricingPlan{}, err
		}
		if plan.Active && strings.EqualFold(plan.DeviceClass, console.DeviceClass) {
			return plan, nil
		}
	}

	plans, err := c.ForDeviceClass(ctx, console.DeviceClass)
	if err != nil {
		return storage.PricingPlan{}, err
	}
	if len(plans) == 0 {
		return storage.PricingPlan{}, fmt.Errorf("%w: %s", ErrNoPlan, console.DeviceClass)
	}
	for _, p := range plans {
		if p.BillingMode == storage.BillingHourly {
			return p, nil
		}
	}
	return plans[0], nil
}

func sortPlans(plans []storage.PricingPlan) {
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].DeviceClass != plans[j].DeviceClass {
			return plans[i].DeviceClass < plans[j].DeviceClass
		}
		if plans[i].SortOrder != plans[j].SortOrder {
			return plans[i].SortOrder < plans[j].SortOrder
		}
		return plans[i].ID < plans[j].ID
	})
}
