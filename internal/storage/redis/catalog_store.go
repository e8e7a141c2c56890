package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goodtune/gamestore/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Plans and consoles are small reference sets kept as JSON values in one
// hash each.

type planStore struct {
	client *redis.Client
	keys   keys
}

// Get retrieves a pricing plan by ID
func (s *planStore) Get(ctx context.Context, id string) (*storage.PricingPlan, error) {
	raw, err := s.client.HGet(ctx, s.keys.plans(), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var plan storage.PricingPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", id, err)
	}
	return &plan, nil
}

// List returns all pricing plans
func (s *planStore) List(ctx context.Context) ([]storage.PricingPlan, error) {
	all, err := s.client.HGetAll(ctx, s.keys.plans()).Result()
	if err != nil {
		return nil, err
	}

	plans := make([]storage.PricingPlan, 0, len(all))
	for id, raw := range all {
		var plan storage.PricingPlan
		if err := json.Unmarshal([]byte(raw), &plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan %s: %w", id, err)
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// Upsert creates or replaces a pricing plan
func (s *planStore) Upsert(ctx context.Context, plan storage.PricingPlan) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.keys.plans(), plan.ID, raw).Err()
}

// Delete removes a pricing plan
func (s *planStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.HDel(ctx, s.keys.plans(), id).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type consoleStore struct {
	client *redis.Client
	keys   keys
}

// Get retrieves a console by ID
func (s *consoleStore) Get(ctx context.Context, id string) (*storage.Console, error) {
	raw, err := s.client.HGet(ctx, s.keys.consoles(), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var console storage.Console
	if err := json.Unmarshal([]byte(raw), &console); err != nil {
		return nil, fmt.Errorf("failed to decode console %s: %w", id, err)
	}
	return &console, nil
}

// List returns all consoles
func (s *consoleStore) List(ctx context.Context) ([]storage.Console, error) {
	all, err := s.client.HGetAll(ctx, s.keys.consoles()).Result()
	if err != nil {
		return nil, err
	}

	consoles := make([]storage.Console, 0, len(all))
	for id, raw := range all {
		var console storage.Console
		if err := json.Unmarshal([]byte(raw), &console); err != nil {
			return nil, fmt.Errorf("failed to decode console %s: %w", id, err)
		}
		consoles = append(consoles, console)
	}
	return consoles, nil
}

// Upsert creates or replaces a console
func (s *consoleStore) Upsert(ctx context.Context, console storage.Console) error {
	raw, err := json.Marshal(console)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.keys.consoles(), console.ID, raw).Err()
}
