package redis

import (
	"context"
	"fmt"

	"github.com/goodtune/gamestore/internal/money"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var reserveUnits = redis.NewScript(reserveUnitsScript)

type clientStore struct {
	client *redis.Client
	keys   keys
}

// Get retrieves a client by ID
func (s *clientStore) Get(ctx context.Context, id string) (*storage.Client, error) {
	data, err := s.client.HGetAll(ctx, s.keys.client(id)).Result()
	if err != nil {
		return nil, err
	}
	return parseClient(data)
}

// List returns all clients
func (s *clientStore) List(ctx context.Context) ([]storage.Client, error) {
	ids, err := s.client.SMembers(ctx, s.keys.clientIndex()).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Client{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.client(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	clients := make([]storage.Client, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		c, err := parseClient(data)
		if err == nil {
			clients = append(clients, *c)
		}
	}

	return clients, nil
}

// Upsert creates or replaces a client record
func (s *clientStore) Upsert(ctx context.Context, c storage.Client) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.keys.client(c.ID),
			"id", c.ID,
			"name", c.Name,
			"phone", c.Phone,
			"lifetime_units", c.LifetimeUnits,
			"total_spent_minor", money.ToMinor(c.TotalSpent),
			"created_at", formatTime(c.CreatedAt),
		)
		pipe.SAdd(ctx, s.keys.clientIndex(), c.ID)
		return nil
	})
	return err
}

// RecordVisit adds to the client's lifetime counters
func (s *clientStore) RecordVisit(ctx context.Context, id string, units int, spent decimal.Decimal) (*storage.Client, error) {
	key := s.keys.client(id)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, storage.ErrNotFound
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if units != 0 {
			pipe.HIncrBy(ctx, key, "lifetime_units", int64(units))
		}
		pipe.HIncrBy(ctx, key, "total_spent_minor", money.ToMinor(spent))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

// ReserveUnits atomically adds units to the lifetime counter and returns
// the counter as it was before this call. Negative units release an
// earlier reservation.
func (s *clientStore) ReserveUnits(ctx context.Context, id string, units int) (int, error) {
	res, err := reserveUnits.Run(ctx, s.client, []string{s.keys.client(id)}, units).Result()
	if err != nil {
		return 0, err
	}

	switch v := res.(type) {
	case int64:
		return int(v) - units, nil
	case string:
		if v == statusNotFound {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("unexpected script status %q", v)
	default:
		return 0, fmt.Errorf("unexpected script reply %T", res)
	}
}
