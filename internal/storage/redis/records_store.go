package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/gamestore/internal/storage"
	"github.com/redis/go-redis/v9"
)

type saleStore struct {
	client *redis.Client
	keys   keys
}

// Create stores a sale and indexes it by creation time
func (s *saleStore) Create(ctx context.Context, sale storage.Sale) error {
	raw, err := json.Marshal(sale)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.keys.sale(sale.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrConflict
	}

	return s.client.ZAdd(ctx, s.keys.saleTimeline(), redis.Z{
		Score:  float64(sale.CreatedAt.UnixMilli()),
		Member: sale.ID,
	}).Err()
}

// Get retrieves a sale by ID
func (s *saleStore) Get(ctx context.Context, id string) (*storage.Sale, error) {
	var sale storage.Sale
	if err := getJSON(ctx, s.client, s.keys.sale(id), &sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

// ListBetween returns sales created in [from, to)
func (s *saleStore) ListBetween(ctx context.Context, from, to time.Time) ([]storage.Sale, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.saleTimeline(), windowArgs(from, to)).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.sale(id)
	}
	return mgetJSON[storage.Sale](ctx, s.client, keys)
}

type serviceStore struct {
	client *redis.Client
	keys   keys
}

// Upsert stores a repair job; completed jobs are indexed by completion time
func (s *serviceStore) Upsert(ctx context.Context, req storage.ServiceRequest) error {
	if req.Status == storage.ServiceCompleted && req.CompletedAt.IsZero() {
		return fmt.Errorf("completed service request %s needs a completion time", req.ID)
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.keys.service(req.ID), raw, 0)
		if req.Status == storage.ServiceCompleted {
			pipe.ZAdd(ctx, s.keys.servicesCompleted(), redis.Z{
				Score:  float64(req.CompletedAt.UnixMilli()),
				Member: req.ID,
			})
		} else {
			pipe.ZRem(ctx, s.keys.servicesCompleted(), req.ID)
		}
		return nil
	})
	return err
}

// Get retrieves a repair job by ID
func (s *serviceStore) Get(ctx context.Context, id string) (*storage.ServiceRequest, error) {
	var req storage.ServiceRequest
	if err := getJSON(ctx, s.client, s.keys.service(id), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListCompletedBetween returns jobs completed in [from, to)
func (s *serviceStore) ListCompletedBetween(ctx context.Context, from, to time.Time) ([]storage.ServiceRequest, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.servicesCompleted(), windowArgs(from, to)).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.service(id)
	}
	return mgetJSON[storage.ServiceRequest](ctx, s.client, keys)
}

type expenseStore struct {
	client *redis.Client
	keys   keys
}

// Create stores an expense record
func (s *expenseStore) Create(ctx context.Context, e storage.Expense) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.keys.expenses(), e.ID, raw).Err()
}

// Delete removes an expense record
func (s *expenseStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.HDel(ctx, s.keys.expenses(), id).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns every expense record. Expense dates are calendar dates, so
// window filtering happens in the report package.
func (s *expenseStore) List(ctx context.Context) ([]storage.Expense, error) {
	all, err := s.client.HGetAll(ctx, s.keys.expenses()).Result()
	if err != nil {
		return nil, err
	}

	out := make([]storage.Expense, 0, len(all))
	for id, raw := range all {
		var e storage.Expense
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			skipUndecodable(s.keys.expenses()+" "+id, err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
