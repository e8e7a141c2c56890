package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/goodtune/gamestore/internal/storage"
	"github.com/redis/go-redis/v9"
)

var appendLedgerEntry = redis.NewScript(appendLedgerEntryScript)

type ledgerStore struct {
	client *redis.Client
	keys   keys
}

// Last returns the newest entry for a client
func (s *ledgerStore) Last(ctx context.Context, clientID string) (*storage.LedgerEntry, error) {
	id, err := s.client.HGet(ctx, s.keys.ledgerHead(clientID), "id").Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var entry storage.LedgerEntry
	if err := getJSON(ctx, s.client, s.keys.ledgerEntry(id), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Append adds an entry if the client's head is still prevID
func (s *ledgerStore) Append(ctx context.Context, entry storage.LedgerEntry, prevID string) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	keys := []string{
		s.keys.ledgerHead(entry.ClientID),
		s.keys.ledgerClient(entry.ClientID),
		s.keys.ledgerEntry(entry.ID),
		s.keys.ledgerTimeline(),
		s.keys.ledgerRef(entry.ReferenceType, entry.ReferenceID),
	}
	args := []interface{}{
		prevID,
		entry.ID,
		payload,
		entry.CreatedAt.UnixMilli(),
		entry.Amount,
		entry.BalanceAfter,
	}

	return runScript(ctx, s.client, appendLedgerEntry, keys, args...)
}

// List returns a client's entries in creation order
func (s *ledgerStore) List(ctx context.Context, clientID string) ([]storage.LedgerEntry, error) {
	ids, err := s.client.LRange(ctx, s.keys.ledgerClient(clientID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

// ListBetween returns all entries created in [from, to)
func (s *ledgerStore) ListBetween(ctx context.Context, from, to time.Time) ([]storage.LedgerEntry, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.ledgerTimeline(), windowArgs(from, to)).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

// FindByReference returns a client's entries caused by one reference
func (s *ledgerStore) FindByReference(ctx context.Context, clientID string, refType storage.ReferenceType, refID string) ([]storage.LedgerEntry, error) {
	ids, err := s.client.SMembers(ctx, s.keys.ledgerRef(refType, refID)).Result()
	if err != nil {
		return nil, err
	}

	entries, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := entries[:0]
	for _, e := range entries {
		if e.ClientID == clientID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *ledgerStore) load(ctx context.Context, ids []string) ([]storage.LedgerEntry, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.ledgerEntry(id)
	}
	return mgetJSON[storage.LedgerEntry](ctx, s.client, keys)
}
