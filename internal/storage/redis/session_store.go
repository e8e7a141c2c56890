package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/gamestore/internal/storage"
	"github.com/redis/go-redis/v9"
)

var (
	createSession    = redis.NewScript(createSessionScript)
	incrementSession = redis.NewScript(incrementSessionScript)
	finalizeSession  = redis.NewScript(finalizeSessionScript)
)

type sessionStore struct {
	client *redis.Client
	keys   keys
}

// Create stores a new active session and claims its console
func (s *sessionStore) Create(ctx context.Context, session storage.Session) error {
	if session.Status != storage.SessionActive {
		return fmt.Errorf("new session must be active, got %q", session.Status)
	}

	keys := []string{
		s.keys.session(session.ID),
		s.keys.activeSessions(),
		s.keys.consoleLock(session.ConsoleID),
	}
	args := append([]interface{}{session.ID}, sessionFields(session)...)

	return runScript(ctx, s.client, createSession, keys, args...)
}

// Get retrieves a session by ID
func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, s.keys.session(id)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseSession(data)
}

// ListActive returns all active sessions
func (s *sessionStore) ListActive(ctx context.Context) ([]storage.Session, error) {
	ids, err := s.client.SMembers(ctx, s.keys.activeSessions()).Result()
	if err != nil {
		return nil, err
	}

	return s.load(ctx, ids)
}

// ListEnded returns sessions that ended in [from, to)
func (s *sessionStore) ListEnded(ctx context.Context, from, to time.Time) ([]storage.Session, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.endedSessions(), windowArgs(from, to)).Result()
	if err != nil {
		return nil, err
	}

	return s.load(ctx, ids)
}

// load fetches sessions by ID with a pipeline, skipping vanished and
// undecodable ones
func (s *sessionStore) load(ctx context.Context, ids []string) ([]storage.Session, error) {
	if len(ids) == 0 {
		return []storage.Session{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.session(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parseSession(data)
		if err != nil {
			skipUndecodable(s.keys.session(ids[i]), err)
			continue
		}
		sessions = append(sessions, *session)
	}

	return sessions, nil
}

// AddExtraTime extends an active hourly session
func (s *sessionStore) AddExtraTime(ctx context.Context, id string, minutes int) (*storage.Session, error) {
	return s.increment(ctx, id, "extra_time_minutes", minutes)
}

// AddUnits records more games on an active per-unit session
func (s *sessionStore) AddUnits(ctx context.Context, id string, units int) (*storage.Session, error) {
	return s.increment(ctx, id, "games_played", units)
}

func (s *sessionStore) increment(ctx context.Context, id, field string, delta int) (*storage.Session, error) {
	if err := runScript(ctx, s.client, incrementSession, []string{s.keys.session(id)}, field, delta); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Finalize writes the settled state of an active session
func (s *sessionStore) Finalize(ctx context.Context, session storage.Session) error {
	if session.Status == storage.SessionActive {
		return fmt.Errorf("finalized session must not be active")
	}
	if session.EndTime.IsZero() {
		return fmt.Errorf("finalized session needs an end time")
	}

	keys := []string{
		s.keys.session(session.ID),
		s.keys.activeSessions(),
		s.keys.endedSessions(),
		s.keys.consoleLock(session.ConsoleID),
	}
	args := append([]interface{}{session.ID, session.EndTime.UnixMilli()}, sessionFields(session)...)

	return runScript(ctx, s.client, finalizeSession, keys, args...)
}

// AddConsumption appends a product served during a session
func (s *sessionStore) AddConsumption(ctx context.Context, c storage.Consumption) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.keys.consumptions(c.SessionID), raw).Err()
}

// ListConsumptions returns the products served during a session
func (s *sessionStore) ListConsumptions(ctx context.Context, sessionID string) ([]storage.Consumption, error) {
	items, err := s.client.LRange(ctx, s.keys.consumptions(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]storage.Consumption, 0, len(items))
	for _, raw := range items {
		var c storage.Consumption
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("failed to decode consumption: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// ClearConsumptions drops the consumption list of a session
func (s *sessionStore) ClearConsumptions(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.keys.consumptions(sessionID)).Err()
}
