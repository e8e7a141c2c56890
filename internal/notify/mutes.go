package notify

import (
	"context"
	"errors"

	"github.com/goodtune/gamestore/internal/monitor"
	"github.com/redis/go-redis/v9"
)

// RedisMutes keeps the alarm mute settings in Redis so every desk screen
// and the monitor see the same state.
type RedisMutes struct {
	client      *redis.Client
	globalKey   string
	sessionsKey string
}

// NewRedisMutes creates a mute store under prefix.
func NewRedisMutes(client *redis.Client, prefix string) *RedisMutes {
	return &RedisMutes{
		client:      client,
		globalKey:   prefix + "mute:global",
		sessionsKey: prefix + "mute:sessions",
	}
}

// Mutes implements monitor.MuteSource.
func (m *RedisMutes) Mutes(ctx context.Context) (monitor.MuteState, error) {
	var global *redis.StringCmd
	var sessions *redis.StringSliceCmd

	_, err := m.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		global = pipe.Get(ctx, m.globalKey)
		sessions = pipe.SMembers(ctx, m.sessionsKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return monitor.MuteState{}, err
	}

	state := monitor.MuteState{Sessions: make(map[string]bool)}
	if v, err := global.Result(); err == nil {
		state.Global = v == "1"
	}
	ids, err := sessions.Result()
	if err != nil {
		return monitor.MuteState{}, err
	}
	for _, id := range ids {
		state.Sessions[id] = true
	}
	return state, nil
}

// SetGlobal mutes or unmutes the alarm for every session.
func (m *RedisMutes) SetGlobal(ctx context.Context, muted bool) error {
	if muted {
		return m.client.Set(ctx, m.globalKey, "1", 0).Err()
	}
	return m.client.Del(ctx, m.globalKey).Err()
}

// MuteSession silences the alarm for one session.
func (m *RedisMutes) MuteSession(ctx context.Context, sessionID string) error {
	return m.client.SAdd(ctx, m.sessionsKey, sessionID).Err()
}

// UnmuteSession restores the alarm for one session.
func (m *RedisMutes) UnmuteSession(ctx context.Context, sessionID string) error {
	return m.client.SRem(ctx, m.sessionsKey, sessionID).Err()
}
