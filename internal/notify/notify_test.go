package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/gamestore/internal/clock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupTestClient(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisNotifierPublishes(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "test:events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	at := time.Date(2025, 3, 1, 15, 1, 0, 0, time.UTC)
	n := NewRedisNotifier(client, "test:events", clock.NewManual(at))

	if err := n.NotifyOverdue(ctx, "#3", "s1"); err != nil {
		t.Fatalf("NotifyOverdue failed: %v", err)
	}
	if err := n.RaiseAlarm(ctx); err != nil {
		t.Fatalf("RaiseAlarm failed: %v", err)
	}

	want := []Event{
		{Type: EventOverdue, Station: "#3", SessionID: "s1", At: at},
		{Type: EventAlarm, At: at},
	}
	for i, w := range want {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			t.Fatalf("ReceiveMessage failed: %v", err)
		}
		var got Event
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("Failed to decode event: %v", err)
		}
		if got.Type != w.Type || got.Station != w.Station || got.SessionID != w.SessionID || !got.At.Equal(w.At) {
			t.Errorf("event %d: expected %+v, got %+v", i, w, got)
		}
	}
}

type failing struct{ calls int }

func (f *failing) NotifyOverdue(context.Context, string, string) error {
	f.calls++
	return errors.New("screen offline")
}

func (f *failing) RaiseAlarm(context.Context) error {
	f.calls++
	return errors.New("speaker offline")
}

func TestMultiTriesEveryNotifier(t *testing.T) {
	bad := &failing{}
	also := &failing{}
	m := Multi{bad, NewLogNotifier(zerolog.Nop()), also}

	if err := m.NotifyOverdue(context.Background(), "#1", "s1"); err == nil {
		t.Error("Expected joined error")
	}
	if err := m.RaiseAlarm(context.Background()); err == nil {
		t.Error("Expected joined error")
	}
	if bad.calls != 2 || also.calls != 2 {
		t.Errorf("Expected every notifier tried, got %d and %d calls", bad.calls, also.calls)
	}

	if err := (Multi{NewLogNotifier(zerolog.Nop())}).RaiseAlarm(context.Background()); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestRedisMutes(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	m := NewRedisMutes(client, "test:")

	state, err := m.Mutes(ctx)
	if err != nil {
		t.Fatalf("Mutes failed: %v", err)
	}
	if state.Global || len(state.Sessions) != 0 {
		t.Errorf("Expected nothing muted, got %+v", state)
	}

	if err := m.MuteSession(ctx, "s1"); err != nil {
		t.Fatalf("MuteSession failed: %v", err)
	}
	if err := m.MuteSession(ctx, "s2"); err != nil {
		t.Fatalf("MuteSession failed: %v", err)
	}
	if err := m.UnmuteSession(ctx, "s2"); err != nil {
		t.Fatalf("UnmuteSession failed: %v", err)
	}

	state, _ = m.Mutes(ctx)
	if !state.Muted("s1") || state.Muted("s2") || state.Global {
		t.Errorf("Unexpected mute state: %+v", state)
	}

	if err := m.SetGlobal(ctx, true); err != nil {
		t.Fatalf("SetGlobal failed: %v", err)
	}
	state, _ = m.Mutes(ctx)
	if !state.Global || !state.Muted("s2") {
		t.Errorf("Expected global mute to silence every session, got %+v", state)
	}

	_ = m.SetGlobal(ctx, false)
	state, _ = m.Mutes(ctx)
	if state.Global {
		t.Error("Expected global mute cleared")
	}
}
