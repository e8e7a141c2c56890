// Package notify delivers overdue notifications and alarms to the front
// desk, and stores the alarm mute settings.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/gamestore/internal/clock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventType names a notification.
type EventType string

const (
	EventOverdue EventType = "overdue"
	EventAlarm   EventType = "alarm"
)

// Event is the payload published to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Station   string    `json:"station,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

// NotifyOverdue logs an overdue session.
func (n *LogNotifier) NotifyOverdue(_ context.Context, station, sessionID string) error {
	n.logger.Warn().
		Str("station", station).
		Str("session_id", sessionID).
		Msg("Station overdue")
	return nil
}

// RaiseAlarm logs the alarm.
func (n *LogNotifier) RaiseAlarm(context.Context) error {
	n.logger.Warn().Msg("Overdue alarm")
	return nil
}

// RedisNotifier publishes notifications as JSON events on a pub/sub channel
// for the front-desk screens.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	clock   clock.Clock
}

// NewRedisNotifier creates a publisher on channel.
func NewRedisNotifier(client *redis.Client, channel string, clk clock.Clock) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, clock: clk}
}

// NotifyOverdue publishes an overdue event.
func (n *RedisNotifier) NotifyOverdue(ctx context.Context, station, sessionID string) error {
	return n.publish(ctx, Event{Type: EventOverdue, Station: station, SessionID: sessionID})
}

// RaiseAlarm publishes an alarm event.
func (n *RedisNotifier) RaiseAlarm(ctx context.Context) error {
	return n.publish(ctx, Event{Type: EventAlarm})
}

func (n *RedisNotifier) publish(ctx context.Context, ev Event) error {
	ev.At = n.clock.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

// Notifier is the delivery contract shared by all notifiers.
type Notifier interface {
	NotifyOverdue(ctx context.Context, station, sessionID string) error
	RaiseAlarm(ctx context.Context) error
}

// Multi fans a notification out to several notifiers. Every notifier is
// tried; the errors are joined.
type Multi []Notifier

// NotifyOverdue implements Notifier.
func (m Multi) NotifyOverdue(ctx context.Context, station, sessionID string) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyOverdue(ctx, station, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RaiseAlarm implements Notifier.
func (m Multi) RaiseAlarm(ctx context.Context) error {
	var errs []error
	for _, n := range m {
		if err := n.RaiseAlarm(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
