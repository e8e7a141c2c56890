package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/gamestore/internal/money"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// runScript executes a status-returning Lua script and maps its status.
func runScript(ctx context.Context, client *redis.Client, script *redis.Script, keys []string, args ...interface{}) error {
	status, err := script.Run(ctx, client, keys, args...).Text()
	if err != nil {
		return err
	}

	switch status {
	case statusOK:
		return nil
	case statusNotFound:
		return storage.ErrNotFound
	case statusBusy:
		return storage.ErrConsoleBusy
	case statusExists, statusConflict:
		return storage.ErrConflict
	case statusNotActive:
		return storage.ErrNotActive
	case statusMismatch:
		return storage.ErrBalanceMismatch
	default:
		return fmt.Errorf("unexpected script status %q", status)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// windowArgs renders [from, to) as ZRANGEBYSCORE bounds in milliseconds.
func windowArgs(from, to time.Time) *redis.ZRangeBy {
	return &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(to.UnixMilli(), 10),
	}
}

// sessionFields flattens a session into HSET field/value pairs.
func sessionFields(s storage.Session) []interface{} {
	return []interface{}{
		"id", s.ID,
		"console_id", s.ConsoleID,
		"pricing_plan_id", s.PricingPlanID,
		"billing_mode", string(s.BillingMode),
		"client_id", s.ClientID,
		"start_time", formatTime(s.StartTime),
		"end_time", formatTime(s.EndTime),
		"status", string(s.Status),
		"extra_time_minutes", s.ExtraTimeMinutes,
		"games_played", s.GamesPlayed,
		"is_free_unit_applied", formatBool(s.IsFreeUnitApplied),
		"free_units_granted", s.FreeUnitsGranted,
		"base_amount", money.String(s.BaseAmount),
		"extra_amount", money.String(s.ExtraAmount),
		"total_amount", money.String(s.TotalAmount),
		"points_earned", s.PointsEarned,
		"points_redeemed", s.PointsRedeemed,
		"notes", s.Notes,
	}
}

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startTime, err := parseTime(data["start_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse start_time: %w", err)
	}

	endTime, err := parseTime(data["end_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse end_time: %w", err)
	}

	ints := map[string]*int{}
	var extra, games, free, earned, redeemed int
	ints["extra_time_minutes"] = &extra
	ints["games_played"] = &games
	ints["free_units_granted"] = &free
	ints["points_earned"] = &earned
	ints["points_redeemed"] = &redeemed
	for field, dst := range ints {
		if data[field] == "" {
			continue
		}
		v, err := strconv.Atoi(data[field])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field, err)
		}
		*dst = v
	}

	amounts := map[string]*decimal.Decimal{}
	var base, extraAmount, total decimal.Decimal
	amounts["base_amount"] = &base
	amounts["extra_amount"] = &extraAmount
	amounts["total_amount"] = &total
	for field, dst := range amounts {
		v, err := money.Parse(data[field])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field, err)
		}
		*dst = v
	}

	return &storage.Session{
		ID:                data["id"],
		ConsoleID:         data["console_id"],
		PricingPlanID:     data["pricing_plan_id"],
		BillingMode:       storage.BillingMode(data["billing_mode"]),
		ClientID:          data["client_id"],
		StartTime:         startTime,
		EndTime:           endTime,
		Status:            storage.SessionStatus(data["status"]),
		ExtraTimeMinutes:  extra,
		GamesPlayed:       games,
		IsFreeUnitApplied: data["is_free_unit_applied"] == "1",
		FreeUnitsGranted:  free,
		BaseAmount:        base,
		ExtraAmount:       extraAmount,
		TotalAmount:       total,
		PointsEarned:      earned,
		PointsRedeemed:    redeemed,
		Notes:             data["notes"],
	}, nil
}

// parseClient converts a Redis hash to Client
func parseClient(data map[string]string) (*storage.Client, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := parseTime(data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	var units int
	if data["lifetime_units"] != "" {
		units, err = strconv.Atoi(data["lifetime_units"])
		if err != nil {
			return nil, fmt.Errorf("failed to parse lifetime_units: %w", err)
		}
	}

	var spentMinor int64
	if data["total_spent_minor"] != "" {
		spentMinor, err = strconv.ParseInt(data["total_spent_minor"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse total_spent_minor: %w", err)
		}
	}

	return &storage.Client{
		ID:            data["id"],
		Name:          data["name"],
		Phone:         data["phone"],
		LifetimeUnits: units,
		TotalSpent:    money.FromMinor(spentMinor),
		CreatedAt:     createdAt,
	}, nil
}

// getJSON loads a JSON document stored as a plain string value.
func getJSON(ctx context.Context, client *redis.Client, key string, dst interface{}) error {
	raw, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// skipUndecodable logs a stored record that listings leave out because it
// cannot be decoded.
func skipUndecodable(key string, err error) {
	log.Warn().
		Err(err).
		Str("component", "storage").
		Str("key", key).
		Msg("Skipping undecodable record")
}

// mgetJSON loads JSON documents for keys, skipping missing and undecodable
// ones.
func mgetJSON[T any](ctx context.Context, client *redis.Client, keys []string) ([]T, error) {
	if len(keys) == 0 {
		return []T{}, nil
	}

	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			skipUndecodable(keys[i], err)
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
