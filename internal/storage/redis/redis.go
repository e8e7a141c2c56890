package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/gamestore/internal/config"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "gamestore:"

// Store implements the storage.Store interface using Redis
type Store struct {
	client   *redis.Client
	keys     keys
	plans    *planStore
	consoles *consoleStore
	sessions *sessionStore
	clients  *clientStore
	ledger   *ledgerStore
	sales    *saleStore
	services *serviceStore
	expenses *expenseStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port (e.g. miniredis addresses)
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return newStore(client, prefix), nil
}

func newStore(client *redis.Client, prefix string) *Store {
	k := keys{prefix: prefix}
	return &Store{
		client:   client,
		keys:     k,
		plans:    &planStore{client: client, keys: k},
		consoles: &consoleStore{client: client, keys: k},
		sessions: &sessionStore{client: client, keys: k},
		clients:  &clientStore{client: client, keys: k},
		ledger:   &ledgerStore{client: client, keys: k},
		sales:    &saleStore{client: client, keys: k},
		services: &serviceStore{client: client, keys: k},
		expenses: &expenseStore{client: client, keys: k},
	}
}

// Client exposes the underlying connection for pub/sub and mute flags.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Key returns the prefixed form of a key suffix.
func (s *Store) Key(suffix string) string {
	return s.keys.prefix + suffix
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Plans returns the PlanStore implementation
func (s *Store) Plans() storage.PlanStore {
	return s.plans
}

// Consoles returns the ConsoleStore implementation
func (s *Store) Consoles() storage.ConsoleStore {
	return s.consoles
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessions
}

// Clients returns the ClientStore implementation
func (s *Store) Clients() storage.ClientStore {
	return s.clients
}

// Ledger returns the LedgerStore implementation
func (s *Store) Ledger() storage.LedgerStore {
	return s.ledger
}

// Sales returns the SaleStore implementation
func (s *Store) Sales() storage.SaleStore {
	return s.sales
}

// Services returns the ServiceStore implementation
func (s *Store) Services() storage.ServiceStore {
	return s.services
}

// Expenses returns the ExpenseStore implementation
func (s *Store) Expenses() storage.ExpenseStore {
	return s.expenses
}

// keys builds every Redis key used by the store.
type keys struct {
	prefix string
}

func (k keys) plans() string { return k.prefix + "plans" }
func (k keys) consoles() string { return k.prefix + "consoles" }
func (k keys) consoleLock(consoleID string) string { return k.prefix + "console:" + consoleID + ":session" }
func (k keys) session(id string) string { return k.prefix + "session:" + id }
func (k keys) consumptions(id string) string { return k.prefix + "session:" + id + ":consumptions" }
func (k keys) activeSessions() string { return k.prefix + "sessions:active" }
func (k keys) endedSessions() string { return k.prefix + "sessions:ended" }
func (k keys) client(id string) string { return k.prefix + "client:" + id }
func (k keys) clientIndex() string { return k.prefix + "clients" }
func (k keys) ledgerEntry(id string) string { return k.prefix + "ledger:entry:" + id }
func (k keys) ledgerClient(clientID string) string { return k.prefix + "ledger:client:" + clientID }
func (k keys) ledgerHead(clientID string) string { return k.prefix + "ledger:client:" + clientID + ":head" }
func (k keys) ledgerTimeline() string { return k.prefix + "ledger:timeline" }
func (k keys) ledgerRef(refType storage.ReferenceType, refID string) string {
	return k.prefix + "ledger:ref:" + string(refType) + ":" + refID
}
func (k keys) sale(id string) string { return k.prefix + "sale:" + id }
func (k keys) saleTimeline() string { return k.prefix + "sales:timeline" }
func (k keys) service(id string) string { return k.prefix + "service:" + id }
func (k keys) servicesCompleted() string { return k.prefix + "services:completed" }
func (k keys) expenses() string { return k.prefix + "expenses" }
