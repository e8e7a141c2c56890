package report

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/gamestore/internal/clock"
	"github.com/goodtune/gamestore/internal/money"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultCacheSize is the number of windows kept in the cache
	DefaultCacheSize = 32

	// DefaultCacheTTL bounds how stale a cached summary may be
	DefaultCacheTTL = 30 * time.Second
)

// Sources is the storage the reporter reads.
type Sources struct {
	Sessions storage.SessionStore
	Sales    storage.SaleStore
	Services storage.ServiceStore
	Expenses storage.ExpenseStore
	Ledger   storage.LedgerStore
}

// Config holds reporter configuration
type Config struct {
	Location  *time.Location
	CacheSize int
	CacheTTL  time.Duration
}

// Reporter loads records for a window and summarises them, caching the
// result for a short time.
type Reporter struct {
	sources Sources
	clock   clock.Clock
	loc     *time.Location
	cache   *expirable.LRU[string, Summary]
	logger  zerolog.Logger
}

// NewReporter creates a reporter.
func NewReporter(sources Sources, clk clock.Clock, config Config, logger zerolog.Logger) *Reporter {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCacheSize
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}

	return &Reporter{
		sources: sources,
		clock:   clk,
		loc:     config.Location,
		cache:   expirable.NewLRU[string, Summary](config.CacheSize, nil, config.CacheTTL),
		logger:  logger.With().Str("component", "report").Logger(),
	}
}

// Location returns the store time zone used for windows.
func (r *Reporter) Location() *time.Location {
	return r.loc
}

// Period summarises the named period containing the current time.
func (r *Reporter) Period(ctx context.Context, p Period) (Summary, error) {
	from, to := p.Window(r.clock.Now(), r.loc)
	return r.Window(ctx, from, to)
}

// Window summarises [from, to).
func (r *Reporter) Window(ctx context.Context, from, to time.Time) (Summary, error) {
	if !from.Before(to) {
		return Summary{}, fmt.Errorf("empty report window %s to %s", from, to)
	}

	key := fmt.Sprintf("%d:%d", from.UnixNano(), to.UnixNano())
	if sum, ok := r.cache.Get(key); ok {
		return sum, nil
	}

	in, err := r.load(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}

	sum := Summarize(in, from, to, r.loc)
	r.cache.Add(key, sum)

	r.logger.Debug().
		Time("from", from).
		Time("to", to).
		Str("revenue", money.String(sum.Revenue.Total)).
		Str("net", money.String(sum.Profit.Net)).
		Msg("Report computed")

	return sum, nil
}

// Invalidate drops every cached summary.
func (r *Reporter) Invalidate() {
	r.cache.Purge()
}

// load reads the record sets concurrently.
func (r *Reporter) load(ctx context.Context, from, to time.Time) (Input, error) {
	var in Input
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sessions, err := r.sources.Sessions.ListEnded(gctx, from, to)
		if err != nil {
			return fmt.Errorf("failed to load sessions: %w", err)
		}
		in.Sessions = sessions
		return nil
	})

	g.Go(func() error {
		sales, err := r.sources.Sales.ListBetween(gctx, from, to)
		if err != nil {
			return fmt.Errorf("failed to load sales: %w", err)
		}
		in.Sales = sales
		return nil
	})

	g.Go(func() error {
		services, err := r.sources.Services.ListCompletedBetween(gctx, from, to)
		if err != nil {
			return fmt.Errorf("failed to load services: %w", err)
		}
		in.Services = services
		return nil
	})

	g.Go(func() error {
		expenses, err := r.sources.Expenses.List(gctx)
		if err != nil {
			return fmt.Errorf("failed to load expenses: %w", err)
		}
		in.Expenses = expenses
		return nil
	})

	if r.sources.Ledger != nil {
		g.Go(func() error {
			entries, err := r.sources.Ledger.ListBetween(gctx, from, to)
			if err != nil {
				return fmt.Errorf("failed to load ledger: %w", err)
			}
			in.Ledger = entries
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Input{}, err
	}
	return in, nil
}
