package report

import (
	"context"
	"time"

	"github.com/goodtune/gamestore/internal/money"
	"github.com/rs/zerolog"
)

// DayCloser logs the closing summary of each business day at local
// midnight and drops cached reports.
type DayCloser struct {
	reporter *Reporter
	currency string
	logger   zerolog.Logger
	stopChan chan struct{}
}

// NewDayCloser creates a day closer.
func NewDayCloser(reporter *Reporter, currency string, logger zerolog.Logger) *DayCloser {
	return &DayCloser{
		reporter: reporter,
		currency: currency,
		logger:   logger.With().Str("component", "day-closer").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start begins the closer
func (d *DayCloser) Start() {
	go d.run()
	d.logger.Info().Str("timezone", d.reporter.loc.String()).Msg("Day closer started")
}

// Stop stops the closer
func (d *DayCloser) Stop() {
	close(d.stopChan)
	d.logger.Info().Msg("Day closer stopped")
}

func (d *DayCloser) run() {
	for {
		next := d.nextClose(d.reporter.clock.Now())
		wait := time.Until(next)

		d.logger.Debug().
			Time("next_close", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next day close")

		select {
		case <-time.After(wait):
			d.closeDay(next)
		case <-d.stopChan:
			return
		}
	}
}

// nextClose returns the next local midnight after now.
func (d *DayCloser) nextClose(now time.Time) time.Time {
	return startOfDay(now.In(d.reporter.loc)).AddDate(0, 0, 1)
}

// closeDay logs the summary of the day ending at midnight.
func (d *DayCloser) closeDay(midnight time.Time) {
	d.reporter.Invalidate()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sum, err := d.reporter.Window(ctx, midnight.AddDate(0, 0, -1), midnight)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to compute day summary")
		return
	}

	d.logger.Info().
		Str("day", midnight.AddDate(0, 0, -1).Format("2006-01-02")).
		Str("gaming", money.Format(sum.Revenue.Gaming, d.currency)).
		Str("sales", money.Format(sum.Revenue.Sales, d.currency)).
		Str("services", money.Format(sum.Revenue.Services, d.currency)).
		Str("expenses", money.Format(sum.Expenses.Total, d.currency)).
		Str("net", money.Format(sum.Profit.Net, d.currency)).
		Int("sessions", sum.Counts.Sessions).
		Int("points_earned", sum.Points.Earned).
		Int("points_redeemed", sum.Points.Redeemed).
		Msg("Day closed")
}
