// Package monitor runs the recurring overdue check over active sessions.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/gamestore/internal/billing"
	"github.com/goodtune/gamestore/internal/clock"
	"github.com/goodtune/gamestore/internal/metrics"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is the time between overdue checks
	DefaultInterval = 10 * time.Second

	// DefaultDispatchBuffer is the number of undelivered notifications held
	// before new ones are dropped
	DefaultDispatchBuffer = 64

	unknownStation = "?"
)

// Notifier delivers overdue notifications and the audible alarm.
type Notifier interface {
	NotifyOverdue(ctx context.Context, station, sessionID string) error
	RaiseAlarm(ctx context.Context) error
}

// MuteState is the alarm mute configuration read on every tick.
type MuteState struct {
	Global   bool
	Sessions map[string]bool
}

// Muted reports whether the alarm is silenced for a session.
func (m MuteState) Muted(sessionID string) bool {
	return m.Global || m.Sessions[sessionID]
}

// MuteSource provides the current mute configuration.
type MuteSource interface {
	Mutes(ctx context.Context) (MuteState, error)
}

// SessionSource lists the sessions to evaluate.
type SessionSource interface {
	ListActive(ctx context.Context) ([]storage.Session, error)
}

// PlanSource resolves a session's pricing plan.
type PlanSource interface {
	Get(ctx context.Context, id string) (storage.PricingPlan, error)
}

// ConsoleSource resolves a session's console for its station label.
type ConsoleSource interface {
	Get(ctx context.Context, id string) (*storage.Console, error)
}

// Sources groups what the monitor reads.
type Sources struct {
	Sessions SessionSource
	Plans    PlanSource
	Consoles ConsoleSource
	Mutes    MuteSource
}

// Config holds monitor configuration
type Config struct {
	Interval       time.Duration
	DispatchBuffer int
}

// TickReport describes the outcome of one tick.
type TickReport struct {
	Dropped bool
	Active  int
	Overdue []string
	// Notified lists sessions that started a new overdue episode
	Notified []string
	// Cleared lists sessions whose overdue episode ended
	Cleared []string
	Alarm  bool
	Failed []string
	Err    error
}

type eventKind int

const (
	eventOverdue eventKind = iota
	eventAlarm
)

type event struct {
	kind      eventKind
	station   string
	sessionID string
}

// Monitor evaluates active sessions on a fixed interval and notifies once
// per overdue episode.
type Monitor struct {
	sources  Sources
	notifier Notifier
	rules    *billing.RulesHolder
	clock    clock.Clock
	interval time.Duration
	logger   zerolog.Logger

	// notified is only touched by the tick holding running
	notified map[string]bool
	running  atomic.Bool

	dispatch chan event
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a monitor.
func New(sources Sources, notifier Notifier, rules *billing.RulesHolder, clk clock.Clock, config Config, logger zerolog.Logger) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.DispatchBuffer <= 0 {
		config.DispatchBuffer = DefaultDispatchBuffer
	}

	return &Monitor{
		sources:  sources,
		notifier: notifier,
		rules:    rules,
		clock:    clk,
		interval: config.Interval,
		logger:   logger.With().Str("component", "overdue-monitor").Logger(),
		notified: make(map[string]bool),
		dispatch: make(chan event, config.DispatchBuffer),
		stopChan: make(chan struct{}),
	}
}

// Start begins ticking, once immediately and then every interval.
func (m *Monitor) Start() {
	m.wg.Add(2)
	go m.dispatchLoop()
	go m.run()

	m.logger.Info().
		Dur("interval", m.interval).
		Msg("Overdue monitor started")
}

// Stop stops the timer and waits for the running tick and pending
// deliveries to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
		m.logger.Info().Msg("Overdue monitor stopped")
	})
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.spawnTick()
	for {
		select {
		case <-ticker.C:
			m.spawnTick()
		case <-m.stopChan:
			return
		}
	}
}

// spawnTick runs a tick without blocking the timer, so an overrunning tick
// makes the next one drop instead of queue.
func (m *Monitor) spawnTick() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.interval)
		defer cancel()

		report := m.Tick(ctx)
		if report.Err != nil {
			m.logger.Error().Err(report.Err).Msg("Overdue check failed")
		}
	}()
}

// Tick evaluates every active session once. A tick started while another
// is running returns immediately with Dropped set.
func (m *Monitor) Tick(ctx context.Context) TickReport {
	if !m.running.CompareAndSwap(false, true) {
		metrics.MonitorTicksDropped.Inc()
		m.logger.Warn().Msg("Previous overdue check still running, tick dropped")
		return TickReport{Dropped: true}
	}
	defer m.running.Store(false)

	start := time.Now()
	defer func() {
		metrics.MonitorTickDuration.Observe(time.Since(start).Seconds())
	}()

	sessions, err := m.sources.Sessions.ListActive(ctx)
	if err != nil {
		return TickReport{Err: fmt.Errorf("failed to list active sessions: %w", err)}
	}

	mutes := MuteState{}
	if m.sources.Mutes != nil {
		mutes, err = m.sources.Mutes.Mutes(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Failed to read mute settings, alarm stays enabled")
			mutes = MuteState{}
		}
	}

	now := m.clock.Now()
	rules := m.rules.Load()
	report := TickReport{Active: len(sessions)}
	overdue := make(map[string]bool)
	failed := make(map[string]bool)

	for _, s := range sessions {
		est, err := m.evaluate(ctx, s, now, rules)
		if err != nil {
			failed[s.ID] = true
			report.Failed = append(report.Failed, s.ID)
			metrics.MonitorSessionErrors.Inc()
			m.logger.Error().
				Err(err).
				Str("session_id", s.ID).
				Str("plan_id", s.PricingPlanID).
				Msg("Failed to evaluate session")
			continue
		}
		if !est.IsOverdue {
			continue
		}

		overdue[s.ID] = true
		report.Overdue = append(report.Overdue, s.ID)

		if !m.notified[s.ID] {
			m.notified[s.ID] = true
			report.Notified = append(report.Notified, s.ID)

			station := m.stationLabel(ctx, s.ConsoleID)
			m.logger.Info().
				Str("session_id", s.ID).
				Str("station", station).
				Float64("elapsed_minutes", est.ElapsedMinutes).
				Int("allowed_minutes", est.AllowedMinutes).
				Msg("Session overdue")
			m.enqueue(event{kind: eventOverdue, station: station, sessionID: s.ID})
		}

		if !mutes.Muted(s.ID) {
			report.Alarm = true
		}
	}

	// A failed evaluation keeps its flag so a transient error does not
	// re-notify on the next tick.
	for id := range m.notified {
		if !overdue[id] && !failed[id] {
			delete(m.notified, id)
			report.Cleared = append(report.Cleared, id)
		}
	}
	sort.Strings(report.Cleared)

	if report.Alarm {
		m.enqueue(event{kind: eventAlarm})
	}

	metrics.OverdueSessions.Set(float64(len(overdue)))

	return report
}

// evaluate isolates one session so a bad plan reference or a panic in its
// evaluation cannot abort the tick.
func (m *Monitor) evaluate(ctx context.Context, s storage.Session, now time.Time, rules billing.Rules) (est billing.Estimate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic evaluating session: %v", r)
		}
	}()

	plan, err := m.sources.Plans.Get(ctx, s.PricingPlanID)
	if err != nil {
		return billing.Estimate{}, fmt.Errorf("failed to load plan %s: %w", s.PricingPlanID, err)
	}
	return billing.EstimateElapsed(s, plan, now, rules)
}

func (m *Monitor) stationLabel(ctx context.Context, consoleID string) string {
	if m.sources.Consoles == nil {
		return unknownStation
	}

	console, err := m.sources.Consoles.Get(ctx, consoleID)
	if err != nil {
		m.logger.Debug().Err(err).Str("console_id", consoleID).Msg("Console lookup failed")
		return unknownStation
	}
	if console.StationNumber > 0 {
		return fmt.Sprintf("#%d", console.StationNumber)
	}
	if console.Name != "" {
		return console.Name
	}
	return unknownStation
}

// enqueue hands an event to the dispatcher without blocking the tick.
func (m *Monitor) enqueue(ev event) {
	select {
	case m.dispatch <- ev:
	default:
		metrics.NotificationsDropped.Inc()
		m.logger.Warn().
			Str("session_id", ev.sessionID).
			Msg("Notification queue full, event dropped")
	}
}

func (m *Monitor) dispatchLoop() {
	defer m.wg.Done()

	for {
		select {
		case ev := <-m.dispatch:
			m.deliver(ev)
		case <-m.stopChan:
			m.drain()
			return
		}
	}
}

// drain delivers whatever is already queued.
func (m *Monitor) drain() {
	for {
		select {
		case ev := <-m.dispatch:
			m.deliver(ev)
		default:
			return
		}
	}
}

func (m *Monitor) deliver(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	var err error
	switch ev.kind {
	case eventOverdue:
		err = m.notifier.NotifyOverdue(ctx, ev.station, ev.sessionID)
		if err == nil {
			metrics.OverdueNotifications.Inc()
		}
	case eventAlarm:
		err = m.notifier.RaiseAlarm(ctx)
		if err == nil {
			metrics.AlarmsTotal.Inc()
		}
	}

	if err != nil {
		m.logger.Error().
			Err(err).
			Str("session_id", ev.sessionID).
			Msg("Failed to deliver notification")
	}
}
