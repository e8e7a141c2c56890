package billing

import (
	"sync/atomic"
	"time"
)

const (
	// DefaultPerUnitGrace is added to the expected play time of a per-unit
	// session before it counts as overdue.
	DefaultPerUnitGrace = 5 * time.Minute

	// DefaultFreeUnitThreshold grants one free game for every five played.
	DefaultFreeUnitThreshold = 5

	// DefaultPerUnitMinutes is assumed when a per-unit plan has no duration.
	DefaultPerUnitMinutes = 15
)

// FreeUnitScope selects which games count toward the free-unit threshold.
type FreeUnitScope string

const (
	// ScopeLifetime counts every game the client ever played.
	ScopeLifetime FreeUnitScope = "lifetime"
	// ScopeSession counts only the games of the session being settled.
	ScopeSession FreeUnitScope = "session"
)

// Rules is an immutable snapshot of the store's billing settings. It is
// passed into each calculation rather than read from global state.
type Rules struct {
	FreeUnitsEnabled  bool
	FreeUnitThreshold int
	FreeUnitScope     FreeUnitScope

	// PerUnitGrace pads the expected duration of per-unit sessions.
	PerUnitGrace time.Duration

	// ChargeOverrun bills every started bracket beyond the allowed time of
	// an hourly session. When false an overrun only raises the overdue flag.
	ChargeOverrun bool

	PointsEnabled bool
	HourlyPoints  HourlyPointsPolicy

	// PointsPerFreeUnit is the points cost of redeeming one game. Zero
	// disables redemption.
	PointsPerFreeUnit int
}

// DefaultRules returns the settings used when nothing is configured.
func DefaultRules() Rules {
	return Rules{
		FreeUnitsEnabled:  true,
		FreeUnitThreshold: DefaultFreeUnitThreshold,
		FreeUnitScope:     ScopeLifetime,
		PerUnitGrace:      DefaultPerUnitGrace,
		PointsEnabled:     true,
		HourlyPoints:      FlatPoints{},
	}
}

// RulesHolder publishes the current Rules snapshot to concurrent readers.
// A configuration reload swaps the whole snapshot.
type RulesHolder struct {
	v atomic.Pointer[Rules]
}

// NewRulesHolder returns a holder publishing r.
func NewRulesHolder(r Rules) *RulesHolder {
	h := &RulesHolder{}
	h.Store(r)
	return h
}

// Load returns the current snapshot.
func (h *RulesHolder) Load() Rules {
	return *h.v.Load()
}

// Store replaces the current snapshot.
func (h *RulesHolder) Store(r Rules) {
	h.v.Store(&r)
}
