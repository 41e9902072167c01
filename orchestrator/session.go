// Package orchestrator wires the Greeks engine, bias tracker, entry/exit
// gates, risk manager, and adaptive controller into one per-underlying
// event loop (§4.7), grounded in the teacher's AutoTrader.Run()/runCycle()
// ticker-driven loop with stopMonitorCh+WaitGroup graceful shutdown
// (trader/auto_trader.go), generalized from VWAP-phase interval switching
// to tick/chain-event-driven scheduling.
package orchestrator

import (
	"fmt"
	"time"

	"optionscalp/clock"
	"optionscalp/config"
)

// SessionWindow is the session-window verdict for one instant, computed
// from config.SessionConfig's "HH:MM" constants against a clock pinned to
// clock.IST (§6.3 — NSE trading hours are defined in IST).
type SessionWindow struct {
	WithinMarketHours       bool
	NoNewEntries            bool // past NoNewEntriesAfter
	ApproachingLunchLockout bool // inside the lunch window
	PastForcedFlatCutoff    bool // past ForcedFlatCutoff — must be flat
}

// EvaluateSession parses cfg's "HH:MM" fields and classifies now (converted
// to IST) against them.
func EvaluateSession(now time.Time, cfg config.SessionConfig) (SessionWindow, error) {
	ist := now.In(clock.IST)
	open, err := parseClock(ist, cfg.MarketOpen)
	if err != nil {
		return SessionWindow{}, fmt.Errorf("orchestrator: parse market_open: %w", err)
	}
	mclose, err := parseClock(ist, cfg.MarketClose)
	if err != nil {
		return SessionWindow{}, fmt.Errorf("orchestrator: parse market_close: %w", err)
	}
	lunchStart, err := parseClock(ist, cfg.LunchStart)
	if err != nil {
		return SessionWindow{}, fmt.Errorf("orchestrator: parse lunch_start: %w", err)
	}
	lunchEnd, err := parseClock(ist, cfg.LunchEnd)
	if err != nil {
		return SessionWindow{}, fmt.Errorf("orchestrator: parse lunch_end: %w", err)
	}
	forcedFlat, err := parseClock(ist, cfg.ForcedFlatCutoff)
	if err != nil {
		return SessionWindow{}, fmt.Errorf("orchestrator: parse forced_flat_cutoff: %w", err)
	}
	noNewEntries, err := parseClock(ist, cfg.NoNewEntriesAfter)
	if err != nil {
		return SessionWindow{}, fmt.Errorf("orchestrator: parse no_new_entries_after: %w", err)
	}

	return SessionWindow{
		WithinMarketHours:       !ist.Before(open) && ist.Before(mclose),
		NoNewEntries:            !ist.Before(noNewEntries),
		ApproachingLunchLockout: !ist.Before(lunchStart) && ist.Before(lunchEnd),
		PastForcedFlatCutoff:    !ist.Before(forcedFlat),
	}, nil
}

// SessionOK reports whether a new entry may be taken right now: within
// market hours, before the no-new-entries cutoff, and not inside the lunch
// lockout window.
func (w SessionWindow) SessionOK() bool {
	return w.WithinMarketHours && !w.NoNewEntries && !w.ApproachingLunchLockout && !w.PastForcedFlatCutoff
}

// parseClock parses an "HH:MM" string into a time.Time sharing ref's date
// and location.
func parseClock(ref time.Time, hhmm string) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", hhmm, ref.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid HH:MM %q: %w", hhmm, err)
	}
	y, m, d := ref.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, ref.Location()), nil
}
