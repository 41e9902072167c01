// Package exit implements the exit orchestrator of §4.4: each detector is a
// pure function of a snapshot of trade/market inputs, and Arbitrate folds
// the fired signals to the highest-priority one. DetectDataStale is the
// data-freshness fail-safe layered on top of the eight market detectors.
package exit

import (
	"time"

	"optionscalp/config"
	"optionscalp/domain"

	"github.com/shopspring/decimal"
)

// Signal is one detector's verdict for the current tick.
type Signal struct {
	Kind       domain.ExitKind
	Priority   float64
	Confidence float64
	Qty        decimal.Decimal // zero means "exit remainder", non-zero is a partial qty
	Reason     string
}

// SessionInfo carries the session-window facts the TIME_FORCED detector
// needs, computed by the caller from config.SessionConfig + clock.Clock so
// this package never reads wall time directly (§6.3).
type SessionInfo struct {
	ApproachingLunchLockout bool
	PastForcedFlatCutoff    bool
}

// Inputs is everything the detectors need for one Open trade at one tick,
// precomputed by the orchestrator from the Greeks/bias caches so each
// detector stays a pure function.
type Inputs struct {
	Now                  time.Time
	Trade                domain.Trade
	CurrentPrice         decimal.Decimal
	Greeks               domain.GreeksSnapshot
	PrevGreeks           domain.GreeksSnapshot
	GammaPeakSinceEntry  float64
	VolumeNow            int64
	VolumeRollingMean    float64
	OIUnwindPct          float64
	DominanceFlipped     bool
	OppositeSideOIBuildPct float64
	IVAtEntry            float64
	HoldDuration         time.Duration
	Session              SessionInfo

	// DataStale is true once the feed has gone silent for longer than
	// risk.ForceFlatAfterStale while this trade is open: every other
	// field above was computed from a chain snapshot that may no longer
	// reflect the market.
	DataStale bool
}

// entryPrice, profitPct, etc. are small shared helpers.
func profitPct(entryPrice, currentPrice decimal.Decimal) float64 {
	if entryPrice.IsZero() {
		return 0
	}
	f, _ := currentPrice.Sub(entryPrice).Div(entryPrice).Float64()
	return f
}

// Evaluate runs the data-freshness fail-safe and all eight market detectors,
// returning every fired signal (NO_ACTION always included as the floor).
func Evaluate(in Inputs, cfg config.ExitConfig) []Signal {
	var fired []Signal
	if s, ok := DetectDataStale(in, cfg); ok {
		fired = append(fired, s)
	}
	if s, ok := DetectTimeForced(in, cfg); ok {
		fired = append(fired, s)
	}
	if s, ok := DetectThetaBomb(in, cfg); ok {
		fired = append(fired, s)
	}
	if s, ok := DetectReversal(in, cfg); ok {
		fired = append(fired, s)
	}
	if s, ok := DetectExhaustion(in, cfg); ok {
		fired = append(fired, s)
	}
	if !in.Trade.PartialDone {
		if s, ok := DetectPartial(in, cfg); ok {
			fired = append(fired, s)
		}
	}
	if s, ok := DetectTrailingSL(in, cfg); ok {
		fired = append(fired, s)
	}
	if s, ok := DetectHardSL(in, cfg); ok {
		fired = append(fired, s)
	}
	fired = append(fired, Signal{Kind: domain.ExitNoAction, Priority: 0, Confidence: 1, Reason: "no trigger"})
	return fired
}
