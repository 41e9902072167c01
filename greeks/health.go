package greeks

import (
	"time"

	"optionscalp/domain"
)

// HealthInputs are the five trigger measurements from §4.1, each computed
// independently over the chain/history and OR'd together.
type HealthInputs struct {
	FractionStale       float64 // (i) >50% snapshots older than 60s
	FractionFrozen      float64 // (ii) >70% identical to previous
	MaxIVSpikeAbs       float64 // (iii) IV spike >20% absolute
	InversionFailureRate float64 // (iv) >30% inversion failures over last 100
	ValidStrikeCount    int     // (v) fewer than 8 valid strikes
}

// EvaluateHealth folds the five triggers into a HealthStatus. Any trigger
// firing elevates status to at least DEGRADED; the caller is responsible
// for separately setting OFFLINE (feed disconnected) and STALE (freshness
// fail-safe, §4.5) since those originate outside the Greeks engine itself.
func EvaluateHealth(in HealthInputs) domain.HealthStatus {
	fired := 0
	if in.FractionStale > 0.5 {
		fired++
	}
	if in.FractionFrozen > 0.7 {
		fired++
	}
	if in.MaxIVSpikeAbs > 0.20 {
		fired++
	}
	if in.InversionFailureRate > 0.30 {
		fired++
	}
	if in.ValidStrikeCount < 8 {
		fired++
	}

	switch {
	case fired == 0:
		return domain.HealthHealthy
	case fired == 1:
		return domain.HealthDegraded
	default:
		return domain.HealthUnhealthy
	}
}

// StaleFraction computes trigger (i) given each leg's GreeksSnapshot
// ComputedAt times.
func StaleFraction(times []time.Time, now time.Time, maxAge time.Duration) float64 {
	if len(times) == 0 {
		return 0
	}
	var stale int
	for _, t := range times {
		if now.Sub(t) > maxAge {
			stale++
		}
	}
	return float64(stale) / float64(len(times))
}
