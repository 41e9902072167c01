package exit

import (
	"math"

	"optionscalp/config"
	"optionscalp/domain"

	"github.com/shopspring/decimal"
)

// DetectDataStale fires (priority 1.0, above every market detector) once the
// feed has gone silent past risk.ForceFlatAfterStale while a trade is open:
// the data-freshness fail-safe of §4.5. Every other detector trusts a chain
// snapshot that may be minutes old by the time this fires, so it always wins
// arbitration outright rather than competing on confidence.
func DetectDataStale(in Inputs, cfg config.ExitConfig) (Signal, bool) {
	if !in.DataStale {
		return Signal{}, false
	}
	return Signal{Kind: domain.ExitForcedFlat, Priority: 1.0, Confidence: 1.0, Reason: "data_stale_force_flat"}, true
}

// DetectTimeForced fires (priority 0.99) on approaching lunch lockout,
// market-close cutoff, or holding time beyond max_hold_seconds.
func DetectTimeForced(in Inputs, cfg config.ExitConfig) (Signal, bool) {
	if in.Session.PastForcedFlatCutoff {
		return Signal{Kind: domain.ExitTimeForced, Priority: 0.99, Confidence: 1.0, Reason: "forced_flat_cutoff"}, true
	}
	if in.Session.ApproachingLunchLockout {
		return Signal{Kind: domain.ExitTimeForced, Priority: 0.99, Confidence: 0.95, Reason: "lunch_lockout"}, true
	}
	if in.HoldDuration.Seconds() > float64(cfg.MaxHoldSeconds) {
		return Signal{Kind: domain.ExitTimeForced, Priority: 0.99, Confidence: 0.9, Reason: "max_hold_seconds"}, true
	}
	return Signal{}, false
}

// DetectThetaBomb fires (0.90-0.95) on Theta worsening faster than
// theta_accel/minute, IV crushed beyond iv_crush_percent, or time-in-trade
// beyond theta_time_cap.
func DetectThetaBomb(in Inputs, cfg config.ExitConfig) (Signal, bool) {
	if !in.PrevGreeks.ComputedAt.IsZero() {
		elapsedMin := in.Greeks.ComputedAt.Sub(in.PrevGreeks.ComputedAt).Minutes()
		if elapsedMin > 0 {
			accelPerMinute := (in.Greeks.Theta - in.PrevGreeks.Theta) / elapsedMin
			if accelPerMinute <= cfg.ThetaAccelPerMinute {
				return Signal{Kind: domain.ExitThetaBomb, Priority: 0.95, Confidence: 0.9, Reason: "theta_accelerating"}, true
			}
		}
	}
	if in.IVAtEntry > 0 {
		ivCrush := (in.IVAtEntry - in.Greeks.IV) / in.IVAtEntry
		if ivCrush >= cfg.IVCrushPercent {
			return Signal{Kind: domain.ExitThetaBomb, Priority: 0.92, Confidence: 0.85, Reason: "iv_crush"}, true
		}
	}
	if in.HoldDuration.Seconds() > float64(cfg.ThetaTimeCapSeconds) {
		return Signal{Kind: domain.ExitThetaBomb, Priority: 0.90, Confidence: 0.8, Reason: "theta_time_cap"}, true
	}
	return Signal{}, false
}

// DetectReversal fires (0.75-0.85) when the weighted sum of OI-unwind,
// dominance-flip, and opposite-side OI build reaches >=0.7.
func DetectReversal(in Inputs, cfg config.ExitConfig) (Signal, bool) {
	var weighted float64
	if in.OIUnwindPct > cfg.ReversalOIUnwindPct {
		weighted += 0.4
	}
	if in.DominanceFlipped {
		weighted += 0.35
	}
	if in.OppositeSideOIBuildPct > cfg.ReversalOIUnwindPct {
		weighted += 0.35
	}
	if weighted >= cfg.ReversalWeightedMin {
		confidence := 0.75 + 0.10*math.Min(weighted-cfg.ReversalWeightedMin, 1)
		return Signal{Kind: domain.ExitReversal, Priority: 0.80, Confidence: confidence, Reason: "reversal_weighted_sum"}, true
	}
	return Signal{}, false
}

// DetectExhaustion fires (0.70-0.90) on gamma-spike collapse or a volume
// climax with weak delta change. It does not check price-versus-delta
// divergence; DeltaDivergencePoints is not read here.
func DetectExhaustion(in Inputs, cfg config.ExitConfig) (Signal, bool) {
	if in.GammaPeakSinceEntry > 0 {
		collapse := (in.GammaPeakSinceEntry - in.Greeks.Gamma) / in.GammaPeakSinceEntry
		if collapse >= cfg.GammaCollapsePct {
			return Signal{Kind: domain.ExitExhaustion, Priority: 0.85, Confidence: 0.85, Reason: "gamma_collapse"}, true
		}
	}
	if in.VolumeRollingMean > 0 && float64(in.VolumeNow) > cfg.VolumeClimaxMultiple*in.VolumeRollingMean {
		if !in.PrevGreeks.ComputedAt.IsZero() {
			ddelta := math.Abs(in.Greeks.Delta - in.PrevGreeks.Delta)
			if ddelta < cfg.DeltaDivergenceDelta {
				return Signal{Kind: domain.ExitExhaustion, Priority: 0.80, Confidence: 0.75, Reason: "volume_climax_weak_delta"}, true
			}
		}
	}
	return Signal{}, false
}

// DetectPartial fires (0.80) when profit exceeds partial_profit_threshold
// with Gamma flattening and volume dropping, taking the configured
// percentage once per Trade.
func DetectPartial(in Inputs, cfg config.ExitConfig) (Signal, bool) {
	pnlPct := profitPct(in.Trade.Entry.Price, in.CurrentPrice)
	if pnlPct < cfg.PartialProfitThreshold {
		return Signal{}, false
	}
	gammaFlattening := !in.PrevGreeks.ComputedAt.IsZero() && in.Greeks.Gamma < in.PrevGreeks.Gamma
	volumeDropping := in.VolumeRollingMean > 0 && float64(in.VolumeNow) < in.VolumeRollingMean
	if gammaFlattening && volumeDropping {
		qty := in.Trade.Qty.Remaining.Mul(decimal.NewFromFloat(cfg.PartialExitPct))
		return Signal{Kind: domain.ExitPartial, Priority: 0.80, Confidence: 0.8, Qty: qty, Reason: "partial_profit"}, true
	}
	return Signal{}, false
}

// DetectTrailingSL fires (0.85) once profit reaches trail_activation; the
// trailing stop only ever moves in the profit direction.
func DetectTrailingSL(in Inputs, cfg config.ExitConfig) (Signal, bool) {
	pnlPct := profitPct(in.Trade.Entry.Price, in.CurrentPrice)
	if pnlPct < cfg.TrailActivation {
		return Signal{}, false
	}
	trailDistance := TrailDistance(in.Greeks)
	newTrail := in.CurrentPrice.Sub(decimal.NewFromFloat(trailDistance))
	effectiveTrail := in.Trade.Protective.TrailingSL
	if newTrail.GreaterThan(effectiveTrail) {
		effectiveTrail = newTrail
	}
	if in.CurrentPrice.LessThanOrEqual(effectiveTrail) {
		return Signal{Kind: domain.ExitTrailingSL, Priority: 0.85, Confidence: 0.9, Reason: "trailing_sl_hit"}, true
	}
	return Signal{}, false
}

// TrailDistance scales the trail distance by gamma/delta: higher gamma (more
// convex, faster-moving) options trail tighter; the function is monotone
// decreasing in Gamma and increasing in |Delta| to mirror a typical f(Γ,Δ).
func TrailDistance(g domain.GreeksSnapshot) float64 {
	base := 5.0
	gammaAdj := 1.0 / (1.0 + g.Gamma*20)
	deltaAdj := 0.5 + math.Abs(g.Delta)
	return base * gammaAdj * deltaAdj
}

// DetectHardSL fires when price has fallen to the initial protective stop.
// Priority sits below DetectTrailingSL: once a trade has trailed into profit,
// the trailing stop is the more informed signal and should arbitrate first.
func DetectHardSL(in Inputs, cfg config.ExitConfig) (Signal, bool) {
	if in.Trade.Protective.InitialSL.IsZero() {
		return Signal{}, false
	}
	if in.CurrentPrice.LessThanOrEqual(in.Trade.Protective.InitialSL) {
		return Signal{Kind: domain.ExitHardSL, Priority: 0.84, Confidence: 1.0, Reason: "hard_sl_hit"}, true
	}
	return Signal{}, false
}
