package orchestrator

import (
	"time"

	"optionscalp/clock"
	"optionscalp/config"
	"optionscalp/domain"
)

// bucketFor derives the adaptive controller's FeatureBucket for a candidate
// entry at now, from the session clock, the current bias read, and the
// chain's ATM IV/theta-pressure reading (§4.6's five-enum composite key).
func bucketFor(now time.Time, sessCfg config.SessionConfig, bs domain.BiasState, chain domain.Chain) domain.FeatureBucket {
	return domain.FeatureBucket{
		TimeOfDay:    timeOfDayBucket(now, sessCfg),
		BiasStrength: strengthBucket(bs.Strength),
		GreeksRegime: greeksRegimeBucket(chain),
		OIConviction: oiConvictionBucket(bs.Factors.OI),
		Volatility:   volatilityBucket(atmIV(chain)),
	}
}

// bucketFromTrade rebuilds the bucket a closed Trade was entered under,
// from its own entry-time Greeks snapshot rather than the live chain (the
// chain may have moved on by the time the trade closes).
func bucketFromTrade(t domain.Trade, now time.Time, sessCfg config.SessionConfig) domain.FeatureBucket {
	return domain.FeatureBucket{
		TimeOfDay:    timeOfDayBucket(t.OpenedAt, sessCfg),
		BiasStrength: domain.StrengthMed, // bias strength at entry isn't retained on Trade; MED is the neutral default
		GreeksRegime: greeksRegimeFromSnapshot(t.Entry.Greeks),
		OIConviction: oiConvictionFromCount(t.Entry.OI),
		Volatility:   volatilityBucket(t.Entry.Greeks.IV),
	}
}

func timeOfDayBucket(now time.Time, sessCfg config.SessionConfig) domain.TimeOfDayBucket {
	w, err := EvaluateSession(now, sessCfg)
	if err != nil {
		return domain.TODMorning
	}
	ist := now.In(clock.IST)
	switch {
	case w.PastForcedFlatCutoff:
		return domain.TODClosing
	case w.ApproachingLunchLockout:
		return domain.TODLunch
	case ist.Hour() < 10:
		return domain.TODOpening
	case ist.Hour() < 13:
		return domain.TODMorning
	default:
		return domain.TODAfternoon
	}
}

func strengthBucket(strength float64) domain.StrengthBucket {
	switch {
	case strength >= 0.66:
		return domain.StrengthHigh
	case strength >= 0.33:
		return domain.StrengthMed
	default:
		return domain.StrengthLow
	}
}

func greeksRegimeBucket(chain domain.Chain) domain.GreeksRegimeBucket {
	atmIdx := chain.ATMIndex()
	if atmIdx < 0 {
		return domain.RegimeNeutral
	}
	row := chain.Rows[atmIdx]
	var g domain.GreeksSnapshot
	if row.CE != nil {
		g = row.CE.Greeks
	} else if row.PE != nil {
		g = row.PE.Greeks
	}
	return greeksRegimeFromSnapshot(g)
}

func greeksRegimeFromSnapshot(g domain.GreeksSnapshot) domain.GreeksRegimeBucket {
	switch {
	case g.Gamma >= 0.05:
		return domain.RegimeHighGamma
	case g.Theta <= -0.5:
		return domain.RegimeHighTheta
	default:
		return domain.RegimeNeutral
	}
}

func oiConvictionBucket(oiFactor float64) domain.OIConvictionBucket {
	dev := oiFactor - 0.5
	if dev < 0 {
		dev = -dev
	}
	switch {
	case dev >= 0.3:
		return domain.OIStrong
	case dev >= 0.15:
		return domain.OIMed
	default:
		return domain.OIWeak
	}
}

func oiConvictionFromCount(oi int64) domain.OIConvictionBucket {
	switch {
	case oi >= 500000:
		return domain.OIStrong
	case oi >= 100000:
		return domain.OIMed
	default:
		return domain.OIWeak
	}
}

func volatilityBucket(iv float64) domain.VolatilityBucket {
	switch {
	case iv <= 0.15:
		return domain.FeatureVolLow
	case iv <= 0.35:
		return domain.FeatureVolNormal
	default:
		return domain.FeatureVolHigh
	}
}

func atmIV(chain domain.Chain) float64 {
	atmIdx := chain.ATMIndex()
	if atmIdx < 0 {
		return 0
	}
	row := chain.Rows[atmIdx]
	if row.CE != nil {
		return row.CE.Greeks.IV
	}
	if row.PE != nil {
		return row.PE.Greeks.IV
	}
	return 0
}
