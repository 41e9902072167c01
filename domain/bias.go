package domain

import "github.com/shopspring/decimal"

// BiasDirection is the directional call on an underlying.
type BiasDirection string

const (
	Bullish BiasDirection = "BULLISH"
	Bearish BiasDirection = "BEARISH"
	Neutral BiasDirection = "NEUTRAL"
)

// BiasConfidence buckets |score-0.5| into three bands.
type BiasConfidence string

const (
	ConfidenceWeak   BiasConfidence = "WEAK"
	ConfidenceMedium BiasConfidence = "MEDIUM"
	ConfidenceStrong BiasConfidence = "STRONG"
)

// BiasFactors are the four normalized ([0,1], 0.5=neutral) inputs blended
// into a BiasState.
type BiasFactors struct {
	OI          float64
	Volume      float64
	Greeks      float64
	PriceAction float64
}

// BiasWeights weights the four factors when blending. Must sum to 1.0.
type BiasWeights struct {
	OI          float64
	Volume      float64
	Greeks      float64
	PriceAction float64
}

// DefaultBiasWeights is the locked-in default (0.3, 0.2, 0.3, 0.2); see
// SPEC_FULL.md's resolution of the corresponding Open Question.
func DefaultBiasWeights() BiasWeights {
	return BiasWeights{OI: 0.3, Volume: 0.2, Greeks: 0.3, PriceAction: 0.2}
}

// BiasState is the bias engine's output for one underlying at one update.
type BiasState struct {
	Direction  BiasDirection
	Strength   float64
	Confidence BiasConfidence
	Factors    BiasFactors

	// OIBelowPE and OIAboveCE are the raw OI totals behind Factors.OI
	// (before the delta/history normalization), carried through for
	// journal/debug inspection.
	OIBelowPE decimal.Decimal
	OIAboveCE decimal.Decimal
}
