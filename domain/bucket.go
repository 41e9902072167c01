package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeOfDayBucket coarsens session time for feature bucketing.
type TimeOfDayBucket string

const (
	TODOpening   TimeOfDayBucket = "OPENING"
	TODMorning   TimeOfDayBucket = "MORNING"
	TODLunch     TimeOfDayBucket = "LUNCH"
	TODAfternoon TimeOfDayBucket = "AFTERNOON"
	TODClosing   TimeOfDayBucket = "CLOSING"
)

// StrengthBucket coarsens bias strength.
type StrengthBucket string

const (
	StrengthLow  StrengthBucket = "LOW"
	StrengthMed  StrengthBucket = "MED"
	StrengthHigh StrengthBucket = "HIGH"
)

// GreeksRegimeBucket coarsens the prevailing Greeks regime.
type GreeksRegimeBucket string

const (
	RegimeHighGamma GreeksRegimeBucket = "HIGH_GAMMA"
	RegimeHighTheta GreeksRegimeBucket = "HIGH_THETA"
	RegimeNeutral   GreeksRegimeBucket = "NEUTRAL"
)

// OIConvictionBucket coarsens OI-factor conviction.
type OIConvictionBucket string

const (
	OIStrong OIConvictionBucket = "STRONG"
	OIMed    OIConvictionBucket = "MED"
	OIWeak   OIConvictionBucket = "WEAK"
)

// VolatilityBucket coarsens IV level for feature bucketing (distinct from
// domain.VolBucket, which is the Greeks engine's finer 5-way split).
type VolatilityBucket string

const (
	FeatureVolLow    VolatilityBucket = "LOW"
	FeatureVolNormal VolatilityBucket = "NORMAL"
	FeatureVolHigh   VolatilityBucket = "HIGH"
)

// FeatureBucket is the closed combination of five enums the adaptive
// controller uses as its learning key. It is comparable and usable as a map
// key directly.
type FeatureBucket struct {
	TimeOfDay    TimeOfDayBucket
	BiasStrength StrengthBucket
	GreeksRegime GreeksRegimeBucket
	OIConviction OIConvictionBucket
	Volatility   VolatilityBucket
}

// BucketPerformance is the running statistics the adaptive controller keeps
// per FeatureBucket. Invariant: Count >= Wins >= 0.
type BucketPerformance struct {
	Count       int
	Wins        int
	TotalPnL    decimal.Decimal
	WinRate     float64
	LastUpdated time.Time
}

// Record folds one closed trade's outcome into the performance stats.
func (b *BucketPerformance) Record(pnl decimal.Decimal, at time.Time) {
	b.Count++
	if pnl.IsPositive() {
		b.Wins++
	}
	b.TotalPnL = b.TotalPnL.Add(pnl)
	b.WinRate = float64(b.Wins) / float64(b.Count)
	b.LastUpdated = at
}

// MarketRegime classifies the overall character of the current market.
type MarketRegime string

const (
	RegimeTrendingBull MarketRegime = "TRENDING_BULL"
	RegimeTrendingBear MarketRegime = "TRENDING_BEAR"
	RegimeChoppy       MarketRegime = "CHOPPY"
	RegimeHighVol      MarketRegime = "HIGH_VOL"
	RegimeLowVol       MarketRegime = "LOW_VOL"
	RegimeEventDriven  MarketRegime = "EVENT_DRIVEN"
	RegimeNormal       MarketRegime = "NORMAL"
)

// RegimeChange records a regime transition with its timestamp.
type RegimeChange struct {
	Regime MarketRegime
	At     time.Time
}
