package adaptive

import (
	"testing"
	"time"

	"optionscalp/clock"
	"optionscalp/config"
	"optionscalp/domain"

	"github.com/stretchr/testify/require"
)

func testBucket() domain.FeatureBucket {
	return domain.FeatureBucket{
		TimeOfDay:     domain.TimeOfDayBucket("MORNING"),
		BiasStrength:  domain.StrengthBucket("STRONG"),
		GreeksRegime:  domain.GreeksRegimeBucket("NORMAL"),
		OIConviction:  domain.OIConvictionBucket("HIGH"),
		Volatility:    domain.FeatureVolNormal,
	}
}

func newTestController(t *testing.T) (*Controller, *clock.FixedClock) {
	t.Helper()
	clk := clock.NewFixedClock(time.Date(2026, 7, 31, 16, 0, 0, 0, clock.IST))
	c := NewController(config.DefaultAdaptiveConfig(), clk)
	t.Cleanup(c.Close)
	return c, clk
}

func TestAllow_DefaultsToFullWeightForUnknownBucket(t *testing.T) {
	c, _ := newTestController(t)
	allow, reason, mult := c.Allow("NIFTY", testBucket())
	require.True(t, allow)
	require.Empty(t, reason)
	require.Equal(t, 1.0, mult)
}

func TestRunEODLearning_HoldsBelowMinSampleSize(t *testing.T) {
	c, clk := newTestController(t)
	b := testBucket()
	for i := 0; i < 5; i++ {
		c.RecordTrade(b, 10, clk.Now())
	}
	insights := c.RunEODLearning(clk.Now())
	require.Len(t, insights, 1)
	require.Equal(t, ActionHold, insights[0].Action)
}

func TestRunEODLearning_AmplifiesHighWinRateBucket(t *testing.T) {
	c, clk := newTestController(t)
	b := testBucket()
	cfg := config.DefaultAdaptiveConfig()
	for i := 0; i < cfg.MinSampleSize; i++ {
		pnl := 10.0
		if i%10 == 0 {
			pnl = -5.0 // keep win rate high but not perfect
		}
		c.RecordTrade(b, pnl, clk.Now())
	}
	insights := c.RunEODLearning(clk.Now())
	require.Len(t, insights, 1)
	require.Equal(t, ActionAmplify, insights[0].Action)
	require.True(t, insights[0].Applied)

	allow, _, mult := c.Allow("NIFTY", b)
	require.True(t, allow)
	require.Greater(t, mult, 1.0)
}

func TestRunEODLearning_RestrictsLowWinRateBucket(t *testing.T) {
	c, clk := newTestController(t)
	b := testBucket()
	cfg := config.DefaultAdaptiveConfig()
	// win rate 0.25, losses never run more than 3 in a row so the
	// consecutive-loss BLOCK path (threshold 6) does not preempt RESTRICT.
	for i := 0; i < cfg.MinSampleSize; i++ {
		pnl := -10.0
		if i%4 == 0 {
			pnl = 5.0
		}
		c.RecordTrade(b, pnl, clk.Now())
	}
	insights := c.RunEODLearning(clk.Now())
	require.Equal(t, ActionRestrict, insights[0].Action)

	_, _, mult := c.Allow("NIFTY", b)
	require.Less(t, mult, 1.0)
}

func TestRunEODLearning_BlocksPersistentLossBucket(t *testing.T) {
	c, clk := newTestController(t)
	b := testBucket()
	cfg := config.DefaultAdaptiveConfig()
	for i := 0; i < cfg.MinSampleSize; i++ {
		c.RecordTrade(b, -10, clk.Now())
	}
	insights := c.RunEODLearning(clk.Now())
	require.Equal(t, ActionBlock, insights[0].Action)

	allow, reason, _ := c.Allow("NIFTY", b)
	require.False(t, allow)
	require.Equal(t, "pattern_block", reason)
}

func TestSafetyGuard_LimitsAppliedProposalsPerDay(t *testing.T) {
	c, clk := newTestController(t)
	cfg := config.DefaultAdaptiveConfig()

	buckets := make([]domain.FeatureBucket, 0, cfg.MaxAppliedPerDay+2)
	for i := 0; i < cfg.MaxAppliedPerDay+2; i++ {
		b := testBucket()
		b.OIConviction = domain.OIConvictionBucket(string(rune('A' + i)))
		buckets = append(buckets, b)
		for j := 0; j < cfg.MinSampleSize; j++ {
			c.RecordTrade(b, 10, clk.Now())
		}
	}

	insights := c.RunEODLearning(clk.Now())
	applied := 0
	for _, ins := range insights {
		if ins.Applied {
			applied++
		}
	}
	require.Equal(t, cfg.MaxAppliedPerDay, applied)
}

func TestSafetyGuard_RejectsLowConfidenceAutoApply(t *testing.T) {
	c, clk := newTestController(t)
	b := testBucket()
	cfg := config.DefaultAdaptiveConfig()
	// Alternate win/loss exactly at the amplify boundary with low total
	// sample count relative to history, driving confidence down via the
	// sample-adequacy term while still crossing the win-rate threshold.
	for i := 0; i < cfg.MinSampleSize; i++ {
		pnl := -1.0
		if float64(i) < float64(cfg.MinSampleSize)*cfg.AmplifyWinRate {
			pnl = 1.0
		}
		c.RecordTrade(b, pnl, clk.Now())
	}
	insights := c.RunEODLearning(clk.Now())
	require.Len(t, insights, 1)
	if LevelFor(insights[0].Confidence) == ConfidenceVeryLow {
		require.False(t, insights[0].Applied)
	}
}

func TestEmergencyReset_ClearsWeightsAndBlocks(t *testing.T) {
	c, clk := newTestController(t)
	b := testBucket()
	cfg := config.DefaultAdaptiveConfig()
	for i := 0; i < cfg.MinSampleSize; i++ {
		c.RecordTrade(b, -10, clk.Now())
	}
	c.RunEODLearning(clk.Now())
	allow, _, _ := c.Allow("NIFTY", b)
	require.False(t, allow)

	c.EmergencyReset()
	allow, _, mult := c.Allow("NIFTY", b)
	require.True(t, allow)
	require.Equal(t, 1.0, mult)
}

func TestRegime_RoundTrips(t *testing.T) {
	c, _ := newTestController(t)
	c.SetRegime(domain.RegimeHighVol)
	require.Equal(t, domain.RegimeHighVol, c.Regime())
}
