package exit

import (
	"testing"
	"time"

	"optionscalp/config"
	"optionscalp/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func baseTrade(entryPrice decimal.Decimal) domain.Trade {
	return domain.Trade{
		Entry: domain.EntryContext{Price: entryPrice},
		Qty:   domain.TradeQty{Total: decimal.NewFromInt(50), Remaining: decimal.NewFromInt(50)},
	}
}

func TestDetectDataStale_FiresForcedFlatWhenStale(t *testing.T) {
	cfg := config.DefaultExitConfig()
	in := Inputs{DataStale: true}
	s, ok := DetectDataStale(in, cfg)
	require.True(t, ok)
	require.Equal(t, domain.ExitForcedFlat, s.Kind)
	require.Equal(t, 1.0, s.Priority)
}

func TestDetectDataStale_NoFireWhenFresh(t *testing.T) {
	cfg := config.DefaultExitConfig()
	_, ok := DetectDataStale(Inputs{DataStale: false}, cfg)
	require.False(t, ok)
}

func TestDetectTimeForced_FiresOnForcedFlatCutoffAboveMaxHold(t *testing.T) {
	cfg := config.DefaultExitConfig()
	in := Inputs{Session: SessionInfo{PastForcedFlatCutoff: true}}
	s, ok := DetectTimeForced(in, cfg)
	require.True(t, ok)
	require.Equal(t, domain.ExitTimeForced, s.Kind)
	require.Equal(t, 0.99, s.Priority)
}

func TestDetectTimeForced_FiresOnMaxHoldExceeded(t *testing.T) {
	cfg := config.DefaultExitConfig()
	in := Inputs{HoldDuration: time.Duration(cfg.MaxHoldSeconds+1) * time.Second}
	s, ok := DetectTimeForced(in, cfg)
	require.True(t, ok)
	require.Equal(t, "max_hold_seconds", s.Reason)
}

func TestDetectTimeForced_NoFireWithinSession(t *testing.T) {
	cfg := config.DefaultExitConfig()
	in := Inputs{HoldDuration: 10 * time.Second}
	_, ok := DetectTimeForced(in, cfg)
	require.False(t, ok)
}

func TestDetectThetaBomb_FiresOnAcceleratingTheta(t *testing.T) {
	cfg := config.DefaultExitConfig()
	t0 := time.Now()
	in := Inputs{
		PrevGreeks: domain.GreeksSnapshot{Theta: -5, ComputedAt: t0},
		Greeks:     domain.GreeksSnapshot{Theta: -10, ComputedAt: t0.Add(time.Minute)},
	}
	s, ok := DetectThetaBomb(in, cfg)
	require.True(t, ok)
	require.Equal(t, domain.ExitThetaBomb, s.Kind)
}

func TestDetectThetaBomb_FiresOnIVCrush(t *testing.T) {
	cfg := config.DefaultExitConfig()
	in := Inputs{IVAtEntry: 0.30, Greeks: domain.GreeksSnapshot{IV: 0.25}}
	s, ok := DetectThetaBomb(in, cfg)
	require.True(t, ok)
	require.Equal(t, "iv_crush", s.Reason)
}

func TestDetectThetaBomb_NoFireWhenStable(t *testing.T) {
	cfg := config.DefaultExitConfig()
	t0 := time.Now()
	in := Inputs{
		PrevGreeks:   domain.GreeksSnapshot{Theta: -5, ComputedAt: t0},
		Greeks:       domain.GreeksSnapshot{Theta: -5.02, ComputedAt: t0.Add(time.Minute), IV: 0.25},
		IVAtEntry:    0.25,
		HoldDuration: time.Second,
	}
	_, ok := DetectThetaBomb(in, cfg)
	require.False(t, ok)
}

func TestDetectReversal_FiresWhenWeightedSumCrossesThreshold(t *testing.T) {
	cfg := config.DefaultExitConfig()
	in := Inputs{OIUnwindPct: 0.10, DominanceFlipped: true, OppositeSideOIBuildPct: 0.10}
	s, ok := DetectReversal(in, cfg)
	require.True(t, ok)
	require.Equal(t, domain.ExitReversal, s.Kind)
	require.GreaterOrEqual(t, s.Confidence, 0.75)
}

func TestDetectReversal_NoFireBelowThreshold(t *testing.T) {
	cfg := config.DefaultExitConfig()
	in := Inputs{OIUnwindPct: 0.10}
	_, ok := DetectReversal(in, cfg)
	require.False(t, ok)
}

func TestDetectExhaustion_FiresOnGammaCollapse(t *testing.T) {
	cfg := config.DefaultExitConfig()
	in := Inputs{GammaPeakSinceEntry: 0.10, Greeks: domain.GreeksSnapshot{Gamma: 0.03}}
	s, ok := DetectExhaustion(in, cfg)
	require.True(t, ok)
	require.Equal(t, "gamma_collapse", s.Reason)
}

func TestDetectExhaustion_FiresOnVolumeClimaxWithWeakDelta(t *testing.T) {
	cfg := config.DefaultExitConfig()
	t0 := time.Now()
	in := Inputs{
		VolumeNow: 300, VolumeRollingMean: 100,
		PrevGreeks: domain.GreeksSnapshot{Delta: 0.5, ComputedAt: t0},
		Greeks:     domain.GreeksSnapshot{Delta: 0.52, ComputedAt: t0.Add(time.Minute)},
	}
	s, ok := DetectExhaustion(in, cfg)
	require.True(t, ok)
	require.Equal(t, "volume_climax_weak_delta", s.Reason)
}

func TestDetectPartial_FiresOnceOnProfitWithGammaAndVolumeFlattening(t *testing.T) {
	cfg := config.DefaultExitConfig()
	entry := decimal.NewFromInt(100)
	in := Inputs{
		Trade:        baseTrade(entry),
		CurrentPrice: decimal.NewFromInt(102),
		PrevGreeks:   domain.GreeksSnapshot{Gamma: 0.08, ComputedAt: time.Now()},
		Greeks:       domain.GreeksSnapshot{Gamma: 0.05},
		VolumeRollingMean: 100, VolumeNow: 50,
	}
	s, ok := DetectPartial(in, cfg)
	require.True(t, ok)
	require.Equal(t, domain.ExitPartial, s.Kind)
	require.True(t, s.Qty.Equal(decimal.NewFromInt(30)))
}

func TestDetectPartial_SkippedWhenAlreadyDone(t *testing.T) {
	cfg := config.DefaultExitConfig()
	entry := decimal.NewFromInt(100)
	trade := baseTrade(entry)
	trade.PartialDone = true
	in := Inputs{
		Trade:        trade,
		CurrentPrice: decimal.NewFromInt(102),
		PrevGreeks:   domain.GreeksSnapshot{Gamma: 0.08, ComputedAt: time.Now()},
		Greeks:       domain.GreeksSnapshot{Gamma: 0.05},
		VolumeRollingMean: 100, VolumeNow: 50,
	}
	fired := Evaluate(in, cfg)
	for _, s := range fired {
		require.NotEqual(t, domain.ExitPartial, s.Kind)
	}
}

func TestDetectTrailingSL_FiresWhenPriceFallsThroughTrail(t *testing.T) {
	cfg := config.DefaultExitConfig()
	entry := decimal.NewFromInt(100)
	trade := baseTrade(entry)
	trade.Protective.TrailingSL = decimal.NewFromFloat(100.6) // ratcheted up from an earlier high
	in := Inputs{
		Trade:        trade,
		CurrentPrice: decimal.NewFromFloat(100.5), // 0.5% profit, at activation, pulled back under the ratcheted stop
		Greeks:       domain.GreeksSnapshot{Gamma: 0.05, Delta: 0.5},
	}
	s, ok := DetectTrailingSL(in, cfg)
	require.True(t, ok)
	require.Equal(t, domain.ExitTrailingSL, s.Kind)
}

func TestDetectTrailingSL_NoFireBelowActivation(t *testing.T) {
	cfg := config.DefaultExitConfig()
	entry := decimal.NewFromInt(100)
	in := Inputs{Trade: baseTrade(entry), CurrentPrice: decimal.NewFromInt(100)}
	_, ok := DetectTrailingSL(in, cfg)
	require.False(t, ok)
}

func TestDetectHardSL_FiresAtOrBelowInitialStop(t *testing.T) {
	cfg := config.DefaultExitConfig()
	trade := baseTrade(decimal.NewFromInt(100))
	trade.Protective.InitialSL = decimal.NewFromInt(98)
	in := Inputs{Trade: trade, CurrentPrice: decimal.NewFromInt(97)}
	s, ok := DetectHardSL(in, cfg)
	require.True(t, ok)
	require.Equal(t, domain.ExitHardSL, s.Kind)
}

func TestDetectHardSL_NoFireWithoutInitialStopSet(t *testing.T) {
	cfg := config.DefaultExitConfig()
	trade := baseTrade(decimal.NewFromInt(100))
	in := Inputs{Trade: trade, CurrentPrice: decimal.NewFromInt(1)}
	_, ok := DetectHardSL(in, cfg)
	require.False(t, ok)
}

func TestEvaluate_AlwaysIncludesNoActionFloor(t *testing.T) {
	cfg := config.DefaultExitConfig()
	in := Inputs{Trade: baseTrade(decimal.NewFromInt(100)), CurrentPrice: decimal.NewFromInt(100)}
	fired := Evaluate(in, cfg)
	require.NotEmpty(t, fired)
	require.Equal(t, domain.ExitNoAction, fired[len(fired)-1].Kind)
}
