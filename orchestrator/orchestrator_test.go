package orchestrator

import (
	"bytes"
	"context"
	"testing"
	"time"

	"optionscalp/adaptive"
	"optionscalp/broker"
	"optionscalp/clock"
	"optionscalp/config"
	"optionscalp/domain"
	"optionscalp/journal"
	"optionscalp/risk"
	"optionscalp/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeBroker is a minimal broker.Broker double: PlaceOrder always succeeds
// unless failNext is set, and every call is recorded for assertions.
type fakeBroker struct {
	failNext bool
	orders   []broker.OrderRequest
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderID, error) {
	f.orders = append(f.orders, req)
	if f.failNext {
		f.failNext = false
		return "", context.DeadlineExceeded
	}
	return broker.OrderID(uuid.New().String()), nil
}
func (f *fakeBroker) ModifyOrder(ctx context.Context, id broker.OrderID, newPrice decimal.Decimal) error {
	return nil
}
func (f *fakeBroker) CancelOrder(ctx context.Context, id broker.OrderID) error { return nil }
func (f *fakeBroker) GetLTP(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeBroker) GetPositions(ctx context.Context) ([]broker.Position, error) { return nil, nil }
func (f *fakeBroker) GetRMSLimits(ctx context.Context) (broker.RMSLimits, error) {
	return broker.RMSLimits{}, nil
}

// fakeFeed is an idle feed.Feed double: its channels never deliver, so Run
// only reacts to cancellation, Stop, and the housekeeping ticker.
type fakeFeed struct{}

func (fakeFeed) Ticks() <-chan domain.Tick         { return nil }
func (fakeFeed) Chains() <-chan domain.ChainUpdate { return nil }
func (fakeFeed) OnFeedDown(func())                 {}
func (fakeFeed) OnFeedUp(func())                   {}
func (fakeFeed) Close() error                      { return nil }

func testLoop(t *testing.T, clk clock.Clock, b broker.Broker) (*Loop, *journal.Journal) {
	t.Helper()
	cfg := config.Default()
	sink, err := store.NewSQLiteSink(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, sink.Close()) })
	var logBuf bytes.Buffer
	j := journal.New(sink, &logBuf)
	rm := risk.NewManager(cfg.Risk, clk, decimal.NewFromInt(100000), nil)
	ac := adaptive.NewController(cfg.Adaptive, clk)

	l := NewLoop(Deps{
		Underlying: "NIFTY",
		Cfg:        cfg,
		Clock:      clk,
		Broker:     b,
		Feed:       fakeFeed{},
		Risk:       rm,
		Adaptive:   ac,
		Journal:    j,
		Sink:       sink,
		Housekeep:  time.Hour, // disable housekeeping ticks firing mid-test
	})
	return l, j
}

func baseOpenTrade(entryPrice, hardSL decimal.Decimal, openedAt time.Time) domain.Trade {
	return domain.Trade{
		ID:         uuid.New(),
		Instrument: domain.Instrument{Underlying: "NIFTY", Expiry: openedAt.Add(24 * time.Hour), Strike: 20000, Type: domain.CE},
		Side:       domain.Long,
		Qty:        domain.TradeQty{Total: decimal.NewFromInt(50), Remaining: decimal.NewFromInt(50)},
		Entry:      domain.EntryContext{At: openedAt, Price: entryPrice},
		Protective: domain.ProtectiveLevels{InitialSL: hardSL},
		State:      domain.StateOpen,
		OpenedAt:   openedAt,
	}
}

func chainWithLTP(strike int, ltp decimal.Decimal) domain.Chain {
	return domain.Chain{
		Underlying: "NIFTY",
		ATMStrike:  strike,
		Rows: []domain.OptionRow{
			{Strike: strike, CE: &domain.Leg{Tick: domain.Tick{LTP: ltp, Volume: 100, OI: 100000}}},
		},
	}
}

func TestLoop_EvaluateExits_HardSLClosesTradeAndReleasesRisk(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, clock.IST)
	clk := clock.NewFixedClock(now)
	b := &fakeBroker{}
	l, j := testLoop(t, clk, b)

	trade := baseOpenTrade(decimal.NewFromInt(100), decimal.NewFromInt(98), now.Add(-30*time.Second))
	l.openTrade = &trade
	l.track = newPositionTracking(domain.GreeksSnapshot{}, 0, 100000, 100000)
	l.risk.MarkEntered("NIFTY")
	l.lastTickAt = now // fresh feed, so the stale-feed force-flat does not pre-empt the hard stop

	chain := chainWithLTP(20000, decimal.NewFromInt(95)) // below the 98 hard stop
	l.evaluateExits(context.Background(), now, chain)

	require.Nil(t, l.openTrade, "hard stop should have closed and cleared the open position")
	require.Len(t, b.orders, 1, "exactly one close order should have been placed")
	require.Equal(t, domain.Short, b.orders[0].Side, "closing a long CE exits via a SHORT order")
	_ = j
}

func TestLoop_EvaluateExits_ForcesFlatAfter31SecondsOfStaleFeed(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, clock.IST)
	clk := clock.NewFixedClock(now)
	b := &fakeBroker{}
	l, _ := testLoop(t, clk, b)

	trade := baseOpenTrade(decimal.NewFromInt(100), decimal.NewFromInt(98), now.Add(-5*time.Minute))
	l.openTrade = &trade
	l.track = newPositionTracking(domain.GreeksSnapshot{}, 0, 100000, 100000)
	l.risk.MarkEntered("NIFTY")
	l.lastTickAt = now.Add(-31 * time.Second) // past the 30s ForceFlatAfterStale default

	chain := chainWithLTP(20000, decimal.NewFromInt(100)) // at entry price: no other detector would fire
	l.evaluateExits(context.Background(), now, chain)

	require.Nil(t, l.openTrade, "a trade open past the staleness threshold must be force-flattened")
	require.Len(t, b.orders, 1)
	require.Equal(t, domain.ExitForcedFlat, trade.Exits[0].Kind)
}

func TestLoop_EvaluateExits_NoForcedFlatBeforeStalenessThreshold(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, clock.IST)
	clk := clock.NewFixedClock(now)
	b := &fakeBroker{}
	l, _ := testLoop(t, clk, b)

	trade := baseOpenTrade(decimal.NewFromInt(100), decimal.NewFromInt(98), now.Add(-5*time.Minute))
	l.openTrade = &trade
	l.track = newPositionTracking(domain.GreeksSnapshot{}, 0, 100000, 100000)
	l.risk.MarkEntered("NIFTY")
	l.lastTickAt = now.Add(-29 * time.Second) // under the 30s threshold

	chain := chainWithLTP(20000, decimal.NewFromInt(100))
	l.evaluateExits(context.Background(), now, chain)

	require.NotNil(t, l.openTrade, "a feed that is merely quiet, not stale, must not force-flatten")
	require.Empty(t, b.orders)
}

func TestLoop_FlattenOnShutdown_ClosesOpenPositionAtLastKnownPrice(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFixedClock(now)
	b := &fakeBroker{}
	l, _ := testLoop(t, clk, b)

	trade := baseOpenTrade(decimal.NewFromInt(100), decimal.NewFromInt(98), now.Add(-time.Minute))
	l.openTrade = &trade
	l.track = newPositionTracking(domain.GreeksSnapshot{}, 0, 100000, 100000)
	l.lastChain = chainWithLTP(20000, decimal.NewFromInt(103))
	l.risk.MarkEntered("NIFTY")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	require.Nil(t, l.openTrade, "shutdown must flatten any open position")
	require.Len(t, b.orders, 1)
	require.Equal(t, decimal.NewFromInt(103), b.orders[0].Price, "flatten should close at the last known chain price")
}

func TestLoop_Stop_IsIdempotentAndWaitsForShutdown(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFixedClock(now)
	b := &fakeBroker{}
	l, _ := testLoop(t, clk, b)

	ctx := context.Background()
	go func() { _ = l.Run(ctx) }()
	l.Stop()
	require.NotPanics(t, func() { l.Stop() }, "calling Stop twice must not panic or deadlock")
}

func TestEvaluateSession_Boundaries(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	day := func(hh, mm int) time.Time {
		return time.Date(2026, 7, 31, hh, mm, 0, 0, clock.IST)
	}

	cases := []struct {
		name           string
		at             time.Time
		wantMarketOK   bool
		wantNoNew      bool
		wantLunch      bool
		wantPastCutoff bool
	}{
		{"before open", day(9, 0), false, false, false, false},
		{"just after open", day(9, 16), true, false, false, false},
		{"mid morning", day(10, 30), true, false, false, false},
		{"lunch lockout start", day(11, 30), true, false, true, false},
		{"lunch lockout end boundary excluded", day(13, 0), true, false, false, false},
		{"no new entries cutoff", day(15, 0), true, true, false, false},
		{"forced flat cutoff", day(15, 15), true, true, false, true},
		{"after close", day(15, 30), false, true, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := EvaluateSession(tc.at, cfg)
			require.NoError(t, err)
			require.Equal(t, tc.wantMarketOK, w.WithinMarketHours, "WithinMarketHours")
			require.Equal(t, tc.wantNoNew, w.NoNewEntries, "NoNewEntries")
			require.Equal(t, tc.wantLunch, w.ApproachingLunchLockout, "ApproachingLunchLockout")
			require.Equal(t, tc.wantPastCutoff, w.PastForcedFlatCutoff, "PastForcedFlatCutoff")
		})
	}

	require.True(t, func() bool { w, _ := EvaluateSession(day(10, 0), cfg); return w.SessionOK() }())
	require.False(t, func() bool { w, _ := EvaluateSession(day(11, 45), cfg); return w.SessionOK() }(), "inside lunch lockout, no entries")
	require.False(t, func() bool { w, _ := EvaluateSession(day(15, 5), cfg); return w.SessionOK() }(), "past no-new-entries cutoff")
}

func TestEvaluateSession_InvalidConfigReturnsError(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	cfg.MarketOpen = "not-a-time"
	_, err := EvaluateSession(time.Now(), cfg)
	require.Error(t, err)
}

func TestBucketFor_DerivesFromLiveChainAndBias(t *testing.T) {
	sessCfg := config.DefaultSessionConfig()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, clock.IST)
	bs := domain.BiasState{Direction: domain.Bullish, Strength: 0.8, Confidence: domain.ConfidenceStrong, Factors: domain.BiasFactors{OI: 0.85}}
	chain := domain.Chain{
		ATMStrike: 20000,
		Rows: []domain.OptionRow{
			{Strike: 20000, CE: &domain.Leg{Greeks: domain.GreeksSnapshot{Gamma: 0.08, Theta: -0.2, IV: 0.28}}},
		},
	}

	b := bucketFor(now, sessCfg, bs, chain)
	require.Equal(t, domain.TODMorning, b.TimeOfDay)
	require.Equal(t, domain.StrengthHigh, b.BiasStrength)
	require.Equal(t, domain.RegimeHighGamma, b.GreeksRegime)
	require.Equal(t, domain.OIStrong, b.OIConviction)
	require.Equal(t, domain.FeatureVolNormal, b.Volatility)
}

func TestBucketFromTrade_RebuildsFromEntrySnapshot(t *testing.T) {
	sessCfg := config.DefaultSessionConfig()
	openedAt := time.Date(2026, 7, 31, 14, 0, 0, 0, clock.IST)
	trade := domain.Trade{
		OpenedAt: openedAt,
		Entry: domain.EntryContext{
			Greeks: domain.GreeksSnapshot{Gamma: 0.01, Theta: -0.8, IV: 0.5},
			OI:     600000,
		},
	}

	b := bucketFromTrade(trade, openedAt.Add(5*time.Minute), sessCfg)
	require.Equal(t, domain.TODAfternoon, b.TimeOfDay)
	require.Equal(t, domain.StrengthMed, b.BiasStrength, "bias strength at entry is not retained on Trade; MED is the documented neutral default")
	require.Equal(t, domain.RegimeHighTheta, b.GreeksRegime)
	require.Equal(t, domain.OIStrong, b.OIConviction)
	require.Equal(t, domain.FeatureVolHigh, b.Volatility)
}
