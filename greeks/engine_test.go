package greeks

import (
	"testing"
	"time"

	"optionscalp/config"
	"optionscalp/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func buildTestChain(spot int, ltpCE, ltpPE string, now time.Time) domain.Chain {
	strikes := []int{spot - 100, spot - 50, spot, spot + 50, spot + 100}
	rows := make([]domain.OptionRow, len(strikes))
	for i, k := range strikes {
		rows[i] = domain.OptionRow{
			Strike: k,
			CE: &domain.Leg{Tick: domain.Tick{
				Wall: now, LTP: decimal.RequireFromString(ltpCE),
				BidPrice: decimal.RequireFromString(ltpCE), AskPrice: decimal.RequireFromString(ltpCE),
				OI: 1000,
			}},
			PE: &domain.Leg{Tick: domain.Tick{
				Wall: now, LTP: decimal.RequireFromString(ltpPE),
				BidPrice: decimal.RequireFromString(ltpPE), AskPrice: decimal.RequireFromString(ltpPE),
				OI: 1000,
			}},
		}
	}
	return domain.Chain{
		Underlying:   "NIFTY",
		Expiry:       now.AddDate(0, 0, 7),
		Rows:         rows,
		Spot:         decimal.NewFromInt(int64(spot)),
		ATMStrike:    spot,
		TimeToExpiry: 7 * 24 * time.Hour,
		ObservedAt:   now,
	}
}

func TestEngine_UpdateChain_UsesFreshBrokerIVOverBSInversion(t *testing.T) {
	cfg := config.DefaultGreeksConfig()
	eng := NewEngine(cfg)
	now := time.Now()

	chain := buildTestChain(20000, "120", "110", now)
	chain.Rows[2].CE.Tick.BrokerIV = 0.22
	chain.Rows[2].CE.Tick.BrokerIVAt = now

	updated, _, err := eng.UpdateChain(chain, now)
	require.NoError(t, err)
	require.Equal(t, domain.IVSourceBroker, updated.Rows[2].CE.Greeks.Source)
	require.InDelta(t, 0.22, updated.Rows[2].CE.Greeks.IV, 1e-9)
}

func TestEngine_UpdateChain_FallsBackPastStaleBrokerIV(t *testing.T) {
	cfg := config.DefaultGreeksConfig()
	eng := NewEngine(cfg)
	now := time.Now()

	chain := buildTestChain(20000, "120", "110", now)
	chain.Rows[2].CE.Tick.BrokerIV = 0.22
	chain.Rows[2].CE.Tick.BrokerIVAt = now.Add(-cfg.BrokerIVMinAge - time.Second)

	updated, _, err := eng.UpdateChain(chain, now)
	require.NoError(t, err)
	require.NotEqual(t, domain.IVSourceBroker, updated.Rows[2].CE.Greeks.Source, "a broker IV older than BrokerIVMinAge must not be trusted")
}

func TestEngine_UpdateChain_ProducesHealthySnapshotsAndAggregate(t *testing.T) {
	cfg := config.DefaultGreeksConfig()
	eng := NewEngine(cfg)
	now := time.Now()

	chain := buildTestChain(20000, "120", "110", now)
	// Five strikes fall below the eight-valid-strike floor for HEALTHY; add
	// five more above the fixture's top strike.
	chain.Rows = append(chain.Rows, buildTestChain(20250, "120", "110", now).Rows...)
	updated, agg, err := eng.UpdateChain(chain, now)
	require.NoError(t, err)

	for _, row := range updated.Rows {
		require.LessOrEqual(t, row.CE.Greeks.Delta, 1.0)
		require.GreaterOrEqual(t, row.CE.Greeks.Gamma, 0.0)
		require.LessOrEqual(t, row.CE.Greeks.Theta, 1e-9)
		require.GreaterOrEqual(t, row.CE.Greeks.IV, 0.01)
		require.LessOrEqual(t, row.CE.Greeks.IV, 3.0)
	}
	require.Equal(t, domain.HealthHealthy, agg.Health)
	require.True(t, agg.IsTradeable)
}

func TestEngine_UpdateChain_RejectsNonIncreasingStrikes(t *testing.T) {
	cfg := config.DefaultGreeksConfig()
	eng := NewEngine(cfg)
	now := time.Now()
	chain := buildTestChain(20000, "120", "110", now)
	chain.Rows[1].Strike = chain.Rows[0].Strike

	_, _, err := eng.UpdateChain(chain, now)
	require.Error(t, err)
}

func TestEngine_FakeMoveLock_BlocksAggregateTradeability(t *testing.T) {
	cfg := config.DefaultGreeksConfig()
	eng := NewEngine(cfg)
	now := time.Now()

	chain := buildTestChain(20000, "200", "110", now)
	_, _, err := eng.UpdateChain(chain, now)
	require.NoError(t, err)

	later := now.Add(500 * time.Millisecond)
	chain2 := buildTestChain(20000, "160", "110", later)
	// ATM CE premium 200 -> 160 lowers its IV, which raises this call's delta
	// (about 0.66 -> 0.74), while OI drops 1000 -> 500 -> fake move on ATM CE.
	chain2.Rows[2].CE.Tick.OI = 500
	_, agg2, err := eng.UpdateChain(chain2, later)
	require.NoError(t, err)
	require.True(t, eng.IsLocked(legKey(domain.CE, 20000), later))
	require.False(t, agg2.IsTradeable)
}
