package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTradeFSM_HappyPath(t *testing.T) {
	tr := &Trade{ID: uuid.New(), State: StatePending, Qty: TradeQty{Total: decimal.NewFromInt(50)}}

	require.NoError(t, tr.Apply(StateOpen))
	require.NoError(t, tr.Apply(StatePartialExitPending))
	require.NoError(t, tr.Apply(StatePartialExitDone))
	require.NoError(t, tr.Apply(StateClosePending))
	require.NoError(t, tr.Apply(StateClosed))
}

func TestTradeFSM_RejectsEventsAfterClosed(t *testing.T) {
	tr := &Trade{ID: uuid.New(), State: StateClosed}

	err := tr.Apply(StateOpen)
	require.Error(t, err)
	require.Equal(t, StateClosed, tr.State)
}

func TestTradeFSM_RejectsIllegalSkip(t *testing.T) {
	tr := &Trade{ID: uuid.New(), State: StatePending}

	err := tr.Apply(StatePartialExitPending)
	require.Error(t, err)
	require.Equal(t, StatePending, tr.State)
}

func TestTrade_AddExitUpdatesRemaining(t *testing.T) {
	tr := &Trade{
		ID:  uuid.New(),
		Qty: TradeQty{Total: decimal.NewFromInt(100), Remaining: decimal.NewFromInt(100)},
	}

	tr.AddExit(ExitEvent{Qty: decimal.NewFromInt(60), Kind: ExitPartial})
	require.True(t, tr.Qty.Exited.Equal(decimal.NewFromInt(60)))
	require.True(t, tr.Qty.Remaining.Equal(decimal.NewFromInt(40)))

	tr.AddExit(ExitEvent{Qty: decimal.NewFromInt(40), Kind: ExitHardSL})
	require.True(t, tr.Qty.Remaining.IsZero())
	require.True(t, tr.ExitedQty().Equal(decimal.NewFromInt(100)))
}

func TestBucketPerformance_Record(t *testing.T) {
	var bp BucketPerformance
	bp.Record(decimal.NewFromInt(100), time.Now())
	bp.Record(decimal.NewFromInt(-50), time.Now())

	require.Equal(t, 2, bp.Count)
	require.Equal(t, 1, bp.Wins)
	require.InDelta(t, 0.5, bp.WinRate, 1e-9)
	require.True(t, bp.TotalPnL.Equal(decimal.NewFromInt(50)))
}
