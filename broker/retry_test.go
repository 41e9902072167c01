package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"optionscalp/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	placeResults []error // consumed in order, one per PlaceOrder call
	calls        int
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req OrderRequest) (OrderID, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.placeResults) {
		return "", errors.New("no more scripted results")
	}
	if f.placeResults[idx] != nil {
		return "", f.placeResults[idx]
	}
	return OrderID("ord-" + string(rune('A'+idx))), nil
}
func (f *fakeBroker) ModifyOrder(ctx context.Context, id OrderID, newPrice decimal.Decimal) error {
	return nil
}
func (f *fakeBroker) CancelOrder(ctx context.Context, id OrderID) error { return nil }
func (f *fakeBroker) GetLTP(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeBroker) GetPositions(ctx context.Context) ([]Position, error) { return nil, nil }
func (f *fakeBroker) GetRMSLimits(ctx context.Context) (RMSLimits, error)  { return RMSLimits{}, nil }

func testReq() OrderRequest {
	return OrderRequest{
		Instrument: domain.Instrument{Underlying: "NIFTY", Strike: 24500, Type: domain.CE},
		Side:       domain.Long,
		Qty:        decimal.NewFromInt(50),
		Price:      decimal.NewFromInt(100),
	}
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestWithRetry_ReturnsLastErrorAfterExhaustingAttempts(t *testing.T) {
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		return errors.New("permanent")
	})
	require.EqualError(t, err, "permanent")
}

func TestCloseWithEscalation_SucceedsOnFirstAttempt(t *testing.T) {
	fb := &fakeBroker{placeResults: []error{nil}}
	res := CloseWithEscalation(context.Background(), fb, testReq(), time.Millisecond)
	require.False(t, res.Escalated)
	require.False(t, res.NakedRisk)
	require.Equal(t, 1, fb.calls)
}

func TestCloseWithEscalation_SucceedsOnRetry(t *testing.T) {
	fb := &fakeBroker{placeResults: []error{errors.New("fail"), nil}}
	res := CloseWithEscalation(context.Background(), fb, testReq(), time.Millisecond)
	require.False(t, res.Escalated)
	require.False(t, res.NakedRisk)
	require.Equal(t, 2, fb.calls)
}

func TestCloseWithEscalation_EscalatesToForcedMarketOrder(t *testing.T) {
	fb := &fakeBroker{placeResults: []error{errors.New("fail"), errors.New("fail again"), nil}}
	res := CloseWithEscalation(context.Background(), fb, testReq(), time.Millisecond)
	require.True(t, res.Escalated)
	require.False(t, res.NakedRisk)
	require.Equal(t, 3, fb.calls)
}

func TestCloseWithEscalation_NakedRiskWhenEverythingFails(t *testing.T) {
	fb := &fakeBroker{placeResults: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	res := CloseWithEscalation(context.Background(), fb, testReq(), time.Millisecond)
	require.True(t, res.Escalated)
	require.True(t, res.NakedRisk)
}
