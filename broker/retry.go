package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// WithRetry retries fn up to maxAttempts times with linearly increasing
// backoff ((attempt+1)*base), grounded in
// other_examples/.../trading_engine.go's krakenPrivateWithRetry, generalized
// from one Kraken-specific call site to any broker call.
func WithRetry(ctx context.Context, maxAttempts int, base time.Duration, fn func() error) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-time.After(time.Duration(i+1) * base):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// ExitResult reports how CloseWithEscalation ultimately resolved a close
// attempt.
type ExitResult struct {
	OrderID   OrderID
	Escalated bool // the primary order failed and a forced market order was used instead
	NakedRisk bool // even the forced market order failed; the position is unmanaged
}

// CloseWithEscalation implements the exit orchestrator's failure-escalation
// path (§4.4): retry the close once after retryWindow, then escalate to a
// forced market order (price zeroed), and if that also fails report
// NakedRisk so the orchestrator halts automated handling of this trade and
// surfaces it for manual intervention.
func CloseWithEscalation(ctx context.Context, b Broker, req OrderRequest, retryWindow time.Duration) ExitResult {
	if id, err := b.PlaceOrder(ctx, req); err == nil {
		return ExitResult{OrderID: id}
	}

	select {
	case <-time.After(retryWindow):
	case <-ctx.Done():
		return ExitResult{NakedRisk: true}
	}

	if id, err := b.PlaceOrder(ctx, req); err == nil {
		return ExitResult{OrderID: id}
	}

	forced := req
	forced.Price = decimal.Zero
	if id, err := b.PlaceOrder(ctx, forced); err == nil {
		return ExitResult{OrderID: id, Escalated: true}
	}

	return ExitResult{Escalated: true, NakedRisk: true}
}
