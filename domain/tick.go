package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one market-data update for an instrument. Mono is the monotonic
// clock reading at receipt, used to enforce per-instrument ordering; Wall is
// the corresponding wall-clock time, used for session-window and freshness
// checks. Per-instrument Mono must be non-decreasing — callers that append
// a Tick out of order should drop it rather than let it through.
type Tick struct {
	Mono     time.Duration
	Wall     time.Time
	LTP      decimal.Decimal
	BidPrice decimal.Decimal
	AskPrice decimal.Decimal
	BidSize  int64
	AskSize  int64
	Volume   int64
	OI       int64

	// BrokerIV and BrokerIVAt carry a broker-quoted implied volatility, when
	// the feed adapter's Decoder populates one (tier 1 of the §4.1 IV-source
	// priority chain). BrokerIVAt is the wall time the broker computed it,
	// zero if the feed never supplies broker IV.
	BrokerIV   float64
	BrokerIVAt time.Time
}

// Age returns how long ago this tick's wall time was, relative to now.
func (t Tick) Age(now time.Time) time.Duration {
	return now.Sub(t.Wall)
}

// MidPrice is the simple bid/ask midpoint. Zero if either side is zero.
func (t Tick) MidPrice() decimal.Decimal {
	if t.BidPrice.IsZero() || t.AskPrice.IsZero() {
		return decimal.Zero
	}
	return t.BidPrice.Add(t.AskPrice).Div(decimal.NewFromInt(2))
}

// SpreadPct returns (ask-bid)/mid, or 1 (maximally wide) if mid is zero.
func (t Tick) SpreadPct() decimal.Decimal {
	mid := t.MidPrice()
	if mid.IsZero() {
		return decimal.NewFromInt(1)
	}
	return t.AskPrice.Sub(t.BidPrice).Div(mid).Abs()
}
