package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Leg is one side (CE or PE) of an OptionRow: the last tick seen plus its
// most recent computed Greeks.
type Leg struct {
	Tick      Tick
	Greeks    GreeksSnapshot
	Degraded  bool // spread too wide or zero LTP; chain normalization sets this
}

// OptionRow pairs the CE and PE legs at one strike. Either leg may be nil if
// that side isn't quoted.
type OptionRow struct {
	Strike int
	CE     *Leg
	PE     *Leg
}

// Chain is one normalized, ordered view of an underlying's option chain for
// a single expiry. Strikes must be strictly increasing; at most one Chain
// per (Underlying, Expiry) is considered active by the orchestrator at a
// time (enforced by the caller, not this type).
type Chain struct {
	Underlying   string
	Expiry       time.Time
	Rows         []OptionRow
	Spot         decimal.Decimal
	ATMStrike    int
	TimeToExpiry time.Duration
	ObservedAt   time.Time
}

// Validate checks the strictly-increasing-strikes invariant.
func (c Chain) Validate() error {
	for i := 1; i < len(c.Rows); i++ {
		if c.Rows[i].Strike <= c.Rows[i-1].Strike {
			return fmt.Errorf("chain %s/%s: strikes not strictly increasing at index %d (%d <= %d)",
				c.Underlying, c.Expiry.Format("2006-01-02"), i, c.Rows[i].Strike, c.Rows[i-1].Strike)
		}
	}
	return nil
}

// RowAt returns the OptionRow for a strike, or ok=false if absent.
func (c Chain) RowAt(strike int) (OptionRow, bool) {
	for _, r := range c.Rows {
		if r.Strike == strike {
			return r, true
		}
	}
	return OptionRow{}, false
}

// ATMIndex returns the index into Rows of the ATM strike, or -1.
func (c Chain) ATMIndex() int {
	for i, r := range c.Rows {
		if r.Strike == c.ATMStrike {
			return i
		}
	}
	return -1
}

// ChainUpdate is the feed event wrapping a freshly observed Chain.
type ChainUpdate struct {
	Chain Chain
}
