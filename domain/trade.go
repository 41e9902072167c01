package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of a Trade.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// TradeState is the Trade FSM state. Orchestrator-level states
// (PartialExitPending, PartialExitDone, ClosePending) sit between the
// spec's headline Open/PartialExit/Closed states to guard against duplicate
// emission while an order is in flight (§4.4).
type TradeState string

const (
	StatePending            TradeState = "PENDING"
	StateOpen               TradeState = "OPEN"
	StatePartialExitPending TradeState = "PARTIAL_EXIT_PENDING"
	StatePartialExitDone    TradeState = "PARTIAL_EXIT_DONE"
	StateClosePending       TradeState = "CLOSE_PENDING"
	StateClosed             TradeState = "CLOSED"
)

// transitions enumerates the only legal moves. Closed is terminal.
var transitions = map[TradeState]map[TradeState]bool{
	StatePending:            {StateOpen: true, StateClosed: true},
	StateOpen:               {StatePartialExitPending: true, StateClosePending: true, StateClosed: true},
	StatePartialExitPending: {StatePartialExitDone: true, StateClosePending: true},
	StatePartialExitDone:    {StateClosePending: true},
	StateClosePending:       {StateClosed: true},
	StateClosed:             {},
}

// TradeQty tracks total/exited/remaining quantity for a Trade.
type TradeQty struct {
	Total      decimal.Decimal
	Exited     decimal.Decimal
	Remaining  decimal.Decimal
}

// EntryContext captures the state of the world at entry, for journaling.
type EntryContext struct {
	At            time.Time
	Price         decimal.Decimal
	Greeks        GreeksSnapshot
	OI            int64
	BidPrice      decimal.Decimal
	AskPrice      decimal.Decimal
	PrecedingBarClose decimal.Decimal
}

// ProtectiveLevels are the active protective levels for an Open trade.
type ProtectiveLevels struct {
	InitialSL   decimal.Decimal
	TrailingSL  decimal.Decimal
	Targets     []decimal.Decimal
	TimeStop    time.Time
}

// ExitEvent is one append-only exit record (partial or final) on a Trade.
type ExitEvent struct {
	ID         uuid.UUID
	At         time.Time
	Kind       ExitKind
	Confidence float64
	Qty        decimal.Decimal
	Price      decimal.Decimal
	Reason     string
}

// ExitKind names the detector (or external cause) that produced an exit.
type ExitKind string

const (
	ExitTimeForced    ExitKind = "TIME_FORCED"
	ExitThetaBomb     ExitKind = "THETA_BOMB"
	ExitReversal      ExitKind = "REVERSAL"
	ExitExhaustion    ExitKind = "EXHAUSTION"
	ExitPartial       ExitKind = "PARTIAL_EXIT"
	ExitTrailingSL    ExitKind = "TRAILING_SL"
	ExitHardSL        ExitKind = "HARD_SL"
	ExitNoAction      ExitKind = "NO_ACTION"
	ExitForcedMarket  ExitKind = "FORCED_MARKET_EXIT"
	ExitForcedFlat    ExitKind = "FORCED_FLAT"
)

// Trade is the orchestrator's exclusive-ownership record of one position
// while Open, and the immutable record of it once Closed.
type Trade struct {
	ID          uuid.UUID
	Instrument  Instrument
	Side        Side
	Qty         TradeQty
	Entry       EntryContext
	Protective  ProtectiveLevels
	Exits       []ExitEvent
	RealizedPnL decimal.Decimal
	State       TradeState
	NakedRisk   bool
	PartialDone bool // detector 5 disabled after this is true
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Apply validates and performs a state transition. It never mutates state
// on a rejected transition, and an event applied to a Closed trade is
// always rejected (§5 ordering guarantee: "no event may be applied to a
// Closed trade").
func (t *Trade) Apply(next TradeState) error {
	allowed, known := transitions[t.State]
	if !known {
		return fmt.Errorf("trade %s: unknown current state %q", t.ID, t.State)
	}
	if t.State == StateClosed {
		return fmt.Errorf("trade %s: cannot apply %q to a Closed trade", t.ID, next)
	}
	if !allowed[next] {
		return fmt.Errorf("trade %s: illegal transition %q -> %q", t.ID, t.State, next)
	}
	t.State = next
	if next == StateClosed {
		t.ClosedAt = t.Entry.At // overwritten by caller with the real close time
	}
	return nil
}

// AddExit appends an ExitEvent and updates Qty bookkeeping. It does not
// change State; callers drive the FSM explicitly via Apply.
func (t *Trade) AddExit(ev ExitEvent) {
	t.Exits = append(t.Exits, ev)
	t.Qty.Exited = t.Qty.Exited.Add(ev.Qty)
	t.Qty.Remaining = t.Qty.Total.Sub(t.Qty.Exited)
}

// ExitedQty sums all recorded exit quantities.
func (t Trade) ExitedQty() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range t.Exits {
		sum = sum.Add(e.Qty)
	}
	return sum
}
