// Package entry proposes at most one entry decision per tick per
// underlying, subject to the eight ordered quality gates of §4.3.
package entry

import (
	"time"

	"optionscalp/config"
	"optionscalp/domain"

	"github.com/shopspring/decimal"
)

// Reason names the gate that rejected an entry, or "" on success.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonStaleData        Reason = "stale_data"
	ReasonHealthUntradeable Reason = "health_untradeable"
	ReasonSessionWindow    Reason = "session_window"
	ReasonBiasUnconfirmed  Reason = "bias_unconfirmed"
	ReasonAdaptiveBlock    Reason = "adaptive_block"
	ReasonRiskCapacity     Reason = "risk_capacity"
	ReasonFakeMoveLock     Reason = "fake_move"
	ReasonStructuralSpread Reason = "structural_spread"
	ReasonNoEligibleStrike Reason = "no_eligible_strike"
	ReasonQualityScore     Reason = "quality_score"
)

// AdaptiveGate is the subset of the adaptive controller's decision surface
// the entry engine consumes (§4.6 "Outputs consumed"). The adaptive package
// implements this; entry never imports adaptive's internals.
type AdaptiveGate interface {
	Allow(underlying string, bucket domain.FeatureBucket) (allow bool, reason string, sizeMultiplier float64)
}

// RiskGate is the subset of the risk layer's decision surface the entry
// engine consumes (§4.5). The risk package implements this.
type RiskGate interface {
	HasCapacity(underlying string) (ok bool, reason string)
	Size(underlying string, iv float64) decimal.Decimal
}

// Context is everything the entry engine needs to evaluate the gates for
// one underlying at one tick.
type Context struct {
	Now              time.Time
	Underlying       string
	LastTickAt       time.Time
	Health           domain.HealthStatus
	Bias             domain.BiasState
	Chain            domain.Chain
	FakeMoveLocked   func(instrumentKey string) bool
	Bucket           domain.FeatureBucket
	SessionOK        bool // computed by caller from config.SessionConfig + clock; see SPEC_FULL §6.3
}

// Decision is the outcome of Decide.
type Decision struct {
	Intent *Intent
	Reason Reason
}

// Intent is the entry engine's proposal, handed to the orchestrator for
// order placement. SuggestedQty always comes from risk.Size, never
// computed locally.
type Intent struct {
	Instrument   domain.Instrument
	Side         domain.Side
	SuggestedQty decimal.Decimal
	QualityScore float64
}

// Decide runs the eight ordered gates and returns the first failure, or a
// successful Intent if every gate passes.
func Decide(ctx Context, cfg config.EntryConfig, adaptive AdaptiveGate, risk RiskGate) Decision {
	// Gate 1: freshness.
	if ctx.Now.Sub(ctx.LastTickAt) >= cfg.MaxTickAge {
		return Decision{Reason: ReasonStaleData}
	}
	if !ctx.Health.Tradeable() {
		return Decision{Reason: ReasonHealthUntradeable}
	}

	// Gate 2: session window (computed by caller; see Context.SessionOK doc).
	if !ctx.SessionOK {
		return Decision{Reason: ReasonSessionWindow}
	}

	// Gate 3: bias confirmation.
	if ctx.Bias.Direction == domain.Neutral || ctx.Bias.Confidence == domain.ConfidenceWeak {
		return Decision{Reason: ReasonBiasUnconfirmed}
	}

	// Gate 4: adaptive pre-gate.
	allow, _, _ := adaptive.Allow(ctx.Underlying, ctx.Bucket)
	if !allow {
		return Decision{Reason: ReasonAdaptiveBlock}
	}

	// Gate 5: risk pre-gate.
	if ok, _ := risk.HasCapacity(ctx.Underlying); !ok {
		return Decision{Reason: ReasonRiskCapacity}
	}

	// Gate 6: structural — candidate strike (ATM, refined below) must not be
	// fake-move locked, and its spread must be within threshold.
	atmIdx := ctx.Chain.ATMIndex()
	if atmIdx < 0 {
		return Decision{Reason: ReasonNoEligibleStrike}
	}

	side := domain.CE
	if ctx.Bias.Direction == domain.Bearish {
		side = domain.PE
	}

	// Gate 7: strike selection.
	strike, leg, ok := SelectStrike(ctx.Chain, side, cfg)
	if !ok {
		return Decision{Reason: ReasonNoEligibleStrike}
	}
	inst := domain.Instrument{Underlying: ctx.Underlying, Expiry: ctx.Chain.Expiry, Strike: strike, Type: side}
	if ctx.FakeMoveLocked != nil && ctx.FakeMoveLocked(inst.Key()) {
		return Decision{Reason: ReasonFakeMoveLock}
	}
	if spreadF, _ := leg.Tick.SpreadPct().Float64(); spreadF > cfg.MaxCandidateSpreadPct {
		return Decision{Reason: ReasonStructuralSpread}
	}

	// Gate 8: entry quality score.
	quality := QualityScore(ctx.Bias, leg.Greeks, leg.Tick)
	if quality < cfg.QualityThreshold {
		return Decision{Reason: ReasonQualityScore}
	}

	qty := risk.Size(ctx.Underlying, leg.Greeks.IV)
	tradeSide := domain.Long // options scalping here only ever buys premium (CE or PE), never writes
	return Decision{Intent: &Intent{Instrument: inst, Side: tradeSide, SuggestedQty: qty, QualityScore: quality}}
}
