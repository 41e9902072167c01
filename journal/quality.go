package journal

import (
	"optionscalp/domain"
)

// timingWeight ranks how much exit-kind discretion (vs. forced/defensive
// cutoffs) a Closed trade's final exit represents, highest-quality first.
var timingWeight = map[domain.ExitKind]float64{
	domain.ExitTrailingSL:   1.0, // a ratcheted stop locking in a favorable move
	domain.ExitExhaustion:   1.0, // read momentum fading and got out ahead of it
	domain.ExitReversal:     0.9,
	domain.ExitPartial:      0.8,
	domain.ExitThetaBomb:    0.5,
	domain.ExitTimeForced:   0.3, // the clock decided, not the signal
	domain.ExitForcedFlat:   0.2,
	domain.ExitHardSL:       0.1,
	domain.ExitForcedMarket: 0.1,
	domain.ExitNoAction:     0.0,
}

// QualityScore computes the 0-100 post-trade quality score for a Closed
// trade: profit (<=30), speed (<=20), risk management (<=20), IV management
// (<=10), and exit timing (<=20). A healthy scalp (S1's profitable
// EXHAUSTION-triggered exit with the hard stop never touched) scores well
// above the midpoint; a naked-risk or hard-stop exit scores near the floor.
func QualityScore(t domain.Trade) float64 {
	return profitComponent(t) + speedComponent(t) + riskMgmtComponent(t) + ivMgmtComponent(t) + timingComponent(t)
}

// profitComponent (0-30): scales linearly with return-on-notional, capped
// at a 5% move (aggressive but typical for a single scalp), floored at 0
// for a loss.
func profitComponent(t domain.Trade) float64 {
	notional := t.Entry.Price.Mul(t.Qty.Total)
	if notional.IsZero() {
		return 0
	}
	ret, _ := t.RealizedPnL.Div(notional).Float64()
	if ret <= 0 {
		return 0
	}
	const capReturn = 0.05
	if ret > capReturn {
		ret = capReturn
	}
	return 30 * (ret / capReturn)
}

// speedComponent (0-20): rewards a conclusive exit well inside the
// max-hold window; a trade that ran to (or past) the forced cutoff gets no
// credit regardless of outcome, since scalping discipline is about not
// overstaying a thesis.
func speedComponent(t domain.Trade) float64 {
	const maxHoldReference = 600 // seconds, matches config.ExitConfig.MaxHoldSeconds default
	held := holdDuration(t).Seconds()
	if held <= 0 {
		return 20
	}
	frac := 1 - held/maxHoldReference
	if frac < 0 {
		frac = 0
	}
	return 20 * frac
}

// riskMgmtComponent (0-20): full credit for never touching the hard stop
// and never going naked; partial credit for a partial exit having locked
// in some gain before the final close.
func riskMgmtComponent(t domain.Trade) float64 {
	score := 20.0
	if t.NakedRisk {
		score -= 15
	}
	hitHardSL := false
	tookPartial := false
	for _, ev := range t.Exits {
		if ev.Kind == domain.ExitHardSL {
			hitHardSL = true
		}
		if ev.Kind == domain.ExitPartial {
			tookPartial = true
		}
	}
	if hitHardSL {
		score -= 10
	}
	if !tookPartial && !hitHardSL {
		score -= 2 // no partial taken: fine, but not the textbook ladder either
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ivMgmtComponent (0-10): full credit unless the trade was ultimately
// caught by the theta/IV-crush detector, which signals premium decay was
// mismanaged (held through it rather than ahead of it).
func ivMgmtComponent(t domain.Trade) float64 {
	if lastExitKind(t) == domain.ExitThetaBomb {
		if t.RealizedPnL.IsPositive() {
			return 5
		}
		return 0
	}
	return 10
}

// timingComponent (0-20): the final exit kind's timingWeight scaled to the
// 20-point budget.
func timingComponent(t domain.Trade) float64 {
	w, ok := timingWeight[lastExitKind(t)]
	if !ok {
		w = 0
	}
	return 20 * w
}
