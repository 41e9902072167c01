package bias

import (
	"math"

	"optionscalp/config"
	"optionscalp/domain"

	"github.com/shopspring/decimal"
)

// Tracker is the single-writer bias engine for one underlying. It keeps the
// rolling OI-skew and spot-return history the four factors need, plus the
// hysteresis confirmation counters from §4.2.
type Tracker struct {
	cfg config.BiasConfig

	oiSkewHistory   []float64 // Σ OI_PE_below_ATM - Σ OI_CE_above_ATM, most recent last
	spotHistory     []float64
	pendingDir      domain.BiasDirection
	pendingCount    int
	current         domain.BiasState
}

// NewTracker constructs a bias Tracker starting in NEUTRAL.
func NewTracker(cfg config.BiasConfig) *Tracker {
	return &Tracker{
		cfg:     cfg,
		current: domain.BiasState{Direction: domain.Neutral, Confidence: domain.ConfidenceWeak},
	}
}

// Update computes the next BiasState from a normalized chain and the
// Greeks engine's aggregate direction_bias, applying the factor blend and
// hysteresis rules from §4.2.
func (tr *Tracker) Update(chain domain.Chain, greeksDirectionBias float64) domain.BiasState {
	oiFactor := tr.oiFactor(chain)
	volFactor := tr.volumeFactor(chain)
	priceFactor := tr.priceActionFactor(chain)

	w := tr.cfg.Weights
	score := w.OI*oiFactor + w.Volume*volFactor + w.Greeks*greeksDirectionBias + w.PriceAction*priceFactor

	rawDir := domain.Neutral
	switch {
	case score > tr.cfg.BullishThreshold:
		rawDir = domain.Bullish
	case score < tr.cfg.BearishThreshold:
		rawDir = domain.Bearish
	}

	confidence := confidenceFor(score, tr.cfg)
	factors := domain.BiasFactors{OI: oiFactor, Volume: volFactor, Greeks: greeksDirectionBias, PriceAction: priceFactor}

	direction := tr.applyHysteresis(rawDir)
	belowPE, aboveCE := oiBelowAbove(chain)

	tr.current = domain.BiasState{
		Direction:  direction,
		Strength:   math.Abs(score-0.5) * 2,
		Confidence: confidence,
		Factors:    factors,
		OIBelowPE:  belowPE,
		OIAboveCE:  aboveCE,
	}
	return tr.current
}

// applyHysteresis requires 2 consecutive confirmations to leave NEUTRAL and
// 3 to flip BULLISH<->BEARISH, per §4.2.
func (tr *Tracker) applyHysteresis(raw domain.BiasDirection) domain.BiasDirection {
	cur := tr.current.Direction
	if raw == cur {
		tr.pendingDir = ""
		tr.pendingCount = 0
		return cur
	}

	required := tr.cfg.HysteresisToLeaveNeutral
	if cur != domain.Neutral && raw != domain.Neutral {
		required = tr.cfg.HysteresisToFlip
	}

	if tr.pendingDir != raw {
		tr.pendingDir = raw
		tr.pendingCount = 1
	} else {
		tr.pendingCount++
	}

	if tr.pendingCount >= required {
		tr.pendingDir = ""
		tr.pendingCount = 0
		return raw
	}
	return cur
}

func confidenceFor(score float64, cfg config.BiasConfig) domain.BiasConfidence {
	dev := math.Abs(score - 0.5)
	switch {
	case dev < cfg.WeakBand:
		return domain.ConfidenceWeak
	case dev < cfg.MediumBand:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceStrong
	}
}

// oiFactor normalizes the change in (ΣOI_PE_below_ATM - ΣOI_CE_above_ATM)
// over the last 3 snapshots into [0,1], 0.5=neutral.
func (tr *Tracker) oiFactor(chain domain.Chain) float64 {
	atmIdx := chain.ATMIndex()
	var skew float64
	if atmIdx >= 0 {
		for i, row := range chain.Rows {
			if i < atmIdx && row.PE != nil {
				skew += float64(row.PE.Tick.OI)
			}
			if i > atmIdx && row.CE != nil {
				skew -= float64(row.CE.Tick.OI)
			}
		}
	}
	tr.oiSkewHistory = append(tr.oiSkewHistory, skew)
	window := tr.cfg.OIWindowSnapshots
	if window <= 0 {
		window = 3
	}
	if len(tr.oiSkewHistory) > window {
		tr.oiSkewHistory = tr.oiSkewHistory[len(tr.oiSkewHistory)-window:]
	}
	if len(tr.oiSkewHistory) < 2 {
		return 0.5
	}
	delta := tr.oiSkewHistory[len(tr.oiSkewHistory)-1] - tr.oiSkewHistory[0]
	return squash(delta, 5000)
}

// volumeFactor is the CE/PE volume ratio at ATM+-2, normalized to [0,1].
func (tr *Tracker) volumeFactor(chain domain.Chain) float64 {
	atmIdx := chain.ATMIndex()
	if atmIdx < 0 {
		return 0.5
	}
	lo, hi := atmIdx-2, atmIdx+2
	if lo < 0 {
		lo = 0
	}
	if hi >= len(chain.Rows) {
		hi = len(chain.Rows) - 1
	}
	var ceVol, peVol float64
	for i := lo; i <= hi; i++ {
		if chain.Rows[i].CE != nil {
			ceVol += float64(chain.Rows[i].CE.Tick.Volume)
		}
		if chain.Rows[i].PE != nil {
			peVol += float64(chain.Rows[i].PE.Tick.Volume)
		}
	}
	if ceVol+peVol == 0 {
		return 0.5
	}
	return ceVol / (ceVol + peVol)
}

// priceActionFactor is the sign of the last N underlying returns with a
// neutrality deadband, normalized to [0,1].
func (tr *Tracker) priceActionFactor(chain domain.Chain) float64 {
	spot, _ := chain.Spot.Float64()
	tr.spotHistory = append(tr.spotHistory, spot)
	n := tr.cfg.PriceActionReturns
	if n <= 0 {
		n = 5
	}
	if len(tr.spotHistory) > n+1 {
		tr.spotHistory = tr.spotHistory[len(tr.spotHistory)-(n+1):]
	}
	if len(tr.spotHistory) < 2 {
		return 0.5
	}
	var up, down int
	for i := 1; i < len(tr.spotHistory); i++ {
		diff := tr.spotHistory[i] - tr.spotHistory[i-1]
		const deadband = 0.01 // index points; sub-point moves are noise
		switch {
		case diff > deadband:
			up++
		case diff < -deadband:
			down++
		}
	}
	total := up + down
	if total == 0 {
		return 0.5
	}
	return 0.5 + 0.5*float64(up-down)/float64(total)
}

// squash maps x in [-scale, +scale] to [0,1] via a clamped linear ramp.
func squash(x, scale float64) float64 {
	if scale <= 0 {
		return 0.5
	}
	v := 0.5 + 0.5*(x/scale)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// oiBelowAbove computes the raw OI-below-PE and OI-above-CE totals behind
// oiFactor, without its delta/history normalization, for BiasState.OIBelowPE
// / OIAboveCE (journal/debug use).
func oiBelowAbove(chain domain.Chain) (belowPE, aboveCE decimal.Decimal) {
	atmIdx := chain.ATMIndex()
	belowPE, aboveCE = decimal.Zero, decimal.Zero
	if atmIdx < 0 {
		return
	}
	for i, row := range chain.Rows {
		if i < atmIdx && row.PE != nil {
			belowPE = belowPE.Add(decimal.NewFromInt(row.PE.Tick.OI))
		}
		if i > atmIdx && row.CE != nil {
			aboveCE = aboveCE.Add(decimal.NewFromInt(row.CE.Tick.OI))
		}
	}
	return
}
