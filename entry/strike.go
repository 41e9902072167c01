package entry

import (
	"math"

	"optionscalp/config"
	"optionscalp/domain"
)

// SelectStrike scores every strike in ATM+-3 on the given side by
// 0.4*|Delta|+0.3*Gamma_norm+0.3*IV_fit (IV_fit peaking at 20-30%) and
// returns the argmax among strikes with Delta in [0.2,0.7] (§4.3 gate 7).
func SelectStrike(chain domain.Chain, side domain.OptionType, cfg config.EntryConfig) (strike int, leg *domain.Leg, ok bool) {
	atmIdx := chain.ATMIndex()
	if atmIdx < 0 {
		return 0, nil, false
	}
	lo := atmIdx - cfg.StrikeWindow
	if lo < 0 {
		lo = 0
	}
	hi := atmIdx + cfg.StrikeWindow
	if hi >= len(chain.Rows) {
		hi = len(chain.Rows) - 1
	}

	maxGamma := 0.0
	for i := lo; i <= hi; i++ {
		if l := legFor(chain.Rows[i], side); l != nil && l.Greeks.Gamma > maxGamma {
			maxGamma = l.Greeks.Gamma
		}
	}

	bestScore := -1.0
	bestStrike := 0
	var bestLeg *domain.Leg

	for i := lo; i <= hi; i++ {
		row := chain.Rows[i]
		l := legFor(row, side)
		if l == nil || l.Degraded {
			continue
		}
		absDelta := math.Abs(l.Greeks.Delta)
		if absDelta < cfg.DeltaMin || absDelta > cfg.DeltaMax {
			continue
		}
		gammaNorm := 0.0
		if maxGamma > 0 {
			gammaNorm = l.Greeks.Gamma / maxGamma
		}
		ivFit := ivFitScore(l.Greeks.IV, cfg.IVFitCenterLow, cfg.IVFitCenterHigh)
		score := 0.4*absDelta + 0.3*gammaNorm + 0.3*ivFit
		if score > bestScore {
			bestScore = score
			bestStrike = row.Strike
			bestLeg = l
		}
	}

	if bestLeg == nil {
		return 0, nil, false
	}
	return bestStrike, bestLeg, true
}

func legFor(row domain.OptionRow, side domain.OptionType) *domain.Leg {
	if side == domain.CE {
		return row.CE
	}
	return row.PE
}

// ivFitScore peaks (1.0) for IV in [low,high] and falls off linearly
// outside the band, floored at 0.
func ivFitScore(iv, low, high float64) float64 {
	if iv >= low && iv <= high {
		return 1.0
	}
	band := high - low
	if band <= 0 {
		band = 0.1
	}
	var dist float64
	if iv < low {
		dist = low - iv
	} else {
		dist = iv - high
	}
	score := 1.0 - dist/band
	if score < 0 {
		return 0
	}
	return score
}
