package greeks

import (
	"math"

	"optionscalp/config"
	"optionscalp/domain"
)

// DetectZones computes the per-chain-update structural points described in
// §4.1: gamma-peak strike, theta-kill strike, delta-neutral strike, and
// CE/PE dominance, all restricted to the ATM window (default +-5).
func DetectZones(c domain.Chain, cfg config.GreeksConfig) domain.ZoneSnapshot {
	atmIdx := c.ATMIndex()
	if atmIdx < 0 {
		return domain.ZoneSnapshot{}
	}
	window := cfg.ZoneATMWindow
	lo := atmIdx - window
	if lo < 0 {
		lo = 0
	}
	hi := atmIdx + window
	if hi >= len(c.Rows) {
		hi = len(c.Rows) - 1
	}

	var gammaPeakStrike, thetaKillStrike, deltaNeutralStrike int
	bestGamma := -1.0
	bestTheta := -1.0
	bestDeltaDev := math.MaxFloat64

	for i := lo; i <= hi; i++ {
		row := c.Rows[i]
		if g, ok := rowGamma(row); ok && g > bestGamma {
			bestGamma = g
			gammaPeakStrike = row.Strike
		}
		if th, ok := rowMaxAbsTheta(row); ok && th > bestTheta {
			bestTheta = th
			thetaKillStrike = row.Strike
		}
		if dev, ok := rowDeltaNeutralDeviation(row); ok && dev < bestDeltaDev {
			bestDeltaDev = dev
			deltaNeutralStrike = row.Strike
		}
	}

	dominance := ceDominance(c, atmIdx, 2, cfg.DominanceDeadband)

	return domain.ZoneSnapshot{
		GammaPeakStrike:    gammaPeakStrike,
		ThetaKillStrike:    thetaKillStrike,
		DeltaNeutralStrike: deltaNeutralStrike,
		Dominance:          dominance,
	}
}

func rowGamma(row domain.OptionRow) (float64, bool) {
	if row.CE != nil {
		return row.CE.Greeks.Gamma, true
	}
	if row.PE != nil {
		return row.PE.Greeks.Gamma, true
	}
	return 0, false
}

func rowMaxAbsTheta(row domain.OptionRow) (float64, bool) {
	var best float64
	var found bool
	if row.CE != nil {
		best = math.Abs(row.CE.Greeks.Theta)
		found = true
	}
	if row.PE != nil {
		if v := math.Abs(row.PE.Greeks.Theta); !found || v > best {
			best = v
			found = true
		}
	}
	return best, found
}

func rowDeltaNeutralDeviation(row domain.OptionRow) (float64, bool) {
	var best float64
	var found bool
	if row.CE != nil {
		dev := math.Abs(row.CE.Greeks.Delta - 0.5)
		best, found = dev, true
	}
	if row.PE != nil {
		dev := math.Abs(row.PE.Greeks.Delta + 0.5)
		if !found || dev < best {
			best, found = dev, true
		}
	}
	return best, found
}

// ceDominance sums CE and PE deltas across atmIdx+-window and returns the
// sign of (sumCE - |sumPE|), zero within the deadband.
func ceDominance(c domain.Chain, atmIdx, window int, deadband float64) float64 {
	lo := atmIdx - window
	if lo < 0 {
		lo = 0
	}
	hi := atmIdx + window
	if hi >= len(c.Rows) {
		hi = len(c.Rows) - 1
	}
	var sumCE, sumPE float64
	for i := lo; i <= hi; i++ {
		row := c.Rows[i]
		if row.CE != nil {
			sumCE += row.CE.Greeks.Delta
		}
		if row.PE != nil {
			sumPE += row.PE.Greeks.Delta
		}
	}
	diff := sumCE - math.Abs(sumPE)
	if math.Abs(diff) < deadband {
		return 0
	}
	if diff > 0 {
		return 1
	}
	return -1
}
