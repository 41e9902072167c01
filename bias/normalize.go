// Package bias normalizes raw option chains and computes directional bias
// with confidence and hysteresis (§4.2).
package bias

import (
	"optionscalp/config"
	"optionscalp/domain"
)

// Normalize filters a raw chain down to ATM+-K strikes and marks each leg
// with a wide spread or zero LTP as Degraded on its own, per §4.2. It does
// not mutate the input chain.
func Normalize(raw domain.Chain, cfg config.BiasConfig) domain.Chain {
	atmIdx := -1
	for i, r := range raw.Rows {
		if r.Strike == raw.ATMStrike {
			atmIdx = i
			break
		}
	}
	if atmIdx < 0 {
		return raw
	}

	lo := atmIdx - cfg.ATMWindow
	if lo < 0 {
		lo = 0
	}
	hi := atmIdx + cfg.ATMWindow
	if hi >= len(raw.Rows) {
		hi = len(raw.Rows) - 1
	}

	out := raw
	out.Rows = make([]domain.OptionRow, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		row := raw.Rows[i]
		row.CE = degradeIfWide(row.CE, cfg.MaxSpreadPct)
		row.PE = degradeIfWide(row.PE, cfg.MaxSpreadPct)
		out.Rows = append(out.Rows, row)
	}
	return out
}

func degradeIfWide(leg *domain.Leg, maxSpreadPct float64) *domain.Leg {
	if leg == nil {
		return nil
	}
	cp := *leg
	if cp.Tick.LTP.IsZero() {
		cp.Degraded = true
		return &cp
	}
	spread := cp.Tick.SpreadPct()
	spreadF, _ := spread.Float64()
	if spreadF > maxSpreadPct {
		cp.Degraded = true
	}
	return &cp
}
