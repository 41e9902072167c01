package entry

import (
	"math"

	"optionscalp/domain"
)

// QualityScore composes the §4.3 gate-8 composite: bias strength, gamma,
// OI conviction (approximated from the candidate leg's OI relative to a
// reference scale, since a single leg has no direct "conviction" value of
// its own without the bucketed history the adaptive package keeps), and
// clean pattern (low bid/ask spread only; the leg's Degraded flag is not
// consulted). Returns a value in [0,1].
func QualityScore(bs domain.BiasState, g domain.GreeksSnapshot, tick domain.Tick) float64 {
	biasComponent := bs.Strength

	gammaComponent := math.Min(g.Gamma*10, 1)

	oiComponent := math.Min(float64(tick.OI)/5000.0, 1)

	cleanPattern := 1.0
	if spreadF, _ := tick.SpreadPct().Float64(); spreadF > 0 {
		cleanPattern = math.Max(0, 1-spreadF*5)
	}

	return 0.3*biasComponent + 0.25*gammaComponent + 0.25*oiComponent + 0.2*cleanPattern
}
