package exit

import "optionscalp/domain"

// exposureReductionRank ranks exit kinds by how much of the position they
// are expected to close, for tie-breaking equal (priority, confidence)
// pairs: a full-remainder exit outranks a partial exit.
var exposureReductionRank = map[domain.ExitKind]int{
	domain.ExitForcedMarket: 5,
	domain.ExitForcedFlat:   5,
	domain.ExitTimeForced:   4,
	domain.ExitHardSL:       4,
	domain.ExitThetaBomb:    3,
	domain.ExitTrailingSL:   3,
	domain.ExitReversal:     2,
	domain.ExitExhaustion:   2,
	domain.ExitPartial:      1,
	domain.ExitNoAction:     0,
}

// Arbitrate picks the fired signal with the greatest (priority, confidence),
// tie-broken by the signal that reduces exposure most.
func Arbitrate(signals []Signal) Signal {
	best := Signal{Priority: -1}
	for _, s := range signals {
		if better(s, best) {
			best = s
		}
	}
	return best
}

func better(a, b Signal) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return exposureReductionRank[a.Kind] > exposureReductionRank[b.Kind]
}
