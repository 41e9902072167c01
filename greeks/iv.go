package greeks

import (
	"math"

	"optionscalp/config"
	"optionscalp/domain"
)

// InvertIV solves for the implied volatility that reprices the option to
// marketPrice, using bisection over sigma in [0.01, 3.0] (§4.1). It tries a
// handful of Newton-Raphson steps first (grounded in the vega-based
// fast-converging approach other inversion implementations use) as a
// cheap head start, then always finishes with bisection so the function is
// guaranteed to converge or explicitly report failure — it never panics and
// never returns a NaN.
func InvertIV(marketPrice, spot, strike, t, r float64, typ domain.OptionType, cfg config.GreeksConfig) (iv float64, converged bool) {
	if t <= 0 || marketPrice <= 0 || spot <= 0 || strike <= 0 {
		return cfg.DefaultIV, false
	}

	guess := newtonGuess(marketPrice, spot, strike, t, r, typ, cfg)

	lo, hi := 0.01, 3.0
	// If the Newton guess lies inside the bracket and reprices within
	// tolerance, return it; otherwise bisect over the full [0.01,3.0].
	if guess > lo && guess < hi {
		priceAtGuess := BSPrice(spot, strike, t, r, guess, typ)
		if math.Abs(priceAtGuess-marketPrice) <= cfg.InversionTolerance {
			return clampIV(guess), true
		}
	}

	priceLo := BSPrice(spot, strike, t, r, lo, typ)
	priceHi := BSPrice(spot, strike, t, r, hi, typ)
	if marketPrice <= priceLo {
		return lo, true
	}
	if marketPrice >= priceHi {
		return hi, true
	}

	for i := 0; i < cfg.InversionMaxIter; i++ {
		mid := (lo + hi) / 2
		priceMid := BSPrice(spot, strike, t, r, mid, typ)
		diff := priceMid - marketPrice
		if math.Abs(diff) <= cfg.InversionTolerance {
			return clampIV(mid), true
		}
		if diff > 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	// Did not converge within the iteration budget; fall through to the
	// next IV source rather than return garbage.
	return clampIV((lo + hi) / 2), false
}

// newtonGuess attempts a few vega-based Newton steps from a moneyness-aware
// starting point. Returns whatever it lands on even if it hasn't converged;
// the caller verifies convergence against marketPrice before trusting it.
func newtonGuess(marketPrice, spot, strike, t, r float64, typ domain.OptionType, cfg config.GreeksConfig) float64 {
	sigma := 0.3
	moneyness := spot / strike
	switch {
	case moneyness > 1.05 || moneyness < 0.95:
		sigma = 0.45 // further OTM/ITM tends to need a wider starting vol
	case math.Abs(moneyness-1) < 0.01:
		sigma = 0.20
	}
	for i := 0; i < 5; i++ {
		res := BSGreeks(spot, strike, t, r, sigma, typ)
		vegaAnnual := res.Vega * 100
		if vegaAnnual < 1e-8 {
			break
		}
		diff := res.Price - marketPrice
		sigma -= diff / vegaAnnual
		if sigma <= 0 {
			sigma = minSigma
		}
		if sigma > 3 {
			sigma = 3
		}
	}
	return sigma
}

func clampIV(iv float64) float64 {
	if iv < 0.01 {
		return 0.01
	}
	if iv > 3.0 {
		return 3.0
	}
	return iv
}

// ChooseIV implements the §4.1 IV source-priority chain for one leg.
// brokerIV/brokerIVAge come from the raw tick; lastGood is the most recent
// estimated IV this engine produced for the same instrument (zero value ok
// if none yet exists).
func ChooseIV(brokerIV float64, brokerIVAgeSeconds float64, marketPrice, spot, strike, t, r float64, typ domain.OptionType, lastGood float64, hasLastGood bool, cfg config.GreeksConfig) (iv float64, source domain.IVSource) {
	if brokerIV >= cfg.BrokerIVMin && brokerIV <= cfg.BrokerIVMax && brokerIVAgeSeconds <= cfg.BrokerIVMinAge.Seconds() {
		return brokerIV, domain.IVSourceBroker
	}
	if inverted, ok := InvertIV(marketPrice, spot, strike, t, r, typ, cfg); ok {
		return inverted, domain.IVSourceBSBrokerLTP
	}
	if hasLastGood {
		return lastGood, domain.IVSourceBSEstimated
	}
	return cfg.DefaultIV, domain.IVSourceDefault
}
