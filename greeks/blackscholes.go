// Package greeks implements Black-Scholes pricing, IV inversion, change
// tracking, zone detection, fake-move filtering and health gating for an
// option chain (§4.1).
package greeks

import (
	"math"

	"optionscalp/domain"
)

const minSigma = 1e-4

// normCDF and normPDF are the standard normal CDF/PDF, used throughout.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

func d1d2(spot, strike, t, r, sigma float64) (d1, d2 float64) {
	d1 = (math.Log(spot/strike) + (r+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
	d2 = d1 - sigma*math.Sqrt(t)
	return
}

// intrinsic returns the intrinsic value of the option at T=0.
func intrinsic(spot, strike float64, typ domain.OptionType) float64 {
	if typ == domain.CE {
		return math.Max(spot-strike, 0)
	}
	return math.Max(strike-spot, 0)
}

// BSPrice returns the Black-Scholes theoretical price with continuous
// compounding. T is time-to-expiry in years. sigma<=0 is clamped to
// minSigma; T<=0 returns intrinsic value.
func BSPrice(spot, strike, t, r, sigma float64, typ domain.OptionType) float64 {
	if t <= 0 {
		return intrinsic(spot, strike, typ)
	}
	if sigma <= 0 {
		sigma = minSigma
	}
	d1, d2 := d1d2(spot, strike, t, r, sigma)
	disc := math.Exp(-r * t)
	if typ == domain.CE {
		return spot*normCDF(d1) - strike*disc*normCDF(d2)
	}
	return strike*disc*normCDF(-d2) - spot*normCDF(-d1)
}

// Result bundles the theoretical price with its Greeks, all computed from
// one set of (S,K,T,r,sigma) inputs.
type Result struct {
	Price float64
	Delta float64
	Gamma float64
	Theta float64 // per day
	Vega  float64 // per 1% IV
}

// BSGreeks computes price + Greeks. T<=0 collapses to intrinsic value with
// zero sensitivities except Delta, which is 1/0/-1 per moneyness.
func BSGreeks(spot, strike, t, r, sigma float64, typ domain.OptionType) Result {
	if t <= 0 {
		delta := 0.0
		switch {
		case typ == domain.CE && spot > strike:
			delta = 1
		case typ == domain.PE && spot < strike:
			delta = -1
		}
		return Result{Price: intrinsic(spot, strike, typ), Delta: delta}
	}
	if sigma <= 0 {
		sigma = minSigma
	}
	d1, d2 := d1d2(spot, strike, t, r, sigma)
	disc := math.Exp(-r * t)
	sqrtT := math.Sqrt(t)

	gamma := normPDF(d1) / (spot * sigma * sqrtT)
	vegaAnnual := spot * normPDF(d1) * sqrtT
	vegaPer1Pct := vegaAnnual / 100

	var price, delta, thetaAnnual float64
	if typ == domain.CE {
		price = spot*normCDF(d1) - strike*disc*normCDF(d2)
		delta = normCDF(d1)
		thetaAnnual = -(spot*normPDF(d1)*sigma)/(2*sqrtT) - r*strike*disc*normCDF(d2)
	} else {
		price = strike*disc*normCDF(-d2) - spot*normCDF(-d1)
		delta = normCDF(d1) - 1
		thetaAnnual = -(spot*normPDF(d1)*sigma)/(2*sqrtT) + r*strike*disc*normCDF(-d2)
	}
	thetaPerDay := thetaAnnual / 365.0

	return Result{
		Price: price,
		Delta: delta,
		Gamma: gamma,
		Theta: thetaPerDay,
		Vega:  vegaPer1Pct,
	}
}

// YearsFromTradingMinutes converts trading-day minutes remaining to a
// year-fraction using the configured trading-minutes-per-year constant
// (default 6.25h*60*252, see §4.1).
func YearsFromTradingMinutes(minutesRemaining, tradingMinutesPerYear float64) float64 {
	if tradingMinutesPerYear <= 0 {
		return 0
	}
	return minutesRemaining / tradingMinutesPerYear
}
