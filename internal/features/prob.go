package features

import "math"

// normCDF is the standard normal cumulative distribution.
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// BlackScholesD1D2 returns the standard d1/d2 terms. Degenerate inputs
// (non-positive spot, strike, vol, or horizon) yield (0, 0).
func BlackScholesD1D2(spot, strike, rate, iv, t float64) (float64, float64) {
	if spot <= 0 || strike <= 0 || iv <= 0 || t <= 0 {
		return 0, 0
	}
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (rate+0.5*iv*iv)*t) / (iv * sqrtT)
	d2 := d1 - iv*sqrtT
	return d1, d2
}

// ProbabilityITM is the risk-neutral in-the-money probability: Φ(d2) for
// calls, Φ(−d2) for puts.
func ProbabilityITM(optionType string, spot, strike, rate, iv, t float64) float64 {
	_, d2 := BlackScholesD1D2(spot, strike, rate, iv, t)
	if optionType == "C" {
		return normCDF(d2)
	}
	return normCDF(-d2)
}

// ProbabilityOfTouch doubles the ITM probability and clamps to [0, 1].
func ProbabilityOfTouch(probITM float64) float64 {
	return clamp(2*probITM, 0, 1)
}
