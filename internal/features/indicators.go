// Package features derives rolling per-symbol trading features from quotes,
// aggregate bars, and option metadata.
//
// The Engine owns one SymbolState per symbol and exposes three constant-time
// mutators (UpdateQuote, UpdateTrade, UpdateOption) plus Compute, which runs
// the full indicator stack over the retained windows and emits a
// types.FeaturePacket. Indicator functions are pure and shared by the live
// pipeline and the backtest harness.
package features

import (
	"math"
	"strconv"

	"gammabot/pkg/types"
)

// mean returns the arithmetic mean, 0 for an empty slice.
func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdev is the n−1 normalized standard deviation, 0 below two samples.
func sampleStdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)-1))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	ordered := make([]float64, len(xs))
	copy(ordered, xs)
	insertionSort(ordered)
	mid := len(ordered) / 2
	if len(ordered)%2 == 1 {
		return ordered[mid]
	}
	return 0.5 * (ordered[mid-1] + ordered[mid])
}

// insertionSort keeps the median helper allocation-light for the small
// spread-history window.
func insertionSort(xs []float64) {
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
}

// leastSquaresSlope fits y = a + b·x over x = 0..n−1 and returns b.
func leastSquaresSlope(ys []float64) float64 {
	n := len(ys)
	if n < 2 {
		return 0
	}
	xMean := float64(n-1) / 2
	yMean := mean(ys)
	var num, den float64
	for i, y := range ys {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SessionVWAP is the volume-weighted average price over the retained window.
// With zero total volume it degrades to the last price.
func SessionVWAP(prices, volumes []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	var volSum, dot float64
	for i, p := range prices {
		v := volumes[i]
		volSum += v
		dot += p * v
	}
	if volSum <= 0 {
		return prices[len(prices)-1]
	}
	return dot / volSum
}

// VWAPBands computes sigma bands around the session VWAP, keyed by the sigma
// multiple ("1", "2", ...). Sigma is the sample stdev of (price − VWAP) over
// the last window samples. Below two prices every band collapses to the VWAP
// itself.
func VWAPBands(prices, volumes []float64, sigmas []int, window int) map[string]types.Band {
	if len(sigmas) == 0 {
		return map[string]types.Band{}
	}
	vwap := SessionVWAP(prices, volumes)
	bands := make(map[string]types.Band, len(sigmas))
	if len(prices) < 2 {
		for _, k := range sigmas {
			bands[strconv.Itoa(k)] = types.Band{vwap, vwap}
		}
		return bands
	}
	tail := prices
	if len(prices) > window {
		tail = prices[len(prices)-window:]
	}
	deviations := make([]float64, len(tail))
	for i, p := range tail {
		deviations[i] = p - vwap
	}
	std := sampleStdev(deviations)
	for _, k := range sigmas {
		offset := std * float64(k)
		bands[strconv.Itoa(k)] = types.Band{vwap - offset, vwap + offset}
	}
	return bands
}

// VWAPSlope is the least-squares slope of a trailing rolling-VWAP curve. For
// each of the last lookback positions it recomputes a windowed VWAP ending
// there, then fits a line through those points.
func VWAPSlope(prices, volumes []float64, lookback int) float64 {
	if len(prices) < 2 {
		return 0
	}
	lb := lookback
	if len(prices) < lb {
		lb = len(prices)
	}
	vwaps := make([]float64, 0, lb)
	for end := len(prices) - lb; end < len(prices); end++ {
		start := end - lb + 1
		if start < 0 {
			start = 0
		}
		vwaps = append(vwaps, SessionVWAP(prices[start:end+1], volumes[start:end+1]))
	}
	return leastSquaresSlope(vwaps)
}

// trueRanges returns per-bar true range: max(h−l, |h−prevClose|, |l−prevClose|).
// The first bar uses its own close as the previous close.
func trueRanges(highs, lows, closes []float64) []float64 {
	trs := make([]float64, len(highs))
	for i := range highs {
		prevClose := closes[i]
		if i > 0 {
			prevClose = closes[i-1]
		}
		tr := highs[i] - lows[i]
		if d := math.Abs(highs[i] - prevClose); d > tr {
			tr = d
		}
		if d := math.Abs(lows[i] - prevClose); d > tr {
			tr = d
		}
		trs[i] = tr
	}
	return trs
}

// wilderSmooth applies Wilder's recursive smoothing with alpha = 1/period,
// seeded from the first value.
func wilderSmooth(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	smoothed := make([]float64, len(values))
	smoothed[0] = values[0]
	alpha := 1.0 / float64(period)
	for i := 1; i < len(values); i++ {
		smoothed[i] = smoothed[i-1] + alpha*(values[i]-smoothed[i-1])
	}
	return smoothed
}

// ATR is the Wilder-smoothed true range over the whole window; the returned
// value is the last smoothed sample.
func ATR(highs, lows, closes []float64, period int) float64 {
	if len(highs) == 0 {
		return 0
	}
	smooth := wilderSmooth(trueRanges(highs, lows, closes), period)
	return smooth[len(smooth)-1]
}

// FastATR is an EMA of true range with alpha = 2/(alphaSeconds+1), seeded
// from the first true range.
func FastATR(highs, lows, closes []float64, alphaSeconds int) float64 {
	trs := trueRanges(highs, lows, closes)
	if len(trs) == 0 {
		return 0
	}
	alpha := 2.0 / float64(alphaSeconds+1)
	ema := trs[0]
	for _, v := range trs[1:] {
		ema += alpha * (v - ema)
	}
	return ema
}

// ADX computes the average directional index over the window. Directional
// movement and true range are Wilder-smoothed; denominators are clamped at
// 1e-9 to survive flat stretches.
func ADX(highs, lows, closes []float64, period int) float64 {
	if len(highs) < 2 {
		return 0
	}
	n := len(highs) - 1
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 0; i < n; i++ {
		up := highs[i+1] - highs[i]
		down := lows[i] - lows[i+1]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}
	trs := trueRanges(highs[1:], lows[1:], closes[1:])
	trSmooth := wilderSmooth(trs, period)
	plusSmooth := wilderSmooth(plusDM, period)
	minusSmooth := wilderSmooth(minusDM, period)
	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		denom := trSmooth[i]
		if math.Abs(denom) < 1e-9 {
			denom = 1e-9
		}
		plusDI := 100 * plusSmooth[i] / denom
		minusDI := 100 * minusSmooth[i] / denom
		diSum := plusDI + minusDI
		if diSum < 1e-9 {
			diSum = 1e-9
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / diSum
	}
	adx := wilderSmooth(dx, period)
	return adx[len(adx)-1]
}

// RealizedVol annualizes the sample stdev of the trailing window of
// per-second log returns by √(252·390·60). Below two samples it returns 0.
func RealizedVol(returns []float64, window int) float64 {
	if len(returns) == 0 {
		return 0
	}
	tail := returns
	if len(returns) > window {
		tail = returns[len(returns)-window:]
	}
	std := sampleStdev(tail)
	if std == 0 {
		return 0
	}
	return std * math.Sqrt(252*390*60)
}
