package features

import (
	"math"
	"sort"
)

// TermStructure holds the implied-vol term buckets and their slopes.
type TermStructure struct {
	IV9D      float64
	IV30D     float64
	IV60D     float64
	Slope930  float64
	Slope3060 float64
}

// ComputeTermStructure reads the 9/30/60 day buckets from the term map,
// treating missing buckets as zero.
func ComputeTermStructure(vols map[int]float64) TermStructure {
	iv9 := vols[9]
	iv30 := vols[30]
	iv60 := vols[60]
	return TermStructure{
		IV9D:      iv9,
		IV30D:     iv30,
		IV60D:     iv60,
		Slope930:  iv30 - iv9,
		Slope3060: iv60 - iv30,
	}
}

// SmileSkew is IV(put at nearest −targetDelta) − IV(call at nearest
// +targetDelta). Empty surfaces contribute zero.
func SmileSkew(puts, calls map[float64]float64, targetDelta float64) float64 {
	putIV := nearestDeltaIV(puts, -targetDelta)
	callIV := nearestDeltaIV(calls, targetDelta)
	return putIV - callIV
}

// nearestDeltaIV scans sorted keys so ties resolve deterministically, which
// replay depends on.
func nearestDeltaIV(surface map[float64]float64, targetDelta float64) float64 {
	if len(surface) == 0 {
		return 0
	}
	deltas := make([]float64, 0, len(surface))
	for delta := range surface {
		deltas = append(deltas, delta)
	}
	sort.Float64s(deltas)
	best := deltas[0]
	for _, delta := range deltas[1:] {
		if math.Abs(delta-targetDelta) < math.Abs(best-targetDelta) {
			best = delta
		}
	}
	return surface[best]
}

// VolOfVol is the sample stdev of the IV history, 0 below two samples.
func VolOfVol(ivHistory []float64) float64 {
	return sampleStdev(ivHistory)
}
