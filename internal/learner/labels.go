package learner

// TripleBarrierLabel classifies a price path against three barriers: an
// upper barrier at entry+upMove, a lower at entry+downMove (downMove is
// signed, normally negative), and a horizon of maxSteps bars. Returns +1 if
// the upper barrier is touched first, -1 for the lower, 0 when neither is
// reached within the horizon.
func TripleBarrierLabel(path []float64, entry, upMove, downMove float64, maxSteps int) int {
	upper := entry + upMove
	lower := entry + downMove
	if maxSteps > len(path) {
		maxSteps = len(path)
	}
	for _, price := range path[:maxSteps] {
		if price >= upper {
			return 1
		}
		if price <= lower {
			return -1
		}
	}
	return 0
}
