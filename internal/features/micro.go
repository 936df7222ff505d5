package features

import "gammabot/pkg/types"

// spreadWindow is the retained sample count for spread classification.
const spreadWindow = 300

// SpreadHistory tracks a rolling window of spread percentages and classifies
// new observations against the window's median and stdev.
type SpreadHistory struct {
	values *series
}

func NewSpreadHistory() *SpreadHistory {
	return &SpreadHistory{values: newSeries(spreadWindow)}
}

func (h *SpreadHistory) Add(spreadPct float64) {
	h.values.push(spreadPct)
}

func (h *SpreadHistory) Median() float64 {
	return median(h.values.values())
}

func (h *SpreadHistory) Stdev() float64 {
	return sampleStdev(h.values.values())
}

// SpreadPct is (ask − bid) / mid, 0 when mid is non-positive.
func SpreadPct(bid, ask, mid float64) float64 {
	if mid <= 0 {
		return 0
	}
	return (ask - bid) / mid
}

// ClassifySpread appends the observation to the history, then scores it as a
// z against the window median. Without enough history (stdev ≤ 0) the state
// is normal; z ≤ −1 is tight; z ≥ stressZ is stressed.
func ClassifySpread(history *SpreadHistory, spreadPct, stressZ float64) string {
	history.Add(spreadPct)
	stdev := history.Stdev()
	if stdev <= 0 {
		return types.SpreadNormal
	}
	z := (spreadPct - history.Median()) / stdev
	if z <= -1 {
		return types.SpreadTight
	}
	if z >= stressZ {
		return types.SpreadStressed
	}
	return types.SpreadNormal
}

// NBBOAge is the elapsed microseconds between now and the last quote,
// floored at zero for out-of-order timestamps.
func NBBOAge(nowTS, lastNBBOTS int64) int64 {
	age := nowTS - lastNBBOTS
	if age < 0 {
		return 0
	}
	return age
}

// NBBOEventRate estimates quote events per windowSecs from a span of event
// timestamps (any consistent unit).
func NBBOEventRate(timestamps []int64, windowSecs int) float64 {
	if len(timestamps) < 2 {
		return 0
	}
	span := timestamps[len(timestamps)-1] - timestamps[0]
	if span <= 0 {
		return 0
	}
	return float64(len(timestamps)) / float64(span) * float64(windowSecs)
}
