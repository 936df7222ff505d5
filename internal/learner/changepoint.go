package learner

import (
	"math"
	"sync"
)

// ChangePoint is a rolling-window mean-shift detector. It keeps the last
// window samples and fires when the halves of a full window disagree by at
// least threshold. Partial windows never fire.
type ChangePoint struct {
	mu        sync.Mutex
	window    int
	threshold float64
	history   []float64
}

// NewChangePoint builds a detector; window and threshold fall back to the
// 120-sample / 5.0 defaults when non-positive.
func NewChangePoint(window int, threshold float64) *ChangePoint {
	if window <= 0 {
		window = 120
	}
	if threshold <= 0 {
		threshold = 5.0
	}
	return &ChangePoint{
		window:    window,
		threshold: threshold,
		history:   make([]float64, 0, window),
	}
}

// Update appends one observation and reports whether the window's first and
// second half means have diverged past the threshold.
func (c *ChangePoint) Update(value float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, value)
	if len(c.history) > c.window {
		c.history = c.history[len(c.history)-c.window:]
	}
	if len(c.history) < c.window {
		return false
	}
	half := c.window / 2
	return math.Abs(mean(c.history[:half])-mean(c.history[half:])) >= c.threshold
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
