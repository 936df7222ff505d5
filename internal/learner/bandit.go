// Package learner is the adaptive layer: a Thompson-sampling bandit over the
// playbooks, a change-point detector on spread quality, triple-barrier trade
// labeling, an optional meta-labeler, and the calibration document produced
// by the backtest calibrator. The service folds all of these into one
// adjustment packet per feature.
package learner

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ArmStats holds the sufficient statistics for one bandit arm.
type ArmStats struct {
	Count      int     `json:"count"`
	SumRewards float64 `json:"sum_rewards"`
	SumSq      float64 `json:"sum_sq"`
}

// Mean is the average observed reward, zero before any pull.
func (a ArmStats) Mean() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.SumRewards / float64(a.Count)
}

// Variance is the population variance of observed rewards, floored at 1e-6.
// Arms with fewer than two pulls report 1.0 so they still explore.
func (a ArmStats) Variance() float64 {
	if a.Count < 2 {
		return 1.0
	}
	mean := a.Mean()
	return math.Max(a.SumSq/float64(a.Count)-mean*mean, 1e-6)
}

// ContextualBandit runs Thompson sampling over a fixed arm set. Each Select
// draws one sample per arm from N(mean, var/(count+1)), biases it by the
// context average, and takes the arg-max.
type ContextualBandit struct {
	mu    sync.Mutex
	arms  []string
	state map[string]*ArmStats
	rng   *rand.Rand
}

// BanditOption tweaks bandit construction.
type BanditOption func(*ContextualBandit)

// WithRand swaps in a caller-controlled source for reproducible draws.
func WithRand(rng *rand.Rand) BanditOption {
	return func(b *ContextualBandit) { b.rng = rng }
}

// NewContextualBandit starts with flat statistics for every arm.
func NewContextualBandit(arms []string, opts ...BanditOption) *ContextualBandit {
	b := &ContextualBandit{
		arms:  append([]string(nil), arms...),
		state: make(map[string]*ArmStats, len(arms)),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, arm := range b.arms {
		b.state[arm] = &ArmStats{}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Select samples every arm and returns the best one. Ties break toward the
// earlier arm in construction order.
func (b *ContextualBandit) Select(context map[string]float64) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var contextScore float64
	if len(context) > 0 {
		for _, v := range context {
			contextScore += v
		}
		contextScore /= float64(len(context))
	}

	best := ""
	bestScore := math.Inf(-1)
	for _, arm := range b.arms {
		stats := b.state[arm]
		stddev := math.Sqrt(stats.Variance() / float64(stats.Count+1))
		sample := b.rng.NormFloat64()*stddev + stats.Mean()
		score := sample + 0.1*contextScore
		if score > bestScore {
			best = arm
			bestScore = score
		}
	}
	return best
}

// Update folds one reward into an arm's statistics. Unknown arms are ignored.
func (b *ContextualBandit) Update(arm string, reward float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats, ok := b.state[arm]
	if !ok {
		return
	}
	stats.Count++
	stats.SumRewards += reward
	stats.SumSq += reward * reward
}

// Weights normalizes the positive arm means into selection weights. When no
// arm has a positive mean the weights are uniform.
func (b *ContextualBandit) Weights() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	weights := make(map[string]float64, len(b.arms))
	var total float64
	for _, arm := range b.arms {
		v := math.Max(b.state[arm].Mean()+1e-6, 0)
		weights[arm] = v
		total += v
	}
	if total == 0 {
		uniform := 1 / float64(len(b.arms))
		for _, arm := range b.arms {
			weights[arm] = uniform
		}
		return weights
	}
	for arm, v := range weights {
		weights[arm] = v / total
	}
	return weights
}

// Stats returns a copy of one arm's statistics.
func (b *ContextualBandit) Stats(arm string) ArmStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stats, ok := b.state[arm]; ok {
		return *stats
	}
	return ArmStats{}
}
