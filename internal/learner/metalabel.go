package learner

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrNotFitted is returned when a meta-labeler is scored before Fit.
var ErrNotFitted = errors.New("metalabeler must be fitted before use")

// MetaLabeler scores whether a candidate trade is worth taking given its
// feature vector. It sits outside the hot path; callers fit it offline from
// triple-barrier labels.
type MetaLabeler interface {
	Fit(features [][]float64, labels []int) error
	PredictProba(features [][]float64) ([]float64, error)
}

// Logistic is a binary logistic regression trained with batch gradient
// descent. Labels > 0 count as the positive class.
type Logistic struct {
	mu      sync.Mutex
	weights []float64
	bias    float64
	rate    float64
	epochs  int
	fitted  bool
}

// NewLogistic uses 500 full-batch epochs at a 0.1 learning rate.
func NewLogistic() *Logistic {
	return &Logistic{rate: 0.1, epochs: 500}
}

// Fit trains on the given matrix. Every row must share one width.
func (l *Logistic) Fit(features [][]float64, labels []int) error {
	if len(features) == 0 {
		return errors.New("fit: no samples")
	}
	if len(features) != len(labels) {
		return fmt.Errorf("fit: %d samples but %d labels", len(features), len(labels))
	}
	dim := len(features[0])
	for i, row := range features {
		if len(row) != dim {
			return fmt.Errorf("fit: row %d has %d features, want %d", i, len(row), dim)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.weights = make([]float64, dim)
	l.bias = 0
	n := float64(len(features))
	gradW := make([]float64, dim)

	for epoch := 0; epoch < l.epochs; epoch++ {
		for j := range gradW {
			gradW[j] = 0
		}
		gradB := 0.0
		for i, row := range features {
			p := l.prob(row)
			y := 0.0
			if labels[i] > 0 {
				y = 1.0
			}
			diff := p - y
			for j, x := range row {
				gradW[j] += diff * x
			}
			gradB += diff
		}
		for j := range l.weights {
			l.weights[j] -= l.rate * gradW[j] / n
		}
		l.bias -= l.rate * gradB / n
	}
	l.fitted = true
	return nil
}

// PredictProba returns P(label > 0) per row.
func (l *Logistic) PredictProba(features [][]float64) ([]float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.fitted {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(features))
	for i, row := range features {
		if len(row) != len(l.weights) {
			return nil, fmt.Errorf("predict: row %d has %d features, want %d", i, len(row), len(l.weights))
		}
		out[i] = l.prob(row)
	}
	return out, nil
}

func (l *Logistic) prob(row []float64) float64 {
	z := l.bias
	for j, x := range row {
		z += l.weights[j] * x
	}
	return 1 / (1 + math.Exp(-z))
}
