package learner

import (
	"errors"
	"testing"
)

func TestLogisticRequiresFit(t *testing.T) {
	t.Parallel()
	l := NewLogistic()
	if _, err := l.PredictProba([][]float64{{1}}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("PredictProba before Fit: err = %v, want ErrNotFitted", err)
	}
}

func TestLogisticFitValidations(t *testing.T) {
	t.Parallel()
	l := NewLogistic()
	if err := l.Fit(nil, nil); err == nil {
		t.Error("Fit with no samples should fail")
	}
	if err := l.Fit([][]float64{{1}, {2}}, []int{1}); err == nil {
		t.Error("Fit with mismatched labels should fail")
	}
	if err := l.Fit([][]float64{{1, 2}, {3}}, []int{1, -1}); err == nil {
		t.Error("Fit with ragged rows should fail")
	}
}

func TestLogisticSeparatesClasses(t *testing.T) {
	t.Parallel()
	features := [][]float64{{-2}, {-1.5}, {-1}, {1}, {1.5}, {2}}
	labels := []int{-1, -1, -1, 1, 1, 1}

	l := NewLogistic()
	if err := l.Fit(features, labels); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	probs, err := l.PredictProba([][]float64{{-1.5}, {1.5}})
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	if probs[0] >= 0.3 {
		t.Errorf("negative-class prob = %v, want < 0.3", probs[0])
	}
	if probs[1] <= 0.7 {
		t.Errorf("positive-class prob = %v, want > 0.7", probs[1])
	}
}

func TestLogisticPredictWidthMismatch(t *testing.T) {
	t.Parallel()
	l := NewLogistic()
	if err := l.Fit([][]float64{{1, 0}, {0, 1}}, []int{1, -1}); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if _, err := l.PredictProba([][]float64{{1, 2, 3}}); err == nil {
		t.Error("PredictProba with the wrong width should fail")
	}
}
