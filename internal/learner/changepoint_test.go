package learner

import "testing"

func TestChangePointSilentUntilFull(t *testing.T) {
	t.Parallel()
	cp := NewChangePoint(10, 1.0)
	for i := 0; i < 9; i++ {
		// Values that would trip a full window must not fire early.
		if cp.Update(float64(i * 100)) {
			t.Fatalf("fired on partial window at sample %d", i)
		}
	}
}

func TestChangePointFiresOnMeanShift(t *testing.T) {
	t.Parallel()
	cp := NewChangePoint(10, 1.0)
	for i := 0; i < 5; i++ {
		cp.Update(0)
	}
	var fired bool
	for i := 0; i < 5; i++ {
		fired = cp.Update(10)
	}
	if !fired {
		t.Fatal("level shift 0 -> 10 did not fire")
	}
}

func TestChangePointQuietOnStableSeries(t *testing.T) {
	t.Parallel()
	cp := NewChangePoint(10, 1.0)
	for i := 0; i < 40; i++ {
		if cp.Update(5) {
			t.Fatalf("fired on a flat series at sample %d", i)
		}
	}
}

func TestChangePointWindowSlides(t *testing.T) {
	t.Parallel()
	cp := NewChangePoint(4, 1.0)
	cp.Update(0)
	cp.Update(0)
	cp.Update(10)
	if !cp.Update(10) {
		t.Fatal("expected fire once the window filled with a split mean")
	}
	// Keep feeding the new level; the halves converge and it calms down.
	cp.Update(10)
	if cp.Update(10) {
		t.Fatal("still firing after the window slid past the shift")
	}
}

func TestChangePointDefaults(t *testing.T) {
	t.Parallel()
	cp := NewChangePoint(0, 0)
	if cp.window != 120 || cp.threshold != 5.0 {
		t.Fatalf("defaults = (%d, %v), want (120, 5.0)", cp.window, cp.threshold)
	}
}

func TestTripleBarrierLabel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		path  []float64
		entry float64
		up    float64
		down  float64
		steps int
		want  int
	}{
		{"upper first", []float64{100.5, 101.2, 99.0}, 100, 1.0, -1.5, 3, 1},
		{"lower first", []float64{99.8, 98.2, 102.0}, 100, 1.5, -1.0, 3, -1},
		{"neither in horizon", []float64{100.1, 100.2, 100.3}, 100, 1.0, -1.0, 3, 0},
		{"horizon cuts off the touch", []float64{100.1, 100.2, 101.5}, 100, 1.0, -1.0, 2, 0},
		{"horizon longer than path", []float64{100.1, 101.5}, 100, 1.0, -1.0, 10, 1},
		{"empty path", nil, 100, 1.0, -1.0, 5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TripleBarrierLabel(tc.path, tc.entry, tc.up, tc.down, tc.steps)
			if got != tc.want {
				t.Errorf("label = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestLogisticSeparatesClassesZeroOneLabels(t *testing.T) {
	t.Parallel()
	features := [][]float64{
		{-2}, {-1.5}, {-1}, {-0.5},
		{0.5}, {1}, {1.5}, {2},
	}
	labels := []int{0, 0, 0, 0, 1, 1, 1, 1}
	model := NewLogistic()
	if err := model.Fit(features, labels); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	probs, err := model.PredictProba([][]float64{{-3}, {3}})
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	if probs[0] >= 0.5 {
		t.Errorf("P(y|x=-3) = %v, want below 0.5", probs[0])
	}
	if probs[1] <= 0.5 {
		t.Errorf("P(y|x=3) = %v, want above 0.5", probs[1])
	}
}

func TestLogisticErrorsBeforeFit(t *testing.T) {
	t.Parallel()
	model := NewLogistic()
	if _, err := model.PredictProba([][]float64{{1}}); err != ErrNotFitted {
		t.Fatalf("err = %v, want ErrNotFitted", err)
	}
}

func TestLogisticRejectsRaggedInput(t *testing.T) {
	t.Parallel()
	model := NewLogistic()
	err := model.Fit([][]float64{{1, 2}, {3}}, []int{1, 0})
	if err == nil {
		t.Fatal("ragged matrix accepted")
	}
	if err := model.Fit(nil, nil); err == nil {
		t.Fatal("empty fit accepted")
	}
	if err := model.Fit([][]float64{{1}}, []int{1, 0}); err == nil {
		t.Fatal("label length mismatch accepted")
	}
}
