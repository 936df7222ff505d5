package features

// series is a bounded float window. When full, pushing slides the window
// forward by one so the buffer always holds the most recent capacity samples.
// Not safe for concurrent use; the engine serializes access.
type series struct {
	data []float64
	max  int
}

func newSeries(max int) *series {
	return &series{data: make([]float64, 0, max), max: max}
}

func (s *series) push(v float64) {
	if len(s.data) == s.max {
		copy(s.data, s.data[1:])
		s.data[len(s.data)-1] = v
		return
	}
	s.data = append(s.data, v)
}

// values returns the retained window oldest-first. The slice aliases internal
// storage; callers must not mutate or hold it across pushes.
func (s *series) values() []float64 {
	return s.data
}

func (s *series) len() int {
	return len(s.data)
}

func (s *series) last() float64 {
	if len(s.data) == 0 {
		return 0
	}
	return s.data[len(s.data)-1]
}

// tail returns the most recent n samples (or the whole window if shorter).
func (s *series) tail(n int) []float64 {
	if n >= len(s.data) {
		return s.data
	}
	return s.data[len(s.data)-n:]
}

// tradeTape is a bounded log of aggressor-classified trades used for the
// cumulative volume delta.
type tradeTape struct {
	signs []int8
	sizes []float64
	max   int
}

func newTradeTape(max int) *tradeTape {
	return &tradeTape{
		signs: make([]int8, 0, max),
		sizes: make([]float64, 0, max),
		max:   max,
	}
}

// push records a trade. Aggressor "buy" counts positive, "sell" negative;
// anything else is retained with zero weight.
func (t *tradeTape) push(aggressor string, size float64) {
	var sign int8
	switch aggressor {
	case "buy":
		sign = 1
	case "sell":
		sign = -1
	}
	if len(t.signs) == t.max {
		copy(t.signs, t.signs[1:])
		copy(t.sizes, t.sizes[1:])
		t.signs[len(t.signs)-1] = sign
		t.sizes[len(t.sizes)-1] = size
		return
	}
	t.signs = append(t.signs, sign)
	t.sizes = append(t.sizes, size)
}

// delta is the signed volume sum over the whole tape.
func (t *tradeTape) delta() float64 {
	var d float64
	for i, sign := range t.signs {
		d += float64(sign) * t.sizes[i]
	}
	return d
}
