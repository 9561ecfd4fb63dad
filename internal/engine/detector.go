package engine

// Detector decides when a throughput series has converged. A series is
// stable when the spread of its last window samples is within tolerance;
// the detector fires after required consecutive stable observations.
type Detector struct {
	window      int
	tolerance   float64
	required    int
	consecutive int
}

func NewDetector(window int, tolerance float64, required int) *Detector {
	if window < 1 {
		window = 1
	}
	if required < 1 {
		required = 1
	}
	return &Detector{window: window, tolerance: tolerance, required: required}
}

// IsStable reports whether the last window samples of history lie within
// tolerance of each other. Shorter histories are never stable.
func (d *Detector) IsStable(history []float64) bool {
	if len(history) < d.window {
		return false
	}
	return spread(history[len(history)-d.window:]) <= d.tolerance
}

// Observe records one evaluation of history and reports whether the
// consecutive-stable count has reached the required count.
func (d *Detector) Observe(history []float64) bool {
	if d.IsStable(history) {
		d.consecutive++
	} else {
		d.consecutive = 0
	}
	return d.consecutive >= d.required
}

func (d *Detector) Consecutive() int {
	return d.consecutive
}

func (d *Detector) Reset() {
	d.consecutive = 0
}
