package domain

// DefaultWellnessStep is the increment applied per wellness completion.
const DefaultWellnessStep = 0.2

// WellnessProgress maps a wellness type to a running fraction in [0, 1]. It
// keeps no history and is not windowed in time.
type WellnessProgress map[Category]float64

// Clone returns an independent copy.
func (w WellnessProgress) Clone() WellnessProgress {
	out := make(WellnessProgress, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Get returns the fraction for category, 0 when none is recorded.
func (w WellnessProgress) Get(category Category) float64 {
	return w[category]
}

// Accumulate adds step to category and clamps the result at 1.0. It returns
// the new fraction.
func (w WellnessProgress) Accumulate(category Category, step float64) float64 {
	next := clampFraction(w[category] + step)
	w[category] = next
	return next
}
